package server

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/SplitFi/go-threads/db"
	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/middleware"
	"github.com/SplitFi/go-threads/publicapi"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/persist/postgres"
	"github.com/SplitFi/go-threads/service/redis"
	"github.com/SplitFi/go-threads/service/remote"
	"github.com/SplitFi/go-threads/service/thread"
)

const (
	RemoteModePostgres = "postgres"
	RemoteModeHTTP     = "http"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Clients holds the long-lived connections of the server. Fields are nil when the
// configuration does not need them.
type Clients struct {
	DB           *sql.DB
	Pgx          *pgxpool.Pool
	Comments     persist.CommentRepository
	Users        persist.UserRepository
	SessionCache *redis.Cache
}

// Init initializes the server
func Init() {
	SetDefaults()
	logger.InitWithDefaults(env.GetString("ENV") == "local")
	InitSentry()

	c := ClientInit(context.Background())
	router := CoreInit(c)
	logger.For(nil).Info("Starting threads server...")
	http.Handle("/", router)
}

// ClientInit opens the connections the configured remote and session store need.
func ClientInit(ctx context.Context) *Clients {
	c := &Clients{}

	if env.GetString("REMOTE_MODE") == RemoteModePostgres {
		logger.For(ctx).Info("connecting to postgres...")
		c.DB = postgres.MustCreateClient()
		c.Pgx = postgres.NewPgxClient()

		if env.GetBool("RUN_MIGRATIONS") {
			m, err := db.RunMigration(c.DB, env.GetString("MIGRATIONS_DIR"))
			if err != nil {
				logger.For(ctx).Fatalf("failed to migrate database: %s", err)
			}
			m.Close()
		}

		c.Comments = postgres.NewCommentRepository(c.Pgx)
		c.Users = postgres.NewUserRepository(c.DB)
	}

	if env.GetString("SESSION_STORE") == SessionStoreRedis {
		c.SessionCache = redis.NewCache(redis.ThreadSessionCache)
		if err := c.SessionCache.Ping(ctx); err != nil {
			logger.For(ctx).Fatalf("failed to reach redis: %s", err)
		}
	}

	return c
}

func (c *Clients) Close() {
	if c.Pgx != nil {
		c.Pgx.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.SessionCache != nil {
		c.SessionCache.Close()
	}
}

// CoreInit builds the router with the standard middleware stack and every handler.
func CoreInit(c *Clients) *gin.Engine {
	router := gin.Default()
	router.ContextWithFallback = true

	router.Use(middleware.GinContextToContext(), middleware.Sentry(true), middleware.Recover(), middleware.HandleCORS(), middleware.ErrLogger())

	if env.GetString("ENV") != "production" {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	}

	var upstream thread.Remote
	if c.Comments != nil {
		upstream = remote.NewPostgres(c.Comments, c.Users)
	}

	api := publicapi.New(publicapi.Config{
		Remote:          newRemote(c),
		Sessions:        newSessionStore(c),
		EngineCacheSize: env.GetInt("ENGINE_CACHE_SIZE"),
		FreshnessTTL:    env.GetDuration("FRESHNESS_TTL"),
	})

	logger.For(nil).Info("Registering handlers...")
	return HandlersInit(router, api, upstream)
}

func newRemote(c *Clients) thread.Remote {
	switch mode := env.GetString("REMOTE_MODE"); mode {
	case RemoteModePostgres:
		return remote.NewPostgres(c.Comments, c.Users)
	case RemoteModeHTTP:
		return remote.NewHTTPClient(&http.Client{Timeout: env.GetDuration("COMMENT_API_TIMEOUT")})
	default:
		logger.For(nil).Fatalf("unknown REMOTE_MODE %q", mode)
		return nil
	}
}

func newSessionStore(c *Clients) thread.SessionStore {
	if c.SessionCache != nil {
		return thread.NewRedisSessionStore(c.SessionCache)
	}
	logger.For(nil).Info("using in-memory session store, fresh replies will not survive a restart")
	return thread.NewMemorySessionStore()
}

// SetDefaults registers the default configuration and reads overrides from the
// environment.
func SetDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("REMOTE_MODE", RemoteModePostgres)
	viper.SetDefault("COMMENT_API_URL", "http://localhost:4000")
	viper.SetDefault("COMMENT_API_TIMEOUT", "10s")
	viper.SetDefault("SESSION_STORE", SessionStoreMemory)
	viper.SetDefault("ENGINE_CACHE_SIZE", 1024)
	viper.SetDefault("FRESHNESS_TTL", "24h")
	viper.SetDefault("POSTGRES_HOST", "0.0.0.0")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "threads_backend")
	viper.SetDefault("POSTGRES_PASSWORD", "")
	viper.SetDefault("POSTGRES_DB", "postgres")
	viper.SetDefault("POSTGRES_POOL_SIZE", 10)
	viper.SetDefault("RUN_MIGRATIONS", false)
	viper.SetDefault("MIGRATIONS_DIR", "./db/migrations/threads")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("AUTH_JWT_SECRET", "")
	viper.SetDefault("AUTH_JWT_TTL", "168h")
	viper.SetDefault("TRUST_GATEWAY_HEADERS", false)
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)
	viper.SetDefault("VERSION", "")

	viper.AutomaticEnv()

	if env.GetString("ENV") != "local" && env.GetString("SENTRY_DSN") == "" {
		logger.For(nil).Warn("SENTRY_DSN is not set, errors will only be logged")
	}
}

func InitSentry() {
	if env.GetString("ENV") == "local" {
		logger.For(nil).Info("skipping sentry init")
		return
	}

	logger.For(nil).Info("initializing sentry...")

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              env.GetString("SENTRY_DSN"),
		Environment:      env.GetString("ENV"),
		TracesSampleRate: env.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		Release:          env.GetString("VERSION"),
		AttachStacktrace: true,
		BeforeSend:       auth.ScrubEventCookies,
	})

	if err != nil {
		logger.For(nil).Fatalf("failed to start sentry: %s", err)
	}
}
