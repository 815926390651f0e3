package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/lib/pq"

	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/service/logger"
)

type connectionParams struct {
	user     string
	password string
	dbname   string
	host     string
	port     int

	poolSize int
}

type ConnectionOption func(*connectionParams)

func WithHost(host string) ConnectionOption {
	return func(p *connectionParams) { p.host = host }
}

func WithPort(port int) ConnectionOption {
	return func(p *connectionParams) { p.port = port }
}

func newConnectionParamsFromEnv(opts ...ConnectionOption) connectionParams {
	params := connectionParams{
		user:     env.GetString("POSTGRES_USER"),
		password: env.GetString("POSTGRES_PASSWORD"),
		dbname:   env.GetString("POSTGRES_DB"),
		host:     env.GetString("POSTGRES_HOST"),
		port:     env.GetInt("POSTGRES_PORT"),
		poolSize: env.GetInt("POSTGRES_POOL_SIZE"),
	}
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

func (p connectionParams) url() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.user, p.password),
		Host:     fmt.Sprintf("%s:%d", p.host, p.port),
		Path:     p.dbname,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// NewClient opens a lib/pq connection. It is used for migrations and the user
// repository.
func NewClient(opts ...ConnectionOption) (*sql.DB, error) {
	params := newConnectionParamsFromEnv(opts...)

	db, err := sql.Open("postgres", params.url())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// MustCreateClient is NewClient that panics on failure.
func MustCreateClient(opts ...ConnectionOption) *sql.DB {
	db, err := NewClient(opts...)
	if err != nil {
		logger.For(nil).WithError(err).Error("failed to connect to postgres")
		panic(err)
	}
	return db
}

// NewPgxClient opens a pgx pool and panics if it cannot connect.
func NewPgxClient(opts ...ConnectionOption) *pgxpool.Pool {
	params := newConnectionParamsFromEnv(opts...)

	config, err := pgxpool.ParseConfig(params.url())
	if err != nil {
		panic(err)
	}
	if params.poolSize > 0 {
		config.MaxConns = int32(params.poolSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		logger.For(nil).WithError(err).Error("failed to connect to postgres with pgx")
		panic(err)
	}
	return pool
}

func checkNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
