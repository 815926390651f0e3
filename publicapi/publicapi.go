package publicapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/SplitFi/go-threads/middleware"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/thread"
	"github.com/SplitFi/go-threads/util"
	"github.com/SplitFi/go-threads/validate"
)

const apiContextKey = "publicapi.api"

type sessionContextKey struct{}

type PublicAPI struct {
	validator *validator.Validate

	Thread *ThreadAPI
}

type Config struct {
	Remote          thread.Remote
	Sessions        thread.SessionStore
	EngineCacheSize int
	FreshnessTTL    time.Duration
	FailureNotifier thread.Notifier
}

func New(cfg Config) *PublicAPI {
	validator := validate.WithCustomValidators()

	return &PublicAPI{
		validator: validator,
		Thread:    NewThreadAPI(validator, cfg.Remote, cfg.Sessions, cfg.EngineCacheSize, cfg.FreshnessTTL, cfg.FailureNotifier),
	}
}

// AddTo adds the specified PublicAPI to a gin context
func AddTo(ctx *gin.Context, api *PublicAPI) {
	ctx.Set(apiContextKey, api)
}

// PushTo pushes the specified PublicAPI onto the context stack and returns the new context
func PushTo(ctx context.Context, api *PublicAPI) context.Context {
	return context.WithValue(ctx, apiContextKey, api)
}

func For(ctx context.Context) *PublicAPI {
	// See if a newer PublicAPI instance has been pushed to the context stack
	if api, ok := ctx.Value(apiContextKey).(*PublicAPI); ok {
		return api
	}

	// If not, fall back to the one added to the gin context
	gc, err := util.GinContextFromContext(ctx)
	if err != nil {
		panic(err)
	}
	return gc.MustGet(apiContextKey).(*PublicAPI)
}

// WithSession returns a context that belongs to the given browsing session.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionFromContext returns the session set by WithSession or by the session
// middleware.
func SessionFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionContextKey{}).(string); ok {
		return id
	}
	if gc, err := util.GinContextFromContext(ctx); err == nil {
		return middleware.SessionFromCtx(gc)
	}
	return ""
}

func getAuthenticatedViewer(ctx context.Context) (persist.UserSummary, error) {
	if gc, err := util.GinContextFromContext(ctx); err == nil {
		if authErr := auth.GetAuthErrorFromCtx(gc); authErr != nil {
			return persist.UserSummary{}, authErr
		}
	}

	viewer, ok := auth.ViewerFromContext(ctx)
	if !ok || viewer.ID == 0 {
		return persist.UserSummary{}, auth.ErrNoViewer
	}
	return viewer, nil
}
