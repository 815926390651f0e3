package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-threads/service/persist"
)

const (
	viewerContextKey    = "auth.viewer"
	authErrorContextKey = "auth.auth_error"
	tokenContextKey     = "auth.token"
)

const (
	UserIDHeader   = "X-User-ID"
	UsernameHeader = "X-Username"
)

var (
	// ErrInvalidJWT is returned when a bearer token is malformed, expired or signed
	// with the wrong key.
	ErrInvalidJWT = errors.New("invalid or expired auth token")

	// ErrNoViewer is returned when a request carries neither a token nor viewer headers.
	ErrNoViewer = errors.New("no viewer associated with request")
)

type ctxKey string

// WithViewer returns a context carrying the viewer and their raw bearer token for
// remote calls made on their behalf.
func WithViewer(ctx context.Context, viewer persist.UserSummary, token string) context.Context {
	ctx = context.WithValue(ctx, ctxKey(viewerContextKey), viewer)
	return context.WithValue(ctx, ctxKey(tokenContextKey), token)
}

// ViewerFromContext returns the viewer stored by WithViewer or SetViewer.
func ViewerFromContext(ctx context.Context) (persist.UserSummary, bool) {
	if gc, ok := ctx.(*gin.Context); ok {
		if v, ok := gc.Get(viewerContextKey); ok {
			viewer, ok := v.(persist.UserSummary)
			return viewer, ok
		}
	}
	viewer, ok := ctx.Value(ctxKey(viewerContextKey)).(persist.UserSummary)
	return viewer, ok
}

// TokenFromContext returns the bearer token stored by WithViewer or SetViewer.
func TokenFromContext(ctx context.Context) string {
	if gc, ok := ctx.(*gin.Context); ok {
		return gc.GetString(tokenContextKey)
	}
	token, _ := ctx.Value(ctxKey(tokenContextKey)).(string)
	return token
}

// SetViewer records the authenticated viewer on the gin context.
func SetViewer(c *gin.Context, viewer persist.UserSummary, token string) {
	c.Set(viewerContextKey, viewer)
	c.Set(tokenContextKey, token)
	c.Set(authErrorContextKey, nil)
}

func SetAuthError(c *gin.Context, err error) {
	c.Set(authErrorContextKey, err)
}

// GetAuthErrorFromCtx returns the error recorded while authenticating the request.
func GetAuthErrorFromCtx(c *gin.Context) error {
	v, ok := c.Get(authErrorContextKey)
	if !ok {
		return ErrNoViewer
	}
	if v == nil {
		return nil
	}
	return v.(error)
}

// BearerToken returns the token of an "Authorization: Bearer" header, if any.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ViewerFromHeaders reads the viewer from the trusted identity headers set by an
// upstream gateway.
func ViewerFromHeaders(r *http.Request) (persist.UserSummary, error) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return persist.UserSummary{}, ErrNoViewer
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return persist.UserSummary{}, ErrNoViewer
	}
	return persist.UserSummary{ID: id, Username: r.Header.Get(UsernameHeader)}, nil
}

// ScrubEventCookies removes cookies and auth headers from Sentry events.
func ScrubEventCookies(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}
	event.Request.Cookies = ""
	for k := range event.Request.Headers {
		if strings.EqualFold(k, "Cookie") || strings.EqualFold(k, "Authorization") {
			delete(event.Request.Headers, k)
		}
	}
	return event
}
