package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
	sentryutil "github.com/SplitFi/go-threads/service/sentry"
	"github.com/SplitFi/go-threads/util"
)

const (
	// SessionHeader lets non-browser clients pick their session explicitly.
	SessionHeader = "X-Session-ID"
	// SessionCookieKey holds the session id minted for browser clients.
	SessionCookieKey = "threads_session"

	sessionContextKey = "middleware.session_id"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// GinContextToContext stores the gin context on the request context so code that
// only sees a context.Context can get back to it.
func GinContextToContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), util.GinContextKey, c)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Sentry attaches a hub to each request.
func Sentry(reportPanics bool) gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: reportPanics, WaitForDelivery: false})
}

// Recover turns a panic in a handler into a 500 after reporting it.
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := sentryutil.ErrorFromRecover(r)
				logger.For(c).WithError(err).Error("recovered from panic")
				sentryutil.ReportError(c, err)
				util.ErrResponse(c, http.StatusInternalServerError, err)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HandleCORS allows the origins listed in ALLOWED_ORIGINS.
func HandleCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestOrigin := c.Request.Header.Get("Origin")

		if IsOriginAllowed(requestOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", requestOrigin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, sentry-trace, "+SessionHeader+", "+auth.UserIDHeader+", "+auth.UsernameHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func IsOriginAllowed(requestOrigin string) bool {
	if requestOrigin == "" {
		return false
	}
	for _, origin := range strings.Split(env.GetString("ALLOWED_ORIGINS"), ",") {
		if strings.TrimSpace(origin) == requestOrigin {
			return true
		}
	}
	return false
}

// ErrLogger logs the errors handlers attached with c.Error.
func ErrLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.For(c).WithFields(logrus.Fields{
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
				"status": c.Writer.Status(),
			}).Error(err.Err)
		}
	}
}

// Session resolves the browsing session of the request. The X-Session-ID header
// wins over the cookie; a browser with neither gets a new id in a cookie.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := strings.TrimSpace(c.GetHeader(SessionHeader))
		if sessionID == "" {
			if cookie, err := c.Cookie(SessionCookieKey); err == nil {
				sessionID = cookie
			}
		}
		if sessionID == "" {
			sessionID = ksuid.New().String()
			secure := env.GetString("ENV") != "local"
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookieKey, sessionID, int(sessionCookieTTL.Seconds()), "/", "", secure, true)
		}

		c.Set(sessionContextKey, sessionID)
		c.Request = c.Request.WithContext(logger.NewContextWithFields(c.Request.Context(), logrus.Fields{"sessionID": sessionID}))
		c.Next()
	}
}

// SessionFromCtx returns the session id set by Session.
func SessionFromCtx(c *gin.Context) string {
	return c.GetString(sessionContextKey)
}

// Viewer authenticates the request. A bearer token is verified when AUTH_JWT_SECRET
// is set. The identity headers of the gateway are trusted when no secret is set, or
// when TRUST_GATEWAY_HEADERS says so. Anything else passes through anonymously.
func Viewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.Request)

		if token != "" && env.GetString("AUTH_JWT_SECRET") != "" {
			claims, err := auth.ParseAuthToken(c, token)
			if err != nil {
				auth.SetAuthError(c, err)
				c.Next()
				return
			}
			setViewer(c, claims.Viewer(), token)
			c.Next()
			return
		}

		if !trustGatewayHeaders() {
			auth.SetAuthError(c, auth.ErrNoViewer)
			c.Next()
			return
		}

		viewer, err := auth.ViewerFromHeaders(c.Request)
		if err != nil {
			auth.SetAuthError(c, err)
			c.Next()
			return
		}
		setViewer(c, viewer, token)
		c.Next()
	}
}

// trustGatewayHeaders reports whether X-User-ID/X-Username identify the viewer.
// Once tokens are verified, the headers only count when a gateway in front of the
// server is trusted to set them.
func trustGatewayHeaders() bool {
	return env.GetString("AUTH_JWT_SECRET") == "" || env.GetBool("TRUST_GATEWAY_HEADERS")
}

// AuthRequired aborts with 401 when Viewer could not authenticate the request.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.GetAuthErrorFromCtx(c); err != nil {
			util.ErrResponse(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func setViewer(c *gin.Context, viewer persist.UserSummary, token string) {
	auth.SetViewer(c, viewer, token)
	if hub := sentryutil.SentryHubFromContext(c); hub != nil {
		hub.Scope().SetUser(sentry.User{ID: strconv.FormatInt(viewer.ID, 10), Username: viewer.Username})
	}
}
