package sentryutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-threads/service/logger"
)

const defaultFlushTimeout = 2 * time.Second

// SentryHubFromContext returns the hub attached to ctx, looking at gin contexts first.
func SentryHubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return nil
	}
	if gc, ok := ctx.(*gin.Context); ok {
		if hub := sentrygin.GetHubFromContext(gc); hub != nil {
			return hub
		}
	}
	return sentry.GetHubFromContext(ctx)
}

// ReportError sends err to Sentry with the hub on ctx. scopeFuncs can add tags
// or extras to a scope that is local to this report.
func ReportError(ctx context.Context, err error, scopeFuncs ...func(scope *sentry.Scope)) {
	hub := SentryHubFromContext(ctx)
	if hub == nil {
		logger.For(ctx).Warnf("could not report error to sentry because hub is nil: %s", err)
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for _, fn := range scopeFuncs {
			fn(scope)
		}
		hub.CaptureException(err)
	})
}

// RecoverAndRaise reports a panic to Sentry and panics again.
func RecoverAndRaise(ctx context.Context) {
	if err := recover(); err != nil {
		var hub *sentry.Hub
		if ctx != nil {
			hub = SentryHubFromContext(ctx)
		}
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.Recover(err)
		hub.Flush(defaultFlushTimeout)
		panic(err)
	}
}

// ErrorFromRecover converts a recovered value into an error.
func ErrorFromRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	if s, ok := r.(string); ok {
		return errors.New(s)
	}
	return fmt.Errorf("%v", r)
}
