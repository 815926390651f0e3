package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type loggerContextKey struct{}

var defaultLogger = logrus.New()

// InitWithDefaults configures the package logger. Local runs get readable text output,
// everything else gets JSON so the log collector can index fields.
func InitWithDefaults(isLocal bool) {
	defaultLogger.SetOutput(os.Stdout)
	if isLocal {
		defaultLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		defaultLogger.SetLevel(logrus.DebugLevel)
		return
	}
	defaultLogger.SetFormatter(&logrus.JSONFormatter{})
	defaultLogger.SetLevel(logrus.InfoLevel)
}

// SetLevel changes the level of the package logger.
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

// NewContextWithFields returns a context whose logger carries the given fields in
// addition to any fields already present on ctx.
func NewContextWithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, For(ctx).WithFields(fields))
}

// For returns the logger attached to ctx. A nil ctx is allowed and yields the
// package logger.
func For(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(loggerContextKey{}).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(defaultLogger)
}
