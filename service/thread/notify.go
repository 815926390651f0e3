package thread

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
	sentryutil "github.com/SplitFi/go-threads/service/sentry"
)

// Notice is a user-facing message about an intent that did not go through.
type Notice struct {
	Op        Op
	CommentID persist.CommentID
	Message   string
}

// Notifier surfaces notices to the user, e.g. as a toast.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice Notice)

func (f NotifierFunc) Notify(ctx context.Context, notice Notice) { f(ctx, notice) }

// LogNotifier logs notices. It is the default when no notifier is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, notice Notice) {
	logger.For(ctx).WithFields(logrus.Fields{
		"op":        notice.Op,
		"commentID": notice.CommentID,
	}).Warn(notice.Message)
}

// httpStatusError is implemented by remote errors that carry a response status.
type httpStatusError interface {
	HTTPStatus() int
}

// reportFailure notifies the user. Only unexpected failures are sent to Sentry.
func reportFailure(ctx context.Context, n Notifier, op Op, id persist.CommentID, err error) {
	n.Notify(ctx, Notice{Op: op, CommentID: id, Message: err.Error()})
	if isExpectedFailure(err) {
		return
	}
	sentryutil.ReportError(ctx, err)
}

// isExpectedFailure reports whether err is the remote refusing the user rather
// than the remote breaking.
func isExpectedFailure(err error) bool {
	var statusErr httpStatusError
	switch {
	case errors.Is(err, persist.ErrCommentNotFound),
		errors.As(err, new(persist.ErrNotCommentAuthor)),
		errors.As(err, new(persist.ErrUserNotFound)),
		errors.Is(err, auth.ErrNoViewer),
		errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &statusErr):
		return statusErr.HTTPStatus() < http.StatusInternalServerError
	}
	return false
}
