package thread

import (
	"context"
	"time"

	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
)

// SubtreeLoader fetches the direct replies of a parent and refuses to start a
// second fetch for a parent that already has one in flight.
type SubtreeLoader struct {
	remote   Remote
	target   persist.Target
	inFlight *PendingGuard
}

func NewSubtreeLoader(remote Remote, target persist.Target) *SubtreeLoader {
	return &SubtreeLoader{remote: remote, target: target, inFlight: NewPendingGuard()}
}

// NeedsLoad reports whether node advertises more replies than are loaded.
func NeedsLoad(node persist.Comment) bool {
	return len(node.Replies) < node.ReplyCount
}

// Fetch loads the replies of parentID. started is false when another fetch for the
// same parent was already running, in which case nothing is fetched. The in-flight
// mark is cleared when Fetch returns, whatever the outcome, so a failed load can be
// retried.
func (l *SubtreeLoader) Fetch(ctx context.Context, parentID persist.CommentID) (replies []persist.Comment, started bool, err error) {
	if !l.inFlight.TryAcquire(parentID) {
		return nil, false, nil
	}
	defer l.inFlight.Release(parentID)

	start := time.Now()
	replies, err = l.remote.FetchThread(ctx, l.target, persist.CommentIDPtr(parentID))
	logger.For(ctx).WithField("parentID", parentID).Debugf("fetched %d replies in %v", len(replies), time.Since(start))
	return replies, true, err
}

func (l *SubtreeLoader) InFlight(parentID persist.CommentID) bool {
	return l.inFlight.IsPending(parentID)
}
