package thread

import (
	"context"

	"github.com/SplitFi/go-threads/service/persist"
)

// Remote is the authoritative comment service. Every method either succeeds or
// returns an error whose message is fit to show the user.
type Remote interface {
	// parentID is optional; nil fetches the top-level comments of target
	FetchThread(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error)
	CreateComment(ctx context.Context, input persist.CommentInput) (persist.Comment, error)
	UpdateComment(ctx context.Context, id persist.CommentID, content string) error
	DeleteComment(ctx context.Context, id persist.CommentID) error
	LikeComment(ctx context.Context, id persist.CommentID) error
	UnlikeComment(ctx context.Context, id persist.CommentID) error
}
