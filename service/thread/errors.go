package thread

import (
	"errors"
	"fmt"

	"github.com/SplitFi/go-threads/service/persist"
)

// Validation errors. These are returned before any remote call is made.
var (
	// ErrEmptyContent indicates that a comment body was empty after trimming whitespace.
	ErrEmptyContent = errors.New("comment content is empty")

	// ErrParentPending indicates a reply to a comment the server has not confirmed yet.
	ErrParentPending = errors.New("cannot reply to a comment that is still being posted")

	// ErrCommentPending indicates an edit, delete or like of an unconfirmed comment.
	ErrCommentPending = errors.New("comment is still being posted")
)

// Op names an intent of the commit protocol.
type Op string

const (
	OpCreate Op = "create"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
	OpLike   Op = "like"
	OpUnlike Op = "unlike"
	OpFetch  Op = "fetch"
)

// CommitError is returned when the remote side of an intent failed. By the time it
// is returned the optimistic change has been rolled back.
type CommitError struct {
	Op  Op
	ID  persist.CommentID
	Err error
}

func (e *CommitError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("%s comment failed: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s comment %s failed: %s", e.Op, e.ID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// IsValidationError reports whether err was a synchronous rejection.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrParentPending) ||
		errors.Is(err, ErrCommentPending) ||
		errors.Is(err, persist.ErrCommentNotFound)
}
