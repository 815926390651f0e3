package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ProvisionalIDFloor is the largest id the server is expected to issue. Integers
// above it are only ever produced client side for comments that have not been
// confirmed yet.
const ProvisionalIDFloor int64 = 1<<31 - 1

// CommentID identifies a comment. It is either confirmed (issued by the server) or
// pending (synthesized locally before the server has seen the comment). The two
// spaces never collide: pending values are always above ProvisionalIDFloor.
type CommentID struct {
	value   int64
	pending bool
}

// ConfirmedID wraps a server-issued id.
func ConfirmedID(n int64) CommentID {
	return CommentID{value: n}
}

// PendingID wraps a locally synthesized id. Values at or below ProvisionalIDFloor
// are lifted above it.
func PendingID(n int64) CommentID {
	if n <= ProvisionalIDFloor {
		n = ProvisionalIDFloor + 1 + n
	}
	return CommentID{value: n, pending: true}
}

// ParseCommentID classifies n by the id space it falls in.
func ParseCommentID(n int64) CommentID {
	if n > ProvisionalIDFloor {
		return CommentID{value: n, pending: true}
	}
	return CommentID{value: n}
}

func (c CommentID) IsPending() bool { return c.pending }
func (c CommentID) IsZero() bool    { return c.value == 0 }
func (c CommentID) Int64() int64    { return c.value }

func (c CommentID) String() string {
	return strconv.FormatInt(c.value, 10)
}

func (c CommentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.value)
}

func (c *CommentID) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("comment id must be an integer: %w", err)
	}
	*c = ParseCommentID(n)
	return nil
}

// CommentIDPtr is a helper for optional parent ids.
func CommentIDPtr(id CommentID) *CommentID {
	return &id
}

// TargetType is the kind of content item a thread belongs to.
type TargetType string

const (
	TargetTypePost TargetType = "post"
	TargetTypeBlog TargetType = "blog"
)

func (t TargetType) String() string {
	return string(t)
}

func (t TargetType) IsValid() bool {
	switch t {
	case TargetTypePost, TargetTypeBlog:
		return true
	default:
		return false
	}
}

// Target is the content item that owns a comment thread.
type Target struct {
	ID   int64      `json:"id"`
	Type TargetType `json:"type"`
}

// Key returns a stable "<type>:<id>" form used to partition per-target state.
func (t Target) Key() string {
	return fmt.Sprintf("%s:%d", t.Type, t.ID)
}

// UserSummary is the author reference carried on every comment.
type UserSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Comment is a node of a thread. Replies holds only the children that have been
// loaded; ReplyCount is the server's total and may be larger.
type Comment struct {
	ID                 CommentID   `json:"id"`
	Author             UserSummary `json:"author"`
	Content            string      `json:"content"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	ParentID           *CommentID  `json:"parent_id"`
	Target             Target      `json:"target"`
	LikeCount          int         `json:"like_count"`
	LikedByCurrentUser bool        `json:"liked_by_current_user"`
	ReplyCount         int         `json:"reply_count"`
	Replies            []Comment   `json:"replies"`
}

// IsEdited reports whether the comment was changed after it was created.
func (c Comment) IsEdited() bool {
	return !c.UpdatedAt.Equal(c.CreatedAt)
}

func (c Comment) IsPending() bool {
	return c.ID.IsPending()
}

// IsTopLevel reports whether the comment hangs directly off its target.
func (c Comment) IsTopLevel() bool {
	return c.ParentID == nil
}

// CommentInput is the payload for creating a comment.
type CommentInput struct {
	Content  string     `json:"content"`
	Target   Target     `json:"-"`
	ParentID *CommentID `json:"parent_id,omitempty"`
}

// CommentRepository is the server-side store of comments. Reads are relative to the
// viewer so LikedByCurrentUser can be filled in.
type CommentRepository interface {
	// parentID is optional; nil fetches the top-level comments of the target
	GetComments(ctx context.Context, viewerID int64, target Target, parentID *CommentID) ([]Comment, error)
	CreateComment(ctx context.Context, actorID int64, input CommentInput) (Comment, error)
	UpdateComment(ctx context.Context, actorID int64, commentID CommentID, content string) error
	RemoveComment(ctx context.Context, actorID int64, commentID CommentID) error
	LikeComment(ctx context.Context, actorID int64, commentID CommentID) error
	UnlikeComment(ctx context.Context, actorID int64, commentID CommentID) error
}

var ErrCommentNotFound = errors.New("comment not found")

type ErrCommentNotFoundByID struct {
	ID CommentID
}

func (e ErrCommentNotFoundByID) Unwrap() error { return ErrCommentNotFound }
func (e ErrCommentNotFoundByID) Error() string {
	return fmt.Sprintf("comment not found by id: %s", e.ID)
}

// ErrNotCommentAuthor is returned when someone other than the author tries to
// change a comment.
type ErrNotCommentAuthor struct {
	ID      CommentID
	ActorID int64
}

func (e ErrNotCommentAuthor) Error() string {
	return fmt.Sprintf("actor %d is not the author of comment %s", e.ActorID, e.ID)
}
