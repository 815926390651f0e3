package thread

import (
	"context"
	"sync"
	"time"

	"github.com/SplitFi/go-threads/service/persist"
)

var (
	testTarget = persist.Target{ID: 1, Type: persist.TargetTypePost}
	testViewer = persist.UserSummary{ID: 42, Username: "viewer"}
	testTime   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// fakeRemote records calls and delegates to the func fields when set.
type fakeRemote struct {
	mu sync.Mutex

	FetchThreadFunc   func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error)
	CreateCommentFunc func(ctx context.Context, input persist.CommentInput) (persist.Comment, error)
	UpdateCommentFunc func(ctx context.Context, id persist.CommentID, content string) error
	DeleteCommentFunc func(ctx context.Context, id persist.CommentID) error
	LikeCommentFunc   func(ctx context.Context, id persist.CommentID) error
	UnlikeCommentFunc func(ctx context.Context, id persist.CommentID) error

	calls map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{calls: make(map[string]int)}
}

func (f *fakeRemote) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeRemote) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) FetchThread(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
	f.record("FetchThread")
	if f.FetchThreadFunc != nil {
		return f.FetchThreadFunc(ctx, target, parentID)
	}
	return nil, nil
}

func (f *fakeRemote) CreateComment(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
	f.record("CreateComment")
	if f.CreateCommentFunc != nil {
		return f.CreateCommentFunc(ctx, input)
	}
	return persist.Comment{ID: persist.ConfirmedID(1000), Content: input.Content, ParentID: input.ParentID, Target: input.Target}, nil
}

func (f *fakeRemote) UpdateComment(ctx context.Context, id persist.CommentID, content string) error {
	f.record("UpdateComment")
	if f.UpdateCommentFunc != nil {
		return f.UpdateCommentFunc(ctx, id, content)
	}
	return nil
}

func (f *fakeRemote) DeleteComment(ctx context.Context, id persist.CommentID) error {
	f.record("DeleteComment")
	if f.DeleteCommentFunc != nil {
		return f.DeleteCommentFunc(ctx, id)
	}
	return nil
}

func (f *fakeRemote) LikeComment(ctx context.Context, id persist.CommentID) error {
	f.record("LikeComment")
	if f.LikeCommentFunc != nil {
		return f.LikeCommentFunc(ctx, id)
	}
	return nil
}

func (f *fakeRemote) UnlikeComment(ctx context.Context, id persist.CommentID) error {
	f.record("UnlikeComment")
	if f.UnlikeCommentFunc != nil {
		return f.UnlikeCommentFunc(ctx, id)
	}
	return nil
}

// recordingNotifier keeps every notice it receives.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(ctx context.Context, notice Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
}

func (r *recordingNotifier) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func comment(id int64, parent *int64, replies ...persist.Comment) persist.Comment {
	c := persist.Comment{
		ID:         persist.ConfirmedID(id),
		Author:     persist.UserSummary{ID: id, Username: "author"},
		Content:    "comment",
		CreatedAt:  testTime,
		UpdatedAt:  testTime,
		Target:     testTarget,
		ReplyCount: len(replies),
		Replies:    replies,
	}
	if parent != nil {
		c.ParentID = persist.CommentIDPtr(persist.ConfirmedID(*parent))
	}
	return c
}

func withReplyCount(c persist.Comment, n int) persist.Comment {
	c.ReplyCount = n
	return c
}

func withLikes(c persist.Comment, n int, liked bool) persist.Comment {
	c.LikeCount = n
	c.LikedByCurrentUser = liked
	return c
}

func cid(n int64) persist.CommentID {
	return persist.ConfirmedID(n)
}

func ptr(n int64) *int64 {
	return &n
}

// checkReplyCounts walks forest and returns the ids violating len(Replies) <= ReplyCount.
func checkReplyCounts(forest []persist.Comment) []persist.CommentID {
	var bad []persist.CommentID
	Walk(forest, func(c persist.Comment) bool {
		if len(c.Replies) > c.ReplyCount {
			bad = append(bad, c.ID)
		}
		return true
	})
	return bad
}

func newTestEngine(remote Remote, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testTime })}, opts...)
	return New(Config{Target: testTarget, Viewer: testViewer, Remote: remote}, opts...)
}
