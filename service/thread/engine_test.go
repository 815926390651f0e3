package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SplitFi/go-threads/service/persist"
)

var errRemote = errors.New("remote unavailable")

// loadedEngine returns an engine whose top-level fetch yields forest.
func loadedEngine(t *testing.T, remote *fakeRemote, forest []persist.Comment, opts ...Option) *Engine {
	t.Helper()
	if remote.FetchThreadFunc == nil {
		remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
			if parentID == nil {
				return forest, nil
			}
			return nil, nil
		}
	}
	e := newTestEngine(remote, opts...)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestCreateReplyToCollapsedParent(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()
	e := loadedEngine(t, remote, []persist.Comment{withReplyCount(comment(10, nil), 3)})

	var during []persist.Comment
	var duringFresh []persist.CommentID
	remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
		during = e.Snapshot()
		duringFresh = e.Fresh(cid(10))
		return persist.Comment{ID: cid(99), Content: input.Content, ParentID: input.ParentID, Target: input.Target, Author: testViewer}, nil
	}

	confirmed, err := e.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))
	require.NoError(t, err)

	// optimistic state seen by the remote call
	require.Len(t, during[0].Replies, 1)
	provisional := during[0].Replies[0]
	a.True(provisional.ID.IsPending())
	a.Greater(provisional.ID.Int64(), persist.ProvisionalIDFloor)
	a.Equal("Hi", provisional.Content)
	a.Equal(testViewer, provisional.Author)
	a.Equal(4, during[0].ReplyCount)
	a.Equal([]persist.CommentID{provisional.ID}, duringFresh)

	// confirmed state
	a.Equal(cid(99), confirmed.ID)
	after := e.Snapshot()
	a.Equal([]persist.CommentID{cid(99)}, ids(after[0].Replies))
	a.Equal(4, after[0].ReplyCount)
	a.Equal([]persist.CommentID{cid(99)}, e.Fresh(cid(10)))
	a.Equal(1, remote.Calls("CreateComment"))
}

func TestCreateTopLevel(t *testing.T) {
	a := assert.New(t)
	remote := newFakeRemote()
	e := loadedEngine(t, remote, []persist.Comment{comment(1, nil), comment(2, nil)})

	c, err := e.Create(context.Background(), "first!", nil)
	require.NoError(t, err)

	a.Equal([]persist.CommentID{c.ID, cid(1), cid(2)}, ids(e.Snapshot()))
	a.Empty(e.FreshEntries(), "top-level comments are never fresh")
}

func TestCreateReplyToExpandedParentIsNotFresh(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()
	e := loadedEngine(t, remote, []persist.Comment{comment(10, nil)})
	require.NoError(t, e.Expand(ctx, cid(10)))

	_, err := e.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))
	require.NoError(t, err)

	a.Empty(e.Fresh(cid(10)))
	visible, err := e.VisibleReplies(cid(10))
	require.NoError(t, err)
	a.Len(visible, 1)
}

func TestCreateFailureRestoresForest(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()
	notices := &recordingNotifier{}
	e := loadedEngine(t, remote, []persist.Comment{withReplyCount(comment(10, nil, comment(11, ptr(10))), 2)}, WithNotifier(notices))
	before := e.Snapshot()

	remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
		return persist.Comment{}, errRemote
	}

	_, err := e.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	a.Equal(OpCreate, commitErr.Op)
	a.ErrorIs(err, errRemote)
	a.Equal(before, e.Snapshot())
	a.Empty(e.FreshEntries())
	require.Len(t, notices.Notices(), 1)
	a.Equal(OpCreate, notices.Notices()[0].Op)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty content", func(t *testing.T) {
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{comment(1, nil)})

		_, err := e.Create(ctx, "  \n\t", nil)

		assert.ErrorIs(t, err, ErrEmptyContent)
		assert.True(t, IsValidationError(err))
		assert.Zero(t, remote.Calls("CreateComment"))
	})

	t.Run("pending parent", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, nil)
		before := e.Snapshot()

		_, err := e.Create(ctx, "Hi", persist.CommentIDPtr(persist.PendingID(testTime.UnixMilli())))

		a.ErrorIs(err, ErrParentPending)
		a.Zero(remote.Calls("CreateComment"))
		a.Equal(before, e.Snapshot())
	})

	t.Run("unknown parent", func(t *testing.T) {
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{comment(1, nil)})

		_, err := e.Create(ctx, "Hi", persist.CommentIDPtr(cid(404)))

		assert.ErrorIs(t, err, persist.ErrCommentNotFound)
		assert.Zero(t, remote.Calls("CreateComment"))
	})
}

func TestCreateWhenFetchAlreadyBroughtConfirmedCopy(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()
	e := loadedEngine(t, remote, []persist.Comment{withReplyCount(comment(10, nil), 1)})

	remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
		// a reply fetch lands while the create is in flight
		remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
			return []persist.Comment{comment(99, ptr(10))}, nil
		}
		require.NoError(t, e.loadReplies(ctx, cid(10)))
		return comment(99, ptr(10)), nil
	}

	_, err := e.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))
	require.NoError(t, err)

	a.Equal([]persist.CommentID{cid(99)}, ids(e.Snapshot()[0].Replies))
}

func TestProvisionalIDsIncrease(t *testing.T) {
	a := assert.New(t)
	remote := newFakeRemote()
	var seen []persist.CommentID
	remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
		return persist.Comment{}, errRemote
	}
	notifier := NotifierFunc(func(ctx context.Context, n Notice) { seen = append(seen, n.CommentID) })
	e := loadedEngine(t, remote, nil, WithNotifier(notifier))

	for i := 0; i < 3; i++ {
		_, err := e.Create(context.Background(), "same millisecond", nil)
		require.Error(t, err)
	}

	require.Len(t, seen, 3)
	for i, id := range seen {
		a.True(id.IsPending())
		if i > 0 {
			a.Greater(id.Int64(), seen[i-1].Int64())
		}
	}
}

func TestToggleLikeEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("failure reverts the like", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{withLikes(comment(5, nil), 2, false)})

		var during persist.Comment
		remote.LikeCommentFunc = func(ctx context.Context, id persist.CommentID) error {
			during = e.Snapshot()[0]
			return errRemote
		}

		err := e.ToggleLike(ctx, cid(5))

		a.ErrorIs(err, errRemote)
		a.Equal(3, during.LikeCount)
		a.True(during.LikedByCurrentUser)
		after := e.Snapshot()[0]
		a.Equal(2, after.LikeCount)
		a.False(after.LikedByCurrentUser)
	})

	t.Run("unlike calls the unlike endpoint", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{withLikes(comment(5, nil), 2, true)})

		require.NoError(t, e.ToggleLike(ctx, cid(5)))

		a.Equal(1, remote.Calls("UnlikeComment"))
		a.Zero(remote.Calls("LikeComment"))
		a.Equal(1, e.Snapshot()[0].LikeCount)
	})

	t.Run("second toggle while in flight is dropped", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{withLikes(comment(5, nil), 2, false)})

		entered := make(chan struct{})
		release := make(chan struct{})
		remote.LikeCommentFunc = func(ctx context.Context, id persist.CommentID) error {
			close(entered)
			<-release
			return nil
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.NoError(e.ToggleLike(ctx, cid(5)))
		}()
		<-entered

		a.NoError(e.ToggleLike(ctx, cid(5)))
		close(release)
		wg.Wait()

		a.Equal(1, remote.Calls("LikeComment"))
		a.Zero(remote.Calls("UnlikeComment"))
		a.Equal(3, e.Snapshot()[0].LikeCount)
		a.True(e.Snapshot()[0].LikedByCurrentUser)
	})

	t.Run("pending comment is rejected", func(t *testing.T) {
		remote := newFakeRemote()
		e := loadedEngine(t, remote, nil)
		assert.ErrorIs(t, e.ToggleLike(ctx, persist.PendingID(1)), ErrCommentPending)
		assert.Zero(t, remote.Calls("LikeComment"))
	})
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	later := testTime.Add(time.Hour)

	t.Run("applies the new content", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{comment(1, nil)}, WithClock(func() time.Time { return later }))

		require.NoError(t, e.Edit(ctx, cid(1), "better"))

		c := e.Snapshot()[0]
		a.Equal("better", c.Content)
		a.Equal(later, c.UpdatedAt)
		a.True(c.IsEdited())
	})

	t.Run("failure restores the previous forest", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		remote.UpdateCommentFunc = func(ctx context.Context, id persist.CommentID, content string) error { return errRemote }
		e := loadedEngine(t, remote, []persist.Comment{comment(1, nil, comment(2, ptr(1)))})
		before := e.Snapshot()

		err := e.Edit(ctx, cid(2), "better")

		var commitErr *CommitError
		require.ErrorAs(t, err, &commitErr)
		a.Equal(OpEdit, commitErr.Op)
		a.Equal(cid(2), commitErr.ID)
		a.Equal(before, e.Snapshot())
	})

	t.Run("failure after a concurrent change only undoes the edit", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{withLikes(comment(1, nil), 0, false)})
		remote.UpdateCommentFunc = func(ctx context.Context, id persist.CommentID, content string) error {
			require.NoError(t, e.ToggleLike(ctx, cid(1)))
			return errRemote
		}

		require.Error(t, e.Edit(ctx, cid(1), "better"))

		c := e.Snapshot()[0]
		a.Equal("comment", c.Content)
		a.False(c.IsEdited())
		a.True(c.LikedByCurrentUser, "the like went through and stays")
	})

	t.Run("validation", func(t *testing.T) {
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{comment(1, nil)})

		assert.ErrorIs(t, e.Edit(ctx, cid(1), " "), ErrEmptyContent)
		assert.ErrorIs(t, e.Edit(ctx, persist.PendingID(1), "x"), ErrCommentPending)
		assert.ErrorIs(t, e.Edit(ctx, cid(9), "x"), persist.ErrCommentNotFound)
		assert.Zero(t, remote.Calls("UpdateComment"))
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the subtree and decrements the parent once", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		three := comment(3, nil, comment(7, ptr(3), comment(71, ptr(7)), comment(72, ptr(7))), comment(8, ptr(3)))
		e := loadedEngine(t, remote, []persist.Comment{three})

		require.NoError(t, e.Delete(ctx, cid(7)))

		a.Equal(1, e.Snapshot()[0].ReplyCount)
		a.Equal([]persist.CommentID{cid(8)}, ids(e.Snapshot()[0].Replies))
	})

	t.Run("failure restores the previous forest", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		remote.DeleteCommentFunc = func(ctx context.Context, id persist.CommentID) error { return errRemote }
		e := loadedEngine(t, remote, []persist.Comment{comment(3, nil, comment(7, ptr(3), comment(71, ptr(7))))})
		before := e.Snapshot()

		err := e.Delete(ctx, cid(7))

		a.ErrorIs(err, errRemote)
		a.Equal(before, e.Snapshot())
	})

	t.Run("failure after a concurrent change reinserts in place", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{comment(3, nil, comment(6, ptr(3)), comment(7, ptr(3)), comment(8, ptr(3)))})
		remote.DeleteCommentFunc = func(ctx context.Context, id persist.CommentID) error {
			require.NoError(t, e.ToggleLike(ctx, cid(8)))
			return errRemote
		}

		require.Error(t, e.Delete(ctx, cid(7)))

		parent := e.Snapshot()[0]
		a.Equal([]persist.CommentID{cid(6), cid(7), cid(8)}, ids(parent.Replies))
		a.Equal(3, parent.ReplyCount)
		a.True(parent.Replies[2].LikedByCurrentUser)
	})

	t.Run("prunes fresh entries of the deleted comment", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
			return comment(99, ptr(10)), nil
		}
		e := loadedEngine(t, remote, []persist.Comment{comment(10, nil)})
		_, err := e.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))
		require.NoError(t, err)
		require.Equal(t, []persist.CommentID{cid(99)}, e.Fresh(cid(10)))

		require.NoError(t, e.Delete(ctx, cid(99)))

		a.Empty(e.FreshEntries())
	})

	t.Run("pending comment is rejected", func(t *testing.T) {
		remote := newFakeRemote()
		e := loadedEngine(t, remote, nil)
		assert.ErrorIs(t, e.Delete(ctx, persist.PendingID(1)), ErrCommentPending)
		assert.Zero(t, remote.Calls("DeleteComment"))
	})
}

func TestExpandLoadsMissingReplies(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()

	all := make([]persist.Comment, 0, 10)
	for i := int64(1); i <= 10; i++ {
		all = append(all, comment(200+i, ptr(20)))
	}
	parent := withReplyCount(comment(20, nil, all[0], all[1]), 10)
	remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
		if parentID == nil {
			return []persist.Comment{parent}, nil
		}
		return all, nil
	}
	e := newTestEngine(remote)
	require.NoError(t, e.Load(ctx))

	fresh := NewFreshnessTracker(ctx, nil, "", 0)
	e.fresh = fresh
	fresh.MarkFresh(ctx, cid(20), cid(201))

	require.NoError(t, e.Expand(ctx, cid(20)))

	a.Len(e.Snapshot()[0].Replies, 10)
	a.Equal(10, e.Snapshot()[0].ReplyCount)
	a.Empty(e.Fresh(cid(20)))
	a.True(e.IsExpanded(cid(20)))

	visible, err := e.VisibleReplies(cid(20))
	require.NoError(t, err)
	a.Len(visible, 10)

	// complete now, so expanding again does not fetch
	calls := remote.Calls("FetchThread")
	require.NoError(t, e.Expand(ctx, cid(20)))
	a.Equal(calls, remote.Calls("FetchThread"))
}

func TestEnsureLoaded(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent loads of the same parent fetch once", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		entered := make(chan struct{})
		release := make(chan struct{})
		remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
			if parentID == nil {
				return []persist.Comment{withReplyCount(comment(20, nil), 1)}, nil
			}
			close(entered)
			<-release
			return []persist.Comment{comment(21, ptr(20))}, nil
		}
		e := newTestEngine(remote)
		require.NoError(t, e.Load(ctx))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.NoError(e.EnsureLoaded(ctx, cid(20)))
		}()
		<-entered

		a.NoError(e.EnsureLoaded(ctx, cid(20)))
		close(release)
		wg.Wait()

		a.Equal(2, remote.Calls("FetchThread"), "one top-level fetch and one reply fetch")
		a.Len(e.Snapshot()[0].Replies, 1)
	})

	t.Run("failed load can be retried", func(t *testing.T) {
		a := assert.New(t)
		remote := newFakeRemote()
		fail := true
		remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
			if parentID == nil {
				return []persist.Comment{withReplyCount(comment(20, nil), 1)}, nil
			}
			if fail {
				return nil, errRemote
			}
			return []persist.Comment{comment(21, ptr(20))}, nil
		}
		e := newTestEngine(remote)
		require.NoError(t, e.Load(ctx))

		a.ErrorIs(e.EnsureLoaded(ctx, cid(20)), errRemote)
		a.Empty(e.Snapshot()[0].Replies)

		fail = false
		a.NoError(e.EnsureLoaded(ctx, cid(20)))
		a.Len(e.Snapshot()[0].Replies, 1)
	})

	t.Run("complete parent does not fetch", func(t *testing.T) {
		remote := newFakeRemote()
		e := loadedEngine(t, remote, []persist.Comment{comment(20, nil, comment(21, ptr(20)))})
		calls := remote.Calls("FetchThread")

		require.NoError(t, e.EnsureLoaded(ctx, cid(20)))
		assert.Equal(t, calls, remote.Calls("FetchThread"))
	})
}

func TestCollapsedRepliesShowOnlyFresh(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()
	remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
		return comment(99, ptr(10)), nil
	}
	e := loadedEngine(t, remote, []persist.Comment{withReplyCount(comment(10, nil, comment(11, ptr(10))), 5)})

	visible, err := e.VisibleReplies(cid(10))
	require.NoError(t, err)
	a.Empty(visible)

	_, err = e.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))
	require.NoError(t, err)

	visible, err = e.VisibleReplies(cid(10))
	require.NoError(t, err)
	a.Equal([]persist.CommentID{cid(99)}, ids(visible))

	e.Collapse(cid(10))
	a.False(e.IsExpanded(cid(10)))
}

func TestFreshRepliesSurviveNewEngine(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	store := NewMemorySessionStore()
	key := FreshnessKey("session", testTarget)
	remote := newFakeRemote()
	remote.CreateCommentFunc = func(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
		return comment(99, ptr(10)), nil
	}
	remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
		if parentID == nil {
			return []persist.Comment{withReplyCount(comment(10, nil), 1)}, nil
		}
		return []persist.Comment{comment(99, ptr(10))}, nil
	}

	first := New(Config{Target: testTarget, Viewer: testViewer, Remote: remote, Freshness: NewFreshnessTracker(ctx, store, key, time.Hour)})
	require.NoError(t, first.Load(ctx))
	_, err := first.Create(ctx, "Hi", persist.CommentIDPtr(cid(10)))
	require.NoError(t, err)

	second := New(Config{Target: testTarget, Viewer: testViewer, Remote: remote, Freshness: NewFreshnessTracker(ctx, store, key, time.Hour)})
	a.Equal([]persist.CommentID{cid(99)}, second.Fresh(cid(10)))

	require.NoError(t, second.Load(ctx))
	visible, err := second.VisibleReplies(cid(10))
	require.NoError(t, err)
	a.Equal([]persist.CommentID{cid(99)}, ids(visible), "fresh reply is shown after the reload")
	a.False(second.IsExpanded(cid(10)))
	a.Equal([]persist.CommentID{cid(99)}, second.Fresh(cid(10)))

	fetches := remote.Calls("FetchThread")
	require.NoError(t, second.Load(ctx))
	a.Equal(fetches+1, remote.Calls("FetchThread"), "replies already loaded are not fetched again")
}

func TestRefresh(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	remote := newFakeRemote()

	var mu sync.Mutex
	replyFetches := map[int64]int{}
	remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
		if parentID == nil {
			return []persist.Comment{
				withReplyCount(comment(1, nil), 1),
				withReplyCount(comment(2, nil), 1),
				withReplyCount(comment(3, nil), 1),
			}, nil
		}
		mu.Lock()
		replyFetches[parentID.Int64()]++
		mu.Unlock()
		return []persist.Comment{comment(parentID.Int64()*10, ptr(parentID.Int64()))}, nil
	}
	e := newTestEngine(remote, WithRefreshConcurrency(2))
	require.NoError(t, e.Load(ctx))
	require.NoError(t, e.Expand(ctx, cid(1)))
	require.NoError(t, e.Expand(ctx, cid(3)))

	require.NoError(t, e.Refresh(ctx))

	a.Equal(map[int64]int{1: 2, 3: 2}, replyFetches)
	a.Len(e.Snapshot()[0].Replies, 1, "loaded replies survive the summary reload")
	a.Empty(e.Snapshot()[1].Replies)
	a.Equal([]persist.CommentID{cid(1), cid(3)}, e.ExpandedIDs())
}

func TestLoadFailure(t *testing.T) {
	a := assert.New(t)
	remote := newFakeRemote()
	remote.FetchThreadFunc = func(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
		return nil, errRemote
	}
	notices := &recordingNotifier{}
	e := newTestEngine(remote, WithNotifier(notices))

	err := e.Load(context.Background())

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	a.Equal(OpFetch, commitErr.Op)
	a.False(e.Loaded())
	a.Len(notices.Notices(), 1)
}
