package thread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
)

const (
	defaultRefreshConcurrency = 4
	topLevelFetchKey          = "top-level"
)

// Config is what an Engine needs to know about the thread it manages.
type Config struct {
	Target persist.Target
	// Viewer is the local user; provisional comments are attributed to them.
	Viewer persist.UserSummary
	Remote Remote
	// Freshness is optional. Without it fresh replies are tracked in memory only.
	Freshness *FreshnessTracker
}

type Option func(*Engine)

// WithNotifier sets where user-facing failure notices go. Defaults to LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides time.Now for timestamps and provisional ids.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRefreshConcurrency bounds how many reply lists Refresh fetches at once.
func WithRefreshConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.refreshConcurrency = n
		}
	}
}

// Engine owns the comment forest of one target for one viewer session. Every
// change replaces the forest with a new snapshot; snapshots handed out by
// Snapshot are never modified afterwards. Remote calls are made without holding
// the engine lock, so other callers see the optimistic state while a call is in
// flight.
type Engine struct {
	mu              sync.Mutex
	forest          []persist.Comment
	version         uint64
	loaded          bool
	expanded        map[persist.CommentID]bool
	lastProvisional int64

	target   persist.Target
	viewer   persist.UserSummary
	remote   Remote
	fresh    *FreshnessTracker
	likes    *PendingGuard
	loader   *SubtreeLoader
	topLevel singleflight.Group

	notifier           Notifier
	now                func() time.Time
	refreshConcurrency int
}

func New(cfg Config, opts ...Option) *Engine {
	fresh := cfg.Freshness
	if fresh == nil {
		fresh = NewFreshnessTracker(context.Background(), nil, "", 0)
	}

	e := &Engine{
		expanded:           make(map[persist.CommentID]bool),
		target:             cfg.Target,
		viewer:             cfg.Viewer,
		remote:             cfg.Remote,
		fresh:              fresh,
		likes:              NewPendingGuard(),
		loader:             NewSubtreeLoader(cfg.Remote, cfg.Target),
		notifier:           LogNotifier{},
		now:                time.Now,
		refreshConcurrency: defaultRefreshConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Target() persist.Target      { return e.target }
func (e *Engine) Viewer() persist.UserSummary { return e.viewer }

// Snapshot returns the current forest. It must not be modified.
func (e *Engine) Snapshot() []persist.Comment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forest
}

// Loaded reports whether the top-level comments have been fetched at least once.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Load fetches the top-level comments and merges them into the forest. Concurrent
// calls share a single fetch.
func (e *Engine) Load(ctx context.Context) error {
	v, err, _ := e.topLevel.Do(topLevelFetchKey, func() (interface{}, error) {
		return e.remote.FetchThread(ctx, e.target, nil)
	})
	if err != nil {
		reportFailure(ctx, e.notifier, OpFetch, persist.CommentID{}, err)
		return &CommitError{Op: OpFetch, Err: err}
	}

	fetched := v.([]persist.Comment)
	e.mu.Lock()
	e.forest = Merge(e.forest, fetched)
	e.version++
	e.loaded = true
	e.mu.Unlock()

	e.restoreFresh(ctx)
	return nil
}

// restoreFresh fetches the reply lists of collapsed parents whose fresh replies are
// missing from the forest, as happens when a session comes back to a thread with
// a new engine. The parents stay collapsed. Failures are notified by loadReplies
// and retried on the next load.
func (e *Engine) restoreFresh(ctx context.Context) {
	var parents []persist.CommentID

	e.mu.Lock()
	for parentID, freshIDs := range e.fresh.Entries() {
		if e.expanded[parentID] || parentID.IsPending() {
			continue
		}
		parent, ok := FindNode(e.forest, parentID)
		if !ok {
			continue
		}
		for _, id := range freshIDs {
			if id.IsPending() {
				continue
			}
			if _, loaded := FindNode(parent.Replies, id); !loaded {
				parents = append(parents, parentID)
				break
			}
		}
	}
	e.mu.Unlock()

	var eg errgroup.Group
	eg.SetLimit(e.refreshConcurrency)
	for _, id := range parents {
		id := id
		eg.Go(func() error {
			e.loadReplies(ctx, id)
			return nil
		})
	}
	eg.Wait()
}

// Refresh reloads the top-level comments and then the reply lists of every
// expanded parent.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		return err
	}

	ids := e.ExpandedIDs()
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.refreshConcurrency)
	for _, id := range ids {
		id := id
		if id.IsPending() {
			continue
		}
		eg.Go(func() error {
			return e.loadReplies(ctx, id)
		})
	}
	return eg.Wait()
}

// Create posts a new comment. The comment shows up immediately under a provisional
// id and is swapped for the server's copy once confirmed. A nil parentID posts a
// top-level comment.
func (e *Engine) Create(ctx context.Context, content string, parentID *persist.CommentID) (persist.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return persist.Comment{}, ErrEmptyContent
	}
	if parentID != nil {
		parent := *parentID
		parentID = &parent
		if parent.IsPending() {
			return persist.Comment{}, ErrParentPending
		}
	}

	e.mu.Lock()
	if parentID != nil {
		if _, ok := FindNode(e.forest, *parentID); !ok {
			e.mu.Unlock()
			return persist.Comment{}, persist.ErrCommentNotFoundByID{ID: *parentID}
		}
	}
	now := e.now()
	provisional := persist.Comment{
		ID:        e.nextProvisionalID(now),
		Author:    e.viewer,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
		ParentID:  parentID,
		Target:    e.target,
	}
	e.forest = AppendReply(e.forest, parentID, provisional)
	e.version++
	markFresh := parentID != nil && !e.expanded[*parentID]
	e.mu.Unlock()

	if markFresh {
		e.fresh.MarkFresh(ctx, *parentID, provisional.ID)
	}

	confirmed, err := e.remote.CreateComment(ctx, persist.CommentInput{Content: content, Target: e.target, ParentID: parentID})
	if err != nil {
		e.mu.Lock()
		e.forest = RemoveNode(e.forest, provisional.ID)
		e.version++
		e.mu.Unlock()

		if markFresh {
			e.fresh.Forget(ctx, provisional.ID)
		}
		reportFailure(ctx, e.notifier, OpCreate, provisional.ID, err)
		return persist.Comment{}, &CommitError{Op: OpCreate, ID: provisional.ID, Err: err}
	}

	if confirmed.ParentID == nil && parentID != nil {
		confirmed.ParentID = parentID
	}
	if confirmed.Target.Type == "" {
		confirmed.Target = e.target
	}

	e.mu.Lock()
	if _, dup := FindNode(e.forest, confirmed.ID); dup {
		// a reply fetch already brought the confirmed copy in
		e.forest = RemoveNode(e.forest, provisional.ID)
	} else {
		e.forest = ReplaceNode(e.forest, provisional.ID, confirmed)
	}
	e.version++
	e.mu.Unlock()

	if markFresh {
		e.fresh.Migrate(ctx, *parentID, provisional.ID, confirmed.ID)
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"provisionalID": provisional.ID,
		"commentID":     confirmed.ID,
	}).Debug("comment confirmed")
	return confirmed, nil
}

// Edit replaces the content of a comment, reverting if the server refuses.
func (e *Engine) Edit(ctx context.Context, id persist.CommentID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if id.IsPending() {
		return ErrCommentPending
	}

	e.mu.Lock()
	before, ok := FindNode(e.forest, id)
	if !ok {
		e.mu.Unlock()
		return persist.ErrCommentNotFoundByID{ID: id}
	}
	snapshot, version := e.forest, e.version
	e.forest = ReplaceContent(e.forest, id, content, e.now())
	e.version++
	e.mu.Unlock()

	if err := e.remote.UpdateComment(ctx, id, content); err != nil {
		e.mu.Lock()
		if e.version == version+1 {
			e.forest = snapshot
		} else {
			e.forest, _ = updateNode(e.forest, id, func(c persist.Comment) persist.Comment {
				c.Content = before.Content
				c.UpdatedAt = before.UpdatedAt
				return c
			})
		}
		e.version++
		e.mu.Unlock()

		reportFailure(ctx, e.notifier, OpEdit, id, err)
		return &CommitError{Op: OpEdit, ID: id, Err: err}
	}
	return nil
}

// Delete removes a comment and its loaded replies, restoring them if the server
// refuses.
func (e *Engine) Delete(ctx context.Context, id persist.CommentID) error {
	if id.IsPending() {
		return ErrCommentPending
	}

	e.mu.Lock()
	node, ok := FindNode(e.forest, id)
	if !ok {
		e.mu.Unlock()
		return persist.ErrCommentNotFoundByID{ID: id}
	}
	loc, _ := locate(e.forest, id)
	snapshot, version := e.forest, e.version
	e.forest = RemoveNode(e.forest, id)
	e.version++
	e.mu.Unlock()

	if err := e.remote.DeleteComment(ctx, id); err != nil {
		e.mu.Lock()
		if e.version == version+1 {
			e.forest = snapshot
		} else if _, present := FindNode(e.forest, id); !present {
			e.forest = insertAt(e.forest, loc, node)
		}
		e.version++
		e.mu.Unlock()

		reportFailure(ctx, e.notifier, OpDelete, id, err)
		return &CommitError{Op: OpDelete, ID: id, Err: err}
	}

	e.mu.Lock()
	delete(e.expanded, id)
	e.mu.Unlock()
	e.fresh.Forget(ctx, id)
	return nil
}

// ToggleLike likes or unlikes a comment. While a like round trip for the same
// comment is in flight, further toggles are ignored.
func (e *Engine) ToggleLike(ctx context.Context, id persist.CommentID) error {
	if id.IsPending() {
		return ErrCommentPending
	}
	if !e.likes.TryAcquire(id) {
		logger.For(ctx).WithField("commentID", id).Debug("like already in flight, ignoring")
		return nil
	}
	defer e.likes.Release(id)

	e.mu.Lock()
	node, ok := FindNode(e.forest, id)
	if !ok {
		e.mu.Unlock()
		return persist.ErrCommentNotFoundByID{ID: id}
	}
	e.forest = ToggleLike(e.forest, id)
	e.version++
	e.mu.Unlock()

	op, call := OpLike, e.remote.LikeComment
	if node.LikedByCurrentUser {
		op, call = OpUnlike, e.remote.UnlikeComment
	}

	if err := call(ctx, id); err != nil {
		e.mu.Lock()
		e.forest = ToggleLike(e.forest, id)
		e.version++
		e.mu.Unlock()

		reportFailure(ctx, e.notifier, op, id, err)
		return &CommitError{Op: op, ID: id, Err: err}
	}
	return nil
}

// EnsureLoaded fetches the replies of id if fewer are loaded than the server
// advertises. It is a no-op if the replies are complete or already being fetched.
func (e *Engine) EnsureLoaded(ctx context.Context, id persist.CommentID) error {
	e.mu.Lock()
	node, ok := FindNode(e.forest, id)
	e.mu.Unlock()
	if !ok {
		return persist.ErrCommentNotFoundByID{ID: id}
	}
	if node.IsPending() || !NeedsLoad(node) {
		return nil
	}
	return e.loadReplies(ctx, id)
}

func (e *Engine) loadReplies(ctx context.Context, id persist.CommentID) error {
	replies, started, err := e.loader.Fetch(ctx, id)
	if !started {
		return nil
	}
	if err != nil {
		reportFailure(ctx, e.notifier, OpFetch, id, err)
		return &CommitError{Op: OpFetch, ID: id, Err: err}
	}

	e.mu.Lock()
	e.forest = mergeSubtree(e.forest, id, replies)
	e.version++
	e.mu.Unlock()
	return nil
}

// Expand loads the replies of id if needed, marks it expanded and clears its fresh
// replies, since the user is now looking at all of them.
func (e *Engine) Expand(ctx context.Context, id persist.CommentID) error {
	if err := e.EnsureLoaded(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	e.expanded[id] = true
	e.mu.Unlock()

	e.fresh.Clear(ctx, id)
	e.restoreFresh(ctx)
	return nil
}

// Collapse hides the replies of id. Replies posted from now on are tracked as fresh.
func (e *Engine) Collapse(id persist.CommentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.expanded, id)
}

func (e *Engine) IsExpanded(id persist.CommentID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded[id]
}

// ExpandedIDs returns the expanded parents in ascending id order.
func (e *Engine) ExpandedIDs() []persist.CommentID {
	e.mu.Lock()
	ids := maps.Keys(e.expanded)
	e.mu.Unlock()

	slices.SortFunc(ids, func(a, b persist.CommentID) bool { return a.Int64() < b.Int64() })
	return ids
}

// VisibleReplies returns what a reply list shows: every loaded reply when the
// parent is expanded, otherwise only the fresh ones.
func (e *Engine) VisibleReplies(parentID persist.CommentID) ([]persist.Comment, error) {
	e.mu.Lock()
	parent, ok := FindNode(e.forest, parentID)
	expanded := e.expanded[parentID]
	e.mu.Unlock()
	if !ok {
		return nil, persist.ErrCommentNotFoundByID{ID: parentID}
	}
	if expanded {
		return parent.Replies, nil
	}

	fresh := e.fresh.Fresh(parentID)
	visible := make([]persist.Comment, 0, len(fresh))
	for _, r := range parent.Replies {
		if containsID(fresh, r.ID) {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// Fresh returns the fresh replies registered under parentID.
func (e *Engine) Fresh(parentID persist.CommentID) []persist.CommentID {
	return e.fresh.Fresh(parentID)
}

func (e *Engine) FreshEntries() map[persist.CommentID][]persist.CommentID {
	return e.fresh.Entries()
}

// nextProvisionalID must be called with e.mu held. Ids follow the clock in
// milliseconds and are strictly increasing per engine.
func (e *Engine) nextProvisionalID(now time.Time) persist.CommentID {
	n := now.UnixMilli()
	if n <= persist.ProvisionalIDFloor {
		n = persist.ProvisionalIDFloor + 1
	}
	if n <= e.lastProvisional {
		n = e.lastProvisional + 1
	}
	e.lastProvisional = n
	return persist.PendingID(n)
}
