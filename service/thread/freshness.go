package thread

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
)

const freshnessSchemaVersion = 1

// freshnessRecord is the stored form of a tracker. Parent ids are map keys, so
// they are written as decimal strings.
type freshnessRecord struct {
	Version int                            `json:"version"`
	Entries map[string][]persist.CommentID `json:"entries"`
}

// FreshnessTracker remembers, per parent, the replies that were added while the
// parent was collapsed so they can stay visible until the parent is expanded.
// Every change is written through to the session store.
type FreshnessTracker struct {
	mu      sync.Mutex
	store   SessionStore
	key     string
	ttl     time.Duration
	entries map[persist.CommentID][]persist.CommentID
}

// NewFreshnessTracker reads the stored map under key once. A missing, unreadable or
// unknown-version entry yields an empty tracker.
func NewFreshnessTracker(ctx context.Context, store SessionStore, key string, ttl time.Duration) *FreshnessTracker {
	f := &FreshnessTracker{
		store:   store,
		key:     key,
		ttl:     ttl,
		entries: make(map[persist.CommentID][]persist.CommentID),
	}
	f.load(ctx)
	return f
}

func (f *FreshnessTracker) load(ctx context.Context) {
	if f.store == nil {
		return
	}

	b, err := f.store.Get(ctx, f.key)
	if errors.Is(err, ErrSessionKeyNotFound) {
		return
	}
	if err != nil {
		logger.For(ctx).WithError(err).WithField("key", f.key).Warn("failed to read fresh replies, starting empty")
		return
	}

	var rec freshnessRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		logger.For(ctx).WithError(err).WithField("key", f.key).Warn("discarding malformed fresh replies entry")
		return
	}
	if rec.Version != freshnessSchemaVersion {
		logger.For(ctx).WithFields(logrus.Fields{"key": f.key, "version": rec.Version}).Warn("discarding fresh replies entry with unknown version")
		return
	}

	for k, ids := range rec.Entries {
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil || len(ids) == 0 {
			continue
		}
		f.entries[persist.ParseCommentID(n)] = dedupe(ids)
	}
}

// MarkFresh records replyID as fresh under parentID.
func (f *FreshnessTracker) MarkFresh(ctx context.Context, parentID, replyID persist.CommentID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if containsID(f.entries[parentID], replyID) {
		return
	}
	f.entries[parentID] = append(append([]persist.CommentID(nil), f.entries[parentID]...), replyID)
	f.persist(ctx)
}

// Migrate moves a fresh registration from one id to another under the same parent,
// keeping its position. It does nothing if from was not registered.
func (f *FreshnessTracker) Migrate(ctx context.Context, parentID, from, to persist.CommentID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := f.entries[parentID]
	i := indexOfID(ids, from)
	if i < 0 {
		return
	}
	next := make([]persist.CommentID, 0, len(ids))
	for j, id := range ids {
		if j != i {
			next = append(next, id)
		} else if !containsID(ids, to) {
			next = append(next, to)
		}
	}
	f.entries[parentID] = next
	f.persist(ctx)
}

// Clear drops every fresh registration under parentID.
func (f *FreshnessTracker) Clear(ctx context.Context, parentID persist.CommentID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[parentID]; !ok {
		return
	}
	delete(f.entries, parentID)
	f.persist(ctx)
}

// Forget removes id wherever it appears, both as a fresh reply and as a parent.
// It keeps entries for deleted or discarded comments from lingering.
func (f *FreshnessTracker) Forget(ctx context.Context, id persist.CommentID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	changed := false
	if _, ok := f.entries[id]; ok {
		delete(f.entries, id)
		changed = true
	}
	for parentID, ids := range f.entries {
		i := indexOfID(ids, id)
		if i < 0 {
			continue
		}
		changed = true
		if len(ids) == 1 {
			delete(f.entries, parentID)
			continue
		}
		next := make([]persist.CommentID, 0, len(ids)-1)
		next = append(next, ids[:i]...)
		f.entries[parentID] = append(next, ids[i+1:]...)
	}
	if changed {
		f.persist(ctx)
	}
}

// Fresh returns the fresh replies under parentID in the order they were added.
func (f *FreshnessTracker) Fresh(parentID persist.CommentID) []persist.CommentID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persist.CommentID(nil), f.entries[parentID]...)
}

func (f *FreshnessTracker) IsFresh(parentID, replyID persist.CommentID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return containsID(f.entries[parentID], replyID)
}

// Entries returns a copy of the whole map.
func (f *FreshnessTracker) Entries() map[persist.CommentID][]persist.CommentID {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[persist.CommentID][]persist.CommentID, len(f.entries))
	for k, v := range f.entries {
		out[k] = append([]persist.CommentID(nil), v...)
	}
	return out
}

// persist must be called with f.mu held. A failed write only costs the fresh
// markers on the next reload, so it is logged rather than returned.
func (f *FreshnessTracker) persist(ctx context.Context) {
	if f.store == nil {
		return
	}

	rec := freshnessRecord{Version: freshnessSchemaVersion, Entries: make(map[string][]persist.CommentID, len(f.entries))}
	for k, v := range f.entries {
		rec.Entries[k.String()] = v
	}
	b, err := json.Marshal(rec)
	if err != nil {
		logger.For(ctx).WithError(err).Error("failed to encode fresh replies")
		return
	}
	if err := f.store.Set(ctx, f.key, b, f.ttl); err != nil {
		logger.For(ctx).WithError(err).WithField("key", f.key).Error("failed to write fresh replies")
	}
}

func indexOfID(ids []persist.CommentID, id persist.CommentID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

func containsID(ids []persist.CommentID, id persist.CommentID) bool {
	return indexOfID(ids, id) >= 0
}

func dedupe(ids []persist.CommentID) []persist.CommentID {
	out := make([]persist.CommentID, 0, len(ids))
	for _, id := range ids {
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}
