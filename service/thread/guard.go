package thread

import (
	"sync"

	"github.com/SplitFi/go-threads/service/persist"
)

// PendingGuard tracks comment ids with a remote round trip in flight so a second
// request against the same id can be dropped instead of racing the first.
type PendingGuard struct {
	mu  sync.Mutex
	ids map[persist.CommentID]struct{}
}

func NewPendingGuard() *PendingGuard {
	return &PendingGuard{ids: make(map[persist.CommentID]struct{})}
}

// TryAcquire marks id as in flight. It returns false if id already was.
func (g *PendingGuard) TryAcquire(id persist.CommentID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.ids[id]; ok {
		return false
	}
	g.ids[id] = struct{}{}
	return true
}

func (g *PendingGuard) Release(id persist.CommentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, id)
}

func (g *PendingGuard) IsPending(id persist.CommentID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[id]
	return ok
}
