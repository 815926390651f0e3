package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/SplitFi/go-threads/middleware"
	"github.com/SplitFi/go-threads/publicapi"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/thread"
)

var (
	alice = persist.UserSummary{ID: 1, Username: "alice"}
	bob   = persist.UserSummary{ID: 2, Username: "bob"}
)

type storedComment struct {
	persist.Comment
	deleted bool
	likes   map[int64]bool
}

// memoryComments is a CommentRepository kept in memory with the same ordering and
// ownership rules as the postgres one.
type memoryComments struct {
	mu       sync.Mutex
	nextID   int64
	comments []*storedComment
	users    *memoryUsers
}

func newMemoryComments(users *memoryUsers) *memoryComments {
	return &memoryComments{nextID: 1, users: users}
}

func (m *memoryComments) GetComments(ctx context.Context, viewerID int64, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []persist.Comment{}
	for _, s := range m.comments {
		if s.deleted || s.Target != target || !sameParent(s.ParentID, parentID) {
			continue
		}
		c := s.Comment
		c.LikeCount = len(s.likes)
		c.LikedByCurrentUser = s.likes[viewerID]
		c.ReplyCount = m.countReplies(s.ID)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if parentID == nil {
			return out[i].ID.Int64() > out[j].ID.Int64()
		}
		return out[i].ID.Int64() < out[j].ID.Int64()
	})
	return out, nil
}

func (m *memoryComments) CreateComment(ctx context.Context, actorID int64, input persist.CommentInput) (persist.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if input.ParentID != nil {
		parent, ok := m.find(*input.ParentID)
		if !ok || parent.Target != input.Target {
			return persist.Comment{}, persist.ErrCommentNotFoundByID{ID: *input.ParentID}
		}
	}
	author, err := m.users.GetByID(ctx, actorID)
	if err != nil {
		return persist.Comment{}, err
	}

	now := time.Now().UTC()
	c := persist.Comment{
		ID:        persist.ConfirmedID(m.nextID),
		Author:    author,
		Content:   input.Content,
		CreatedAt: now,
		UpdatedAt: now,
		ParentID:  input.ParentID,
		Target:    input.Target,
	}
	m.nextID++
	m.comments = append(m.comments, &storedComment{Comment: c, likes: map[int64]bool{}})
	return c, nil
}

func (m *memoryComments) UpdateComment(ctx context.Context, actorID int64, commentID persist.CommentID, content string) error {
	return m.mutate(actorID, commentID, func(s *storedComment) {
		s.Content = content
		s.UpdatedAt = time.Now().UTC()
	})
}

func (m *memoryComments) RemoveComment(ctx context.Context, actorID int64, commentID persist.CommentID) error {
	return m.mutate(actorID, commentID, func(s *storedComment) { s.deleted = true })
}

func (m *memoryComments) LikeComment(ctx context.Context, actorID int64, commentID persist.CommentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.find(commentID)
	if !ok {
		return persist.ErrCommentNotFoundByID{ID: commentID}
	}
	s.likes[actorID] = true
	return nil
}

func (m *memoryComments) UnlikeComment(ctx context.Context, actorID int64, commentID persist.CommentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.find(commentID)
	if !ok {
		return persist.ErrCommentNotFoundByID{ID: commentID}
	}
	delete(s.likes, actorID)
	return nil
}

func (m *memoryComments) mutate(actorID int64, id persist.CommentID, fn func(*storedComment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.find(id)
	if !ok {
		return persist.ErrCommentNotFoundByID{ID: id}
	}
	if s.Author.ID != actorID {
		return persist.ErrNotCommentAuthor{ID: id, ActorID: actorID}
	}
	fn(s)
	return nil
}

func (m *memoryComments) find(id persist.CommentID) (*storedComment, bool) {
	for _, s := range m.comments {
		if s.ID == id && !s.deleted {
			return s, true
		}
	}
	return nil, false
}

func (m *memoryComments) countReplies(id persist.CommentID) int {
	n := 0
	for _, s := range m.comments {
		if !s.deleted && s.ParentID != nil && *s.ParentID == id {
			n++
		}
	}
	return n
}

func (m *memoryComments) content(id persist.CommentID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.find(id); ok {
		return s.Content
	}
	return ""
}

func sameParent(a, b *persist.CommentID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[int64]persist.UserSummary
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[int64]persist.UserSummary{}}
}

func (m *memoryUsers) GetByID(ctx context.Context, id int64) (persist.UserSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return persist.UserSummary{}, persist.ErrUserNotFound{UserID: id}
	}
	return u, nil
}

func (m *memoryUsers) Upsert(ctx context.Context, user persist.UserSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	viper.Set("AUTH_JWT_SECRET", "")

	router := gin.New()
	router.ContextWithFallback = true
	router.Use(middleware.GinContextToContext(), middleware.Recover())
	return router
}

func newTestAPI(remote thread.Remote) *publicapi.PublicAPI {
	return publicapi.New(publicapi.Config{
		Remote:          remote,
		Sessions:        thread.NewMemorySessionStore(),
		EngineCacheSize: 16,
		FreshnessTTL:    time.Hour,
	})
}

type requestAs struct {
	session string
	viewer  *persist.UserSummary
}

func (r requestAs) do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if r.session != "" {
		req.Header.Set(middleware.SessionHeader, r.session)
	}
	if r.viewer != nil {
		req.Header.Set(auth.UserIDHeader, strconv.FormatInt(r.viewer.ID, 10))
		req.Header.Set(auth.UsernameHeader, r.viewer.Username)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
