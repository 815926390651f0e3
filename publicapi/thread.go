package publicapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/thread"
	"github.com/SplitFi/go-threads/util"
	"github.com/SplitFi/go-threads/validate"
)

const maxCommentLength = 5000

var ErrNoSession = errors.New("request has no session")

// ThreadView is a thread as shown to one viewer: the loaded forest, the fresh
// replies per collapsed parent and the parents that are expanded.
type ThreadView struct {
	Target   persist.Target                 `json:"target"`
	Comments []persist.Comment              `json:"comments"`
	Fresh    map[string][]persist.CommentID `json:"fresh"`
	Expanded []persist.CommentID            `json:"expanded"`
}

type ThreadAPI struct {
	validator    *validator.Validate
	remote       thread.Remote
	sessions     thread.SessionStore
	freshnessTTL time.Duration
	notifier     thread.Notifier

	mu      sync.Mutex
	engines *lru.Cache
}

// NewThreadAPI keeps up to cacheSize engines alive. An evicted engine loses its
// forest but not its fresh replies, which live in sessions for freshnessTTL.
func NewThreadAPI(v *validator.Validate, remote thread.Remote, sessions thread.SessionStore, cacheSize int, freshnessTTL time.Duration, notifier thread.Notifier) *ThreadAPI {
	engines, err := lru.New(cacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create engine cache: %s", err))
	}
	if notifier == nil {
		notifier = thread.LogNotifier{}
	}
	return &ThreadAPI{
		validator:    v,
		remote:       remote,
		sessions:     sessions,
		freshnessTTL: freshnessTTL,
		notifier:     notifier,
		engines:      engines,
	}
}

// GetThread returns the thread of target, loading it on first access.
func (api *ThreadAPI) GetThread(ctx context.Context, target persist.Target) (ThreadView, error) {
	engine, err := api.engineFor(ctx, target)
	if err != nil {
		return ThreadView{}, err
	}
	return viewOf(engine), nil
}

// RefreshThread reloads the top-level comments and every expanded reply list.
func (api *ThreadAPI) RefreshThread(ctx context.Context, target persist.Target) (ThreadView, error) {
	defer util.Track("RefreshThread "+target.Key(), time.Now())

	engine, err := api.engineFor(ctx, target)
	if err != nil {
		return ThreadView{}, err
	}
	if err := engine.Refresh(ctx); err != nil {
		return ThreadView{}, err
	}
	return viewOf(engine), nil
}

func (api *ThreadAPI) PostComment(ctx context.Context, target persist.Target, content string, parentID *persist.CommentID) (persist.Comment, error) {
	content = validate.SanitizeContent(content)
	if err := validate.ValidateFields(api.validator, validate.ValidationMap{
		"content": {Value: content, Tag: fmt.Sprintf("comment_content,max=%d", maxCommentLength)},
	}); err != nil {
		return persist.Comment{}, err
	}
	if _, err := getAuthenticatedViewer(ctx); err != nil {
		return persist.Comment{}, err
	}

	engine, err := api.engineFor(ctx, target)
	if err != nil {
		return persist.Comment{}, err
	}
	return engine.Create(ctx, content, parentID)
}

func (api *ThreadAPI) EditComment(ctx context.Context, target persist.Target, commentID persist.CommentID, content string) error {
	content = validate.SanitizeContent(content)
	if err := validate.ValidateFields(api.validator, validate.ValidationMap{
		"commentID": {Value: commentID.Int64(), Tag: "required,gt=0"},
		"content":   {Value: content, Tag: fmt.Sprintf("comment_content,max=%d", maxCommentLength)},
	}); err != nil {
		return err
	}
	engine, err := api.authenticatedEngine(ctx, target)
	if err != nil {
		return err
	}
	return engine.Edit(ctx, commentID, content)
}

func (api *ThreadAPI) RemoveComment(ctx context.Context, target persist.Target, commentID persist.CommentID) error {
	if err := validate.ValidateFields(api.validator, validate.ValidationMap{
		"commentID": {Value: commentID.Int64(), Tag: "required,gt=0"},
	}); err != nil {
		return err
	}
	engine, err := api.authenticatedEngine(ctx, target)
	if err != nil {
		return err
	}
	return engine.Delete(ctx, commentID)
}

// ToggleLike flips the viewer's like. It returns the comment as it stands once the
// toggle settled, or was ignored because another one was in flight.
func (api *ThreadAPI) ToggleLike(ctx context.Context, target persist.Target, commentID persist.CommentID) (persist.Comment, error) {
	if err := validate.ValidateFields(api.validator, validate.ValidationMap{
		"commentID": {Value: commentID.Int64(), Tag: "required,gt=0"},
	}); err != nil {
		return persist.Comment{}, err
	}
	engine, err := api.authenticatedEngine(ctx, target)
	if err != nil {
		return persist.Comment{}, err
	}
	if err := engine.ToggleLike(ctx, commentID); err != nil {
		return persist.Comment{}, err
	}
	c, ok := thread.FindNode(engine.Snapshot(), commentID)
	if !ok {
		return persist.Comment{}, persist.ErrCommentNotFoundByID{ID: commentID}
	}
	return c, nil
}

// ExpandReplies loads the replies of commentID and returns all of them.
func (api *ThreadAPI) ExpandReplies(ctx context.Context, target persist.Target, commentID persist.CommentID) ([]persist.Comment, error) {
	engine, err := api.engineFor(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := engine.Expand(ctx, commentID); err != nil {
		return nil, err
	}
	return engine.VisibleReplies(commentID)
}

func (api *ThreadAPI) CollapseReplies(ctx context.Context, target persist.Target, commentID persist.CommentID) error {
	engine, err := api.engineFor(ctx, target)
	if err != nil {
		return err
	}
	if _, ok := thread.FindNode(engine.Snapshot(), commentID); !ok {
		return persist.ErrCommentNotFoundByID{ID: commentID}
	}
	engine.Collapse(commentID)
	return nil
}

// GetReplies returns what the reply list of commentID shows right now.
func (api *ThreadAPI) GetReplies(ctx context.Context, target persist.Target, commentID persist.CommentID) ([]persist.Comment, error) {
	engine, err := api.engineFor(ctx, target)
	if err != nil {
		return nil, err
	}
	return engine.VisibleReplies(commentID)
}

func (api *ThreadAPI) authenticatedEngine(ctx context.Context, target persist.Target) (*thread.Engine, error) {
	if _, err := getAuthenticatedViewer(ctx); err != nil {
		return nil, err
	}
	return api.engineFor(ctx, target)
}

// engineFor returns the engine of the viewer's session for target, creating and
// loading it if needed.
func (api *ThreadAPI) engineFor(ctx context.Context, target persist.Target) (*thread.Engine, error) {
	if err := validate.ValidateFields(api.validator, validate.ValidationMap{
		"targetType": {Value: target.Type, Tag: "required,target_type"},
		"targetID":   {Value: target.ID, Tag: "required,gt=0"},
	}); err != nil {
		return nil, err
	}

	sessionID := SessionFromContext(ctx)
	if sessionID == "" {
		return nil, ErrNoSession
	}
	viewer, _ := auth.ViewerFromContext(ctx)
	key := engineKey(sessionID, viewer.ID, target)

	api.mu.Lock()
	var engine *thread.Engine
	if cached, ok := api.engines.Get(key); ok {
		engine = cached.(*thread.Engine)
	} else {
		fresh := thread.NewFreshnessTracker(ctx, api.sessions, thread.FreshnessKey(sessionID, target), api.freshnessTTL)
		engine = thread.New(thread.Config{
			Target:    target,
			Viewer:    viewer,
			Remote:    api.remote,
			Freshness: fresh,
		}, thread.WithNotifier(api.notifier))
		api.engines.Add(key, engine)

		logger.For(ctx).WithFields(logrus.Fields{
			"target":  target.Key(),
			"engines": api.engines.Len(),
		}).Debug("created thread engine")
	}
	api.mu.Unlock()

	if !engine.Loaded() {
		if err := engine.Load(ctx); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func engineKey(sessionID string, viewerID int64, target persist.Target) string {
	return sessionID + "|" + strconv.FormatInt(viewerID, 10) + "|" + target.Key()
}

func viewOf(engine *thread.Engine) ThreadView {
	fresh := make(map[string][]persist.CommentID)
	for parent, ids := range engine.FreshEntries() {
		fresh[parent.String()] = ids
	}
	comments := engine.Snapshot()
	if comments == nil {
		comments = []persist.Comment{}
	}
	return ThreadView{
		Target:   engine.Target(),
		Comments: comments,
		Fresh:    fresh,
		Expanded: engine.ExpandedIDs(),
	}
}
