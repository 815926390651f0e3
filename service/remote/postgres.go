package remote

import (
	"context"

	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/thread"
)

var _ thread.Remote = (*Postgres)(nil)

// Postgres serves the comment contract straight from the database. The acting
// viewer is read from the context of each call.
type Postgres struct {
	comments persist.CommentRepository
	users    persist.UserRepository
}

func NewPostgres(comments persist.CommentRepository, users persist.UserRepository) *Postgres {
	return &Postgres{comments: comments, users: users}
}

func (p *Postgres) FetchThread(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
	// anonymous reads are fine, nothing is liked by nobody
	viewer, _ := auth.ViewerFromContext(ctx)
	return p.comments.GetComments(ctx, viewer.ID, target, parentID)
}

func (p *Postgres) CreateComment(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
	viewer, err := p.actor(ctx)
	if err != nil {
		return persist.Comment{}, err
	}
	return p.comments.CreateComment(ctx, viewer.ID, input)
}

func (p *Postgres) UpdateComment(ctx context.Context, id persist.CommentID, content string) error {
	viewer, err := p.actor(ctx)
	if err != nil {
		return err
	}
	return p.comments.UpdateComment(ctx, viewer.ID, id, content)
}

func (p *Postgres) DeleteComment(ctx context.Context, id persist.CommentID) error {
	viewer, err := p.actor(ctx)
	if err != nil {
		return err
	}
	return p.comments.RemoveComment(ctx, viewer.ID, id)
}

func (p *Postgres) LikeComment(ctx context.Context, id persist.CommentID) error {
	viewer, err := p.actor(ctx)
	if err != nil {
		return err
	}
	return p.comments.LikeComment(ctx, viewer.ID, id)
}

func (p *Postgres) UnlikeComment(ctx context.Context, id persist.CommentID) error {
	viewer, err := p.actor(ctx)
	if err != nil {
		return err
	}
	return p.comments.UnlikeComment(ctx, viewer.ID, id)
}

// actor returns the viewer of ctx, making sure they exist as a user row so their
// comments and likes can reference them.
func (p *Postgres) actor(ctx context.Context) (persist.UserSummary, error) {
	viewer, ok := auth.ViewerFromContext(ctx)
	if !ok || viewer.ID == 0 {
		return persist.UserSummary{}, auth.ErrNoViewer
	}
	if p.users != nil {
		if err := p.users.Upsert(ctx, viewer); err != nil {
			return persist.UserSummary{}, err
		}
	}
	return viewer, nil
}
