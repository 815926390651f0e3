package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/SplitFi/go-threads/service/persist"
)

const (
	pgForeignKeyViolation = "23503"

	commentColumns = `c.ID, c.PARENT_ID, c.TARGET_TYPE, c.TARGET_ID, c.CONTENT, c.CREATED_AT, c.LAST_UPDATED,
	u.ID, u.USERNAME, COALESCE(u.AVATAR_URL, ''),
	(SELECT count(*) FROM comment_likes l WHERE l.COMMENT_ID = c.ID),
	EXISTS (SELECT 1 FROM comment_likes l WHERE l.COMMENT_ID = c.ID AND l.ACTOR_ID = $1),
	(SELECT count(*) FROM comments r WHERE r.PARENT_ID = c.ID AND r.DELETED = FALSE)`

	// top-level comments come newest first, replies oldest first
	getTopLevelSQL = `SELECT ` + commentColumns + ` FROM comments c JOIN users u ON u.ID = c.ACTOR_ID
	WHERE c.TARGET_TYPE = $2 AND c.TARGET_ID = $3 AND c.PARENT_ID IS NULL AND c.DELETED = FALSE
	ORDER BY c.CREATED_AT DESC, c.ID DESC;`

	getRepliesSQL = `SELECT ` + commentColumns + ` FROM comments c JOIN users u ON u.ID = c.ACTOR_ID
	WHERE c.TARGET_TYPE = $2 AND c.TARGET_ID = $3 AND c.PARENT_ID = $4 AND c.DELETED = FALSE
	ORDER BY c.CREATED_AT ASC, c.ID ASC;`

	getByIDSQL = `SELECT ` + commentColumns + ` FROM comments c JOIN users u ON u.ID = c.ACTOR_ID
	WHERE c.ID = $2 AND c.DELETED = FALSE;`

	parentExistsSQL = `SELECT EXISTS (SELECT 1 FROM comments WHERE ID = $1 AND TARGET_TYPE = $2 AND TARGET_ID = $3 AND DELETED = FALSE);`

	insertSQL = `INSERT INTO comments (TARGET_TYPE, TARGET_ID, PARENT_ID, ACTOR_ID, CONTENT) VALUES ($1, $2, $3, $4, $5) RETURNING ID;`

	updateSQL = `UPDATE comments SET CONTENT = $3, LAST_UPDATED = now() WHERE ID = $1 AND ACTOR_ID = $2 AND DELETED = FALSE;`

	removeSQL = `UPDATE comments SET DELETED = TRUE, LAST_UPDATED = now() WHERE ID = $1 AND ACTOR_ID = $2 AND DELETED = FALSE;`

	authorSQL = `SELECT ACTOR_ID FROM comments WHERE ID = $1 AND DELETED = FALSE;`

	likeSQL = `INSERT INTO comment_likes (COMMENT_ID, ACTOR_ID)
	SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM comments WHERE ID = $1 AND DELETED = FALSE)
	ON CONFLICT (COMMENT_ID, ACTOR_ID) DO NOTHING;`

	unlikeSQL = `DELETE FROM comment_likes WHERE COMMENT_ID = $1 AND ACTOR_ID = $2;`

	existsSQL = `SELECT EXISTS (SELECT 1 FROM comments WHERE ID = $1 AND DELETED = FALSE);`
)

// CommentRepository represents a comment repository in the postgres database
type CommentRepository struct {
	pool *pgxpool.Pool
}

// NewCommentRepository creates a new postgres repository for interacting with comments
func NewCommentRepository(pool *pgxpool.Pool) *CommentRepository {
	return &CommentRepository{pool: pool}
}

// GetComments returns the direct children of parentID, or the top-level comments of
// the target when parentID is nil. Replies of the returned comments are not loaded.
func (c *CommentRepository) GetComments(pCtx context.Context, pViewerID int64, pTarget persist.Target, pParentID *persist.CommentID) ([]persist.Comment, error) {
	var rows pgx.Rows
	var err error
	if pParentID == nil {
		rows, err = c.pool.Query(pCtx, getTopLevelSQL, pViewerID, pTarget.Type, pTarget.ID)
	} else {
		rows, err = c.pool.Query(pCtx, getRepliesSQL, pViewerID, pTarget.Type, pTarget.ID, pParentID.Int64())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]persist.Comment, 0, 10)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreateComment inserts a comment authored by pActorID and returns it as stored
func (c *CommentRepository) CreateComment(pCtx context.Context, pActorID int64, pInput persist.CommentInput) (persist.Comment, error) {
	var parentID *int64
	if pInput.ParentID != nil {
		id := pInput.ParentID.Int64()
		parentID = &id

		var exists bool
		err := c.pool.QueryRow(pCtx, parentExistsSQL, id, pInput.Target.Type, pInput.Target.ID).Scan(&exists)
		if err != nil {
			return persist.Comment{}, err
		}
		if !exists {
			return persist.Comment{}, persist.ErrCommentNotFoundByID{ID: *pInput.ParentID}
		}
	}

	var id int64
	err := c.pool.QueryRow(pCtx, insertSQL, pInput.Target.Type, pInput.Target.ID, parentID, pActorID, pInput.Content).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return persist.Comment{}, persist.ErrUserNotFound{UserID: pActorID}
		}
		return persist.Comment{}, fmt.Errorf("failed to insert comment: %w", err)
	}

	return c.getByID(pCtx, pActorID, persist.ConfirmedID(id))
}

// UpdateComment replaces the content of a comment owned by pActorID
func (c *CommentRepository) UpdateComment(pCtx context.Context, pActorID int64, pCommentID persist.CommentID, pContent string) error {
	tag, err := c.pool.Exec(pCtx, updateSQL, pCommentID.Int64(), pActorID, pContent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return c.explainMiss(pCtx, pActorID, pCommentID)
	}
	return nil
}

// RemoveComment soft deletes a comment owned by pActorID
func (c *CommentRepository) RemoveComment(pCtx context.Context, pActorID int64, pCommentID persist.CommentID) error {
	tag, err := c.pool.Exec(pCtx, removeSQL, pCommentID.Int64(), pActorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return c.explainMiss(pCtx, pActorID, pCommentID)
	}
	return nil
}

// LikeComment records a like. Liking twice is not an error.
func (c *CommentRepository) LikeComment(pCtx context.Context, pActorID int64, pCommentID persist.CommentID) error {
	tag, err := c.pool.Exec(pCtx, likeSQL, pCommentID.Int64(), pActorID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return persist.ErrUserNotFound{UserID: pActorID}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return c.ensureExists(pCtx, pCommentID)
	}
	return nil
}

// UnlikeComment removes a like. Unliking a comment that was not liked is not an error.
func (c *CommentRepository) UnlikeComment(pCtx context.Context, pActorID int64, pCommentID persist.CommentID) error {
	if _, err := c.pool.Exec(pCtx, unlikeSQL, pCommentID.Int64(), pActorID); err != nil {
		return err
	}
	return c.ensureExists(pCtx, pCommentID)
}

func (c *CommentRepository) getByID(pCtx context.Context, pViewerID int64, pID persist.CommentID) (persist.Comment, error) {
	comment, err := scanComment(c.pool.QueryRow(pCtx, getByIDSQL, pViewerID, pID.Int64()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persist.Comment{}, persist.ErrCommentNotFoundByID{ID: pID}
		}
		return persist.Comment{}, err
	}
	return comment, nil
}

// explainMiss turns an update that matched no rows into the right error.
func (c *CommentRepository) explainMiss(pCtx context.Context, pActorID int64, pCommentID persist.CommentID) error {
	var authorID int64
	err := c.pool.QueryRow(pCtx, authorSQL, pCommentID.Int64()).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return persist.ErrCommentNotFoundByID{ID: pCommentID}
	}
	if err != nil {
		return err
	}
	if authorID != pActorID {
		return persist.ErrNotCommentAuthor{ID: pCommentID, ActorID: pActorID}
	}
	return fmt.Errorf("comment %s was not updated", pCommentID)
}

func (c *CommentRepository) ensureExists(pCtx context.Context, pCommentID persist.CommentID) error {
	var exists bool
	if err := c.pool.QueryRow(pCtx, existsSQL, pCommentID.Int64()).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return persist.ErrCommentNotFoundByID{ID: pCommentID}
	}
	return nil
}

func scanComment(row pgx.Row) (persist.Comment, error) {
	var comment persist.Comment
	var id int64
	var parentID *int64
	var likeCount, replyCount int64

	err := row.Scan(
		&id, &parentID, &comment.Target.Type, &comment.Target.ID, &comment.Content, &comment.CreatedAt, &comment.UpdatedAt,
		&comment.Author.ID, &comment.Author.Username, &comment.Author.AvatarURL,
		&likeCount, &comment.LikedByCurrentUser, &replyCount,
	)
	if err != nil {
		return persist.Comment{}, err
	}

	comment.ID = persist.ConfirmedID(id)
	if parentID != nil {
		comment.ParentID = persist.CommentIDPtr(persist.ConfirmedID(*parentID))
	}
	comment.LikeCount = int(likeCount)
	comment.ReplyCount = int(replyCount)
	return comment, nil
}
