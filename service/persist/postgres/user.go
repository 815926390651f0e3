package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/SplitFi/go-threads/service/persist"
)

// UserRepository represents a user repository in the postgres database
type UserRepository struct {
	db          *sql.DB
	getByIDStmt *sql.Stmt
	upsertStmt  *sql.Stmt
}

// NewUserRepository creates a new postgres repository for interacting with users
func NewUserRepository(db *sql.DB) *UserRepository {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	getByIDStmt, err := db.PrepareContext(ctx, `SELECT ID,USERNAME,COALESCE(AVATAR_URL,'') FROM users WHERE ID = $1 AND DELETED = FALSE;`)
	checkNoErr(err)

	upsertStmt, err := db.PrepareContext(ctx, `INSERT INTO users (ID,USERNAME,AVATAR_URL) VALUES ($1,$2,NULLIF($3,'')) ON CONFLICT (ID) DO UPDATE SET USERNAME = COALESCE(NULLIF(EXCLUDED.USERNAME,''), users.USERNAME), AVATAR_URL = COALESCE(EXCLUDED.AVATAR_URL, users.AVATAR_URL), LAST_UPDATED = now();`)
	checkNoErr(err)

	return &UserRepository{db: db, getByIDStmt: getByIDStmt, upsertStmt: upsertStmt}
}

// GetByID gets the user with the given ID
func (u *UserRepository) GetByID(pCtx context.Context, pID int64) (persist.UserSummary, error) {
	var user persist.UserSummary
	err := u.getByIDStmt.QueryRowContext(pCtx, pID).Scan(&user.ID, &user.Username, &user.AvatarURL)
	if err != nil {
		if err == sql.ErrNoRows {
			return persist.UserSummary{}, persist.ErrUserNotFound{UserID: pID}
		}
		return persist.UserSummary{}, err
	}
	return user, nil
}

// Upsert creates the user or refreshes their username and avatar
func (u *UserRepository) Upsert(pCtx context.Context, pUser persist.UserSummary) error {
	_, err := u.upsertStmt.ExecContext(pCtx, pUser.ID, pUser.Username, pUser.AvatarURL)
	return err
}
