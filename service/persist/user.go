package persist

import (
	"context"
	"fmt"
)

// UserRepository stores the author records comments point at.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (UserSummary, error)
	// Upsert creates the user or refreshes their display fields.
	Upsert(ctx context.Context, user UserSummary) error
}

type ErrUserNotFound struct {
	UserID int64
}

func (e ErrUserNotFound) Error() string {
	return fmt.Sprintf("user not found: %d", e.UserID)
}
