package repository

import (
	"context"
	"database/sql"
	"errors"

	"busticket/internal/database"
	"busticket/internal/models"
)

type UserRepository struct {
	q database.Querier
}

func NewUserRepository(q database.Querier) *UserRepository {
	return &UserRepository{q: q}
}

// GetUserByID returns nil when the user does not exist.
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT user_id, email, full_name, phone, registered_at, is_active
		FROM users
		WHERE user_id = $1`

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&user.UserID,
		&user.Email,
		&user.FullName,
		&user.Phone,
		&user.RegisteredAt,
		&user.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
