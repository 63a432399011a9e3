package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User is an account with a credit balance. One credit buys one check.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser inserts a new user with an initial credit balance.
func (db *DB) CreateUser(ctx context.Context, email string, credits int) (User, error) {
	u := User{
		ID:        uuid.New(),
		Email:     email,
		Credits:   credits,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, email, credits, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.Credits, u.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, credits, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Credits, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// AddCredits increases a user's balance.
func (db *DB) AddCredits(ctx context.Context, id uuid.UUID, amount int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET credits = credits + $1 WHERE id = $2`, amount, id,
	)
	if err != nil {
		return fmt.Errorf("storage: add credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}
