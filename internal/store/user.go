package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/pmpcoach/internal/model"
)

// ErrUsernameTaken is returned when creating a user whose username exists.
var ErrUsernameTaken = errors.New("username already taken")

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, password_hash, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, u.Username, u.DisplayName, u.PasswordHash, u.Active, s.now(),
	)
	if IsUniqueError(err) {
		return "", ErrUsernameTaken
	}
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return "", fmt.Errorf("insert user: %w", err)
	}
	slog.Info("created user", "id", id, "username", u.Username)
	return id, nil
}

// GetUserByUsername returns a user by username, or nil if none exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

// GetUserByID returns a user by ID, or nil if none exists.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, active, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
