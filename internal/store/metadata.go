package store

import (
	"context"
	"database/sql"
	"errors"
)

// MetaOnboardingSeen marks that the user dismissed the onboarding tour.
const MetaOnboardingSeen = "onboarding_seen"

// SetUserMeta upserts a per-user key-value pair.
func (s *Store) SetUserMeta(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_metadata (user_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID, key, value,
	)
	return err
}

// GetUserMeta returns the value for a per-user key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetUserMeta(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_metadata WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
