package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/pmpcoach/internal/model"
)

// GetProgress returns the user's progress record, or ErrNotFound.
func (s *Store) GetProgress(ctx context.Context, userID string) (*model.Progress, error) {
	return getProgress(ctx, s.db, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProgress(ctx context.Context, q queryRower, userID string) (*model.Progress, error) {
	var (
		p      model.Progress
		levels string
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, completed_levels, correct_answers, total_questions, accuracy, updated_at
		 FROM user_progress WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &levels, &p.Stats.CorrectAnswers, &p.Stats.TotalQuestions, &p.Stats.Accuracy, &p.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(levels), &p.CompletedLevels); err != nil {
		return nil, fmt.Errorf("decode completed levels: %w", err)
	}
	if p.CompletedLevels == nil {
		p.CompletedLevels = []string{}
	}
	return &p, nil
}

// UpdateProgress reads the user's progress (a zero record when none exists
// yet), lets fn mutate it and writes it back in one transaction. When fn
// reports no change nothing is written.
func (s *Store) UpdateProgress(ctx context.Context, userID string, fn func(p *model.Progress) (bool, error)) (*model.Progress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := getProgress(ctx, tx, userID)
	if errors.Is(err, ErrNotFound) {
		p = &model.Progress{UserID: userID, CompletedLevels: []string{}, Stats: model.Stats{Accuracy: "0%"}}
	} else if err != nil {
		return nil, err
	}

	changed, err := fn(p)
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	levels, err := json.Marshal(p.CompletedLevels)
	if err != nil {
		return nil, fmt.Errorf("encode completed levels: %w", err)
	}
	p.Updated = s.now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_progress (user_id, completed_levels, correct_answers, total_questions, accuracy, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			completed_levels = excluded.completed_levels,
			correct_answers = excluded.correct_answers,
			total_questions = excluded.total_questions,
			accuracy = excluded.accuracy,
			updated_at = excluded.updated_at`,
		userID, string(levels), p.Stats.CorrectAnswers, p.Stats.TotalQuestions, p.Stats.Accuracy, p.Updated,
	)
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	return p, tx.Commit()
}
