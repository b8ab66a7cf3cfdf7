package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/pmpcoach/internal/model"
)

const examColumns = `id, user_id, status, type, topic, total_questions, current_index,
	questions, answers, score, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateExamSession inserts a new session, assigning ID and timestamps.
func (s *Store) CreateExamSession(ctx context.Context, sess *model.ExamSession) error {
	if sess.ID == "" {
		sess.ID = newID()
	}
	now := s.now()
	sess.Created, sess.Updated = now, now
	qs, as, err := marshalExamState(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exam_sessions (`+examColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Status, sess.Type, sess.Topic, sess.TotalQuestions, sess.CurrentIndex,
		qs, as, sess.Score, sess.Created, sess.Updated,
	)
	if err != nil {
		return fmt.Errorf("insert exam session: %w", err)
	}
	return nil
}

// GetExamSession returns the user's session, or ErrNotFound.
func (s *Store) GetExamSession(ctx context.Context, userID, id string) (*model.ExamSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+examColumns+` FROM exam_sessions WHERE id = ? AND user_id = ?`, id, userID)
	sess, err := scanExamSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// UpdateExamSession writes the whole session back. The write is scoped to
// the owner; ErrNotFound means the session was deleted meanwhile.
func (s *Store) UpdateExamSession(ctx context.Context, sess *model.ExamSession) error {
	qs, as, err := marshalExamState(sess)
	if err != nil {
		return err
	}
	updated := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE exam_sessions
		 SET status = ?, current_index = ?, questions = ?, answers = ?, score = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		sess.Status, sess.CurrentIndex, qs, as, sess.Score, updated, sess.ID, sess.UserID,
	)
	if err != nil {
		return fmt.Errorf("update exam session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	sess.Updated = updated
	return nil
}

// DeleteExamSession removes the user's session.
func (s *Store) DeleteExamSession(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exam_sessions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete exam session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExamSessions returns the user's sessions, newest first. A non-empty
// status narrows the list.
func (s *Store) ListExamSessions(ctx context.Context, userID string, status model.SessionStatus) ([]*model.ExamSession, error) {
	wide := func() ([]*model.ExamSession, error) {
		return s.queryExamSessions(ctx,
			`SELECT `+examColumns+` FROM exam_sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	}
	if status == "" {
		return wide()
	}
	narrow := func() ([]*model.ExamSession, error) {
		return s.queryExamSessions(ctx,
			`SELECT `+examColumns+` FROM exam_sessions WHERE user_id = ? AND status = ? ORDER BY created_at DESC`,
			userID, status)
	}
	return listWithFallback(narrow, wide, func(e *model.ExamSession) bool { return e.Status == status })
}

func (s *Store) queryExamSessions(ctx context.Context, query string, args ...any) ([]*model.ExamSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ExamSession
	for rows.Next() {
		sess, err := scanExamSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanExamSession(row rowScanner) (*model.ExamSession, error) {
	var (
		sess   model.ExamSession
		qs, as string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.Type, &sess.Topic, &sess.TotalQuestions,
		&sess.CurrentIndex, &qs, &as, &sess.Score, &sess.Created, &sess.Updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(qs), &sess.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of %s: %w", sess.ID, err)
	}
	if err := json.Unmarshal([]byte(as), &sess.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", sess.ID, err)
	}
	if sess.Questions == nil {
		sess.Questions = []model.Question{}
	}
	if sess.Answers == nil {
		sess.Answers = map[string]string{}
	}
	return &sess, nil
}

func marshalExamState(sess *model.ExamSession) (string, string, error) {
	questions := sess.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	answers := sess.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	qs, err := json.Marshal(questions)
	if err != nil {
		return "", "", fmt.Errorf("encode questions: %w", err)
	}
	as, err := json.Marshal(answers)
	if err != nil {
		return "", "", fmt.Errorf("encode answers: %w", err)
	}
	return string(qs), string(as), nil
}
