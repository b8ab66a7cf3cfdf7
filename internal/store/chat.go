package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/pmpcoach/internal/model"
)

// CreateStudySession starts a new study session for the user.
func (s *Store) CreateStudySession(ctx context.Context, userID, name string) (*model.StudySession, error) {
	ss := &model.StudySession{ID: newID(), UserID: userID, Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO study_sessions (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		ss.ID, ss.UserID, ss.Name, ss.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert study session: %w", err)
	}
	return ss, nil
}

// GetStudySession returns the user's study session, or ErrNotFound.
func (s *Store) GetStudySession(ctx context.Context, userID, id string) (*model.StudySession, error) {
	var ss model.StudySession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at, ended_at FROM study_sessions WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&ss.ID, &ss.UserID, &ss.Name, &ss.CreatedAt, &ss.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// ListStudySessions returns the user's study sessions, newest first.
func (s *Store) ListStudySessions(ctx context.Context, userID string) ([]model.StudySession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at, ended_at FROM study_sessions
		 WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StudySession
	for rows.Next() {
		var ss model.StudySession
		if err := rows.Scan(&ss.ID, &ss.UserID, &ss.Name, &ss.CreatedAt, &ss.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// RenameStudySession changes a study session's name.
func (s *Store) RenameStudySession(ctx context.Context, userID, id, name string) error {
	return s.execOwned(ctx, `UPDATE study_sessions SET name = ? WHERE id = ? AND user_id = ?`, name, id, userID)
}

// TouchStudySession records activity in the study session.
func (s *Store) TouchStudySession(ctx context.Context, userID, id string) error {
	return s.execOwned(ctx, `UPDATE study_sessions SET ended_at = ? WHERE id = ? AND user_id = ?`, s.now(), id, userID)
}

// DeleteStudySession removes a study session with its chats and messages.
func (s *Store) DeleteStudySession(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM study_sessions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete study session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id IN (SELECT id FROM chats WHERE study_session_id = ? AND user_id = ?)`,
		id, userID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chats WHERE study_session_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("delete chats: %w", err)
	}
	return tx.Commit()
}

const chatColumns = `id, user_id, study_session_id, title, mode, created_at, last_active`

// CreateChat inserts a chat, assigning ID and timestamps.
func (s *Store) CreateChat(ctx context.Context, c *model.Chat) error {
	c.ID = newID()
	c.CreatedAt = s.now()
	c.LastActive = c.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.StudySessionID, c.Title, c.Mode, c.CreatedAt, c.LastActive,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat returns the user's chat, or ErrNotFound.
func (s *Store) GetChat(ctx context.Context, userID, id string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// FindChatByMode returns the most recent chat of the given mode in a study
// session, or ErrNotFound.
func (s *Store) FindChatByMode(ctx context.Context, userID, studySessionID, mode string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats
		 WHERE user_id = ? AND study_session_id = ? AND mode = ?
		 ORDER BY last_active DESC LIMIT 1`, userID, studySessionID, mode)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListChats returns the chats of a study session, most recently active
// first.
func (s *Store) ListChats(ctx context.Context, userID, studySessionID string) ([]*model.Chat, error) {
	narrow := func() ([]*model.Chat, error) {
		return s.queryChats(ctx,
			`SELECT `+chatColumns+` FROM chats WHERE user_id = ? AND study_session_id = ? ORDER BY last_active DESC`,
			userID, studySessionID)
	}
	wide := func() ([]*model.Chat, error) {
		return s.queryChats(ctx,
			`SELECT `+chatColumns+` FROM chats WHERE user_id = ? ORDER BY last_active DESC`, userID)
	}
	return listWithFallback(narrow, wide, func(c *model.Chat) bool { return c.StudySessionID == studySessionID })
}

// TouchChat bumps the chat's last activity time.
func (s *Store) TouchChat(ctx context.Context, userID, id string) error {
	return s.execOwned(ctx, `UPDATE chats SET last_active = ? WHERE id = ? AND user_id = ?`, s.now(), id, userID)
}

func (s *Store) queryChats(ctx context.Context, query string, args ...any) ([]*model.Chat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChat(row rowScanner) (*model.Chat, error) {
	var c model.Chat
	if err := row.Scan(&c.ID, &c.UserID, &c.StudySessionID, &c.Title, &c.Mode, &c.CreatedAt, &c.LastActive); err != nil {
		return nil, err
	}
	return &c, nil
}

// AddMessage appends a message to a chat.
func (s *Store) AddMessage(ctx context.Context, m *model.Message) error {
	m.ID = newID()
	m.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.ChatID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the chat log in insertion order.
func (s *Store) ListMessages(ctx context.Context, userID, chatID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, role, content, created_at FROM messages
		 WHERE chat_id = ? AND user_id = ? ORDER BY created_at, rowid`, chatID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) execOwned(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
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
