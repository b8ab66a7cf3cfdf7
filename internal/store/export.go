package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/pmpcoach/internal/model"
)

// ExportAttempts builds export data for every exam session, optionally
// limited to one username, oldest first.
func (s *Store) ExportAttempts(ctx context.Context, username string) ([]model.AttemptResult, error) {
	query := `SELECT e.id, e.user_id, e.status, e.type, e.topic, e.total_questions, e.current_index,
		e.questions, e.answers, e.score, e.created_at, e.updated_at, u.username, u.display_name
		FROM exam_sessions e JOIN users u ON u.id = e.user_id`
	var args []any
	if username != "" {
		query += ` WHERE u.username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY e.created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var results []model.AttemptResult
	for rows.Next() {
		var uname, displayName string
		sess, err := scanExamSession(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &uname, &displayName)...)
		}))
		if err != nil {
			return nil, err
		}
		r := model.AttemptResult{
			SessionID:      sess.ID,
			Username:       uname,
			DisplayName:    displayName,
			Topic:          sess.Topic,
			Type:           sess.Type,
			Status:         sess.Status,
			TotalQuestions: sess.TotalQuestions,
			Answered:       len(sess.Answers),
			Score:          sess.Score,
			Created:        sess.Created,
			Updated:        sess.Updated,
		}
		if sess.Status == model.StatusCompleted {
			r.Percentage = model.Percentage(sess.Score, sess.TotalQuestions)
			r.Passed = model.Passed(sess.Score, sess.TotalQuestions)
			r.Domains = domainScores(sess)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

func domainScores(sess *model.ExamSession) []model.DomainScore {
	index := map[string]int{}
	var out []model.DomainScore
	for _, q := range sess.Questions {
		ans, ok := sess.Answers[q.ID]
		if !ok {
			continue
		}
		i, seen := index[q.Domain]
		if !seen {
			i = len(out)
			index[q.Domain] = i
			out = append(out, model.DomainScore{Domain: q.Domain})
		}
		out[i].Total++
		if ans == q.CorrectAnswer {
			out[i].Correct++
		}
	}
	return out
}
