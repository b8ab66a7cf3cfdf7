package exam

import (
	"time"

	"github.com/pavelanni/pmpcoach/internal/model"
)

// QuestionView is a question as shown to the student. The correct answer
// and explanation are only filled once the question has been answered.
type QuestionView struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Options       []model.Option `json:"options"`
	Domain        string         `json:"domain"`
	Answer        string         `json:"answer,omitempty"`
	CorrectAnswer string         `json:"correctAnswer,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
}

// SessionView is a session as returned to its owner.
type SessionView struct {
	ID             string              `json:"id"`
	Status         model.SessionStatus `json:"status"`
	Type           string              `json:"type"`
	Topic          string              `json:"topic"`
	TotalQuestions int                 `json:"total_questions"`
	CurrentIndex   int                 `json:"current_index"`
	Generated      int                 `json:"generated"`
	Questions      []QuestionView      `json:"questions"`
	Score          int                 `json:"score"`
	Outcome        *Outcome            `json:"outcome,omitempty"`
	Created        time.Time           `json:"created"`
	Updated        time.Time           `json:"updated"`
}

// View renders sess for its owner. Questions the student has not answered
// yet keep their answer hidden.
func View(sess *model.ExamSession) *SessionView {
	v := &SessionView{
		ID:             sess.ID,
		Status:         sess.Status,
		Type:           sess.Type,
		Topic:          sess.Topic,
		TotalQuestions: sess.TotalQuestions,
		CurrentIndex:   sess.CurrentIndex,
		Generated:      len(sess.Questions),
		Questions:      make([]QuestionView, 0, len(sess.Questions)),
		Score:          sess.Score,
		Created:        sess.Created,
		Updated:        sess.Updated,
	}
	for _, q := range sess.Questions {
		qv := QuestionView{ID: q.ID, Text: q.Text, Options: q.Options, Domain: q.Domain}
		if a, ok := sess.Answers[q.ID]; ok || sess.Status == model.StatusCompleted {
			qv.Answer = a
			qv.CorrectAnswer = q.CorrectAnswer
			qv.Explanation = q.Explanation
		}
		v.Questions = append(v.Questions, qv)
	}
	if sess.Status == model.StatusCompleted {
		v.Outcome = &Outcome{
			Score:      sess.Score,
			Total:      sess.TotalQuestions,
			Percentage: model.Percentage(sess.Score, sess.TotalQuestions),
			Passed:     model.Passed(sess.Score, sess.TotalQuestions),
		}
	}
	return v
}
