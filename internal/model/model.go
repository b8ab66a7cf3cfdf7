package model

import (
	"context"
	"time"
)

// User represents a student account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Role represents a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one turn of conversation history as the UI sends it.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SessionStatus represents the status of an exam session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// Option is one answer choice of a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a generated multiple-choice item.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []Option `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Domain        string   `json:"domain"`
}

// HasOption reports whether id is one of the question's option ids.
func (q Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// ExamSession is one attempt at a simulated exam.
type ExamSession struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user"`
	Status         SessionStatus     `json:"status"`
	Type           string            `json:"type"`
	Topic          string            `json:"topic"`
	TotalQuestions int               `json:"total_questions"`
	CurrentIndex   int               `json:"current_index"`
	Questions      []Question        `json:"questions"`
	Answers        map[string]string `json:"answers"`
	Score          int               `json:"score"`
	Created        time.Time         `json:"created"`
	Updated        time.Time         `json:"updated"`
}

// CurrentQuestion returns the question at the current index, if it has
// been generated yet.
func (s *ExamSession) CurrentQuestion() (Question, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// Clone returns a deep copy so callers can mutate without touching the
// original.
func (s *ExamSession) Clone() *ExamSession {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]Option(nil), q.Options...)
		c.Questions[i] = q
	}
	c.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}

// PassPercent is the minimum percentage of correct answers for a pass.
const PassPercent = 70

// Passed reports whether score out of total reaches PassPercent. The
// comparison is done in integers so 7/10 is exactly a pass.
func Passed(score, total int) bool {
	if total <= 0 {
		return false
	}
	return score*100 >= PassPercent*total
}

// Percentage returns score/total as a rounded percentage.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return (score*200 + total) / (2 * total)
}

// Stats holds aggregate answer accuracy for a user.
type Stats struct {
	CorrectAnswers int    `json:"correct_answers"`
	TotalQuestions int    `json:"total_questions"`
	Accuracy       string `json:"accuracy"`
}

// Progress is a user's persisted level map state.
type Progress struct {
	UserID          string    `json:"user"`
	CompletedLevels []string  `json:"completed_levels"`
	Stats           Stats     `json:"stats"`
	Updated         time.Time `json:"updated"`
}

// StudySession groups the chats of one sitting.
type StudySession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Chat is one conversation in a given mode.
type Chat struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user"`
	StudySessionID string    `json:"study_session,omitempty"`
	Title          string    `json:"title"`
	Mode           string    `json:"mode"`
	CreatedAt      time.Time `json:"created"`
	LastActive     time.Time `json:"last_active"`
}

// Message is a persisted chat turn.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user"`
	ChatID    string    `json:"chat"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	SecureCookies  bool
	AllowedOrigins []string // websocket and CORS origins
	RateLimit      int      // LLM requests per user per second, 0 disables
	RateBurst      int
}
