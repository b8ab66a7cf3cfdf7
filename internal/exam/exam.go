// Package exam runs simulated exam attempts: it creates sessions, keeps a
// question generated ahead of the student, records answers and scores the
// attempt when the last question is answered.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/store"
)

// MaxQuestions is the length of a full exam.
const MaxQuestions = 180

const defaultBufferTimeout = 2 * time.Minute

var (
	ErrNotFound         = errors.New("exam session not found")
	ErrCompleted        = errors.New("exam session already completed")
	ErrQuestionNotReady = errors.New("question not generated yet")
	ErrInvalidOption    = errors.New("option not offered by the current question")
	ErrInvalidTotal     = errors.New("total questions out of range")
	ErrInit             = errors.New("could not generate the first question")
	ErrClosed           = errors.New("orchestrator closed")
)

// Store persists exam sessions.
type Store interface {
	CreateExamSession(ctx context.Context, sess *model.ExamSession) error
	GetExamSession(ctx context.Context, userID, id string) (*model.ExamSession, error)
	UpdateExamSession(ctx context.Context, sess *model.ExamSession) error
	DeleteExamSession(ctx context.Context, userID, id string) error
	ListExamSessions(ctx context.Context, userID string, status model.SessionStatus) ([]*model.ExamSession, error)
}

// Generator produces new questions.
type Generator interface {
	Generate(ctx context.Context, topic string, count int, existing []string) ([]model.Question, error)
}

// ProgressRecorder receives finished attempts.
type ProgressRecorder interface {
	RecordScore(ctx context.Context, userID string, correct, total int) (*model.Progress, error)
	MarkLevelByName(ctx context.Context, userID, name string) (string, error)
}

// Outcome is the result of a completed attempt.
type Outcome struct {
	Score      int  `json:"score"`
	Total      int  `json:"total"`
	Percentage int  `json:"percentage"`
	Passed     bool `json:"passed"`
	// LevelID is set when the pass completed the level named by the topic.
	LevelID string `json:"level_id,omitempty"`
}

// AnswerResult is returned by Answer.
type AnswerResult struct {
	Session  *model.ExamSession `json:"-"`
	Correct  bool               `json:"correct"`
	Question model.Question     `json:"question"`
	Outcome  *Outcome           `json:"outcome,omitempty"`
}

// Orchestrator owns the exam session lifecycle. Mutations of one session
// are serialized; question generation runs outside the lock.
type Orchestrator struct {
	store    Store
	gen      Generator
	progress ProgressRecorder

	locks    *keyedMutex
	inflight *inFlight

	bufferTimeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBufferTimeout bounds a background question generation.
func WithBufferTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.bufferTimeout = d }
}

// New creates an orchestrator. progress may be nil.
func New(st Store, gen Generator, progress ProgressRecorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         st,
		gen:           gen,
		progress:      progress,
		locks:         newKeyedMutex(),
		inflight:      newInFlight(),
		bufferTimeout: defaultBufferTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start resumes sessionID when given, otherwise creates a session of
// total questions on topic and generates its first question before
// returning.
func (o *Orchestrator) Start(ctx context.Context, owner, sessionID string, total int, topic string) (*model.ExamSession, error) {
	if sessionID != "" {
		sess, err := o.load(ctx, owner, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status == model.StatusInProgress {
			o.scheduleBuffer(owner, sess.ID)
		}
		return sess, nil
	}

	if total < 1 || total > MaxQuestions {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	sess := &model.ExamSession{
		UserID:         owner,
		Status:         model.StatusInProgress,
		Type:           strconv.Itoa(total) + "_questions",
		Topic:          topic,
		TotalQuestions: total,
		Questions:      []model.Question{},
		Answers:        map[string]string{},
	}
	if err := o.store.CreateExamSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create exam session: %w", err)
	}

	qs, err := o.gen.Generate(ctx, topic, 1, nil)
	if err == nil && len(qs) == 0 {
		err = errors.New("generator returned no questions")
	}
	if err != nil {
		if derr := o.store.DeleteExamSession(context.WithoutCancel(ctx), owner, sess.ID); derr != nil {
			slog.Error("failed to remove empty exam session", "session", sess.ID, "error", derr)
		}
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	sess.Questions = append(sess.Questions, rekey(qs[0], sess.Questions))
	if err := o.store.UpdateExamSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save first question: %w", err)
	}
	slog.Info("exam session started", "session", sess.ID, "user", owner, "total", total, "topic", topic)
	o.scheduleBuffer(owner, sess.ID)
	return sess, nil
}

// Resume loads an existing session. In-progress sessions continue at the
// current index; completed ones are returned for review.
func (o *Orchestrator) Resume(ctx context.Context, owner, sessionID string) (*model.ExamSession, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	return o.Start(ctx, owner, sessionID, 0, "")
}

// List returns the owner's sessions, newest first.
func (o *Orchestrator) List(ctx context.Context, owner string) ([]*model.ExamSession, error) {
	return o.store.ListExamSessions(ctx, owner, "")
}

// Buffer generates one more question when the student has caught up
// with the generated ones. A call while another generation for the same
// session runs returns at once; that generation schedules another round
// if the student is still caught up once its question is saved.
// Generation failures are logged, not returned; a result for a session
// deleted or completed meanwhile is dropped.
func (o *Orchestrator) Buffer(ctx context.Context, owner, sessionID string) error {
	if !o.inflight.TryAcquire(sessionID) {
		return nil
	}
	more, err := o.bufferOne(ctx, owner, sessionID)
	o.inflight.Release(sessionID)
	if more {
		o.scheduleBuffer(owner, sessionID)
	}
	return err
}

// bufferOne appends at most one generated question and reports whether
// the session still needs another.
func (o *Orchestrator) bufferOne(ctx context.Context, owner, sessionID string) (bool, error) {
	sess, err := o.load(ctx, owner, sessionID)
	if err != nil {
		return false, err
	}
	if !needsQuestion(sess) {
		return false, nil
	}

	existing := make([]string, len(sess.Questions))
	for i, q := range sess.Questions {
		existing[i] = q.Text
	}
	qs, err := o.gen.Generate(ctx, sess.Topic, 1, existing)
	if err != nil {
		slog.Warn("question buffer generation failed", "session", sessionID, "error", err)
		return false, nil
	}
	if len(qs) == 0 {
		return false, nil
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	cur, err := o.store.GetExamSession(ctx, owner, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("dropping question for deleted session", "session", sessionID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reload exam session: %w", err)
	}
	if cur.Status != model.StatusInProgress || len(cur.Questions) >= cur.TotalQuestions {
		return false, nil
	}
	cur.Questions = append(cur.Questions, rekey(qs[0], cur.Questions))
	if err := o.store.UpdateExamSession(ctx, cur); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("save buffered question: %w", err)
	}
	return needsQuestion(cur), nil
}

// Answer records optionID for the current question. The change is
// persisted before the result is returned; on a write failure the stored
// session is unchanged. Answering the last question completes the
// session and reports the outcome.
func (o *Orchestrator) Answer(ctx context.Context, owner, sessionID, optionID string) (*AnswerResult, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	sess, err := o.load(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.StatusCompleted {
		return nil, ErrCompleted
	}
	q, ok := sess.CurrentQuestion()
	if !ok {
		return nil, ErrQuestionNotReady
	}
	if !q.HasOption(optionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOption, optionID)
	}

	next := sess.Clone()
	next.Answers[q.ID] = optionID
	next.CurrentIndex++

	var outcome *Outcome
	if next.CurrentIndex >= next.TotalQuestions {
		next.Score = Score(next)
		next.Status = model.StatusCompleted
		outcome = &Outcome{
			Score:      next.Score,
			Total:      next.TotalQuestions,
			Percentage: model.Percentage(next.Score, next.TotalQuestions),
			Passed:     model.Passed(next.Score, next.TotalQuestions),
		}
	}

	if err := o.store.UpdateExamSession(ctx, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("save answer: %w", err)
	}

	if outcome != nil {
		slog.Info("exam session completed", "session", sessionID, "user", owner,
			"score", outcome.Score, "total", outcome.Total, "passed", outcome.Passed)
		outcome.LevelID = o.recordOutcome(ctx, next, outcome)
	} else {
		o.scheduleBuffer(owner, sessionID)
	}

	return &AnswerResult{
		Session:  next,
		Correct:  optionID == q.CorrectAnswer,
		Question: q,
		Outcome:  outcome,
	}, nil
}

// Cancel deletes the session whatever its status.
func (o *Orchestrator) Cancel(ctx context.Context, owner, sessionID string) error {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	if err := o.store.DeleteExamSession(ctx, owner, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("cancel exam session: %w", err)
	}
	slog.Info("exam session cancelled", "session", sessionID, "user", owner)
	return nil
}

// Close stops scheduling background work and waits for running buffer
// generations to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) scheduleBuffer(owner, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.bufferTimeout)
		defer cancel()
		if err := o.Buffer(ctx, owner, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("question buffer failed", "session", sessionID, "error", err)
		}
	})
}

// recordOutcome feeds the finished attempt into the progress store and
// returns the level id it completed, if any. Failures are only logged;
// the attempt itself is already saved.
func (o *Orchestrator) recordOutcome(ctx context.Context, sess *model.ExamSession, out *Outcome) string {
	if o.progress == nil {
		return ""
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := o.progress.RecordScore(ctx, sess.UserID, out.Score, out.Total); err != nil {
		slog.Error("failed to record exam score", "session", sess.ID, "error", err)
	}
	if !out.Passed || sess.Topic == "" {
		return ""
	}
	id, err := o.progress.MarkLevelByName(ctx, sess.UserID, sess.Topic)
	if err != nil {
		slog.Debug("exam topic did not complete a level", "session", sess.ID, "topic", sess.Topic, "error", err)
		return ""
	}
	return id
}

func (o *Orchestrator) load(ctx context.Context, owner, sessionID string) (*model.ExamSession, error) {
	sess, err := o.store.GetExamSession(ctx, owner, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam session: %w", err)
	}
	return sess, nil
}

// needsQuestion reports whether the student has no generated question
// left after the current one while the exam still needs more.
func needsQuestion(sess *model.ExamSession) bool {
	if sess.Status != model.StatusInProgress {
		return false
	}
	remaining := len(sess.Questions) - (sess.CurrentIndex + 1)
	needed := sess.TotalQuestions - len(sess.Questions)
	return remaining < 1 && needed > 0
}

// Score counts answers matching the correct option.
func Score(sess *model.ExamSession) int {
	score := 0
	for _, q := range sess.Questions {
		if a, ok := sess.Answers[q.ID]; ok && a == q.CorrectAnswer {
			score++
		}
	}
	return score
}

// rekey gives q a fresh id when it is empty or already used in the
// session, so answers stay unambiguous.
func rekey(q model.Question, existing []model.Question) model.Question {
	if q.ID != "" {
		clash := false
		for _, e := range existing {
			if e.ID == q.ID {
				clash = true
				break
			}
		}
		if !clash {
			return q
		}
	}
	q.ID = uuid.New().String()[:8]
	return q
}
