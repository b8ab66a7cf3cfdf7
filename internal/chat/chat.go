// Package chat runs tutoring conversations: one turn path for every mode,
// from prompt selection through streaming to the progress signals found
// in the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/llm/prompts"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/store"
)

var (
	// ErrTurnInProgress is returned when the conversation already has a
	// turn streaming.
	ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")
	// ErrEmptyHistory is returned when there is no user message to answer.
	ErrEmptyHistory = errors.New("conversation must end with a user message")
)

// Streamer streams a reply from the LLM.
type Streamer interface {
	Stream(ctx context.Context, system string, history []model.ChatMessage, onChunk func(string) error) (string, error)
}

// Store persists chats and their messages.
type Store interface {
	GetStudySession(ctx context.Context, userID, id string) (*model.StudySession, error)
	TouchStudySession(ctx context.Context, userID, id string) error
	CreateChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, userID, id string) (*model.Chat, error)
	FindChatByMode(ctx context.Context, userID, studySessionID, mode string) (*model.Chat, error)
	TouchChat(ctx context.Context, userID, id string) error
	AddMessage(ctx context.Context, m *model.Message) error
}

// ProgressRecorder receives the signals detected in replies.
type ProgressRecorder interface {
	RecordScore(ctx context.Context, userID string, correct, total int) (*model.Progress, error)
	MarkLevelByName(ctx context.Context, userID, name string) (string, error)
}

// Request is one turn as sent by a client.
type Request struct {
	Messages []model.ChatMessage `json:"messages"`
	Mode     string              `json:"mode"`
	ChatID   string              `json:"chat_id,omitempty"`
}

// Result is a finished turn.
type Result struct {
	Text    string   `json:"-"`
	Body    string   `json:"body"`
	Options []string `json:"options,omitempty"`
	Signals Signals  `json:"signals"`
	ChatID  string   `json:"chat_id,omitempty"`
}

// Controller executes turns. At most one turn per conversation key runs
// at a time.
type Controller struct {
	llm      Streamer
	store    Store
	progress ProgressRecorder

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewController creates a controller. store and progress may be nil, in
// which case turns are neither persisted nor recorded.
func NewController(llm Streamer, st Store, progress ProgressRecorder) *Controller {
	return &Controller{
		llm:      llm,
		store:    st,
		progress: progress,
		inflight: make(map[string]struct{}),
	}
}

// StreamTurn sends history under the system prompt for mode and passes
// every chunk to sink. It returns the full reply.
func (c *Controller) StreamTurn(ctx context.Context, key, mode string, history []model.ChatMessage, sink func(string) error) (string, error) {
	if !c.acquire(key) {
		return "", ErrTurnInProgress
	}
	defer c.release(key)
	return c.stream(ctx, mode, history, sink)
}

func (c *Controller) stream(ctx context.Context, mode string, history []model.ChatMessage, sink func(string) error) (string, error) {
	sel, err := prompts.Select(mode)
	if err != nil {
		return "", err
	}
	return c.llm.Stream(ctx, sel.System, history, sink)
}

// Turn runs a full turn for user: it stores the user message when the
// request names a chat, streams the reply through sink, stores the reply
// and applies the detected signals to the user's progress.
func (c *Controller) Turn(ctx context.Context, user *model.User, req Request, sink func(string) error) (*Result, error) {
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Role != model.RoleUser {
		return nil, ErrEmptyHistory
	}
	last := req.Messages[len(req.Messages)-1]

	var chat *model.Chat
	if req.ChatID != "" && c.store != nil {
		var err error
		if chat, err = c.store.GetChat(ctx, user.ID, req.ChatID); err != nil {
			return nil, fmt.Errorf("get chat: %w", err)
		}
		if req.Mode == "" {
			req.Mode = chat.Mode
		}
	}

	key := user.ID + "/" + req.Mode
	if chat != nil {
		key = user.ID + "/" + chat.ID
	}
	if !c.acquire(key) {
		return nil, ErrTurnInProgress
	}
	defer c.release(key)

	// Saving outlives a client that disconnects once the reply is complete.
	saveCtx := context.WithoutCancel(ctx)
	if chat != nil && !prompts.IsStartMessage(last.Content) {
		c.save(saveCtx, user.ID, chat, model.RoleUser, last.Content)
	}

	text, err := c.stream(ctx, req.Mode, req.Messages, sink)
	if err != nil {
		return nil, err
	}

	res := &Result{Text: text, Signals: DetectSignals(req.Mode, text)}
	res.Body, res.Options = ParseOptions(text)
	if chat != nil {
		res.ChatID = chat.ID
		c.save(saveCtx, user.ID, chat, model.RoleAssistant, text)
		if err := c.store.TouchChat(saveCtx, user.ID, chat.ID); err != nil {
			slog.Warn("failed to touch chat", "chat", chat.ID, "error", err)
		}
		if chat.StudySessionID != "" {
			if err := c.store.TouchStudySession(saveCtx, user.ID, chat.StudySessionID); err != nil {
				slog.Warn("failed to touch study session", "study_session", chat.StudySessionID, "error", err)
			}
		}
	}
	c.apply(saveCtx, user.ID, &res.Signals)
	return res, nil
}

// OpenChat returns the chat for mode in the study session, creating it
// with a localized title when there is none yet.
func (c *Controller) OpenChat(ctx context.Context, userID, studySessionID, mode string) (*model.Chat, error) {
	if _, err := c.store.GetStudySession(ctx, userID, studySessionID); err != nil {
		return nil, fmt.Errorf("get study session: %w", err)
	}
	if existing, err := c.store.FindChatByMode(ctx, userID, studySessionID, mode); err == nil {
		return existing, nil
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("find chat: %w", err)
	}

	chat := &model.Chat{
		UserID:         userID,
		StudySessionID: studySessionID,
		Title:          Title(ctx, mode),
		Mode:           mode,
	}
	if err := c.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// Title is the localized title for a chat in mode.
func Title(ctx context.Context, mode string) string {
	m, topic := prompts.Parse(mode)
	if m.Leveled {
		return i18n.Td(ctx, m.TitleID, map[string]any{"Topic": topic})
	}
	return i18n.T(ctx, m.TitleID)
}

func (c *Controller) save(ctx context.Context, userID string, chat *model.Chat, role model.Role, content string) {
	msg := &model.Message{UserID: userID, ChatID: chat.ID, Role: role, Content: content}
	if err := c.store.AddMessage(ctx, msg); err != nil {
		slog.Error("failed to save chat message", "chat", chat.ID, "role", role, "error", err)
	}
}

// apply records sig in the progress store. Failures are logged; the turn
// itself already succeeded.
func (c *Controller) apply(ctx context.Context, userID string, sig *Signals) {
	if c.progress == nil {
		return
	}
	if sig.HasScore {
		if _, err := c.progress.RecordScore(ctx, userID, sig.Correct, sig.Total); err != nil {
			slog.Error("failed to record chat score", "user", userID, "error", err)
		}
	}
	if sig.LevelPassed {
		id, err := c.progress.MarkLevelByName(ctx, userID, sig.LevelTopic)
		if err != nil {
			slog.Warn("level pass did not match a level", "topic", sig.LevelTopic, "error", err)
			return
		}
		sig.LevelID = id
		slog.Info("level completed", "user", userID, "level", id)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (c *Controller) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Controller) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}
