package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/store"
)

// fakeStreamer replies with chunks. When release is set it blocks after
// signalling started.
type fakeStreamer struct {
	chunks  []string
	err     error
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	system string
	sent   []model.ChatMessage
}

func (f *fakeStreamer) Stream(ctx context.Context, system string, history []model.ChatMessage, onChunk func(string) error) (string, error) {
	f.mu.Lock()
	f.system, f.sent = system, history
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	var sb strings.Builder
	for _, c := range f.chunks {
		sb.WriteString(c)
		if err := onChunk(c); err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

type fakeProgress struct {
	mu     sync.Mutex
	scores [][2]int
	marked []string
}

func (p *fakeProgress) RecordScore(_ context.Context, _ string, correct, total int) (*model.Progress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores = append(p.scores, [2]int{correct, total})
	return &model.Progress{}, nil
}

func (p *fakeProgress) MarkLevelByName(_ context.Context, _, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name != "Gestión de Riesgos" {
		return "", errors.New("unknown level")
	}
	p.marked = append(p.marked, name)
	return "5-10", nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	if err := i18n.Init("es"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func userMsg(s string) model.ChatMessage {
	return model.ChatMessage{Role: model.RoleUser, Content: s}
}

func TestTurnPersistsAndAppliesSignals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := &model.User{ID: "u1"}
	llm := &fakeStreamer{chunks: []string{"Puntuación (3/3). ", "PASASTE EL NIVEL\n", "---OPTIONS---\n[\"Volver al Mapa\"]"}}
	prog := &fakeProgress{}
	c := NewController(llm, st, prog)

	ss, err := st.CreateStudySession(ctx, "u1", "s")
	if err != nil {
		t.Fatalf("CreateStudySession: %v", err)
	}
	chat, err := c.OpenChat(ctx, "u1", ss.ID, "level_exam:Gestión de Riesgos")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if chat.Title != "Examen: Gestión de Riesgos" {
		t.Errorf("title = %q", chat.Title)
	}

	var streamed []string
	res, err := c.Turn(ctx, user, Request{
		Messages: []model.ChatMessage{userMsg("START_LEVEL_EXAM: Gestión de Riesgos")},
		ChatID:   chat.ID,
	}, func(s string) error {
		streamed = append(streamed, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if len(streamed) != 3 {
		t.Errorf("streamed %d chunks, want 3", len(streamed))
	}
	if !strings.Contains(llm.system, "Gestión de Riesgos") {
		t.Error("system prompt does not mention the level topic")
	}
	if res.Body != "Puntuación (3/3). PASASTE EL NIVEL" || len(res.Options) != 1 {
		t.Errorf("body = %q options = %v", res.Body, res.Options)
	}
	if !res.Signals.LevelPassed || res.Signals.LevelID != "5-10" {
		t.Errorf("signals = %+v", res.Signals)
	}
	if len(prog.scores) != 1 || prog.scores[0] != [2]int{3, 3} {
		t.Errorf("scores = %v", prog.scores)
	}

	// The start command is not stored; the reply is.
	msgs, err := st.ListMessages(ctx, "u1", chat.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != model.RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}

	got, _ := st.GetStudySession(ctx, "u1", ss.ID)
	if got.EndedAt == nil {
		t.Error("study session not touched")
	}
}

func TestTurnStoresUserMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := NewController(&fakeStreamer{chunks: []string{"Hola"}}, st, nil)

	ss, _ := st.CreateStudySession(ctx, "u1", "s")
	chat, err := c.OpenChat(ctx, "u1", ss.ID, "socratic")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if _, err := c.Turn(ctx, &model.User{ID: "u1"}, Request{
		Messages: []model.ChatMessage{userMsg("¿Qué es un riesgo?")},
		ChatID:   chat.ID,
	}, func(string) error { return nil }); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	msgs, _ := st.ListMessages(ctx, "u1", chat.ID)
	if len(msgs) != 2 || msgs[0].Role != model.RoleUser || msgs[1].Content != "Hola" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestTurnRejectsBadRequests(t *testing.T) {
	st := newTestStore(t)
	c := NewController(&fakeStreamer{}, st, nil)
	ctx := context.Background()
	user := &model.User{ID: "u1"}
	noop := func(string) error { return nil }

	if _, err := c.Turn(ctx, user, Request{Mode: "standard"}, noop); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("empty history err = %v", err)
	}
	assistantLast := Request{Mode: "standard", Messages: []model.ChatMessage{{Role: model.RoleAssistant, Content: "x"}}}
	if _, err := c.Turn(ctx, user, assistantLast, noop); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("assistant-last err = %v", err)
	}
	unknownChat := Request{ChatID: "nope", Messages: []model.ChatMessage{userMsg("hola")}}
	if _, err := c.Turn(ctx, user, unknownChat, noop); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown chat err = %v", err)
	}
}

func TestStreamTurnInProgress(t *testing.T) {
	st := newTestStore(t)
	llm := &fakeStreamer{chunks: []string{"ok"}, started: make(chan struct{}, 2), release: make(chan struct{})}
	c := NewController(llm, st, nil)
	ctx := context.Background()
	noop := func(string) error { return nil }
	history := []model.ChatMessage{userMsg("hola")}

	done := make(chan error, 1)
	go func() {
		_, err := c.StreamTurn(ctx, "u1/standard", "standard", history, noop)
		done <- err
	}()
	<-llm.started

	if _, err := c.StreamTurn(ctx, "u1/standard", "standard", history, noop); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("concurrent turn err = %v, want ErrTurnInProgress", err)
	}
	close(llm.release)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}

	// The key is free again once the first turn ends.
	if _, err := c.StreamTurn(ctx, "u1/standard", "standard", history, noop); err != nil {
		t.Errorf("turn after release: %v", err)
	}
}

func TestTurnStreamError(t *testing.T) {
	st := newTestStore(t)
	boom := errors.New("llm down")
	prog := &fakeProgress{}
	c := NewController(&fakeStreamer{err: boom}, st, prog)

	_, err := c.Turn(context.Background(), &model.User{ID: "u1"}, Request{
		Mode:     "quiz",
		Messages: []model.ChatMessage{userMsg("START_QUIZ")},
	}, func(string) error { return nil })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want stream error", err)
	}
	if len(prog.scores) != 0 {
		t.Error("failed turn recorded a score")
	}
}

func TestOpenChatReusesMode(t *testing.T) {
	st := newTestStore(t)
	c := NewController(&fakeStreamer{}, st, nil)
	ctx := context.Background()

	ss, _ := st.CreateStudySession(ctx, "u1", "s")
	first, err := c.OpenChat(ctx, "u1", ss.ID, "quiz")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if first.Title != "Examen Rápido" {
		t.Errorf("title = %q", first.Title)
	}
	again, err := c.OpenChat(ctx, "u1", ss.ID, "quiz")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if again.ID != first.ID {
		t.Error("second open created a new chat")
	}
	if _, err := c.OpenChat(ctx, "u2", ss.ID, "quiz"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("other user err = %v, want ErrNotFound", err)
	}
}

func TestTitle(t *testing.T) {
	newTestStore(t)
	tests := map[string]string{
		"":                          "Nuevo Chat",
		"unknown":                   "Nuevo Chat",
		"boss_risk":                 "VS The Risker",
		"eli5":                      "Explícamelo como a un niño",
		"level_lesson:Riesgo":       "Lección: Riesgo",
		"level_oracle":              "Oráculo: General",
		"level_practice:Tarea 1: X": "Entrenamiento: Tarea 1: X",
	}
	for mode, want := range tests {
		if got := Title(context.Background(), mode); got != want {
			t.Errorf("Title(%q) = %q, want %q", mode, got, want)
		}
	}
}
