package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pavelanni/pmpcoach/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, username string) string {
	t.Helper()
	id, err := s.CreateUser(context.Background(), model.User{
		Username:     username,
		DisplayName:  "User " + username,
		PasswordHash: "hash",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func testQuestion(id, correct string) model.Question {
	return model.Question{
		ID:   id,
		Text: "Question " + id,
		Options: []model.Option{
			{ID: "A", Text: "a"}, {ID: "B", Text: "b"}, {ID: "C", Text: "c"}, {ID: "D", Text: "d"},
		},
		CorrectAnswer: correct,
		Explanation:   "because",
		Domain:        "Procesos",
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := createTestUser(t, s, "ana")

	u, err := s.GetUserByUsername(ctx, "ana")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || !u.Active {
		t.Fatalf("GetUserByUsername = %+v, want id %s active", u, id)
	}

	u, err = s.GetUserByID(ctx, "missing")
	if err != nil || u != nil {
		t.Fatalf("GetUserByID(missing) = %v, %v; want nil, nil", u, err)
	}

	_, err = s.CreateUser(ctx, model.User{Username: "ana", PasswordHash: "x"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate CreateUser error = %v, want ErrUsernameTaken", err)
	}

	n, err := s.UserCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("UserCount = %d, %v; want 1", n, err)
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "ana")

	token, err := s.CreateAuthSession(ctx, uid)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}

	sess, err := s.GetAuthSession(ctx, token)
	if err != nil || sess == nil || sess.UserID != uid {
		t.Fatalf("GetAuthSession = %+v, %v", sess, err)
	}

	// Jump past the TTL.
	s.now = func() time.Time { return time.Now().Add(authSessionTTL + time.Minute) }
	sess, err = s.GetAuthSession(ctx, token)
	if err != nil || sess != nil {
		t.Fatalf("expired GetAuthSession = %+v, %v; want nil", sess, err)
	}
}

func TestExamSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "ana")
	other := createTestUser(t, s, "bob")

	sess := &model.ExamSession{
		UserID:         uid,
		Status:         model.StatusInProgress,
		Type:           "3_questions",
		Topic:          "Riesgo",
		TotalQuestions: 3,
	}
	if err := s.CreateExamSession(ctx, sess); err != nil {
		t.Fatalf("CreateExamSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected ID to be assigned")
	}

	got, err := s.GetExamSession(ctx, uid, sess.ID)
	if err != nil {
		t.Fatalf("GetExamSession: %v", err)
	}
	if len(got.Questions) != 0 || len(got.Answers) != 0 || got.Answers == nil {
		t.Errorf("fresh session questions=%v answers=%v", got.Questions, got.Answers)
	}

	if _, err := s.GetExamSession(ctx, other, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExamSession by other user error = %v, want ErrNotFound", err)
	}

	got.Questions = append(got.Questions, testQuestion("q1", "A"))
	got.Answers["q1"] = "B"
	got.CurrentIndex = 1
	if err := s.UpdateExamSession(ctx, got); err != nil {
		t.Fatalf("UpdateExamSession: %v", err)
	}

	reloaded, err := s.GetExamSession(ctx, uid, sess.ID)
	if err != nil {
		t.Fatalf("GetExamSession: %v", err)
	}
	if reloaded.CurrentIndex != 1 || reloaded.Answers["q1"] != "B" || len(reloaded.Questions) != 1 {
		t.Errorf("reloaded = %+v", reloaded)
	}
	if reloaded.Questions[0].CorrectAnswer != "A" || len(reloaded.Questions[0].Options) != 4 {
		t.Errorf("question did not round-trip: %+v", reloaded.Questions[0])
	}

	list, err := s.ListExamSessions(ctx, uid, model.StatusInProgress)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListExamSessions = %d, %v; want 1", len(list), err)
	}
	list, err = s.ListExamSessions(ctx, uid, model.StatusCompleted)
	if err != nil || len(list) != 0 {
		t.Fatalf("ListExamSessions(completed) = %d, %v; want 0", len(list), err)
	}

	if err := s.DeleteExamSession(ctx, other, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteExamSession by other user error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteExamSession(ctx, uid, sess.ID); err != nil {
		t.Fatalf("DeleteExamSession: %v", err)
	}
	if _, err := s.GetExamSession(ctx, uid, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExamSession after delete error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateExamSession(ctx, reloaded); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateExamSession after delete error = %v, want ErrNotFound", err)
	}
}

func TestUpdateProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "ana")

	if _, err := s.GetProgress(ctx, uid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProgress on empty store error = %v, want ErrNotFound", err)
	}

	// No change means no record.
	_, err := s.UpdateProgress(ctx, uid, func(p *model.Progress) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if _, err := s.GetProgress(ctx, uid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unchanged UpdateProgress created a record: %v", err)
	}

	_, err = s.UpdateProgress(ctx, uid, func(p *model.Progress) (bool, error) {
		p.CompletedLevels = append(p.CompletedLevels, "1-0")
		p.Stats = model.Stats{CorrectAnswers: 2, TotalQuestions: 3, Accuracy: "67%"}
		return true, nil
	})
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	p, err := s.GetProgress(ctx, uid)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if len(p.CompletedLevels) != 1 || p.CompletedLevels[0] != "1-0" {
		t.Errorf("CompletedLevels = %v", p.CompletedLevels)
	}
	if p.Stats.Accuracy != "67%" || p.Stats.TotalQuestions != 3 {
		t.Errorf("Stats = %+v", p.Stats)
	}

	boom := errors.New("boom")
	_, err = s.UpdateProgress(ctx, uid, func(p *model.Progress) (bool, error) {
		p.CompletedLevels = nil
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateProgress error = %v, want boom", err)
	}
	p, _ = s.GetProgress(ctx, uid)
	if len(p.CompletedLevels) != 1 {
		t.Errorf("failed update changed levels: %v", p.CompletedLevels)
	}
}

func TestStudySessionsAndChats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "ana")

	ss, err := s.CreateStudySession(ctx, uid, "Lunes")
	if err != nil {
		t.Fatalf("CreateStudySession: %v", err)
	}
	if err := s.RenameStudySession(ctx, uid, ss.ID, "Martes"); err != nil {
		t.Fatalf("RenameStudySession: %v", err)
	}
	if err := s.TouchStudySession(ctx, uid, ss.ID); err != nil {
		t.Fatalf("TouchStudySession: %v", err)
	}
	got, err := s.GetStudySession(ctx, uid, ss.ID)
	if err != nil {
		t.Fatalf("GetStudySession: %v", err)
	}
	if got.Name != "Martes" || got.EndedAt == nil {
		t.Errorf("study session = %+v", got)
	}

	chat := &model.Chat{UserID: uid, StudySessionID: ss.ID, Title: "Examen Rápido", Mode: "quiz"}
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	loose := &model.Chat{UserID: uid, Title: "Nuevo Chat", Mode: "standard"}
	if err := s.CreateChat(ctx, loose); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	found, err := s.FindChatByMode(ctx, uid, ss.ID, "quiz")
	if err != nil || found.ID != chat.ID {
		t.Fatalf("FindChatByMode = %+v, %v", found, err)
	}
	if _, err := s.FindChatByMode(ctx, uid, ss.ID, "math"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindChatByMode(math) error = %v, want ErrNotFound", err)
	}

	chats, err := s.ListChats(ctx, uid, ss.ID)
	if err != nil || len(chats) != 1 {
		t.Fatalf("ListChats = %d, %v; want 1", len(chats), err)
	}

	for i, role := range []model.Role{model.RoleUser, model.RoleAssistant} {
		m := &model.Message{UserID: uid, ChatID: chat.ID, Role: role, Content: fmt.Sprintf("m%d", i)}
		if err := s.AddMessage(ctx, m); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	msgs, err := s.ListMessages(ctx, uid, chat.ID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("ListMessages = %d, %v; want 2", len(msgs), err)
	}
	if msgs[0].Content != "m0" || msgs[1].Role != model.RoleAssistant {
		t.Errorf("messages out of order: %+v", msgs)
	}

	if err := s.DeleteStudySession(ctx, uid, ss.ID); err != nil {
		t.Fatalf("DeleteStudySession: %v", err)
	}
	if _, err := s.GetChat(ctx, uid, chat.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("chat survived study session delete: %v", err)
	}
	if _, err := s.GetChat(ctx, uid, loose.ID); err != nil {
		t.Errorf("unrelated chat deleted: %v", err)
	}
	msgs, _ = s.ListMessages(ctx, uid, chat.ID)
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
	if err := s.DeleteStudySession(ctx, uid, ss.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestListWithFallback(t *testing.T) {
	all := []int{1, 2, 3, 4}
	even := func(n int) bool { return n%2 == 0 }

	tests := []struct {
		name      string
		narrowErr error
		want      int
		wantErr   bool
	}{
		{"narrow succeeds", nil, 1, false},
		{"schema drift falls back", errors.New("SQL logic error: no such column: study_session_id"), 2, false},
		{"other errors surface", errors.New("disk I/O error"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			narrow := func() ([]int, error) {
				if tt.narrowErr != nil {
					return nil, tt.narrowErr
				}
				return []int{2}, nil
			}
			wide := func() ([]int, error) { return all, nil }
			got, err := listWithFallback(narrow, wide, even)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("got %v, want %d items", got, tt.want)
			}
		})
	}
}

func TestUserMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetUserMeta(ctx, "u1", MetaOnboardingSeen)
	if err != nil || v != "" {
		t.Fatalf("GetUserMeta(missing) = %q, %v", v, err)
	}
	if err := s.SetUserMeta(ctx, "u1", MetaOnboardingSeen, "true"); err != nil {
		t.Fatalf("SetUserMeta: %v", err)
	}
	if err := s.SetUserMeta(ctx, "u1", MetaOnboardingSeen, "false"); err != nil {
		t.Fatalf("SetUserMeta: %v", err)
	}
	v, _ = s.GetUserMeta(ctx, "u1", MetaOnboardingSeen)
	if v != "false" {
		t.Errorf("GetUserMeta = %q, want false", v)
	}
}

func TestExportAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ana := createTestUser(t, s, "ana")
	bob := createTestUser(t, s, "bob")

	done := &model.ExamSession{
		UserID:         ana,
		Status:         model.StatusCompleted,
		Type:           "3_questions",
		TotalQuestions: 3,
		CurrentIndex:   3,
		Questions:      []model.Question{testQuestion("q1", "A"), testQuestion("q2", "B"), testQuestion("q3", "C")},
		Answers:        map[string]string{"q1": "A", "q2": "B", "q3": "D"},
		Score:          2,
	}
	if err := s.CreateExamSession(ctx, done); err != nil {
		t.Fatalf("CreateExamSession: %v", err)
	}
	if err := s.CreateExamSession(ctx, &model.ExamSession{
		UserID: bob, Status: model.StatusInProgress, Type: "45_questions", TotalQuestions: 45,
	}); err != nil {
		t.Fatalf("CreateExamSession: %v", err)
	}

	all, err := s.ExportAttempts(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ExportAttempts = %d, %v; want 2", len(all), err)
	}

	mine, err := s.ExportAttempts(ctx, "ana")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ExportAttempts(ana) = %d, %v; want 1", len(mine), err)
	}
	r := mine[0]
	if r.Username != "ana" || r.Percentage != 67 || r.Passed || r.Answered != 3 {
		t.Errorf("result = %+v", r)
	}
	if len(r.Domains) != 1 || r.Domains[0].Correct != 2 || r.Domains[0].Total != 3 {
		t.Errorf("domains = %+v", r.Domains)
	}
}
