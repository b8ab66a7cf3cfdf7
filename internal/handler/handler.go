package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pmpcoach/internal/chat"
	"github.com/pavelanni/pmpcoach/internal/exam"
	"github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/llm"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/progress"
	"github.com/pavelanni/pmpcoach/internal/question"
	"github.com/pavelanni/pmpcoach/internal/store"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest         = errors.New("bad request")
	errUnauthorized       = errors.New("unauthorized")
	errInvalidCredentials = errors.New("invalid credentials")
	errPasswordTooShort   = errors.New("password too short")
	errConfirmRequired    = errors.New("confirmation required")
	errRateLimited        = errors.New("rate limited")
)

// Deps are the services the handlers call.
type Deps struct {
	Store     *store.Store
	Exams     *exam.Orchestrator
	Chats     *chat.Controller
	Progress  *progress.Service
	Questions *question.Generator
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	exams     *exam.Orchestrator
	chats     *chat.Controller
	progress  *progress.Service
	questions *question.Generator
	config    model.AppConfig
	limiter   ratelimit.RateLimiter
	now       func() time.Time
}

// New creates a new Handler.
func New(d Deps, cfg model.AppConfig) (*Handler, error) {
	if d.Store == nil || d.Exams == nil || d.Chats == nil || d.Progress == nil || d.Questions == nil {
		return nil, errors.New("handler: missing dependency")
	}
	h := &Handler{
		store:     d.Store,
		exams:     d.Exams,
		chats:     d.Chats,
		progress:  d.Progress,
		questions: d.Questions,
		config:    cfg,
		now:       time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.RateLimit * 3
		}
		h.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     cfg.RateLimit,
			Burst:    burst,
			Interval: time.Second,
		})
	}
	return h, nil
}

// Close releases the rate limiter.
func (h *Handler) Close() error {
	if h.limiter != nil {
		return h.limiter.Close()
	}
	return nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/me", h.handleMe)
		r.Get("/me/onboarding", h.handleGetOnboarding)
		r.Put("/me/onboarding", h.handleSetOnboarding)

		r.Get("/modes", h.handleModes)
		r.Get("/levels", h.handleLevels)
		r.Get("/progress", h.handleDashboard)
		r.Post("/progress/sync", h.handleSyncProgress)
		r.Post("/progress/levels", h.handleMarkLevel)

		r.Get("/study-sessions", h.handleListStudySessions)
		r.Post("/study-sessions", h.handleCreateStudySession)
		r.Patch("/study-sessions/{id}", h.handleRenameStudySession)
		r.Delete("/study-sessions/{id}", h.handleDeleteStudySession)
		r.Get("/study-sessions/{id}/chats", h.handleListChats)
		r.Post("/study-sessions/{id}/chats", h.handleOpenChat)
		r.Get("/chats/{id}/messages", h.handleListMessages)

		r.Get("/simulations", h.handleListSimulations)
		r.Get("/simulations/{id}", h.handleGetSimulation)
		r.Post("/simulations/{id}/answer", h.handleAnswer)
		r.Delete("/simulations/{id}", h.handleCancelSimulation)

		// Turns are limited per frame inside the socket loop.
		r.Get("/chat/ws", h.handleChatWS)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/chat", h.handleChat)
			r.Post("/simulation/generate", h.handleGenerate)
			r.Post("/simulations", h.handleStartSimulation)
		})
	})
}

// rateLimit allows each user a bounded rate of LLM-backed requests.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.allow(r) {
			h.writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allow(r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	user := model.UserFromContext(r.Context())
	if user == nil {
		return false
	}
	return h.limiter.Allow(r.Context(), user.ID)
}

type errorResponse struct {
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}

type errorMapping struct {
	target error
	status int
	msgID  string
}

// errorMappings are checked in order; the first match wins.
var errorMappings = []errorMapping{
	{llm.ErrNotConfigured, http.StatusServiceUnavailable, "ErrorLLMNotConfigured"},
	{exam.ErrInit, http.StatusBadGateway, "ErrorExamInit"},
	{llm.ErrUnavailable, http.StatusBadGateway, "ErrorLLMUnavailable"},
	{store.ErrNotFound, http.StatusNotFound, "ErrorNotFound"},
	{exam.ErrNotFound, http.StatusNotFound, "ErrorNotFound"},
	{exam.ErrCompleted, http.StatusConflict, "ErrorExamCompleted"},
	{exam.ErrQuestionNotReady, http.StatusConflict, "ErrorQuestionNotReady"},
	{exam.ErrInvalidOption, http.StatusBadRequest, "ErrorInvalidOption"},
	{exam.ErrInvalidTotal, http.StatusBadRequest, "ErrorInvalidTotal"},
	{chat.ErrTurnInProgress, http.StatusConflict, "ErrorTurnInProgress"},
	{chat.ErrEmptyHistory, http.StatusBadRequest, "ErrorEmptyHistory"},
	{progress.ErrInvalidLevel, http.StatusBadRequest, "ErrorInvalidLevel"},
	{progress.ErrUnknownLevel, http.StatusNotFound, "ErrorUnknownLevel"},
	{store.ErrUsernameTaken, http.StatusConflict, "ErrorUsernameTaken"},
	{errBadRequest, http.StatusBadRequest, "ErrorBadRequest"},
	{errUnauthorized, http.StatusUnauthorized, "ErrorUnauthorized"},
	{errInvalidCredentials, http.StatusUnauthorized, "ErrorInvalidCredentials"},
	{errPasswordTooShort, http.StatusBadRequest, "ErrorPasswordTooShort"},
	{errConfirmRequired, http.StatusBadRequest, "ErrorConfirmRequired"},
	{errRateLimited, http.StatusTooManyRequests, "ErrorRateLimited"},
}

// handleHealth reports whether the database answers.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// classify maps err to an HTTP status and an i18n message id.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.msgID
		}
	}
	if store.IsBusyError(err) {
		return http.StatusServiceUnavailable, "ErrorBusy"
	}
	var pe *question.ParseError
	if errors.As(err, &pe) {
		return http.StatusInternalServerError, "ErrorParseQuestions"
	}
	return http.StatusInternalServerError, "ErrorInternal"
}

// writeError writes a localized JSON error. Unparseable LLM output is
// returned alongside in raw.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	resp := errorResponse{Error: i18n.T(r.Context(), msgID)}
	var pe *question.ParseError
	if status == http.StatusInternalServerError && errors.As(err, &pe) {
		resp.Raw = pe.Raw
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// currentUser returns the authenticated user; requireAuth guarantees one.
func currentUser(r *http.Request) *model.User {
	return model.UserFromContext(r.Context())
}
