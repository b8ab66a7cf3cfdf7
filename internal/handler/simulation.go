package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pmpcoach/internal/exam"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/question"
)

const maxGenerateAmount = 20

type generateRequest struct {
	Topic             string   `json:"topic"`
	Amount            int      `json:"amount"`
	ExistingQuestions []string `json:"existingQuestions,omitempty"`
}

type generateResponse struct {
	Questions []model.Question `json:"questions"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var in generateRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.Amount <= 0 {
		in.Amount = question.DefaultCount
	}
	in.Amount = min(in.Amount, maxGenerateAmount)

	qs, err := h.questions.Generate(r.Context(), in.Topic, in.Amount, in.ExistingQuestions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Questions: qs})
}

type startRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	TotalQuestions int    `json:"total_questions"`
	Topic          string `json:"topic"`
}

func (h *Handler) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	var in startRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	sess, err := h.exams.Start(r.Context(), currentUser(r).ID, in.SessionID, in.TotalQuestions, in.Topic)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if in.SessionID != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, exam.View(sess))
}

func (h *Handler) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.exams.List(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*exam.SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, exam.View(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	sess, err := h.exams.Resume(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam.View(sess))
}

type answerRequest struct {
	OptionID string `json:"option_id"`
}

type answerResponse struct {
	Session  *exam.SessionView `json:"session"`
	Correct  bool              `json:"correct"`
	Question model.Question    `json:"question"`
	Outcome  *exam.Outcome     `json:"outcome,omitempty"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.exams.Answer(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), in.OptionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Session:  exam.View(res.Session),
		Correct:  res.Correct,
		Question: res.Question,
		Outcome:  res.Outcome,
	})
}

// handleCancelSimulation deletes an attempt. The client must pass
// ?confirm=true.
func (h *Handler) handleCancelSimulation(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		h.writeError(w, r, errConfirmRequired)
		return
	}
	if err := h.exams.Cancel(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
