package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/model"
)

type studySessionRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleListStudySessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListStudySessions(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.StudySession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleCreateStudySession starts a study session, named after today's
// date unless the client gives a name.
func (h *Handler) handleCreateStudySession(w http.ResponseWriter, r *http.Request) {
	var in studySessionRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = i18n.Td(r.Context(), "StudySessionDefaultName", map[string]any{
			"Date": h.now().Format("02/01/2006"),
		})
	}
	ss, err := h.store.CreateStudySession(r.Context(), currentUser(r).ID, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ss)
}

func (h *Handler) handleRenameStudySession(w http.ResponseWriter, r *http.Request) {
	var in studySessionRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		h.writeError(w, r, errBadRequest)
		return
	}
	userID, id := currentUser(r).ID, chi.URLParam(r, "id")
	if err := h.store.RenameStudySession(r.Context(), userID, id, name); err != nil {
		h.writeError(w, r, err)
		return
	}
	ss, err := h.store.GetStudySession(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

func (h *Handler) handleDeleteStudySession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteStudySession(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, id := currentUser(r).ID, chi.URLParam(r, "id")
	if _, err := h.store.GetStudySession(r.Context(), userID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	chats, err := h.store.ListChats(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if chats == nil {
		chats = []*model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

type openChatRequest struct {
	Mode string `json:"mode"`
}

// handleOpenChat returns the study session's chat for a mode, creating
// it on first use.
func (h *Handler) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	var in openChatRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(in.Mode) == "" {
		h.writeError(w, r, errBadRequest)
		return
	}
	c, err := h.chats.OpenChat(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), in.Mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, id := currentUser(r).ID, chi.URLParam(r, "id")
	if _, err := h.store.GetChat(r.Context(), userID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
