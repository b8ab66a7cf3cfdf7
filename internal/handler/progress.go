package handler

import (
	"net/http"
	"strings"

	"github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/levels"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/progress"
)

type dashboardResponse struct {
	*progress.Dashboard
	RankTitle string `json:"rank_title"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.progress.Dashboard(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Dashboard: d,
		RankTitle: i18n.T(r.Context(), d.Rank.TitleID),
	})
}

type syncRequest struct {
	CompletedLevels []string `json:"completed_levels"`
}

func (h *Handler) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	var in syncRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.progress.Sync(r.Context(), currentUser(r).ID, in.CompletedLevels)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type markLevelRequest struct {
	LevelID string `json:"level_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

type markLevelResponse struct {
	LevelID  string          `json:"level_id"`
	Progress *model.Progress `json:"progress"`
}

// handleMarkLevel completes a level given by id or, failing that, by
// name.
func (h *Handler) handleMarkLevel(w http.ResponseWriter, r *http.Request) {
	var in markLevelRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID := currentUser(r).ID
	id := strings.TrimSpace(in.LevelID)

	var (
		p   *model.Progress
		err error
	)
	switch {
	case id != "":
		p, err = h.progress.MarkLevel(r.Context(), userID, id)
	case strings.TrimSpace(in.Name) != "":
		if id, err = h.progress.MarkLevelByName(r.Context(), userID, in.Name); err == nil {
			p, err = h.progress.Get(r.Context(), userID)
		}
	default:
		err = errBadRequest
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markLevelResponse{LevelID: id, Progress: p})
}

type levelState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	Unlocked  bool   `json:"unlocked"`
}

type worldState struct {
	ID     int          `json:"id"`
	Name   string       `json:"name"`
	Desc   string       `json:"desc"`
	Levels []levelState `json:"levels"`
}

type phaseState struct {
	Title    string       `json:"title"`
	Unlocked bool         `json:"unlocked"`
	Worlds   []worldState `json:"worlds"`
}

// handleLevels returns the level map annotated with the user's
// completion and unlock state.
func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Get(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	catalog := h.progress.Catalog()
	done := levels.Set(p.CompletedLevels)

	out := make([]phaseState, 0, len(catalog.Phases))
	for i, phase := range catalog.Phases {
		ps := phaseState{Title: phase.Title, Unlocked: catalog.PhaseUnlocked(i, done)}
		for _, world := range phase.Worlds {
			ws := worldState{ID: world.ID, Name: world.Name, Desc: world.Desc}
			for j, name := range world.Levels {
				id := levels.LevelID(world.ID, j)
				ws.Levels = append(ws.Levels, levelState{
					ID:        id,
					Name:      name,
					Completed: done[id],
					Unlocked:  ps.Unlocked && catalog.LevelUnlocked(id, done),
				})
			}
			ps.Worlds = append(ps.Worlds, ws)
		}
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, out)
}
