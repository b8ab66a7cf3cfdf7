package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/store"
)

const (
	sessionCookieName = "pmpcoach_session"
	minPasswordLen    = 8
)

type credentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// sessionToken returns the token from the session cookie or a bearer
// Authorization header.
func sessionToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// requireAuth is middleware that resolves the session token to an active
// user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			h.writeError(w, r, errUnauthorized)
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), token)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			h.writeError(w, r, errUnauthorized)
			return
		}
		if authSess == nil {
			h.writeError(w, r, errUnauthorized)
			return
		}

		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil || user == nil || !user.Active {
			h.writeError(w, r, errUnauthorized)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		h.writeError(w, r, errBadRequest)
		return
	}
	if len(in.Password) < minPasswordLen {
		h.writeError(w, r, errPasswordTooShort)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = in.Username
	}
	id, err := h.store.CreateUser(r.Context(), model.User{
		Username:     in.Username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Active:       true,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil || user == nil {
		h.writeError(w, r, store.ErrNotFound)
		return
	}
	h.startSession(w, r, user, http.StatusCreated)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), strings.TrimSpace(in.Username))
	if err != nil {
		slog.Error("failed to get user", "error", err)
		h.writeError(w, r, errInvalidCredentials)
		return
	}
	if user == nil || !user.Active {
		h.writeError(w, r, errInvalidCredentials)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		h.writeError(w, r, errInvalidCredentials)
		return
	}
	h.startSession(w, r, user, http.StatusOK)
}

// startSession issues a token, sets it as a cookie and returns it in the
// body for clients that send it as a bearer token.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *model.User, status int) {
	token, err := h.store.CreateAuthSession(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, status, authResponse{Token: token, User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := h.store.DeleteAuthSession(r.Context(), token); err != nil {
			slog.Warn("failed to delete auth session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

type onboardingState struct {
	Seen bool `json:"seen"`
}

func (h *Handler) handleGetOnboarding(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.GetUserMeta(r.Context(), currentUser(r).ID, store.MetaOnboardingSeen)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, onboardingState{Seen: v == "true"})
}

func (h *Handler) handleSetOnboarding(w http.ResponseWriter, r *http.Request) {
	var in onboardingState
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	value := "false"
	if in.Seen {
		value = "true"
	}
	if err := h.store.SetUserMeta(r.Context(), currentUser(r).ID, store.MetaOnboardingSeen, value); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
