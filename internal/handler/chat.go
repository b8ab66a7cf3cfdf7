package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pavelanni/pmpcoach/internal/chat"
	"github.com/pavelanni/pmpcoach/internal/i18n"
	"github.com/pavelanni/pmpcoach/internal/llm/prompts"
)

// Trailers sent after a streamed chat reply.
const (
	trailerChatID      = "X-Chat-Id"
	trailerLevelPassed = "X-Level-Passed"
	trailerLevelID     = "X-Level-Id"
	trailerScore       = "X-Score"
	trailerOptions     = "X-Options"
	trailerError       = "X-Chat-Error"
)

var chatTrailers = []string{trailerChatID, trailerLevelPassed, trailerLevelID, trailerScore, trailerOptions, trailerError}

var exposedTrailers = strings.Join(chatTrailers, ", ")

type modeInfo struct {
	Mode         string `json:"mode"`
	Title        string `json:"title"`
	StartCommand string `json:"start_command,omitempty"`
	Leveled      bool   `json:"leveled"`
}

func (h *Handler) handleModes(w http.ResponseWriter, r *http.Request) {
	var out []modeInfo
	for _, m := range prompts.Modes() {
		out = append(out, modeInfo{
			Mode:         string(m.Kind),
			Title:        chat.Title(r.Context(), string(m.Kind)),
			StartCommand: m.StartCommand,
			Leveled:      m.Leveled,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChat streams the reply as plain text and reports the detected
// signals in trailers. Errors before the first chunk are plain JSON
// errors; later ones end the stream with the X-Chat-Error trailer.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		for _, t := range chatTrailers {
			w.Header().Add("Trailer", t)
		}
		w.WriteHeader(http.StatusOK)
	}

	res, err := h.chats.Turn(r.Context(), currentUser(r), req, func(chunk string) error {
		start()
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})
	if err != nil {
		if !started {
			h.writeError(w, r, err)
			return
		}
		_, msgID := classify(err)
		slog.Warn("chat stream interrupted", "path", r.URL.Path, "error", err)
		w.Header().Set(trailerError, i18n.T(r.Context(), msgID))
		return
	}
	start()
	setSignalTrailers(w.Header(), res)
}

func setSignalTrailers(hdr http.Header, res *chat.Result) {
	if res.ChatID != "" {
		hdr.Set(trailerChatID, res.ChatID)
	}
	hdr.Set(trailerLevelPassed, strconv.FormatBool(res.Signals.LevelPassed))
	if res.Signals.LevelID != "" {
		hdr.Set(trailerLevelID, res.Signals.LevelID)
	}
	if res.Signals.HasScore {
		hdr.Set(trailerScore, strconv.Itoa(res.Signals.Correct)+"/"+strconv.Itoa(res.Signals.Total))
	}
	if len(res.Options) > 0 {
		if b, err := json.Marshal(res.Options); err == nil {
			hdr.Set(trailerOptions, string(b))
		}
	}
}

// wsFrame is one server message on the chat socket: "chunk" frames carry
// text, a "done" frame the finished turn, an "error" frame a localized
// error.
type wsFrame struct {
	Type    string       `json:"type"`
	Content string       `json:"content,omitempty"`
	Result  *chat.Result `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
	Status  int          `json:"status,omitempty"`
}

// handleChatWS runs chat turns over a WebSocket. Each client message is a
// chat request; turns run one after another.
func (h *Handler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.config.AllowedOrigins),
	})
	if err != nil {
		slog.Warn("failed to accept websocket", "user", user.ID, "error", err)
		return
	}
	defer func() {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			slog.Debug("failed to close websocket", "user", user.ID, "error", err)
		}
	}()

	ctx := r.Context()
	for {
		var req chat.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				slog.Debug("websocket read ended", "user", user.ID, "error", err)
			}
			return
		}

		if !h.allow(r) {
			if err := h.writeFrameError(r, conn, errRateLimited); err != nil {
				return
			}
			continue
		}

		res, err := h.chats.Turn(ctx, user, req, func(chunk string) error {
			return wsjson.Write(ctx, conn, wsFrame{Type: "chunk", Content: chunk})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err := h.writeFrameError(r, conn, err); err != nil {
				return
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, wsFrame{Type: "done", Result: res}); err != nil {
			return
		}
	}
}

func (h *Handler) writeFrameError(r *http.Request, conn *websocket.Conn, err error) error {
	status, msgID := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("chat turn failed", "path", r.URL.Path, "error", err)
	}
	return wsjson.Write(r.Context(), conn, wsFrame{Type: "error", Error: i18n.T(r.Context(), msgID), Status: status})
}

// originPatterns turns configured origins into the host patterns the
// websocket handshake checks. An empty list allows same-origin only.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			out = append(out, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
