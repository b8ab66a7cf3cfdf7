package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/pmpcoach/internal/model"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI serves /chat/completions with a JSON reply, or an SSE stream
// of chunks when the request asks for streaming.
func fakeOpenAI(t *testing.T, reply string, chunks []string, got *capturedRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			*got = req
		}
		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, reply)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gemini-3-flash-preview","object":"model"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	var got capturedRequest
	srv := fakeOpenAI(t, "[]", nil, &got)
	c := New(Config{BaseURL: srv.URL, APIKey: "k"})

	out, err := c.Complete(context.Background(), "sys", "genera")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "[]" {
		t.Errorf("Complete = %q, want []", out)
	}
	if got.Model != DefaultModel {
		t.Errorf("model = %q, want %q", got.Model, DefaultModel)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "genera" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestStream(t *testing.T) {
	var got capturedRequest
	srv := fakeOpenAI(t, "", []string{"Hola", ", ", "mundo"}, &got)
	c := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})

	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "hola"},
		{Role: model.RoleAssistant, Content: "¿qué tal?"},
		{Role: model.RoleUser, Content: "bien"},
	}
	var chunks []string
	text, err := c.Stream(context.Background(), "prompt", history, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if text != "Hola, mundo" {
		t.Errorf("text = %q", text)
	}
	if strings.Join(chunks, "|") != "Hola|, |mundo" {
		t.Errorf("chunks = %q", chunks)
	}
	if len(got.Messages) != 4 || got.Messages[2].Role != "assistant" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestStreamSinkError(t *testing.T) {
	srv := fakeOpenAI(t, "", []string{"a", "b", "c"}, nil)
	c := New(Config{BaseURL: srv.URL, APIKey: "k"})

	stop := errors.New("client gone")
	text, err := c.Stream(context.Background(), "p", nil, func(s string) error {
		if s == "b" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want sink error", err)
	}
	if text != "ab" {
		t.Errorf("text = %q, want ab", text)
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{})
	if c.Configured() {
		t.Error("client without key reports configured")
	}
	if _, err := c.Complete(context.Background(), "", "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Complete err = %v", err)
	}
	if _, err := c.Stream(context.Background(), "", nil, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Stream err = %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Ping err = %v", err)
	}
}

func TestPing(t *testing.T) {
	srv := fakeOpenAI(t, "", nil, nil)
	if err := New(Config{BaseURL: srv.URL, APIKey: "k"}).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Complete(context.Background(), "", "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
