// Package question asks the LLM for batches of multiple-choice exam
// questions and turns its free-form reply into validated Questions.
package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/pmpcoach/internal/llm/prompts"
	"github.com/pavelanni/pmpcoach/internal/model"
)

// DefaultCount is the batch size when the caller does not ask for one.
const DefaultCount = 5

// optionIDs are the only accepted option identifiers, in order.
var optionIDs = []string{"A", "B", "C", "D"}

// ErrNoArray means the reply did not contain a JSON array at all.
var ErrNoArray = errors.New("no JSON array in response")

// ParseError is returned when the LLM reply cannot be turned into
// questions. Raw holds the text that was parsed so callers can show it.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse generated questions: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Completer sends a single non-streaming prompt to the LLM.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Generator produces questions through a Completer.
type Generator struct {
	llm Completer
}

// NewGenerator creates a Generator.
func NewGenerator(llm Completer) *Generator {
	return &Generator{llm: llm}
}

// Generate asks for count questions on topic, avoiding the texts in
// existing. The result has at most count items.
func (g *Generator) Generate(ctx context.Context, topic string, count int, existing []string) ([]model.Question, error) {
	if count <= 0 {
		count = DefaultCount
	}
	prompt, err := prompts.BuildGeneratePrompt(topic, count, existing)
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.Complete(ctx, "", prompt)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	slog.Debug("question generation response", "topic", topic, "bytes", len(raw))

	qs, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(qs) > count {
		qs = qs[:count]
	}
	return qs, nil
}

// Parse extracts the JSON array from an LLM reply and validates every
// question in it.
func Parse(raw string) ([]model.Question, error) {
	arr := ExtractJSONArray(raw)
	if arr == "" {
		return nil, &ParseError{Raw: strings.TrimSpace(raw), Err: ErrNoArray}
	}

	var qs []model.Question
	if err := json.Unmarshal([]byte(arr), &qs); err != nil {
		return nil, &ParseError{Raw: arr, Err: err}
	}
	if len(qs) == 0 {
		return nil, &ParseError{Raw: arr, Err: errors.New("empty question list")}
	}
	for i := range qs {
		normalize(&qs[i])
		if err := validate(qs[i]); err != nil {
			return nil, &ParseError{Raw: arr, Err: fmt.Errorf("question %d: %w", i+1, err)}
		}
	}
	return qs, nil
}

// ExtractJSONArray returns the first balanced [...] substring of s that
// decodes as a JSON array of objects, skipping brackets inside quoted
// strings. Prose such as "aquí tienes [5] preguntas" before the array is
// tolerated.
func ExtractJSONArray(s string) string {
	for start := strings.IndexByte(s, '['); start != -1; {
		if end := matchBracket(s, start); end != -1 {
			candidate := s[start : end+1]
			if isObjectArray(candidate) {
				return candidate
			}
		}
		next := strings.IndexByte(s[start+1:], '[')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return ""
}

// matchBracket returns the index of the ']' closing the '[' at start,
// or -1.
func matchBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isObjectArray(s string) bool {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(s), &elems); err != nil {
		return false
	}
	for _, e := range elems {
		if len(e) == 0 || e[0] != '{' {
			return false
		}
	}
	return true
}

func normalize(q *model.Question) {
	q.ID = strings.TrimSpace(q.ID)
	q.Text = strings.TrimSpace(q.Text)
	q.Domain = strings.TrimSpace(q.Domain)
	for i := range q.Options {
		q.Options[i].ID = strings.ToUpper(strings.TrimSpace(q.Options[i].ID))
	}
	q.CorrectAnswer = answerLetter(q.CorrectAnswer)
}

// answerLetter reduces forms like "b", "B)" or "B. Opción" to "B".
func answerLetter(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) > 1 && strings.ContainsRune("ABCD", rune(s[0])) && !isLetter(s[1]) {
		return s[:1]
	}
	return s
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func validate(q model.Question) error {
	if q.Text == "" {
		return errors.New("empty text")
	}
	if len(q.Options) != len(optionIDs) {
		return fmt.Errorf("want %d options, got %d", len(optionIDs), len(q.Options))
	}
	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if !validOptionID(o.ID) {
			return fmt.Errorf("invalid option id %q", o.ID)
		}
		if seen[o.ID] {
			return fmt.Errorf("duplicate option id %q", o.ID)
		}
		seen[o.ID] = true
	}
	if !seen[q.CorrectAnswer] {
		return fmt.Errorf("correct answer %q is not an option", q.CorrectAnswer)
	}
	return nil
}

func validOptionID(id string) bool {
	for _, v := range optionIDs {
		if v == id {
			return true
		}
	}
	return false
}
