package chat

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/pmpcoach/internal/llm/prompts"
)

const (
	resultMarker  = "---RESULT---"
	optionsMarker = "---OPTIONS---"
	passPhrase    = "PASASTE EL NIVEL"
	failPrefix    = "NO "
	quizCorrect   = "CORRECTO"
	quizIncorrect = "INCORRECTO"
	quizWindow    = 50
)

var (
	gateScoreRegex      = regexp.MustCompile(`(?i)Puntuación\s*\(\s*(\d+)\s*/\s*(\d+)\s*\)`)
	simulatorScoreRegex = regexp.MustCompile(`(?i)(\d+)\s*/\s*(\d+)\s*aciertos`)
	optionPrefixRegex   = regexp.MustCompile(`^(?:-\s*|\d+\.\s*)`)
)

// Signals are the control facts read from a finished assistant reply.
type Signals struct {
	// LevelPassed is set when a level exam reply grants the level named
	// by LevelTopic.
	LevelPassed bool   `json:"level_passed"`
	LevelTopic  string `json:"level_topic,omitempty"`
	// LevelID is filled once the pass has been recorded.
	LevelID string `json:"level_id,omitempty"`
	// HasScore is set when Correct out of Total should be added to the
	// user's statistics.
	HasScore bool `json:"has_score"`
	Correct  int  `json:"correct"`
	Total    int  `json:"total"`
}

type resultTag struct {
	Passed  *bool `json:"passed"`
	Correct int   `json:"correct"`
	Total   int   `json:"total"`
}

// DetectSignals inspects a finished reply for mode. A trailing
// ---RESULT--- JSON tag wins; without one the verdict phrases of the
// mode's prompt are matched.
func DetectSignals(mode, text string) Signals {
	m, topic := prompts.Parse(mode)
	var sig Signals
	if m.Signals == prompts.SignalNone {
		return sig
	}
	if tag, ok := parseResultTag(text); ok {
		if tag.Passed != nil && *tag.Passed && m.Signals == prompts.SignalLevelExam {
			sig.LevelPassed, sig.LevelTopic = true, topic
		}
		if tag.Total > 0 && tag.Correct >= 0 && tag.Correct <= tag.Total {
			sig.HasScore, sig.Correct, sig.Total = true, tag.Correct, tag.Total
		}
		return sig
	}

	switch m.Signals {
	case prompts.SignalQuizVerdict:
		head := []rune(strings.ToUpper(text))
		if len(head) > quizWindow {
			head = head[:quizWindow]
		}
		start := string(head)
		switch {
		case strings.Contains(start, quizIncorrect):
			sig.HasScore, sig.Correct, sig.Total = true, 0, 1
		case strings.Contains(start, quizCorrect):
			sig.HasScore, sig.Correct, sig.Total = true, 1, 1
		}
	case prompts.SignalLevelExam:
		if levelPassed(text) {
			sig.LevelPassed, sig.LevelTopic = true, topic
		}
		if c, t, ok := examScore(text); ok {
			sig.HasScore, sig.Correct, sig.Total = true, c, t
		}
	}
	return sig
}

// levelPassed looks for the pass phrase not negated by a leading "NO".
func levelPassed(text string) bool {
	upper := strings.ToUpper(text)
	for rest := upper; ; {
		i := strings.Index(rest, passPhrase)
		if i < 0 {
			return false
		}
		if !strings.HasSuffix(rest[:i], failPrefix) {
			return true
		}
		rest = rest[i+len(passPhrase):]
	}
}

func examScore(text string) (int, int, bool) {
	m := gateScoreRegex.FindStringSubmatch(text)
	if m == nil {
		m = simulatorScoreRegex.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, 0, false
	}
	c, err1 := strconv.Atoi(m[1])
	t, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || t <= 0 || c > t {
		return 0, 0, false
	}
	return c, t, true
}

func parseResultTag(text string) (resultTag, bool) {
	i := strings.LastIndex(text, resultMarker)
	if i < 0 {
		return resultTag{}, false
	}
	var tag resultTag
	dec := json.NewDecoder(strings.NewReader(text[i+len(resultMarker):]))
	if err := dec.Decode(&tag); err != nil {
		return resultTag{}, false
	}
	return tag, true
}

// ParseOptions splits an assistant reply into the text to show and the
// suggested replies listed after ---OPTIONS---. Options are a JSON array
// of strings; a plain list, one per line, is accepted too. A result tag
// is removed from the body.
func ParseOptions(text string) (string, []string) {
	body, optionsPart, found := strings.Cut(text, optionsMarker)
	if i := strings.Index(body, resultMarker); i >= 0 {
		body = body[:i]
	}
	body = strings.TrimSpace(body)
	if !found {
		return body, nil
	}
	optionsPart = strings.TrimSpace(optionsPart)
	if i := strings.Index(optionsPart, resultMarker); i >= 0 {
		optionsPart = strings.TrimSpace(optionsPart[:i])
	}

	var options []string
	if err := json.Unmarshal([]byte(optionsPart), &options); err == nil {
		return body, options
	}
	for _, line := range strings.Split(optionsPart, "\n") {
		line = optionPrefixRegex.ReplaceAllString(strings.TrimSpace(line), "")
		if line != "" {
			options = append(options, line)
		}
	}
	return body, options
}
