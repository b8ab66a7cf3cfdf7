package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Kind is the mode name without its topic suffix.
type Kind string

const (
	KindDefault         Kind = "default"
	KindStandard        Kind = "standard"
	KindSimulation      Kind = "simulation"
	KindWorkshop        Kind = "workshop"
	KindSocratic        Kind = "socratic"
	KindQuiz            Kind = "quiz"
	KindDebate          Kind = "debate"
	KindCaseStudy       Kind = "case_study"
	KindELI5            Kind = "eli5"
	KindMath            Kind = "math"
	KindBossScope       Kind = "boss_scope"
	KindBossRisk        Kind = "boss_risk"
	KindBossStakeholder Kind = "boss_stakeholder"
	KindBossSchedule    Kind = "boss_schedule"
	KindBossAgile       Kind = "boss_agile"
	KindBossQuality     Kind = "boss_quality"
	KindLevelPractice   Kind = "level_practice"
	KindLevelLesson     Kind = "level_lesson"
	KindLevelOracle     Kind = "level_oracle"
	KindLevelExam       Kind = "level_exam"
)

const (
	defaultTopic              = "General"
	defaultGenerateTopic      = "Gestión de Proyectos General (Mix PMP)"
	defaultGenerateAmount     = 5
	maxTopicRunes             = 200
	generateTemplate          = "generate_questions.tmpl"
	simulatorExamTemplate     = "level_exam_simulator.tmpl"
	unknownQuestionLimitLabel = "varias"
)

// SignalKind tells the chat controller which control signals a mode's
// replies can carry.
type SignalKind int

const (
	SignalNone SignalKind = iota
	// SignalQuizVerdict reads CORRECTO / INCORRECTO at the start of a reply.
	SignalQuizVerdict
	// SignalLevelExam reads the level verdict and the final score.
	SignalLevelExam
)

// Mode is one row of the mode table.
type Mode struct {
	Kind         Kind       `json:"kind"`
	StartCommand string     `json:"start_command,omitempty"`
	TitleID      string     `json:"-"`
	Leveled      bool       `json:"leveled"`
	Signals      SignalKind `json:"-"`
	template     string
}

var modes = map[Kind]Mode{
	KindDefault:         {Kind: KindDefault, TitleID: "ChatTitleDefault", template: "default.tmpl"},
	KindStandard:        {Kind: KindStandard, TitleID: "ChatTitleDefault", template: "standard.tmpl"},
	KindSimulation:      {Kind: KindSimulation, StartCommand: "START_SIMULATION", TitleID: "ChatTitleSimulation", template: "simulation.tmpl"},
	KindWorkshop:        {Kind: KindWorkshop, StartCommand: "START_WORKSHOP", TitleID: "ChatTitleWorkshop", template: "workshop.tmpl"},
	KindSocratic:        {Kind: KindSocratic, StartCommand: "START_SOCRATIC", TitleID: "ChatTitleSocratic", template: "socratic.tmpl"},
	KindQuiz:            {Kind: KindQuiz, StartCommand: "START_QUIZ", TitleID: "ChatTitleQuiz", Signals: SignalQuizVerdict, template: "quiz.tmpl"},
	KindDebate:          {Kind: KindDebate, StartCommand: "START_DEBATE", TitleID: "ChatTitleDebate", template: "debate.tmpl"},
	KindCaseStudy:       {Kind: KindCaseStudy, StartCommand: "START_CASE_STUDY", TitleID: "ChatTitleCaseStudy", template: "case_study.tmpl"},
	KindELI5:            {Kind: KindELI5, StartCommand: "START_ELI5", TitleID: "ChatTitleELI5", template: "eli5.tmpl"},
	KindMath:            {Kind: KindMath, StartCommand: "START_MATH", TitleID: "ChatTitleMath", template: "math.tmpl"},
	KindBossScope:       {Kind: KindBossScope, StartCommand: "START_BOSS_SCOPE", TitleID: "ChatTitleBossScope", template: "default.tmpl"},
	KindBossRisk:        {Kind: KindBossRisk, StartCommand: "START_BOSS_RISK", TitleID: "ChatTitleBossRisk", template: "default.tmpl"},
	KindBossStakeholder: {Kind: KindBossStakeholder, StartCommand: "START_BOSS_STAKEHOLDER", TitleID: "ChatTitleBossStakeholder", template: "default.tmpl"},
	KindBossSchedule:    {Kind: KindBossSchedule, StartCommand: "START_BOSS_SCHEDULE", TitleID: "ChatTitleBossSchedule", template: "default.tmpl"},
	KindBossAgile:       {Kind: KindBossAgile, StartCommand: "START_BOSS_AGILE", TitleID: "ChatTitleBossAgile", template: "default.tmpl"},
	KindBossQuality:     {Kind: KindBossQuality, StartCommand: "START_BOSS_QUALITY", TitleID: "ChatTitleBossQuality", template: "default.tmpl"},
	KindLevelPractice:   {Kind: KindLevelPractice, StartCommand: "START_LEVEL_PRACTICE", TitleID: "ChatTitleLevelPractice", Leveled: true, template: "level_practice.tmpl"},
	KindLevelLesson:     {Kind: KindLevelLesson, StartCommand: "START_LEVEL_LESSON", TitleID: "ChatTitleLevelLesson", Leveled: true, template: "level_lesson.tmpl"},
	KindLevelOracle:     {Kind: KindLevelOracle, StartCommand: "START_LEVEL_ORACLE", TitleID: "ChatTitleLevelOracle", Leveled: true, template: "level_oracle.tmpl"},
	KindLevelExam:       {Kind: KindLevelExam, StartCommand: "START_LEVEL_EXAM", TitleID: "ChatTitleLevelExam", Leveled: true, Signals: SignalLevelExam, template: "level_exam.tmpl"},
}

var questionLimitRegex = regexp.MustCompile(`(\d+)\s+Preguntas`)

var (
	loadOnce  sync.Once
	loadErr   error
	templates *template.Template
)

// Selection is a resolved mode string: the table row, the topic for
// level modes, and the rendered system prompt.
type Selection struct {
	Mode   Mode
	Topic  string
	System string
}

type promptData struct {
	Topic         string
	QuestionLimit string
}

type generateData struct {
	Amount   int
	Topic    string
	Existing []string
}

// Load parses the embedded templates once.
func Load() error {
	loadOnce.Do(func() {
		templates, loadErr = template.ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// Parse splits a mode string such as "level_exam:Riesgo" into its kind and
// topic. Everything after the first colon is the topic; level modes
// without one get "General". Unknown kinds map to KindDefault.
func Parse(mode string) (Mode, string) {
	name, topic, hasTopic := strings.Cut(strings.TrimSpace(mode), ":")
	m, ok := modes[Kind(name)]
	if !ok {
		return modes[KindDefault], ""
	}
	if !m.Leveled {
		return m, ""
	}
	topic = sanitizeTopic(topic)
	if !hasTopic || topic == "" {
		topic = defaultTopic
	}
	return m, topic
}

// Select resolves a mode string to its system prompt.
func Select(mode string) (Selection, error) {
	if err := Load(); err != nil {
		return Selection{}, err
	}
	m, topic := Parse(mode)

	name := m.template
	data := promptData{Topic: topic}
	if m.Kind == KindLevelExam && IsSimulationTopic(topic) {
		name = simulatorExamTemplate
		data.QuestionLimit = QuestionLimit(topic)
	}

	system, err := render(name, data)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Mode: m, Topic: topic, System: system}, nil
}

// StartMessage returns the command the UI sends to open a mode, or "" for
// modes that wait for the user to speak first.
func StartMessage(mode string) string {
	m, topic := Parse(mode)
	if m.StartCommand == "" {
		return ""
	}
	if m.Leveled {
		return m.StartCommand + ": " + topic
	}
	return m.StartCommand
}

// IsStartMessage reports whether content is one of the start commands.
func IsStartMessage(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "START_")
}

// IsSimulationTopic reports whether a level exam topic is one of the full
// simulator levels.
func IsSimulationTopic(topic string) bool {
	return strings.Contains(topic, "Simulación") || strings.Contains(topic, "Simulacro")
}

// QuestionLimit extracts "45" from "Simulación Inicial (45 Preguntas)".
func QuestionLimit(topic string) string {
	if m := questionLimitRegex.FindStringSubmatch(topic); m != nil {
		return m[1]
	}
	return unknownQuestionLimitLabel
}

// Modes lists the table, ordered by kind.
func Modes() []Mode {
	out := make([]Mode, 0, len(modes))
	for _, m := range modes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// BuildGeneratePrompt renders the question generation instruction.
// Existing question texts are listed so the model avoids repeating them.
func BuildGeneratePrompt(topic string, amount int, existing []string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	topic = sanitizeTopic(topic)
	if topic == "" {
		topic = defaultGenerateTopic
	}
	if amount <= 0 {
		amount = defaultGenerateAmount
	}
	return render(generateTemplate, generateData{Amount: amount, Topic: topic, Existing: existing})
}

func render(name string, data any) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// sanitizeTopic drops control characters and caps the length of a
// client-supplied topic before it lands in a prompt.
func sanitizeTopic(topic string) string {
	topic = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, topic)
	topic = strings.TrimSpace(topic)
	if utf8.RuneCountInString(topic) > maxTopicRunes {
		topic = string([]rune(topic)[:maxTopicRunes])
	}
	return topic
}
