package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	User        string          `json:"user,omitempty"`
	Attempts    int             `json:"attempts"`
	Results     []AttemptResult `json:"results"`
}

// AttemptResult holds one exam attempt for export.
type AttemptResult struct {
	SessionID      string        `json:"session_id"`
	Username       string        `json:"username"`
	DisplayName    string        `json:"display_name"`
	Topic          string        `json:"topic"`
	Type           string        `json:"type"`
	Status         SessionStatus `json:"status"`
	TotalQuestions int           `json:"total_questions"`
	Answered       int           `json:"answered"`
	Score          int           `json:"score"`
	Percentage     int           `json:"percentage"`
	Passed         bool          `json:"passed"`
	Created        time.Time     `json:"created"`
	Updated        time.Time     `json:"updated"`
	Domains        []DomainScore `json:"domains,omitempty"`
}

// DomainScore is the per-domain breakdown of a completed attempt.
type DomainScore struct {
	Domain  string `json:"domain"`
	Correct int    `json:"correct"`
	Total   int    `json:"total"`
}
