package model

import "time"

// AttemptExport is the top-level JSON structure for attempt export.
type AttemptExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Root       string          `json:"root,omitempty"`
	Count      int             `json:"count"`
	Results    []AttemptResult `json:"results"`
}

// AttemptResult holds one scored attempt for export.
type AttemptResult struct {
	AttemptID        string         `json:"attempt_id"`
	UserID           string         `json:"user_id"`
	RootAssessmentID string         `json:"root_assessment_id"`
	Official         bool           `json:"official"`
	SessionNumber    int            `json:"session_number"`
	StartedAt        time.Time      `json:"started_at"`
	SubmittedAt      *time.Time     `json:"submitted_at,omitempty"`
	FinalScore       *int           `json:"final_score,omitempty"`
	SkillScores      map[string]int `json:"skill_scores,omitempty"`
	Feedback         string         `json:"feedback,omitempty"`
	Responses        []UserResponse `json:"responses"`
}
