package model

import (
	"context"
	"time"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Weight returns the scoring weight of a difficulty level.
// Unknown levels weigh the same as Easy.
func (d Difficulty) Weight() float64 {
	switch d {
	case DifficultyMedium:
		return 1.5
	case DifficultyHard:
		return 2.0
	default:
		return 1.0
	}
}

// DefaultTimeLimit is the per-question time limit in seconds used when a
// generated question comes without a usable one.
func (d Difficulty) DefaultTimeLimit() int {
	switch d {
	case DifficultyEasy:
		return 60
	case DifficultyHard:
		return 300
	default:
		return 120
	}
}

// Valid reports whether d is one of the known levels.
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// DefaultSkill is the skill bucket used when a question names none.
const DefaultSkill = "general"

// Role is a job role with the sub-skills an assessment covers.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SubSkills   []string `json:"subSkills"`
}

// TemplateStatus represents the lifecycle state of a template.
type TemplateStatus string

const (
	TemplateDraft  TemplateStatus = "draft"
	TemplateActive TemplateStatus = "active"
)

// DifficultyMix holds difficulty percentages for a template.
type DifficultyMix struct {
	Easy   int `json:"easy" yaml:"easy"`
	Medium int `json:"medium" yaml:"medium"`
	Hard   int `json:"hard" yaml:"hard"`
}

// AssessmentTemplate is an official assessment definition, identical for every candidate.
type AssessmentTemplate struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Role          string         `json:"role" yaml:"role"`
	RoleID        string         `json:"roleId" yaml:"roleId"`
	Skills        []string       `json:"skills" yaml:"skills"`
	QuestionCount int            `json:"questionCount" yaml:"questionCount"`
	Duration      int            `json:"duration" yaml:"duration"` // minutes
	DifficultyMix DifficultyMix  `json:"difficultyMix" yaml:"difficultyMix"`
	QuestionIDs   []string       `json:"questionIds" yaml:"questionIds"`
	Status        TemplateStatus `json:"status" yaml:"status"`
	Version       int            `json:"version" yaml:"version"`
	CreatedBy     string         `json:"createdBy" yaml:"createdBy"`
	CreatedAt     time.Time      `json:"createdAt" yaml:"createdAt"`
}

// Cohort is a group of candidates assigned a set of templates.
type Cohort struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TemplateIDs  []string  `json:"templateIds"`
	CandidateIDs []string  `json:"candidateIds"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Assessment is the runtime instantiation of a template or a practice run.
// It is never persisted as its own document.
type Assessment struct {
	ID               string     `json:"id"`
	RoleID           string     `json:"roleId"`
	RoleName         string     `json:"roleName"`
	Questions        []Question `json:"questions"`
	TotalTimeLimit   int        `json:"totalTimeLimit"` // seconds
	IsTemplate       bool       `json:"isTemplate"`
	TemplateID       string     `json:"templateId,omitempty"`
	RootAssessmentID string     `json:"rootAssessmentId"`
}

// Question returns the question with the given id.
func (a *Assessment) Question(id string) (Question, bool) {
	for _, q := range a.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// UserResponse is a candidate's answer to one question.
// IsCorrect, TestCasesPassed, TotalTestCases and Factor are written only by scoring.
type UserResponse struct {
	QuestionID      string     `json:"questionId"`
	Skill           string     `json:"skill"`
	Difficulty      Difficulty `json:"difficulty"`
	Answer          string     `json:"answer,omitempty"`
	Code            string     `json:"code,omitempty"`
	Language        string     `json:"language,omitempty"`
	TimeTaken       int        `json:"timeTaken"`
	IsCorrect       *bool      `json:"isCorrect,omitempty"`
	TestCasesPassed *int       `json:"testCasesPassed,omitempty"`
	TotalTestCases  *int       `json:"totalTestCases,omitempty"`
	Factor          *float64   `json:"factor,omitempty"`
}

// AssessmentAttempt is a submitted attempt. Once scored it is append-only.
type AssessmentAttempt struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	AssessmentID     string         `json:"assessmentId"`
	RoleID           string         `json:"roleId"`
	IsTemplate       bool           `json:"isTemplate"`
	StartedAt        time.Time      `json:"startedAt"`
	SubmittedAt      *time.Time     `json:"submittedAt,omitempty"`
	Responses        []UserResponse `json:"responses"`
	Questions        []Question     `json:"questions,omitempty"`
	FinalScore       *int           `json:"finalScore,omitempty"`
	SkillScores      map[string]int `json:"skillScores,omitempty"`
	AIFeedback       string         `json:"aiFeedback,omitempty"`
	RootAssessmentID string         `json:"rootAssessmentId"`
}

// LeaderboardEntry is the best score of one candidate for a root lineage id.
type LeaderboardEntry struct {
	UserID      string    `json:"userId"`
	AttemptID   string    `json:"attemptId"`
	FinalScore  int       `json:"finalScore"`
	SubmittedAt time.Time `json:"submittedAt"`
	Attempts    int       `json:"attempts"`
}

type userCtxKey struct{}

// ContextWithUserID stores the candidate id in the request context.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, id)
}

// UserIDFromContext retrieves the candidate id from context, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userCtxKey{}).(string)
	return id
}
