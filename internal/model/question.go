package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QuestionType is the discriminator of the Question union.
type QuestionType string

const (
	TypeMCQ    QuestionType = "mcq"
	TypeShort  QuestionType = "short"
	TypeCoding QuestionType = "coding"
)

// TestCase is one input/expected-output pair for a coding question.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expectedOutput" yaml:"expectedOutput"`
}

// Body is the variant part of a Question. It is implemented by MCQ,
// ShortAnswer and Coding only.
type Body interface {
	Type() QuestionType
	validate() error
}

// MCQ is a multiple-choice question body.
type MCQ struct {
	Options       []string
	CorrectAnswer string
}

// ShortAnswer is a free-text question body graded by semantic similarity.
type ShortAnswer struct {
	CorrectAnswer string
}

// Coding is a programming question body graded by test cases.
type Coding struct {
	TestCases   []TestCase
	StarterCode string
}

func (MCQ) Type() QuestionType         { return TypeMCQ }
func (ShortAnswer) Type() QuestionType { return TypeShort }
func (Coding) Type() QuestionType      { return TypeCoding }

func (b MCQ) validate() error {
	if len(b.Options) == 0 {
		return fmt.Errorf("%w: mcq requires options", ErrInvalidQuestion)
	}
	if strings.TrimSpace(b.CorrectAnswer) == "" {
		return fmt.Errorf("%w: mcq requires correctAnswer", ErrInvalidQuestion)
	}
	return nil
}

func (b ShortAnswer) validate() error {
	if strings.TrimSpace(b.CorrectAnswer) == "" {
		return fmt.Errorf("%w: short requires correctAnswer", ErrInvalidQuestion)
	}
	return nil
}

func (b Coding) validate() error {
	if len(b.TestCases) == 0 {
		return fmt.Errorf("%w: coding requires testCases", ErrInvalidQuestion)
	}
	return nil
}

// Question is an assessment question. Common fields live on the struct,
// type-specific fields live in Body.
type Question struct {
	ID         string
	Text       string
	Difficulty Difficulty
	TimeLimit  int // seconds
	Skill      string
	Tags       []string
	Body       Body
}

// Type returns the question type, or "" when the body is missing.
func (q Question) Type() QuestionType {
	if q.Body == nil {
		return ""
	}
	return q.Body.Type()
}

// SkillOrDefault returns the skill bucket of the question.
func (q Question) SkillOrDefault() string {
	if s := strings.TrimSpace(q.Skill); s != "" {
		return s
	}
	return DefaultSkill
}

// Validate checks that the question has a body with all variant fields set.
func (q Question) Validate() error {
	if q.Body == nil {
		return fmt.Errorf("%w: question %q has no type", ErrInvalidQuestion, q.ID)
	}
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question %q has no text", ErrInvalidQuestion, q.ID)
	}
	if q.TimeLimit < 0 {
		return fmt.Errorf("%w: question %q has a negative time limit", ErrInvalidQuestion, q.ID)
	}
	return q.Body.validate()
}

// QuestionRecord is the flat wire form of a Question.
type QuestionRecord struct {
	ID            string       `json:"id" yaml:"id"`
	QuestionText  string       `json:"questionText" yaml:"questionText"`
	Type          QuestionType `json:"type" yaml:"type"`
	Options       []string     `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty" yaml:"correctAnswer,omitempty"`
	TestCases     []TestCase   `json:"testCases,omitempty" yaml:"testCases,omitempty"`
	Difficulty    Difficulty   `json:"difficulty" yaml:"difficulty"`
	TimeLimit     int          `json:"timeLimit" yaml:"timeLimit"`
	Skill         string       `json:"skill" yaml:"skill"`
	Tags          []string     `json:"tags" yaml:"tags"`
	StarterCode   string       `json:"starterCode,omitempty" yaml:"starterCode,omitempty"`
}

// Record flattens q into its wire form.
func (q Question) Record() QuestionRecord {
	r := QuestionRecord{
		ID:           q.ID,
		QuestionText: q.Text,
		Difficulty:   q.Difficulty,
		TimeLimit:    q.TimeLimit,
		Skill:        q.Skill,
		Tags:         q.Tags,
	}
	switch b := q.Body.(type) {
	case MCQ:
		r.Type = TypeMCQ
		r.Options = b.Options
		r.CorrectAnswer = b.CorrectAnswer
	case ShortAnswer:
		r.Type = TypeShort
		r.CorrectAnswer = b.CorrectAnswer
	case Coding:
		r.Type = TypeCoding
		r.TestCases = b.TestCases
		r.StarterCode = b.StarterCode
	}
	return r
}

// Question converts the record to a validated Question.
func (r QuestionRecord) Question() (Question, error) {
	q := Question{
		ID:         r.ID,
		Text:       r.QuestionText,
		Difficulty: r.Difficulty,
		TimeLimit:  r.TimeLimit,
		Skill:      r.Skill,
		Tags:       r.Tags,
	}
	switch QuestionType(strings.ToLower(string(r.Type))) {
	case TypeMCQ:
		q.Body = MCQ{Options: r.Options, CorrectAnswer: r.CorrectAnswer}
	case TypeShort:
		q.Body = ShortAnswer{CorrectAnswer: r.CorrectAnswer}
	case TypeCoding:
		q.Body = Coding{TestCases: r.TestCases, StarterCode: r.StarterCode}
	default:
		return Question{}, fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, r.Type)
	}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

func (q Question) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Record())
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var r QuestionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	parsed, err := r.Question()
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
