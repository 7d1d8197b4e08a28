package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDifficultyWeight(t *testing.T) {
	tests := []struct {
		d    Difficulty
		want float64
	}{
		{DifficultyEasy, 1.0},
		{DifficultyMedium, 1.5},
		{DifficultyHard, 2.0},
		{"", 1.0},
		{"Extreme", 1.0},
	}
	for _, tt := range tests {
		if got := tt.d.Weight(); got != tt.want {
			t.Errorf("Weight(%q) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestQuestionUnmarshalVariants(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    QuestionType
		wantErr bool
	}{
		{"mcq", `{"id":"q1","questionText":"Capital of France?","type":"mcq","options":["Paris","Rome"],"correctAnswer":"Paris","difficulty":"Easy"}`, TypeMCQ, false},
		{"mcq without options", `{"id":"q1","questionText":"Capital?","type":"mcq","correctAnswer":"Paris"}`, "", true},
		{"mcq without answer", `{"id":"q1","questionText":"Capital?","type":"mcq","options":["a"]}`, "", true},
		{"short", `{"id":"q2","questionText":"Define REST","type":"short","correctAnswer":"An architectural style"}`, TypeShort, false},
		{"short without answer", `{"id":"q2","questionText":"Define REST","type":"short"}`, "", true},
		{"coding", `{"id":"q3","questionText":"Sum","type":"coding","testCases":[{"input":"1 2","expectedOutput":"3"}],"starterCode":"def f(): pass"}`, TypeCoding, false},
		{"coding without tests", `{"id":"q3","questionText":"Sum","type":"coding"}`, "", true},
		{"uppercase type", `{"id":"q4","questionText":"Q","type":"MCQ","options":["a"],"correctAnswer":"a"}`, TypeMCQ, false},
		{"unknown type", `{"id":"q5","questionText":"Q","type":"essay"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Question
			err := json.Unmarshal([]byte(tt.raw), &q)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuestion) {
					t.Fatalf("expected ErrInvalidQuestion, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if q.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", q.Type(), tt.want)
			}
		})
	}
}

func TestQuestionMarshalIsFlat(t *testing.T) {
	q := Question{
		ID:         "q1",
		Text:       "Sum two numbers",
		Difficulty: DifficultyHard,
		Skill:      "algorithms",
		Body: Coding{
			TestCases:   []TestCase{{Input: "1 2", ExpectedOutput: "3"}},
			StarterCode: "func sum() {}",
		},
	}
	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal map: %v", err)
	}
	if flat["type"] != "coding" {
		t.Errorf("expected type coding, got %v", flat["type"])
	}
	if _, ok := flat["correctAnswer"]; ok {
		t.Error("coding question must not carry correctAnswer")
	}
	if flat["starterCode"] != "func sum() {}" {
		t.Errorf("unexpected starterCode %v", flat["starterCode"])
	}
}

func TestSkillOrDefault(t *testing.T) {
	if got := (Question{Skill: "  "}).SkillOrDefault(); got != DefaultSkill {
		t.Errorf("expected %q, got %q", DefaultSkill, got)
	}
	if got := (Question{Skill: "sql"}).SkillOrDefault(); got != "sql" {
		t.Errorf("expected sql, got %q", got)
	}
}

func TestGenerationErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&GenerationError{Stage: "practice", Prompt: "p", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("GenerationError should unwrap to its cause")
	}
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Prompt != "p" {
		t.Error("errors.As should expose the prompt context")
	}
}

func TestValidateTimeLimit(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		wantErr bool
	}{
		{"unset", 0, false},
		{"positive", 90, false},
		{"negative", -5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Question{ID: "q", Text: "Why?", TimeLimit: tt.limit, Body: ShortAnswer{CorrectAnswer: "because"}}
			err := q.Validate()
			if tt.wantErr != errors.Is(err, ErrInvalidQuestion) {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultTimeLimit(t *testing.T) {
	for _, d := range []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard, ""} {
		if d.DefaultTimeLimit() <= 0 {
			t.Errorf("DefaultTimeLimit(%q) must be positive", d)
		}
	}
}
