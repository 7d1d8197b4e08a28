package codeexec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/assessor/internal/llm/llmtest"
	"github.com/pavelanni/assessor/internal/model"
)

func codingQuestion(id string, cases int) model.Question {
	var tcs []model.TestCase
	for i := range cases {
		tcs = append(tcs, model.TestCase{Input: strings.Repeat("x", i+1), ExpectedOutput: "ok"})
	}
	return model.Question{ID: id, Text: "task " + id, Difficulty: model.DifficultyHard, Body: model.Coding{TestCases: tcs}}
}

func TestBatch(t *testing.T) {
	oracle := llmtest.New().On("code_simulation", `{"results": [
		{"questionId": "c1", "cases": [
			{"index": 0, "output": "ok", "passed": true},
			{"index": 1, "output": "ok", "passed": true},
			{"index": 1, "output": "ok", "passed": true},
			{"index": 7, "output": "ok", "passed": true},
			{"index": 2, "output": "no", "passed": false}
		]},
		{"questionId": "unknown", "cases": [{"index": 0, "output": "ok", "passed": true}]}
	]}`)
	sim := New(oracle)

	items := []Item{
		{Question: codingQuestion("c1", 4), Code: "print('ok')", Language: "python"},
		{Question: codingQuestion("c2", 2), Code: "", Language: "go"},
		{Question: model.Question{ID: "m1", Text: "mcq", Body: model.MCQ{Options: []string{"a"}, CorrectAnswer: "a"}}},
	}
	results, err := sim.Batch(context.Background(), items)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if oracle.CallCount("code_simulation") != 1 {
		t.Errorf("expected one oracle call, got %d", oracle.CallCount("code_simulation"))
	}

	tests := []struct {
		id            string
		passed, total int
	}{
		{"c1", 2, 4},
		{"c2", 0, 2},
	}
	for _, tt := range tests {
		r, ok := results[tt.id]
		if !ok {
			t.Fatalf("missing result for %s", tt.id)
		}
		if r.Passed != tt.passed || r.Total != tt.total {
			t.Errorf("%s: expected %d/%d, got %d/%d", tt.id, tt.passed, tt.total, r.Passed, r.Total)
		}
	}
	if _, ok := results["m1"]; ok {
		t.Error("non-coding question must not get a result")
	}
	if got := results["c1"].Cases[2].Output; got != "no" {
		t.Errorf("expected predicted output recorded, got %q", got)
	}
}

func TestRun(t *testing.T) {
	oracle := llmtest.New().On("code_simulation", `{"results": [{"questionId": "c1", "cases": [{"index": 0, "output": "ok", "passed": true}]}]}`)
	r, err := New(oracle).Run(context.Background(), codingQuestion("c1", 1), "code", "go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Passed != 1 || r.Total != 1 {
		t.Errorf("expected 1/1, got %d/%d", r.Passed, r.Total)
	}
	if !strings.Contains(oracle.Calls()[0].Prompt, "<student-code>") {
		t.Error("expected code delimited in prompt")
	}
}

func TestBatchOracleFailure(t *testing.T) {
	sim := New(llmtest.New().Fail("code_simulation", errors.New("timeout")))
	_, err := sim.Batch(context.Background(), []Item{{Question: codingQuestion("c1", 2), Code: "x"}})
	var gerr *model.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestBatchNoCodingItems(t *testing.T) {
	oracle := llmtest.New()
	results, err := New(oracle).Batch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(results) != 0 || len(oracle.Calls()) != 0 {
		t.Error("expected no oracle call for no coding items")
	}
}
