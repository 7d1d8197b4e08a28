// Package codeexec predicts the outcome of candidate code against test
// cases with the oracle. Nothing is ever executed.
package codeexec

import (
	"context"
	"fmt"

	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// Item is one submission to simulate.
type Item struct {
	Question model.Question
	Code     string
	Language string
}

// CaseResult is the predicted outcome of one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Input    string `json:"input"`
	Expected string `json:"expectedOutput"`
	Output   string `json:"output"`
	Passed   bool   `json:"passed"`
}

// Result is the predicted outcome of one submission.
type Result struct {
	QuestionID string       `json:"questionId"`
	Cases      []CaseResult `json:"cases"`
	Passed     int          `json:"testCasesPassed"`
	Total      int          `json:"totalTestCases"`
}

// Simulator asks the oracle to trace code.
type Simulator struct {
	oracle llm.Oracle
}

func New(oracle llm.Oracle) *Simulator {
	return &Simulator{oracle: oracle}
}

type simulatedCase struct {
	Index  int    `json:"index"`
	Output string `json:"output"`
	Passed bool   `json:"passed"`
}

type simulatedResult struct {
	QuestionID string          `json:"questionId"`
	Cases      []simulatedCase `json:"cases"`
}

type simulation struct {
	Results []simulatedResult `json:"results"`
}

// Run simulates a single submission.
func (s *Simulator) Run(ctx context.Context, q model.Question, code, language string) (Result, error) {
	results, err := s.Batch(ctx, []Item{{Question: q, Code: code, Language: language}})
	if err != nil {
		return Result{}, err
	}
	return results[q.ID], nil
}

// Batch simulates all items with one oracle call. Every coding item gets a
// result; test cases the oracle did not report count as failed.
func (s *Simulator) Batch(ctx context.Context, items []Item) (map[string]Result, error) {
	results := make(map[string]Result, len(items))
	var promptItems []prompts.CodeItem
	for _, it := range items {
		c, ok := it.Question.Body.(model.Coding)
		if !ok {
			continue
		}
		r := Result{QuestionID: it.Question.ID, Total: len(c.TestCases)}
		for i, tc := range c.TestCases {
			r.Cases = append(r.Cases, CaseResult{Index: i, Input: tc.Input, Expected: tc.ExpectedOutput})
		}
		results[it.Question.ID] = r
		promptItems = append(promptItems, prompts.CodeItem{
			QuestionID: it.Question.ID,
			Question:   it.Question.Text,
			Language:   it.Language,
			Code:       it.Code,
			TestCases:  c.TestCases,
		})
	}
	if len(promptItems) == 0 {
		return results, nil
	}

	prompt, err := prompts.BuildRunCodePrompt(promptItems)
	if err != nil {
		return nil, fmt.Errorf("build run code prompt: %w", err)
	}
	var out simulation
	if err := s.oracle.Generate(ctx, llm.Request{Name: "code_simulation", Prompt: prompt}, &out); err != nil {
		return nil, &model.GenerationError{Stage: "code simulation", Prompt: prompt, Err: err}
	}

	for _, sr := range out.Results {
		r, ok := results[sr.QuestionID]
		if !ok {
			continue
		}
		seen := make(map[int]bool, len(sr.Cases))
		for _, c := range sr.Cases {
			if c.Index < 0 || c.Index >= len(r.Cases) || seen[c.Index] {
				continue
			}
			seen[c.Index] = true
			r.Cases[c.Index].Output = c.Output
			r.Cases[c.Index].Passed = c.Passed
		}
		r.Passed = 0
		for _, c := range r.Cases {
			if c.Passed {
				r.Passed++
			}
		}
		results[sr.QuestionID] = r
	}
	return results, nil
}
