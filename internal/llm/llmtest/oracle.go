// Package llmtest provides a scripted oracle for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pavelanni/assessor/internal/llm"
)

// Reply is one scripted answer: either raw JSON or an error.
type Reply struct {
	JSON string
	Err  error
}

// Oracle answers requests by name from a script. Replies for a name are
// consumed in order; the last one repeats.
type Oracle struct {
	mu      sync.Mutex
	script  map[string][]Reply
	calls   []llm.Request
	counter map[string]int
}

// New creates an oracle with no scripted replies.
func New() *Oracle {
	return &Oracle{script: map[string][]Reply{}, counter: map[string]int{}}
}

// On appends a JSON reply for requests named name.
func (o *Oracle) On(name, json string) *Oracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.script[name] = append(o.script[name], Reply{JSON: json})
	return o
}

// Fail appends an error reply for requests named name.
func (o *Oracle) Fail(name string, err error) *Oracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.script[name] = append(o.script[name], Reply{Err: err})
	return o
}

// Calls returns the requests received so far.
func (o *Oracle) Calls() []llm.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]llm.Request(nil), o.calls...)
}

// CallCount returns how many requests named name were received.
func (o *Oracle) CallCount(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counter[name]
}

// Generate implements llm.Oracle.
func (o *Oracle) Generate(ctx context.Context, req llm.Request, out any) error {
	o.mu.Lock()
	o.calls = append(o.calls, req)
	n := o.counter[req.Name]
	o.counter[req.Name]++
	replies := o.script[req.Name]
	o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(replies) == 0 {
		return fmt.Errorf("no scripted reply for %q: %w", req.Name, llm.ErrEmptyResult)
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	r := replies[n]
	if r.Err != nil {
		return r.Err
	}
	if r.JSON == "" || r.JSON == "null" {
		return llm.ErrEmptyResult
	}
	if err := json.Unmarshal([]byte(r.JSON), out); err != nil {
		return fmt.Errorf("parse LLM response: %w", err)
	}
	if v, ok := out.(llm.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate LLM response: %w", err)
		}
	}
	return nil
}
