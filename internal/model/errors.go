package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyTemplate is returned when an official template has no question ids.
	ErrEmptyTemplate = errors.New("template has no questions")
	// ErrMissingQuestions is returned when an attempt is scored without its question set.
	ErrMissingQuestions = errors.New("attempt has no questions to score against")
	// ErrAlreadyScored is returned when scoring or saving would overwrite a scored attempt.
	ErrAlreadyScored = errors.New("attempt already scored")
	// ErrInvalidQuestion is returned for a question whose variant fields are incomplete.
	ErrInvalidQuestion = errors.New("invalid question")
)

// GenerationError reports an oracle call that produced nothing usable.
// Prompt holds the prompt that was sent, for support and debugging.
type GenerationError struct {
	Stage  string
	Prompt string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
