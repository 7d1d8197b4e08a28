// Package submission turns an in-progress session into a scored, stored attempt.
package submission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
)

// Scorer grades an attempt in place.
type Scorer interface {
	Score(ctx context.Context, a *model.AssessmentAttempt, roleName string) error
}

// AttemptSaver appends attempts.
type AttemptSaver interface {
	SaveAttempt(ctx context.Context, a model.AssessmentAttempt) error
}

// Service submits sessions.
type Service struct {
	scorer   Scorer
	attempts AttemptSaver
}

func New(scorer Scorer, attempts AttemptSaver) *Service {
	return &Service{scorer: scorer, attempts: attempts}
}

// Submit scores and stores the session's attempt. On failure the session
// stays in progress so the candidate can retry; nothing is stored.
// Official attempts are stored without the question snapshot, which the
// template already holds.
func (s *Service) Submit(ctx context.Context, m *session.Machine) (*model.AssessmentAttempt, error) {
	var roleName string
	if snap, ok := m.Snapshot(); ok && snap.Assessment != nil {
		roleName = snap.Assessment.RoleName
	}

	attempt, err := m.BeginSubmit()
	if err != nil {
		return nil, err
	}

	err = s.scoreAndSave(ctx, &attempt, roleName)
	m.FinishSubmit(ctx, err)
	if err != nil {
		slog.Error("submit failed", "user", attempt.UserID, "assessment", attempt.AssessmentID, "error", err)
		return nil, err
	}
	slog.Info("attempt submitted", "user", attempt.UserID, "attempt", attempt.ID,
		"root", attempt.RootAssessmentID, "score", *attempt.FinalScore)
	return &attempt, nil
}

func (s *Service) scoreAndSave(ctx context.Context, a *model.AssessmentAttempt, roleName string) error {
	if err := s.scorer.Score(ctx, a, roleName); err != nil {
		return fmt.Errorf("score attempt: %w", err)
	}
	stored := *a
	if stored.IsTemplate {
		stored.Questions = nil
	}
	if err := s.attempts.SaveAttempt(ctx, stored); err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

// AutoSubmit is a session.ExpireFunc that submits when time runs out.
func (s *Service) AutoSubmit(ctx context.Context, m *session.Machine) {
	if _, err := s.Submit(ctx, m); err != nil {
		slog.Warn("auto-submit failed", "error", err)
	}
}
