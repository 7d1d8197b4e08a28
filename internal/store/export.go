package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// ExportAttempts builds export-ready results from every stored attempt,
// optionally limited to one root lineage id.
func (s *Store) ExportAttempts(ctx context.Context, rootID string) ([]model.AttemptResult, error) {
	attempts, err := s.ListAllAttempts(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("export attempts: %w", err)
	}

	// Track attempt count per user and root for session_number.
	sessionCount := make(map[[2]string]int)

	results := make([]model.AttemptResult, 0, len(attempts))
	for _, a := range attempts {
		key := [2]string{a.UserID, a.RootAssessmentID}
		sessionCount[key]++

		results = append(results, model.AttemptResult{
			AttemptID:        a.ID,
			UserID:           a.UserID,
			RootAssessmentID: a.RootAssessmentID,
			Official:         a.IsTemplate,
			SessionNumber:    sessionCount[key],
			StartedAt:        a.StartedAt,
			SubmittedAt:      a.SubmittedAt,
			FinalScore:       a.FinalScore,
			SkillScores:      a.SkillScores,
			Feedback:         a.AIFeedback,
			Responses:        a.Responses,
		})
	}
	return results, nil
}
