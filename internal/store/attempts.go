package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pavelanni/assessor/internal/model"
)

const attemptsGroup = "attempts"

func attemptsCollection(userID string) string {
	return "users/" + userID + "/" + attemptsGroup
}

// SaveAttempt appends a submitted attempt. An existing attempt with the same
// id is never overwritten.
func (s *Store) SaveAttempt(ctx context.Context, a model.AssessmentAttempt) error {
	if a.UserID == "" || a.ID == "" {
		return fmt.Errorf("save attempt: user id and attempt id are required")
	}
	err := s.Create(ctx, attemptsCollection(a.UserID), a.ID, a)
	if errors.Is(err, ErrExists) {
		return fmt.Errorf("save attempt %s: %w", a.ID, model.ErrAlreadyScored)
	}
	return err
}

func (s *Store) GetAttempt(ctx context.Context, userID, attemptID string) (model.AssessmentAttempt, error) {
	var a model.AssessmentAttempt
	err := s.Get(ctx, attemptsCollection(userID), attemptID, &a)
	return a, err
}

// History returns a user's attempts for one root lineage id, oldest first.
// An empty root returns all of the user's attempts.
func (s *Store) History(ctx context.Context, userID, rootID string) ([]model.AssessmentAttempt, error) {
	f := Filter{}
	if rootID != "" {
		f = Filter{Field: "rootAssessmentId", Value: rootID}
	}
	raws, err := s.Query(ctx, attemptsCollection(userID), f, 0)
	if err != nil {
		return nil, fmt.Errorf("attempt history: %w", err)
	}
	return decodeAll[model.AssessmentAttempt](raws)
}

// ListAllAttempts returns every attempt of every user, optionally limited to one root id.
func (s *Store) ListAllAttempts(ctx context.Context, rootID string) ([]model.AssessmentAttempt, error) {
	f := Filter{}
	if rootID != "" {
		f = Filter{Field: "rootAssessmentId", Value: rootID}
	}
	raws, err := s.QueryGroup(ctx, attemptsGroup, f, 0)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return decodeAll[model.AssessmentAttempt](raws)
}

// Leaderboard returns the best scored attempt per user for rootID, highest
// score first. Ties go to the earlier submission.
func (s *Store) Leaderboard(ctx context.Context, rootID string, limit int) ([]model.LeaderboardEntry, error) {
	attempts, err := s.ListAllAttempts(ctx, rootID)
	if err != nil {
		return nil, err
	}

	best := make(map[string]*model.LeaderboardEntry)
	for _, a := range attempts {
		if a.FinalScore == nil || a.SubmittedAt == nil {
			continue
		}
		e, ok := best[a.UserID]
		if !ok {
			e = &model.LeaderboardEntry{UserID: a.UserID, FinalScore: -1}
			best[a.UserID] = e
		}
		e.Attempts++
		if *a.FinalScore > e.FinalScore ||
			(*a.FinalScore == e.FinalScore && a.SubmittedAt.Before(e.SubmittedAt)) {
			e.AttemptID = a.ID
			e.FinalScore = *a.FinalScore
			e.SubmittedAt = *a.SubmittedAt
		}
	}

	entries := make([]model.LeaderboardEntry, 0, len(best))
	for _, e := range best {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FinalScore != entries[j].FinalScore {
			return entries[i].FinalScore > entries[j].FinalScore
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
