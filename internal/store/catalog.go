package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

const (
	rolesCollection     = "roles"
	questionsCollection = "questions"
	templatesCollection = "assessmentTemplates"
	cohortsCollection   = "cohorts"
)

// SaveRoles stores roles in one batch.
func (s *Store) SaveRoles(ctx context.Context, roles []model.Role) error {
	ops := make([]WriteOp, 0, len(roles))
	for _, r := range roles {
		ops = append(ops, WriteOp{Kind: OpSet, Collection: rolesCollection, ID: r.ID, Doc: r})
	}
	return s.BatchWrite(ctx, ops)
}

func (s *Store) GetRole(ctx context.Context, id string) (model.Role, error) {
	var r model.Role
	err := s.Get(ctx, rolesCollection, id, &r)
	return r, err
}

func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	raws, err := s.Query(ctx, rolesCollection, Filter{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return decodeAll[model.Role](raws)
}

func (s *Store) GetQuestion(ctx context.Context, id string) (model.Question, error) {
	var q model.Question
	err := s.Get(ctx, questionsCollection, id, &q)
	return q, err
}

// QuestionsByIDs fetches one chunk of questions. len(ids) must not exceed
// MaxInQuery. The result order is unspecified and missing ids are skipped.
func (s *Store) QuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	raws, err := s.GetMany(ctx, questionsCollection, ids)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	return decodeAll[model.Question](raws)
}

// QuestionOps returns the batch ops that create qs. Stored questions are
// immutable: a batch reusing an existing id fails with ErrExists.
func QuestionOps(qs []model.Question) []WriteOp {
	ops := make([]WriteOp, 0, len(qs))
	for _, q := range qs {
		ops = append(ops, WriteOp{Kind: OpCreate, Collection: questionsCollection, ID: q.ID, Doc: q})
	}
	return ops
}

// TemplateOp returns the batch op that stores t.
func TemplateOp(t model.AssessmentTemplate) WriteOp {
	return WriteOp{Kind: OpSet, Collection: templatesCollection, ID: t.ID, Doc: t}
}

func (s *Store) GetTemplate(ctx context.Context, id string) (model.AssessmentTemplate, error) {
	var t model.AssessmentTemplate
	err := s.Get(ctx, templatesCollection, id, &t)
	return t, err
}

func (s *Store) SaveTemplate(ctx context.Context, t model.AssessmentTemplate) error {
	return s.BatchWrite(ctx, []WriteOp{TemplateOp(t)})
}

// ListTemplates returns templates, optionally only those with status.
func (s *Store) ListTemplates(ctx context.Context, status model.TemplateStatus) ([]model.AssessmentTemplate, error) {
	f := Filter{}
	if status != "" {
		f = Filter{Field: "status", Value: string(status)}
	}
	raws, err := s.Query(ctx, templatesCollection, f, 0)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return decodeAll[model.AssessmentTemplate](raws)
}

func (s *Store) GetCohort(ctx context.Context, id string) (model.Cohort, error) {
	var c model.Cohort
	err := s.Get(ctx, cohortsCollection, id, &c)
	return c, err
}

func (s *Store) SaveCohort(ctx context.Context, c model.Cohort) error {
	return s.Put(ctx, cohortsCollection, c.ID, c)
}
