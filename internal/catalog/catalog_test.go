package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/llm/llmtest"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerateRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveRoles(ctx, []model.Role{{ID: "old", Name: "Backend Engineer", SubSkills: []string{"go"}}}); err != nil {
		t.Fatalf("SaveRoles: %v", err)
	}

	oracle := llmtest.New().On("role_catalog", `{"roles": [
		{"name": "Data Engineer", "description": "pipelines", "subSkills": ["SQL", "sql", " Spark ", ""]},
		{"name": "backend engineer", "description": "dup", "subSkills": ["go"]},
		{"name": "", "description": "nameless", "subSkills": ["x"]},
		{"name": "SRE", "description": "no skills", "subSkills": []}
	]}`)
	g := NewGenerator(s, oracle)

	roles, err := g.GenerateRoles(ctx, "data", 4)
	if err != nil {
		t.Fatalf("GenerateRoles: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("expected 1 new role, got %+v", roles)
	}
	if got := roles[0].SubSkills; len(got) != 2 || got[0] != "SQL" || got[1] != "Spark" {
		t.Errorf("unexpected sub-skills %v", got)
	}
	if roles[0].ID == "" {
		t.Error("expected an id")
	}

	all, err := s.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 stored roles, got %d", len(all))
	}
}

func TestGenerateRolesFailure(t *testing.T) {
	s := newTestStore(t)
	g := NewGenerator(s, llmtest.New().On("role_catalog", `{"roles": []}`))

	_, err := g.GenerateRoles(context.Background(), "data", 3)
	var gerr *model.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if gerr.Stage != "roles" {
		t.Errorf("unexpected stage %q", gerr.Stage)
	}
	if !errors.Is(err, llm.ErrEmptyResult) {
		t.Errorf("expected ErrEmptyResult, got %v", err)
	}
}
