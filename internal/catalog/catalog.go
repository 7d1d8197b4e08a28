// Package catalog generates the role and sub-skill catalog with the oracle.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// RoleStore lists and stores roles.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]model.Role, error)
	SaveRoles(ctx context.Context, roles []model.Role) error
}

// Generator creates roles from a domain description.
type Generator struct {
	store  RoleStore
	oracle llm.Oracle
	newID  func() string
}

func NewGenerator(store RoleStore, oracle llm.Oracle) *Generator {
	return &Generator{store: store, oracle: oracle, newID: uuid.NewString}
}

type generatedRole struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SubSkills   []string `json:"subSkills"`
}

type generatedRoles struct {
	Roles []generatedRole `json:"roles"`
}

func (g *generatedRoles) Validate() error {
	if len(g.Roles) == 0 {
		return fmt.Errorf("no roles: %w", llm.ErrEmptyResult)
	}
	return nil
}

// GenerateRoles asks the oracle for count new roles in domain, keeps the
// valid ones not already in the catalog, and stores them in one batch.
func (g *Generator) GenerateRoles(ctx context.Context, domain string, count int) ([]model.Role, error) {
	if count <= 0 {
		count = 5
	}
	existing, err := g.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	names := make([]string, 0, len(existing))
	for _, r := range existing {
		seen[strings.ToLower(r.Name)] = true
		names = append(names, r.Name)
	}

	prompt, err := prompts.BuildRolesPrompt(prompts.RolesData{Domain: domain, Count: count, Existing: names})
	if err != nil {
		return nil, fmt.Errorf("build roles prompt: %w", err)
	}

	var out generatedRoles
	if err := g.oracle.Generate(ctx, llm.Request{Name: "role_catalog", Prompt: prompt, Temperature: 0.7}, &out); err != nil {
		return nil, &model.GenerationError{Stage: "roles", Prompt: prompt, Err: err}
	}

	var roles []model.Role
	for _, gr := range out.Roles {
		name := strings.TrimSpace(gr.Name)
		skills := cleanSkills(gr.SubSkills)
		if name == "" || len(skills) == 0 {
			slog.Warn("dropping malformed generated role", "name", gr.Name)
			continue
		}
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		roles = append(roles, model.Role{
			ID:          g.newID(),
			Name:        name,
			Description: strings.TrimSpace(gr.Description),
			SubSkills:   skills,
		})
	}
	if len(roles) == 0 {
		return nil, &model.GenerationError{Stage: "roles", Prompt: prompt, Err: llm.ErrEmptyResult}
	}

	if err := g.store.SaveRoles(ctx, roles); err != nil {
		return nil, fmt.Errorf("save roles: %w", err)
	}
	slog.Info("generated roles", "domain", domain, "count", len(roles))
	return roles, nil
}

func cleanSkills(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
