// Package assembly builds runnable assessments from official templates or
// from oracle-generated practice question sets.
package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// Practice distribution per sub-skill, plus the cross-skill share.
const (
	perSkillEasy   = 2
	perSkillMedium = 2
	perSkillHard   = 1
	combinedCount  = 5

	combinedSkill = "combined"
)

// QuestionSource fetches questions by id in chunks of at most MaxInQuery ids.
type QuestionSource interface {
	QuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error)
	MaxInQuery() int
}

// RoleSource loads roles.
type RoleSource interface {
	GetRole(ctx context.Context, id string) (model.Role, error)
}

// TemplateSource loads templates.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id string) (model.AssessmentTemplate, error)
}

// Assembler produces Assessments.
type Assembler struct {
	questions QuestionSource
	roles     RoleSource
	oracle    llm.Oracle
	newID     func() string
}

// New creates an Assembler.
func New(questions QuestionSource, roles RoleSource, oracle llm.Oracle) *Assembler {
	return &Assembler{
		questions: questions,
		roles:     roles,
		oracle:    oracle,
		newID:     uuid.NewString,
	}
}

// FromTemplate assembles the official assessment for tpl. Questions keep the
// exact order of tpl.QuestionIDs; ids missing from the store are skipped.
func (a *Assembler) FromTemplate(ctx context.Context, tpl model.AssessmentTemplate) (*model.Assessment, error) {
	if len(tpl.QuestionIDs) == 0 {
		return nil, fmt.Errorf("template %s: %w", tpl.ID, model.ErrEmptyTemplate)
	}

	fetched, err := a.fetchChunked(ctx, tpl.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch template questions: %w", err)
	}

	byID := make(map[string]model.Question, len(fetched))
	for _, q := range fetched {
		byID[q.ID] = q
	}
	ordered := make([]model.Question, 0, len(tpl.QuestionIDs))
	for _, id := range tpl.QuestionIDs {
		q, ok := byID[id]
		if !ok {
			slog.Warn("template question missing from store", "template", tpl.ID, "question", id)
			continue
		}
		ordered = append(ordered, q)
	}

	return &model.Assessment{
		ID:               tpl.ID,
		RoleID:           tpl.RoleID,
		RoleName:         tpl.Role,
		Questions:        ordered,
		TotalTimeLimit:   tpl.Duration * 60,
		IsTemplate:       true,
		TemplateID:       tpl.ID,
		RootAssessmentID: tpl.ID,
	}, nil
}

// AttemptQuestions returns the questions an attempt was answered against.
// Official attempts are stored without them and are resolved through their
// template.
func (a *Assembler) AttemptQuestions(ctx context.Context, templates TemplateSource, at model.AssessmentAttempt) ([]model.Question, error) {
	if len(at.Questions) > 0 || !at.IsTemplate {
		return at.Questions, nil
	}
	tpl, err := templates.GetTemplate(ctx, at.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("template of attempt %s: %w", at.ID, err)
	}
	assessment, err := a.FromTemplate(ctx, tpl)
	if err != nil {
		return nil, err
	}
	return assessment.Questions, nil
}

func (a *Assembler) fetchChunked(ctx context.Context, ids []string) ([]model.Question, error) {
	size := a.questions.MaxInQuery()
	if size <= 0 {
		size = 1
	}
	unique := dedupe(ids)

	var chunks [][]string
	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))
		chunks = append(chunks, unique[start:end])
	}

	results := make([][]model.Question, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			qs, err := a.questions.QuestionsByIDs(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = qs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.Question
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// Practice generates a fresh practice assessment for roleID.
func (a *Assembler) Practice(ctx context.Context, roleID string) (*model.Assessment, error) {
	role, err := a.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}

	skills := role.SubSkills
	if len(skills) == 0 {
		skills = []string{role.Name}
	}
	data := prompts.AssessmentData{
		RoleName:        role.Name,
		RoleDescription: role.Description,
		Combined:        combinedCount,
	}
	for _, s := range skills {
		data.Slots = append(data.Slots, prompts.SkillSlot{
			Skill:  s,
			Count:  perSkillEasy + perSkillMedium + perSkillHard,
			Easy:   perSkillEasy,
			Medium: perSkillMedium,
			Hard:   perSkillHard,
		})
	}
	data.Total = len(skills)*(perSkillEasy+perSkillMedium+perSkillHard) + combinedCount

	questions, err := a.Generate(ctx, data)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, q := range questions {
		total += q.TimeLimit
	}
	return &model.Assessment{
		ID:               "practice-" + a.newID(),
		RoleID:           role.ID,
		RoleName:         role.Name,
		Questions:        questions,
		TotalTimeLimit:   total,
		RootAssessmentID: role.ID,
	}, nil
}

type generatedQuestion struct {
	QuestionText  string           `json:"questionText"`
	Type          string           `json:"type"`
	Options       []string         `json:"options,omitempty"`
	CorrectAnswer string           `json:"correctAnswer,omitempty"`
	TestCases     []model.TestCase `json:"testCases,omitempty"`
	StarterCode   string           `json:"starterCode,omitempty"`
	Difficulty    string           `json:"difficulty"`
	TimeLimit     int              `json:"timeLimit"`
	Skill         string           `json:"skill"`
	Tags          []string         `json:"tags,omitempty"`
}

type generatedQuestions struct {
	Questions []generatedQuestion `json:"questions"`
}

// Validate rejects a reply without questions.
func (g *generatedQuestions) Validate() error {
	if len(g.Questions) == 0 {
		return fmt.Errorf("no questions: %w", llm.ErrEmptyResult)
	}
	return nil
}

// Generate asks the oracle for the questions described by data and returns
// the usable ones with fresh ids. Malformed items are dropped. A short result
// is logged; an empty one is a *model.GenerationError.
func (a *Assembler) Generate(ctx context.Context, data prompts.AssessmentData) ([]model.Question, error) {
	prompt, err := prompts.BuildAssessmentPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("build assessment prompt: %w", err)
	}

	var out generatedQuestions
	err = a.oracle.Generate(ctx, llm.Request{
		Name:        "assessment_questions",
		Prompt:      prompt,
		Temperature: 0.7,
	}, &out)
	if err != nil {
		return nil, &model.GenerationError{Stage: "assessment", Prompt: prompt, Err: err}
	}

	questions := make([]model.Question, 0, len(out.Questions))
	for i, g := range out.Questions {
		q, err := g.toQuestion(a.newID())
		if err != nil {
			slog.Warn("dropping malformed generated question", "index", i, "error", err)
			continue
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, &model.GenerationError{Stage: "assessment", Prompt: prompt, Err: llm.ErrEmptyResult}
	}
	if len(questions) < data.Total {
		slog.Warn("oracle returned fewer questions than requested",
			"role", data.RoleName, "requested", data.Total, "got", len(questions))
	}
	return questions, nil
}

// toQuestion validates a generated item. A missing or non-positive time
// limit gets the difficulty default so the practice budget stays positive.
func (g generatedQuestion) toQuestion(id string) (model.Question, error) {
	difficulty := normalizeDifficulty(g.Difficulty)
	limit := g.TimeLimit
	if limit <= 0 {
		limit = difficulty.DefaultTimeLimit()
	}
	rec := model.QuestionRecord{
		ID:            id,
		QuestionText:  strings.TrimSpace(g.QuestionText),
		Type:          model.QuestionType(g.Type),
		Options:       g.Options,
		CorrectAnswer: g.CorrectAnswer,
		TestCases:     g.TestCases,
		StarterCode:   g.StarterCode,
		Difficulty:    difficulty,
		TimeLimit:     limit,
		Skill:         strings.TrimSpace(g.Skill),
		Tags:          g.Tags,
	}
	if rec.Skill == combinedSkill {
		rec.Tags = append(rec.Tags, combinedSkill)
	}
	return rec.Question()
}

func normalizeDifficulty(s string) model.Difficulty {
	for _, d := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard} {
		if strings.EqualFold(strings.TrimSpace(s), string(d)) {
			return d
		}
	}
	return model.DifficultyMedium
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
