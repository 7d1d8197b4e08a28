// Package templates manages the lifecycle of official assessment templates.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/assessor/internal/assembly"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

var (
	// ErrNotActive is returned when an operation needs an active template.
	ErrNotActive = errors.New("template is not active")
	// ErrInvalidMix is returned when difficulty percentages do not sum to 100.
	ErrInvalidMix = errors.New("difficulty mix must sum to 100")
	// ErrInvalidTemplate is returned for templates missing required fields.
	ErrInvalidTemplate = errors.New("invalid template")
)

// DefaultMix is used by GenerateDraft when no mix is given.
var DefaultMix = model.DifficultyMix{Easy: 40, Medium: 40, Hard: 20}

// Service implements template and cohort administration.
type Service struct {
	store     *store.Store
	assembler *assembly.Assembler
	now       func() time.Time
	newID     func() string
}

func New(s *store.Store, a *assembly.Assembler) *Service {
	return &Service{store: s, assembler: a, now: time.Now, newID: uuid.NewString}
}

// CreateInput describes a manually authored template.
type CreateInput struct {
	Name          string              `json:"name"`
	Role          string              `json:"role"`
	RoleID        string              `json:"roleId"`
	Skills        []string            `json:"skills"`
	Duration      int                 `json:"duration"`
	DifficultyMix model.DifficultyMix `json:"difficultyMix"`
	CreatedBy     string              `json:"createdBy"`
	Questions     []model.Question    `json:"questions"`
}

// Create stores a draft template and its questions in one batch. Questions
// without an id get a fresh one; an id that is already stored fails with
// store.ErrExists and nothing is written.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.AssessmentTemplate, error) {
	if strings.TrimSpace(in.Name) == "" {
		return model.AssessmentTemplate{}, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if in.Duration <= 0 {
		return model.AssessmentTemplate{}, fmt.Errorf("%w: duration must be positive", ErrInvalidTemplate)
	}

	questions := make([]model.Question, len(in.Questions))
	ids := make([]string, len(in.Questions))
	for i, q := range in.Questions {
		if q.ID == "" {
			q.ID = s.newID()
		}
		if err := q.Validate(); err != nil {
			return model.AssessmentTemplate{}, fmt.Errorf("question %d: %w", i, err)
		}
		questions[i] = q
		ids[i] = q.ID
	}

	skills := in.Skills
	if len(skills) == 0 {
		skills = skillsOf(questions)
	}
	tpl := model.AssessmentTemplate{
		ID:            s.newID(),
		Name:          strings.TrimSpace(in.Name),
		Role:          in.Role,
		RoleID:        in.RoleID,
		Skills:        skills,
		QuestionCount: len(questions),
		Duration:      in.Duration,
		DifficultyMix: in.DifficultyMix,
		QuestionIDs:   ids,
		Status:        model.TemplateDraft,
		Version:       1,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     s.now().UTC(),
	}

	ops := append(store.QuestionOps(questions), store.TemplateOp(tpl))
	if err := s.store.BatchWrite(ctx, ops); err != nil {
		return model.AssessmentTemplate{}, fmt.Errorf("create template: %w", err)
	}
	slog.Info("template created", "id", tpl.ID, "name", tpl.Name, "questions", len(ids))
	return tpl, nil
}

// DraftInput describes an oracle-authored template.
type DraftInput struct {
	Name          string              `json:"name"`
	RoleID        string              `json:"roleId"`
	Skills        []string            `json:"skills"`
	QuestionCount int                 `json:"questionCount"`
	Duration      int                 `json:"duration"`
	DifficultyMix model.DifficultyMix `json:"difficultyMix"`
	CreatedBy     string              `json:"createdBy"`
}

// GenerateDraft asks the oracle for questions that follow the requested
// count and difficulty mix, then stores them as a draft template.
func (s *Service) GenerateDraft(ctx context.Context, in DraftInput) (model.AssessmentTemplate, error) {
	if in.QuestionCount <= 0 {
		return model.AssessmentTemplate{}, fmt.Errorf("%w: questionCount must be positive", ErrInvalidTemplate)
	}
	mix := in.DifficultyMix
	if mix == (model.DifficultyMix{}) {
		mix = DefaultMix
	}
	if mix.Easy < 0 || mix.Medium < 0 || mix.Hard < 0 || mix.Easy+mix.Medium+mix.Hard != 100 {
		return model.AssessmentTemplate{}, ErrInvalidMix
	}

	role, err := s.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return model.AssessmentTemplate{}, fmt.Errorf("load role: %w", err)
	}
	skills := in.Skills
	if len(skills) == 0 {
		skills = role.SubSkills
	}
	if len(skills) == 0 {
		skills = []string{role.Name}
	}

	data := prompts.AssessmentData{
		RoleName:        role.Name,
		RoleDescription: role.Description,
		Slots:           planSlots(skills, SplitMix(in.QuestionCount, mix)),
		Total:           in.QuestionCount,
	}
	questions, err := s.assembler.Generate(ctx, data)
	if err != nil {
		return model.AssessmentTemplate{}, err
	}
	if len(questions) > in.QuestionCount {
		questions = questions[:in.QuestionCount]
	}

	duration := in.Duration
	if duration <= 0 {
		total := 0
		for _, q := range questions {
			total += q.TimeLimit
		}
		duration = max(1, (total+59)/60)
	}
	return s.Create(ctx, CreateInput{
		Name:          in.Name,
		Role:          role.Name,
		RoleID:        role.ID,
		Skills:        skills,
		Duration:      duration,
		DifficultyMix: mix,
		CreatedBy:     in.CreatedBy,
		Questions:     questions,
	})
}

// SplitMix converts percentages into question counts that sum to n, using
// the largest remainder.
func SplitMix(n int, mix model.DifficultyMix) [3]int {
	pcts := [3]int{mix.Easy, mix.Medium, mix.Hard}
	var counts [3]int
	var rems [3]int
	assigned := 0
	for i, p := range pcts {
		counts[i] = n * p / 100
		rems[i] = n * p % 100
		assigned += counts[i]
	}
	for assigned < n {
		best := 0
		for i := 1; i < 3; i++ {
			if rems[i] > rems[best] {
				best = i
			}
		}
		counts[best]++
		rems[best] = -1
		assigned++
	}
	return counts
}

// planSlots deals the difficulty counts round-robin across skills.
func planSlots(skills []string, counts [3]int) []prompts.SkillSlot {
	slots := make([]prompts.SkillSlot, len(skills))
	for i, sk := range skills {
		slots[i].Skill = sk
	}
	next := 0
	for d, n := range counts {
		for range n {
			sl := &slots[next%len(slots)]
			switch d {
			case 0:
				sl.Easy++
			case 1:
				sl.Medium++
			default:
				sl.Hard++
			}
			sl.Count++
			next++
		}
	}
	return slices.DeleteFunc(slots, func(sl prompts.SkillSlot) bool { return sl.Count == 0 })
}

// Activate makes a template assignable. A template without questions cannot
// be activated.
func (s *Service) Activate(ctx context.Context, id string) (model.AssessmentTemplate, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return tpl, err
	}
	if len(tpl.QuestionIDs) == 0 {
		return tpl, fmt.Errorf("activate %s: %w", id, model.ErrEmptyTemplate)
	}
	return s.setStatus(ctx, tpl, model.TemplateActive)
}

// Deactivate returns a template to draft.
func (s *Service) Deactivate(ctx context.Context, id string) (model.AssessmentTemplate, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return tpl, err
	}
	return s.setStatus(ctx, tpl, model.TemplateDraft)
}

func (s *Service) setStatus(ctx context.Context, tpl model.AssessmentTemplate, status model.TemplateStatus) (model.AssessmentTemplate, error) {
	if tpl.Status == status {
		return tpl, nil
	}
	tpl.Status = status
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return tpl, fmt.Errorf("save template: %w", err)
	}
	slog.Info("template status changed", "id", tpl.ID, "status", status)
	return tpl, nil
}

// Clone copies a template into a new draft with the next version number.
// The clone references the same questions.
func (s *Service) Clone(ctx context.Context, id, createdBy string) (model.AssessmentTemplate, error) {
	src, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return src, err
	}
	clone := src
	clone.ID = s.newID()
	clone.Status = model.TemplateDraft
	clone.Version = src.Version + 1
	clone.QuestionIDs = slices.Clone(src.QuestionIDs)
	clone.Skills = slices.Clone(src.Skills)
	clone.CreatedAt = s.now().UTC()
	if createdBy != "" {
		clone.CreatedBy = createdBy
	}
	if err := s.store.SaveTemplate(ctx, clone); err != nil {
		return clone, fmt.Errorf("save clone: %w", err)
	}
	slog.Info("template cloned", "from", src.ID, "to", clone.ID, "version", clone.Version)
	return clone, nil
}

// File is the YAML document of an exported template.
type File struct {
	Template  model.AssessmentTemplate `yaml:"template"`
	Questions []model.QuestionRecord   `yaml:"questions"`
}

// Export renders a template and its questions, in template order, as YAML.
func (s *Service) Export(ctx context.Context, id string) ([]byte, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	f := File{Template: tpl}
	if len(tpl.QuestionIDs) > 0 {
		a, err := s.assembler.FromTemplate(ctx, tpl)
		if err != nil {
			return nil, err
		}
		for _, q := range a.Questions {
			f.Questions = append(f.Questions, q.Record())
		}
	}
	return yaml.Marshal(f)
}

// Import stores an exported template as a new draft. Questions get fresh
// ids; the question order of the file is kept.
func (s *Service) Import(ctx context.Context, data []byte, createdBy string) (model.AssessmentTemplate, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.AssessmentTemplate{}, fmt.Errorf("parse template file: %w", err)
	}

	byOldID := make(map[string]model.Question, len(f.Questions))
	var loose []model.Question
	for i, rec := range f.Questions {
		q, err := rec.Question()
		if err != nil {
			return model.AssessmentTemplate{}, fmt.Errorf("question %d: %w", i, err)
		}
		oldID := q.ID
		q.ID = ""
		if oldID == "" {
			loose = append(loose, q)
			continue
		}
		byOldID[oldID] = q
	}

	var ordered []model.Question
	for _, id := range f.Template.QuestionIDs {
		if q, ok := byOldID[id]; ok {
			ordered = append(ordered, q)
			delete(byOldID, id)
		}
	}
	// Questions not referenced by questionIds follow in file order.
	for _, rec := range f.Questions {
		if q, ok := byOldID[rec.ID]; ok {
			ordered = append(ordered, q)
			delete(byOldID, rec.ID)
		}
	}
	ordered = append(ordered, loose...)

	if createdBy == "" {
		createdBy = f.Template.CreatedBy
	}
	return s.Create(ctx, CreateInput{
		Name:          f.Template.Name,
		Role:          f.Template.Role,
		RoleID:        f.Template.RoleID,
		Skills:        f.Template.Skills,
		Duration:      f.Template.Duration,
		DifficultyMix: f.Template.DifficultyMix,
		CreatedBy:     createdBy,
		Questions:     ordered,
	})
}

// CreateCohort stores a new cohort.
func (s *Service) CreateCohort(ctx context.Context, name string, candidateIDs []string) (model.Cohort, error) {
	if strings.TrimSpace(name) == "" {
		return model.Cohort{}, fmt.Errorf("cohort name is required")
	}
	c := model.Cohort{
		ID:           s.newID(),
		Name:         strings.TrimSpace(name),
		TemplateIDs:  []string{},
		CandidateIDs: candidateIDs,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.SaveCohort(ctx, c); err != nil {
		return c, fmt.Errorf("save cohort: %w", err)
	}
	return c, nil
}

// AssignToCohort adds an active template to a cohort.
func (s *Service) AssignToCohort(ctx context.Context, cohortID, templateID string) (model.Cohort, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return model.Cohort{}, err
	}
	if tpl.Status != model.TemplateActive {
		return model.Cohort{}, fmt.Errorf("assign %s: %w", templateID, ErrNotActive)
	}
	c, err := s.store.GetCohort(ctx, cohortID)
	if err != nil {
		return c, err
	}
	if slices.Contains(c.TemplateIDs, templateID) {
		return c, nil
	}
	c.TemplateIDs = append(c.TemplateIDs, templateID)
	if err := s.store.SaveCohort(ctx, c); err != nil {
		return c, fmt.Errorf("save cohort: %w", err)
	}
	slog.Info("template assigned to cohort", "cohort", cohortID, "template", templateID)
	return c, nil
}

func skillsOf(qs []model.Question) []string {
	var skills []string
	for _, q := range qs {
		if s := q.SkillOrDefault(); !slices.Contains(skills, s) {
			skills = append(skills, s)
		}
	}
	return skills
}
