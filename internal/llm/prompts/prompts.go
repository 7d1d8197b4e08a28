package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	studentCodeRegex        = regexp.MustCompile(`(?i)</?\s*student-code\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a short-answer grading prompt variant.
type PromptVariant string

const (
	// PromptStrict demands every key idea of the reference answer.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient credits the main idea.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

const maxAnswerRunes = 10000

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

var funcs = template.FuncMap{"join": strings.Join}

// Load parses the embedded prompt templates. It is safe to call repeatedly.
func Load() error {
	loadOnce.Do(func() {
		entries, err := templateFS.ReadDir("templates")
		if err != nil {
			loadErr = fmt.Errorf("read prompt templates: %w", err)
			return
		}
		parsed := make(map[string]*template.Template, len(entries))
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".tmpl")
			content, err := templateFS.ReadFile("templates/" + e.Name())
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + e.Name() + ": " + err.Error())
				return
			}
			tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + e.Name() + ": " + err.Error())
				return
			}
			parsed[name] = tmpl
		}
		templates = parsed
	})
	return loadErr
}

func render(name string, data any) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", errors.New("unknown prompt template: " + name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// RolesData holds template data for role catalog prompts.
type RolesData struct {
	Domain   string
	Count    int
	Existing []string
}

// BuildRolesPrompt builds the role catalog generation prompt.
func BuildRolesPrompt(data RolesData) (string, error) {
	return render("roles", data)
}

// SkillSlot is the per-skill share of a generated assessment.
type SkillSlot struct {
	Skill  string
	Count  int
	Easy   int
	Medium int
	Hard   int
}

// AssessmentData holds template data for assessment generation prompts.
type AssessmentData struct {
	RoleName        string
	RoleDescription string
	Slots           []SkillSlot
	Combined        int
	Total           int
}

// BuildAssessmentPrompt builds the question generation prompt.
func BuildAssessmentPrompt(data AssessmentData) (string, error) {
	return render("assessment", data)
}

// ShortItem is one free-text answer in a batched grading prompt.
type ShortItem struct {
	QuestionID string
	Question   string
	Reference  string
	Answer     string
}

// BuildGradeShortPrompt builds one grading prompt for all items.
func BuildGradeShortPrompt(variant PromptVariant, items []ShortItem) (string, error) {
	if !validVariants[variant] {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	clean := make([]ShortItem, len(items))
	for i, it := range items {
		it.Answer = sanitizeAnswer(it.Answer)
		clean[i] = it
	}
	return render("grade_short_"+string(variant), struct{ Items []ShortItem }{clean})
}

// CodeItem is one code submission in a batched simulation prompt.
type CodeItem struct {
	QuestionID string
	Question   string
	Language   string
	Code       string
	TestCases  []model.TestCase
}

// BuildRunCodePrompt builds one simulation prompt for all items.
func BuildRunCodePrompt(items []CodeItem) (string, error) {
	clean := make([]CodeItem, len(items))
	for i, it := range items {
		it.Code = sanitizeCode(it.Code)
		clean[i] = it
	}
	return render("run_code", struct{ Items []CodeItem }{clean})
}

// SkillScore is one row of the feedback skill breakdown.
type SkillScore struct {
	Name  string
	Score int
}

// FeedbackData holds template data for narrative feedback prompts.
type FeedbackData struct {
	RoleName   string
	FinalScore int
	Skills     []SkillScore
}

// BuildFeedbackPrompt builds the narrative feedback prompt.
func BuildFeedbackPrompt(data FeedbackData) (string, error) {
	return render("feedback", data)
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}
	return truncate(answer, "\n\n[Answer truncated due to length]")
}

func sanitizeCode(code string) string {
	code = studentCodeRegex.ReplaceAllString(code, "")
	code = systemInstructionsRegex.ReplaceAllString(code, "")
	if strings.TrimSpace(code) == "" {
		return "[No code provided]"
	}
	return truncate(code, "\n// [code truncated due to length]")
}

func truncate(s, marker string) string {
	if utf8.RuneCountInString(s) > maxAnswerRunes {
		runes := []rune(s)
		return string(runes[:maxAnswerRunes]) + marker
	}
	return s
}
