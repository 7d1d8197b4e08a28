// Package scoring grades submitted attempts with difficulty-weighted scoring.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/assessor/internal/codeexec"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// ShortAnswerThreshold is the similarity above which a short answer is correct.
const ShortAnswerThreshold = 0.7

// DefaultFallbackFeedback is used when the oracle produces no feedback.
const DefaultFallbackFeedback = "Great effort! Review the skill breakdown above to see where to focus next."

// Bucket holds the weighted points of one skill.
type Bucket struct {
	Earned float64 `json:"earned"`
	Max    float64 `json:"max"`
}

// Result is the outcome of Aggregate.
type Result struct {
	FinalScore  int               `json:"finalScore"`
	SkillScores map[string]int    `json:"skillScores"`
	Earned      float64           `json:"earned"`
	Max         float64           `json:"max"`
	Buckets     map[string]Bucket `json:"buckets"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithVariant selects the short-answer grading prompt.
func WithVariant(v prompts.PromptVariant) Option {
	return func(e *Engine) { e.variant = v }
}

// WithFallbackFeedback sets the feedback used when the oracle fails.
func WithFallbackFeedback(s string) Option {
	return func(e *Engine) {
		if s != "" {
			e.fallback = s
		}
	}
}

// Engine scores attempts.
type Engine struct {
	oracle   llm.Oracle
	sim      *codeexec.Simulator
	variant  prompts.PromptVariant
	fallback string
}

func New(oracle llm.Oracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:   oracle,
		sim:      codeexec.New(oracle),
		variant:  prompts.PromptStandard,
		fallback: DefaultFallbackFeedback,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score grades a in place: it sets the correctness fields of every response,
// the final and per-skill scores, and the feedback. Oracle failures during
// grading count as zero credit; a feedback failure uses the fallback text.
func (e *Engine) Score(ctx context.Context, a *model.AssessmentAttempt, roleName string) error {
	if len(a.Questions) == 0 {
		return model.ErrMissingQuestions
	}
	if a.FinalScore != nil {
		return fmt.Errorf("attempt %s: %w", a.ID, model.ErrAlreadyScored)
	}

	byID := make(map[string]model.Question, len(a.Questions))
	for _, q := range a.Questions {
		byID[q.ID] = q
	}

	// Only the first response to a question earns credit.
	first := make(map[string]int, len(a.Responses))
	var shortItems []prompts.ShortItem
	var codeItems []codeexec.Item
	for i, r := range a.Responses {
		if _, dup := first[r.QuestionID]; dup {
			continue
		}
		q, ok := byID[r.QuestionID]
		if !ok {
			continue
		}
		first[r.QuestionID] = i
		switch b := q.Body.(type) {
		case model.ShortAnswer:
			if strings.TrimSpace(r.Answer) != "" {
				shortItems = append(shortItems, prompts.ShortItem{
					QuestionID: q.ID, Question: q.Text, Reference: b.CorrectAnswer, Answer: r.Answer,
				})
			}
		case model.Coding:
			if strings.TrimSpace(r.Code) != "" {
				codeItems = append(codeItems, codeexec.Item{Question: q, Code: r.Code, Language: r.Language})
			}
		}
	}

	var (
		similarity map[string]float64
		simulated  map[string]codeexec.Result
		g          errgroup.Group
	)
	g.Go(func() (err error) {
		similarity, err = e.gradeShort(ctx, shortItems)
		return err
	})
	g.Go(func() (err error) {
		simulated, err = e.simulateCode(ctx, codeItems)
		return err
	})
	// A failed batch leaves its map empty and those items earn zero.
	if err := g.Wait(); err != nil {
		slog.Warn("oracle grading failed, affected items score zero", "attempt", a.ID, "error", err)
	}

	for i := range a.Responses {
		r := &a.Responses[i]
		q, ok := byID[r.QuestionID]
		if !ok || first[r.QuestionID] != i {
			setCorrect(r, 0, false)
			continue
		}
		r.Skill = q.SkillOrDefault()
		r.Difficulty = q.Difficulty
		switch b := q.Body.(type) {
		case model.MCQ:
			ok := strings.EqualFold(strings.TrimSpace(r.Answer), strings.TrimSpace(b.CorrectAnswer))
			setCorrect(r, boolFactor(ok), ok)
		case model.ShortAnswer:
			f := clamp01(similarity[q.ID])
			setCorrect(r, f, f > ShortAnswerThreshold)
		case model.Coding:
			total := len(b.TestCases)
			passed := max(0, min(simulated[q.ID].Passed, total))
			r.TestCasesPassed = &passed
			r.TotalTestCases = &total
			f := 0.0
			if total > 0 {
				f = float64(passed) / float64(total)
			}
			setCorrect(r, f, total > 0 && passed == total)
		default:
			setCorrect(r, 0, false)
		}
	}

	res := Aggregate(a.Questions, a.Responses)
	score := res.FinalScore
	a.FinalScore = &score
	a.SkillScores = res.SkillScores
	a.AIFeedback = e.feedback(ctx, a.ID, roleName, res)

	slog.Info("attempt scored", "attempt", a.ID, "user", a.UserID, "score", score,
		"earned", res.Earned, "max", res.Max)
	return nil
}

type shortScore struct {
	QuestionID string  `json:"questionId"`
	Score      float64 `json:"score"`
}

type shortScores struct {
	Scores []shortScore `json:"scores"`
}

// Validate rejects a reply that grades nothing.
func (s *shortScores) Validate() error {
	if len(s.Scores) == 0 {
		return fmt.Errorf("no scores: %w", llm.ErrEmptyResult)
	}
	return nil
}

func (e *Engine) gradeShort(ctx context.Context, items []prompts.ShortItem) (map[string]float64, error) {
	out := make(map[string]float64, len(items))
	if len(items) == 0 {
		return out, nil
	}
	prompt, err := prompts.BuildGradeShortPrompt(e.variant, items)
	if err != nil {
		return out, fmt.Errorf("build grading prompt: %w", err)
	}
	var resp shortScores
	if err := e.oracle.Generate(ctx, llm.Request{Name: "short_answer_grades", Prompt: prompt}, &resp); err != nil {
		return out, fmt.Errorf("short-answer grading: %w", err)
	}
	for _, s := range resp.Scores {
		if _, seen := out[s.QuestionID]; !seen {
			out[s.QuestionID] = s.Score
		}
	}
	return out, nil
}

func (e *Engine) simulateCode(ctx context.Context, items []codeexec.Item) (map[string]codeexec.Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	res, err := e.sim.Batch(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("code simulation: %w", err)
	}
	return res, nil
}

type feedbackReply struct {
	Feedback string `json:"feedback"`
}

func (e *Engine) feedback(ctx context.Context, attemptID, roleName string, res Result) string {
	data := prompts.FeedbackData{RoleName: roleName, FinalScore: res.FinalScore}
	for _, name := range sortedKeys(res.SkillScores) {
		data.Skills = append(data.Skills, prompts.SkillScore{Name: name, Score: res.SkillScores[name]})
	}
	prompt, err := prompts.BuildFeedbackPrompt(data)
	if err != nil {
		slog.Error("failed to build feedback prompt", "attempt", attemptID, "error", err)
		return e.fallback
	}
	var reply feedbackReply
	if err := e.oracle.Generate(ctx, llm.Request{Name: "attempt_feedback", Prompt: prompt, Temperature: 0.5}, &reply); err != nil {
		slog.Warn("feedback generation failed, using fallback", "attempt", attemptID, "error", err)
		return e.fallback
	}
	if strings.TrimSpace(reply.Feedback) == "" {
		return e.fallback
	}
	return strings.TrimSpace(reply.Feedback)
}

// Aggregate applies the weighting rule: every question contributes its
// difficulty weight to the maximum, and weight times the correctness factor
// of its first response to the earned points. Responses to unknown questions
// earn nothing.
func Aggregate(questions []model.Question, responses []model.UserResponse) Result {
	factors := make(map[string]float64, len(responses))
	for _, r := range responses {
		if _, seen := factors[r.QuestionID]; seen {
			continue
		}
		f := 0.0
		if r.Factor != nil {
			f = clamp01(*r.Factor)
		}
		factors[r.QuestionID] = f
	}

	res := Result{SkillScores: map[string]int{}, Buckets: map[string]Bucket{}}
	for _, q := range questions {
		w := q.Difficulty.Weight()
		earned := w * factors[q.ID]
		skill := q.SkillOrDefault()

		b := res.Buckets[skill]
		b.Max += w
		b.Earned += earned
		res.Buckets[skill] = b
		res.Max += w
		res.Earned += earned
	}

	res.FinalScore = percent(res.Earned, res.Max)
	for skill, b := range res.Buckets {
		res.SkillScores[skill] = percent(b.Earned, b.Max)
	}
	return res
}

// Replay recomputes the scores of a stored attempt from its responses and
// reports whether they match what was stored.
func Replay(a model.AssessmentAttempt, questions []model.Question) (Result, bool) {
	res := Aggregate(questions, a.Responses)
	if a.FinalScore == nil || *a.FinalScore != res.FinalScore {
		return res, false
	}
	if len(a.SkillScores) != len(res.SkillScores) {
		return res, false
	}
	for k, v := range res.SkillScores {
		if a.SkillScores[k] != v {
			return res, false
		}
	}
	return res, true
}

func percent(earned, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * earned / total))
}

func setCorrect(r *model.UserResponse, factor float64, ok bool) {
	r.Factor = &factor
	r.IsCorrect = &ok
}

func boolFactor(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return min(f, 1)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
