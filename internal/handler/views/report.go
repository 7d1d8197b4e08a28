// Package views renders the HTML pages of the platform.
package views

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
)

// ReportData is what the attempt report shows.
type ReportData struct {
	Attempt   model.AssessmentAttempt
	Questions []model.Question
	RoleName  string
	Attempts  int // attempts by the same candidate on this lineage
}

// Report renders a scored attempt with per-question review.
func Report(d ReportData) templ.Component {
	a := d.Attempt
	responses := make(map[string]model.UserResponse, len(a.Responses))
	for _, r := range a.Responses {
		if _, seen := responses[r.QuestionID]; !seen {
			responses[r.QuestionID] = r
		}
	}

	body := []templ.Component{reportHeader(d), finalScore(a.FinalScore), skillTable(a.SkillScores)}
	if a.AIFeedback != "" {
		body = append(body, feedbackBlock(a.AIFeedback))
	}
	for i, q := range d.Questions {
		r, answered := responses[q.ID]
		body = append(body, questionReview(i+1, q, r, answered))
	}
	return page("ReportTitle", templ.Join(body...))
}

func page(titleID string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.f(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title></head><body>`, t(ctx, titleID))
		p.f(`<h1>%s</h1>`, t(ctx, "AppTitle"))
		if p.err != nil {
			return p.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		p.f(`</body></html>`)
		return p.err
	})
}

func reportHeader(d ReportData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		a := d.Attempt
		kind := "Practice"
		if a.IsTemplate {
			kind = "Official"
		}
		p.f(`<h2>%s <small>%s</small></h2>`, templ.EscapeString(d.RoleName), t(ctx, kind))
		if a.SubmittedAt != nil {
			p.f(`<p class="submitted">%s</p>`, templ.EscapeString(appI18n.Td(ctx, "SubmittedAt",
				map[string]any{"At": a.SubmittedAt.UTC().Format(time.RFC1123)})))
		}
		if d.Attempts > 0 {
			p.f(`<p class="attempts">%s</p>`, templ.EscapeString(appI18n.Tp(ctx, "AttemptsCount", d.Attempts)))
		}
		return p.err
	})
}

func finalScore(score *int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		v := 0
		if score != nil {
			v = *score
		}
		p := &printer{w: w}
		p.f(`<p class="final-score">%s: <strong>%d%%</strong></p>`, t(ctx, "FinalScore"), v)
		return p.err
	})
}

func skillTable(scores map[string]int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		names := make([]string, 0, len(scores))
		for s := range scores {
			names = append(names, s)
		}
		sort.Strings(names)

		p := &printer{w: w}
		p.f(`<h3>%s</h3><table class="skills">`, t(ctx, "SkillBreakdown"))
		for _, s := range names {
			p.f(`<tr><td>%s</td><td>%d%%</td></tr>`, templ.EscapeString(s), scores[s])
		}
		p.f(`</table>`)
		return p.err
	})
}

func feedbackBlock(text string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.f(`<h3>%s</h3><p class="feedback">%s</p>`, t(ctx, "Feedback"), templ.EscapeString(text))
		return p.err
	})
}

// questionReview shows one question with the candidate's first response.
func questionReview(n int, q model.Question, r model.UserResponse, answered bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.f(`<section class="question"><h4>%s %d</h4><p>%s</p>`, t(ctx, "Question"), n, templ.EscapeString(q.Text))
		p.f(`<p><em>%s:</em> `, t(ctx, "YourAnswer"))
		switch {
		case !answered || (strings.TrimSpace(r.Answer) == "" && strings.TrimSpace(r.Code) == ""):
			p.f(`%s`, t(ctx, "NoAnswer"))
		case q.Type() == model.TypeCoding:
			p.f(`<pre><code>%s</code></pre>`, templ.EscapeString(r.Code))
		default:
			p.f(`%s`, templ.EscapeString(r.Answer))
		}
		p.f(`</p>`)
		if answered && r.IsCorrect != nil {
			verdict := "Incorrect"
			if *r.IsCorrect {
				verdict = "Correct"
			}
			p.f(`<p class="verdict %s">%s</p>`, strings.ToLower(verdict), t(ctx, verdict))
		}
		if answered && r.TestCasesPassed != nil && r.TotalTestCases != nil {
			p.f(`<p class="tests">%s</p>`, templ.EscapeString(appI18n.Td(ctx, "TestsPassed",
				map[string]any{"Passed": *r.TestCasesPassed, "Total": *r.TotalTestCases})))
		}
		p.f(`</section>`)
		return p.err
	})
}

// t returns the escaped translation of id for the request locale.
func t(ctx context.Context, id string) string {
	return templ.EscapeString(appI18n.T(ctx, id))
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) f(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
