package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/assessor/internal/assembly"
	"github.com/pavelanni/assessor/internal/catalog"
	"github.com/pavelanni/assessor/internal/codeexec"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/llm/llmtest"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
	"github.com/pavelanni/assessor/internal/submission"
	"github.com/pavelanni/assessor/internal/templates"
)

const adminPassword = "s3cret"

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testEnv struct {
	h      *Handler
	store  *store.Store
	oracle *llmtest.Oracle
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := s.SetAdminPasswordHash(context.Background(), string(hash)); err != nil {
		t.Fatalf("SetAdminPasswordHash: %v", err)
	}

	oracle := llmtest.New()
	asm := assembly.New(s, s, oracle)
	sub := submission.New(scoring.New(oracle), s)
	reg := session.NewRegistry(session.NopPersister{}, time.Hour, sub.AutoSubmit)
	t.Cleanup(reg.Close)

	h := New(Deps{
		Store:      s,
		Sessions:   reg,
		Assembler:  asm,
		Templates:  templates.New(s, asm),
		Roles:      catalog.NewGenerator(s, oracle),
		Submission: sub,
		Simulator:  codeexec.New(oracle),
	}, time.Minute)
	return &testEnv{h: h, store: s, oracle: oracle, router: h.Router()}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if strings.HasPrefix(path, "/api/admin") {
		req.SetBasicAuth(AdminUser, adminPassword)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v\n%s", err, env.Data)
	}
	return v
}

const practiceQuestions = `{"questions": [
 {"questionText": "Pick a", "type": "mcq", "options": ["a","b"], "correctAnswer": "a", "difficulty": "Easy", "timeLimit": 60, "skill": "go"},
 {"questionText": "Explain", "type": "short", "correctAnswer": "because", "difficulty": "Medium", "timeLimit": 120, "skill": "go"}
]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !body.Success {
		t.Fatalf("expected healthy, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequireUser(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body.Success || body.Error == nil || body.Error.Code != "missing_user" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestPracticeFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.SaveRoles(ctx, []model.Role{{ID: "r1", Name: "Backend", SubSkills: []string{"go"}}}); err != nil {
		t.Fatalf("SaveRoles: %v", err)
	}
	env.oracle.
		On("assessment_questions", practiceQuestions).
		On("attempt_feedback", `{"feedback": "Solid basics."}`)

	rec, body := env.do(t, http.MethodPost, "/api/session/practice", "u1", practiceRequest{RoleID: "r1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start practice: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(string(body.Data), "correctAnswer") {
		t.Errorf("candidate view leaks correct answers: %s", body.Data)
	}
	view := decodeData[sessionView](t, body)
	if view.State != "in_progress" || len(view.Questions) != 2 || view.RootAssessmentID != "r1" || view.IsTemplate {
		t.Fatalf("unexpected session %+v", view)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/session/practice", "u1", practiceRequest{RoleID: "r1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without discard, got %d", rec.Code)
	}
	rec, body = env.do(t, http.MethodPost, "/api/session/practice?discard=true", "u1", practiceRequest{RoleID: "r1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with discard, got %d", rec.Code)
	}
	view = decodeData[sessionView](t, body)

	mcq := view.Questions[0]
	if mcq.Type != model.TypeMCQ {
		t.Fatalf("expected first question to be mcq, got %s", mcq.Type)
	}
	answer := "A"
	rec, _ = env.do(t, http.MethodPut, "/api/session/responses/"+mcq.ID, "u1", session.ResponseUpdate{Answer: &answer})
	if rec.Code != http.StatusOK {
		t.Fatalf("set response: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = env.do(t, http.MethodPut, "/api/session/responses/nope", "u1", session.ResponseUpdate{Answer: &answer})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown question, got %d", rec.Code)
	}

	_, body = env.do(t, http.MethodPost, "/api/session/goto/9", "u1", nil)
	if pos := decodeData[positionView](t, body); pos.CurrentQuestionIndex != 1 {
		t.Errorf("expected goto clamped to 1, got %d", pos.CurrentQuestionIndex)
	}
	_, body = env.do(t, http.MethodPost, "/api/session/prev", "u1", nil)
	if pos := decodeData[positionView](t, body); pos.CurrentQuestionIndex != 0 {
		t.Errorf("expected prev to 0, got %d", pos.CurrentQuestionIndex)
	}

	rec, body = env.do(t, http.MethodPost, "/api/session/submit", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	attempt := decodeData[model.AssessmentAttempt](t, body)
	// mcq correct (weight 1), short unanswered (weight 1.5): 1/2.5.
	if attempt.FinalScore == nil || *attempt.FinalScore != 40 {
		t.Errorf("expected score 40, got %v", attempt.FinalScore)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/session/submit", "u1", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for second submit, got %d", rec.Code)
	}

	_, body = env.do(t, http.MethodGet, "/api/attempts?root=r1", "u1", nil)
	if history := decodeData[[]model.AssessmentAttempt](t, body); len(history) != 1 {
		t.Errorf("expected 1 attempt in history, got %d", len(history))
	}
	_, body = env.do(t, http.MethodGet, "/api/leaderboard/r1", "u1", nil)
	if board := decodeData[[]model.LeaderboardEntry](t, body); len(board) != 1 || board[0].UserID != "u1" {
		t.Errorf("unexpected leaderboard %+v", board)
	}
	rec, _ = env.do(t, http.MethodGet, "/api/attempts/"+attempt.ID, "u2", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected other users to get 404, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/attempts/"+attempt.ID+"/report", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report: %d %s", rec.Code, rec.Body.String())
	}
	html := rec.Body.String()
	for _, want := range []string{"Final score", "40%", "Solid basics.", "Pick a", "No answer", "1 attempt"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestOfficialSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl, err := env.h.Templates.Create(ctx, templates.CreateInput{
		Name: "Go", Role: "Backend", RoleID: "r1", Duration: 20,
		Questions: []model.Question{
			{Text: "Capital?", Difficulty: model.DifficultyEasy, Skill: "geo",
				Body: model.MCQ{Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"}},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, _ := env.do(t, http.MethodPost, "/api/session/official", "u1", officialRequest{TemplateID: tpl.ID})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for draft template, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/api/session/official", "u1", officialRequest{TemplateID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing template, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/admin/templates/"+tpl.ID+"/activate", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", rec.Code, rec.Body.String())
	}
	rec, body := env.do(t, http.MethodPost, "/api/session/official", "u1", officialRequest{TemplateID: tpl.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start official: %d %s", rec.Code, rec.Body.String())
	}
	view := decodeData[sessionView](t, body)
	if !view.IsTemplate || view.AssessmentID != tpl.ID || view.TotalTimeLimit != 1200 {
		t.Errorf("unexpected official session %+v", view)
	}

	env.oracle.On("attempt_feedback", `{"feedback": "ok"}`)
	rec, body = env.do(t, http.MethodPost, "/api/session/submit", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	attempt := decodeData[model.AssessmentAttempt](t, body)
	stored, err := env.store.GetAttempt(ctx, "u1", attempt.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if len(stored.Questions) != 0 {
		t.Errorf("official attempts are stored without questions, got %d", len(stored.Questions))
	}

	rec, _ = env.do(t, http.MethodGet, "/api/attempts/"+attempt.ID+"/report", "u1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Capital?") {
		t.Errorf("official report should resolve questions through the template: %d", rec.Code)
	}
}

func TestRunCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl, err := env.h.Templates.Create(ctx, templates.CreateInput{
		Name: "Code", Role: "Backend", RoleID: "r1", Duration: 20,
		Questions: []model.Question{
			{ID: "c1", Text: "Double it", Difficulty: model.DifficultyHard,
				Body: model.Coding{TestCases: []model.TestCase{{Input: "1", ExpectedOutput: "2"}, {Input: "2", ExpectedOutput: "4"}}}},
			{ID: "m1", Text: "Pick", Difficulty: model.DifficultyEasy,
				Body: model.MCQ{Options: []string{"a", "b"}, CorrectAnswer: "a"}},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.h.Templates.Activate(ctx, tpl.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/session/official", "u1", officialRequest{TemplateID: tpl.ID}); rec.Code != http.StatusCreated {
		t.Fatalf("start official: %d", rec.Code)
	}
	_, body := env.do(t, http.MethodGet, "/api/session", "u1", nil)
	view := decodeData[sessionView](t, body)
	codingID := view.Questions[0].ID

	env.oracle.On("code_simulation", `{"results": [{"questionId": "`+codingID+`", "cases": [
		{"index": 0, "output": "2", "passed": true},
		{"index": 1, "output": "3", "passed": false}
	]}]}`)
	rec, body := env.do(t, http.MethodPost, "/api/session/run/"+codingID, "u1", runRequest{Code: "x*2", Language: "python"})
	if rec.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rec.Code, rec.Body.String())
	}
	res := decodeData[codeexec.Result](t, body)
	if res.Passed != 1 || res.Total != 2 {
		t.Errorf("expected 1/2 passed, got %d/%d", res.Passed, res.Total)
	}

	_, body = env.do(t, http.MethodGet, "/api/session", "u1", nil)
	view = decodeData[sessionView](t, body)
	var saved model.UserResponse
	for _, r := range view.Responses {
		if r.QuestionID == codingID {
			saved = r
		}
	}
	if saved.Code != "x*2" || saved.Language != "python" {
		t.Errorf("run should keep the code as the response, got %+v", saved)
	}

	mcqID := view.Questions[1].ID
	rec, _ = env.do(t, http.MethodPost, "/api/session/run/"+mcqID, "u1", runRequest{Code: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-coding question, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/api/session/run/missing", "u1", runRequest{Code: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown question, got %d", rec.Code)
	}
	_, body = env.do(t, http.MethodGet, "/api/session", "u1", nil)
	view = decodeData[sessionView](t, body)
	for _, r := range view.Responses {
		if r.QuestionID == mcqID && r.Code != "" {
			t.Errorf("rejected run must not store code on question %s, got %q", mcqID, r.Code)
		}
	}
	if calls := env.oracle.CallCount("code_simulation"); calls != 1 {
		t.Errorf("expected 1 simulation call, got %d", calls)
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", AdminUser, "nope", true, http.StatusUnauthorized},
		{"wrong user", "root", adminPassword, true, http.StatusUnauthorized},
		{"valid", AdminUser, adminPassword, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/templates", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAdminTemplateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	in := templates.CreateInput{
		Name: "Go", Role: "Backend", RoleID: "r1", Duration: 15,
		Questions: []model.Question{
			{Text: "Why?", Difficulty: model.DifficultyMedium, Body: model.ShortAnswer{CorrectAnswer: "because"}},
		},
	}
	rec, body := env.do(t, http.MethodPost, "/api/admin/templates", "", in)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	tpl := decodeData[model.AssessmentTemplate](t, body)
	if tpl.CreatedBy != AdminUser || tpl.Status != model.TemplateDraft {
		t.Errorf("unexpected template %+v", tpl)
	}

	pinned := in
	pinned.Questions = []model.Question{
		{ID: "fixed", Text: "Why?", Difficulty: model.DifficultyMedium, Body: model.ShortAnswer{CorrectAnswer: "because"}},
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/admin/templates", "", pinned); rec.Code != http.StatusCreated {
		t.Fatalf("create with question id: %d %s", rec.Code, rec.Body.String())
	}
	rec, body = env.do(t, http.MethodPost, "/api/admin/templates", "", pinned)
	if rec.Code != http.StatusConflict || body.Error == nil || body.Error.Code != "conflict" {
		t.Errorf("expected 409 reusing a stored question id, got %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = env.do(t, http.MethodGet, "/api/admin/templates/"+tpl.ID+"/export", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/yaml" {
		t.Fatalf("export: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	exported := rec.Body.Bytes()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/templates/import", bytes.NewReader(exported))
	req.SetBasicAuth(AdminUser, adminPassword)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: %d %s", rec.Code, rec.Body.String())
	}

	rec, body = env.do(t, http.MethodPost, "/api/admin/templates/"+tpl.ID+"/clone", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("clone: %d", rec.Code)
	}
	if clone := decodeData[model.AssessmentTemplate](t, body); clone.Version != 2 {
		t.Errorf("expected clone version 2, got %d", clone.Version)
	}

	rec, body = env.do(t, http.MethodPost, "/api/admin/cohorts", "", cohortRequest{Name: "Spring", CandidateIDs: []string{"u1"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cohort: %d", rec.Code)
	}
	cohort := decodeData[model.Cohort](t, body)
	rec, _ = env.do(t, http.MethodPost, "/api/admin/cohorts/"+cohort.ID+"/templates/"+tpl.ID, "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 assigning a draft, got %d", rec.Code)
	}
	env.do(t, http.MethodPost, "/api/admin/templates/"+tpl.ID+"/activate", "", nil)
	rec, _ = env.do(t, http.MethodPost, "/api/admin/cohorts/"+cohort.ID+"/templates/"+tpl.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 assigning an active template, got %d", rec.Code)
	}

	rec, body = env.do(t, http.MethodGet, "/api/admin/templates?status=active", "", nil)
	if list := decodeData[[]model.AssessmentTemplate](t, body); rec.Code != http.StatusOK || len(list) != 1 {
		t.Errorf("expected one active template, got %d", len(list))
	}
}

func TestAdminGenerateRoles(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.On("role_catalog", `{"roles": [{"name": "SRE", "description": "Keeps things up", "subSkills": ["linux", "k8s"]}]}`)
	rec, body := env.do(t, http.MethodPost, "/api/admin/roles/generate", "", generateRolesRequest{Domain: "ops", Count: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}
	if roles := decodeData[[]model.Role](t, body); len(roles) != 1 || roles[0].Name != "SRE" {
		t.Errorf("unexpected roles %+v", roles)
	}

	env.oracle.Fail("role_catalog", context.DeadlineExceeded)
	rec, _ = env.do(t, http.MethodPost, "/api/admin/roles/generate", "", generateRolesRequest{Domain: "ops"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on oracle failure, got %d", rec.Code)
	}

	_, body = env.do(t, http.MethodGet, "/api/roles", "u1", nil)
	if roles := decodeData[[]model.Role](t, body); len(roles) != 1 {
		t.Errorf("expected 1 stored role, got %d", len(roles))
	}
}
