package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/templates"
)

// candidateQuestion is a question as shown while answering: no correct answer.
type candidateQuestion struct {
	ID           string             `json:"id"`
	QuestionText string             `json:"questionText"`
	Type         model.QuestionType `json:"type"`
	Options      []string           `json:"options,omitempty"`
	TestCases    []model.TestCase   `json:"testCases,omitempty"`
	StarterCode  string             `json:"starterCode,omitempty"`
	Difficulty   model.Difficulty   `json:"difficulty"`
	TimeLimit    int                `json:"timeLimit"`
	Skill        string             `json:"skill"`
}

type sessionView struct {
	State                string               `json:"state"`
	AssessmentID         string               `json:"assessmentId,omitempty"`
	RoleName             string               `json:"roleName,omitempty"`
	IsTemplate           bool                 `json:"isTemplate"`
	RootAssessmentID     string               `json:"rootAssessmentId,omitempty"`
	TotalTimeLimit       int                  `json:"totalTimeLimit"`
	Questions            []candidateQuestion  `json:"questions"`
	Responses            []model.UserResponse `json:"responses"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	StartTime            *time.Time           `json:"startTime,omitempty"`
	RemainingSeconds     int                  `json:"remainingSeconds"`
}

func toCandidate(q model.Question) candidateQuestion {
	rec := q.Record()
	return candidateQuestion{
		ID:           rec.ID,
		QuestionText: rec.QuestionText,
		Type:         rec.Type,
		Options:      rec.Options,
		TestCases:    rec.TestCases,
		StarterCode:  rec.StarterCode,
		Difficulty:   rec.Difficulty,
		TimeLimit:    rec.TimeLimit,
		Skill:        rec.Skill,
	}
}

func viewOf(m *session.Machine) sessionView {
	v := sessionView{State: m.State().String(), Questions: []candidateQuestion{}, Responses: []model.UserResponse{}}
	snap, ok := m.Snapshot()
	if !ok || snap.Assessment == nil {
		return v
	}
	a := snap.Assessment
	v.AssessmentID = a.ID
	v.RoleName = a.RoleName
	v.IsTemplate = a.IsTemplate
	v.RootAssessmentID = a.RootAssessmentID
	v.TotalTimeLimit = a.TotalTimeLimit
	for _, q := range a.Questions {
		v.Questions = append(v.Questions, toCandidate(q))
	}
	if snap.Responses != nil {
		v.Responses = snap.Responses
	}
	v.CurrentQuestionIndex = snap.CurrentQuestionIndex
	start := snap.StartTime
	v.StartTime = &start
	v.RemainingSeconds = int(m.Remaining(time.Now()).Seconds())
	return v
}

// machine resolves the caller's session machine or writes an error.
func (h *Handler) machine(w http.ResponseWriter, r *http.Request) (*session.Machine, bool) {
	m, err := h.Sessions.Get(r.Context(), model.UserIDFromContext(r.Context()))
	if err != nil {
		respondErr(w, r, err)
		return nil, false
	}
	return m, true
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewOf(m))
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Reset(r.Context()); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(m))
}

type practiceRequest struct {
	RoleID string `json:"roleId"`
}

func (h *Handler) handleStartPractice(w http.ResponseWriter, r *http.Request) {
	var req practiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "roleId is required")
		return
	}
	h.start(w, r, func(ctx context.Context) (*model.Assessment, error) {
		return h.Assembler.Practice(ctx, req.RoleID)
	})
}

type officialRequest struct {
	TemplateID string `json:"templateId"`
}

func (h *Handler) handleStartOfficial(w http.ResponseWriter, r *http.Request) {
	var req officialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TemplateID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "templateId is required")
		return
	}
	h.start(w, r, func(ctx context.Context) (*model.Assessment, error) {
		tpl, err := h.Store.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			return nil, err
		}
		if tpl.Status != model.TemplateActive {
			return nil, templates.ErrNotActive
		}
		return h.Assembler.FromTemplate(ctx, tpl)
	})
}

// start loads a new assessment. A session in progress is only replaced
// when the caller confirms with ?discard=true.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, build func(context.Context) (*model.Assessment, error)) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if m.State() != session.Idle && r.URL.Query().Get("discard") != "true" {
		respondError(w, http.StatusConflict, "session_in_progress",
			"an assessment is in progress; retry with discard=true to abandon it")
		return
	}
	a, err := build(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := m.SetAssessment(r.Context(), a); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(m))
}

func (h *Handler) handleSetResponse(w http.ResponseWriter, r *http.Request) {
	var u session.ResponseUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	resp, err := m.SetResponse(r.Context(), chi.URLParam(r, "questionID"), u)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type positionView struct {
	CurrentQuestionIndex int `json:"currentQuestionIndex"`
}

func (h *Handler) navigate(w http.ResponseWriter, r *http.Request, move func(*session.Machine) int) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if m.State() == session.Idle {
		respondErr(w, r, session.ErrNotInProgress)
		return
	}
	respondJSON(w, http.StatusOK, positionView{CurrentQuestionIndex: move(m)})
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, func(m *session.Machine) int { return m.Next(r.Context()) })
}

func (h *Handler) handlePrev(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, func(m *session.Machine) int { return m.Prev(r.Context()) })
}

func (h *Handler) handleGoTo(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
		return
	}
	h.navigate(w, r, func(m *session.Machine) int { return m.GoTo(r.Context(), index) })
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	attempt, err := h.Submission.Submit(r.Context(), m)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

type runRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// handleRunCode simulates the candidate's code against the question's test
// cases and keeps the code as the current response.
func (h *Handler) handleRunCode(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	questionID := chi.URLParam(r, "questionID")
	snap, ok := m.Snapshot()
	if !ok {
		respondErr(w, r, session.ErrNotInProgress)
		return
	}
	q, found := snap.Assessment.Question(questionID)
	if !found {
		respondErr(w, r, fmt.Errorf("%s: %w", questionID, session.ErrUnknownQuestion))
		return
	}
	if q.Type() != model.TypeCoding {
		respondError(w, http.StatusBadRequest, "not_coding", "question "+questionID+" is not a coding question")
		return
	}

	update := session.ResponseUpdate{Code: &req.Code}
	if req.Language != "" {
		update.Language = &req.Language
	}
	resp, err := m.SetResponse(r.Context(), questionID, update)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	res, err := h.Simulator.Run(r.Context(), q, resp.Code, resp.Language)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
