// Package session tracks an in-progress assessment: the question pointer,
// per-question responses, the time budget, and persistence across reloads.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
)

// State is the lifecycle state of a Machine.
type State int

const (
	Idle State = iota
	InProgress
	Submitting
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Submitting:
		return "submitting"
	default:
		return "idle"
	}
}

const (
	// StorageKey is the fixed persistence key of a session.
	StorageKey = "assessment-session"
	// DefaultStaleness is how old a persisted session may be and still be restored.
	DefaultStaleness = 3 * time.Hour
	// DefaultLanguage is the language preset on coding responses.
	DefaultLanguage = "javascript"
)

var (
	ErrNotInProgress    = errors.New("no assessment in progress")
	ErrSubmitInProgress = errors.New("submit already in progress")
	ErrUnknownQuestion  = errors.New("question is not part of the assessment")
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Assessment           *model.Assessment    `json:"assessment"`
	Responses            []model.UserResponse `json:"responses"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	StartTime            time.Time            `json:"startTime"`
}

// ResponseUpdate is the candidate-editable part of a response. Correctness
// fields are written only by scoring and cannot be set here.
type ResponseUpdate struct {
	Answer    *string `json:"answer,omitempty"`
	Code      *string `json:"code,omitempty"`
	Language  *string `json:"language,omitempty"`
	TimeTaken *int    `json:"timeTaken,omitempty"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithStaleness sets the restore window.
func WithStaleness(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.staleness = d
		}
	}
}

// WithDefaultLanguage sets the language preset on coding responses.
func WithDefaultLanguage(lang string) Option {
	return func(m *Machine) {
		if lang != "" {
			m.defaultLang = lang
		}
	}
}

// Machine is the session state machine of one candidate. It is safe for
// concurrent use.
type Machine struct {
	mu          sync.Mutex
	userID      string
	key         string
	persist     Persister
	now         func() time.Time
	staleness   time.Duration
	defaultLang string

	state      State
	assessment *model.Assessment
	responses  []model.UserResponse
	current    int
	startTime  time.Time
	expired    bool
}

// New creates an idle Machine for userID. The persistence key is StorageKey
// suffixed with the user id.
func New(userID string, p Persister, opts ...Option) *Machine {
	if p == nil {
		p = NopPersister{}
	}
	key := StorageKey
	if userID != "" {
		key += ":" + userID
	}
	m := &Machine{
		userID:      userID,
		key:         key,
		persist:     p,
		now:         time.Now,
		staleness:   DefaultStaleness,
		defaultLang: DefaultLanguage,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetAssessment loads a and starts the clock, discarding any session in
// progress. Coding responses are preset with the starter code.
func (m *Machine) SetAssessment(ctx context.Context, a *model.Assessment) error {
	if a == nil || len(a.Questions) == 0 {
		return fmt.Errorf("set assessment: %w", model.ErrMissingQuestions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Submitting {
		return ErrSubmitInProgress
	}

	m.assessment = a
	m.responses = nil
	for _, q := range a.Questions {
		if c, ok := q.Body.(model.Coding); ok {
			m.responses = append(m.responses, model.UserResponse{
				QuestionID: q.ID,
				Skill:      q.SkillOrDefault(),
				Difficulty: q.Difficulty,
				Code:       c.StarterCode,
				Language:   m.defaultLang,
			})
		}
	}
	m.current = 0
	m.startTime = m.now()
	m.expired = false
	m.state = InProgress
	m.save(ctx)

	slog.Info("session started", "user", m.userID, "assessment", a.ID, "questions", len(a.Questions))
	return nil
}

// SetResponse merges u into the response for questionID. Skill and
// difficulty are always taken from the question.
func (m *Machine) SetResponse(ctx context.Context, questionID string, u ResponseUpdate) (model.UserResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != InProgress {
		return model.UserResponse{}, ErrNotInProgress
	}
	q, ok := m.assessment.Question(questionID)
	if !ok {
		return model.UserResponse{}, fmt.Errorf("%s: %w", questionID, ErrUnknownQuestion)
	}

	idx := -1
	for i := range m.responses {
		if m.responses[i].QuestionID == questionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.responses = append(m.responses, model.UserResponse{QuestionID: questionID})
		idx = len(m.responses) - 1
	}

	r := &m.responses[idx]
	r.Skill = q.SkillOrDefault()
	r.Difficulty = q.Difficulty
	if u.Answer != nil {
		r.Answer = *u.Answer
	}
	if u.Code != nil {
		r.Code = *u.Code
	}
	if u.Language != nil {
		r.Language = *u.Language
	}
	if u.TimeTaken != nil && *u.TimeTaken >= 0 {
		r.TimeTaken = *u.TimeTaken
	}
	m.save(ctx)
	return *r, nil
}

// Next moves forward one question and returns the new index.
func (m *Machine) Next(ctx context.Context) int {
	return m.move(ctx, func(i int) int { return i + 1 })
}

// Prev moves back one question and returns the new index.
func (m *Machine) Prev(ctx context.Context) int {
	return m.move(ctx, func(i int) int { return i - 1 })
}

// GoTo jumps to index, clamped to the question range.
func (m *Machine) GoTo(ctx context.Context, index int) int {
	return m.move(ctx, func(int) int { return index })
}

func (m *Machine) move(ctx context.Context, f func(int) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != InProgress {
		return m.current
	}
	next := max(0, min(f(m.current), len(m.assessment.Questions)-1))
	if next != m.current {
		m.current = next
		m.save(ctx)
	}
	return m.current
}

// CurrentIndex returns the question pointer.
func (m *Machine) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset discards the session and clears persisted state.
func (m *Machine) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Submitting {
		return ErrSubmitInProgress
	}
	m.clear()
	return m.persist.Clear(ctx, m.key)
}

func (m *Machine) clear() {
	m.state = Idle
	m.assessment = nil
	m.responses = nil
	m.current = 0
	m.startTime = time.Time{}
	m.expired = false
}

// Restore rehydrates a persisted session. A session older than the
// staleness window is cleared and the machine stays Idle.
func (m *Machine) Restore(ctx context.Context) error {
	snap, err := m.persist.Load(ctx, m.key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap == nil {
		return nil
	}
	if snap.Assessment == nil || len(snap.Assessment.Questions) == 0 {
		slog.Warn("discarding persisted session without questions", "user", m.userID)
		return m.persist.Clear(ctx, m.key)
	}
	if m.now().Sub(snap.StartTime) > m.staleness {
		slog.Info("discarding stale session", "user", m.userID, "started", snap.StartTime)
		return m.persist.Clear(ctx, m.key)
	}

	m.assessment = snap.Assessment
	m.responses = snap.Responses
	m.current = max(0, min(snap.CurrentQuestionIndex, len(snap.Assessment.Questions)-1))
	m.startTime = snap.StartTime
	m.expired = false
	m.state = InProgress
	return nil
}

// Snapshot returns a copy of the current session, or false when Idle.
func (m *Machine) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		return Snapshot{}, false
	}
	return m.snapshot(), true
}

func (m *Machine) snapshot() Snapshot {
	return Snapshot{
		Assessment:           m.assessment,
		Responses:            append([]model.UserResponse(nil), m.responses...),
		CurrentQuestionIndex: m.current,
		StartTime:            m.startTime,
	}
}

func (m *Machine) save(ctx context.Context) {
	if err := m.persist.Save(ctx, m.key, m.snapshot()); err != nil {
		slog.Warn("failed to persist session", "user", m.userID, "error", err)
	}
}

// Remaining returns the time left at now. It is zero when no assessment is loaded.
func (m *Machine) Remaining(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining(now)
}

func (m *Machine) remaining(now time.Time) time.Duration {
	if m.assessment == nil {
		return 0
	}
	budget := time.Duration(m.assessment.TotalTimeLimit) * time.Second
	return max(0, budget-now.Sub(m.startTime))
}

// Tick reports whether the time budget ran out at now. It returns true at
// most once per loaded assessment.
func (m *Machine) Tick(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != InProgress || m.expired {
		return false
	}
	if m.remaining(now) > 0 {
		return false
	}
	m.expired = true
	return true
}

// RunTimer ticks every interval until ctx is done and calls onExpire when
// the budget runs out.
func (m *Machine) RunTimer(ctx context.Context, interval time.Duration, onExpire func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Tick(m.now()) {
				slog.Info("session time expired, auto-submitting", "user", m.userID)
				onExpire(ctx)
			}
		}
	}
}

// BeginSubmit moves to Submitting and returns the attempt to score.
func (m *Machine) BeginSubmit() (model.AssessmentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Submitting:
		return model.AssessmentAttempt{}, ErrSubmitInProgress
	case Idle:
		return model.AssessmentAttempt{}, ErrNotInProgress
	}
	m.state = Submitting

	a := m.assessment
	now := m.now()
	return model.AssessmentAttempt{
		ID:               uuid.NewString(),
		UserID:           m.userID,
		AssessmentID:     a.ID,
		RoleID:           a.RoleID,
		IsTemplate:       a.IsTemplate,
		StartedAt:        m.startTime,
		SubmittedAt:      &now,
		Responses:        append([]model.UserResponse(nil), m.responses...),
		Questions:        append([]model.Question(nil), a.Questions...),
		RootAssessmentID: a.RootAssessmentID,
	}, nil
}

// FinishSubmit ends a submit started by BeginSubmit. On success the session
// is cleared; on failure it returns to InProgress so the candidate can retry.
func (m *Machine) FinishSubmit(ctx context.Context, submitErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Submitting {
		return
	}
	if submitErr != nil {
		m.state = InProgress
		return
	}
	m.clear()
	if err := m.persist.Clear(ctx, m.key); err != nil {
		slog.Warn("failed to clear persisted session", "user", m.userID, "error", err)
	}
}
