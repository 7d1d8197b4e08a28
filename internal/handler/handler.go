// Package handler exposes the assessment platform over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/assessor/internal/assembly"
	"github.com/pavelanni/assessor/internal/catalog"
	"github.com/pavelanni/assessor/internal/codeexec"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
	"github.com/pavelanni/assessor/internal/submission"
	"github.com/pavelanni/assessor/internal/templates"
)

// UserHeader carries the candidate id set by the authenticating proxy.
const UserHeader = "X-User-ID"

// LeaderboardLimit caps the entries returned per lineage.
const LeaderboardLimit = 50

// Deps are the services the handler serves.
type Deps struct {
	Store      *store.Store
	Sessions   *session.Registry
	Assembler  *assembly.Assembler
	Templates  *templates.Service
	Roles      *catalog.Generator
	Submission *submission.Service
	Simulator  *codeexec.Simulator
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	Deps
	timeout time.Duration
}

// New creates a Handler. Requests are cut off after timeout; oracle calls
// during grading need a generous one.
func New(d Deps, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Handler{Deps: d, timeout: timeout}
}

// Router returns the configured router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", UserHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware)

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Get("/roles", h.handleListRoles)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", h.handleGetSession)
				r.Delete("/", h.handleResetSession)
				r.Post("/practice", h.handleStartPractice)
				r.Post("/official", h.handleStartOfficial)
				r.Put("/responses/{questionID}", h.handleSetResponse)
				r.Post("/next", h.handleNext)
				r.Post("/prev", h.handlePrev)
				r.Post("/goto/{index}", h.handleGoTo)
				r.Post("/submit", h.handleSubmit)
				r.Post("/run/{questionID}", h.handleRunCode)
			})

			r.Get("/attempts", h.handleHistory)
			r.Get("/attempts/{attemptID}", h.handleGetAttempt)
			r.Get("/attempts/{attemptID}/report", h.handleReport)
			r.Get("/leaderboard/{rootID}", h.handleLeaderboard)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Post("/roles/generate", h.handleGenerateRoles)

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", h.handleListTemplates)
				r.Post("/", h.handleCreateTemplate)
				r.Post("/generate", h.handleGenerateTemplate)
				r.Post("/import", h.handleImportTemplate)
				r.Post("/{id}/activate", h.handleActivateTemplate)
				r.Post("/{id}/deactivate", h.handleDeactivateTemplate)
				r.Post("/{id}/clone", h.handleCloneTemplate)
				r.Get("/{id}/export", h.handleExportTemplate)
			})

			r.Post("/cohorts", h.handleCreateCohort)
			r.Post("/cohorts/{id}/templates/{templateID}", h.handleAssignCohort)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests using slog.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// requireUser rejects requests without a candidate id.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			respondError(w, http.StatusUnauthorized, "missing_user", "the "+UserHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithUserID(r.Context(), id)))
	})
}

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{Error: &apiError{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondErr maps domain errors to status codes.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *model.GenerationError
	switch {
	case errors.Is(err, model.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrInvalidQuestion),
		errors.Is(err, templates.ErrInvalidMix),
		errors.Is(err, templates.ErrInvalidTemplate),
		errors.Is(err, session.ErrUnknownQuestion):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, model.ErrEmptyTemplate),
		errors.Is(err, model.ErrMissingQuestions),
		errors.Is(err, templates.ErrNotActive):
		respondError(w, http.StatusUnprocessableEntity, "not_startable", err.Error())
	case errors.Is(err, model.ErrAlreadyScored),
		errors.Is(err, store.ErrExists),
		errors.Is(err, session.ErrSubmitInProgress),
		errors.Is(err, session.ErrNotInProgress):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &genErr):
		slog.Warn("generation failed", "stage", genErr.Stage, "error", genErr.Err,
			"request_id", middleware.GetReqID(r.Context()))
		respondError(w, http.StatusBadGateway, "generation_failed", genErr.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Store.ListRoles(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, roles)
}
