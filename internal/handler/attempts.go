package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/handler/views"
	"github.com/pavelanni/assessor/internal/model"
)

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	if root == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "root is required")
		return
	}
	attempts, err := h.Store.History(r.Context(), model.UserIDFromContext(r.Context()), root)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAttempt(r.Context(), model.UserIDFromContext(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := model.UserIDFromContext(ctx)
	a, err := h.Store.GetAttempt(ctx, userID, chi.URLParam(r, "attemptID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	questions, err := h.Assembler.AttemptQuestions(ctx, h.Store, a)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	data := views.ReportData{Attempt: a, Questions: questions}
	if role, err := h.Store.GetRole(ctx, a.RoleID); err == nil {
		data.RoleName = role.Name
	} else if a.IsTemplate {
		if tpl, err := h.Store.GetTemplate(ctx, a.AssessmentID); err == nil {
			data.RoleName = tpl.Role
		}
	}
	if history, err := h.Store.History(ctx, userID, a.RootAssessmentID); err == nil {
		data.Attempts = len(history)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.Report(data).Render(ctx, w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.Leaderboard(r.Context(), chi.URLParam(r, "rootID"), LeaderboardLimit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
