package handler

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/templates"
)

// AdminUser is the basic-auth user name of the administrator.
const AdminUser = "admin"

// requireAdmin checks HTTP basic credentials against the stored bcrypt hash.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="assessor admin"`)
			respondError(w, http.StatusUnauthorized, "missing_credentials", "admin credentials required")
			return
		}
		hash, err := h.Store.AdminPasswordHash(r.Context())
		if err != nil {
			respondErr(w, r, err)
			return
		}
		if hash == "" {
			respondError(w, http.StatusForbidden, "admin_disabled", "no admin password configured")
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(AdminUser)) == 1
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil || !userOK {
			slog.Warn("admin authentication failed", "user", user, "remote_addr", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="assessor admin"`)
			respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid admin credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type generateRolesRequest struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

func (h *Handler) handleGenerateRoles(w http.ResponseWriter, r *http.Request) {
	var req generateRolesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	roles, err := h.Roles.GenerateRoles(r.Context(), req.Domain, req.Count)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, roles)
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListTemplates(r.Context(), model.TemplateStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templates.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.CreatedBy == "" {
		in.CreatedBy = AdminUser
	}
	tpl, err := h.Templates.Create(r.Context(), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) handleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templates.DraftInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.CreatedBy == "" {
		in.CreatedBy = AdminUser
	}
	tpl, err := h.Templates.GenerateDraft(r.Context(), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	tpl, err := h.Templates.Import(r.Context(), data, AdminUser)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_template", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.Templates.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

func (h *Handler) handleDeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.Templates.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

func (h *Handler) handleCloneTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.Templates.Clone(r.Context(), chi.URLParam(r, "id"), AdminUser)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) handleExportTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := h.Templates.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="template.yaml"`)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write export", "error", err)
	}
}

type cohortRequest struct {
	Name         string   `json:"name"`
	CandidateIDs []string `json:"candidateIds"`
}

func (h *Handler) handleCreateCohort(w http.ResponseWriter, r *http.Request) {
	var req cohortRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.Templates.CreateCohort(r.Context(), req.Name, req.CandidateIDs)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleAssignCohort(w http.ResponseWriter, r *http.Request) {
	c, err := h.Templates.AssignToCohort(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "templateID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
