package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/gateway/util"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
)

// AdminHandler exposes system settings and the audit trail.
type AdminHandler struct {
	Settings *settings.Service
	Audit    *audit.Recorder
}

// RESTUpdateConfigRequest mirrors the JSON input for PUT /admin/config/{key}
type RESTUpdateConfigRequest struct {
	Value interface{} `json:"value"`
}

// requireAdmin writes 403 unless the caller is an admin.
func requireAdmin(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return user, false
	}
	if user.Role != shared.RoleAdmin {
		util.WriteJSONError(w, http.StatusForbidden, "Access denied: Admin only")
		return user, false
	}
	return user, true
}

// GetSystemConfig handles GET /admin/config
func (h *AdminHandler) GetSystemConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	entries, err := h.Settings.List(r.Context())
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, entries)
}

// UpdateSystemConfig handles PUT /admin/config/{key}
func (h *AdminHandler) UpdateSystemConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var body RESTUpdateConfigRequest
	if err := util.DecodeJSON(r, &body); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	entry, err := h.Settings.Set(r.Context(), user, chi.URLParam(r, "key"), body.Value)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, entry)
}

// UpdateSystemConfigBatch handles PUT /admin/config with a key→value object
func (h *AdminHandler) UpdateSystemConfigBatch(w http.ResponseWriter, r *http.Request) {
	user, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var values map[string]interface{}
	if err := util.DecodeJSON(r, &values); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	if err := h.Settings.SetMany(r.Context(), user, values); err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Settings updated")
}

// GetAuditLogs handles GET /admin/audit
// Query Params: userId, limit
func (h *AdminHandler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	user, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	limit, err := util.QueryInt(r, "limit", 0)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	logs, err := h.Audit.List(r.Context(), user, r.URL.Query().Get("userId"), int64(limit))
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, logs)
}
