package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"school_portal/backend/internal/gateway/util"
	"school_portal/backend/internal/notification"
)

// NotificationHandler exposes a student's notification inbox.
type NotificationHandler struct {
	Notifications *notification.Service
}

// RESTBulkRequest mirrors the JSON input of the bulk endpoints
type RESTBulkRequest struct {
	IDs []string `json:"ids"`
}

// List handles GET /notifications
// Query Params: unread (true|false), limit
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, err := util.QueryInt(r, "limit", 0)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	items, err := h.Notifications.List(r.Context(), user, unreadOnly, int64(limit))
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, items)
}

// UnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	n, err := h.Notifications.UnreadCount(r.Context(), user)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]int64{"unread": n})
}

// MarkRead handles POST /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.Notifications.MarkRead(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Notification marked as read")
}

// MarkUnread handles POST /notifications/{id}/unread
func (h *NotificationHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.Notifications.MarkUnread(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Notification marked as unread")
}

// MarkAllRead handles POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	n, err := h.Notifications.MarkAllRead(r.Context(), user)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// BulkRead handles POST /notifications/bulk/read
func (h *NotificationHandler) BulkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body RESTBulkRequest
	if err := util.DecodeJSON(r, &body); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	n, err := h.Notifications.BulkMarkRead(r.Context(), user, body.IDs)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// BulkDelete handles POST /notifications/bulk/delete
func (h *NotificationHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body RESTBulkRequest
	if err := util.DecodeJSON(r, &body); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	n, err := h.Notifications.BulkDelete(r.Context(), user, body.IDs)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
