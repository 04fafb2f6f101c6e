package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"school_portal/backend/internal/gateway/util"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/shared"
)

// RequestHandler exposes the document request workflow.
type RequestHandler struct {
	Requests *request.Service
}

// RESTRejectRequest mirrors the JSON input for POST /requests/{id}/reject
type RESTRejectRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in request.NewRequest
	if err := util.DecodeJSON(r, &in); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	req, err := h.Requests.Create(r.Context(), user, in)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, req)
}

// List handles GET /requests
// Students get their own requests; staff get all, optionally by status.
// Query Params: status (staff), studentId (staff), limit
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, err := util.QueryInt(r, "limit", 0)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	var reqs []shared.DocumentRequest
	if user.Role == shared.RoleStudent {
		reqs, err = h.Requests.ListForStudent(r.Context(), user, int64(limit))
	} else {
		q := r.URL.Query()
		reqs, err = h.Requests.List(r.Context(), user, shared.RequestFilter{
			StudentID: q.Get("studentId"),
			Status:    q.Get("status"),
			Limit:     int64(limit),
		})
	}
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, reqs)
}

// Get handles GET /requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	req, err := h.Requests.Get(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, req)
}

// Transition handles PATCH /requests/{id}
func (h *RequestHandler) Transition(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var change request.Change
	if err := util.DecodeJSON(r, &change); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	req, err := h.Requests.Transition(r.Context(), user, chi.URLParam(r, "id"), change)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, req)
}

// Reject handles POST /requests/{id}/reject
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var body RESTRejectRequest
	if err := util.DecodeJSON(r, &body); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	req, err := h.Requests.Reject(r.Context(), user, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, req)
}
