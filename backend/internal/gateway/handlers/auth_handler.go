package handlers

import (
	"net/http"

	"school_portal/backend/internal/auth"
	"school_portal/backend/internal/gateway/util"
	"school_portal/backend/internal/shared"
)

// AuthHandler exposes login, logout and the caller's identity.
type AuthHandler struct {
	Auth *auth.Service
}

// currentUser returns the identity injected by the auth middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	user, ok := util.IdentityFrom(r)
	if !ok {
		util.WriteJSONError(w, http.StatusUnauthorized, "Authentication required")
		return shared.Identity{}, false
	}
	return user, true
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	// 1. Decode Request Body
	var in auth.LoginInput
	if err := util.DecodeJSON(r, &in); err != nil {
		util.HandleServiceError(w, err)
		return
	}
	in.IPAddress = r.RemoteAddr

	// 2. Check Credentials
	res, err := h.Auth.Login(r.Context(), in)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	util.WriteJSON(w, http.StatusOK, res)
}

// Logout handles POST /auth/logout. It extracts its own token so an
// expired token can still end its session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := util.ExtractToken(r)
	if err != nil {
		util.WriteJSONError(w, http.StatusUnauthorized, "Authorization token required")
		return
	}

	if err := h.Auth.Logout(r.Context(), token); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	util.WriteMessage(w, http.StatusOK, "Logged out")
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	util.WriteJSON(w, http.StatusOK, user)
}
