package util

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"school_portal/backend/internal/shared"
)

// JSONResponse structure for successful responses
type JSONResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// JSONError structure for error responses
type JSONError struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteJSON wraps payload in a success envelope and writes it.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	writeBody(w, status, JSONResponse{Success: true, Data: payload})
}

// WriteMessage writes a success envelope carrying only a message.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	writeBody(w, status, JSONResponse{Success: true, Message: message})
}

// WriteJSONError is a helper to write standardized error JSON responses
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	writeBody(w, status, JSONError{Success: false, Message: message})
}

func writeBody(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("failed to write JSON response", zap.Error(err))
	}
}

// HandleServiceError translates typed core errors to HTTP responses. Core
// errors carry a gRPC status; anything else is an internal error.
func HandleServiceError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		zap.L().Error("unexpected service error", zap.Error(err))
		WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	switch st.Code() {
	case codes.InvalidArgument:
		writeBody(w, http.StatusBadRequest, JSONError{Success: false, Message: st.Message(), Fields: fieldViolations(st)})
	case codes.Unauthenticated:
		WriteJSONError(w, http.StatusUnauthorized, st.Message())
	case codes.PermissionDenied:
		WriteJSONError(w, http.StatusForbidden, st.Message())
	case codes.NotFound:
		WriteJSONError(w, http.StatusNotFound, st.Message())
	case codes.AlreadyExists, codes.Aborted:
		WriteJSONError(w, http.StatusConflict, st.Message())
	case codes.FailedPrecondition:
		WriteJSONError(w, http.StatusLocked, st.Message())
	case codes.Unavailable:
		zap.L().Error("storage unavailable", zap.Error(err))
		WriteJSONError(w, http.StatusServiceUnavailable, "Service Unavailable: the data store is unreachable.")
	case codes.DeadlineExceeded:
		WriteJSONError(w, http.StatusGatewayTimeout, "Service Timeout: the request took too long to complete.")
	default:
		zap.L().Error("internal service error", zap.Error(err))
		WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func fieldViolations(st *status.Status) map[string]string {
	var fields map[string]string
	for _, d := range st.Details() {
		br, ok := d.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, v := range br.GetFieldViolations() {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[v.GetField()] = v.GetDescription()
		}
	}
	return fields
}

// DecodeJSON reads the request body into v. Failures are validation errors.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return shared.NewValidationError("invalid request body")
	}
	return nil
}

// QueryInt reads an integer query parameter, def when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.FieldsError(map[string]string{name: "must be a number"})
	}
	return n, nil
}

// ExtractToken extracts the token from the Authorization header (Bearer <token>)
func ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	// Expect header: "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}

type identityKey struct{}

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, id shared.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by the auth middleware.
func IdentityFrom(r *http.Request) (shared.Identity, bool) {
	id, ok := r.Context().Value(identityKey{}).(shared.Identity)
	return id, ok
}
