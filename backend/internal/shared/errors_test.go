package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NotFound("request %s not found", "REQ-2025-0001")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "request REQ-2025-0001 not found", err.Error())

	wrapped := fmt.Errorf("loading: %w", VerificationLocked())
	assert.True(t, errors.Is(wrapped, ErrVerificationLocked))
	assert.Equal(t, KindVerificationLocked, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestError_UnavailableUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unavailable("failed to save grade record", cause)

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "failed to save grade record: connection reset", err.Error())
}

func TestError_GRPCStatus(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{NewValidationError("bad"), codes.InvalidArgument},
		{NotFound("x"), codes.NotFound},
		{Forbidden("x"), codes.PermissionDenied},
		{VerificationLocked(), codes.FailedPrecondition},
		{Conflict("x"), codes.Aborted},
		{Unavailable("x", errors.New("y")), codes.Unavailable},
		{Unauthenticated("x"), codes.Unauthenticated},
	}
	for _, tc := range cases {
		st, ok := status.FromError(tc.err)
		require.True(t, ok)
		assert.Equal(t, tc.code, st.Code(), tc.err.Error())
	}

	st, _ := status.FromError(VerificationLocked())
	assert.Equal(t, "grade already verified", st.Message())
}

func TestFieldsError(t *testing.T) {
	err := FieldsError(map[string]string{"quarter": "must be 1-4", "category": "unknown"})

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindValidation, e.Kind)
	assert.Equal(t, []FieldError{{Field: "category", Message: "unknown"}, {Field: "quarter", Message: "must be 1-4"}}, e.Fields)

	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Len(t, st.Details(), 1)
	br, ok := st.Details()[0].(*errdetails.BadRequest)
	require.True(t, ok)
	require.Len(t, br.GetFieldViolations(), 2)
	assert.Equal(t, "category", br.GetFieldViolations()[0].GetField())
}
