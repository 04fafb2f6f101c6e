package shared

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies core errors. Boundary layers map a Kind to a transport
// status code through the error's gRPC status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindVerificationLocked
	KindConflict
	KindUnavailable
	KindUnauthenticated
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindNotFound:           "not_found",
	KindForbidden:          "forbidden",
	KindVerificationLocked: "verification_locked",
	KindConflict:           "conflict",
	KindUnavailable:        "upstream_unavailable",
	KindUnauthenticated:    "unauthenticated",
}

func (k Kind) String() string { return kindNames[k] }

func (k Kind) code() codes.Code {
	switch k {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindForbidden:
		return codes.PermissionDenied
	case KindVerificationLocked:
		return codes.FailedPrecondition
	case KindConflict:
		return codes.Aborted
	case KindUnavailable:
		return codes.Unavailable
	case KindUnauthenticated:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

// Sentinels usable with errors.Is.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrVerificationLocked = &Error{Kind: KindVerificationLocked}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed error returned across the core boundary.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// GRPCStatus lets status.FromError translate core errors. Field errors are
// attached as a BadRequest detail.
func (e *Error) GRPCStatus() *status.Status {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	st := status.New(e.Kind.code(), msg)
	if len(e.Fields) == 0 {
		return st
	}

	br := &errdetails.BadRequest{}
	for _, f := range e.Fields {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       f.Field,
			Description: f.Message,
		})
	}
	if withDetails, err := st.WithDetails(br); err == nil {
		return withDetails
	}
	return st
}

// ============================================================================
// Constructors
// ============================================================================

func NewValidationError(msg string, fields ...FieldError) error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// FieldsError builds a validation error from a field→message map.
func FieldsError(fields map[string]string) error {
	flds := make([]FieldError, 0, len(fields))
	for f, m := range fields {
		flds = append(flds, FieldError{Field: f, Message: m})
	}
	sort.Slice(flds, func(i, j int) bool { return flds[i].Field < flds[j].Field })
	return &Error{Kind: KindValidation, Message: "invalid input", Fields: flds}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...interface{}) error {
	return &Error{Kind: KindUnauthenticated, Message: fmt.Sprintf(format, args...)}
}

// VerificationLocked reports a mutation attempt on a verified grade record.
func VerificationLocked() error {
	return &Error{Kind: KindVerificationLocked, Message: "grade already verified"}
}

// Unavailable wraps a store or transport failure.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Message: op, Err: err}
}

// KindOf returns the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
