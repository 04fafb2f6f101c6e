// Package request drives document requests through their status workflow.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
)

const (
	maxCreateAttempts     = 5
	maxTransitionAttempts = 5
	defaultListLimit      = 100
	maxListLimit          = 500
)

// Document types accepted by the registrar.
const (
	DocForm137        = "form_137"
	DocForm138        = "form_138"
	DocGoodMoral      = "good_moral"
	DocEnrollmentCert = "certificate_of_enrollment"
	DocDiploma        = "diploma"
	DocTranscript     = "transcript_of_records"
	DocGraduationCert = "certificate_of_graduation"
)

// Repository is the document request store.
type Repository interface {
	// NextSequence atomically increments and returns the named counter.
	NextSequence(ctx context.Context, name string) (int64, error)
	InsertRequest(ctx context.Context, req *shared.DocumentRequest) error
	// FindRequest resolves either the internal id or the request id.
	FindRequest(ctx context.Context, id string) (*shared.DocumentRequest, error)
	// UpdateRequest applies upd only while the stored status equals
	// expectedStatus; otherwise ErrConflict.
	UpdateRequest(ctx context.Context, id, expectedStatus string, upd shared.RequestUpdate) (*shared.DocumentRequest, error)
	ListRequests(ctx context.Context, filter shared.RequestFilter) ([]shared.DocumentRequest, error)
}

// Notifier is the notification fan-out.
type Notifier interface {
	Notify(ctx context.Context, in shared.NotificationInput) (*shared.Notification, error)
}

// Auditor is the audit log collaborator.
type Auditor interface {
	Record(ctx context.Context, eventType string, payload map[string]interface{}, actor shared.Identity)
}

// SettingsSource supplies the typed system settings.
type SettingsSource interface {
	Current(ctx context.Context) settings.Values
}

// NewRequest is a document request submission. StudentID is only honoured
// for staff submitting on a student's behalf.
type NewRequest struct {
	StudentID    string `json:"studentId"`
	DocumentType string `json:"documentType" validate:"required,oneof=form_137 form_138 good_moral certificate_of_enrollment diploma transcript_of_records certificate_of_graduation"`
	Purpose      string `json:"purpose" validate:"notblank,max=500"`
	IsUrgent     bool   `json:"isUrgent"`
}

// Change is a staff status update. An empty Status keeps the current one.
type Change struct {
	Status        string     `json:"status" validate:"omitempty,oneof=on_hold verifying processing for_pickup released rejected"`
	TentativeDate *time.Time `json:"tentativeDate"`
	PaymentStatus string     `json:"paymentStatus" validate:"omitempty,oneof=pending paid waived"`
	Reason        string     `json:"reason" validate:"max=500"`
}

// Service is the document request state machine.
type Service struct {
	repo     Repository
	notifier Notifier
	audit    Auditor
	settings SettingsSource
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// Deps groups the collaborators of the Service.
type Deps struct {
	Repo     Repository
	Notifier Notifier
	Audit    Auditor
	Settings SettingsSource
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// NewService creates a new request Service instance
func NewService(d Deps) *Service {
	return &Service{
		repo:     d.Repo,
		notifier: d.Notifier,
		audit:    d.Audit,
		settings: d.Settings,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      time.Now,
	}
}

// counterName is the per-year request sequence.
func counterName(year int) string {
	return fmt.Sprintf("document_request:%d", year)
}

// FormatRequestID renders the human-readable request id.
func FormatRequestID(year int, seq int64) string {
	return fmt.Sprintf("REQ-%d-%04d", year, seq)
}

// Fee computes the payment amount of a new request.
func Fee(v settings.Values, urgent bool) float64 {
	if urgent {
		return v.DocumentBaseFee + v.UrgentRequestFee
	}
	return v.DocumentBaseFee
}

// Create submits a new request in on_hold with a pending payment.
func (s *Service) Create(ctx context.Context, actor shared.Identity, in NewRequest) (*shared.DocumentRequest, error) {
	// 1. Resolve the owning student
	switch actor.Role {
	case shared.RoleStudent:
		if in.StudentID != "" && in.StudentID != actor.ID {
			return nil, shared.Forbidden("students can only submit their own requests")
		}
		in.StudentID = actor.ID
	case shared.RoleAdmin, shared.RoleTeacher:
		if in.StudentID == "" {
			return nil, shared.FieldsError(map[string]string{"studentId": "this field is required"})
		}
	default:
		return nil, shared.Forbidden("unknown role")
	}
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := s.now().UTC()
	year := now.Year()
	values := s.settings.Current(ctx)

	// 2. Allocate a sequence and insert; the unique request id index
	// catches a counter that lags behind existing documents.
	var req *shared.DocumentRequest
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.Retry("request_create")
		}

		seq, err := s.repo.NextSequence(queryCtx, counterName(year))
		if err != nil {
			return nil, shared.Unavailable("failed to allocate request id", err)
		}

		candidate := &shared.DocumentRequest{
			ID:            shared.GenerateID(""),
			RequestID:     FormatRequestID(year, seq),
			StudentID:     in.StudentID,
			DocumentType:  in.DocumentType,
			Purpose:       in.Purpose,
			SubmittedDate: now,
			PaymentAmount: Fee(values, in.IsUrgent),
			PaymentStatus: shared.PaymentPending,
			Status:        shared.RequestOnHold,
			IsUrgent:      in.IsUrgent,
			UpdatedAt:     now,
		}

		err = s.repo.InsertRequest(queryCtx, candidate)
		if err == nil {
			req = candidate
			break
		}
		if !errors.Is(err, shared.ErrConflict) {
			return nil, shared.Unavailable("failed to save request", err)
		}
	}
	if req == nil {
		return nil, shared.Conflict("could not allocate a unique request id, please retry")
	}

	// 3. Side effects
	s.audit.Record(ctx, shared.ActionRequestCreate, map[string]interface{}{
		"request_id":    req.RequestID,
		"student_id":    req.StudentID,
		"document_type": req.DocumentType,
		"is_urgent":     req.IsUrgent,
	}, actor)

	s.notify(ctx, shared.NotificationInput{
		StudentID: req.StudentID,
		Type:      shared.NotifyRequestSubmitted,
		Title:     "Request submitted",
		Message:   fmt.Sprintf("Your request %s for %s was received.", req.RequestID, DocumentLabel(req.DocumentType)),
		Priority:  shared.PriorityNormal,
		RelatedID: req.RequestID,
	})

	return req, nil
}

// notify runs the fan-out after a committed write; failures are logged.
func (s *Service) notify(ctx context.Context, in shared.NotificationInput) {
	if _, err := s.notifier.Notify(ctx, in); err != nil {
		s.log.Error("failed to notify student",
			zap.String("student_id", in.StudentID),
			zap.String("type", in.Type),
			zap.String("related_id", in.RelatedID),
			zap.Error(err))
	}
}

func requireStaff(actor shared.Identity, action string) error {
	if !actor.IsStaff() {
		return shared.Forbidden("only teachers and admins can %s", action)
	}
	return nil
}

func requestNotFound(id string) error {
	return shared.NotFound("document request %s not found", id)
}

// Get returns one request. Students only see their own.
func (s *Service) Get(ctx context.Context, actor shared.Identity, id string) (*shared.DocumentRequest, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := s.repo.FindRequest(queryCtx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, requestNotFound(id)
		}
		return nil, shared.Unavailable("failed to load request", err)
	}
	if actor.Role == shared.RoleStudent && req.StudentID != actor.ID {
		return nil, requestNotFound(id)
	}
	return req, nil
}

// ListForStudent returns the actor's own requests, newest first.
func (s *Service) ListForStudent(ctx context.Context, actor shared.Identity, limit int64) ([]shared.DocumentRequest, error) {
	return s.list(ctx, shared.RequestFilter{StudentID: actor.ID, Limit: limit})
}

// List returns requests matching filter (staff).
func (s *Service) List(ctx context.Context, actor shared.Identity, filter shared.RequestFilter) ([]shared.DocumentRequest, error) {
	if err := requireStaff(actor, "list document requests"); err != nil {
		return nil, err
	}
	if filter.Status != "" && !isKnownStatus(filter.Status) {
		return nil, shared.FieldsError(map[string]string{"status": "unknown status"})
	}
	return s.list(ctx, filter)
}

func (s *Service) list(ctx context.Context, filter shared.RequestFilter) ([]shared.DocumentRequest, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := s.repo.ListRequests(queryCtx, filter)
	if err != nil {
		return nil, shared.Unavailable("failed to retrieve requests", err)
	}
	if list == nil {
		list = []shared.DocumentRequest{}
	}
	return list, nil
}
