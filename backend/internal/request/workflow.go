package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school_portal/backend/internal/shared"
)

// statusRank orders the forward path. rejected sits outside it.
var statusRank = map[string]int{
	shared.RequestOnHold:     0,
	shared.RequestVerifying:  1,
	shared.RequestProcessing: 2,
	shared.RequestForPickup:  3,
	shared.RequestReleased:   4,
}

var statusLabels = map[string]string{
	shared.RequestOnHold:     "on hold",
	shared.RequestVerifying:  "being verified",
	shared.RequestProcessing: "being processed",
	shared.RequestForPickup:  "ready for pickup",
	shared.RequestReleased:   "released",
	shared.RequestRejected:   "rejected",
}

var documentLabels = map[string]string{
	DocForm137:        "Form 137",
	DocForm138:        "Form 138",
	DocGoodMoral:      "Certificate of Good Moral Character",
	DocEnrollmentCert: "Certificate of Enrollment",
	DocDiploma:        "Diploma",
	DocTranscript:     "Transcript of Records",
	DocGraduationCert: "Certificate of Graduation",
}

// DocumentLabel returns the display name of a document type.
func DocumentLabel(docType string) string {
	if l, ok := documentLabels[docType]; ok {
		return l
	}
	return docType
}

func isKnownStatus(status string) bool {
	_, ok := statusLabels[status]
	return ok
}

// CanTransition reports whether from may move to to. Moves are forward
// only, skipping is allowed, and staying in a status is an update.
func CanTransition(from, to string) bool {
	if from == shared.RequestReleased || from == shared.RequestRejected {
		return false
	}
	if to == shared.RequestRejected {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr >= fr
}

// Transition moves a request along the workflow (staff only). The tentative
// date survives only while the resulting status is processing.
func (s *Service) Transition(ctx context.Context, actor shared.Identity, id string, change Change) (*shared.DocumentRequest, error) {
	// 1. Authorization & input validation
	if err := requireStaff(actor, "update document requests"); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, shared.FieldsError(map[string]string{"requestId": "this field is required"})
	}
	if err := shared.ValidateStruct(change); err != nil {
		return nil, err
	}
	if change.Status == shared.RequestRejected {
		return s.Reject(ctx, actor, id, change.Reason)
	}
	if change.Status == "" && change.PaymentStatus == "" && change.TentativeDate == nil {
		return nil, shared.NewValidationError("nothing to update")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// 2. Conditional write on the status read, retried on a concurrent move
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.Retry("request_transition")
		}

		current, err := s.load(queryCtx, id)
		if err != nil {
			return nil, err
		}

		next := change.Status
		if next == "" {
			next = current.Status
		}
		if !CanTransition(current.Status, next) {
			return nil, shared.Conflict("cannot move request %s from %s to %s", current.RequestID, current.Status, next)
		}

		upd := shared.RequestUpdate{
			Status:        next,
			PaymentStatus: change.PaymentStatus,
			ClaimBy:       claimant(actor),
			ClaimByID:     actor.ID,
			UpdatedAt:     s.now().UTC(),
		}
		if next == shared.RequestProcessing {
			upd.TentativeDate = change.TentativeDate
			if upd.TentativeDate == nil {
				upd.TentativeDate = current.TentativeDate
			}
		}

		updated, err := s.repo.UpdateRequest(queryCtx, current.ID, current.Status, upd)
		if errors.Is(err, shared.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, shared.Unavailable("failed to update request", err)
		}

		s.metrics.Transition(current.Status, updated.Status)
		s.afterTransition(ctx, actor, current, updated)
		return updated, nil
	}

	return nil, shared.Conflict("request is being modified concurrently, please retry")
}

func (s *Service) load(ctx context.Context, id string) (*shared.DocumentRequest, error) {
	req, err := s.repo.FindRequest(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, requestNotFound(id)
		}
		return nil, shared.Unavailable("failed to load request", err)
	}
	return req, nil
}

func (s *Service) afterTransition(ctx context.Context, actor shared.Identity, before, after *shared.DocumentRequest) {
	s.audit.Record(ctx, shared.ActionRequestTransit, map[string]interface{}{
		"request_id":     after.RequestID,
		"from":           before.Status,
		"to":             after.Status,
		"payment_status": after.PaymentStatus,
	}, actor)

	msg := fmt.Sprintf("Your request %s for %s is now %s.", after.RequestID, DocumentLabel(after.DocumentType), statusLabels[after.Status])
	if after.TentativeDate != nil {
		msg += fmt.Sprintf(" Tentative release date: %s.", after.TentativeDate.Format("January 2, 2006"))
	}

	priority := shared.PriorityNormal
	if after.Status == shared.RequestForPickup {
		priority = shared.PriorityHigh
	}

	s.notify(ctx, shared.NotificationInput{
		StudentID: after.StudentID,
		Type:      shared.NotifyRequestStatus,
		Title:     "Request status updated",
		Message:   msg,
		Priority:  priority,
		RelatedID: after.RequestID,
	})
}

// Reject ends a non-terminal request. The tentative date is cleared.
func (s *Service) Reject(ctx context.Context, actor shared.Identity, id, reason string) (*shared.DocumentRequest, error) {
	if err := requireStaff(actor, "reject document requests"); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, shared.FieldsError(map[string]string{"requestId": "this field is required"})
	}
	if len(reason) > 500 {
		return nil, shared.FieldsError(map[string]string{"reason": "reason must be a maximum of 500 characters in length"})
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.Retry("request_reject")
		}

		current, err := s.load(queryCtx, id)
		if err != nil {
			return nil, err
		}
		if current.IsTerminal() {
			return nil, shared.Conflict("request %s is already %s", current.RequestID, current.Status)
		}

		updated, err := s.repo.UpdateRequest(queryCtx, current.ID, current.Status, shared.RequestUpdate{
			Status:          shared.RequestRejected,
			RejectionReason: reason,
			ClaimBy:         claimant(actor),
			ClaimByID:       actor.ID,
			UpdatedAt:       s.now().UTC(),
		})
		if errors.Is(err, shared.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, shared.Unavailable("failed to reject request", err)
		}

		s.metrics.Transition(current.Status, updated.Status)
		s.audit.Record(ctx, shared.ActionRequestReject, map[string]interface{}{
			"request_id": updated.RequestID,
			"from":       current.Status,
			"reason":     reason,
		}, actor)

		msg := fmt.Sprintf("Your request %s for %s was rejected.", updated.RequestID, DocumentLabel(updated.DocumentType))
		if reason != "" {
			msg += " Reason: " + reason
		}
		s.notify(ctx, shared.NotificationInput{
			StudentID: updated.StudentID,
			Type:      shared.NotifyRequestRejected,
			Title:     "Request rejected",
			Message:   msg,
			Priority:  shared.PriorityHigh,
			RelatedID: updated.RequestID,
		})
		return updated, nil
	}

	return nil, shared.Conflict("request is being modified concurrently, please retry")
}

// claimant is the processed_by value recorded for actor.
func claimant(actor shared.Identity) string {
	if actor.Name != "" {
		return actor.Name
	}
	return actor.ID
}
