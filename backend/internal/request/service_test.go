package request

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/memory"
)

var (
	admin    = shared.Identity{ID: "admin-1", Role: shared.RoleAdmin, Name: "Registrar Santos"}
	teacher  = shared.Identity{ID: "teacher-1", Role: shared.RoleTeacher, Name: "Ms. Cruz"}
	student  = shared.Identity{ID: "student-1", Role: shared.RoleStudent, Name: "Juan"}
	student2 = shared.Identity{ID: "student-2", Role: shared.RoleStudent, Name: "Maria"}
)

var fixedNow = time.Date(2025, time.September, 15, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	rec := audit.NewRecorder(store, zap.NewNop())
	svc := NewService(Deps{
		Repo:     store,
		Notifier: notification.NewService(store, nil, nil, zap.NewNop(), time.Second),
		Audit:    rec,
		Settings: settings.NewService(store, rec, zap.NewNop()),
		Metrics:  metrics.New(false),
		Log:      zap.NewNop(),
	})
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func create(t *testing.T, svc *Service) *shared.DocumentRequest {
	t.Helper()
	req, err := svc.Create(context.Background(), student, NewRequest{DocumentType: DocForm137, Purpose: "College application"})
	require.NoError(t, err)
	return req
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential ids per year", func(t *testing.T) {
		svc, store := newTestService(t)

		first := create(t, svc)
		second := create(t, svc)
		assert.Equal(t, "REQ-2025-0001", first.RequestID)
		assert.Equal(t, "REQ-2025-0002", second.RequestID)

		assert.Equal(t, shared.RequestOnHold, first.Status)
		assert.Equal(t, shared.PaymentPending, first.PaymentStatus)
		assert.Nil(t, first.TentativeDate)
		assert.Nil(t, first.ProcessedBy)
		assert.Equal(t, 50.0, first.PaymentAmount)

		notes, err := store.ListNotifications(ctx, student.ID, false, 10)
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, shared.NotifyRequestSubmitted, notes[0].Type)
	})

	t.Run("new year restarts the sequence", func(t *testing.T) {
		svc, _ := newTestService(t)
		create(t, svc)

		svc.now = func() time.Time { return time.Date(2026, time.January, 5, 8, 0, 0, 0, time.UTC) }
		req := create(t, svc)
		assert.Equal(t, "REQ-2026-0001", req.RequestID)
	})

	t.Run("urgent requests add the surcharge", func(t *testing.T) {
		svc, _ := newTestService(t)
		req, err := svc.Create(ctx, student, NewRequest{DocumentType: DocDiploma, Purpose: "Employment", IsUrgent: true})
		require.NoError(t, err)
		assert.Equal(t, 150.0, req.PaymentAmount)
	})

	t.Run("concurrent creates get distinct ids", func(t *testing.T) {
		svc, _ := newTestService(t)
		const n = 25

		ids := make([]string, n)
		var g errgroup.Group
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				req, err := svc.Create(ctx, student, NewRequest{DocumentType: DocForm138, Purpose: fmt.Sprintf("copy %d", i)})
				if err != nil {
					return err
				}
				ids[i] = req.RequestID
				return nil
			})
		}
		require.NoError(t, g.Wait())

		seen := make(map[string]bool, n)
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
		}
		assert.True(t, seen["REQ-2025-0001"])
		assert.True(t, seen[fmt.Sprintf("REQ-2025-%04d", n)])
	})

	t.Run("lagging counter is skipped on duplicate", func(t *testing.T) {
		svc, store := newTestService(t)
		require.NoError(t, store.InsertRequest(ctx, &shared.DocumentRequest{
			ID: "legacy", RequestID: "REQ-2025-0001", StudentID: student2.ID, Status: shared.RequestOnHold,
		}))

		req := create(t, svc)
		assert.Equal(t, "REQ-2025-0002", req.RequestID)
	})

	t.Run("validation and ownership", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Create(ctx, student, NewRequest{DocumentType: "passport", Purpose: ""})
		var e *shared.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, shared.KindValidation, e.Kind)
		assert.Len(t, e.Fields, 2)

		_, err = svc.Create(ctx, student, NewRequest{StudentID: student2.ID, DocumentType: DocForm137, Purpose: "x"})
		assert.True(t, errors.Is(err, shared.ErrForbidden))

		_, err = svc.Create(ctx, admin, NewRequest{DocumentType: DocForm137, Purpose: "x"})
		assert.True(t, errors.Is(err, shared.ErrValidation))

		req, err := svc.Create(ctx, admin, NewRequest{StudentID: student2.ID, DocumentType: DocForm137, Purpose: "walk-in"})
		require.NoError(t, err)
		assert.Equal(t, student2.ID, req.StudentID)
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	tentative := time.Date(2025, time.September, 22, 0, 0, 0, 0, time.UTC)

	t.Run("tentative date only survives processing", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := create(t, svc)

		got, err := svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestVerifying, TentativeDate: &tentative})
		require.NoError(t, err)
		assert.Nil(t, got.TentativeDate)

		got, err = svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestProcessing, TentativeDate: &tentative})
		require.NoError(t, err)
		require.NotNil(t, got.TentativeDate)
		assert.True(t, tentative.Equal(*got.TentativeDate))

		got, err = svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestForPickup})
		require.NoError(t, err)
		assert.Nil(t, got.TentativeDate)

		stored, err := svc.Get(ctx, admin, req.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.TentativeDate)
	})

	t.Run("processed by is claimed once", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := create(t, svc)

		_, err := svc.Transition(ctx, teacher, req.RequestID, Change{Status: shared.RequestVerifying})
		require.NoError(t, err)
		got, err := svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestProcessing, PaymentStatus: shared.PaymentPaid})
		require.NoError(t, err)

		require.NotNil(t, got.ProcessedBy)
		assert.Equal(t, teacher.Name, *got.ProcessedBy)
		assert.Equal(t, teacher.ID, *got.ProcessedByID)
		assert.Equal(t, shared.PaymentPaid, got.PaymentStatus)
	})

	t.Run("backward and terminal moves conflict", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := create(t, svc)

		_, err := svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestForPickup})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestVerifying})
		assert.True(t, errors.Is(err, shared.ErrConflict))

		_, err = svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestReleased})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestReleased})
		assert.True(t, errors.Is(err, shared.ErrConflict))
		_, err = svc.Reject(ctx, admin, req.RequestID, "late")
		assert.True(t, errors.Is(err, shared.ErrConflict))
	})

	t.Run("students cannot transition", func(t *testing.T) {
		svc, _ := newTestService(t)
		req := create(t, svc)

		_, err := svc.Transition(ctx, student, req.RequestID, Change{Status: shared.RequestVerifying})
		assert.True(t, errors.Is(err, shared.ErrForbidden))
		_, err = svc.Reject(ctx, student, req.RequestID, "")
		assert.True(t, errors.Is(err, shared.ErrForbidden))
	})

	t.Run("unknown request and bad input", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Transition(ctx, admin, "REQ-2025-9999", Change{Status: shared.RequestVerifying})
		assert.True(t, errors.Is(err, shared.ErrNotFound))
		_, err = svc.Transition(ctx, admin, "REQ-2025-9999", Change{Status: "lost"})
		assert.True(t, errors.Is(err, shared.ErrValidation))
		_, err = svc.Transition(ctx, admin, "REQ-2025-9999", Change{})
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("each transition notifies the student", func(t *testing.T) {
		svc, store := newTestService(t)
		req := create(t, svc)

		_, err := svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestProcessing, TentativeDate: &tentative})
		require.NoError(t, err)

		notes, err := store.ListNotifications(ctx, student.ID, false, 10)
		require.NoError(t, err)
		require.Len(t, notes, 2)
		var status *shared.Notification
		for i := range notes {
			if notes[i].Type == shared.NotifyRequestStatus {
				status = &notes[i]
			}
		}
		require.NotNil(t, status)
		assert.Equal(t, req.RequestID, status.RelatedID)
		assert.Contains(t, status.Message, "being processed")
		assert.Contains(t, status.Message, "September 22, 2025")

		logs, err := store.ListAuditLogs(ctx, admin.ID, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, shared.ActionRequestTransit, logs[0].Action)
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	req := create(t, svc)
	tentative := fixedNow.Add(72 * time.Hour)

	_, err := svc.Transition(ctx, admin, req.RequestID, Change{Status: shared.RequestProcessing, TentativeDate: &tentative})
	require.NoError(t, err)

	got, err := svc.Transition(ctx, teacher, req.RequestID, Change{Status: shared.RequestRejected, Reason: "Unpaid balance"})
	require.NoError(t, err)
	assert.Equal(t, shared.RequestRejected, got.Status)
	assert.Nil(t, got.TentativeDate)
	assert.Equal(t, "Unpaid balance", got.RejectionReason)
	assert.Equal(t, admin.Name, *got.ProcessedBy)

	notes, err := store.ListNotifications(ctx, student.ID, false, 10)
	require.NoError(t, err)
	var rejected int
	for _, n := range notes {
		if n.Type == shared.NotifyRequestRejected {
			rejected++
			assert.Equal(t, shared.PriorityHigh, n.Priority)
			assert.Contains(t, n.Message, "Unpaid balance")
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	mine := create(t, svc)
	theirs, err := svc.Create(ctx, student2, NewRequest{DocumentType: DocGoodMoral, Purpose: "Scholarship"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, student, theirs.RequestID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	got, err := svc.Get(ctx, student, mine.RequestID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	list, err := svc.ListForStudent(ctx, student, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.List(ctx, student, shared.RequestFilter{})
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	all, err := svc.List(ctx, admin, shared.RequestFilter{Status: shared.RequestOnHold})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = svc.List(ctx, admin, shared.RequestFilter{Status: "archived"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(shared.RequestOnHold, shared.RequestProcessing))
	assert.True(t, CanTransition(shared.RequestProcessing, shared.RequestProcessing))
	assert.True(t, CanTransition(shared.RequestForPickup, shared.RequestRejected))
	assert.False(t, CanTransition(shared.RequestForPickup, shared.RequestOnHold))
	assert.False(t, CanTransition(shared.RequestRejected, shared.RequestOnHold))
	assert.False(t, CanTransition(shared.RequestReleased, shared.RequestRejected))
}
