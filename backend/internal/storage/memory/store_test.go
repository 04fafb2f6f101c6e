package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/auth"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
)

var (
	_ grade.Repository        = (*Store)(nil)
	_ request.Repository      = (*Store)(nil)
	_ notification.Repository = (*Store)(nil)
	_ settings.Repository     = (*Store)(nil)
	_ auth.Repository         = (*Store)(nil)
	_ audit.Repository        = (*Store)(nil)
)

func TestStore_ValuesAreCopied(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	v := 80.0

	rec := &shared.GradeRecord{ID: "r1", StudentID: "s1", SectionID: "a", SubjectID: "b", SchoolYear: "2025-2026", Quarter: 1,
		Scores: shared.Scores{WrittenWork: []*float64{&v}}, Version: 1}
	require.NoError(t, s.InsertGradeRecord(ctx, rec))

	v = 10
	got, err := s.FindGradeRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, 80.0, *got.Scores.WrittenWork[0])

	*got.Scores.WrittenWork[0] = 5
	again, err := s.FindGradeRecord(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, 80.0, *again.Scores.WrittenWork[0])
}

func TestStore_RequestFirstClaim(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertRequest(ctx, &shared.DocumentRequest{ID: "d1", RequestID: "REQ-2025-0001", Status: shared.RequestOnHold}))

	_, err := s.UpdateRequest(ctx, "REQ-2025-0001", shared.RequestOnHold, shared.RequestUpdate{Status: shared.RequestVerifying, ClaimBy: "A", ClaimByID: "a"})
	require.NoError(t, err)
	got, err := s.UpdateRequest(ctx, "d1", shared.RequestVerifying, shared.RequestUpdate{Status: shared.RequestProcessing, ClaimBy: "B", ClaimByID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "A", *got.ProcessedBy)

	_, err = s.UpdateRequest(ctx, "d1", shared.RequestVerifying, shared.RequestUpdate{Status: shared.RequestForPickup})
	assert.True(t, errors.Is(err, shared.ErrConflict))
}

func TestStore_LoginFailureWindow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2025, time.August, 1, 8, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		a, err := s.RecordLoginFailure(ctx, "x", now.Add(time.Duration(i)*time.Minute), 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, a.Count)
	}

	a, err := s.RecordLoginFailure(ctx, "x", now.Add(30*time.Minute), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count)
}
