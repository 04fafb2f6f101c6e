package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/memory"
)

var (
	admin   = shared.Identity{ID: "admin-1", Role: shared.RoleAdmin, Name: "Admin"}
	teacher = shared.Identity{ID: "teacher-1", Role: shared.RoleTeacher, Name: "Teacher"}
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store, audit.NewRecorder(store, zap.NewNop()), zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, time.August, 1, 8, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestCurrentSchoolYear(t *testing.T) {
	assert.Equal(t, "2025-2026", CurrentSchoolYear(time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-2025", CurrentSchoolYear(time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC)))
}

func TestService_Defaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	v := svc.Current(ctx)
	assert.Equal(t, "2025-2026", v.SchoolYear)
	assert.Equal(t, 1, v.CurrentQuarter)
	assert.Equal(t, 50.0, v.DocumentBaseFee)
	assert.Equal(t, 100.0, v.UrgentRequestFee)
	assert.Equal(t, 5, v.LoginMaxAttempts)
	assert.Equal(t, 15*time.Minute, v.LoginLockoutWindow)
	assert.True(t, v.GradeReleasePush)

	e, err := svc.Get(ctx, KeyLoginLockoutWindow)
	require.NoError(t, err)
	assert.True(t, e.IsDefault)
	assert.Equal(t, "15m0s", e.Value)

	_, err = svc.Get(ctx, "no_such_key")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestService_Set(t *testing.T) {
	ctx := context.Background()

	t.Run("typed values are stored canonically", func(t *testing.T) {
		svc, store := newTestService(t)

		e, err := svc.Set(ctx, admin, KeyCurrentQuarter, float64(3))
		require.NoError(t, err)
		assert.Equal(t, int64(3), e.Value)
		assert.False(t, e.IsDefault)
		assert.Equal(t, admin.ID, e.UpdatedBy)

		_, err = svc.Set(ctx, admin, KeyLoginLockoutWindow, "90s")
		require.NoError(t, err)
		stored, err := store.GetSetting(ctx, KeyLoginLockoutWindow)
		require.NoError(t, err)
		assert.Equal(t, "1m30s", stored.Value)

		v := svc.Current(ctx)
		assert.Equal(t, 3, v.CurrentQuarter)
		assert.Equal(t, 90*time.Second, v.LoginLockoutWindow)

		logs, err := store.ListAuditLogs(ctx, admin.ID, 10)
		require.NoError(t, err)
		assert.Len(t, logs, 2)
		assert.Equal(t, shared.ActionConfigChange, logs[0].Action)
	})

	t.Run("wrong types and unknown keys are rejected", func(t *testing.T) {
		svc, store := newTestService(t)

		err := svc.SetMany(ctx, admin, map[string]interface{}{
			KeyCurrentQuarter:   "five",
			KeyDocumentBaseFee:  -1.0,
			KeyGradeReleasePush: 1.0,
			"favorite_color":    "blue",
			KeyUrgentRequestFee: 20.0,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrValidation))

		var e *shared.Error
		require.True(t, errors.As(err, &e))
		fields := map[string]string{}
		for _, f := range e.Fields {
			fields[f.Field] = f.Message
		}
		assert.Contains(t, fields, KeyCurrentQuarter)
		assert.Contains(t, fields, KeyDocumentBaseFee)
		assert.Contains(t, fields, KeyGradeReleasePush)
		assert.Contains(t, fields, "favorite_color")
		assert.NotContains(t, fields, KeyUrgentRequestFee)

		// nothing is written when any value is invalid
		all, err := store.ListSettings(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("quarter range is enforced", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Set(ctx, admin, KeyCurrentQuarter, float64(5))
		assert.True(t, errors.Is(err, shared.ErrValidation))
		_, err = svc.Set(ctx, admin, KeyCurrentQuarter, 2.5)
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("only admins can change settings", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Set(ctx, teacher, KeyCurrentQuarter, float64(2))
		assert.True(t, errors.Is(err, shared.ErrForbidden))
	})
}
