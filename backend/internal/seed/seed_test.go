package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/memory"
)

func TestUsers_Idempotent(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	n, err := Users(ctx, store, bcrypt.MinCost, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = Users(ctx, store, bcrypt.MinCost, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)

	u, err := store.FindUserByIdentifier(ctx, "2024-00001")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(CommonPassword)))
}

func TestSample(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	logger := zap.NewNop()

	rec := audit.NewRecorder(store, logger)
	st := settings.NewService(store, rec, logger)
	notifier := notification.NewService(store, nil, nil, logger, 0)
	w := Workload{
		Grades:   grade.NewService(grade.Deps{Repo: store, Notifier: notifier, Audit: rec, Settings: st, Log: logger}),
		Requests: request.NewService(request.Deps{Repo: store, Notifier: notifier, Audit: rec, Settings: st, Log: logger}),
	}

	require.NoError(t, Sample(ctx, w, "2025-2026"))

	records, err := store.ListGradeRecords(ctx, shared.GradeRecordFilter{SectionID: SectionID, SubjectID: "math"})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	released, err := store.ListGradeRecords(ctx, shared.GradeRecordFilter{StudentID: StudentID1, VerifiedOnly: true})
	require.NoError(t, err)
	require.Len(t, released, 1)
	// WW 85% * .3 + PT 90% * .5 + QA 88% * .2
	assert.InDelta(t, 88.1, released[0].Averages.FinalGrade, 0.01)

	reqs, err := store.ListRequests(ctx, shared.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	// A second run finds the configuration and the locked record.
	require.NoError(t, Sample(ctx, w, "2025-2026"))
	cfg, err := store.FindConfiguration(ctx, shared.GradeConfigKey{SectionID: SectionID, SubjectID: "math", Quarter: 1, TeacherID: TeacherID1})
	require.NoError(t, err)
	assert.Len(t, cfg.WrittenWork, 2)
}
