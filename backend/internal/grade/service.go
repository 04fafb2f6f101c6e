package grade

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"school_portal/backend/internal/cache"
	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
)

// maxWriteAttempts bounds the optimistic retry loop of a score write.
const maxWriteAttempts = 5

// Repository is the grade document store.
type Repository interface {
	GetOrCreateConfiguration(ctx context.Context, key shared.GradeConfigKey, now time.Time) (*shared.GradeConfiguration, error)
	FindConfiguration(ctx context.Context, key shared.GradeConfigKey) (*shared.GradeConfiguration, error)
	PushConfigItem(ctx context.Context, key shared.GradeConfigKey, category string, item shared.GradeItem, now time.Time) error
	UpdateConfigItem(ctx context.Context, key shared.GradeConfigKey, itemID string, name *string, maxScore *float64, now time.Time) error
	PullConfigItem(ctx context.Context, key shared.GradeConfigKey, itemID string, now time.Time) error

	FindGradeRecord(ctx context.Context, key shared.GradeRecordKey) (*shared.GradeRecord, error)
	InsertGradeRecord(ctx context.Context, rec *shared.GradeRecord) error
	// UpdateGradeRecord replaces rec only while the stored version equals
	// expectedVersion and the record is unverified; otherwise ErrConflict.
	UpdateGradeRecord(ctx context.Context, rec *shared.GradeRecord, expectedVersion int64) error
	// VerifyGradeRecord sets the verification stamp if unset. The bool
	// reports whether this call made the transition.
	VerifyGradeRecord(ctx context.Context, key shared.GradeRecordKey, verifiedBy string, at time.Time) (*shared.GradeRecord, bool, error)
	ListGradeRecords(ctx context.Context, filter shared.GradeRecordFilter) ([]shared.GradeRecord, error)
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

// Service is the grade configuration store, record aggregator and
// verification gate.
type Service struct {
	repo     Repository
	views    cache.GradeViews
	notifier Notifier
	audit    Auditor
	settings SettingsSource
	metrics  *metrics.Metrics
	log      *zap.Logger

	loads singleflight.Group
	now   func() time.Time
}

// Deps groups the collaborators of the Service.
type Deps struct {
	Repo     Repository
	Views    cache.GradeViews
	Notifier Notifier
	Audit    Auditor
	Settings SettingsSource
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// NewService creates a new grade Service instance
func NewService(d Deps) *Service {
	views := d.Views
	if views == nil {
		views = cache.Noop{}
	}
	return &Service{
		repo:     d.Repo,
		views:    views,
		notifier: d.Notifier,
		audit:    d.Audit,
		settings: d.Settings,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      time.Now,
	}
}

func requireStaff(actor shared.Identity, action string) error {
	if !actor.IsStaff() {
		return shared.Forbidden("only teachers and admins can %s", action)
	}
	return nil
}
