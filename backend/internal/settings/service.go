package settings

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/shared"
)

// Repository persists settings in their canonical string form.
type Repository interface {
	GetSetting(ctx context.Context, key string) (*shared.Setting, error)
	ListSettings(ctx context.Context) ([]shared.Setting, error)
	PutSettings(ctx context.Context, settings []shared.Setting) error
}

// Auditor is the audit log collaborator.
type Auditor interface {
	Record(ctx context.Context, eventType string, payload map[string]interface{}, actor shared.Identity)
}

// Values is the typed view of every setting.
type Values struct {
	SchoolYear         string
	CurrentQuarter     int
	DocumentBaseFee    float64
	UrgentRequestFee   float64
	LoginMaxAttempts   int
	LoginLockoutWindow time.Duration
	GradeReleasePush   bool
}

// Entry is a setting as returned to callers.
type Entry struct {
	Key         string      `json:"key"`
	Type        Type        `json:"type"`
	Value       interface{} `json:"value"`
	IsDefault   bool        `json:"isDefault"`
	Description string      `json:"description"`
	UpdatedBy   string      `json:"updatedBy,omitempty"`
	UpdatedAt   *time.Time  `json:"updatedAt,omitempty"`
}

// Service reads and writes system settings.
type Service struct {
	repo  Repository
	audit Auditor
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a new settings Service instance
func NewService(repo Repository, audit Auditor, logger *zap.Logger) *Service {
	return &Service{repo: repo, audit: audit, log: logger, now: time.Now}
}

func (s *Service) entry(def Definition, stored *shared.Setting) Entry {
	e := Entry{Key: def.Key, Type: def.Type, Description: def.Description, IsDefault: true}
	raw := def.Default(s.now())
	if stored != nil {
		if _, err := parse(def, stored.Value); err == nil {
			raw = stored.Value
			e.IsDefault = false
			e.UpdatedBy = stored.UpdatedBy
			at := stored.UpdatedAt
			e.UpdatedAt = &at
		} else {
			s.log.Warn("ignoring malformed stored setting", zap.String("key", def.Key), zap.String("value", stored.Value))
		}
	}

	v, _ := parse(def, raw)
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	e.Value = v
	return e
}

// Get returns one setting, its default when unset.
func (s *Service) Get(ctx context.Context, key string) (*Entry, error) {
	def, ok := Schema[key]
	if !ok {
		return nil, shared.NotFound("unknown setting %q", key)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stored, err := s.repo.GetSetting(queryCtx, key)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Unavailable("failed to read setting", err)
	}
	e := s.entry(def, stored)
	return &e, nil
}

// List returns every known setting in key order.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stored, err := s.repo.ListSettings(queryCtx)
	if err != nil {
		return nil, shared.Unavailable("failed to read settings", err)
	}
	byKey := make(map[string]*shared.Setting, len(stored))
	for i := range stored {
		byKey[stored[i].Key] = &stored[i]
	}

	entries := make([]Entry, 0, len(Schema))
	for key, def := range Schema {
		entries = append(entries, s.entry(def, byKey[key]))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Set updates a single setting. Admin only.
func (s *Service) Set(ctx context.Context, actor shared.Identity, key string, value interface{}) (*Entry, error) {
	if err := s.SetMany(ctx, actor, map[string]interface{}{key: value}); err != nil {
		return nil, err
	}
	return s.Get(ctx, key)
}

// SetMany validates every value first and then stores them together.
func (s *Service) SetMany(ctx context.Context, actor shared.Identity, values map[string]interface{}) error {
	if actor.Role != shared.RoleAdmin {
		return shared.Forbidden("only admins can change settings")
	}
	if len(values) == 0 {
		return shared.NewValidationError("no settings given")
	}

	now := s.now().UTC()
	fields := make(map[string]string)
	batch := make([]shared.Setting, 0, len(values))
	for key, v := range values {
		def, ok := Schema[key]
		if !ok {
			fields[key] = "unknown setting"
			continue
		}
		raw, err := normalize(def, v)
		if err != nil {
			fields[key] = err.Error()
			continue
		}
		batch = append(batch, shared.Setting{Key: key, Value: raw, UpdatedBy: actor.ID, UpdatedAt: now})
	}
	if len(fields) > 0 {
		return shared.FieldsError(fields)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.repo.PutSettings(writeCtx, batch); err != nil {
		return shared.Unavailable("failed to store settings", err)
	}

	changed := make(map[string]interface{}, len(batch))
	for _, st := range batch {
		changed[st.Key] = st.Value
	}
	s.audit.Record(ctx, shared.ActionConfigChange, changed, actor)
	return nil
}

// Current returns the typed settings. Store failures fall back to defaults.
func (s *Service) Current(ctx context.Context) Values {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stored, err := s.repo.ListSettings(queryCtx)
	if err != nil {
		s.log.Error("failed to read settings, using defaults", zap.Error(err))
	}
	byKey := make(map[string]*shared.Setting, len(stored))
	for i := range stored {
		byKey[stored[i].Key] = &stored[i]
	}

	typed := func(key string) interface{} {
		def := Schema[key]
		raw := def.Default(s.now())
		if st, ok := byKey[key]; ok {
			if _, err := parse(def, st.Value); err == nil {
				raw = st.Value
			}
		}
		v, _ := parse(def, raw)
		return v
	}

	return Values{
		SchoolYear:         typed(KeySchoolYear).(string),
		CurrentQuarter:     int(typed(KeyCurrentQuarter).(int64)),
		DocumentBaseFee:    typed(KeyDocumentBaseFee).(float64),
		UrgentRequestFee:   typed(KeyUrgentRequestFee).(float64),
		LoginMaxAttempts:   int(typed(KeyLoginMaxAttempts).(int64)),
		LoginLockoutWindow: typed(KeyLoginLockoutWindow).(time.Duration),
		GradeReleasePush:   typed(KeyGradeReleasePush).(bool),
	}
}
