package memory

import (
	"context"
	"sort"
	"time"

	"school_portal/backend/internal/shared"
)

// ============================================================================
// Grade Configurations
// ============================================================================

func (s *Store) GetOrCreateConfiguration(_ context.Context, key shared.GradeConfigKey, now time.Time) (*shared.GradeConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.configs[key]; ok {
		return cloneConfig(cfg), nil
	}

	cfg := &shared.GradeConfiguration{
		ID:                  shared.GenerateID(""),
		SectionID:           key.SectionID,
		SubjectID:           key.SubjectID,
		Quarter:             key.Quarter,
		TeacherID:           key.TeacherID,
		WrittenWork:         []shared.GradeItem{},
		PerformanceTasks:    []shared.GradeItem{},
		QuarterlyAssessment: []shared.GradeItem{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.configs[key] = cfg
	return cloneConfig(cfg), nil
}

func (s *Store) FindConfiguration(_ context.Context, key shared.GradeConfigKey) (*shared.GradeConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneConfig(cfg), nil
}

func (s *Store) PushConfigItem(_ context.Context, key shared.GradeConfigKey, category string, item shared.GradeItem, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[key]
	if !ok {
		return shared.ErrNotFound
	}
	cfg.SetItems(category, append(copyItems(cfg.Items(category)), item))
	cfg.UpdatedAt = now
	return nil
}

func (s *Store) UpdateConfigItem(_ context.Context, key shared.GradeConfigKey, itemID string, name *string, maxScore *float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[key]
	if !ok {
		return shared.ErrNotFound
	}
	for _, category := range shared.Categories {
		items := cfg.Items(category)
		for i := range items {
			if items[i].ID != itemID {
				continue
			}
			if name != nil {
				items[i].Name = *name
			}
			if maxScore != nil {
				items[i].MaxScore = *maxScore
			}
			cfg.UpdatedAt = now
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *Store) PullConfigItem(_ context.Context, key shared.GradeConfigKey, itemID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[key]
	if !ok {
		return shared.ErrNotFound
	}
	for _, category := range shared.Categories {
		items := cfg.Items(category)
		for i := range items {
			if items[i].ID == itemID {
				kept := append(copyItems(items[:i]), items[i+1:]...)
				cfg.SetItems(category, kept)
				cfg.UpdatedAt = now
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

// ============================================================================
// Grade Records
// ============================================================================

func (s *Store) FindGradeRecord(_ context.Context, key shared.GradeRecordKey) (*shared.GradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) InsertGradeRecord(_ context.Context, rec *shared.GradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, exists := s.records[key]; exists {
		return shared.ErrConflict
	}
	s.records[key] = cloneRecord(rec)
	return nil
}

func (s *Store) UpdateGradeRecord(_ context.Context, rec *shared.GradeRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	cur, ok := s.records[key]
	if !ok || cur.ID != rec.ID || cur.Version != expectedVersion || cur.Verified {
		return shared.ErrConflict
	}
	s.records[key] = cloneRecord(rec)
	return nil
}

func (s *Store) VerifyGradeRecord(_ context.Context, key shared.GradeRecordKey, verifiedBy string, at time.Time) (*shared.GradeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false, shared.ErrNotFound
	}
	if rec.Verified {
		return cloneRecord(rec), false, nil
	}

	rec.Verified = true
	rec.VerifiedBy = verifiedBy
	rec.VerifiedAt = &at
	rec.Version++
	rec.UpdatedAt = at
	return cloneRecord(rec), true, nil
}

func (s *Store) ListGradeRecords(_ context.Context, f shared.GradeRecordFilter) ([]shared.GradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []shared.GradeRecord
	for _, rec := range s.records {
		switch {
		case f.StudentID != "" && rec.StudentID != f.StudentID,
			f.SectionID != "" && rec.SectionID != f.SectionID,
			f.SubjectID != "" && rec.SubjectID != f.SubjectID,
			f.SchoolYear != "" && rec.SchoolYear != f.SchoolYear,
			f.Quarter != 0 && rec.Quarter != f.Quarter,
			f.TeacherID != "" && rec.TeacherID != f.TeacherID,
			f.VerifiedOnly && !rec.Verified:
			continue
		}
		out = append(out, *cloneRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SchoolYear != b.SchoolYear {
			return a.SchoolYear > b.SchoolYear
		}
		if a.Quarter != b.Quarter {
			return a.Quarter < b.Quarter
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.StudentID < b.StudentID
	})
	return out, nil
}
