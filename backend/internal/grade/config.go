package grade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/shared"
)

// AddItemInput defines a new scored item.
type AddItemInput struct {
	Category string  `json:"category" validate:"required,oneof=written_work performance_tasks quarterly_assessment"`
	Name     string  `json:"name" validate:"notblank,max=100"`
	MaxScore float64 `json:"maxScore" validate:"gt=0,max=1000"`
}

// UpdateItemInput renames and/or resizes an item. Nil fields are kept.
type UpdateItemInput struct {
	Name     *string  `json:"name" validate:"omitempty,notblank,max=100"`
	MaxScore *float64 `json:"maxScore" validate:"omitempty,gt=0,max=1000"`
}

// authorizeConfig allows admins and the teacher owning the configuration.
func authorizeConfig(actor shared.Identity, key shared.GradeConfigKey) error {
	if err := requireStaff(actor, "manage grade items"); err != nil {
		return err
	}
	if actor.Role == shared.RoleTeacher && key.TeacherID != actor.ID {
		return shared.Forbidden("grade configuration belongs to another teacher")
	}
	return nil
}

func configNotFound() error {
	return shared.NotFound("grade configuration not found")
}

// GetOrCreateConfiguration returns the configuration of key, creating an
// empty one on first access. Concurrent first access yields one document.
func (s *Service) GetOrCreateConfiguration(ctx context.Context, actor shared.Identity, key shared.GradeConfigKey) (*shared.GradeConfiguration, error) {
	if err := authorizeConfig(actor, key); err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(key); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := s.repo.GetOrCreateConfiguration(queryCtx, key, s.now().UTC())
	if err != nil {
		return nil, shared.Unavailable("failed to load grade configuration", err)
	}
	return cfg, nil
}

// GetConfiguration returns an existing configuration.
func (s *Service) GetConfiguration(ctx context.Context, actor shared.Identity, key shared.GradeConfigKey) (*shared.GradeConfiguration, error) {
	if err := authorizeConfig(actor, key); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := s.repo.FindConfiguration(queryCtx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, configNotFound()
		}
		return nil, shared.Unavailable("failed to load grade configuration", err)
	}
	return cfg, nil
}

// AddItem appends an item to one category of an existing configuration.
func (s *Service) AddItem(ctx context.Context, actor shared.Identity, key shared.GradeConfigKey, in AddItemInput) (*shared.GradeItem, error) {
	if err := authorizeConfig(actor, key); err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}

	item := shared.GradeItem{
		ID:       shared.GenerateID(""),
		Name:     in.Name,
		MaxScore: in.MaxScore,
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.repo.PushConfigItem(queryCtx, key, in.Category, item, s.now().UTC()); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, configNotFound()
		}
		return nil, shared.Unavailable("failed to add grade item", err)
	}

	s.audit.Record(ctx, shared.ActionGradeItemChange, map[string]interface{}{
		"op": "add", "item_id": item.ID, "category": in.Category,
		"section_id": key.SectionID, "subject_id": key.SubjectID, "quarter": key.Quarter,
	}, actor)
	s.refreshAverages(ctx, key)
	return &item, nil
}

// UpdateItem renames or resizes an item of the configuration of key.
func (s *Service) UpdateItem(ctx context.Context, actor shared.Identity, key shared.GradeConfigKey, itemID string, in UpdateItemInput) (*shared.GradeConfiguration, error) {
	if err := authorizeConfig(actor, key); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, shared.FieldsError(map[string]string{"itemId": "this field is required"})
	}
	if in.Name == nil && in.MaxScore == nil {
		return nil, shared.NewValidationError("nothing to update")
	}
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.repo.UpdateConfigItem(queryCtx, key, itemID, in.Name, in.MaxScore, s.now().UTC()); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound("grade item %s not found in configuration", itemID)
		}
		return nil, shared.Unavailable("failed to update grade item", err)
	}

	s.audit.Record(ctx, shared.ActionGradeItemChange, map[string]interface{}{"op": "update", "item_id": itemID}, actor)
	if in.MaxScore != nil {
		s.refreshAverages(ctx, key)
	}
	return s.GetConfiguration(ctx, actor, key)
}

// RemoveItem deletes an item from the configuration of key. Stored score
// arrays are left untouched.
func (s *Service) RemoveItem(ctx context.Context, actor shared.Identity, key shared.GradeConfigKey, itemID string) error {
	if err := authorizeConfig(actor, key); err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.repo.PullConfigItem(queryCtx, key, itemID, s.now().UTC()); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("grade item %s not found in configuration", itemID)
		}
		return shared.Unavailable("failed to remove grade item", err)
	}

	s.audit.Record(ctx, shared.ActionGradeItemChange, map[string]interface{}{"op": "remove", "item_id": itemID}, actor)
	s.refreshAverages(ctx, key)
	return nil
}

// refreshAverages recomputes the stored averages of the unverified records
// graded under key. Verified records keep the averages they were released
// with. The item change is already committed, so failures are logged.
func (s *Service) refreshAverages(ctx context.Context, key shared.GradeConfigKey) {
	if err := s.recomputeRecords(ctx, key); err != nil {
		s.log.Error("failed to recompute grade averages",
			zap.String("section_id", key.SectionID),
			zap.String("subject_id", key.SubjectID),
			zap.Int("quarter", key.Quarter),
			zap.String("teacher_id", key.TeacherID),
			zap.Error(err))
	}
}

func (s *Service) recomputeRecords(ctx context.Context, key shared.GradeConfigKey) error {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, err := s.repo.ListGradeRecords(queryCtx, shared.GradeRecordFilter{
		SectionID: key.SectionID,
		SubjectID: key.SubjectID,
		Quarter:   key.Quarter,
		TeacherID: key.TeacherID,
	})
	if err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]
		for attempt := 0; ; attempt++ {
			if rec.Verified {
				break
			}
			// Re-read on every attempt: another item change may have landed.
			cfg, err := s.findConfiguration(queryCtx, key)
			if err != nil {
				return err
			}
			averages := ComputeAverages(rec.Scores, cfg)
			if averages == rec.Averages {
				break
			}

			next := *rec
			next.Averages = averages
			next.Version = rec.Version + 1
			next.UpdatedAt = s.now().UTC()
			err = s.repo.UpdateGradeRecord(queryCtx, &next, rec.Version)
			if err == nil {
				break
			}
			if !errors.Is(err, shared.ErrConflict) || attempt+1 >= maxWriteAttempts {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			s.metrics.Retry("recompute")

			if rec, err = s.repo.FindGradeRecord(queryCtx, rec.Key()); err != nil {
				return fmt.Errorf("record %s: %w", records[i].ID, err)
			}
		}
	}
	return nil
}
