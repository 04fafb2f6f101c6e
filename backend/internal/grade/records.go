package grade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/shared"
)

// ScoreInput is a single raw score write. A nil Score clears the entry.
// TeacherID names the grade configuration the record is graded under. A
// teacher always writes under their own; an admin must name it when the
// record does not exist yet.
type ScoreInput struct {
	StudentID  string   `json:"studentId" validate:"required"`
	SectionID  string   `json:"sectionId" validate:"required"`
	SubjectID  string   `json:"subjectId" validate:"required"`
	SchoolYear string   `json:"schoolYear" validate:"required"`
	Quarter    int      `json:"quarter" validate:"min=1,max=4"`
	TeacherID  string   `json:"teacherId"`
	Category   string   `json:"category" validate:"required,oneof=written_work performance_tasks quarterly_assessment"`
	ItemIndex  int      `json:"itemIndex" validate:"min=0,max=99"`
	Score      *float64 `json:"score" validate:"omitempty,min=0"`
}

func (in ScoreInput) recordKey() shared.GradeRecordKey {
	return shared.GradeRecordKey{
		StudentID:  in.StudentID,
		SectionID:  in.SectionID,
		SubjectID:  in.SubjectID,
		SchoolYear: in.SchoolYear,
		Quarter:    in.Quarter,
	}
}

// VerifyResult reports the verified record and whether this call verified it.
type VerifyResult struct {
	Record       *shared.GradeRecord `json:"record"`
	Transitioned bool                `json:"transitioned"`
}

// ============================================================================
// Grade Record Aggregator
// ============================================================================

// SetScore writes one raw score and recomputes the record's averages in the
// same conditional write. Verified records are rejected with
// VerificationLocked and left unchanged.
func (s *Service) SetScore(ctx context.Context, actor shared.Identity, in ScoreInput) (*shared.GradeRecord, error) {
	// 1. Authorization & input validation
	if err := requireStaff(actor, "record scores"); err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}
	if actor.Role == shared.RoleTeacher {
		if in.TeacherID != "" && in.TeacherID != actor.ID {
			return nil, shared.Forbidden("cannot record scores under another teacher's configuration")
		}
		in.TeacherID = actor.ID
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// 2. Optimistic read-modify-write on the record's version. The record is
	// read before its configuration so an item change made meanwhile is
	// either seen here or recomputed over this write.
	key := in.recordKey()
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.Retry("set_score")
		}

		now := s.now().UTC()
		current, err := s.repo.FindGradeRecord(queryCtx, key)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, shared.Unavailable("failed to load grade record", err)
		}

		owner, err := recordOwner(actor, current, in.TeacherID)
		if err != nil {
			return nil, err
		}
		cfg, err := s.findConfiguration(queryCtx, shared.GradeConfigKey{
			SectionID: in.SectionID, SubjectID: in.SubjectID, Quarter: in.Quarter, TeacherID: owner,
		})
		if err != nil {
			return nil, err
		}
		if err := checkScoreAgainstConfig(cfg, in); err != nil {
			return nil, err
		}

		if current == nil {
			rec := &shared.GradeRecord{
				ID:         shared.GenerateID(""),
				StudentID:  key.StudentID,
				SectionID:  key.SectionID,
				SubjectID:  key.SubjectID,
				SchoolYear: key.SchoolYear,
				Quarter:    key.Quarter,
				TeacherID:  owner,
				Version:    1,
				UpdatedBy:  actor.ID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			rec.Scores.SetCategory(in.Category, setAt(nil, in.ItemIndex, in.Score))
			rec.Averages = ComputeAverages(rec.Scores, cfg)

			err := s.repo.InsertGradeRecord(queryCtx, rec)
			if err == nil {
				s.metrics.ScoreWrite("ok")
				return rec, nil
			}
			if errors.Is(err, shared.ErrConflict) {
				continue // created concurrently; retry as an update
			}
			return nil, shared.Unavailable("failed to save grade record", err)
		}

		if current.Verified {
			s.metrics.ScoreWrite("locked")
			return nil, shared.VerificationLocked()
		}

		next := *current
		next.TeacherID = owner
		next.Scores = current.Scores.Clone()
		next.Scores.SetCategory(in.Category, setAt(next.Scores.Category(in.Category), in.ItemIndex, in.Score))
		next.Averages = ComputeAverages(next.Scores, cfg)
		next.Version = current.Version + 1
		next.UpdatedBy = actor.ID
		next.UpdatedAt = now

		err = s.repo.UpdateGradeRecord(queryCtx, &next, current.Version)
		if err == nil {
			s.metrics.ScoreWrite("ok")
			return &next, nil
		}
		if !errors.Is(err, shared.ErrConflict) {
			return nil, shared.Unavailable("failed to save grade record", err)
		}
		// Lost the race (or the record was verified meanwhile): re-read.
	}

	s.metrics.ScoreWrite("conflict")
	return nil, shared.Conflict("grade record is being modified concurrently, please retry")
}

// recordOwner resolves the teacher whose configuration grades the record.
// A stored owner wins; a write naming a different one is refused.
func recordOwner(actor shared.Identity, current *shared.GradeRecord, requested string) (string, error) {
	if current != nil && current.TeacherID != "" {
		if requested != "" && requested != current.TeacherID {
			if actor.Role == shared.RoleTeacher {
				return "", shared.Forbidden("grade record belongs to another teacher")
			}
			return "", shared.FieldsError(map[string]string{"teacherId": "does not match the teacher of the grade record"})
		}
		return current.TeacherID, nil
	}
	if requested == "" {
		return "", shared.FieldsError(map[string]string{"teacherId": "this field is required"})
	}
	return requested, nil
}

// findConfiguration returns the configuration of key, or nil when the
// teacher has not configured any items.
func (s *Service) findConfiguration(ctx context.Context, key shared.GradeConfigKey) (*shared.GradeConfiguration, error) {
	cfg, err := s.repo.FindConfiguration(ctx, key)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, shared.ErrNotFound):
		return nil, nil
	default:
		return nil, shared.Unavailable("failed to load grade configuration", err)
	}
}

func checkScoreAgainstConfig(cfg *shared.GradeConfiguration, in ScoreInput) error {
	if cfg == nil {
		return nil
	}
	items := cfg.Items(in.Category)
	if len(items) == 0 {
		return nil
	}
	if in.ItemIndex >= len(items) {
		return shared.FieldsError(map[string]string{
			"itemIndex": fmt.Sprintf("must be less than %d", len(items)),
		})
	}
	if in.Score != nil && items[in.ItemIndex].MaxScore > 0 && *in.Score > items[in.ItemIndex].MaxScore {
		return shared.FieldsError(map[string]string{
			"score": fmt.Sprintf("must not exceed %v", items[in.ItemIndex].MaxScore),
		})
	}
	return nil
}

// ============================================================================
// Verification Gate
// ============================================================================

// Verify locks the record and releases it to the student. Verifying an
// already verified record succeeds without side effects.
func (s *Service) Verify(ctx context.Context, actor shared.Identity, key shared.GradeRecordKey) (*VerifyResult, error) {
	if err := requireStaff(actor, "verify grades"); err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(key); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rec, transitioned, err := s.repo.VerifyGradeRecord(queryCtx, key, actor.ID, s.now().UTC())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound("grade record not found")
		}
		return nil, shared.Unavailable("failed to verify grade record", err)
	}

	if !transitioned {
		s.metrics.Verification("noop")
		return &VerifyResult{Record: rec, Transitioned: false}, nil
	}
	s.metrics.Verification("transitioned")

	// The student's cached view no longer matches the verified set.
	if err := s.views.Invalidate(queryCtx, rec.StudentID); err != nil {
		s.log.Error("failed to invalidate grade view cache", zap.String("student_id", rec.StudentID), zap.Error(err))
	}

	s.audit.Record(ctx, shared.ActionGradeVerify, map[string]interface{}{
		"record_id":   rec.ID,
		"student_id":  rec.StudentID,
		"subject_id":  rec.SubjectID,
		"quarter":     rec.Quarter,
		"final_grade": rec.Averages.FinalGrade,
	}, actor)

	values := s.settings.Current(ctx)
	_, err = s.notifier.Notify(ctx, shared.NotificationInput{
		StudentID: rec.StudentID,
		Type:      shared.NotifyGradeRelease,
		Title:     "Grades released",
		Message:   fmt.Sprintf("Your quarter %d grade for %s (%s) is now available.", rec.Quarter, rec.SubjectID, rec.SchoolYear),
		Priority:  shared.PriorityNormal,
		RelatedID: rec.ID,
		SkipPush:  !values.GradeReleasePush,
	})
	if err != nil {
		// The verification is committed; the student still sees the grade.
		s.log.Error("failed to notify grade release", zap.String("record_id", rec.ID), zap.Error(err))
	}

	return &VerifyResult{Record: rec, Transitioned: true}, nil
}

// ============================================================================
// Read Paths
// ============================================================================

// ListSectionRecords returns every record of a section's subject (staff).
func (s *Service) ListSectionRecords(ctx context.Context, actor shared.Identity, filter shared.GradeRecordFilter) ([]shared.GradeRecord, error) {
	if err := requireStaff(actor, "view section grades"); err != nil {
		return nil, err
	}
	if filter.SectionID == "" || filter.SubjectID == "" {
		return nil, shared.FieldsError(map[string]string{"sectionId": "this field is required", "subjectId": "this field is required"})
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	records, err := s.repo.ListGradeRecords(queryCtx, filter)
	if err != nil {
		return nil, shared.Unavailable("failed to retrieve grade records", err)
	}
	return records, nil
}

// ListStudentRecords returns a student's verified records for a school year
// (the active one when empty). Students only see their own.
func (s *Service) ListStudentRecords(ctx context.Context, actor shared.Identity, studentID, schoolYear string) ([]shared.GradeRecord, error) {
	if studentID == "" {
		studentID = actor.ID
	}
	if actor.Role == shared.RoleStudent && studentID != actor.ID {
		return nil, shared.Forbidden("students can only view their own grades")
	}
	if schoolYear == "" {
		schoolYear = s.settings.Current(ctx).SchoolYear
	}

	// The generation is read before the load, so a fill racing a
	// verification lands under a generation the next read skips.
	records, gen, ok := s.views.Get(ctx, studentID, schoolYear)
	if ok {
		s.metrics.CacheLookup("hit")
		return records, nil
	}
	s.metrics.CacheLookup("miss")

	flight := fmt.Sprintf("%s|%s|%d", studentID, schoolYear, gen)
	v, err, _ := s.loads.Do(flight, func() (interface{}, error) {
		queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		records, err := s.repo.ListGradeRecords(queryCtx, shared.GradeRecordFilter{
			StudentID:    studentID,
			SchoolYear:   schoolYear,
			VerifiedOnly: true,
		})
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []shared.GradeRecord{}
		}
		s.views.Set(queryCtx, studentID, schoolYear, gen, records)
		return records, nil
	})
	if err != nil {
		return nil, shared.Unavailable("failed to retrieve grades", err)
	}
	return v.([]shared.GradeRecord), nil
}

// GetRecord returns one record. Students may read only their own verified
// records.
func (s *Service) GetRecord(ctx context.Context, actor shared.Identity, key shared.GradeRecordKey) (*shared.GradeRecord, error) {
	if actor.Role == shared.RoleStudent && key.StudentID != actor.ID {
		return nil, shared.Forbidden("students can only view their own grades")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rec, err := s.repo.FindGradeRecord(queryCtx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound("grade record not found")
		}
		return nil, shared.Unavailable("failed to load grade record", err)
	}
	if actor.Role == shared.RoleStudent && !rec.Verified {
		return nil, shared.NotFound("grade record not found")
	}
	return rec, nil
}
