package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"school_portal/backend/internal/shared"
)

// ============================================================================
// Grade Configurations
// ============================================================================

func (s *Store) GetOrCreateConfiguration(ctx context.Context, key shared.GradeConfigKey, now time.Time) (*shared.GradeConfiguration, error) {
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":                  shared.GenerateID(""),
			"written_work":         bson.A{},
			"performance_tasks":    bson.A{},
			"quarterly_assessment": bson.A{},
			"created_at":           now,
			"updated_at":           now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var cfg shared.GradeConfiguration
	err := s.configs.FindOneAndUpdate(ctx, configFilter(key), update, opts).Decode(&cfg)
	if shared.IsDuplicateKey(err) {
		// Lost the upsert race; the winner's document is there now.
		return s.FindConfiguration(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) FindConfiguration(ctx context.Context, key shared.GradeConfigKey) (*shared.GradeConfiguration, error) {
	var cfg shared.GradeConfiguration
	if err := s.configs.FindOne(ctx, configFilter(key)).Decode(&cfg); err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}

func (s *Store) PushConfigItem(ctx context.Context, key shared.GradeConfigKey, category string, item shared.GradeItem, now time.Time) error {
	res, err := s.configs.UpdateOne(ctx, configFilter(key), bson.M{
		"$push": bson.M{category: item},
		"$set":  bson.M{"updated_at": now},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateConfigItem(ctx context.Context, key shared.GradeConfigKey, itemID string, name *string, maxScore *float64, now time.Time) error {
	for _, category := range shared.Categories {
		set := bson.M{"updated_at": now}
		if name != nil {
			set[category+".$.name"] = *name
		}
		if maxScore != nil {
			set[category+".$.max_score"] = *maxScore
		}

		filter := configFilter(key)
		filter[category+".id"] = itemID

		res, err := s.configs.UpdateOne(ctx, filter, bson.M{"$set": set})
		if err != nil {
			return err
		}
		if res.MatchedCount > 0 {
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *Store) PullConfigItem(ctx context.Context, key shared.GradeConfigKey, itemID string, now time.Time) error {
	filter := configFilter(key)
	pull := bson.M{}
	or := bson.A{}
	for _, category := range shared.Categories {
		pull[category] = bson.M{"id": itemID}
		or = append(or, bson.M{category + ".id": itemID})
	}
	filter["$or"] = or

	res, err := s.configs.UpdateOne(ctx, filter, bson.M{
		"$pull": pull,
		"$set":  bson.M{"updated_at": now},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ============================================================================
// Grade Records
// ============================================================================

func (s *Store) FindGradeRecord(ctx context.Context, key shared.GradeRecordKey) (*shared.GradeRecord, error) {
	var rec shared.GradeRecord
	if err := s.grades.FindOne(ctx, recordFilter(key)).Decode(&rec); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *Store) InsertGradeRecord(ctx context.Context, rec *shared.GradeRecord) error {
	_, err := s.grades.InsertOne(ctx, rec)
	return conflict(err)
}

// UpdateGradeRecord is the compare-and-set of a score write: the filter
// carries the version read and the verification lock.
func (s *Store) UpdateGradeRecord(ctx context.Context, rec *shared.GradeRecord, expectedVersion int64) error {
	filter := bson.M{
		"_id":      rec.ID,
		"version":  expectedVersion,
		"verified": bson.M{"$ne": true},
	}
	update := bson.M{"$set": bson.M{
		"teacher_id": rec.TeacherID,
		"scores":     rec.Scores,
		"averages":   rec.Averages,
		"version":    rec.Version,
		"updated_by": rec.UpdatedBy,
		"updated_at": rec.UpdatedAt,
	}}

	res, err := s.grades.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return shared.ErrConflict
	}
	return nil
}

func (s *Store) VerifyGradeRecord(ctx context.Context, key shared.GradeRecordKey, verifiedBy string, at time.Time) (*shared.GradeRecord, bool, error) {
	filter := recordFilter(key)
	filter["verified"] = bson.M{"$ne": true}

	update := bson.M{
		"$set": bson.M{
			"verified":    true,
			"verified_by": verifiedBy,
			"verified_at": at,
			"updated_at":  at,
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec shared.GradeRecord
	err := s.grades.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err == nil {
		return &rec, true, nil
	}
	if !shared.IsNoDocuments(err) {
		return nil, false, err
	}

	// Either absent or already verified.
	existing, err := s.FindGradeRecord(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) ListGradeRecords(ctx context.Context, f shared.GradeRecordFilter) ([]shared.GradeRecord, error) {
	filter := bson.M{}
	if f.StudentID != "" {
		filter["student_id"] = f.StudentID
	}
	if f.SectionID != "" {
		filter["section_id"] = f.SectionID
	}
	if f.SubjectID != "" {
		filter["subject_id"] = f.SubjectID
	}
	if f.SchoolYear != "" {
		filter["school_year"] = f.SchoolYear
	}
	if f.Quarter != 0 {
		filter["quarter"] = f.Quarter
	}
	if f.TeacherID != "" {
		filter["teacher_id"] = f.TeacherID
	}
	if f.VerifiedOnly {
		filter["verified"] = true
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "school_year", Value: -1},
		{Key: "quarter", Value: 1},
		{Key: "subject_id", Value: 1},
		{Key: "student_id", Value: 1},
	})

	cursor, err := s.grades.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []shared.GradeRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
