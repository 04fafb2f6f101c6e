// Package mongodb implements every repository on MongoDB. Unique indexes
// back the idempotent upserts and the conditional writes.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"school_portal/backend/internal/shared"
)

// Collection names
const (
	ColGradeConfigurations = "grade_configurations"
	ColGrades              = "grades"
	ColDocumentRequests    = "document_requests"
	ColNotifications       = "notifications"
	ColCounters            = "counters"
	ColSettings            = "system_settings"
	ColUsers               = "users"
	ColSessions            = "sessions"
	ColLoginAttempts       = "login_attempts"
	ColAuditLogs           = "audit_logs"
)

// Store holds the collections of the portal database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	configs       *mongo.Collection
	grades        *mongo.Collection
	requests      *mongo.Collection
	notifications *mongo.Collection
	counters      *mongo.Collection
	settings      *mongo.Collection
	users         *mongo.Collection
	sessions      *mongo.Collection
	attempts      *mongo.Collection
	auditLogs     *mongo.Collection
}

// NewStore creates a new Store instance
func NewStore(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:        client,
		db:            db,
		configs:       db.Collection(ColGradeConfigurations),
		grades:        db.Collection(ColGrades),
		requests:      db.Collection(ColDocumentRequests),
		notifications: db.Collection(ColNotifications),
		counters:      db.Collection(ColCounters),
		settings:      db.Collection(ColSettings),
		users:         db.Collection(ColUsers),
		sessions:      db.Collection(ColSessions),
		attempts:      db.Collection(ColLoginAttempts),
		auditLogs:     db.Collection(ColAuditLogs),
	}
}

// EnsureIndexes creates the indexes the repositories rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.configs: {
			{
				Keys:    bson.D{{Key: "section_id", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "quarter", Value: 1}, {Key: "teacher_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_config_key"),
			},
		},
		s.grades: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "section_id", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "school_year", Value: 1}, {Key: "quarter", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_record_key"),
			},
			{Keys: bson.D{{Key: "section_id", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "quarter", Value: 1}}},
		},
		s.requests: {
			{Keys: bson.D{{Key: "request_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_request_id")},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "submitted_date", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "submitted_date", Value: -1}}},
		},
		s.notifications: {
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "is_read", Value: 1}}},
		},
		s.users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "student_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		s.sessions: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		s.auditLogs: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}

	for col, models := range indexes {
		if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

// notFound maps the driver's empty result to the repository sentinel.
func notFound(err error) error {
	if shared.IsNoDocuments(err) {
		return shared.ErrNotFound
	}
	return err
}

// conflict maps a unique index violation to the repository sentinel.
func conflict(err error) error {
	if shared.IsDuplicateKey(err) {
		return shared.ErrConflict
	}
	return err
}

func configFilter(key shared.GradeConfigKey) bson.M {
	return bson.M{
		"section_id": key.SectionID,
		"subject_id": key.SubjectID,
		"quarter":    key.Quarter,
		"teacher_id": key.TeacherID,
	}
}

func recordFilter(key shared.GradeRecordKey) bson.M {
	return bson.M{
		"student_id":  key.StudentID,
		"section_id":  key.SectionID,
		"subject_id":  key.SubjectID,
		"school_year": key.SchoolYear,
		"quarter":     key.Quarter,
	}
}
