package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"school_portal/backend/internal/shared"
)

// ============================================================================
// Users & Sessions
// ============================================================================

func (s *Store) InsertUser(ctx context.Context, u *shared.User) error {
	_, err := s.users.InsertOne(ctx, u)
	return conflict(err)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*shared.User, error) {
	var u shared.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) FindUserByIdentifier(ctx context.Context, identifier string) (*shared.User, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"email": identifier},
			bson.M{"student_id": identifier},
		},
	}

	var u shared.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) InsertSession(ctx context.Context, sess *shared.Session) error {
	_, err := s.sessions.InsertOne(ctx, sess)
	return err
}

func (s *Store) FindSession(ctx context.Context, id string) (*shared.Session, error) {
	var sess shared.Session
	if err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&sess); err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) (int64, error) {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ============================================================================
// Login Attempts
// ============================================================================

func (s *Store) GetLoginAttempt(ctx context.Context, identifier string) (*shared.LoginAttempt, error) {
	var a shared.LoginAttempt
	if err := s.attempts.FindOne(ctx, bson.M{"_id": identifier}).Decode(&a); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// RecordLoginFailure counts a failure in one pipeline upsert. A missing or
// expired window restarts at now with a count of one.
func (s *Store) RecordLoginFailure(ctx context.Context, identifier string, now time.Time, window time.Duration) (*shared.LoginAttempt, error) {
	expired := bson.M{"$lt": bson.A{
		bson.M{"$ifNull": bson.A{"$window_start", time.Unix(0, 0).UTC()}},
		now.Add(-window),
	}}

	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"window_start": bson.M{"$cond": bson.A{expired, now, "$window_start"}},
		"count": bson.M{"$cond": bson.A{
			expired,
			1,
			bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$count", 0}}, 1}},
		}},
	}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var a shared.LoginAttempt
	err := s.attempts.FindOneAndUpdate(ctx, bson.M{"_id": identifier}, pipeline, opts).Decode(&a)
	if shared.IsDuplicateKey(err) {
		err = s.attempts.FindOneAndUpdate(ctx, bson.M{"_id": identifier}, pipeline, opts).Decode(&a)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ClearLoginAttempts(ctx context.Context, identifier string) error {
	_, err := s.attempts.DeleteOne(ctx, bson.M{"_id": identifier})
	return err
}

// ============================================================================
// Settings & Audit
// ============================================================================

func (s *Store) GetSetting(ctx context.Context, key string) (*shared.Setting, error) {
	var st shared.Setting
	if err := s.settings.FindOne(ctx, bson.M{"_id": key}).Decode(&st); err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]shared.Setting, error) {
	cursor, err := s.settings.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []shared.Setting
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutSettings writes a batch of settings in one transaction.
func (s *Store) PutSettings(ctx context.Context, settings []shared.Setting) error {
	return shared.WithTransaction(ctx, s.client, func(sessCtx mongo.SessionContext) error {
		for _, st := range settings {
			_, err := s.settings.ReplaceOne(sessCtx, bson.M{"_id": st.Key}, st, options.Replace().SetUpsert(true))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) InsertAuditLog(ctx context.Context, entry shared.AuditLog) error {
	_, err := s.auditLogs.InsertOne(ctx, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, userID string, limit int64) ([]shared.AuditLog, error) {
	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.auditLogs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []shared.AuditLog
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
