package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"school_portal/backend/internal/shared"
)

func (s *Store) InsertNotification(ctx context.Context, n *shared.Notification) error {
	_, err := s.notifications.InsertOne(ctx, n)
	return err
}

func (s *Store) SetNotificationsRead(ctx context.Context, studentID string, ids []string, read bool, at time.Time) (int64, error) {
	filter := bson.M{"student_id": studentID, "_id": bson.M{"$in": ids}}

	update := bson.M{"$set": bson.M{"is_read": true, "read_at": at}}
	if !read {
		update = bson.M{"$set": bson.M{"is_read": false}, "$unset": bson.M{"read_at": ""}}
	}

	res, err := s.notifications.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, studentID string, at time.Time) (int64, error) {
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"student_id": studentID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) DeleteNotifications(ctx context.Context, studentID string, ids []string) (int64, error) {
	res, err := s.notifications.DeleteMany(ctx, bson.M{"student_id": studentID, "_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) ListNotifications(ctx context.Context, studentID string, unreadOnly bool, limit int64) ([]shared.Notification, error) {
	filter := bson.M{"student_id": studentID}
	if unreadOnly {
		filter["is_read"] = false
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []shared.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, studentID string) (int64, error) {
	return s.notifications.CountDocuments(ctx, bson.M{"student_id": studentID, "is_read": false})
}
