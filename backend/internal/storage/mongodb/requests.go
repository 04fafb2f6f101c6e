package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"school_portal/backend/internal/shared"
)

type counter struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// NextSequence increments the named counter document, creating it on
// first use.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c counter
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": 1}}, opts).Decode(&c)
	if shared.IsDuplicateKey(err) {
		// Two first uses raced on the upsert; the document exists now.
		err = s.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": 1}}, opts).Decode(&c)
	}
	if err != nil {
		return 0, err
	}
	return c.Seq, nil
}

func (s *Store) InsertRequest(ctx context.Context, req *shared.DocumentRequest) error {
	_, err := s.requests.InsertOne(ctx, req)
	return conflict(err)
}

func requestLookup(id string) bson.M {
	return bson.M{"$or": bson.A{bson.M{"_id": id}, bson.M{"request_id": id}}}
}

func (s *Store) FindRequest(ctx context.Context, id string) (*shared.DocumentRequest, error) {
	var req shared.DocumentRequest
	if err := s.requests.FindOne(ctx, requestLookup(id)).Decode(&req); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// UpdateRequest applies a status write only while the status is still the
// one read. processed_by is claimed with $ifNull so the first claim wins.
func (s *Store) UpdateRequest(ctx context.Context, id, expectedStatus string, upd shared.RequestUpdate) (*shared.DocumentRequest, error) {
	filter := requestLookup(id)
	filter["status"] = expectedStatus

	set := bson.M{
		"status":         bson.M{"$literal": upd.Status},
		"tentative_date": bson.M{"$literal": upd.TentativeDate},
		"updated_at":     bson.M{"$literal": upd.UpdatedAt},
	}
	if upd.PaymentStatus != "" {
		set["payment_status"] = bson.M{"$literal": upd.PaymentStatus}
	}
	if upd.RejectionReason != "" {
		set["rejection_reason"] = bson.M{"$literal": upd.RejectionReason}
	}
	if upd.ClaimBy != "" {
		set["processed_by"] = bson.M{"$ifNull": bson.A{"$processed_by", bson.M{"$literal": upd.ClaimBy}}}
		set["processed_by_id"] = bson.M{"$ifNull": bson.A{"$processed_by_id", bson.M{"$literal": upd.ClaimByID}}}
	}

	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var req shared.DocumentRequest
	err := s.requests.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&req)
	if shared.IsNoDocuments(err) {
		return nil, shared.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListRequests(ctx context.Context, f shared.RequestFilter) ([]shared.DocumentRequest, error) {
	filter := bson.M{}
	if f.StudentID != "" {
		filter["student_id"] = f.StudentID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "submitted_date", Value: -1}, {Key: "request_id", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}

	cursor, err := s.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []shared.DocumentRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
