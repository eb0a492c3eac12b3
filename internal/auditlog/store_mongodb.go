package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBStore implements Sink for MongoDB.
// Retention is enforced by a TTL index instead of a cleanup goroutine.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates the audit_events indexes if they don't exist.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}

	collection := database.Collection("audit_events")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if retentionDays > 0 {
		ttlSeconds := int32(retentionDays * 24 * 60 * 60)
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(ttlSeconds),
		})
	} else {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		})
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		// Indexes may already exist with other options
		slog.Warn("failed to create some MongoDB indexes", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// Write inserts one record.
func (s *MongoDBStore) Write(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	normalize(rec)

	if _, err := s.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Stats implements Reader.
func (s *MongoDBStore) Stats(ctx context.Context, limit int) (*Stats, error) {
	limit = ClampLimit(limit)
	stats := newStats()

	success := bson.D{{Key: "status", Value: StatusSuccess}}

	total, err := s.collection.CountDocuments(ctx, success)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	stats.TotalRequests = total

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: success}},
		{{Key: "$unwind", Value: "$pii_types"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$pii_types"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count pii types: %w", err)
	}
	var counts []struct {
		Label string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode pii counts: %w", err)
	}
	for _, c := range counts {
		stats.PIICounts[c.Label] = c.Count
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	recent, err := s.collection.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent audit events: %w", err)
	}
	var records []Record
	if err := recent.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}
	for _, rec := range records {
		rec.Timestamp = rec.Timestamp.UTC()
		if rec.PIITypes == nil {
			rec.PIITypes = []string{}
		}
		stats.RecentEvents = append(stats.RecentEvents, rec)
	}

	return stats, nil
}

// Close is a no-op; the client is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
