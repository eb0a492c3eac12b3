//go:build integration

// Package dbassert provides database assertion helpers for integration tests.
// It reads audit events straight from PostgreSQL and MongoDB, bypassing the
// gateway's own query code.
package dbassert

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// AuditEvent mirrors one stored audit row for assertions.
type AuditEvent struct {
	ID             string   `bson:"_id"`
	PIITypes       []string `bson:"pii_types"`
	Model          *string  `bson:"model"`
	LatencySeconds *float64 `bson:"latency"`
	OriginalLength int      `bson:"original_length"`
	MaskedLength   int      `bson:"masked_length"`
	ClientIP       *string  `bson:"client_ip"`
	Status         string   `bson:"status"`
	ErrorType      string   `bson:"error_type"`
}

// QueryAuditEvent loads one audit event by request ID from PostgreSQL.
func QueryAuditEvent(t *testing.T, pool *pgxpool.Pool, requestID string) AuditEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ev AuditEvent
	var errorType *string
	err := pool.QueryRow(ctx, `
		SELECT id::text, pii_types, model, latency, original_length, masked_length,
		       client_ip, status, error_type
		FROM audit_events
		WHERE id = $1::uuid
	`, requestID).Scan(
		&ev.ID, &ev.PIITypes, &ev.Model, &ev.LatencySeconds, &ev.OriginalLength,
		&ev.MaskedLength, &ev.ClientIP, &ev.Status, &errorType,
	)
	require.NoError(t, err, "failed to query audit event %s", requestID)
	if errorType != nil {
		ev.ErrorType = *errorType
	}
	return ev
}

// QueryAuditEventMongo loads one audit event by request ID from MongoDB.
func QueryAuditEventMongo(t *testing.T, db *mongo.Database, requestID string) AuditEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ev AuditEvent
	err := db.Collection("audit_events").FindOne(ctx, bson.D{{Key: "_id", Value: requestID}}).Decode(&ev)
	require.NoError(t, err, "failed to query audit event %s", requestID)
	return ev
}

// CountAuditEvents counts every stored event in PostgreSQL.
func CountAuditEvents(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var n int64
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n))
	return n
}

// CountAuditEventsMongo counts every stored event in MongoDB.
func CountAuditEventsMongo(t *testing.T, db *mongo.Database) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := db.Collection("audit_events").CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	return n
}

// ExpectedAuditEvent lists the fields a test cares about.
type ExpectedAuditEvent struct {
	PIITypes       []string
	Model          string
	OriginalLength int
	MaskedLength   int
	Status         string
	ErrorType      string
}

// AssertAuditEventMatches compares the stored event with expectations.
func AssertAuditEventMatches(t *testing.T, want ExpectedAuditEvent, got AuditEvent) {
	t.Helper()
	assert.ElementsMatch(t, want.PIITypes, got.PIITypes, "pii_types")
	if want.Model != "" {
		require.NotNil(t, got.Model, "model")
		assert.Equal(t, want.Model, *got.Model, "model")
	}
	assert.Equal(t, want.OriginalLength, got.OriginalLength, "original_length")
	assert.Equal(t, want.MaskedLength, got.MaskedLength, "masked_length")
	assert.Equal(t, want.Status, got.Status, "status")
	assert.Equal(t, want.ErrorType, got.ErrorType, "error_type")
}
