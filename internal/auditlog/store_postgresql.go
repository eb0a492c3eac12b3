package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Sink for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	retention     *retention
}

// NewPostgreSQLStore creates the audit_events table if needed and starts the
// retention cleanup goroutine when retentionDays > 0.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, errors.New("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			pii_types TEXT[] NOT NULL DEFAULT '{}',
			model TEXT,
			latency DOUBLE PRECISION,
			original_length INTEGER NOT NULL DEFAULT 0,
			masked_length INTEGER NOT NULL DEFAULT 0,
			client_ip TEXT,
			status TEXT NOT NULL DEFAULT 'success',
			error_type TEXT
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_events table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_events_status ON audit_events(status)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{pool: pool, retentionDays: retentionDays}
	store.retention = startRetention(retentionDays, store.cleanup)
	return store, nil
}

// Write inserts one record.
func (s *PostgreSQLStore) Write(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	normalize(rec)

	var errorType *string
	if rec.ErrorType != "" {
		errorType = &rec.ErrorType
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, timestamp, pii_types, model, latency, original_length,
			masked_length, client_ip, status, error_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Timestamp, rec.PIITypes, rec.Model, rec.LatencySeconds,
		rec.OriginalLength, rec.MaskedLength, rec.ClientIP, rec.Status, errorType,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Stats implements Reader.
func (s *PostgreSQLStore) Stats(ctx context.Context, limit int) (*Stats, error) {
	limit = ClampLimit(limit)
	stats := newStats()

	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE status = $1", StatusSuccess,
	).Scan(&stats.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	countRows, err := s.pool.Query(ctx, `
		SELECT t.label, COUNT(*)
		FROM audit_events, unnest(audit_events.pii_types) AS t(label)
		WHERE audit_events.status = $1
		GROUP BY t.label`, StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to count pii types: %w", err)
	}
	for countRows.Next() {
		var label string
		var n int64
		if err := countRows.Scan(&label, &n); err != nil {
			countRows.Close()
			return nil, fmt.Errorf("failed to scan pii count: %w", err)
		}
		stats.PIICounts[label] = n
	}
	countRows.Close()
	if err := countRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pii counts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, timestamp, pii_types, model, latency, original_length, masked_length,
			client_ip, status, COALESCE(error_type, '')
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanPostgreSQLRecord(rows)
		if err != nil {
			return nil, err
		}
		stats.RecentEvents = append(stats.RecentEvents, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return stats, nil
}

func scanPostgreSQLRecord(rows pgx.Rows) (Record, error) {
	var rec Record
	if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.PIITypes, &rec.Model, &rec.LatencySeconds,
		&rec.OriginalLength, &rec.MaskedLength, &rec.ClientIP, &rec.Status, &rec.ErrorType); err != nil {
		return Record{}, fmt.Errorf("failed to scan audit event: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.PIITypes == nil {
		rec.PIITypes = []string{}
	}
	return rec, nil
}

// Close stops the cleanup goroutine. The pool is managed by the storage layer.
// Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	s.retention.close()
	return nil
}

// cleanup deletes events older than the retention period.
func (s *PostgreSQLStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := retentionCutoff(time.Now(), s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM audit_events WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old audit events", "error", err)
		return
	}

	if rowsAffected := result.RowsAffected(); rowsAffected > 0 {
		slog.Info("cleaned up old audit events", "deleted", rowsAffected)
	}
}
