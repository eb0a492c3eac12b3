package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// sqliteTimeLayout is fixed-width so that text ordering is chronological.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Sink for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	retention     *retention
}

// NewSQLiteStore creates the audit_events table if needed and starts the
// retention cleanup goroutine when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			pii_types TEXT NOT NULL DEFAULT '[]',
			model TEXT,
			latency REAL,
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{db: db, retentionDays: retentionDays}
	store.retention = startRetention(retentionDays, store.cleanup)
	return store, nil
}

// Write inserts one record.
func (s *SQLiteStore) Write(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	normalize(rec)

	piiJSON, err := json.Marshal(rec.PIITypes)
	if err != nil {
		return fmt.Errorf("failed to encode pii types: %w", err)
	}

	var errorType any
	if rec.ErrorType != "" {
		errorType = rec.ErrorType
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, pii_types, model, latency, original_length,
			masked_length, client_ip, status, error_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.Format(sqliteTimeLayout),
		string(piiJSON),
		rec.Model,
		rec.LatencySeconds,
		rec.OriginalLength,
		rec.MaskedLength,
		rec.ClientIP,
		rec.Status,
		errorType,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Stats implements Reader.
func (s *SQLiteStore) Stats(ctx context.Context, limit int) (*Stats, error) {
	limit = ClampLimit(limit)
	stats := newStats()

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE status = ?", StatusSuccess,
	).Scan(&stats.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	// The pool holds a single connection, so each result set is drained
	// before the next query starts.
	if err := s.piiCounts(ctx, stats); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, pii_types, model, latency, original_length, masked_length,
			client_ip, status, error_type
		FROM audit_events
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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

func (s *SQLiteStore) piiCounts(ctx context.Context, stats *Stats) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT je.value, COUNT(*)
		FROM audit_events, json_each(audit_events.pii_types) AS je
		WHERE audit_events.status = ?
		GROUP BY je.value`, StatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to count pii types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return fmt.Errorf("failed to scan pii count: %w", err)
		}
		stats.PIICounts[label] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating pii counts: %w", err)
	}
	return nil
}

func scanSQLiteRecord(rows *sql.Rows) (Record, error) {
	var (
		rec       Record
		ts        string
		piiJSON   string
		model     sql.NullString
		latency   sql.NullFloat64
		clientIP  sql.NullString
		errorType sql.NullString
	)
	if err := rows.Scan(&rec.ID, &ts, &piiJSON, &model, &latency, &rec.OriginalLength,
		&rec.MaskedLength, &clientIP, &rec.Status, &errorType); err != nil {
		return Record{}, fmt.Errorf("failed to scan audit event: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse audit timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed.UTC()

	if err := json.Unmarshal([]byte(piiJSON), &rec.PIITypes); err != nil {
		slog.Warn("failed to decode pii types", "error", err, "id", rec.ID)
	}
	if rec.PIITypes == nil {
		rec.PIITypes = []string{}
	}
	if model.Valid {
		rec.Model = &model.String
	}
	if latency.Valid {
		rec.LatencySeconds = &latency.Float64
	}
	if clientIP.Valid {
		rec.ClientIP = &clientIP.String
	}
	rec.ErrorType = errorType.String
	return rec, nil
}

// Close stops the cleanup goroutine. The DB is managed by the storage layer.
// Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	s.retention.close()
	return nil
}

// cleanup deletes events older than the retention period.
func (s *SQLiteStore) cleanup() {
	cutoff := retentionCutoff(time.Now(), s.retentionDays).Format(sqliteTimeLayout)

	result, err := s.db.Exec("DELETE FROM audit_events WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old audit events", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old audit events", "deleted", rowsAffected)
	}
}
