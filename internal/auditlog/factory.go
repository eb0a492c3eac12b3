package auditlog

import (
	"context"
	"errors"
	"fmt"

	"piishield/internal/storage"
)

// Config selects the backend and retention for the audit sink.
type Config struct {
	Storage storage.Config

	// RetentionDays removes events older than this many days; 0 keeps everything.
	RetentionDays int
}

// Result holds the initialized audit sink and its storage connection.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Sink    Sink
	Storage storage.Storage
}

// Close releases all resources held by the audit sink.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Sink != nil {
		if err := r.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New opens the configured storage and builds the matching sink.
// The caller must call Result.Close() during shutdown.
func New(ctx context.Context, cfg Config) (*Result, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	sink, err := NewSink(ctx, store, cfg.RetentionDays)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Result{Sink: sink, Storage: store}, nil
}

// NewSink builds the sink for an already-open storage backend.
func NewSink(ctx context.Context, store storage.Storage, retentionDays int) (Sink, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
