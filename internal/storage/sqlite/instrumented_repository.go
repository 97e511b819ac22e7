package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/storage"
	"github.com/italolelis/seedbox_aria2/internal/telemetry"
)

// InstrumentedFetchRepository wraps FetchRepository with telemetry.
type InstrumentedFetchRepository struct {
	repo      *FetchRepository
	telemetry *telemetry.Telemetry
}

var _ storage.FetchRepository = (*InstrumentedFetchRepository)(nil)

// NewInstrumentedFetchRepository creates a new instrumented fetch repository.
func NewInstrumentedFetchRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedFetchRepository {
	return &InstrumentedFetchRepository{
		repo:      NewFetchRepository(dbConn),
		telemetry: tel,
	}
}

func instrumented[T any](ctx context.Context, tel *telemetry.Telemetry, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := tel.InstrumentDBOperation(ctx, operation, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)

		return err
	})

	return result, err
}

// Enqueue stores a fetch request with telemetry.
func (r *InstrumentedFetchRepository) Enqueue(ctx context.Context, req fetch.FetchRequest) error {
	return r.telemetry.InstrumentDBOperation(ctx, "enqueue", func(ctx context.Context) error {
		return r.repo.Enqueue(ctx, req)
	})
}

// ClaimPending claims pending fetch requests with telemetry.
func (r *InstrumentedFetchRepository) ClaimPending(ctx context.Context, instanceID string, limit int) ([]storage.FetchRecord, error) {
	records, err := instrumented(ctx, r.telemetry, "claim_pending", func(ctx context.Context) ([]storage.FetchRecord, error) {
		return r.repo.ClaimPending(ctx, instanceID, limit)
	})

	r.telemetry.RecordClaimed(ctx, len(records))

	return records, err
}

// RecordOutcome stores an outcome with telemetry.
func (r *InstrumentedFetchRepository) RecordOutcome(ctx context.Context, outcome fetch.Outcome) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.repo.RecordOutcome(ctx, outcome)
	})
}

// RequeueStale requeues stuck records with telemetry.
func (r *InstrumentedFetchRepository) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	return instrumented(ctx, r.telemetry, "requeue_stale", func(ctx context.Context) (int64, error) {
		return r.repo.RequeueStale(ctx, before)
	})
}

// PurgeFinished deletes finished records with telemetry.
func (r *InstrumentedFetchRepository) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	return instrumented(ctx, r.telemetry, "purge_finished", func(ctx context.Context) (int64, error) {
		return r.repo.PurgeFinished(ctx, before)
	})
}

// GetFetch reads one record with telemetry.
func (r *InstrumentedFetchRepository) GetFetch(ctx context.Context, id string) (*storage.FetchRecord, error) {
	return instrumented(ctx, r.telemetry, "get_fetch", func(ctx context.Context) (*storage.FetchRecord, error) {
		return r.repo.GetFetch(ctx, id)
	})
}

// ListFetches lists records with telemetry.
func (r *InstrumentedFetchRepository) ListFetches(ctx context.Context, filter storage.ListFilter) ([]storage.FetchRecord, error) {
	return instrumented(ctx, r.telemetry, "list_fetches", func(ctx context.Context) ([]storage.FetchRecord, error) {
		return r.repo.ListFetches(ctx, filter)
	})
}
