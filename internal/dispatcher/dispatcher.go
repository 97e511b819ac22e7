package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
	"github.com/italolelis/seedbox_aria2/internal/storage"
	"github.com/italolelis/seedbox_aria2/internal/telemetry"
)

// Processor runs a batch of fetch requests and reports one outcome per request,
// in request order.
type Processor interface {
	ProcessBatch(ctx context.Context, reqs []fetch.FetchRequest) []fetch.Outcome
}

// Resolver rewrites a request before it is processed, e.g. turning a magnet link
// into attached metainfo.
type Resolver interface {
	Demagnetize(ctx context.Context, req fetch.FetchRequest) (fetch.FetchRequest, error)
}

// Dispatcher drains the fetch queue into the orchestrator.
type Dispatcher struct {
	repo       storage.FetchWriteRepository
	processor  Processor
	resolver   Resolver
	instanceID string
	batchSize  int
	interval   time.Duration
	tel        *telemetry.Telemetry

	// Outcome events. They are never closed; consumers stop with their context.
	OnFetchAccepted chan fetch.Outcome
	OnFetchFailed   chan fetch.Outcome
}

func NewDispatcher(
	repo storage.FetchWriteRepository,
	processor Processor,
	resolver Resolver,
	instanceID string,
	batchSize int,
	interval time.Duration,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Dispatcher{
		repo:       repo,
		processor:  processor,
		resolver:   resolver,
		instanceID: instanceID,
		batchSize:  batchSize,
		interval:   interval,

		OnFetchAccepted: make(chan fetch.Outcome, batchSize),
		OnFetchFailed:   make(chan fetch.Outcome, batchSize),
	}
}

// WithTelemetry records dispatcher failures on tel.
func (d *Dispatcher) WithTelemetry(tel *telemetry.Telemetry) *Dispatcher {
	d.tel = tel
	return d
}

// Start polls the queue in the background until ctx is cancelled. A panic inside a
// tick restarts the loop after a short pause.
func (d *Dispatcher) Start(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("dispatching queued fetches", "instance_id", d.instanceID, "batch_size", d.batchSize)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("dispatcher panic",
					"operation", "dispatch",
					"panic", r,
					"stack", string(debug.Stack()))
				d.tel.RecordSystemError(ctx, "dispatcher", "panic")

				if ctx.Err() == nil {
					logger.Info("restarting dispatcher after panic", "operation", "dispatch")
					time.Sleep(time.Second)
					d.Start(ctx)
				}
			}
		}()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("dispatcher shutdown",
					"operation", "dispatch",
					"reason", "context_cancelled")
				return
			case <-ticker.C:
				if _, err := d.Dispatch(ctx); err != nil {
					logger.Error("failed to dispatch fetches", "err", err)
					d.tel.RecordSystemError(ctx, "dispatcher", "claim")
				}
			}
		}
	}()
}

// Dispatch claims one batch of pending requests, processes it and stores the
// outcomes. It returns the outcomes it recorded.
func (d *Dispatcher) Dispatch(ctx context.Context) ([]fetch.Outcome, error) {
	logger := logctx.LoggerFromContext(ctx)

	records, err := d.repo.ClaimPending(ctx, d.instanceID, d.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending fetches: %w", err)
	}

	if len(records) == 0 {
		logger.Debug("no pending fetches")
		return nil, nil
	}

	logger.Info("claimed pending fetches", "count", len(records))

	outcomes := make([]fetch.Outcome, 0, len(records))
	reqs := make([]fetch.FetchRequest, 0, len(records))

	for _, rec := range records {
		req, err := d.resolve(ctx, rec.Request)
		if err != nil {
			outcomes = append(outcomes, fetch.Failed(rec.Request, "", err))
			continue
		}

		reqs = append(reqs, req)
	}

	outcomes = append(outcomes, d.processor.ProcessBatch(ctx, reqs)...)

	for _, outcome := range outcomes {
		// A cancelled batch still gets recorded, otherwise the rows stay locked
		// until the janitor requeues them.
		if err := d.repo.RecordOutcome(context.WithoutCancel(ctx), outcome); err != nil {
			logger.Error("failed to record fetch outcome",
				"request_id", outcome.RequestID, "status", outcome.Status, "err", err)
		}

		d.publish(ctx, outcome)
	}

	return outcomes, nil
}

func (d *Dispatcher) resolve(ctx context.Context, req fetch.FetchRequest) (fetch.FetchRequest, error) {
	if d.resolver == nil {
		return req, nil
	}

	resolved, err := d.resolver.Demagnetize(ctx, req)
	if err != nil {
		return req, fmt.Errorf("failed to resolve magnet link: %w", err)
	}

	return resolved, nil
}

func (d *Dispatcher) publish(ctx context.Context, outcome fetch.Outcome) {
	var ch chan fetch.Outcome

	switch outcome.Status {
	case fetch.StatusAccepted:
		ch = d.OnFetchAccepted
	case fetch.StatusFailed:
		ch = d.OnFetchFailed
	default:
		return
	}

	select {
	case ch <- outcome:
	case <-ctx.Done():
	}
}
