package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must have bounded cardinality: operation names,
// statuses, error kinds, client types. Gids, titles, info hashes and paths belong
// in logs, which carry the trace id for correlation.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentClientOperation instruments daemon client operations.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "client_"+operation, "daemon_client", func(ctx context.Context) error {
		ctx, span := t.Tracer().Start(ctx, "client_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("client.type", client),
			attribute.String("client.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordClientOperation(ctx, client, operation, statusOf(err))

	return err
}

// InstrumentFetch wraps the orchestration of one fetch request. fn reports the
// outcome status and, for failures, the error kind.
func (t *Telemetry) InstrumentFetch(ctx context.Context, fn func(ctx context.Context) (status, kind string)) {
	if t == nil || t.tracer == nil {
		fn(ctx)

		return
	}

	start := time.Now()

	t.addActiveFetches(ctx, 1)
	defer t.addActiveFetches(ctx, -1)

	ctx, span := t.tracer.Start(ctx, "fetch")
	defer span.End()

	status, kind := fn(ctx)

	span.SetAttributes(attribute.String("fetch.status", status))

	if kind != "" {
		span.SetAttributes(attribute.String("fetch.error_kind", kind))
		span.SetStatus(codes.Error, kind)
	}

	t.RecordFetch(ctx, status, kind, time.Since(start))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
