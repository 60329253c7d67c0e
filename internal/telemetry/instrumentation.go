package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay low-cardinality: operation names, statuses and
// error kinds only. URLs, paths and transfer ids belong in logs.

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

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// InstrumentAttempt wraps a single executor attempt in a span and counts it.
func (t *Telemetry) InstrumentAttempt(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "transfer_attempt", "executor", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordAttempt(status)

	return err
}

// TransferReport is the outcome a TransferFunc hands back for recording.
type TransferReport struct {
	Kind  string // Error kind, empty on success
	Bytes int64
	Err   error
}

// TransferFunc runs one transfer to completion, retries included.
type TransferFunc func(ctx context.Context) TransferReport

// InstrumentTransfer tracks a whole transfer: the active gauge, a span
// carrying the error kind, and the terminal counters.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, fn TransferFunc) TransferReport {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveTransfers()
	defer t.DecrementActiveTransfers()

	var report TransferReport

	_ = t.InstrumentOperation(ctx, "transfer", "downloader", func(ctx context.Context) error {
		report = fn(ctx)

		if report.Kind != "" {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("transfer.kind", report.Kind))
		}

		return report.Err
	})

	status := "success"
	if report.Err != nil {
		status = "error"
	}

	t.RecordTransfer(status, report.Kind, report.Bytes, time.Since(start))

	return report
}
