package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low cardinality: modes, statuses, error
// kinds and operation names only. Tracking ids, paths and URLs belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with a span.
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

	status := Status(err)
	if status == StatusError {
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

	t.RecordDBOperation(operation, Status(err), time.Since(start))

	return err
}

// InstrumentTransfer instruments one transfer session from token acquisition
// to its terminal outcome.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, mode string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveTransfers()
	defer t.DecrementActiveTransfers()

	err := t.InstrumentOperation(ctx, "transfer", "transfer", fn)

	t.RecordTransfer(mode, Status(err), ErrorKind(err), time.Since(start))

	return err
}

// InstrumentDecrypt instruments a post-transfer decryption pass.
func (t *Telemetry) InstrumentDecrypt(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "decrypt", "transfer", fn)

	t.RecordDecrypt(Status(err), time.Since(start))

	return err
}

const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Status maps an operation result to a bounded status label.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusError
	}
}

// ErrorKind returns the kind label of errors that carry one, "none" for nil
// and "unknown" otherwise.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}

	var kinded interface{ ErrorKind() string }
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}

	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	return "unknown"
}
