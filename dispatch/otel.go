package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/executor"
)

// traceTracer aliases the OTel tracer so dispatch.go stays free of otel
// imports.
type traceTracer = trace.Tracer

// otelMetrics holds the metric instruments recorded per executor run.
// Created once during option handling and reused for all attempts.
type otelMetrics struct {
	// attemptCounter increments per finished execution, tagged with
	// channel and outcome.
	attemptCounter metric.Int64Counter

	// durationHistogram records execution duration in milliseconds.
	durationHistogram metric.Float64Histogram
}

// WithMeterProvider enables metric recording. Without it, metrics are a
// no-op.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) error {
		meter := mp.Meter("redress/dispatch")
		m := &otelMetrics{}
		var err error

		m.attemptCounter, err = meter.Int64Counter(
			"removal.attempts",
			metric.WithDescription("Number of removal attempt executions"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("create attempt counter: %w", err)
		}

		m.durationHistogram, err = meter.Float64Histogram(
			"removal.duration",
			metric.WithDescription("Removal attempt execution duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return fmt.Errorf("create duration histogram: %w", err)
		}

		d.metrics = m
		return nil
	}
}

// WithTracerProvider enables span creation around executor runs. Without
// it, tracing is a no-op.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) error {
		d.tracer = tp.Tracer("redress/dispatch")
		return nil
	}
}

// startSpan opens a span for one execution if tracing is configured.
func (d *Dispatcher) startSpan(ctx context.Context, a *attempt.Attempt, spec *broker.RemovalSpec) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, nil
	}
	ctx, span := d.tracer.Start(ctx, "removal.execute")
	span.SetAttributes(
		attribute.String("attempt.id", a.ID),
		attribute.String("broker.id", spec.BrokerID),
		attribute.String("removal.channel", string(a.Channel)),
		attribute.Int("attempt.retry_count", a.RetryCount),
	)
	return ctx, span
}

// record finishes the span and records metrics for one execution.
func (d *Dispatcher) record(ctx context.Context, span trace.Span, a *attempt.Attempt, out executor.Outcome, elapsed time.Duration) {
	if span != nil {
		span.SetAttributes(attribute.String("removal.outcome", string(out.Kind)))
		if out.IsFailure() {
			span.SetStatus(codes.Error, out.Reason)
		} else {
			span.SetStatus(codes.Ok, string(out.Kind))
		}
		span.End()
	}

	if d.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("channel", string(a.Channel)),
			attribute.String("outcome", string(out.Kind)),
		)
		d.metrics.attemptCounter.Add(ctx, 1, attrs)
		d.metrics.durationHistogram.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}
