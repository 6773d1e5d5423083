package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records backfill metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordItem records a processed item with its terminal outcome
	// ("success", "failed", "skipped"), attempt count and duration.
	RecordItem(ctx context.Context, outcome string, attempts int, duration time.Duration)

	// RecordBatch records a committed batch with its size and duration.
	RecordBatch(ctx context.Context, size int, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, batchSeq int)

	// RecordRun records a run completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	items        metric.Int64Counter
	itemAttempts metric.Int64Counter
	itemLatency  metric.Float64Histogram
	batches      metric.Int64Counter
	batchLatency metric.Float64Histogram
	checkpoints  metric.Int64Counter
	runs         metric.Int64Counter
	runLatency   metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("groupfill")

	items, err := meter.Int64Counter("groupfill.item.outcomes",
		metric.WithDescription("Number of items by terminal outcome"),
	)
	if err != nil {
		return nil, err
	}

	itemAttempts, err := meter.Int64Counter("groupfill.item.attempts",
		metric.WithDescription("Number of remote attempts made for items"),
	)
	if err != nil {
		return nil, err
	}

	itemLatency, err := meter.Float64Histogram("groupfill.item.latency_ms",
		metric.WithDescription("Item processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	batches, err := meter.Int64Counter("groupfill.batch.commits",
		metric.WithDescription("Number of committed batches"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("groupfill.batch.latency_ms",
		metric.WithDescription("Batch processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checkpoints, err := meter.Int64Counter("groupfill.checkpoint.saves",
		metric.WithDescription("Number of checkpoint saves"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("groupfill.run.completions",
		metric.WithDescription("Number of run completions"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("groupfill.run.latency_ms",
		metric.WithDescription("Run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		items:        items,
		itemAttempts: itemAttempts,
		itemLatency:  itemLatency,
		batches:      batches,
		batchLatency: batchLatency,
		checkpoints:  checkpoints,
		runs:         runs,
		runLatency:   runLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordItem records a processed item.
func (m *otelMetrics) RecordItem(ctx context.Context, outcome string, attempts int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	m.items.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.itemAttempts.Add(ctx, int64(attempts), metric.WithAttributes(attrs...))
	m.itemLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordBatch records a committed batch.
func (m *otelMetrics) RecordBatch(ctx context.Context, size int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Int("size", size),
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, batchSeq int) {
	m.checkpoints.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("batch_seq", batchSeq),
	))
}

// RecordRun records a run completion.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
