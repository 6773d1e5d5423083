package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider and returns the
// reader plus a cleanup function restoring the original provider.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}
	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt64(t *testing.T, m *metricdata.Metrics) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum data")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordItem(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordItem(ctx, "success", 1, 20*time.Millisecond)
	m.RecordItem(ctx, "success", 3, 90*time.Millisecond)
	m.RecordItem(ctx, "failed", 4, 200*time.Millisecond)

	rm := collectMetrics(t, reader)

	items := findMetric(rm, "groupfill.item.outcomes")
	require.NotNil(t, items)
	assert.Equal(t, int64(3), sumInt64(t, items))

	attempts := findMetric(rm, "groupfill.item.attempts")
	require.NotNil(t, attempts)
	assert.Equal(t, int64(8), sumInt64(t, attempts))

	latency := findMetric(rm, "groupfill.item.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRecordBatchAndCheckpoint(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordBatch(ctx, 100, 2*time.Second)
	m.RecordBatch(ctx, 40, time.Second)
	m.RecordCheckpoint(ctx, 1)
	m.RecordCheckpoint(ctx, 2)

	rm := collectMetrics(t, reader)

	batches := findMetric(rm, "groupfill.batch.commits")
	require.NotNil(t, batches)
	assert.Equal(t, int64(2), sumInt64(t, batches))

	checkpoints := findMetric(rm, "groupfill.checkpoint.saves")
	require.NotNil(t, checkpoints)
	assert.Equal(t, int64(2), sumInt64(t, checkpoints))
}

func TestRecordRun(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordRun(context.Background(), true, 5*time.Second)

	rm := collectMetrics(t, reader)
	runs := findMetric(rm, "groupfill.run.completions")
	require.NotNil(t, runs)
	assert.Equal(t, int64(1), sumInt64(t, runs))
}

func TestNoopMetrics(t *testing.T) {
	// The no-op recorder must be safe without any provider configured.
	var m MetricsRecorder = NoopMetrics{}
	m.RecordItem(context.Background(), "success", 1, time.Millisecond)
	m.RecordBatch(context.Background(), 10, time.Millisecond)
	m.RecordCheckpoint(context.Background(), 1)
	m.RecordRun(context.Background(), false, time.Millisecond)
}
