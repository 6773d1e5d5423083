// Package observability provides structured logging, metrics, and tracing
// for backfill runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger carrying the run identity, so batch and
// item events correlate across a run's output.
func EnrichLogger(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("run_id", runID))
}

// LogRunStart logs the start of a backfill run.
func LogRunStart(logger *slog.Logger, runID string, resumedFrom string) {
	if logger == nil {
		return
	}
	if resumedFrom != "" {
		logger.Info("run resuming",
			slog.String("run_id", runID),
			slog.String("resume_after", resumedFrom),
		)
		return
	}
	logger.Info("run starting",
		slog.String("run_id", runID),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, batches int) {
	if logger == nil {
		return
	}
	logger.Info("run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("batches", batches),
	)
}

// LogRunAborted logs run failure.
func LogRunAborted(logger *slog.Logger, runID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("run aborted",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBatchStart logs batch processing start.
func LogBatchStart(logger *slog.Logger, seq, size int) {
	if logger == nil {
		return
	}
	logger.Debug("batch starting",
		slog.Int("batch", seq),
		slog.Int("size", size),
	)
}

// LogBatchComplete logs batch completion with its outcome counts.
func LogBatchComplete(logger *slog.Logger, seq int, succeeded, failed, skipped int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("batch completed",
		slog.Int("batch", seq),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogItemSkipped logs a pre-check skip.
func LogItemSkipped(logger *slog.Logger, recordID, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("item skipped",
		slog.String("record_id", recordID),
		slog.String("reason", reason),
	)
}

// LogItemFailed logs a terminal item failure.
func LogItemFailed(logger *slog.Logger, recordID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("item failed",
		slog.String("record_id", recordID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs a checkpoint commit.
func LogCheckpoint(logger *slog.Logger, batchSeq int, lastKey string) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint committed",
		slog.Int("batch", batchSeq),
		slog.String("last_key", lastKey),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
