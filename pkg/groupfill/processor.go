package groupfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kfarrell/groupfill/pkg/groupfill/breaker"
	"github.com/kfarrell/groupfill/pkg/groupfill/checkpoint"
	"github.com/kfarrell/groupfill/pkg/groupfill/deadletter"
	gferrors "github.com/kfarrell/groupfill/pkg/groupfill/errors"
	"github.com/kfarrell/groupfill/pkg/groupfill/observability"
	"github.com/kfarrell/groupfill/pkg/groupfill/progress"
	"github.com/kfarrell/groupfill/pkg/groupfill/ratelimit"
	"github.com/kfarrell/groupfill/pkg/groupfill/remote"
	"github.com/kfarrell/groupfill/pkg/groupfill/retry"
	"github.com/kfarrell/groupfill/pkg/groupfill/source"
)

// ValueFunc computes the target value for a record's missing field.
// It returns false when no value can be derived, which fails the record
// without a remote call.
type ValueFunc func(Record) (string, bool)

// RunState is the lifecycle state of a processor run.
type RunState int32

const (
	// StateIdle means Run has not been called.
	StateIdle RunState = iota

	// StateInitializing covers checkpoint load and source open.
	StateInitializing

	// StateStreaming means batches are being formed and processed.
	StateStreaming

	// StateDraining means a stop was requested and the in-flight batch is
	// finishing before commit.
	StateDraining

	// StateCompleted means the run finished, by exhaustion or by stop.
	StateCompleted

	// StateAborted means the run ended on a fatal error.
	StateAborted
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by Run.
var (
	// ErrAlreadyRunning indicates Run was called on a processor whose run
	// is still in progress.
	ErrAlreadyRunning = errors.New("processor already running")

	// ErrTooManyFailures indicates a batch exceeded the failure budget.
	ErrTooManyFailures = errors.New("batch failure budget exceeded")
)

// Summary is the terminal report of a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Processed int64         `json:"processed"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Skipped   int64         `json:"skipped"`
	Attempts  int64         `json:"attempts"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dry_run"`
	Stopped   bool          `json:"stopped"`
	Aborted   bool          `json:"aborted"`
}

// ExitCode maps the summary to a process exit status: 0 when every item
// succeeded or was skipped, 1 when some items failed, 2 when the run
// aborted.
func (s Summary) ExitCode() int {
	switch {
	case s.Aborted:
		return 2
	case s.Failed > 0:
		return 1
	default:
		return 0
	}
}

// Processor drives the backfill: it streams eligible records from a
// source, forms batches, updates each record through the retry executor,
// and commits a checkpoint after every fully-processed batch.
type Processor struct {
	src    source.Source
	client remote.Client
	target ValueFunc
	cfg    procConfig

	breaker  *breaker.Breaker
	limiter  *ratelimit.Limiter
	executor *retry.Executor
	tracker  *progress.Tracker

	// runLogger is the configured logger enriched with the run identity,
	// rebuilt at the start of every Run.
	runLogger *slog.Logger

	state   atomic.Int32
	running atomic.Bool
	stop    atomic.Bool
}

// New creates a Processor. src, client and target are required; everything
// else has defaults overridable through options.
func New(src source.Source, client remote.Client, target ValueFunc, opts ...Option) (*Processor, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if client == nil {
		return nil, errors.New("remote client is required")
	}
	if target == nil {
		return nil, errors.New("target value func is required")
	}

	cfg := defaultProcConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.limiter == nil {
		cfg.limiter = ratelimit.New(50, 10*time.Second)
	}
	if r, ok := client.(remote.Reader); ok && cfg.reader == nil {
		cfg.reader = r
	}

	p := &Processor{
		src:     src,
		client:  client,
		target:  target,
		cfg:     cfg,
		breaker: breaker.New(cfg.breakerCfg),
		limiter: cfg.limiter,
		tracker: progress.NewTracker(),
	}

	// Route every attempt through the progress tracker before any
	// caller-supplied callback.
	userOnAttempt := cfg.retryCfg.OnAttempt
	retryCfg := cfg.retryCfg
	retryCfg.OnAttempt = func(attempt int, err error) {
		p.tracker.RecordAttempt()
		if userOnAttempt != nil {
			userOnAttempt(attempt, err)
		}
	}
	p.executor = retry.New(retryCfg, p.breaker, p.limiter)

	return p, nil
}

// State returns the current run state.
func (p *Processor) State() RunState {
	return RunState(p.state.Load())
}

// Progress returns a snapshot of the run counters.
func (p *Processor) Progress() progress.Snapshot {
	return p.tracker.Snapshot()
}

// Stop requests a graceful stop: the in-flight batch finishes and commits
// its checkpoint, then Run returns with Summary.Stopped set. Cancelling
// the Run context instead abandons the in-flight batch without a commit.
func (p *Processor) Stop() {
	p.stop.Store(true)
	p.state.CompareAndSwap(int32(StateStreaming), int32(StateDraining))
}

// Run executes the backfill until the source is exhausted, a fatal error
// occurs, or a stop is requested. The returned Summary is valid even when
// err is non-nil.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.stop.Store(false)
	p.tracker = progress.NewTracker()
	p.state.Store(int32(StateInitializing))

	runID := uuid.NewString()
	start := time.Now()
	runKey := p.cfg.runKey
	if runKey == "" {
		runKey = runID
	}
	p.runLogger = observability.EnrichLogger(p.cfg.logger, runID)

	ctx, runSpan := p.cfg.spans.StartRunSpan(ctx, runID)

	summary, err := p.run(ctx, runID, runKey, start)

	p.cfg.spans.EndSpanWithError(runSpan, err)
	p.cfg.metrics.RecordRun(ctx, err == nil, summary.Duration)
	if err != nil {
		observability.LogRunAborted(p.cfg.logger, runID, err, float64(summary.Duration.Milliseconds()))
	} else {
		observability.LogRunComplete(p.cfg.logger, runID, float64(summary.Duration.Milliseconds()), summary.Batches)
	}
	return summary, err
}

// run is the body of Run; it owns state transitions and the batch loop.
func (p *Processor) run(ctx context.Context, runID, runKey string, start time.Time) (Summary, error) {
	summarize := func(batches int, stopped, aborted bool) Summary {
		snap := p.tracker.Snapshot()
		return Summary{
			RunID:     runID,
			Processed: snap.Processed,
			Succeeded: snap.Succeeded,
			Failed:    snap.Failed,
			Skipped:   snap.Skipped,
			Attempts:  snap.Attempts,
			Batches:   batches,
			Duration:  time.Since(start),
			DryRun:    p.cfg.dryRun,
			Stopped:   stopped,
			Aborted:   aborted,
		}
	}
	abort := func(batches int, err error) (Summary, error) {
		p.state.Store(int32(StateAborted))
		return summarize(batches, false, true), err
	}

	// Position recovery. A missing checkpoint is a fresh start; any other
	// load failure is fatal because continuing could re-process or skip
	// committed work.
	afterKey := ""
	batchSeq := 0
	if p.cfg.resume && p.cfg.store != nil {
		rec, err := p.cfg.store.Load(runKey)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
		case err != nil:
			return abort(0, fmt.Errorf("load checkpoint: %w", err))
		default:
			afterKey = rec.LastKey
			batchSeq = rec.BatchSeq
		}
	}
	observability.LogRunStart(p.cfg.logger, runID, afterKey)

	cursor, err := p.src.Open(ctx, afterKey)
	if err != nil {
		return abort(batchSeq, fmt.Errorf("open source: %w", err))
	}
	defer cursor.Close()

	p.state.Store(int32(StateStreaming))

	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return abort(batches, fmt.Errorf("run cancelled: %w", err))
		}
		if p.stop.Load() {
			break
		}

		batch, err := p.nextBatch(ctx, cursor)
		if err != nil {
			return abort(batches, fmt.Errorf("read source: %w", err))
		}
		if len(batch) == 0 {
			break
		}

		batchSeq++
		p.tracker.SetCurrentBatch(batchSeq)

		res := p.runBatch(ctx, batchSeq, batch)
		if res.cancelled {
			return abort(batches, fmt.Errorf("run cancelled: %w", ctx.Err()))
		}
		if res.failed > p.cfg.maxBatchFailures {
			return abort(batches, fmt.Errorf("%w: %d failures in batch %d (budget %d)",
				ErrTooManyFailures, res.failed, batchSeq, p.cfg.maxBatchFailures))
		}

		// The batch barrier has passed: every item is terminal, so the
		// checkpoint may move past it.
		if p.cfg.store != nil {
			rec := checkpoint.New(runKey, res.lastKey, batchSeq)
			if err := p.cfg.store.Save(runKey, rec); err != nil {
				return abort(batches, fmt.Errorf("save checkpoint: %w", err))
			}
			p.cfg.metrics.RecordCheckpoint(ctx, batchSeq)
			observability.LogCheckpoint(p.runLogger, batchSeq, res.lastKey)
		}
		batches++
	}

	stopped := p.stop.Load()
	if !stopped && p.cfg.store != nil {
		// A completed run clears its checkpoint so a later run with the
		// same key starts fresh.
		if err := p.cfg.store.Delete(runKey); err != nil {
			return abort(batches, fmt.Errorf("delete checkpoint: %w", err))
		}
	}

	p.state.Store(int32(StateCompleted))
	return summarize(batches, stopped, false), nil
}

// nextBatch pulls up to batchSize records from the cursor. An empty batch
// means the source is exhausted.
func (p *Processor) nextBatch(ctx context.Context, cursor source.Cursor) ([]Record, error) {
	batch := make([]Record, 0, p.cfg.batchSize)
	for len(batch) < p.cfg.batchSize {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// batchResult aggregates the terminal outcomes of one batch.
type batchResult struct {
	succeeded int
	failed    int
	skipped   int
	lastKey   string
	cancelled bool
}

// runBatch processes one batch to the barrier: every record reaches a
// terminal outcome before it returns.
func (p *Processor) runBatch(ctx context.Context, seq int, batch []Record) batchResult {
	timer := observability.TimedOperation()
	observability.LogBatchStart(p.runLogger, seq, len(batch))
	batchCtx, batchSpan := p.cfg.spans.StartBatchSpan(ctx, seq, len(batch))

	res := batchResult{lastKey: batch[len(batch)-1].ID}

	// Pre-checks and target resolution run serially; only remote work is
	// worth parallelizing.
	items := make([]WorkItem, 0, len(batch))
	for _, rec := range batch {
		check := p.cfg.checker.PreCheck(rec)
		if !check.Eligible {
			p.tracker.RecordSkip()
			p.cfg.metrics.RecordItem(batchCtx, Skipped.String(), 0, 0)
			observability.LogItemSkipped(p.runLogger, rec.ID, check.SkipReason)
			res.skipped++
			continue
		}

		target, ok := p.target(rec)
		if !ok {
			err := &gferrors.ValidationError{
				RecordID: rec.ID,
				Field:    "creator_user_id",
				Message:  "no group mapping",
			}
			p.cfg.metrics.RecordItem(batchCtx, Failed.String(), 0, 0)
			p.finishFailure(seq, Fail(rec.ID, err, 0))
			res.failed++
			continue
		}

		items = append(items, WorkItem{Record: rec, Target: target})
	}

	// Bounded fan-out over the eligible items. The barrier below ensures
	// every outcome is terminal before the checkpoint commits.
	sem := make(chan struct{}, p.cfg.parallelism)
	results := make(chan Outcome, len(items))
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-batchCtx.Done():
				results <- Fail(item.Record.ID, gferrors.Permanent(batchCtx.Err(), "run cancelled"), 0)
				return
			}

			results <- p.processItem(batchCtx, item)
		}(item)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for outcome := range results {
		switch outcome.Kind {
		case Success:
			p.tracker.RecordSuccess()
			res.succeeded++
		case Failed:
			p.finishFailure(seq, outcome)
			res.failed++
		}
	}

	if ctx.Err() != nil {
		res.cancelled = true
	}

	elapsed := timer()
	p.cfg.metrics.RecordBatch(batchCtx, len(batch), time.Duration(elapsed)*time.Millisecond)
	observability.LogBatchComplete(p.runLogger, seq, res.succeeded, res.failed, res.skipped, elapsed)
	p.cfg.spans.EndSpanWithError(batchSpan, nil)
	return res
}

// processItem executes one work item through the retry executor and
// verifies the result.
func (p *Processor) processItem(ctx context.Context, item WorkItem) Outcome {
	itemCtx, span := p.cfg.spans.StartItemSpan(ctx, item.Record.ID)

	res := p.executor.Do(itemCtx, func(ctx context.Context) error {
		reported, err := p.update(ctx, item)
		if err != nil {
			return err
		}
		if reported == "" && p.cfg.reader != nil && !p.cfg.dryRun {
			reported, err = p.cfg.reader.ReadField(ctx, item.Record.ID)
			if err != nil {
				return err
			}
		}
		return p.cfg.checker.PostCheck(item.Record.ID, item.Target, reported)
	}, nil)

	p.cfg.spans.EndSpanWithError(span, res.Err)
	p.cfg.metrics.RecordItem(ctx, outcomeKind(res.Err).String(), res.Attempts, res.Duration)

	if res.Err != nil {
		return Fail(item.Record.ID, res.Err, res.Attempts)
	}
	return Succeed(item.Record.ID, res.Attempts)
}

// update performs the remote write, or simulates it under dry-run.
func (p *Processor) update(ctx context.Context, item WorkItem) (string, error) {
	if p.cfg.dryRun {
		return item.Target, nil
	}
	return p.client.UpdateField(ctx, item.Record.ID, item.Target)
}

// finishFailure records a terminal failure across the tracker, the logs
// and the dead-letter journal. Cancellation outcomes are not journaled:
// the aborted batch never commits, so those items are re-processed on
// resume rather than re-driven from the journal.
func (p *Processor) finishFailure(batchSeq int, outcome Outcome) {
	p.tracker.RecordFailure()
	observability.LogItemFailed(p.runLogger, outcome.RecordID, outcome.Attempts, outcome.Err)
	if p.cfg.journal != nil && !errors.Is(outcome.Err, context.Canceled) {
		err := p.cfg.journal.Append(deadletter.Entry{
			RecordID: outcome.RecordID,
			Reason:   outcome.Err.Error(),
			Attempts: outcome.Attempts,
			BatchSeq: batchSeq,
		})
		if err != nil && p.runLogger != nil {
			p.runLogger.Warn("dead-letter append failed",
				"record_id", outcome.RecordID, "error", err.Error())
		}
	}
}

// outcomeKind maps a terminal executor error to the item outcome.
func outcomeKind(err error) OutcomeKind {
	if err != nil {
		return Failed
	}
	return Success
}
