package groupfill_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfarrell/groupfill/pkg/groupfill"
	"github.com/kfarrell/groupfill/pkg/groupfill/checkpoint"
	"github.com/kfarrell/groupfill/pkg/groupfill/deadletter"
	gferrors "github.com/kfarrell/groupfill/pkg/groupfill/errors"
	"github.com/kfarrell/groupfill/pkg/groupfill/retry"
	"github.com/kfarrell/groupfill/pkg/groupfill/source"
)

// memSource serves records from memory, honoring the resume key the same
// way the CSV source does.
type memSource struct {
	recs []source.Record
}

func (s *memSource) Open(_ context.Context, afterKey string) (source.Cursor, error) {
	start := 0
	if afterKey != "" {
		for i, r := range s.recs {
			if r.ID == afterKey {
				start = i + 1
				break
			}
		}
	}
	return &memCursor{recs: s.recs[start:]}, nil
}

type memCursor struct {
	recs []source.Record
	pos  int
}

func (c *memCursor) Next(ctx context.Context) (source.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return source.Record{}, false, err
	}
	if c.pos >= len(c.recs) {
		return source.Record{}, false, nil
	}
	rec := c.recs[c.pos]
	c.pos++
	return rec, true, nil
}

func (c *memCursor) Close() error { return nil }

// fakeClient scripts per-record failures and records successful writes.
type fakeClient struct {
	mu       sync.Mutex
	failures map[string][]error // consumed one per call
	updated  map[string]string
	calls    int
	report   func(id, value string) string
	onCall   func(id string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		failures: make(map[string][]error),
		updated:  make(map[string]string),
	}
}

func (c *fakeClient) UpdateField(_ context.Context, id, value string) (string, error) {
	c.mu.Lock()
	c.calls++
	onCall := c.onCall
	if errs := c.failures[id]; len(errs) > 0 {
		err := errs[0]
		c.failures[id] = errs[1:]
		c.mu.Unlock()
		if onCall != nil {
			onCall(id)
		}
		return "", err
	}
	c.updated[id] = value
	reported := value
	if c.report != nil {
		reported = c.report(id, value)
	}
	c.mu.Unlock()
	if onCall != nil {
		onCall(id)
	}
	return reported, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeClient) written(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.updated[id]
	return v, ok
}

// fakeReadClient extends fakeClient with a scripted read-back endpoint.
type fakeReadClient struct {
	*fakeClient
	stored func(id string) string
}

func (c *fakeReadClient) ReadField(_ context.Context, id string) (string, error) {
	return c.stored(id), nil
}

// fastRetry keeps test backoffs in the microsecond range.
func fastRetry(maxRetries int) groupfill.Option {
	return groupfill.WithRetryConfig(retry.Config{
		MaxRetries:  maxRetries,
		BackoffBase: 2.0,
		BackoffUnit: time.Microsecond,
		MaxBackoff:  time.Millisecond,
		Jitter:      0,
	})
}

func transientErr() error {
	return &gferrors.HTTPError{StatusCode: 503, Endpoint: "works.update"}
}

func TestRun_BackfillsEligibleRecords(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g-eng"},
		{ID: "w2", CreatorUserID: "u2", AssignedGroup: "g-eng", CreatorGroup: "g-eng"},
		{ID: "w3", CreatorUserID: "u3", AssignedGroup: "g-support"},
	}}
	client := newFakeClient()
	// w1 needs three attempts; w3 succeeds immediately.
	client.failures["w1"] = []error{transientErr(), transientErr()}
	store := checkpoint.NewMemoryStore()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithBatchSize(2),
		groupfill.WithRunKey("test-run"),
		groupfill.WithCheckpointStore(store),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Processed)
	assert.Equal(t, int64(2), summary.Succeeded)
	assert.Equal(t, int64(1), summary.Skipped)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, int64(4), summary.Attempts, "three for w1, one for w3")
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 0, summary.ExitCode())
	assert.Equal(t, groupfill.StateCompleted, proc.State())

	v, ok := client.written("w1")
	require.True(t, ok)
	assert.Equal(t, "g-eng", v)
	v, ok = client.written("w3")
	require.True(t, ok)
	assert.Equal(t, "g-support", v)
	_, ok = client.written("w2")
	assert.False(t, ok, "already-set record never reaches the API")

	// One commit per batch; the checkpoint clears on completion.
	assert.Equal(t, 2, store.Saves())
	_, err = store.Load("test-run")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRun_AbortsWhenBatchFailureBudgetExceeded(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
		{ID: "w2", CreatorUserID: "u2", AssignedGroup: "g2"},
		{ID: "w3", CreatorUserID: "u3", AssignedGroup: "g3"},
	}}
	client := newFakeClient()
	auth := &gferrors.HTTPError{StatusCode: 401, Endpoint: "works.update"}
	client.failures["w1"] = []error{auth}
	client.failures["w2"] = []error{auth}
	client.failures["w3"] = []error{auth}
	store := checkpoint.NewMemoryStore()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithBatchSize(3),
		groupfill.WithMaxBatchFailures(1),
		groupfill.WithRunKey("abort-run"),
		groupfill.WithCheckpointStore(store),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, groupfill.ErrTooManyFailures)

	assert.True(t, summary.Aborted)
	assert.Equal(t, 2, summary.ExitCode())
	assert.Equal(t, int64(3), summary.Failed)
	assert.Equal(t, groupfill.StateAborted, proc.State())

	// The failing batch never commits.
	assert.Equal(t, 0, store.Saves())
}

func TestRun_DryRunMakesNoRemoteCalls(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
		{ID: "w2", CreatorUserID: "u2", AssignedGroup: "g2"},
	}}
	client := newFakeClient()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithDryRun(true),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, int64(2), summary.Succeeded)
	// The full pipeline ran, attempts included, without touching the API.
	assert.Equal(t, int64(2), summary.Attempts)
	assert.Equal(t, 0, client.callCount())
}

func TestRun_ResumeSkipsCommittedWork(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
		{ID: "w2", CreatorUserID: "u2", AssignedGroup: "g2"},
		{ID: "w3", CreatorUserID: "u3", AssignedGroup: "g3"},
		{ID: "w4", CreatorUserID: "u4", AssignedGroup: "g4"},
	}}
	client := newFakeClient()
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save("resume-run", checkpoint.New("resume-run", "w2", 1)))

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithBatchSize(2),
		groupfill.WithRunKey("resume-run"),
		groupfill.WithCheckpointStore(store),
		groupfill.WithResume(true),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Processed)
	_, ok := client.written("w1")
	assert.False(t, ok, "committed work is not re-processed")
	_, ok = client.written("w2")
	assert.False(t, ok)
	_, ok = client.written("w3")
	assert.True(t, ok)
	_, ok = client.written("w4")
	assert.True(t, ok)
}

func TestRun_UnresolvableTargetFailsWithoutRemoteCall(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
		{ID: "w2", CreatorUserID: "u-unknown", AssignedGroup: "g2"},
	}}
	client := newFakeClient()
	journal := deadletter.NewMemoryJournal()

	proc, err := groupfill.New(src, client,
		groupfill.MappingValueFunc(map[string]string{"u1": "g-eng"}),
		groupfill.WithDeadLetter(journal),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Succeeded)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, 1, summary.ExitCode())
	assert.Equal(t, 1, client.callCount(), "unresolvable record never reaches the API")

	entries := journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "w2", entries[0].RecordID)
	assert.Equal(t, 0, entries[0].Attempts)
	assert.Contains(t, entries[0].Reason, "no group mapping")
}

func TestRun_ExhaustedRetriesGoToDeadLetter(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
	}}
	client := newFakeClient()
	client.failures["w1"] = []error{transientErr(), transientErr(), transientErr()}
	journal := deadletter.NewMemoryJournal()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithDeadLetter(journal),
		fastRetry(2), // three total attempts, all scripted to fail
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(3), summary.Attempts)

	entries := journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "w1", entries[0].RecordID)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.Equal(t, 1, entries[0].BatchSeq)
}

func TestRun_PostCheckMismatchFails(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g-eng"},
	}}
	client := newFakeClient()
	client.report = func(string, string) string { return "g-other" }

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Failed)
	// A mismatch is permanent, so there is exactly one attempt.
	assert.Equal(t, int64(1), summary.Attempts)
}

func TestRun_UnconfirmedUpdateIsVerifiedByReadBack(t *testing.T) {
	// The server acknowledges the update without reporting the written
	// value. The engine must re-read the record and judge the post-check
	// on what is actually stored, not on the intended target.
	newProc := func(t *testing.T, actual string) *groupfill.Processor {
		src := &memSource{recs: []source.Record{
			{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g-eng"},
		}}
		client := &fakeReadClient{
			fakeClient: newFakeClient(),
			stored:     func(string) string { return actual },
		}
		client.report = func(string, string) string { return "" }

		proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
			fastRetry(3),
		)
		require.NoError(t, err)
		return proc
	}

	t.Run("stored value mismatch fails", func(t *testing.T) {
		proc := newProc(t, "g-other")

		summary, err := proc.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Failed)
		assert.Equal(t, int64(0), summary.Succeeded)
	})

	t.Run("stored value match succeeds", func(t *testing.T) {
		proc := newProc(t, "g-eng")

		summary, err := proc.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Succeeded)
		assert.Equal(t, int64(0), summary.Failed)
	})
}

func TestRun_CancelledContextAborts(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
	}}
	proc, err := groupfill.New(src, newFakeClient(), groupfill.AssignedValueFunc(),
		fastRetry(3),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := proc.Run(ctx)
	require.Error(t, err)
	assert.True(t, summary.Aborted)
	assert.Equal(t, groupfill.StateAborted, proc.State())
}

func TestRun_CancelledItemsAreNotJournaled(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
		{ID: "w2", CreatorUserID: "u2", AssignedGroup: "g2"},
		{ID: "w3", CreatorUserID: "u3", AssignedGroup: "g3"},
	}}
	client := newFakeClient()
	journal := deadletter.NewMemoryJournal()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithBatchSize(3),
		groupfill.WithParallelism(1),
		groupfill.WithDeadLetter(journal),
		fastRetry(3),
	)
	require.NoError(t, err)

	// Cancel from inside the first remote call: the remaining items fail
	// with cancellation, the batch never commits, and the same items are
	// re-processed on resume. Journaling them would double-count work that
	// is not terminally failed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.onCall = func(string) { cancel() }

	summary, err := proc.Run(ctx)
	require.Error(t, err)
	assert.True(t, summary.Aborted)
	assert.Empty(t, journal.Entries())
}

func TestRun_BatchLogsCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
	}}
	proc, err := groupfill.New(src, newFakeClient(), groupfill.AssignedValueFunc(),
		groupfill.WithLogger(logger),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "batch completed")
	assert.Contains(t, out, "run_id="+summary.RunID)
}

func TestRun_StopFinishesCurrentBatch(t *testing.T) {
	src := &memSource{recs: []source.Record{
		{ID: "w1", CreatorUserID: "u1", AssignedGroup: "g1"},
		{ID: "w2", CreatorUserID: "u2", AssignedGroup: "g2"},
		{ID: "w3", CreatorUserID: "u3", AssignedGroup: "g3"},
	}}
	client := newFakeClient()
	store := checkpoint.NewMemoryStore()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithBatchSize(1),
		groupfill.WithRunKey("stop-run"),
		groupfill.WithCheckpointStore(store),
		fastRetry(3),
	)
	require.NoError(t, err)

	// Request the stop from inside the first remote call: the batch in
	// flight must still finish and commit.
	client.onCall = func(string) { proc.Stop() }

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Stopped)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, int64(1), summary.Succeeded)

	// The checkpoint survives a stop so the run can resume.
	rec, err := store.Load("stop-run")
	require.NoError(t, err)
	assert.Equal(t, "w1", rec.LastKey)
	assert.Equal(t, 1, rec.BatchSeq)
}

func TestRun_EmptySource(t *testing.T) {
	proc, err := groupfill.New(&memSource{}, newFakeClient(), groupfill.AssignedValueFunc())
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Processed)
	assert.Equal(t, 0, summary.Batches)
	assert.Equal(t, 0, summary.ExitCode())
}

func TestRun_ParallelBatch(t *testing.T) {
	var recs []source.Record
	for i := 0; i < 40; i++ {
		recs = append(recs, source.Record{
			ID:            "w" + string(rune('0'+i/10)) + string(rune('0'+i%10)),
			CreatorUserID: "u1",
			AssignedGroup: "g1",
		})
	}
	src := &memSource{recs: recs}
	client := newFakeClient()

	proc, err := groupfill.New(src, client, groupfill.AssignedValueFunc(),
		groupfill.WithBatchSize(20),
		groupfill.WithParallelism(8),
		fastRetry(3),
	)
	require.NoError(t, err)

	summary, err := proc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40), summary.Succeeded)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 40, client.callCount())
}

func TestNew_Validation(t *testing.T) {
	src := &memSource{}
	client := newFakeClient()
	target := groupfill.AssignedValueFunc()

	_, err := groupfill.New(nil, client, target)
	assert.Error(t, err)
	_, err = groupfill.New(src, nil, target)
	assert.Error(t, err)
	_, err = groupfill.New(src, client, nil)
	assert.Error(t, err)
}

func TestSummary_ExitCode(t *testing.T) {
	assert.Equal(t, 0, groupfill.Summary{Succeeded: 5}.ExitCode())
	assert.Equal(t, 1, groupfill.Summary{Succeeded: 4, Failed: 1}.ExitCode())
	assert.Equal(t, 2, groupfill.Summary{Aborted: true, Failed: 1}.ExitCode())
}
