/*
Package groupfill backfills a missing creator-group field on work records
through a rate-limited remote API.

# Overview

groupfill streams records from a source (CSV export or SQLite snapshot),
forms fixed-size batches, and updates each eligible record through a
resilience pipeline: a sliding-window rate limiter, a circuit breaker,
and a retry executor with exponential backoff. A checkpoint is committed
after every fully-processed batch, so an interrupted run resumes exactly
where it left off.

# Basic Usage

Build a processor from a source, a remote client, and a target resolver,
then run it:

	src := source.NewCSVSource("works.csv")
	client := remote.NewHTTPClient(baseURL, token, nil)
	target := groupfill.MappingValueFunc(map[string]string{
	    "user-1": "group-eng",
	})

	proc, err := groupfill.New(src, client, target,
	    groupfill.WithBatchSize(100),
	    groupfill.WithCheckpointStore(store),
	)
	if err != nil {
	    log.Fatal(err)
	}

	summary, err := proc.Run(ctx)
	fmt.Printf("succeeded=%d failed=%d skipped=%d\n",
	    summary.Succeeded, summary.Failed, summary.Skipped)

# Failure Semantics

Errors from the remote API are classified as transient (429, 5xx,
timeouts) or permanent (everything else). Transient errors are retried
with backoff; permanent errors fail the item immediately. Items that
exhaust their retries count against the circuit breaker, and an open
circuit fails items fast until the cooldown expires. A batch whose
failure count exceeds the configured budget aborts the run without
committing that batch's checkpoint.

# Crash Recovery

Enable checkpointing with WithCheckpointStore and resume with
WithResume(true). Batches are the commit unit: a record's update may be
re-applied after a crash, but never skipped. Updates are idempotent
writes of the same value, so re-application is safe.
*/
package groupfill
