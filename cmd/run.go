package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kfarrell/groupfill/pkg/groupfill"
	"github.com/kfarrell/groupfill/pkg/groupfill/breaker"
	"github.com/kfarrell/groupfill/pkg/groupfill/checkpoint"
	"github.com/kfarrell/groupfill/pkg/groupfill/config"
	"github.com/kfarrell/groupfill/pkg/groupfill/deadletter"
	"github.com/kfarrell/groupfill/pkg/groupfill/integrity"
	"github.com/kfarrell/groupfill/pkg/groupfill/observability"
	"github.com/kfarrell/groupfill/pkg/groupfill/ratelimit"
	"github.com/kfarrell/groupfill/pkg/groupfill/remote"
	"github.com/kfarrell/groupfill/pkg/groupfill/retry"
	"github.com/kfarrell/groupfill/pkg/groupfill/source"
)

// runFlags holds CLI overrides for the run command.
type runFlags struct {
	configPath string

	sourceKind string
	input      string
	table      string

	baseURL string
	token   string
	mapping string

	batchSize        int
	parallelism      int
	maxRetries       int
	maxBatchFailures int
	rateLimitCalls   int
	rateLimitPeriod  time.Duration
	attemptTimeout   time.Duration

	checkpointKind string
	checkpointPath string
	runKey         string
	resume         bool

	dryRun     bool
	deadLetter string
	logLevel   string
}

// NewRunCommand builds the run command.
func NewRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the backfill",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := resolveSettings(cmd, &flags)
			if err != nil {
				return err
			}
			return runBackfill(cmd, settings)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML or JSON config file")
	fs.StringVar(&flags.sourceKind, "source", config.DefaultSourceKind, "record source: csv or sqlite")
	fs.StringVarP(&flags.input, "input", "i", "", "path to the CSV export or SQLite database")
	fs.StringVar(&flags.table, "table", "works", "table name for the sqlite source")
	fs.StringVar(&flags.baseURL, "base-url", "", "base URL of the ticketing API")
	fs.StringVar(&flags.token, "token", "", "API token (or set GROUPFILL_TOKEN)")
	fs.StringVar(&flags.mapping, "mapping", "", "path to a user-to-group mapping file")
	fs.IntVar(&flags.batchSize, "batch-size", config.DefaultBatchSize, "records per batch")
	fs.IntVar(&flags.parallelism, "parallelism", config.DefaultParallelism, "concurrent in-flight items per batch")
	fs.IntVar(&flags.maxRetries, "max-retries", config.DefaultMaxRetries, "retries per item after the first attempt")
	fs.IntVar(&flags.maxBatchFailures, "max-batch-failures", config.DefaultMaxBatchFailures, "failed items per batch before the run aborts")
	fs.IntVar(&flags.rateLimitCalls, "rate-limit-calls", config.DefaultRateLimitCalls, "API calls allowed per rate-limit period")
	fs.DurationVar(&flags.rateLimitPeriod, "rate-limit-period", config.DefaultRateLimitPeriod, "rate-limit window")
	fs.DurationVar(&flags.attemptTimeout, "attempt-timeout", config.DefaultAttemptTimeout, "per-attempt deadline")
	fs.StringVar(&flags.checkpointKind, "checkpoint", config.DefaultCheckpointKind, "checkpoint store: file or sqlite")
	fs.StringVar(&flags.checkpointPath, "checkpoint-path", ".groupfill", "checkpoint directory (file) or database path (sqlite)")
	fs.StringVar(&flags.runKey, "run-key", "", "stable key identifying this run across restarts")
	fs.BoolVar(&flags.resume, "resume", false, "resume from the last committed checkpoint")
	fs.BoolVar(&flags.dryRun, "dry-run", false, "run the full pipeline without calling the API")
	fs.StringVar(&flags.deadLetter, "dead-letter", "", "path to the dead-letter journal (JSONL)")
	fs.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")

	return cmd
}

// resolveSettings merges the config file with explicit flag overrides.
// Flags the user set on the command line win over the file.
func resolveSettings(cmd *cobra.Command, flags *runFlags) (config.Settings, error) {
	settings, err := loadSettings(flags.configPath)
	if err != nil {
		return config.Settings{}, err
	}

	fs := cmd.Flags()
	override := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	override("source", func() { settings.SourceKind = flags.sourceKind })
	override("input", func() { settings.InputPath = flags.input })
	override("base-url", func() { settings.BaseURL = flags.baseURL })
	override("token", func() { settings.Token = flags.token })
	override("batch-size", func() { settings.BatchSize = flags.batchSize })
	override("parallelism", func() { settings.Parallelism = flags.parallelism })
	override("max-retries", func() { settings.MaxRetries = flags.maxRetries })
	override("max-batch-failures", func() { settings.MaxBatchFailures = flags.maxBatchFailures })
	override("rate-limit-calls", func() { settings.RateLimitCalls = flags.rateLimitCalls })
	override("rate-limit-period", func() { settings.RateLimitPeriod = flags.rateLimitPeriod })
	override("attempt-timeout", func() { settings.AttemptTimeout = flags.attemptTimeout })
	override("checkpoint", func() { settings.CheckpointKind = flags.checkpointKind })
	override("checkpoint-path", func() { settings.CheckpointPath = flags.checkpointPath })
	override("run-key", func() { settings.RunKey = flags.runKey })
	override("resume", func() { settings.Resume = flags.resume })
	override("dry-run", func() { settings.DryRun = flags.dryRun })
	override("dead-letter", func() { settings.DeadLetterPath = flags.deadLetter })
	override("log-level", func() { settings.LogLevel = flags.logLevel })

	if settings.CheckpointPath == "" {
		settings.CheckpointPath = flags.checkpointPath
	}
	if settings.Token == "" {
		settings.Token = os.Getenv("GROUPFILL_TOKEN")
	}
	if settings.RunKey == "" {
		// A stable default key makes --resume work across restarts
		// without extra flags.
		settings.RunKey = filepath.Base(settings.InputPath)
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	if !settings.DryRun && settings.BaseURL == "" {
		return config.Settings{}, fmt.Errorf("base-url is required unless --dry-run is set")
	}
	return settings, nil
}

// runBackfill wires the engine from settings and executes it.
func runBackfill(cmd *cobra.Command, settings config.Settings) error {
	logger, err := newLogger(settings.LogLevel)
	if err != nil {
		return err
	}

	src, cleanup, err := openSource(cmd, settings)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	client := remote.NewHTTPClient(settings.BaseURL, settings.Token, nil)
	if !settings.DryRun {
		if err := client.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("API probe failed: %w", err)
		}
	}

	target, err := buildTarget(cmd, settings)
	if err != nil {
		return err
	}

	opts := []groupfill.Option{
		groupfill.WithBatchSize(settings.BatchSize),
		groupfill.WithParallelism(settings.Parallelism),
		groupfill.WithMaxBatchFailures(settings.MaxBatchFailures),
		groupfill.WithDryRun(settings.DryRun),
		groupfill.WithResume(settings.Resume),
		groupfill.WithCheckpointStore(store),
		groupfill.WithLogger(logger),
		groupfill.WithMetrics(observability.NewMetricsRecorder()),
		groupfill.WithRateLimiter(ratelimit.New(settings.RateLimitCalls, settings.RateLimitPeriod)),
		groupfill.WithRetryConfig(retry.Config{
			MaxRetries:     settings.MaxRetries,
			BackoffBase:    settings.BackoffBase,
			BackoffUnit:    time.Second,
			MaxBackoff:     60 * time.Second,
			Jitter:         0.1,
			AttemptTimeout: settings.AttemptTimeout,
		}),
		groupfill.WithBreakerConfig(breaker.Config{
			FailureThreshold: settings.FailureThreshold,
			Cooldown:         settings.Cooldown,
			HalfOpenMaxCalls: 1,
			SuccessThreshold: 1,
		}),
	}
	if settings.RunKey != "" {
		opts = append(opts, groupfill.WithRunKey(settings.RunKey))
	}
	if len(settings.KnownGroups) > 0 {
		known := make(map[string]struct{}, len(settings.KnownGroups))
		for _, g := range settings.KnownGroups {
			known[g] = struct{}{}
		}
		opts = append(opts, groupfill.WithIntegrityChecker(&integrity.Checker{KnownGroups: known}))
	}
	if settings.DeadLetterPath != "" {
		journal, err := deadletter.NewFileJournal(settings.DeadLetterPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, groupfill.WithDeadLetter(journal))
	}

	proc, err := groupfill.New(src, client, target, opts...)
	if err != nil {
		return err
	}

	// First signal asks for a graceful stop: the in-flight batch finishes
	// and commits. A second signal cancels outright.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("stop requested, finishing current batch")
			proc.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, runErr := proc.Run(ctx)
	printSummary(cmd, summary)
	if runErr != nil {
		return &ExitError{Code: summary.ExitCode(), Msg: runErr.Error()}
	}
	if code := summary.ExitCode(); code != 0 {
		return &ExitError{Code: code, Msg: fmt.Sprintf("%d items failed", summary.Failed)}
	}
	return nil
}

// openSource builds the record source named by the settings.
func openSource(cmd *cobra.Command, settings config.Settings) (source.Source, func(), error) {
	switch settings.SourceKind {
	case "csv":
		src := source.NewCSVSource(settings.InputPath)
		if err := src.Probe(); err != nil {
			return nil, nil, fmt.Errorf("probe csv source: %w", err)
		}
		return src, func() {}, nil
	case "sqlite":
		table, _ := cmd.Flags().GetString("table")
		src, err := source.NewSQLiteSource(settings.InputPath, table)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite source: %w", err)
		}
		if err := src.Probe(cmd.Context()); err != nil {
			src.Close()
			return nil, nil, fmt.Errorf("probe sqlite source: %w", err)
		}
		return src, func() { src.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", settings.SourceKind)
	}
}

// openStore builds the checkpoint store named by the settings.
func openStore(settings config.Settings) (checkpoint.Store, error) {
	switch settings.CheckpointKind {
	case "file":
		return checkpoint.NewFileStore(settings.CheckpointPath)
	case "sqlite":
		return checkpoint.NewSQLiteStore(settings.CheckpointPath)
	default:
		return nil, fmt.Errorf("unknown checkpoint kind %q", settings.CheckpointKind)
	}
}

// buildTarget resolves the group target function: an explicit mapping
// file when given, otherwise the record's own assigned group.
func buildTarget(cmd *cobra.Command, settings config.Settings) (groupfill.ValueFunc, error) {
	mappingPath, _ := cmd.Flags().GetString("mapping")
	if mappingPath == "" && len(settings.GroupMapping) > 0 {
		return groupfill.MappingValueFunc(settings.GroupMapping), nil
	}
	if mappingPath != "" {
		mapping, err := loadMapping(mappingPath)
		if err != nil {
			return nil, fmt.Errorf("load mapping file: %w", err)
		}
		return groupfill.MappingValueFunc(mapping), nil
	}
	return groupfill.AssignedValueFunc(), nil
}

// printSummary writes the terminal run report.
func printSummary(cmd *cobra.Command, s groupfill.Summary) {
	out := cmd.OutOrStdout()
	mode := "live"
	if s.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "run %s (%s) finished in %s\n", s.RunID, mode, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  processed: %d\n", s.Processed)
	fmt.Fprintf(out, "  succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(out, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(out, "  skipped:   %d\n", s.Skipped)
	fmt.Fprintf(out, "  attempts:  %d\n", s.Attempts)
	fmt.Fprintf(out, "  batches:   %d\n", s.Batches)
	if s.Stopped {
		fmt.Fprintln(out, "  stopped early by request; resume with --resume")
	}
	if s.Aborted {
		fmt.Fprintln(out, "  aborted; the failing batch was not committed")
	}
}
