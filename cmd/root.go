// Package cmd contains all the commands included in the groupfill binary.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kfarrell/groupfill/pkg/groupfill/config"
)

// NewRootCommand builds the root of the command tree.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "groupfill",
		Short: "Backfill the missing creator_group field on work records",
		Long: `groupfill streams work records from a CSV export or SQLite snapshot and
backfills the missing creator_group field through the ticketing API.

Updates run in checkpointed batches behind a rate limiter, a circuit
breaker, and bounded retries, so an interrupted run can resume exactly
where it left off with --resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// ExitError carries a process exit status out of a command.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Msg
}

// loadSettings resolves run settings from an optional config file.
func loadSettings(configPath string) (config.Settings, error) {
	if configPath == "" {
		return config.Defaults(), nil
	}
	return config.LoadSettings(configPath)
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// loadMapping reads a user-to-group mapping file (YAML or JSON map of
// creator user ID to group ID).
func loadMapping(path string) (map[string]string, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(cfg))
	for user, v := range cfg {
		group, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("mapping for user %q is not a string", user)
		}
		mapping[user] = group
	}
	return mapping, nil
}
