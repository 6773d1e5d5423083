package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kfarrell/groupfill/pkg/groupfill/config"
	"github.com/kfarrell/groupfill/pkg/groupfill/integrity"
	"github.com/kfarrell/groupfill/pkg/groupfill/remote"
	"github.com/kfarrell/groupfill/pkg/groupfill/source"
)

// NewValidateCommand builds the validate command. It checks the
// configuration, probes the source, counts eligible records, and pings
// the API, all without writing anything.
func NewValidateCommand() *cobra.Command {
	var (
		configPath string
		sourceKind string
		input      string
		table      string
		baseURL    string
		token      string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, source, and API connectivity without writing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("source") {
				settings.SourceKind = sourceKind
			}
			if fs.Changed("input") {
				settings.InputPath = input
			}
			if fs.Changed("base-url") {
				settings.BaseURL = baseURL
			}
			if fs.Changed("token") {
				settings.Token = token
			}
			if settings.Token == "" {
				settings.Token = os.Getenv("GROUPFILL_TOKEN")
			}
			if err := settings.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return validate(cmd, settings, table)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON config file")
	fs.StringVar(&sourceKind, "source", config.DefaultSourceKind, "record source: csv or sqlite")
	fs.StringVarP(&input, "input", "i", "", "path to the CSV export or SQLite database")
	fs.StringVar(&table, "table", "works", "table name for the sqlite source")
	fs.StringVar(&baseURL, "base-url", "", "base URL of the ticketing API; omit to skip the API probe")
	fs.StringVar(&token, "token", "", "API token (or set GROUPFILL_TOKEN)")

	return cmd
}

// validate probes the source and the API and reports what a run would see.
func validate(cmd *cobra.Command, settings config.Settings, table string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	var src source.Source
	switch settings.SourceKind {
	case "csv":
		csvSrc := source.NewCSVSource(settings.InputPath)
		if err := csvSrc.Probe(); err != nil {
			return fmt.Errorf("source probe failed: %w", err)
		}
		src = csvSrc
	case "sqlite":
		sqlSrc, err := source.NewSQLiteSource(settings.InputPath, table)
		if err != nil {
			return fmt.Errorf("open sqlite source: %w", err)
		}
		defer sqlSrc.Close()
		if err := sqlSrc.Probe(ctx); err != nil {
			return fmt.Errorf("source probe failed: %w", err)
		}
		src = sqlSrc
	}
	fmt.Fprintf(out, "source ok: %s (%s)\n", settings.InputPath, settings.SourceKind)

	// Stream the source once and count what a run would do with it.
	checker := &integrity.Checker{}
	if len(settings.KnownGroups) > 0 {
		known := make(map[string]struct{}, len(settings.KnownGroups))
		for _, g := range settings.KnownGroups {
			known[g] = struct{}{}
		}
		checker.KnownGroups = known
	}

	cursor, err := src.Open(ctx, "")
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer cursor.Close()

	var eligible, skipped int
	for {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		if !ok {
			break
		}
		if checker.PreCheck(rec).Eligible {
			eligible++
		} else {
			skipped++
		}
	}
	fmt.Fprintf(out, "records: %d eligible, %d would be skipped\n", eligible, skipped)

	if settings.BaseURL == "" {
		fmt.Fprintln(out, "API probe skipped (no base-url)")
		return nil
	}
	client := remote.NewHTTPClient(settings.BaseURL, settings.Token, nil)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("API probe failed: %w", err)
	}
	fmt.Fprintln(out, "API ok")
	return nil
}
