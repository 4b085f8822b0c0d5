package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/resolve-cli/internal/matcher"
	"github.com/sells-group/resolve-cli/internal/pipeline"
	"github.com/sells-group/resolve-cli/internal/source"
)

var (
	runInput   string
	runID      string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve a batch of source records",
	Long: `Reads source records from a CSV file and resolves each one against
the canonical store. Re-running with the same --run-id overwrites the
previous results for that run (idempotent).

The CSV needs a header row with source_id and raw_name columns;
source_system and reference_number are optional, any other columns are
carried as attributes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}

		records, err := source.ReadCSV(runInput)
		if err != nil {
			return eris.Wrap(err, "read input")
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		m := matcher.New(st, cfg.Matcher)
		p := pipeline.New(st, m, cfg.Pipeline)

		report, err := p.Run(ctx, runID, records)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		printReport(report)
		return nil
	},
}

func printReport(r *pipeline.Report) {
	fmt.Printf("run %s: %d records in %s\n", r.RunID, r.Total, r.Elapsed.Round(time.Millisecond))
	fmt.Printf("  matched:    %d\n", r.Matched)
	fmt.Printf("  ambiguous:  %d\n", r.Ambiguous)
	fmt.Printf("  no match:   %d\n", r.NoMatch)
	fmt.Printf("  invalid:    %d\n", r.Invalid)
	if r.AutoAlias > 0 {
		fmt.Printf("  auto-alias: %d\n", r.AutoAlias)
	}
	if r.AutoCreate > 0 {
		fmt.Printf("  auto-created: %d\n", r.AutoCreate)
	}
	if r.Errors > 0 {
		fmt.Printf("  errors:     %d\n", r.Errors)
	}
	for strategy, n := range r.ByStrategy {
		fmt.Printf("  strategy %-17s %d\n", string(strategy)+":", n)
	}
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "CSV file of source records (required)")
	runCmd.Flags().StringVar(&runID, "run-id", time.Now().UTC().Format("20060102-150405"), "pipeline run identifier")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "batch timeout; stops scheduling further records")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
