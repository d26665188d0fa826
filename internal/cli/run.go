package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/workhistory/history-migrator/internal/source"
	"github.com/workhistory/history-migrator/internal/worker"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SourceDir string
	Workers   int
	DryRun    bool
}

// NewRunCommand creates the batch migration command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every exported item in a directory",
		Long: `Migrate every *.json / *.yaml export in the source directory.

Items are independent: a failing item is reported and the batch continues.
The command exits non-zero when any item failed.

Example:
  migrator run --source ./exports --workers 8
  migrator run --source ./exports --dry-run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, opts.RootOptions, opts.DryRun)
			if err != nil {
				return err
			}
			defer rt.Close()

			sourceDir := opts.SourceDir
			if sourceDir == "" {
				sourceDir = rt.cfg.Migration.SourceDir
			}
			workers := opts.Workers
			if workers <= 0 {
				workers = rt.cfg.Migration.Workers
			}

			pool := worker.NewPool(rt.migrations, worker.PoolConfig{
				Workers:     workers,
				ItemTimeout: rt.cfg.Migration.ItemTimeout(),
				DryRun:      opts.DryRun,
			}, rt.logger)
			summary, err := pool.Run(ctx, source.NewDirectory(sourceDir))
			if err != nil {
				return err
			}
			if err := writeSummary(cmd.OutOrStdout(), opts.Format, summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d items failed", summary.Failed, summary.Total())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.SourceDir, "source", "", "directory of item exports (default MIGRATION_SOURCE_DIR)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent items (default MIGRATION_WORKERS)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "reconstruct and validate without writing")

	return cmd
}

func writeSummary(w io.Writer, format string, summary worker.Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Fprintf(w, "succeeded: %d\nunchanged: %d\nfailed:    %d\n", summary.Succeeded, summary.Unchanged, summary.Failed)
	for _, f := range summary.Failures {
		seq := ""
		if f.SequenceNumber != nil {
			seq = fmt.Sprintf(" seq=%d", *f.SequenceNumber)
		}
		fmt.Fprintf(w, "  %s [%s]%s %s\n", f.ItemID, f.ErrorKind, seq, f.Message)
	}
	return nil
}
