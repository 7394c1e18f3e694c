package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	pluginsync "github.com/NindroidA/pluginator/internal/sync"
	"github.com/NindroidA/pluginator/internal/ui"
)

var (
	syncDryRun  bool
	syncOnly    []string
	syncTimeout time.Duration
	syncOutput  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update plugins and mirror production into the test server",
	Long: `Check every enabled plugin against its source, install newer releases
into the production plugins directory (backing up the replaced file), and then
reconcile the test server's plugins directory with production.

The command exits non-zero when any plugin or reconciliation step failed.`,
	RunE: runSync,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report available updates without downloading anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		syncDryRun = true

		return runSync(cmd, args)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report updates without applying them")

	for _, c := range []*cobra.Command{syncCmd, checkCmd} {
		c.Flags().StringSliceVar(&syncOnly, "only", nil, "limit the run to the named plugins")
		c.Flags().DurationVar(&syncTimeout, "timeout", 0, "abort the cycle after this long (0 means no limit)")
		c.Flags().StringVarP(&syncOutput, "output", "o", ui.FormatTable, "output format: table or json")
		rootCmd.AddCommand(c)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	format, err := ui.ParseFormat(syncOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	if syncTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, syncTimeout)
		defer cancel()
	}

	sum, runErr := a.engine(engineOpts{dryRun: syncDryRun, only: syncOnly}).Run(ctx, a.cfg)
	if sum == nil {
		return runErr
	}

	if err := ui.RenderSummary(cmd.OutOrStdout(), sum, format); err != nil {
		return err
	}

	for _, w := range sum.Warnings {
		a.out.Warning(w)
	}

	if runErr != nil {
		return runErr
	}

	a.runHooks(ctx, sum)

	return pluginsync.ReportFailures(os.Stderr, sum)
}
