package cmd

import (
	"os"

	"github.com/spf13/cobra"

	pluginsync "github.com/NindroidA/pluginator/internal/sync"
)

var reconcileOnly []string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mirror the production plugins directory into the test server",
	Long: `Copy production plugin files into the test server's plugins directory
without checking for updates. Plugins marked disableOnTest are copied with a
.DIS suffix so the test server does not load them. The test plugins directory
is archived first. Production is never changed.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileOnly, "only", nil, "limit reconciliation to the named plugins")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	results, err := a.engine(engineOpts{only: reconcileOnly}).Reconcile(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}

	for i := range results {
		r := &results[i]

		switch {
		case r.Action == pluginsync.ActionMissing:
			a.out.Warningf("%s: not installed in production", r.Plugin)
		case r.Changed():
			a.out.Successf("%s: %s", r.Plugin, r.Action)
		case r.Action != pluginsync.ActionFailed:
			a.logger.Debug("test server unchanged", "plugin", r.Plugin, "action", r.Action)
		}
	}

	return pluginsync.ReportFailures(os.Stderr, &pluginsync.Summary{Reconciliation: results})
}
