package cmd

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/NindroidA/pluginator/internal/metrics"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/schedule"
	pluginsync "github.com/NindroidA/pluginator/internal/sync"
)

var (
	daemonSchedule    string
	daemonMetricsAddr string
	daemonRunNow      bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync cycles on a cron schedule",
	Long: `Run a sync cycle on every tick of a cron schedule until interrupted. A
cycle that is still running when the next tick fires is skipped. Prometheus
metrics are served on --metrics-addr when set.

Configuration is read once at startup; restart the daemon to apply changes.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "0 */6 * * *", "cron expression or descriptor such as @every 6h")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "address for the /metrics endpoint, e.g. :9090")
	daemonCmd.Flags().BoolVar(&daemonRunNow, "run-now", false, "run a cycle immediately on startup")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if err := schedule.Validate(daemonSchedule); err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := a.engine(engineOpts{metrics: metrics.NewPrometheusRecorder(reg)})

	runner, err := schedule.New(schedule.Opts{
		Spec:   daemonSchedule,
		RunNow: daemonRunNow,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	if daemonMetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, daemonMetricsAddr, metrics.Handler(reg), a.logger)
		})
	}

	g.Go(func() error {
		return runner.Run(ctx, func(ctx context.Context) {
			runCycle(ctx, a, engine)
		})
	})

	return g.Wait()
}

// runCycle runs one scheduled cycle and logs its outcome. Failures never stop
// the daemon.
func runCycle(ctx context.Context, a *app, engine *pluginsync.Engine) {
	sum, err := engine.Run(ctx, a.cfg)
	if err != nil {
		a.logger.Error("sync cycle aborted", "error", err)
	}

	if sum == nil {
		return
	}

	counts := sum.Counts()
	a.logger.Info("sync cycle finished",
		"updated", counts[plugin.StatusUpdated],
		"up_to_date", counts[plugin.StatusUpToDate],
		"failed", counts[plugin.StatusFailed],
		"duration", sum.Finished.Sub(sum.Started),
	)

	for _, w := range sum.Warnings {
		a.logger.Warn(w)
	}

	if err == nil {
		a.runHooks(ctx, sum)
	}

	if err := pluginsync.ReportFailures(os.Stderr, sum); err != nil {
		a.logger.Warn("sync cycle finished with failures", "error", err)
	}
}
