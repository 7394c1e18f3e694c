// Package schedule runs sync cycles on a cron schedule.
package schedule

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Job is one scheduled run. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler is the subset of cron used here.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Start()
	Stop() context.Context
	Entry(id cron.EntryID) cron.Entry
}

// Opts configures a Runner.
type Opts struct {
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@every 6h".
	Spec string
	// RunNow runs the job once before waiting for the first tick.
	RunNow    bool
	Logger    *slog.Logger
	Scheduler Scheduler
}

// Runner drives a Job from a cron schedule. Overlapping runs are skipped.
type Runner struct {
	spec      string
	runNow    bool
	logger    *slog.Logger
	scheduler Scheduler
}

// Validate checks a cron expression.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return errors.Wrapf(err, "invalid schedule %q", spec)
	}

	return nil
}

// New returns a Runner.
func New(opts Opts) (*Runner, error) {
	if err := Validate(opts.Spec); err != nil {
		return nil, err
	}

	r := &Runner{spec: opts.Spec, runNow: opts.RunNow, logger: opts.Logger, scheduler: opts.Scheduler}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	if r.scheduler == nil {
		logger := cronLogger{r.logger}
		r.scheduler = cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		)
	}

	return r, nil
}

// Run schedules job and blocks until ctx is done. It waits for a running job
// to finish before returning.
func (r *Runner) Run(ctx context.Context, job Job) error {
	id, err := r.scheduler.AddFunc(r.spec, func() { job(ctx) })
	if err != nil {
		return errors.Wrapf(err, "scheduling %q", r.spec)
	}

	if r.runNow {
		job(ctx)
	}

	r.scheduler.Start()
	r.logger.Info("scheduler started", "schedule", r.spec, "next", r.scheduler.Entry(id).Next)

	<-ctx.Done()

	r.logger.Info("stopping scheduler")
	<-r.scheduler.Stop().Done()

	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
