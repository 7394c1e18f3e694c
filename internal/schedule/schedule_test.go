package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NindroidA/pluginator/internal/schedule"
)

// manualScheduler fires its job only when tick is called.
type manualScheduler struct {
	job     func()
	started atomic.Bool
	stopped atomic.Bool
}

func (m *manualScheduler) AddFunc(_ string, cmd func()) (cron.EntryID, error) {
	m.job = cmd

	return 1, nil
}

func (m *manualScheduler) Start() { m.started.Store(true) }

func (m *manualScheduler) Stop() context.Context {
	m.stopped.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	return ctx
}

func (m *manualScheduler) Entry(_ cron.EntryID) cron.Entry { return cron.Entry{} }

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, schedule.Validate("0 */6 * * *"))
	require.NoError(t, schedule.Validate("@every 1h"))
	require.Error(t, schedule.Validate("every six hours"))

	_, err := schedule.New(schedule.Opts{Spec: "61 * * * *"})
	require.Error(t, err)
}

func TestRun_RunNowAndStop(t *testing.T) {
	t.Parallel()

	sched := &manualScheduler{}
	r, err := schedule.New(schedule.Opts{Spec: "@hourly", RunNow: true, Scheduler: sched})
	require.NoError(t, err)

	var runs atomic.Int32

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- r.Run(ctx, func(context.Context) { runs.Add(1) })
	}()

	require.Eventually(t, sched.started.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "RunNow runs before the first tick")

	sched.job()
	assert.Equal(t, int32(2), runs.Load())

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, sched.stopped.Load())
}

func TestRun_RealCron(t *testing.T) {
	t.Parallel()

	r, err := schedule.New(schedule.Opts{Spec: "@every 1s"})
	require.NoError(t, err)

	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(t.Context())

	go func() {
		_ = r.Run(ctx, func(context.Context) {
			select {
			case ran <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	cancel()
}
