// Package hooks runs operator-supplied shell commands after a sync cycle has
// changed the production plugins directory.
package hooks

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// Environment variables passed to every hook.
const (
	EnvUpdated = "PLUGINATOR_UPDATED"
	EnvFailed  = "PLUGINATOR_FAILED"
	EnvProdDir = "PLUGINATOR_PROD_DIR"
)

// Opts configures hook execution.
type Opts struct {
	// Hooks is the list of shell commands to execute, in order.
	Hooks []string
	// WorkDir is the directory in which hooks are executed.
	WorkDir string
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
}

// Event describes the cycle that triggered the hooks.
type Event struct {
	Updated []string
	Failed  []string
	ProdDir string
}

// RunPostSync executes the hooks when ev reports at least one updated plugin.
// A failing hook is logged and the remaining hooks still run.
func RunPostSync(ctx context.Context, opts *Opts, ev Event) []error {
	if len(opts.Hooks) == 0 || len(ev.Updated) == 0 {
		return nil
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := append(os.Environ(),
		EnvUpdated+"="+strings.Join(ev.Updated, ","),
		EnvFailed+"="+strings.Join(ev.Failed, ","),
		EnvProdDir+"="+ev.ProdDir,
	)

	var errs []error

	for _, hook := range opts.Hooks {
		if strings.TrimSpace(hook) == "" {
			continue
		}

		logger.Debug("running post-sync hook", "cmd", hook, "updated", len(ev.Updated))

		if err := runHook(ctx, hook, env, opts); err != nil {
			logger.Warn("post-sync hook failed", "cmd", hook, "error", err)
			errs = append(errs, errors.Wrapf(err, "hook %q", hook))
		}
	}

	return errs
}

func runHook(ctx context.Context, hook string, env []string, opts *Opts) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", hook)
	cmd.Dir = opts.WorkDir
	cmd.Env = env
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	return cmd.Run()
}
