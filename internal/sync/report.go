package sync

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// FailedError is returned when a cycle completes with failed plugins or
// failed reconciliation.
type FailedError struct {
	Plugins   []plugin.Result
	Reconcile []ReconcileResult
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%d plugin(s) failed, %d reconciliation failure(s)", len(e.Plugins), len(e.Reconcile))
}

// ReportFailures writes a summary of failed plugins to w.
// Returns a FailedError if anything failed.
func ReportFailures(w io.Writer, sum *Summary) error {
	failed := sum.Failed()
	recFailed := sum.ReconcileFailures()

	if len(failed) == 0 && len(recFailed) == 0 {
		return nil
	}

	if _, err := fmt.Fprintf(w, "\nFailures in %d plugin(s):\n", len(failed)+len(recFailed)); err != nil {
		return errors.Wrap(err, "writing failure report")
	}

	for i := range failed {
		r := &failed[i]

		label := "FAILED"
		if plugin.IsCorruptionRisk(r.Err) {
			label = "CORRUPTION RISK"
		}

		if _, err := fmt.Fprintf(w, "  %s %s (%s): %s\n", label, r.Plugin, r.Phase, r.Detail()); err != nil {
			return errors.Wrap(err, "writing failure report")
		}
	}

	for i := range recFailed {
		r := &recFailed[i]

		if _, err := fmt.Fprintf(w, "  RECONCILE %s: %v\n", r.Plugin, r.Err); err != nil {
			return errors.Wrap(err, "writing failure report")
		}
	}

	if len(sum.CorruptionRisk()) > 0 {
		if _, err := fmt.Fprintln(w, "\nRestore affected plugins with 'pluginator backups restore PLUGIN'."); err != nil {
			return errors.Wrap(err, "writing failure report")
		}
	}

	return &FailedError{Plugins: failed, Reconcile: recFailed}
}
