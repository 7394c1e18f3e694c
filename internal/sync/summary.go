package sync

import (
	"time"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// ReconcileAction is what reconciliation did for one plugin.
type ReconcileAction string

// Reconciliation actions.
const (
	// ActionCopied means the production file was copied to the test tree.
	ActionCopied ReconcileAction = "copied"
	// ActionDisabled means the production file was copied as a disabled file.
	ActionDisabled ReconcileAction = "disabled"
	// ActionUnchanged means the test tree already matched.
	ActionUnchanged ReconcileAction = "unchanged"
	// ActionMissing means production has no file for the plugin.
	ActionMissing ReconcileAction = "missing"
	// ActionSkipped means the run was cancelled first.
	ActionSkipped ReconcileAction = "skipped"
	// ActionFailed means reconciliation of the plugin failed.
	ActionFailed ReconcileAction = "failed"
)

// ReconcileResult is the outcome of reconciling one plugin.
type ReconcileResult struct {
	Plugin string          `json:"plugin"`
	Action ReconcileAction `json:"action"`
	// Path is the file written or kept in the test tree.
	Path string `json:"path,omitempty"`
	// Removed lists stale test tree files deleted for the plugin.
	Removed []string `json:"removed,omitempty"`
	Err     error    `json:"-"`
}

// Changed reports whether reconciliation wrote or removed anything.
func (r *ReconcileResult) Changed() bool {
	return r.Action == ActionCopied || r.Action == ActionDisabled || len(r.Removed) > 0
}

// Summary is the outcome of one sync cycle.
type Summary struct {
	// Results holds one entry per plugin in configuration order.
	Results        []plugin.Result   `json:"results"`
	Reconciliation []ReconcileResult `json:"reconciliation,omitempty"`
	Started        time.Time         `json:"started"`
	Finished       time.Time         `json:"finished"`
	DryRun         bool              `json:"dry_run,omitempty"`
	Cancelled      bool              `json:"cancelled,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	// TestBackup is the archive of the test plugins directory taken before
	// reconciliation.
	TestBackup *plugin.BackupRecord `json:"test_backup,omitempty"`
}

// Counts tallies results by status.
func (s *Summary) Counts() map[plugin.Status]int {
	counts := make(map[plugin.Status]int)
	for i := range s.Results {
		counts[s.Results[i].Status]++
	}

	return counts
}

// Failed returns the failed plugin results.
func (s *Summary) Failed() []plugin.Result {
	var failed []plugin.Result

	for i := range s.Results {
		if s.Results[i].Status == plugin.StatusFailed {
			failed = append(failed, s.Results[i])
		}
	}

	return failed
}

// ReconcileFailures returns the failed reconciliation results.
func (s *Summary) ReconcileFailures() []ReconcileResult {
	var failed []ReconcileResult

	for i := range s.Reconciliation {
		if s.Reconciliation[i].Action == ActionFailed {
			failed = append(failed, s.Reconciliation[i])
		}
	}

	return failed
}

// CorruptionRisk returns the results whose live file may be inconsistent.
func (s *Summary) CorruptionRisk() []plugin.Result {
	var risky []plugin.Result

	for i := range s.Results {
		if plugin.IsCorruptionRisk(s.Results[i].Err) {
			risky = append(risky, s.Results[i])
		}
	}

	return risky
}

// Result returns the result for a plugin.
func (s *Summary) Result(name string) (plugin.Result, bool) {
	for i := range s.Results {
		if s.Results[i].Plugin == name {
			return s.Results[i], true
		}
	}

	return plugin.Result{}, false
}
