package plugin

// Status is the terminal outcome of one plugin task.
type Status string

// Result statuses.
const (
	StatusUpToDate        Status = "up-to-date"
	StatusUpdated         Status = "updated"
	StatusFailed          Status = "failed"
	StatusSkippedDisabled Status = "skipped-disabled"
	// StatusUpdateAvailable is only produced by dry runs.
	StatusUpdateAvailable Status = "update-available"
)

// Phase is a step of the per-plugin state machine.
type Phase string

// Task phases, in order.
const (
	PhasePending     Phase = "pending"
	PhaseResolving   Phase = "resolving"
	PhaseDeciding    Phase = "deciding"
	PhaseDownloading Phase = "downloading"
	PhaseBackingUp   Phase = "backing-up"
	PhaseApplying    Phase = "applying"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Result is the outcome of one plugin task in a sync cycle.
type Result struct {
	Plugin           string        `json:"plugin"`
	Source           SourceType    `json:"source"`
	Status           Status        `json:"status"`
	Phase            Phase         `json:"phase"`
	InstalledVersion string        `json:"installed_version,omitempty"`
	RemoteVersion    string        `json:"remote_version,omitempty"`
	FilePath         string        `json:"file_path,omitempty"`
	Backup           *BackupRecord `json:"backup,omitempty"`
	Err              error         `json:"-"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// Detail returns the failure detail, or an empty string.
func (r *Result) Detail() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Error()
}
