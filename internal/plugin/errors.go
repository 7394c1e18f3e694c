package plugin

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ConfigError reports a malformed configuration. It aborts a cycle before any I/O.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}

	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// SourceErrorKind classifies adapter-side failures.
type SourceErrorKind string

// Source error kinds.
const (
	KindNotFound       SourceErrorKind = "not-found"
	KindAmbiguousAsset SourceErrorKind = "ambiguous-asset"
	KindSchemaMismatch SourceErrorKind = "schema-mismatch"
)

// SourceError is a failure reported by a source adapter.
type SourceError struct {
	Kind   SourceErrorKind
	Source SourceType
	Detail string
	Err    error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s source: %s", e.Source, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError builds a SourceError with a formatted detail.
func NewSourceError(src SourceType, kind SourceErrorKind, format string, args ...any) *SourceError {
	return &SourceError{Kind: kind, Source: src, Detail: fmt.Sprintf(format, args...)}
}

// FetchError is a network-level failure: bad status, timeout or oversized body.
type FetchError struct {
	URL      string
	Status   int
	Timeout  bool
	TooLarge bool
	Reason   string
	Err      error
}

func (e *FetchError) Error() string {
	var msg string

	switch {
	case e.Timeout:
		msg = "timed out fetching " + e.URL
	case e.TooLarge:
		msg = "response too large from " + e.URL
	case e.Status != 0:
		msg = fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
	default:
		msg = "fetching " + e.URL
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// BackupError means a snapshot could not be taken; the live file is left untouched.
type BackupError struct {
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backing up %s: %v", e.Path, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// ApplyError means the downloaded file could not be moved into place. When
// CorruptionRisk is set the live slot may be inconsistent and the backup must be
// used to recover.
type ApplyError struct {
	Path           string
	CorruptionRisk bool
	Err            error
}

func (e *ApplyError) Error() string {
	if e.CorruptionRisk {
		return fmt.Sprintf("CORRUPTION RISK applying %s (restore from backup): %v", e.Path, e.Err)
	}

	return fmt.Sprintf("applying %s: %v", e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// AmbiguousInstallError means more than one installed file matches a plugin.
type AmbiguousInstallError struct {
	Plugin     string
	Candidates []string
}

func (e *AmbiguousInstallError) Error() string {
	return fmt.Sprintf("ambiguous install for %s: %d files match (%s)",
		e.Plugin, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// Severity ranks errors for reporting. Higher is worse.
type Severity int

// Severity levels.
const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SeverityOf classifies err. CorruptionRisk and configuration problems are critical.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityNone
	}

	var applyErr *ApplyError
	if errors.As(err, &applyErr) && applyErr.CorruptionRisk {
		return SeverityCritical
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return SeverityCritical
	}

	var ambErr *AmbiguousInstallError
	if errors.As(err, &ambErr) {
		return SeverityWarning
	}

	return SeverityError
}

// IsCorruptionRisk reports whether err flags a possibly inconsistent live file.
func IsCorruptionRisk(err error) bool {
	var applyErr *ApplyError

	return errors.As(err, &applyErr) && applyErr.CorruptionRisk
}

// IsSourceKind reports whether err is a SourceError of the given kind.
func IsSourceKind(err error, kind SourceErrorKind) bool {
	var srcErr *SourceError

	return errors.As(err, &srcErr) && srcErr.Kind == kind
}
