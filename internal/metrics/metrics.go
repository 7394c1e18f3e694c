// Package metrics provides Prometheus metrics for sync cycles.
package metrics

import "time"

// Recorder defines the interface for recording sync metrics.
type Recorder interface {
	// RecordCycle records a completed sync cycle.
	RecordCycle(err error, duration time.Duration)

	// RecordSourceCall records one update source lookup.
	RecordSourceCall(source string, err error, duration time.Duration)

	// RecordDownload records one artifact download.
	RecordDownload(source string, bytes int64, err error, duration time.Duration)

	// RecordResult records the terminal status of a plugin task.
	RecordResult(status string)

	// RecordReconcile records one reconciliation action on the test tree.
	RecordReconcile(action string)
}
