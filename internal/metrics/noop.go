package metrics

import "time"

// NoopRecorder is a no-op implementation of Recorder.
type NoopRecorder struct{}

func (n *NoopRecorder) RecordCycle(_ error, _ time.Duration) {}

func (n *NoopRecorder) RecordSourceCall(_ string, _ error, _ time.Duration) {}

func (n *NoopRecorder) RecordDownload(_ string, _ int64, _ error, _ time.Duration) {}

func (n *NoopRecorder) RecordResult(_ string) {}

func (n *NoopRecorder) RecordReconcile(_ string) {}
