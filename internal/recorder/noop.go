package recorder

// NoopRecorder is a no-op implementation used when no journal is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ *JobRun) error          { return nil }
func (n *NoopRecorder) RecentRuns(_ int) ([]JobRun, error) { return nil, nil }
func (n *NoopRecorder) Close() error                       { return nil }
