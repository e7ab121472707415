// Package recorder keeps a journal of scheduled job runs.
package recorder

import "time"

// Run statuses.
const (
	StatusOK     = "OK"
	StatusFailed = "FAILED"
)

// JobRun is one execution of a scheduled job.
type JobRun struct {
	Job      string // "ingest", "fetch" or "resample"
	Started  time.Time
	Finished time.Time
	Status   string
	Detail   string // summary counts on success, the error on failure
}

// Duration of the run.
func (r JobRun) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Recorder persists job runs for later inspection.
type Recorder interface {
	RecordRun(run *JobRun) error
	RecentRuns(limit int) ([]JobRun, error)
	Close() error
}
