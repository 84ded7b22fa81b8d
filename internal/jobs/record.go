// Package jobs tracks asynchronous pipeline runs: a registry of job
// records with a queued/running/terminal status machine, monotonic
// progress and retention-based eviction.
package jobs

import "time"

type Status string

const (
	StatusQueued              Status = "queued"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// Terminal reports whether the status is final. Terminal records are
// never mutated again and become eligible for eviction.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	default:
		return false
	}
}

// Detail is the pipeline-specific payload carried by a job record.
// Clone must return a copy sharing no mutable state with the receiver.
type Detail[D any] interface {
	Clone() D
}

// Record is one tracked job. Records are owned by the registry; callers
// only ever hold snapshots.
type Record[D Detail[D]] struct {
	ID         string
	SessionID  string
	Status     Status
	Progress   float64
	Current    string
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Detail     D
}

func (r *Record[D]) snapshot() Record[D] {
	c := *r
	c.Detail = r.Detail.Clone()
	return c
}
