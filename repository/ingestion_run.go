package repository

import "time"

// RunStatus is the lifecycle state of one adapter invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// IngestionRun is the audit record of one scheduled adapter invocation.
// It is created when the scheduler triggers a source, mutated only by the
// owning invocation, and terminal once status leaves RunRunning. The core
// never deletes runs.
type IngestionRun struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ProcessedCount int        `json:"processed_count"`
	ErrorCount     int        `json:"error_count"`
	Status         RunStatus  `json:"status"`
}

// Finish stamps the terminal state. Status is derived from the counters:
// failed when nothing was processed and errors occurred, partial when both
// counters are non-zero, succeeded otherwise.
func (r *IngestionRun) Finish(now time.Time) {
	r.FinishedAt = &now
	switch {
	case r.ProcessedCount == 0 && r.ErrorCount > 0:
		r.Status = RunFailed
	case r.ErrorCount > 0:
		r.Status = RunPartial
	default:
		r.Status = RunSucceeded
	}
}
