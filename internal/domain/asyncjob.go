package domain

import "time"

// JobStatus tracks an AsyncJob's lifecycle (§3).
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// AsyncJob is the durable record behind submitAsyncJob/getJobStatus/cancelJob
// (§4.8). Results are retained for a bounded period after completion
// (default 24h — see Config.JobRetention).
type AsyncJob struct {
	JobID       string
	TenantID    string
	Request     InferenceRequest
	Status      JobStatus
	Result      *InferenceResponse
	Error       string
	SubmittedAt time.Time
	CompletedAt time.Time
}

// IsTerminal reports whether the job has reached a final state.
func (j *AsyncJob) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Duration returns how long the job ran, or 0 if not yet terminal.
func (j *AsyncJob) Duration() time.Duration {
	if j.SubmittedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.SubmittedAt)
}
