package models

import "time"

// WorkerHeartbeat is a worker process's liveness and job counters, shared
// so that other processes can report cluster health
type WorkerHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	CurrentJob    string    `json:"current_job,omitempty"`
	ProcessedJobs int64     `json:"processed_jobs"`
	FailedJobs    int64     `json:"failed_jobs"`
	SentAt        time.Time `json:"sent_at"`
}
