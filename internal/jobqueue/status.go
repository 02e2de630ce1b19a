package jobqueue

// StatusResponse is the normalized shape the external route layer polls:
// identical regardless of which backend ran the job.
type StatusResponse struct {
	JobID        string `json:"jobId"`
	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	Ready        bool   `json:"ready"`
	FailedReason string `json:"failedReason,omitempty"`
}

// Status projects a job snapshot into the polling response. Ready is true
// only for a completed job; a failed job carries its reason.
func Status(job Job) StatusResponse {
	return StatusResponse{
		JobID:        job.ID,
		State:        job.State,
		Progress:     job.Progress,
		Ready:        job.State == StateCompleted,
		FailedReason: job.FailedReason,
	}
}
