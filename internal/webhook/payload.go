package webhook

import (
	"time"

	"recq/internal/jobs"
)

// Payload is the fixed notification shape POSTed once per terminal job.
// Timestamps marshal as RFC 3339.
type Payload struct {
	Event               string            `json:"event"`
	JobID               string            `json:"jobId"`
	Status              string            `json:"status"`
	Folder              string            `json:"folder"`
	RecordingsTotal     int               `json:"recordingsTotal"`
	RecordingsCompleted int               `json:"recordingsCompleted"`
	RecordingsFailed    int               `json:"recordingsFailed"`
	CreatedAt           time.Time         `json:"createdAt"`
	CompletedAt         *time.Time        `json:"completedAt"`
	Results             []jobs.TaskResult `json:"results"`
	Metadata            map[string]any    `json:"metadata"`
}

func buildPayload(job jobs.Job) Payload {
	p := Payload{
		Event:               "job_completed",
		JobID:               job.ID,
		Status:              string(job.Status),
		Folder:              job.Folder,
		RecordingsTotal:     job.RecordingsTotal,
		RecordingsCompleted: job.RecordingsCompleted,
		RecordingsFailed:    job.RecordingsFailed,
		CreatedAt:           job.CreatedAt,
		CompletedAt:         job.CompletedAt,
		Results:             job.Results,
		Metadata:            job.Metadata,
	}
	if p.Results == nil {
		p.Results = []jobs.TaskResult{}
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	return p
}
