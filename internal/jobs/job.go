package jobs

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// Status is a job's lifecycle state. Queued is the only entry state;
// Completed and Failed are terminal and never left.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a job in this state will never transition again.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Spec is what a caller provides to create a job. Everything else on the
// Job record is allocated or filled in by the pipeline.
type Spec struct {
	// RecordingsCount is the number of tasks the job's processor will run.
	RecordingsCount int

	// WebhookURL, when set, receives exactly one terminal-outcome POST.
	WebhookURL string

	// Metadata is passed through unchanged to the webhook payload.
	Metadata map[string]any
}

func (s Spec) validate() error {
	if s.RecordingsCount < 1 {
		return &ValidationError{Field: "recordingsCount", Reason: "must be >= 1"}
	}
	if u := strings.TrimSpace(s.WebhookURL); u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return &ValidationError{Field: "webhookUrl", Reason: "must be an absolute http(s) URL"}
		}
	}
	return nil
}

// Job is the unit the scheduler manages: a batch of independent tasks with
// one output folder, tracked from submission to a terminal state.
//
// JSON field names are camelCase because Job is the shape the HTTP API and
// the webhook payload expose.
type Job struct {
	ID     string `json:"jobId"`
	Status Status `json:"status"`

	// Folder is the job's exclusive output location, allocated at creation
	// and never shared with another job.
	Folder string `json:"folder"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	RecordingsTotal     int `json:"recordingsTotal"`
	RecordingsCompleted int `json:"recordingsCompleted"`
	RecordingsFailed    int `json:"recordingsFailed"`

	// Results holds one entry per task, in task order, populated when the
	// job reaches a terminal state.
	Results []TaskResult `json:"results"`

	// Error is set only when the job failed at the processor level
	// (per-task failures land in Results instead).
	Error string `json:"error,omitempty"`

	WebhookURL string         `json:"webhookUrl,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// clone returns a copy safe to hand outside the store's lock.
func (j *Job) clone() Job {
	cp := *j
	if j.Results != nil {
		cp.Results = append([]TaskResult(nil), j.Results...)
	}
	if j.Metadata != nil {
		cp.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// TaskResult is the outcome of one task within a job.
//
// Extra carries caller-defined payload fields (e.g. a storage location).
// They are flattened into the result's JSON object next to the reserved
// keys; on conflict the reserved keys win.
type TaskResult struct {
	SessionID string
	Success   bool
	Error     string
	Extra     map[string]any
}

func (r TaskResult) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["sessionId"] = r.SessionID
	m["success"] = r.Success
	delete(m, "error")
	if r.Error != "" {
		m["error"] = r.Error
	}
	return json.Marshal(m)
}

func (r *TaskResult) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := TaskResult{}
	if v, ok := m["sessionId"].(string); ok {
		out.SessionID = v
	}
	if v, ok := m["success"].(bool); ok {
		out.Success = v
	}
	if v, ok := m["error"].(string); ok {
		out.Error = v
	}
	delete(m, "sessionId")
	delete(m, "success")
	delete(m, "error")
	if len(m) > 0 {
		out.Extra = m
	}
	*r = out
	return nil
}

// Event is emitted on the event bus for job lifecycle transitions
// (job.queued, job.started, job.completed, job.failed). It carries a full
// copy of the record so consumers never need to race the retention trimmer.
type Event struct {
	Job Job       `json:"job"`
	At  time.Time `json:"at"`
}
