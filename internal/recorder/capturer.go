package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"recq/internal/jobs"
)

// NopCapturer records nothing and reports success. It is the default when
// no backend URL is configured, which keeps dry runs and tests cheap.
type NopCapturer struct{}

func (NopCapturer) Capture(_ context.Context, req CaptureRequest) (jobs.TaskResult, error) {
	return jobs.TaskResult{
		SessionID: req.Session.ID,
		Extra: map[string]any{
			"file":      filepath.Join(req.Folder, req.Session.ID+".webm"),
			"simulated": true,
		},
	}, nil
}

// HTTPCapturer asks a recording backend to capture one session. The backend
// owns browser automation and upload; we only relay its JSON response as
// the task's payload.
type HTTPCapturer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCapturer points at a backend base URL (e.g. "http://127.0.0.1:9222").
// Per-call deadlines come from the request context; client timeout is a
// backstop only.
func NewHTTPCapturer(baseURL string, timeout time.Duration) *HTTPCapturer {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPCapturer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type captureBody struct {
	SessionID string `json:"sessionId"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Folder    string `json:"folder"`
	Upload    bool   `json:"upload"`
}

func (c *HTTPCapturer) Capture(ctx context.Context, req CaptureRequest) (jobs.TaskResult, error) {
	body, err := json.Marshal(captureBody{
		SessionID: req.Session.ID,
		SourceURL: req.Session.SourceURL,
		Folder:    req.Folder,
		Upload:    req.Upload,
	})
	if err != nil {
		return jobs.TaskResult{SessionID: req.Session.ID}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/record", bytes.NewReader(body))
	if err != nil {
		return jobs.TaskResult{SessionID: req.Session.ID}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return jobs.TaskResult{SessionID: req.Session.ID}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return jobs.TaskResult{SessionID: req.Session.ID},
			fmt.Errorf("backend returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	extra := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &extra); err != nil {
			return jobs.TaskResult{SessionID: req.Session.ID},
				fmt.Errorf("invalid backend response: %w", err)
		}
	}
	return jobs.TaskResult{SessionID: req.Session.ID, Extra: extra}, nil
}
