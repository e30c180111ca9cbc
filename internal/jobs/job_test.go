package jobs

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTaskResultJSONFlattensExtra(t *testing.T) {
	t.Parallel()

	r := TaskResult{
		SessionID: "sess-1",
		Success:   true,
		Extra: map[string]any{
			"storagePath": "gdrive://folder/x.webm",
			"durationSec": 42.0,
			// Reserved keys in Extra must lose to the real fields.
			"success": false,
			"error":   "stale",
		},
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}

	if m["sessionId"] != "sess-1" || m["success"] != true {
		t.Fatalf("reserved keys wrong: %v", m)
	}
	if _, present := m["error"]; present {
		t.Fatalf("successful result must omit error: %s", b)
	}
	if m["storagePath"] != "gdrive://folder/x.webm" {
		t.Fatalf("extra field lost: %v", m)
	}

	var back TaskResult
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.SessionID != r.SessionID || !back.Success {
		t.Fatalf("round trip broke reserved fields: %+v", back)
	}
	if back.Extra["storagePath"] != "gdrive://folder/x.webm" {
		t.Fatalf("round trip lost extra payload: %+v", back.Extra)
	}
	if _, reserved := back.Extra["success"]; reserved {
		t.Fatalf("reserved key leaked into Extra: %+v", back.Extra)
	}
}

func TestTaskResultJSONFailure(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(TaskResult{SessionID: "sess-2", Success: false, Error: "timeout"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"error":"timeout"`) {
		t.Fatalf("failed result must carry error: %s", b)
	}
}

func TestSpecValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"minimal", Spec{RecordingsCount: 1}, true},
		{"with webhook", Spec{RecordingsCount: 3, WebhookURL: "https://example.com/hook"}, true},
		{"zero tasks", Spec{RecordingsCount: 0}, false},
		{"negative tasks", Spec{RecordingsCount: -2}, false},
		{"relative webhook", Spec{RecordingsCount: 1, WebhookURL: "/hook"}, false},
		{"bad scheme", Spec{RecordingsCount: 1, WebhookURL: "ftp://example.com"}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.spec.validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("want validation error")
			}
		})
	}
}
