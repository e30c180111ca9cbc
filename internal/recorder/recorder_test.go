package recorder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recq/internal/jobs"
	"recq/pkg/logx"
)

type capturerFunc func(ctx context.Context, req CaptureRequest) (jobs.TaskResult, error)

func (f capturerFunc) Capture(ctx context.Context, req CaptureRequest) (jobs.TaskResult, error) {
	return f(ctx, req)
}

func TestSessionsFor(t *testing.T) {
	t.Parallel()

	generated, err := SessionsFor(3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(generated) != 3 || generated[0].ID != "session-1" || generated[2].ID != "session-3" {
		t.Fatalf("generated = %+v", generated)
	}

	explicit := []Session{{ID: "a"}, {ID: "b"}}
	got, err := SessionsFor(2, explicit)
	if err != nil {
		t.Fatal(err)
	}
	if got[1].ID != "b" {
		t.Fatalf("explicit sessions mangled: %+v", got)
	}

	if _, err := SessionsFor(3, explicit); err == nil {
		t.Fatal("want error for count/sessions mismatch")
	}
	if _, err := SessionsFor(1, []Session{{}}); err == nil {
		t.Fatal("want error for empty session id")
	}
}

func TestProcessorCreatesFolderAndOrdersResults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	folder := filepath.Join(dir, "job-x")

	sessions := []Session{{ID: "s-a"}, {ID: "s-b"}, {ID: "s-c"}}
	capt := capturerFunc(func(ctx context.Context, req CaptureRequest) (jobs.TaskResult, error) {
		if req.Session.ID == "s-b" {
			return jobs.TaskResult{}, errors.New("stream dropped")
		}
		return jobs.TaskResult{Extra: map[string]any{"folder": req.Folder}}, nil
	})

	p := NewProcessor(sessions, capt, Options{MaxConcurrent: 2}, logx.Nop())
	results, err := p.Process(context.Background(), jobs.Job{ID: "job-x", Folder: folder, RecordingsTotal: 3})
	if err != nil {
		t.Fatal(err)
	}

	if st, err := os.Stat(folder); err != nil || !st.IsDir() {
		t.Fatalf("output folder missing: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d", len(results))
	}
	want := []struct {
		id string
		ok bool
	}{{"s-a", true}, {"s-b", false}, {"s-c", true}}
	for i, w := range want {
		if results[i].SessionID != w.id || results[i].Success != w.ok {
			t.Fatalf("results[%d] = %+v, want %v/%v", i, results[i], w.id, w.ok)
		}
	}
	if results[1].Error != "stream dropped" {
		t.Fatalf("results[1].Error = %q", results[1].Error)
	}
}

func TestProcessorFolderFailureFailsJob(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewProcessor([]Session{{ID: "s-1"}}, NopCapturer{}, Options{}, logx.Nop())
	_, err := p.Process(context.Background(), jobs.Job{Folder: filepath.Join(blocker, "job-y")})
	if err == nil {
		t.Fatal("want setup error when folder cannot be created")
	}
}

func TestProcessorCaptureTimeout(t *testing.T) {
	t.Parallel()

	capt := capturerFunc(func(ctx context.Context, req CaptureRequest) (jobs.TaskResult, error) {
		<-ctx.Done()
		return jobs.TaskResult{}, ctx.Err()
	})
	p := NewProcessor([]Session{{ID: "s-1"}}, capt, Options{CaptureTimeout: 20 * time.Millisecond}, logx.Nop())

	results, err := p.Process(context.Background(), jobs.Job{Folder: filepath.Join(t.TempDir(), "j")})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Success {
		t.Fatal("timed-out capture must fail its task")
	}
}

func TestHTTPCapturer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/record" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file":"out/s-1.webm","storagePath":"gdrive://x"}`))
	}))
	defer srv.Close()

	c := NewHTTPCapturer(srv.URL, time.Second)
	res, err := c.Capture(context.Background(), CaptureRequest{Session: Session{ID: "s-1"}, Folder: "out", Upload: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != "s-1" {
		t.Fatalf("sessionID = %q", res.SessionID)
	}
	if res.Extra["storagePath"] != "gdrive://x" {
		t.Fatalf("extra = %v", res.Extra)
	}
}

func TestHTTPCapturerBackendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no free browser", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPCapturer(srv.URL, time.Second)
	if _, err := c.Capture(context.Background(), CaptureRequest{Session: Session{ID: "s-1"}}); err == nil {
		t.Fatal("want error for non-2xx backend response")
	}
}
