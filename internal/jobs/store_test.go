package jobs

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreCreateAllocatesIDAndFolder(t *testing.T) {
	t.Parallel()

	s := NewStore("out")

	a := s.Create(Spec{RecordingsCount: 2})
	b := s.Create(Spec{RecordingsCount: 1})

	if a.ID == b.ID {
		t.Fatalf("ids must be unique, both %q", a.ID)
	}
	if a.ID >= b.ID {
		t.Fatalf("ids must sort by creation order: %q >= %q", a.ID, b.ID)
	}
	if !strings.HasPrefix(a.ID, "job-") {
		t.Fatalf("unexpected id shape %q", a.ID)
	}
	if want := filepath.Join("out", a.ID); a.Folder != want {
		t.Fatalf("folder = %q, want %q", a.Folder, want)
	}
	if a.Folder == b.Folder {
		t.Fatalf("folders must not be shared: %q", a.Folder)
	}
	if a.Status != StatusQueued {
		t.Fatalf("new job status = %q, want %q", a.Status, StatusQueued)
	}
	if a.StartedAt != nil || a.CompletedAt != nil {
		t.Fatalf("timestamps must start nil: %+v", a)
	}
}

func TestStoreGetUnknownID(t *testing.T) {
	t.Parallel()

	s := NewStore("")
	if _, ok := s.Get("job-00000000000000-0000"); ok {
		t.Fatal("Get on an id never issued must report not found")
	}
}

func TestStoreUpdateUnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	s := NewStore("")
	s.Create(Spec{RecordingsCount: 1})

	called := false
	s.Update("nope", func(j *Job) { called = true })
	if called {
		t.Fatal("Update must not invoke fn for unknown ids")
	}
	if got := s.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore("")
	created := s.Create(Spec{RecordingsCount: 1, Metadata: map[string]any{"k": "v"}})

	got, _ := s.Get(created.ID)
	got.Metadata["k"] = "mutated"
	got.Results = append(got.Results, TaskResult{SessionID: "x"})

	again, _ := s.Get(created.ID)
	if again.Metadata["k"] != "v" {
		t.Fatalf("store record leaked through returned copy: %v", again.Metadata)
	}
	if len(again.Results) != 0 {
		t.Fatalf("results leaked through returned copy: %v", again.Results)
	}
}

func TestStoreListActiveOrdering(t *testing.T) {
	t.Parallel()

	s := NewStore("")
	a := s.Create(Spec{RecordingsCount: 1})
	b := s.Create(Spec{RecordingsCount: 1})
	c := s.Create(Spec{RecordingsCount: 1})
	d := s.Create(Spec{RecordingsCount: 1})

	now := time.Now()
	s.Update(a.ID, func(j *Job) {
		j.Status = StatusCompleted
		j.CompletedAt = &now
	})
	s.Update(c.ID, func(j *Job) {
		j.Status = StatusProcessing
		j.StartedAt = &now
	})

	active := s.ListActive()
	if len(active) != 3 {
		t.Fatalf("ListActive len = %d, want 3", len(active))
	}
	if active[0].ID != c.ID {
		t.Fatalf("processing job must come first, got %q", active[0].ID)
	}
	if active[1].ID != b.ID || active[2].ID != d.ID {
		t.Fatalf("queued jobs out of order: %q, %q", active[1].ID, active[2].ID)
	}
}

func TestStorePruneKeepsMostRecentTerminal(t *testing.T) {
	t.Parallel()

	s := NewStore("")
	base := time.Now()

	var terminal []string
	for i := 0; i < 10; i++ {
		j := s.Create(Spec{RecordingsCount: 1})
		terminal = append(terminal, j.ID)
		at := base.Add(time.Duration(i) * time.Second)
		s.Update(j.ID, func(rec *Job) {
			rec.Status = StatusCompleted
			rec.CompletedAt = &at
		})
	}
	queued := s.Create(Spec{RecordingsCount: 1})
	processing := s.Create(Spec{RecordingsCount: 1})
	s.Update(processing.ID, func(rec *Job) { rec.Status = StatusProcessing })

	deleted := s.Prune(3)
	if deleted != 7 {
		t.Fatalf("deleted = %d, want 7", deleted)
	}

	// The three most recently completed survive.
	for _, id := range terminal[7:] {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("recent terminal job %q was pruned", id)
		}
	}
	for _, id := range terminal[:7] {
		if _, ok := s.Get(id); ok {
			t.Fatalf("old terminal job %q survived prune", id)
		}
	}

	// Non-terminal records are never touched, whatever keep says.
	s.Prune(0)
	if _, ok := s.Get(queued.ID); !ok {
		t.Fatal("queued job was pruned")
	}
	if _, ok := s.Get(processing.ID); !ok {
		t.Fatal("processing job was pruned")
	}
}

func TestStorePruneUnderWindowIsNoop(t *testing.T) {
	t.Parallel()

	s := NewStore("")
	now := time.Now()
	for i := 0; i < 3; i++ {
		j := s.Create(Spec{RecordingsCount: 1})
		s.Update(j.ID, func(rec *Job) {
			rec.Status = StatusFailed
			rec.CompletedAt = &now
		})
	}
	if got := s.Prune(5); got != 0 {
		t.Fatalf("Prune deleted %d records under the window", got)
	}
	if got := s.Count(); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
}
