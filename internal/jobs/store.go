package jobs

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store is the in-memory job registry. It owns every record's lifecycle
// fields; all mutation goes through Update so field merges stay atomic.
//
// Nothing is persisted: a restart starts with an empty store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	// order holds ids in creation order; ListActive relies on it for FIFO.
	order []string
	seq   uint64

	baseDir string
}

// NewStore returns an empty registry. baseDir, when non-empty, prefixes
// every allocated job folder.
func NewStore(baseDir string) *Store {
	return &Store{
		jobs:    make(map[string]*Job),
		baseDir: baseDir,
	}
}

// nextID concatenates a to-the-second timestamp with a zero-padded
// process-lifetime counter, e.g. "job-20260823142530-0007". Ids sort by
// creation order within a process run. Caller must hold s.mu.
func (s *Store) nextID(now time.Time) string {
	s.seq++
	return fmt.Sprintf("job-%s-%04d", now.Format("20060102150405"), s.seq)
}

// Create allocates a fresh id and output folder and registers the job as
// Queued. The returned value is a copy.
func (s *Store) Create(spec Spec) Job {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID(now)
	folder := id
	if s.baseDir != "" {
		folder = filepath.Join(s.baseDir, id)
	}

	j := &Job{
		ID:              id,
		Status:          StatusQueued,
		Folder:          folder,
		CreatedAt:       now,
		RecordingsTotal: spec.RecordingsCount,
		Results:         []TaskResult{},
		WebhookURL:      spec.WebhookURL,
		Metadata:        spec.Metadata,
	}
	s.jobs[id] = j
	s.order = append(s.order, id)
	return j.clone()
}

// Get returns a copy of the record, or ok=false for an id never issued
// (or already pruned).
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Update applies fn to the record under the store lock, merging whatever
// fields fn sets. Unknown ids are a silent no-op: the scheduler never
// updates an id it did not create, so there is nothing to report.
func (s *Store) Update(id string, fn func(*Job)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

// ListActive returns the Processing job (if any) followed by Queued jobs
// in submission order. Terminal jobs are excluded.
func (s *Store) ListActive() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		if j := s.jobs[id]; j != nil && j.Status == StatusProcessing {
			out = append(out, j.clone())
		}
	}
	for _, id := range s.order {
		if j := s.jobs[id]; j != nil && j.Status == StatusQueued {
			out = append(out, j.clone())
		}
	}
	return out
}

// Count returns the number of records currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Prune deletes all but the keep most recently completed terminal records,
// ranked by CompletedAt descending. Queued and Processing records are never
// touched. Returns the number of deleted records.
func (s *Store) Prune(keep int) int {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type ref struct {
		id string
		at time.Time
	}
	terminal := make([]ref, 0, len(s.jobs))
	for id, j := range s.jobs {
		if j == nil || !j.Status.Terminal() {
			continue
		}
		var at time.Time
		if j.CompletedAt != nil {
			at = *j.CompletedAt
		}
		terminal = append(terminal, ref{id: id, at: at})
	}
	if len(terminal) <= keep {
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool {
		if !terminal[i].at.Equal(terminal[j].at) {
			return terminal[i].at.After(terminal[j].at)
		}
		// Same completion second is possible; ids embed creation order.
		return terminal[i].id > terminal[j].id
	})

	victims := terminal[keep:]
	for _, v := range victims {
		delete(s.jobs, v.id)
	}

	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.jobs[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept

	return len(victims)
}
