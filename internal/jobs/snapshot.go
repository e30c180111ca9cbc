package jobs

// QueueStats is the point-in-time queue view served by the HTTP API.
type QueueStats struct {
	CurrentJob    *CurrentJob `json:"currentJob"`
	QueueLength   int         `json:"queueLength"`
	QueuedJobs    []QueuedJob `json:"queuedJobs"`
	MaxConcurrent int         `json:"maxConcurrent"`
}

// CurrentJob summarizes the job holding the Processing slot.
type CurrentJob struct {
	ID                  string `json:"id"`
	Status              Status `json:"status"`
	RecordingsCompleted int    `json:"recordingsCompleted"`
	RecordingsTotal     int    `json:"recordingsTotal"`
}

// QueuedJob summarizes one pending submission.
type QueuedJob struct {
	ID              string `json:"id"`
	RecordingsTotal int    `json:"recordingsTotal"`
}

// QueueStats snapshots the queue: the Processing job (if any), the pending
// backlog in submission order, and the configured intra-job bound.
func (s *Scheduler) QueueStats() QueueStats {
	s.mu.Lock()
	currentID := s.current
	ids := make([]string, 0, len(s.pending))
	for _, p := range s.pending {
		ids = append(ids, p.id)
	}
	s.mu.Unlock()

	stats := QueueStats{
		QueueLength:   len(ids),
		QueuedJobs:    make([]QueuedJob, 0, len(ids)),
		MaxConcurrent: s.cfg.MaxConcurrent,
	}
	if currentID != "" {
		if j, ok := s.store.Get(currentID); ok {
			stats.CurrentJob = &CurrentJob{
				ID:                  j.ID,
				Status:              j.Status,
				RecordingsCompleted: j.RecordingsCompleted,
				RecordingsTotal:     j.RecordingsTotal,
			}
		}
	}
	for _, id := range ids {
		if j, ok := s.store.Get(id); ok {
			stats.QueuedJobs = append(stats.QueuedJobs, QueuedJob{ID: j.ID, RecordingsTotal: j.RecordingsTotal})
		}
	}
	return stats
}
