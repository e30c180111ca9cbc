package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"recq/internal/eventbus"
	rtsup "recq/internal/runtime/supervisor"
	"recq/pkg/logx"
)

// Event bus types published by the scheduler. Data is always a jobs.Event
// carrying a full copy of the record.
const (
	EventQueued    = "job.queued"
	EventStarted   = "job.started"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)

// Processor runs one job's tasks. Implementations apply their own intra-job
// concurrency bound (RunLimited) and never touch job status or results;
// those belong to the scheduler.
//
// A returned error (or a panic) marks the whole job failed. Per-task
// failures belong inside the returned results instead.
type Processor interface {
	Process(ctx context.Context, job Job) ([]TaskResult, error)
}

// Notifier receives every job exactly once, right after it turns terminal.
// Implementations must not block: delivery is expected to be queued
// internally, off the scheduler's path.
type Notifier interface {
	Notify(job Job)
}

// Config bounds the pipeline. Zero fields fall back to defaults.
type Config struct {
	// MaxConcurrent is the intra-job bound processors are expected to use.
	// The scheduler only reports it; one job still runs at a time.
	MaxConcurrent int

	// RetentionKeep is how many terminal jobs to keep in the store.
	RetentionKeep int

	// SubmitQueueWarn logs a warning when the backlog reaches this depth.
	// 0 disables the warning.
	SubmitQueueWarn int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 3
	}
	if c.RetentionKeep <= 0 {
		c.RetentionKeep = DefaultRetentionKeep
	}
	return c
}

type pendingJob struct {
	id     string
	proc   Processor
	handle *Handle
}

// Scheduler owns the pending FIFO and the single-active-job invariant:
// jobs start strictly in submission order, one at a time, and a failed job
// never blocks the queue. All queue state lives behind one mutex; nothing
// is reachable through package globals.
type Scheduler struct {
	store   *Store
	trimmer *Trimmer
	notify  Notifier
	bus     eventbus.Bus
	log     logx.Logger
	cfg     Config

	mu        sync.Mutex
	pending   []*pendingJob
	current   string // id of the Processing job, "" when idle
	draining  bool   // re-entrancy guard for drainQueue
	accepting bool

	wake chan struct{}
	quit chan struct{}
	sup  *rtsup.Supervisor
}

func New(cfg Config, store *Store, notify Notifier, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:   store,
		trimmer: NewTrimmer(cfg.RetentionKeep, log),
		notify:  notify,
		bus:     bus,
		log:     log.With(logx.String("comp", "scheduler")),
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// Start launches the dispatch goroutine and opens intake. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	select {
	case <-s.quit: // already stopped; not restartable
		s.mu.Unlock()
		return
	default:
	}
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.accepting = true
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("dispatch", func(c context.Context) error {
		s.dispatchLoop(c)
		select {
		case <-s.quit:
			return nil
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return fmt.Errorf("dispatch loop exited unexpectedly")
	})
}

// Stop closes intake, fails still-queued handles with ErrNotRunning, and
// waits for the in-flight job (if any) to finish until ctx expires. On
// expiry the processor's context is cancelled; there is no way to abort a
// processor that ignores its context.
func (s *Scheduler) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sup := s.sup
	if sup == nil {
		s.mu.Unlock()
		return
	}
	s.sup = nil // Stop is terminal; the scheduler is not restartable
	s.accepting = false
	orphans := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range orphans {
		job, _ := s.store.Get(p.id)
		p.handle.resolve(job, ErrNotRunning)
	}
	close(s.quit)

	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("shutdown deadline hit; cancelling active job", logx.Err(err))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
}

// Submit validates the spec, registers the job (Queued, folder allocated)
// and enqueues it at the tail of the FIFO. It never blocks on prior jobs;
// the returned handle resolves when this job turns terminal.
func (s *Scheduler) Submit(spec Spec, proc Processor) (*Handle, error) {
	if proc == nil {
		return nil, &ValidationError{Field: "processor", Reason: "a processor is required"}
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	// Create under the scheduler lock so queue order always matches id
	// allocation order, even with concurrent submitters.
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	job := s.store.Create(spec)
	h := newHandle(job.ID)
	s.pending = append(s.pending, &pendingJob{id: job.ID, proc: proc, handle: h})
	depth := len(s.pending)
	s.mu.Unlock()

	s.publish(EventQueued, job)
	s.log.Info("job queued",
		logx.String("job", job.ID),
		logx.Int("tasks", job.RecordingsTotal),
		logx.Int("backlog", depth))
	if warn := s.cfg.SubmitQueueWarn; warn > 0 && depth >= warn {
		s.log.Warn("submit backlog high", logx.Int("backlog", depth), logx.Int("warn_at", warn))
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// GetJob returns a copy of the record, or ok=false for unknown ids.
func (s *Scheduler) GetJob(id string) (Job, bool) { return s.store.Get(id) }

// ListActiveJobs returns the Processing job (if any) followed by the queued
// jobs in submission order.
func (s *Scheduler) ListActiveJobs() []Job { return s.store.ListActive() }

// TrimNow re-runs retention immediately (maintenance sweep entry point).
func (s *Scheduler) TrimNow() int { return s.trimmer.Trim(s.store) }

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-s.wake:
		}
		s.drainQueue(ctx)
	}
}

// drainQueue serves pending jobs until the queue is empty. The guard flag
// makes a second entry a no-op, so "pop head and mark Processing" is one
// atomic step no matter how many wakeups race in.
func (s *Scheduler) drainQueue(ctx context.Context) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		default:
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		p := s.pending[0]
		s.pending = s.pending[1:]
		s.current = p.id
		s.mu.Unlock()

		s.runOne(ctx, p)

		s.mu.Lock()
		s.current = ""
		s.mu.Unlock()
		// Loop continues: the next pending job is served regardless of
		// the outcome of the one just finished.
	}
}

// runOne drives a single job from Processing to a terminal state, then
// issues the webhook (before the guard clears, so notification order
// matches completion order) and trims retention.
func (s *Scheduler) runOne(ctx context.Context, p *pendingJob) {
	started := time.Now()
	s.store.Update(p.id, func(j *Job) {
		j.Status = StatusProcessing
		j.StartedAt = &started
	})
	job, _ := s.store.Get(p.id)
	s.publish(EventStarted, job)
	s.log.Info("job started", logx.String("job", p.id), logx.Int("tasks", job.RecordingsTotal))

	results, err := s.invoke(ctx, p.proc, job)
	completed := time.Now()

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}

	var finalErr error
	if err != nil {
		finalErr = &ProcessingError{JobID: p.id, Err: err}
		s.store.Update(p.id, func(j *Job) {
			j.Status = StatusFailed
			j.CompletedAt = &completed
			j.Error = err.Error()
			// Keep whatever was known at failure time (commonly nothing).
			if len(results) > 0 {
				j.Results = results
				j.RecordingsCompleted = ok
				j.RecordingsFailed = len(results) - ok
			}
		})
	} else {
		s.store.Update(p.id, func(j *Job) {
			j.Status = StatusCompleted
			j.CompletedAt = &completed
			j.Results = results
			j.RecordingsCompleted = ok
			j.RecordingsFailed = len(results) - ok
		})
	}

	final, _ := s.store.Get(p.id)
	if s.notify != nil {
		s.notify.Notify(final)
	}
	s.trimmer.Trim(s.store)

	if err != nil {
		s.publish(EventFailed, final)
		s.log.Error("job failed",
			logx.String("job", p.id),
			logx.Duration("took", completed.Sub(started)),
			logx.Err(err))
	} else {
		s.publish(EventCompleted, final)
		s.log.Info("job completed",
			logx.String("job", p.id),
			logx.Int("ok", final.RecordingsCompleted),
			logx.Int("failed", final.RecordingsFailed),
			logx.Duration("took", completed.Sub(started)))
	}

	p.handle.resolve(final, finalErr)
}

// invoke calls the processor with panic capture so one misbehaving
// implementation cannot take down the dispatch goroutine.
func (s *Scheduler) invoke(ctx context.Context, proc Processor, job Job) (results []TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Process(ctx, job)
}

func (s *Scheduler) publish(typ string, job Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: Event{Job: job, At: time.Now()}})
}
