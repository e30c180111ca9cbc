// Package recorder holds the capture-side Processor handed to the
// scheduler. Each submission gets its own Processor instance carrying that
// request's session list, so no request state leaks through closures. The
// scheduler never sees any of this; it just runs Process.
package recorder

import (
	"context"
	"fmt"
	"os"
	"time"

	"recq/internal/jobs"
	"recq/pkg/logx"
)

// Session identifies one recording to capture within a job.
type Session struct {
	ID        string `json:"id"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// CaptureRequest is what a Capturer receives for one session.
type CaptureRequest struct {
	Session Session
	// Folder is the job's exclusive output directory. It exists by the
	// time Capture runs.
	Folder string
	// Upload asks the backend to push the capture to remote storage.
	Upload bool
}

// Capturer records one session. A returned error (or panic) marks that one
// task failed; the rest of the batch is unaffected. Implementations fill
// TaskResult payload fields (SessionID, Extra) and leave Success/Error to
// the limiter.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) (jobs.TaskResult, error)
}

// Options bound one job's capture work.
type Options struct {
	// MaxConcurrent caps in-flight captures within the job.
	MaxConcurrent int
	// CaptureTimeout bounds one session capture. 0 means no bound.
	CaptureTimeout time.Duration
	// Upload is forwarded to every CaptureRequest.
	Upload bool
}

// Processor fans a job's sessions out through the shared concurrency
// limiter. It implements jobs.Processor.
type Processor struct {
	sessions []Session
	capt     Capturer
	opts     Options
	log      logx.Logger
}

func NewProcessor(sessions []Session, capt Capturer, opts Options, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Processor{
		sessions: sessions,
		capt:     capt,
		opts:     opts,
		log:      log.With(logx.String("comp", "recorder")),
	}
}

// SessionsFor returns the explicit sessions when given, otherwise count
// generated placeholders (session-1..count). Explicit lists must match
// count exactly.
func SessionsFor(count int, explicit []Session) ([]Session, error) {
	if len(explicit) == 0 {
		out := make([]Session, count)
		for i := range out {
			out[i] = Session{ID: fmt.Sprintf("session-%d", i+1)}
		}
		return out, nil
	}
	if len(explicit) != count {
		return nil, fmt.Errorf("%d sessions given for recordingsCount %d", len(explicit), count)
	}
	for i, s := range explicit {
		if s.ID == "" {
			return nil, fmt.Errorf("sessions[%d]: id is required", i)
		}
	}
	return explicit, nil
}

// Process creates the job's output directory and captures every session
// with bounded parallelism. Per-session failures land in the results; only
// setup failures (e.g. the folder cannot be created) fail the whole job.
func (p *Processor) Process(ctx context.Context, job jobs.Job) ([]jobs.TaskResult, error) {
	if p.capt == nil {
		return nil, fmt.Errorf("no capturer configured")
	}
	if err := os.MkdirAll(job.Folder, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	tasks := make([]jobs.Task, len(p.sessions))
	for i, sess := range p.sessions {
		sess := sess
		tasks[i] = func(ctx context.Context) (jobs.TaskResult, error) {
			if p.opts.CaptureTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.opts.CaptureTimeout)
				defer cancel()
			}
			res, err := p.capt.Capture(ctx, CaptureRequest{
				Session: sess,
				Folder:  job.Folder,
				Upload:  p.opts.Upload,
			})
			if res.SessionID == "" {
				res.SessionID = sess.ID
			}
			return res, err
		}
	}

	p.log.Debug("capturing sessions",
		logx.String("job", job.ID),
		logx.Int("sessions", len(tasks)),
		logx.Int("limit", p.opts.MaxConcurrent))
	return jobs.RunLimited(ctx, tasks, p.opts.MaxConcurrent), nil
}
