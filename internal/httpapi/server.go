// Package httpapi serves the scheduler's JSON API: job submission, job and
// queue lookups, the archive view, and /healthz. Transport only; all job
// semantics live in internal/jobs.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"recq/internal/archive"
	"recq/internal/eventbus"
	"recq/internal/jobs"
	"recq/internal/netprobe"
	"recq/internal/recorder"
	rtsup "recq/internal/runtime/supervisor"
	"recq/pkg/logx"
)

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout stays 0 by default: ?wait=1 submissions legitimately
	// hold the response open for the length of a job.
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	return c
}

// ProcessorFactory builds the per-request capture processor handed to the
// scheduler alongside each submission.
type ProcessorFactory func(sessions []recorder.Session, upload bool) jobs.Processor

// ArchiveReader is the slice of the archive the API needs. Nil means the
// archive is disabled and /api/archive serves an empty list.
type ArchiveReader interface {
	Recent(ctx context.Context, limit int) ([]archive.Record, error)
}

// ProbeSource exposes the last bandwidth probe for /healthz.
type ProbeSource interface {
	Last() (netprobe.Result, bool)
}

type Server struct {
	cfg          Config
	log          logx.Logger
	sched        *jobs.Scheduler
	newProcessor ProcessorFactory
	archive      ArchiveReader
	probe        ProbeSource
	appSup       *rtsup.Supervisor
	bus          eventbus.Bus
	startedAt    time.Time

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

// Option wires optional collaborators.
type Option func(*Server)

func WithArchive(a ArchiveReader) Option { return func(s *Server) { s.archive = a } }
func WithProbe(p ProbeSource) Option     { return func(s *Server) { s.probe = p } }

// WithAppSupervisor surfaces the app supervisor's snapshot on /healthz.
func WithAppSupervisor(sup *rtsup.Supervisor) Option { return func(s *Server) { s.appSup = sup } }
func WithBus(bus eventbus.Bus) Option                { return func(s *Server) { s.bus = bus } }

func New(cfg Config, sched *jobs.Scheduler, factory ProcessorFactory, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:          cfg.withDefaults(),
		log:          log.With(logx.String("comp", "httpapi")),
		sched:        sched,
		newProcessor: factory,
		startedAt:    time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleListActive)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/queue", s.handleQueueStats)
	mux.HandleFunc("GET /api/archive", s.handleArchive)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.routes() }

// Start binds the listener and serves until Stop. Returns the bind error
// synchronously so a bad address fails startup instead of limping along.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)

	srv, l := s.srv, s.ln
	s.sup.Go("serve", func(c context.Context) error {
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) || c.Err() != nil {
			return nil
		}
		return err
	})

	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address ("" before Start). Tests bind to :0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("api shutdown cut short", logx.Err(err))
		_ = s.srv.Close()
	}
	if s.sup != nil {
		s.sup.Cancel()
		_ = s.sup.Wait(context.Background())
	}
}
