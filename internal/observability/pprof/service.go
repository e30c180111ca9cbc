// Package pprof hosts net/http/pprof on its own listener so profiling
// never shares a port with the public API. Disabled by default; when the
// bind address is not loopback it refuses to start without a token.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "recq/internal/runtime/supervisor"
	"recq/pkg/logx"
)

type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

const defaultAddr = "127.0.0.1:6060"

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return defaultAddr
}

func (c Config) prefix() string {
	p := strings.TrimSpace(c.Prefix)
	if p == "" {
		return "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// sameServer reports whether two configs can share a running listener.
// Profiling rates apply in place; everything else needs a listener
// restart.
func sameServer(a, b Config) bool {
	return a.addr() == b.addr() &&
		a.prefix() == b.prefix() &&
		a.Token == b.Token &&
		a.AllowInsecure == b.AllowInsecure &&
		a.ReadTimeout == b.ReadTimeout &&
		a.WriteTimeout == b.WriteTimeout &&
		a.IdleTimeout == b.IdleTimeout
}

func applyRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

type Service struct {
	mu  sync.Mutex // serializes Start/Stop/Reconfigure
	log logx.Logger
	cfg Config

	sup *rtsup.Supervisor

	// handleMu guards srv/ln, which the serve goroutine publishes while
	// stop may hold mu waiting on the supervisor.
	handleMu sync.Mutex
	srv      *http.Server
	ln       net.Listener
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "pprof"))}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start brings the server up if enabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start(ctx)
}

func (s *Service) start(ctx context.Context) {
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	applyRates(s.cfg)

	cfg := s.cfg
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopback(cfg.addr()) {
		s.log.Error("refusing non-loopback bind without token; set pprof.token or allow_insecure",
			logx.String("addr", cfg.addr()))
		return
	}

	// Stop() cancels the supervisor; serve errors (port taken etc.) retry
	// with backoff instead of taking the daemon down.
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("serve", func(c context.Context) error { return s.serve(c, cfg) },
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop(ctx)
}

func (s *Service) stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.handleMu.Lock()
	srv, ln := s.srv, s.ln
	s.srv, s.ln = nil, nil
	s.handleMu.Unlock()
	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.sup.Cancel()
	_ = s.sup.Wait(ctx)
	s.sup = nil
	s.log.Info("pprof stopped")
}

// Reconfigure applies a hot-reloaded config, restarting the listener only
// when the serving parameters changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applyRates(cfg)
	prev := s.cfg
	s.cfg = cfg

	switch {
	case !cfg.Enabled:
		s.stop(ctx)
	case s.sup == nil:
		s.start(ctx)
	case !sameServer(prev, cfg):
		s.stop(ctx)
		s.start(ctx)
	}
}

func (s *Service) serve(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.addr())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	srv := &http.Server{
		Handler:      s.mux(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.handleMu.Lock()
	s.srv, s.ln = srv, ln
	s.handleMu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("pprof listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", cfg.prefix()),
		logx.Bool("token_set", cfg.Token != ""))

	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Service) mux(cfg Config) *http.ServeMux {
	prefix := cfg.prefix()
	base := strings.TrimSuffix(prefix, "/")

	auth := func(h http.HandlerFunc) http.HandlerFunc {
		tok := strings.TrimSpace(cfg.Token)
		if tok == "" {
			return h
		}
		return func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(got) != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(prefix, auth(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", auth(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", auth(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", auth(hpprof.Trace))
	return mux
}

// indexAt adapts hpprof.Index, which assumes it is rooted at
// /debug/pprof/, to a custom prefix by rewriting the request path.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		// empty host binds all interfaces
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
