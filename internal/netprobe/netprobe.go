// Package netprobe measures the host's bandwidth on demand. Capture jobs
// are upload-bound, so "is the uplink saturated" is the first question when
// recordings start failing; the last result is surfaced on /healthz.
package netprobe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"recq/pkg/logx"
)

// ErrBusy is returned when a probe is already in flight. Probes are heavy;
// one at a time is plenty.
var ErrBusy = errors.New("probe already running")

type Config struct {
	// Timeout bounds a whole probe run.
	Timeout        time.Duration
	MaxConnections int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	return c
}

// Result is one completed probe.
type Result struct {
	At           time.Time     `json:"at"`
	DownloadMbps float64       `json:"download_mbps"`
	UploadMbps   float64       `json:"upload_mbps"`
	PingMs       float64       `json:"ping_ms"`
	ServerName   string        `json:"server_name"`
	Took         time.Duration `json:"took"`
}

type Service struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	running bool
	last    *Result
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "netprobe")),
	}
}

// Last returns the most recent completed probe, if any.
func (s *Service) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Run executes one probe against the nearest responsive server and records
// the result. Single-flight: concurrent calls get ErrBusy.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrBusy
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := s.probe(runCtx)
	if err != nil {
		s.log.Warn("probe failed", logx.Err(err))
		return Result{}, err
	}
	res.At = start
	res.Took = time.Since(start)

	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()

	s.log.Info("probe done",
		logx.Float64("down_mbps", res.DownloadMbps),
		logx.Float64("up_mbps", res.UploadMbps),
		logx.Float64("ping_ms", res.PingMs),
		logx.String("server", res.ServerName),
		logx.Duration("took", res.Took))
	return res, nil
}

func (s *Service) probe(ctx context.Context) (Result, error) {
	// Fresh client per run; speedtest-go keeps internal state otherwise.
	client := st.New(st.WithUserConfig(&st.UserConfig{
		MaxConnections: s.cfg.MaxConnections,
	}))
	client.SetNThread(s.cfg.MaxConnections)
	defer func() {
		client.Snapshots().Clean()
		client.Reset()
	}()

	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return Result{}, errors.New("no servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })

	// Try the nearest few until one answers pings.
	var srv *st.Server
	for i := 0; i < len(servers) && i < 3; i++ {
		if err := servers[i].PingTestContext(ctx, nil); err == nil {
			srv = servers[i]
			break
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}
	if srv == nil {
		return Result{}, errors.New("no responsive server")
	}

	if err := srv.DownloadTestContext(ctx); err != nil {
		return Result{}, fmt.Errorf("download test: %w", err)
	}
	if err := srv.UploadTestContext(ctx); err != nil {
		return Result{}, fmt.Errorf("upload test: %w", err)
	}

	return Result{
		DownloadMbps: srv.DLSpeed.Mbps(),
		UploadMbps:   srv.ULSpeed.Mbps(),
		PingMs:       float64(srv.Latency.Milliseconds()),
		ServerName:   srv.Name,
	}, nil
}
