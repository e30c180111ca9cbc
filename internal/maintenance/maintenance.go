// Package maintenance runs the background sweeps: periodic retention
// trimming (a safety net behind the per-job trim), archive vacuum, and the
// scheduled bandwidth probe. Each entry is a cron spec from config; an
// empty spec disables that entry.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"recq/pkg/logx"
)

type Config struct {
	// Cron specs ("@every 10m", "0 3 * * *", ...). Empty disables.
	RetentionSweep string
	ArchiveVacuum  string
	BandwidthProbe string
	// Timezone for cron evaluation; empty means local.
	Timezone string
}

// Hooks are the sweep targets. Nil hooks disable their entries regardless
// of the configured spec.
type Hooks struct {
	// TrimRetention re-runs the job store trim and returns deleted count.
	TrimRetention func() int
	// VacuumArchive compacts the archive database.
	VacuumArchive func(ctx context.Context) error
	// RunProbe triggers a bandwidth probe.
	RunProbe func(ctx context.Context) error
}

type Service struct {
	cfg   Config
	hooks Hooks
	log   logx.Logger

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, hooks Hooks, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		hooks: hooks,
		log:   log.With(logx.String("comp", "maintenance")),
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate parses every configured spec without starting anything. Used by
// the config validator so a typo is rejected before commit.
func (s *Service) Validate() error {
	for name, spec := range map[string]string{
		"retention_sweep": s.cfg.RetentionSweep,
		"archive_vacuum":  s.cfg.ArchiveVacuum,
		"bandwidth_probe": s.cfg.BandwidthProbe,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("maintenance.%s: invalid cron spec %q: %w", name, spec, err)
		}
	}
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("maintenance.timezone: %w", err)
		}
	}
	return nil
}

// Start registers the configured entries and starts the cron runner.
// ctx bounds each sweep invocation's work, not the runner itself.
func (s *Service) Start(ctx context.Context) error {
	if s.c != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("maintenance.timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	add := func(name, spec string, fn func()) error {
		if strings.TrimSpace(spec) == "" || fn == nil {
			return nil
		}
		if _, err := c.AddFunc(spec, fn); err != nil {
			return fmt.Errorf("maintenance.%s: %w", name, err)
		}
		s.log.Info("sweep scheduled", logx.String("sweep", name), logx.String("spec", spec))
		return nil
	}

	var trim func()
	if s.hooks.TrimRetention != nil {
		trim = func() {
			if n := s.hooks.TrimRetention(); n > 0 {
				s.log.Info("retention sweep trimmed jobs", logx.Int("deleted", n))
			}
		}
	}
	var vacuum func()
	if s.hooks.VacuumArchive != nil {
		vacuum = func() {
			vctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			if err := s.hooks.VacuumArchive(vctx); err != nil {
				s.log.Warn("archive vacuum failed", logx.Err(err))
				return
			}
			s.log.Debug("archive vacuumed")
		}
	}
	var probe func()
	if s.hooks.RunProbe != nil {
		probe = func() {
			if err := s.hooks.RunProbe(ctx); err != nil {
				s.log.Warn("scheduled probe failed", logx.Err(err))
			}
		}
	}

	if err := add("retention_sweep", s.cfg.RetentionSweep, trim); err != nil {
		return err
	}
	if err := add("archive_vacuum", s.cfg.ArchiveVacuum, vacuum); err != nil {
		return err
	}
	if err := add("bandwidth_probe", s.cfg.BandwidthProbe, probe); err != nil {
		return err
	}

	c.Start()
	s.c = c
	return nil
}

// Stop halts the runner and waits for in-flight sweeps.
func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop().Done()
	s.c = nil
	select {
	case <-done:
	case <-ctx.Done():
	}
}
