// Package alerts pushes operator notifications to a Telegram chat when
// jobs or webhook deliveries fail. Strictly best-effort: alerts are
// rate-limited, dropped on overload, and a dead bot never affects the
// pipeline. Disabled unless a token and chat id are configured.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"recq/internal/eventbus"
	"recq/internal/jobs"
	rtsup "recq/internal/runtime/supervisor"
	"recq/internal/webhook"
	"recq/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	return c
}

// sender is the telebot slice we use; swapped in tests.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	bot sender
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "alerts")),
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start connects the bot and begins watching failure events. No polling:
// the bot only sends.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(s.cfg.Token) == "" || s.cfg.ChatID == 0 {
		return fmt.Errorf("alerts enabled but token/chat_id missing")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if s.bot == nil {
		bot, err := tele.NewBot(tele.Settings{Token: s.cfg.Token})
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}
		s.bot = bot
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)

	events, unsub := s.bus.Subscribe(32)
	s.sup.GoRestart("watch", func(c context.Context) error {
		defer unsub()
		s.watch(c, events)
		return nil
	})

	s.log.Info("alerts enabled", logx.Int64("chat", s.cfg.ChatID))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	s.sup.Cancel()
	_ = s.sup.Wait(ctx)
}

func (s *Service) watch(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			text := s.format(e)
			if text == "" {
				continue
			}
			// Over the rate limit we drop instead of queueing: a burst of
			// failures is one incident, not N alerts.
			if !s.limiter.Allow() {
				continue
			}
			s.send(text)
		}
	}
}

func (s *Service) format(e eventbus.Event) string {
	switch e.Type {
	case jobs.EventFailed:
		je, ok := e.Data.(jobs.Event)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⚠️ job failed\n%s\n%s", je.Job.ID, je.Job.Error)
	case webhook.EventFailed:
		de, ok := e.Data.(webhook.DeliveryEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⚠️ webhook delivery failed\njob %s → %s\n%s", de.JobID, de.URL, de.Error)
	default:
		return ""
	}
}

func (s *Service) send(text string) {
	if s.bot == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), text); err != nil {
			s.log.Warn("alert send failed", logx.Err(err))
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.log.Warn("alert send timed out")
	}
}
