// Package webhook delivers terminal-job notifications.
//
// Delivery is best-effort and at-most-once: a single POST per terminal job,
// no retry, and a failed delivery never touches the job's stored state. A
// single worker drains a FIFO queue so notifications go out in job
// completion order without ever blocking the scheduler.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"recq/internal/eventbus"
	"recq/internal/jobs"
	rtsup "recq/internal/runtime/supervisor"
	"recq/pkg/logx"
)

// Event bus types published per delivery attempt. Data is a DeliveryEvent.
const (
	EventSent    = "webhook.sent"
	EventFailed  = "webhook.failed"
	EventSkipped = "webhook.skipped"
)

// DeliveryHeader carries a unique id per POST so receivers can deduplicate.
const DeliveryHeader = "X-Recq-Delivery"

// DeliveryEvent describes one delivery attempt (or a skip).
type DeliveryEvent struct {
	JobID      string        `json:"jobId"`
	URL        string        `json:"url,omitempty"`
	DeliveryID string        `json:"deliveryId,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Took       time.Duration `json:"took,omitempty"`
}

type Config struct {
	// Timeout bounds a single POST attempt.
	Timeout    time.Duration
	RatePerSec int
	QueueSize  int
	UserAgent  string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "recq-webhook/1"
	}
	return c
}

// Notifier implements jobs.Notifier over HTTP.
type Notifier struct {
	log     logx.Logger
	bus     eventbus.Bus
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan jobs.Job
	accepting bool
	sup       *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Notifier{
		log: log.With(logx.String("comp", "webhook")),
		bus: bus,
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		// Burst equals the per-second rate so short completion spikes
		// don't stall the queue.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the delivery worker. Idempotent.
func (n *Notifier) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	n.mu.Lock()
	if n.queue != nil {
		n.mu.Unlock()
		return
	}
	n.queue = make(chan jobs.Job, n.cfg.QueueSize)
	n.accepting = true
	n.sup = rtsup.New(ctx,
		rtsup.WithLogger(n.log),
		rtsup.WithCancelOnError(false),
	)
	sup := n.sup
	q := n.queue
	n.mu.Unlock()

	sup.GoRestart("deliver", func(c context.Context) error {
		n.deliverLoop(c, q)
		return nil
	}, rtsup.WithStopOnCleanExit(true))
}

// Stop closes intake and drains queued deliveries until ctx expires.
func (n *Notifier) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	n.mu.Lock()
	q := n.queue
	sup := n.sup
	if q == nil || !n.accepting {
		n.mu.Unlock()
		return
	}
	n.accepting = false
	n.mu.Unlock()

	close(q)
	if err := sup.Wait(ctx); err != nil {
		n.log.Warn("webhook drain cut short", logx.Err(err))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
}

// Notify enqueues one delivery for a terminal job. Jobs without a webhook
// URL are skipped. Never blocks: with the queue full the notification is
// dropped with a log line, matching the at-most-once contract.
func (n *Notifier) Notify(job jobs.Job) {
	if strings.TrimSpace(job.WebhookURL) == "" {
		n.publish(EventSkipped, DeliveryEvent{JobID: job.ID})
		return
	}

	n.mu.Lock()
	q := n.queue
	ok := n.accepting
	n.mu.Unlock()
	if !ok || q == nil {
		n.log.Warn("webhook dropped: notifier not running", logx.String("job", job.ID))
		n.publish(EventFailed, DeliveryEvent{JobID: job.ID, URL: job.WebhookURL, Error: "notifier not running"})
		return
	}

	select {
	case q <- job:
	default:
		n.log.Warn("webhook dropped: queue full",
			logx.String("job", job.ID),
			logx.Int("queue_size", n.cfg.QueueSize))
		n.publish(EventFailed, DeliveryEvent{JobID: job.ID, URL: job.WebhookURL, Error: "queue full"})
	}
}

func (n *Notifier) deliverLoop(ctx context.Context, q <-chan jobs.Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q:
			if !ok {
				return
			}
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			n.deliver(ctx, job)
		}
	}
}

// deliver makes the one and only POST attempt for this job.
func (n *Notifier) deliver(ctx context.Context, job jobs.Job) {
	deliveryID := uuid.NewString()
	body, err := json.Marshal(buildPayload(job))
	if err != nil {
		// Metadata came in over JSON, so this should be unreachable.
		n.fail(job, deliveryID, 0, 0, fmt.Errorf("encode payload: %w", err))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		n.fail(job, deliveryID, 0, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.cfg.UserAgent)
	req.Header.Set(DeliveryHeader, deliveryID)

	start := time.Now()
	resp, err := n.client.Do(req)
	took := time.Since(start)
	if err != nil {
		n.fail(job, deliveryID, 0, took, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.fail(job, deliveryID, resp.StatusCode, took, fmt.Errorf("unexpected status %s", resp.Status))
		return
	}

	n.log.Debug("webhook delivered",
		logx.String("job", job.ID),
		logx.String("delivery", deliveryID),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", took))
	n.publish(EventSent, DeliveryEvent{
		JobID:      job.ID,
		URL:        job.WebhookURL,
		DeliveryID: deliveryID,
		StatusCode: resp.StatusCode,
		Took:       took,
	})
}

// fail logs and publishes a delivery failure. The job's stored state is
// never touched from here.
func (n *Notifier) fail(job jobs.Job, deliveryID string, status int, took time.Duration, err error) {
	n.log.Warn("webhook delivery failed",
		logx.String("job", job.ID),
		logx.String("url", job.WebhookURL),
		logx.Int("status", status),
		logx.Err(err))
	n.publish(EventFailed, DeliveryEvent{
		JobID:      job.ID,
		URL:        job.WebhookURL,
		DeliveryID: deliveryID,
		StatusCode: status,
		Error:      err.Error(),
		Took:       took,
	})
}

func (n *Notifier) publish(typ string, data DeliveryEvent) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
