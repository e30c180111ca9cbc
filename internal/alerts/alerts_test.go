package alerts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"recq/internal/eventbus"
	"recq/internal/jobs"
	"recq/internal/webhook"
	"recq/pkg/logx"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := what.(string); ok {
		f.sent = append(f.sent, s)
	}
	return &tele.Message{}, nil
}

func (f *fakeBot) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func startWithFake(t *testing.T, bus eventbus.Bus, ratePerSec int) *fakeBot {
	t.Helper()
	fake := &fakeBot{}
	s := New(Config{Enabled: true, Token: "test-token", ChatID: 42, RatePerSec: ratePerSec}, logx.Nop(), bus)
	s.bot = fake
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })
	return fake
}

func waitForSent(t *testing.T, fake *fakeBot, want int) []string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		got := fake.messages()
		if len(got) >= want {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("sent %d alerts, want %d", len(got), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAlertOnJobFailure(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	fake := startWithFake(t, bus, 10)

	bus.Publish(eventbus.Event{Type: jobs.EventFailed, Data: jobs.Event{
		Job: jobs.Job{ID: "job-x", Status: jobs.StatusFailed, Error: "browser session lost"},
	}})

	got := waitForSent(t, fake, 1)
	if !strings.Contains(got[0], "job-x") || !strings.Contains(got[0], "browser session lost") {
		t.Fatalf("alert text = %q", got[0])
	}
}

func TestAlertOnWebhookFailure(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	fake := startWithFake(t, bus, 10)

	bus.Publish(eventbus.Event{Type: webhook.EventFailed, Data: webhook.DeliveryEvent{
		JobID: "job-y", URL: "https://example.com/hook", Error: "unexpected status 502 Bad Gateway",
	}})

	got := waitForSent(t, fake, 1)
	if !strings.Contains(got[0], "job-y") || !strings.Contains(got[0], "502") {
		t.Fatalf("alert text = %q", got[0])
	}
}

func TestIgnoresNonFailureEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	fake := startWithFake(t, bus, 10)

	bus.Publish(eventbus.Event{Type: jobs.EventCompleted, Data: jobs.Event{Job: jobs.Job{ID: "job-ok"}}})
	bus.Publish(eventbus.Event{Type: webhook.EventSent, Data: webhook.DeliveryEvent{JobID: "job-ok"}})
	bus.Publish(eventbus.Event{Type: jobs.EventFailed, Data: jobs.Event{Job: jobs.Job{ID: "job-bad"}}})

	got := waitForSent(t, fake, 1)
	time.Sleep(50 * time.Millisecond)
	got = fake.messages()
	if len(got) != 1 || !strings.Contains(got[0], "job-bad") {
		t.Fatalf("alerts = %q", got)
	}
}

func TestStartRequiresCredentials(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), eventbus.New())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("want error when enabled without token/chat_id")
	}

	// Disabled service starts cleanly with no credentials.
	s = New(Config{}, logx.Nop(), eventbus.New())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
}
