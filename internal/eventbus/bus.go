// Package eventbus is the in-process fanout layer decoupling the job
// pipeline from its observers (webhook delivery events, archive writer,
// operator alerts, health reporting).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - A subscriber that stops draining loses events, counted in Dropped.
//
// Data should be small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped reports how many events were discarded because a
	// subscriber's buffer was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &bus{}
}

type bus struct {
	mu      sync.Mutex
	subs    []*subscriber
	dropped atomic.Uint64
}

type subscriber struct {
	ch chan Event
}

// Publish stamps the event and offers it to every subscriber. Sends are
// non-blocking, so holding the mutex across the loop is fine and rules
// out sending on a channel unsubscribe is about to close.
func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs[i] = b.subs[len(b.subs)-1]
					b.subs = b.subs[:len(b.subs)-1]
					break
				}
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsubscribe
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }
