package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"recq/pkg/logx"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"all empty", Config{}, true},
		{"every", Config{RetentionSweep: "@every 10m"}, true},
		{"five field", Config{ArchiveVacuum: "0 3 * * *"}, true},
		{"six field", Config{BandwidthProbe: "30 0 3 * * *"}, true},
		{"garbage", Config{RetentionSweep: "whenever"}, false},
		{"bad tz", Config{Timezone: "Mars/Olympus"}, false},
		{"good tz", Config{Timezone: "UTC"}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := New(tc.cfg, Hooks{}, logx.Nop()).Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("want validation error")
			}
		})
	}
}

func TestRetentionSweepFires(t *testing.T) {
	t.Parallel()

	var trims atomic.Int64
	s := New(Config{RetentionSweep: "@every 50ms"}, Hooks{
		TrimRetention: func() int { trims.Add(1); return 0 },
	}, logx.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for trims.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweep fired %d times, want >= 2", trims.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEmptySpecDisablesEntry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	s := New(Config{}, Hooks{
		TrimRetention: func() int { calls.Add(1); return 0 },
	}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if calls.Load() != 0 {
		t.Fatalf("disabled sweep ran %d times", calls.Load())
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{RetentionSweep: "nope"}, Hooks{TrimRetention: func() int { return 0 }}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("want error for invalid cron spec")
	}
}
