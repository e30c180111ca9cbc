package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunLimitedPreservesOrder(t *testing.T) {
	t.Parallel()

	const n = 12
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = func(ctx context.Context) (TaskResult, error) {
			// Randomize completion order; output order must not care.
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			return TaskResult{SessionID: fmt.Sprintf("s-%d", i)}, nil
		}
	}

	results := RunLimited(context.Background(), tasks, 4)
	if len(results) != n {
		t.Fatalf("len(results) = %d, want %d", len(results), n)
	}
	for i, r := range results {
		if want := fmt.Sprintf("s-%d", i); r.SessionID != want {
			t.Fatalf("results[%d].SessionID = %q, want %q", i, r.SessionID, want)
		}
		if !r.Success {
			t.Fatalf("results[%d] failed: %s", i, r.Error)
		}
	}
}

func TestRunLimitedBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const n, limit = 6, 2
	var inFlight, peak atomic.Int64

	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (TaskResult, error) {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return TaskResult{}, nil
		}
	}

	RunLimited(context.Background(), tasks, limit)
	if got := peak.Load(); got > limit {
		t.Fatalf("peak concurrency = %d, want <= %d", got, limit)
	}
}

func TestRunLimitedIsolatesFailures(t *testing.T) {
	t.Parallel()

	// Tasks at positions 2 and 4 (1-indexed) fail; the rest succeed.
	tasks := []Task{
		func(ctx context.Context) (TaskResult, error) { return TaskResult{SessionID: "a"}, nil },
		func(ctx context.Context) (TaskResult, error) {
			return TaskResult{SessionID: "b"}, errors.New("boom")
		},
		func(ctx context.Context) (TaskResult, error) { return TaskResult{SessionID: "c"}, nil },
		func(ctx context.Context) (TaskResult, error) { panic("kaput") },
		func(ctx context.Context) (TaskResult, error) { return TaskResult{SessionID: "e"}, nil },
	}

	results := RunLimited(context.Background(), tasks, 2)
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	wantSuccess := []bool{true, false, true, false, true}
	for i, want := range wantSuccess {
		if results[i].Success != want {
			t.Fatalf("results[%d].Success = %v, want %v", i, results[i].Success, want)
		}
	}
	if results[1].Error != "boom" {
		t.Fatalf("results[1].Error = %q, want %q", results[1].Error, "boom")
	}
	if results[3].Error == "" {
		t.Fatal("panicking task must surface an error")
	}
	if results[0].Error != "" || results[2].Error != "" || results[4].Error != "" {
		t.Fatalf("successful tasks must carry no error: %+v", results)
	}
}

func TestRunLimitedAllStartWhenLimitCoversTasks(t *testing.T) {
	t.Parallel()

	const n = 4
	var started atomic.Int64
	release := make(chan struct{})

	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (TaskResult, error) {
			started.Add(1)
			<-release
			return TaskResult{}, nil
		}
	}

	done := make(chan []TaskResult, 1)
	go func() { done <- RunLimited(context.Background(), tasks, n+5) }()

	deadline := time.After(2 * time.Second)
	for started.Load() < n {
		select {
		case <-deadline:
			t.Fatalf("only %d/%d tasks started with limit >= n", started.Load(), n)
		case <-time.After(time.Millisecond):
		}
	}
	close(release)
	<-done
}

func TestRunLimitedCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A task that wins the race for the free slot still sees the cancelled
	// context; one that loses is failed by RunLimited itself.
	honoring := func(ctx context.Context) (TaskResult, error) {
		if err := ctx.Err(); err != nil {
			return TaskResult{}, err
		}
		return TaskResult{}, nil
	}
	results := RunLimited(ctx, []Task{honoring, honoring}, 1)
	for i, r := range results {
		if r.Success {
			t.Fatalf("results[%d] succeeded under a cancelled context", i)
		}
	}
}
