package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Task is one independent unit of work within a job. Implementations fill
// in payload fields (SessionID, Extra); RunLimited owns Success and Error.
type Task func(ctx context.Context) (TaskResult, error)

// RunLimited executes tasks with at most limit in flight and returns one
// result per task, positionally matching the input regardless of completion
// order. A task's error or panic becomes TaskResult{Success: false} without
// aborting the batch; when limit >= len(tasks) everything starts at once.
//
// Context cancellation marks tasks that have not yet acquired a slot as
// failed with the context error. Tasks already running are expected to
// honor ctx themselves.
func RunLimited(ctx context.Context, tasks []Task, limit int) []TaskResult {
	if limit < 1 {
		limit = 1
	}

	results := make([]TaskResult, len(tasks))
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, task := range tasks {
		if task == nil {
			results[i] = TaskResult{Success: false, Error: "no task"}
			continue
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = TaskResult{Success: false, Error: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			results[i] = runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return results
}

// runTask invokes one task, converting a panic into a failed result so one
// bad task can't take down the batch.
func runTask(ctx context.Context, task Task) (res TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = TaskResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	out, err := task(ctx)
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.Error = ""
	return out
}
