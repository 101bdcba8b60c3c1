// Package pool runs independent work items on a bounded set of goroutines and
// aggregates the outcome of every item, so one failure never hides the others.
package pool

import (
	"context"
	"fmt"

	"adaparse/internal/errs"

	"golang.org/x/sync/errgroup"
)

// Task is one independent unit of work.
type Task struct {
	Index int
	Name  string
	Run   func(ctx context.Context) error
}

// Failure records a task that returned an error (or panicked, or never started).
type Failure struct {
	Index int
	Name  string
	Err   error
}

// Result aggregates the outcome of a Run.
type Result struct {
	Total     int
	Succeeded int
	Failures  []Failure // ordered by position in the task list
}

// OK reports whether every task succeeded.
func (r Result) OK() bool { return len(r.Failures) == 0 }

// Err returns nil when every task succeeded, otherwise a PartialFailureError for op.
func (r Result) Err(op string) error {
	if r.OK() {
		return nil
	}
	failures := make([]errs.ItemFailure, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = errs.ItemFailure{Index: f.Index, Name: f.Name, Err: f.Err}
	}
	return &errs.PartialFailureError{Op: op, Total: r.Total, Failures: failures}
}

// Run executes tasks with at most workers running at once and waits for all of them.
// A failing task does not cancel its siblings. Once ctx is done, tasks that have not
// started are recorded as failed with ctx.Err(). With one worker, tasks run strictly
// in slice order.
func Run(ctx context.Context, workers int, tasks []Task) Result {
	if workers < 1 {
		workers = 1
	}

	// Each slot is written by exactly one goroutine.
	outcomes := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range tasks {
		i := i
		if err := ctx.Err(); err != nil {
			outcomes[i] = fmt.Errorf("not started: %w", err)
			continue
		}
		g.Go(func() error {
			// Slot acquisition may have waited on a task that cancelled ctx.
			if err := ctx.Err(); err != nil {
				outcomes[i] = fmt.Errorf("not started: %w", err)
				return nil
			}
			outcomes[i] = runTask(ctx, tasks[i])
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Total: len(tasks)}
	for i, err := range outcomes {
		if err == nil {
			res.Succeeded++
			continue
		}
		res.Failures = append(res.Failures, Failure{Index: tasks[i].Index, Name: tasks[i].Name, Err: err})
	}
	return res
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}
