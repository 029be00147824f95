package jobq

import (
	"context"
	"fmt"
	"time"
)

// StepWork returns a WorkFunc that takes n steps of d each,
// reporting its progress after every step.
// It is handy for testing and for trying out the engine.
func StepWork(n int, d time.Duration) WorkFunc {
	return func(ctx context.Context, r Reporter) (interface{}, error) {
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
			r.ReportProgress(float64(i+1) / float64(n))
			r.ReportStatus(fmt.Sprintf("step %d of %d", i+1, n))
			r.ReportRuntime(time.Duration(n-i-1) * d)
		}
		return n, nil
	}
}

// FailWork returns a WorkFunc that fails with err after d.
func FailWork(d time.Duration, err error) WorkFunc {
	return func(ctx context.Context, r Reporter) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		return nil, err
	}
}

// BlockWork returns a WorkFunc that reports it started, then waits until
// it is interrupted.
func BlockWork() WorkFunc {
	return func(ctx context.Context, r Reporter) (interface{}, error) {
		r.ReportProgress(0)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// ShouldHaveTaskStatus checks the tasks have the statuses and raises an error
// about which task is different.
// It considers tasks are 'got' and statuses are 'want'.
func ShouldHaveTaskStatus(tasks []*Task, want []TaskStatus) error {
	if len(tasks) != len(want) {
		return fmt.Errorf("len: got %v, want %v", len(tasks), len(want))
	}
	for i, t := range tasks {
		if got := t.Status(); got != want[i] {
			return fmt.Errorf("task %d (%s): got %v, want %v", i, t.ID(), got, want[i])
		}
	}
	return nil
}
