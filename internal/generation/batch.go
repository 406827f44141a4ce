package generation

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one task in a fan-out
type Result[T any] struct {
	Name     string        `json:"name"`
	Value    T             `json:"value,omitempty"`
	Err      error         `json:"-"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the task succeeded
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// BatchReport aggregates the tasks of one fan-out
type BatchReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    []string          `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
	Cost      float64           `json:"cost"`
}

// AllFailed is true when at least one task ran and none succeeded
func (r *BatchReport) AllFailed() bool {
	return len(r.Succeeded) == 0 && len(r.Failed) > 0
}

func newReport[T any](results []Result[T]) *BatchReport {
	report := &BatchReport{Errors: map[string]string{}}
	for _, r := range results {
		report.Cost += r.Cost
		if r.Err != nil {
			report.Failed = append(report.Failed, r.Name)
			report.Errors[r.Name] = r.Err.Error()
			continue
		}
		report.Succeeded = append(report.Succeeded, r.Name)
	}
	sort.Strings(report.Succeeded)
	sort.Strings(report.Failed)
	return report
}

// task is one unit of a fan-out
type task[T any] struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) (T, float64, error)
}

// fanOut runs every task concurrently, at most sem's weight at a time. A
// failing task never cancels the others. Each task writes only its own
// slot, so results keep the task order.
func fanOut[T any](ctx context.Context, sem *semaphore.Weighted, tasks []task[T]) ([]Result[T], *BatchReport) {
	results := make([]Result[T], len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			res := Result[T]{Name: t.name}
			if err := sem.Acquire(gctx, 1); err != nil {
				res.Err = err
			} else {
				start := time.Now()
				res.Value, res.Cost, res.Err = runWithTimeout(gctx, t)
				res.Duration = time.Since(start)
				sem.Release(1)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, newReport(results)
}

func runWithTimeout[T any](ctx context.Context, t task[T]) (T, float64, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.run(ctx)
}
