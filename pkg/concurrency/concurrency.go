// Package concurrency provides utilities for running verification tasks in parallel.
package concurrency

import (
	gocontext "context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/context"
)

// minItemsForParallel is the threshold needed to be eligible for running in parallel.
const minItemsForParallel = 16

// ErrTimeout marks a task that did not finish within its bound.
var ErrTimeout = xerrors.New("concurrency: task timed out")

// ForEach executes a worker function for each item in a slice, distributing the work across designated # of CPU cores.
func ForEach[T any](ctx *context.OperationContext, items []T, workerFunc func(index int, item T) error) error {
	numItems := len(items)
	if numItems == 0 {
		return nil
	}

	parallel := ctx.Config.Cores > 1

	// If parallelism is not configured or the slice is too small, run a simple for loop.
	if !parallel || numItems < minItemsForParallel {
		for i, item := range items {
			if err := workerFunc(i, item); err != nil {
				return err
			}
		}
		return nil
	}

	// --- Parallel Execution Path ---
	jobs := make(chan int, numItems)
	errs := make(chan error, numItems)
	var wg sync.WaitGroup

	for w := 0; w < ctx.Config.Cores; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := workerFunc(i, items[i]); err != nil {
					errs <- err
				}
			}
		}()
	}

	for i := 0; i < numItems; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	close(errs)

	if len(errs) > 0 {
		return <-errs // Return the first error found.
	}
	return nil
}

// Map executes a worker function for each item in a slice and returns the
// results in input order.
func Map[T any, U any](ctx *context.OperationContext, items []T, workerFunc func(item T) (U, error)) ([]U, error) {
	results := make([]U, len(items))
	err := ForEach(ctx, items, func(i int, item T) error {
		res, err := workerFunc(item)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Bounded runs task for every item with at most workers in flight. Each call
// gets its own deadline of timeout (0 disables it); a task still running at
// its deadline is reported through onDone with ErrTimeout and abandoned.
// Task errors never cancel the remaining items: every item reaches onDone
// exactly once. onDone calls are serialized.
func Bounded[T any](parent gocontext.Context, items []T, workers int, timeout time.Duration,
	task func(ctx gocontext.Context, item T) error, onDone func(index int, item T, err error, elapsed time.Duration)) error {

	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(parent)
	g.SetLimit(workers)

	var mu sync.Mutex
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			start := time.Now()
			err := runWithTimeout(gctx, timeout, func(ctx gocontext.Context) error { return task(ctx, item) })
			mu.Lock()
			onDone(i, item, err, time.Since(start))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return parent.Err()
}

func runWithTimeout(parent gocontext.Context, timeout time.Duration, f func(gocontext.Context) error) error {
	if timeout <= 0 {
		return f(parent)
	}
	ctx, cancel := gocontext.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if xerrors.Is(ctx.Err(), gocontext.DeadlineExceeded) {
			return xerrors.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return ctx.Err()
	}
}

// Retry calls f until it succeeds, returns a non-retryable error, or has
// been retried attempts times.
func Retry(attempts int, retryable func(error) bool, f func() error) error {
	err := f()
	for i := 0; i < attempts && err != nil && retryable(err); i++ {
		err = f()
	}
	return err
}
