package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map runs fn over items with at most workers calls in flight and returns the
// outputs and per-item errors in input order. A failing item never cancels the
// others; only ctx does. Items not started before ctx is done get ctx.Err().
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, item T) (R, error)) ([]R, []error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				errs[j] = err
			}
			break
		}

		g.Go(func() error {
			results[i], errs[i] = fn(ctx, item)
			return nil
		})
	}

	_ = g.Wait()
	return results, errs
}
