package voroclust

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// parallelRanges splits [0, n) into at most numWorkers contiguous ranges
// and calls fn on each from its own goroutine. Ranges never overlap, so
// fn may write to per-index slots without synchronization. With
// numWorkers <= 1 fn runs once on the calling goroutine.
//
// The first error cancels ctx for the remaining ranges and is returned.
func parallelRanges(ctx context.Context, n, numWorkers int, fn func(ctx context.Context, start, end int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	if numWorkers <= 1 || n == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, 0, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	rowsPerWorker := (n + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := min(startRow+rowsPerWorker, n)
		if startRow >= n {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, startRow, endRow)
		})
	}
	return g.Wait()
}
