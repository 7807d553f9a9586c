// Package fanout runs a function over a slice with a fixed number of workers
// while keeping results in input order.
package fanout

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Func processes the item at index and returns its result.
type Func[T, R any] func(ctx context.Context, item T, index int) (R, error)

// Map applies fn to every item using at most limit concurrent workers.
// Workers claim indices from a shared cursor, so a slow item never holds a
// slot hostage. results[i] always answers items[i]. limit is clamped to
// [1, len(items)]. The first error stops further claims and is returned
// once in-flight calls finish; context cancellation surfaces as ctx.Err().
func Map[T, R any](ctx context.Context, items []T, limit int, fn Func[T, R]) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(items) {
		limit = len(items)
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < limit; w++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				res, err := fn(gctx, items[i], i)
				if err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
				results[i] = res
			}
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		return results, err
	}
	return results, nil
}
