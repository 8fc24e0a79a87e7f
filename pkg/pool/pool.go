// Package pool runs one fetch per item with a fixed upper bound on
// concurrent fetches.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item. Exactly one of Value and Err is meaningful.
type Result[T, R any] struct {
	// Index is the item's position in the submitted slice.
	Index int
	Item  T
	Value R
	Err   error
}

// Run calls fn for every item with at most width calls in flight and sends
// each outcome on the returned channel as soon as it completes, in
// completion order. The channel is closed once every item has produced its
// outcome. One item's error never stops the others.
//
// The channel is buffered for all items, so a consumer that stops reading
// early does not leak goroutines.
func Run[T, R any](ctx context.Context, width int, items []T, fn func(context.Context, T) (R, error)) <-chan Result[T, R] {
	if width < 1 {
		width = 1
	}
	out := make(chan Result[T, R], len(items))

	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(width)
		for i, item := range items {
			g.Go(func() error {
				v, err := fn(ctx, item)
				out <- Result[T, R]{Index: i, Item: item, Value: v, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// Collect runs items through Run and gathers every outcome. The order of the
// returned slice is completion order.
func Collect[T, R any](ctx context.Context, width int, items []T, fn func(context.Context, T) (R, error)) []Result[T, R] {
	results := make([]Result[T, R], 0, len(items))
	for r := range Run(ctx, width, items, fn) {
		results = append(results, r)
	}
	return results
}
