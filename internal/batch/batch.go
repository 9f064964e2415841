// Package batch runs independent remote operations in bounded, sequential
// batches and collects one outcome per item.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the number of operations in flight at once.
const DefaultSize = 5

// Outcome is the result of a single item: a value or the error it failed with.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the item succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// Op is the per-item operation.
type Op[I, O any] func(ctx context.Context, item I) (O, error)

type options struct {
	size     int
	observer func(index, size int)
}

// Option configures Run.
type Option func(*options)

// WithSize sets the batch size. Values below 1 fall back to DefaultSize.
func WithSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithObserver registers fn to be called before each batch starts with the
// zero-based batch index and the number of items in the batch.
func WithObserver(fn func(index, size int)) Option {
	return func(o *options) { o.observer = fn }
}

// Run applies op to every item and returns the outcomes in input order.
//
// Items are split into consecutive batches. The operations of one batch run
// concurrently and the next batch is not started until all of them have
// returned. A failing or panicking item only affects its own outcome.
func Run[I, O any](ctx context.Context, items []I, op Op[I, O], opts ...Option) []Outcome[O] {
	o := options{size: DefaultSize}
	for _, opt := range opts {
		opt(&o)
	}

	outcomes := make([]Outcome[O], len(items))
	for start, index := 0, 0; start < len(items); start, index = start+o.size, index+1 {
		end := min(start+o.size, len(items))
		if o.observer != nil {
			o.observer(index, end-start)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = call(ctx, items[i], op)
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

func call[I, O any](ctx context.Context, item I, op Op[I, O]) (out Outcome[O]) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome[O]{Err: fmt.Errorf("batch: operation panicked: %v", r)}
		}
	}()
	v, err := op(ctx, item)
	return Outcome[O]{Value: v, Err: err}
}

// Chunk splits items into consecutive slices of at most n elements.
func Chunk[T any](items []T, n int) [][]T {
	if n < 1 {
		n = DefaultSize
	}
	var chunks [][]T
	for start := 0; start < len(items); start += n {
		chunks = append(chunks, items[start:min(start+n, len(items))])
	}
	return chunks
}
