package hashfield

import "context"

// Future is the pending result of an operation started with Go.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the operation finishes or ctx is done. Giving up on ctx
// does not cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Callback receives the outcome of an asynchronous operation.
type Callback[T any] func(T, error)

// Go runs fn on its own goroutine. The returned future is resolved first and
// then cb, if non-nil, is invoked exactly once with the same outcome.
//
//	f := hashfield.Go(ctx, func(ctx context.Context) (float64, error) {
//		return layer.HIncr(ctx, "stats", "hits")
//	}, nil)
func Go[T any](ctx context.Context, fn func(context.Context) (T, error), cb Callback[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		f.val, f.err = fn(ctx)
		close(f.done)
		if cb != nil {
			cb(f.val, f.err)
		}
	}()
	return f
}
