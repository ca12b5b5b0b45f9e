package async

import (
	"context"
	"sync"
	"time"
)

// Future holds the eventual result of a background function.
type Future[U any] struct {
	result U
	err    error
	done   chan struct{}
}

// Await blocks until the function returns.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout is Await bounded by timeout; it returns ErrTimeout when
// the function is still running.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		var zero U
		return zero, ErrTimeout
	}
}

func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Async runs fn(ctx, param) in a new goroutine. A context already cancelled
// completes the future with ctx.Err() without calling fn.
func Async[T, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)
		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}
		f.result, f.err = fn(ctx, param)
	}()

	return f
}

// Group tracks futures started through it so shutdown can wait for them.
type Group struct {
	wg sync.WaitGroup
}

// Go is Async registered with the group.
func Go[T, U any](g *Group, ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	g.wg.Add(1)
	return Async(ctx, param, func(ctx context.Context, p T) (U, error) {
		defer g.wg.Done()
		return fn(ctx, p)
	})
}

// Wait blocks until every future started with Go has completed or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
