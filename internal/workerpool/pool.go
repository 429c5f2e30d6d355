package workerpool

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("worker pool is closed")

// Pool runs blocking work on a bounded number of slots. Submitters block
// until a slot is free, then wait for the result of their own job.
type Pool struct {
	size   int64
	sem    *semaphore.Weighted
	closed chan struct{}
}

// New creates a pool with size concurrent slots. A size below one is treated
// as one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
		closed: make(chan struct{}),
	}
}

// Size returns the number of concurrent slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Close stops accepting new work and waits for running jobs to finish.
func (p *Pool) Close(ctx context.Context) error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	// Draining every slot means no job is running anymore.
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return err
	}
	p.sem.Release(p.size)
	return nil
}

// Do runs fn on a pool slot and returns its result. If ctx ends while
// queued, fn never runs. Once fn has started, Do waits for it and returns
// whatever it returned, so results owning resources are never dropped; fn
// observes ctx itself.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case <-p.closed:
		return zero, ErrClosed
	default:
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer p.sem.Release(1)

	return fn(ctx)
}
