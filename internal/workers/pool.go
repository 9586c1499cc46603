// Package workers bounds how much CPU-bound stage work and how many jobs run
// at once.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned once Close has been called.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a counting semaphore shared by every job of a process.
type Pool struct {
	sem    chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool with size slots. Sizes below one are raised to one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Do runs fn on a pool slot and waits for it. The context only bounds the wait
// for a slot; once fn starts it always runs to completion.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-p.sem }()
		done <- fn()
	}()

	return <-done
}

// Close rejects further work. Work already running is not affected.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// BatchError collects the failures of a batch run, indexed like the input.
type BatchError struct {
	Errors map[int]error
}

func (e *BatchError) Error() string {
	first := -1
	for i := range e.Errors {
		if first < 0 || i < first {
			first = i
		}
	}
	return fmt.Sprintf("batch failed with %d errors, first at %d: %v", len(e.Errors), first, e.Errors[first])
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}

// RunBatch calls fn for each of n items with at most maxConcurrent in flight.
// Items not yet started when ctx is cancelled fail with the context error.
func RunBatch(ctx context.Context, n, maxConcurrent int, fn func(ctx context.Context, i int) error) error {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	sem := make(chan struct{}, maxConcurrent)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = map[int]error{}
	)

	record := func(i int, err error) {
		mu.Lock()
		errs[i] = err
		mu.Unlock()
	}

	cancelRest := func(from int) error {
		for j := from; j < n; j++ {
			record(j, ctx.Err())
		}
		wg.Wait()
		return &BatchError{Errors: errs}
	}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return cancelRest(i)
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return cancelRest(i)
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := fn(ctx, i); err != nil {
				record(i, err)
			}
		}(i)
	}

	wg.Wait()

	if len(errs) > 0 {
		return &BatchError{Errors: errs}
	}
	return nil
}
