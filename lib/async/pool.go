// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/takt/errs"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// Pool is a bounded worker pool. Submit enqueues fire-and-forget tasks with
// backpressure; All runs a batch to completion and reports its first error.
// The trader uses All to settle per-asset indicator stages in parallel.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once

	// mu fences enqueues against Close so nothing sends on a closed
	// channel. Submissions hold the read side, Close the write side.
	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx  context.Context
	fn   Task
	done func(error)
}

// NewPool creates a worker pool with the given concurrency and queue depth.
// Queue depths below one are raised to one: handing a job to an idle worker
// goes through the channel buffer, and with no buffer at all a submission
// could fail even though every worker is free.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 1 {
		queue = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queue),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task for execution, respecting pool backpressure. The
// task's error is dropped; use All when results matter.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if err := p.check(ctx, fn); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("submit context: %w", ctx.Err())
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// All runs every task on the pool and blocks until the batch completes,
// returning the first task error. Unlike Submit, a saturated queue makes the
// caller wait for a slot instead of failing.
func (p *Pool) All(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	var (
		mu    sync.Mutex
		first error
		batch sync.WaitGroup
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
	}
	done := func(err error) {
		record(err)
		batch.Done()
	}
	for _, fn := range tasks {
		if err := p.check(ctx, fn); err != nil {
			record(err)
			break
		}
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			record(errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed")))
			break
		}
		batch.Add(1)
		p.wg.Add(1)
		select {
		case <-ctx.Done():
			p.wg.Done()
			batch.Done()
			record(fmt.Errorf("submit context: %w", ctx.Err()))
		case p.jobs <- job{ctx: ctx, fn: fn, done: done}:
		}
		p.mu.RUnlock()
		mu.Lock()
		failed := first != nil
		mu.Unlock()
		if failed {
			break
		}
	}
	batch.Wait()
	mu.Lock()
	defer mu.Unlock()
	return first
}

func (p *Pool) check(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("context must not be nil"))
	}
	return nil
}

// Close stops accepting new tasks and cancels the pool context handed to
// tasks that were submitted without one. Jobs already queued still run, so
// every accepted task is accounted for before Shutdown returns.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.cancel()
	})
}

// Shutdown waits for in-flight tasks to complete or until the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// worker drains the queue until Close. Ranging over the channel rather than
// selecting on the pool context means a close never abandons queued jobs
// mid-count.
func (p *Pool) worker() {
	for job := range p.jobs {
		ctx := job.ctx
		if ctx == nil {
			ctx = p.ctx
		}
		err := runTask(ctx, job.fn)
		if job.done != nil {
			job.done(err)
		}
		p.wg.Done()
	}
}

// runTask isolates panics so one bad task never kills a worker.
func runTask(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New("lib/async", errs.CodeInternal,
				errs.WithMessage(fmt.Sprintf("task panic: %v", r)))
		}
	}()
	return fn(ctx)
}
