package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllRunsEveryTaskAndReportsFirstError(t *testing.T) {
	pool, err := NewPool(2, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	var ran atomic.Int64
	boom := errors.New("boom")
	tasks := []Task{
		func(context.Context) error { ran.Add(1); return nil },
		func(context.Context) error { ran.Add(1); return boom },
		func(context.Context) error { ran.Add(1); return nil },
	}
	err = pool.All(context.Background(), tasks...)
	if !errors.Is(err, boom) {
		t.Fatalf("All returned %v, want the task error", err)
	}
	if got := ran.Load(); got == 0 {
		t.Fatal("no task ran")
	}
}

func TestAllIsolatesPanics(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	err = pool.All(context.Background(), func(context.Context) error {
		panic("task exploded")
	})
	if err == nil {
		t.Fatal("panicking task must surface as an error")
	}
	// The worker survived: the pool still runs tasks.
	if err := pool.All(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("pool unusable after panic: %v", err)
	}
}

func TestSubmitFailsFastAtCapacity(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	block := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// Worker busy, queue depth zero: the next submit has nowhere to go.
	deadline := time.After(time.Second)
	for {
		err := pool.Submit(context.Background(), func(context.Context) error { return nil })
		if err != nil {
			break
		}
		select {
		case <-deadline:
			close(block)
			t.Fatal("submit never reported capacity exhaustion")
		default:
		}
	}
	close(block)
}

func TestShutdownWaitsForInFlightWork(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	var done atomic.Bool
	if err := pool.Submit(context.Background(), func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !done.Load() {
		t.Fatal("shutdown returned before the in-flight task finished")
	}
}

func TestCloseRunsQueuedJobs(t *testing.T) {
	pool, err := NewPool(1, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	block := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	var queued atomic.Bool
	if err := pool.Submit(context.Background(), func(context.Context) error {
		queued.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("submit queued task: %v", err)
	}

	// Close with one job still waiting in the queue, then let the worker go.
	pool.Close()
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !queued.Load() {
		t.Fatal("job accepted before close was dropped")
	}
}

func TestNewPoolValidatesArguments(t *testing.T) {
	if _, err := NewPool(0, 1); err == nil {
		t.Fatal("zero workers must be rejected")
	}
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()
	if err := pool.Submit(context.Background(), nil); err == nil {
		t.Fatal("nil task must be rejected")
	}
}
