package mapanalysis

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	pool := NewPool(2, 10)
	defer pool.Shutdown()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	wg.Wait()

	if ran.Load() != 5 {
		t.Fatalf("expected 5 tasks run, got %d", ran.Load())
	}
}

func TestPoolRecoversFromPanickingTask(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 10)
	defer pool.Shutdown()

	done := make(chan struct{})
	pool.Submit(func() { panic("boom") })
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestPoolSubmitRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 1)
	defer pool.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	if err := pool.Submit(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	// Worker is occupied; this fills the single queue slot.
	if err := pool.Submit(func() {}); err != nil {
		t.Fatalf("Submit into free slot: %v", err)
	}

	if err := pool.Submit(func() {}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(release)
}

func TestPoolShutdownWaitsForInFlightTasks(t *testing.T) {
	t.Parallel()

	pool := NewPool(1, 10)

	var finished atomic.Bool
	pool.Submit(func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	pool.Shutdown()

	if !finished.Load() {
		t.Fatalf("expected Shutdown to wait for the running task")
	}
}
