package mapanalysis

import (
	"errors"
	"sync"

	"agrimap-backend/internal/shared/telemetry"
)

// ErrQueueFull is returned by Submit when every queue slot is taken.
var ErrQueueFull = errors.New("analysis queue is full")

// Pool runs submitted tasks on a small fixed number of background workers.
// Each task runs to completion on a single worker; there is no cancellation.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewPool starts workers goroutines consuming a queue of queueSize tasks.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	p := &Pool{tasks: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task without blocking. A full queue is reported as
// ErrQueueFull so the caller can shed load instead of stalling.
func (p *Pool) Submit(task func()) error {
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run keeps a panicking task from killing the worker.
func (p *Pool) run(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("worker.panic", map[string]any{"error": rec})
		}
	}()
	task()
}
