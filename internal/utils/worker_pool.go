package utils

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	workers  int
	jobQueue chan func()

	mu        sync.RWMutex
	closed    bool
	waitGroup sync.WaitGroup
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
// A non-positive count starts a single worker.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for task := range wp.jobQueue {
		task()
	}
}

// Submit queues a task. It blocks while every worker is busy and the queue is full.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}
	wp.jobQueue <- task
	return nil
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Shutdown drains queued tasks and waits for the workers to exit. It is safe
// to call more than once.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobQueue)
	wp.mu.Unlock()
	wp.waitGroup.Wait()
}
