// Package parallel runs independent jobs, such as whole saturation runs of
// separate engines, on a bounded set of goroutines. Engines themselves are
// single-threaded; this package never shares one engine between workers.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrPoolShutdown is returned when trying to submit tasks to a shutdown pool.
var ErrPoolShutdown = errors.New("worker pool has been shutdown")

// WorkerPool manages a fixed set of goroutines fed through a buffered
// channel, so Submit blocks once every worker is busy and the buffer is full.
type WorkerPool struct {
	maxWorkers   int
	taskChan     chan func()
	workerWg     sync.WaitGroup
	shutdownChan chan struct{}
	once         sync.Once
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If maxWorkers is 0 or negative, it defaults to the number of CPU cores.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		maxWorkers:   maxWorkers,
		taskChan:     make(chan func(), maxWorkers*2),
		shutdownChan: make(chan struct{}),
	}
	for i := 0; i < maxWorkers; i++ {
		pool.workerWg.Add(1)
		go pool.worker()
	}
	return pool
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return wp.maxWorkers }

func (wp *WorkerPool) worker() {
	defer wp.workerWg.Done()

	for {
		select {
		case task := <-wp.taskChan:
			if task != nil {
				task()
			}
		case <-wp.shutdownChan:
			return
		}
	}
}

// Submit submits a task to the worker pool for execution.
// If the pool is full, this call will block until a worker becomes available.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case <-wp.shutdownChan:
		return ErrPoolShutdown
	default:
	}
	select {
	case wp.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.shutdownChan:
		return ErrPoolShutdown
	}
}

// Shutdown stops the workers and waits for running tasks to finish. Tasks
// still queued may be dropped; callers that need every result wait for their
// own tasks first, as Map does.
func (wp *WorkerPool) Shutdown() {
	wp.once.Do(func() {
		close(wp.shutdownChan)
		wp.workerWg.Wait()
	})
}

// Result is the outcome of one Map item.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map runs fn for every item on the pool and returns the results in input
// order. Items that could not be submitted, because ctx ended or the pool
// shut down, carry that error; the first such error is also returned.
//
// Example:
//
//	pool := parallel.NewWorkerPool(4)
//	defer pool.Shutdown()
//	results, err := parallel.Map(ctx, pool, presets, saturatePreset)
func Map[T, R any](ctx context.Context, pool *WorkerPool, items []T, fn func(context.Context, T) (R, error)) ([]Result[R], error) {
	results := make([]Result[R], len(items))
	var wg sync.WaitGroup
	var submitErr error

	for i, item := range items {
		i, item := i, item
		results[i].Index = i
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			results[i].Value, results[i].Err = fn(ctx, item)
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
			if submitErr == nil {
				submitErr = err
			}
		}
	}
	wg.Wait()
	return results, submitErr
}
