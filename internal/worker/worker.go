package worker

import (
	"context"
	"fmt"
	"sync"
)

type Job interface{}

type ProcessFunc func(ctx context.Context, job Job) error

// ErrorFunc receives errors returned by, or panics recovered from, a ProcessFunc.
type ErrorFunc func(job Job, err error)

type WorkerPool struct {
	numWorkers int
	jobs       chan Job
	processor  ProcessFunc
	onError    ErrorFunc
	wg         sync.WaitGroup
}

func NewWorkerPool(numWorkers int, bufferSize int, processor ProcessFunc) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, bufferSize),
		processor:  processor,
	}
}

// OnError must be set before Start.
func (wp *WorkerPool) OnError(fn ErrorFunc) *WorkerPool {
	wp.onError = fn
	return wp
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			if err := wp.process(ctx, job); err != nil && wp.onError != nil {
				wp.onError(job, err)
			}
		}
	}
}

func (wp *WorkerPool) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return wp.processor(ctx, job)
}

func (wp *WorkerPool) Submit(job Job) {
	wp.jobs <- job
}

// Stop closes the queue and waits for the workers to drain it.
func (wp *WorkerPool) Stop() {
	close(wp.jobs)
	wp.wg.Wait()
}
