package batch

import (
	"context"
	"sync"
)

// workerPool runs a fixed number of workers over job indexes.
type workerPool struct {
	workerCount int
	jobs        chan int
	wg          sync.WaitGroup
	handle      func(ctx context.Context, job int)
}

func newWorkerPool(workerCount, jobCount int, handle func(ctx context.Context, job int)) *workerPool {
	workerCount = max(1, min(workerCount, jobCount))
	return &workerPool{
		workerCount: workerCount,
		jobs:        make(chan int, workerCount),
		handle:      handle,
	}
}

func (wp *workerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// Submit queues a job, giving up once ctx is done. A false return means
// the job was not queued.
func (wp *workerPool) Submit(ctx context.Context, job int) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case wp.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop waits for queued jobs to finish.
func (wp *workerPool) Stop() {
	close(wp.jobs)
	wp.wg.Wait()
}

func (wp *workerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		// drain without running once cancelled so Stop returns promptly;
		// skipped jobs stay pending
		if ctx.Err() != nil {
			continue
		}
		wp.handle(ctx, job)
	}
}
