package backtest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Job is one backtest task for the pool: a playbook, a run configuration,
// and the bar arrays to replay.
type Job struct {
	ID       string
	Playbook *playbook.Playbook
	Config   Config
	Bars     map[types.Timeframe][]types.Bar
}

// JobResult pairs a completed job with its result or error.
type JobResult struct {
	ID       string
	Result   *Result
	Duration time.Duration
	Err      error
}

// WorkerPool runs backtests in parallel. Each run is internally
// deterministic and single-threaded; only whole runs execute concurrently.
type WorkerPool struct {
	workerCount int
	jobs        chan Job
	results     chan JobResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	log         zerolog.Logger
}

// NewWorkerPool creates a pool. A non-positive workerCount defaults to the
// CPU count.
func NewWorkerPool(workerCount, buffer int, log zerolog.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workerCount: workerCount,
		jobs:        make(chan Job, buffer),
		results:     make(chan JobResult, buffer),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop drains the job queue, waits for the workers, and closes the result
// channel.
func (wp *WorkerPool) Stop() {
	close(wp.jobs)
	wp.wg.Wait()
	close(wp.results)
	wp.cancel()
}

// Submit enqueues a job. Fails only when the pool is shutting down.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Results returns the channel completed jobs arrive on.
func (wp *WorkerPool) Results() <-chan JobResult {
	return wp.results
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			res := wp.run(job)
			select {
			case wp.results <- res:
			case <-wp.ctx.Done():
				return
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) run(job Job) JobResult {
	start := time.Now()
	result, err := New(job.Playbook, job.Config, job.Bars, wp.log).Run()
	return JobResult{
		ID:       job.ID,
		Result:   result,
		Duration: time.Since(start),
		Err:      err,
	}
}
