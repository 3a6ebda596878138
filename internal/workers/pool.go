// Package workers provides a bounded goroutine pool for running
// backtest jobs.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of work submitted to the pool.
type Job interface {
	Run() error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func() error

func (f JobFunc) Run() error { return f() }

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "job queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError is a pool lifecycle or submission error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// Stats is a snapshot of pool counters.
type Stats struct {
	JobsSubmitted int64 `json:"jobsSubmitted"`
	JobsCompleted int64 `json:"jobsCompleted"`
	JobsFailed    int64 `json:"jobsFailed"`
	QueueLength   int   `json:"queueLength"`
}

// Pool runs submitted jobs on a fixed set of worker goroutines with a
// bounded queue. Submission never blocks; a full queue is an error so
// callers can report backpressure instead of hanging.
type Pool struct {
	logger     *zap.Logger
	numWorkers int
	queue      chan Job
	wg         sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool with the given worker count and queue size.
func NewPool(logger *zap.Logger, numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:     logger,
		numWorkers: numWorkers,
		queue:      make(chan Job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines. Starting a running pool is a
// no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("Starting worker pool",
		zap.Int("workers", p.numWorkers),
		zap.Int("queue_size", cap(p.queue)),
	)

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.runJob(logger, job)
		}
	}
}

// runJob executes one job, recovering panics so a bad strategy cannot
// take down the server.
func (p *Pool) runJob(logger *zap.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logger.Error("Job panicked", zap.Any("panic", r))
		}
	}()

	if err := job.Run(); err != nil {
		p.failed.Add(1)
		logger.Warn("Job failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job Job) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc enqueues a function as a job.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(JobFunc(fn))
}

// Stop shuts the pool down, waiting up to timeout for in-flight jobs.
func (p *Pool) Stop(timeout time.Duration) error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("Stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

// IsRunning reports whether the pool accepts jobs.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
		JobsFailed:    p.failed.Load(),
		QueueLength:   len(p.queue),
	}
}
