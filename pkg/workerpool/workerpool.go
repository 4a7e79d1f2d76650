// Package workerpool implements the Background Worker Pool: a bounded queue
// of deferred handler invocations drained by a fixed set of goroutines,
// decoupling slow handler bodies from the single-threaded event loop that
// dispatched them (spec.md §4.6).
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/nexus/internal/logger"
)

// Job is a deferred handler invocation. Run executes the handler body; its
// return value is delivered on the Pool's completion channel so the owning
// event loop can resume the request (e.g. send the response, release the
// slot) without blocking on the handler itself.
type Job struct {
	Session   uint64
	ReqType   uint8
	ReqNumber uint64
	Run       func(ctx context.Context) (Result, error)
}

// Result is what a background handler hands back to the event loop.
type Result struct {
	Payload []byte
}

// Completion pairs a finished Job with its outcome.
type Completion struct {
	Session   uint64
	ReqType   uint8
	ReqNumber uint64
	Result    Result
	Err       error
}

// Config configures a Pool.
type Config struct {
	// QueueDepth is the maximum number of pending jobs.
	QueueDepth int

	// Workers is the number of concurrent worker goroutines.
	Workers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{QueueDepth: 1024, Workers: 8}
}

// Pool is the Background Worker Pool.
type Pool struct {
	queue      chan Job
	completion chan Completion

	workers   int
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	started bool
	pending int
}

// New creates a Pool. Completions are delivered on the returned Pool's
// Completions channel; callers must drain it or background jobs will block
// once it fills.
func New(cfg Config) *Pool {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	return &Pool{
		queue:      make(chan Job, cfg.QueueDepth),
		completion: make(chan Completion, cfg.QueueDepth),
		workers:    cfg.Workers,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Completions returns the channel completed jobs are delivered on.
func (p *Pool) Completions() <-chan Completion {
	return p.completion
}

// Start launches the worker goroutines. Calling Start more than once is a
// no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	logger.InfoCtx(ctx, "starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()
}

// Stop signals workers to drain and exit, waiting up to timeout.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.stoppedCh:
	case <-time.After(timeout):
	}
}

// Submit enqueues a job for background execution. It returns false without
// blocking if the queue is full — callers treat this as backpressure, not a
// fatal error (spec.md §4.6 background dispatch never blocks the event
// loop).
func (p *Pool) Submit(job Job) bool {
	select {
	case p.queue <- job:
		p.mu.Lock()
		p.pending++
		p.mu.Unlock()
		return true
	default:
		return false
	}
}

// Pending returns the number of jobs queued but not yet completed.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, job)
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	result, err := job.Run(ctx)

	p.mu.Lock()
	p.pending--
	p.mu.Unlock()

	c := Completion{
		Session:   job.Session,
		ReqType:   job.ReqType,
		ReqNumber: job.ReqNumber,
		Result:    result,
		Err:       err,
	}

	select {
	case p.completion <- c:
	case <-ctx.Done():
	}
}
