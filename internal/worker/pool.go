// Package worker runs background jobs on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Job is one unit of background work. ctx is cancelled when the pool is shut
// down past its drain deadline.
type Job func(ctx context.Context)

const defaultCancelGrace = 5 * time.Second

// Config bounds the pool. CancelGrace is how long Shutdown keeps waiting after
// cancelling the job context, so jobs can record their outcome.
type Config struct {
	Workers     int
	QueueSize   int
	CancelGrace time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
}

// Pool executes submitted jobs on Config.Workers goroutines.
type Pool struct {
	queue    chan Job
	workers  int
	grace    time.Duration
	inFlight atomic.Int64

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool starts the workers. Non-positive values fall back to one worker and
// a queue of one.
func NewPool(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	grace := cfg.CancelGrace
	if grace <= 0 {
		grace = defaultCancelGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan Job, size),
		workers: workers,
		grace:   grace,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in worker job", "worker", id, "error", r, "stack", string(debug.Stack()))
		}
	}()
	job(p.ctx)
}

// Submit enqueues job without blocking. It returns ErrQueueFull when the queue
// is at capacity and ErrPoolClosed after Shutdown.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(p.queue))
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:  p.workers,
		Queued:   len(p.queue),
		InFlight: int(p.inFlight.Load()),
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx expires first, the job context is cancelled and ctx.Err()
// returned once the workers have finished, or after the cancel grace period.
// Jobs still queued at that point run with the cancelled context.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
	}

	grace := time.NewTimer(p.grace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		slog.Warn("worker pool shutdown grace expired", "stats", p.Stats())
	}
	return ctx.Err()
}
