package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"rinha-relay/metrics"
)

var ErrPoolClosed = errors.New("worker pool is closed")

type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers. Submit blocks while every
// worker is busy and the queue is full.
type Pool struct {
	tasks   chan Task
	workers int
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("Worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.tasks)))
}

// Submit hands task to the pool. It returns ctx.Err() if ctx ends first and
// ErrPoolClosed once Stop has been called.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		metrics.PoolQueued.Set(float64(len(p.tasks)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, lets the workers finish the queued ones and waits
// for them. Tasks observe a context that stays valid until they return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		metrics.PoolQueued.Set(float64(len(p.tasks)))
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	metrics.PoolInFlight.Inc()
	defer metrics.PoolInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panic recovered", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()

	task(p.ctx)
}
