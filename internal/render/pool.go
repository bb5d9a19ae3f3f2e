package render

import (
	"sync"

	"go.uber.org/zap"

	"tileview/internal/metrics"
)

// Pool runs submitted tasks on a fixed number of worker goroutines. Its
// queue is unbounded so that submitting from the event loop never blocks.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPool starts workers goroutines. queueSize preallocates the queue.
func NewPool(workers, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		queue:   make([]func(), 0, max(queueSize, workers)),
		logger:  logger,
		metrics: m,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.metrics.RenderQueue.Dec()
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered panic in render worker", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}

// Submit queues task and returns at once. It returns false once the pool is
// closed.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, task)
	p.metrics.RenderQueue.Inc()
	p.mu.Unlock()

	p.cond.Signal()
	return true
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close refuses new tasks, waits for the workers to run everything already
// queued, and stops them.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
