package jsrt

import (
	"sync"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// workerPool runs engine background work on a fixed set of goroutines.
type workerPool struct {
	jobs   chan engine.BackgroundWorkItem
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(n int, logger *zap.Logger) *workerPool {
	p := &workerPool{
		jobs:   make(chan engine.BackgroundWorkItem, n*4),
		logger: logger,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	return p
}

func (p *workerPool) work() {
	defer p.wg.Done()
	for item := range p.jobs {
		p.safeRun(item)
	}
}

func (p *workerPool) safeRun(item engine.BackgroundWorkItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background work panicked", zap.Any("panic", r))
		}
	}()
	item()
}

// dispatch queues item without blocking. It returns false when the pool is
// stopped or saturated; the engine then runs the item itself.
func (p *workerPool) dispatch(item engine.BackgroundWorkItem) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- item:
		return true
	default:
		return false
	}
}

// pending reports the number of queued items.
func (p *workerPool) pending() int {
	if p == nil {
		return 0
	}
	return len(p.jobs)
}

// stop refuses new work and waits for queued work to finish.
func (p *workerPool) stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
