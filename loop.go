package jsrt

import (
	"sync"
	"weak"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// taskQueue is the FIFO of microtasks handed over by the engine. Every
// queued handle holds one engine reference.
type taskQueue struct {
	mu    sync.Mutex
	tasks []engine.ValueHandle
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

func (q *taskQueue) push(h engine.ValueHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, h)
}

func (q *taskQueue) pop() (engine.ValueHandle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return engine.InvalidValue, false
	}
	h := q.tasks[0]
	q.tasks[0] = engine.InvalidValue
	q.tasks = q.tasks[1:]
	return h, true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// release drops every queued task.
func (q *taskQueue) release() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, h := range tasks {
		_, _ = engine.Release(h)
	}
}

// reset forgets the queued tasks without releasing them.
func (q *taskQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

// installContinuations routes the context's microtasks into its queue. c
// must be current.
func (c *Context) installContinuations() error {
	return c.check(engine.SetPromiseContinuationCallback(enqueueContinuation, c.token))
}

// enqueueContinuation is the engine's promise continuation callback. It
// only queues the task.
func enqueueContinuation(task engine.ValueHandle, st uintptr) {
	wp, ok := loadToken[weak.Pointer[Context]](tokens, st)
	if !ok {
		return
	}
	c := wp.Value()
	if c == nil || c.IsDisposed() {
		return
	}
	if _, code := engine.AddRef(task); code != engine.NoError {
		return
	}
	c.tasks.push(task)
}

// PendingMicrotasks returns the number of queued microtasks.
func (c *Context) PendingMicrotasks() int {
	return c.tasks.len()
}

// DrainMicrotasks runs queued microtasks, including the ones they queue,
// until the queue is empty. A throwing microtask stops the drain; its error
// is returned and the tasks behind it stay queued.
func (c *Context) DrainMicrotasks() error {
	return c.do(func() error {
		c.depth++
		defer func() {
			c.depth--
			if c.depth == 0 {
				c.releaseHandoff()
			}
		}()
		return c.drain()
	})
}

// drain runs with c current.
func (c *Context) drain() error {
	global, code := engine.GetGlobalObject()
	if err := c.check(code); err != nil {
		return err
	}
	for {
		task, ok := c.tasks.pop()
		if !ok {
			return nil
		}
		_, code := engine.CallFunction(task, []engine.ValueHandle{global})
		_, _ = engine.Release(task)
		if err := c.check(code); err != nil {
			c.runtime.logger.Warn("microtask drain aborted",
				zap.Stringer("context", c.ref),
				zap.Int("pending", c.tasks.len()),
				zap.Error(err))
			return err
		}
	}
}
