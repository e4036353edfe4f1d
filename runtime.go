package jsrt

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// MemoryEventType tags a MemoryEvent.
type MemoryEventType int

const (
	MemoryAllocate MemoryEventType = iota
	MemoryFree
	MemoryFailure
)

func (t MemoryEventType) String() string {
	switch t {
	case MemoryAllocate:
		return "allocate"
	case MemoryFree:
		return "free"
	case MemoryFailure:
		return "failure"
	}
	return "unknown"
}

// MemoryEvent reports a change in the memory held by a runtime.
type MemoryEvent struct {
	Type MemoryEventType
	Size uint64
}

// Runtime owns an isolated engine heap and the contexts created in it. A
// runtime can be active on one goroutine at a time.
type Runtime struct {
	ref    RuntimeRef
	attrs  Attributes
	logger *zap.Logger
	pool   *workerPool

	mu       sync.Mutex
	contexts map[ContextRef]weak.Pointer[Context]
	disposed atomic.Bool

	eventsMu  sync.RWMutex
	onCollect []func()
	onMemory  []func(MemoryEvent) bool
}

// NewRuntime creates a runtime.
func NewRuntime(opts ...Option) (*Runtime, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var pool *workerPool
	var service engine.ThreadServiceCallback
	if o.workers > 0 {
		pool = newWorkerPool(o.workers, o.logger)
		service = pool.dispatch
	}

	h, code := engine.CreateRuntime(engine.Attributes(o.attrs), service)
	if code == engine.NoError && h == engine.InvalidRuntime {
		pool.stop()
		return nil, &Error{Kind: KindFatal, Name: "EngineFault", Message: "engine returned an invalid runtime handle"}
	}
	if err := translate(code); err != nil {
		pool.stop()
		return nil, err
	}

	r := &Runtime{
		ref:      newRef(h),
		attrs:    o.attrs,
		logger:   o.logger,
		pool:     pool,
		contexts: make(map[ContextRef]weak.Pointer[Context]),
	}
	registerRuntime(r)

	st := uintptr(h)
	if err := translate(engine.SetRuntimeBeforeCollectCallback(h, st, runtimeCollecting)); err != nil {
		_ = r.Dispose()
		return nil, err
	}
	if err := translate(engine.SetRuntimeMemoryAllocationCallback(h, st, runtimeMemory)); err != nil {
		_ = r.Dispose()
		return nil, err
	}
	if o.memoryLimit > 0 {
		if err := r.SetMemoryLimit(o.memoryLimit); err != nil {
			_ = r.Dispose()
			return nil, err
		}
	}

	r.logger.Debug("runtime created",
		zap.Stringer("runtime", r.ref),
		zap.Uint32("attributes", uint32(o.attrs)),
		zap.Int("workers", o.workers))
	return r, nil
}

// runtimeCollecting forwards the engine's before-collect notification.
// Runtimes that are gone are ignored.
func runtimeCollecting(st uintptr) {
	r, ok := runtimeOf(engine.RuntimeHandle(st))
	if !ok {
		return
	}
	r.eventsMu.RLock()
	handlers := r.onCollect
	r.eventsMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

// runtimeMemory forwards allocation events. Any handler returning false
// refuses an allocation.
func runtimeMemory(st uintptr, event engine.MemoryEventType, size uintptr) bool {
	r, ok := runtimeOf(engine.RuntimeHandle(st))
	if !ok {
		return true
	}
	r.eventsMu.RLock()
	handlers := r.onMemory
	r.eventsMu.RUnlock()

	allow := true
	ev := MemoryEvent{Type: MemoryEventType(event), Size: uint64(size)}
	for _, fn := range handlers {
		if !fn(ev) {
			allow = false
		}
	}
	return allow || event != engine.MemoryAllocate
}

// OnBeforeCollect registers fn to run before every garbage collection.
// Handlers must not call back into the runtime.
func (r *Runtime) OnBeforeCollect(fn func()) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	r.onCollect = append(r.onCollect, fn)
}

// OnMemoryEvent registers fn to observe memory accounting. Returning false
// for a MemoryAllocate event makes the allocation fail with OutOfMemory.
// Handlers may run on any goroutine and must not call back into the
// runtime.
func (r *Runtime) OnMemoryEvent(fn func(MemoryEvent) bool) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	r.onMemory = append(r.onMemory, fn)
}

// Ref returns the engine handle of the runtime.
func (r *Runtime) Ref() RuntimeRef {
	return r.ref
}

// Attributes returns the attributes the runtime was created with.
func (r *Runtime) Attributes() Attributes {
	return r.attrs
}

// IsDisposed reports whether Dispose succeeded.
func (r *Runtime) IsDisposed() bool {
	return r.disposed.Load()
}

// Dispose frees the runtime and every context created in it. It fails with
// RuntimeInUse while one of its contexts is current on another goroutine.
// Calling it again after it succeeded is a no-op.
func (r *Runtime) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed.Load() {
		return nil
	}

	if cur, _ := engine.GetCurrentContext(); cur != engine.InvalidContext {
		if rh, _ := engine.GetRuntime(cur); rh == r.ref.handle() {
			if err := translate(engine.SetCurrentContext(engine.InvalidContext)); err != nil {
				return err
			}
		}
	}
	if err := translate(engine.DisposeRuntime(r.ref.handle())); err != nil {
		return err
	}
	r.disposed.Store(true)

	for ref, wp := range r.contexts {
		if c := wp.Value(); c != nil {
			c.invalidate()
		}
		delete(r.contexts, ref)
	}
	unregisterRuntime(r.ref)
	r.pool.stop()

	r.logger.Debug("runtime disposed", zap.Stringer("runtime", r.ref))
	return nil
}

// context resolves an owned context by handle.
func (r *Runtime) context(ref ContextRef) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.contexts[ref]; ok {
		return wp.Value()
	}
	return nil
}

// anyContext returns a live owned context.
func (r *Runtime) anyContext() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wp := range r.contexts {
		if c := wp.Value(); c != nil && !c.disposed.Load() {
			return c
		}
	}
	return nil
}

// CollectGarbage runs a full collection.
func (r *Runtime) CollectGarbage() error {
	if r.disposed.Load() {
		return errDisconnected("runtime")
	}
	return translate(engine.CollectGarbage(r.ref.handle()))
}

// MemoryUsage returns the bytes currently held by the runtime.
func (r *Runtime) MemoryUsage() (uint64, error) {
	if r.disposed.Load() {
		return 0, errDisconnected("runtime")
	}
	n, code := engine.GetRuntimeMemoryUsage(r.ref.handle())
	return uint64(n), translate(code)
}

// MemoryLimit returns the current limit, 0 meaning unlimited.
func (r *Runtime) MemoryLimit() (uint64, error) {
	if r.disposed.Load() {
		return 0, errDisconnected("runtime")
	}
	n, code := engine.GetRuntimeMemoryLimit(r.ref.handle())
	return uint64(n), translate(code)
}

// SetMemoryLimit caps the runtime's memory. 0 removes the limit.
func (r *Runtime) SetMemoryLimit(limit uint64) error {
	if r.disposed.Load() {
		return errDisconnected("runtime")
	}
	return translate(engine.SetRuntimeMemoryLimit(r.ref.handle(), uintptr(limit)))
}

// DisableExecution terminates running scripts and refuses new ones until
// EnableExecution. The runtime needs AttributeAllowScriptInterrupt. It may
// be called from any goroutine.
func (r *Runtime) DisableExecution() error {
	if r.disposed.Load() {
		return errDisconnected("runtime")
	}
	return translate(engine.DisableRuntimeExecution(r.ref.handle()))
}

func (r *Runtime) EnableExecution() error {
	if r.disposed.Load() {
		return errDisconnected("runtime")
	}
	return translate(engine.EnableRuntimeExecution(r.ref.handle()))
}

func (r *Runtime) IsExecutionDisabled() (bool, error) {
	if r.disposed.Load() {
		return false, errDisconnected("runtime")
	}
	disabled, code := engine.IsRuntimeExecutionDisabled(r.ref.handle())
	return disabled, translate(code)
}

// Idle performs idle-time housekeeping and returns how long the host may
// wait before calling it again. The runtime needs
// AttributeEnableIdleProcessing and at least one live context.
func (r *Runtime) Idle() (time.Duration, error) {
	if r.disposed.Load() {
		return 0, errDisconnected("runtime")
	}
	c := CurrentContext()
	if c == nil || c.runtime != r {
		c = r.anyContext()
	}
	if c == nil {
		return 0, newError(KindNoCurrentContext, "runtime has no live context")
	}
	var next uint32
	err := c.do(func() error {
		var code engine.ErrorCode
		next, code = engine.Idle()
		return c.check(code)
	})
	return time.Duration(next) * time.Millisecond, err
}
