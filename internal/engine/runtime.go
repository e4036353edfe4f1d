package engine

import (
	"runtime"
	"weak"

	"github.com/dop251/goja"
)

// idleTick is the delay, in milliseconds, Idle asks the host to wait before
// calling it again.
const idleTick = 1000

type programKey struct {
	sum [32]byte
	url string
}

type runtimeRecord struct {
	handle        RuntimeHandle
	attrs         Attributes
	threadService ThreadServiceCallback

	contexts map[ContextHandle]*contextRecord
	slots    map[ValueHandle]*slot
	objects  map[weak.Pointer[goja.Object]]ValueHandle
	symbols  map[*goja.Symbol]ValueHandle
	numbers  map[uint64]ValueHandle
	names    map[string]PropertyIDHandle
	keys     map[*goja.Symbol]PropertyIDHandle
	programs map[programKey]*goja.Program
	pinned   []ValueHandle

	undefined, null, trueValue, falseValue ValueHandle

	// active is the goroutine the runtime is current on, 0 when idle.
	active   uint64
	disabled bool
	disposed bool

	memoryLimit        uintptr
	memoryUsage        uintptr
	memoryCallback     MemoryAllocationCallback
	memoryState        uintptr
	beforeCollect      RuntimeBeforeCollectCallback
	beforeCollectState uintptr
}

// CreateRuntime creates a runtime. threadService may be nil, in which case
// background work runs inline.
func CreateRuntime(attrs Attributes, threadService ThreadServiceCallback) (RuntimeHandle, ErrorCode) {
	if attrs&^attributeMask != 0 {
		return InvalidRuntime, ErrorInvalidArgument
	}
	gid := goid()

	state.Lock()
	defer state.Unlock()
	if code := callbackGuard(gid); code != NoError {
		return InvalidRuntime, code
	}

	rt := &runtimeRecord{
		handle:        RuntimeHandle(nextHandle()),
		attrs:         attrs,
		threadService: threadService,
		contexts:      make(map[ContextHandle]*contextRecord),
		slots:         make(map[ValueHandle]*slot),
		objects:       make(map[weak.Pointer[goja.Object]]ValueHandle),
		symbols:       make(map[*goja.Symbol]ValueHandle),
		numbers:       make(map[uint64]ValueHandle),
		names:         make(map[string]PropertyIDHandle),
		keys:          make(map[*goja.Symbol]PropertyIDHandle),
		programs:      make(map[programKey]*goja.Program),
	}
	rt.undefined = rt.immortal(Undefined, goja.Undefined())
	rt.null = rt.immortal(Null, goja.Null())
	rt.trueValue = rt.immortal(Boolean, primitives.ToValue(true))
	rt.falseValue = rt.immortal(Boolean, primitives.ToValue(false))
	state.runtimes[rt.handle] = rt
	return rt.handle, NoError
}

// DisposeRuntime frees a runtime with all of its contexts and values.
// Before-collect and finalize callbacks run before it returns.
func DisposeRuntime(h RuntimeHandle) ErrorCode {
	gid := goid()

	state.Lock()
	if code := callbackGuard(gid); code != NoError {
		state.Unlock()
		return code
	}
	rt := state.runtimes[h]
	if rt == nil {
		state.Unlock()
		return ErrorInvalidArgument
	}
	if rt.active != 0 {
		state.Unlock()
		return ErrorRuntimeInUse
	}

	rt.disposed = true
	delete(state.runtimes, h)
	for ch, c := range rt.contexts {
		c.freed = true
		delete(state.contexts, ch)
	}
	var work []func()
	for vh, s := range rt.slots {
		delete(state.values, vh)
		work = append(work, s.detach()...)
	}
	for _, id := range rt.names {
		delete(state.propertyIDs, id)
	}
	for _, id := range rt.keys {
		delete(state.propertyIDs, id)
	}
	rt.contexts = nil
	rt.slots = make(map[ValueHandle]*slot)
	rt.objects = make(map[weak.Pointer[goja.Object]]ValueHandle)
	rt.programs = nil
	state.Unlock()

	for _, fn := range work {
		fn()
	}
	return NoError
}

// CollectGarbage runs the runtime before-collect callback, sweeps
// unreferenced handles and triggers a Go collection.
func CollectGarbage(h RuntimeHandle) ErrorCode {
	gid := goid()

	state.Lock()
	if code := callbackGuard(gid); code != NoError {
		state.Unlock()
		return code
	}
	rt := state.runtimes[h]
	if rt == nil {
		state.Unlock()
		return ErrorInvalidArgument
	}
	if rt.active != 0 && rt.active != gid {
		state.Unlock()
		return ErrorWrongThread
	}
	cb, st := rt.beforeCollect, rt.beforeCollectState
	state.Unlock()

	if cb != nil {
		cb(st)
	}
	rt.sweep()
	runtime.GC()
	return NoError
}

// GetRuntimeMemoryUsage reports the bytes held by the runtime's handle table.
func GetRuntimeMemoryUsage(h RuntimeHandle) (uintptr, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	rt := state.runtimes[h]
	if rt == nil {
		return 0, ErrorInvalidArgument
	}
	return rt.memoryUsage, NoError
}

// SetRuntimeMemoryLimit caps handle-table memory. Zero removes the limit.
func SetRuntimeMemoryLimit(h RuntimeHandle, limit uintptr) ErrorCode {
	state.Lock()
	defer state.Unlock()
	rt := state.runtimes[h]
	if rt == nil {
		return ErrorInvalidArgument
	}
	rt.memoryLimit = limit
	return NoError
}

func GetRuntimeMemoryLimit(h RuntimeHandle) (uintptr, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	rt := state.runtimes[h]
	if rt == nil {
		return 0, ErrorInvalidArgument
	}
	return rt.memoryLimit, NoError
}

func SetRuntimeMemoryAllocationCallback(h RuntimeHandle, st uintptr, cb MemoryAllocationCallback) ErrorCode {
	state.Lock()
	defer state.Unlock()
	rt := state.runtimes[h]
	if rt == nil {
		return ErrorInvalidArgument
	}
	rt.memoryCallback, rt.memoryState = cb, st
	return NoError
}

func SetRuntimeBeforeCollectCallback(h RuntimeHandle, st uintptr, cb RuntimeBeforeCollectCallback) ErrorCode {
	state.Lock()
	defer state.Unlock()
	rt := state.runtimes[h]
	if rt == nil {
		return ErrorInvalidArgument
	}
	rt.beforeCollect, rt.beforeCollectState = cb, st
	return NoError
}

// DisableRuntimeExecution terminates running scripts and rejects new ones
// until EnableRuntimeExecution. It may be called from any goroutine.
func DisableRuntimeExecution(h RuntimeHandle) ErrorCode {
	state.Lock()
	rt := state.runtimes[h]
	if rt == nil {
		state.Unlock()
		return ErrorInvalidArgument
	}
	if rt.attrs&AttributeAllowScriptInterrupt == 0 {
		state.Unlock()
		return ErrorCannotDisableExecution
	}
	rt.disabled = true
	vms := make([]*goja.Runtime, 0, len(rt.contexts))
	for _, c := range rt.contexts {
		vms = append(vms, c.vm)
	}
	state.Unlock()

	for _, vm := range vms {
		vm.Interrupt("script terminated")
	}
	return NoError
}

func EnableRuntimeExecution(h RuntimeHandle) ErrorCode {
	state.Lock()
	rt := state.runtimes[h]
	if rt == nil {
		state.Unlock()
		return ErrorInvalidArgument
	}
	rt.disabled = false
	vms := make([]*goja.Runtime, 0, len(rt.contexts))
	for _, c := range rt.contexts {
		vms = append(vms, c.vm)
	}
	state.Unlock()

	for _, vm := range vms {
		vm.ClearInterrupt()
	}
	return NoError
}

func IsRuntimeExecutionDisabled(h RuntimeHandle) (bool, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	rt := state.runtimes[h]
	if rt == nil {
		return false, ErrorInvalidArgument
	}
	return rt.disabled, NoError
}

// Idle sweeps the current runtime and returns the number of milliseconds
// until the next idle call is useful.
func Idle() (uint32, ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return 0, code
	}
	if c.rt.attrs&AttributeEnableIdleProcessing == 0 {
		return 0, ErrorIdleNotEnabled
	}
	c.rt.sweep()
	return idleTick, NoError
}

// immortal must be called with state locked.
func (rt *runtimeRecord) immortal(kind ValueType, v goja.Value) ValueHandle {
	s := &slot{rt: rt, kind: kind, value: v, immortal: true}
	s.handle = ValueHandle(nextHandle())
	rt.slots[s.handle] = s
	state.values[s.handle] = s
	return s.handle
}

// insert registers a new slot and pins it. Must be called with state locked.
func (rt *runtimeRecord) insert(s *slot) ValueHandle {
	s.handle = ValueHandle(nextHandle())
	rt.slots[s.handle] = s
	state.values[s.handle] = s
	rt.pin(s)
	return s.handle
}

// pin must be called with state locked.
func (rt *runtimeRecord) pin(s *slot) {
	if s.immortal || s.pinned {
		return
	}
	s.pinned = true
	rt.pinned = append(rt.pinned, s.handle)
}

// drop removes s from the tables. Must be called with state locked.
func (rt *runtimeRecord) drop(s *slot) {
	delete(state.values, s.handle)
	delete(rt.slots, s.handle)
	if s.isObject {
		delete(rt.objects, s.weak)
	}
	if sym, ok := s.value.(*goja.Symbol); ok {
		delete(rt.symbols, sym)
	}
	rt.memoryUsage -= s.size
}

// idle unpins every handle pinned during the last activation and returns
// the sweep to run once the lock is released. Must be called with state
// locked.
func (rt *runtimeRecord) idle() func() {
	rt.active = 0
	for _, h := range rt.pinned {
		if s := state.values[h]; s != nil {
			s.pinned = false
		}
	}
	rt.pinned = nil
	return rt.scheduleSweep
}

func (rt *runtimeRecord) scheduleSweep() {
	if rt.threadService != nil && rt.attrs&AttributeDisableBackgroundWork == 0 {
		accepted := false
		runCallback(inThreadService, func() {
			accepted = rt.threadService(rt.sweep)
		})
		if accepted {
			return
		}
	}
	rt.sweep()
}

// sweep frees unreferenced strings and symbols and demotes unreferenced
// objects to weak references.
func (rt *runtimeRecord) sweep() {
	state.Lock()
	if rt.disposed {
		state.Unlock()
		return
	}
	var freed uintptr
	for _, s := range rt.slots {
		if s.immortal || s.pinned || s.refs > 0 {
			continue
		}
		if s.isObject {
			s.value = nil
			continue
		}
		freed += s.size
		rt.drop(s)
	}
	cb, st := rt.memoryCallback, rt.memoryState
	state.Unlock()

	if freed > 0 && cb != nil {
		cb(st, MemoryFree, freed)
	}
}

// charge accounts size bytes against the memory limit. Must be called
// without state locked.
func (rt *runtimeRecord) charge(size uintptr) ErrorCode {
	state.Lock()
	limit, usage := rt.memoryLimit, rt.memoryUsage
	cb, st := rt.memoryCallback, rt.memoryState
	state.Unlock()

	if limit != 0 && usage+size > limit {
		if cb != nil {
			cb(st, MemoryFailure, size)
		}
		return ErrorOutOfMemory
	}
	if cb != nil && !cb(st, MemoryAllocate, size) {
		return ErrorOutOfMemory
	}
	state.Lock()
	rt.memoryUsage += size
	state.Unlock()
	return NoError
}

// refund returns memory taken by charge when the allocation was abandoned.
func (rt *runtimeRecord) refund(size uintptr) {
	state.Lock()
	rt.memoryUsage -= size
	state.Unlock()
}
