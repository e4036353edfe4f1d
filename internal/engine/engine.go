// Package engine exposes an embedded ECMAScript engine through an opaque,
// handle-based API. Runtimes, contexts, property ids and values are plain
// pointer-sized handles; every entry point reports an ErrorCode.
//
// The engine is built on goja. Each context is a separate goja runtime
// (realm); a runtime groups contexts that may share primitive values, while
// objects stay bound to the context that created them. A runtime may be
// active on a single goroutine at a time, and the current context is tracked
// per goroutine.
//
// Value handles are reference counted. Handles returned while a context is
// current are pinned until the owning runtime goes idle; after that only the
// reference count keeps them alive. Objects with no references are held
// weakly and disappear when the Go garbage collector reclaims them.
package engine

import (
	"runtime"
	"sync"
)

type (
	RuntimeHandle    uintptr
	ContextHandle    uintptr
	PropertyIDHandle uintptr
	ValueHandle      uintptr
)

const (
	InvalidRuntime    RuntimeHandle    = 0
	InvalidContext    ContextHandle    = 0
	InvalidPropertyID PropertyIDHandle = 0
	InvalidValue      ValueHandle      = 0
)

// ValueType is the kind reported for a value handle.
type ValueType int

const (
	Undefined ValueType = iota
	Null
	Number
	String
	Boolean
	Object
	Function
	Error
	Array
	Symbol
	ArrayBuffer
	TypedArray
	DataView
)

var valueTypeNames = [...]string{
	"undefined", "null", "number", "string", "boolean", "object", "function",
	"error", "array", "symbol", "arraybuffer", "typedarray", "dataview",
}

func (t ValueType) String() string {
	if t >= 0 && int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}

// TypedArrayType identifies the element type of a typed array.
type TypedArrayType int

const (
	Int8 TypedArrayType = iota
	Uint8
	Uint8Clamped
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
	BigInt64
	BigUint64
)

var typedArrayMeta = [...]struct {
	ctor string
	size int
}{
	{"Int8Array", 1}, {"Uint8Array", 1}, {"Uint8ClampedArray", 1},
	{"Int16Array", 2}, {"Uint16Array", 2}, {"Int32Array", 4},
	{"Uint32Array", 4}, {"Float32Array", 4}, {"Float64Array", 8},
	{"BigInt64Array", 8}, {"BigUint64Array", 8},
}

func (t TypedArrayType) String() string {
	if t >= 0 && int(t) < len(typedArrayMeta) {
		return typedArrayMeta[t].ctor
	}
	return "unknown"
}

// ElementSize returns the byte width of one element.
func (t TypedArrayType) ElementSize() int {
	if t >= 0 && int(t) < len(typedArrayMeta) {
		return typedArrayMeta[t].size
	}
	return 0
}

// PropertyIDType tells string keys from symbol keys.
type PropertyIDType int

const (
	PropertyIDString PropertyIDType = iota
	PropertyIDSymbol
)

// Attributes configure a runtime at creation.
type Attributes uint32

const (
	AttributeNone                            Attributes = 0
	AttributeDisableBackgroundWork           Attributes = 0x1
	AttributeAllowScriptInterrupt            Attributes = 0x2
	AttributeEnableIdleProcessing            Attributes = 0x4
	AttributeDisableNativeCodeGeneration     Attributes = 0x8
	AttributeDisableEval                     Attributes = 0x10
	AttributeEnableExperimentalFeatures      Attributes = 0x20
	AttributeDispatchSetExceptionsToDebugger Attributes = 0x40

	attributeMask Attributes = 0x7f
)

// MemoryEventType tags a memory allocation callback.
type MemoryEventType int

const (
	MemoryAllocate MemoryEventType = iota
	MemoryFree
	MemoryFailure
)

type (
	// NativeFunction is called for host functions. args[0] is the this value.
	// Returning InvalidValue yields undefined, unless an exception was set
	// with SetException, in which case it is thrown.
	NativeFunction func(callee ValueHandle, isConstruct bool, args []ValueHandle, state uintptr) ValueHandle

	// BeforeCollectCallback runs on the collector goroutine when an object
	// handle is reclaimed.
	BeforeCollectCallback func(ref ValueHandle, state uintptr)

	// RuntimeBeforeCollectCallback runs before every collection.
	RuntimeBeforeCollectCallback func(state uintptr)

	// MemoryAllocationCallback observes handle-table memory. Returning false
	// for MemoryAllocate refuses the allocation.
	MemoryAllocationCallback func(state uintptr, event MemoryEventType, size uintptr) bool

	// PromiseContinuationCallback receives a task to run after the current
	// script turn.
	PromiseContinuationCallback func(task ValueHandle, state uintptr)

	// BackgroundWorkItem is a unit of engine housekeeping.
	BackgroundWorkItem func()

	// ThreadServiceCallback schedules background work. Returning false makes
	// the engine run the item inline.
	ThreadServiceCallback func(item BackgroundWorkItem) bool

	// FinalizeCallback releases an external buffer.
	FinalizeCallback func(state uintptr)

	// SerializedSourceLoadCallback produces the source of a serialized script
	// on demand.
	SerializedSourceLoadCallback func(sourceContext uintptr) (string, bool)

	// SerializedSourceUnloadCallback tells the host the source is no longer
	// needed.
	SerializedSourceUnloadCallback func(sourceContext uintptr)
)

// callbackKind records which engine callback a goroutine is executing.
type callbackKind int

const (
	inThreadService callbackKind = iota + 1
	inBeforeCollect
)

var state = struct {
	sync.Mutex
	next        uintptr
	runtimes    map[RuntimeHandle]*runtimeRecord
	contexts    map[ContextHandle]*contextRecord
	values      map[ValueHandle]*slot
	propertyIDs map[PropertyIDHandle]*propertyID
	current     map[uint64]*contextRecord
	callbacks   map[uint64]callbackKind
}{
	runtimes:    make(map[RuntimeHandle]*runtimeRecord),
	contexts:    make(map[ContextHandle]*contextRecord),
	values:      make(map[ValueHandle]*slot),
	propertyIDs: make(map[PropertyIDHandle]*propertyID),
	current:     make(map[uint64]*contextRecord),
	callbacks:   make(map[uint64]callbackKind),
}

// nextHandle must be called with state locked. Handles are even; odd value
// handles carry small integers.
func nextHandle() uintptr {
	state.next += 2
	return state.next
}

// goid returns the id of the calling goroutine.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:..."
	var id uint64
	for i := len("goroutine "); i < n && buf[i] != ' '; i++ {
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// runCallback marks the calling goroutine as inside an engine callback for
// the duration of fn.
func runCallback(kind callbackKind, fn func()) {
	gid := goid()
	state.Lock()
	prev, had := state.callbacks[gid]
	state.callbacks[gid] = kind
	state.Unlock()
	defer func() {
		state.Lock()
		if had {
			state.callbacks[gid] = prev
		} else {
			delete(state.callbacks, gid)
		}
		state.Unlock()
	}()
	fn()
}

// callbackGuard must be called with state locked.
func callbackGuard(gid uint64) ErrorCode {
	switch state.callbacks[gid] {
	case inThreadService:
		return ErrorInThreadServiceCallback
	case inBeforeCollect:
		return ErrorInObjectBeforeCollectCallback
	}
	return NoError
}
