package engine

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

const strictHelpers = `(function () {
	"use strict";
	var typed = [Int8Array, Uint8Array, Uint8ClampedArray, Int16Array, Uint16Array,
		Int32Array, Uint32Array, Float32Array, Float64Array,
		typeof BigInt64Array === "function" ? BigInt64Array : null,
		typeof BigUint64Array === "function" ? BigUint64Array : null];
	return {
		get: function (o, k) { return o[k]; },
		set: function (o, k, v) { o[k] = v; },
		has: function (o, k) { return k in o; },
		del: function (o, k) { return delete o[k]; },
		define: function (o, k, d) { return Reflect.defineProperty(o, k, d); },
		descriptor: function (o, k) { return Object.getOwnPropertyDescriptor(o, k); },
		names: function (o) { return Object.getOwnPropertyNames(o); },
		symbols: function (o) { return Object.getOwnPropertySymbols(o); },
		instanceOf: function (o, c) { return o instanceof c; },
		equals: function (a, b) { return a == b; },
		getPrototype: function (o) { return Object.getPrototypeOf(o); },
		setPrototype: function (o, p) { Object.setPrototypeOf(o, p); },
		preventExtensions: function (o) { Object.preventExtensions(o); },
		isExtensible: function (o) { return Object.isExtensible(o); },
		length: function (s) { return s.length; },
		toString: function (v) {
			if (typeof v === "symbol") throw new TypeError("Cannot convert a Symbol value to a string");
			return String(v);
		},
		toNumber: function (v) { return Number(v); },
		toObject: function (v) {
			if (v === null || v === undefined) throw new TypeError("Cannot convert undefined or null to object");
			return Object(v);
		},
		symbol: function (d) { return Symbol(d); },
		array: function (n) { return new Array(n); },
		classify: function (v) {
			if (typeof v === "function") return "function";
			if (Array.isArray(v)) return "array";
			if (v instanceof ArrayBuffer) return "arraybuffer";
			if (v instanceof DataView) return "dataview";
			if (ArrayBuffer.isView(v)) return "typedarray";
			if (v instanceof Error) return "error";
			return "object";
		},
		typedKind: function (v) {
			for (var i = 0; i < typed.length; i++) {
				if (typed[i] !== null && v instanceof typed[i]) return i;
			}
			return -1;
		},
		view: function (v) { return [v.buffer, v.byteOffset, v.byteLength]; },
		promise: function (P) {
			var resolve, reject;
			var p = new P(function (a, b) { resolve = a; reject = b; });
			return [p, resolve, reject];
		},
		makeFunction: function (call, name) {
			var fn = function () {
				return call.apply(undefined, [this instanceof fn, this, fn].concat(Array.prototype.slice.call(arguments)));
			};
			if (name !== undefined) {
				Object.defineProperty(fn, "name", { value: String(name), configurable: true });
			}
			return fn;
		}
	};
})()`

const sloppyHelpers = `(function () {
	return {
		set: function (o, k, v) { o[k] = v; },
		del: function (o, k) { return delete o[k]; }
	};
})()`

var errorConstructors = []string{
	"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "URIError", "EvalError",
}

type helpers struct {
	get, set, setSloppy, has, del, delSloppy         goja.Callable
	define, descriptor, names, symbols, instanceOf   goja.Callable
	equals, getPrototype, setPrototype               goja.Callable
	preventExtensions, isExtensible, length          goja.Callable
	toString, toNumber, toObject, symbol, array      goja.Callable
	classify, typedKind, view, promise, makeFunction goja.Callable

	ctors map[string]goja.Value
}

type contextRecord struct {
	handle ContextHandle
	rt     *runtimeRecord
	vm     *goja.Runtime

	refs     uint32
	released bool
	freed    bool

	exception       goja.Value
	evalDisabledHit bool
	promiseCallback PromiseContinuationCallback
	promiseState    uintptr

	helpers helpers
}

// CreateContext creates a context (realm) in rt.
func CreateContext(h RuntimeHandle) (ContextHandle, ErrorCode) {
	gid := goid()
	state.Lock()
	if code := callbackGuard(gid); code != NoError {
		state.Unlock()
		return InvalidContext, code
	}
	rt := state.runtimes[h]
	if rt == nil {
		state.Unlock()
		return InvalidContext, ErrorInvalidArgument
	}
	if rt.active != 0 && rt.active != gid {
		state.Unlock()
		return InvalidContext, ErrorWrongThread
	}
	state.Unlock()

	c := &contextRecord{rt: rt, vm: goja.New()}
	if err := c.install(); err != nil {
		return InvalidContext, ErrorFatal
	}

	state.Lock()
	defer state.Unlock()
	if rt.disposed {
		return InvalidContext, ErrorInvalidArgument
	}
	c.handle = ContextHandle(nextHandle())
	rt.contexts[c.handle] = c
	state.contexts[c.handle] = c
	return c.handle, NoError
}

func (c *contextRecord) install() error {
	vm := c.vm
	if err := c.bindHelpers(strictHelpers, map[string]*goja.Callable{
		"get": &c.helpers.get, "set": &c.helpers.set, "has": &c.helpers.has,
		"del": &c.helpers.del, "define": &c.helpers.define, "descriptor": &c.helpers.descriptor,
		"names": &c.helpers.names, "symbols": &c.helpers.symbols, "instanceOf": &c.helpers.instanceOf,
		"equals": &c.helpers.equals, "getPrototype": &c.helpers.getPrototype,
		"setPrototype": &c.helpers.setPrototype, "preventExtensions": &c.helpers.preventExtensions,
		"isExtensible": &c.helpers.isExtensible, "length": &c.helpers.length,
		"toString": &c.helpers.toString, "toNumber": &c.helpers.toNumber, "toObject": &c.helpers.toObject,
		"symbol": &c.helpers.symbol, "array": &c.helpers.array, "classify": &c.helpers.classify,
		"typedKind": &c.helpers.typedKind, "view": &c.helpers.view, "promise": &c.helpers.promise,
		"makeFunction": &c.helpers.makeFunction,
	}); err != nil {
		return err
	}
	if err := c.bindHelpers(sloppyHelpers, map[string]*goja.Callable{
		"set": &c.helpers.setSloppy, "del": &c.helpers.delSloppy,
	}); err != nil {
		return err
	}

	c.helpers.ctors = make(map[string]goja.Value)
	for _, name := range errorConstructors {
		c.helpers.ctors[name] = vm.Get(name)
	}
	for _, meta := range typedArrayMeta {
		c.helpers.ctors[meta.ctor] = vm.Get(meta.ctor)
	}
	c.helpers.ctors["DataView"] = vm.Get("DataView")
	if err := c.installPromise(); err != nil {
		return err
	}

	if err := vm.Set("queueMicrotask", c.queueMicrotask); err != nil {
		return err
	}
	if c.rt.attrs&AttributeDisableEval != 0 {
		if err := vm.Set("eval", c.evalDisabled); err != nil {
			return err
		}
	}
	return nil
}

func (c *contextRecord) bindHelpers(src string, into map[string]*goja.Callable) error {
	v, err := c.vm.RunString(src)
	if err != nil {
		return err
	}
	obj := v.ToObject(c.vm)
	for name, dst := range into {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return fmt.Errorf("engine: helper %q is not a function", name)
		}
		*dst = fn
	}
	return nil
}

func (c *contextRecord) queueMicrotask(call goja.FunctionCall) goja.Value {
	task := call.Argument(0)
	if _, ok := goja.AssertFunction(task); !ok {
		panic(c.vm.NewTypeError("queueMicrotask: argument must be a function"))
	}
	c.handOff(task)
	return goja.Undefined()
}

func (c *contextRecord) evalDisabled(goja.FunctionCall) goja.Value {
	c.evalDisabledHit = true
	ex, err := c.vm.New(c.helpers.ctors["EvalError"], c.vm.ToValue("eval is disabled"))
	if err != nil {
		panic(c.vm.NewGoError(err))
	}
	panic(ex)
}

// free must be called with state locked; the returned work runs unlocked.
func (c *contextRecord) free() []func() {
	c.freed = true
	delete(state.contexts, c.handle)
	delete(c.rt.contexts, c.handle)
	var work []func()
	for _, s := range c.rt.slots {
		if s.ctx != c {
			continue
		}
		c.rt.drop(s)
		work = append(work, s.detach()...)
	}
	return work
}

func ContextAddRef(h ContextHandle) (uint32, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	c := state.contexts[h]
	if c == nil {
		return 0, ErrorInvalidArgument
	}
	c.refs++
	return c.refs, NoError
}

// ContextRelease drops a reference. The context is freed at zero, or when
// it stops being current if it is current at that moment.
func ContextRelease(h ContextHandle) (uint32, ErrorCode) {
	state.Lock()
	c := state.contexts[h]
	if c == nil || c.refs == 0 {
		state.Unlock()
		return 0, ErrorInvalidArgument
	}
	c.refs--
	refs := c.refs
	var work []func()
	if refs == 0 {
		c.released = true
		if c.rt.active == 0 || state.current[c.rt.active] != c {
			work = c.free()
		}
	}
	state.Unlock()

	for _, fn := range work {
		fn()
	}
	return refs, NoError
}

// SetCurrentContext makes h current on the calling goroutine. InvalidContext
// clears the current context.
func SetCurrentContext(h ContextHandle) ErrorCode {
	gid := goid()
	var work []func()

	state.Lock()
	if code := callbackGuard(gid); code != NoError {
		state.Unlock()
		return code
	}
	prev := state.current[gid]
	var next *contextRecord
	if h != InvalidContext {
		next = state.contexts[h]
		if next == nil {
			state.Unlock()
			return ErrorInvalidArgument
		}
		if a := next.rt.active; a != 0 && a != gid {
			state.Unlock()
			return ErrorRuntimeInUse
		}
	}
	if prev == next {
		state.Unlock()
		return NoError
	}
	if prev != nil {
		delete(state.current, gid)
		if next == nil || next.rt != prev.rt {
			work = append(work, prev.rt.idle())
		}
		if prev.released && !prev.freed {
			work = append(work, prev.free()...)
		}
	}
	if next != nil {
		state.current[gid] = next
		next.rt.active = gid
	}
	state.Unlock()

	for _, fn := range work {
		fn()
	}
	return NoError
}

func GetCurrentContext() (ContextHandle, ErrorCode) {
	gid := goid()
	state.Lock()
	defer state.Unlock()
	if c := state.current[gid]; c != nil {
		return c.handle, NoError
	}
	return InvalidContext, NoError
}

func GetRuntime(h ContextHandle) (RuntimeHandle, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	c := state.contexts[h]
	if c == nil {
		return InvalidRuntime, ErrorInvalidArgument
	}
	return c.rt.handle, NoError
}

// GetContextOfObject returns the context an object was created in.
func GetContextOfObject(h ValueHandle) (ContextHandle, ErrorCode) {
	if isTagged(h) {
		return InvalidContext, ErrorArgumentNotObject
	}
	state.Lock()
	defer state.Unlock()
	s := state.values[h]
	if s == nil {
		return InvalidContext, ErrorInvalidArgument
	}
	if !s.isObject {
		return InvalidContext, ErrorArgumentNotObject
	}
	return s.ctx.handle, NoError
}

// SetPromiseContinuationCallback installs cb on the current context. It
// receives queueMicrotask tasks and promise jobs in queue order. With a nil
// cb queueMicrotask tasks are dropped and promise jobs run on goja's own
// queue.
func SetPromiseContinuationCallback(cb PromiseContinuationCallback, st uintptr) ErrorCode {
	c, code := enter(true)
	if code != NoError {
		return code
	}
	state.Lock()
	c.promiseCallback, c.promiseState = cb, st
	state.Unlock()
	return NoError
}

// enter resolves the current context of the calling goroutine.
// allowException lets the call proceed while an exception is pending.
func enter(allowException bool) (*contextRecord, ErrorCode) {
	gid := goid()
	state.Lock()
	defer state.Unlock()
	c := state.current[gid]
	if c == nil {
		return nil, ErrorNoCurrentContext
	}
	if !allowException && c.exception != nil {
		return nil, ErrorInExceptionState
	}
	return c, NoError
}

// enterScript is enter for operations that may run script.
func enterScript() (*contextRecord, ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return nil, code
	}
	state.Lock()
	disabled := c.rt.disabled
	state.Unlock()
	if disabled {
		return nil, ErrorInDisabledState
	}
	return c, NoError
}

// invoke calls fn with an undefined receiver.
func (c *contextRecord) invoke(fn goja.Callable, args ...goja.Value) (goja.Value, ErrorCode) {
	res, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, c.fail(err)
	}
	return res, NoError
}

// fail records the exception carried by err and returns the matching code.
func (c *contextRecord) fail(err error) ErrorCode {
	var (
		interrupted *goja.InterruptedError
		exception   *goja.Exception
	)
	switch {
	case errors.As(err, &interrupted):
		return ErrorScriptTerminated
	case errors.As(err, &exception):
		c.setException(exception.Value())
		if c.evalDisabledHit {
			c.evalDisabledHit = false
			return ErrorScriptEvalDisabled
		}
		return ErrorScriptException
	}
	c.setException(c.vm.NewGoError(err))
	return ErrorScriptException
}

func (c *contextRecord) setException(v goja.Value) {
	if v == nil {
		v = goja.Undefined()
	}
	state.Lock()
	c.exception = v
	state.Unlock()
}

func HasException() (bool, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return false, code
	}
	state.Lock()
	defer state.Unlock()
	return c.exception != nil, NoError
}

// GetAndClearException returns the pending exception and leaves the
// context usable again.
func GetAndClearException() (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	state.Lock()
	ex := c.exception
	c.exception = nil
	state.Unlock()
	if ex == nil {
		return InvalidValue, ErrorInvalidArgument
	}
	return c.wrap(ex)
}

// SetException makes h the pending exception of the current context.
func SetException(h ValueHandle) ErrorCode {
	c, code := enter(true)
	if code != NoError {
		return code
	}
	v, code := c.value(h)
	if code != NoError {
		return code
	}
	c.setException(v)
	return NoError
}
