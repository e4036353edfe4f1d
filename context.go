package jsrt

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"weak"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// Context is an execution context (realm) of a Runtime. Each context has its
// own global object. Primitive values may be passed between contexts of one
// runtime; objects and symbols belong to the context that created them.
//
// Methods make the context current on the calling goroutine for the
// duration of the call and restore the previous one afterwards. Use or Run
// keep it current across several calls.
type Context struct {
	runtime  *Runtime
	ref      ContextRef
	disposed atomic.Bool
	tasks    *taskQueue
	token    uintptr

	// depth counts nested executions; microtasks drain when the outermost
	// one returns.
	depth int
	// handoff holds references on host function results until the engine
	// has consumed them.
	handoff []engine.ValueHandle

	cleanup runtime.Cleanup
}

type contextState struct {
	ref   engine.ContextHandle
	token uintptr
}

// releaseContext runs when a Context is collected without Dispose.
func releaseContext(st contextState) {
	tokens.Delete(st.token)
	_, _ = engine.ContextRelease(st.ref)
}

// NewContext creates a context owned by r.
func (r *Runtime) NewContext() (*Context, error) {
	if r.disposed.Load() {
		return nil, errDisconnected("runtime")
	}
	h, code := engine.CreateContext(r.ref.handle())
	if err := translate(code); err != nil {
		return nil, err
	}
	if _, code := engine.ContextAddRef(h); code != engine.NoError {
		return nil, translate(code)
	}

	c := &Context{runtime: r, ref: newRef(h), tasks: newTaskQueue()}
	c.token = tokens.Store(weak.Make(c))
	c.cleanup = runtime.AddCleanup(c, releaseContext, contextState{ref: h, token: c.token})

	r.mu.Lock()
	r.contexts[c.ref] = weak.Make(c)
	r.mu.Unlock()

	if err := c.do(c.installContinuations); err != nil {
		_ = c.Dispose()
		return nil, err
	}
	r.logger.Debug("context created", zap.Stringer("runtime", r.ref), zap.Stringer("context", c.ref))
	return c, nil
}

// Runtime returns the runtime of the context.
func (c *Context) Runtime() *Runtime {
	return c.runtime
}

// Ref returns the engine handle of the context.
func (c *Context) Ref() ContextRef {
	return c.ref
}

// IsDisposed reports whether the context or its runtime has been disposed.
func (c *Context) IsDisposed() bool {
	return c.disposed.Load() || c.runtime.disposed.Load()
}

// Dispose releases the context. Values created in it become unusable. It is
// safe to call more than once, and after the runtime was disposed.
func (c *Context) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	r := c.runtime
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed.Load() {
		return nil
	}

	var err error
	if cur, _ := engine.GetCurrentContext(); cur == c.ref.handle() {
		err = translate(engine.SetCurrentContext(engine.InvalidContext))
	}
	c.tasks.release()
	c.releaseHandoff()
	delete(r.contexts, c.ref)
	c.cleanup.Stop()
	tokens.Delete(c.token)
	if _, code := engine.ContextRelease(c.ref.handle()); code != engine.NoError && err == nil {
		err = translate(code)
	}
	r.logger.Debug("context disposed", zap.Stringer("runtime", r.ref), zap.Stringer("context", c.ref))
	return err
}

// invalidate marks the context disposed after its runtime was freed. The
// engine already dropped every handle, so nothing is released.
func (c *Context) invalidate() {
	c.disposed.Store(true)
	c.cleanup.Stop()
	tokens.Delete(c.token)
	c.tasks.reset()
	c.handoff = nil
}

// CurrentContext returns the context current on the calling goroutine, or
// nil if none is or the current context is not managed by this package.
func CurrentContext() *Context {
	h, code := engine.GetCurrentContext()
	if code != engine.NoError || h == engine.InvalidContext {
		return nil
	}
	rh, code := engine.GetRuntime(h)
	if code != engine.NoError {
		return nil
	}
	r, ok := runtimeOf(rh)
	if !ok {
		return nil
	}
	return r.context(newRef(h))
}

// do runs fn with c current on the calling goroutine.
func (c *Context) do(fn func() error) error {
	if c.IsDisposed() {
		return errDisconnected("context")
	}
	prev, code := engine.GetCurrentContext()
	if err := translate(code); err != nil {
		return err
	}
	if prev == c.ref.handle() {
		return fn()
	}
	if err := translate(engine.SetCurrentContext(c.ref.handle())); err != nil {
		return err
	}
	defer restoreContext(prev)
	return fn()
}

// restoreContext makes prev current again, or clears the current context
// when prev is gone.
func restoreContext(prev engine.ContextHandle) {
	if engine.SetCurrentContext(prev) != engine.NoError {
		_ = engine.SetCurrentContext(engine.InvalidContext)
	}
}

// execute runs a script entry point and wraps its result. When it is the
// outermost execution on c, queued microtasks run before it returns; a
// failing microtask is reported together with the result.
func (c *Context) execute(run func() (engine.ValueHandle, error)) (Value, error) {
	var v Value
	err := c.do(func() error {
		c.depth++
		defer func() {
			c.depth--
			if c.depth == 0 {
				c.releaseHandoff()
			}
		}()
		h, err := run()
		if err != nil {
			return err
		}
		if v, err = c.wrap(h); err != nil {
			return err
		}
		if c.depth == 1 {
			return c.drain()
		}
		return nil
	})
	return v, err
}

func (c *Context) releaseHandoff() {
	for _, h := range c.handoff {
		_, _ = engine.Release(h)
	}
	c.handoff = c.handoff[:0]
}

// create wraps the handle produced by fn as a T.
func create[T Value](c *Context, fn func() (engine.ValueHandle, engine.ErrorCode)) (T, error) {
	var v T
	err := c.do(func() error {
		h, code := fn()
		if err := c.check(code); err != nil {
			return err
		}
		var err error
		v, err = as[T](c.wrap(h))
		return err
	})
	return v, err
}

// withString runs fn with a string handle for s.
func withString(s string, fn func(engine.ValueHandle) (engine.ValueHandle, engine.ErrorCode)) func() (engine.ValueHandle, engine.ErrorCode) {
	return func() (engine.ValueHandle, engine.ErrorCode) {
		sh, code := engine.CreateString(s)
		if code != engine.NoError {
			return engine.InvalidValue, code
		}
		return fn(sh)
	}
}

// Undefined returns the undefined value.
func (c *Context) Undefined() (*Undefined, error) {
	return create[*Undefined](c, engine.GetUndefinedValue)
}

// Null returns the null value.
func (c *Context) Null() (*Null, error) {
	return create[*Null](c, engine.GetNullValue)
}

func (c *Context) Bool(b bool) (*Boolean, error) {
	return create[*Boolean](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.BoolToBoolean(b)
	})
}

func (c *Context) Number(f float64) (*Number, error) {
	return create[*Number](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.DoubleToNumber(f)
	})
}

func (c *Context) Int(i int) (*Number, error) {
	return create[*Number](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.IntToNumber(i)
	})
}

func (c *Context) String(s string) (*String, error) {
	return create[*String](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.CreateString(s)
	})
}

// Object returns a new empty object.
func (c *Context) Object() (*Object, error) {
	return create[*Object](c, engine.CreateObject)
}

// Array returns a new empty array.
func (c *Context) Array() (*Array, error) {
	return create[*Array](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.CreateArray(0)
	})
}

// Symbol returns a new unique symbol.
func (c *Context) Symbol(description string) (*Symbol, error) {
	return create[*Symbol](c, withString(description, engine.CreateSymbol))
}

// Error returns a new Error object with the given message.
func (c *Context) Error(message string) (*ErrorObject, error) {
	return create[*ErrorObject](c, withString(message, engine.CreateError))
}

func (c *Context) TypeError(message string) (*ErrorObject, error) {
	return create[*ErrorObject](c, withString(message, engine.CreateTypeError))
}

func (c *Context) RangeError(message string) (*ErrorObject, error) {
	return create[*ErrorObject](c, withString(message, engine.CreateRangeError))
}

func (c *Context) SyntaxError(message string) (*ErrorObject, error) {
	return create[*ErrorObject](c, withString(message, engine.CreateSyntaxError))
}

func (c *Context) ReferenceError(message string) (*ErrorObject, error) {
	return create[*ErrorObject](c, withString(message, engine.CreateReferenceError))
}

func (c *Context) URIError(message string) (*ErrorObject, error) {
	return create[*ErrorObject](c, withString(message, engine.CreateURIError))
}

// Global returns the global object.
func (c *Context) Global() (*Object, error) {
	return create[*Object](c, engine.GetGlobalObject)
}

// Promise is a pending promise together with the functions settling it.
type Promise struct {
	Promise *Object
	Resolve *Function
	Reject  *Function
}

// Free releases all three values.
func (p *Promise) Free() {
	p.Promise.Free()
	p.Resolve.Free()
	p.Reject.Free()
}

// Promise returns a new pending promise.
func (c *Context) Promise() (*Promise, error) {
	var p *Promise
	err := c.do(func() error {
		ph, resolve, reject, code := engine.CreatePromise()
		if err := c.check(code); err != nil {
			return err
		}
		vals, err := c.wrapAll([]engine.ValueHandle{ph, resolve, reject})
		if err != nil {
			return err
		}
		obj, ok1 := vals[0].(*Object)
		res, ok2 := vals[1].(*Function)
		rej, ok3 := vals[2].(*Function)
		if !ok1 || !ok2 || !ok3 {
			freeAll(vals)
			return newError(KindFatal, "unexpected promise capability")
		}
		p = &Promise{Promise: obj, Resolve: res, Reject: rej}
		return nil
	})
	return p, err
}

// HasException reports whether an exception is pending on the context.
func (c *Context) HasException() (bool, error) {
	var has bool
	err := c.do(func() error {
		var code engine.ErrorCode
		has, code = engine.HasException()
		return translate(code)
	})
	return has, err
}

// Throw sets v as the pending exception. Inside a HostFunc, returning an
// error is usually simpler.
func (c *Context) Throw(v Value) error {
	if v == nil {
		return newError(KindInvalidArgument, "nil exception")
	}
	return c.do(func() error {
		h, err := v.base().handle()
		if err != nil {
			return err
		}
		return translate(engine.SetException(h))
	})
}

// ThrowError sets an Error built from err as the pending exception.
func (c *Context) ThrowError(err error) error {
	e, cerr := c.Error(err.Error())
	if cerr != nil {
		return cerr
	}
	defer e.Free()
	return c.Throw(e)
}

// ThrowTypeError sets a TypeError as the pending exception.
func (c *Context) ThrowTypeError(format string, args ...any) error {
	e, err := c.TypeError(fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	defer e.Free()
	return c.Throw(e)
}

// ThrowRangeError sets a RangeError as the pending exception.
func (c *Context) ThrowRangeError(format string, args ...any) error {
	e, err := c.RangeError(fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	defer e.Free()
	return c.Throw(e)
}

// TakeException clears and returns the pending exception. It returns nil
// when none is pending.
func (c *Context) TakeException() (Value, error) {
	var v Value
	err := c.do(func() error {
		has, code := engine.HasException()
		if err := translate(code); err != nil || !has {
			return err
		}
		h, code := engine.GetAndClearException()
		if err := translate(code); err != nil {
			return err
		}
		var err error
		v, err = c.wrap(h)
		return err
	})
	return v, err
}
