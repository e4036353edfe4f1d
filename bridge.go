package jsrt

import (
	"errors"
	"fmt"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// HostFunc implements a script function in Go. this is the receiver, with
// null and undefined replaced by the global object. Returning an error
// throws it into the calling script; returning a nil Value yields undefined.
type HostFunc func(ctx *Context, this ObjectValue, args []Value) (Value, error)

type functionRegistration struct {
	ref   ValueRef
	ctx   *Context
	fn    HostFunc
	name  string
	token uintptr
}

// Function creates a script function backed by fn. The registration is
// dropped when the engine collects the function.
func (c *Context) Function(name string, fn HostFunc) (*Function, error) {
	if fn == nil {
		return nil, newError(KindInvalidArgument, "nil host function")
	}
	reg := &functionRegistration{ctx: c, fn: fn, name: name}
	reg.token = tokens.Store(reg)

	var f *Function
	err := c.do(func() error {
		nameH, code := engine.CreateString(name)
		if err := c.check(code); err != nil {
			return err
		}
		h, code := engine.CreateNamedFunction(nameH, trampoline, reg.token)
		if err := c.check(code); err != nil {
			return err
		}
		reg.ref = newRef(h)
		registerFunction(reg)
		if err := c.check(engine.SetObjectBeforeCollectCallback(h, reg.token, functionCollected)); err != nil {
			unregisterFunction(reg.ref)
			return err
		}
		var err error
		f, err = as[*Function](c.wrap(h))
		return err
	})
	if err != nil && !reg.ref.IsValid() {
		tokens.Delete(reg.token)
	}
	return f, err
}

// SetFunction defines a host function as a global property.
func (c *Context) SetFunction(name string, fn HostFunc) error {
	f, err := c.Function(name, fn)
	if err != nil {
		return err
	}
	defer f.Free()
	global, err := c.Global()
	if err != nil {
		return err
	}
	defer global.Free()
	return global.Set(name, f)
}

// functionCollected runs when the engine reclaims a host function.
func functionCollected(h engine.ValueHandle, st uintptr) {
	tokens.Delete(st)
	if reg := unregisterFunction(newRef(h)); reg != nil {
		reg.ctx.runtime.logger.Debug("host function collected",
			zap.String("name", reg.name),
			zap.Stringer("function", reg.ref))
	}
}

// trampoline is the single native function behind every HostFunc.
func trampoline(callee engine.ValueHandle, isConstruct bool, args []engine.ValueHandle, st uintptr) (result engine.ValueHandle) {
	defer func() {
		if r := recover(); r != nil {
			result = raise(fmt.Errorf("host function panicked: %v", r))
		}
	}()

	reg, ok := loadToken[*functionRegistration](tokens, st)
	if !ok {
		return raise(errDisconnected("host function"))
	}
	c := reg.ctx
	if cur := CurrentContext(); cur != nil && cur.runtime == c.runtime {
		c = cur
	}
	if c.IsDisposed() {
		return raise(errDisconnected("context"))
	}

	// Nested calls made by fn must not drain microtasks.
	c.depth++
	defer func() { c.depth-- }()

	var thisH engine.ValueHandle
	if len(args) > 0 {
		thisH = args[0]
		args = args[1:]
	}
	this, err := c.receiver(thisH)
	if err != nil {
		return raise(err)
	}
	vals, err := c.wrapAll(args)
	if err != nil {
		return raise(err)
	}

	res, err := reg.fn(c, this, vals)
	if err != nil {
		return raise(err)
	}
	if res == nil {
		return engine.InvalidValue
	}
	h, err := res.base().handle()
	if err != nil {
		return raise(err)
	}
	if res.Type().heap() {
		if _, code := engine.AddRef(h); code != engine.NoError {
			return raise(translate(code))
		}
		c.handoff = append(c.handoff, h)
	}
	return h
}

// receiver normalises the this value of a host call.
func (c *Context) receiver(h engine.ValueHandle) (ObjectValue, error) {
	t, code := engine.GetValueType(h)
	if h == engine.InvalidValue || code != engine.NoError || t == engine.Undefined || t == engine.Null {
		g, code := engine.GetGlobalObject()
		if err := c.check(code); err != nil {
			return nil, err
		}
		return as[ObjectValue](c.wrap(g))
	}
	if !ValueType(t).IsObject() {
		oh, code := engine.ConvertValueToObject(h)
		if err := c.check(code); err != nil {
			return nil, err
		}
		h = oh
	}
	return as[ObjectValue](c.wrap(h))
}

// raise sets err as the pending exception and returns the handle that makes
// the engine throw it. A script exception is rethrown as is.
func raise(err error) engine.ValueHandle {
	var e *Error
	if errors.As(err, &e) && e.Exception != nil {
		if h, herr := e.Exception.base().handle(); herr == nil && engine.SetException(h) == engine.NoError {
			return engine.InvalidValue
		}
	}
	msg, code := engine.CreateString(err.Error())
	if code != engine.NoError {
		return engine.InvalidValue
	}
	eh, code := engine.CreateError(msg)
	if code != engine.NoError {
		return engine.InvalidValue
	}
	_ = engine.SetException(eh)
	return engine.InvalidValue
}
