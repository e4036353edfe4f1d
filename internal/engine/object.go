package engine

import (
	"fmt"

	"github.com/dop251/goja"
)

func GetGlobalObject() (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(c.vm.GlobalObject())
}

func CreateObject() (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(c.vm.NewObject())
}

func CreateArray(length uint32) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	arr, code := c.invoke(c.helpers.array, c.vm.ToValue(length))
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(arr)
}

func CreateError(message ValueHandle) (ValueHandle, ErrorCode) {
	return createError("Error", message)
}

func CreateTypeError(message ValueHandle) (ValueHandle, ErrorCode) {
	return createError("TypeError", message)
}

func CreateRangeError(message ValueHandle) (ValueHandle, ErrorCode) {
	return createError("RangeError", message)
}

func CreateSyntaxError(message ValueHandle) (ValueHandle, ErrorCode) {
	return createError("SyntaxError", message)
}

func CreateReferenceError(message ValueHandle) (ValueHandle, ErrorCode) {
	return createError("ReferenceError", message)
}

func CreateURIError(message ValueHandle) (ValueHandle, ErrorCode) {
	return createError("URIError", message)
}

func createError(ctor string, message ValueHandle) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	msg, code := c.value(message)
	if code != NoError {
		return InvalidValue, code
	}
	obj, err := c.vm.New(c.helpers.ctors[ctor], msg)
	if err != nil {
		return InvalidValue, c.fail(err)
	}
	return c.wrap(obj)
}

// CreateSymbol creates a symbol. description may be InvalidValue.
func CreateSymbol(description ValueHandle) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	desc := goja.Undefined()
	if description != InvalidValue {
		if desc, code = c.value(description); code != NoError {
			return InvalidValue, code
		}
	}
	sym, code := c.invoke(c.helpers.symbol, desc)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(sym)
}

// CreatePromise returns a pending promise with its resolve and reject
// functions.
func CreatePromise() (promise, resolve, reject ValueHandle, code ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return InvalidValue, InvalidValue, InvalidValue, code
	}
	res, code := c.invoke(c.helpers.promise, c.helpers.ctors["Promise"])
	if code != NoError {
		return InvalidValue, InvalidValue, InvalidValue, code
	}
	parts := res.ToObject(c.vm)
	handles := make([]ValueHandle, 3)
	for i := range handles {
		if handles[i], code = c.wrap(parts.Get(fmt.Sprint(i))); code != NoError {
			return InvalidValue, InvalidValue, InvalidValue, code
		}
	}
	return handles[0], handles[1], handles[2], NoError
}

func CreateFunction(fn NativeFunction, st uintptr) (ValueHandle, ErrorCode) {
	return createFunction(InvalidValue, fn, st)
}

// CreateNamedFunction is CreateFunction with the function's name property
// set from name.
func CreateNamedFunction(name ValueHandle, fn NativeFunction, st uintptr) (ValueHandle, ErrorCode) {
	if name == InvalidValue {
		return InvalidValue, ErrorInvalidArgument
	}
	return createFunction(name, fn, st)
}

func createFunction(name ValueHandle, fn NativeFunction, st uintptr) (ValueHandle, ErrorCode) {
	if fn == nil {
		return InvalidValue, ErrorNullArgument
	}
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	nameValue := goja.Undefined()
	if name != InvalidValue {
		if nameValue, code = c.value(name); code != NoError {
			return InvalidValue, code
		}
	}
	call := c.vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		return c.dispatch(fn, st, fc)
	})
	res, code := c.invoke(c.helpers.makeFunction, call, nameValue)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

// dispatch runs a native function on behalf of script. fc carries the
// construct flag, the receiver and the callee ahead of the arguments.
func (c *contextRecord) dispatch(fn NativeFunction, st uintptr, fc goja.FunctionCall) goja.Value {
	isConstruct := fc.Argument(0).ToBoolean()
	callee, code := c.wrap(fc.Argument(2))
	if code != NoError {
		c.throwCode(code)
	}
	args := make([]ValueHandle, 0, len(fc.Arguments)-2)
	this, code := c.wrap(fc.Argument(1))
	if code != NoError {
		c.throwCode(code)
	}
	args = append(args, this)
	if len(fc.Arguments) > 3 {
		for _, a := range fc.Arguments[3:] {
			h, code := c.wrap(a)
			if code != NoError {
				c.throwCode(code)
			}
			args = append(args, h)
		}
	}

	res := fn(callee, isConstruct, args, st)

	state.Lock()
	ex := c.exception
	c.exception = nil
	state.Unlock()
	if ex != nil {
		panic(ex)
	}
	if res == InvalidValue {
		return goja.Undefined()
	}
	v, code := c.value(res)
	if code != NoError {
		c.throwCode(code)
	}
	return v
}

func (c *contextRecord) throwCode(code ErrorCode) {
	panic(c.vm.NewGoError(fmt.Errorf("engine: %v", code)))
}

func GetPrototype(obj ValueHandle) (ValueHandle, ErrorCode) {
	c, o, code := enterObject(obj)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(c.helpers.getPrototype, o)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

func SetPrototype(obj, proto ValueHandle) ErrorCode {
	c, o, code := enterObject(obj)
	if code != NoError {
		return code
	}
	p, code := c.value(proto)
	if code != NoError {
		return code
	}
	_, code = c.invoke(c.helpers.setPrototype, o, p)
	return code
}

// InstanceOf evaluates obj instanceof ctor.
func InstanceOf(obj, ctor ValueHandle) (bool, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return false, code
	}
	vs, code := c.values(obj, ctor)
	if code != NoError {
		return false, code
	}
	res, code := c.invoke(c.helpers.instanceOf, vs[0], vs[1])
	if code != NoError {
		return false, code
	}
	return res.ToBoolean(), NoError
}

func PreventExtension(obj ValueHandle) ErrorCode {
	c, o, code := enterObject(obj)
	if code != NoError {
		return code
	}
	_, code = c.invoke(c.helpers.preventExtensions, o)
	return code
}

func GetExtensionAllowed(obj ValueHandle) (bool, ErrorCode) {
	c, o, code := enterObject(obj)
	if code != NoError {
		return false, code
	}
	res, code := c.invoke(c.helpers.isExtensible, o)
	if code != NoError {
		return false, code
	}
	return res.ToBoolean(), NoError
}

// GetOwnPropertyNames returns an array of the object's own string keys.
func GetOwnPropertyNames(obj ValueHandle) (ValueHandle, ErrorCode) {
	c, o, code := enterObject(obj)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(c.helpers.names, o)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

func GetOwnPropertySymbols(obj ValueHandle) (ValueHandle, ErrorCode) {
	c, o, code := enterObject(obj)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(c.helpers.symbols, o)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

// SetObjectBeforeCollectCallback registers cb to run when obj is collected
// or its context freed. A nil cb removes the callback.
func SetObjectBeforeCollectCallback(obj ValueHandle, st uintptr, cb BeforeCollectCallback) ErrorCode {
	if isTagged(obj) {
		return ErrorArgumentNotObject
	}
	state.Lock()
	defer state.Unlock()
	s := state.values[obj]
	if s == nil {
		return ErrorInvalidArgument
	}
	if !s.isObject {
		return ErrorArgumentNotObject
	}
	s.beforeCollect, s.beforeCollectState = cb, st
	return NoError
}

// enterObject resolves the current context for a script-running operation
// on obj.
func enterObject(obj ValueHandle) (*contextRecord, *goja.Object, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return nil, nil, code
	}
	o, _, code := c.object(obj)
	if code != NoError {
		return nil, nil, code
	}
	return c, o, NoError
}
