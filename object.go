package jsrt

import (
	"github.com/buke/jsrt-go/internal/engine"
)

// ObjectValue is implemented by every object kind: *Object, *Function,
// *ErrorObject, *Array, *ArrayBuffer, *TypedArray and *DataView.
type ObjectValue interface {
	Value

	// Property returns an accessor for a string-keyed property. Nothing is
	// read until one of the accessor's methods is called.
	Property(name string) *PropertyStub
	PropertyByID(id *PropertyID) *PropertyStub
	SymbolProperty(sym *Symbol) *PropertyStub
	// Index returns an accessor keyed by an arbitrary value.
	Index(key Value) *IndexedPropertyStub
	At(i int) *IndexedPropertyStub

	Get(name string) (Value, error)
	Set(name string, v Value) error
	Has(name string) (bool, error)
	Delete(name string) (bool, error)
	Invoke(method string, args ...Value) (Value, error)

	Keys() ([]string, error)
	Symbols() ([]*Symbol, error)
	Prototype() (Value, error)
	SetPrototype(proto Value) error
	PreventExtensions() error
	IsExtensible() (bool, error)
	InstanceOf(ctor *Function) (bool, error)

	object() *Object
}

// Object is a plain object. The other object kinds embed it.
type Object struct{ proxy }

func (o *Object) object() *Object {
	return o
}

func (o *Object) Property(name string) *PropertyStub {
	return &PropertyStub{parent: o, name: name}
}

func (o *Object) PropertyByID(id *PropertyID) *PropertyStub {
	if id == nil {
		return &PropertyStub{err: newError(KindInvalidArgument, "nil property id")}
	}
	return &PropertyStub{parent: o, id: id}
}

func (o *Object) SymbolProperty(sym *Symbol) *PropertyStub {
	if sym == nil {
		return &PropertyStub{err: newError(KindInvalidArgument, "nil symbol")}
	}
	id, err := o.ctx.SymbolPropertyID(sym)
	if err != nil {
		return &PropertyStub{err: err}
	}
	return &PropertyStub{parent: o, id: id}
}

func (o *Object) Index(key Value) *IndexedPropertyStub {
	if key == nil {
		return &IndexedPropertyStub{err: newError(KindInvalidArgument, "nil index")}
	}
	return &IndexedPropertyStub{parent: o, key: key}
}

func (o *Object) At(i int) *IndexedPropertyStub {
	key, err := o.ctx.Int(i)
	if err != nil {
		return &IndexedPropertyStub{err: err}
	}
	return &IndexedPropertyStub{parent: o, key: key, ownsKey: true}
}

// Get reads a property.
func (o *Object) Get(name string) (Value, error) {
	return o.Property(name).Get()
}

// Set writes a property, failing if the assignment is rejected.
func (o *Object) Set(name string, v Value) error {
	return o.Property(name).Set(v)
}

func (o *Object) Has(name string) (bool, error) {
	return o.Property(name).Exist()
}

func (o *Object) Delete(name string) (bool, error) {
	return o.Property(name).Delete()
}

// Invoke calls the method stored under name with o as this.
func (o *Object) Invoke(method string, args ...Value) (Value, error) {
	v, err := o.Get(method)
	if err != nil {
		return nil, err
	}
	defer v.Free()
	fn, ok := v.(*Function)
	if !ok {
		return nil, newError(KindInvalidArgument, "%s is not a function", method)
	}
	return fn.Call(o, args...)
}

// Keys returns the own string keys, including non-enumerable ones.
func (o *Object) Keys() ([]string, error) {
	var keys []string
	err := o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		arr, code := engine.GetOwnPropertyNames(h)
		if err := o.ctx.check(code); err != nil {
			return err
		}
		keys, err = o.ctx.stringsOf(arr)
		return err
	})
	return keys, err
}

// Symbols returns the own symbol keys.
func (o *Object) Symbols() ([]*Symbol, error) {
	var syms []*Symbol
	err := o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		arr, code := engine.GetOwnPropertySymbols(h)
		if err := o.ctx.check(code); err != nil {
			return err
		}
		items, err := o.ctx.elements(arr)
		if err != nil {
			return err
		}
		for _, it := range items {
			if s, ok := it.(*Symbol); ok {
				syms = append(syms, s)
			}
		}
		return nil
	})
	return syms, err
}

// Prototype returns the prototype, which is null at the end of the chain.
func (o *Object) Prototype() (Value, error) {
	var proto Value
	err := o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		p, code := engine.GetPrototype(h)
		if err := o.ctx.check(code); err != nil {
			return err
		}
		proto, err = o.ctx.wrap(p)
		return err
	})
	return proto, err
}

func (o *Object) SetPrototype(proto Value) error {
	if proto == nil {
		return newError(KindInvalidArgument, "nil prototype")
	}
	return o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		p, err := proto.base().handle()
		if err != nil {
			return err
		}
		return o.ctx.check(engine.SetPrototype(h, p))
	})
}

func (o *Object) PreventExtensions() error {
	return o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		return o.ctx.check(engine.PreventExtension(h))
	})
}

func (o *Object) IsExtensible() (bool, error) {
	var ok bool
	err := o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		ok, code = engine.GetExtensionAllowed(h)
		return o.ctx.check(code)
	})
	return ok, err
}

// InstanceOf evaluates o instanceof ctor.
func (o *Object) InstanceOf(ctor *Function) (bool, error) {
	if ctor == nil {
		return false, newError(KindInvalidArgument, "nil constructor")
	}
	var ok bool
	err := o.ctx.do(func() error {
		h, err := o.handle()
		if err != nil {
			return err
		}
		c, err := ctor.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		ok, code = engine.InstanceOf(h, c)
		return o.ctx.check(code)
	})
	return ok, err
}

// Function is a callable object, either defined by script or backed by a
// HostFunc.
type Function struct{ Object }

// Call invokes the function. A nil this binds the global object and nil
// arguments are passed as undefined.
func (f *Function) Call(this Value, args ...Value) (Value, error) {
	return f.ctx.execute(func() (engine.ValueHandle, error) {
		h, err := f.handle()
		if err != nil {
			return engine.InvalidValue, err
		}
		hs, err := f.ctx.callArgs(this, args)
		if err != nil {
			return engine.InvalidValue, err
		}
		res, code := engine.CallFunction(h, hs)
		return res, f.ctx.check(code)
	})
}

// New invokes the function as a constructor.
func (f *Function) New(args ...Value) (ObjectValue, error) {
	v, err := f.ctx.execute(func() (engine.ValueHandle, error) {
		h, err := f.handle()
		if err != nil {
			return engine.InvalidValue, err
		}
		undef, code := engine.GetUndefinedValue()
		if err := f.ctx.check(code); err != nil {
			return engine.InvalidValue, err
		}
		hs, err := f.ctx.callArgs(nil, args)
		if err != nil {
			return engine.InvalidValue, err
		}
		hs[0] = undef
		res, code := engine.ConstructObject(h, hs)
		return res, f.ctx.check(code)
	})
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ObjectValue)
	if !ok {
		v.Free()
		return nil, newError(KindArgumentNotObject, "constructor returned a %s", v.Type())
	}
	return obj, nil
}

// Name returns the function's name property.
func (f *Function) Name() (string, error) {
	var name string
	err := f.ctx.do(func() error {
		h, err := f.handle()
		if err != nil {
			return err
		}
		name = f.ctx.stringProperty(h, "name")
		return nil
	})
	return name, err
}

// IsHost reports whether the function is backed by a HostFunc registered
// through Context.Function.
func (f *Function) IsHost() bool {
	_, ok := lookupFunction(f.ref)
	return ok
}

// ErrorObject is an instance of Error or one of its subclasses.
type ErrorObject struct{ Object }

// ToError describes the error object as an *Error of kind ScriptException.
func (e *ErrorObject) ToError() *Error {
	err := &Error{Kind: KindScriptException, Exception: e}
	_ = e.ctx.do(func() error {
		h, herr := e.handle()
		if herr != nil {
			return herr
		}
		e.ctx.describe(err, h)
		return nil
	})
	return err
}

// callArgs builds the engine argument list: the receiver followed by args.
func (c *Context) callArgs(this Value, args []Value) ([]engine.ValueHandle, error) {
	hs := make([]engine.ValueHandle, 0, len(args)+1)
	recv, err := c.handleOr(this, engine.GetGlobalObject)
	if err != nil {
		return nil, err
	}
	hs = append(hs, recv)
	for _, a := range args {
		h, err := c.handleOr(a, engine.GetUndefinedValue)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// handleOr returns v's handle, or the fallback's when v is nil.
func (c *Context) handleOr(v Value, fallback func() (engine.ValueHandle, engine.ErrorCode)) (engine.ValueHandle, error) {
	if v == nil {
		h, code := fallback()
		return h, c.check(code)
	}
	return v.base().handle()
}

// elements wraps every element of an array handle.
func (c *Context) elements(arr engine.ValueHandle) ([]Value, error) {
	n, err := c.lengthOf(arr)
	if err != nil {
		return nil, err
	}
	vals := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		idx, code := engine.IntToNumber(i)
		if err := c.check(code); err != nil {
			freeAll(vals)
			return nil, err
		}
		h, code := engine.GetIndexedProperty(arr, idx)
		if err := c.check(code); err != nil {
			freeAll(vals)
			return nil, err
		}
		v, err := c.wrap(h)
		if err != nil {
			freeAll(vals)
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// stringsOf reads an array of strings.
func (c *Context) stringsOf(arr engine.ValueHandle) ([]string, error) {
	n, err := c.lengthOf(arr)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx, code := engine.IntToNumber(i)
		if err := c.check(code); err != nil {
			return nil, err
		}
		h, code := engine.GetIndexedProperty(arr, idx)
		if err := c.check(code); err != nil {
			return nil, err
		}
		s, ok := c.stringOf(h)
		if !ok {
			return nil, newError(KindInvalidArgument, "element %d is not a string", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Context) lengthOf(obj engine.ValueHandle) (int, error) {
	n, code := getNamed(obj, "length")
	if err := c.check(code); err != nil {
		return 0, err
	}
	l, code := engine.NumberToInt(n)
	if err := c.check(code); err != nil {
		return 0, err
	}
	return l, nil
}
