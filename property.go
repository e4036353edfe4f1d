package jsrt

import (
	"github.com/buke/jsrt-go/internal/engine"
)

// PropertyID is an interned property key. Ids are unique per runtime for a
// given name or symbol and live as long as the runtime.
type PropertyID struct {
	ctx *Context
	ref PropertyIDRef
}

// PropertyID interns a string key.
func (c *Context) PropertyID(name string) (*PropertyID, error) {
	var id *PropertyID
	err := c.do(func() error {
		h, code := engine.GetPropertyIDFromName(name)
		if err := c.check(code); err != nil {
			return err
		}
		id = &PropertyID{ctx: c, ref: newRef(h)}
		return nil
	})
	return id, err
}

// SymbolPropertyID interns a symbol key.
func (c *Context) SymbolPropertyID(sym *Symbol) (*PropertyID, error) {
	if sym == nil {
		return nil, newError(KindInvalidArgument, "nil symbol")
	}
	var id *PropertyID
	err := c.do(func() error {
		sh, err := sym.handle()
		if err != nil {
			return err
		}
		h, code := engine.GetPropertyIDFromSymbol(sh)
		if err := c.check(code); err != nil {
			return err
		}
		id = &PropertyID{ctx: c, ref: newRef(h)}
		return nil
	})
	return id, err
}

func (p *PropertyID) Ref() PropertyIDRef {
	return p.ref
}

// IsSymbol reports whether the key is a symbol.
func (p *PropertyID) IsSymbol() bool {
	t, code := engine.GetPropertyIDType(p.ref.handle())
	return code == engine.NoError && t == engine.PropertyIDSymbol
}

// Name returns the key of a string id. Symbol ids fail with
// PropertyKeyKindMismatch.
func (p *PropertyID) Name() (string, error) {
	name, code := engine.GetPropertyNameFromID(p.ref.handle())
	return name, translate(code)
}

// Symbol returns the key of a symbol id. String ids fail with
// PropertyKeyKindMismatch.
func (p *PropertyID) Symbol() (*Symbol, error) {
	var sym *Symbol
	err := p.ctx.do(func() error {
		h, code := engine.GetSymbolFromPropertyID(p.ref.handle())
		if err := p.ctx.check(code); err != nil {
			return err
		}
		var err error
		sym, err = as[*Symbol](p.ctx.wrap(h))
		return err
	})
	return sym, err
}

// String returns the name of a string id and "Symbol(...)" for symbols.
func (p *PropertyID) String() string {
	if name, err := p.Name(); err == nil {
		return name
	}
	if sym, err := p.Symbol(); err == nil {
		defer sym.Free()
		return sym.String()
	}
	return p.ref.String()
}

// PropertyDescriptor describes a property for Define and Descriptor. A
// descriptor with Getter or Setter set is an accessor descriptor and its
// Value and Writable are ignored.
type PropertyDescriptor struct {
	Value        Value
	Getter       *Function
	Setter       *Function
	Writable     bool
	Enumerable   bool
	Configurable bool
}

func (d *PropertyDescriptor) accessor() bool {
	return d.Getter != nil || d.Setter != nil
}

// Free releases the values held by a descriptor returned from Descriptor.
func (d *PropertyDescriptor) Free() {
	for _, v := range []Value{d.Value, d.Getter, d.Setter} {
		if v != nil && !isNilValue(v) {
			v.Free()
		}
	}
}

func isNilValue(v Value) bool {
	switch t := v.(type) {
	case *Function:
		return t == nil
	}
	return false
}

// PropertyStub is a named property of an object. It reads nothing until
// one of its methods is called. Chaining with Property, Index or At reads
// the current value right away; a failure is carried along the chain and
// reported by the first terminal call.
type PropertyStub struct {
	parent ObjectValue
	name   string
	id     *PropertyID
	err    error
	// owned is set when parent was produced by chaining and belongs to the
	// stub.
	owned bool
}

// Err returns the failure carried by the stub, if any.
func (s *PropertyStub) Err() error {
	return s.err
}

// Free releases an intermediate object owned by a chained stub.
func (s *PropertyStub) Free() {
	if s.owned && s.parent != nil {
		s.parent.Free()
	}
}

// resolve returns the object and key handles. It runs with the context
// current.
func (s *PropertyStub) resolve() (engine.ValueHandle, engine.PropertyIDHandle, error) {
	if s.err != nil {
		return engine.InvalidValue, engine.InvalidPropertyID, s.err
	}
	obj, err := s.parent.base().handle()
	if err != nil {
		return engine.InvalidValue, engine.InvalidPropertyID, err
	}
	if s.id != nil {
		return obj, s.id.ref.handle(), nil
	}
	id, code := engine.GetPropertyIDFromName(s.name)
	if err := s.ctx().check(code); err != nil {
		return engine.InvalidValue, engine.InvalidPropertyID, err
	}
	return obj, id, nil
}

func (s *PropertyStub) ctx() *Context {
	return s.parent.Context()
}

// run executes fn with the context current, unless the stub carries an
// error.
func (s *PropertyStub) run(fn func(obj engine.ValueHandle, id engine.PropertyIDHandle) error) error {
	if s.err != nil {
		return s.err
	}
	c := s.ctx()
	return c.do(func() error {
		obj, id, err := s.resolve()
		if err != nil {
			return err
		}
		return fn(obj, id)
	})
}

// Get reads the property.
func (s *PropertyStub) Get() (Value, error) {
	var v Value
	err := s.run(func(obj engine.ValueHandle, id engine.PropertyIDHandle) error {
		h, code := engine.GetProperty(obj, id)
		if err := s.ctx().check(code); err != nil {
			return err
		}
		var err error
		v, err = s.ctx().wrap(h)
		return err
	})
	return v, err
}

// Set assigns the property. A rejected assignment, such as a write to a
// read-only property, fails instead of being ignored. A nil v assigns
// undefined.
func (s *PropertyStub) Set(v Value) error {
	return s.run(func(obj engine.ValueHandle, id engine.PropertyIDHandle) error {
		c := s.ctx()
		vh, err := c.handleOr(v, engine.GetUndefinedValue)
		if err != nil {
			return err
		}
		return c.check(engine.SetProperty(obj, id, vh, true))
	})
}

// Exist reports whether the property is present on the object or its
// prototype chain.
func (s *PropertyStub) Exist() (bool, error) {
	var ok bool
	err := s.run(func(obj engine.ValueHandle, id engine.PropertyIDHandle) error {
		var code engine.ErrorCode
		ok, code = engine.HasProperty(obj, id)
		return s.ctx().check(code)
	})
	return ok, err
}

// Delete removes the property and returns the result of the delete
// operator.
func (s *PropertyStub) Delete() (bool, error) {
	var ok bool
	err := s.run(func(obj engine.ValueHandle, id engine.PropertyIDHandle) error {
		res, code := engine.DeleteProperty(obj, id, true)
		if err := s.ctx().check(code); err != nil {
			return err
		}
		ok, code = engine.BooleanToBool(res)
		return s.ctx().check(code)
	})
	return ok, err
}

// Define defines the property from d and reports whether the definition
// was accepted.
func (s *PropertyStub) Define(d PropertyDescriptor) (bool, error) {
	var ok bool
	err := s.run(func(obj engine.ValueHandle, id engine.PropertyIDHandle) error {
		c := s.ctx()
		desc, err := c.descriptorObject(d)
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		ok, code = engine.DefineProperty(obj, id, desc)
		return c.check(code)
	})
	return ok, err
}

// Descriptor returns the own property descriptor, or nil when the object
// has no own property of that name.
func (s *PropertyStub) Descriptor() (*PropertyDescriptor, error) {
	var d *PropertyDescriptor
	err := s.run(func(obj engine.ValueHandle, id engine.PropertyIDHandle) error {
		c := s.ctx()
		h, code := engine.GetOwnPropertyDescriptor(obj, id)
		if err := c.check(code); err != nil {
			return err
		}
		if t, _ := engine.GetValueType(h); t == engine.Undefined {
			return nil
		}
		var err error
		d, err = c.readDescriptor(h)
		return err
	})
	return d, err
}

// Property chains a named access on the current value of s.
func (s *PropertyStub) Property(name string) *PropertyStub {
	parent, err := s.follow()
	if err != nil {
		return &PropertyStub{err: err}
	}
	return &PropertyStub{parent: parent, name: name, owned: true}
}

// Index chains an indexed access on the current value of s.
func (s *PropertyStub) Index(key Value) *IndexedPropertyStub {
	parent, err := s.follow()
	if err != nil {
		return &IndexedPropertyStub{err: err}
	}
	if key == nil {
		parent.Free()
		return &IndexedPropertyStub{err: newError(KindInvalidArgument, "nil index")}
	}
	return &IndexedPropertyStub{parent: parent, key: key, owned: true}
}

// At chains an integer-indexed access on the current value of s.
func (s *PropertyStub) At(i int) *IndexedPropertyStub {
	parent, err := s.follow()
	if err != nil {
		return &IndexedPropertyStub{err: err}
	}
	key, err := parent.Context().Int(i)
	if err != nil {
		parent.Free()
		return &IndexedPropertyStub{err: err}
	}
	return &IndexedPropertyStub{parent: parent, key: key, owned: true, ownsKey: true}
}

func (s *PropertyStub) follow() (ObjectValue, error) {
	v, err := s.Get()
	if err != nil {
		return nil, err
	}
	return toObject(v)
}

// IndexedPropertyStub is a property keyed by an arbitrary value, such as an
// array element. It behaves like PropertyStub.
type IndexedPropertyStub struct {
	parent  ObjectValue
	key     Value
	err     error
	owned   bool
	ownsKey bool
}

func (s *IndexedPropertyStub) Err() error {
	return s.err
}

func (s *IndexedPropertyStub) Free() {
	if s.owned && s.parent != nil {
		s.parent.Free()
	}
	if s.ownsKey && s.key != nil {
		s.key.Free()
	}
}

func (s *IndexedPropertyStub) run(fn func(c *Context, obj, key engine.ValueHandle) error) error {
	if s.err != nil {
		return s.err
	}
	c := s.parent.Context()
	return c.do(func() error {
		obj, err := s.parent.base().handle()
		if err != nil {
			return err
		}
		key, err := s.key.base().handle()
		if err != nil {
			return err
		}
		return fn(c, obj, key)
	})
}

func (s *IndexedPropertyStub) Get() (Value, error) {
	var v Value
	err := s.run(func(c *Context, obj, key engine.ValueHandle) error {
		h, code := engine.GetIndexedProperty(obj, key)
		if err := c.check(code); err != nil {
			return err
		}
		var err error
		v, err = c.wrap(h)
		return err
	})
	return v, err
}

// Set assigns the element; failures throw. A nil v assigns undefined.
func (s *IndexedPropertyStub) Set(v Value) error {
	return s.run(func(c *Context, obj, key engine.ValueHandle) error {
		vh, err := c.handleOr(v, engine.GetUndefinedValue)
		if err != nil {
			return err
		}
		return c.check(engine.SetIndexedProperty(obj, key, vh))
	})
}

func (s *IndexedPropertyStub) Exist() (bool, error) {
	var ok bool
	err := s.run(func(c *Context, obj, key engine.ValueHandle) error {
		var code engine.ErrorCode
		ok, code = engine.HasIndexedProperty(obj, key)
		return c.check(code)
	})
	return ok, err
}

func (s *IndexedPropertyStub) Delete() error {
	return s.run(func(c *Context, obj, key engine.ValueHandle) error {
		return c.check(engine.DeleteIndexedProperty(obj, key))
	})
}

// Property chains a named access on the current value of s.
func (s *IndexedPropertyStub) Property(name string) *PropertyStub {
	parent, err := s.follow()
	if err != nil {
		return &PropertyStub{err: err}
	}
	return &PropertyStub{parent: parent, name: name, owned: true}
}

// At chains an integer-indexed access on the current value of s.
func (s *IndexedPropertyStub) At(i int) *IndexedPropertyStub {
	parent, err := s.follow()
	if err != nil {
		return &IndexedPropertyStub{err: err}
	}
	key, err := parent.Context().Int(i)
	if err != nil {
		parent.Free()
		return &IndexedPropertyStub{err: err}
	}
	return &IndexedPropertyStub{parent: parent, key: key, owned: true, ownsKey: true}
}

func (s *IndexedPropertyStub) follow() (ObjectValue, error) {
	v, err := s.Get()
	if err != nil {
		return nil, err
	}
	return toObject(v)
}

// toObject returns v as an object, boxing primitives the way member access
// does. null and undefined fail with a TypeError. v is consumed.
func toObject(v Value) (ObjectValue, error) {
	if o, ok := v.(ObjectValue); ok {
		return o, nil
	}
	defer v.Free()
	c := v.Context()
	var obj ObjectValue
	err := c.do(func() error {
		h, err := v.base().handle()
		if err != nil {
			return err
		}
		oh, code := engine.ConvertValueToObject(h)
		if err := c.check(code); err != nil {
			return err
		}
		obj, err = as[ObjectValue](c.wrap(oh))
		return err
	})
	return obj, err
}

// descriptorObject builds the descriptor object passed to the engine.
func (c *Context) descriptorObject(d PropertyDescriptor) (engine.ValueHandle, error) {
	desc, code := engine.CreateObject()
	if err := c.check(code); err != nil {
		return engine.InvalidValue, err
	}
	set := func(name string, v engine.ValueHandle) error {
		id, code := engine.GetPropertyIDFromName(name)
		if err := c.check(code); err != nil {
			return err
		}
		return c.check(engine.SetProperty(desc, id, v, true))
	}
	setBool := func(name string, b bool) error {
		h, code := engine.BoolToBoolean(b)
		if err := c.check(code); err != nil {
			return err
		}
		return set(name, h)
	}

	if d.accessor() {
		for name, fn := range map[string]*Function{"get": d.Getter, "set": d.Setter} {
			if fn == nil {
				continue
			}
			h, err := fn.handle()
			if err != nil {
				return engine.InvalidValue, err
			}
			if err := set(name, h); err != nil {
				return engine.InvalidValue, err
			}
		}
	} else {
		if d.Value != nil {
			h, err := d.Value.base().handle()
			if err != nil {
				return engine.InvalidValue, err
			}
			if err := set("value", h); err != nil {
				return engine.InvalidValue, err
			}
		}
		if err := setBool("writable", d.Writable); err != nil {
			return engine.InvalidValue, err
		}
	}
	if err := setBool("enumerable", d.Enumerable); err != nil {
		return engine.InvalidValue, err
	}
	if err := setBool("configurable", d.Configurable); err != nil {
		return engine.InvalidValue, err
	}
	return desc, nil
}

// readDescriptor converts a descriptor object returned by the engine.
func (c *Context) readDescriptor(h engine.ValueHandle) (*PropertyDescriptor, error) {
	d := &PropertyDescriptor{}
	field := func(name string) (engine.ValueHandle, bool, error) {
		id, code := engine.GetPropertyIDFromName(name)
		if err := c.check(code); err != nil {
			return engine.InvalidValue, false, err
		}
		has, code := engine.HasProperty(h, id)
		if err := c.check(code); err != nil || !has {
			return engine.InvalidValue, false, err
		}
		v, code := engine.GetProperty(h, id)
		return v, true, c.check(code)
	}
	flag := func(name string) (bool, error) {
		v, ok, err := field(name)
		if err != nil || !ok {
			return false, err
		}
		b, code := engine.BooleanToBool(v)
		return b, c.check(code)
	}
	fn := func(name string) (*Function, error) {
		v, ok, err := field(name)
		if err != nil || !ok {
			return nil, err
		}
		if t, _ := engine.GetValueType(v); t != engine.Function {
			return nil, nil
		}
		return as[*Function](c.wrap(v))
	}

	var err error
	if d.Writable, err = flag("writable"); err != nil {
		return nil, err
	}
	if d.Enumerable, err = flag("enumerable"); err != nil {
		return nil, err
	}
	if d.Configurable, err = flag("configurable"); err != nil {
		return nil, err
	}
	if v, ok, err := field("value"); err != nil {
		return nil, err
	} else if ok {
		if d.Value, err = c.wrap(v); err != nil {
			return nil, err
		}
	}
	if d.Getter, err = fn("get"); err != nil {
		d.Free()
		return nil, err
	}
	if d.Setter, err = fn("set"); err != nil {
		d.Free()
		return nil, err
	}
	return d, nil
}
