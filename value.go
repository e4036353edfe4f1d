package jsrt

import (
	"runtime"
	"sync/atomic"

	"github.com/buke/jsrt-go/internal/engine"
)

// ValueType is the dynamic kind of a value. It is fixed when the value is
// created.
type ValueType int

const (
	TypeUndefined   = ValueType(engine.Undefined)
	TypeNull        = ValueType(engine.Null)
	TypeNumber      = ValueType(engine.Number)
	TypeString      = ValueType(engine.String)
	TypeBoolean     = ValueType(engine.Boolean)
	TypeObject      = ValueType(engine.Object)
	TypeFunction    = ValueType(engine.Function)
	TypeError       = ValueType(engine.Error)
	TypeArray       = ValueType(engine.Array)
	TypeSymbol      = ValueType(engine.Symbol)
	TypeArrayBuffer = ValueType(engine.ArrayBuffer)
	TypeTypedArray  = ValueType(engine.TypedArray)
	TypeDataView    = ValueType(engine.DataView)
)

func (t ValueType) String() string {
	return engine.ValueType(t).String()
}

// IsObject reports whether values of this kind are objects.
func (t ValueType) IsObject() bool {
	switch t {
	case TypeObject, TypeFunction, TypeError, TypeArray, TypeArrayBuffer, TypeTypedArray, TypeDataView:
		return true
	}
	return false
}

// heap kinds are collected by the engine and need a reference while a
// proxy is alive. Numbers, booleans, null and undefined never are.
func (t ValueType) heap() bool {
	return t == TypeString || t == TypeSymbol || t.IsObject()
}

// Value is an engine value seen from Go. The concrete type is one of
// *Undefined, *Null, *Number, *Boolean, *String, *Symbol, *Object,
// *Function, *ErrorObject, *Array, *ArrayBuffer, *TypedArray or *DataView.
//
// A Value holds a reference on the engine value until Free is called or
// the Value is garbage collected.
type Value interface {
	// Ref returns the engine handle. Two values wrapping the same engine
	// value have equal refs.
	Ref() ValueRef
	Type() ValueType
	Context() *Context

	// Free releases the engine reference. It is safe to call more than once.
	Free()

	ToString() (string, error)
	ToNumber() (float64, error)
	ToBool() (bool, error)
	JSONStringify() (string, error)
	Equals(other Value) (bool, error)
	StrictEquals(other Value) (bool, error)
	String() string

	base() *proxy
}

// proxy is embedded first in every concrete value type.
type proxy struct {
	ctx     *Context
	ref     ValueRef
	typ     ValueType
	owned   bool
	freed   atomic.Bool
	cleanup runtime.Cleanup
}

func (p *proxy) init(c *Context, h engine.ValueHandle, typ ValueType, owned bool) {
	p.ctx, p.ref, p.typ, p.owned = c, newRef(h), typ, owned
}

// track arranges for the reference of px, embedded in v, to be released
// if v is collected without Free.
func track[T any](v *T, px *proxy) *T {
	if px.owned {
		px.cleanup = runtime.AddCleanup(v, releaseValue, px.ref.handle())
	}
	return v
}

func releaseValue(h engine.ValueHandle) {
	_, _ = engine.Release(h)
}

func (p *proxy) base() *proxy {
	return p
}

func (p *proxy) Ref() ValueRef {
	return p.ref
}

func (p *proxy) Type() ValueType {
	return p.typ
}

func (p *proxy) Context() *Context {
	return p.ctx
}

// Free releases the engine reference held by the value.
func (p *proxy) Free() {
	if !p.owned || !p.freed.CompareAndSwap(false, true) {
		return
	}
	p.cleanup.Stop()
	_, _ = engine.Release(p.ref.handle())
}

// handle returns the engine handle, failing once the value was freed.
func (p *proxy) handle() (engine.ValueHandle, error) {
	if p.freed.Load() {
		return engine.InvalidValue, errDisconnected("value")
	}
	return p.ref.handle(), nil
}

// ToString converts the value with the script String() rules.
func (p *proxy) ToString() (string, error) {
	var s string
	err := p.ctx.do(func() error {
		h, err := p.handle()
		if err != nil {
			return err
		}
		sh, code := engine.ConvertValueToString(h)
		if err := p.ctx.check(code); err != nil {
			return err
		}
		s, code = engine.CopyString(sh)
		return p.ctx.check(code)
	})
	return s, err
}

// String returns the string form of the value, or "" if it cannot be
// converted. It implements fmt.Stringer.
func (p *proxy) String() string {
	s, _ := p.ToString()
	return s
}

// ToNumber converts the value with the script Number() rules.
func (p *proxy) ToNumber() (float64, error) {
	var f float64
	err := p.ctx.do(func() error {
		h, err := p.handle()
		if err != nil {
			return err
		}
		nh, code := engine.ConvertValueToNumber(h)
		if err := p.ctx.check(code); err != nil {
			return err
		}
		f, code = engine.NumberToDouble(nh)
		return p.ctx.check(code)
	})
	return f, err
}

// ToBool converts the value with the script Boolean() rules.
func (p *proxy) ToBool() (bool, error) {
	var b bool
	err := p.ctx.do(func() error {
		h, err := p.handle()
		if err != nil {
			return err
		}
		bh, code := engine.ConvertValueToBoolean(h)
		if err := p.ctx.check(code); err != nil {
			return err
		}
		b, code = engine.BooleanToBool(bh)
		return p.ctx.check(code)
	})
	return b, err
}

// JSONStringify returns JSON.stringify of the value. Values with no JSON
// form, such as undefined or functions, give "".
func (p *proxy) JSONStringify() (string, error) {
	var s string
	err := p.ctx.do(func() error {
		h, err := p.handle()
		if err != nil {
			return err
		}
		s, _ = p.ctx.jsonStringify(h)
		return nil
	})
	return s, err
}

// Equals compares with the == operator.
func (p *proxy) Equals(other Value) (bool, error) {
	return p.compare(other, engine.Equals)
}

// StrictEquals compares with the === operator.
func (p *proxy) StrictEquals(other Value) (bool, error) {
	return p.compare(other, engine.StrictEquals)
}

func (p *proxy) compare(other Value, op func(a, b engine.ValueHandle) (bool, engine.ErrorCode)) (bool, error) {
	if other == nil {
		return false, newError(KindInvalidArgument, "nil value")
	}
	var eq bool
	err := p.ctx.do(func() error {
		a, err := p.handle()
		if err != nil {
			return err
		}
		b, err := other.base().handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		eq, code = op(a, b)
		return p.ctx.check(code)
	})
	return eq, err
}

// Undefined is the undefined value.
type Undefined struct{ proxy }

// Null is the null value.
type Null struct{ proxy }

// Number is a number value. Its value is read once when it is wrapped.
type Number struct {
	proxy
	value float64
}

// Float64 returns the number.
func (n *Number) Float64() float64 {
	return n.value
}

// Int returns the number truncated to an int.
func (n *Number) Int() int {
	return int(n.value)
}

// Boolean is a boolean value.
type Boolean struct {
	proxy
	value bool
}

// Bool returns the boolean.
func (b *Boolean) Bool() bool {
	return b.value
}

// String is a string value.
type String struct{ proxy }

// Value returns the contents of the string.
func (s *String) Value() (string, error) {
	var str string
	err := s.ctx.do(func() error {
		h, err := s.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		str, code = engine.CopyString(h)
		return s.ctx.check(code)
	})
	return str, err
}

// Len returns the length in UTF-16 code units.
func (s *String) Len() (int, error) {
	var n int
	err := s.ctx.do(func() error {
		h, err := s.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		n, code = engine.GetStringLength(h)
		return s.ctx.check(code)
	})
	return n, err
}

// Symbol is a symbol value.
type Symbol struct{ proxy }

// Description returns the description the symbol was created with.
func (s *Symbol) Description() (string, error) {
	var desc string
	err := s.ctx.do(func() error {
		h, err := s.handle()
		if err != nil {
			return err
		}
		boxed, code := engine.ConvertValueToObject(h)
		if err := s.ctx.check(code); err != nil {
			return err
		}
		desc = s.ctx.stringProperty(boxed, "description")
		return nil
	})
	return desc, err
}

// CreateTyped wraps an engine handle in the proxy matching its kind. An
// invalid ref yields a nil Value and no error. Each call adds one engine
// reference for heap kinds, released by Free.
func CreateTyped(ctx *Context, ref ValueRef) (Value, error) {
	if !ref.IsValid() {
		return nil, nil
	}
	var v Value
	err := ctx.do(func() error {
		var err error
		v, err = ctx.wrap(ref.handle())
		return err
	})
	return v, err
}

// wrap is CreateTyped for a context that is already current.
func (c *Context) wrap(h engine.ValueHandle) (Value, error) {
	if h == engine.InvalidValue {
		return nil, nil
	}
	t, code := engine.GetValueType(h)
	if code != engine.NoError {
		return nil, translate(code)
	}
	typ := ValueType(t)
	owned := typ.heap()
	if owned {
		if _, code := engine.AddRef(h); code != engine.NoError {
			return nil, translate(code)
		}
	}

	switch typ {
	case TypeUndefined:
		v := &Undefined{}
		v.init(c, h, typ, owned)
		return v, nil
	case TypeNull:
		v := &Null{}
		v.init(c, h, typ, owned)
		return v, nil
	case TypeNumber:
		f, code := engine.NumberToDouble(h)
		if code != engine.NoError {
			return nil, translate(code)
		}
		v := &Number{value: f}
		v.init(c, h, typ, owned)
		return v, nil
	case TypeBoolean:
		b, code := engine.BooleanToBool(h)
		if code != engine.NoError {
			return nil, translate(code)
		}
		v := &Boolean{value: b}
		v.init(c, h, typ, owned)
		return v, nil
	case TypeString:
		v := &String{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeSymbol:
		v := &Symbol{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeFunction:
		v := &Function{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeError:
		v := &ErrorObject{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeArray:
		v := &Array{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeArrayBuffer:
		v := &ArrayBuffer{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeTypedArray:
		kind, _, _, _, code := engine.GetTypedArrayInfo(h)
		if code != engine.NoError {
			_, _ = engine.Release(h)
			return nil, translate(code)
		}
		v := &TypedArray{kind: TypedArrayKind(kind)}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	case TypeDataView:
		v := &DataView{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	default:
		v := &Object{}
		v.init(c, h, typ, owned)
		return track(v, &v.proxy), nil
	}
}

// wrapAll wraps every handle, freeing what was wrapped on failure.
func (c *Context) wrapAll(hs []engine.ValueHandle) ([]Value, error) {
	vals := make([]Value, 0, len(hs))
	for _, h := range hs {
		v, err := c.wrap(h)
		if err != nil {
			freeAll(vals)
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// freeAll frees every non-nil value.
func freeAll(vals []Value) {
	for _, v := range vals {
		if v != nil {
			v.Free()
		}
	}
}

// as asserts the concrete type of a freshly created value.
func as[T Value](v Value, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		if v != nil {
			v.Free()
		}
		return zero, newError(KindInvalidArgument, "unexpected value kind")
	}
	return t, nil
}

// RefCount reports the engine reference count of ref. It is meant for
// diagnostics and tests.
func RefCount(ref ValueRef) (uint32, error) {
	n, code := engine.RefCount(ref.handle())
	return n, translate(code)
}
