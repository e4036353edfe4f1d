package jsrt_test

import (
	"testing"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
)

// TestPropertyRoundTrip checks that a property exists only after it was
// written.
func TestPropertyRoundTrip(t *testing.T) {
	ctx := newContext(t)

	obj, err := ctx.Object()
	require.NoError(t, err)
	defer obj.Free()

	p := obj.Property("answer")
	ok, err := p.Exist()
	require.NoError(t, err)
	require.False(t, ok)

	v, err := ctx.Int(42)
	require.NoError(t, err)
	require.NoError(t, p.Set(v))

	ok, err = p.Exist()
	require.NoError(t, err)
	require.True(t, ok)

	got, err := p.Get()
	require.NoError(t, err)
	defer got.Free()
	require.Equal(t, 42, got.(*jsrt.Number).Int())

	deleted, err := p.Delete()
	require.NoError(t, err)
	require.True(t, deleted)
	ok, err = obj.Has("answer")
	require.NoError(t, err)
	require.False(t, ok)

	// Setting nil stores undefined.
	require.NoError(t, obj.Set("empty", nil))
	empty, err := obj.Get("empty")
	require.NoError(t, err)
	require.Equal(t, jsrt.TypeUndefined, empty.Type())
	ok, err = obj.Has("empty")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPropertyStrictSet(t *testing.T) {
	ctx := newContext(t)

	obj := run(t, ctx, `Object.freeze({fixed: 1})`).(*jsrt.Object)
	two, err := ctx.Int(2)
	require.NoError(t, err)

	err = obj.Set("fixed", two)
	require.ErrorIs(t, err, jsrt.ErrScriptException)
	var jerr *jsrt.Error
	require.ErrorAs(t, err, &jerr)
	require.Equal(t, "TypeError", jerr.Name)

	// Non-configurable properties cannot be deleted.
	_, err = obj.Delete("fixed")
	require.ErrorIs(t, err, jsrt.ErrScriptException)

	// The failed writes left the context usable.
	v, err := obj.Get("fixed")
	require.NoError(t, err)
	require.Equal(t, "1", v.String())
}

func TestPropertyChaining(t *testing.T) {
	ctx := newContext(t)

	global, err := ctx.Global()
	require.NoError(t, err)
	defer global.Free()
	_ = run(t, ctx, `globalThis.config = { server: { ports: [80, 443] }, name: "svc" }`)

	stub := global.Property("config").Property("server").Property("ports").At(1)
	defer stub.Free()
	require.NoError(t, stub.Err())
	port, err := stub.Get()
	require.NoError(t, err)
	require.Equal(t, "443", port.String())

	// Writes through a chain reach the original object.
	v, err := ctx.Int(8080)
	require.NoError(t, err)
	require.NoError(t, stub.Set(v))
	require.Equal(t, "8080", run(t, ctx, `config.server.ports[1]`).String())

	// Primitive intermediates are boxed like member access does.
	length := global.Property("config").Property("name").Property("length")
	defer length.Free()
	l, err := length.Get()
	require.NoError(t, err)
	require.Equal(t, "3", l.String())

	// The first failure is carried to the end of the chain.
	broken := global.Property("config").Property("missing").Property("deeper").Property("x")
	defer broken.Free()
	require.Error(t, broken.Err())
	require.ErrorIs(t, broken.Err(), jsrt.ErrScriptException)
	_, err = broken.Get()
	require.ErrorIs(t, err, jsrt.ErrScriptException)
	require.ErrorIs(t, broken.Set(v), jsrt.ErrScriptException)
	_, err = broken.Exist()
	require.ErrorIs(t, err, jsrt.ErrScriptException)
}

func TestPropertyIndexed(t *testing.T) {
	ctx := newContext(t)

	arr := run(t, ctx, `["a", "b"]`).(*jsrt.Array)

	ok, err := arr.At(1).Exist()
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = arr.At(5).Exist()
	require.NoError(t, err)
	require.False(t, ok)

	c, err := ctx.String("c")
	require.NoError(t, err)
	require.NoError(t, arr.At(2).Set(c))
	require.Equal(t, "a,b,c", arr.String())

	require.NoError(t, arr.At(0).Delete())
	ok, err = arr.At(0).Exist()
	require.NoError(t, err)
	require.False(t, ok)

	// Arbitrary keys work with Index.
	obj, err := ctx.Object()
	require.NoError(t, err)
	key, err := ctx.String("k")
	require.NoError(t, err)
	require.NoError(t, obj.Index(key).Set(c))
	got, err := obj.Get("k")
	require.NoError(t, err)
	require.Equal(t, "c", got.String())

	require.ErrorIs(t, obj.Index(nil).Err(), jsrt.ErrInvalidArgument)
}

func TestPropertyIDs(t *testing.T) {
	ctx := newContext(t)

	id, err := ctx.PropertyID("name")
	require.NoError(t, err)
	again, err := ctx.PropertyID("name")
	require.NoError(t, err)
	require.Equal(t, id.Ref(), again.Ref())
	require.False(t, id.IsSymbol())

	name, err := id.Name()
	require.NoError(t, err)
	require.Equal(t, "name", name)
	require.Equal(t, "name", id.String())
	_, err = id.Symbol()
	require.ErrorIs(t, err, jsrt.ErrPropertyKeyKindMismatch)

	sym, err := ctx.Symbol("secret")
	require.NoError(t, err)
	defer sym.Free()
	sid, err := ctx.SymbolPropertyID(sym)
	require.NoError(t, err)
	require.True(t, sid.IsSymbol())
	_, err = sid.Name()
	require.ErrorIs(t, err, jsrt.ErrPropertyKeyKindMismatch)
	back, err := sid.Symbol()
	require.NoError(t, err)
	defer back.Free()
	require.Equal(t, sym.Ref(), back.Ref())

	obj, err := ctx.Object()
	require.NoError(t, err)
	v, err := ctx.String("hidden")
	require.NoError(t, err)
	require.NoError(t, obj.SymbolProperty(sym).Set(v))
	require.NoError(t, obj.PropertyByID(id).Set(v))

	got, err := obj.PropertyByID(sid).Get()
	require.NoError(t, err)
	require.Equal(t, "hidden", got.String())

	keys, err := obj.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, keys)
	syms, err := obj.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, sym.Ref(), syms[0].Ref())
}

func TestPropertyDefineAndDescriptor(t *testing.T) {
	ctx := newContext(t)

	obj, err := ctx.Object()
	require.NoError(t, err)
	v, err := ctx.Int(7)
	require.NoError(t, err)

	ok, err := obj.Property("ro").Define(jsrt.PropertyDescriptor{Value: v, Enumerable: true})
	require.NoError(t, err)
	require.True(t, ok)

	d, err := obj.Property("ro").Descriptor()
	require.NoError(t, err)
	require.NotNil(t, d)
	defer d.Free()
	require.False(t, d.Writable)
	require.True(t, d.Enumerable)
	require.False(t, d.Configurable)
	require.Equal(t, "7", d.Value.String())
	require.Nil(t, d.Getter)

	// Redefining a non-configurable property is refused.
	other, err := ctx.Int(8)
	require.NoError(t, err)
	_, err = obj.Property("ro").Define(jsrt.PropertyDescriptor{Value: other, Writable: true})
	require.ErrorIs(t, err, jsrt.ErrScriptException)

	// Accessor properties.
	getter, err := ctx.Function("get", func(ctx *jsrt.Context, _ jsrt.ObjectValue, _ []jsrt.Value) (jsrt.Value, error) {
		return ctx.String("computed")
	})
	require.NoError(t, err)
	ok, err = obj.Property("acc").Define(jsrt.PropertyDescriptor{Getter: getter, Configurable: true})
	require.NoError(t, err)
	require.True(t, ok)
	got, err := obj.Get("acc")
	require.NoError(t, err)
	require.Equal(t, "computed", got.String())

	d2, err := obj.Property("acc").Descriptor()
	require.NoError(t, err)
	require.NotNil(t, d2)
	require.NotNil(t, d2.Getter)
	require.Nil(t, d2.Setter)
	require.Equal(t, getter.Ref(), d2.Getter.Ref())
	require.True(t, d2.Configurable)

	missing, err := obj.Property("nope").Descriptor()
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestObjectOperations(t *testing.T) {
	ctx := newContext(t)

	obj, err := ctx.Object()
	require.NoError(t, err)

	proto, err := obj.Prototype()
	require.NoError(t, err)
	objectProto := run(t, ctx, `Object.prototype`)
	require.Equal(t, objectProto.Ref(), proto.Ref())

	base := run(t, ctx, `({ greet() { return "hi " + this.who } })`)
	require.NoError(t, obj.SetPrototype(base))
	who, err := ctx.String("there")
	require.NoError(t, err)
	require.NoError(t, obj.Set("who", who))
	res, err := obj.Invoke("greet")
	require.NoError(t, err)
	require.Equal(t, "hi there", res.String())

	_, err = obj.Invoke("who")
	require.ErrorIs(t, err, jsrt.ErrInvalidArgument)

	ext, err := obj.IsExtensible()
	require.NoError(t, err)
	require.True(t, ext)
	require.NoError(t, obj.PreventExtensions())
	ext, err = obj.IsExtensible()
	require.NoError(t, err)
	require.False(t, ext)

	ctor := run(t, ctx, `(class Point { constructor(x) { this.x = x } })`).(*jsrt.Function)
	x, err := ctx.Int(3)
	require.NoError(t, err)
	p, err := ctor.New(x)
	require.NoError(t, err)
	defer p.Free()
	is, err := p.InstanceOf(ctor)
	require.NoError(t, err)
	require.True(t, is)
	is, err = obj.InstanceOf(ctor)
	require.NoError(t, err)
	require.False(t, is)
	px, err := p.Get("x")
	require.NoError(t, err)
	require.Equal(t, "3", px.String())

	nullProto := run(t, ctx, `Object.create(null)`).(*jsrt.Object)
	np, err := nullProto.Prototype()
	require.NoError(t, err)
	require.Equal(t, jsrt.TypeNull, np.Type())
}
