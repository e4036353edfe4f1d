package jsrt_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
)

// TestBridgeAdd registers add and calls it from script.
func TestBridgeAdd(t *testing.T) {
	ctx := newContext(t)
	global, err := ctx.Global()
	require.NoError(t, err)
	defer global.Free()

	var (
		gotThis jsrt.ObjectValue
		gotArgs []jsrt.Value
	)
	require.NoError(t, ctx.SetFunction("add", func(ctx *jsrt.Context, this jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
		gotThis, gotArgs = this, args
		sum := 0
		for _, a := range args {
			n, ok := a.(*jsrt.Number)
			if !ok {
				return nil, fmt.Errorf("add: %s is not a number", a.Type())
			}
			sum += n.Int()
		}
		return ctx.Int(sum)
	}))

	v := run(t, ctx, `add(2,3)`)
	require.Equal(t, jsrt.TypeNumber, v.Type())
	require.Equal(t, 5, v.(*jsrt.Number).Int())

	require.Len(t, gotArgs, 2)
	for i, want := range []int{2, 3} {
		n, ok := gotArgs[i].(*jsrt.Number)
		require.True(t, ok)
		require.Equal(t, want, n.Int())
	}
	require.NotNil(t, gotThis)
	require.Equal(t, global.Ref(), gotThis.Ref())

	_, err = ctx.RunScript(`add(1, "x")`)
	require.ErrorIs(t, err, jsrt.ErrScriptException)
	require.Contains(t, err.Error(), "add: string is not a number")
}

func TestBridgeReceiver(t *testing.T) {
	ctx := newContext(t)

	var this jsrt.ObjectValue
	fn, err := ctx.Function("recv", func(_ *jsrt.Context, recv jsrt.ObjectValue, _ []jsrt.Value) (jsrt.Value, error) {
		this = recv
		return recv, nil
	})
	require.NoError(t, err)
	defer fn.Free()
	global, err := ctx.Global()
	require.NoError(t, err)
	defer global.Free()
	require.NoError(t, global.Set("recv", fn))

	// null and undefined receivers are replaced by the global object.
	_ = run(t, ctx, `recv.call(null)`)
	require.Equal(t, global.Ref(), this.Ref())
	_ = run(t, ctx, `recv.call(undefined)`)
	require.Equal(t, global.Ref(), this.Ref())

	// Primitive receivers are boxed.
	_ = run(t, ctx, `recv.call(5)`)
	require.Equal(t, jsrt.TypeObject, this.Type())
	n, err := this.ToNumber()
	require.NoError(t, err)
	require.Equal(t, 5.0, n)

	// Method calls see their object.
	obj := run(t, ctx, `globalThis.holder = { recv }; holder`)
	res := run(t, ctx, `holder.recv()`)
	require.Equal(t, obj.Ref(), this.Ref())
	require.Equal(t, obj.Ref(), res.Ref())

	// Go callers pass the receiver explicitly.
	_, err = fn.Call(obj)
	require.NoError(t, err)
	require.Equal(t, obj.Ref(), this.Ref())
	_, err = fn.Call(nil)
	require.NoError(t, err)
	require.Equal(t, global.Ref(), this.Ref())
}

func TestBridgeResults(t *testing.T) {
	ctx := newContext(t)

	require.NoError(t, ctx.SetFunction("nothing", func(*jsrt.Context, jsrt.ObjectValue, []jsrt.Value) (jsrt.Value, error) {
		return nil, nil
	}))
	require.NoError(t, ctx.SetFunction("make", func(ctx *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
		obj, err := ctx.Object()
		if err != nil {
			return nil, err
		}
		// The engine keeps its own reference to the result.
		defer obj.Free()
		for i, a := range args {
			if err := obj.Set(fmt.Sprintf("a%d", i), a); err != nil {
				return nil, err
			}
		}
		return obj, nil
	}))
	require.NoError(t, ctx.SetFunction("echo", func(_ *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	}))

	require.Equal(t, "undefined", run(t, ctx, `typeof nothing()`).String())
	require.Equal(t, `{"a0":1,"a1":"two"}`, run(t, ctx, `JSON.stringify(make(1, "two"))`).String())
	require.Equal(t, "hello", run(t, ctx, `echo("hello")`).String())
	require.Equal(t, "true", run(t, ctx, `const o = {}; echo(o) === o`).String())
	require.Equal(t, "3", run(t, ctx, `[1, 2, 3].map(echo).length`).String())
}

func TestBridgeErrors(t *testing.T) {
	ctx := newContext(t)

	require.NoError(t, ctx.SetFunction("fail", func(*jsrt.Context, jsrt.ObjectValue, []jsrt.Value) (jsrt.Value, error) {
		return nil, errors.New("nope")
	}))
	require.NoError(t, ctx.SetFunction("explode", func(*jsrt.Context, jsrt.ObjectValue, []jsrt.Value) (jsrt.Value, error) {
		panic("boom")
	}))
	require.NoError(t, ctx.SetFunction("rethrow", func(ctx *jsrt.Context, _ jsrt.ObjectValue, _ []jsrt.Value) (jsrt.Value, error) {
		return ctx.RunScript(`throw new RangeError("inner")`)
	}))

	t.Run("Caught", func(t *testing.T) {
		v := run(t, ctx, `try { fail(); "no" } catch (e) { (e instanceof Error) + ":" + e.message }`)
		require.Equal(t, "true:nope", v.String())
	})

	t.Run("Uncaught", func(t *testing.T) {
		_, err := ctx.RunScript(`fail()`)
		require.ErrorIs(t, err, jsrt.ErrScriptException)
		var jerr *jsrt.Error
		require.ErrorAs(t, err, &jerr)
		require.Equal(t, "Error", jerr.Name)
		require.Equal(t, "nope", jerr.Message)
	})

	t.Run("Panic", func(t *testing.T) {
		v := run(t, ctx, `try { explode() } catch (e) { e.message }`)
		require.Equal(t, "host function panicked: boom", v.String())
	})

	t.Run("ScriptErrorKeepsIdentity", func(t *testing.T) {
		v := run(t, ctx, `try { rethrow() } catch (e) { e.name + ":" + e.message }`)
		require.Equal(t, "RangeError:inner", v.String())
	})

	require.Equal(t, "fine", run(t, ctx, `"fine"`).String())
}

func TestBridgeFunctionInfo(t *testing.T) {
	ctx := newContext(t)

	fn, err := ctx.Function("greet", func(ctx *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
		who := "world"
		if len(args) > 0 {
			who = args[0].String()
		}
		return ctx.String("hello " + who)
	})
	require.NoError(t, err)
	defer fn.Free()

	require.True(t, fn.IsHost())
	name, err := fn.Name()
	require.NoError(t, err)
	require.Equal(t, "greet", name)

	script := run(t, ctx, `(function local() {})`).(*jsrt.Function)
	require.False(t, script.IsHost())

	v, err := fn.Call(nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", v.String())
	arg, err := ctx.String("go")
	require.NoError(t, err)
	v, err = fn.Call(nil, arg)
	require.NoError(t, err)
	require.Equal(t, "hello go", v.String())

	_, err = ctx.Function("nil", nil)
	require.ErrorIs(t, err, jsrt.ErrInvalidArgument)
}

// TestBridgeNestedCalls calls back into script from a host function and
// checks that the caller's microtasks drain once, at the outermost level.
func TestBridgeNestedCalls(t *testing.T) {
	ctx := newContext(t)

	require.NoError(t, ctx.SetFunction("apply", func(ctx *jsrt.Context, _ jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
		cb, ok := args[0].(*jsrt.Function)
		if !ok {
			return nil, errors.New("apply: not a function")
		}
		res, err := cb.Call(nil, args[1:]...)
		if err != nil {
			return nil, err
		}
		if n := ctx.PendingMicrotasks(); n != 1 {
			return nil, fmt.Errorf("apply: %d pending microtasks", n)
		}
		return res, nil
	}))

	v := run(t, ctx, `
		globalThis.log = [];
		const r = apply(x => { queueMicrotask(() => log.push("task")); log.push("cb"); return x * 2 }, 21);
		log.push("after");
		r`)
	require.Equal(t, "42", v.String())
	require.Equal(t, "cb,after,task", run(t, ctx, `log.join(",")`).String())
	require.Zero(t, ctx.PendingMicrotasks())
}
