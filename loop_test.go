package jsrt_test

import (
	"testing"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
)

// TestMicrotaskOrder checks that continuations scheduled during one run
// execute once each, in order.
func TestMicrotaskOrder(t *testing.T) {
	ctx := newContext(t)

	v := run(t, ctx, `
		globalThis.order = [];
		queueMicrotask(() => order.push("c1"));
		queueMicrotask(() => order.push("c2"));
		queueMicrotask(() => order.push("c3"));
		order.length`)
	// The completion value is taken before the drain.
	require.Equal(t, "0", v.String())
	require.Equal(t, "c1,c2,c3", run(t, ctx, `order.join(",")`).String())
	require.Zero(t, ctx.PendingMicrotasks())

	// A second drain runs nothing again.
	require.NoError(t, ctx.DrainMicrotasks())
	require.Equal(t, "c1,c2,c3", run(t, ctx, `order.join(",")`).String())
}

// TestMicrotaskChained checks that tasks queued by a running task run in the
// same drain.
func TestMicrotaskChained(t *testing.T) {
	ctx := newContext(t)

	_ = run(t, ctx, `
		globalThis.order = [];
		queueMicrotask(() => {
			order.push("a");
			queueMicrotask(() => order.push("c"));
		});
		queueMicrotask(() => order.push("b"));`)
	require.Equal(t, "a,b,c", run(t, ctx, `order.join(",")`).String())
	require.Zero(t, ctx.PendingMicrotasks())
}

// TestMicrotaskAbort checks that a throwing task stops the drain and leaves
// the tasks behind it queued.
func TestMicrotaskAbort(t *testing.T) {
	ctx := newContext(t)

	v, err := ctx.RunScript(`
		globalThis.order = [];
		queueMicrotask(() => order.push("c1"));
		queueMicrotask(() => { throw new Error("c2 failed") });
		queueMicrotask(() => order.push("c3"));
		"done"`)
	require.ErrorIs(t, err, jsrt.ErrScriptException)
	require.Contains(t, err.Error(), "c2 failed")
	// The script itself succeeded, so its result is still returned.
	require.NotNil(t, v)
	require.Equal(t, "done", v.String())
	v.Free()

	require.Equal(t, 1, ctx.PendingMicrotasks())
	require.Equal(t, "c1", run(t, ctx, `order.join(",")`).String())

	require.NoError(t, ctx.DrainMicrotasks())
	require.Zero(t, ctx.PendingMicrotasks())
	require.Equal(t, "c1,c3", run(t, ctx, `order.join(",")`).String())
}

func TestMicrotaskNotRunOnFailure(t *testing.T) {
	ctx := newContext(t)

	_, err := ctx.RunScript(`
		globalThis.ran = false;
		queueMicrotask(() => { ran = true });
		throw new Error("script failed")`)
	require.ErrorIs(t, err, jsrt.ErrScriptException)
	require.Equal(t, 1, ctx.PendingMicrotasks())
	require.Equal(t, "false", run(t, ctx, `String(ran)`).String())
	// The successful run above drained the leftover task.
	require.Equal(t, "true", run(t, ctx, `String(ran)`).String())
}

func TestMicrotaskPerContext(t *testing.T) {
	a := newContext(t)
	b, err := a.Runtime().NewContext()
	require.NoError(t, err)

	_ = run(t, a, `globalThis.hit = 0`)
	fn := run(t, a, `(() => queueMicrotask(() => hit++))`).(*jsrt.Function)

	// Calls from Go drain like script runs.
	_, err = fn.Call(nil)
	require.NoError(t, err)
	require.Equal(t, "1", run(t, a, `hit`).String())
	require.Zero(t, a.PendingMicrotasks())
	require.Zero(t, b.PendingMicrotasks())

	// Disposing a context drops its queue.
	_, err = b.RunScript(`queueMicrotask(() => {}); throw 1`)
	require.ErrorIs(t, err, jsrt.ErrScriptException)
	require.Equal(t, 1, b.PendingMicrotasks())
	require.NoError(t, b.Dispose())
	require.Zero(t, b.PendingMicrotasks())
	require.ErrorIs(t, b.DrainMicrotasks(), jsrt.ErrDisconnected)
}

func TestMicrotaskPromises(t *testing.T) {
	ctx := newContext(t)

	v := run(t, ctx, `
		globalThis.out = [];
		Promise.resolve(1).then(v => out.push(v)).then(() => out.push(2));
		queueMicrotask(() => out.push("q"));
		"sync"`)
	require.Equal(t, "sync", v.String())
	require.Equal(t, []string{"1", "q", "2"}, stringsOf(t, ctx, `out`))
}

// TestMicrotaskPromiseOrder checks that promise jobs and queueMicrotask
// tasks share one FIFO queue.
func TestMicrotaskPromiseOrder(t *testing.T) {
	ctx := newContext(t)

	_ = run(t, ctx, `
		globalThis.out = [];
		queueMicrotask(() => out.push("q1"));
		Promise.resolve().then(() => out.push("p2"));
		queueMicrotask(() => out.push("q3"))`)
	require.Equal(t, []string{"q1", "p2", "q3"}, stringsOf(t, ctx, `out`))
	require.Zero(t, ctx.PendingMicrotasks())

	_ = run(t, ctx, `
		globalThis.out = [];
		const thenable = { then(resolve) { out.push("then"); resolve("t") } };
		Promise.resolve(thenable).then(v => out.push(v));
		Promise.reject(new Error("x")).catch(e => out.push(e.message)).finally(() => out.push("fin"));
		Promise.all([1, Promise.resolve(2)]).then(v => out.push(v.join("+")));
		queueMicrotask(() => out.push("q"))`)
	require.Equal(t, []string{"then", "x", "q", "t", "fin", "1+2"}, stringsOf(t, ctx, `out`))
	require.Zero(t, ctx.PendingMicrotasks())
}

func TestPromiseInterop(t *testing.T) {
	ctx := newContext(t)

	v := run(t, ctx, `
		globalThis.out = [];
		(async () => { out.push(await Promise.resolve("a")) })();
		Promise.any([Promise.reject(1), Promise.resolve("b")]).then(v => out.push(v));
		Promise.allSettled([Promise.reject(2)]).then(r => out.push(r[0].status));
		Promise.race([new Promise(() => {}), Promise.resolve("c")]).then(v => out.push(v));
		[(async () => {})() instanceof Promise, Object.prototype.toString.call(Promise.resolve())].join()`)
	require.Equal(t, "true,[object Promise]", v.String())
	require.ElementsMatch(t, []string{"a", "b", "rejected", "c"}, stringsOf(t, ctx, `out`))

	_, err := ctx.RunScript(`Promise.prototype.then.call({}, () => {})`)
	require.ErrorIs(t, err, jsrt.ErrScriptException)
}

func stringsOf(t *testing.T, ctx *jsrt.Context, src string) []string {
	t.Helper()
	arr, ok := run(t, ctx, src).(*jsrt.Array)
	require.True(t, ok)
	vals, err := arr.Values()
	require.NoError(t, err)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.String())
		v.Free()
	}
	return out
}
