package jsrt_test

import (
	"fmt"
	"testing"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
)

// newContext returns a context of a fresh runtime, both disposed when the
// test ends.
func newContext(t *testing.T, opts ...jsrt.Option) *jsrt.Context {
	t.Helper()
	rt, err := jsrt.NewRuntime(opts...)
	require.NoError(t, err)
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ctx.Dispose())
		require.NoError(t, rt.Dispose())
	})
	return ctx
}

// run evaluates src and fails the test on error.
func run(t *testing.T, ctx *jsrt.Context, src string) jsrt.Value {
	t.Helper()
	v, err := ctx.RunScript(src)
	require.NoError(t, err)
	t.Cleanup(v.Free)
	return v
}

func Example() {
	// Create a new runtime
	rt, _ := jsrt.NewRuntime(jsrt.WithMemoryLimit(128 * 1024 * 1024))
	defer rt.Dispose()

	// Create a new context
	ctx, _ := rt.NewContext()
	defer ctx.Dispose()

	// Create a new object
	test, _ := ctx.Object()
	defer test.Free()

	// bind properties to the object
	a, _ := ctx.String("String A")
	_ = test.Set("A", a)
	b, _ := ctx.Int(0)
	_ = test.Set("B", b)

	// bind go function to js object
	hello, _ := ctx.Function("hello", func(ctx *jsrt.Context, this jsrt.ObjectValue, args []jsrt.Value) (jsrt.Value, error) {
		return ctx.String("Hello " + args[0].String())
	})
	_ = test.Set("hello", hello)

	// bind "test" object to global object
	global, _ := ctx.Global()
	_ = global.Set("test", test)

	// call js function by js
	jsRet, _ := ctx.RunScript(`test.hello("Javascript!")`)
	fmt.Println(jsRet.String())

	// call js function by go
	arg, _ := ctx.String("Golang!")
	goRet, _ := test.Invoke("hello", arg)
	fmt.Println(goRet.String())

	// microtasks run before RunScript returns
	ret, _ := ctx.RunScript(`
		var ret;
		queueMicrotask(() => ret = "Hello Microtask!");
		ret`)
	fmt.Println(ret.String())
	after, _ := ctx.RunScript(`ret`)
	fmt.Println(after.String())

	// Output:
	// Hello Javascript!
	// Hello Golang!
	// undefined
	// Hello Microtask!
}
