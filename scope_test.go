package jsrt_test

import (
	"errors"
	"testing"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
)

func TestScopeRunScript(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	defer ctx.Dispose()

	scope, err := jsrt.Use(ctx, false)
	require.NoError(t, err)
	require.Same(t, ctx, scope.Context())
	require.Same(t, ctx, jsrt.CurrentContext())

	v, err := ctx.RunScript(`1+2`)
	require.NoError(t, err)
	require.Equal(t, jsrt.TypeNumber, v.Type())
	require.Equal(t, 3, v.(*jsrt.Number).Int())
	v.Free()

	require.NoError(t, scope.Release())
	require.Nil(t, jsrt.CurrentContext())

	// Release is idempotent.
	require.NoError(t, scope.Release())
	require.Nil(t, jsrt.CurrentContext())
}

// TestScopeNesting releases A, B, C scopes in reverse order and checks the
// current context after each step.
func TestScopeNesting(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()

	var ctxs []*jsrt.Context
	for i := 0; i < 3; i++ {
		c, err := rt.NewContext()
		require.NoError(t, err)
		defer c.Dispose()
		ctxs = append(ctxs, c)
	}
	a, b, c := ctxs[0], ctxs[1], ctxs[2]

	sa, err := jsrt.Use(a, false)
	require.NoError(t, err)
	sb, err := jsrt.Use(b, false)
	require.NoError(t, err)
	sc, err := jsrt.Use(c, false)
	require.NoError(t, err)
	require.Same(t, c, jsrt.CurrentContext())

	require.NoError(t, sc.Release())
	require.Same(t, b, jsrt.CurrentContext())
	require.NoError(t, sb.Release())
	require.Same(t, a, jsrt.CurrentContext())
	require.NoError(t, sa.Release())
	require.Nil(t, jsrt.CurrentContext())
}

// TestScopeAcrossRuntimes nests scopes of two runtimes on one goroutine.
func TestScopeAcrossRuntimes(t *testing.T) {
	a := newContext(t)
	b := newContext(t)

	sa, err := jsrt.Use(a, false)
	require.NoError(t, err)
	sb, err := jsrt.Use(b, false)
	require.NoError(t, err)
	require.Equal(t, "2", run(t, b, `1 + 1`).String())
	// a's runtime is idle while b is current, so calls on a switch back.
	require.Equal(t, "4", run(t, a, `2 + 2`).String())
	require.Same(t, b, jsrt.CurrentContext())

	require.NoError(t, sb.Release())
	require.Same(t, a, jsrt.CurrentContext())
	require.NoError(t, sa.Release())
	require.Nil(t, jsrt.CurrentContext())
}

func TestScopeRestoresOnError(t *testing.T) {
	ctx := newContext(t)
	outer := newContext(t)

	require.NoError(t, outer.Run(func() error {
		boom := errors.New("boom")
		err := ctx.Run(func() error {
			require.Same(t, ctx, jsrt.CurrentContext())
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Same(t, outer, jsrt.CurrentContext())

		// Script failures inside the scope do not leak either.
		err = ctx.Run(func() error {
			_, err := ctx.RunScript(`throw new Error("inside")`)
			return err
		})
		require.ErrorIs(t, err, jsrt.ErrScriptException)
		require.Same(t, outer, jsrt.CurrentContext())
		return nil
	}))
	require.Nil(t, jsrt.CurrentContext())
}

func TestScopeRestoresOnPanic(t *testing.T) {
	ctx := newContext(t)

	require.PanicsWithValue(t, "boom", func() {
		_ = ctx.Run(func() error {
			panic("boom")
		})
	})
	require.Nil(t, jsrt.CurrentContext())

	// The context is still usable.
	require.Equal(t, "ok", run(t, ctx, `"ok"`).String())
}

func TestScopeDisposeOnExit(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()
	ctx, err := rt.NewContext()
	require.NoError(t, err)

	scope, err := jsrt.Use(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "ok", run(t, ctx, `"ok"`).String())
	require.NoError(t, scope.Release())

	require.True(t, ctx.IsDisposed())
	require.Nil(t, jsrt.CurrentContext())
	_, err = ctx.RunScript(`1`)
	require.ErrorIs(t, err, jsrt.ErrDisconnected)

	// A second release does not dispose again.
	require.NoError(t, scope.Release())
}

func TestScopeInvalidUse(t *testing.T) {
	_, err := jsrt.Use(nil, false)
	require.ErrorIs(t, err, jsrt.ErrInvalidArgument)

	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	require.NoError(t, ctx.Dispose())

	_, err = jsrt.Use(ctx, false)
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	require.ErrorIs(t, ctx.Run(func() error { return nil }), jsrt.ErrDisconnected)
}
