package jsrt_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestRuntimeBasics tests basic runtime creation and operations
func TestRuntimeBasics(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()

	require.True(t, rt.Ref().IsValid())
	require.Equal(t, jsrt.AttributeNone, rt.Attributes())

	ctx, err := rt.NewContext()
	require.NoError(t, err)
	defer ctx.Dispose()
	require.Same(t, rt, ctx.Runtime())

	result, err := ctx.RunScript(`1 + 2`)
	require.NoError(t, err)
	defer result.Free()
	n, ok := result.(*jsrt.Number)
	require.True(t, ok)
	require.EqualValues(t, 3, n.Int())

	// Test runtime with all options
	rt2, err := jsrt.NewRuntime(
		jsrt.WithAttributes(jsrt.AttributeAllowScriptInterrupt|jsrt.AttributeEnableIdleProcessing),
		jsrt.WithMemoryLimit(64*1024*1024),
		jsrt.WithLogger(zap.NewNop()),
		jsrt.WithBackgroundWorkers(2),
	)
	require.NoError(t, err)
	defer rt2.Dispose()
	require.Equal(t, jsrt.AttributeAllowScriptInterrupt|jsrt.AttributeEnableIdleProcessing, rt2.Attributes())

	limit, err := rt2.MemoryLimit()
	require.NoError(t, err)
	require.EqualValues(t, 64*1024*1024, limit)

	ctx2, err := rt2.NewContext()
	require.NoError(t, err)
	result2, err := ctx2.RunScript(`"Hello World"`)
	require.NoError(t, err)
	require.Equal(t, "Hello World", result2.String())
	result2.Free()
	require.NoError(t, ctx2.Dispose())
}

func TestRuntimeDisposeDisconnects(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	other, err := rt.NewContext()
	require.NoError(t, err)

	obj, err := ctx.Object()
	require.NoError(t, err)
	fn, err := ctx.Function("noop", func(*jsrt.Context, jsrt.ObjectValue, []jsrt.Value) (jsrt.Value, error) {
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, rt.Dispose())
	require.True(t, rt.IsDisposed())
	require.True(t, ctx.IsDisposed())
	require.True(t, other.IsDisposed())

	_, err = ctx.RunScript(`1`)
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	_, err = other.String("x")
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	_, err = obj.Get("a")
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	require.ErrorIs(t, obj.Set("a", nil), jsrt.ErrDisconnected)
	_, err = fn.Call(nil)
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	_, err = ctx.Global()
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	require.ErrorIs(t, ctx.DrainMicrotasks(), jsrt.ErrDisconnected)
	_, err = jsrt.Use(ctx, false)
	require.ErrorIs(t, err, jsrt.ErrDisconnected)

	_, err = rt.NewContext()
	require.ErrorIs(t, err, jsrt.ErrDisconnected)
	require.ErrorIs(t, rt.CollectGarbage(), jsrt.ErrDisconnected)

	// Dispose is idempotent, for the runtime and its contexts.
	require.NoError(t, rt.Dispose())
	require.NoError(t, ctx.Dispose())
	require.NoError(t, other.Dispose())

	// Freeing values of a disposed runtime is harmless.
	obj.Free()
	fn.Free()
}

func TestRuntimeDisposeWhileCurrent(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	ctx, err := rt.NewContext()
	require.NoError(t, err)

	scope, err := jsrt.Use(ctx, false)
	require.NoError(t, err)
	require.Same(t, ctx, jsrt.CurrentContext())

	// The current context belongs to the runtime, so Dispose clears it.
	require.NoError(t, rt.Dispose())
	require.Nil(t, jsrt.CurrentContext())
	require.NoError(t, scope.Release())
}

func TestRuntimeDisposeInUse(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	ctx, err := rt.NewContext()
	require.NoError(t, err)

	entered := make(chan struct{})
	leave := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- ctx.Run(func() error {
			close(entered)
			<-leave
			return nil
		})
	}()

	<-entered
	require.ErrorIs(t, rt.Dispose(), jsrt.ErrRuntimeInUse)
	require.False(t, rt.IsDisposed())

	// The runtime is active on the other goroutine.
	_, err = ctx.RunScript(`1`)
	require.ErrorIs(t, err, jsrt.ErrRuntimeInUse)

	close(leave)
	require.NoError(t, <-done)
	require.NoError(t, rt.Dispose())
}

func TestRuntimeMemory(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	defer ctx.Dispose()

	limit, err := rt.MemoryLimit()
	require.NoError(t, err)
	require.Zero(t, limit)

	require.NoError(t, rt.SetMemoryLimit(32*1024*1024))
	limit, err = rt.MemoryLimit()
	require.NoError(t, err)
	require.EqualValues(t, 32*1024*1024, limit)

	s, err := ctx.String("some string held by the host")
	require.NoError(t, err)
	defer s.Free()

	usage, err := rt.MemoryUsage()
	require.NoError(t, err)
	require.Greater(t, usage, uint64(0))
}

func TestRuntimeMemoryEvents(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	defer ctx.Dispose()

	var mu sync.Mutex
	var events []jsrt.MemoryEvent
	var refuse atomic.Bool
	rt.OnMemoryEvent(func(ev jsrt.MemoryEvent) bool {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return !(refuse.Load() && ev.Type == jsrt.MemoryAllocate)
	})

	s, err := ctx.String("observed allocation")
	require.NoError(t, err)
	s.Free()

	mu.Lock()
	require.NotEmpty(t, events)
	require.Equal(t, jsrt.MemoryAllocate, events[0].Type)
	require.Greater(t, events[0].Size, uint64(0))
	mu.Unlock()

	refuse.Store(true)
	_, err = ctx.String("refused allocation")
	require.ErrorIs(t, err, jsrt.ErrOutOfMemory)

	refuse.Store(false)
	s, err = ctx.String("allowed again")
	require.NoError(t, err)
	s.Free()
}

func TestRuntimeBeforeCollect(t *testing.T) {
	rt, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer rt.Dispose()

	var calls atomic.Int32
	rt.OnBeforeCollect(func() { calls.Add(1) })
	rt.OnBeforeCollect(func() { calls.Add(10) })

	require.NoError(t, rt.CollectGarbage())
	require.EqualValues(t, 11, calls.Load())
	require.NoError(t, rt.CollectGarbage())
	require.EqualValues(t, 22, calls.Load())
}

func TestRuntimeDisableExecution(t *testing.T) {
	// Without the interrupt attribute execution cannot be disabled.
	plain, err := jsrt.NewRuntime()
	require.NoError(t, err)
	defer plain.Dispose()
	require.ErrorIs(t, plain.DisableExecution(), jsrt.ErrCannotDisableExecution)

	ctx := newContext(t, jsrt.WithAttributes(jsrt.AttributeAllowScriptInterrupt))
	rt := ctx.Runtime()

	require.NoError(t, rt.DisableExecution())
	disabled, err := rt.IsExecutionDisabled()
	require.NoError(t, err)
	require.True(t, disabled)

	_, err = ctx.RunScript(`1`)
	require.ErrorIs(t, err, jsrt.ErrDisabledState)

	require.NoError(t, rt.EnableExecution())
	disabled, err = rt.IsExecutionDisabled()
	require.NoError(t, err)
	require.False(t, disabled)
	v := run(t, ctx, `1`)
	require.Equal(t, "1", v.String())
}

func TestRuntimeTerminateRunningScript(t *testing.T) {
	ctx := newContext(t, jsrt.WithAttributes(jsrt.AttributeAllowScriptInterrupt))
	rt := ctx.Runtime()

	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, ctx.SetFunction("started", func(*jsrt.Context, jsrt.ObjectValue, []jsrt.Value) (jsrt.Value, error) {
		once.Do(func() { close(started) })
		return nil, nil
	}))

	done := make(chan error)
	go func() {
		_, err := ctx.RunScript(`started(); while (true) {}`)
		done <- err
	}()

	<-started
	require.NoError(t, rt.DisableExecution())
	select {
	case err := <-done:
		require.ErrorIs(t, err, jsrt.ErrScriptTerminated)
	case <-time.After(10 * time.Second):
		t.Fatal("script was not terminated")
	}

	require.NoError(t, rt.EnableExecution())
	v := run(t, ctx, `"alive"`)
	require.Equal(t, "alive", v.String())
}

func TestRuntimeIdle(t *testing.T) {
	ctx := newContext(t)
	_, err := ctx.Runtime().Idle()
	require.ErrorIs(t, err, jsrt.ErrIdleNotEnabled)

	ctx = newContext(t, jsrt.WithAttributes(jsrt.AttributeEnableIdleProcessing))
	next, err := ctx.Runtime().Idle()
	require.NoError(t, err)
	require.Greater(t, next, time.Duration(0))

	// Idle also works while one of the runtime's contexts is current.
	require.NoError(t, ctx.Run(func() error {
		_, err := ctx.Runtime().Idle()
		return err
	}))
}

func TestRuntimeIdleWithoutContext(t *testing.T) {
	rt, err := jsrt.NewRuntime(jsrt.WithAttributes(jsrt.AttributeEnableIdleProcessing))
	require.NoError(t, err)
	defer rt.Dispose()
	_, err = rt.Idle()
	require.ErrorIs(t, err, jsrt.ErrNoCurrentContext)
}

func TestRuntimeBackgroundWorkers(t *testing.T) {
	ctx := newContext(t, jsrt.WithBackgroundWorkers(2))

	// Every call switches the context in and out, which hands the idle
	// sweep to the worker pool.
	for i := 0; i < 50; i++ {
		s, err := ctx.String("garbage")
		require.NoError(t, err)
		s.Free()
	}
	v := run(t, ctx, `[1, 2, 3].map(x => x * 2).join(",")`)
	require.Equal(t, "2,4,6", v.String())
}

func TestRuntimeLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rt, err := jsrt.NewRuntime(jsrt.WithLogger(zap.New(core)))
	require.NoError(t, err)
	ctx, err := rt.NewContext()
	require.NoError(t, err)
	require.NoError(t, ctx.Dispose())
	require.NoError(t, rt.Dispose())

	require.Equal(t, 1, logs.FilterMessage("runtime created").Len())
	require.Equal(t, 1, logs.FilterMessage("context created").Len())
	require.Equal(t, 1, logs.FilterMessage("context disposed").Len())
	require.Equal(t, 1, logs.FilterMessage("runtime disposed").Len())
}
