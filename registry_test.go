package jsrt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buke/jsrt-go/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(engine.NoError))

	cases := map[engine.ErrorCode]*Error{
		engine.ErrorInvalidArgument:        ErrInvalidArgument,
		engine.ErrorNullArgument:           ErrInvalidArgument,
		engine.ErrorNoCurrentContext:       ErrNoCurrentContext,
		engine.ErrorRuntimeInUse:           ErrRuntimeInUse,
		engine.ErrorWrongThread:            ErrWrongThread,
		engine.ErrorBadSerializedScript:    ErrBadSerializedScript,
		engine.ErrorInDisabledState:        ErrDisabledState,
		engine.ErrorIdleNotEnabled:         ErrIdleNotEnabled,
		engine.ErrorPropertyNotSymbol:      ErrPropertyKeyKindMismatch,
		engine.ErrorPropertyNotString:      ErrPropertyKeyKindMismatch,
		engine.ErrorInvalidContext:         ErrDisconnected,
		engine.ErrorOutOfMemory:            ErrOutOfMemory,
		engine.ErrorScriptTerminated:       ErrScriptTerminated,
		engine.ErrorWrongRuntime:           ErrWrongRuntime,
		engine.ErrorScriptException:        ErrScriptException,
		engine.ErrorScriptCompile:          ErrScriptCompile,
		engine.ErrorCannotDisableExecution: ErrCannotDisableExecution,
	}
	for code, want := range cases {
		err := translate(code)
		require.Error(t, err, code.String())
		assert.ErrorIs(t, err, want, code.String())

		var jerr *Error
		require.True(t, errors.As(err, &jerr))
		assert.Equal(t, uint32(code), jerr.Code)
		assert.NotEmpty(t, jerr.Message)
	}

	// Unknown codes are fatal.
	assert.ErrorIs(t, translate(engine.ErrorCode(0xdead)), ErrFatal)
	// Script failures without a context get a generic message.
	assert.Equal(t, "ScriptCompile: script compile error", translate(engine.ErrorScriptCompile).Error())
}

func TestRegistry(t *testing.T) {
	rt, err := NewRuntime()
	require.NoError(t, err)

	got, ok := lookupRuntime(rt.Ref())
	require.True(t, ok)
	assert.Same(t, rt, got)
	got, ok = runtimeOf(rt.Ref().handle())
	require.True(t, ok)
	assert.Same(t, rt, got)

	ctx, err := rt.NewContext()
	require.NoError(t, err)
	owner, ok := contextRuntime(ctx.Ref())
	require.True(t, ok)
	assert.Same(t, rt, owner)

	fn, err := ctx.Function("f", func(*Context, ObjectValue, []Value) (Value, error) { return nil, nil })
	require.NoError(t, err)
	assert.Positive(t, functionCount())
	reg, ok := lookupFunction(fn.Ref())
	require.True(t, ok)
	assert.Equal(t, "f", reg.name)

	// Removing an unknown entry is a no-op.
	assert.Nil(t, unregisterFunction(ValueRef{}))

	require.NoError(t, rt.Dispose())
	_, ok = lookupRuntime(rt.Ref())
	assert.False(t, ok)
	// Disposal finalized the function's registration.
	_, ok = lookupFunction(fn.Ref())
	assert.False(t, ok)
}

func TestRegistryBuffers(t *testing.T) {
	rt, err := NewRuntime()
	require.NoError(t, err)
	ctx, err := rt.NewContext()
	require.NoError(t, err)

	data := make([]byte, 16)
	buf, err := ctx.ExternalArrayBuffer(data)
	require.NoError(t, err)
	assert.Positive(t, bufferCount())

	b, ok := lookupBuffer(bufferKey{ctx: ctx.Ref(), ptr: &data[0]})
	require.True(t, ok)
	assert.Equal(t, buf.Ref(), b.ref)

	// A stale entry does not remove a newer one under the same key.
	stale := &externalBuffer{key: b.key}
	assert.False(t, unregisterBufferIf(stale))
	_, ok = lookupBuffer(b.key)
	assert.True(t, ok)

	buf.Free()
	require.NoError(t, rt.Dispose())
	_, ok = lookupBuffer(b.key)
	assert.False(t, ok)
}

func TestWorkerPool(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	p := newWorkerPool(2, zap.New(core))

	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		require.True(t, p.dispatch(func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 3, ran.Load())

	// A panicking item is logged and the worker keeps going.
	done := make(chan struct{})
	require.True(t, p.dispatch(func() { panic("bad item") }))
	require.True(t, p.dispatch(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker stopped after a panic")
	}

	p.stop()
	assert.Equal(t, 1, logs.FilterMessage("background work panicked").Len())
	assert.False(t, p.dispatch(func() {}))
	assert.Zero(t, p.pending())
	p.stop()

	var nilPool *workerPool
	assert.Zero(t, nilPool.pending())
	nilPool.stop()
}

func TestWorkerPoolSaturated(t *testing.T) {
	p := newWorkerPool(1, zap.NewNop())
	defer p.stop()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.dispatch(func() {
		close(started)
		<-block
	}))
	<-started

	// Fill the queue; further work is refused instead of blocking.
	for i := 0; i < 4; i++ {
		require.True(t, p.dispatch(func() {}))
	}
	assert.Equal(t, 4, p.pending())
	assert.False(t, p.dispatch(func() {}))
	close(block)
}

func TestTaskQueue(t *testing.T) {
	q := newTaskQueue()
	_, ok := q.pop()
	assert.False(t, ok)

	q.push(engine.ValueHandle(1))
	q.push(engine.ValueHandle(2))
	q.push(engine.ValueHandle(3))
	assert.Equal(t, 3, q.len())

	for _, want := range []engine.ValueHandle{1, 2, 3} {
		h, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, want, h)
	}
	assert.Zero(t, q.len())

	q.push(engine.ValueHandle(4))
	q.reset()
	assert.Zero(t, q.len())
}
