package jsrt

import (
	"sync/atomic"

	"github.com/buke/jsrt-go/internal/engine"
)

// nextSourceContext hands out default source contexts.
var nextSourceContext atomic.Uint64

func scriptOpts(opts []ScriptOption) scriptOptions {
	var o scriptOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasContext {
		o.sourceContext = nextSourceContext.Add(1)
	}
	return o
}

// SourceLoader returns the source of a serialized script when the engine
// needs it. ok false fails the call with InvalidArgument.
type SourceLoader func(sourceContext uint64) (source string, ok bool)

// SourceUnloader is told that the source returned by a SourceLoader is no
// longer needed.
type SourceUnloader func(sourceContext uint64)

// RunScript compiles and runs src and returns its completion value.
// Microtasks queued by the script run before RunScript returns.
func (c *Context) RunScript(src string, opts ...ScriptOption) (Value, error) {
	o := scriptOpts(opts)
	return c.execute(func() (engine.ValueHandle, error) {
		h, code := engine.RunScript(src, uintptr(o.sourceContext), o.sourceURL)
		return h, c.check(code)
	})
}

// ParseScript compiles src without running it. Calling the returned
// function runs the script.
func (c *Context) ParseScript(src string, opts ...ScriptOption) (*Function, error) {
	o := scriptOpts(opts)
	return create[*Function](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.ParseScript(src, uintptr(o.sourceContext), o.sourceURL)
	})
}

// SerializeScript compiles src and returns a buffer that lets later runs of
// the same source skip compilation.
func (c *Context) SerializeScript(src string) ([]byte, error) {
	var buf []byte
	err := c.do(func() error {
		var code engine.ErrorCode
		buf, code = engine.SerializeScript(src)
		return c.check(code)
	})
	return buf, err
}

// RunSerializedScript runs src using a buffer from SerializeScript. A buffer
// that does not match src fails with BadSerializedScript.
func (c *Context) RunSerializedScript(src string, buf []byte, opts ...ScriptOption) (Value, error) {
	o := scriptOpts(opts)
	return c.execute(func() (engine.ValueHandle, error) {
		h, code := engine.RunSerializedScript(src, buf, uintptr(o.sourceContext), o.sourceURL)
		return h, c.check(code)
	})
}

func (c *Context) ParseSerializedScript(src string, buf []byte, opts ...ScriptOption) (*Function, error) {
	o := scriptOpts(opts)
	return create[*Function](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.ParseSerializedScript(src, buf, uintptr(o.sourceContext), o.sourceURL)
	})
}

// RunScriptWithLoader is RunSerializedScript with the source supplied by
// load. unload may be nil.
func (c *Context) RunScriptWithLoader(load SourceLoader, unload SourceUnloader, buf []byte, opts ...ScriptOption) (Value, error) {
	if load == nil {
		return nil, newError(KindInvalidArgument, "nil source loader")
	}
	o := scriptOpts(opts)
	return c.execute(func() (engine.ValueHandle, error) {
		h, code := engine.RunSerializedScriptWithCallback(loadCallback(load), unloadCallback(unload),
			buf, uintptr(o.sourceContext), o.sourceURL)
		return h, c.check(code)
	})
}

func (c *Context) ParseScriptWithLoader(load SourceLoader, unload SourceUnloader, buf []byte, opts ...ScriptOption) (*Function, error) {
	if load == nil {
		return nil, newError(KindInvalidArgument, "nil source loader")
	}
	o := scriptOpts(opts)
	return create[*Function](c, func() (engine.ValueHandle, engine.ErrorCode) {
		return engine.ParseSerializedScriptWithCallback(loadCallback(load), unloadCallback(unload),
			buf, uintptr(o.sourceContext), o.sourceURL)
	})
}

func loadCallback(load SourceLoader) engine.SerializedSourceLoadCallback {
	return func(sourceContext uintptr) (string, bool) {
		return load(uint64(sourceContext))
	}
}

func unloadCallback(unload SourceUnloader) engine.SerializedSourceUnloadCallback {
	if unload == nil {
		return nil
	}
	return func(sourceContext uintptr) {
		unload(uint64(sourceContext))
	}
}
