package jsrt

import (
	"unsafe"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// TypedArrayKind is the element type of a TypedArray.
type TypedArrayKind int

const (
	Int8Array         = TypedArrayKind(engine.Int8)
	Uint8Array        = TypedArrayKind(engine.Uint8)
	Uint8ClampedArray = TypedArrayKind(engine.Uint8Clamped)
	Int16Array        = TypedArrayKind(engine.Int16)
	Uint16Array       = TypedArrayKind(engine.Uint16)
	Int32Array        = TypedArrayKind(engine.Int32)
	Uint32Array       = TypedArrayKind(engine.Uint32)
	Float32Array      = TypedArrayKind(engine.Float32)
	Float64Array      = TypedArrayKind(engine.Float64)
	BigInt64Array     = TypedArrayKind(engine.BigInt64)
	BigUint64Array    = TypedArrayKind(engine.BigUint64)
)

// String returns the constructor name, e.g. "Uint8Array".
func (k TypedArrayKind) String() string {
	return engine.TypedArrayType(k).String()
}

// ElementSize returns the byte width of one element.
func (k TypedArrayKind) ElementSize() int {
	return engine.TypedArrayType(k).ElementSize()
}

// ArrayBuffer is an ArrayBuffer object.
type ArrayBuffer struct{ Object }

// Bytes returns the live contents of the buffer. The slice aliases engine
// memory and is valid while the buffer is alive.
func (b *ArrayBuffer) Bytes() ([]byte, error) {
	var data []byte
	err := b.ctx.do(func() error {
		h, err := b.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		data, code = engine.GetArrayBufferStorage(h)
		return b.ctx.check(code)
	})
	return data, err
}

// ByteLength returns the size of the buffer.
func (b *ArrayBuffer) ByteLength() (int, error) {
	data, err := b.Bytes()
	return len(data), err
}

// TypedArray is a typed view over an ArrayBuffer.
type TypedArray struct {
	Object
	kind TypedArrayKind
}

// Kind returns the element type.
func (t *TypedArray) Kind() TypedArrayKind {
	return t.kind
}

// Bytes returns the bytes viewed by the array.
func (t *TypedArray) Bytes() ([]byte, error) {
	var data []byte
	err := t.ctx.do(func() error {
		h, err := t.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		data, _, _, code = engine.GetTypedArrayStorage(h)
		return t.ctx.check(code)
	})
	return data, err
}

// Buffer returns the underlying ArrayBuffer.
func (t *TypedArray) Buffer() (*ArrayBuffer, error) {
	var buf *ArrayBuffer
	err := t.ctx.do(func() error {
		h, err := t.handle()
		if err != nil {
			return err
		}
		_, bh, _, _, code := engine.GetTypedArrayInfo(h)
		if err := t.ctx.check(code); err != nil {
			return err
		}
		buf, err = as[*ArrayBuffer](t.ctx.wrap(bh))
		return err
	})
	return buf, err
}

// Len returns the number of elements.
func (t *TypedArray) Len() (int, error) {
	data, err := t.Bytes()
	if err != nil {
		return 0, err
	}
	size := t.kind.ElementSize()
	if size == 0 {
		return 0, newError(KindInvalidArgument, "unknown typed array kind %d", int(t.kind))
	}
	return len(data) / size, nil
}

// DataView is a DataView object.
type DataView struct{ Object }

// Bytes returns the bytes viewed by the DataView.
func (d *DataView) Bytes() ([]byte, error) {
	var data []byte
	err := d.ctx.do(func() error {
		h, err := d.handle()
		if err != nil {
			return err
		}
		var code engine.ErrorCode
		data, code = engine.GetDataViewStorage(h)
		return d.ctx.check(code)
	})
	return data, err
}

// ArrayBuffer returns a new ArrayBuffer holding a copy of data.
func (c *Context) ArrayBuffer(data []byte) (*ArrayBuffer, error) {
	var buf *ArrayBuffer
	err := c.do(func() error {
		n, err := bufferSize("buffer length", len(data))
		if err != nil {
			return err
		}
		h, code := engine.CreateArrayBuffer(n)
		if err := c.check(code); err != nil {
			return err
		}
		storage, code := engine.GetArrayBufferStorage(h)
		if err := c.check(code); err != nil {
			return err
		}
		copy(storage, data)
		buf, err = as[*ArrayBuffer](c.wrap(h))
		return err
	})
	return buf, err
}

// bufferKey identifies external memory handed to one context.
type bufferKey struct {
	ctx ContextRef
	ptr *byte
}

type externalBuffer struct {
	key   bufferKey
	ref   ValueRef
	data  []byte
	token uintptr
}

// ExternalArrayBuffer returns an ArrayBuffer over data without copying it.
// Script writes are visible in data and the other way round. data must not
// be resized while the buffer is alive. Passing the same backing array
// again returns the same buffer object.
func (c *Context) ExternalArrayBuffer(data []byte) (*ArrayBuffer, error) {
	var key bufferKey
	if len(data) > 0 {
		key = bufferKey{ctx: c.ref, ptr: unsafe.SliceData(data)}
	}
	var buf *ArrayBuffer
	err := c.do(func() error {
		if key.ptr != nil {
			if b, ok := lookupBuffer(key); ok {
				if v, err := as[*ArrayBuffer](c.wrap(b.ref.handle())); err == nil {
					buf = v
					return nil
				}
			}
		}

		eb := &externalBuffer{key: key, data: data}
		eb.token = tokens.Store(eb)
		h, code := engine.CreateExternalArrayBuffer(data, bufferFinalized, eb.token)
		if err := c.check(code); err != nil {
			tokens.Delete(eb.token)
			return err
		}
		eb.ref = newRef(h)
		if key.ptr != nil {
			registerBuffer(eb)
		}
		var err error
		buf, err = as[*ArrayBuffer](c.wrap(h))
		return err
	})
	return buf, err
}

// bufferFinalized runs once the engine no longer uses an external buffer.
func bufferFinalized(st uintptr) {
	eb, ok := loadToken[*externalBuffer](tokens, st)
	tokens.Delete(st)
	if !ok || eb.key.ptr == nil {
		return
	}
	if unregisterBufferIf(eb) {
		if r, ok := contextRuntime(eb.key.ctx); ok {
			r.logger.Debug("external buffer released",
				zap.Stringer("buffer", eb.ref),
				zap.Int("size", len(eb.data)))
		}
	}
}

// contextRuntime finds the runtime owning a context handle.
func contextRuntime(ref ContextRef) (*Runtime, bool) {
	rh, code := engine.GetRuntime(ref.handle())
	if code != engine.NoError {
		return nil, false
	}
	return runtimeOf(rh)
}

// TypedArray returns a typed array viewing buf from byteOffset. length is
// the number of elements; a negative length views to the end of buf. A nil
// buf allocates a new zeroed array of length elements.
func (c *Context) TypedArray(kind TypedArrayKind, buf *ArrayBuffer, byteOffset, length int) (*TypedArray, error) {
	offset, err := bufferSize("byte offset", byteOffset)
	if err != nil {
		return nil, err
	}
	var ta *TypedArray
	err = c.do(func() error {
		base := engine.InvalidValue
		if buf != nil {
			h, err := buf.handle()
			if err != nil {
				return err
			}
			base = h
		}
		n := engine.TypedArrayToEnd
		if length >= 0 || buf == nil {
			var err error
			if n, err = bufferSize("length", length); err != nil {
				return err
			}
		}
		h, code := engine.CreateTypedArray(engine.TypedArrayType(kind), base, offset, n)
		if err := c.check(code); err != nil {
			return err
		}
		var err error
		ta, err = as[*TypedArray](c.wrap(h))
		return err
	})
	return ta, err
}

// DataView returns a DataView over buf. A negative byteLength views to the
// end of buf.
func (c *Context) DataView(buf *ArrayBuffer, byteOffset, byteLength int) (*DataView, error) {
	if buf == nil {
		return nil, newError(KindInvalidArgument, "nil buffer")
	}
	offset, err := bufferSize("byte offset", byteOffset)
	if err != nil {
		return nil, err
	}
	var dv *DataView
	err = c.do(func() error {
		h, err := buf.handle()
		if err != nil {
			return err
		}
		if byteLength < 0 {
			data, code := engine.GetArrayBufferStorage(h)
			if err := c.check(code); err != nil {
				return err
			}
			byteLength = max(len(data)-byteOffset, 0)
		}
		n, err := bufferSize("byte length", byteLength)
		if err != nil {
			return err
		}
		vh, code := engine.CreateDataView(h, offset, n)
		if err := c.check(code); err != nil {
			return err
		}
		dv, err = as[*DataView](c.wrap(vh))
		return err
	})
	return dv, err
}

// bufferSize checks that n fits the engine's 32-bit sizes. The largest
// value is reserved for views running to the end of their buffer.
func bufferSize(what string, n int) (uint32, error) {
	if n < 0 {
		return 0, newError(KindInvalidArgument, "negative %s", what)
	}
	if uint64(n) >= uint64(engine.TypedArrayToEnd) {
		return 0, newError(KindInvalidArgument, "%s %d is too large", what, n)
	}
	return uint32(n), nil
}
