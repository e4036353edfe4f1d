package engine

import (
	"github.com/dop251/goja"
)

func CreateArrayBuffer(byteLength uint32) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(c.vm.ToValue(c.vm.NewArrayBuffer(make([]byte, byteLength))))
}

// CreateExternalArrayBuffer creates an ArrayBuffer over data without
// copying it. finalize runs once when the buffer is collected or its
// runtime disposed.
func CreateExternalArrayBuffer(data []byte, finalize FinalizeCallback, st uintptr) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	h, code := c.wrap(c.vm.ToValue(c.vm.NewArrayBuffer(data)))
	if code != NoError {
		return InvalidValue, code
	}
	state.Lock()
	s := state.values[h]
	s.finalize, s.finalizeState = finalize, st
	state.Unlock()
	return h, NoError
}

// GetArrayBufferStorage returns the live backing slice of an ArrayBuffer.
func GetArrayBufferStorage(h ValueHandle) ([]byte, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return nil, code
	}
	o, s, code := c.object(h)
	if code != NoError {
		return nil, code
	}
	if s.kind != ArrayBuffer {
		return nil, ErrorInvalidArgument
	}
	return bufferBytes(o), NoError
}

func bufferBytes(o *goja.Object) []byte {
	if ab, ok := o.Export().(goja.ArrayBuffer); ok {
		return ab.Bytes()
	}
	return nil
}

// TypedArrayToEnd as the element length of a view over an ArrayBuffer
// covers the buffer from byteOffset to its end.
const TypedArrayToEnd = ^uint32(0)

// CreateTypedArray creates a typed array. With no base it allocates
// elementLength elements; with an ArrayBuffer base it views elementLength
// elements of the buffer from byteOffset; any other base is copied element
// by element.
func CreateTypedArray(kind TypedArrayType, base ValueHandle, byteOffset, elementLength uint32) (ValueHandle, ErrorCode) {
	if kind.ElementSize() == 0 {
		return InvalidValue, ErrorInvalidArgument
	}
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	ctor := c.helpers.ctors[kind.String()]
	if ctor == nil || goja.IsUndefined(ctor) {
		return InvalidValue, ErrorNotImplemented
	}

	var args []goja.Value
	if base == InvalidValue {
		if elementLength == TypedArrayToEnd {
			return InvalidValue, ErrorInvalidArgument
		}
		args = []goja.Value{c.vm.ToValue(elementLength)}
	} else {
		state.Lock()
		b, s, code := c.lookup(base)
		state.Unlock()
		if code != NoError {
			return InvalidValue, code
		}
		args = []goja.Value{b}
		if s != nil && s.kind == ArrayBuffer {
			args = append(args, c.vm.ToValue(byteOffset))
			if elementLength != TypedArrayToEnd {
				args = append(args, c.vm.ToValue(elementLength))
			}
		}
	}
	obj, err := c.vm.New(ctor, args...)
	if err != nil {
		return InvalidValue, c.fail(err)
	}
	return c.wrap(obj)
}

// GetTypedArrayInfo describes a typed array and returns its buffer.
func GetTypedArrayInfo(h ValueHandle) (kind TypedArrayType, buffer ValueHandle, byteOffset, byteLength uint32, code ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return 0, InvalidValue, 0, 0, code
	}
	o, s, code := c.object(h)
	if code != NoError {
		return 0, InvalidValue, 0, 0, code
	}
	if s.kind != TypedArray {
		return 0, InvalidValue, 0, 0, ErrorInvalidArgument
	}
	buf, off, n, code := c.view(o)
	if code != NoError {
		return 0, InvalidValue, 0, 0, code
	}
	bh, code := c.wrap(buf)
	if code != NoError {
		return 0, InvalidValue, 0, 0, code
	}
	return s.typed, bh, off, n, NoError
}

// GetTypedArrayStorage returns the bytes viewed by a typed array.
func GetTypedArrayStorage(h ValueHandle) ([]byte, TypedArrayType, int, ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return nil, 0, 0, code
	}
	o, s, code := c.object(h)
	if code != NoError {
		return nil, 0, 0, code
	}
	if s.kind != TypedArray {
		return nil, 0, 0, ErrorInvalidArgument
	}
	buf, off, n, code := c.view(o)
	if code != NoError {
		return nil, 0, 0, code
	}
	data := bufferBytes(buf)
	if int(off)+int(n) > len(data) {
		return nil, 0, 0, ErrorInvalidArgument
	}
	return data[off : off+n], s.typed, s.typed.ElementSize(), NoError
}

func CreateDataView(buffer ValueHandle, byteOffset, byteLength uint32) (ValueHandle, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	b, s, code := c.object(buffer)
	if code != NoError {
		return InvalidValue, code
	}
	if s.kind != ArrayBuffer {
		return InvalidValue, ErrorInvalidArgument
	}
	obj, err := c.vm.New(c.helpers.ctors["DataView"], b, c.vm.ToValue(byteOffset), c.vm.ToValue(byteLength))
	if err != nil {
		return InvalidValue, c.fail(err)
	}
	return c.wrap(obj)
}

func GetDataViewStorage(h ValueHandle) ([]byte, ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return nil, code
	}
	o, s, code := c.object(h)
	if code != NoError {
		return nil, code
	}
	if s.kind != DataView {
		return nil, ErrorInvalidArgument
	}
	buf, off, n, code := c.view(o)
	if code != NoError {
		return nil, code
	}
	data := bufferBytes(buf)
	if int(off)+int(n) > len(data) {
		return nil, ErrorInvalidArgument
	}
	return data[off : off+n], NoError
}

// view reads buffer, byteOffset and byteLength of an ArrayBuffer view.
func (c *contextRecord) view(o *goja.Object) (*goja.Object, uint32, uint32, ErrorCode) {
	res, code := c.invoke(c.helpers.view, o)
	if code != NoError {
		return nil, 0, 0, code
	}
	parts := res.ToObject(c.vm)
	buf, ok := parts.Get("0").(*goja.Object)
	if !ok {
		return nil, 0, 0, ErrorInvalidArgument
	}
	return buf, uint32(parts.Get("1").ToInteger()), uint32(parts.Get("2").ToInteger()), NoError
}
