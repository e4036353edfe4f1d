package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/dop251/goja"
)

// Serialized script layout: magic, version, reserved, source length and the
// SHA-256 of the source. The compiled program itself stays in the runtime's
// program cache, keyed by the same hash.
const (
	serializedMagic   = "JSRT"
	serializedVersion = 1
	serializedSize    = 4 + 2 + 2 + 4 + sha256.Size
)

// RunScript compiles and runs script in the current context.
func RunScript(script string, sourceContext uintptr, sourceURL string) (ValueHandle, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	prg, code := c.compile(script, sourceURL)
	if code != NoError {
		return InvalidValue, code
	}
	return c.run(prg)
}

// ParseScript compiles script and returns a function that runs it.
func ParseScript(script string, sourceContext uintptr, sourceURL string) (ValueHandle, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	prg, code := c.compile(script, sourceURL)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(c.programFunction(prg))
}

// SerializeScript compiles script and returns a buffer that later lets the
// runtime skip compilation.
func SerializeScript(script string) ([]byte, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return nil, code
	}
	if _, code := c.compile(script, ""); code != NoError {
		return nil, code
	}
	sum := sha256.Sum256([]byte(script))
	buf := make([]byte, 0, serializedSize)
	buf = append(buf, serializedMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, serializedVersion)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(script)))
	buf = append(buf, sum[:]...)
	return buf, NoError
}

func RunSerializedScript(script string, buffer []byte, sourceContext uintptr, sourceURL string) (ValueHandle, ErrorCode) {
	c, prg, code := loadSerialized(script, buffer, sourceURL)
	if code != NoError {
		return InvalidValue, code
	}
	return c.run(prg)
}

func ParseSerializedScript(script string, buffer []byte, sourceContext uintptr, sourceURL string) (ValueHandle, ErrorCode) {
	c, prg, code := loadSerialized(script, buffer, sourceURL)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(c.programFunction(prg))
}

// RunSerializedScriptWithCallback is RunSerializedScript with the source
// fetched through load. unload is called once the source is no longer needed.
func RunSerializedScriptWithCallback(load SerializedSourceLoadCallback, unload SerializedSourceUnloadCallback,
	buffer []byte, sourceContext uintptr, sourceURL string) (ValueHandle, ErrorCode) {
	c, prg, code := loadSerializedWithCallback(load, unload, buffer, sourceContext, sourceURL)
	if code != NoError {
		return InvalidValue, code
	}
	return c.run(prg)
}

func ParseSerializedScriptWithCallback(load SerializedSourceLoadCallback, unload SerializedSourceUnloadCallback,
	buffer []byte, sourceContext uintptr, sourceURL string) (ValueHandle, ErrorCode) {
	c, prg, code := loadSerializedWithCallback(load, unload, buffer, sourceContext, sourceURL)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(c.programFunction(prg))
}

func loadSerializedWithCallback(load SerializedSourceLoadCallback, unload SerializedSourceUnloadCallback,
	buffer []byte, sourceContext uintptr, sourceURL string) (*contextRecord, *goja.Program, ErrorCode) {
	if load == nil {
		return nil, nil, ErrorNullArgument
	}
	if _, code := enterScript(); code != NoError {
		return nil, nil, code
	}
	script, ok := load(sourceContext)
	if !ok {
		return nil, nil, ErrorInvalidArgument
	}
	if unload != nil {
		defer unload(sourceContext)
	}
	return loadSerialized(script, buffer, sourceURL)
}

func loadSerialized(script string, buffer []byte, sourceURL string) (*contextRecord, *goja.Program, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return nil, nil, code
	}
	if !validSerialized(script, buffer) {
		return nil, nil, ErrorBadSerializedScript
	}
	prg, code := c.compile(script, sourceURL)
	if code != NoError {
		return nil, nil, code
	}
	return c, prg, NoError
}

func validSerialized(script string, buf []byte) bool {
	if len(buf) != serializedSize || !bytes.Equal(buf[:4], []byte(serializedMagic)) {
		return false
	}
	if binary.LittleEndian.Uint16(buf[4:]) != serializedVersion {
		return false
	}
	if binary.LittleEndian.Uint32(buf[8:]) != uint32(len(script)) {
		return false
	}
	sum := sha256.Sum256([]byte(script))
	return bytes.Equal(buf[12:], sum[:])
}

// compile returns the cached program for script or compiles it. A compile
// failure leaves a SyntaxError pending.
func (c *contextRecord) compile(script, sourceURL string) (*goja.Program, ErrorCode) {
	key := programKey{sum: sha256.Sum256([]byte(script)), url: sourceURL}
	state.Lock()
	prg := c.rt.programs[key]
	state.Unlock()
	if prg != nil {
		return prg, NoError
	}

	prg, err := goja.Compile(sourceURL, script, false)
	if err != nil {
		msg := err.Error()
		var syntax *goja.CompilerSyntaxError
		if errors.As(err, &syntax) {
			msg = syntax.Message
		}
		ex, nerr := c.vm.New(c.helpers.ctors["SyntaxError"], c.vm.ToValue(msg))
		if nerr != nil {
			c.setException(c.vm.ToValue(msg))
		} else {
			c.setException(ex)
		}
		return nil, ErrorScriptCompile
	}

	state.Lock()
	if c.rt.programs != nil {
		c.rt.programs[key] = prg
	}
	state.Unlock()
	return prg, NoError
}

func (c *contextRecord) run(prg *goja.Program) (ValueHandle, ErrorCode) {
	c.evalDisabledHit = false
	res, err := c.vm.RunProgram(prg)
	if err != nil {
		return InvalidValue, c.fail(err)
	}
	return c.wrap(res)
}

// programFunction returns a native function that runs prg on each call.
func (c *contextRecord) programFunction(prg *goja.Program) goja.Value {
	vm := c.vm
	return vm.ToValue(func(goja.FunctionCall) goja.Value {
		res, err := vm.RunProgram(prg)
		if err != nil {
			var (
				exception   *goja.Exception
				interrupted *goja.InterruptedError
			)
			switch {
			case errors.As(err, &exception):
				panic(exception.Value())
			case errors.As(err, &interrupted):
				panic(interrupted)
			}
			panic(vm.NewGoError(err))
		}
		return res
	})
}

// CallFunction calls fn with args[0] as the receiver.
func CallFunction(fn ValueHandle, args []ValueHandle) (ValueHandle, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	vs, code := c.values(append([]ValueHandle{fn}, args...)...)
	if code != NoError {
		return InvalidValue, code
	}
	callable, ok := goja.AssertFunction(vs[0])
	if !ok {
		return InvalidValue, ErrorInvalidArgument
	}
	this, rest := receiver(vs[1:])
	c.evalDisabledHit = false
	res, err := callable(this, rest...)
	if err != nil {
		return InvalidValue, c.fail(err)
	}
	return c.wrap(res)
}

// ConstructObject calls fn as a constructor. args[0] is ignored.
func ConstructObject(fn ValueHandle, args []ValueHandle) (ValueHandle, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	vs, code := c.values(append([]ValueHandle{fn}, args...)...)
	if code != NoError {
		return InvalidValue, code
	}
	if _, ok := goja.AssertFunction(vs[0]); !ok {
		return InvalidValue, ErrorInvalidArgument
	}
	_, rest := receiver(vs[1:])
	obj, err := c.vm.New(vs[0], rest...)
	if err != nil {
		return InvalidValue, c.fail(err)
	}
	return c.wrap(obj)
}

func receiver(args []goja.Value) (goja.Value, []goja.Value) {
	if len(args) == 0 {
		return goja.Undefined(), nil
	}
	return args[0], args[1:]
}
