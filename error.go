package jsrt

import (
	"fmt"

	"github.com/buke/jsrt-go/internal/engine"
)

// ErrorKind classifies every failure the binding reports.
type ErrorKind int

const (
	KindInvalidArgument ErrorKind = iota + 1
	KindNoCurrentContext
	KindInExceptionState
	KindNotImplemented
	KindWrongThread
	KindWrongRuntime
	KindRuntimeInUse
	KindBadSerializedScript
	KindDisabledState
	KindCannotDisableExecution
	KindAlreadyDebugging
	KindHeapEnumInProgress
	KindArgumentNotObject
	KindInProfileCallback
	KindInThreadServiceCallback
	KindCannotSerializeDebugScript
	KindAlreadyProfiling
	KindIdleNotEnabled
	KindOutOfMemory
	KindScriptException
	KindScriptCompile
	KindScriptTerminated
	KindEvalDisabled
	KindFatal
	KindProjection
	KindObjectNotInspectable
	KindPropertyKeyKindMismatch
	KindDisconnected
	KindInObjectBeforeCollectCallback
)

var kindNames = map[ErrorKind]string{
	KindInvalidArgument:               "InvalidArgument",
	KindNoCurrentContext:              "NoCurrentContext",
	KindInExceptionState:              "InExceptionState",
	KindNotImplemented:                "NotImplemented",
	KindWrongThread:                   "WrongThread",
	KindWrongRuntime:                  "WrongRuntime",
	KindRuntimeInUse:                  "RuntimeInUse",
	KindBadSerializedScript:           "BadSerializedScript",
	KindDisabledState:                 "DisabledState",
	KindCannotDisableExecution:        "CannotDisableExecution",
	KindAlreadyDebugging:              "AlreadyDebugging",
	KindHeapEnumInProgress:            "HeapEnumInProgress",
	KindArgumentNotObject:             "ArgumentNotObject",
	KindInProfileCallback:             "InProfileCallback",
	KindInThreadServiceCallback:       "InThreadServiceCallback",
	KindCannotSerializeDebugScript:    "CannotSerializeDebugScript",
	KindAlreadyProfiling:              "AlreadyProfiling",
	KindIdleNotEnabled:                "IdleNotEnabled",
	KindOutOfMemory:                   "OutOfMemory",
	KindScriptException:               "ScriptException",
	KindScriptCompile:                 "ScriptCompile",
	KindScriptTerminated:              "ScriptTerminated",
	KindEvalDisabled:                  "EvalDisabled",
	KindFatal:                         "Fatal",
	KindProjection:                    "Projection",
	KindObjectNotInspectable:          "ObjectNotInspectable",
	KindPropertyKeyKindMismatch:       "PropertyKeyKindMismatch",
	KindDisconnected:                  "Disconnected",
	KindInObjectBeforeCollectCallback: "InObjectBeforeCollectCallback",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinel errors for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrInvalidArgument               = &Error{Kind: KindInvalidArgument}
	ErrNoCurrentContext              = &Error{Kind: KindNoCurrentContext}
	ErrInExceptionState              = &Error{Kind: KindInExceptionState}
	ErrNotImplemented                = &Error{Kind: KindNotImplemented}
	ErrWrongThread                   = &Error{Kind: KindWrongThread}
	ErrWrongRuntime                  = &Error{Kind: KindWrongRuntime}
	ErrRuntimeInUse                  = &Error{Kind: KindRuntimeInUse}
	ErrBadSerializedScript           = &Error{Kind: KindBadSerializedScript}
	ErrDisabledState                 = &Error{Kind: KindDisabledState}
	ErrCannotDisableExecution        = &Error{Kind: KindCannotDisableExecution}
	ErrAlreadyDebugging              = &Error{Kind: KindAlreadyDebugging}
	ErrHeapEnumInProgress            = &Error{Kind: KindHeapEnumInProgress}
	ErrArgumentNotObject             = &Error{Kind: KindArgumentNotObject}
	ErrInProfileCallback             = &Error{Kind: KindInProfileCallback}
	ErrInThreadServiceCallback       = &Error{Kind: KindInThreadServiceCallback}
	ErrCannotSerializeDebugScript    = &Error{Kind: KindCannotSerializeDebugScript}
	ErrAlreadyProfiling              = &Error{Kind: KindAlreadyProfiling}
	ErrIdleNotEnabled                = &Error{Kind: KindIdleNotEnabled}
	ErrOutOfMemory                   = &Error{Kind: KindOutOfMemory}
	ErrScriptException               = &Error{Kind: KindScriptException}
	ErrScriptCompile                 = &Error{Kind: KindScriptCompile}
	ErrScriptTerminated              = &Error{Kind: KindScriptTerminated}
	ErrEvalDisabled                  = &Error{Kind: KindEvalDisabled}
	ErrFatal                         = &Error{Kind: KindFatal}
	ErrProjection                    = &Error{Kind: KindProjection}
	ErrObjectNotInspectable          = &Error{Kind: KindObjectNotInspectable}
	ErrPropertyKeyKindMismatch       = &Error{Kind: KindPropertyKeyKindMismatch}
	ErrDisconnected                  = &Error{Kind: KindDisconnected}
	ErrInObjectBeforeCollectCallback = &Error{Kind: KindInObjectBeforeCollectCallback}
)

// Error is the error type returned by every operation of the package.
// Script failures also carry the details of the thrown value.
type Error struct {
	Kind ErrorKind
	Code uint32 // engine error code, 0 for errors raised by the binding itself

	Name       string // Error name (e.g., "TypeError", "ReferenceError")
	Message    string // Error message
	Cause      string // Error cause
	Stack      string // Stack trace
	JSONString string // Serialized JSON string

	// Exception is the thrown value, nil when it could not be fetched.
	Exception Value
}

// Error implements the error interface.
func (err *Error) Error() string {
	name := err.Name
	if name == "" {
		name = err.Kind.String()
	}
	if err.Cause != "" {
		return fmt.Sprintf("%s: %s (cause: %s)", name, err.Message, err.Cause)
	}
	if err.Message == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, err.Message)
}

// Is matches any *Error of the same kind.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == err.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func errDisconnected(what string) error {
	return newError(KindDisconnected, "%s is disposed", what)
}

var codeKinds = map[engine.ErrorCode]ErrorKind{
	engine.ErrorInvalidArgument:                    KindInvalidArgument,
	engine.ErrorNullArgument:                       KindInvalidArgument,
	engine.ErrorNoCurrentContext:                   KindNoCurrentContext,
	engine.ErrorInExceptionState:                   KindInExceptionState,
	engine.ErrorNotImplemented:                     KindNotImplemented,
	engine.ErrorWrongThread:                        KindWrongThread,
	engine.ErrorRuntimeInUse:                       KindRuntimeInUse,
	engine.ErrorBadSerializedScript:                KindBadSerializedScript,
	engine.ErrorInDisabledState:                    KindDisabledState,
	engine.ErrorCannotDisableExecution:             KindCannotDisableExecution,
	engine.ErrorHeapEnumInProgress:                 KindHeapEnumInProgress,
	engine.ErrorArgumentNotObject:                  KindArgumentNotObject,
	engine.ErrorInProfileCallback:                  KindInProfileCallback,
	engine.ErrorInThreadServiceCallback:            KindInThreadServiceCallback,
	engine.ErrorCannotSerializeDebugScript:         KindCannotSerializeDebugScript,
	engine.ErrorAlreadyDebuggingContext:            KindAlreadyDebugging,
	engine.ErrorAlreadyProfilingContext:            KindAlreadyProfiling,
	engine.ErrorIdleNotEnabled:                     KindIdleNotEnabled,
	engine.ErrorCannotSetProjectionEnqueueCallback: KindProjection,
	engine.ErrorCannotStartProjection:              KindProjection,
	engine.ErrorInObjectBeforeCollectCallback:      KindInObjectBeforeCollectCallback,
	engine.ErrorObjectNotInspectable:               KindObjectNotInspectable,
	engine.ErrorPropertyNotSymbol:                  KindPropertyKeyKindMismatch,
	engine.ErrorPropertyNotString:                  KindPropertyKeyKindMismatch,
	engine.ErrorInvalidContext:                     KindDisconnected,
	engine.ErrorOutOfMemory:                        KindOutOfMemory,
	engine.ErrorScriptException:                    KindScriptException,
	engine.ErrorScriptCompile:                      KindScriptCompile,
	engine.ErrorScriptTerminated:                   KindScriptTerminated,
	engine.ErrorScriptEvalDisabled:                 KindEvalDisabled,
	engine.ErrorFatal:                              KindFatal,
	engine.ErrorWrongRuntime:                       KindWrongRuntime,
}

// kindOf maps an engine code to its kind. Unknown codes are fatal.
func kindOf(code engine.ErrorCode) ErrorKind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindFatal
}

// genericMessages stand in when the thrown value cannot be inspected.
var genericMessages = map[ErrorKind]string{
	KindScriptException: "script exception",
	KindScriptCompile:   "script compile error",
	KindEvalDisabled:    "eval is disabled",
}

// translate converts an engine code without looking at any pending
// exception. It is used where no context is current.
func translate(code engine.ErrorCode) error {
	if code == engine.NoError {
		return nil
	}
	kind := kindOf(code)
	return &Error{Kind: kind, Code: uint32(code), Message: messageFor(kind, code)}
}

func messageFor(kind ErrorKind, code engine.ErrorCode) string {
	if msg, ok := genericMessages[kind]; ok {
		return msg
	}
	return code.String()
}

// check converts an engine code returned while c is current. Script
// failures take the pending exception and describe it; the context is
// usable again afterwards.
func (c *Context) check(code engine.ErrorCode) error {
	switch code {
	case engine.NoError:
		return nil
	case engine.ErrorScriptException, engine.ErrorScriptCompile, engine.ErrorScriptEvalDisabled:
		return c.exceptionError(code)
	}
	return translate(code)
}

func (c *Context) exceptionError(code engine.ErrorCode) *Error {
	kind := kindOf(code)
	err := &Error{Kind: kind, Code: uint32(code)}
	h, ec := engine.GetAndClearException()
	if ec != engine.NoError {
		err.Message = messageFor(kind, code)
		return err
	}
	if v, werr := c.wrap(h); werr == nil {
		err.Exception = v
	}
	c.describe(err, h)
	if err.Message == "" && err.Name == "" {
		err.Message = messageFor(kind, code)
	}
	return err
}

// describe fills err from a thrown value. Every step is best effort: a
// failing read leaves its field empty and discards whatever it threw.
func (c *Context) describe(err *Error, h engine.ValueHandle) {
	t, code := engine.GetValueType(h)
	if code != engine.NoError {
		return
	}
	if !ValueType(t).IsObject() {
		err.Message, _ = c.stringOf(h)
		return
	}
	err.Name = c.stringProperty(h, "name")
	err.Message = c.stringProperty(h, "message")
	err.Cause = c.stringProperty(h, "cause")
	err.Stack = c.stringProperty(h, "stack")
	err.JSONString, _ = c.jsonStringify(h)
}

// stringProperty reads obj[name] as a string; undefined and failures give "".
func (c *Context) stringProperty(obj engine.ValueHandle, name string) string {
	v, code := getNamed(obj, name)
	if code != engine.NoError {
		discardException()
		return ""
	}
	if t, _ := engine.GetValueType(v); t == engine.Undefined {
		return ""
	}
	s, ok := c.stringOf(v)
	if !ok {
		return ""
	}
	return s
}

// stringOf converts h with the script String() rules.
func (c *Context) stringOf(h engine.ValueHandle) (string, bool) {
	sh, code := engine.ConvertValueToString(h)
	if code != engine.NoError {
		discardException()
		return "", false
	}
	s, code := engine.CopyString(sh)
	return s, code == engine.NoError
}

// jsonStringify runs JSON.stringify(h).
func (c *Context) jsonStringify(h engine.ValueHandle) (string, bool) {
	global, code := engine.GetGlobalObject()
	if code != engine.NoError {
		return "", false
	}
	json, code := getNamed(global, "JSON")
	if code != engine.NoError {
		discardException()
		return "", false
	}
	stringify, code := getNamed(json, "stringify")
	if code != engine.NoError {
		discardException()
		return "", false
	}
	res, code := engine.CallFunction(stringify, []engine.ValueHandle{json, h})
	if code != engine.NoError {
		discardException()
		return "", false
	}
	if t, _ := engine.GetValueType(res); t != engine.String {
		return "", false
	}
	s, code := engine.CopyString(res)
	return s, code == engine.NoError
}

func getNamed(obj engine.ValueHandle, name string) (engine.ValueHandle, engine.ErrorCode) {
	id, code := engine.GetPropertyIDFromName(name)
	if code != engine.NoError {
		return engine.InvalidValue, code
	}
	return engine.GetProperty(obj, id)
}

// discardException drops whatever a best-effort read threw.
func discardException() {
	if has, _ := engine.HasException(); has {
		_, _ = engine.GetAndClearException()
	}
}
