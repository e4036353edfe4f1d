package engine

import "fmt"

// ErrorCode is the result of every engine entry point. NoError is the only
// success value.
type ErrorCode uint32

const (
	NoError ErrorCode = 0

	CategoryUsage  ErrorCode = 0x10000
	CategoryEngine ErrorCode = 0x20000
	CategoryScript ErrorCode = 0x30000
	CategoryFatal  ErrorCode = 0x40000
)

const (
	ErrorInvalidArgument ErrorCode = CategoryUsage + iota
	ErrorNullArgument
	ErrorNoCurrentContext
	ErrorInExceptionState
	ErrorNotImplemented
	ErrorWrongThread
	ErrorRuntimeInUse
	ErrorBadSerializedScript
	ErrorInDisabledState
	ErrorCannotDisableExecution
	ErrorHeapEnumInProgress
	ErrorArgumentNotObject
	ErrorInProfileCallback
	ErrorInThreadServiceCallback
	ErrorCannotSerializeDebugScript
	ErrorAlreadyDebuggingContext
	ErrorAlreadyProfilingContext
	ErrorIdleNotEnabled
	ErrorCannotSetProjectionEnqueueCallback
	ErrorCannotStartProjection
	ErrorInObjectBeforeCollectCallback
	ErrorObjectNotInspectable
	ErrorPropertyNotSymbol
	ErrorPropertyNotString
	ErrorInvalidContext
)

const (
	ErrorOutOfMemory ErrorCode = CategoryEngine + iota
)

const (
	ErrorScriptException ErrorCode = CategoryScript + iota
	ErrorScriptCompile
	ErrorScriptTerminated
	ErrorScriptEvalDisabled
)

const (
	ErrorFatal ErrorCode = CategoryFatal + iota
	ErrorWrongRuntime
)

var codeNames = map[ErrorCode]string{
	NoError:                                 "NoError",
	ErrorInvalidArgument:                    "InvalidArgument",
	ErrorNullArgument:                       "NullArgument",
	ErrorNoCurrentContext:                   "NoCurrentContext",
	ErrorInExceptionState:                   "InExceptionState",
	ErrorNotImplemented:                     "NotImplemented",
	ErrorWrongThread:                        "WrongThread",
	ErrorRuntimeInUse:                       "RuntimeInUse",
	ErrorBadSerializedScript:                "BadSerializedScript",
	ErrorInDisabledState:                    "InDisabledState",
	ErrorCannotDisableExecution:             "CannotDisableExecution",
	ErrorHeapEnumInProgress:                 "HeapEnumInProgress",
	ErrorArgumentNotObject:                  "ArgumentNotObject",
	ErrorInProfileCallback:                  "InProfileCallback",
	ErrorInThreadServiceCallback:            "InThreadServiceCallback",
	ErrorCannotSerializeDebugScript:         "CannotSerializeDebugScript",
	ErrorAlreadyDebuggingContext:            "AlreadyDebuggingContext",
	ErrorAlreadyProfilingContext:            "AlreadyProfilingContext",
	ErrorIdleNotEnabled:                     "IdleNotEnabled",
	ErrorCannotSetProjectionEnqueueCallback: "CannotSetProjectionEnqueueCallback",
	ErrorCannotStartProjection:              "CannotStartProjection",
	ErrorInObjectBeforeCollectCallback:      "InObjectBeforeCollectCallback",
	ErrorObjectNotInspectable:               "ObjectNotInspectable",
	ErrorPropertyNotSymbol:                  "PropertyNotSymbol",
	ErrorPropertyNotString:                  "PropertyNotString",
	ErrorInvalidContext:                     "InvalidContext",
	ErrorOutOfMemory:                        "OutOfMemory",
	ErrorScriptException:                    "ScriptException",
	ErrorScriptCompile:                      "ScriptCompile",
	ErrorScriptTerminated:                   "ScriptTerminated",
	ErrorScriptEvalDisabled:                 "ScriptEvalDisabled",
	ErrorFatal:                              "Fatal",
	ErrorWrongRuntime:                       "WrongRuntime",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(0x%x)", uint32(c))
}

// Category returns the group the code belongs to.
func (c ErrorCode) Category() ErrorCode {
	return c & 0xF0000
}
