package jsrt

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConsoleEvent is one call of a console method.
type ConsoleEvent struct {
	Context *Context
	Method  string
	Args    []Value
	// Stack holds the first frames of the calling script, one per line.
	Stack string
}

// ConsoleListener receives console calls made by scripts.
type ConsoleListener interface {
	OnConsole(ev ConsoleEvent)
}

// ConsoleListenerFunc adapts a function to ConsoleListener.
type ConsoleListenerFunc func(ev ConsoleEvent)

func (f ConsoleListenerFunc) OnConsole(ev ConsoleEvent) {
	f(ev)
}

// consoleFactory builds the console object. Every property read yields a
// function forwarding its arguments and the caller's stack to emit.
const consoleFactory = `(function (emit) {
	return new Proxy({}, {
		get: function (target, method) {
			if (typeof method !== "string") {
				return undefined;
			}
			return function () {
				var stack = String(new Error().stack || "").split("\n").slice(2, 7).join("\n");
				emit(method, Array.prototype.slice.call(arguments), stack);
			};
		}
	});
})`

// InstallConsole defines the global console object, forwarding every call
// to listener.
func (c *Context) InstallConsole(listener ConsoleListener) error {
	if listener == nil {
		return newError(KindInvalidArgument, "nil console listener")
	}
	emit, err := c.Function("emit", func(ctx *Context, _ ObjectValue, args []Value) (Value, error) {
		ev := ConsoleEvent{Context: ctx}
		if len(args) > 0 {
			ev.Method, _ = args[0].ToString()
		}
		if len(args) > 1 {
			if arr, ok := args[1].(*Array); ok {
				vals, err := arr.Values()
				if err != nil {
					return nil, err
				}
				ev.Args = vals
			}
		}
		if len(args) > 2 {
			ev.Stack, _ = args[2].ToString()
		}
		listener.OnConsole(ev)
		return nil, nil
	})
	if err != nil {
		return err
	}
	defer emit.Free()

	factory, err := as[*Function](c.RunScript(consoleFactory, WithSourceURL("<console>")))
	if err != nil {
		return err
	}
	defer factory.Free()
	console, err := factory.Call(nil, emit)
	if err != nil {
		return err
	}
	defer console.Free()

	global, err := c.Global()
	if err != nil {
		return err
	}
	defer global.Free()
	return global.Set("console", console)
}

// ZapConsoleListener logs console calls: log and info at info level, warn
// at warn, error and failed asserts at error, debug and trace at debug.
func ZapConsoleListener(logger *zap.Logger) ConsoleListener {
	return ConsoleListenerFunc(func(ev ConsoleEvent) {
		level := zapcore.InfoLevel
		args := ev.Args
		switch ev.Method {
		case "warn":
			level = zapcore.WarnLevel
		case "error":
			level = zapcore.ErrorLevel
		case "debug", "trace":
			level = zapcore.DebugLevel
		case "assert":
			if len(args) > 0 {
				if ok, _ := args[0].ToBool(); ok {
					return
				}
				args = args[1:]
			}
			level = zapcore.ErrorLevel
		}
		msg := formatConsole(args)
		if ev.Method == "assert" {
			msg = strings.TrimSpace("Assertion failed: " + msg)
		}
		if ce := logger.Check(level, msg); ce != nil {
			ce.Write(zap.String("method", ev.Method), zap.String("stack", ev.Stack))
		}
	})
}

// formatConsole joins the arguments the way console.log prints them.
func formatConsole(args []Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatConsoleArg(a))
	}
	return strings.Join(parts, " ")
}

func formatConsoleArg(v Value) string {
	switch v.Type() {
	case TypeObject, TypeArray:
		if s, err := v.JSONStringify(); err == nil && s != "" {
			return s
		}
	}
	return v.String()
}
