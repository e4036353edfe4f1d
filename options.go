package jsrt

import (
	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/zap"
)

// Attributes configure a runtime at creation.
type Attributes uint32

const (
	AttributeNone                        = Attributes(engine.AttributeNone)
	AttributeDisableBackgroundWork       = Attributes(engine.AttributeDisableBackgroundWork)
	AttributeAllowScriptInterrupt        = Attributes(engine.AttributeAllowScriptInterrupt)
	AttributeEnableIdleProcessing        = Attributes(engine.AttributeEnableIdleProcessing)
	AttributeDisableNativeCodeGeneration = Attributes(engine.AttributeDisableNativeCodeGeneration)
	AttributeDisableEval                 = Attributes(engine.AttributeDisableEval)
	AttributeEnableExperimentalFeatures  = Attributes(engine.AttributeEnableExperimentalFeatures)
)

type options struct {
	attrs       Attributes
	memoryLimit uint64
	logger      *zap.Logger
	workers     int
}

// Option configures NewRuntime.
type Option func(*options)

// WithAttributes sets the runtime attributes.
func WithAttributes(attrs Attributes) Option {
	return func(o *options) {
		o.attrs |= attrs
	}
}

// WithMemoryLimit caps the memory held by the runtime's values. 0 means no
// limit.
func WithMemoryLimit(limit uint64) Option {
	return func(o *options) {
		o.memoryLimit = limit
	}
}

// WithLogger sets the logger for lifecycle and diagnostic events. The
// default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackgroundWorkers runs engine housekeeping on n background
// goroutines. With 0 it runs inline on the goroutine that triggers it.
func WithBackgroundWorkers(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.workers = n
		}
	}
}

// ScriptOption configures a script entry point.
type ScriptOption func(*scriptOptions)

type scriptOptions struct {
	sourceURL     string
	sourceContext uint64
	hasContext    bool
}

// WithSourceURL names the script in stack traces.
func WithSourceURL(url string) ScriptOption {
	return func(o *scriptOptions) {
		o.sourceURL = url
	}
}

// WithSourceContext sets the host cookie identifying the script. By default
// every script gets a fresh one.
func WithSourceContext(cookie uint64) ScriptOption {
	return func(o *scriptOptions) {
		o.sourceContext = cookie
		o.hasContext = true
	}
}
