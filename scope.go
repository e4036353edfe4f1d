package jsrt

import (
	"fmt"

	"github.com/buke/jsrt-go/internal/engine"
	"go.uber.org/multierr"
)

// ContextScope keeps a context current on the calling goroutine until
// Release. Scopes nest; they must be released in reverse order of creation
// and on the goroutine that created them.
type ContextScope struct {
	ctx           *Context
	prev          engine.ContextHandle
	disposeOnExit bool
	released      bool
}

// Use makes ctx current and returns the scope restoring the previous
// context. With disposeOnExit the context is disposed on Release.
func Use(ctx *Context, disposeOnExit bool) (*ContextScope, error) {
	if ctx == nil {
		return nil, newError(KindInvalidArgument, "nil context")
	}
	if ctx.IsDisposed() {
		return nil, errDisconnected("context")
	}
	prev, code := engine.GetCurrentContext()
	if err := translate(code); err != nil {
		return nil, err
	}
	if err := translate(engine.SetCurrentContext(ctx.ref.handle())); err != nil {
		return nil, err
	}
	s := &ContextScope{ctx: ctx, prev: prev, disposeOnExit: disposeOnExit}
	if err := ctx.installContinuations(); err != nil {
		restoreContext(prev)
		return nil, err
	}
	return s, nil
}

// Context returns the scoped context.
func (s *ContextScope) Context() *Context {
	return s.ctx
}

// Release restores the previous context and disposes the scoped one if
// requested. Later calls do nothing.
func (s *ContextScope) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var err error
	if code := engine.SetCurrentContext(s.prev); code != engine.NoError {
		err = multierr.Append(err, fmt.Errorf("restore previous context: %w", translate(code)))
		_ = engine.SetCurrentContext(engine.InvalidContext)
	}
	if s.disposeOnExit {
		err = multierr.Append(err, s.ctx.Dispose())
	}
	return err
}

// Run calls fn with c current and releases the scope on every exit path,
// panics included.
func (c *Context) Run(fn func() error) (err error) {
	scope, err := Use(c, false)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, scope.Release())
	}()
	return fn()
}
