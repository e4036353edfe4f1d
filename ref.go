package jsrt

import (
	"fmt"

	"github.com/buke/jsrt-go/internal/engine"
)

// NativeRef wraps an opaque engine handle. It is comparable, so it can be
// used as a map key, and carries no ownership: copying a NativeRef never
// changes a reference count.
type NativeRef[H ~uintptr] struct {
	h H
}

type (
	RuntimeRef    = NativeRef[engine.RuntimeHandle]
	ContextRef    = NativeRef[engine.ContextHandle]
	PropertyIDRef = NativeRef[engine.PropertyIDHandle]
	ValueRef      = NativeRef[engine.ValueHandle]
)

func newRef[H ~uintptr](h H) NativeRef[H] {
	return NativeRef[H]{h: h}
}

// IsValid reports whether the handle is not the invalid sentinel.
func (r NativeRef[H]) IsValid() bool {
	return r.h != 0
}

// Equal reports whether both refs name the same engine handle.
func (r NativeRef[H]) Equal(other NativeRef[H]) bool {
	return r.h == other.h
}

// Uintptr returns the raw handle bits.
func (r NativeRef[H]) Uintptr() uintptr {
	return uintptr(r.h)
}

func (r NativeRef[H]) String() string {
	if !r.IsValid() {
		return "<invalid>"
	}
	return fmt.Sprintf("0x%x", uintptr(r.h))
}

func (r NativeRef[H]) handle() H {
	return r.h
}
