package jsrt

import (
	"sync"
	"sync/atomic"
)

// handleStore maps pointer-sized tokens to Go values. Tokens are what the
// engine carries as callback state; they are not engine handles and are
// never passed back to the engine as such.
type handleStore struct {
	values sync.Map       // map[uintptr]any
	nextID atomic.Uintptr // 0 is reserved as invalid
}

func newHandleStore() *handleStore {
	return &handleStore{}
}

// tokens is the process-wide store used for every engine callback state.
var tokens = newHandleStore()

// Store stores a value and returns its token.
func (hs *handleStore) Store(value any) uintptr {
	id := hs.nextID.Add(1)
	hs.values.Store(id, value)
	return id
}

// Load loads value by token.
func (hs *handleStore) Load(id uintptr) (any, bool) {
	return hs.values.Load(id)
}

// Delete removes the token and reports whether it was present.
func (hs *handleStore) Delete(id uintptr) bool {
	_, ok := hs.values.LoadAndDelete(id)
	return ok
}

// loadToken resolves a token to a value of type T.
func loadToken[T any](hs *handleStore, id uintptr) (T, bool) {
	var zero T
	v, ok := hs.Load(id)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
