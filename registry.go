package jsrt

import (
	"sync"

	"github.com/buke/jsrt-go/internal/engine"
)

// Process-wide tables. Engine callbacks only carry a handle or a token, so
// they find their owners here. A single lock guards every table; it is
// never held across an engine call.
var (
	registryMu sync.Mutex
	runtimes   = make(map[RuntimeRef]*Runtime)
	functions  = make(map[ValueRef]*functionRegistration)
	buffers    = make(map[bufferKey]*externalBuffer)
)

func registerRuntime(r *Runtime) {
	registryMu.Lock()
	defer registryMu.Unlock()
	runtimes[r.ref] = r
}

func unregisterRuntime(ref RuntimeRef) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(runtimes, ref)
}

func lookupRuntime(ref RuntimeRef) (*Runtime, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	r, ok := runtimes[ref]
	return r, ok
}

func registerFunction(reg *functionRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	functions[reg.ref] = reg
}

// unregisterFunction removes the registration of ref. A missing entry is
// not an error: collection and disposal may race.
func unregisterFunction(ref ValueRef) *functionRegistration {
	registryMu.Lock()
	defer registryMu.Unlock()
	reg, ok := functions[ref]
	if !ok {
		return nil
	}
	delete(functions, ref)
	return reg
}

func lookupFunction(ref ValueRef) (*functionRegistration, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	reg, ok := functions[ref]
	return reg, ok
}

// functionCount and bufferCount report table sizes for diagnostics.
func functionCount() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(functions)
}

func bufferCount() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(buffers)
}

func lookupBuffer(key bufferKey) (*externalBuffer, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	b, ok := buffers[key]
	return b, ok
}

func registerBuffer(b *externalBuffer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	buffers[b.key] = b
}

// unregisterBufferIf removes b unless its key was taken over by a newer
// buffer.
func unregisterBufferIf(b *externalBuffer) bool {
	registryMu.Lock()
	defer registryMu.Unlock()
	if buffers[b.key] != b {
		return false
	}
	delete(buffers, b.key)
	return true
}

// runtimeOf finds the managed owner of an engine runtime handle.
func runtimeOf(h engine.RuntimeHandle) (*Runtime, bool) {
	return lookupRuntime(newRef(h))
}
