package engine

import (
	"math"
	"reflect"
	"runtime"
	"weak"

	"github.com/dop251/goja"
)

// objectSize is the nominal handle-table cost of an object or symbol.
const objectSize = 64

// Small integers are encoded in the handle itself: odd handles carry the
// value shifted left by one. Table handles are always even.
const (
	minTagged = -1 << 30
	maxTagged = 1<<30 - 1
)

// primitives creates runtime-independent primitive values.
var primitives = goja.New()

type slot struct {
	handle ValueHandle
	rt     *runtimeRecord
	// ctx owns objects; nil for primitives, which every context of the
	// runtime may use.
	ctx  *contextRecord
	kind ValueType

	// value is the strong reference. Objects with no references and no pin
	// keep only weak.
	value    goja.Value
	weak     weak.Pointer[goja.Object]
	isObject bool
	typed    TypedArrayType

	refs     uint32
	pinned   bool
	immortal bool
	size     uintptr

	beforeCollect      BeforeCollectCallback
	beforeCollectState uintptr
	finalize           FinalizeCallback
	finalizeState      uintptr
}

func (s *slot) get() goja.Value {
	if s.value != nil {
		return s.value
	}
	if s.isObject {
		if o := s.weak.Value(); o != nil {
			return o
		}
	}
	return nil
}

// detach clears the slot's callbacks and returns them bound to their
// arguments. Must be called with state locked.
func (s *slot) detach() []func() {
	var work []func()
	if cb := s.beforeCollect; cb != nil {
		h, st := s.handle, s.beforeCollectState
		work = append(work, func() {
			runCallback(inBeforeCollect, func() { cb(h, st) })
		})
	}
	if fin := s.finalize; fin != nil {
		st := s.finalizeState
		work = append(work, func() {
			runCallback(inBeforeCollect, func() { fin(st) })
		})
	}
	s.beforeCollect, s.finalize = nil, nil
	return work
}

// collectObject runs on the cleanup goroutine after the Go collector
// reclaimed the object behind h.
func collectObject(h ValueHandle) {
	state.Lock()
	s := state.values[h]
	if s == nil || !s.isObject || s.get() != nil {
		state.Unlock()
		return
	}
	rt := s.rt
	rt.drop(s)
	work := s.detach()
	cb, st, size := rt.memoryCallback, rt.memoryState, s.size
	state.Unlock()

	for _, fn := range work {
		fn()
	}
	if cb != nil {
		cb(st, MemoryFree, size)
	}
}

func isTagged(h ValueHandle) bool {
	return h&1 == 1
}

func taggedInt(h ValueHandle) int {
	return int(h) >> 1
}

func tag(i int) ValueHandle {
	return ValueHandle(uintptr(i<<1 | 1))
}

// number returns the handle for f, tagging small integers and interning
// everything else. Must be called with state locked.
func (rt *runtimeRecord) number(f float64) ValueHandle {
	if f == math.Trunc(f) && f >= minTagged && f <= maxTagged && !(f == 0 && math.Signbit(f)) {
		return tag(int(f))
	}
	bits := math.Float64bits(f)
	if h, ok := rt.numbers[bits]; ok {
		return h
	}
	h := rt.immortal(Number, primitives.ToValue(f))
	rt.numbers[bits] = h
	return h
}

// wrap returns a handle for v, creating and pinning a slot as needed. It
// may run script and must be called without state locked.
func (c *contextRecord) wrap(v goja.Value) (ValueHandle, ErrorCode) {
	rt := c.rt
	if v == nil || goja.IsUndefined(v) {
		return rt.undefined, NoError
	}
	if goja.IsNull(v) {
		return rt.null, NoError
	}
	switch x := v.(type) {
	case *goja.Object:
		return c.wrapObject(x)
	case *goja.Symbol:
		return c.wrapSymbol(x)
	}

	switch v.ExportType().Kind() {
	case reflect.Bool:
		if v.ToBoolean() {
			return rt.trueValue, NoError
		}
		return rt.falseValue, NoError
	case reflect.String:
		size := uintptr(len(v.String()))
		if code := rt.charge(size); code != NoError {
			return InvalidValue, code
		}
		state.Lock()
		defer state.Unlock()
		return rt.insert(&slot{rt: rt, kind: String, value: v, size: size}), NoError
	case reflect.Int, reflect.Int64, reflect.Float64:
		state.Lock()
		defer state.Unlock()
		return rt.number(v.ToFloat()), NoError
	}

	// BigInt surfaces as a number.
	n, code := c.invoke(c.helpers.toNumber, v)
	if code != NoError {
		return InvalidValue, code
	}
	state.Lock()
	defer state.Unlock()
	return rt.number(n.ToFloat()), NoError
}

func (c *contextRecord) wrapObject(o *goja.Object) (ValueHandle, ErrorCode) {
	rt := c.rt
	key := weak.Make(o)

	state.Lock()
	if h, ok := rt.objects[key]; ok {
		s := state.values[h]
		s.value = o
		rt.pin(s)
		state.Unlock()
		return h, NoError
	}
	state.Unlock()

	kind, typed := c.classify(o)
	if code := rt.charge(objectSize); code != NoError {
		return InvalidValue, code
	}

	state.Lock()
	defer state.Unlock()
	if h, ok := rt.objects[key]; ok {
		rt.memoryUsage -= objectSize
		s := state.values[h]
		s.value = o
		rt.pin(s)
		return h, NoError
	}
	s := &slot{
		rt:       rt,
		ctx:      c,
		kind:     kind,
		typed:    typed,
		value:    o,
		weak:     key,
		isObject: true,
		size:     objectSize,
	}
	h := rt.insert(s)
	rt.objects[key] = h
	runtime.AddCleanup(o, collectObject, h)
	return h, NoError
}

func (c *contextRecord) wrapSymbol(sym *goja.Symbol) (ValueHandle, ErrorCode) {
	rt := c.rt
	state.Lock()
	if h, ok := rt.symbols[sym]; ok {
		rt.pin(state.values[h])
		state.Unlock()
		return h, NoError
	}
	state.Unlock()

	if code := rt.charge(objectSize); code != NoError {
		return InvalidValue, code
	}
	state.Lock()
	defer state.Unlock()
	h := rt.insert(&slot{rt: rt, kind: Symbol, value: sym, size: objectSize})
	rt.symbols[sym] = h
	return h, NoError
}

// classify runs the kind detector for an object created in c.
func (c *contextRecord) classify(o *goja.Object) (ValueType, TypedArrayType) {
	res, err := c.helpers.classify(goja.Undefined(), o)
	if err != nil {
		return Object, 0
	}
	switch res.String() {
	case "function":
		return Function, 0
	case "array":
		return Array, 0
	case "arraybuffer":
		return ArrayBuffer, 0
	case "dataview":
		return DataView, 0
	case "error":
		return Error, 0
	case "typedarray":
		k, err := c.helpers.typedKind(goja.Undefined(), o)
		if err != nil {
			return Object, 0
		}
		// Views of an element type this engine does not know stay plain
		// objects.
		kind := TypedArrayType(k.ToInteger())
		if kind.ElementSize() == 0 {
			return Object, 0
		}
		return TypedArray, kind
	}
	return Object, 0
}

// lookup resolves h for use in c. Must be called with state locked.
func (c *contextRecord) lookup(h ValueHandle) (goja.Value, *slot, ErrorCode) {
	if h == InvalidValue {
		return nil, nil, ErrorInvalidArgument
	}
	if isTagged(h) {
		return primitives.ToValue(taggedInt(h)), nil, NoError
	}
	s := state.values[h]
	if s == nil {
		return nil, nil, ErrorInvalidArgument
	}
	if s.rt != c.rt {
		return nil, nil, ErrorWrongRuntime
	}
	if s.ctx != nil && s.ctx != c {
		return nil, nil, ErrorInvalidArgument
	}
	v := s.get()
	if v == nil {
		return nil, nil, ErrorInvalidArgument
	}
	return v, s, NoError
}

// values resolves several handles at once.
func (c *contextRecord) values(hs ...ValueHandle) ([]goja.Value, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	out := make([]goja.Value, len(hs))
	for i, h := range hs {
		v, _, code := c.lookup(h)
		if code != NoError {
			return nil, code
		}
		out[i] = v
	}
	return out, NoError
}

func (c *contextRecord) value(h ValueHandle) (goja.Value, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	v, _, code := c.lookup(h)
	return v, code
}

// object resolves h and requires it to be an object.
func (c *contextRecord) object(h ValueHandle) (*goja.Object, *slot, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	v, s, code := c.lookup(h)
	if code != NoError {
		return nil, nil, code
	}
	o, ok := v.(*goja.Object)
	if !ok {
		return nil, nil, ErrorArgumentNotObject
	}
	return o, s, NoError
}

// AddRef increments the reference count of h and returns the new count.
// Referenced objects are held strongly.
func AddRef(h ValueHandle) (uint32, ErrorCode) {
	if h == InvalidValue {
		return 0, ErrorInvalidArgument
	}
	if isTagged(h) {
		return 1, NoError
	}
	state.Lock()
	defer state.Unlock()
	s := state.values[h]
	if s == nil {
		return 0, ErrorInvalidArgument
	}
	v := s.get()
	if v == nil {
		return 0, ErrorInvalidArgument
	}
	s.value = v
	s.refs++
	return s.refs, NoError
}

// Release decrements the reference count of h and returns the new count.
// It may be called from any goroutine.
func Release(h ValueHandle) (uint32, ErrorCode) {
	if h == InvalidValue {
		return 0, ErrorInvalidArgument
	}
	if isTagged(h) {
		return 0, NoError
	}
	state.Lock()
	s := state.values[h]
	if s == nil || s.refs == 0 {
		state.Unlock()
		return 0, ErrorInvalidArgument
	}
	s.refs--
	refs := s.refs
	var (
		cb    MemoryAllocationCallback
		st    uintptr
		freed uintptr
	)
	if refs == 0 && !s.pinned && !s.immortal {
		if s.isObject {
			s.value = nil
		} else {
			s.rt.drop(s)
			cb, st, freed = s.rt.memoryCallback, s.rt.memoryState, s.size
		}
	}
	state.Unlock()

	if cb != nil && freed > 0 {
		cb(st, MemoryFree, freed)
	}
	return refs, NoError
}

// RefCount reports the reference count of h.
func RefCount(h ValueHandle) (uint32, ErrorCode) {
	if isTagged(h) {
		return 0, NoError
	}
	state.Lock()
	defer state.Unlock()
	s := state.values[h]
	if s == nil {
		return 0, ErrorInvalidArgument
	}
	return s.refs, NoError
}

// GetValueType reports the kind of h. It does not need a current context.
func GetValueType(h ValueHandle) (ValueType, ErrorCode) {
	if h == InvalidValue {
		return Undefined, ErrorInvalidArgument
	}
	if isTagged(h) {
		return Number, NoError
	}
	state.Lock()
	defer state.Unlock()
	s := state.values[h]
	if s == nil || s.get() == nil {
		return Undefined, ErrorInvalidArgument
	}
	return s.kind, NoError
}

func GetUndefinedValue() (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	return c.rt.undefined, NoError
}

func GetNullValue() (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	return c.rt.null, NoError
}

func GetTrueValue() (ValueHandle, ErrorCode) {
	return BoolToBoolean(true)
}

func GetFalseValue() (ValueHandle, ErrorCode) {
	return BoolToBoolean(false)
}

func BoolToBoolean(b bool) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	if b {
		return c.rt.trueValue, NoError
	}
	return c.rt.falseValue, NoError
}

func BooleanToBool(h ValueHandle) (bool, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return false, code
	}
	state.Lock()
	defer state.Unlock()
	v, s, code := c.lookup(h)
	if code != NoError {
		return false, code
	}
	if s == nil || s.kind != Boolean {
		return false, ErrorInvalidArgument
	}
	return v.ToBoolean(), NoError
}

func DoubleToNumber(f float64) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	state.Lock()
	defer state.Unlock()
	return c.rt.number(f), NoError
}

func IntToNumber(i int) (ValueHandle, ErrorCode) {
	return DoubleToNumber(float64(i))
}

func NumberToDouble(h ValueHandle) (float64, ErrorCode) {
	if isTagged(h) {
		return float64(taggedInt(h)), NoError
	}
	c, code := enter(true)
	if code != NoError {
		return 0, code
	}
	state.Lock()
	defer state.Unlock()
	v, s, code := c.lookup(h)
	if code != NoError {
		return 0, code
	}
	if s.kind != Number {
		return 0, ErrorInvalidArgument
	}
	return v.ToFloat(), NoError
}

// NumberToInt truncates h to a 32-bit integer. NaN and infinities yield 0.
func NumberToInt(h ValueHandle) (int, ErrorCode) {
	f, code := NumberToDouble(h)
	if code != NoError {
		return 0, code
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= 1<<63 {
		return 0, NoError
	}
	return int(int32(int64(f))), NoError
}

func CreateString(s string) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(primitives.ToValue(s))
}

// CopyString returns the contents of a string handle.
func CopyString(h ValueHandle) (string, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return "", code
	}
	state.Lock()
	defer state.Unlock()
	v, s, code := c.lookup(h)
	if code != NoError {
		return "", code
	}
	if s == nil || s.kind != String {
		return "", ErrorInvalidArgument
	}
	return v.String(), NoError
}

// GetStringLength returns the length in UTF-16 code units.
func GetStringLength(h ValueHandle) (int, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return 0, code
	}
	state.Lock()
	v, s, code := c.lookup(h)
	state.Unlock()
	if code != NoError {
		return 0, code
	}
	if s == nil || s.kind != String {
		return 0, ErrorInvalidArgument
	}
	n, code := c.invoke(c.helpers.length, v)
	if code != NoError {
		return 0, code
	}
	return int(n.ToInteger()), NoError
}

func ConvertValueToString(h ValueHandle) (ValueHandle, ErrorCode) {
	return convert(h, func(c *contextRecord) goja.Callable { return c.helpers.toString })
}

func ConvertValueToNumber(h ValueHandle) (ValueHandle, ErrorCode) {
	return convert(h, func(c *contextRecord) goja.Callable { return c.helpers.toNumber })
}

func ConvertValueToObject(h ValueHandle) (ValueHandle, ErrorCode) {
	return convert(h, func(c *contextRecord) goja.Callable { return c.helpers.toObject })
}

func ConvertValueToBoolean(h ValueHandle) (ValueHandle, ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return InvalidValue, code
	}
	v, code := c.value(h)
	if code != NoError {
		return InvalidValue, code
	}
	if v.ToBoolean() {
		return c.rt.trueValue, NoError
	}
	return c.rt.falseValue, NoError
}

func convert(h ValueHandle, helper func(*contextRecord) goja.Callable) (ValueHandle, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return InvalidValue, code
	}
	v, code := c.value(h)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(helper(c), v)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

// Equals compares with the == operator.
func Equals(a, b ValueHandle) (bool, ErrorCode) {
	c, code := enterScript()
	if code != NoError {
		return false, code
	}
	vs, code := c.values(a, b)
	if code != NoError {
		return false, code
	}
	res, code := c.invoke(c.helpers.equals, vs[0], vs[1])
	if code != NoError {
		return false, code
	}
	return res.ToBoolean(), NoError
}

// StrictEquals compares with the === operator.
func StrictEquals(a, b ValueHandle) (bool, ErrorCode) {
	c, code := enter(false)
	if code != NoError {
		return false, code
	}
	vs, code := c.values(a, b)
	if code != NoError {
		return false, code
	}
	return vs[0].StrictEquals(vs[1]), NoError
}
