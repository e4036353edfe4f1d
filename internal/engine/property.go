package engine

import (
	"github.com/dop251/goja"
)

type propertyID struct {
	handle PropertyIDHandle
	rt     *runtimeRecord
	kind   PropertyIDType
	name   string
	symbol *goja.Symbol
}

// GetPropertyIDFromName interns name in the current runtime.
func GetPropertyIDFromName(name string) (PropertyIDHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidPropertyID, code
	}
	state.Lock()
	defer state.Unlock()
	if id, ok := c.rt.names[name]; ok {
		return id, NoError
	}
	p := &propertyID{handle: PropertyIDHandle(nextHandle()), rt: c.rt, kind: PropertyIDString, name: name}
	c.rt.names[name] = p.handle
	state.propertyIDs[p.handle] = p
	return p.handle, NoError
}

// GetPropertyIDFromSymbol interns a symbol key.
func GetPropertyIDFromSymbol(sym ValueHandle) (PropertyIDHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidPropertyID, code
	}
	state.Lock()
	defer state.Unlock()
	v, s, code := c.lookup(sym)
	if code != NoError {
		return InvalidPropertyID, code
	}
	if s == nil || s.kind != Symbol {
		return InvalidPropertyID, ErrorPropertyNotSymbol
	}
	key := v.(*goja.Symbol)
	if id, ok := c.rt.keys[key]; ok {
		return id, NoError
	}
	p := &propertyID{handle: PropertyIDHandle(nextHandle()), rt: c.rt, kind: PropertyIDSymbol, symbol: key}
	c.rt.keys[key] = p.handle
	state.propertyIDs[p.handle] = p
	return p.handle, NoError
}

func GetPropertyNameFromID(id PropertyIDHandle) (string, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	p := state.propertyIDs[id]
	if p == nil {
		return "", ErrorInvalidArgument
	}
	if p.kind != PropertyIDString {
		return "", ErrorPropertyNotString
	}
	return p.name, NoError
}

func GetSymbolFromPropertyID(id PropertyIDHandle) (ValueHandle, ErrorCode) {
	c, code := enter(true)
	if code != NoError {
		return InvalidValue, code
	}
	state.Lock()
	p := state.propertyIDs[id]
	state.Unlock()
	if p == nil {
		return InvalidValue, ErrorInvalidArgument
	}
	if p.rt != c.rt {
		return InvalidValue, ErrorWrongRuntime
	}
	if p.kind != PropertyIDSymbol {
		return InvalidValue, ErrorPropertyNotSymbol
	}
	return c.wrapSymbol(p.symbol)
}

func GetPropertyIDType(id PropertyIDHandle) (PropertyIDType, ErrorCode) {
	state.Lock()
	defer state.Unlock()
	p := state.propertyIDs[id]
	if p == nil {
		return PropertyIDString, ErrorInvalidArgument
	}
	return p.kind, NoError
}

// key resolves a property id to a script value usable as a property key.
func (c *contextRecord) key(id PropertyIDHandle) (goja.Value, ErrorCode) {
	state.Lock()
	p := state.propertyIDs[id]
	state.Unlock()
	if p == nil {
		return nil, ErrorInvalidArgument
	}
	if p.rt != c.rt {
		return nil, ErrorWrongRuntime
	}
	if p.symbol != nil {
		return p.symbol, NoError
	}
	return c.vm.ToValue(p.name), NoError
}

// enterProperty resolves the target object and key of a named property
// operation.
func enterProperty(obj ValueHandle, id PropertyIDHandle) (*contextRecord, *goja.Object, goja.Value, ErrorCode) {
	c, o, code := enterObject(obj)
	if code != NoError {
		return nil, nil, nil, code
	}
	k, code := c.key(id)
	if code != NoError {
		return nil, nil, nil, code
	}
	return c, o, k, NoError
}

// enterIndexed is enterProperty for an arbitrary key value.
func enterIndexed(obj, index ValueHandle) (*contextRecord, *goja.Object, goja.Value, ErrorCode) {
	c, o, code := enterObject(obj)
	if code != NoError {
		return nil, nil, nil, code
	}
	k, code := c.value(index)
	if code != NoError {
		return nil, nil, nil, code
	}
	return c, o, k, NoError
}

func GetProperty(obj ValueHandle, id PropertyIDHandle) (ValueHandle, ErrorCode) {
	c, o, k, code := enterProperty(obj, id)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(c.helpers.get, o, k)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

// SetProperty assigns a property. With useStrictRules a failed assignment
// throws instead of being ignored.
func SetProperty(obj ValueHandle, id PropertyIDHandle, value ValueHandle, useStrictRules bool) ErrorCode {
	c, o, k, code := enterProperty(obj, id)
	if code != NoError {
		return code
	}
	v, code := c.value(value)
	if code != NoError {
		return code
	}
	set := c.helpers.setSloppy
	if useStrictRules {
		set = c.helpers.set
	}
	_, code = c.invoke(set, o, k, v)
	return code
}

func HasProperty(obj ValueHandle, id PropertyIDHandle) (bool, ErrorCode) {
	c, o, k, code := enterProperty(obj, id)
	if code != NoError {
		return false, code
	}
	res, code := c.invoke(c.helpers.has, o, k)
	if code != NoError {
		return false, code
	}
	return res.ToBoolean(), NoError
}

// DeleteProperty deletes a property and returns the boolean result of the
// delete operator.
func DeleteProperty(obj ValueHandle, id PropertyIDHandle, useStrictRules bool) (ValueHandle, ErrorCode) {
	c, o, k, code := enterProperty(obj, id)
	if code != NoError {
		return InvalidValue, code
	}
	del := c.helpers.delSloppy
	if useStrictRules {
		del = c.helpers.del
	}
	res, code := c.invoke(del, o, k)
	if code != NoError {
		return InvalidValue, code
	}
	if res.ToBoolean() {
		return c.rt.trueValue, NoError
	}
	return c.rt.falseValue, NoError
}

// DefineProperty defines a property from a descriptor object and reports
// whether the definition succeeded.
func DefineProperty(obj ValueHandle, id PropertyIDHandle, descriptor ValueHandle) (bool, ErrorCode) {
	c, o, k, code := enterProperty(obj, id)
	if code != NoError {
		return false, code
	}
	d, _, code := c.object(descriptor)
	if code != NoError {
		return false, code
	}
	res, code := c.invoke(c.helpers.define, o, k, d)
	if code != NoError {
		return false, code
	}
	return res.ToBoolean(), NoError
}

// GetOwnPropertyDescriptor returns the descriptor object, or undefined when
// the property does not exist.
func GetOwnPropertyDescriptor(obj ValueHandle, id PropertyIDHandle) (ValueHandle, ErrorCode) {
	c, o, k, code := enterProperty(obj, id)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(c.helpers.descriptor, o, k)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

func GetIndexedProperty(obj, index ValueHandle) (ValueHandle, ErrorCode) {
	c, o, k, code := enterIndexed(obj, index)
	if code != NoError {
		return InvalidValue, code
	}
	res, code := c.invoke(c.helpers.get, o, k)
	if code != NoError {
		return InvalidValue, code
	}
	return c.wrap(res)
}

func SetIndexedProperty(obj, index, value ValueHandle) ErrorCode {
	c, o, k, code := enterIndexed(obj, index)
	if code != NoError {
		return code
	}
	v, code := c.value(value)
	if code != NoError {
		return code
	}
	_, code = c.invoke(c.helpers.set, o, k, v)
	return code
}

func HasIndexedProperty(obj, index ValueHandle) (bool, ErrorCode) {
	c, o, k, code := enterIndexed(obj, index)
	if code != NoError {
		return false, code
	}
	res, code := c.invoke(c.helpers.has, o, k)
	if code != NoError {
		return false, code
	}
	return res.ToBoolean(), NoError
}

func DeleteIndexedProperty(obj, index ValueHandle) ErrorCode {
	c, o, k, code := enterIndexed(obj, index)
	if code != NoError {
		return code
	}
	_, code = c.invoke(c.helpers.del, o, k)
	return code
}
