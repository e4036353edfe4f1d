// marshal.go
package jsrt

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Marshaler is the interface implemented by types that can marshal themselves into a JavaScript value.
type Marshaler interface {
	MarshalJS(ctx *Context) (Value, error)
}

// Unmarshaler is the interface implemented by types that can unmarshal a JavaScript value into themselves.
type Unmarshaler interface {
	UnmarshalJS(ctx *Context, val Value) error
}

// Marshal returns the JavaScript value encoding of v.
// It traverses the value v recursively and creates corresponding JavaScript values.
//
// Marshal uses the following type mappings:
//   - bool -> JavaScript boolean
//   - int, int8, ..., uint64, float32, float64 -> JavaScript number
//   - string -> JavaScript string
//   - []byte -> JavaScript ArrayBuffer
//   - slice/array -> JavaScript Array
//   - map -> JavaScript Object
//   - struct -> JavaScript Object
//   - pointer -> recursively marshal the pointed value (nil becomes null)
//
// Integers beyond 2^53 lose precision. Struct fields are marshaled using
// their field names unless a tag is present. The "js" and "json" tags are
// supported. Fields with tag "-" are ignored.
//
// Types implementing the Marshaler interface are marshaled using their MarshalJS method.
func (c *Context) Marshal(v any) (Value, error) {
	if v == nil {
		return c.Null()
	}
	return c.marshal(reflect.ValueOf(v))
}

// Unmarshal stores the JavaScript value in the value pointed to by v.
// If v is nil or not a pointer, Unmarshal returns an error.
//
// Unmarshal uses the inverse of the encodings that Marshal uses, with the following additional rules:
//   - JavaScript null/undefined -> Go nil pointer or zero value
//   - JavaScript Array -> Go slice/array
//   - JavaScript Object -> Go map/struct
//   - JavaScript number -> Go numeric types (with appropriate conversion)
//   - JavaScript ArrayBuffer or typed array -> Go []byte
//
// When unmarshaling into an interface{}, Unmarshal stores one of:
//   - nil for JavaScript null/undefined
//   - bool for JavaScript boolean
//   - int64 for JavaScript integer numbers
//   - float64 for JavaScript floating-point numbers
//   - string for JavaScript string
//   - []byte for JavaScript ArrayBuffer
//   - []interface{} for JavaScript Array
//   - map[string]interface{} for JavaScript Object
//
// Types implementing the Unmarshaler interface are unmarshaled using their UnmarshalJS method.
func (c *Context) Unmarshal(jsVal Value, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return newError(KindInvalidArgument, "unmarshal target must be a non-nil pointer")
	}
	if jsVal == nil {
		return newError(KindInvalidArgument, "nil value")
	}
	return c.unmarshal(jsVal, rv.Elem())
}

// marshal recursively marshals a Go value to JavaScript
func (c *Context) marshal(rv reflect.Value) (Value, error) {
	// Handle interface{} by getting the concrete value
	if rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}

	if rv.CanInterface() {
		if marshaler, ok := rv.Interface().(Marshaler); ok {
			return marshaler.MarshalJS(c)
		}
	}

	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return c.Null()
		}
		return c.marshal(rv.Elem())
	}

	switch rv.Kind() {
	case reflect.Bool:
		return c.Bool(rv.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return c.Int(int(rv.Int()))

	case reflect.Int64:
		return c.Number(float64(rv.Int()))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return c.Number(float64(rv.Uint()))

	case reflect.Float32, reflect.Float64:
		return c.Number(rv.Float())

	case reflect.String:
		return c.String(rv.String())

	case reflect.Slice:
		if rv.IsNil() {
			return c.Null()
		}
		return c.marshalSlice(rv)

	case reflect.Array:
		return c.marshalList(rv)

	case reflect.Map:
		if rv.IsNil() {
			return c.Null()
		}
		return c.marshalMap(rv)

	case reflect.Struct:
		return c.marshalStruct(rv)

	default:
		return nil, newError(KindInvalidArgument, "unsupported type: %v", rv.Type())
	}
}

// marshalSlice marshals Go slice to JavaScript Array
func (c *Context) marshalSlice(rv reflect.Value) (Value, error) {
	// Handle []byte as ArrayBuffer
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return c.ArrayBuffer(rv.Bytes())
	}
	return c.marshalList(rv)
}

// marshalList marshals Go slices and arrays to JavaScript Array
func (c *Context) marshalList(rv reflect.Value) (Value, error) {
	arr, err := c.Array()
	if err != nil {
		return nil, err
	}
	for i := 0; i < rv.Len(); i++ {
		elem, err := c.marshal(rv.Index(i))
		if err != nil {
			arr.Free()
			return nil, err
		}
		_, err = arr.Push(elem)
		elem.Free()
		if err != nil {
			arr.Free()
			return nil, err
		}
	}
	return arr, nil
}

// marshalMap marshals Go map to JavaScript Object
func (c *Context) marshalMap(rv reflect.Value) (Value, error) {
	obj, err := c.Object()
	if err != nil {
		return nil, err
	}
	iter := rv.MapRange()
	for iter.Next() {
		keyStr := fmt.Sprintf("%v", iter.Key().Interface())
		val, err := c.marshal(iter.Value())
		if err != nil {
			obj.Free()
			return nil, err
		}
		err = obj.Set(keyStr, val)
		val.Free()
		if err != nil {
			obj.Free()
			return nil, err
		}
	}
	return obj, nil
}

// marshalStruct marshals Go struct to JavaScript Object
func (c *Context) marshalStruct(rv reflect.Value) (Value, error) {
	rt := rv.Type()
	obj, err := c.Object()
	if err != nil {
		return nil, err
	}

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := fieldName(field)
		if skip {
			continue
		}
		fieldValue := rv.Field(i)
		if omitEmpty && fieldValue.IsZero() {
			continue
		}

		val, err := c.marshal(fieldValue)
		if err != nil {
			obj.Free()
			return nil, fmt.Errorf("struct field %s: %w", field.Name, err)
		}
		err = obj.Set(name, val)
		val.Free()
		if err != nil {
			obj.Free()
			return nil, err
		}
	}

	return obj, nil
}

// fieldName resolves the property name of a struct field from its js or
// json tag.
func fieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	name = field.Name
	tag := field.Tag.Get("js")
	if tag == "" {
		tag = field.Tag.Get("json")
	}
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// unmarshal recursively unmarshals a JavaScript value to Go
func (c *Context) unmarshal(jsVal Value, rv reflect.Value) error {
	if rv.CanAddr() {
		if unmarshaler, ok := rv.Addr().Interface().(Unmarshaler); ok {
			return unmarshaler.UnmarshalJS(c, jsVal)
		}
	}

	nullish := jsVal.Type() == TypeNull || jsVal.Type() == TypeUndefined

	if rv.Kind() == reflect.Ptr {
		if nullish {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return c.unmarshal(jsVal, rv.Elem())
	}

	switch rv.Kind() {
	case reflect.Bool:
		b, ok := jsVal.(*Boolean)
		if !ok {
			return mismatch(jsVal, "bool")
		}
		rv.SetBool(b.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := jsVal.(*Number)
		if !ok {
			return mismatch(jsVal, rv.Type().String())
		}
		f := n.Float64()
		if f != math.Trunc(f) || rv.OverflowInt(int64(f)) {
			return newError(KindInvalidArgument, "number %v out of range for Go %s", f, rv.Type())
		}
		rv.SetInt(int64(f))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := jsVal.(*Number)
		if !ok {
			return mismatch(jsVal, rv.Type().String())
		}
		f := n.Float64()
		if f < 0 {
			return newError(KindInvalidArgument, "cannot unmarshal negative number into Go %s", rv.Type())
		}
		if f != math.Trunc(f) || rv.OverflowUint(uint64(f)) {
			return newError(KindInvalidArgument, "number %v out of range for Go %s", f, rv.Type())
		}
		rv.SetUint(uint64(f))

	case reflect.Float32, reflect.Float64:
		n, ok := jsVal.(*Number)
		if !ok {
			return mismatch(jsVal, "float")
		}
		rv.SetFloat(n.Float64())

	case reflect.String:
		s, ok := jsVal.(*String)
		if !ok {
			return mismatch(jsVal, "string")
		}
		str, err := s.Value()
		if err != nil {
			return err
		}
		rv.SetString(str)

	case reflect.Slice:
		if nullish {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		return c.unmarshalSlice(jsVal, rv)

	case reflect.Array:
		return c.unmarshalArray(jsVal, rv)

	case reflect.Map:
		if nullish {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		return c.unmarshalMap(jsVal, rv)

	case reflect.Struct:
		return c.unmarshalStruct(jsVal, rv)

	case reflect.Interface:
		val, err := c.unmarshalInterface(jsVal)
		if err != nil {
			return err
		}
		if val == nil {
			rv.Set(reflect.Zero(rv.Type()))
		} else {
			rv.Set(reflect.ValueOf(val))
		}

	default:
		return newError(KindInvalidArgument, "unsupported type: %v", rv.Type())
	}

	return nil
}

func mismatch(jsVal Value, goType string) error {
	return newError(KindInvalidArgument, "cannot unmarshal JavaScript %s into Go %s", jsVal.Type(), goType)
}

// byteContents returns the bytes of buffer-like values.
func byteContents(jsVal Value) ([]byte, bool, error) {
	var data []byte
	var err error
	switch v := jsVal.(type) {
	case *ArrayBuffer:
		data, err = v.Bytes()
	case *TypedArray:
		data, err = v.Bytes()
	case *DataView:
		data, err = v.Bytes()
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return append([]byte(nil), data...), true, nil
}

// unmarshalSlice unmarshals JavaScript Array to Go slice
func (c *Context) unmarshalSlice(jsVal Value, rv reflect.Value) error {
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		if data, ok, err := byteContents(jsVal); ok {
			if err != nil {
				return err
			}
			rv.SetBytes(data)
			return nil
		}
	}

	arr, ok := jsVal.(*Array)
	if !ok {
		return newError(KindInvalidArgument, "expected array, got JavaScript %s", jsVal.Type())
	}
	elems, err := arr.Values()
	if err != nil {
		return err
	}
	defer freeAll(elems)

	slice := reflect.MakeSlice(rv.Type(), len(elems), len(elems))
	for i, elem := range elems {
		if err := c.unmarshal(elem, slice.Index(i)); err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
	}
	rv.Set(slice)
	return nil
}

// unmarshalArray unmarshals JavaScript Array to Go array
func (c *Context) unmarshalArray(jsVal Value, rv reflect.Value) error {
	arr, ok := jsVal.(*Array)
	if !ok {
		return newError(KindInvalidArgument, "expected array, got JavaScript %s", jsVal.Type())
	}
	elems, err := arr.Values()
	if err != nil {
		return err
	}
	defer freeAll(elems)

	// Use the smaller of the two lengths to avoid index out of bounds
	n := min(len(elems), rv.Len())
	for i := 0; i < n; i++ {
		if err := c.unmarshal(elems[i], rv.Index(i)); err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
	}
	return nil
}

// unmarshalMap unmarshals JavaScript Object to Go map
func (c *Context) unmarshalMap(jsVal Value, rv reflect.Value) error {
	obj, ok := jsVal.(ObjectValue)
	if !ok {
		return newError(KindInvalidArgument, "expected object, got JavaScript %s", jsVal.Type())
	}
	if rv.IsNil() {
		rv.Set(reflect.MakeMap(rv.Type()))
	}

	props, err := obj.Keys()
	if err != nil {
		return err
	}

	keyType := rv.Type().Key()
	valueType := rv.Type().Elem()

	for _, prop := range props {
		// Convert property name to the map's key type
		keyVal := reflect.New(keyType).Elem()
		switch keyType.Kind() {
		case reflect.String:
			keyVal.SetString(prop)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			intVal, err := strconv.ParseInt(prop, 10, 64)
			if err != nil {
				continue // Skip non-numeric keys for numeric key types
			}
			keyVal.SetInt(intVal)
		default:
			return newError(KindInvalidArgument, "unsupported map key type: %v", keyType)
		}

		val, err := obj.Get(prop)
		if err != nil {
			return err
		}
		valueVal := reflect.New(valueType).Elem()
		err = c.unmarshal(val, valueVal)
		val.Free()
		if err != nil {
			return fmt.Errorf("map value for key %s: %w", prop, err)
		}
		rv.SetMapIndex(keyVal, valueVal)
	}

	return nil
}

// unmarshalStruct unmarshals JavaScript Object to Go struct
func (c *Context) unmarshalStruct(jsVal Value, rv reflect.Value) error {
	obj, ok := jsVal.(ObjectValue)
	if !ok {
		return newError(KindInvalidArgument, "expected object, got JavaScript %s", jsVal.Type())
	}

	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, skip := fieldName(field)
		if skip {
			continue
		}
		has, err := obj.Has(name)
		if err != nil {
			return err
		}
		if !has {
			continue
		}
		prop, err := obj.Get(name)
		if err != nil {
			return err
		}
		err = c.unmarshal(prop, rv.Field(i))
		prop.Free()
		if err != nil {
			return fmt.Errorf("struct field %s: %w", field.Name, err)
		}
	}

	return nil
}

// unmarshalInterface unmarshals JavaScript value to interface{}
func (c *Context) unmarshalInterface(jsVal Value) (any, error) {
	switch v := jsVal.(type) {
	case *Undefined, *Null:
		return nil, nil
	case *Boolean:
		return v.Bool(), nil
	case *String:
		return v.Value()
	case *Number:
		f := v.Float64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f), nil
		}
		return f, nil
	case *ArrayBuffer, *TypedArray, *DataView:
		data, _, err := byteContents(jsVal)
		return data, err
	case *Array:
		elems, err := v.Values()
		if err != nil {
			return nil, err
		}
		defer freeAll(elems)
		slice := make([]any, len(elems))
		for i, elem := range elems {
			val, err := c.unmarshalInterface(elem)
			if err != nil {
				return nil, err
			}
			slice[i] = val
		}
		return slice, nil
	case *Function, *Symbol:
		return nil, newError(KindInvalidArgument, "unsupported JavaScript type %s", jsVal.Type())
	case ObjectValue:
		props, err := v.Keys()
		if err != nil {
			return nil, err
		}
		result := make(map[string]any, len(props))
		for _, prop := range props {
			val, err := v.Get(prop)
			if err != nil {
				return nil, err
			}
			goVal, err := c.unmarshalInterface(val)
			val.Free()
			if err != nil {
				return nil, err
			}
			result[prop] = goVal
		}
		return result, nil
	}
	return nil, newError(KindInvalidArgument, "unhandled JavaScript type: %s", jsVal.Type())
}
