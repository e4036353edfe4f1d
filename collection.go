package jsrt

// Array is an array object.
type Array struct{ Object }

// Len
//
//	@Description: returns the length property of the array
//	@receiver a :
//	@return int
func (a *Array) Len() (int, error) {
	var n int
	err := a.ctx.do(func() error {
		h, err := a.handle()
		if err != nil {
			return err
		}
		n, err = a.ctx.lengthOf(h)
		return err
	})
	return n, err
}

// Push
//
//	@Description: add one or more elements after the array, returns the new array length
//	@receiver a :
//	@param elements :
//	@return int
func (a *Array) Push(elements ...Value) (int, error) {
	return a.callInt("push", elements...)
}

// Pop
//
//	@Description: delete the last element of the array and return the value
//	@receiver a :
//	@return Value
func (a *Array) Pop() (Value, error) {
	return a.Invoke("pop")
}

// Unshift
//
//	@Description: adds one or more elements to the beginning of the array and
//	returns the new length of the modified array.
//	@receiver a :
//	@param elements :
//	@return int
func (a *Array) Unshift(elements ...Value) (int, error) {
	return a.callInt("unshift", elements...)
}

// Shift
//
//	@Description: remove and return the first element of the array
//	@receiver a :
//	@return Value
func (a *Array) Shift() (Value, error) {
	return a.Invoke("shift")
}

// GetIdx
//
//	@Description: get the element at index, failing when it is out of range
//	@receiver a :
//	@param index :
//	@return Value
func (a *Array) GetIdx(index int) (Value, error) {
	if err := a.inRange(index); err != nil {
		return nil, err
	}
	s := a.At(index)
	defer s.Free()
	return s.Get()
}

// SetIdx
//
//	@Description: replace the element at index, failing when it is out of range
//	@receiver a :
//	@param index :
//	@param value :
//	@return error
func (a *Array) SetIdx(index int, value Value) error {
	if err := a.inRange(index); err != nil {
		return err
	}
	s := a.At(index)
	defer s.Free()
	return s.Set(value)
}

// DeleteIdx leaves a hole at index.
func (a *Array) DeleteIdx(index int) error {
	if err := a.inRange(index); err != nil {
		return err
	}
	s := a.At(index)
	defer s.Free()
	return s.Delete()
}

// HasIdx reports whether index holds an element.
func (a *Array) HasIdx(index int) (bool, error) {
	s := a.At(index)
	defer s.Free()
	return s.Exist()
}

// Values returns every element. The caller frees them.
func (a *Array) Values() ([]Value, error) {
	var vals []Value
	err := a.ctx.do(func() error {
		h, err := a.handle()
		if err != nil {
			return err
		}
		vals, err = a.ctx.elements(h)
		return err
	})
	return vals, err
}

func (a *Array) inRange(index int) error {
	if index < 0 {
		return newError(KindInvalidArgument, "the input index value is a negative number")
	}
	n, err := a.Len()
	if err != nil {
		return err
	}
	if index >= n {
		return newError(KindInvalidArgument, "index subscript out of range")
	}
	return nil
}

func (a *Array) callInt(method string, args ...Value) (int, error) {
	ret, err := a.Invoke(method, args...)
	if err != nil {
		return 0, err
	}
	defer ret.Free()
	if n, ok := ret.(*Number); ok {
		return n.Int(), nil
	}
	return 0, newError(KindInvalidArgument, "%s did not return a number", method)
}
