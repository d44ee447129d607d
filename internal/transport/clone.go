package transport

import (
	"fmt"
	"reflect"
)

// CloneError reports a value that cannot cross a port, such as a function
// or a channel.
type CloneError struct {
	Kind reflect.Kind
	Type reflect.Type
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("value of type %s (%s) cannot be cloned", e.Type, e.Kind)
}

// visit identifies a reference value already being copied. Length is part of
// the key because sub-slices of one array share a data pointer.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// Clone returns a deep copy of src. Shared and cyclic references are
// preserved in the copy. Non-nil funcs, chans and unsafe pointers fail with a
// *CloneError. Unexported struct fields are copied shallowly.
func Clone(src interface{}) (interface{}, error) {
	if src == nil {
		return nil, nil
	}

	// Fast path for the shapes payloads usually take.
	switch v := src.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v, nil
	}

	c := &cloner{seen: make(map[visit]reflect.Value)}
	out, err := c.clone(reflect.ValueOf(src))
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

type cloner struct {
	seen map[visit]reflect.Value
}

func (c *cloner) clone(v reflect.Value) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Invalid:
		return v, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		return reflect.Value{}, &CloneError{Kind: v.Kind(), Type: v.Type()}

	case reflect.Ptr:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if cpy, ok := c.seen[key]; ok {
			return cpy, nil
		}
		cpy := reflect.New(v.Type().Elem())
		c.seen[key] = cpy
		elem, err := c.clone(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		cpy.Elem().Set(elem)
		return cpy, nil

	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		elem, err := c.clone(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		cpy := reflect.New(v.Type()).Elem()
		cpy.Set(elem)
		return cpy, nil

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if cpy, ok := c.seen[key]; ok {
			return cpy, nil
		}
		cpy := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		c.seen[key] = cpy
		for i := 0; i < v.Len(); i++ {
			elem, err := c.clone(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			cpy.Index(i).Set(elem)
		}
		return cpy, nil

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if cpy, ok := c.seen[key]; ok {
			return cpy, nil
		}
		cpy := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[key] = cpy
		iter := v.MapRange()
		for iter.Next() {
			k, err := c.clone(iter.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			val, err := c.clone(iter.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			cpy.SetMapIndex(k, val)
		}
		return cpy, nil

	case reflect.Array:
		cpy := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, err := c.clone(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			cpy.Index(i).Set(elem)
		}
		return cpy, nil

	case reflect.Struct:
		cpy := reflect.New(v.Type()).Elem()
		cpy.Set(v)
		for i := 0; i < v.NumField(); i++ {
			field := cpy.Field(i)
			if !field.CanSet() {
				continue
			}
			elem, err := c.clone(v.Field(i))
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %s: %w", v.Type().Field(i).Name, err)
			}
			field.Set(elem)
		}
		return cpy, nil

	default:
		// Scalars are copied by value.
		cpy := reflect.New(v.Type()).Elem()
		cpy.Set(v)
		return cpy, nil
	}
}
