// Package reflectx holds the reflection helpers shared by the projection,
// unwrap and reconcile packages.
package reflectx

import (
	"reflect"
)

// Proxy is implemented by stand-ins that wrap an entity, for example lazy
// loading wrappers produced by a store.
type Proxy interface {
	IsProxy() bool
}

// Declared is implemented by proxies that know the plain entity type they
// stand in for.
type Declared interface {
	DeclaredType() reflect.Type
}

// FieldLoader is implemented by values whose members are loaded on demand.
// Readers that only need some members call LoadField for exactly those names
// instead of reading the struct directly.
type FieldLoader interface {
	LoadField(name string) (interface{}, bool)
}

// IsProxy reports whether v is a proxy, or a slice whose first element is.
func IsProxy(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return false
		}
		return IsProxy(v.Index(0))
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		return IsProxy(v.Elem())
	}
	if v.CanInterface() {
		if p, ok := v.Interface().(Proxy); ok {
			return isProxyCall(p)
		}
	}
	if v.Kind() != reflect.Ptr && v.CanAddr() && v.Addr().CanInterface() {
		if p, ok := v.Addr().Interface().(Proxy); ok {
			return isProxyCall(p)
		}
	}
	return false
}

func isProxyCall(p Proxy) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()
	return p.IsProxy()
}

// DeclaredType returns the plain struct type v stands for.
func DeclaredType(v reflect.Value) reflect.Type {
	if v.IsValid() && v.CanInterface() {
		if d, ok := v.Interface().(Declared); ok {
			if t := d.DeclaredType(); t != nil {
				return Deref(t)
			}
		}
	}
	return Deref(v.Type())
}

// Deref strips pointer levels from t.
func Deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Indirect follows pointers and interfaces until it reaches a non-pointer
// value. It returns an invalid value for nil.
func Indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// FieldByIndex returns the nested field of a struct value. It returns an
// invalid value when an embedded pointer on the way is nil.
func FieldByIndex(v reflect.Value, index []int) reflect.Value {
	v = Indirect(v)
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	field, err := v.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}
	}
	return field
}

// SettableFieldByIndex returns the nested field, allocating nil embedded
// pointers on the way.
func SettableFieldByIndex(v reflect.Value, index []int) reflect.Value {
	v = Indirect(v)
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	for i, x := range index {
		if i > 0 {
			if v.Kind() == reflect.Ptr {
				if v.IsNil() {
					if !v.CanSet() {
						return reflect.Value{}
					}
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v
}

// IsNil reports whether v is invalid or a nil pointer, interface, slice or map.
func IsNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

// Pointer returns a pointer to the struct held by entity. A struct value is
// copied into a new allocation.
func Pointer(entity interface{}) reflect.Value {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		return v
	}
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	return ptr
}

// Load reads the member name of v. Values implementing FieldLoader are read
// through LoadField; anything else through the field index, or by name when
// index is nil.
func Load(v reflect.Value, name string, index []int) (reflect.Value, bool) {
	if v.IsValid() && v.CanInterface() {
		if loader, ok := v.Interface().(FieldLoader); ok {
			value, found := loader.LoadField(name)
			if !found {
				return reflect.Value{}, false
			}
			return reflect.ValueOf(value), true
		}
	}
	if index == nil {
		s := Indirect(v)
		if !s.IsValid() || s.Kind() != reflect.Struct {
			return reflect.Value{}, false
		}
		sf, found := s.Type().FieldByName(name)
		if !found {
			return reflect.Value{}, false
		}
		field, err := s.FieldByIndexErr(sf.Index)
		if err != nil {
			return reflect.Value{}, false
		}
		return field, true
	}
	field := FieldByIndex(v, index)
	return field, field.IsValid()
}

// Assign stores src into dst, converting or wrapping in a pointer when the
// types differ. Nil src zeroes dst.
func Assign(dst, src reflect.Value) bool {
	if !dst.CanSet() {
		return false
	}
	if !src.IsValid() {
		dst.Set(reflect.Zero(dst.Type()))
		return true
	}
	if src.Kind() == reflect.Interface && !src.IsNil() {
		src = src.Elem()
	}
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case dst.Kind() == reflect.Ptr && src.Type().AssignableTo(dst.Type().Elem()):
		ptr := reflect.New(dst.Type().Elem())
		ptr.Elem().Set(src)
		dst.Set(ptr)
	case src.Kind() == reflect.Ptr && !src.IsNil() && src.Elem().Type().AssignableTo(dst.Type()):
		dst.Set(src.Elem())
	case src.Kind() == reflect.Ptr && src.IsNil():
		dst.Set(reflect.Zero(dst.Type()))
	case src.Type().ConvertibleTo(dst.Type()) && kindFamily(src.Kind()) == kindFamily(dst.Kind()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return false
	}
	return true
}

func kindFamily(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	default:
		return 3 + int(k)
	}
}
