// Package unwrap produces plain, detached copies of entity graphs that may
// contain lazy loading proxies.
package unwrap

import (
	"reflect"

	"github.com/nlstn/go-admin/internal/reflectx"
)

// Unwrap returns a copy of source built from its declared entity type.
//
// Members holding a proxy, or a collection whose first element is one, are
// left unset, as are members named in navigations. Each named navigation is
// then unwrapped on its own, one level deep, and attached to the copy. A
// member that cannot be copied is skipped without failing the whole copy.
//
// Struct sources yield a pointer to the copy. Slices yield a slice of the
// same shape. A nil source yields nil.
func Unwrap(source interface{}, navigations []string) interface{} {
	v := reflect.ValueOf(source)
	if reflectx.IsNil(v) {
		return nil
	}
	out := unwrapValue(v, navigations)
	if !out.IsValid() {
		return nil
	}
	return out.Interface()
}

func unwrapValue(v reflect.Value, navigations []string) reflect.Value {
	if reflectx.IsNil(v) {
		return reflect.Value{}
	}
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch reflectx.Indirect(v).Kind() {
	case reflect.Slice, reflect.Array:
		items := reflectx.Indirect(v)
		return unwrapCollection(items, collectionType(items), navigations)
	case reflect.Struct:
		return unwrapEntity(v, navigations)
	default:
		return newCopier().copy(v)
	}
}

// collectionType returns the slice type for the copy of v. Collections of
// proxies become slices of pointers to the declared entity type.
func collectionType(v reflect.Value) reflect.Type {
	t := v.Type()
	if t.Kind() == reflect.Array {
		t = reflect.SliceOf(t.Elem())
	}
	if t.Elem().Kind() == reflect.Interface {
		return t
	}
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if reflectx.IsNil(elem) {
			continue
		}
		if reflectx.Indirect(elem).Kind() != reflect.Struct {
			return t
		}
		if declared := reflectx.DeclaredType(elem); declared != reflectx.Deref(t.Elem()) {
			return reflect.SliceOf(reflect.PointerTo(declared))
		}
		return t
	}
	return t
}

func unwrapCollection(v reflect.Value, sliceType reflect.Type, navigations []string) reflect.Value {
	result := reflect.MakeSlice(sliceType, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := reflect.New(sliceType.Elem()).Elem()
		if copied := unwrapValue(v.Index(i), navigations); copied.IsValid() {
			reflectx.Assign(elem, copied)
		}
		result = reflect.Append(result, elem)
	}
	return result
}

func unwrapEntity(src reflect.Value, navigations []string) reflect.Value {
	declared := reflectx.DeclaredType(src)
	if src.Kind() == reflect.Struct {
		src = addressable(src)
	}
	foreign := reflectx.Indirect(src).Type() != declared

	descend := make(map[string]bool, len(navigations))
	for _, name := range navigations {
		descend[name] = true
	}

	out := reflect.New(declared)
	c := newCopier()
	if !foreign {
		c.seen[src.Pointer()] = out
	}
	for i := 0; i < declared.NumField(); i++ {
		field := declared.Field(i)
		if !field.IsExported() || descend[field.Name] {
			continue
		}
		index := field.Index
		if foreign {
			index = nil
		}
		copyMember(c, out.Elem().Field(i), src, field.Name, index)
	}

	for _, name := range navigations {
		field, ok := declared.FieldByName(name)
		if !ok || !field.IsExported() {
			continue
		}
		index := field.Index
		if foreign {
			index = nil
		}
		dst := reflectx.SettableFieldByIndex(out, field.Index)
		if !dst.IsValid() {
			continue
		}
		attachNavigation(dst, src, name, index)
	}
	return out
}

func copyMember(c *copier, dst, src reflect.Value, name string, index []int) {
	defer func() {
		_ = recover()
	}()
	value, ok := reflectx.Load(src, name, index)
	if !ok || reflectx.IsProxy(value) {
		return
	}
	reflectx.Assign(dst, c.copy(value))
}

func attachNavigation(dst, src reflect.Value, name string, index []int) {
	defer func() {
		_ = recover()
	}()
	value, ok := reflectx.Load(src, name, index)
	if !ok || reflectx.IsNil(value) {
		return
	}
	if value.Kind() == reflect.Interface {
		value = value.Elem()
	}
	if k := reflectx.Indirect(value).Kind(); k == reflect.Slice || k == reflect.Array {
		reflectx.Assign(dst, unwrapCollection(reflectx.Indirect(value), reflectx.Deref(dst.Type()), nil))
		return
	}
	reflectx.Assign(dst, unwrapValue(value, nil))
}

func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v.Addr()
	}
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	return ptr
}

// copier deep-copies plain values. Pointers already seen map to their copy,
// so cyclic graphs keep their shape.
type copier struct {
	seen map[uintptr]reflect.Value
}

func newCopier() *copier {
	return &copier{seen: make(map[uintptr]reflect.Value)}
}

func (c *copier) copy(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		if existing, ok := c.seen[v.Pointer()]; ok {
			return existing
		}
		ptr := reflect.New(v.Type().Elem())
		c.seen[v.Pointer()] = ptr
		ptr.Elem().Set(c.copy(v.Elem()))
		return ptr
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(c.copy(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(c.copy(iter.Key()), c.copy(iter.Value()))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			out.Field(i).Set(c.copy(v.Field(i)))
		}
		return out
	default:
		return v
	}
}
