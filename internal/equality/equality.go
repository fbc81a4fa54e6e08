// Package equality derives identity comparison for entity types from their
// primary keys.
package equality

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/reflectx"
)

// Key is the normalized primary key of one entity.
type Key struct {
	Hash   uint64
	Values []interface{}
}

// Equal reports whether both keys hold the same values.
func (k Key) Equal(other Key) bool {
	if k.Hash != other.Hash || len(k.Values) != len(other.Values) {
		return false
	}
	for i := range k.Values {
		if !valuesEqual(k.Values[i], other.Values[i]) {
			return false
		}
	}
	return true
}

// Resolver compares entities of one type by primary key. Entities without a
// key, or whose key is still the zero value, compare by reference.
type Resolver struct {
	entityType reflect.Type
	keys       [][]int
	names      []string
}

// New builds the resolver for the entity described by d.
func New(d *metadata.EntityDescriptor) *Resolver {
	r := &Resolver{entityType: d.Type}
	for _, p := range d.PrimaryKeys() {
		r.keys = append(r.keys, p.Index)
		r.names = append(r.names, p.Name)
	}
	return r
}

// Type returns the entity type the resolver compares.
func (r *Resolver) Type() reflect.Type {
	return r.entityType
}

// KeyNames returns the primary key property names.
func (r *Resolver) KeyNames() []string {
	return r.names
}

// KeyOf returns the key of entity. ok is false for keyless entities and for
// entities whose key fields are all zero.
func (r *Resolver) KeyOf(entity interface{}) (key Key, ok bool) {
	if len(r.keys) == 0 {
		return Key{}, false
	}
	v := reflectx.Indirect(reflect.ValueOf(entity))
	if !v.IsValid() {
		return Key{}, false
	}

	digest := xxhash.New()
	allZero := true
	key.Values = make([]interface{}, len(r.keys))
	for i, index := range r.keys {
		field := reflectx.Indirect(reflectx.FieldByIndex(v, index))
		if !field.IsValid() {
			continue
		}
		if !field.IsZero() {
			allZero = false
		}
		key.Values[i] = field.Interface()
		writeValue(digest, field)
	}
	if allZero {
		return Key{}, false
	}
	key.Hash = digest.Sum64()
	return key, true
}

// Hash returns the bucket of entity for hashed sets.
func (r *Resolver) Hash(entity interface{}) uint64 {
	if key, ok := r.KeyOf(entity); ok {
		return key.Hash
	}
	return identityHash(entity)
}

// Equal reports whether a and b denote the same entity.
func (r *Resolver) Equal(a, b interface{}) bool {
	ka, okA := r.KeyOf(a)
	kb, okB := r.KeyOf(b)
	if okA && okB {
		return ka.Equal(kb)
	}
	if okA != okB {
		return false
	}
	return sameReference(a, b)
}

func sameReference(a, b interface{}) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return !va.IsValid() && !vb.IsValid()
	}
	if va.Kind() == reflect.Ptr && vb.Kind() == reflect.Ptr {
		return va.Pointer() == vb.Pointer()
	}
	return reflect.DeepEqual(a, b)
}

func identityHash(entity interface{}) uint64 {
	v := reflect.ValueOf(entity)
	if v.IsValid() && v.Kind() == reflect.Ptr {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Pointer()))
		return xxhash.Sum64(buf[:])
	}
	return xxhash.Sum64String(fmt.Sprintf("%#v", entity))
}

func writeValue(digest *xxhash.Digest, v reflect.Value) {
	var buf [8]byte
	switch v.Kind() {
	case reflect.String:
		_, _ = digest.WriteString(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Int()))
		_, _ = digest.Write(buf[:])
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		binary.LittleEndian.PutUint64(buf[:], v.Uint())
		_, _ = digest.Write(buf[:])
	case reflect.Float32, reflect.Float64:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Float()))
		_, _ = digest.Write(buf[:])
	case reflect.Bool:
		if v.Bool() {
			buf[0] = 1
		}
		_, _ = digest.Write(buf[:1])
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			// uuid.UUID and other fixed byte keys
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			_, _ = digest.Write(b)
			return
		}
		_, _ = fmt.Fprintf(digest, "%v", v.Interface())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			_, _ = digest.Write(v.Bytes())
			return
		}
		_, _ = fmt.Fprintf(digest, "%v", v.Interface())
	default:
		_, _ = fmt.Fprintf(digest, "%v", v.Interface())
	}
	// separator between composite key parts
	_, _ = digest.Write([]byte{0})
}

func valuesEqual(a, b interface{}) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta != nil && ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Factory hands out resolvers per entity type, describing types through the
// registry on first use.
type Factory struct {
	registry *metadata.Registry
	mu       sync.Mutex
	cache    map[reflect.Type]*Resolver
}

// NewFactory creates a factory backed by registry.
func NewFactory(registry *metadata.Registry) *Factory {
	return &Factory{
		registry: registry,
		cache:    make(map[reflect.Type]*Resolver),
	}
}

// For returns the resolver for a registered type or a type reached through
// the navigations of one.
func (f *Factory) For(t reflect.Type) (*Resolver, error) {
	t = reflectx.Deref(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.cache[t]; ok {
		return r, nil
	}
	d, err := f.registry.DescribeRelated(t)
	if err != nil {
		return nil, err
	}
	r := New(d)
	f.cache[t] = r
	return r, nil
}

// ForDescriptor returns the resolver for a descriptor that is already known,
// for example a navigation target.
func (f *Factory) ForDescriptor(d *metadata.EntityDescriptor) *Resolver {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.cache[d.Type]; ok {
		return r
	}
	r := New(d)
	f.cache[d.Type] = r
	return r
}

// Probe returns a new entity of the resolver's type whose primary key holds
// key. Composite keys are given as a slice in key order.
func (r *Resolver) Probe(key interface{}) (interface{}, error) {
	if len(r.keys) == 0 {
		return nil, errs.InvalidArgumentf("%s has no primary key", r.entityType.Name())
	}
	values := []interface{}{key}
	if len(r.keys) > 1 {
		kv := reflect.ValueOf(key)
		if kv.Kind() != reflect.Slice || kv.Len() != len(r.keys) {
			return nil, errs.InvalidArgumentf("%s expects %d key values", r.entityType.Name(), len(r.keys))
		}
		values = make([]interface{}, kv.Len())
		for i := range values {
			values[i] = kv.Index(i).Interface()
		}
	}

	probe := reflect.New(r.entityType)
	for i, index := range r.keys {
		field := reflectx.SettableFieldByIndex(probe, index)
		if !reflectx.Assign(field, reflect.ValueOf(values[i])) {
			return nil, errs.InvalidArgumentf("invalid value %v for key %s of %s", values[i], r.names[i], r.entityType.Name())
		}
	}
	return probe.Interface(), nil
}
