package admin

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/reflectx"
)

// KeyGenerator produces a primary key value for a new entity.
type KeyGenerator func(ctx context.Context) (interface{}, error)

// RegisterKeyGenerator registers a named key generator. Properties select it
// with the admin:"generate=<name>" tag. Names are case-insensitive.
func (s *Service) RegisterKeyGenerator(name string, generator KeyGenerator) error {
	if s == nil {
		return errs.InvalidArgumentf("service is nil")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errs.InvalidArgumentf("key generator name cannot be empty")
	}
	if generator == nil {
		return errs.InvalidArgumentf("key generator cannot be nil")
	}

	s.keyGeneratorsMu.Lock()
	defer s.keyGeneratorsMu.Unlock()
	s.keyGenerators[name] = generator
	return nil
}

func (s *Service) keyGenerator(name string) (KeyGenerator, bool) {
	s.keyGeneratorsMu.RLock()
	defer s.keyGeneratorsMu.RUnlock()
	generator, ok := s.keyGenerators[strings.ToLower(name)]
	return generator, ok
}

// generateKeys fills the zero generated keys of entity.
func (s *Service) generateKeys(ctx context.Context, d *metadata.EntityDescriptor, entity interface{}) error {
	ptr := reflect.ValueOf(entity)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return nil
	}
	for i := range d.Properties {
		prop := &d.Properties[i]
		if !prop.IsPrimaryKey || prop.KeyGenerator == "" {
			continue
		}
		field := reflectx.SettableFieldByIndex(ptr, prop.Index)
		if !field.IsValid() || !field.IsZero() {
			continue
		}
		generator, ok := s.keyGenerator(prop.KeyGenerator)
		if !ok {
			return errs.InvalidArgumentf("key generator '%s' for %s.%s is not registered", prop.KeyGenerator, d.Name, prop.Name)
		}
		value, err := generator(ctx)
		if err != nil {
			return errs.Wrapf(err, "failed to generate key %s.%s", d.Name, prop.Name)
		}
		if err := assignGeneratedValue(field, value); err != nil {
			return errs.Wrapf(err, "failed to assign key %s.%s", d.Name, prop.Name)
		}
	}
	return nil
}

// generateGraphKeys fills generated keys of entity and of the entities its
// navigations hold, down to the depth bound of d.
func (s *Service) generateGraphKeys(ctx context.Context, d *metadata.EntityDescriptor, entity interface{}) error {
	return s.walkGraph(ctx, d, reflect.ValueOf(entity), make(map[uintptr]bool))
}

func (s *Service) walkGraph(ctx context.Context, d *metadata.EntityDescriptor, v reflect.Value, seen map[uintptr]bool) error {
	if d == nil || v.Kind() != reflect.Ptr || v.IsNil() {
		return nil
	}
	if seen[v.Pointer()] {
		return nil
	}
	seen[v.Pointer()] = true

	if err := s.generateKeys(ctx, d, v.Interface()); err != nil {
		return err
	}
	for i := range d.Navigations {
		nav := &d.Navigations[i]
		value := reflectx.FieldByIndex(v, nav.Index)
		if reflectx.IsNil(value) {
			continue
		}
		target := nav.Target()
		if value.Kind() == reflect.Slice {
			for j := 0; j < value.Len(); j++ {
				if err := s.walkGraph(ctx, target, addr(value.Index(j)), seen); err != nil {
					return err
				}
			}
			continue
		}
		if err := s.walkGraph(ctx, target, addr(value), seen); err != nil {
			return err
		}
	}
	return nil
}

func addr(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v
	}
	if v.CanAddr() {
		return v.Addr()
	}
	return reflect.Value{}
}

func assignGeneratedValue(field reflect.Value, value interface{}) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if reflectx.Assign(field, reflect.ValueOf(value)) {
		return nil
	}
	if field.Kind() == reflect.String {
		if stringer, ok := value.(fmt.Stringer); ok {
			field.SetString(stringer.String())
			return nil
		}
	}
	return fmt.Errorf("generated value of type %T is not assignable to %s", value, field.Type())
}
