package admin

import (
	"context"
	"reflect"

	"github.com/nlstn/go-admin/internal/metadata"
)

// Lifecycle hooks are methods an entity may declare:
//
//	AdminBeforeCreate(ctx context.Context) error
//	AdminAfterCreate(ctx context.Context) error
//	AdminBeforeUpdate(ctx context.Context) error
//	AdminAfterUpdate(ctx context.Context, before interface{}) error
//	AdminBeforeDelete(ctx context.Context) error
//	AdminAfterDelete(ctx context.Context) error
//
// Before hooks abort the operation by returning an error. Errors of after
// hooks are logged. Hooks run inside the write transaction, which they can
// reach through TransactionFromContext.
const (
	hookBeforeCreate = "AdminBeforeCreate"
	hookAfterCreate  = "AdminAfterCreate"
	hookBeforeUpdate = "AdminBeforeUpdate"
	hookAfterUpdate  = "AdminAfterUpdate"
	hookBeforeDelete = "AdminBeforeDelete"
	hookAfterDelete  = "AdminAfterDelete"
)

func hookDeclared(d *metadata.EntityDescriptor, name string) bool {
	switch name {
	case hookBeforeCreate:
		return d.Hooks.HasBeforeCreate
	case hookAfterCreate:
		return d.Hooks.HasAfterCreate
	case hookBeforeUpdate:
		return d.Hooks.HasBeforeUpdate
	case hookAfterUpdate:
		return d.Hooks.HasAfterUpdate
	case hookBeforeDelete:
		return d.Hooks.HasBeforeDelete
	case hookAfterDelete:
		return d.Hooks.HasAfterDelete
	}
	return false
}

// runHook calls the named hook when d declares it.
func runHook(ctx context.Context, d *metadata.EntityDescriptor, entity interface{}, name string, args ...interface{}) error {
	if d == nil || !hookDeclared(d, name) {
		return nil
	}
	return callHook(ctx, entity, name, args...)
}

// runAfterHook calls an after hook and logs its error.
func (s *Service) runAfterHook(ctx context.Context, d *metadata.EntityDescriptor, entity interface{}, name string, args ...interface{}) {
	if err := runHook(ctx, d, entity, name, args...); err != nil {
		s.logger.Error("Hook failed", "hook", name, "entity", d.Name, "error", err)
	}
}

// callHook invokes a hook method on an entity using reflection.
// It tries both value and pointer receivers.
func callHook(ctx context.Context, entity interface{}, methodName string, args ...interface{}) error {
	entityValue := reflect.ValueOf(entity)
	if !entityValue.IsValid() {
		return nil
	}

	var method reflect.Value
	if entityValue.Kind() == reflect.Ptr {
		if entityValue.IsNil() {
			return nil
		}
		// Try the value receiver first
		method = entityValue.Elem().MethodByName(methodName)
		if !method.IsValid() {
			method = entityValue.MethodByName(methodName)
		}
	} else {
		method = entityValue.MethodByName(methodName)
	}
	if !method.IsValid() {
		return nil
	}

	return callHookMethod(method, append([]interface{}{ctx}, args...))
}

func callHookMethod(method reflect.Value, args []interface{}) error {
	methodType := method.Type()
	if methodType.NumIn() != len(args) {
		return nil
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		paramType := methodType.In(i)
		if arg == nil {
			in[i] = reflect.Zero(paramType)
			continue
		}
		value := reflect.ValueOf(arg)
		if !value.Type().AssignableTo(paramType) {
			return nil
		}
		in[i] = value
	}

	results := method.Call(in)
	if len(results) > 0 {
		if err, ok := results[len(results)-1].Interface().(error); ok {
			return err
		}
	}
	return nil
}
