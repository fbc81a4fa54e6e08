package admin

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/observability"
	"github.com/nlstn/go-admin/internal/reconcile"
	"github.com/nlstn/go-admin/internal/reflectx"
	"github.com/nlstn/go-admin/internal/unwrap"
)

// AfterUpdateFunc is called once an original has been reconciled. before is
// a plain copy of the original taken before reconciliation, after is the
// reconciled original. A returned error aborts the update.
type AfterUpdateFunc func(ctx context.Context, before, after interface{}) error

// Find loads the entity of the type of entity with the given key into the
// write session, together with its navigations. Composite keys are given as
// a slice in key order. The result stays tracked until SaveChanges or
// ClearTracking.
func (s *Service) Find(ctx context.Context, entity interface{}, key interface{}) (result interface{}, err error) {
	d, err := s.describe(entity)
	if err != nil {
		return nil, err
	}
	op := s.instrument(ctx, observability.OpFind, d.SetName)
	defer func() { op.end(err) }()
	op.setAttributes(observability.EntityKeyAttrKey.String(fmt.Sprint(key)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.session.Find(op.ctx, d.Type, key)
}

// Reconcile makes the tracked original match replacement and returns the
// original. Navigations are reconciled first, then the scalar values of
// replacement are copied onto original.
//
// When afterUpdate is given it receives a plain copy of original taken before
// reconciliation and the reconciled original. If reconciliation or the
// callback fails, tracking is cleared so that later operations start clean.
func (s *Service) Reconcile(ctx context.Context, replacement, original interface{}, afterUpdate AfterUpdateFunc) (result interface{}, err error) {
	d, err := s.describe(original)
	if err != nil {
		return nil, err
	}
	op := s.instrument(ctx, observability.OpReconcile, d.SetName)
	defer func() { op.end(err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer func() {
		if err != nil {
			s.clearTracking(d)
		}
	}()
	return s.reconcile(op, d, replacement, original, afterUpdate)
}

// reconcile runs the reconciler on the write session. The caller holds
// writeMu.
func (s *Service) reconcile(op *operation, d *metadata.EntityDescriptor, replacement, original interface{}, afterUpdate AfterUpdateFunc) (interface{}, error) {
	var before interface{}
	if afterUpdate != nil {
		before = unwrap.Unwrap(original, navigationNames(d))
	}

	attachesBefore := s.attaches()
	updated, err := reconcile.New(s.registry, s.session, s.resolvers).Reconcile(op.ctx, replacement, original)
	if err != nil {
		return nil, err
	}
	attached := s.attaches() - attachesBefore
	op.setAttributes(observability.AttachedAttr(attached))
	op.metrics.RecordAttached(op.ctx, d.SetName, attached)

	if afterUpdate != nil {
		if err := afterUpdate(op.ctx, before, updated); err != nil {
			return nil, errs.Wrapf(err, "after update of %s failed", d.Name)
		}
	}
	return updated, nil
}

// Update loads the stored entity with the key of entity, reconciles entity
// onto it and saves the result in one transaction. Generated keys of new
// related entities are filled in first. Tracking is always cleared
// afterwards.
func (s *Service) Update(ctx context.Context, entity interface{}, afterUpdate AfterUpdateFunc) (result interface{}, err error) {
	d, err := s.describe(entity)
	if err != nil {
		return nil, err
	}
	key, err := s.keyArg(d, entity)
	if err != nil {
		return nil, err
	}
	op := s.instrument(ctx, observability.OpUpdate, d.SetName)
	defer func() { op.end(err) }()
	op.setAttributes(observability.EntityKeyAttrKey.String(fmt.Sprint(key)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.clearTracking(d)

	err = s.inTransaction(op.ctx, func(ctx context.Context) error {
		txOp := *op
		txOp.ctx = ctx

		if err := runHook(ctx, d, entity, hookBeforeUpdate); err != nil {
			return err
		}
		original, err := s.session.Find(ctx, d.Type, key)
		if err != nil {
			return err
		}
		if err := s.generateGraphKeys(ctx, d, entity); err != nil {
			return err
		}

		var before interface{}
		if d.Hooks.HasAfterUpdate {
			before = unwrap.Unwrap(original, navigationNames(d))
		}
		updated, err := s.reconcile(&txOp, d, entity, original, afterUpdate)
		if err != nil {
			return err
		}
		if _, err := s.session.SaveChanges(ctx); err != nil {
			return err
		}

		s.runAfterHook(ctx, d, updated, hookAfterUpdate, before)
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Add stores a new entity. entity must be a pointer so that generated and
// store assigned keys are visible to the caller. Tracking is always cleared
// afterwards.
func (s *Service) Add(ctx context.Context, entity interface{}) (err error) {
	if v := reflect.ValueOf(entity); v.Kind() != reflect.Ptr || v.IsNil() {
		return errs.InvalidArgumentf("entity must be a non-nil pointer, got %T", entity)
	}
	d, err := s.describe(entity)
	if err != nil {
		return err
	}
	op := s.instrument(ctx, observability.OpCreate, d.SetName)
	defer func() { op.end(err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.clearTracking(d)

	return s.inTransaction(op.ctx, func(ctx context.Context) error {
		if err := runHook(ctx, d, entity, hookBeforeCreate); err != nil {
			return err
		}
		if err := s.generateKeys(ctx, d, entity); err != nil {
			return err
		}
		if err := s.session.Add(entity); err != nil {
			return err
		}
		if _, err := s.session.SaveChanges(ctx); err != nil {
			return err
		}
		s.runAfterHook(ctx, d, entity, hookAfterCreate)
		return nil
	})
}

// Delete removes the stored entity with the key of entity. Tracking is always
// cleared afterwards.
func (s *Service) Delete(ctx context.Context, entity interface{}) (err error) {
	d, err := s.describe(entity)
	if err != nil {
		return err
	}
	key, err := s.keyArg(d, entity)
	if err != nil {
		return err
	}
	op := s.instrument(ctx, observability.OpDelete, d.SetName)
	defer func() { op.end(err) }()
	op.setAttributes(observability.EntityKeyAttrKey.String(fmt.Sprint(key)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.clearTracking(d)

	return s.inTransaction(op.ctx, func(ctx context.Context) error {
		stored, err := s.session.Find(ctx, d.Type, key)
		if err != nil {
			return err
		}
		if err := runHook(ctx, d, stored, hookBeforeDelete); err != nil {
			return err
		}
		if err := s.session.Remove(stored); err != nil {
			return err
		}
		if _, err := s.session.SaveChanges(ctx); err != nil {
			return err
		}
		s.runAfterHook(ctx, d, stored, hookAfterDelete)
		return nil
	})
}

// SaveChanges writes the changes tracked by the write session and returns the
// number of entities written. Tracking is always cleared afterwards.
func (s *Service) SaveChanges(ctx context.Context) (n int, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.clearTracking(nil)

	n, err = s.session.SaveChanges(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("Saved changes", "entities", n)
	return n, nil
}

// ClearTracking forgets every entity tracked by the write session.
func (s *Service) ClearTracking() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.session.ClearTracking()
}

// clearTracking is the cleanup step of every write. The caller holds writeMu.
func (s *Service) clearTracking(d *metadata.EntityDescriptor) {
	s.session.ClearTracking()
	if d != nil {
		s.logger.Debug("Cleared tracking", "entity", d.Name)
	}
}

// describe returns the descriptor of the declared type of entity, so that
// proxies describe as the entity they stand in for.
func (s *Service) describe(entity interface{}) (*metadata.EntityDescriptor, error) {
	v := reflect.ValueOf(entity)
	if reflectx.IsNil(v) {
		return nil, errs.InvalidArgumentf("entity must not be nil")
	}
	if t, ok := entity.(reflect.Type); ok {
		return s.registry.Describe(reflectx.Deref(t))
	}
	return s.registry.Describe(reflectx.DeclaredType(v))
}

// keyArg returns the key of entity in the form Session.Find accepts.
func (s *Service) keyArg(d *metadata.EntityDescriptor, entity interface{}) (interface{}, error) {
	resolver, err := s.resolvers.For(d.Type)
	if err != nil {
		return nil, err
	}
	key, ok := resolver.KeyOf(entity)
	if !ok {
		return nil, errs.InvalidArgumentf("%s has no key value", d.Name)
	}
	if len(key.Values) == 1 {
		return key.Values[0], nil
	}
	return key.Values, nil
}

func (s *Service) attaches() int {
	if counter, ok := s.session.(attachCounter); ok {
		return counter.Attaches()
	}
	return 0
}

func navigationNames(d *metadata.EntityDescriptor) []string {
	names := make([]string, 0, len(d.Navigations))
	for _, nav := range d.Navigations {
		names = append(names, nav.Name)
	}
	return names
}
