// Package reconcile applies an edited entity graph onto the tracked original.
package reconcile

import (
	"context"
	"reflect"

	"github.com/nlstn/go-admin/internal/equality"
	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/reflectx"
)

// Tracker is the part of a store session the reconciler needs. Tracking state
// is session wide and not safe for concurrent use.
type Tracker interface {
	// IsTracked reports whether an entity equal to entity under resolver is
	// tracked by the session.
	IsTracked(entity interface{}, resolver *equality.Resolver) bool
	// Attach starts tracking entity as unchanged.
	Attach(entity interface{}) error
	// SetCurrentValues copies the scalar values of source onto target.
	SetCurrentValues(target, source interface{}) error
	// NavigationChanged marks a navigation of entity as modified.
	NavigationChanged(entity interface{}, navigation string)
	// ClearTracking forgets every tracked entity.
	ClearTracking()
}

// Reconciler brings a tracked original in line with a replacement graph.
type Reconciler struct {
	registry  *metadata.Registry
	tracker   Tracker
	resolvers *equality.Factory
}

// New creates a reconciler. A nil resolvers factory is created from registry.
func New(registry *metadata.Registry, tracker Tracker, resolvers *equality.Factory) *Reconciler {
	if resolvers == nil {
		resolvers = equality.NewFactory(registry)
	}
	return &Reconciler{registry: registry, tracker: tracker, resolvers: resolvers}
}

// Reconcile mutates original so that its navigations and scalar values match
// replacement and returns original.
//
// Single-valued navigations are detached when replacement no longer holds
// one, kept when both sides denote the same entity, and otherwise replaced by
// the replacement's value, attaching it first when it is not tracked.
// Collections are diffed by primary key: elements only in replacement are
// attached and appended, elements only in original are dropped, and
// elements on both sides keep the original instance. Scalar values are
// copied last.
//
// original must already be tracked by the session.
func (r *Reconciler) Reconcile(ctx context.Context, replacement, original interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orig := reflect.ValueOf(original)
	if orig.Kind() != reflect.Ptr || orig.IsNil() || orig.Elem().Kind() != reflect.Struct {
		return nil, errs.InvalidArgumentf("original must be a non-nil pointer to a struct, got %T", original)
	}
	rep := reflect.ValueOf(replacement)
	if reflectx.IsNil(rep) {
		return nil, errs.InvalidArgumentf("replacement must not be nil")
	}
	if declared := reflectx.DeclaredType(rep); declared != orig.Elem().Type() {
		return nil, errs.InvalidArgumentf("replacement type %s does not match original type %s", declared, orig.Elem().Type())
	}

	d, err := r.registry.DescribeValue(original)
	if err != nil {
		return nil, err
	}
	foreign := reflectx.Indirect(rep).Type() != orig.Elem().Type()

	for i := range d.Navigations {
		nav := &d.Navigations[i]
		index := nav.Index
		if foreign {
			index = nil
		}
		current, _ := reflectx.Load(rep, nav.Name, index)
		slot := reflectx.SettableFieldByIndex(orig, nav.Index)
		if !slot.IsValid() {
			continue
		}
		if reflectx.IsNil(current) && reflectx.IsNil(slot) {
			continue
		}

		if nav.IsCollection {
			err = r.reconcileCollection(original, nav, current, slot)
		} else {
			err = r.reconcileSingle(original, nav, current, slot)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := r.tracker.SetCurrentValues(original, replacement); err != nil {
		return nil, errs.Wrapf(err, "failed to set current values of %s", d.Name)
	}
	return original, nil
}

func (r *Reconciler) reconcileSingle(owner interface{}, nav *metadata.NavigationDescriptor, current, slot reflect.Value) error {
	if reflectx.IsNil(current) {
		slot.Set(reflect.Zero(slot.Type()))
		r.tracker.NavigationChanged(owner, nav.Name)
		return nil
	}

	resolver := r.resolvers.ForDescriptor(nav.Target())
	value := entityOf(current)
	if !reflectx.IsNil(slot) && resolver.Equal(entityOf(slot), value) {
		return nil
	}
	if !r.tracker.IsTracked(value, resolver) {
		if err := r.tracker.Attach(value); err != nil {
			return errs.Wrapf(err, "failed to attach %s", nav.Name)
		}
	}
	if !reflectx.Assign(slot, current) {
		return errs.InvalidArgumentf("cannot assign %s to navigation %s", current.Type(), nav.Name)
	}
	r.tracker.NavigationChanged(owner, nav.Name)
	return nil
}

func (r *Reconciler) reconcileCollection(owner interface{}, nav *metadata.NavigationDescriptor, current, slot reflect.Value) error {
	resolver := r.resolvers.ForDescriptor(nav.Target())
	originalSet := resolver.NewSet(elements(slot)...)
	replacementSet := resolver.NewSet(elements(current)...)

	added := replacementSet.Except(originalSet)
	removed := resolver.NewSet(originalSet.Except(replacementSet)...)
	if len(added) == 0 && removed.Len() == 0 {
		return nil
	}

	for _, item := range added {
		if r.tracker.IsTracked(item, resolver) {
			continue
		}
		if err := r.tracker.Attach(item); err != nil {
			return errs.Wrapf(err, "failed to attach %s element", nav.Name)
		}
	}

	final := make([]interface{}, 0, originalSet.Len()+len(added))
	for _, item := range originalSet.Items() {
		if !removed.Contains(item) {
			final = append(final, item)
		}
	}
	final = append(final, added...)

	sliceType := reflectx.Deref(slot.Type())
	result := reflect.MakeSlice(sliceType, 0, len(final))
	for _, item := range final {
		elem := reflect.New(sliceType.Elem()).Elem()
		if !reflectx.Assign(elem, reflect.ValueOf(item)) {
			return errs.InvalidArgumentf("cannot assign %T to navigation %s", item, nav.Name)
		}
		result = reflect.Append(result, elem)
	}
	if !reflectx.Assign(slot, result) {
		return errs.InvalidArgumentf("cannot assign %s to navigation %s", sliceType, nav.Name)
	}
	r.tracker.NavigationChanged(owner, nav.Name)
	return nil
}

// entityOf returns the entity held by v, as a pointer when v is an
// addressable struct.
func entityOf(v reflect.Value) interface{} {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct && v.CanAddr() {
		return v.Addr().Interface()
	}
	return v.Interface()
}

// elements lists the entities of a collection. Struct elements are returned
// as pointers into the collection.
func elements(v reflect.Value) []interface{} {
	v = reflectx.Indirect(v)
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return nil
	}
	items := make([]interface{}, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if reflectx.IsNil(elem) {
			continue
		}
		items = append(items, entityOf(elem))
	}
	return items
}

// CopyValues copies the stored scalar properties of source onto target.
// Primary keys, calculated members and navigations are left alone. source
// may be a proxy of the same declared type.
func CopyValues(d *metadata.EntityDescriptor, target, source interface{}) error {
	dst := reflect.ValueOf(target)
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		return errs.InvalidArgumentf("target must be a non-nil pointer, got %T", target)
	}
	src := reflect.ValueOf(source)
	if reflectx.IsNil(src) {
		return errs.InvalidArgumentf("source must not be nil")
	}
	foreign := reflectx.Indirect(src).Type() != reflectx.Indirect(dst).Type()

	for _, prop := range d.Properties {
		if prop.IsPrimaryKey || prop.IsCalculated {
			continue
		}
		index := prop.Index
		if foreign {
			index = nil
		}
		value, ok := reflectx.Load(src, prop.Name, index)
		if !ok {
			continue
		}
		field := reflectx.SettableFieldByIndex(dst, prop.Index)
		if !field.IsValid() {
			continue
		}
		if !reflectx.Assign(field, value) {
			return errs.InvalidArgumentf("cannot assign %s to property %s of %s", value.Type(), prop.Name, d.Name)
		}
	}
	return nil
}
