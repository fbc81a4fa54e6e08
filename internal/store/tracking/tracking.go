// Package tracking keeps the change-tracking state of a store session.
package tracking

import (
	"reflect"

	"github.com/nlstn/go-admin/internal/equality"
	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/reconcile"
	"github.com/nlstn/go-admin/internal/reflectx"
)

// State is the pending change of a tracked entity.
type State int

const (
	Unchanged State = iota
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

// Entry is one tracked entity.
type Entry struct {
	Entity   interface{}
	Resolver *equality.Resolver
	State    State
	// Navigations lists the navigations changed since the last save.
	Navigations []string
}

func (e *Entry) navigationChanged(name string) {
	for _, n := range e.Navigations {
		if n == name {
			return
		}
	}
	e.Navigations = append(e.Navigations, name)
}

// Tracker is an identity map of tracked entities. Entities are identified by
// primary key, or by reference while their key is unset. It is not safe for
// concurrent use.
type Tracker struct {
	registry  *metadata.Registry
	resolvers *equality.Factory
	entries   []*Entry
	attaches  int
}

var _ reconcile.Tracker = (*Tracker)(nil)

// New creates an empty tracker.
func New(registry *metadata.Registry, resolvers *equality.Factory) *Tracker {
	if resolvers == nil {
		resolvers = equality.NewFactory(registry)
	}
	return &Tracker{registry: registry, resolvers: resolvers}
}

// Registry returns the registry entities are described with.
func (t *Tracker) Registry() *metadata.Registry {
	return t.registry
}

// Resolvers returns the equality resolver factory.
func (t *Tracker) Resolvers() *equality.Factory {
	return t.resolvers
}

// Entries returns the tracked entries in tracking order.
func (t *Tracker) Entries() []*Entry {
	return t.entries
}

// Attaches returns how many entities Attach started tracking.
func (t *Tracker) Attaches() int {
	return t.attaches
}

// ResolverFor returns the resolver of the declared type of entity.
func (t *Tracker) ResolverFor(entity interface{}) (*equality.Resolver, error) {
	v := reflect.ValueOf(entity)
	if reflectx.IsNil(v) {
		return nil, errs.InvalidArgumentf("entity is nil")
	}
	return t.resolvers.For(reflectx.DeclaredType(v))
}

// Lookup returns the entry tracking an entity equal to entity.
func (t *Tracker) Lookup(entity interface{}, resolver *equality.Resolver) *Entry {
	for _, e := range t.entries {
		if e.Resolver.Type() == resolver.Type() && resolver.Equal(e.Entity, entity) {
			return e
		}
	}
	return nil
}

// Track starts tracking entity in state. A different instance under a
// tracked key is rejected with ErrAlreadyTracked.
func (t *Tracker) Track(entity interface{}, state State) (*Entry, error) {
	resolver, err := t.ResolverFor(entity)
	if err != nil {
		return nil, err
	}
	if e := t.Lookup(entity, resolver); e != nil {
		if e.Entity != entity {
			key, _ := resolver.KeyOf(entity)
			return nil, errs.Wrapf(errs.ErrAlreadyTracked, "%s with key %v", resolver.Type().Name(), key.Values)
		}
		if state != Unchanged {
			e.State = state
		}
		return e, nil
	}
	e := &Entry{Entity: entity, Resolver: resolver, State: state}
	t.entries = append(t.entries, e)
	return e, nil
}

// IsTracked reports whether an entity equal to entity is tracked.
func (t *Tracker) IsTracked(entity interface{}, resolver *equality.Resolver) bool {
	return t.Lookup(entity, resolver) != nil
}

// Attach tracks entity as unchanged. Attaching the tracked instance again is
// a no-op.
func (t *Tracker) Attach(entity interface{}) error {
	resolver, err := t.ResolverFor(entity)
	if err != nil {
		return err
	}
	if e := t.Lookup(entity, resolver); e != nil && e.Entity == entity {
		return nil
	}
	if _, err := t.Track(entity, Unchanged); err != nil {
		return err
	}
	t.attaches++
	return nil
}

// SetCurrentValues copies the scalar values of source onto target and marks
// target modified.
func (t *Tracker) SetCurrentValues(target, source interface{}) error {
	d, err := t.registry.DescribeValue(target)
	if err != nil {
		return err
	}
	if err := reconcile.CopyValues(d, target, source); err != nil {
		return err
	}
	t.markModified(target)
	return nil
}

// NavigationChanged records that a navigation of entity was reassigned.
func (t *Tracker) NavigationChanged(entity interface{}, navigation string) {
	if e := t.markModified(entity); e != nil {
		e.navigationChanged(navigation)
	}
}

func (t *Tracker) markModified(entity interface{}) *Entry {
	resolver, err := t.ResolverFor(entity)
	if err != nil {
		return nil
	}
	e := t.Lookup(entity, resolver)
	if e != nil && e.State == Unchanged {
		e.State = Modified
	}
	return e
}

// ClearTracking forgets every tracked entity.
func (t *Tracker) ClearTracking() {
	t.entries = nil
}

// Add tracks entity for insertion.
func (t *Tracker) Add(entity interface{}) error {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errs.InvalidArgumentf("entity must be a non-nil pointer, got %T", entity)
	}
	_, err := t.Track(entity, Added)
	return err
}

// Remove tracks entity for deletion.
func (t *Tracker) Remove(entity interface{}) error {
	resolver, err := t.ResolverFor(entity)
	if err != nil {
		return err
	}
	if e := t.Lookup(entity, resolver); e != nil {
		e.State = Deleted
		return nil
	}
	_, err = t.Track(entity, Deleted)
	return err
}

// AcceptChanges marks every entry unchanged after a successful save and
// stops tracking deleted entities.
func (t *Tracker) AcceptChanges() {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.State == Deleted {
			continue
		}
		e.State = Unchanged
		e.Navigations = nil
		kept = append(kept, e)
	}
	t.entries = kept
}

// TrackGraph tracks entity and the entities held by its navigations as
// unchanged. Entities already tracked are left alone.
func (t *Tracker) TrackGraph(d *metadata.EntityDescriptor, entity interface{}) error {
	if _, err := t.Track(entity, Unchanged); err != nil {
		return err
	}
	v := reflect.ValueOf(entity)
	for _, nav := range d.Navigations {
		value := reflectx.FieldByIndex(v, nav.Index)
		for _, related := range related(value) {
			resolver, err := t.ResolverFor(related)
			if err != nil {
				continue
			}
			if t.Lookup(related, resolver) != nil {
				continue
			}
			if _, err := t.Track(related, Unchanged); err != nil {
				return err
			}
		}
	}
	return nil
}

func related(v reflect.Value) []interface{} {
	if reflectx.IsNil(v) {
		return nil
	}
	v = reflectx.Indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		if v.CanAddr() {
			return []interface{}{v.Addr().Interface()}
		}
		return nil
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			items = append(items, related(v.Index(i))...)
		}
		return items
	default:
		return nil
	}
}
