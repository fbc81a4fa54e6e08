// Package memory is an in-process store. It evaluates queries with the query
// evaluator and keeps committed rows as detached copies, which makes it
// suitable for tests and prototypes.
package memory

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/nlstn/go-admin/internal/equality"
	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/query"
	"github.com/nlstn/go-admin/internal/reflectx"
	"github.com/nlstn/go-admin/internal/store/tracking"
	"github.com/nlstn/go-admin/internal/unwrap"
)

// Store holds committed rows per entity type.
type Store struct {
	mu        sync.RWMutex
	registry  *metadata.Registry
	resolvers *equality.Factory
	tables    map[reflect.Type][]interface{}
	sequences map[reflect.Type]uint64
	logger    *slog.Logger
}

// NewStore creates an empty store for the types known to registry.
func NewStore(registry *metadata.Registry) *Store {
	return &Store{
		registry:  registry,
		resolvers: equality.NewFactory(registry),
		tables:    make(map[reflect.Type][]interface{}),
		sequences: make(map[reflect.Type]uint64),
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger used by the store and its sessions.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// Seed stores copies of entities as committed rows without tracking them.
// Zero auto-increment keys are assigned.
func (s *Store) Seed(entities ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range entities {
		d, err := s.registry.DescribeValue(entity)
		if err != nil {
			return err
		}
		ptr := reflectx.Pointer(entity)
		s.assignKeyLocked(d, ptr)
		s.tables[d.Type] = append(s.tables[d.Type], detach(ptr.Interface()))
	}
	return nil
}

// Rows returns detached copies of the committed rows of t.
func (s *Store) Rows(t reflect.Type) []interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.tables[reflectx.Deref(t)]
	out := make([]interface{}, len(rows))
	for i, row := range rows {
		out[i] = detach(row)
	}
	return out
}

// Session starts a unit of work.
func (s *Store) Session() *Session {
	return &Session{Tracker: tracking.New(s.registry, s.resolvers), store: s}
}

func (s *Store) assignKeyLocked(d *metadata.EntityDescriptor, ptr reflect.Value) {
	keys := d.PrimaryKeys()
	if len(keys) != 1 || !keys[0].AutoIncrement {
		return
	}
	field := reflectx.SettableFieldByIndex(ptr, keys[0].Index)
	if !field.IsValid() || !field.IsZero() {
		if field.IsValid() {
			s.bumpSequenceLocked(d.Type, field)
		}
		return
	}
	s.sequences[d.Type]++
	reflectx.Assign(field, reflect.ValueOf(s.sequences[d.Type]))
}

func (s *Store) bumpSequenceLocked(t reflect.Type, field reflect.Value) {
	var value uint64
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Int() < 0 {
			return
		}
		value = uint64(field.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = field.Uint()
	default:
		return
	}
	if value > s.sequences[t] {
		s.sequences[t] = value
	}
}

func (s *Store) indexLocked(resolver *equality.Resolver, entity interface{}) int {
	for i, row := range s.tables[resolver.Type()] {
		if resolver.Equal(row, entity) {
			return i
		}
	}
	return -1
}

func detach(entity interface{}) interface{} {
	return unwrap.Unwrap(entity, nil)
}

// Session tracks entities for one unit of work. It is not safe for
// concurrent use.
type Session struct {
	*tracking.Tracker
	store *Store
}

// Query runs q against the committed rows.
func (s *Session) Query(ctx context.Context, q *query.Query) ([]interface{}, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	rows := s.store.Rows(q.Entity.Type)
	items, total, err := query.NewEvaluator(q.Entity).Run(q, rows)
	if err != nil {
		return nil, 0, errs.Wrapf(err, "failed to query %s", q.Entity.SetName)
	}
	s.store.logger.Debug("Executed query", "entity", q.Entity.Name, "offset", q.Offset, "limit", q.Limit, "total", total)
	return items, total, nil
}

// Find loads the row of type t with the given key and tracks it together with
// the entities its navigations hold.
func (s *Session) Find(ctx context.Context, t reflect.Type, key interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolver, err := s.Resolvers().For(t)
	if err != nil {
		return nil, err
	}
	probe, err := resolver.Probe(key)
	if err != nil {
		return nil, err
	}
	if e := s.Lookup(probe, resolver); e != nil && e.State != tracking.Deleted {
		return e.Entity, nil
	}

	s.store.mu.RLock()
	idx := s.store.indexLocked(resolver, probe)
	var row interface{}
	if idx >= 0 {
		row = detach(s.store.tables[resolver.Type()][idx])
	}
	s.store.mu.RUnlock()
	if row == nil {
		return nil, errs.NotFoundf("%s with key %v not found", resolver.Type().Name(), key)
	}

	d, err := s.Registry().DescribeRelated(resolver.Type())
	if err != nil {
		return nil, err
	}
	if err := s.TrackGraph(d, row); err != nil {
		return nil, err
	}
	return row, nil
}

// SaveChanges commits tracked changes and returns the number of rows written.
// A modified or deleted row that no longer exists is a concurrency conflict;
// in that case nothing is committed.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	tables := make(map[reflect.Type][]interface{}, len(s.store.tables))
	for t, rows := range s.store.tables {
		tables[t] = append([]interface{}(nil), rows...)
	}
	indexOf := func(e *tracking.Entry) int {
		for i, row := range tables[e.Resolver.Type()] {
			if e.Resolver.Equal(row, e.Entity) {
				return i
			}
		}
		return -1
	}

	count := 0
	for _, e := range s.Entries() {
		t := e.Resolver.Type()
		switch e.State {
		case tracking.Added:
			d, err := s.Registry().DescribeRelated(t)
			if err != nil {
				return 0, err
			}
			s.store.assignKeyLocked(d, reflect.ValueOf(e.Entity))
			if indexOf(e) >= 0 {
				return 0, errs.Conflictf("%s with key %v already exists", t.Name(), keyValues(e))
			}
			tables[t] = append(tables[t], detach(e.Entity))
		case tracking.Modified:
			idx := indexOf(e)
			if idx < 0 {
				return 0, errs.Conflictf("%s with key %v was deleted", t.Name(), keyValues(e))
			}
			tables[t][idx] = detach(e.Entity)
		case tracking.Deleted:
			idx := indexOf(e)
			if idx < 0 {
				return 0, errs.Conflictf("%s with key %v was deleted", t.Name(), keyValues(e))
			}
			tables[t] = append(tables[t][:idx], tables[t][idx+1:]...)
		default:
			continue
		}
		count++
	}

	s.store.tables = tables
	s.AcceptChanges()
	s.store.logger.Debug("Saved changes", "count", count)
	return count, nil
}

func keyValues(e *tracking.Entry) []interface{} {
	key, _ := e.Resolver.KeyOf(e.Entity)
	return key.Values
}
