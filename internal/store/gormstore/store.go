// Package gormstore runs admin queries and saves through GORM.
package gormstore

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/nlstn/go-admin/internal/equality"
	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/query"
	"github.com/nlstn/go-admin/internal/reflectx"
	"github.com/nlstn/go-admin/internal/store/tracking"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store creates sessions over one database handle.
type Store struct {
	db        *gorm.DB
	registry  *metadata.Registry
	resolvers *equality.Factory
	logger    *slog.Logger
}

// New creates a store over db for the types known to registry. The registry
// should use the naming strategy of db.
func New(db *gorm.DB, registry *metadata.Registry) *Store {
	return &Store{
		db:        db,
		registry:  registry,
		resolvers: equality.NewFactory(registry),
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

// DB returns the underlying database handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Session starts a unit of work.
func (s *Store) Session() *Session {
	return &Session{Tracker: tracking.New(s.registry, s.resolvers), store: s}
}

// Session tracks entities loaded or attached during one unit of work and
// writes their changes in a single transaction. It is not safe for
// concurrent use.
type Session struct {
	*tracking.Tracker
	store *Store
}

// Query translates q into SQL and returns the projected page and the total
// number of matching rows.
func (s *Session) Query(ctx context.Context, q *query.Query) ([]interface{}, int64, error) {
	qb, err := newQueryBuilder(s.store.conn(ctx), q.Entity)
	if err != nil {
		return nil, 0, err
	}
	qb.WithLogger(s.store.logger)
	if err := qb.translate(q); err != nil {
		return nil, 0, err
	}

	total, err := qb.CountContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []interface{}{}, 0, nil
	}
	rows, err := qb.FindContext(ctx)
	if err != nil {
		return nil, 0, err
	}

	items := make([]interface{}, len(rows))
	for i, row := range rows {
		if q.Projection != nil {
			items[i] = q.Projection.Apply(row)
		} else {
			items[i] = row
		}
	}
	return items, total, nil
}

// Find loads the row of type t with the given key, preloading its
// navigations, and tracks it together with the loaded related entities.
func (s *Session) Find(ctx context.Context, t reflect.Type, key interface{}) (interface{}, error) {
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

	d, err := s.Registry().DescribeRelated(resolver.Type())
	if err != nil {
		return nil, err
	}
	tx := s.store.conn(ctx)
	for _, nav := range d.Navigations {
		tx = tx.Preload(nav.Name)
	}
	dest := reflect.New(resolver.Type())
	if err := tx.Where(probe).First(dest.Interface()).Error; err != nil {
		if errs.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("%s with key %v not found", resolver.Type().Name(), key)
		}
		return nil, errs.Wrapf(err, "failed to load %s", resolver.Type().Name())
	}

	entity := dest.Interface()
	if err := s.TrackGraph(d, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// SaveChanges writes every tracked change in one transaction and returns
// the number of entities written. An update or delete that affects no row
// is a concurrency conflict and rolls the transaction back. Inside a
// transaction carried by ctx a savepoint is used.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	count := 0
	err := s.store.conn(ctx).Transaction(func(tx *gorm.DB) error {
		count = 0
		for _, e := range s.Entries() {
			written, err := s.save(tx, e)
			if err != nil {
				return err
			}
			if written {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.AcceptChanges()
	s.store.logger.Debug("Saved changes", "count", count)
	return count, nil
}

func (s *Session) save(tx *gorm.DB, e *tracking.Entry) (bool, error) {
	name := e.Resolver.Type().Name()
	switch e.State {
	case tracking.Added:
		if err := tx.Create(e.Entity).Error; err != nil {
			return false, errs.Wrapf(err, "failed to create %s", name)
		}
		return true, nil

	case tracking.Modified:
		d, err := s.Registry().DescribeRelated(e.Resolver.Type())
		if err != nil {
			return false, err
		}
		columns := updatableFields(d)
		if len(columns) > 0 {
			result := tx.Model(e.Entity).Select(columns).Omit(clause.Associations).Updates(e.Entity)
			if result.Error != nil {
				return false, errs.Wrapf(result.Error, "failed to update %s", name)
			}
			if result.RowsAffected == 0 {
				return false, errs.Conflictf("%s with key %v was modified or deleted", name, keyValues(e))
			}
		}
		for _, navigation := range e.Navigations {
			if err := replaceAssociation(tx, d, e.Entity, navigation); err != nil {
				return false, errs.Wrapf(err, "failed to update %s of %s", navigation, name)
			}
		}
		return true, nil

	case tracking.Deleted:
		d, err := s.Registry().DescribeRelated(e.Resolver.Type())
		if err != nil {
			return false, err
		}
		for _, nav := range d.Navigations {
			if nav.Relation != metadata.Many2Many {
				continue
			}
			if err := tx.Model(e.Entity).Association(nav.Name).Clear(); err != nil {
				return false, errs.Wrapf(err, "failed to clear %s of %s", nav.Name, name)
			}
		}
		result := tx.Delete(e.Entity)
		if result.Error != nil {
			return false, errs.Wrapf(result.Error, "failed to delete %s", name)
		}
		if result.RowsAffected == 0 {
			return false, errs.Conflictf("%s with key %v was already deleted", name, keyValues(e))
		}
		return true, nil

	default:
		return false, nil
	}
}

// updatableFields lists the stored, writable non-key fields of d.
func updatableFields(d *metadata.EntityDescriptor) []string {
	var fields []string
	for _, p := range d.Properties {
		if p.IsPrimaryKey || p.IsReadOnly || !p.Queryable() {
			continue
		}
		fields = append(fields, p.Name)
	}
	return fields
}

// replaceAssociation writes the current value of a navigation through the
// GORM association API.
func replaceAssociation(tx *gorm.DB, d *metadata.EntityDescriptor, entity interface{}, navigation string) error {
	nav := d.FindNavigation(navigation)
	if nav == nil {
		return errs.InvalidArgumentf("navigation '%s' not found on %s", navigation, d.Name)
	}
	value := reflectx.FieldByIndex(reflect.ValueOf(entity), nav.Index)
	association := tx.Model(entity).Association(navigation)
	if association.Error != nil {
		return association.Error
	}
	if reflectx.IsNil(value) || (nav.IsCollection && reflectx.Indirect(value).Len() == 0) {
		return association.Clear()
	}
	return association.Replace(value.Interface())
}

func keyValues(e *tracking.Entry) []interface{} {
	key, _ := e.Resolver.KeyOf(e.Entity)
	return key.Values
}
