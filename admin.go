// Package admin is a schema-agnostic data layer for administration tools.
//
// Entity types are registered at runtime. The service discovers their shape
// from GORM schemas and `admin` struct tags, and builds searches with
// projections, multi-token predicates, sort orders and pages for types it
// only knows by reflection. It also reconciles edited object graphs,
// including single and collection navigations, onto the tracked originals
// before saving them.
//
// # Example
//
//	db, _ := gorm.Open(sqlite.Open("admin.db"), &gorm.Config{})
//	service, err := admin.NewService(db)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := service.RegisterEntity(&Product{}); err != nil {
//	    log.Fatal(err)
//	}
//	page, err := service.Search(ctx, Product{}, nil, admin.SearchOptions{SearchString: `"red apple" None`}, nil, nil)
package admin

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/nlstn/go-admin/internal/equality"
	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/observability"
	"github.com/nlstn/go-admin/internal/query"
	"github.com/nlstn/go-admin/internal/reconcile"
	"github.com/nlstn/go-admin/internal/store/gormstore"
	"github.com/nlstn/go-admin/internal/store/memory"
	"gorm.io/gorm"
)

// ServiceConfig controls optional service behaviours.
type ServiceConfig struct {
	// MaxNavigationDepth bounds how deep navigations are described and
	// searched. Default: 2. Zero or negative values use the default.
	MaxNavigationDepth int

	// DefaultPageSize is used when a search does not request a page size.
	// Default: 25.
	DefaultPageSize int

	// MaxPageSize caps the page size of every search. Default: 500.
	MaxPageSize int
}

const (
	// DefaultMaxNavigationDepth is the default navigation depth bound.
	DefaultMaxNavigationDepth = metadata.DefaultMaxNavigationDepth

	// DefaultPageSize is the default number of items per search page.
	DefaultPageSize = query.DefaultPageSize

	// DefaultMaxPageSize is the default upper bound of a search page.
	DefaultMaxPageSize = query.DefaultMaxPageSize
)

// Session is the unit of work a service runs against. It tracks the
// entities it loads or attaches until tracking is cleared.
type Session interface {
	reconcile.Tracker
	Query(ctx context.Context, q *Query) ([]interface{}, int64, error)
	Find(ctx context.Context, t reflect.Type, key interface{}) (interface{}, error)
	Add(entity interface{}) error
	Remove(entity interface{}) error
	SaveChanges(ctx context.Context) (int, error)
}

// transactional sessions run a function inside one database transaction.
type transactional interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// attachCounter sessions report how many entities Attach started tracking.
type attachCounter interface {
	Attaches() int
}

type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// Service searches and edits registered entities.
type Service struct {
	// registry holds the analyzed entity types
	registry  *metadata.Registry
	resolvers *equality.Factory
	// db is nil for in-memory services
	db *gorm.DB
	// store creates sessions; it also receives the logger
	store      loggerSetter
	newSession func() Session
	// session is shared by the write operations, which hold writeMu
	session Session
	writeMu sync.Mutex

	defaultPageSize int
	maxPageSize     int

	logger          *slog.Logger
	keyGenerators   map[string]KeyGenerator
	keyGeneratorsMu sync.RWMutex
	observability   *observability.Config
}

// NewService creates a service over a GORM database.
func NewService(db *gorm.DB) (*Service, error) {
	return NewServiceWithConfig(db, ServiceConfig{})
}

// NewServiceWithConfig creates a service over a GORM database with
// additional configuration.
func NewServiceWithConfig(db *gorm.DB, cfg ServiceConfig) (*Service, error) {
	if db == nil {
		return nil, errs.InvalidArgumentf("admin: database handle is required")
	}
	registry := metadata.NewRegistry(db.NamingStrategy, cfg.MaxNavigationDepth)
	store := gormstore.New(db, registry)
	s, err := newService(registry, store, func() Session { return store.Session() }, cfg)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

// MemoryStore keeps committed rows in process.
type MemoryStore = memory.Store

// NewMemoryService creates a service over an in-process store. The store is
// returned so callers can seed rows.
func NewMemoryService(cfg ServiceConfig) (*Service, *MemoryStore, error) {
	registry := metadata.NewRegistry(nil, cfg.MaxNavigationDepth)
	store := memory.NewStore(registry)
	s, err := newService(registry, store, func() Session { return store.Session() }, cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, store, nil
}

func newService(registry *metadata.Registry, store loggerSetter, newSession func() Session, cfg ServiceConfig) (*Service, error) {
	defaultPageSize := cfg.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	maxPageSize := cfg.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if defaultPageSize > maxPageSize {
		return nil, errs.InvalidArgumentf("default page size %d exceeds max page size %d", defaultPageSize, maxPageSize)
	}

	s := &Service{
		registry:        registry,
		resolvers:       equality.NewFactory(registry),
		store:           store,
		newSession:      newSession,
		session:         newSession(),
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          slog.Default(),
		keyGenerators:   make(map[string]KeyGenerator),
	}

	if err := s.RegisterKeyGenerator("uuid", func(context.Context) (interface{}, error) {
		return uuid.NewRandom()
	}); err != nil {
		return nil, errs.Wrapf(err, "failed to register default key generator")
	}
	return s, nil
}

// SetLogger sets a custom logger for the service.
// If logger is nil, slog.Default() is used.
func (s *Service) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
	s.store.SetLogger(logger)
	return nil
}

// SetDefaultPageSize changes the page size used when a search requests none.
func (s *Service) SetDefaultPageSize(size int) error {
	if size <= 0 {
		return errs.InvalidArgumentf("default page size must be positive, got %d", size)
	}
	if size > s.maxPageSize {
		return errs.InvalidArgumentf("default page size %d exceeds max page size %d", size, s.maxPageSize)
	}
	s.defaultPageSize = size
	return nil
}

// DB returns the GORM database of the service, or nil for in-memory services.
func (s *Service) DB() *gorm.DB {
	return s.db
}

// RegisterEntity registers an entity type with the service.
func (s *Service) RegisterEntity(entity interface{}, opts ...EntityOption) error {
	d, err := s.registry.Register(entity, opts...)
	if err != nil {
		return err
	}
	s.logger.Debug("Registered entity",
		"entity", d.Name,
		"entitySet", d.SetName,
		"properties", len(d.Properties),
		"navigations", len(d.Navigations))
	return nil
}

// Describe returns the depth-bounded descriptor graph of a registered entity.
// entity may be a value, a pointer or a reflect.Type.
func (s *Service) Describe(entity interface{}) (*EntityDescriptor, error) {
	return s.describe(entity)
}

// DescribeByName describes the entity registered under an entity set name.
func (s *Service) DescribeByName(entitySetName string) (*EntityDescriptor, error) {
	t, ok := s.registry.Lookup(entitySetName)
	if !ok {
		return nil, errs.NotFoundf("entity set '%s' is not registered", entitySetName)
	}
	return s.registry.Describe(t)
}

// EntitySets returns the registered entity set names in sorted order.
func (s *Service) EntitySets() []string {
	return s.registry.SetNames()
}

func (s *Service) limits() query.Limits {
	return query.Limits{DefaultPageSize: s.defaultPageSize, MaxPageSize: s.maxPageSize}
}

func (s *Service) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := s.session.(transactional); ok {
		return tx.InTransaction(ctx, fn)
	}
	return fn(ctx)
}
