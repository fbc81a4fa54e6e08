package metadata

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/nlstn/go-admin/internal/errs"
	"gorm.io/gorm/schema"
)

// DefaultMaxNavigationDepth bounds navigation paths when no depth is configured.
const DefaultMaxNavigationDepth = 2

// Options holds per-entity registration settings.
type Options struct {
	MaxNavigationDepth int
	Hidden             bool
	DisplayName        string
}

// Option configures a registered entity.
type Option func(*Options)

// WithMaxNavigationDepth overrides the navigation depth bound for one entity.
func WithMaxNavigationDepth(depth int) Option {
	return func(o *Options) {
		o.MaxNavigationDepth = depth
	}
}

// WithHidden hides the entity from listings.
func WithHidden() Option {
	return func(o *Options) {
		o.Hidden = true
	}
}

// WithDisplayName sets the user facing entity name.
func WithDisplayName(name string) Option {
	return func(o *Options) {
		o.DisplayName = name
	}
}

type registration struct {
	info    *entityInfo
	options Options
}

// Registry maps registered entity types to their analysis.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	namer      schema.Namer
	schemas    *sync.Map
	maxDepth   int
	registered map[reflect.Type]*registration
	bySetName  map[string]reflect.Type
	analyzed   map[reflect.Type]*entityInfo
}

// NewRegistry creates a registry. A nil namer uses GORM's default naming
// strategy and a depth <= 0 uses DefaultMaxNavigationDepth.
func NewRegistry(namer schema.Namer, maxDepth int) *Registry {
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxNavigationDepth
	}
	return &Registry{
		namer:      namer,
		schemas:    &sync.Map{},
		maxDepth:   maxDepth,
		registered: make(map[reflect.Type]*registration),
		bySetName:  make(map[string]reflect.Type),
		analyzed:   make(map[reflect.Type]*entityInfo),
	}
}

// SetMaxNavigationDepth changes the default depth bound.
func (r *Registry) SetMaxNavigationDepth(depth int) {
	if depth <= 0 {
		depth = DefaultMaxNavigationDepth
	}
	r.mu.Lock()
	r.maxDepth = depth
	r.mu.Unlock()
}

// Register analyzes entity and records it. Registering a type twice fails.
func (r *Registry) Register(entity interface{}, opts ...Option) (*EntityDescriptor, error) {
	entityType, err := entityTypeOf(entity)
	if err != nil {
		return nil, err
	}

	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	if _, exists := r.registered[entityType]; exists {
		r.mu.Unlock()
		return nil, errs.InvalidArgumentf("entity %s is already registered", entityType.Name())
	}
	info, err := r.analyzeLocked(entityType)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to analyze entity: %w", err)
	}
	if other, exists := r.bySetName[info.setName]; exists {
		r.mu.Unlock()
		return nil, errs.InvalidArgumentf("entity set '%s' is already registered by %s", info.setName, other.Name())
	}
	r.registered[entityType] = &registration{info: info, options: options}
	r.bySetName[info.setName] = entityType
	r.mu.Unlock()

	return r.Describe(entityType)
}

// Describe builds the depth-bounded descriptor graph rooted at t.
func (r *Registry) Describe(t reflect.Type) (*EntityDescriptor, error) {
	return r.describe(t, false)
}

// DescribeRelated is Describe that also accepts types reached only through
// the navigations of a registered entity. Those use the default options.
func (r *Registry) DescribeRelated(t reflect.Type) (*EntityDescriptor, error) {
	return r.describe(t, true)
}

func (r *Registry) describe(t reflect.Type, related bool) (*EntityDescriptor, error) {
	if t == nil {
		return nil, errs.InvalidArgumentf("entity type is nil")
	}
	t = dereferenceType(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registered[t]
	if !ok {
		if t.Kind() != reflect.Struct {
			return nil, errs.InvalidArgumentf("%s is not an entity type", t)
		}
		info, analyzed := r.analyzed[t]
		if !related || !analyzed {
			return nil, errs.NotFoundf("entity %s is not registered", t.Name())
		}
		reg = &registration{info: info}
	}

	maxDepth := r.maxDepth
	if reg.options.MaxNavigationDepth > 0 {
		maxDepth = reg.options.MaxNavigationDepth
	}

	builder := newGraphBuilder(maxDepth, r.resolveTargetLocked)
	root, err := builder.build(reg.info, 0)
	if err != nil {
		return nil, err
	}

	d := builder.graph.Entity(root)
	d.Hidden = reg.options.Hidden
	d.DisplayName = reg.options.DisplayName
	if d.DisplayName == "" {
		d.DisplayName = d.Name
	}
	return d, nil
}

// DescribeValue describes the type of entity.
func (r *Registry) DescribeValue(entity interface{}) (*EntityDescriptor, error) {
	entityType, err := entityTypeOf(entity)
	if err != nil {
		return nil, err
	}
	return r.Describe(entityType)
}

// Lookup resolves an entity set name to its registered type.
func (r *Registry) Lookup(setName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySetName[setName]
	return t, ok
}

// IsRegistered reports whether t was registered.
func (r *Registry) IsRegistered(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.registered[dereferenceType(t)]
	return ok
}

// SetNames returns the registered entity set names in sorted order.
func (r *Registry) SetNames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.bySetName))
	for name := range r.bySetName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) analyzeLocked(t reflect.Type) (*entityInfo, error) {
	if info, ok := r.analyzed[t]; ok {
		return info, nil
	}
	sch, err := schema.Parse(reflect.New(t).Interface(), r.schemas, r.namer)
	if err != nil {
		return nil, errs.InvalidArgumentf("failed to parse %s: %v", t.Name(), err)
	}
	return r.analyzeSchemaLocked(sch)
}

func (r *Registry) analyzeSchemaLocked(sch *schema.Schema) (*entityInfo, error) {
	if info, ok := r.analyzed[sch.ModelType]; ok {
		return info, nil
	}
	info, err := analyzeSchema(sch)
	if err != nil {
		return nil, err
	}
	r.analyzed[sch.ModelType] = info

	// a has-many or has-one owner names the key column of its child
	for _, other := range r.analyzed {
		markInboundForeignKeys(sch, other)
		if other != info {
			markInboundForeignKeys(other.schema, info)
		}
	}
	return info, nil
}

func (r *Registry) resolveTargetLocked(nav *navigationInfo) (*entityInfo, error) {
	if nav.targetSchema != nil {
		return r.analyzeSchemaLocked(nav.targetSchema)
	}
	return r.analyzeLocked(nav.elemType)
}

func entityTypeOf(entity interface{}) (reflect.Type, error) {
	var entityType reflect.Type
	switch v := entity.(type) {
	case nil:
		return nil, errs.InvalidArgumentf("entity is nil")
	case reflect.Type:
		entityType = v
	default:
		entityType = reflect.TypeOf(entity)
	}
	entityType = dereferenceType(entityType)
	if entityType.Kind() != reflect.Struct {
		return nil, errs.InvalidArgumentf("entity must be a struct, got %s", entityType.Kind())
	}
	return entityType, nil
}
