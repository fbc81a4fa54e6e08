package query

import (
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/scope"
)

const (
	// DefaultPageSize is used when SearchOptions.PageSize is not positive.
	DefaultPageSize = 25
	// DefaultMaxPageSize caps SearchOptions.PageSize.
	DefaultMaxPageSize = 500
)

// SearchOptions describes one page of a search.
type SearchOptions struct {
	SearchString string
	// Page is 1-based.
	Page     int
	PageSize int
	OrderBy  []OrderBy
}

// OrderBy is one sort key given by a dot-separated property path.
type OrderBy struct {
	PropertyPath string
	IsDescending bool
}

// CustomSearch builds an extra predicate from the raw search string. The
// result is combined with the token predicate using OR.
type CustomSearch func(search string) Expr

// QueryTransform may adjust a planned query before it is executed.
type QueryTransform func(q *Query) error

// Query is the store independent description of one search.
type Query struct {
	Entity     *metadata.EntityDescriptor
	Projection *Projection
	// Filter is nil when nothing is filtered.
	Filter Expr
	// Scopes are raw SQL conditions ANDed with Filter by SQL stores.
	Scopes []scope.QueryScope
	Order  []OrderKey
	Offset int
	// Limit is 0 when every matching row is requested.
	Limit int
}

// Where ANDs expr onto the query filter.
func (q *Query) Where(expr Expr) {
	if expr == nil {
		return
	}
	if q.Filter == nil {
		q.Filter = expr
		return
	}
	q.Filter = And{q.Filter, expr}
}

// Scope adds a raw SQL condition. Only SQL stores can run scoped queries.
func (q *Query) Scope(condition string, args ...interface{}) {
	q.Scopes = append(q.Scopes, scope.Where(condition, args...))
}

// Limits bounds page sizes.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (l Limits) pageSize(requested int) int {
	def := l.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	maxSize := l.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := requested
	if size <= 0 {
		size = def
	}
	if size > maxSize {
		size = maxSize
	}
	return size
}

// Plan composes the projection, search predicate, sort order and page window
// for one search and applies transform last.
func Plan(d *metadata.EntityDescriptor, properties []string, opts SearchOptions, custom CustomSearch, transform QueryTransform, limits Limits) (*Query, error) {
	projection, err := BuildProjection(d, properties)
	if err != nil {
		return nil, err
	}
	filter, err := BuildPredicate(d.PropertySearches(), opts.SearchString, custom)
	if err != nil {
		return nil, err
	}
	order, err := BuildOrder(d, opts.OrderBy)
	if err != nil {
		return nil, err
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := limits.pageSize(opts.PageSize)

	q := &Query{
		Entity:     d,
		Projection: projection,
		Filter:     filter,
		Order:      order,
		Offset:     (page - 1) * size,
		Limit:      size,
	}
	if transform != nil {
		if err := transform(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}
