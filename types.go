package admin

import (
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/query"
)

// Descriptors returned by Describe.
type (
	EntityDescriptor     = metadata.EntityDescriptor
	PropertyDescriptor   = metadata.PropertyDescriptor
	NavigationDescriptor = metadata.NavigationDescriptor
	PropertySearch       = metadata.PropertySearch
	SearchType           = metadata.SearchType
	RelationKind         = metadata.RelationKind
)

// Search types assigned with the admin:"search=..." tag.
const (
	SearchNone       = metadata.SearchNone
	SearchContains   = metadata.SearchContains
	SearchStartsWith = metadata.SearchStartsWith
	SearchExact      = metadata.SearchExact
)

// NullToken is the search token that matches null values of exact-search
// properties.
const NullToken = query.NullToken

// EntityOption configures a registered entity.
type EntityOption = metadata.Option

// WithMaxNavigationDepth overrides the navigation depth bound for one entity.
func WithMaxNavigationDepth(depth int) EntityOption {
	return metadata.WithMaxNavigationDepth(depth)
}

// WithHidden hides the entity from listings.
func WithHidden() EntityOption {
	return metadata.WithHidden()
}

// WithDisplayName sets the user facing entity name.
func WithDisplayName(name string) EntityOption {
	return metadata.WithDisplayName(name)
}

// Query building blocks. A CustomSearch or QueryTransform returns or edits
// these to extend a search.
type (
	SearchOptions  = query.SearchOptions
	OrderBy        = query.OrderBy
	Query          = query.Query
	CustomSearch   = query.CustomSearch
	QueryTransform = query.QueryTransform
	Expr           = query.Expr
	Compare        = query.Compare
	And            = query.And
	Or             = query.Or
	Raw            = query.Raw
	Op             = query.Op
)

// Comparison operators of Compare.
const (
	OpContainsFold = query.OpContainsFold
	OpHasPrefix    = query.OpHasPrefix
	OpEqualFold    = query.OpEqualFold
	OpIsNull       = query.OpIsNull
	OpEqual        = query.OpEqual
)

// Tokenize splits a search string into tokens, keeping quoted phrases.
func Tokenize(search string) []string {
	return query.Tokenize(search)
}
