package admin

import (
	"context"

	"github.com/nlstn/go-admin/internal/observability"
	"github.com/nlstn/go-admin/internal/query"
)

// Page is one page of search results.
type Page struct {
	// Items are projected copies of the matching entities. They are not
	// tracked.
	Items      []interface{}
	TotalCount int64
	Page       int
	PageSize   int
}

// Search returns one page of entities of the type of entity.
//
// properties selects the members to load by dot-separated path; nil loads
// every scalar property. Each token of opts.SearchString must match at least
// one searchable property. custom adds a predicate that is ORed with the
// token predicate, and transform may adjust the planned query.
func (s *Service) Search(ctx context.Context, entity interface{}, properties []string, opts SearchOptions, custom CustomSearch, transform QueryTransform) (page *Page, err error) {
	d, err := s.describe(entity)
	if err != nil {
		return nil, err
	}

	q, err := query.Plan(d, properties, opts, custom, transform, s.limits())
	if err != nil {
		return nil, err
	}
	pageNumber := 1
	if q.Limit > 0 {
		pageNumber = q.Offset/q.Limit + 1
	}

	op := s.instrumentSearch(ctx, d.SetName, opts.SearchString, pageNumber, q.Limit)
	defer func() { op.end(err) }()

	items, total, err := s.newSession().Query(op.ctx, q)
	if err != nil {
		return nil, err
	}
	op.setAttributes(observability.TotalCountAttr(total))
	op.metrics.RecordSearchTotal(op.ctx, d.SetName, total)

	s.logger.Debug("Search completed",
		"entity", d.Name,
		"search", opts.SearchString,
		"page", pageNumber,
		"items", len(items),
		"total", total)

	return &Page{
		Items:      items,
		TotalCount: total,
		Page:       pageNumber,
		PageSize:   q.Limit,
	}, nil
}
