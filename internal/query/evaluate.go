package query

import (
	"reflect"
	"sort"
	"strings"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/reflectx"
)

// Evaluator runs a Query against entities held in memory.
type Evaluator struct {
	entity *metadata.EntityDescriptor
	paths  map[string]*metadata.PropertyPath
}

// NewEvaluator creates an evaluator for entities described by d.
func NewEvaluator(d *metadata.EntityDescriptor) *Evaluator {
	return &Evaluator{entity: d, paths: make(map[string]*metadata.PropertyPath)}
}

func (e *Evaluator) resolve(path string) (*metadata.PropertyPath, error) {
	if p, ok := e.paths[path]; ok {
		return p, nil
	}
	p, err := e.entity.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	e.paths[path] = p
	return p, nil
}

// Match reports whether entity satisfies expr. A nil expr matches everything.
func (e *Evaluator) Match(expr Expr, entity interface{}) (bool, error) {
	switch node := expr.(type) {
	case nil:
		return true, nil
	case And:
		for _, child := range node {
			ok, err := e.Match(child, entity)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, child := range node {
			ok, err := e.Match(child, entity)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Compare:
		path, err := e.resolve(node.Path)
		if err != nil {
			return false, err
		}
		return compare(node, ValueAt(entity, path)), nil
	case Raw:
		return false, errs.Unsupportedf("raw condition %q cannot be evaluated in memory", node.SQL)
	default:
		return false, errs.Unsupportedf("unknown expression %T", expr)
	}
}

func compare(c Compare, value interface{}) bool {
	if c.Op == OpIsNull {
		return Comparable(value) == nil
	}
	if Comparable(value) == nil {
		return false
	}
	switch c.Op {
	case OpContainsFold:
		return strings.Contains(strings.ToUpper(Stringify(value)), strings.ToUpper(Stringify(c.Value)))
	case OpHasPrefix:
		return strings.HasPrefix(Stringify(value), Stringify(c.Value))
	case OpEqualFold:
		return strings.ToUpper(Stringify(value)) == strings.ToUpper(Stringify(c.Value))
	case OpEqual:
		return CompareValues(value, c.Value) == 0
	default:
		return false
	}
}

// ValueAt reads the value at path, following single-valued navigations. It
// returns nil when a navigation on the way is absent.
func ValueAt(entity interface{}, path *metadata.PropertyPath) interface{} {
	v := reflect.ValueOf(entity)
	for _, nav := range path.Navigations {
		next, ok := reflectx.Load(v, nav.Name, nav.Index)
		if !ok || reflectx.IsNil(next) {
			return nil
		}
		v = next
	}
	if path.Property.IsCalculated {
		return callCalculated(v, path.Property.Name)
	}
	field, ok := reflectx.Load(v, path.Property.Name, path.Property.Index)
	if !ok || !field.CanInterface() {
		return nil
	}
	return field.Interface()
}

func callCalculated(v reflect.Value, name string) interface{} {
	v = reflectx.Indirect(v)
	if !v.IsValid() {
		return nil
	}
	method := v.MethodByName(name)
	if !method.IsValid() {
		return nil
	}
	out := method.Call(nil)
	return out[0].Interface()
}

// Sort orders entities by keys. The sort is stable, so equal rows keep
// their input order.
func (e *Evaluator) Sort(entities []interface{}, keys []OrderKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(entities, func(i, j int) bool {
		for _, key := range keys {
			c := CompareValues(ValueAt(entities[i], key.Path), ValueAt(entities[j], key.Path))
			if c == 0 {
				continue
			}
			if key.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Run filters, orders and pages entities and projects the page. It returns
// the projected page and the number of matching entities before paging.
func (e *Evaluator) Run(q *Query, entities []interface{}) ([]interface{}, int64, error) {
	if len(q.Scopes) > 0 {
		return nil, 0, errs.Unsupportedf("query scopes cannot be evaluated in memory")
	}

	matched := make([]interface{}, 0, len(entities))
	for _, entity := range entities {
		ok, err := e.Match(q.Filter, entity)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, entity)
		}
	}
	e.Sort(matched, q.Order)

	total := int64(len(matched))
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}

	page := make([]interface{}, 0, end-start)
	for _, entity := range matched[start:end] {
		if q.Projection != nil {
			page = append(page, q.Projection.Apply(entity))
		} else {
			page = append(page, entity)
		}
	}
	return page, total, nil
}
