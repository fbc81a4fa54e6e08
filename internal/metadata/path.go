package metadata

import (
	"strings"

	"github.com/nlstn/go-admin/internal/errs"
)

// PropertyPath is a resolved dot-separated path: zero or more single-valued
// navigations followed by a scalar property.
type PropertyPath struct {
	Raw         string
	Navigations []*NavigationDescriptor
	Property    *PropertyDescriptor
	// Owner is the entity that declares Property.
	Owner *EntityDescriptor
}

// NavigationNames returns the names of the navigations crossed by the path.
func (p *PropertyPath) NavigationNames() []string {
	names := make([]string, len(p.Navigations))
	for i, nav := range p.Navigations {
		names[i] = nav.Name
	}
	return names
}

// ResolvePath resolves path against the descriptor. Collection navigations,
// unknown members and paths deeper than the graph are rejected.
func (d *EntityDescriptor) ResolvePath(path string) (*PropertyPath, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.InvalidArgumentf("empty property path")
	}
	segments := strings.Split(path, ".")
	result := &PropertyPath{Raw: path}
	current := d

	for i, segment := range segments {
		if i == len(segments)-1 {
			prop := current.FindProperty(segment)
			if prop == nil {
				return nil, errs.InvalidArgumentf("property '%s' not found on %s (path %q)", segment, current.Name, path)
			}
			result.Property = prop
			result.Owner = current
			return result, nil
		}

		nav := current.FindNavigation(segment)
		if nav == nil {
			return nil, errs.InvalidArgumentf("navigation '%s' not found on %s (path %q)", segment, current.Name, path)
		}
		if nav.IsCollection {
			return nil, errs.InvalidArgumentf("path %q crosses collection navigation '%s'", path, segment)
		}
		result.Navigations = append(result.Navigations, nav)
		current = nav.Target()
	}
	return result, nil
}

// PropertySearch is a searchable property addressed by its path from the root.
type PropertySearch struct {
	PropertyPath string
	SearchType   SearchType
}

// PropertySearches flattens the searchable properties of the entity and of
// the single-valued navigations marked searchable, within the depth bound.
func (d *EntityDescriptor) PropertySearches() []PropertySearch {
	var result []PropertySearch
	collectSearches(d, "", &result)
	return result
}

func collectSearches(d *EntityDescriptor, prefix string, result *[]PropertySearch) {
	for _, p := range d.Properties {
		if p.SearchType == SearchNone || !p.Queryable() {
			continue
		}
		*result = append(*result, PropertySearch{PropertyPath: prefix + p.Name, SearchType: p.SearchType})
	}
	for i := range d.Navigations {
		nav := &d.Navigations[i]
		if !nav.Searchable || nav.IsCollection {
			continue
		}
		collectSearches(nav.Target(), prefix+nav.Name+".", result)
	}
}
