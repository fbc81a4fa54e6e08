package query

import (
	"reflect"
	"strings"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
	"github.com/nlstn/go-admin/internal/reflectx"
)

// Projection is a declarative description of the shape a query returns. SQL
// stores translate it into column selections and preloads; Apply evaluates it
// in process.
type Projection struct {
	Type        reflect.Type
	Entity      *metadata.EntityDescriptor
	Properties  []metadata.PropertyDescriptor
	Navigations []NavigationProjection
}

// NavigationProjection projects one navigation into Target.
type NavigationProjection struct {
	Navigation metadata.NavigationDescriptor
	Target     *Projection
}

// BuildProjection builds the projection for the requested members of d.
// Entries are property or navigation names, or dot paths through navigations
// ("Shop.Name"). A bare navigation name selects the default shape of its
// target. An empty selection projects every display property and every
// navigation one level deep.
//
// Foreign keys, calculated properties and members excluded from queries are
// never copied.
func BuildProjection(d *metadata.EntityDescriptor, properties []string) (*Projection, error) {
	if len(properties) == 0 {
		return defaultProjection(d, true), nil
	}

	p := &Projection{Type: d.Type, Entity: d}
	nested := make(map[string][]string)
	var navOrder []string
	seenProperty := make(map[string]bool)

	for _, raw := range properties {
		name := strings.TrimSpace(raw)
		head, rest, hasRest := strings.Cut(name, ".")

		if nav := d.FindNavigation(head); nav != nil {
			if _, seen := nested[head]; !seen {
				navOrder = append(navOrder, head)
				nested[head] = nil
			}
			if hasRest {
				nested[head] = append(nested[head], rest)
			}
			continue
		}
		if hasRest {
			return nil, errs.InvalidArgumentf("navigation '%s' not found on %s", head, d.Name)
		}

		prop := d.FindProperty(name)
		if prop == nil {
			return nil, errs.InvalidArgumentf("property '%s' not found on %s", name, d.Name)
		}
		if !copyable(prop) || seenProperty[name] {
			continue
		}
		seenProperty[name] = true
		p.Properties = append(p.Properties, *prop)
	}

	for _, name := range navOrder {
		nav := d.FindNavigation(name)
		target := nav.Target()
		var (
			targetProjection *Projection
			err              error
		)
		if len(nested[name]) == 0 {
			targetProjection = defaultProjection(target, false)
		} else {
			targetProjection, err = BuildProjection(target, nested[name])
			if err != nil {
				return nil, err
			}
		}
		p.Navigations = append(p.Navigations, NavigationProjection{Navigation: *nav, Target: targetProjection})
	}
	return p, nil
}

func copyable(p *metadata.PropertyDescriptor) bool {
	return !p.IsForeignKey && !p.IsCalculated && !p.IsExcludedFromQuery
}

func defaultProjection(d *metadata.EntityDescriptor, withNavigations bool) *Projection {
	p := &Projection{Type: d.Type, Entity: d}
	for _, prop := range d.DisplayProperties() {
		if copyable(&prop) {
			p.Properties = append(p.Properties, prop)
		}
	}
	if withNavigations {
		for _, nav := range d.DisplayNavigations() {
			p.Navigations = append(p.Navigations, NavigationProjection{
				Navigation: nav,
				Target:     defaultProjection(nav.Target(), false),
			})
		}
	}
	return p
}

// NavigationNames returns the names of the projected navigations.
func (p *Projection) NavigationNames() []string {
	names := make([]string, len(p.Navigations))
	for i, n := range p.Navigations {
		names[i] = n.Navigation.Name
	}
	return names
}

// Apply copies the projected members of src into a new instance of the
// projected type and returns a pointer to it. Only projected members of src
// are read. A nil src yields nil.
func (p *Projection) Apply(src interface{}) interface{} {
	out := p.apply(reflect.ValueOf(src))
	if !out.IsValid() {
		return nil
	}
	return out.Interface()
}

func (p *Projection) apply(src reflect.Value) reflect.Value {
	if reflectx.IsNil(src) {
		return reflect.Value{}
	}
	src = addressable(src)
	// proxies of another struct type are read by member name
	foreign := reflectx.Indirect(src).Type() != p.Type
	indexOf := func(index []int) []int {
		if foreign {
			return nil
		}
		return index
	}

	out := reflect.New(p.Type)
	for _, prop := range p.Properties {
		value, ok := reflectx.Load(src, prop.Name, indexOf(prop.Index))
		if !ok {
			continue
		}
		reflectx.Assign(reflectx.SettableFieldByIndex(out, prop.Index), value)
	}

	for _, np := range p.Navigations {
		nav := np.Navigation
		value, ok := reflectx.Load(src, nav.Name, indexOf(nav.Index))
		if !ok || reflectx.IsNil(value) {
			continue
		}
		dst := reflectx.SettableFieldByIndex(out, nav.Index)
		if !dst.IsValid() {
			continue
		}
		if nav.IsCollection {
			reflectx.Assign(dst, np.Target.applyCollection(value, dst.Type()))
			continue
		}
		reflectx.Assign(dst, np.Target.apply(value))
	}
	return out
}

// applyCollection projects every element of value into a new slice of
// sliceType, keeping element order.
func (p *Projection) applyCollection(value reflect.Value, sliceType reflect.Type) reflect.Value {
	value = reflectx.Indirect(value)
	sliceType = reflectx.Deref(sliceType)
	result := reflect.MakeSlice(sliceType, 0, value.Len())
	for i := 0; i < value.Len(); i++ {
		elem := reflect.New(sliceType.Elem()).Elem()
		projected := p.apply(value.Index(i))
		if projected.IsValid() {
			reflectx.Assign(elem, projected)
		}
		result = reflect.Append(result, elem)
	}
	return result
}

// addressable returns a pointer for struct values so that pointer receiver
// loaders are found.
func addressable(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if v.CanAddr() {
			return v.Addr()
		}
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		return ptr
	}
	return v
}
