package metadata

import (
	"reflect"
)

// Graph is the arena holding every node reachable from one described root.
// Nodes are memoized per (type, depth), so self-references and mutual
// references terminate once the depth bound is reached.
type Graph struct {
	nodes    []graphNode
	maxDepth int
}

type graphNode struct {
	info        *entityInfo
	depth       int
	navigations []NavigationDescriptor
}

type nodeKey struct {
	typ   reflect.Type
	depth int
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// MaxDepth returns the navigation depth bound the graph was built with.
func (g *Graph) MaxDepth() int {
	return g.maxDepth
}

// Entity returns a descriptor view of the node at index.
func (g *Graph) Entity(index int) *EntityDescriptor {
	node := &g.nodes[index]
	info := node.info
	return &EntityDescriptor{
		Type:               info.typ,
		Name:               info.name,
		SetName:            info.setName,
		Table:              info.table,
		Properties:         info.properties,
		Navigations:        node.navigations,
		IsKeyless:          info.keyless,
		Hooks:              info.hooks,
		Depth:              node.depth,
		MaxNavigationDepth: g.maxDepth,
		graph:              g,
		node:               index,
	}
}

// EntityDescriptor describes an entity type as seen from the root of a graph.
type EntityDescriptor struct {
	Type        reflect.Type
	Name        string
	SetName     string
	Table       string
	Properties  []PropertyDescriptor
	Navigations []NavigationDescriptor
	IsKeyless   bool
	Hooks       HookSet

	// Depth is 0 for the described root and the navigation depth for targets.
	Depth              int
	MaxNavigationDepth int

	Hidden      bool
	DisplayName string

	graph *Graph
	node  int
}

// Graph returns the arena the descriptor belongs to.
func (d *EntityDescriptor) Graph() *Graph {
	return d.graph
}

// FindProperty returns the property with the given name.
func (d *EntityDescriptor) FindProperty(name string) *PropertyDescriptor {
	for i := range d.Properties {
		if d.Properties[i].Name == name {
			return &d.Properties[i]
		}
	}
	return nil
}

// FindNavigation returns the navigation with the given name.
func (d *EntityDescriptor) FindNavigation(name string) *NavigationDescriptor {
	for i := range d.Navigations {
		if d.Navigations[i].Name == name {
			return &d.Navigations[i]
		}
	}
	return nil
}

// PrimaryKeys returns the primary key properties in property order.
func (d *EntityDescriptor) PrimaryKeys() []PropertyDescriptor {
	var keys []PropertyDescriptor
	for _, p := range d.Properties {
		if p.IsPrimaryKey {
			keys = append(keys, p)
		}
	}
	return keys
}

// DisplayProperties returns the properties shown to users: everything except
// foreign keys and hidden members.
func (d *EntityDescriptor) DisplayProperties() []PropertyDescriptor {
	var result []PropertyDescriptor
	for _, p := range d.Properties {
		if p.IsForeignKey || p.Hidden {
			continue
		}
		result = append(result, p)
	}
	return result
}

// DisplayNavigations returns the navigations that are not hidden.
func (d *EntityDescriptor) DisplayNavigations() []NavigationDescriptor {
	var result []NavigationDescriptor
	for _, n := range d.Navigations {
		if !n.Hidden {
			result = append(result, n)
		}
	}
	return result
}

// NavigationDescriptor describes a relation from one entity to another.
// The target is resolved through the arena, so cycles are safe to walk.
type NavigationDescriptor struct {
	Name         string
	DisplayName  string
	IsCollection bool
	// RuntimeType is the element type of the navigation target.
	RuntimeType reflect.Type
	// FieldType is the declared type of the struct field.
	FieldType  reflect.Type
	IsNullable bool
	Relation   RelationKind
	Index      []int
	Depth      int
	Searchable bool
	Hidden     bool

	graph  *Graph
	target int
}

// Target returns a descriptor view of the navigation target.
func (n *NavigationDescriptor) Target() *EntityDescriptor {
	return n.graph.Entity(n.target)
}

// TargetIndex returns the arena index of the navigation target.
func (n *NavigationDescriptor) TargetIndex() int {
	return n.target
}

// TargetEntityProperties returns the properties of the navigation target.
func (n *NavigationDescriptor) TargetEntityProperties() []PropertyDescriptor {
	return n.graph.nodes[n.target].info.properties
}

// TargetEntityNavigations returns the navigations of the target, empty once
// the depth bound is reached.
func (n *NavigationDescriptor) TargetEntityNavigations() []NavigationDescriptor {
	return n.graph.nodes[n.target].navigations
}

type graphBuilder struct {
	graph   *Graph
	memo    map[nodeKey]int
	resolve func(*navigationInfo) (*entityInfo, error)
}

func newGraphBuilder(maxDepth int, resolve func(*navigationInfo) (*entityInfo, error)) *graphBuilder {
	return &graphBuilder{
		graph:   &Graph{maxDepth: maxDepth},
		memo:    make(map[nodeKey]int),
		resolve: resolve,
	}
}

// build adds the node for info at depth and returns its arena index.
// The navigations of a node at depth d are at depth d+1 and only exist
// while d+1 <= maxDepth.
func (b *graphBuilder) build(info *entityInfo, depth int) (int, error) {
	key := nodeKey{typ: info.typ, depth: depth}
	if idx, ok := b.memo[key]; ok {
		return idx, nil
	}

	idx := len(b.graph.nodes)
	b.graph.nodes = append(b.graph.nodes, graphNode{info: info, depth: depth})
	b.memo[key] = idx

	if depth+1 > b.graph.maxDepth {
		return idx, nil
	}

	navigations := make([]NavigationDescriptor, 0, len(info.navigations))
	for i := range info.navigations {
		nav := &info.navigations[i]
		targetInfo, err := b.resolve(nav)
		if err != nil {
			return 0, err
		}
		target, err := b.build(targetInfo, depth+1)
		if err != nil {
			return 0, err
		}
		navigations = append(navigations, NavigationDescriptor{
			Name:         nav.name,
			DisplayName:  nav.displayName,
			IsCollection: nav.isCollection,
			RuntimeType:  nav.elemType,
			FieldType:    nav.fieldType,
			IsNullable:   nav.isNullable,
			Relation:     nav.relation,
			Index:        nav.index,
			Depth:        depth + 1,
			Searchable:   nav.searchable,
			Hidden:       nav.hidden,
			graph:        b.graph,
			target:       target,
		})
	}
	b.graph.nodes[idx].navigations = navigations
	return idx, nil
}
