package equality

// Set is an ordered collection of entities deduplicated by a Resolver.
type Set struct {
	resolver *Resolver
	buckets  map[uint64][]int
	items    []interface{}
}

// NewSet returns a set holding items in order. Later duplicates are dropped.
func (r *Resolver) NewSet(items ...interface{}) *Set {
	s := &Set{resolver: r, buckets: make(map[uint64][]int, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add appends item unless an equal entity is already present.
func (s *Set) Add(item interface{}) bool {
	if _, ok := s.Find(item); ok {
		return false
	}
	h := s.resolver.Hash(item)
	s.buckets[h] = append(s.buckets[h], len(s.items))
	s.items = append(s.items, item)
	return true
}

// Find returns the stored entity equal to item.
func (s *Set) Find(item interface{}) (interface{}, bool) {
	for _, idx := range s.buckets[s.resolver.Hash(item)] {
		if s.resolver.Equal(s.items[idx], item) {
			return s.items[idx], true
		}
	}
	return nil, false
}

// Contains reports whether an entity equal to item is present.
func (s *Set) Contains(item interface{}) bool {
	_, ok := s.Find(item)
	return ok
}

// Len returns the number of entities in the set.
func (s *Set) Len() int {
	return len(s.items)
}

// Items returns the entities in insertion order.
func (s *Set) Items() []interface{} {
	return s.items
}

// Except returns the items of s that are not in other, in order.
func (s *Set) Except(other *Set) []interface{} {
	var result []interface{}
	for _, item := range s.items {
		if !other.Contains(item) {
			result = append(result, item)
		}
	}
	return result
}
