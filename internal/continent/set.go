// Package continent holds the continent reference set and intersects AR
// footprints with it.
package continent

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
)

// Continent is a named land mass in lon/lat degrees.
type Continent struct {
	Name     string
	Geometry orb.MultiPolygon
	Bound    orb.Bound
}

// Set is the ordered, immutable continent reference set. It is shared
// read-only between workers.
type Set struct {
	continents []Continent
	index      map[string]int
}

// NewSet builds a set from continents in order. Entries sharing a name are
// merged into one multipolygon at the position of the first.
func NewSet(cs []Continent) *Set {
	s := &Set{index: make(map[string]int, len(cs))}
	for _, c := range cs {
		if i, ok := s.index[c.Name]; ok {
			s.continents[i].Geometry = append(s.continents[i].Geometry, c.Geometry...)
			continue
		}
		s.index[c.Name] = len(s.continents)
		s.continents = append(s.continents, Continent{
			Name:     c.Name,
			Geometry: slices.Clone(c.Geometry),
		})
	}
	for i := range s.continents {
		s.continents[i].Bound = s.continents[i].Geometry.Bound()
	}
	return s
}

func (s *Set) Len() int { return len(s.continents) }

// Continents returns the continents in set order. Callers must not modify
// the result.
func (s *Set) Continents() []Continent { return s.continents }

// Names returns continent names in set order.
func (s *Set) Names() []string {
	names := make([]string, len(s.continents))
	for i, c := range s.continents {
		names[i] = c.Name
	}
	return names
}

func (s *Set) Lookup(name string) (Continent, bool) {
	i, ok := s.index[name]
	if !ok {
		return Continent{}, false
	}
	return s.continents[i], true
}

// CheckPriority verifies that every name in a landfall priority list is a
// continent of the set.
func (s *Set) CheckPriority(priority []string) error {
	for _, name := range priority {
		if _, ok := s.index[name]; !ok {
			return fmt.Errorf("priority continent %q not in reference set %v", name, s.Names())
		}
	}
	return nil
}

// ColumnOrder lists continent names in priority order followed by the
// remaining continents in set order.
func (s *Set) ColumnOrder(priority []string) []string {
	out := make([]string, 0, len(s.continents))
	seen := make(map[string]bool, len(s.continents))
	for _, name := range priority {
		if _, ok := s.index[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	for _, c := range s.continents {
		if !seen[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}
