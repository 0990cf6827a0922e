// Copyright 2018 Mark Wardle / Eldrix Ltd
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
//

package snomed

import "sort"

// QueryConcept is the persisted semantic-index projection of a single concept
// in one form: its direct parents, full ancestor set and grouped
// non-hierarchical attributes. Subsumption tests, descendant enumeration and
// grouped-attribute search all run against these rows rather than the source
// relationships.
type QueryConcept struct {
	ConceptIDForm   string          `json:"conceptIdForm"` // "<conceptId>_s" or "<conceptId>_i"
	ConceptID       int64           `json:"conceptId"`
	Stated          bool            `json:"stated"`
	Parents         []int64         `json:"parents,omitempty"`   // sorted
	Ancestors       []int64         `json:"ancestors,omitempty"` // sorted, strict ancestors
	AttributeGroups AttributeGroups `json:"attrGroups,omitempty"`
}

// NewQueryConcept creates an empty projection row for the given concept and form.
func NewQueryConcept(conceptID int64, form Form) *QueryConcept {
	return &QueryConcept{
		ConceptIDForm: form.ConceptIDForm(conceptID),
		ConceptID:     conceptID,
		Stated:        form.IsStated(),
	}
}

// SetParents replaces the parent set.
func (qc *QueryConcept) SetParents(parents map[int64]struct{}) {
	qc.Parents = sortedIDs(parents)
}

// SetAncestors replaces the ancestor set.
func (qc *QueryConcept) SetAncestors(ancestors map[int64]struct{}) {
	qc.Ancestors = sortedIDs(ancestors)
}

// HasAncestor tests ancestor-set membership.
func (qc *QueryConcept) HasAncestor(conceptID int64) bool {
	for _, a := range qc.Ancestors {
		if a == conceptID {
			return true
		}
	}
	return false
}

// Equal compares the projection content, ignoring version metadata.
func (qc *QueryConcept) Equal(other *QueryConcept) bool {
	if qc.ConceptIDForm != other.ConceptIDForm || qc.ConceptID != other.ConceptID || qc.Stated != other.Stated {
		return false
	}
	if !equalIDs(qc.Parents, other.Parents) || !equalIDs(qc.Ancestors, other.Ancestors) {
		return false
	}
	return qc.AttributeGroups.Equal(other.AttributeGroups)
}

// AttributeGroups holds the grouped non-hierarchical attributes of a concept:
// group number to a multimap of attribute type to values.
type AttributeGroups map[int32]map[int64][]int64

// Add inserts a (type, value) binding into a group, idempotently.
func (g AttributeGroups) Add(group int32, typeID int64, value int64) {
	m, ok := g[group]
	if !ok {
		m = make(map[int64][]int64)
		g[group] = m
	}
	for _, v := range m[typeID] {
		if v == value {
			return
		}
	}
	m[typeID] = insertSorted(m[typeID], value)
}

// Remove deletes a (type, value) binding from a group, idempotently. Empty
// types and groups are pruned so that equality comparisons stay meaningful.
func (g AttributeGroups) Remove(group int32, typeID int64, value int64) {
	m, ok := g[group]
	if !ok {
		return
	}
	values := m[typeID]
	for i, v := range values {
		if v == value {
			m[typeID] = append(values[:i:i], values[i+1:]...)
			break
		}
	}
	if len(m[typeID]) == 0 {
		delete(m, typeID)
	}
	if len(m) == 0 {
		delete(g, group)
	}
}

// Contains tests for a (type, value) binding within a group.
func (g AttributeGroups) Contains(group int32, typeID int64, value int64) bool {
	for _, v := range g[group][typeID] {
		if v == value {
			return true
		}
	}
	return false
}

// Copy returns a deep copy.
func (g AttributeGroups) Copy() AttributeGroups {
	if g == nil {
		return nil
	}
	out := make(AttributeGroups, len(g))
	for group, m := range g {
		mc := make(map[int64][]int64, len(m))
		for t, vs := range m {
			mc[t] = append([]int64(nil), vs...)
		}
		out[group] = mc
	}
	return out
}

// Equal compares two attribute group maps.
func (g AttributeGroups) Equal(other AttributeGroups) bool {
	if len(g) != len(other) {
		return false
	}
	for group, m := range g {
		om, ok := other[group]
		if !ok || len(m) != len(om) {
			return false
		}
		for t, vs := range m {
			if !equalIDs(vs, om[t]) {
				return false
			}
		}
	}
	return true
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func insertSorted(values []int64, value int64) []int64 {
	i := sort.Search(len(values), func(i int) bool { return values[i] >= value })
	values = append(values, 0)
	copy(values[i+1:], values[i:])
	values[i] = value
	return values
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
