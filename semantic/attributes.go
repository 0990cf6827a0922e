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

package semantic

import (
	"sort"

	"github.com/wardle/go-semindex/snomed"
)

// unpublishedEffectiveTime orders unpublished content (no effective time)
// after every published version when replaying attribute history.
const unpublishedEffectiveTime = 90000000

// AttributeChange is one add or remove of a grouped attribute assertion on a
// concept.
type AttributeChange struct {
	EffectiveTime int32
	Group         int32
	Type          int64
	Value         int64
	Add           bool
}

// AttributeChanges accumulates, per concept, an append-only log of attribute
// add/remove events to be replayed deterministically onto the stored
// attribute groups.
type AttributeChanges struct {
	byConcept map[int64][]AttributeChange
}

// NewAttributeChanges creates an empty accumulator.
func NewAttributeChanges() *AttributeChanges {
	return &AttributeChanges{byConcept: make(map[int64][]AttributeChange)}
}

func (ac *AttributeChanges) append(conceptID int64, change AttributeChange) {
	if change.EffectiveTime == 0 {
		change.EffectiveTime = unpublishedEffectiveTime
	}
	ac.byConcept[conceptID] = append(ac.byConcept[conceptID], change)
}

// AddAttribute logs the addition of a grouped attribute assertion.
func (ac *AttributeChanges) AddAttribute(conceptID int64, effectiveTime int32, group int32, typeID, value int64) {
	ac.append(conceptID, AttributeChange{EffectiveTime: effectiveTime, Group: group, Type: typeID, Value: value, Add: true})
}

// RemoveAttribute logs the removal of a grouped attribute assertion.
func (ac *AttributeChanges) RemoveAttribute(conceptID int64, effectiveTime int32, group int32, typeID, value int64) {
	ac.append(conceptID, AttributeChange{EffectiveTime: effectiveTime, Group: group, Type: typeID, Value: value})
}

// Contains returns whether any changes were logged for a concept.
func (ac *AttributeChanges) Contains(conceptID int64) bool {
	_, ok := ac.byConcept[conceptID]
	return ok
}

// ConceptIDs returns every concept with logged changes.
func (ac *AttributeChanges) ConceptIDs() map[int64]struct{} {
	out := make(map[int64]struct{}, len(ac.byConcept))
	for id := range ac.byConcept {
		out[id] = struct{}{}
	}
	return out
}

// EffectiveSortedChanges returns the changes for a concept in replay order:
// effective time ascending, adds before removes at the same effective time.
// The sort is stable, so equal entries keep their append order. This replays
// historical state correctly when several versions of the same assertion
// appear within one commit window.
func (ac *AttributeChanges) EffectiveSortedChanges(conceptID int64) []AttributeChange {
	changes := append([]AttributeChange(nil), ac.byConcept[conceptID]...)
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].EffectiveTime != changes[j].EffectiveTime {
			return changes[i].EffectiveTime < changes[j].EffectiveTime
		}
		return changes[i].Add && !changes[j].Add
	})
	return changes
}

// Apply replays a concept's changes onto a starting attribute group map taken
// from the existing projection row, returning the final state. The starting
// map is not modified. Removal of an absent binding is a no-op.
func (ac *AttributeChanges) Apply(conceptID int64, start snomed.AttributeGroups) snomed.AttributeGroups {
	groups := start.Copy()
	if groups == nil {
		groups = make(snomed.AttributeGroups)
	}
	for _, change := range ac.EffectiveSortedChanges(conceptID) {
		if change.Add {
			groups.Add(change.Group, change.Type, change.Value)
		} else {
			groups.Remove(change.Group, change.Type, change.Value)
		}
	}
	return groups
}
