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
	"context"

	"github.com/wardle/go-semindex/snomed"
	"github.com/wardle/go-semindex/store"
)

// changeSet identifies the concepts whose projections may need recomputing
// from a commit's deltas: the sources and destinations of changed IS-A edges,
// and every concept whose grouped attributes changed.
type changeSet struct {
	updateSource      map[int64]struct{}
	updateDestination map[int64]struct{}
	updatedConcepts   map[int64]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		updateSource:      make(map[int64]struct{}),
		updateDestination: make(map[int64]struct{}),
		updatedConcepts:   make(map[int64]struct{}),
	}
}

func (cs *changeSet) empty() bool {
	return len(cs.updatedConcepts) == 0
}

// sourceAndDestination is the union of changed-edge endpoints.
func (cs *changeSet) sourceAndDestination() map[int64]struct{} {
	return union(cs.updateSource, cs.updateDestination)
}

func union(sets ...map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, set := range sets {
		for id := range set {
			out[id] = struct{}{}
		}
	}
	return out
}

// buildChangeSet discovers the concepts affected by the deltas the criteria
// select, for one form. Inactive and superseded versions count: deletions
// change closures too.
func (u *Updater) buildChangeSet(ctx context.Context, form snomed.Form, cr store.Criteria) (*changeSet, error) {
	cs := newChangeSet()
	for rs := range u.svc.StreamRelationships(ctx, cr) {
		if rs.Err != nil {
			return nil, rs.Err
		}
		if !u.inForm(form, rs.CharacteristicTypeID) {
			continue
		}
		if rs.TypeID == u.cfg.IsA {
			cs.updateSource[rs.SourceID] = struct{}{}
			cs.updateDestination[rs.DestinationID] = struct{}{}
		} else {
			// attribute-only changes still require a projection rewrite
			cs.updatedConcepts[rs.SourceID] = struct{}{}
		}
	}
	if form.IncludeAxioms() {
		docs, err := u.collectAxioms(ctx, cr, false)
		if err != nil {
			return nil, err
		}
		err = forEachAxiomFragment(u.converter, docs, func(doc *store.AxiomDoc, rel snomed.Relationship) error {
			if rel.TypeID == u.cfg.IsA {
				cs.updateSource[rel.SourceID] = struct{}{}
				cs.updateDestination[rel.DestinationID] = struct{}{}
			} else {
				cs.updatedConcepts[rel.SourceID] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	for id := range cs.updateSource {
		cs.updatedConcepts[id] = struct{}{}
	}
	// the object-attribute root carries a synthetic parent edge; a change
	// beneath it touches the attribute root's projection too
	if _, ok := cs.updateDestination[u.cfg.ConceptModelObjectAttribute]; ok {
		cs.updatedConcepts[u.cfg.ConceptModelAttribute] = struct{}{}
	}
	return cs, nil
}
