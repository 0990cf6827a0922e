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
	"github.com/wardle/go-semindex/snomed"
	"github.com/wardle/go-semindex/store"
)

// loadExistingGraph loads just enough of the prior branch projection to
// re-derive correct closures for an incremental update: the updated concepts
// themselves, their pre-existing ancestors, and every concept currently
// claiming an updated concept as ancestor (whose closure may shrink or move).
// Returns whether any existing row was found at all; a wholly new graph
// writes every node.
func (u *Updater) loadExistingGraph(c *store.Commit, g *GraphBuilder, form snomed.Form, cs *changeSet) (bool, error) {
	cr := store.Committed(c)
	endpoints := cs.sourceAndDestination()

	rows, err := u.svc.QueryConceptsByIDs(cr, form, endpoints)
	if err != nil {
		return false, err
	}
	existingAncestors := make(map[int64]struct{})
	for _, row := range rows {
		for _, a := range row.Ancestors {
			existingAncestors[a] = struct{}{}
		}
	}
	loadedAny := len(rows) > 0

	descendants, err := u.svc.QueryConceptsByAncestors(cr, form, cs.updateSource)
	if err != nil {
		return false, err
	}
	existingDescendants := make(map[int64]struct{})
	for _, row := range descendants {
		existingDescendants[row.QueryConcept.ConceptID] = struct{}{}
	}
	loadedAny = loadedAny || len(descendants) > 0

	nodesToLoad := union(endpoints, existingAncestors, existingDescendants)
	rows, err = u.svc.QueryConceptsByIDs(cr, form, nodesToLoad)
	if err != nil {
		return false, err
	}
	loadedAny = loadedAny || len(rows) > 0
	// a diamond can route through a parent that is neither an ancestor of an
	// updated node nor a descendant of one, yet is needed to preserve a
	// descendant's alternative ancestry; one further pass picks those up
	alternativeAncestors := make(map[int64]struct{})
	for _, row := range rows {
		id := row.QueryConcept.ConceptID
		for _, p := range row.Parents {
			g.AddParent(id, p)
		}
		for _, a := range row.Ancestors {
			if _, ok := nodesToLoad[a]; !ok {
				alternativeAncestors[a] = struct{}{}
			}
		}
	}
	if len(alternativeAncestors) > 0 {
		rows, err = u.svc.QueryConceptsByIDs(cr, form, alternativeAncestors)
		if err != nil {
			return false, err
		}
		for _, row := range rows {
			id := row.QueryConcept.ConceptID
			for _, p := range row.Parents {
				g.AddParent(id, p)
			}
		}
	}
	return loadedAny, nil
}
