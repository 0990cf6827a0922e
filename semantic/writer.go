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

// writeChanges merges the recomputed graph and attribute changes with the
// stored projection and stages the changed rows on the commit. A row whose
// parents end up empty is deleted unless it is the terminology root. Returns
// counts of rows written and deleted.
func (u *Updater) writeChanges(c *store.Commit, g *GraphBuilder, ac *AttributeChanges, form snomed.Form, rebuild, newGraph bool) (int, int, error) {
	branchPath := c.Branch().Path
	toWrite := make(map[int64]struct{})
	for id, node := range g.Nodes() {
		if newGraph || rebuild || g.IsAncestorOrSelfUpdated(node, branchPath) || ac.Contains(id) {
			toWrite[id] = struct{}{}
		}
	}
	for id := range ac.ConceptIDs() {
		toWrite[id] = struct{}{}
	}

	cr := store.Committed(c) // rows already ended by this commit are excluded
	written, deleted := 0, 0
	for id := range toWrite {
		existing, err := u.svc.QueryConceptByID(cr, form, id)
		if err != nil && err != store.ErrNotFound {
			return written, deleted, err
		}
		node := g.Node(id)
		var qc *snomed.QueryConcept
		if existing == nil {
			qc = snomed.NewQueryConcept(id, form)
			if node != nil {
				qc.SetParents(node.Parents())
				qc.SetAncestors(g.TransitiveClosure(node))
			}
			qc.AttributeGroups = ac.Apply(id, nil)
		} else {
			copied := existing.QueryConcept
			qc = &copied
			if node != nil {
				qc.SetParents(node.Parents())
				qc.SetAncestors(g.TransitiveClosure(node))
			}
			qc.AttributeGroups = ac.Apply(id, existing.AttributeGroups)
		}
		if len(qc.AttributeGroups) == 0 {
			qc.AttributeGroups = nil
		}
		if len(qc.Parents) == 0 && id != u.cfg.Root {
			if existing != nil {
				if err := c.DeleteQueryConcept(form.ConceptIDForm(id)); err != nil {
					return written, deleted, err
				}
				deleted++
			}
			continue
		}
		if existing != nil && existing.QueryConcept.Equal(qc) {
			continue // unchanged
		}
		if err := c.AddQueryConcept(qc); err != nil {
			return written, deleted, err
		}
		written++
	}
	return written, deleted, nil
}
