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

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wardle/go-semindex/snomed"
)

// ConceptDoc is a versioned concept.
type ConceptDoc struct {
	Doc
	snomed.Concept
}

// RelationshipDoc is a versioned relationship.
type RelationshipDoc struct {
	Doc
	snomed.Relationship
}

// AxiomDoc is a versioned OWL axiom reference set member.
type AxiomDoc struct {
	Doc
	snomed.ReferenceSetItem
}

// QueryConceptDoc is a versioned semantic index projection row.
type QueryConceptDoc struct {
	Doc
	snomed.QueryConcept
}

func (c *Commit) newDoc() Doc {
	return Doc{
		InternalID: uuid.NewString(),
		Path:       c.branch.Path,
		Start:      c.timepoint,
	}
}

// supersede records the currently visible version of a component, if any, as
// replaced by this commit: branch-local versions are ended, ancestor versions
// are hidden behind a versions-replaced marker. The superseded copy joins the
// commit's delta stream either way.
func (c *Commit) supersede(kind string, existing Versioned, deleted bool) {
	if existing == nil {
		return
	}
	meta := existing.Meta()
	key := meta.Key()
	c.markEnded(kind, existing)
	if meta.Path != c.branch.Path {
		c.markReplaced(kind, key)
	}
	if deleted {
		c.markDeleted(kind, key)
	}
}

// AddConcept stages a new version of a concept.
func (c *Commit) AddConcept(concept snomed.Concept) error {
	existing, err := c.visibleConcept(concept.ID)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		c.supersede(KindConcept, existing, false)
	}
	c.stage(KindConcept, formatID(concept.ID), &ConceptDoc{Doc: c.newDoc(), Concept: concept})
	return nil
}

// AddRelationship stages a new version of a relationship, superseding any
// version currently visible on the branch.
func (c *Commit) AddRelationship(r snomed.Relationship) error {
	existing, err := c.visibleRelationship(r.ID)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		c.supersede(KindRelationship, existing, false)
	}
	c.stage(KindRelationship, formatID(r.ID), &RelationshipDoc{Doc: c.newDoc(), Relationship: r})
	return nil
}

// DeleteRelationship removes the currently visible version of a relationship
// outright, recording it in the commit's deleted entities.
func (c *Commit) DeleteRelationship(id int64) error {
	existing, err := c.visibleRelationship(id)
	if err != nil {
		return err
	}
	delete(c.staged[KindRelationship], formatID(id))
	c.supersede(KindRelationship, existing, true)
	return nil
}

// AddAxiom stages a new version of an OWL axiom reference set member.
func (c *Commit) AddAxiom(item snomed.ReferenceSetItem) error {
	existing, err := c.visibleAxiom(item.ID)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		c.supersede(KindAxiom, existing, false)
	}
	c.stage(KindAxiom, item.ID, &AxiomDoc{Doc: c.newDoc(), ReferenceSetItem: item})
	return nil
}

// DeleteAxiom removes the currently visible version of an axiom member.
func (c *Commit) DeleteAxiom(id string) error {
	existing, err := c.visibleAxiom(id)
	if err != nil {
		return err
	}
	delete(c.staged[KindAxiom], id)
	c.supersede(KindAxiom, existing, true)
	return nil
}

// AddQueryConcept stages a new version of a projection row, superseding any
// version visible on the branch.
func (c *Commit) AddQueryConcept(qc *snomed.QueryConcept) error {
	existing, err := c.visibleQueryConcept(qc.ConceptIDForm)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		c.supersede(KindQueryConcept, existing, false)
	}
	c.stage(KindQueryConcept, qc.ConceptIDForm, &QueryConceptDoc{Doc: c.newDoc(), QueryConcept: *qc})
	return nil
}

// DeleteQueryConcept removes the currently visible version of a projection
// row, if there is one.
func (c *Commit) DeleteQueryConcept(conceptIDForm string) error {
	if _, ok := c.staged[KindQueryConcept][conceptIDForm]; ok {
		delete(c.staged[KindQueryConcept], conceptIDForm)
	}
	existing, err := c.visibleQueryConcept(conceptIDForm)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	c.supersede(KindQueryConcept, existing, true)
	return nil
}

// EndQueryConceptVersion supersedes a specific, already loaded projection row
// version. Used by rebase reconciliation to invalidate every branch-authored
// row in one sweep.
func (c *Commit) EndQueryConceptVersion(doc *QueryConceptDoc) {
	copied := *doc
	c.supersede(KindQueryConcept, &copied, true)
}

// visibleConcept returns the version of the concept currently visible within
// this commit, staged or stored.
func (c *Commit) visibleConcept(id int64) (Versioned, error) {
	if doc, ok := c.staged[KindConcept][formatID(id)]; ok {
		return doc, nil
	}
	chain, err := c.cuts()
	if err != nil {
		return nil, err
	}
	var found Versioned
	err = c.svc.store.View(func(b Batch) error {
		keys, err := b.GetIndexEntries(ixConceptVersions, idKey(id))
		if err != nil {
			return err
		}
		for _, key := range keys {
			var doc ConceptDoc
			if err := b.Get(bkConcepts, key, &doc); err != nil {
				return err
			}
			if c.docVisible(KindConcept, doc.Meta(), chain) {
				found = pickNewer(found, &doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (c *Commit) visibleRelationship(id int64) (Versioned, error) {
	if doc, ok := c.staged[KindRelationship][formatID(id)]; ok {
		return doc, nil
	}
	chain, err := c.cuts()
	if err != nil {
		return nil, err
	}
	var found Versioned
	err = c.svc.store.View(func(b Batch) error {
		keys, err := b.GetIndexEntries(ixRelationshipVersions, idKey(id))
		if err != nil {
			return err
		}
		for _, key := range keys {
			var doc RelationshipDoc
			if err := b.Get(bkRelationships, key, &doc); err != nil {
				return err
			}
			if c.docVisible(KindRelationship, doc.Meta(), chain) {
				found = pickNewer(found, &doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (c *Commit) visibleAxiom(id string) (Versioned, error) {
	if doc, ok := c.staged[KindAxiom][id]; ok {
		return doc, nil
	}
	chain, err := c.cuts()
	if err != nil {
		return nil, err
	}
	var found Versioned
	err = c.svc.store.View(func(b Batch) error {
		keys, err := b.GetIndexEntries(ixAxiomVersions, stringKey(id))
		if err != nil {
			return err
		}
		for _, key := range keys {
			var doc AxiomDoc
			if err := b.Get(bkAxioms, key, &doc); err != nil {
				return err
			}
			if c.docVisible(KindAxiom, doc.Meta(), chain) {
				found = pickNewer(found, &doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (c *Commit) visibleQueryConcept(conceptIDForm string) (Versioned, error) {
	if doc, ok := c.staged[KindQueryConcept][conceptIDForm]; ok {
		return doc, nil
	}
	chain, err := c.cuts()
	if err != nil {
		return nil, err
	}
	var found Versioned
	err = c.svc.store.View(func(b Batch) error {
		keys, err := b.GetIndexEntries(ixQueryConceptVersions, stringKey(conceptIDForm))
		if err != nil {
			return err
		}
		for _, key := range keys {
			var doc QueryConceptDoc
			if err := b.Get(bkQueryConcepts, key, &doc); err != nil {
				return err
			}
			if c.docVisible(KindQueryConcept, doc.Meta(), chain) {
				found = pickNewer(found, &doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// pickNewer prefers the version on the more specific path, then the later
// start. Distinct visible versions of one component can coexist only where a
// child branch authored its own version before hiding the parent's.
func pickNewer(a, b Versioned) Versioned {
	if a == nil {
		return b
	}
	am, bm := a.Meta(), b.Meta()
	if len(bm.Path) != len(am.Path) {
		if len(bm.Path) > len(am.Path) {
			return b
		}
		return a
	}
	if bm.Start > am.Start {
		return b
	}
	return a
}

// RelationshipStream wraps a relationship version with an error, for use in
// streaming.
type RelationshipStream struct {
	*RelationshipDoc
	Err error
}

// AxiomStream wraps an axiom member version with an error, for use in
// streaming.
type AxiomStream struct {
	*AxiomDoc
	Err error
}

// QueryConceptStream wraps a projection row version with an error, for use in
// streaming.
type QueryConceptStream struct {
	*QueryConceptDoc
	Err error
}

// StreamRelationships streams every relationship version selected by the
// criteria. Iteration is bounded-memory: versions are read bucket-order from
// the underlying store, never materialised as a whole.
func (svc *Svc) StreamRelationships(ctx context.Context, cr Criteria) <-chan RelationshipStream {
	out := make(chan RelationshipStream)
	go func() {
		defer close(out)
		send := func(doc *RelationshipDoc) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- RelationshipStream{RelationshipDoc: doc}:
				return nil
			}
		}
		err := svc.streamDocs(cr, KindRelationship, bkRelationships, func(raw Versioned) error {
			return send(raw.(*RelationshipDoc))
		}, func() Versioned { return new(RelationshipDoc) })
		if err != nil && err != context.Canceled {
			select {
			case <-ctx.Done():
			case out <- RelationshipStream{Err: err}:
			}
		}
	}()
	return out
}

// StreamAxioms streams every reference set member version selected by the
// criteria.
func (svc *Svc) StreamAxioms(ctx context.Context, cr Criteria) <-chan AxiomStream {
	out := make(chan AxiomStream)
	go func() {
		defer close(out)
		send := func(doc *AxiomDoc) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- AxiomStream{AxiomDoc: doc}:
				return nil
			}
		}
		err := svc.streamDocs(cr, KindAxiom, bkAxioms, func(raw Versioned) error {
			return send(raw.(*AxiomDoc))
		}, func() Versioned { return new(AxiomDoc) })
		if err != nil && err != context.Canceled {
			select {
			case <-ctx.Done():
			case out <- AxiomStream{Err: err}:
			}
		}
	}()
	return out
}

// streamDocs drives a criteria-scoped read over one document kind, calling f
// for every selected version.
func (svc *Svc) streamDocs(cr Criteria, kind string, bk bucket, f func(Versioned) error, newDoc func() Versioned) error {
	c := cr.commit
	switch cr.Scope {
	case ScopeOpenCommit:
		return c.streamCommitDeltas(kind, f)
	case ScopeBranchContent:
		if err := svc.iteratePath(c.branch.Path, kind, bk, c, f, newDoc); err != nil {
			return err
		}
		// ancestor versions this branch has hidden: they are part of the
		// branch's content as deletions
		for key := range c.branch.VersionsReplaced[kind] {
			doc := newDoc()
			err := svc.store.View(func(b Batch) error {
				return b.Get(bk, []byte(key), doc)
			})
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := f(doc); err != nil {
				return err
			}
		}
		return c.streamCommitDeltas(kind, f)
	case ScopeCommitted, ScopeVisible:
		chain, err := c.cuts()
		if err != nil {
			return err
		}
		for _, pc := range chain {
			err := svc.store.View(func(b Batch) error {
				return b.Iterate(bk, pathPrefix(pc.branch.Path), func(key, value []byte) error {
					doc := newDoc()
					if err := unmarshalDoc(value, doc); err != nil {
						return err
					}
					if !c.docVisible(kind, doc.Meta(), chain) {
						return nil
					}
					return f(doc)
				})
			})
			if err != nil {
				return err
			}
		}
		if cr.Scope == ScopeVisible {
			for _, doc := range c.staged[kind] {
				if err := f(doc); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return fmt.Errorf("unknown scope %d", cr.Scope)
}

// streamCommitDeltas yields the open commit's staged versions and the
// versions they superseded.
func (c *Commit) streamCommitDeltas(kind string, f func(Versioned) error) error {
	for _, doc := range c.staged[kind] {
		if err := f(doc); err != nil {
			return err
		}
	}
	for _, doc := range c.ended[kind] {
		if err := f(doc); err != nil {
			return err
		}
	}
	return nil
}

// iteratePath yields every version authored on a path, excluding versions the
// open commit has superseded (their stamped copies stream separately).
func (svc *Svc) iteratePath(path, kind string, bk bucket, c *Commit, f func(Versioned) error, newDoc func() Versioned) error {
	return svc.store.View(func(b Batch) error {
		return b.Iterate(bk, pathPrefix(path), func(key, value []byte) error {
			doc := newDoc()
			if err := unmarshalDoc(value, doc); err != nil {
				return err
			}
			if c.touchedByCommit(kind, doc.Meta().Key()) {
				return nil
			}
			return f(doc)
		})
	})
}

// Concepts returns the concept versions visible for the given identifiers;
// identifiers with no visible version are absent from the result.
func (svc *Svc) Concepts(cr Criteria, ids map[int64]struct{}) (map[int64]*ConceptDoc, error) {
	c := cr.commit
	result := make(map[int64]*ConceptDoc, len(ids))
	for id := range ids {
		doc, err := c.visibleConcept(id) // staged versions included
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[id] = doc.(*ConceptDoc)
	}
	return result, nil
}
