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
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wardle/go-semindex/config"
	"github.com/wardle/go-semindex/snomed"
	"github.com/wardle/go-semindex/store"
)

// Updater maintains the semantic index. It runs inside the commit lifecycle
// of every write to a branch and can rebuild a chosen branch from scratch;
// both paths run the same pipeline with different scope inputs.
type Updater struct {
	svc       *store.Svc
	converter AxiomConverter
	cfg       *config.Config
	log       *zap.SugaredLogger

	stated   map[int64]struct{}
	inferred map[int64]struct{}

	disabledOnce sync.Once
}

// New creates an updater. Register it on the store with
// RegisterCommitListener to index every commit.
func New(svc *store.Svc, converter AxiomConverter, cfg *config.Config, logger *zap.SugaredLogger) *Updater {
	u := &Updater{
		svc:       svc,
		converter: converter,
		cfg:       cfg,
		log:       logger,
		stated:    make(map[int64]struct{}),
		inferred:  make(map[int64]struct{}),
	}
	for _, id := range cfg.StatedCharacteristicTypes {
		u.stated[id] = struct{}{}
	}
	for _, id := range cfg.InferredCharacteristicTypes {
		u.inferred[id] = struct{}{}
	}
	return u
}

// inForm tests whether a characteristic type belongs to a form. The two sets
// are disjoint.
func (u *Updater) inForm(form snomed.Form, characteristicTypeID int64) bool {
	if form.IsStated() {
		_, ok := u.stated[characteristicTypeID]
		return ok
	}
	_, ok := u.inferred[characteristicTypeID]
	return ok
}

// PreCommitCompletion implements store.Listener: it updates both index forms
// for the committed deltas before the commit becomes durable. Any error
// aborts the commit; the prior projection stays intact.
func (u *Updater) PreCommitCompletion(c *store.Commit) error {
	if !u.cfg.SemanticIndexingEnabled {
		u.disabledOnce.Do(func() {
			u.log.Infow("semantic indexing disabled; commits will not be indexed")
		})
		return nil
	}
	ctx := context.Background()
	if c.IsRebase() {
		if err := u.reconcileRebase(c); err != nil {
			return err
		}
		// replay all content present on this branch over the new parent
		// base, with deletions taken from the branch's versions-replaced sets
		deletions := c.Branch().VersionsReplacedFor(store.KindRelationship, store.KindAxiom)
		for _, form := range snomed.Forms() {
			if err := u.updateForm(ctx, c, form, store.BranchContent(c), deletions, false); err != nil {
				return err
			}
		}
		return nil
	}
	deletions := c.EntitiesDeleted(store.KindRelationship, store.KindAxiom)
	for _, form := range snomed.Forms() {
		if err := u.updateForm(ctx, c, form, store.InOpenCommit(c), deletions, false); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild recomputes both forms of the semantic index for a branch from its
// entire committed content, in a fresh commit. Intended for the primary
// branch; on a descendant branch it recomputes from the branch's visible
// content, versions-replaced markers included; whether that is appropriate
// is the caller's judgement.
func (u *Updater) Rebuild(branchPath string) error {
	c, err := u.svc.NewCommit(branchPath)
	if err != nil {
		return err
	}
	c.LockMetadata = "Rebuilding semantic index"
	u.log.Infow("rebuilding semantic index", "path", branchPath)
	ctx := context.Background()
	for _, form := range snomed.Forms() {
		if err := u.updateForm(ctx, c, form, store.Visible(c), nil, true); err != nil {
			c.Abort()
			return err
		}
	}
	return c.Complete()
}

// updateForm runs the pipeline for one form: change-set discovery, existing
// graph load, delta replay and projection write. A rebuild skips discovery
// and load, replaying the branch's whole active content into an empty graph.
func (u *Updater) updateForm(ctx context.Context, c *store.Commit, form snomed.Form, cr store.Criteria, deletions map[string]struct{}, rebuild bool) error {
	branchPath := c.Branch().Path
	g := NewGraphBuilder()
	ac := NewAttributeChanges()
	newGraph := false
	if !rebuild {
		cs, err := u.buildChangeSet(ctx, form, cr)
		if err != nil {
			return fmt.Errorf("semantic update %s on %s: %w", form, branchPath, err)
		}
		if cs.empty() {
			u.log.Debugw("no semantic changes", "path", branchPath, "form", form.String())
			return nil
		}
		loaded, err := u.loadExistingGraph(c, g, form, cs)
		if err != nil {
			return fmt.Errorf("semantic update %s on %s: %w", form, branchPath, err)
		}
		newGraph = !loaded
	}
	required, err := u.replayDeltas(ctx, c, g, ac, form, cr, deletions, rebuild)
	if err != nil {
		return fmt.Errorf("semantic update %s on %s: %w", form, branchPath, err)
	}
	u.reportMissingOrInactive(c, required, form)
	written, deleted, err := u.writeChanges(c, g, ac, form, rebuild, newGraph)
	if err != nil {
		return fmt.Errorf("semantic update %s on %s: %w", form, branchPath, err)
	}
	u.log.Infow("semantic index updated", "path", branchPath, "form", form.String(),
		"rebuild", rebuild, "written", written, "deleted", deleted)
	return nil
}

// replayDeltas streams every relationship (and, for the stated form, axiom)
// version in scope, in (effectiveTime, active, start) order, into the graph
// and attribute accumulator. Superseded relationship versions not in the
// deletions set are skipped, since a newer version follows in the same
// stream; deleted relationship versions and every ended axiom version replay
// as removals. Returns the concepts every active assertion requires to exist
// and be active.
func (u *Updater) replayDeltas(ctx context.Context, c *store.Commit, g *GraphBuilder, ac *AttributeChanges, form snomed.Form, cr store.Criteria, deletions map[string]struct{}, rebuild bool) (map[int64]struct{}, error) {
	branchPath := c.Branch().Path
	required := make(map[int64]struct{})

	apply := func(doc versionMeta, effectiveTime int32, sourceID, typeID, destinationID int64, group int32, active bool) {
		_, isDeleted := deletions[doc.key]
		if doc.end != 0 && !isDeleted {
			return // replaced; a newer version is processed in this stream
		}
		if destinationID == u.cfg.ConceptModelObjectAttribute {
			g.AddParent(u.cfg.ConceptModelObjectAttribute, u.cfg.ConceptModelAttribute).MarkUpdated(branchPath)
		}
		if active && !isDeleted {
			if typeID == u.cfg.IsA {
				g.AddParent(sourceID, destinationID).MarkUpdated(branchPath)
			} else {
				ac.AddAttribute(sourceID, effectiveTime, group, typeID, destinationID)
			}
			required[sourceID] = struct{}{}
			required[typeID] = struct{}{}
			required[destinationID] = struct{}{}
			return
		}
		if typeID == u.cfg.IsA {
			if n := g.RemoveParent(sourceID, destinationID); n != nil {
				n.MarkUpdated(branchPath)
			}
		} else {
			ac.RemoveAttribute(sourceID, effectiveTime, group, typeID, destinationID)
		}
	}

	docs, err := u.collectRelationships(ctx, cr, form, rebuild)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		apply(versionMeta{key: doc.Key(), end: doc.End}, doc.Relationship.EffectiveTime,
			doc.SourceID, doc.TypeID, doc.DestinationID, doc.Group, doc.Relationship.Active)
	}

	if form.IncludeAxioms() {
		axioms, err := u.collectAxioms(ctx, cr, rebuild)
		if err != nil {
			return nil, err
		}
		// any ended axiom version is a full removal of its fragments: an
		// axiom's right-hand side can change shape entirely between versions,
		// so the superseding version cannot imply the old edges' removal. If
		// the commit also carries a newer version, the effective-time sort
		// replays its additions after these removals.
		err = forEachAxiomFragment(u.converter, axioms, func(doc *store.AxiomDoc, rel snomed.Relationship) error {
			active := doc.ReferenceSetItem.Active && doc.End == 0
			apply(versionMeta{key: doc.Key(), end: 0}, doc.ReferenceSetItem.EffectiveTime,
				rel.SourceID, rel.TypeID, rel.DestinationID, rel.Group, active)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return required, nil
}

type versionMeta struct {
	key string
	end int64
}

// collectRelationships gathers and orders the relationship versions in scope
// for a form. Replay scopes are commit-bounded; a rebuild restricts the
// stream to live active content instead.
func (u *Updater) collectRelationships(ctx context.Context, cr store.Criteria, form snomed.Form, activeOnly bool) ([]*store.RelationshipDoc, error) {
	docs := make([]*store.RelationshipDoc, 0)
	for rs := range u.svc.StreamRelationships(ctx, cr) {
		if rs.Err != nil {
			return nil, rs.Err
		}
		if !u.inForm(form, rs.CharacteristicTypeID) {
			continue
		}
		if activeOnly && !rs.Relationship.Active {
			continue
		}
		docs = append(docs, rs.RelationshipDoc)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ei, ej := sortableEffectiveTime(docs[i].Relationship.EffectiveTime), sortableEffectiveTime(docs[j].Relationship.EffectiveTime)
		if ei != ej {
			return ei < ej
		}
		if docs[i].Relationship.Active != docs[j].Relationship.Active {
			return !docs[i].Relationship.Active // a deactivation then reactivation collapses to the later state
		}
		return docs[i].Start < docs[j].Start
	})
	return docs, nil
}

// collectAxioms gathers and orders the OWL axiom member versions in scope.
func (u *Updater) collectAxioms(ctx context.Context, cr store.Criteria, activeOnly bool) ([]*store.AxiomDoc, error) {
	docs := make([]*store.AxiomDoc, 0)
	for as := range u.svc.StreamAxioms(ctx, cr) {
		if as.Err != nil {
			return nil, as.Err
		}
		if as.RefsetID != u.cfg.OWLAxiomReferenceSet {
			continue
		}
		if activeOnly && !as.ReferenceSetItem.Active {
			continue
		}
		docs = append(docs, as.AxiomDoc)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ei, ej := sortableEffectiveTime(docs[i].ReferenceSetItem.EffectiveTime), sortableEffectiveTime(docs[j].ReferenceSetItem.EffectiveTime)
		if ei != ej {
			return ei < ej
		}
		if docs[i].ReferenceSetItem.Active != docs[j].ReferenceSetItem.Active {
			return !docs[i].ReferenceSetItem.Active
		}
		return docs[i].Start < docs[j].Start
	})
	return docs, nil
}

func sortableEffectiveTime(effectiveTime int32) int32 {
	if effectiveTime == 0 {
		return unpublishedEffectiveTime
	}
	return effectiveTime
}

// reportMissingOrInactive warns about active assertions referring to concepts
// that are missing or inactive. Dangling references do not abort the commit;
// the projection is still written and downstream surfaces may flag them.
func (u *Updater) reportMissingOrInactive(c *store.Commit, required map[int64]struct{}, form snomed.Form) {
	if len(required) == 0 {
		return
	}
	concepts, err := u.svc.Concepts(store.Visible(c), required)
	if err != nil {
		u.log.Warnw("unable to verify referenced concepts", "path", c.Branch().Path, "error", err)
		return
	}
	for id := range required {
		doc, ok := concepts[id]
		if !ok {
			u.log.Warnw("active assertion references missing concept",
				"path", c.Branch().Path, "form", form.String(), "conceptId", id)
		} else if !doc.Concept.Active {
			u.log.Warnw("active assertion references inactive concept",
				"path", c.Branch().Path, "form", form.String(), "conceptId", id)
		}
	}
}
