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

package semantic_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/wardle/go-semindex/config"
	"github.com/wardle/go-semindex/semantic"
	"github.com/wardle/go-semindex/snomed"
	"github.com/wardle/go-semindex/store"
)

// the tests use small integers as concept identifiers, with 1 as the
// terminology root
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Root = 1
	return cfg
}

func setUp(t *testing.T, cfg *config.Config) (*store.Svc, *semantic.Updater) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	svc, err := store.NewService(t.TempDir(), false, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	updater := semantic.New(svc, semantic.NewOWLConverter(), cfg, logger)
	svc.RegisterCommitListener(updater)
	return svc, updater
}

func isa(id, source, destination int64) snomed.Relationship {
	return snomed.Relationship{
		ID:                   id,
		Active:               true,
		SourceID:             source,
		DestinationID:        destination,
		TypeID:               snomed.IsA,
		CharacteristicTypeID: snomed.InferredRelationship,
	}
}

func attribute(id, source, typeID, value int64, group int32) snomed.Relationship {
	return snomed.Relationship{
		ID:                   id,
		Active:               true,
		SourceID:             source,
		DestinationID:        value,
		TypeID:               typeID,
		Group:                group,
		CharacteristicTypeID: snomed.InferredRelationship,
	}
}

func inactive(r snomed.Relationship) snomed.Relationship {
	r.Active = false
	return r
}

func axiomMember(id string, conceptID int64, expression string) snomed.ReferenceSetItem {
	return snomed.ReferenceSetItem{
		ID:                    id,
		Active:                true,
		RefsetID:              snomed.OWLAxiomReferenceSet,
		ReferencedComponentID: conceptID,
		OWLExpression:         expression,
	}
}

func commit(t *testing.T, svc *store.Svc, path string, relationships []snomed.Relationship, axioms []snomed.ReferenceSetItem) {
	t.Helper()
	c, err := svc.NewCommit(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range relationships {
		if err := c.AddRelationship(r); err != nil {
			c.Abort()
			t.Fatal(err)
		}
	}
	for _, a := range axioms {
		if err := c.AddAxiom(a); err != nil {
			c.Abort()
			t.Fatal(err)
		}
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
}

func commitRelationships(t *testing.T, svc *store.Svc, path string, relationships ...snomed.Relationship) {
	t.Helper()
	commit(t, svc, path, relationships, nil)
}

func row(t *testing.T, svc *store.Svc, path string, form snomed.Form, conceptID int64) *store.QueryConceptDoc {
	t.Helper()
	doc, err := svc.QueryConceptOnBranch(path, form, conceptID)
	if err != nil {
		t.Fatalf("no %s projection row for concept %d on %s: %v", form, conceptID, path, err)
	}
	return doc
}

func noRow(t *testing.T, svc *store.Svc, path string, form snomed.Form, conceptID int64) {
	t.Helper()
	doc, err := svc.QueryConceptOnBranch(path, form, conceptID)
	if err == nil {
		t.Fatalf("unexpected %s projection row for concept %d on %s: %+v", form, conceptID, path, doc.QueryConcept)
	}
	if err != store.ErrNotFound {
		t.Fatal(err)
	}
}

func assertIDs(t *testing.T, what string, got []int64, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: got %v, want %v", what, got, want)
		}
	}
}

func TestSingleChain(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1), isa(101, 3, 2))

	qc3 := row(t, svc, "MAIN", snomed.Inferred, 3)
	assertIDs(t, "parents of 3", qc3.Parents, 2)
	assertIDs(t, "ancestors of 3", qc3.Ancestors, 1, 2)
	qc2 := row(t, svc, "MAIN", snomed.Inferred, 2)
	assertIDs(t, "parents of 2", qc2.Parents, 1)
	assertIDs(t, "ancestors of 2", qc2.Ancestors, 1)
	qc1 := row(t, svc, "MAIN", snomed.Inferred, 1)
	assertIDs(t, "parents of root", qc1.Parents)
	assertIDs(t, "ancestors of root", qc1.Ancestors)
	noRow(t, svc, "MAIN", snomed.Stated, 3) // no stated content committed
}

func TestDiamondAndReparent(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1), isa(101, 3, 2))
	commitRelationships(t, svc, "MAIN", isa(102, 4, 2), isa(103, 4, 3))

	qc4 := row(t, svc, "MAIN", snomed.Inferred, 4)
	assertIDs(t, "parents of 4", qc4.Parents, 2, 3)
	assertIDs(t, "ancestors of 4", qc4.Ancestors, 1, 2, 3) // closure deduplicates across the diamond

	// deactivate 4->2 and add 4->1 in the same commit: 2 stays an ancestor via 3
	commitRelationships(t, svc, "MAIN", inactive(isa(102, 4, 2)), isa(104, 4, 1))
	qc4 = row(t, svc, "MAIN", snomed.Inferred, 4)
	assertIDs(t, "parents of 4 after reparent", qc4.Parents, 1, 3)
	assertIDs(t, "ancestors of 4 after reparent", qc4.Ancestors, 1, 2, 3)
}

func TestEmptyParentsDeletesRow(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1), isa(101, 3, 2))
	commitRelationships(t, svc, "MAIN", inactive(isa(101, 3, 2)))

	noRow(t, svc, "MAIN", snomed.Inferred, 3)
	row(t, svc, "MAIN", snomed.Inferred, 2)
}

func TestDescendantClosureFollowsReparent(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1), isa(101, 3, 2), isa(102, 4, 3))
	// move 3 under a new parent 5; descendant 4 loses 2 from its closure
	commitRelationships(t, svc, "MAIN", isa(103, 5, 1), inactive(isa(101, 3, 2)), isa(104, 3, 5))

	qc4 := row(t, svc, "MAIN", snomed.Inferred, 4)
	assertIDs(t, "ancestors of 4 after move", qc4.Ancestors, 1, 3, 5)
}

func TestGroupedAttributes(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 5, 1), attribute(101, 5, 7, 8, 1))

	qc5 := row(t, svc, "MAIN", snomed.Inferred, 5)
	if !qc5.AttributeGroups.Contains(1, 7, 8) {
		t.Fatalf("attribute group missing binding 7->8: %v", qc5.AttributeGroups)
	}
	// a later commit adds a second binding for the same type and group
	commitRelationships(t, svc, "MAIN", attribute(102, 5, 7, 9, 1))
	qc5 = row(t, svc, "MAIN", snomed.Inferred, 5)
	assertIDs(t, "group 1 type 7", qc5.AttributeGroups[1][7], 8, 9)

	// removal leaves the other binding in place
	commitRelationships(t, svc, "MAIN", inactive(attribute(101, 5, 7, 8, 1)))
	qc5 = row(t, svc, "MAIN", snomed.Inferred, 5)
	assertIDs(t, "group 1 type 7 after removal", qc5.AttributeGroups[1][7], 9)
}

func TestRebase(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1))
	if _, err := svc.CreateBranch("MAIN/A"); err != nil {
		t.Fatal(err)
	}
	commitRelationships(t, svc, "MAIN/A", isa(101, 10, 1))
	commitRelationships(t, svc, "MAIN", isa(102, 11, 1))

	// before the rebase the child cannot see 11
	row(t, svc, "MAIN/A", snomed.Inferred, 10)
	noRow(t, svc, "MAIN/A", snomed.Inferred, 11)

	c, err := svc.NewRebaseCommit("MAIN/A")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}

	qc10 := row(t, svc, "MAIN/A", snomed.Inferred, 10)
	assertIDs(t, "ancestors of 10 after rebase", qc10.Ancestors, 1)
	row(t, svc, "MAIN/A", snomed.Inferred, 11)
	row(t, svc, "MAIN/A", snomed.Inferred, 2)
}

func TestStatedFormFromAxioms(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commit(t, svc, "MAIN", nil, []snomed.ReferenceSetItem{
		axiomMember("m0", 2, "SubClassOf(:2 :1)"),
		axiomMember("m1", 100, "SubClassOf(:100 :2)"),
		axiomMember("m2", 200, "EquivalentClasses(:200 ObjectIntersectionOf(:2 ObjectSomeValuesFrom(:609096000 ObjectSomeValuesFrom(:7 :8))))"),
	})

	qc100 := row(t, svc, "MAIN", snomed.Stated, 100)
	assertIDs(t, "stated parents of 100", qc100.Parents, 2)
	assertIDs(t, "stated ancestors of 100", qc100.Ancestors, 1, 2)
	noRow(t, svc, "MAIN", snomed.Inferred, 100)

	qc200 := row(t, svc, "MAIN", snomed.Stated, 200)
	assertIDs(t, "stated parents of 200", qc200.Parents, 2)
	if !qc200.AttributeGroups.Contains(1, 7, 8) {
		t.Fatalf("axiom attribute group missing: %v", qc200.AttributeGroups)
	}
}

func TestAxiomReplacedWithinCommit(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	member := axiomMember("m1", 100, "SubClassOf(:100 :1)")
	member.EffectiveTime = 20190131
	commit(t, svc, "MAIN", nil, []snomed.ReferenceSetItem{
		axiomMember("m0", 2, "SubClassOf(:2 :1)"),
		member,
	})

	// a new unpublished version of the same member in a later commit ends the
	// old version; the effective-time sort replays the newer edge last
	commit(t, svc, "MAIN", nil, []snomed.ReferenceSetItem{
		axiomMember("m1", 100, "SubClassOf(:100 :2)"),
	})
	qc100 := row(t, svc, "MAIN", snomed.Stated, 100)
	assertIDs(t, "stated parents of 100", qc100.Parents, 2)
	assertIDs(t, "stated ancestors of 100", qc100.Ancestors, 1, 2)
}

func TestAxiomDeletion(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commit(t, svc, "MAIN", nil, []snomed.ReferenceSetItem{
		axiomMember("m1", 100, "SubClassOf(:100 :1)"),
	})
	row(t, svc, "MAIN", snomed.Stated, 100)

	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteAxiom("m1"); err != nil {
		c.Abort()
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	noRow(t, svc, "MAIN", snomed.Stated, 100)
}

func TestConceptModelAttributeSyntheticParent(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN",
		isa(100, snomed.ConceptModelAttribute, 1),
		isa(101, 363698007, snomed.ConceptModelObjectAttribute))

	qcObject := row(t, svc, "MAIN", snomed.Inferred, snomed.ConceptModelObjectAttribute)
	if !qcObject.HasAncestor(snomed.ConceptModelAttribute) {
		t.Fatalf("object attribute lacks synthetic parent: %v", qcObject.Ancestors)
	}
	qcFinding := row(t, svc, "MAIN", snomed.Inferred, 363698007)
	if !qcFinding.HasAncestor(snomed.ConceptModelAttribute) || !qcFinding.HasAncestor(1) {
		t.Fatalf("attribute concept has wrong closure: %v", qcFinding.Ancestors)
	}
}

func TestRebuildMatchesIncremental(t *testing.T) {
	svc, updater := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1), isa(101, 3, 2))
	commitRelationships(t, svc, "MAIN", isa(102, 4, 2), isa(103, 4, 3))
	commitRelationships(t, svc, "MAIN", inactive(isa(102, 4, 2)), isa(104, 4, 1), attribute(105, 4, 7, 8, 0))

	before := make(map[int64]*snomed.QueryConcept)
	for _, id := range []int64{1, 2, 3, 4} {
		before[id] = &row(t, svc, "MAIN", snomed.Inferred, id).QueryConcept
	}
	if err := updater.Rebuild("MAIN"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{1, 2, 3, 4} {
		after := row(t, svc, "MAIN", snomed.Inferred, id)
		if !after.QueryConcept.Equal(before[id]) {
			t.Fatalf("rebuild diverged for %d: %+v != %+v", id, after.QueryConcept, *before[id])
		}
	}
}

func TestDescendantEnumeration(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1), isa(101, 3, 2), isa(102, 4, 3))

	descendants, err := svc.DescendantsOnBranch("MAIN", snomed.Inferred, 2)
	if err != nil {
		t.Fatal(err)
	}
	found := make(map[int64]bool)
	for _, id := range descendants {
		found[id] = true
	}
	if len(descendants) != 2 || !found[3] || !found[4] {
		t.Fatalf("descendants of 2: %v", descendants)
	}
}

func TestDisabledIndexing(t *testing.T) {
	cfg := testConfig()
	cfg.SemanticIndexingEnabled = false
	svc, _ := setUp(t, cfg)
	commitRelationships(t, svc, "MAIN", isa(100, 2, 1))
	noRow(t, svc, "MAIN", snomed.Inferred, 2)
}

type failingConverter struct{}

func (failingConverter) Convert(item *snomed.ReferenceSetItem) (*semantic.ConvertedAxiom, error) {
	return nil, errors.New("conversion service unavailable")
}

func TestConversionFailureAbortsCommit(t *testing.T) {
	logger := zap.NewNop().Sugar()
	svc, err := store.NewService(t.TempDir(), false, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	updater := semantic.New(svc, failingConverter{}, testConfig(), logger)
	svc.RegisterCommitListener(updater)

	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(isa(100, 2, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddAxiom(axiomMember("m1", 100, "SubClassOf(:100 :1)")); err != nil {
		t.Fatal(err)
	}
	err = c.Complete()
	if err == nil {
		t.Fatal("commit should have been aborted")
	}
	if !errors.Is(err, semantic.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	// the aborted commit left no projection row behind
	noRow(t, svc, "MAIN", snomed.Inferred, 2)
}

func TestEmptyCommitIsNoOp(t *testing.T) {
	svc, _ := setUp(t, testConfig())
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	noRow(t, svc, "MAIN", snomed.Inferred, 1)
}
