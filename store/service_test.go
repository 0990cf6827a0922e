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

package store_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/wardle/go-semindex/snomed"
	"github.com/wardle/go-semindex/store"
)

func setUp(t *testing.T) *store.Svc {
	t.Helper()
	svc, err := store.NewService(t.TempDir(), false, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func relationship(id int64, active bool) snomed.Relationship {
	return snomed.Relationship{
		ID:                   id,
		Active:               active,
		SourceID:             24700007,
		DestinationID:        6118003,
		TypeID:               snomed.IsA,
		CharacteristicTypeID: snomed.InferredRelationship,
	}
}

// visibleRelationships reads the relationships visible on a branch outside
// any commit.
func visibleRelationships(t *testing.T, svc *store.Svc, path string) map[int64]*store.RelationshipDoc {
	t.Helper()
	c, err := svc.NewCommit(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Abort()
	result := make(map[int64]*store.RelationshipDoc)
	for rs := range svc.StreamRelationships(context.Background(), store.Committed(c)) {
		if rs.Err != nil {
			t.Fatal(rs.Err)
		}
		result[rs.Relationship.ID] = rs.RelationshipDoc
	}
	return result
}

func TestCommitVisibility(t *testing.T) {
	svc := setUp(t)
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(relationship(1, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	docs := visibleRelationships(t, svc, "MAIN")
	if len(docs) != 1 || !docs[1].Relationship.Active {
		t.Fatalf("visible relationships: %v", docs)
	}
}

func TestBranchLayering(t *testing.T) {
	svc := setUp(t)
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(relationship(1, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateBranch("MAIN/A"); err != nil {
		t.Fatal(err)
	}
	// the child inherits the parent's version, then overlays its own
	docs := visibleRelationships(t, svc, "MAIN/A")
	if len(docs) != 1 || !docs[1].Relationship.Active {
		t.Fatalf("inherited relationships: %v", docs)
	}
	c, err = svc.NewCommit("MAIN/A")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(relationship(1, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}

	childDocs := visibleRelationships(t, svc, "MAIN/A")
	if len(childDocs) != 1 || childDocs[1].Relationship.Active {
		t.Fatalf("child should see its own inactive version: %v", childDocs)
	}
	parentDocs := visibleRelationships(t, svc, "MAIN")
	if len(parentDocs) != 1 || !parentDocs[1].Relationship.Active {
		t.Fatalf("parent must be untouched by child commits: %v", parentDocs)
	}
	branch, err := svc.Branch("MAIN/A")
	if err != nil {
		t.Fatal(err)
	}
	if len(branch.VersionsReplaced[store.KindRelationship]) != 1 {
		t.Fatalf("child should hide exactly the parent version it replaced: %v", branch.VersionsReplaced)
	}
}

func TestChildDoesNotSeeLaterParentContent(t *testing.T) {
	svc := setUp(t)
	if _, err := svc.CreateBranch("MAIN/A"); err != nil {
		t.Fatal(err)
	}
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(relationship(1, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	if docs := visibleRelationships(t, svc, "MAIN/A"); len(docs) != 0 {
		t.Fatalf("content committed after the branch base must be invisible: %v", docs)
	}
	// a rebase brings it into view
	rc, err := svc.NewRebaseCommit("MAIN/A")
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.Complete(); err != nil {
		t.Fatal(err)
	}
	if docs := visibleRelationships(t, svc, "MAIN/A"); len(docs) != 1 {
		t.Fatalf("rebased child should see the parent content: %v", docs)
	}
}

type vetoListener struct{}

func (vetoListener) PreCommitCompletion(c *store.Commit) error {
	return errors.New("veto")
}

func TestListenerErrorAbortsCommit(t *testing.T) {
	svc := setUp(t)
	svc.RegisterCommitListener(vetoListener{})
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(relationship(1, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err == nil {
		t.Fatal("listener veto should abort the commit")
	}
	if docs := visibleRelationships(t, svc, "MAIN"); len(docs) != 0 {
		t.Fatalf("aborted commit must leave nothing visible: %v", docs)
	}
	// the branch lock was released: visibleRelationships above opened a
	// further commit on the same branch
}

func TestDeleteRelationship(t *testing.T) {
	svc := setUp(t)
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddRelationship(relationship(1, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	c, err = svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteRelationship(1); err != nil {
		t.Fatal(err)
	}
	if len(c.EntitiesDeleted(store.KindRelationship)) != 1 {
		t.Fatal("deletion should be recorded on the commit")
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	if docs := visibleRelationships(t, svc, "MAIN"); len(docs) != 0 {
		t.Fatalf("deleted relationship still visible: %v", docs)
	}
}

func TestConceptVersioning(t *testing.T) {
	svc := setUp(t)
	c, err := svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddConcept(snomed.Concept{ID: 24700007, Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	// supersede with an inactivated version
	c, err = svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddConcept(snomed.Concept{ID: 24700007, Active: false}); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatal(err)
	}
	c, err = svc.NewCommit("MAIN")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Abort()
	concepts, err := svc.Concepts(store.Committed(c), map[int64]struct{}{24700007: {}, 6118003: {}})
	if err != nil {
		t.Fatal(err)
	}
	if len(concepts) != 1 {
		t.Fatalf("expected one concept, got %v", concepts)
	}
	if concepts[24700007].Concept.Active {
		t.Fatal("latest version should be inactive")
	}
}

func TestCreateBranchValidation(t *testing.T) {
	svc := setUp(t)
	if _, err := svc.CreateBranch("MAIN"); err != store.ErrBranchExists {
		t.Fatalf("expected ErrBranchExists, got %v", err)
	}
	if _, err := svc.CreateBranch("PROJECT"); err == nil {
		t.Fatal("branches must descend from the root branch")
	}
	if _, err := svc.CreateBranch("MAIN/A/B"); err == nil {
		t.Fatal("missing intermediate parent must be rejected")
	}
	if _, err := svc.CreateBranch("MAIN/A"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateBranch("MAIN/A/B"); err != nil {
		t.Fatal(err)
	}
}
