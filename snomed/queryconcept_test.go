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

package snomed_test

import (
	"encoding/json"
	"testing"

	"github.com/wardle/go-semindex/snomed"
)

func TestConceptIDForm(t *testing.T) {
	if got := snomed.Stated.ConceptIDForm(24700007); got != "24700007_s" {
		t.Fatalf("stated key: %s", got)
	}
	if got := snomed.Inferred.ConceptIDForm(24700007); got != "24700007_i" {
		t.Fatalf("inferred key: %s", got)
	}
	if snomed.Stated.DefaultCharacteristicTypes()[0] == snomed.Inferred.DefaultCharacteristicTypes()[0] {
		t.Fatal("characteristic type sets must be disjoint")
	}
}

func TestAttributeGroups(t *testing.T) {
	g := make(snomed.AttributeGroups)
	g.Add(1, 7, 8)
	g.Add(1, 7, 8) // idempotent
	g.Add(1, 7, 9)
	g.Add(2, 7, 8)
	if len(g[1][7]) != 2 {
		t.Fatalf("group 1 type 7: %v", g[1][7])
	}
	g.Remove(1, 7, 8)
	g.Remove(1, 7, 8) // idempotent
	if len(g[1][7]) != 1 || g[1][7][0] != 9 {
		t.Fatalf("after removal: %v", g[1][7])
	}
	g.Remove(2, 7, 8)
	if _, ok := g[2]; ok {
		t.Fatal("empty groups must be pruned")
	}
}

func TestAttributeGroupsRoundTrip(t *testing.T) {
	g := make(snomed.AttributeGroups)
	g.Add(0, 116676008, 26036001)
	g.Add(1, 363698007, 955009)
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	var back snomed.AttributeGroups
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !g.Equal(back) {
		t.Fatalf("round trip diverged: %v != %v", g, back)
	}
}

func TestQueryConceptEqual(t *testing.T) {
	a := snomed.NewQueryConcept(4, snomed.Inferred)
	a.SetParents(map[int64]struct{}{2: {}, 3: {}})
	a.SetAncestors(map[int64]struct{}{1: {}, 2: {}, 3: {}})
	b := snomed.NewQueryConcept(4, snomed.Inferred)
	b.SetParents(map[int64]struct{}{3: {}, 2: {}})
	b.SetAncestors(map[int64]struct{}{3: {}, 2: {}, 1: {}})
	if !a.Equal(b) {
		t.Fatal("sets are order independent")
	}
	b.SetParents(map[int64]struct{}{2: {}})
	if a.Equal(b) {
		t.Fatal("different parents must differ")
	}
	if !a.HasAncestor(2) || a.HasAncestor(4) {
		t.Fatal("ancestor membership wrong")
	}
}
