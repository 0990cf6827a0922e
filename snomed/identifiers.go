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

// Well-known concept identifiers, predominantly from the SNOMED CT metadata
// and concept model.
const (
	// IsA is the hierarchical relationship type
	IsA int64 = 116680003

	// Root is the root concept of the terminology
	Root int64 = 138875005

	// ConceptModelAttribute is the top attribute concept of the concept model
	ConceptModelAttribute int64 = 410662002

	// ConceptModelObjectAttribute is the object-attribute concept; it has
	// ConceptModelAttribute as a parent in every index form even though no
	// distributed relationship asserts that edge
	ConceptModelObjectAttribute int64 = 762705008

	// OWLAxiomReferenceSet identifies the reference set whose members carry
	// OWL axiom expressions
	OWLAxiomReferenceSet int64 = 733073007

	// Characteristic types distinguishing the flavours of relationship
	StatedRelationship     int64 = 900000000000010007
	InferredRelationship   int64 = 900000000000011006
	AdditionalRelationship int64 = 900000000000227009
)
