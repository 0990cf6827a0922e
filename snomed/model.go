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

// Package snomed defines the core SNOMED CT component model used by the
// versioned content store and the semantic index, together with the
// well-known identifiers of the SNOMED CT concept model.
package snomed

// Concept is a SNOMED CT concept in its release-file shape.
type Concept struct {
	ID                 int64 `json:"conceptId"`
	EffectiveTime      int32 `json:"effectiveTime,omitempty"` // yyyymmdd, 0 if unpublished
	Active             bool  `json:"active"`
	ModuleID           int64 `json:"moduleId,omitempty"`
	DefinitionStatusID int64 `json:"definitionStatusId,omitempty"`
}

// Relationship is a single assertion that a source concept has an attribute
// of a given type and value (destination), within a relationship group.
// TypeID == IsA denotes a hierarchical parent edge; any other type is a
// grouped attribute.
type Relationship struct {
	ID                   int64 `json:"relationshipId"`
	EffectiveTime        int32 `json:"effectiveTime,omitempty"`
	Active               bool  `json:"active"`
	ModuleID             int64 `json:"moduleId,omitempty"`
	SourceID             int64 `json:"sourceId"`
	DestinationID        int64 `json:"destinationId"`
	Group                int32 `json:"relationshipGroup"`
	TypeID               int64 `json:"typeId"`
	CharacteristicTypeID int64 `json:"characteristicTypeId"`
	ModifierID           int64 `json:"modifierId,omitempty"`
}

// IsIsA returns whether this relationship is a hierarchical (IS-A) edge.
func (r *Relationship) IsIsA() bool {
	return r.TypeID == IsA
}

// ReferenceSetItem is a single member of a reference set. The semantic index
// consumes only members of the OWL axiom reference set, whose OWLExpression
// carries an opaque logical axiom referring to the referenced component.
type ReferenceSetItem struct {
	ID                    string `json:"memberId"` // uuid
	EffectiveTime         int32  `json:"effectiveTime,omitempty"`
	Active                bool   `json:"active"`
	ModuleID              int64  `json:"moduleId,omitempty"`
	RefsetID              int64  `json:"refsetId"`
	ReferencedComponentID int64  `json:"referencedComponentId"`
	OWLExpression         string `json:"owlExpression,omitempty"`
}
