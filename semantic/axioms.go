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
	"errors"
	"fmt"

	"github.com/wardle/go-semindex/snomed"
	"github.com/wardle/go-semindex/store"
)

// ErrConversion is the fatal error kind for axiom conversion failures; it
// aborts the commit that triggered the conversion.
var ErrConversion = errors.New("axiom conversion failed")

// ConvertedAxiom is the decomposition of one OWL axiom expression: the named
// concept on its left-hand side and the synthetic relationships on its right.
// A zero named concept or empty relationship set marks an axiom that is not a
// regular subclass/equivalence axiom (e.g. a GCI or property axiom) and is
// skipped by the index.
type ConvertedAxiom struct {
	NamedConceptID int64
	Relationships  []snomed.Relationship
}

// AxiomConverter decomposes an OWL axiom reference set member into synthetic
// relationships. Implemented by the external axiom conversion service.
type AxiomConverter interface {
	Convert(item *snomed.ReferenceSetItem) (*ConvertedAxiom, error)
}

// forEachAxiomFragment streams axiom member versions through the converter,
// stamping the named concept onto each fragment's source, and hands every
// fragment to the consumer. A conversion failure is captured and returned at
// stream end (remaining members are skipped but the stream drains), so the
// surrounding commit aborts at the stream boundary rather than
// mid-iteration.
func forEachAxiomFragment(converter AxiomConverter, docs []*store.AxiomDoc, consumer func(*store.AxiomDoc, snomed.Relationship) error) error {
	var convErr error
	for _, doc := range docs {
		if convErr != nil {
			continue
		}
		converted, err := converter.Convert(&doc.ReferenceSetItem)
		if err != nil {
			convErr = fmt.Errorf("%w: member %s: %v", ErrConversion, doc.ReferenceSetItem.ID, err)
			continue
		}
		if converted == nil || converted.NamedConceptID == 0 || len(converted.Relationships) == 0 {
			continue // not a regular axiom
		}
		for _, rel := range converted.Relationships {
			rel.SourceID = converted.NamedConceptID
			if err := consumer(doc, rel); err != nil {
				return err
			}
		}
	}
	return convErr
}
