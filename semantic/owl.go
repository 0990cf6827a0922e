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
	"fmt"
	"strconv"
	"strings"

	"github.com/wardle/go-semindex/snomed"
)

// roleGroup is the concept wrapping a set of attributes into one
// relationship group within an OWL expression.
const roleGroup int64 = 609096000

// OWLConverter decomposes OWL functional-syntax axiom expressions of the
// shapes distributed in release files: SubClassOf and EquivalentClasses
// axioms with a named left-hand side and a right-hand side built from named
// classes, ObjectIntersectionOf and (role-grouped) ObjectSomeValuesFrom.
// GCIs and axioms other than SubClassOf/EquivalentClasses (e.g. property
// axioms) are reported as not a regular axiom and skipped by the index; any
// other right-hand-side construct is a conversion error.
type OWLConverter struct{}

// NewOWLConverter creates a converter for release-format axiom expressions.
func NewOWLConverter() *OWLConverter {
	return &OWLConverter{}
}

// Convert implements AxiomConverter.
func (oc *OWLConverter) Convert(item *snomed.ReferenceSetItem) (*ConvertedAxiom, error) {
	expr, err := parseOWLExpression(item.OWLExpression)
	if err != nil {
		return nil, err
	}
	if expr.head != "SubClassOf" && expr.head != "EquivalentClasses" {
		return &ConvertedAxiom{}, nil // e.g. a property or ontology axiom
	}
	if len(expr.args) != 2 {
		return nil, fmt.Errorf("%s: expected 2 operands, got %d", expr.head, len(expr.args))
	}
	lhs, ok := expr.args[0].namedClass()
	if !ok {
		return &ConvertedAxiom{}, nil // general concept inclusion; no named LHS
	}
	d := &decomposer{}
	if err := d.decompose(expr.args[1], 0); err != nil {
		return nil, err
	}
	if len(d.relationships) == 0 {
		return &ConvertedAxiom{}, nil
	}
	return &ConvertedAxiom{NamedConceptID: lhs, Relationships: d.relationships}, nil
}

type decomposer struct {
	relationships []snomed.Relationship
	groups        int32
}

func (d *decomposer) decompose(t *term, group int32) error {
	if id, ok := t.namedClass(); ok {
		d.relationships = append(d.relationships, snomed.Relationship{
			TypeID:               snomed.IsA,
			DestinationID:        id,
			Group:                group,
			CharacteristicTypeID: snomed.StatedRelationship,
			Active:               true,
		})
		return nil
	}
	switch t.head {
	case "ObjectIntersectionOf":
		for _, arg := range t.args {
			if err := d.decompose(arg, group); err != nil {
				return err
			}
		}
		return nil
	case "ObjectSomeValuesFrom":
		if len(t.args) != 2 {
			return fmt.Errorf("ObjectSomeValuesFrom: expected 2 operands, got %d", len(t.args))
		}
		property, ok := t.args[0].namedClass()
		if !ok {
			return fmt.Errorf("ObjectSomeValuesFrom: unnamed property")
		}
		if property == roleGroup {
			d.groups++
			return d.decompose(t.args[1], d.groups)
		}
		value, ok := t.args[1].namedClass()
		if !ok {
			return fmt.Errorf("ObjectSomeValuesFrom: nested filler for property %d", property)
		}
		d.relationships = append(d.relationships, snomed.Relationship{
			TypeID:               property,
			DestinationID:        value,
			Group:                group,
			CharacteristicTypeID: snomed.StatedRelationship,
			Active:               true,
		})
		return nil
	}
	return fmt.Errorf("unsupported class expression %q", t.head)
}

// term is a parsed functional-syntax node: either a named entity (":123") or
// a compound "Head(arg arg ...)".
type term struct {
	head string
	name string
	args []*term
}

func (t *term) namedClass() (int64, bool) {
	if t.name == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(t.name, ":"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseOWLExpression(s string) (*term, error) {
	p := &owlParser{input: s}
	t, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing input at offset %d", p.pos)
	}
	return t, nil
}

type owlParser struct {
	input string
	pos   int
}

func (p *owlParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *owlParser) parseTerm() (*term, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && !strings.ContainsRune("() \t\n", rune(p.input[p.pos])) {
		p.pos++
	}
	word := p.input[start:p.pos]
	if word == "" {
		return nil, fmt.Errorf("expected term at offset %d", start)
	}
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		p.pos++ // consume '('
		t := &term{head: word}
		for {
			p.skipSpace()
			if p.pos >= len(p.input) {
				return nil, fmt.Errorf("unterminated %s(", word)
			}
			if p.input[p.pos] == ')' {
				p.pos++
				return t, nil
			}
			arg, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			t.args = append(t.args, arg)
		}
	}
	return &term{name: word}, nil
}
