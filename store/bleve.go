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
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/index/scorch"
	"github.com/blevesearch/bleve/search/query"
	"github.com/wardle/go-semindex/snomed"
)

// maxClauseSize bounds the number of term clauses in any single search, and
// searchPageSize the number of hits fetched per page; result sets larger than
// either are chunked and paged rather than widened.
const (
	maxClauseSize  = 512
	searchPageSize = 1000
)

// searchIndex encapsulates the bleve index over projection rows. Ancestor
// membership ("which rows claim X as an ancestor?") is a term query; there is
// no separate ancestor table.
type searchIndex struct {
	index bleve.Index
}

// document is the document indexed by bleve for each projection row version.
// The document identifier is the row's storage key; Keywords carries prefixed
// terms for branch path, form, concept id, direct parents and ancestors.
type document struct {
	ID       string
	Keywords []string
}

func newSearchIndex(path string, readOnly bool) (*searchIndex, error) {
	config := map[string]interface{}{
		"read_only": readOnly,
	}
	index, err := bleve.OpenUsing(path, config)
	if err == nil {
		return &searchIndex{index: index}, err
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		return nil, err
	}
	if readOnly {
		return nil, fmt.Errorf("cannot open index in read-only mode: index doesn't exist at %s", path)
	}
	indexMapping := bleve.NewIndexMapping()
	documentMapping := bleve.NewDocumentMapping() // index only a single type of document
	indexMapping.AddDocumentMapping("document", documentMapping)
	indexMapping.DefaultType = "document"

	idMapping := bleve.NewTextFieldMapping()
	idMapping.IncludeInAll = false
	idMapping.IncludeTermVectors = false
	idMapping.Store = true
	idMapping.Analyzer = keyword.Name

	keywordMapping := bleve.NewTextFieldMapping()
	keywordMapping.Analyzer = keyword.Name
	keywordMapping.Store = false
	keywordMapping.IncludeInAll = false
	keywordMapping.IncludeTermVectors = false
	documentMapping.AddFieldMappingsAt("Keywords", keywordMapping)

	index, err = bleve.NewUsing(path, indexMapping, scorch.Name, scorch.Name, nil)
	return &searchIndex{index: index}, err
}

func (si *searchIndex) indexRows(docs []*QueryConceptDoc) error {
	batch := si.index.NewBatch()
	for _, doc := range docs {
		d := document{ID: doc.Key(), Keywords: rowKeywords(doc)}
		if err := batch.Index(d.ID, &d); err != nil {
			return err
		}
	}
	return si.index.Batch(batch)
}

func (si *searchIndex) close() error {
	return si.index.Close()
}

func rowKeywords(doc *QueryConceptDoc) []string {
	words := make([]string, 0, 3+len(doc.Parents)+len(doc.Ancestors))
	words = append(words, "b"+doc.Path)
	if doc.Stated {
		words = append(words, "fs")
	} else {
		words = append(words, "fi")
	}
	words = append(words, "c"+strconv.FormatInt(doc.QueryConcept.ConceptID, 10))
	writeIdentifiers(&words, "dp", doc.Parents)
	writeIdentifiers(&words, "rp", doc.Ancestors)
	return words
}

func writeIdentifiers(words *[]string, prefix string, ids []int64) {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(prefix)
		sb.WriteString(strconv.FormatInt(id, 10))
		*words = append(*words, sb.String())
		sb.Reset()
	}
}

func formKeyword(form snomed.Form) string {
	if form.IsStated() {
		return "fs"
	}
	return "fi"
}

// rowKeys searches for projection row storage keys on any of the given paths
// in the given form, with the given id terms (prefixed "c" for concept id or
// "rp" for ancestor membership). Paged; bounded memory per page.
func (si *searchIndex) rowKeys(paths []string, form snomed.Form, idPrefix string, ids []int64) ([]string, error) {
	keys := make([]string, 0)
	for start := 0; start < len(ids); start += maxClauseSize {
		end := start + maxClauseSize
		if end > len(ids) {
			end = len(ids)
		}
		q := bleve.NewConjunctionQuery()
		q.AddQuery(termsDisjunction("b", paths))
		fq := bleve.NewTermQuery(formKeyword(form))
		fq.SetField("Keywords")
		q.AddQuery(fq)
		idTerms := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			idTerms = append(idTerms, idPrefix+strconv.FormatInt(id, 10))
		}
		q.AddQuery(termsDisjunction("", idTerms))
		chunk, err := si.search(q)
		if err != nil {
			return nil, err
		}
		keys = append(keys, chunk...)
	}
	return keys, nil
}

func termsDisjunction(prefix string, terms []string) query.Query {
	q := bleve.NewDisjunctionQuery()
	for _, t := range terms {
		tq := bleve.NewTermQuery(prefix + t)
		tq.SetField("Keywords")
		q.AddQuery(tq)
	}
	return q
}

// search runs a paged search, gathering all hit identifiers.
func (si *searchIndex) search(q query.Query) ([]string, error) {
	keys := make([]string, 0)
	from := 0
	for {
		req := bleve.NewSearchRequest(q)
		req.Size = searchPageSize
		req.From = from
		result, err := si.index.Search(req)
		if err != nil {
			return nil, err
		}
		for _, hit := range result.Hits {
			keys = append(keys, hit.ID)
		}
		if len(result.Hits) < searchPageSize {
			return keys, nil
		}
		from += searchPageSize
	}
}

// QueryConceptsByIDs returns the visible projection rows in the given form
// for the given concept identifiers.
func (svc *Svc) QueryConceptsByIDs(cr Criteria, form snomed.Form, ids map[int64]struct{}) ([]*QueryConceptDoc, error) {
	return svc.queryRows(cr, form, "c", ids)
}

// QueryConceptsByAncestors returns the visible projection rows in the given
// form whose ancestor set contains any of the given concept identifiers.
func (svc *Svc) QueryConceptsByAncestors(cr Criteria, form snomed.Form, ids map[int64]struct{}) ([]*QueryConceptDoc, error) {
	return svc.queryRows(cr, form, "rp", ids)
}

// QueryConceptByID returns the visible projection row for one concept in one
// form, or ErrNotFound.
func (svc *Svc) QueryConceptByID(cr Criteria, form snomed.Form, conceptID int64) (*QueryConceptDoc, error) {
	rows, err := svc.queryRows(cr, form, "c", map[int64]struct{}{conceptID: {}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (svc *Svc) queryRows(cr Criteria, form snomed.Form, idPrefix string, ids map[int64]struct{}) ([]*QueryConceptDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	c := cr.commit
	chain, err := c.cuts()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(chain))
	for i, pc := range chain {
		paths[i] = pc.branch.Path
	}
	idList := make([]int64, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	keys, err := svc.search.rowKeys(paths, form, idPrefix, idList)
	if err != nil {
		return nil, err
	}
	byForm := make(map[string]*QueryConceptDoc)
	err = svc.store.View(func(b Batch) error {
		for _, key := range keys {
			var doc QueryConceptDoc
			if err := b.Get(bkQueryConcepts, []byte(key), &doc); err != nil {
				if err == ErrNotFound { // index may run ahead of a compaction; skip
					continue
				}
				return err
			}
			if !c.docVisible(KindQueryConcept, doc.Meta(), chain) {
				continue
			}
			if existing, ok := byForm[doc.ConceptIDForm]; ok {
				if pickNewer(existing, &doc) == existing {
					continue
				}
			}
			copied := doc
			byForm[doc.ConceptIDForm] = &copied
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := make([]*QueryConceptDoc, 0, len(byForm))
	for _, doc := range byForm {
		result = append(result, doc)
	}
	return result, nil
}

// QueryConceptOnBranch returns the projection row visible on a branch
// outside any commit, or ErrNotFound. This is the read path for subsumption
// tests: "is A a kind of B?" is row(A).HasAncestor(B).
func (svc *Svc) QueryConceptOnBranch(branchPath string, form snomed.Form, conceptID int64) (*QueryConceptDoc, error) {
	c, err := svc.NewCommit(branchPath)
	if err != nil {
		return nil, err
	}
	defer c.Abort()
	return svc.QueryConceptByID(Committed(c), form, conceptID)
}

// DescendantsOnBranch enumerates the concepts on a branch whose ancestor set
// contains the given concept, in one form.
func (svc *Svc) DescendantsOnBranch(branchPath string, form snomed.Form, ancestorID int64) ([]int64, error) {
	c, err := svc.NewCommit(branchPath)
	if err != nil {
		return nil, err
	}
	defer c.Abort()
	rows, err := svc.QueryConceptsByAncestors(Committed(c), form, map[int64]struct{}{ancestorID: {}})
	if err != nil {
		return nil, err
	}
	result := make([]int64, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.QueryConcept.ConceptID)
	}
	return result, nil
}

// StreamBranchQueryConcepts streams the live projection row versions authored
// on a branch, for rebase reconciliation.
func (svc *Svc) StreamBranchQueryConcepts(path string) <-chan QueryConceptStream {
	out := make(chan QueryConceptStream)
	go func() {
		defer close(out)
		err := svc.store.View(func(b Batch) error {
			return b.Iterate(bkQueryConcepts, pathPrefix(path), func(key, value []byte) error {
				doc := new(QueryConceptDoc)
				if err := unmarshalDoc(value, doc); err != nil {
					return err
				}
				if doc.End != 0 {
					return nil
				}
				out <- QueryConceptStream{QueryConceptDoc: doc}
				return nil
			})
		})
		if err != nil {
			out <- QueryConceptStream{Err: err}
		}
	}()
	return out
}
