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
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	descriptorName = "semidx.json"
	currentVersion = 1
	storeKind      = "level"
	searchKind     = "bleve"
	branchKind     = "bolt"
)

// Svc is the versioned branching content store: component documents in
// leveldb, projection rows additionally indexed in bleve, branch metadata in
// bolt. Writes are serialised per branch by an in-process lock held for the
// lifetime of each commit.
type Svc struct {
	path     string
	store    Store
	search   *searchIndex
	branches *branchStore
	log      *zap.SugaredLogger
	Descriptor

	batchSaveSize int
	listeners     []Listener

	mu            sync.Mutex
	locks         map[string]*sync.Mutex
	lastTimepoint int64
}

// Descriptor provides a simple structure for file-backed database versioning
// and configuration.
type Descriptor struct {
	Version    int32
	StoreKind  string
	SearchKind string
	BranchKind string
}

// NewService opens or creates a store at the specified location. The root
// branch is created on first open.
func NewService(path string, readOnly bool, logger *zap.SugaredLogger) (*Svc, error) {
	err := os.MkdirAll(path, 0771)
	if err != nil {
		return nil, err
	}
	descriptor, err := createOrOpenDescriptor(path)
	if err != nil {
		return nil, err
	}
	if descriptor.Version != currentVersion {
		return nil, fmt.Errorf("incompatible database format v%d, needed v%d", descriptor.Version, currentVersion)
	}
	if descriptor.StoreKind != storeKind || descriptor.SearchKind != searchKind || descriptor.BranchKind != branchKind {
		return nil, fmt.Errorf("incompatible database backends '%s/%s/%s'", descriptor.StoreKind, descriptor.SearchKind, descriptor.BranchKind)
	}
	store, err := newLevelStore(filepath.Join(path, "level.db"), readOnly)
	if err != nil {
		return nil, err
	}
	search, err := newSearchIndex(filepath.Join(path, "bleve.db"), readOnly)
	if err != nil {
		store.Close()
		return nil, err
	}
	branches, err := newBranchStore(filepath.Join(path, "branch.db"), readOnly)
	if err != nil {
		search.close()
		store.Close()
		return nil, err
	}
	svc := &Svc{
		path:          path,
		store:         store,
		search:        search,
		branches:      branches,
		log:           logger,
		Descriptor:    *descriptor,
		batchSaveSize: 1000,
		locks:         make(map[string]*sync.Mutex),
	}
	if !readOnly {
		if _, err := svc.branches.branch(RootBranch); err == ErrBranchNotFound {
			if _, err := svc.CreateBranch(RootBranch); err != nil {
				svc.Close()
				return nil, err
			}
		} else if err != nil {
			svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

// Close closes any open resources in the backend implementations
func (svc *Svc) Close() error {
	if svc.search != nil {
		if err := svc.search.close(); err != nil {
			return err
		}
	}
	if svc.branches != nil {
		if err := svc.branches.close(); err != nil {
			return err
		}
	}
	return svc.store.Close()
}

func createOrOpenDescriptor(path string) (*Descriptor, error) {
	descriptorFilename := filepath.Join(path, descriptorName)
	if _, err := os.Stat(descriptorFilename); os.IsNotExist(err) {
		desc := &Descriptor{
			Version:    currentVersion,
			StoreKind:  storeKind,
			SearchKind: searchKind,
			BranchKind: branchKind,
		}
		return desc, saveDescriptor(path, desc)
	}
	data, err := ioutil.ReadFile(descriptorFilename)
	if err != nil {
		return nil, err
	}
	var desc Descriptor
	return &desc, json.Unmarshal(data, &desc)
}

func saveDescriptor(path string, descriptor *Descriptor) error {
	data, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(path, descriptorName), data, 0644)
}

// SetBatchSaveSize sets the number of documents persisted per write batch.
func (svc *Svc) SetBatchSaveSize(size int) {
	if size > 0 {
		svc.batchSaveSize = size
	}
}

// RegisterCommitListener registers a listener invoked between every commit's
// staged writes and its durability.
func (svc *Svc) RegisterCommitListener(l Listener) {
	svc.listeners = append(svc.listeners, l)
}

// Branch returns the branch document for the given path.
func (svc *Svc) Branch(path string) (*Branch, error) {
	return svc.branches.branch(path)
}

// Branches lists all branches.
func (svc *Svc) Branches() ([]*Branch, error) {
	return svc.branches.branches()
}

// CreateBranch creates a new branch as a child of its (existing) parent,
// based on the parent's current head.
func (svc *Svc) CreateBranch(path string) (*Branch, error) {
	if err := validBranchPath(path); err != nil {
		return nil, err
	}
	if exists, err := svc.branches.exists(path); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrBranchExists
	}
	now := svc.nextTimepoint()
	branch := &Branch{Path: path, Created: now, Head: now}
	if parent, ok := parentPath(path); ok {
		pb, err := svc.branches.branch(parent)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		branch.Base = pb.Head
	}
	if err := svc.branches.saveBranch(branch); err != nil {
		return nil, err
	}
	svc.log.Infow("created branch", "path", path, "base", branch.Base)
	return branch, nil
}

// NewCommit opens a commit on a branch, taking the branch lock. The commit
// must be resolved with Complete or Abort.
func (svc *Svc) NewCommit(branchPath string) (*Commit, error) {
	lock := svc.branchLock(branchPath)
	lock.Lock()
	branch, err := svc.branches.branch(branchPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return newCommit(svc, branch, svc.nextTimepoint()), nil
}

// NewRebaseCommit opens a commit that re-parents the branch onto the current
// head of its parent.
func (svc *Svc) NewRebaseCommit(branchPath string) (*Commit, error) {
	c, err := svc.NewCommit(branchPath)
	if err != nil {
		return nil, err
	}
	parent, ok := c.branch.ParentPath()
	if !ok {
		c.Abort()
		return nil, fmt.Errorf("cannot rebase root branch %s", branchPath)
	}
	pb, err := svc.branches.branch(parent)
	if err != nil {
		c.Abort()
		return nil, err
	}
	c.rebase = true
	c.newBase = pb.Head
	return c, nil
}

// Complete runs the registered commit listeners and, if none fails, makes the
// commit durable: staged documents are written in batches, superseded
// versions are ended, and the branch head advances in one metadata
// transaction. A listener error aborts the commit, leaving the store
// untouched.
func (c *Commit) Complete() error {
	if c.closed {
		return fmt.Errorf("commit on %s already closed", c.branch.Path)
	}
	svc := c.svc
	for _, l := range svc.listeners {
		if err := l.PreCommitCompletion(c); err != nil {
			svc.log.Errorw("commit aborted by listener", "path", c.branch.Path, "timepoint", c.timepoint, "error", err)
			c.Abort()
			return err
		}
	}
	if err := svc.persist(c); err != nil {
		c.Abort()
		return fmt.Errorf("commit on %s: %w", c.branch.Path, err)
	}
	branch := c.branch
	branch.Head = c.timepoint
	if c.rebase {
		branch.Base = c.newBase
	}
	for kind := range c.clearReplaced {
		delete(branch.VersionsReplaced, kind)
	}
	for kind, keys := range c.replaced {
		for key := range keys {
			branch.addReplaced(kind, key)
		}
	}
	record := &commitRecord{
		Path:         branch.Path,
		Timepoint:    c.timepoint,
		Rebase:       c.rebase,
		LockMetadata: c.LockMetadata,
	}
	if err := svc.branches.completeCommit(branch, record); err != nil {
		c.Abort()
		return fmt.Errorf("commit on %s: %w", branch.Path, err)
	}
	c.closed = true
	svc.branchLock(branch.Path).Unlock()
	svc.log.Debugw("commit complete", "path", branch.Path, "timepoint", c.timepoint, "rebase", c.rebase)
	return nil
}

// Abort releases the branch lock and discards all staged writes. Documents
// already flushed by a partially failed completion stay invisible because the
// branch head never advanced.
func (c *Commit) Abort() {
	if c.closed {
		return
	}
	c.closed = true
	c.svc.branchLock(c.branch.Path).Unlock()
}

type persistJob struct {
	bk    bucket
	ix    bucket
	ixKey []byte
	doc   Versioned
	isNew bool
}

// persist writes the commit's staged and superseded branch-local document
// versions in batches of batchSaveSize, then updates the search index.
func (svc *Svc) persist(c *Commit) error {
	jobs := make([]persistJob, 0)
	rows := make([]*QueryConceptDoc, 0)
	for _, doc := range c.staged[KindConcept] {
		cd := doc.(*ConceptDoc)
		jobs = append(jobs, persistJob{bk: bkConcepts, ix: ixConceptVersions, ixKey: idKey(cd.Concept.ID), doc: doc, isNew: true})
	}
	for _, doc := range c.staged[KindRelationship] {
		rd := doc.(*RelationshipDoc)
		jobs = append(jobs, persistJob{bk: bkRelationships, ix: ixRelationshipVersions, ixKey: idKey(rd.Relationship.ID), doc: doc, isNew: true})
	}
	for _, doc := range c.staged[KindAxiom] {
		ad := doc.(*AxiomDoc)
		jobs = append(jobs, persistJob{bk: bkAxioms, ix: ixAxiomVersions, ixKey: stringKey(ad.ReferenceSetItem.ID), doc: doc, isNew: true})
	}
	for _, doc := range c.staged[KindQueryConcept] {
		qd := doc.(*QueryConceptDoc)
		jobs = append(jobs, persistJob{bk: bkQueryConcepts, ix: ixQueryConceptVersions, ixKey: stringKey(qd.ConceptIDForm), doc: doc, isNew: true})
		rows = append(rows, qd)
	}
	kindBuckets := map[string]bucket{
		KindConcept:      bkConcepts,
		KindRelationship: bkRelationships,
		KindAxiom:        bkAxioms,
		KindQueryConcept: bkQueryConcepts,
	}
	for kind, docs := range c.ended {
		for _, doc := range docs {
			if doc.Meta().Path != c.branch.Path {
				continue // an ancestor's version stays live there; this branch hides it via versions-replaced
			}
			jobs = append(jobs, persistJob{bk: kindBuckets[kind], doc: doc})
		}
	}
	for start := 0; start < len(jobs); start += svc.batchSaveSize {
		end := start + svc.batchSaveSize
		if end > len(jobs) {
			end = len(jobs)
		}
		err := svc.store.Update(func(b Batch) error {
			for _, job := range jobs[start:end] {
				key := []byte(job.doc.Meta().Key())
				b.Put(job.bk, key, job.doc)
				if job.isNew {
					b.AddIndexEntry(job.ix, job.ixKey, key)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for start := 0; start < len(rows); start += svc.batchSaveSize {
		end := start + svc.batchSaveSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := svc.search.indexRows(rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (svc *Svc) branchLock(path string) *sync.Mutex {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	lock, ok := svc.locks[path]
	if !ok {
		lock = new(sync.Mutex)
		svc.locks[path] = lock
	}
	return lock
}

// nextTimepoint issues a strictly increasing logical timepoint, anchored to
// wall-clock milliseconds.
func (svc *Svc) nextTimepoint() int64 {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	tp := time.Now().UnixMilli()
	if tp <= svc.lastTimepoint {
		tp = svc.lastTimepoint + 1
	}
	svc.lastTimepoint = tp
	return tp
}

// Statistics summarises the backend store, per bucket and per branch.
type Statistics struct {
	Concepts      int
	Relationships int
	Axioms        int
	QueryConcepts int
	Branches      []string
}

func (st Statistics) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Number of concept versions: %d\n", st.Concepts))
	b.WriteString(fmt.Sprintf("Number of relationship versions: %d\n", st.Relationships))
	b.WriteString(fmt.Sprintf("Number of axiom member versions: %d\n", st.Axioms))
	b.WriteString(fmt.Sprintf("Number of projection row versions: %d\n", st.QueryConcepts))
	b.WriteString(fmt.Sprintf("Number of branches: %d:\n", len(st.Branches)))
	for _, s := range st.Branches {
		b.WriteString(fmt.Sprintf("  Branch: %s\n", s))
	}
	return b.String()
}

// Statistics returns statistics for the backend store.
func (svc *Svc) Statistics() (Statistics, error) {
	stats := Statistics{}
	count := func(bk bucket) (int, error) {
		n := 0
		err := svc.store.View(func(b Batch) error {
			return b.Iterate(bk, nil, func(key, value []byte) error {
				n++
				return nil
			})
		})
		return n, err
	}
	var err error
	if stats.Concepts, err = count(bkConcepts); err != nil {
		return stats, err
	}
	if stats.Relationships, err = count(bkRelationships); err != nil {
		return stats, err
	}
	if stats.Axioms, err = count(bkAxioms); err != nil {
		return stats, err
	}
	if stats.QueryConcepts, err = count(bkQueryConcepts); err != nil {
		return stats, err
	}
	branches, err := svc.branches.branches()
	if err != nil {
		return stats, err
	}
	for _, b := range branches {
		stats.Branches = append(stats.Branches, b.Path)
	}
	return stats, nil
}
