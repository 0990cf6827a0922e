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
	"strings"
)

// RootBranch is the primary branch from which all others descend.
const RootBranch = "MAIN"

// Branch is a named line of versioned content layered over its parent.
// Base is the parent timepoint the branch last (re)based onto; Head is the
// timepoint of the branch's last successful commit. VersionsReplaced records,
// per entity kind, the parent-branch document versions hidden on this branch.
type Branch struct {
	Path             string                         `json:"path"`
	Base             int64                          `json:"base"`
	Head             int64                          `json:"head"`
	Created          int64                          `json:"created"`
	VersionsReplaced map[string]map[string]struct{} `json:"versionsReplaced,omitempty"`
}

// IsRoot returns whether this is the primary branch.
func (b *Branch) IsRoot() bool {
	return b.Path == RootBranch
}

// ParentPath returns the path of the parent branch, if any.
func (b *Branch) ParentPath() (string, bool) {
	return parentPath(b.Path)
}

func parentPath(path string) (string, bool) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", false
	}
	return path[:i], true
}

// VersionsReplacedFor returns the union of the versions-replaced sets for the
// given kinds.
func (b *Branch) VersionsReplacedFor(kinds ...string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, kind := range kinds {
		for key := range b.VersionsReplaced[kind] {
			out[key] = struct{}{}
		}
	}
	return out
}

func (b *Branch) isReplaced(kind, key string) bool {
	_, ok := b.VersionsReplaced[kind][key]
	return ok
}

func (b *Branch) addReplaced(kind, key string) {
	if b.VersionsReplaced == nil {
		b.VersionsReplaced = make(map[string]map[string]struct{})
	}
	if b.VersionsReplaced[kind] == nil {
		b.VersionsReplaced[kind] = make(map[string]struct{})
	}
	b.VersionsReplaced[kind][key] = struct{}{}
}

func validBranchPath(path string) error {
	if path == "" || strings.ContainsAny(path, "| ") {
		return fmt.Errorf("invalid branch path %q", path)
	}
	if path != RootBranch && !strings.HasPrefix(path, RootBranch+"/") {
		return fmt.Errorf("branch path %q must descend from %s", path, RootBranch)
	}
	return nil
}

// Listener is notified between a commit's staged writes and its durability.
// An error aborts the commit; nothing staged becomes visible.
type Listener interface {
	PreCommitCompletion(c *Commit) error
}

// Commit is an atomic write transaction on a branch. All writes are staged in
// memory and are written, in batches, when the commit completes; the
// branch lock is held for the commit's whole lifetime.
type Commit struct {
	svc          *Svc
	branch       *Branch
	timepoint    int64
	rebase       bool
	newBase      int64 // parent head a rebase commit re-parents onto
	LockMetadata string

	staged        map[string]map[string]Versioned // kind -> component key -> new version
	ended         map[string]map[string]Versioned // kind -> doc key -> superseded copy, End stamped
	replaced      map[string]map[string]struct{}  // kind -> doc keys newly hidden from an ancestor
	deleted       map[string]map[string]struct{}  // kind -> doc keys deleted by this commit
	clearReplaced map[string]struct{}             // kinds whose persisted versions-replaced set is reset
	closed        bool
}

// Timepoint is the logical time of this commit; all versions written by the
// commit start here.
func (c *Commit) Timepoint() int64 {
	return c.timepoint
}

// Branch returns the branch being committed to.
func (c *Commit) Branch() *Branch {
	return c.branch
}

// IsRebase returns whether this commit re-parents the branch onto a newer
// snapshot of its parent.
func (c *Commit) IsRebase() bool {
	return c.rebase
}

// EntitiesDeleted returns the document versions deleted by this commit for
// the given kinds.
func (c *Commit) EntitiesDeleted(kinds ...string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, kind := range kinds {
		for key := range c.deleted[kind] {
			out[key] = struct{}{}
		}
	}
	return out
}

// ClearVersionsReplaced resets the branch's persisted versions-replaced set
// for a kind when the commit completes. Reads within the commit already treat
// the set as empty. Used by rebase reconciliation: rows hidden from the old
// parent become visible from the new parent and are re-hidden during replay
// only if still needed.
func (c *Commit) ClearVersionsReplaced(kind string) {
	c.clearReplaced[kind] = struct{}{}
}

// effectiveBase is the parent cut used for reads within this commit: a rebase
// commit replays content over the new parent base.
func (c *Commit) effectiveBase() int64 {
	if c.rebase {
		return c.newBase
	}
	return c.branch.Base
}

func (c *Commit) stage(kind, componentKey string, doc Versioned) {
	c.staged[kind][componentKey] = doc
}

func (c *Commit) markEnded(kind string, version Versioned) {
	version.Meta().End = c.timepoint
	c.ended[kind][version.Meta().Key()] = version
}

func (c *Commit) markReplaced(kind, docKey string) {
	if c.replaced[kind] == nil {
		c.replaced[kind] = make(map[string]struct{})
	}
	c.replaced[kind][docKey] = struct{}{}
}

func (c *Commit) markDeleted(kind, docKey string) {
	if c.deleted[kind] == nil {
		c.deleted[kind] = make(map[string]struct{})
	}
	c.deleted[kind][docKey] = struct{}{}
}

// touchedByCommit reports whether this commit has superseded, hidden or
// deleted the given document version; such versions are excluded from every
// read scope and surface only in the commit's own delta stream.
func (c *Commit) touchedByCommit(kind, docKey string) bool {
	if _, ok := c.ended[kind][docKey]; ok {
		return true
	}
	if _, ok := c.replaced[kind][docKey]; ok {
		return true
	}
	_, ok := c.deleted[kind][docKey]
	return ok
}

func newCommit(svc *Svc, branch *Branch, timepoint int64) *Commit {
	kinds := []string{KindConcept, KindRelationship, KindAxiom, KindQueryConcept}
	c := &Commit{
		svc:           svc,
		branch:        branch,
		timepoint:     timepoint,
		staged:        make(map[string]map[string]Versioned),
		ended:         make(map[string]map[string]Versioned),
		replaced:      make(map[string]map[string]struct{}),
		deleted:       make(map[string]map[string]struct{}),
		clearReplaced: make(map[string]struct{}),
	}
	for _, kind := range kinds {
		c.staged[kind] = make(map[string]Versioned)
		c.ended[kind] = make(map[string]Versioned)
	}
	return c
}
