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

// Scope selects which slice of a branch's content a read observes, always in
// the context of an open commit.
type Scope int

const (
	// ScopeCommitted selects content visible on the branch before the open
	// commit, excluding versions the open commit has already superseded.
	ScopeCommitted Scope = iota

	// ScopeOpenCommit selects only the deltas introduced within or by the
	// open commit: staged new versions plus the versions they superseded,
	// hid or deleted.
	ScopeOpenCommit

	// ScopeBranchContent selects all content present on the branch itself
	// since its base: every branch-authored version, every ancestor version
	// the branch has hidden, and the open commit's deltas. Used for rebase
	// replay.
	ScopeBranchContent

	// ScopeVisible selects content visible including the open commit's
	// staged writes.
	ScopeVisible
)

// Criteria is a branch-criteria selector: a scope bound to an open commit.
type Criteria struct {
	Scope  Scope
	commit *Commit
}

// Committed selects content visible before the open commit.
func Committed(c *Commit) Criteria {
	return Criteria{Scope: ScopeCommitted, commit: c}
}

// InOpenCommit selects the open commit's deltas only.
func InOpenCommit(c *Commit) Criteria {
	return Criteria{Scope: ScopeOpenCommit, commit: c}
}

// BranchContent selects all branch-local content since base, for rebase
// replay.
func BranchContent(c *Commit) Criteria {
	return Criteria{Scope: ScopeBranchContent, commit: c}
}

// Visible selects content visible including the open commit.
func Visible(c *Commit) Criteria {
	return Criteria{Scope: ScopeVisible, commit: c}
}

// Commit returns the commit this selector is bound to.
func (cr Criteria) Commit() *Commit {
	return cr.commit
}

// pathCut is one layer of a branch's ancestry: content on path authored at or
// before cut is candidate-visible.
type pathCut struct {
	branch *Branch
	cut    int64
}

// cuts resolves the branch ancestry, child first, with the visibility cut for
// each layer. A rebase commit reads its parent at the new base. Ancestor cuts
// use each branch document's current base, clamped so a parent's later rebase
// cannot leak newer grandparent content into the child.
func (c *Commit) cuts() ([]pathCut, error) {
	chain := []pathCut{{branch: c.branch, cut: c.branch.Head}}
	cut := c.effectiveBase()
	path := c.branch.Path
	for {
		parent, ok := parentPath(path)
		if !ok {
			break
		}
		b, err := c.svc.branches.branch(parent)
		if err != nil {
			return nil, err
		}
		chain = append(chain, pathCut{branch: b, cut: cut})
		if b.Base < cut {
			cut = b.Base
		}
		path = parent
	}
	return chain, nil
}

// docVisible determines whether a stored document version is visible through
// this commit's branch ancestry. Versions the open commit has superseded,
// hidden or deleted are never visible; staged versions are held in memory and
// are not consulted here.
func (c *Commit) docVisible(kind string, meta *Doc, chain []pathCut) bool {
	key := meta.Key()
	if c.touchedByCommit(kind, key) {
		return false
	}
	for i, pc := range chain {
		if meta.Path != pc.branch.Path {
			continue
		}
		if meta.Start > pc.cut {
			return false
		}
		if meta.End != 0 && meta.End <= pc.cut {
			return false
		}
		// hidden by a versions-replaced marker on a descendant branch?
		for j := 0; j < i; j++ {
			hider := chain[j].branch
			if j == 0 {
				if _, cleared := c.clearReplaced[kind]; cleared {
					continue
				}
			}
			if hider.isReplaced(kind, key) {
				return false
			}
		}
		return true
	}
	return false
}
