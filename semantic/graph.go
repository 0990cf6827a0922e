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

// Package semantic maintains the per-branch semantic index: for every concept
// the direct parents, full ancestor set and grouped attribute assertions, in
// a stated and an inferred form, kept consistent incrementally across commits
// and recomputable from scratch on demand.
package semantic

// Node is a concept in the in-memory hierarchy graph: its direct parents and
// the branch paths on which its closure changed. Ancestor sets are not
// cached; they are computed on demand by transitive traversal.
type Node struct {
	conceptID int64
	parents   map[int64]struct{}
	updatedOn map[string]struct{}
}

// ConceptID returns the concept this node represents.
func (n *Node) ConceptID() int64 {
	return n.conceptID
}

// MarkUpdated records that this node's closure changed as of the given branch
// path.
func (n *Node) MarkUpdated(branchPath string) {
	n.updatedOn[branchPath] = struct{}{}
}

func (n *Node) isUpdated(branchPath string) bool {
	_, ok := n.updatedOn[branchPath]
	return ok
}

// GraphBuilder owns an arena of nodes keyed by concept id, supporting
// multiple inheritance: a node may have any number of parents and its closure
// is the union along all paths.
type GraphBuilder struct {
	nodes map[int64]*Node
}

// NewGraphBuilder creates an empty graph.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{nodes: make(map[int64]*Node)}
}

func (g *GraphBuilder) node(conceptID int64) *Node {
	n, ok := g.nodes[conceptID]
	if !ok {
		n = &Node{
			conceptID: conceptID,
			parents:   make(map[int64]struct{}),
			updatedOn: make(map[string]struct{}),
		}
		g.nodes[conceptID] = n
	}
	return n
}

// Node returns the node for a concept, or nil if the concept is not in the
// graph.
func (g *GraphBuilder) Node(conceptID int64) *Node {
	return g.nodes[conceptID]
}

// Nodes returns the node arena.
func (g *GraphBuilder) Nodes() map[int64]*Node {
	return g.nodes
}

// AddParent ensures both nodes exist and inserts parent into the child's
// parent set, returning the child node for chaining.
func (g *GraphBuilder) AddParent(child, parent int64) *Node {
	g.node(parent)
	n := g.node(child)
	n.parents[parent] = struct{}{}
	return n
}

// RemoveParent removes parent from the child's parent set, returning the
// child node. Returns nil if the child is unknown: the edge being removed was
// never indexed and there is nothing to do.
func (g *GraphBuilder) RemoveParent(child, parent int64) *Node {
	n, ok := g.nodes[child]
	if !ok {
		return nil
	}
	delete(n.parents, parent)
	return n
}

// Parents returns the direct parent set of a node.
func (n *Node) Parents() map[int64]struct{} {
	return n.parents
}

// IsAncestorOrSelfUpdated returns whether the node itself, or any transitive
// ancestor, bears the updated mark for the given branch path.
func (g *GraphBuilder) IsAncestorOrSelfUpdated(n *Node, branchPath string) bool {
	if n.isUpdated(branchPath) {
		return true
	}
	visited := make(map[int64]struct{})
	return g.anyAncestorUpdated(n, branchPath, visited)
}

func (g *GraphBuilder) anyAncestorUpdated(n *Node, branchPath string, visited map[int64]struct{}) bool {
	for parent := range n.parents {
		if _, seen := visited[parent]; seen {
			continue
		}
		visited[parent] = struct{}{}
		p, ok := g.nodes[parent]
		if !ok {
			continue
		}
		if p.isUpdated(branchPath) || g.anyAncestorUpdated(p, branchPath, visited) {
			return true
		}
	}
	return false
}

// TransitiveClosure returns the strict ancestors of a node: a depth-first
// walk over parents with a visited set, so diamonds cost each node once.
// Terminates given the store's acyclicity invariant; cycles are rejected
// upstream and not defended against here.
func (g *GraphBuilder) TransitiveClosure(n *Node) map[int64]struct{} {
	ancestors := make(map[int64]struct{})
	g.collectAncestors(n, ancestors)
	return ancestors
}

func (g *GraphBuilder) collectAncestors(n *Node, ancestors map[int64]struct{}) {
	for parent := range n.parents {
		if _, seen := ancestors[parent]; seen {
			continue
		}
		ancestors[parent] = struct{}{}
		if p, ok := g.nodes[parent]; ok {
			g.collectAncestors(p, ancestors)
		}
	}
}
