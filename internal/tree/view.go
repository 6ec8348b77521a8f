// Package tree implements read-side traversal queries and cycle-safe moves
// over a tenant's group forest.
package tree

import (
	"sort"

	"github.com/nexus-community/groups-cli/internal/model"
)

// View is an ephemeral, read-consistent snapshot of one tenant's group
// forest as an adjacency structure. Views are never mutated; tree mutations
// go through the store and invalidate any cached View.
type View struct {
	tenantID string
	nodes    map[int64]*model.Group
	children map[int64][]*model.Group
	roots    []*model.Group
}

// NewView builds an adjacency snapshot from a bulk node fetch in O(n).
// Children and roots are kept sorted by name.
func NewView(tenantID string, groups []model.Group) *View {
	v := &View{
		tenantID: tenantID,
		nodes:    make(map[int64]*model.Group, len(groups)),
		children: make(map[int64][]*model.Group, len(groups)),
	}
	for i := range groups {
		g := &groups[i]
		v.nodes[g.ID] = g
	}
	for _, g := range v.nodes {
		if g.ParentID == nil {
			v.roots = append(v.roots, g)
			continue
		}
		if _, ok := v.nodes[*g.ParentID]; !ok {
			// Orphaned parent pointer; treat as a root rather than lose the subtree.
			v.roots = append(v.roots, g)
			continue
		}
		v.children[*g.ParentID] = append(v.children[*g.ParentID], g)
	}
	byName := func(gs []*model.Group) {
		sort.Slice(gs, func(i, j int) bool { return gs[i].Name < gs[j].Name })
	}
	byName(v.roots)
	for id := range v.children {
		byName(v.children[id])
	}
	return v
}

// TenantID returns the tenant this snapshot belongs to.
func (v *View) TenantID() string { return v.tenantID }

// Size returns the number of nodes in the snapshot.
func (v *View) Size() int { return len(v.nodes) }

// Node returns the group with the given id.
func (v *View) Node(id int64) (*model.Group, bool) {
	g, ok := v.nodes[id]
	return g, ok
}

// Parent returns the parent of the given node, or false for roots.
func (v *View) Parent(id int64) (*model.Group, bool) {
	g, ok := v.nodes[id]
	if !ok || g.ParentID == nil {
		return nil, false
	}
	p, ok := v.nodes[*g.ParentID]
	return p, ok
}

// Children returns the direct children of a node, sorted by name.
func (v *View) Children(id int64) []*model.Group { return v.children[id] }

// Roots returns the parentless nodes, sorted by name.
func (v *View) Roots() []*model.Group { return v.roots }

// IsLeaf reports whether the node has no children. Leaf status is always
// derived from the adjacency map, never stored.
func (v *View) IsLeaf(id int64) bool { return len(v.children[id]) == 0 }

// Ancestors returns the chain from root to the node itself, inclusive.
// The walk is capped at the snapshot size to stay terminating even on
// corrupt parent data.
func (v *View) Ancestors(id int64) ([]*model.Group, bool) {
	g, ok := v.nodes[id]
	if !ok {
		return nil, false
	}
	var chain []*model.Group
	for steps := 0; g != nil && steps <= len(v.nodes); steps++ {
		chain = append(chain, g)
		if g.ParentID == nil {
			break
		}
		g = v.nodes[*g.ParentID]
	}
	// Reverse to root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, true
}

// Subtree returns the node and all of its descendants in depth-first order.
func (v *View) Subtree(id int64) []*model.Group {
	g, ok := v.nodes[id]
	if !ok {
		return nil
	}
	out := []*model.Group{g}
	for i := 0; i < len(out); i++ {
		out = append(out, v.children[out[i].ID]...)
	}
	return out
}
