package node

import (
	"github.com/authspatial/esmt/esmterr"
	"github.com/authspatial/esmt/geo"
	"github.com/authspatial/esmt/hash"
)

// Node is one node of an (E)SMT: a bounded slice of entries, the height
// above the leaf level, a cached bounding rectangle and a cached digest.
// Leaf nodes (Height == 0) hold only object entries; internal nodes hold
// only child entries. Grounded on the teacher's node struct in
// storage/rStarTree.go, replacing its parent pointer (unneeded here -
// mutation walks the tree top-down and rebuilds bounds on the way back up
// instead of patching ancestors through a back-link) with the cached MBR and
// Digest the Merkle extension requires.
type Node[V geo.Number] struct {
	Height   uint32
	Capacity int
	MBR      geo.Rect[V]
	Digest   hash.Value
	Entries  []Entry[V]
}

// New returns an empty node at the given height with room for capacity
// entries.
func New[V geo.Number](height uint32, capacity int) *Node[V] {
	return &Node[V]{
		Height:   height,
		Capacity: capacity,
		Entries:  make([]Entry[V], 0, capacity+1),
	}
}

// IsLeaf reports whether n sits directly above the objects it indexes.
func (n *Node[V]) IsLeaf() bool { return n.Height == 0 }

// MinFanout is m, the minimum number of entries a non-root node must carry,
// ceil((C+1)/2).
func (n *Node[V]) MinFanout() int {
	return (n.Capacity + 2) / 2
}

// Overflow reports whether n currently holds more than its capacity - the
// transient state right after an insert appends the (C+1)th entry, before
// the tree's split (package mrtree / esmtree) divides it.
func (n *Node[V]) Overflow() bool {
	return len(n.Entries) > n.Capacity
}

// Underflow reports whether n holds fewer than its minimum fanout.
func (n *Node[V]) Underflow() bool {
	return len(n.Entries) < n.MinFanout()
}

// RecalculateMBR recomputes n.MBR from its current entries' rectangles.
// Panics via esmterr.Breach on an empty node - a node with no entries should
// have already been pruned by its parent, same invariant as the teacher's
// mbrOf(entries...) which indexes entries[0] unconditionally.
func (n *Node[V]) RecalculateMBR() {
	if len(n.Entries) == 0 {
		esmterr.Breach("node: cannot recalculate the MBR of an empty node")
	}
	rects := make([]geo.Rect[V], len(n.Entries))
	for i, e := range n.Entries {
		rects[i] = e.Rect()
	}
	n.MBR = geo.Union(rects...)
}

// Rehash recomputes n.Digest by salted-folding its entries' digests, the
// order-independent fold described in package hash.
func (n *Node[V]) Rehash() {
	digests := make([]hash.Value, len(n.Entries))
	for i, e := range n.Entries {
		digests[i] = e.Digest()
	}
	n.Digest = hash.Fold(digests...)
}

// RecalculateStateAfterSort refreshes both the MBR and the digest. Callers
// sort or splice n.Entries directly (bulk packing, stale-sweep compaction)
// then call this once instead of paying for incremental upkeep on every
// slice mutation.
func (n *Node[V]) RecalculateStateAfterSort() {
	n.RecalculateMBR()
	n.Rehash()
}

// FirstStale returns the index of the first object entry marked Stale, or -1
// if n is an internal node or holds no stale entries. Lazy-delete insertion
// (package esmtree) reuses a stale slot in place of growing the node when
// one is available.
func (n *Node[V]) FirstStale() int {
	for i, e := range n.Entries {
		if e.IsObject() && e.Object().Stale {
			return i
		}
	}
	return -1
}

// ChooseSubtree returns the index of the child whose rectangle fully
// contains r, tie-broken by smallest area; if no child contains r it falls
// back to chooseLeastEnlargement. Grounded on the teacher's chooseSubtree
// loop in storage/rStarTree.go, dropping its R*-tree overlap-minimizing
// special case for nodes one level above the leaves: the tree built here
// follows Guttman's simpler two-rule selection throughout, not R*-tree's
// forced-reinsert machinery.
func (n *Node[V]) ChooseSubtree(r geo.Rect[V]) int {
	best := -1
	for i, e := range n.Entries {
		rect := e.Rect()
		if !rect.Contains(r) {
			continue
		}
		if best == -1 || rect.Area() < n.Entries[best].Rect().Area() {
			best = i
		}
	}
	if best != -1 {
		return best
	}
	return n.chooseLeastEnlargement(r)
}

// chooseLeastEnlargement picks the child needing the smallest MBR
// enlargement to cover r, tie-broken by smallest current area.
func (n *Node[V]) chooseLeastEnlargement(r geo.Rect[V]) int {
	best := 0
	bestEnlargement := n.Entries[0].Rect().UnionedArea(r) - n.Entries[0].Rect().Area()
	for i := 1; i < len(n.Entries); i++ {
		rect := n.Entries[i].Rect()
		enlargement := rect.UnionedArea(r) - rect.Area()
		switch {
		case enlargement < bestEnlargement:
			best, bestEnlargement = i, enlargement
		case enlargement == bestEnlargement && rect.Area() < n.Entries[best].Rect().Area():
			best = i
		}
	}
	return best
}
