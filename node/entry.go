// Package node holds the tree's two mutually-recursive building blocks,
// ObjectEntry and Node, plus the Entry sum type that lets a node hold either
// kind of child. They live in one package, like the teacher's node/entry
// pair in storage/rStarTree.go, because Node.Entries references Entry which
// references *Node - splitting them across packages would just invent an
// import cycle.
package node

import (
	"github.com/authspatial/esmt/esmterr"
	"github.com/authspatial/esmt/geo"
	"github.com/authspatial/esmt/hash"
)

// ObjectEntry is a leaf payload: an indexed object's key, its location and
// its content hash, plus the lazy-delete flag ESMT trees use to mark it
// logically removed without touching ancestor digests.
type ObjectEntry[V geo.Number] struct {
	Key         string
	Loc         geo.Rect[V]
	ContentHash hash.Value
	// Stale marks an object as deleted-but-not-yet-compacted. Lazy-delete
	// trees (package esmtree) set this instead of splicing the entry out.
	Stale bool
}

// Digest returns the entry's leaf contribution to its parent's digest: its
// content hash, whether or not the object is stale. Deletion in a lazy-delete
// tree (package esmtree) never touches this value - that is precisely what
// makes the delete path rehash-free: the folded digest a node already holds
// stays correct without recomputation, because nothing it was folded from
// actually changed.
func (e ObjectEntry[V]) Digest() hash.Value {
	return e.ContentHash
}

// Entry is a node's slot: either an object (leaf entries) or a pointer to a
// child Node (internal entries), never both. Mirrors the teacher's entry
// struct, which held both an mbr and an optional *node/mmsi pair; here the
// union is made explicit instead of leaving unused fields zeroed.
type Entry[V geo.Number] struct {
	rect  geo.Rect[V]
	obj   *ObjectEntry[V]
	child *Node[V]
}

// NewObjectEntry wraps an object as a leaf entry.
func NewObjectEntry[V geo.Number](obj ObjectEntry[V]) Entry[V] {
	return Entry[V]{rect: obj.Loc, obj: &obj}
}

// NewChildEntry wraps a child node as an internal entry, bounded by the
// child's own recalculated MBR.
func NewChildEntry[V geo.Number](child *Node[V]) Entry[V] {
	return Entry[V]{rect: child.MBR, child: child}
}

// IsObject reports whether e is a leaf entry.
func (e Entry[V]) IsObject() bool { return e.obj != nil }

// IsChild reports whether e is an internal entry.
func (e Entry[V]) IsChild() bool { return e.child != nil }

// Object returns the entry's object payload. Panics via esmterr.Breach if e
// is an internal entry - callers are expected to branch on IsObject/IsChild
// or on the node's own IsLeaf first, same as the teacher's code only ever
// reading entry.mmsi on leaves and entry.child on internals.
func (e Entry[V]) Object() *ObjectEntry[V] {
	if e.obj == nil {
		esmterr.Breach("node: Object() called on an internal entry")
	}
	return e.obj
}

// Child returns the entry's child node. Panics via esmterr.Breach if e is a
// leaf entry.
func (e Entry[V]) Child() *Node[V] {
	if e.child == nil {
		esmterr.Breach("node: Child() called on a leaf entry")
	}
	return e.child
}

// Rect returns the entry's bounding rectangle: the object's own location for
// a leaf entry, the child's MBR for an internal one.
func (e Entry[V]) Rect() geo.Rect[V] {
	return e.rect
}

// SetRect replaces the entry's cached bounding rectangle. Used after a
// child's MBR is recalculated.
func (e *Entry[V]) SetRect(r geo.Rect[V]) {
	e.rect = r
}

// Digest returns the entry's contribution to its parent's digest: the
// object's content hash for a leaf entry, the child's digest for an internal
// one.
func (e Entry[V]) Digest() hash.Value {
	if e.obj != nil {
		return e.obj.Digest()
	}
	return e.child.Digest
}
