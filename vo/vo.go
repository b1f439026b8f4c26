// Package vo builds and verifies Verification Objects: the flat, tagged
// trace of a range query's search path that lets a client holding only a
// trusted root digest check a server's answer for soundness (every
// returned object is authentic) and completeness (nothing qualifying was
// left out), without trusting the server at all.
//
// Grounded on the teacher's recursive searchChildren walk in
// storage/rStarTree.go, generalized from "collect matching entries" to
// "collect matching entries plus enough sibling evidence to reconstruct and
// check the root digest".
package vo

import (
	"errors"

	"github.com/authspatial/esmt/esmterr"
	"github.com/authspatial/esmt/geo"
	"github.com/authspatial/esmt/hash"
	"github.com/authspatial/esmt/node"
)

// Kind tags a VO entry.
type Kind int

const (
	LevelBegin Kind = iota
	LevelEnd
	Target
	Sibling
)

// Item is one entry of a Verification Object. Target entries carry a
// returned object's key, location and content hash; Sibling entries carry
// only a rectangle and a digest, proof that something existed there without
// revealing what.
type Item[V geo.Number] struct {
	Kind  Kind
	Key   string
	Loc   geo.Rect[V]
	Range geo.Rect[V]
	Hash  hash.Value
}

var (
	// ErrSoundness is returned when the verifier's recomputed root digest
	// disagrees with the trusted root: some returned or proven entry does
	// not match what the root actually authenticates.
	ErrSoundness = errors.New("vo: soundness check failed")
	// ErrCompleteness is returned when a sibling's rectangle intersects the
	// query, proving an object that should have qualified was omitted.
	ErrCompleteness = errors.New("vo: completeness check failed: sibling intersects query")
	// ErrResult is returned when a returned Target's location lies outside
	// the query rectangle.
	ErrResult = errors.New("vo: result error: target outside query")
)

// Build constructs the Verification Object for a range query q over the
// subtree rooted at root. A nil root (empty tree) yields a nil VO, the same
// "nothing qualifies" shape as any other empty subtree.
func Build[V geo.Number](root *node.Node[V], q geo.Rect[V]) []Item[V] {
	if root == nil {
		return nil
	}
	return build(root, q)
}

func build[V geo.Number](n *node.Node[V], q geo.Rect[V]) []Item[V] {
	if n.IsLeaf() {
		return buildLeaf(n, q)
	}
	return buildInternal(n, q)
}

// buildLeaf matches spec.md 4.8: fully-contained, non-stale objects become
// Targets; everything else (not contained, or stale - a logically deleted
// object whose slot still participates in the node's digest and MBR until
// compaction) becomes a Sibling carrying its folding contribution. If
// nothing is contained the whole level is omitted, letting emptiness
// propagate up exactly like an internal node with no contributing child.
func buildLeaf[V geo.Number](n *node.Node[V], q geo.Rect[V]) []Item[V] {
	var targets, siblings []Item[V]
	for _, e := range n.Entries {
		obj := e.Object()
		if !obj.Stale && q.Contains(e.Rect()) {
			targets = append(targets, Item[V]{Kind: Target, Key: obj.Key, Loc: e.Rect(), Hash: obj.ContentHash})
			continue
		}
		siblings = append(siblings, Item[V]{Kind: Sibling, Range: e.Rect(), Hash: e.Digest()})
	}
	if len(targets) == 0 {
		return nil
	}
	items := make([]Item[V], 0, len(targets)+len(siblings)+2)
	items = append(items, Item[V]{Kind: LevelBegin})
	items = append(items, targets...)
	items = append(items, siblings...)
	items = append(items, Item[V]{Kind: LevelEnd})
	return items
}

func buildInternal[V geo.Number](n *node.Node[V], q geo.Rect[V]) []Item[V] {
	var contributing [][]Item[V]
	var quiet []node.Entry[V]
	any := false
	for _, e := range n.Entries {
		child := e.Child()
		if child.MBR.Intersects(q) {
			if sub := build(child, q); len(sub) > 0 {
				contributing = append(contributing, sub)
				any = true
				continue
			}
		}
		quiet = append(quiet, e)
	}
	if !any {
		return nil
	}
	items := []Item[V]{{Kind: LevelBegin}}
	for _, sub := range contributing {
		items = append(items, sub...)
	}
	for _, e := range quiet {
		items = append(items, Item[V]{Kind: Sibling, Range: e.Rect(), Hash: e.Digest()})
	}
	items = append(items, Item[V]{Kind: LevelEnd})
	return items
}

// Verify replays items against query q and the trusted rootHash, using a
// stack of per-level frames: LevelBegin opens a frame, Target/Sibling push a
// hash into the innermost open frame (Sibling also checks completeness
// on the fly), and LevelEnd folds the frame's hashes into a single digest
// that becomes one more hash in its parent frame - or, if it was the
// outermost frame, the candidate root digest.
func Verify[V geo.Number](items []Item[V], q geo.Rect[V], rootHash hash.Value) error {
	type frame struct{ hashes []hash.Value }

	var stack []*frame
	var final hash.Value
	haveFinal := false
	var resultMBR geo.Rect[V]
	haveTarget := false

	top := func() *frame {
		if len(stack) == 0 {
			esmterr.Breach("vo: entry outside any open level")
		}
		return stack[len(stack)-1]
	}

	for _, it := range items {
		switch it.Kind {
		case LevelBegin:
			stack = append(stack, &frame{})
		case LevelEnd:
			f := top()
			stack = stack[:len(stack)-1]
			digest := hash.Fold(f.hashes...)
			if len(stack) == 0 {
				final, haveFinal = digest, true
			} else {
				parent := stack[len(stack)-1]
				parent.hashes = append(parent.hashes, digest)
			}
		case Target:
			f := top()
			f.hashes = append(f.hashes, it.Hash)
			if !haveTarget {
				resultMBR, haveTarget = it.Loc.Clone(), true
			} else {
				resultMBR.Expand(it.Loc)
			}
		case Sibling:
			if it.Range.Intersects(q) {
				return ErrCompleteness
			}
			f := top()
			f.hashes = append(f.hashes, it.Hash)
		}
	}
	if len(stack) != 0 {
		esmterr.Breach("vo: unbalanced LevelBegin/LevelEnd")
	}
	if !haveTarget {
		return nil
	}
	if !q.Contains(resultMBR) {
		return ErrResult
	}
	if !haveFinal || final != rootHash {
		return ErrSoundness
	}
	return nil
}
