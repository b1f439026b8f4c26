// Package hash implements the salted, order-independent digest every node
// in the tree is folded under (spec.md §4.2). The salt is a process-wide
// constant computed once and never mutated, mirroring spec.md §5's "one
// process-wide constant" shared-resource policy.
//
// Grounded on ethereum-go-ethereum's go.mod, which pulls in
// golang.org/x/crypto for its hashing needs; this package uses the same
// module's sha3 implementation rather than hand-rolling Keccak/SHA3.
package hash

import (
	"bytes"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Value is an opaque 32-byte digest. The zero Value represents
// "uninitialized".
type Value [32]byte

// Zero is the well-known uninitialized digest.
func Zero() Value {
	return Value{}
}

// IsZero reports whether v is the uninitialized digest.
func (v Value) IsZero() bool {
	return v == Value{}
}

// Less orders two digests byte-wise ascending, the order folding depends on.
func (v Value) Less(o Value) bool {
	return bytes.Compare(v[:], o[:]) < 0
}

var (
	saltOnce sync.Once
	salt     Value
)

// Salt returns the process-wide constant SHA3_256("esmt"), computed lazily on
// first use and immutable thereafter.
func Salt() Value {
	saltOnce.Do(func() {
		salt = Value(sha3.Sum256([]byte("esmt")))
	})
	return salt
}

// Of hashes an arbitrary byte string as H(salt ‖ data), the same
// salted-hasher convention node digests are folded under. Used to derive
// content hashes of leaf objects from outside this package.
func Of(data []byte) Value {
	h := sha3.New256()
	s := Salt()
	h.Write(s[:])
	h.Write(data)
	var out Value
	copy(out[:], h.Sum(nil))
	return out
}

// Fold computes H(salt ‖ s1 ‖ s2 ‖ ... ‖ sn) where the si are values sorted
// ascending byte-wise and deduplicated first, making the result independent
// of the order the caller happened to supply them in. Folding zero values is
// legal (an empty node digests to H(salt)).
func Fold(values ...Value) Value {
	seen := make(map[Value]struct{}, len(values))
	uniq := make([]Value, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		uniq = append(uniq, v)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Less(uniq[j]) })

	h := sha3.New256()
	s := Salt()
	h.Write(s[:])
	for _, v := range uniq {
		h.Write(v[:])
	}
	var out Value
	copy(out[:], h.Sum(nil))
	return out
}
