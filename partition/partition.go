// Package partition implements the quad-partition manager (C8): a balanced
// 2^D-ary tree of spatial cells, each backed by its own ESMT, that routes
// objects to leaf partitions and cascades bottom-up merges when a
// partition's size crosses an exponentially-rarer-as-you-ascend threshold.
//
// Grounded on spec.md §4.7, with no teacher precedent - tormol/AIS has a
// single flat RTree, not a composed tree-of-trees - so the cell-array
// layout and merge cascade are original to this module, built the way the
// teacher builds everything else: small validated structs, a recursive
// descent, and the same telemetry/error idioms as packages mrtree/esmtree.
package partition

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/authspatial/esmt/esmterr"
	"github.com/authspatial/esmt/esmtconfig"
	"github.com/authspatial/esmt/esmtree"
	"github.com/authspatial/esmt/geo"
	"github.com/authspatial/esmt/hash"
	"github.com/authspatial/esmt/telemetry"
	"github.com/authspatial/esmt/vo"
)

// record is the keymap's value: the leaf cell an object was originally
// routed to, and its current location. Ascending merges move an object's
// data to an ancestor partition without rewriting this entry - see
// Manager.merge.
type record[V geo.Number] struct {
	cell int
	loc  geo.Rect[V]
}

// Manager is the 2^D-ary tree of spatial cells described in spec.md §4.7.
// The zero value is not ready to use; build one with New.
type Manager[V geo.Number] struct {
	Height   int // P
	Dim      int // D
	Capacity int

	basicThreshold int
	areas          []geo.Rect[V]
	centers        [][]float64
	partitions     []*esmtree.Tree[V]
	keymap         map[string]record[V]

	log *telemetry.Logger
}

// New builds a Manager covering area, with cfg's capacity, dimension,
// cascade threshold and cell-tree height. cfg must already be valid (see
// esmtconfig.Config.Validate); New does not re-validate it.
func New[V geo.Number](cfg esmtconfig.Config, area geo.Rect[V], log *telemetry.Logger) *Manager[V] {
	if log == nil {
		log = telemetry.Nop()
	}
	areas, centers := buildCells(area, cfg.Dimension, cfg.PartitionHeight)
	partitions := make([]*esmtree.Tree[V], len(areas))
	for i, a := range areas {
		partitions[i] = esmtree.New[V](cfg.Capacity, a, log)
	}
	return &Manager[V]{
		Height:         cfg.PartitionHeight,
		Dim:            cfg.Dimension,
		Capacity:       cfg.Capacity,
		basicThreshold: cfg.BasicThreshold,
		areas:          areas,
		centers:        centers,
		partitions:     partitions,
		keymap:         make(map[string]record[V]),
		log:            log,
	}
}

// cellCount returns N = (2^(D*(P+1)) - 1) / (2^D - 1), the number of cells in
// a complete 2^D-ary tree of height P (root at level 0, leaves at level P).
func cellCount(dim, height int) int {
	k := 1
	for i := 0; i < dim; i++ {
		k *= 2
	}
	if k == 1 {
		return height + 1
	}
	total, pow := 1, 1
	for level := 0; level < height; level++ {
		pow *= k
		total += pow
	}
	return total
}

// buildCells lays out every cell's area and center in the heap-style array
// representation of a 2^D-ary tree: cell i's children occupy
// i*k+1 .. i*k+k, where k = 2^dim.
func buildCells[V geo.Number](root geo.Rect[V], dim, height int) ([]geo.Rect[V], [][]float64) {
	k := 1 << dim
	n := cellCount(dim, height)
	areas := make([]geo.Rect[V], n)
	centers := make([][]float64, n)
	areas[0] = root
	centers[0] = root.Center()

	for parent := 0; parent*k+1 < n; parent++ {
		for bits := 0; bits < k; bits++ {
			child := parent*k + 1 + bits
			areas[child] = quadrant(areas[parent], centers[parent], bits, dim)
			centers[child] = areas[child].Center()
		}
	}
	return areas, centers
}

// quadrant returns the bits-th of 2^dim equal sub-rectangles of area,
// splitting each axis at its center: bit j clear takes the low half of axis
// j, bit j set takes the high half.
func quadrant[V geo.Number](area geo.Rect[V], c []float64, bits, dim int) geo.Rect[V] {
	min := make([]V, dim)
	max := make([]V, dim)
	for j := 0; j < dim; j++ {
		cj := V(c[j])
		if bits&(1<<j) == 0 {
			min[j], max[j] = area.Min[j], cj
		} else {
			min[j], max[j] = cj, area.Max[j]
		}
	}
	return geo.NewRect(min, max)
}

func parentOf(i, k int) int {
	return (i - 1) / k
}

// pointIndex descends the cell tree bit-by-bit from the root: at each
// level, for every axis, the bit is 0 if the point lies at or below the
// cell's center on that axis, 1 otherwise, forming a D-bit child index.
// This always resolves to a unique leaf cell, per spec.md §4.7.
func (m *Manager[V]) pointIndex(p geo.Rect[V]) int {
	k := 1 << m.Dim
	c := p.Center()
	idx := 0
	for level := 0; level < m.Height; level++ {
		bits := 0
		for j := 0; j < m.Dim; j++ {
			if c[j] > m.centers[idx][j] {
				bits |= 1 << j
			}
		}
		idx = idx*k + 1 + bits
	}
	return idx
}

// Insert routes key/loc/contentHash to its leaf partition, triggering a
// merge cascade check on that partition first, per spec.md §4.7's
// insert(key, loc, hash) operation.
func (m *Manager[V]) Insert(key string, loc geo.Rect[V], contentHash hash.Value) {
	i := m.pointIndex(loc)
	m.keymap[key] = record[V]{cell: i, loc: loc}
	m.merge(i, 1)
	m.partitions[i].Insert(key, loc, contentHash)
}

// Delete removes key, looking up its originally-routed partition and
// location from the keymap.
func (m *Manager[V]) Delete(key string) error {
	rec, ok := m.keymap[key]
	if !ok {
		return esmterr.ErrNotFound
	}
	if _, err := m.partitions[rec.cell].Delete(rec.loc, key); err != nil {
		return err
	}
	delete(m.keymap, key)
	return nil
}

// Update moves key to newLoc. If newLoc still routes to the same leaf
// partition the move is delegated to that partition's own in-place update;
// otherwise key is deleted from its old partition and re-inserted into the
// new one, preserving its content hash. The keymap is kept current in both
// branches - unlike merge's ascending moves, which deliberately leave stale
// keymap entries behind (see merge's doc comment).
func (m *Manager[V]) Update(key string, newLoc geo.Rect[V]) error {
	rec, ok := m.keymap[key]
	if !ok {
		return esmterr.ErrNotFound
	}
	newCell := m.pointIndex(newLoc)
	if newCell == rec.cell {
		if _, err := m.partitions[rec.cell].Update(rec.loc, newLoc, key); err != nil {
			return err
		}
		m.keymap[key] = record[V]{cell: rec.cell, loc: newLoc}
		return nil
	}

	removed, err := m.partitions[rec.cell].Delete(rec.loc, key)
	if err != nil {
		return err
	}
	m.merge(newCell, 1)
	m.partitions[newCell].Insert(key, newLoc, removed.ContentHash)
	m.keymap[key] = record[V]{cell: newCell, loc: newLoc}
	return nil
}

// merge implements spec.md §4.7's cascading-merge trigger: ascending from
// cell i, each level's overflow threshold is BASIC_THRESHOLD times 2^(2D)
// raised to the level's distance from the trigger, so upper partitions
// absorb many lower-level overflows before repartitioning themselves.
//
// Cells merged upward are cleared and folded into their parent via
// merge_with_subtree; their objects' keymap entries are never rewritten to
// point at the new parent cell - routing by the original point still finds
// them, since the parent partition's area is a superset of the child's (see
// spec.md's open question on this asymmetry). Preserved deliberately.
func (m *Manager[V]) merge(i, thresholdMul int) {
	if i == 0 {
		return
	}
	if m.partitions[i].Size < m.basicThreshold*thresholdMul {
		return
	}
	k := 1 << m.Dim
	parent := parentOf(i, k)
	m.merge(parent, thresholdMul*(1<<(2*m.Dim)))

	m.log.Cascade(i, m.partitions[i].Size, m.basicThreshold*thresholdMul)
	m.partitions[parent].MergeWithSubtree(m.partitions[i])
	m.partitions[i] = esmtree.New[V](m.Capacity, m.areas[i], m.log)
}

// RangeQuery fans out q over every partition whose area intersects it,
// collecting each intersecting partition's VO. A structural failure
// building one partition's VO (an esmterr.InvariantBreach) is recovered and
// wrapped rather than aborting the whole query - go-multierror accumulates
// every such failure so the caller can inspect all of them at once.
func (m *Manager[V]) RangeQuery(q geo.Rect[V]) ([][]vo.Item[V], error) {
	var results [][]vo.Item[V]
	var errs *multierror.Error
	for i, area := range m.areas {
		if !area.Intersects(q) {
			continue
		}
		items, err := m.safeRangeQuery(i, q)
		if err != nil {
			m.log.Warn(i, err)
			errs = multierror.Append(errs, fmt.Errorf("partition %d: %w", i, err))
			continue
		}
		if len(items) > 0 {
			results = append(results, items)
		}
	}
	return results, errs.ErrorOrNil()
}

// safeRangeQuery runs one partition's range query, converting a recovered
// esmterr.InvariantBreach panic into an error so a single corrupted
// partition can't take down a multi-partition query.
func (m *Manager[V]) safeRangeQuery(i int, q geo.Rect[V]) (items []vo.Item[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			if breach, ok := r.(*esmterr.InvariantBreach); ok {
				err = breach
				return
			}
			panic(r)
		}
	}()
	items = m.partitions[i].RangeQuery(q)
	return items, nil
}
