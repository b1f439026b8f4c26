// Package telemetry is the structured logging surface for tree mutations:
// splits, merges, compactions and partition cascades. It is adapted from the
// teacher's (tormol/AIS) logger.Logger - same leveled-wrapper API
// (Debug/Info/Warning/Error) - but backed by github.com/rs/zerolog (a direct
// dependency of optakt-flow-dps) instead of the teacher's hand-rolled
// mutex+io.Writer implementation. The teacher's periodic-logger half (a
// ticking background goroutine for statistics) has no home here: spec.md §5
// states the core has no suspension points and spawns no goroutines, so
// there is nothing to tick periodically. Only the leveled, synchronous
// logging calls survive the adaptation.
package telemetry

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the tree-mutation events this module
// needs to report. A nil *Logger is not valid; use Nop() for a logger that
// discards everything.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger that writes leveled, timestamped JSON lines to
// os.Stderr at or above level.
func New(level zerolog.Level) *Logger {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything, for tests and callers that
// don't want logging overhead.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Split records a node-overflow split: the node's height, capacity, and the
// resulting sibling's entry count.
func (l *Logger) Split(height uint32, capacity, siblingEntries int) {
	l.zl.Debug().
		Uint32("height", height).
		Int("capacity", capacity).
		Int("sibling_entries", siblingEntries).
		Msg("node split")
}

// Compact records an ESMT compaction: how many objects survived, how many
// stale objects were dropped, and how long the walk took.
func (l *Logger) Compact(kept, dropped int, took time.Duration) {
	l.zl.Info().
		Int("kept", kept).
		Int("dropped", dropped).
		Str("took", RoundDuration(took, time.Microsecond)).
		Msg("compacted subtree")
}

// Merge records a subtree merge: the heights being reconciled and the
// resulting subtree's height.
func (l *Logger) Merge(largeHeight, smallHeight, resultHeight uint32) {
	l.zl.Debug().
		Uint32("large_height", largeHeight).
		Uint32("small_height", smallHeight).
		Uint32("result_height", resultHeight).
		Msg("merged subtree")
}

// Cascade records a partition manager cascade trigger firing at cell index i.
func (l *Logger) Cascade(cellIndex, size, threshold int) {
	l.zl.Info().
		Int("cell", cellIndex).
		Str("size", SiMultiple(uint64(size), 1000, 'G')).
		Int("threshold", threshold).
		Msg("partition cascade triggered")
}

// Warn records a recovered per-partition failure during a fan-out range
// query (see package partition): the query kept going for the other
// partitions.
func (l *Logger) Warn(partition int, err error) {
	l.zl.Warn().
		Int("partition", partition).
		Err(err).
		Msg("partition range query recovered from panic")
}

// RoundDuration removes excessive precision for printing, adapted verbatim
// from the teacher's logger/utils.go.
func RoundDuration(d, to time.Duration) string {
	d = d - (d % to)
	return d.String()
}

// SiMultiple rounds n down to the nearest Kilo, Mega, Giga, ..., or Yotta and
// appends the unit letter. multipleOf is typically 1000 or 1024. Adapted
// verbatim from the teacher's logger/utils.go, where it served identical
// human-readable-size formatting duty for byte counts.
func SiMultiple(n, multipleOf uint64, maxUnit byte) string {
	var steps, rem uint64
	units := " KMGTPEZY"
	for n >= multipleOf && units[steps] != maxUnit {
		rem = n % multipleOf
		n /= multipleOf
		steps++
	}
	if rem%multipleOf >= multipleOf/2 {
		n++
	}
	s := strconv.FormatUint(n, 10)
	if steps > 0 {
		s += units[steps : steps+1]
	}
	return s
}
