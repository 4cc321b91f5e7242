// Package systems provides the spatial index and the pure per-agent rules of the simulation.
package systems

import "math"

type cellKey struct {
	col, row int32
}

// SpatialIndex buckets values into a uniform grid of square cells.
// It has no delete operation; callers Clear and re-Insert every tick.
// Cells are keyed by (floor(x/cell), floor(y/cell)), so negative and
// out-of-world coordinates are valid and simply land in their own buckets.
type SpatialIndex[T any] struct {
	cellSize float32
	cells    map[cellKey][]T
	count    int

	// Occupied cell bounds, used to clip large queries.
	minCol, maxCol int32
	minRow, maxRow int32
}

// NewSpatialIndex creates an empty index with the given cell size.
func NewSpatialIndex[T any](cellSize float32) *SpatialIndex[T] {
	if !(cellSize > 0) {
		panic("systems: spatial index cell size must be positive")
	}
	s := &SpatialIndex[T]{
		cellSize: cellSize,
		cells:    make(map[cellKey][]T),
	}
	s.resetBounds()
	return s
}

// Clear removes all entries. Bucket storage is kept for reuse.
func (s *SpatialIndex[T]) Clear() {
	for k, b := range s.cells {
		clear(b)
		s.cells[k] = b[:0]
	}
	s.count = 0
	s.resetBounds()
}

// Insert adds v to the cell containing (x, y).
func (s *SpatialIndex[T]) Insert(v T, x, y float32) {
	k := s.key(x, y)
	s.cells[k] = append(s.cells[k], v)
	s.count++

	s.minCol = min(s.minCol, k.col)
	s.maxCol = max(s.maxCol, k.col)
	s.minRow = min(s.minRow, k.row)
	s.maxRow = max(s.maxRow, k.row)
}

// Len returns the number of stored entries.
func (s *SpatialIndex[T]) Len() int {
	return s.count
}

// QueryRadius returns every entry in the block of cells covering
// [x-r, x+r] × [y-r, y+r]. The result over-approximates the circle;
// callers needing exact distance must re-filter.
func (s *SpatialIndex[T]) QueryRadius(x, y, r float32) []T {
	return s.QueryRadiusInto(nil, x, y, r)
}

// QueryRadiusInto is QueryRadius appending to dst. Reuse dst across calls to
// avoid allocations. Results are ordered by column, then row, then insertion.
func (s *SpatialIndex[T]) QueryRadiusInto(dst []T, x, y, r float32) []T {
	if s.count == 0 || r < 0 || isNaN32(r) {
		return dst
	}
	lo := s.key(x-r, y-r)
	hi := s.key(x+r, y+r)

	// Clip to occupied cells so huge radii stay cheap.
	lo.col = max(lo.col, s.minCol)
	lo.row = max(lo.row, s.minRow)
	hi.col = min(hi.col, s.maxCol)
	hi.row = min(hi.row, s.maxRow)

	for col := int64(lo.col); col <= int64(hi.col); col++ {
		for row := int64(lo.row); row <= int64(hi.row); row++ {
			dst = append(dst, s.cells[cellKey{int32(col), int32(row)}]...)
		}
	}
	return dst
}

func (s *SpatialIndex[T]) key(x, y float32) cellKey {
	return cellKey{
		col: cellCoord(x, s.cellSize),
		row: cellCoord(y, s.cellSize),
	}
}

func (s *SpatialIndex[T]) resetBounds() {
	s.minCol, s.minRow = math.MaxInt32, math.MaxInt32
	s.maxCol, s.maxRow = math.MinInt32, math.MinInt32
}

// cellCoord floors v/cell into int32, saturating at the int32 range.
func cellCoord(v, cell float32) int32 {
	c := math.Floor(float64(v) / float64(cell))
	switch {
	case isNaN64(c):
		return 0
	case c >= math.MaxInt32:
		return math.MaxInt32
	case c <= math.MinInt32:
		return math.MinInt32
	}
	return int32(c)
}

func isNaN32(v float32) bool { return v != v }
func isNaN64(v float64) bool { return v != v }
