// Package hierarchy implements the adaptive structured-grid side of the
// coupling engine: rectangular index-space boxes, per-patch cell data with
// ghost regions, refinement levels, the patch hierarchy itself, and the
// regrid machinery (variable database, scratch-data cache, ghost exchange,
// box generation).
package hierarchy

import "fmt"

// Box is a rectangular region of an integer index space. Lo is inclusive,
// Hi is exclusive, so a box owns the cells Lo <= c < Hi along each axis.
// The half-open convention makes cell ownership deterministic: a face shared
// by two boxes belongs to exactly one of them.
type Box struct {
	Lo, Hi [3]int
}

// NewBox builds a box from an origin and per-axis widths.
func NewBox(origin, width [3]int) Box {
	var b Box
	for d := 0; d < 3; d++ {
		b.Lo[d] = origin[d]
		b.Hi[d] = origin[d] + width[d]
	}
	return b
}

func (b Box) Width(d int) int { return b.Hi[d] - b.Lo[d] }

// NumCells returns the cell count of the box; empty boxes report zero.
func (b Box) NumCells() int {
	n := 1
	for d := 0; d < 3; d++ {
		w := b.Hi[d] - b.Lo[d]
		if w <= 0 {
			return 0
		}
		n *= w
	}
	return n
}

func (b Box) Empty() bool { return b.NumCells() == 0 }

// Contains reports whether cell (i,j,k) lies inside the box.
func (b Box) Contains(i, j, k int) bool {
	return i >= b.Lo[0] && i < b.Hi[0] &&
		j >= b.Lo[1] && j < b.Hi[1] &&
		k >= b.Lo[2] && k < b.Hi[2]
}

// Intersect returns the overlap of two boxes and whether it is nonempty.
func (b Box) Intersect(o Box) (Box, bool) {
	var r Box
	for d := 0; d < 3; d++ {
		r.Lo[d] = max(b.Lo[d], o.Lo[d])
		r.Hi[d] = min(b.Hi[d], o.Hi[d])
		if r.Hi[d] <= r.Lo[d] {
			return Box{}, false
		}
	}
	return r, true
}

// Grow expands the box by g cells on every side.
func (b Box) Grow(g int) Box {
	var r Box
	for d := 0; d < 3; d++ {
		r.Lo[d] = b.Lo[d] - g
		r.Hi[d] = b.Hi[d] + g
	}
	return r
}

// Refine maps the box to the index space that is ratio times finer.
func (b Box) Refine(ratio int) Box {
	var r Box
	for d := 0; d < 3; d++ {
		r.Lo[d] = b.Lo[d] * ratio
		r.Hi[d] = b.Hi[d] * ratio
	}
	return r
}

// Coarsen maps the box to the index space that is ratio times coarser,
// rounding outward so the coarse box covers the fine one.
func (b Box) Coarsen(ratio int) Box {
	var r Box
	for d := 0; d < 3; d++ {
		r.Lo[d] = floorDiv(b.Lo[d], ratio)
		r.Hi[d] = ceilDiv(b.Hi[d], ratio)
	}
	return r
}

// LongestAxis returns the axis with the largest width.
func (b Box) LongestAxis() int {
	axis := 0
	for d := 1; d < 3; d++ {
		if b.Width(d) > b.Width(axis) {
			axis = d
		}
	}
	return axis
}

// Split cuts the box into two along the given axis at index cut
// (Lo[axis] < cut < Hi[axis]).
func (b Box) Split(axis, cut int) (Box, Box) {
	lo, hi := b, b
	lo.Hi[axis] = cut
	hi.Lo[axis] = cut
	return lo, hi
}

func (b Box) String() string {
	return fmt.Sprintf("[%d,%d,%d]..[%d,%d,%d)", b.Lo[0], b.Lo[1], b.Lo[2], b.Hi[0], b.Hi[1], b.Hi[2])
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}
