package hierarchy

import "fmt"

// CellField is cell-centered data over one patch box, including a ghost
// region of uniform width. Data layout is x-fastest over the ghost box with
// depth values per cell, matching the flat-slice grid indexing used
// throughout the engine.
type CellField struct {
	Box   Box // interior cells
	Ghost int // ghost width on every side
	Depth int // values per cell

	ghostBox Box
	length   int // cells along x of the ghost box
	area     int // cells per z-slab of the ghost box
	Data     []float64
}

// NewCellField allocates a zeroed field.
func NewCellField(box Box, ghost, depth int) *CellField {
	if ghost < 0 || depth <= 0 {
		panic(fmt.Sprintf("invalid field shape: ghost=%d depth=%d", ghost, depth))
	}
	gb := box.Grow(ghost)
	f := &CellField{
		Box:      box,
		Ghost:    ghost,
		Depth:    depth,
		ghostBox: gb,
		length:   gb.Width(0),
		area:     gb.Width(0) * gb.Width(1),
	}
	f.Data = make([]float64, gb.NumCells()*depth)
	return f
}

// GhostBox returns the interior box grown by the ghost width.
func (f *CellField) GhostBox() Box { return f.ghostBox }

// Idx returns the flat offset of component d of cell (i,j,k). The cell may
// lie in the ghost region but must be inside the ghost box.
func (f *CellField) Idx(i, j, k, d int) int {
	x := i - f.ghostBox.Lo[0]
	y := j - f.ghostBox.Lo[1]
	z := k - f.ghostBox.Lo[2]
	return (x+y*f.length+z*f.area)*f.Depth + d
}

func (f *CellField) At(i, j, k, d int) float64 {
	return f.Data[f.Idx(i, j, k, d)]
}

func (f *CellField) Set(i, j, k, d int, v float64) {
	f.Data[f.Idx(i, j, k, d)] = v
}

func (f *CellField) Add(i, j, k, d int, v float64) {
	f.Data[f.Idx(i, j, k, d)] += v
}

// Fill sets every value, ghosts included.
func (f *CellField) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// SumInterior sums component d over interior cells only.
func (f *CellField) SumInterior(d int) float64 {
	sum := 0.0
	for k := f.Box.Lo[2]; k < f.Box.Hi[2]; k++ {
		for j := f.Box.Lo[1]; j < f.Box.Hi[1]; j++ {
			for i := f.Box.Lo[0]; i < f.Box.Hi[0]; i++ {
				sum += f.At(i, j, k, d)
			}
		}
	}
	return sum
}

// CopyOverlap copies component values from src wherever the two fields'
// ghost boxes overlap, restricted to the given region.
func (f *CellField) CopyOverlap(src *CellField, region Box) {
	if f.Depth != src.Depth {
		panic(fmt.Sprintf("depth mismatch in CopyOverlap: %d vs %d", f.Depth, src.Depth))
	}
	ov, ok := region.Intersect(f.ghostBox)
	if !ok {
		return
	}
	ov, ok = ov.Intersect(src.ghostBox)
	if !ok {
		return
	}
	for k := ov.Lo[2]; k < ov.Hi[2]; k++ {
		for j := ov.Lo[1]; j < ov.Hi[1]; j++ {
			for i := ov.Lo[0]; i < ov.Hi[0]; i++ {
				for d := 0; d < f.Depth; d++ {
					f.Set(i, j, k, d, src.At(i, j, k, d))
				}
			}
		}
	}
}
