package hierarchy

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrStructureNotOnFinestLevel is returned for data requests on a level that
// does not exist. The coupling engine assumes a single-level embedding of the
// structure on the finest level; asking for any other level is a
// configuration error.
var ErrStructureNotOnFinestLevel = errors.New("structure data requested on a level other than the finest")

// Hierarchy is the ordered sequence of refinement levels over one physical
// domain. The geometry is uniform Cartesian: level 0 covers Domain at cell
// size DX, and each finer level divides the cell size by its ratio.
//
// A Hierarchy is constructed once and then mutated only inside the regrid
// bracket (see the regrid package); nothing may interpolate or spread while
// the level structure is changing.
type Hierarchy struct {
	Name   string
	Origin [3]float64 // physical position of Domain.Lo
	DX     [3]float64 // level-0 cell size
	Domain Box        // level-0 index space

	Levels []*PatchLevel
	VarDB  *VariableDatabase
}

// NewHierarchy creates a hierarchy with a single coarsest level whose boxes
// and owners are given. The variable database may be shared with a second
// (scratch) hierarchy so that data indices agree between the two.
func NewHierarchy(name string, origin, dx [3]float64, domain Box, db *VariableDatabase,
	boxes []Box, owners []int) (*Hierarchy, error) {
	if domain.Empty() {
		return nil, fmt.Errorf("hierarchy %q: empty domain %s", name, domain)
	}
	for d := 0; d < 3; d++ {
		if dx[d] <= 0 {
			return nil, fmt.Errorf("hierarchy %q: invalid cell size %v", name, dx)
		}
	}
	h := &Hierarchy{Name: name, Origin: origin, DX: dx, Domain: domain, VarDB: db}
	if err := h.addLevel(1, boxes, owners); err != nil {
		return nil, err
	}
	return h, nil
}

// AddFinerLevel appends a level refined by ratio whose patches are the given
// boxes (in the finer index space) with the given owning ranks. The new
// level must nest inside the current finest level.
func (h *Hierarchy) AddFinerLevel(ratio int, boxes []Box, owners []int) error {
	if ratio < 2 {
		return fmt.Errorf("hierarchy %q: refinement ratio %d < 2", h.Name, ratio)
	}
	return h.addLevel(ratio, boxes, owners)
}

func (h *Hierarchy) addLevel(ratio int, boxes []Box, owners []int) error {
	if len(boxes) == 0 {
		return fmt.Errorf("hierarchy %q: level %d has no boxes", h.Name, len(h.Levels))
	}
	if len(owners) != len(boxes) {
		return fmt.Errorf("hierarchy %q: %d boxes but %d owners", h.Name, len(boxes), len(owners))
	}
	ln := len(h.Levels)
	level := &PatchLevel{Number: ln, Ratio: ratio}
	for i, b := range boxes {
		if b.Empty() {
			return fmt.Errorf("hierarchy %q: level %d: empty box %s", h.Name, ln, b)
		}
		level.Patches = append(level.Patches, NewPatch(b, owners[i]))
	}
	// Keep patch order deterministic: by rank, then by position. Ownership
	// tie breaks depend on this ordering.
	sort.SliceStable(level.Patches, func(a, b int) bool {
		pa, pb := level.Patches[a], level.Patches[b]
		if pa.Rank != pb.Rank {
			return pa.Rank < pb.Rank
		}
		for d := 0; d < 3; d++ {
			if pa.Box.Lo[d] != pb.Box.Lo[d] {
				return pa.Box.Lo[d] < pb.Box.Lo[d]
			}
		}
		return false
	})
	if ln > 0 {
		coarser := h.Levels[ln-1]
		for _, p := range level.Patches {
			if !coarser.covers(p.Box.Coarsen(ratio)) {
				return fmt.Errorf("hierarchy %q: level %d box %s does not nest in level %d",
					h.Name, ln, p.Box, ln-1)
			}
		}
	} else {
		for _, p := range level.Patches {
			if _, ok := p.Box.Intersect(h.Domain); !ok {
				return fmt.Errorf("hierarchy %q: level 0 box %s outside domain %s", h.Name, p.Box, h.Domain)
			}
		}
	}
	h.Levels = append(h.Levels, level)
	return nil
}

// ReplaceFinestLevel swaps the finest level's patches for a new box layout.
// All data on the old level is discarded; callers are responsible for
// redistributing Lagrangian data around the swap (regrid bracket).
func (h *Hierarchy) ReplaceFinestLevel(boxes []Box, owners []int) error {
	ln := h.FinestLevelNumber()
	ratio := h.Levels[ln].Ratio
	h.Levels = h.Levels[:ln]
	if ln == 0 {
		return h.addLevel(1, boxes, owners)
	}
	return h.addLevel(ratio, boxes, owners)
}

func (h *Hierarchy) FinestLevelNumber() int { return len(h.Levels) - 1 }

func (h *Hierarchy) FinestLevel() *PatchLevel { return h.Levels[h.FinestLevelNumber()] }

// Level returns the requested level. Levels other than existing ones fail
// with ErrStructureNotOnFinestLevel per the single-level embedding contract.
func (h *Hierarchy) Level(ln int) (*PatchLevel, error) {
	if ln < 0 || ln >= len(h.Levels) {
		return nil, fmt.Errorf("hierarchy %q: level %d of %d: %w",
			h.Name, ln, len(h.Levels), ErrStructureNotOnFinestLevel)
	}
	return h.Levels[ln], nil
}

// ratioProduct is the cumulative refinement from level 0 to level ln.
func (h *Hierarchy) ratioProduct(ln int) int {
	r := 1
	for l := 1; l <= ln; l++ {
		r *= h.Levels[l].Ratio
	}
	return r
}

// CellSize returns the cell size on level ln.
func (h *Hierarchy) CellSize(ln int) [3]float64 {
	r := float64(h.ratioProduct(ln))
	return [3]float64{h.DX[0] / r, h.DX[1] / r, h.DX[2] / r}
}

// CellVolume returns the cell volume on level ln.
func (h *Hierarchy) CellVolume(ln int) float64 {
	dx := h.CellSize(ln)
	return dx[0] * dx[1] * dx[2]
}

// CellIndex returns the index of the level-ln cell whose half-open physical
// box contains x.
func (h *Hierarchy) CellIndex(ln int, x [3]float64) [3]int {
	dx := h.CellSize(ln)
	var c [3]int
	for d := 0; d < 3; d++ {
		c[d] = int(math.Floor((x[d] - h.Origin[d]) / dx[d]))
	}
	return c
}

// CellCenter returns the physical center of cell c on level ln.
func (h *Hierarchy) CellCenter(ln int, c [3]int) [3]float64 {
	dx := h.CellSize(ln)
	var x [3]float64
	for d := 0; d < 3; d++ {
		x[d] = h.Origin[d] + (float64(c[d])+0.5)*dx[d]
	}
	return x
}

// OwnerPatch resolves the patch on level ln owning physical position x.
// Ownership is half-open in index space; when several patches contain the
// cell (which regridding never produces, but degenerate inputs can), the
// lowest-rank patch in deterministic order wins. The bool result is false
// when no patch on the level contains the point.
func (h *Hierarchy) OwnerPatch(ln int, x [3]float64) (*Patch, bool) {
	level, err := h.Level(ln)
	if err != nil {
		return nil, false
	}
	c := h.CellIndex(ln, x)
	for _, p := range level.Patches {
		if p.Box.Contains(c[0], c[1], c[2]) {
			return p, true
		}
	}
	return nil, false
}
