package hierarchy

// PatchLevel is one refinement level: an unordered collection of patches
// sharing a common index space. Ratio is the refinement ratio to the next
// coarser level (1 for the coarsest level).
type PatchLevel struct {
	Number  int
	Ratio   int
	Patches []*Patch
}

// LocalPatches returns the patches owned by the given rank, in stable order.
func (l *PatchLevel) LocalPatches(rank int) []*Patch {
	var out []*Patch
	for _, p := range l.Patches {
		if p.Rank == rank {
			out = append(out, p)
		}
	}
	return out
}

// Boxes returns the box of every patch on the level.
func (l *PatchLevel) Boxes() []Box {
	out := make([]Box, len(l.Patches))
	for i, p := range l.Patches {
		out[i] = p.Box
	}
	return out
}

// Allocate creates storage for the data indices on every patch.
func (l *PatchLevel) Allocate(db *VariableDatabase, idxs ...int) {
	for _, p := range l.Patches {
		for _, idx := range idxs {
			p.Allocate(db, idx)
		}
	}
}

// Deallocate drops storage for the data indices on every patch.
func (l *PatchLevel) Deallocate(idxs ...int) {
	for _, p := range l.Patches {
		for _, idx := range idxs {
			p.Deallocate(idx)
		}
	}
}

// Allocated reports whether every patch carries data for the index.
func (l *PatchLevel) Allocated(idx int) bool {
	for _, p := range l.Patches {
		if !p.Allocated(idx) {
			return false
		}
	}
	return len(l.Patches) > 0
}

// covers reports whether the union of the level's patch boxes covers box.
func (l *PatchLevel) covers(box Box) bool {
	for k := box.Lo[2]; k < box.Hi[2]; k++ {
		for j := box.Lo[1]; j < box.Hi[1]; j++ {
			for i := box.Lo[0]; i < box.Hi[0]; i++ {
				found := false
				for _, p := range l.Patches {
					if p.Box.Contains(i, j, k) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}
