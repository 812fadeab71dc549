package hierarchy

// Ghost exchange for one level. FillGhosts and AccumulateGhosts are exact
// adjoints of each other, which is what keeps interpolate and spread adjoint
// when kernel supports cross patch boundaries: fill copies owner interior
// values into neighbor ghost cells, accumulate adds neighbor ghost values
// back into owner interior cells.

// FillGhosts copies interior data into the ghost regions of every other
// patch on the level wherever boxes overlap. Ghost cells with no owning
// patch (physical boundary) are left untouched.
func (h *Hierarchy) FillGhosts(ln, idx int) error {
	level, err := h.Level(ln)
	if err != nil {
		return err
	}
	for _, dst := range level.Patches {
		df, err := dst.Field(idx)
		if err != nil {
			return err
		}
		for _, src := range level.Patches {
			if src == dst {
				continue
			}
			sf, err := src.Field(idx)
			if err != nil {
				return err
			}
			// Only the source interior is authoritative.
			region, ok := df.GhostBox().Intersect(src.Box)
			if !ok {
				continue
			}
			df.CopyOverlap(sf, region)
		}
	}
	return nil
}

// AccumulateGhosts adds every patch's ghost-region values into the interior
// cells of the patches owning those cells, then zeroes the ghost regions.
// This is the spreading counterpart of FillGhosts: kernel contributions
// written into ghost cells land exactly once on the owning patch.
func (h *Hierarchy) AccumulateGhosts(ln, idx int) error {
	level, err := h.Level(ln)
	if err != nil {
		return err
	}
	for _, src := range level.Patches {
		sf, err := src.Field(idx)
		if err != nil {
			return err
		}
		for _, dst := range level.Patches {
			if src == dst {
				continue
			}
			df, err := dst.Field(idx)
			if err != nil {
				return err
			}
			ov, ok := sf.GhostBox().Intersect(dst.Box)
			if !ok {
				continue
			}
			// Ghost cells of src only: skip the part overlapping src's own
			// interior.
			for k := ov.Lo[2]; k < ov.Hi[2]; k++ {
				for j := ov.Lo[1]; j < ov.Hi[1]; j++ {
					for i := ov.Lo[0]; i < ov.Hi[0]; i++ {
						if src.Box.Contains(i, j, k) {
							continue
						}
						for d := 0; d < sf.Depth; d++ {
							df.Add(i, j, k, d, sf.At(i, j, k, d))
						}
					}
				}
			}
		}
	}
	// Zero every ghost region afterwards so a second accumulate cannot
	// double-count.
	for _, p := range level.Patches {
		f, err := p.Field(idx)
		if err != nil {
			return err
		}
		gb := f.GhostBox()
		for k := gb.Lo[2]; k < gb.Hi[2]; k++ {
			for j := gb.Lo[1]; j < gb.Hi[1]; j++ {
				for i := gb.Lo[0]; i < gb.Hi[0]; i++ {
					if p.Box.Contains(i, j, k) {
						continue
					}
					for d := 0; d < f.Depth; d++ {
						f.Set(i, j, k, d, 0)
					}
				}
			}
		}
	}
	return nil
}
