package interaction

import (
	"fmt"

	"github.com/notargets/IBKernel/comm"
	"github.com/notargets/IBKernel/datamanager"
	"github.com/notargets/IBKernel/hierarchy"
	"github.com/notargets/IBKernel/structure"
)

// Op performs interpolate and spread on the finest level of the data
// manager's active hierarchy. An Op is cheap to construct and holds no
// per-step state; the bindings live in the data manager.
//
// The structure must stay at least Kernel.GhostWidth() cells away from the
// physical domain boundary: stencils are never clipped (clipping would
// break adjointness), so a point closer than that indexes outside its
// patch's ghost box.
type Op struct {
	DM     *datamanager.DataManager
	Kernel Kernel
}

// NewOp creates an operator with the named kernel.
func NewOp(dm *datamanager.DataManager, kernelName string) (*Op, error) {
	if dm == nil {
		return nil, fmt.Errorf("interaction operator needs a data manager")
	}
	k, err := KernelFromName(kernelName)
	if err != nil {
		return nil, err
	}
	return &Op{DM: dm, Kernel: k}, nil
}

// checkGhosts verifies the variable carries enough ghost cells for the
// kernel stencil.
func (op *Op) checkGhosts(h *hierarchy.Hierarchy, idx int) (hierarchy.Variable, error) {
	v, err := h.VarDB.Variable(idx)
	if err != nil {
		return hierarchy.Variable{}, err
	}
	if v.Ghost < op.Kernel.GhostWidth() {
		return hierarchy.Variable{}, fmt.Errorf(
			"variable %q has ghost width %d, kernel %s needs %d",
			v.Name, v.Ghost, op.Kernel.Name, op.Kernel.GhostWidth())
	}
	return v, nil
}

// FillGhosts runs the ghost exchange for the vector as a collective. The
// hierarchy is shared address space, so one rank performs the exchange
// between barriers and every rank marks its view fresh.
func (op *Op) FillGhosts(c comm.Communicator, gv *datamanager.GhostedVector) error {
	if err := comm.OnRank0(c, func() error {
		return gv.H.FillGhosts(gv.Level, gv.Index)
	}); err != nil {
		return err
	}
	gv.MarkFresh()
	return nil
}

// Interpolate gathers the Eulerian field gv at every interaction point and
// L2-projects the result onto each active part's nodes, storing it through
// dst (typically Integrable.Velocities). Ghosts must be fresh; call
// FillGhosts first. Collective.
func (op *Op) Interpolate(c comm.Communicator, gv *datamanager.GhostedVector,
	consistentMass bool, dst func(structure.Integrable) []float64) error {
	h := op.DM.Active()
	if gv.H != h {
		return fmt.Errorf("interpolate source lives on hierarchy %q, active is %q", gv.H.Name, h.Name)
	}
	v, err := op.checkGhosts(h, gv.Index)
	if err != nil {
		return err
	}
	if err := gv.RequireFresh(); err != nil {
		return err
	}
	if !op.DM.Bound() {
		if err := op.DM.Rebind(); err != nil {
			return err
		}
	}

	rhs := make(map[structure.Integrable][]float64)
	for _, part := range op.DM.Parts() {
		if part.Active() {
			rhs[part] = make([]float64, v.Depth*part.NumNodes())
		}
	}

	local, err := op.DM.LocalPoints()
	if err != nil {
		return err
	}
	vals := make([]float64, v.Depth)
	for patch, pts := range local {
		f, err := patch.Field(gv.Index)
		if err != nil {
			return err
		}
		for _, bp := range pts {
			// Bindings may be stale with respect to activation toggles;
			// inactive parts take no interpolated data.
			if !bp.Part.Active() {
				continue
			}
			op.gather(f, h, gv.Level, bp.X, vals)
			r := rhs[bp.Part]
			for i, ni := range bp.Nodes {
				for d := 0; d < v.Depth; d++ {
					r[ni*v.Depth+d] += bp.W * bp.Shape[i] * vals[d]
				}
			}
		}
	}

	// Reduce and solve in registration order so every rank runs the same
	// collective sequence.
	for _, part := range op.DM.Parts() {
		if !part.Active() {
			continue
		}
		global := c.AllReduceSum(rhs[part])
		sol, err := part.SolveProjection(global, v.Depth, consistentMass)
		if err != nil {
			return fmt.Errorf("interpolate onto part %q: %w", part.Name(), err)
		}
		copy(dst(part), sol)
	}
	return nil
}

// Spread scatters each active part's nodal density (selected by src,
// typically Integrable.Forces or SourceDensity) onto the Eulerian field gv
// as a cell density: the exact adjoint of the interpolation gather, scaled
// by 1/cellVolume. The field is zeroed first; ghost contributions are
// folded back onto owning patches. Collective.
func (op *Op) Spread(c comm.Communicator, gv *datamanager.GhostedVector,
	src func(structure.Integrable) []float64) error {
	h := op.DM.Active()
	if gv.H != h {
		return fmt.Errorf("spread target lives on hierarchy %q, active is %q", gv.H.Name, h.Name)
	}
	v, err := op.checkGhosts(h, gv.Index)
	if err != nil {
		return err
	}
	if !op.DM.Bound() {
		if err := op.DM.Rebind(); err != nil {
			return err
		}
	}

	level, err := h.Level(gv.Level)
	if err != nil {
		return err
	}
	for _, p := range level.LocalPatches(c.Rank()) {
		f, err := p.Field(gv.Index)
		if err != nil {
			return err
		}
		f.Fill(0)
	}

	local, err := op.DM.LocalPoints()
	if err != nil {
		return err
	}
	cellVol := h.CellVolume(gv.Level)
	fv := make([]float64, v.Depth)
	for patch, pts := range local {
		f, err := patch.Field(gv.Index)
		if err != nil {
			return err
		}
		for _, bp := range pts {
			// Inactive parts spread nothing, even while their bindings
			// from before the toggle are still cached.
			if !bp.Part.Active() {
				continue
			}
			nodal := src(bp.Part)
			if nodal == nil {
				// The part does not carry this quantity (e.g. a part
				// without registered fluid sources).
				continue
			}
			for d := range fv {
				fv[d] = 0
			}
			for i, ni := range bp.Nodes {
				for d := 0; d < v.Depth; d++ {
					fv[d] += bp.Shape[i] * nodal[ni*v.Depth+d]
				}
			}
			op.scatter(f, h, gv.Level, bp.X, fv, bp.W/cellVol)
		}
	}

	// Kernel support crossing a patch face lands in ghost cells; fold those
	// onto the owning interiors exactly once.
	if err := comm.OnRank0(c, func() error {
		return h.AccumulateGhosts(gv.Level, gv.Index)
	}); err != nil {
		return err
	}
	gv.MarkDirty()
	return nil
}

// GridIntegral returns the global integral of component d of the field:
// the sum over interior cells times the cell volume. Collective.
func (op *Op) GridIntegral(c comm.Communicator, gv *datamanager.GhostedVector, d int) (float64, error) {
	h := gv.H
	level, err := h.Level(gv.Level)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, p := range level.LocalPatches(c.Rank()) {
		f, err := p.Field(gv.Index)
		if err != nil {
			return 0, err
		}
		sum += f.SumInterior(d)
	}
	global := c.AllReduceSum([]float64{sum})
	return global[0] * h.CellVolume(gv.Level), nil
}

// weights3 holds one tensor-product stencil.
type weights3 struct {
	base [3]int
	w    [3][maxSupport]float64
}

func (op *Op) stencil3(h *hierarchy.Hierarchy, ln int, x [3]float64) weights3 {
	dx := h.CellSize(ln)
	var st weights3
	for d := 0; d < 3; d++ {
		s := (x[d]-h.Origin[d])/dx[d] - 0.5
		st.base[d] = op.Kernel.stencil(s, st.w[d][:op.Kernel.Support])
	}
	return st
}

func (op *Op) gather(f *hierarchy.CellField, h *hierarchy.Hierarchy, ln int,
	x [3]float64, out []float64) {
	for d := range out {
		out[d] = 0
	}
	st := op.stencil3(h, ln, x)
	n := op.Kernel.Support
	for ck := 0; ck < n; ck++ {
		for cj := 0; cj < n; cj++ {
			for ci := 0; ci < n; ci++ {
				wt := st.w[0][ci] * st.w[1][cj] * st.w[2][ck]
				if wt == 0 {
					continue
				}
				for d := range out {
					out[d] += wt * f.At(st.base[0]+ci, st.base[1]+cj, st.base[2]+ck, d)
				}
			}
		}
	}
}

func (op *Op) scatter(f *hierarchy.CellField, h *hierarchy.Hierarchy, ln int,
	x [3]float64, vals []float64, scale float64) {
	st := op.stencil3(h, ln, x)
	n := op.Kernel.Support
	for ck := 0; ck < n; ck++ {
		for cj := 0; cj < n; cj++ {
			for ci := 0; ci < n; ci++ {
				wt := st.w[0][ci] * st.w[1][cj] * st.w[2][ck] * scale
				if wt == 0 {
					continue
				}
				for d := range vals {
					f.Add(st.base[0]+ci, st.base[1]+cj, st.base[2]+ck, d, wt*vals[d])
				}
			}
		}
	}
}
