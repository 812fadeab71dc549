// Package regrid coordinates changes to the patch layout: regenerating the
// finest level to follow the structure, and building the workload-balanced
// scratch hierarchy that interaction runs against. All layout changes
// happen inside a begin/end data-redistribution bracket; nothing may
// interpolate or spread while the bracket is open.
package regrid

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/IBKernel/comm"
	"github.com/notargets/IBKernel/datamanager"
	"github.com/notargets/IBKernel/hierarchy"
	"github.com/notargets/IBKernel/interaction"
	"github.com/notargets/IBKernel/partitions"
)

// ErrUnpairedRedistribution means EndDataRedistribution ran without a
// matching Begin (or Begin ran twice). The bracket is a strict state
// machine; a mismatch is a sequencing bug in the stepper.
var ErrUnpairedRedistribution = errors.New("unpaired data redistribution bracket")

// Shared is the cross-rank slot a coordinator group publishes layout
// products through. The hierarchy is shared address space, so rank 0 builds
// the new scratch hierarchy between barriers and the other ranks adopt the
// same object from here. Create one Shared per rank group and hand it to
// every rank's coordinator.
type Shared struct {
	scratch *hierarchy.Hierarchy
}

// Coordinator owns the regrid lifecycle for one rank. The hierarchy is
// shared address space across the rank group, so layout mutations are
// executed by rank 0 between barriers; every other rank only updates its
// local view (bindings, caches, the active-hierarchy selection).
type Coordinator struct {
	DM *datamanager.DataManager
	Op *interaction.Op

	// Gridding clusters tagged cells into the new finest-level boxes.
	Gridding *hierarchy.GriddingAlgorithm

	// Builder partitions the scratch hierarchy by workload.
	Builder *partitions.Builder

	// UseScratch enables the workload-balanced scratch hierarchy.
	UseScratch bool

	// PerPointWeight is the workload added per interaction point and
	// support cell.
	PerPointWeight float64

	// SkipInitialWorkloadLog suppresses the workload summary for the first
	// regrid, which runs before any meaningful load history exists.
	SkipInitialWorkloadLog bool

	log     *logrus.Entry
	shared  *Shared
	open    bool
	regrids int
	active  *hierarchy.Hierarchy
}

// NewCoordinator wires a coordinator over the data manager's hierarchies.
// shared must be the same instance for every rank of a group; pass nil for
// a single-rank run.
func NewCoordinator(dm *datamanager.DataManager, op *interaction.Op,
	shared *Shared, log *logrus.Entry) (*Coordinator, error) {
	if dm == nil || op == nil {
		return nil, errors.New("coordinator needs a data manager and an interaction operator")
	}
	if shared == nil {
		shared = &Shared{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	builder := partitions.NewWorkloadBuilder()
	return &Coordinator{
		DM:             dm,
		Op:             op,
		Gridding:       hierarchy.NewGriddingAlgorithm(partitions.Balancer{Builder: *builder}),
		Builder:        builder,
		PerPointWeight: 1.0,
		log:            log.WithField("component", "regrid"),
		shared:         shared,
		active:         dm.Active(),
	}, nil
}

// Active returns the hierarchy interaction currently runs against. The
// selection is resolved once per bracket close, not per query, so a caller
// holding the result across a step sees a consistent hierarchy.
func (c *Coordinator) Active() *hierarchy.Hierarchy { return c.active }

// Open reports whether the redistribution bracket is open.
func (c *Coordinator) Open() bool { return c.open }

// NumRegrids returns how many brackets have completed.
func (c *Coordinator) NumRegrids() int { return c.regrids }

// BeginDataRedistribution opens the bracket: parts snapshot whatever they
// need, bindings and schedules are dropped, and layout mutation becomes
// legal.
func (c *Coordinator) BeginDataRedistribution() error {
	if c.open {
		return fmt.Errorf("BeginDataRedistribution while a bracket is open: %w", ErrUnpairedRedistribution)
	}
	c.open = true
	for _, p := range c.DM.Parts() {
		p.OnRegridBegin()
	}
	c.DM.Invalidate()
	return nil
}

// EndDataRedistribution closes the bracket: parts restore their state, the
// active hierarchy is re-resolved, and points are rebound to the new
// layout.
func (c *Coordinator) EndDataRedistribution() error {
	if !c.open {
		return fmt.Errorf("EndDataRedistribution without Begin: %w", ErrUnpairedRedistribution)
	}
	for _, p := range c.DM.Parts() {
		p.OnRegridEnd()
	}
	c.DM.Invalidate()
	c.active = c.DM.Active()
	if err := c.DM.Rebind(); err != nil {
		return err
	}
	c.open = false
	c.regrids++
	return nil
}

// RegridPrimary regenerates the primary finest level so that it covers the
// structure: every cell under an interaction-point kernel support is
// tagged, the gridding algorithm clusters the tags into boxes, and
// ownership is rebalanced across the group. Must run inside the bracket.
// Collective.
func (c *Coordinator) RegridPrimary(cm comm.Communicator) error {
	if !c.open {
		return fmt.Errorf("RegridPrimary outside the redistribution bracket: %w", ErrUnpairedRedistribution)
	}
	h := c.DM.Primary
	tags := c.tagCells(h)
	if len(tags) == 0 {
		return errors.New("regrid with no interaction points tags no cells")
	}
	err := comm.OnRank0(cm, func() error {
		if err := c.Gridding.RegridFinestLevel(h, tags, nil, cm.Size()); err != nil {
			return err
		}
		// The swap discarded the old level's storage; the regenerated level
		// must carry every registered variable before interaction resumes.
		// Cloned cache indices are excluded: checkouts do not survive a
		// regrid.
		level := h.FinestLevel()
		for idx := 0; idx < h.VarDB.NumVariables(); idx++ {
			if v := h.VarDB.MustVariable(idx); !v.Cloned {
				level.Allocate(h.VarDB, idx)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"tags":  len(tags),
		"boxes": len(h.FinestLevel().Patches),
	}).Info("regridded primary finest level")
	return nil
}

// tagCells tags every finest-level cell covered by a kernel support around
// an interaction point. Parts are replicated on every rank, so the tag set
// is identical everywhere.
func (c *Coordinator) tagCells(h *hierarchy.Hierarchy) [][3]int {
	ln := h.FinestLevelNumber()
	dx := h.CellSize(ln)
	half := c.Op.Kernel.GhostWidth()
	seen := make(map[[3]int]struct{})
	for _, part := range c.DM.Parts() {
		if !part.Active() {
			continue
		}
		for _, pt := range part.InteractionPoints(c.DM.PointDensity, dx[0]) {
			center := h.CellIndex(ln, pt.X)
			for dz := -half; dz <= half; dz++ {
				for dy := -half; dy <= half; dy++ {
					for dxc := -half; dxc <= half; dxc++ {
						seen[[3]int{center[0] + dxc, center[1] + dy, center[2] + dz}] = struct{}{}
					}
				}
			}
		}
	}
	tags := make([][3]int, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	return tags
}

// AddWorkloadEstimate adds, for every interaction point, PerPointWeight to
// each cell the point's kernel support overlaps. workloadIdx must be a
// depth-1 variable with at least the kernel's ghost width, allocated on the
// primary finest level. Collective: ghost contributions are folded back
// onto owning patches.
func (c *Coordinator) AddWorkloadEstimate(cm comm.Communicator, workloadIdx int) error {
	h := c.DM.Primary
	ln := h.FinestLevelNumber()
	v, err := h.VarDB.Variable(workloadIdx)
	if err != nil {
		return err
	}
	if v.Depth != 1 {
		return fmt.Errorf("workload variable %q has depth %d, want 1", v.Name, v.Depth)
	}
	if v.Ghost < c.Op.Kernel.GhostWidth() {
		return fmt.Errorf("workload variable %q has ghost width %d, kernel %s support needs %d",
			v.Name, v.Ghost, c.Op.Kernel.Name, c.Op.Kernel.GhostWidth())
	}

	dx := h.CellSize(ln)
	half := c.Op.Kernel.GhostWidth()
	level := h.FinestLevel()
	for _, p := range level.LocalPatches(cm.Rank()) {
		f, err := p.Field(workloadIdx)
		if err != nil {
			return err
		}
		for _, part := range c.DM.Parts() {
			if !part.Active() {
				continue
			}
			part.EstimateWorkload(c.DM.PointDensity, dx[0], c.PerPointWeight,
				func(x [3]float64, w float64) {
					cell := h.CellIndex(ln, x)
					if !p.Box.Contains(cell[0], cell[1], cell[2]) {
						return
					}
					for dz := -half; dz <= half; dz++ {
						for dy := -half; dy <= half; dy++ {
							for dxc := -half; dxc <= half; dxc++ {
								f.Add(cell[0]+dxc, cell[1]+dy, cell[2]+dz, 0, w)
							}
						}
					}
				})
		}
	}
	return comm.OnRank0(cm, func() error {
		return h.AccumulateGhosts(ln, workloadIdx)
	})
}

// RebuildScratch builds the scratch hierarchy: the primary layout with the
// finest level re-partitioned (and overweight boxes split) so that
// interaction workload, not cell count, is evened across ranks. The
// workload field must already hold the estimate. Must run inside the
// bracket. Collective.
func (c *Coordinator) RebuildScratch(cm comm.Communicator, workloadIdx int) error {
	if !c.open {
		return fmt.Errorf("RebuildScratch outside the redistribution bracket: %w", ErrUnpairedRedistribution)
	}
	if !c.UseScratch {
		c.DM.SetScratch(nil)
		return nil
	}
	// Rank 0 builds the new scratch hierarchy and publishes it; every rank
	// then adopts the same object, since the patch data must be shared.
	if err := comm.OnRank0(cm, func() error {
		return c.buildScratch(cm.Size(), workloadIdx)
	}); err != nil {
		return err
	}
	c.DM.SetScratch(c.shared.scratch)
	return nil
}

func (c *Coordinator) buildScratch(numRanks, workloadIdx int) error {
	h := c.DM.Primary
	ln := h.FinestLevelNumber()

	boxes := h.FinestLevel().Boxes()
	weights := make([]float64, len(boxes))
	for i, b := range boxes {
		weights[i] = c.workloadIn(h, ln, workloadIdx, b)
	}
	boxes, _ = c.Builder.SplitOverweightBoxes(boxes, weights, numRanks)
	// Re-measure split pieces instead of trusting the volume-proportional
	// estimate; points cluster, volume does not.
	weights = make([]float64, len(boxes))
	for i, b := range boxes {
		weights[i] = c.workloadIn(h, ln, workloadIdx, b)
	}
	layout, err := c.Builder.BuildLayout(boxes, weights, numRanks)
	if err != nil {
		return err
	}
	scratch, err := c.cloneWithFinest(h, boxes, layout.BoxOwner)
	if err != nil {
		return err
	}
	c.shared.scratch = scratch

	if !(c.SkipInitialWorkloadLog && c.regrids == 0) {
		c.log.WithFields(logrus.Fields{
			"boxes":     len(boxes),
			"ranks":     numRanks,
			"imbalance": layout.Imbalance(),
		}).Info("rebuilt scratch hierarchy")
	}
	return nil
}

// workloadIn sums the workload field over the cells of box.
func (c *Coordinator) workloadIn(h *hierarchy.Hierarchy, ln, idx int, box hierarchy.Box) float64 {
	sum := 0.0
	for _, p := range h.Levels[ln].Patches {
		ov, ok := p.Box.Intersect(box)
		if !ok {
			continue
		}
		f, err := p.Field(idx)
		if err != nil {
			continue
		}
		for k := ov.Lo[2]; k < ov.Hi[2]; k++ {
			for j := ov.Lo[1]; j < ov.Hi[1]; j++ {
				for i := ov.Lo[0]; i < ov.Hi[0]; i++ {
					sum += f.At(i, j, k, 0)
				}
			}
		}
	}
	return sum
}

// cloneWithFinest copies the primary level structure, swapping the finest
// level for the given layout. The variable database is shared so data
// indices mean the same thing on both hierarchies.
func (c *Coordinator) cloneWithFinest(h *hierarchy.Hierarchy,
	finestBoxes []hierarchy.Box, owners []int) (*hierarchy.Hierarchy, error) {
	var l0Boxes []hierarchy.Box
	var l0Owners []int
	if h.FinestLevelNumber() == 0 {
		l0Boxes, l0Owners = finestBoxes, owners
	} else {
		for _, p := range h.Levels[0].Patches {
			l0Boxes = append(l0Boxes, p.Box)
			l0Owners = append(l0Owners, p.Rank)
		}
	}
	scratch, err := hierarchy.NewHierarchy("scratch", h.Origin, h.DX, h.Domain,
		h.VarDB, l0Boxes, l0Owners)
	if err != nil {
		return nil, err
	}
	for ln := 1; ln <= h.FinestLevelNumber(); ln++ {
		level := h.Levels[ln]
		boxes, ranks := level.Boxes(), make([]int, len(level.Patches))
		for i, p := range level.Patches {
			ranks[i] = p.Rank
		}
		if ln == h.FinestLevelNumber() {
			boxes, ranks = finestBoxes, owners
		}
		if err := scratch.AddFinerLevel(level.Ratio, boxes, ranks); err != nil {
			return nil, err
		}
	}
	return scratch, nil
}
