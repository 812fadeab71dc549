package datamanager

import (
	"errors"
	"fmt"

	"github.com/notargets/IBKernel/hierarchy"
)

// ErrStaleGhostData means an operator that reads ghost cells ran before the
// ghost exchange. Always a sequencing bug in the calling step, never a data
// problem, so callers should not retry.
var ErrStaleGhostData = errors.New("ghost data is stale")

// GhostedVector is one data index on one level with a ghost-freshness flag.
// Interpolation needs ghost cells filled from neighboring patch interiors;
// tracking freshness here lets the stepper skip redundant exchanges and
// lets operators assert the exchange actually happened.
type GhostedVector struct {
	H     *hierarchy.Hierarchy
	Level int
	Index int

	fresh bool
}

// NewGhostedVector wraps an allocated data index; ghosts start stale.
func NewGhostedVector(h *hierarchy.Hierarchy, level, index int) *GhostedVector {
	return &GhostedVector{H: h, Level: level, Index: index}
}

// FillGhosts exchanges ghost data and marks the vector fresh.
func (v *GhostedVector) FillGhosts() error {
	if err := v.H.FillGhosts(v.Level, v.Index); err != nil {
		return err
	}
	v.fresh = true
	return nil
}

// AccumulateGhosts folds ghost contributions back into owning interiors
// (the spreading exchange). Interior data changes, so ghosts go stale.
func (v *GhostedVector) AccumulateGhosts() error {
	v.fresh = false
	return v.H.AccumulateGhosts(v.Level, v.Index)
}

// MarkDirty records that interior data was modified without an exchange.
func (v *GhostedVector) MarkDirty() { v.fresh = false }

// MarkFresh records that another rank performed the exchange on the shared
// hierarchy; this rank's view is current without re-running it.
func (v *GhostedVector) MarkFresh() { v.fresh = true }

// Fresh reports whether ghost data reflects current interior data.
func (v *GhostedVector) Fresh() bool { return v.fresh }

// RequireFresh fails with ErrStaleGhostData when ghosts are stale.
func (v *GhostedVector) RequireFresh() error {
	if !v.fresh {
		return fmt.Errorf("index %d on level %d of %q: %w", v.Index, v.Level, v.H.Name, ErrStaleGhostData)
	}
	return nil
}
