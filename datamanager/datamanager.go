// Package datamanager binds Lagrangian interaction points to the grid
// patches that own them and moves Eulerian data between the primary and
// scratch hierarchies. It is the bookkeeping layer between the structure
// parts and the interaction operators: operators never search for points,
// they walk the per-patch bindings the manager maintains.
package datamanager

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/IBKernel/hierarchy"
	"github.com/notargets/IBKernel/structure"
)

// ErrPointLeftPatches means an interaction point is outside every patch on
// the structure level. The embedding contract requires the finest level to
// cover the structure at all times, so this is fatal: it indicates a missed
// or late regrid, not a condition to recover from.
var ErrPointLeftPatches = errors.New("interaction point outside all patches on the structure level")

// BoundPoint is an interaction point bound to its owning patch, annotated
// with the part it belongs to and the offset of its nodal data.
type BoundPoint struct {
	structure.InteractionPoint
	Part structure.Integrable
}

// DataManager owns the point-to-patch bindings for one rank and the
// transfer schedules between the primary and scratch hierarchies. Binding
// is recomputed whenever structure positions move (every cycle) and the
// schedules are invalidated whenever either hierarchy regrids.
type DataManager struct {
	Primary *hierarchy.Hierarchy

	// PointDensity drives adaptive quadrature on FE parts.
	PointDensity float64

	log     *logrus.Entry
	scratch *hierarchy.Hierarchy
	parts   []structure.Integrable

	rank        int
	bound       bool
	boundActive map[structure.Integrable]bool
	patchPoints map[*hierarchy.Patch][]BoundPoint

	schedules map[scheduleKey]*TransferSchedule
}

// New creates a data manager for one rank over the primary hierarchy.
func New(primary *hierarchy.Hierarchy, rank int, pointDensity float64, log *logrus.Entry) (*DataManager, error) {
	if primary == nil {
		return nil, errors.New("data manager needs a primary hierarchy")
	}
	if pointDensity < 0 {
		return nil, fmt.Errorf("invalid point density %g", pointDensity)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DataManager{
		Primary:      primary,
		PointDensity: pointDensity,
		log:          log.WithField("component", "datamanager"),
		rank:         rank,
		patchPoints:  make(map[*hierarchy.Patch][]BoundPoint),
		schedules:    make(map[scheduleKey]*TransferSchedule),
	}, nil
}

// Rank returns the rank this manager serves.
func (m *DataManager) Rank() int { return m.rank }

// AddPart registers a structure part. Parts must be added before the first
// Rebind; names must be unique.
func (m *DataManager) AddPart(p structure.Integrable) error {
	for _, q := range m.parts {
		if q.Name() == p.Name() {
			return fmt.Errorf("duplicate part name %q", p.Name())
		}
	}
	m.parts = append(m.parts, p)
	return nil
}

// Parts returns the registered parts in registration order.
func (m *DataManager) Parts() []structure.Integrable { return m.parts }

// Part looks up a registered part by name.
func (m *DataManager) Part(name string) (structure.Integrable, error) {
	for _, p := range m.parts {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no part named %q", name)
}

// SetScratch installs (or, with nil, removes) the scratch hierarchy. The
// active hierarchy changes, so bindings and schedules are dropped.
func (m *DataManager) SetScratch(h *hierarchy.Hierarchy) {
	m.scratch = h
	m.Invalidate()
}

// Scratch returns the scratch hierarchy, nil when none is installed.
func (m *DataManager) Scratch() *hierarchy.Hierarchy { return m.scratch }

// Active returns the hierarchy interaction runs against: the scratch
// hierarchy when installed, the primary otherwise.
func (m *DataManager) Active() *hierarchy.Hierarchy {
	if m.scratch != nil {
		return m.scratch
	}
	return m.Primary
}

// Invalidate drops point bindings and cached transfer schedules. Called on
// every regrid and whenever structure positions change.
func (m *DataManager) Invalidate() {
	m.bound = false
	m.patchPoints = make(map[*hierarchy.Patch][]BoundPoint)
	m.schedules = make(map[scheduleKey]*TransferSchedule)
}

// InvalidateBindings drops only the point bindings, keeping schedules.
// Structure motion moves points between patches but does not change the
// patch layout the schedules were built for.
func (m *DataManager) InvalidateBindings() {
	m.bound = false
	m.patchPoints = make(map[*hierarchy.Patch][]BoundPoint)
}

// Rebind recomputes the point-to-patch bindings on the finest level of the
// active hierarchy. Every interaction point of every active part must fall
// inside some patch; a stray point fails with ErrPointLeftPatches.
func (m *DataManager) Rebind() error {
	h := m.Active()
	ln := h.FinestLevelNumber()
	dx := h.CellSize(ln)
	m.patchPoints = make(map[*hierarchy.Patch][]BoundPoint)

	total := 0
	for _, part := range m.parts {
		if !part.Active() {
			continue
		}
		for _, pt := range part.InteractionPoints(m.PointDensity, dx[0]) {
			owner, ok := h.OwnerPatch(ln, pt.X)
			if !ok {
				return fmt.Errorf("part %q: point at %v on level %d of %q: %w",
					part.Name(), pt.X, ln, h.Name, ErrPointLeftPatches)
			}
			m.patchPoints[owner] = append(m.patchPoints[owner], BoundPoint{
				InteractionPoint: pt,
				Part:             part,
			})
			total++
		}
	}
	m.bound = true
	m.boundActive = make(map[structure.Integrable]bool, len(m.parts))
	for _, part := range m.parts {
		m.boundActive[part] = part.Active()
	}
	m.log.WithFields(logrus.Fields{
		"hierarchy": h.Name,
		"level":     ln,
		"points":    total,
	}).Debug("rebound interaction points")
	return nil
}

// Bound reports whether bindings are current. Bindings go stale when they
// are invalidated or when any part's activation changed since Rebind: an
// activation toggle adds or removes that part's interaction points.
func (m *DataManager) Bound() bool {
	if !m.bound {
		return false
	}
	for _, p := range m.parts {
		if m.boundActive[p] != p.Active() {
			return false
		}
	}
	return true
}

// PointsOnPatch returns the interaction points bound to the patch. Calling
// it before Rebind is a sequencing error.
func (m *DataManager) PointsOnPatch(p *hierarchy.Patch) ([]BoundPoint, error) {
	if !m.bound {
		return nil, errors.New("PointsOnPatch before Rebind")
	}
	return m.patchPoints[p], nil
}

// LocalPoints returns the bound points on the rank's local patches of the
// active finest level, patch by patch.
func (m *DataManager) LocalPoints() (map[*hierarchy.Patch][]BoundPoint, error) {
	if !m.bound {
		return nil, errors.New("LocalPoints before Rebind")
	}
	h := m.Active()
	out := make(map[*hierarchy.Patch][]BoundPoint)
	for _, p := range h.FinestLevel().LocalPatches(m.rank) {
		if pts := m.patchPoints[p]; len(pts) > 0 {
			out[p] = pts
		}
	}
	return out, nil
}
