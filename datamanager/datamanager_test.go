package datamanager

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/IBKernel/hierarchy"
	"github.com/notargets/IBKernel/structure"
)

// testDomain builds an 8^3 single-level hierarchy over [0,4)^3, dx=0.5,
// split into two rank-owned patches along x, with a depth-3 "u" variable.
func testDomain(t *testing.T, name string, db *hierarchy.VariableDatabase,
	splitAxis int) *hierarchy.Hierarchy {
	t.Helper()
	domain := hierarchy.Box{Hi: [3]int{8, 8, 8}}
	lo, hi := domain, domain
	lo.Hi[splitAxis] = 4
	hi.Lo[splitAxis] = 4
	h, err := hierarchy.NewHierarchy(name,
		[3]float64{0, 0, 0}, [3]float64{0.5, 0.5, 0.5}, domain, db,
		[]hierarchy.Box{lo, hi}, []int{0, 1})
	require.NoError(t, err)
	return h
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestRebind_BindsPointsToOwningPatch(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	h := testDomain(t, "primary", db, 0)
	m, err := New(h, 0, 2.0, quietLog())
	require.NoError(t, err)

	// One marker in each half of the domain (x split at 2.0).
	part, err := structure.NewMarkerPart("pair", [][3]float64{
		{0.5, 1, 1}, {3.5, 1, 1},
	})
	require.NoError(t, err)
	require.NoError(t, m.AddPart(part))

	_, err = m.PointsOnPatch(h.FinestLevel().Patches[0])
	require.Error(t, err, "bindings must not be readable before Rebind")

	require.NoError(t, m.Rebind())
	require.True(t, m.Bound())

	for i, want := range [][3]float64{{0.5, 1, 1}, {3.5, 1, 1}} {
		pts, err := m.PointsOnPatch(h.FinestLevel().Patches[i])
		require.NoError(t, err)
		require.Len(t, pts, 1)
		assert.Equal(t, want, pts[0].X)
		assert.Equal(t, part.Name(), pts[0].Part.Name())
	}

	local, err := m.LocalPoints()
	require.NoError(t, err)
	require.Len(t, local, 1, "rank 0 owns one patch with points")
}

func TestRebind_StrayPointIsFatal(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	h := testDomain(t, "primary", db, 0)
	m, err := New(h, 0, 2.0, quietLog())
	require.NoError(t, err)

	part, err := structure.NewMarkerPart("stray", [][3]float64{{100, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, m.AddPart(part))

	err = m.Rebind()
	require.ErrorIs(t, err, ErrPointLeftPatches)
}

func TestRebind_SkipsInactiveParts(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	h := testDomain(t, "primary", db, 0)
	m, err := New(h, 0, 2.0, quietLog())
	require.NoError(t, err)

	part, err := structure.NewMarkerPart("off", [][3]float64{{100, 0, 0}})
	require.NoError(t, err)
	part.Deactivate()
	require.NoError(t, m.AddPart(part))

	// The stray point belongs to a deactivated part, so binding succeeds
	// and no patch carries any points.
	require.NoError(t, m.Rebind())
	for _, p := range h.FinestLevel().Patches {
		pts, err := m.PointsOnPatch(p)
		require.NoError(t, err)
		assert.Empty(t, pts)
	}
}

func TestBound_StaleAfterActivationToggle(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	h := testDomain(t, "primary", db, 0)
	m, err := New(h, 0, 2.0, quietLog())
	require.NoError(t, err)

	part, err := structure.NewMarkerPart("m", [][3]float64{{2, 2, 2}})
	require.NoError(t, err)
	require.NoError(t, m.AddPart(part))
	require.NoError(t, m.Rebind())
	require.True(t, m.Bound())

	part.Deactivate()
	assert.False(t, m.Bound(), "deactivation invalidates bindings")
	require.NoError(t, m.Rebind())
	require.True(t, m.Bound())

	part.Activate()
	assert.False(t, m.Bound(), "activation invalidates bindings")
}

func TestAddPart_RejectsDuplicateNames(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	m, err := New(testDomain(t, "primary", db, 0), 0, 2.0, quietLog())
	require.NoError(t, err)

	a, _ := structure.NewMarkerPart("same", [][3]float64{{1, 1, 1}})
	b, _ := structure.NewMarkerPart("same", [][3]float64{{2, 2, 2}})
	require.NoError(t, m.AddPart(a))
	require.Error(t, m.AddPart(b))

	got, err := m.Part("same")
	require.NoError(t, err)
	assert.Same(t, a, got)
	_, err = m.Part("missing")
	require.Error(t, err)
}

func TestSchedule_MovesDataBetweenHierarchies(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	uIdx, err := db.Register("u", 3, 2)
	require.NoError(t, err)

	// Same index space, different decompositions: primary splits x,
	// scratch splits y, so every scratch patch overlaps both sources.
	primary := testDomain(t, "primary", db, 0)
	scratch := testDomain(t, "scratch", db, 1)

	m, err := New(primary, 0, 2.0, quietLog())
	require.NoError(t, err)

	_, err = m.Schedule(0, uIdx, uIdx, PrimaryToScratch)
	require.Error(t, err, "no scratch hierarchy installed")

	m.SetScratch(scratch)
	require.Same(t, scratch, m.Active())

	primary.FinestLevel().Allocate(db, uIdx)
	scratch.FinestLevel().Allocate(db, uIdx)

	// Seed the primary with a position-dependent pattern.
	value := func(i, j, k, d int) float64 {
		return float64(i) + 10*float64(j) + 100*float64(k) + 1000*float64(d)
	}
	for _, p := range primary.FinestLevel().Patches {
		f, err := p.Field(uIdx)
		require.NoError(t, err)
		for k := p.Box.Lo[2]; k < p.Box.Hi[2]; k++ {
			for j := p.Box.Lo[1]; j < p.Box.Hi[1]; j++ {
				for i := p.Box.Lo[0]; i < p.Box.Hi[0]; i++ {
					for d := 0; d < 3; d++ {
						f.Set(i, j, k, d, value(i, j, k, d))
					}
				}
			}
		}
	}

	s, err := m.Schedule(0, uIdx, uIdx, PrimaryToScratch)
	require.NoError(t, err)
	assert.Equal(t, 4, s.NumOps(), "2 sources x 2 destinations all overlap")
	require.NoError(t, s.Execute())

	for _, p := range scratch.FinestLevel().Patches {
		f, err := p.Field(uIdx)
		require.NoError(t, err)
		for k := p.Box.Lo[2]; k < p.Box.Hi[2]; k++ {
			for j := p.Box.Lo[1]; j < p.Box.Hi[1]; j++ {
				for i := p.Box.Lo[0]; i < p.Box.Hi[0]; i++ {
					for d := 0; d < 3; d++ {
						require.Equal(t, value(i, j, k, d), f.At(i, j, k, d),
							"cell (%d,%d,%d) d=%d", i, j, k, d)
					}
				}
			}
		}
	}

	// Second request hits the cache; invalidation drops it.
	s2, err := m.Schedule(0, uIdx, uIdx, PrimaryToScratch)
	require.NoError(t, err)
	assert.Same(t, s, s2)
	m.Invalidate()
	s3, err := m.Schedule(0, uIdx, uIdx, PrimaryToScratch)
	require.NoError(t, err)
	assert.NotSame(t, s, s3)
}

func TestGhostedVector_FreshnessTracking(t *testing.T) {
	db := hierarchy.NewVariableDatabase()
	uIdx, err := db.Register("u", 1, 1)
	require.NoError(t, err)
	h := testDomain(t, "primary", db, 0)
	h.FinestLevel().Allocate(db, uIdx)

	v := NewGhostedVector(h, 0, uIdx)
	assert.False(t, v.Fresh())

	require.NoError(t, v.FillGhosts())
	assert.True(t, v.Fresh())

	v.MarkDirty()
	assert.False(t, v.Fresh())

	require.NoError(t, v.FillGhosts())
	require.NoError(t, v.AccumulateGhosts())
	assert.False(t, v.Fresh(), "accumulation mutates interiors")
}
