package structure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Single unit tet with outward-oriented boundary triangles.
var (
	tetNodes = [][3]float64{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1},
	}
	tetElems = [][4]int{{0, 1, 2, 3}}
	tetSurf  = [][3]int{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}}
)

func newUnitTetPart(t *testing.T) *FEPart {
	t.Helper()
	p, err := NewFEPart("tet", tetNodes, tetElems, tetSurf)
	require.NoError(t, err)
	return p
}

func TestNewFEPart_Validation(t *testing.T) {
	_, err := NewFEPart("empty", nil, nil, nil)
	require.Error(t, err)

	_, err = NewFEPart("bad-elem", tetNodes, [][4]int{{0, 1, 2, 7}}, nil)
	require.Error(t, err)

	_, err = NewFEPart("bad-surf", tetNodes, tetElems, [][3]int{{0, 1, 9}})
	require.Error(t, err)
}

func TestMarkerPart_InteractionPoints(t *testing.T) {
	p, err := NewMarkerPart("cloud", [][3]float64{{0, 0, 0}, {1, 2, 3}})
	require.NoError(t, err)
	require.Equal(t, MarkerKind, p.Kind())

	pts := p.InteractionPoints(2.0, 0.1)
	require.Len(t, pts, 2)
	for i, pt := range pts {
		assert.Equal(t, []int{i}, pt.Nodes)
		assert.Equal(t, []float64{1}, pt.Shape)
		assert.Equal(t, 1.0, pt.W)
	}
	assert.Equal(t, [3]float64{1, 2, 3}, pts[1].X)
}

func TestMarkerPart_AnchorSpring(t *testing.T) {
	p, err := NewMarkerPart("anchored", [][3]float64{{0, 0, 0}})
	require.NoError(t, err)
	p.Kappa = 10.0

	// Displace the marker; the spring pulls back toward the reference.
	p.Positions()[0] = 0.5
	require.NoError(t, p.ComputeForce(0, false))
	assert.InDelta(t, -5.0, p.Forces()[0], 1e-14)
	assert.Equal(t, 0.0, p.Forces()[1])

	p.Deactivate()
	require.NoError(t, p.ComputeForce(0, false))
	assert.Equal(t, 0.0, p.Forces()[0], "deactivated part must carry zero force")
}

func TestMarkerPart_Source(t *testing.T) {
	p, err := NewMarkerPart("src", [][3]float64{{0, 0, 0}, {1, 0, 0}})
	require.NoError(t, err)
	require.False(t, p.HasSource())
	require.Error(t, p.ComputeSource(0))

	require.NoError(t, p.RegisterBodySourceFunction(
		func(x, X [3]float64, tm float64) float64 { return x[0] + tm }))
	require.Error(t, p.RegisterBodySourceFunction(
		func(x, X [3]float64, tm float64) float64 { return 0 }),
		"second registration must be rejected")

	require.NoError(t, p.ComputeSource(2.0))
	assert.InDelta(t, 2.0, p.SourceDensity()[0], 1e-14)
	assert.InDelta(t, 3.0, p.SourceDensity()[1], 1e-14)
}

// Interaction-point weights are a quadrature rule for the part volume:
// they must sum to it, and weighted shape values must integrate the basis.
func TestFEPart_InteractionPointWeights(t *testing.T) {
	p := newUnitTetPart(t)
	vol := 1.0 / 6.0

	pts := p.InteractionPoints(2.0, 1.0)
	require.Len(t, pts, 4, "density 2 on a unit tet selects the 4-point rule")

	wSum := 0.0
	nodal := make([]float64, 4)
	for _, pt := range pts {
		wSum += pt.W
		for i, ni := range pt.Nodes {
			nodal[ni] += pt.W * pt.Shape[i]
		}
	}
	assert.InDelta(t, vol, wSum, 1e-14)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, vol/4.0, nodal[i], 1e-14, "integral of N_%d", i)
	}
}

// Projecting the RHS assembled from a constant field must reproduce the
// constant exactly, under both the consistent and the lumped mass matrix.
func TestFEPart_ProjectionReproducesConstants(t *testing.T) {
	p := newUnitTetPart(t)
	const c = 3.5

	rhs := make([]float64, p.NumNodes())
	for _, pt := range p.InteractionPoints(2.0, 1.0) {
		for i, ni := range pt.Nodes {
			rhs[ni] += pt.W * pt.Shape[i] * c
		}
	}
	for _, consistent := range []bool{true, false} {
		v, err := p.SolveProjection(rhs, 1, consistent)
		require.NoError(t, err)
		for i, vi := range v {
			assert.InDelta(t, c, vi, 1e-12, "node %d consistent=%v", i, consistent)
		}
	}
}

func TestFEPart_BodyForceConstant(t *testing.T) {
	p := newUnitTetPart(t)
	b := [3]float64{1, -2, 0.5}
	require.NoError(t, p.RegisterLagBodyForceFunction(
		func(x, X [3]float64, tm float64) [3]float64 { return b }))

	for _, consistent := range []bool{true, false} {
		require.NoError(t, p.ComputeForce(0, consistent))
		f := p.Forces()
		for i := 0; i < p.NumNodes(); i++ {
			for d := 0; d < 3; d++ {
				assert.InDelta(t, b[d], f[3*i+d], 1e-12)
			}
		}
	}
}

// A spatially uniform stress exerts no net interior force: the shape
// gradients of each element sum to zero.
func TestFEPart_UniformStressNoNetForce(t *testing.T) {
	p := newUnitTetPart(t)
	p.RegisterPK1StressFunction(func(x, X [3]float64, tm float64) [3][3]float64 {
		return [3][3]float64{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}}
	})
	require.NoError(t, p.ComputeForce(0, true))

	net := weightedNet(p, 2.0, 1.0)
	for d := 0; d < 3; d++ {
		assert.InDelta(t, 0.0, net[d], 1e-12)
	}
}

// weightedNet integrates the force density over the part using its own
// interaction points, giving the total force the part would spread.
func weightedNet(p *FEPart, density, dx float64) [3]float64 {
	f := p.Forces()
	var net [3]float64
	for _, pt := range p.InteractionPoints(density, dx) {
		for i, ni := range pt.Nodes {
			for d := 0; d < 3; d++ {
				net[d] += pt.W * pt.Shape[i] * f[3*ni+d]
			}
		}
	}
	return net
}

func TestFEPart_MultiplePK1FunctionsSum(t *testing.T) {
	p := newUnitTetPart(t)
	one := func(x, X [3]float64, tm float64) [3][3]float64 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	p.RegisterPK1StressFunction(one)
	require.NoError(t, p.ComputeForce(0, true))
	f1 := append([]float64(nil), p.Forces()...)

	q := newUnitTetPart(t)
	q.RegisterPK1StressFunction(one)
	q.RegisterPK1StressFunction(one)
	require.NoError(t, q.ComputeForce(0, true))
	for i := range f1 {
		assert.InDelta(t, 2*f1[i], q.Forces()[i], 1e-12)
	}
}

// With stress normalization enabled and Phi equal to the (constant)
// pressure-like stress, the normalized stress vanishes and so does the
// interior force.
func TestFEPart_StressNormalizationCancelsPressure(t *testing.T) {
	p := newUnitTetPart(t)
	const p0 = 4.0
	p.RegisterPK1StressFunction(func(x, X [3]float64, tm float64) [3][3]float64 {
		return [3][3]float64{{p0, 0, 0}, {0, p0, 0}, {0, 0, p0}}
	})
	p.EnableStressNormalization()

	rhs, err := p.StressNormalizationRHS(0)
	require.NoError(t, err)
	sum := 0.0
	for _, v := range rhs {
		sum += v
	}
	area := 1.5 + math.Sqrt(3)/2.0
	assert.InDelta(t, p0*area, sum, 1e-12,
		"normal traction integrates to p0 times the boundary area")

	phi := make([]float64, p.NumNodes())
	for i := range phi {
		phi[i] = p0
	}
	require.NoError(t, p.SetPhi(phi))
	require.NoError(t, p.ComputeForce(0, true))
	for i, v := range p.Forces() {
		assert.InDelta(t, 0.0, v, 1e-12, "component %d", i)
	}
}

func TestFEPart_SurfacePressure(t *testing.T) {
	p := newUnitTetPart(t)
	const pr = 2.0
	require.NoError(t, p.RegisterLagSurfacePressureFunction(
		func(x, X, n [3]float64, tm float64) float64 { return pr }))
	require.NoError(t, p.ComputeForce(0, true))

	// Uniform pressure on a closed surface exerts no net force.
	net := weightedNet(p, 2.0, 1.0)
	for d := 0; d < 3; d++ {
		assert.InDelta(t, 0.0, net[d], 1e-12)
	}
}

func TestFEPart_TractionSplitting(t *testing.T) {
	p := newUnitTetPart(t)
	const pr = 2.0
	require.NoError(t, p.RegisterLagSurfacePressureFunction(
		func(x, X, n [3]float64, tm float64) float64 { return pr }))
	p.EnableTractionSplitting()

	// The surface pressure is withheld from the force density.
	require.NoError(t, p.ComputeForce(0, true))
	for _, v := range p.Forces() {
		assert.InDelta(t, 0.0, v, 1e-13)
	}

	samples := p.SurfaceTractionSamples(0)
	require.NotEmpty(t, samples)
	var net [3]float64
	area := 0.0
	for _, s := range samples {
		area += s.W
		for d := 0; d < 3; d++ {
			net[d] += s.W * s.T[d]
		}
	}
	assert.InDelta(t, 1.5+math.Sqrt(3)/2.0, area, 1e-12, "weights sum to the boundary area")
	for d := 0; d < 3; d++ {
		assert.InDelta(t, 0.0, net[d], 1e-12, "closed surface, uniform pressure")
	}

	p.Deactivate()
	assert.Nil(t, p.SurfaceTractionSamples(0))
}

func TestFEPart_DeactivatedIsForceFree(t *testing.T) {
	p := newUnitTetPart(t)
	p.RegisterPK1StressFunction(func(x, X [3]float64, tm float64) [3][3]float64 {
		return [3][3]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	})
	p.Deactivate()
	require.NoError(t, p.ComputeForce(0, true))
	for _, v := range p.Forces() {
		assert.Equal(t, 0.0, v)
	}

	called := false
	p.EstimateWorkload(2.0, 1.0, 1.0, func(x [3]float64, w float64) { called = true })
	assert.False(t, called, "deactivated part contributes no workload")

	p.Activate()
	p.EstimateWorkload(2.0, 1.0, 1.0, func(x [3]float64, w float64) { called = true })
	assert.True(t, called)
}

func TestFEPart_ApplyInitialConditions(t *testing.T) {
	p := newUnitTetPart(t)
	p.ApplyInitialConditions(
		func(X [3]float64) [3]float64 {
			return [3]float64{X[0] + 1, X[1], X[2]}
		},
		func(X [3]float64) [3]float64 {
			return [3]float64{0, 0, 2 * X[0]}
		},
	)
	assert.InDelta(t, 1.0, p.Positions()[0], 1e-15)
	assert.InDelta(t, 0.0, p.RefPositions()[0], 1e-15, "reference is untouched")
	assert.InDelta(t, 2.0, p.Velocities()[3*1+2], 1e-15)
}
