// Package element provides the P1 simplex reference elements and quadrature
// rules used to generate interaction points on finite-element structures.
// Volume elements are tetrahedra; surface elements (transmission forces,
// surface pressure) are triangles.
package element

import (
	"math"

	"github.com/notargets/gocfd/utils"
)

// TetRule is a quadrature rule on the reference tetrahedron expressed in
// barycentric coordinates. Weights sum to the reference volume 1/6, so a
// physical integral is sum_q w_q * |detJ| * f(x_q).
type TetRule struct {
	Name    string
	Bary    [][4]float64
	Weights []float64
}

// NumPoints returns the point count of the rule.
func (r TetRule) NumPoints() int { return len(r.Weights) }

// Order-1, order-2 and order-3 Gauss rules on the reference tet. The
// four-point rule uses the standard (a,b,b,b) points with
// a = (5+3*sqrt(5))/20, b = (5-sqrt(5))/20; the five-point rule is the
// Keast rule with a negatively weighted centroid.
var (
	tetQ1 = TetRule{
		Name:    "QGAUSS_1",
		Bary:    [][4]float64{{0.25, 0.25, 0.25, 0.25}},
		Weights: []float64{1.0 / 6.0},
	}
	tetQ2 = makeTetQ2()
	tetQ3 = makeTetQ3()
)

func makeTetQ2() TetRule {
	a := (5.0 + 3.0*math.Sqrt(5.0)) / 20.0
	b := (5.0 - math.Sqrt(5.0)) / 20.0
	r := TetRule{Name: "QGAUSS_2"}
	for i := 0; i < 4; i++ {
		p := [4]float64{b, b, b, b}
		p[i] = a
		r.Bary = append(r.Bary, p)
		r.Weights = append(r.Weights, 1.0/24.0)
	}
	return r
}

func makeTetQ3() TetRule {
	r := TetRule{Name: "QGAUSS_3"}
	r.Bary = append(r.Bary, [4]float64{0.25, 0.25, 0.25, 0.25})
	r.Weights = append(r.Weights, -2.0/15.0)
	for i := 0; i < 4; i++ {
		p := [4]float64{1.0 / 6.0, 1.0 / 6.0, 1.0 / 6.0, 1.0 / 6.0}
		p[i] = 0.5
		r.Bary = append(r.Bary, p)
		r.Weights = append(r.Weights, 3.0/40.0)
	}
	return r
}

// TetRuleForDensity picks a rule adaptively: pointDensity scales how many
// quadrature points an element of diameter h should carry relative to the
// grid spacing dx, following the adaptive-quadrature convention of the
// interaction operators. Larger, more deformed elements get higher-order
// rules.
func TetRuleForDensity(pointDensity, h, dx float64) TetRule {
	if pointDensity <= 0 || dx <= 0 {
		return tetQ2
	}
	n := pointDensity * h / dx
	switch {
	case n <= 1:
		return tetQ1
	case n <= 4:
		return tetQ2
	default:
		return tetQ3
	}
}

// Shape evaluates the P1 tet shape functions at a barycentric point. For
// linear simplices the shape values are the barycentric coordinates
// themselves; the function exists so call sites read as basis evaluation.
func Shape(b [4]float64) [4]float64 { return b }

// Vandermonde returns the nq x 4 matrix of shape values at the rule points,
// the B matrix in M = B^T diag(w |J|) B.
func (r TetRule) Vandermonde() utils.Matrix {
	B := utils.NewMatrix(r.NumPoints(), 4)
	for q, b := range r.Bary {
		n := Shape(b)
		for i := 0; i < 4; i++ {
			B.Set(q, i, n[i])
		}
	}
	return B
}

// TriRule is a quadrature rule on the reference triangle in barycentric
// coordinates; weights sum to the reference area 1/2.
type TriRule struct {
	Name    string
	Bary    [][3]float64
	Weights []float64
}

func (r TriRule) NumPoints() int { return len(r.Weights) }

var (
	triQ1 = TriRule{
		Name:    "QGAUSS_1",
		Bary:    [][3]float64{{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0}},
		Weights: []float64{0.5},
	}
	triQ2 = TriRule{
		Name: "QGAUSS_2",
		Bary: [][3]float64{
			{2.0 / 3.0, 1.0 / 6.0, 1.0 / 6.0},
			{1.0 / 6.0, 2.0 / 3.0, 1.0 / 6.0},
			{1.0 / 6.0, 1.0 / 6.0, 2.0 / 3.0},
		},
		Weights: []float64{1.0 / 6.0, 1.0 / 6.0, 1.0 / 6.0},
	}
)

// TriRuleForDensity is TetRuleForDensity for surface elements.
func TriRuleForDensity(pointDensity, h, dx float64) TriRule {
	if pointDensity <= 0 || dx <= 0 {
		return triQ2
	}
	if pointDensity*h/dx <= 1 {
		return triQ1
	}
	return triQ2
}
