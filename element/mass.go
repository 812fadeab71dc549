package element

import (
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gocfd/utils"
)

// ElementMass returns the 4x4 consistent mass matrix of a tet under the
// given rule: M = B^T diag(w_q |J|) B with B the shape Vandermonde. The
// four-point rule integrates P1 x P1 products exactly, reproducing the
// closed-form V*(1+delta_ij)/20.
func ElementMass(t Tet, rule TetRule) utils.Matrix {
	B := rule.Vandermonde()
	jac := t.Jacobian()
	M := utils.NewMatrix(4, 4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s := 0.0
			for q := 0; q < rule.NumPoints(); q++ {
				s += rule.Weights[q] * jac * B.At(q, i) * B.At(q, j)
			}
			M.Set(i, j, s)
		}
	}
	return M
}

// AssembleMass accumulates element mass matrices into a global symmetric
// matrix over numNodes nodes. elems lists the four node ids of each tet;
// nodeX returns the current physical position of a node, so the matrix
// tracks the deformed configuration.
func AssembleMass(numNodes int, elems [][4]int, nodeX func(int) [3]float64,
	rule TetRule) *mat.SymDense {
	M := mat.NewSymDense(numNodes, nil)
	for _, e := range elems {
		var t Tet
		for i := 0; i < 4; i++ {
			t.V[i] = nodeX(e[i])
		}
		em := ElementMass(t, rule)
		for i := 0; i < 4; i++ {
			for j := i; j < 4; j++ {
				gi, gj := e[i], e[j]
				if gi > gj {
					gi, gj = gj, gi
				}
				M.SetSym(gi, gj, M.At(gi, gj)+em.At(i, j))
			}
		}
	}
	return M
}

// LumpMass row-sums a global mass matrix into a diagonal, the mass-lumped
// alternative to a consistent solve.
func LumpMass(M *mat.SymDense) []float64 {
	n := M.SymmetricDim()
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d[i] += M.At(i, j)
		}
	}
	return d
}
