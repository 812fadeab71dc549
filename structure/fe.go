package structure

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/IBKernel/element"
)

// FEPart is a P1 tetrahedral finite-element structure. Interaction points
// are element quadrature points; interpolation solves an L2 projection onto
// the nodal basis, and force density is assembled from registered PK1
// stress, body-force and surface-force/pressure functions.
type FEPart struct {
	partCore

	elems [][4]int
	surf  [][3]int // boundary triangles, outward orientation

	pk1          []PK1StressFcn
	bodyForce    BodyForceFcn
	surfForce    SurfaceForceFcn
	surfPressure SurfacePressureFcn
	source       BodySourceFcn

	stressNormalization bool
	phi                 []float64

	splitTractions bool
}

// NewFEPart creates an FE part from reference node positions, tet
// connectivity and boundary triangles (surf may be nil for closed parts
// without surface terms).
func NewFEPart(name string, ref [][3]float64, elems [][4]int, surf [][3]int) (*FEPart, error) {
	if len(ref) == 0 || len(elems) == 0 {
		return nil, fmt.Errorf("fe part %q: empty mesh", name)
	}
	n := len(ref)
	for e, el := range elems {
		for _, v := range el {
			if v < 0 || v >= n {
				return nil, fmt.Errorf("fe part %q: element %d references node %d of %d", name, e, v, n)
			}
		}
	}
	for s, tr := range surf {
		for _, v := range tr {
			if v < 0 || v >= n {
				return nil, fmt.Errorf("fe part %q: surface tri %d references node %d of %d", name, s, v, n)
			}
		}
	}
	p := &FEPart{partCore: newPartCore(name, ref), elems: elems, surf: surf}
	return p, nil
}

func (p *FEPart) Kind() Kind          { return FEKind }
func (p *FEPart) NumElements() int    { return len(p.elems) }
func (p *FEPart) NumSurfaceTris() int { return len(p.surf) }

// RegisterPK1StressFunction appends a PK1 stress function; several may be
// registered (selective reduced integration sums their contributions).
func (p *FEPart) RegisterPK1StressFunction(fcn PK1StressFcn) {
	p.pk1 = append(p.pk1, fcn)
}

func (p *FEPart) RegisterLagBodyForceFunction(fcn BodyForceFcn) error {
	if p.bodyForce != nil {
		return fmt.Errorf("fe part %q: body force function already registered", p.name)
	}
	p.bodyForce = fcn
	return nil
}

func (p *FEPart) RegisterLagSurfaceForceFunction(fcn SurfaceForceFcn) error {
	if p.surfForce != nil {
		return fmt.Errorf("fe part %q: surface force function already registered", p.name)
	}
	p.surfForce = fcn
	return nil
}

func (p *FEPart) RegisterLagSurfacePressureFunction(fcn SurfacePressureFcn) error {
	if p.surfPressure != nil {
		return fmt.Errorf("fe part %q: surface pressure function already registered", p.name)
	}
	p.surfPressure = fcn
	return nil
}

func (p *FEPart) RegisterBodySourceFunction(fcn BodySourceFcn) error {
	if p.source != nil {
		return fmt.Errorf("fe part %q: body source function already registered", p.name)
	}
	p.source = fcn
	p.q = make([]float64, p.NumNodes())
	return nil
}

// EnableStressNormalization turns on the auxiliary Phi field for this part.
func (p *FEPart) EnableStressNormalization() {
	p.stressNormalization = true
	p.phi = make([]float64, p.NumNodes())
}

func (p *FEPart) StressNormalizationEnabled() bool { return p.stressNormalization }

// EnableTractionSplitting removes surface force and pressure terms from the
// spread force density; they are handed to a jump-capable fluid solver as
// SurfaceTractionSamples instead.
func (p *FEPart) EnableTractionSplitting() {
	p.splitTractions = true
}

func (p *FEPart) TractionSplittingEnabled() bool { return p.splitTractions }

// Phi returns the stress-normalization field (nil unless enabled).
func (p *FEPart) Phi() []float64 { return p.phi }

// ApplyInitialConditions maps reference coordinates and sets initial
// velocities using the given functions (either may be nil).
func (p *FEPart) ApplyInitialConditions(mapping CoordinateMappingFcn, vel InitialVelocityFcn) {
	p.applyInitialConditions(mapping, vel)
}

func (p *FEPart) tet(e int) element.Tet {
	var t element.Tet
	for i := 0; i < 4; i++ {
		t.V[i] = p.node(p.elems[e][i])
	}
	return t
}

func (p *FEPart) refTet(e int) element.Tet {
	var t element.Tet
	for i := 0; i < 4; i++ {
		t.V[i] = p.refNode(p.elems[e][i])
	}
	return t
}

func (p *FEPart) InteractionPoints(pointDensity, dx float64) []InteractionPoint {
	var pts []InteractionPoint
	for e := range p.elems {
		t := p.tet(e)
		rule := element.TetRuleForDensity(pointDensity, t.Diameter(), dx)
		jac := t.Jacobian()
		for q := 0; q < rule.NumPoints(); q++ {
			b := rule.Bary[q]
			n := element.Shape(b)
			pts = append(pts, InteractionPoint{
				X:     t.Point(b),
				Nodes: p.elems[e][:],
				Shape: n[:],
				W:     rule.Weights[q] * jac,
			})
		}
	}
	return pts
}

// massRule is the rule used for mass assembly; it integrates P1 x P1
// products exactly, which is what the consistency property needs.
var massRule = element.TetRuleForDensity(2.0, 1.0, 1.0)

// SolveProjection solves M v = rhs per component. With consistent=false the
// mass matrix is lumped and the solve is a diagonal scale.
func (p *FEPart) SolveProjection(rhs []float64, depth int, consistent bool) ([]float64, error) {
	n := p.NumNodes()
	if len(rhs) != depth*n {
		return nil, fmt.Errorf("fe part %q: rhs length %d, want %d", p.name, len(rhs), depth*n)
	}
	M := element.AssembleMass(n, p.elems, p.node, massRule)
	out := make([]float64, len(rhs))
	if !consistent {
		lump := element.LumpMass(M)
		for i := 0; i < n; i++ {
			if lump[i] == 0 {
				return nil, fmt.Errorf("fe part %q: node %d has zero lumped mass", p.name, i)
			}
			for d := 0; d < depth; d++ {
				out[i*depth+d] = rhs[i*depth+d] / lump[i]
			}
		}
		return out, nil
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(M); !ok {
		return nil, fmt.Errorf("fe part %q: mass matrix is not SPD (degenerate element?)", p.name)
	}
	b := mat.NewVecDense(n, nil)
	var sol mat.VecDense
	for d := 0; d < depth; d++ {
		for i := 0; i < n; i++ {
			b.SetVec(i, rhs[i*depth+d])
		}
		if err := chol.SolveVecTo(&sol, b); err != nil {
			return nil, fmt.Errorf("fe part %q: projection solve failed: %w", p.name, err)
		}
		for i := 0; i < n; i++ {
			out[i*depth+d] = sol.AtVec(i)
		}
	}
	return out, nil
}

// gradN returns the physical gradients of the four shape functions on a tet
// (constant over the element for P1).
func gradN(t element.Tet) ([4][3]float64, error) {
	J := mat.NewDense(3, 3, nil)
	for c := 0; c < 3; c++ {
		for d := 0; d < 3; d++ {
			J.Set(d, c, t.V[c+1][d]-t.V[0][d])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(J); err != nil {
		return [4][3]float64{}, fmt.Errorf("degenerate element: %w", err)
	}
	// grad_ref N = {-1-1-1, e1, e2, e3}; grad_x N = J^{-T} grad_ref N.
	var g [4][3]float64
	for d := 0; d < 3; d++ {
		for c := 0; c < 3; c++ {
			g[c+1][d] = inv.At(c, d)
			g[0][d] -= inv.At(c, d)
		}
	}
	return g, nil
}

// ComputeForce assembles the Lagrangian force density at time t: interior
// elastic terms from the PK1 stress functions (with the stress-normalization
// field subtracted when enabled), body forces, and surface force/pressure
// terms, followed by the L2 projection onto the nodal basis.
func (p *FEPart) ComputeForce(t float64, consistentMass bool) error {
	for i := range p.f {
		p.f[i] = 0
	}
	if !p.active {
		return nil
	}
	rhs := make([]float64, len(p.f))

	// Interior elastic density: rhs_i -= sum_q w|J0| P : grad_X N_i.
	for e := range p.elems {
		ref := p.refTet(e)
		g, err := gradN(ref)
		if err != nil {
			return fmt.Errorf("fe part %q element %d: %w", p.name, e, err)
		}
		cur := p.tet(e)
		jac0 := ref.Jacobian()
		for q := 0; q < massRule.NumPoints(); q++ {
			b := massRule.Bary[q]
			xq := cur.Point(b)
			Xq := ref.Point(b)
			P := p.evalPK1(xq, Xq, t)
			if p.stressNormalization {
				phiQ := 0.0
				for i := 0; i < 4; i++ {
					phiQ += b[i] * p.phi[p.elems[e][i]]
				}
				for d := 0; d < 3; d++ {
					P[d][d] -= phiQ
				}
			}
			w := massRule.Weights[q] * jac0
			for i := 0; i < 4; i++ {
				ni := p.elems[e][i]
				for d := 0; d < 3; d++ {
					s := 0.0
					for c := 0; c < 3; c++ {
						s += P[d][c] * g[i][c]
					}
					rhs[3*ni+d] -= w * s
				}
			}
		}
	}

	// Body force density.
	if p.bodyForce != nil {
		for e := range p.elems {
			cur := p.tet(e)
			jac := cur.Jacobian()
			for q := 0; q < massRule.NumPoints(); q++ {
				b := massRule.Bary[q]
				bf := p.bodyForce(cur.Point(b), p.refTet(e).Point(b), t)
				w := massRule.Weights[q] * jac
				for i := 0; i < 4; i++ {
					ni := p.elems[e][i]
					for d := 0; d < 3; d++ {
						rhs[3*ni+d] += w * b[i] * bf[d]
					}
				}
			}
		}
	}

	// Surface force and pressure tractions. Skipped when traction splitting
	// is on: the solver imposes them as interface jumps instead.
	if (p.surfForce != nil || p.surfPressure != nil) && !p.splitTractions {
		for s := range p.surf {
			tri, refTri := p.tri(s), p.refTri(s)
			n, jacS := tri.Normal()
			for q := 0; q < surfRule.NumPoints(); q++ {
				b := surfRule.Bary[q]
				xq, Xq := tri.Point(b), refTri.Point(b)
				var tr [3]float64
				if p.surfForce != nil {
					tr = p.surfForce(xq, Xq, n, t)
				}
				if p.surfPressure != nil {
					pr := p.surfPressure(xq, Xq, n, t)
					for d := 0; d < 3; d++ {
						tr[d] -= pr * n[d]
					}
				}
				w := surfRule.Weights[q] * jacS
				for i := 0; i < 3; i++ {
					ni := p.surf[s][i]
					for d := 0; d < 3; d++ {
						rhs[3*ni+d] += w * b[i] * tr[d]
					}
				}
			}
		}
	}

	sol, err := p.SolveProjection(rhs, 3, consistentMass)
	if err != nil {
		return err
	}
	copy(p.f, sol)
	return nil
}

var surfRule = element.TriRuleForDensity(2.0, 2.0, 1.0)

func (p *FEPart) evalPK1(x, X [3]float64, t float64) [3][3]float64 {
	var P [3][3]float64
	for _, fcn := range p.pk1 {
		Pi := fcn(x, X, t)
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				P[a][b] += Pi[a][b]
			}
		}
	}
	return P
}

func (p *FEPart) tri(s int) element.Tri {
	var t element.Tri
	for i := 0; i < 3; i++ {
		t.V[i] = p.node(p.surf[s][i])
	}
	return t
}

func (p *FEPart) refTri(s int) element.Tri {
	var t element.Tri
	for i := 0; i < 3; i++ {
		t.V[i] = p.refNode(p.surf[s][i])
	}
	return t
}

// TractionSample is one surface quadrature point carrying the registered
// traction there: position X, outward unit normal N, traction T (surface
// force minus pressure along the normal) and integration weight W.
type TractionSample struct {
	X [3]float64
	N [3]float64
	T [3]float64
	W float64
}

// SurfaceTractionSamples evaluates the registered surface force and
// pressure at the boundary quadrature points of the current configuration.
// Jump-capable fluid solvers consume these when traction splitting is
// enabled. Inactive parts return nil.
func (p *FEPart) SurfaceTractionSamples(t float64) []TractionSample {
	if !p.active || (p.surfForce == nil && p.surfPressure == nil) {
		return nil
	}
	samples := make([]TractionSample, 0, len(p.surf)*surfRule.NumPoints())
	for s := range p.surf {
		tri, refTri := p.tri(s), p.refTri(s)
		n, jacS := tri.Normal()
		for q := 0; q < surfRule.NumPoints(); q++ {
			b := surfRule.Bary[q]
			xq, Xq := tri.Point(b), refTri.Point(b)
			var tr [3]float64
			if p.surfForce != nil {
				tr = p.surfForce(xq, Xq, n, t)
			}
			if p.surfPressure != nil {
				pr := p.surfPressure(xq, Xq, n, t)
				for d := 0; d < 3; d++ {
					tr[d] -= pr * n[d]
				}
			}
			samples = append(samples, TractionSample{
				X: xq, N: n, T: tr, W: surfRule.Weights[q] * jacS,
			})
		}
	}
	return samples
}

// StressNormalizationRHS assembles the right-hand side of the Phi
// projection: the normal component of the elastic traction on the part
// boundary. Solving M Phi = rhs and subtracting Phi from the stress
// diagonal cancels spurious normal tractions at the interface.
func (p *FEPart) StressNormalizationRHS(t float64) ([]float64, error) {
	if !p.stressNormalization {
		return nil, fmt.Errorf("fe part %q: stress normalization not enabled", p.name)
	}
	rhs := make([]float64, p.NumNodes())
	for s := range p.surf {
		tri, refTri := p.tri(s), p.refTri(s)
		n, jacS := tri.Normal()
		for q := 0; q < surfRule.NumPoints(); q++ {
			b := surfRule.Bary[q]
			P := p.evalPK1(tri.Point(b), refTri.Point(b), t)
			// n . P n
			tn := 0.0
			for a := 0; a < 3; a++ {
				row := 0.0
				for c := 0; c < 3; c++ {
					row += P[a][c] * n[c]
				}
				tn += n[a] * row
			}
			w := surfRule.Weights[q] * jacS
			for i := 0; i < 3; i++ {
				rhs[p.surf[s][i]] += w * b[i] * tn
			}
		}
	}
	return rhs, nil
}

// SolveStressNormalization computes the Phi field at time t by the
// epsilon-penalized projection (M + eps*I) Phi = rhs. The penalty keeps the
// system well conditioned when boundary elements are thin; eps must be
// non-negative and small relative to the element masses.
func (p *FEPart) SolveStressNormalization(t, eps float64) error {
	if eps < 0 {
		return fmt.Errorf("fe part %q: negative stress normalization penalty %g", p.name, eps)
	}
	rhs, err := p.StressNormalizationRHS(t)
	if err != nil {
		return err
	}
	n := p.NumNodes()
	M := element.AssembleMass(n, p.elems, p.node, massRule)
	for i := 0; i < n; i++ {
		M.SetSym(i, i, M.At(i, i)+eps)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(M); !ok {
		return fmt.Errorf("fe part %q: penalized mass matrix is not SPD", p.name)
	}
	b := mat.NewVecDense(n, rhs)
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, b); err != nil {
		return fmt.Errorf("fe part %q: stress normalization solve failed: %w", p.name, err)
	}
	copy(p.phi, sol.RawVector().Data)
	return nil
}

// SetPhi installs a solved stress-normalization field.
func (p *FEPart) SetPhi(phi []float64) error {
	if !p.stressNormalization {
		return fmt.Errorf("fe part %q: stress normalization not enabled", p.name)
	}
	if len(phi) != p.NumNodes() {
		return fmt.Errorf("fe part %q: phi length %d, want %d", p.name, len(phi), p.NumNodes())
	}
	copy(p.phi, phi)
	return nil
}

func (p *FEPart) HasSource() bool { return p.source != nil }

// ComputeSource projects the registered source density onto the nodal
// basis.
func (p *FEPart) ComputeSource(t float64) error {
	if p.source == nil {
		return fmt.Errorf("fe part %q: ComputeSource without a registered source function", p.name)
	}
	for i := range p.q {
		p.q[i] = 0
	}
	if !p.active {
		return nil
	}
	rhs := make([]float64, p.NumNodes())
	for e := range p.elems {
		cur := p.tet(e)
		jac := cur.Jacobian()
		for q := 0; q < massRule.NumPoints(); q++ {
			b := massRule.Bary[q]
			sv := p.source(cur.Point(b), p.refTet(e).Point(b), t)
			w := massRule.Weights[q] * jac
			for i := 0; i < 4; i++ {
				rhs[p.elems[e][i]] += w * b[i] * sv
			}
		}
	}
	sol, err := p.SolveProjection(rhs, 1, false)
	if err != nil {
		return err
	}
	copy(p.q, sol)
	return nil
}

func (p *FEPart) OnRegridBegin() {}
func (p *FEPart) OnRegridEnd()   {}

func (p *FEPart) EstimateWorkload(pointDensity, dx, perPointWeight float64,
	add func(x [3]float64, w float64)) {
	if !p.active {
		return
	}
	for _, pt := range p.InteractionPoints(pointDensity, dx) {
		add(pt.X, perPointWeight)
	}
}
