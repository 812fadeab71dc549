package structure

import "fmt"

// MarkerPart is a cloud of marker points. Each marker is its own
// interaction point carrying a point force; the projection is the identity
// (nodal quadrature with unit mass). Markers optionally anchor to their
// reference positions with a penalty spring, the classic device for holding
// rigid or tethered geometry in place.
type MarkerPart struct {
	partCore

	// Kappa is the anchor-spring stiffness; zero disables anchoring.
	Kappa float64

	bodyForce BodyForceFcn
	source    BodySourceFcn
}

// NewMarkerPart creates a marker part from reference positions.
func NewMarkerPart(name string, ref [][3]float64) (*MarkerPart, error) {
	if len(ref) == 0 {
		return nil, fmt.Errorf("marker part %q has no points", name)
	}
	return &MarkerPart{partCore: newPartCore(name, ref)}, nil
}

func (p *MarkerPart) Kind() Kind { return MarkerKind }

// RegisterBodyForceFunction registers the (single) body force function.
func (p *MarkerPart) RegisterBodyForceFunction(fcn BodyForceFcn) error {
	if p.bodyForce != nil {
		return fmt.Errorf("marker part %q: body force function already registered", p.name)
	}
	p.bodyForce = fcn
	return nil
}

// RegisterBodySourceFunction registers the fluid source/sink density
// function and allocates the source field.
func (p *MarkerPart) RegisterBodySourceFunction(fcn BodySourceFcn) error {
	if p.source != nil {
		return fmt.Errorf("marker part %q: body source function already registered", p.name)
	}
	p.source = fcn
	p.q = make([]float64, p.NumNodes())
	return nil
}

// ApplyInitialConditions maps reference coordinates and sets initial
// velocities using the given functions (either may be nil).
func (p *MarkerPart) ApplyInitialConditions(mapping CoordinateMappingFcn, vel InitialVelocityFcn) {
	p.applyInitialConditions(mapping, vel)
}

func (p *MarkerPart) InteractionPoints(pointDensity, dx float64) []InteractionPoint {
	n := p.NumNodes()
	pts := make([]InteractionPoint, n)
	for i := 0; i < n; i++ {
		pts[i] = InteractionPoint{
			X:     p.node(i),
			Nodes: []int{i},
			Shape: []float64{1},
			W:     1,
		}
	}
	return pts
}

// SolveProjection is the identity for markers: nodal quadrature with unit
// weights makes the mass matrix the identity.
func (p *MarkerPart) SolveProjection(rhs []float64, depth int, consistent bool) ([]float64, error) {
	if len(rhs) != depth*p.NumNodes() {
		return nil, fmt.Errorf("marker part %q: rhs length %d, want %d", p.name, len(rhs), depth*p.NumNodes())
	}
	return append([]float64(nil), rhs...), nil
}

func (p *MarkerPart) ComputeForce(t float64, consistentMass bool) error {
	for i := range p.f {
		p.f[i] = 0
	}
	if !p.active {
		return nil
	}
	n := p.NumNodes()
	for i := 0; i < n; i++ {
		if p.Kappa != 0 {
			for d := 0; d < 3; d++ {
				p.f[3*i+d] += p.Kappa * (p.x0[3*i+d] - p.x[3*i+d])
			}
		}
		if p.bodyForce != nil {
			b := p.bodyForce(p.node(i), p.refNode(i), t)
			for d := 0; d < 3; d++ {
				p.f[3*i+d] += b[d]
			}
		}
	}
	return nil
}

func (p *MarkerPart) HasSource() bool { return p.source != nil }

func (p *MarkerPart) ComputeSource(t float64) error {
	if p.source == nil {
		return fmt.Errorf("marker part %q: ComputeSource without a registered source function", p.name)
	}
	for i := range p.q {
		p.q[i] = 0
	}
	if !p.active {
		return nil
	}
	for i := 0; i < p.NumNodes(); i++ {
		p.q[i] = p.source(p.node(i), p.refNode(i), t)
	}
	return nil
}

func (p *MarkerPart) OnRegridBegin() {}
func (p *MarkerPart) OnRegridEnd()   {}

func (p *MarkerPart) EstimateWorkload(pointDensity, dx, perPointWeight float64,
	add func(x [3]float64, w float64)) {
	if !p.active {
		return
	}
	for _, pt := range p.InteractionPoints(pointDensity, dx) {
		add(pt.X, perPointWeight)
	}
}
