// Package structure holds the Lagrangian side of the coupling: deformable
// parts embedded in the finest grid level. A part is either a marker cloud
// or a P1 tetrahedral finite-element mesh; both satisfy Integrable, the
// capability surface the time integrator and regrid coordinator work
// against. The variant is chosen at construction, not by configuration
// toggles on a shared type.
package structure

// Kind discriminates the two part variants.
type Kind uint8

const (
	MarkerKind Kind = iota
	FEKind
)

func (k Kind) String() string {
	if k == MarkerKind {
		return "marker"
	}
	return "fe"
}

// Function types registered on parts. x is the current (deformed) position,
// X the reference position, n a unit surface normal.
type (
	// PK1StressFcn computes a first Piola-Kirchhoff stress tensor. More
	// than one may be registered per part (selective reduced integration).
	PK1StressFcn func(x, X [3]float64, t float64) [3][3]float64

	// BodyForceFcn computes a body force density.
	BodyForceFcn func(x, X [3]float64, t float64) [3]float64

	// SurfaceForceFcn computes a surface force density on the part boundary.
	SurfaceForceFcn func(x, X, n [3]float64, t float64) [3]float64

	// SurfacePressureFcn computes a surface pressure; the applied traction
	// is -p*n.
	SurfacePressureFcn func(x, X, n [3]float64, t float64) float64

	// BodySourceFcn computes a fluid source/sink density.
	BodySourceFcn func(x, X [3]float64, t float64) float64

	// CoordinateMappingFcn maps reference to initial physical coordinates.
	CoordinateMappingFcn func(X [3]float64) [3]float64

	// InitialVelocityFcn gives the initial velocity at a reference point.
	InitialVelocityFcn func(X [3]float64) [3]float64
)

// InteractionPoint is one Lagrangian location participating in
// interpolate/spread. For markers the point is the node itself (W=1, a
// single unit shape weight); for FE parts it is a quadrature point carrying
// its integration weight w_q*|J| and the shape values of its support nodes.
type InteractionPoint struct {
	X     [3]float64
	Nodes []int
	Shape []float64
	W     float64
}

// Integrable is the polymorphic structure interface consumed by the data
// manager, interaction operator, time integrator and regrid coordinator.
type Integrable interface {
	Name() string
	Kind() Kind
	NumNodes() int

	// Activation. A deactivated part keeps its degrees of freedom but is
	// skipped by force computation, spreading and workload estimation.
	Active() bool
	Activate()
	Deactivate()

	// Live views of nodal data, stride 3 (Source is stride 1). Callers
	// mutate positions/velocities through these during time stepping.
	Positions() []float64
	RefPositions() []float64
	Velocities() []float64
	Forces() []float64

	// InteractionPoints enumerates the part's current interaction points.
	// pointDensity and dx drive adaptive quadrature for FE parts.
	InteractionPoints(pointDensity, dx float64) []InteractionPoint

	// SolveProjection turns a weighted nodal RHS (as assembled from
	// interaction-point contributions) into nodal values: the L2
	// projection. consistent selects the consistent mass matrix over mass
	// lumping. depth is the number of components interleaved in rhs.
	SolveProjection(rhs []float64, depth int, consistent bool) ([]float64, error)

	// ComputeForce fills Forces() at time t from elastic and registered
	// force contributions. No-op (zero force) for inactive parts.
	ComputeForce(t float64, consistentMass bool) error

	// Fluid sources.
	HasSource() bool
	SourceDensity() []float64
	ComputeSource(t float64) error

	// Regrid hooks, called inside the redistribution bracket.
	OnRegridBegin()
	OnRegridEnd()

	// EstimateWorkload calls add once per interaction point with the
	// point's location and perPointWeight.
	EstimateWorkload(pointDensity, dx, perPointWeight float64, add func(x [3]float64, w float64))
}

// partCore carries the state shared by both variants.
type partCore struct {
	name   string
	active bool

	x  []float64 // current positions, stride 3
	x0 []float64 // reference positions, stride 3
	u  []float64 // velocities, stride 3
	f  []float64 // force density / point forces, stride 3
	q  []float64 // source density, stride 1 (nil unless sources registered)
}

func newPartCore(name string, ref [][3]float64) partCore {
	n := len(ref)
	c := partCore{
		name:   name,
		active: true,
		x:      make([]float64, 3*n),
		x0:     make([]float64, 3*n),
		u:      make([]float64, 3*n),
		f:      make([]float64, 3*n),
	}
	for i, p := range ref {
		for d := 0; d < 3; d++ {
			c.x[3*i+d] = p[d]
			c.x0[3*i+d] = p[d]
		}
	}
	return c
}

func (c *partCore) Name() string            { return c.name }
func (c *partCore) Active() bool            { return c.active }
func (c *partCore) Activate()               { c.active = true }
func (c *partCore) Deactivate()             { c.active = false }
func (c *partCore) NumNodes() int           { return len(c.x) / 3 }
func (c *partCore) Positions() []float64    { return c.x }
func (c *partCore) RefPositions() []float64 { return c.x0 }
func (c *partCore) Velocities() []float64   { return c.u }
func (c *partCore) Forces() []float64       { return c.f }
func (c *partCore) SourceDensity() []float64 {
	return c.q
}

func (c *partCore) node(i int) [3]float64 {
	return [3]float64{c.x[3*i], c.x[3*i+1], c.x[3*i+2]}
}

func (c *partCore) refNode(i int) [3]float64 {
	return [3]float64{c.x0[3*i], c.x0[3*i+1], c.x0[3*i+2]}
}

// ApplyInitialConditions runs the registered coordinate mapping and initial
// velocity functions over the reference configuration.
func (c *partCore) applyInitialConditions(mapping CoordinateMappingFcn, vel InitialVelocityFcn) {
	n := c.NumNodes()
	for i := 0; i < n; i++ {
		X := c.refNode(i)
		if mapping != nil {
			x := mapping(X)
			for d := 0; d < 3; d++ {
				c.x[3*i+d] = x[d]
			}
		}
		if vel != nil {
			u := vel(X)
			for d := 0; d < 3; d++ {
				c.u[3*i+d] = u[d]
			}
		}
	}
}
