// Package stepper drives the coupled time step. One Stepper per rank holds
// the step state machine: a preprocess/postprocess bracket around each time
// step, the interpolate / move / force / spread sequence inside it, and the
// handoff to the external fluid solver between spread and the next
// interpolation. All methods that touch Eulerian data are collectives.
package stepper

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/IBKernel/comm"
	"github.com/notargets/IBKernel/datamanager"
	"github.com/notargets/IBKernel/hierarchy"
	"github.com/notargets/IBKernel/interaction"
	"github.com/notargets/IBKernel/regrid"
	"github.com/notargets/IBKernel/structure"
)

// ErrUnpairedPreprocess means the preprocess/postprocess bracket was
// violated: a step method ran outside a bracket, a bracket was opened
// twice, or Postprocess ran without Preprocess.
var ErrUnpairedPreprocess = errors.New("unpaired preprocess/postprocess bracket")

// ErrNotConverged is wrapped by fluid solvers whose iteration fails; the
// step cannot proceed and the caller decides whether to retry with a
// smaller dt.
var ErrNotConverged = errors.New("solver did not converge")

// FluidSolver is the external collaborator advancing the Eulerian velocity
// field. The engine spreads force density into fIdx on the primary finest
// level before calling it and interpolates from uIdx afterwards.
type FluidSolver interface {
	AdvanceVelocity(cm comm.Communicator, h *hierarchy.Hierarchy, level int,
		dt float64, uIdx, fIdx int) error
}

// SourceSolver is optionally implemented by fluid solvers that accept a
// fluid source/sink density (spread from structure parts with registered
// source functions).
type SourceSolver interface {
	ApplyFluidSource(cm comm.Communicator, h *hierarchy.Hierarchy, level int,
		dt float64, qIdx int) error
}

// JumpSolver is optionally implemented by fluid solvers that impose the
// structure's surface tractions as pressure/stress jumps across the
// interface. Parts with traction splitting enabled withhold those terms
// from the spread force density and hand them over here.
type JumpSolver interface {
	ImposeJumpConditions(cm comm.Communicator, h *hierarchy.Hierarchy, level int,
		dt float64, samples []structure.TractionSample) error
}

// Stepper is the per-rank time integrator.
type Stepper struct {
	DM     *datamanager.DataManager
	Op     *interaction.Op
	Co     *regrid.Coordinator
	Solver FluidSolver

	UIdx int // Eulerian velocity
	FIdx int // Eulerian force density
	QIdx int // Eulerian fluid source density, -1 when unused

	ConsistentMass bool
	Epsilon        float64 // stress-normalization penalty

	cm  comm.Communicator
	log *logrus.Entry

	inStep    bool
	tCurrent  float64
	tNew      float64
	cycle     int
	numCycles int
	steps     int

	xCur map[structure.Integrable][]float64 // positions at tCurrent
	u0   map[structure.Integrable][]float64 // velocities at tCurrent
	xNew map[structure.Integrable][]float64 // positions at tNew, updated per cycle
}

// New wires a stepper. qIdx may be -1 when no part has fluid sources.
func New(cm comm.Communicator, dm *datamanager.DataManager, op *interaction.Op,
	co *regrid.Coordinator, solver FluidSolver, uIdx, fIdx, qIdx int,
	log *logrus.Entry) (*Stepper, error) {
	if dm == nil || op == nil || co == nil {
		return nil, errors.New("stepper needs a data manager, operator and coordinator")
	}
	if solver == nil {
		return nil, errors.New("stepper needs a fluid solver")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Stepper{
		DM:             dm,
		Op:             op,
		Co:             co,
		Solver:         solver,
		UIdx:           uIdx,
		FIdx:           fIdx,
		QIdx:           qIdx,
		ConsistentMass: true,
		cm:             cm,
		log:            log.WithField("component", "stepper"),
	}, nil
}

// Time returns the time the committed state is at.
func (s *Stepper) Time() float64 { return s.tCurrent }

// StepCount returns the number of committed steps.
func (s *Stepper) StepCount() int { return s.steps }

// InStep reports whether a preprocess bracket is open.
func (s *Stepper) InStep() bool { return s.inStep }

func (s *Stepper) dt() float64 { return s.tNew - s.tCurrent }

// Resume adopts a restored simulation clock after a restart load has
// refilled the parts' state: tCurrent and the step counter continue from
// the saved values. Loaded positions moved the interaction points, so
// bindings are dropped. Must run outside a step bracket and before the
// first Step of the run.
func (s *Stepper) Resume(simTime float64, steps int) error {
	if s.inStep {
		return fmt.Errorf("Resume inside an open bracket: %w", ErrUnpairedPreprocess)
	}
	if steps < 0 {
		return fmt.Errorf("invalid restored step count %d", steps)
	}
	s.tCurrent = simTime
	s.steps = steps
	s.DM.InvalidateBindings()
	return nil
}

// PreprocessIntegrateData opens the step bracket [currentTime, newTime]:
// structure positions and velocities are snapshotted so the multi-cycle
// schemes can restart each cycle from the step's initial state.
func (s *Stepper) PreprocessIntegrateData(currentTime, newTime float64, numCycles int) error {
	if s.inStep {
		return fmt.Errorf("PreprocessIntegrateData inside an open bracket: %w", ErrUnpairedPreprocess)
	}
	if newTime <= currentTime {
		return fmt.Errorf("non-positive step [%g, %g]", currentTime, newTime)
	}
	if numCycles < 1 {
		return fmt.Errorf("invalid cycle count %d", numCycles)
	}
	s.tCurrent, s.tNew = currentTime, newTime
	s.numCycles = numCycles
	s.cycle = 0
	s.xCur = make(map[structure.Integrable][]float64)
	s.u0 = make(map[structure.Integrable][]float64)
	s.xNew = make(map[structure.Integrable][]float64)
	for _, p := range s.DM.Parts() {
		s.xCur[p] = append([]float64(nil), p.Positions()...)
		s.u0[p] = append([]float64(nil), p.Velocities()...)
		s.xNew[p] = append([]float64(nil), p.Positions()...)
	}
	s.inStep = true
	return nil
}

// PostprocessIntegrateData commits the step: new positions become current,
// the snapshots are dropped and time advances.
func (s *Stepper) PostprocessIntegrateData() error {
	if !s.inStep {
		return fmt.Errorf("PostprocessIntegrateData without Preprocess: %w", ErrUnpairedPreprocess)
	}
	for _, p := range s.DM.Parts() {
		copy(p.Positions(), s.xNew[p])
	}
	s.tCurrent = s.tNew
	s.steps++
	s.inStep = false
	s.xCur, s.u0, s.xNew = nil, nil, nil
	s.DM.InvalidateBindings()
	return nil
}

// ensureActiveAllocated makes sure idx has storage on the finest level of
// the active hierarchy (freshly built scratch levels start unallocated).
// Collective.
func (s *Stepper) ensureActiveAllocated(idx int) {
	h := s.DM.Active()
	if h == s.DM.Primary {
		return
	}
	comm.OnRank0(s.cm, func() error {
		h.FinestLevel().Allocate(h.VarDB, idx)
		return nil
	})
}

// transfer runs the cached schedule moving idx between the hierarchies.
// Collective.
func (s *Stepper) transfer(idx int, dir datamanager.TransferDirection) error {
	h := s.DM.Active()
	sched, err := s.DM.Schedule(h.FinestLevelNumber(), idx, idx, dir)
	if err != nil {
		return err
	}
	return comm.OnRank0(s.cm, sched.Execute)
}

// InterpolateVelocity gathers the Eulerian velocity onto every active
// part's nodes at the parts' current (working) positions. When a scratch
// hierarchy is active the field is first copied over from the primary.
// Collective.
func (s *Stepper) InterpolateVelocity() error {
	if !s.inStep {
		return fmt.Errorf("InterpolateVelocity outside a step: %w", ErrUnpairedPreprocess)
	}
	h := s.DM.Active()
	if h != s.DM.Primary {
		s.ensureActiveAllocated(s.UIdx)
		if err := s.transfer(s.UIdx, datamanager.PrimaryToScratch); err != nil {
			return err
		}
	}
	gv := datamanager.NewGhostedVector(h, h.FinestLevelNumber(), s.UIdx)
	if err := s.Op.FillGhosts(s.cm, gv); err != nil {
		return err
	}
	return s.Op.Interpolate(s.cm, gv, s.ConsistentMass, structure.Integrable.Velocities)
}

// moveParts writes positions computed by update into the working position
// of every part and invalidates bindings (points moved).
func (s *Stepper) moveParts(update func(p structure.Integrable, xCur, u0 []float64, x []float64)) {
	for _, p := range s.DM.Parts() {
		update(p, s.xCur[p], s.u0[p], p.Positions())
	}
	s.DM.InvalidateBindings()
}

// ForwardEulerStep advances positions by the full step with the current
// nodal velocities: X <- X_n + dt*U.
func (s *Stepper) ForwardEulerStep() error {
	if !s.inStep {
		return fmt.Errorf("ForwardEulerStep outside a step: %w", ErrUnpairedPreprocess)
	}
	dt := s.dt()
	s.moveParts(func(p structure.Integrable, xCur, _ []float64, x []float64) {
		u := p.Velocities()
		for i := range x {
			x[i] = xCur[i] + dt*u[i]
		}
		copy(s.xNew[p], x)
	})
	s.cycle++
	return nil
}

// MidpointStep is the explicit midpoint rule across cycles: the first cycle
// moves to the half step, X <- X_n + dt/2*U; later cycles complete the full
// step with the velocity interpolated at the midpoint configuration,
// X_{n+1} <- X_n + dt*U.
func (s *Stepper) MidpointStep() error {
	if !s.inStep {
		return fmt.Errorf("MidpointStep outside a step: %w", ErrUnpairedPreprocess)
	}
	dt := s.dt()
	first := s.cycle == 0
	s.moveParts(func(p structure.Integrable, xCur, _ []float64, x []float64) {
		u := p.Velocities()
		if first {
			for i := range x {
				x[i] = xCur[i] + 0.5*dt*u[i]
			}
			return
		}
		for i := range x {
			x[i] = xCur[i] + dt*u[i]
		}
		copy(s.xNew[p], x)
	})
	s.cycle++
	return nil
}

// TrapezoidalStep takes a forward Euler predictor on the first cycle and
// the trapezoidal corrector X_{n+1} <- X_n + dt/2*(U_n + U) afterwards.
func (s *Stepper) TrapezoidalStep() error {
	if !s.inStep {
		return fmt.Errorf("TrapezoidalStep outside a step: %w", ErrUnpairedPreprocess)
	}
	if s.cycle == 0 {
		return s.ForwardEulerStep()
	}
	dt := s.dt()
	s.moveParts(func(p structure.Integrable, xCur, u0 []float64, x []float64) {
		u := p.Velocities()
		for i := range x {
			x[i] = xCur[i] + 0.5*dt*(u0[i]+u[i])
		}
		copy(s.xNew[p], x)
	})
	s.cycle++
	return nil
}

// ComputeLagrangianForce evaluates every active part's force density at
// time t in the current configuration, running the stress-normalization
// sub-solve first on parts that enable it.
func (s *Stepper) ComputeLagrangianForce(t float64) error {
	for _, p := range s.DM.Parts() {
		if !p.Active() {
			continue
		}
		if fe, ok := p.(*structure.FEPart); ok && fe.StressNormalizationEnabled() {
			if err := fe.SolveStressNormalization(t, s.Epsilon); err != nil {
				return err
			}
		}
		if err := p.ComputeForce(t, s.ConsistentMass); err != nil {
			return err
		}
	}
	return nil
}

// SpreadForce scatters the nodal force densities onto the Eulerian force
// field; with a scratch hierarchy active the result is copied back to the
// primary where the fluid solver reads it. Collective.
func (s *Stepper) SpreadForce() error {
	if !s.inStep {
		return fmt.Errorf("SpreadForce outside a step: %w", ErrUnpairedPreprocess)
	}
	h := s.DM.Active()
	s.ensureActiveAllocated(s.FIdx)
	gv := datamanager.NewGhostedVector(h, h.FinestLevelNumber(), s.FIdx)
	if err := s.Op.Spread(s.cm, gv, structure.Integrable.Forces); err != nil {
		return err
	}
	if h != s.DM.Primary {
		return s.transfer(s.FIdx, datamanager.ScratchToPrimary)
	}
	return nil
}

// HasFluidSources reports whether any active part carries a fluid source.
func (s *Stepper) HasFluidSources() bool {
	for _, p := range s.DM.Parts() {
		if p.Active() && p.HasSource() {
			return true
		}
	}
	return false
}

// ComputeLagrangianFluidSource evaluates the nodal source density of every
// active part with a registered source function.
func (s *Stepper) ComputeLagrangianFluidSource(t float64) error {
	for _, p := range s.DM.Parts() {
		if !p.Active() || !p.HasSource() {
			continue
		}
		if err := p.ComputeSource(t); err != nil {
			return err
		}
	}
	return nil
}

// SpreadFluidSource scatters the nodal source densities onto the Eulerian
// source field QIdx. Collective.
func (s *Stepper) SpreadFluidSource() error {
	if s.QIdx < 0 {
		return errors.New("SpreadFluidSource without a registered source variable")
	}
	h := s.DM.Active()
	s.ensureActiveAllocated(s.QIdx)
	gv := datamanager.NewGhostedVector(h, h.FinestLevelNumber(), s.QIdx)
	if err := s.Op.Spread(s.cm, gv, structure.Integrable.SourceDensity); err != nil {
		return err
	}
	if h != s.DM.Primary {
		return s.transfer(s.QIdx, datamanager.ScratchToPrimary)
	}
	return nil
}

// HasSplitTractions reports whether any active part withholds surface
// tractions for jump imposition.
func (s *Stepper) HasSplitTractions() bool {
	for _, p := range s.DM.Parts() {
		if fe, ok := p.(*structure.FEPart); ok && fe.Active() && fe.TractionSplittingEnabled() {
			return true
		}
	}
	return false
}

// ImposeJumpConditions collects the surface traction samples of every
// splitting part at time t and hands them to the solver. Errors when the
// solver cannot impose jumps.
func (s *Stepper) ImposeJumpConditions(t, dt float64) error {
	js, ok := s.Solver.(JumpSolver)
	if !ok {
		return errors.New("traction splitting enabled but the fluid solver does not impose jump conditions")
	}
	var samples []structure.TractionSample
	for _, p := range s.DM.Parts() {
		fe, isFE := p.(*structure.FEPart)
		if !isFE || !fe.Active() || !fe.TractionSplittingEnabled() {
			continue
		}
		samples = append(samples, fe.SurfaceTractionSamples(t)...)
	}
	return js.ImposeJumpConditions(s.cm, s.DM.Primary,
		s.DM.Primary.FinestLevelNumber(), dt, samples)
}

// Step runs one complete midpoint-rule step [t, t+dt]: interpolate, move to
// the midpoint, compute and spread forces there, advance the fluid, then
// complete the structure step with the updated velocity. Collective.
func (s *Stepper) Step(dt float64) error {
	t := s.tCurrent
	half := t + 0.5*dt
	if err := s.PreprocessIntegrateData(t, t+dt, 2); err != nil {
		return err
	}
	if err := s.InterpolateVelocity(); err != nil {
		return err
	}
	if err := s.MidpointStep(); err != nil {
		return err
	}
	if err := s.ComputeLagrangianForce(half); err != nil {
		return err
	}
	if err := s.SpreadForce(); err != nil {
		return err
	}
	if s.HasFluidSources() {
		if err := s.ComputeLagrangianFluidSource(half); err != nil {
			return err
		}
		if err := s.SpreadFluidSource(); err != nil {
			return err
		}
		if src, ok := s.Solver.(SourceSolver); ok {
			if err := src.ApplyFluidSource(s.cm, s.DM.Primary,
				s.DM.Primary.FinestLevelNumber(), dt, s.QIdx); err != nil {
				return err
			}
		}
	}
	if s.HasSplitTractions() {
		if err := s.ImposeJumpConditions(half, dt); err != nil {
			return err
		}
	}
	if err := s.Solver.AdvanceVelocity(s.cm, s.DM.Primary,
		s.DM.Primary.FinestLevelNumber(), dt, s.UIdx, s.FIdx); err != nil {
		return fmt.Errorf("fluid solve at t=%g: %w", half, err)
	}
	if err := s.InterpolateVelocity(); err != nil {
		return err
	}
	if err := s.MidpointStep(); err != nil {
		return err
	}
	if err := s.PostprocessIntegrateData(); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"step": s.steps,
		"time": s.tCurrent,
		"dt":   dt,
	}).Debug("completed time step")
	return nil
}
