// Package comm provides the process-group abstraction used by the coupling
// engine. Each rank owns a disjoint set of patches and the Lagrangian points
// inside them; the only inter-rank operations are synchronous collectives.
//
// Collectives must be called in the same order and the same number of times
// on every rank of a group, or the group deadlocks. There is no cancellation:
// a rank that fails mid-step leaves the whole group unusable, matching the
// fatal-collective semantics of the distributed model.
package comm

import "errors"

// Communicator is the collective-communication surface seen by the rest of
// the engine. Implementations: World (single rank) and the members of a
// Group (in-process multi-rank).
type Communicator interface {
	Rank() int
	Size() int

	// Barrier blocks until every rank of the group has entered it.
	Barrier()

	// AllReduceSum returns the element-wise sum of vals across all ranks.
	// Every rank must pass a slice of the same length.
	AllReduceSum(vals []float64) []float64

	// AllReduceMax returns the element-wise maximum of vals across all ranks.
	AllReduceMax(vals []float64) []float64

	// AllGatherFloat64 returns each rank's contribution, indexed by rank.
	// Contributions may have different lengths.
	AllGatherFloat64(local []float64) [][]float64

	// AllGatherInt is AllGatherFloat64 for index data.
	AllGatherInt(local []int) [][]int
}

// ErrRemoteFailure is what the other ranks of a group get back when an
// OnRank0 body fails: rank 0 keeps the underlying error, everyone else
// learns that the collective failed and must stop using the group.
var ErrRemoteFailure = errors.New("collective operation failed on rank 0")

// OnRank0 runs fn on rank 0 with the whole group synchronized around it:
// a barrier before (so rank 0 sees every rank's writes) and a shared
// failure flag after (so an error surfaces symmetrically on every rank
// instead of leaving the others blocked in a closing barrier). This is the
// required pattern for mutations of shared hierarchy state.
func OnRank0(c Communicator, fn func() error) error {
	c.Barrier()
	var err error
	failed := 0.0
	if c.Rank() == 0 {
		if err = fn(); err != nil {
			failed = 1
		}
	}
	if c.AllReduceMax([]float64{failed})[0] != 0 {
		if err != nil {
			return err
		}
		return ErrRemoteFailure
	}
	return nil
}

// World is the serial communicator: one rank, collectives are identities.
type World struct{}

func (World) Rank() int { return 0 }
func (World) Size() int { return 1 }
func (World) Barrier()  {}

func (World) AllReduceSum(vals []float64) []float64 {
	return append([]float64(nil), vals...)
}

func (World) AllReduceMax(vals []float64) []float64 {
	return append([]float64(nil), vals...)
}

func (World) AllGatherFloat64(local []float64) [][]float64 {
	return [][]float64{append([]float64(nil), local...)}
}

func (World) AllGatherInt(local []int) [][]int {
	return [][]int{append([]int(nil), local...)}
}
