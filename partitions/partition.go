// Package partitions maps boxes to owning ranks. The primary hierarchy is
// balanced by cell count; the scratch hierarchy used for interaction is
// balanced by a per-box workload weight (interaction points), which is the
// whole reason it exists: Lagrangian points cluster in space, so equal cell
// counts can put nearly all interaction work on a few ranks.
package partitions

import (
	"fmt"
	"sort"

	"github.com/notargets/IBKernel/hierarchy"
)

// Partition is the set of boxes assigned to one rank.
type Partition struct {
	Rank   int
	BoxIDs []int // indices into the layout's box list
	Work   float64
}

// Layout is a complete assignment of boxes to ranks.
type Layout struct {
	Partitions []Partition
	BoxOwner   []int // box i is owned by rank BoxOwner[i]

	NumRanks  int
	TotalWork float64
	MaxWork   float64 // heaviest rank load
}

// Imbalance is MaxWork / (TotalWork/NumRanks); 1.0 is perfect.
func (l *Layout) Imbalance() float64 {
	if l.TotalWork == 0 {
		return 1.0
	}
	return l.MaxWork * float64(l.NumRanks) / l.TotalWork
}

// Strategy selects how boxes are grouped onto ranks.
type Strategy int

const (
	// BlockPartition assigns consecutive boxes to each rank.
	BlockPartition Strategy = iota
	// RoundRobin deals boxes out cyclically.
	RoundRobin
	// WorkloadBinPack places boxes heaviest-first onto the least loaded
	// rank (longest-processing-time greedy packing).
	WorkloadBinPack
)

// Builder constructs layouts from boxes and per-box weights.
type Builder struct {
	Strategy Strategy

	// MaxWorkloadFactor caps single-box weight at factor x the mean rank
	// load; heavier boxes are split along their longest axis first. Zero
	// disables splitting.
	MaxWorkloadFactor float64

	// MinBoxWidth stops splitting once a box is this thin on every axis.
	MinBoxWidth int
}

// NewWorkloadBuilder returns the configuration used for scratch-hierarchy
// partitioning.
func NewWorkloadBuilder() *Builder {
	return &Builder{Strategy: WorkloadBinPack, MaxWorkloadFactor: 0.5, MinBoxWidth: 4}
}

// BuildLayout assigns every box to a rank. weights must be non-negative and
// parallel to boxes.
func (b *Builder) BuildLayout(boxes []hierarchy.Box, weights []float64, numRanks int) (*Layout, error) {
	if numRanks <= 0 {
		return nil, fmt.Errorf("invalid rank count %d", numRanks)
	}
	if len(weights) != len(boxes) {
		return nil, fmt.Errorf("%d boxes but %d weights", len(boxes), len(weights))
	}
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("box %d has negative weight %g", i, w)
		}
	}

	owners := make([]int, len(boxes))
	switch b.Strategy {
	case BlockPartition:
		per := (len(boxes) + numRanks - 1) / numRanks
		for i := range boxes {
			owners[i] = min(i/per, numRanks-1)
		}
	case RoundRobin:
		for i := range boxes {
			owners[i] = i % numRanks
		}
	case WorkloadBinPack:
		order := make([]int, len(boxes))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, c int) bool {
			return weights[order[a]] > weights[order[c]]
		})
		load := make([]float64, numRanks)
		for _, i := range order {
			r := 0
			for q := 1; q < numRanks; q++ {
				if load[q] < load[r] {
					r = q
				}
			}
			owners[i] = r
			load[r] += weights[i]
		}
	default:
		return nil, fmt.Errorf("unknown partition strategy %d", b.Strategy)
	}

	layout := &Layout{
		BoxOwner:   owners,
		NumRanks:   numRanks,
		Partitions: make([]Partition, numRanks),
	}
	for r := range layout.Partitions {
		layout.Partitions[r].Rank = r
	}
	for i, r := range owners {
		p := &layout.Partitions[r]
		p.BoxIDs = append(p.BoxIDs, i)
		p.Work += weights[i]
		layout.TotalWork += weights[i]
	}
	for _, p := range layout.Partitions {
		if p.Work > layout.MaxWork {
			layout.MaxWork = p.Work
		}
	}
	return layout, nil
}

// SplitOverweightBoxes cuts boxes whose weight exceeds MaxWorkloadFactor x
// the mean per-rank load, halving the weight with each volume-proportional
// cut. Smaller pieces let the bin packer even out clustered work at the cost
// of more boxes (and so more ghost cells), which is the trade the
// MaxWorkloadFactor knob expresses.
func (b *Builder) SplitOverweightBoxes(boxes []hierarchy.Box, weights []float64,
	numRanks int) ([]hierarchy.Box, []float64) {
	if b.MaxWorkloadFactor <= 0 || numRanks <= 1 {
		return boxes, weights
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	limit := b.MaxWorkloadFactor * total / float64(numRanks)
	if limit <= 0 {
		return boxes, weights
	}

	outBoxes := append([]hierarchy.Box(nil), boxes...)
	outWeights := append([]float64(nil), weights...)
	for i := 0; i < len(outBoxes); i++ {
		box, w := outBoxes[i], outWeights[i]
		axis := box.LongestAxis()
		if w <= limit || box.Width(axis) < 2*b.MinBoxWidth {
			continue
		}
		cut := (box.Lo[axis] + box.Hi[axis]) / 2
		lo, hi := box.Split(axis, cut)
		frac := float64(lo.NumCells()) / float64(box.NumCells())
		outBoxes[i], outWeights[i] = lo, w*frac
		outBoxes = append(outBoxes, hi)
		outWeights = append(outWeights, w*(1-frac))
		i-- // recheck the shrunk box
	}
	return outBoxes, outWeights
}

// Balancer adapts a Builder to the hierarchy.LoadBalancer interface.
type Balancer struct {
	Builder Builder
}

func (lb Balancer) AssignOwners(boxes []hierarchy.Box, weights []float64, numRanks int) []int {
	layout, err := lb.Builder.BuildLayout(boxes, weights, numRanks)
	if err != nil {
		// AssignOwners sits behind interfaces that cannot return errors;
		// misuse here is a programming error in the gridding setup.
		panic(err)
	}
	return layout.BoxOwner
}
