package partitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/IBKernel/hierarchy"
)

func uniformBoxes(n, width int) []hierarchy.Box {
	boxes := make([]hierarchy.Box, n)
	for i := range boxes {
		boxes[i] = hierarchy.NewBox([3]int{i * width, 0, 0}, [3]int{width, width, width})
	}
	return boxes
}

func TestBuildLayout_Validation(t *testing.T) {
	b := &Builder{Strategy: RoundRobin}
	_, err := b.BuildLayout(uniformBoxes(2, 4), []float64{1}, 2)
	assert.Error(t, err, "weights must be parallel to boxes")
	_, err = b.BuildLayout(uniformBoxes(2, 4), []float64{1, -1}, 2)
	assert.Error(t, err, "negative weight rejected")
	_, err = b.BuildLayout(uniformBoxes(2, 4), []float64{1, 1}, 0)
	assert.Error(t, err)
}

func TestBuildLayout_Strategies(t *testing.T) {
	boxes := uniformBoxes(6, 4)
	weights := []float64{1, 1, 1, 1, 1, 1}

	t.Run("Block", func(t *testing.T) {
		b := &Builder{Strategy: BlockPartition}
		layout, err := b.BuildLayout(boxes, weights, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 0, 1, 1, 2, 2}, layout.BoxOwner)
	})

	t.Run("RoundRobin", func(t *testing.T) {
		b := &Builder{Strategy: RoundRobin}
		layout, err := b.BuildLayout(boxes, weights, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, layout.BoxOwner)
	})

	t.Run("WorkloadBinPack", func(t *testing.T) {
		b := NewWorkloadBuilder()
		// One hot box and five light ones: greedy LPT must keep the hot box
		// alone on its rank.
		w := []float64{10, 1, 1, 1, 1, 1}
		layout, err := b.BuildLayout(boxes, w, 2)
		require.NoError(t, err)
		hot := layout.BoxOwner[0]
		for i := 1; i < 6; i++ {
			assert.NotEqual(t, hot, layout.BoxOwner[i], "light boxes avoid the hot rank")
		}
		assert.InDelta(t, 10.0, layout.MaxWork, 1e-15)
	})
}

func TestBuildLayout_ImbalanceBeatsCellCount(t *testing.T) {
	// All interaction points live in box 0. Cell-count balancing puts half
	// the boxes (and all the work) wherever box 0 lands; workload packing
	// spreads the remaining weightless boxes for free.
	boxes := uniformBoxes(4, 8)
	pointWeights := []float64{100, 0, 0, 0}

	byWork, err := NewWorkloadBuilder().BuildLayout(boxes, pointWeights, 4)
	require.NoError(t, err)
	assert.Equal(t, 100.0, byWork.MaxWork)
	assert.InDelta(t, 4.0, byWork.Imbalance(), 1e-12,
		"one indivisible hot box cannot be balanced without splitting")

	split := NewWorkloadBuilder()
	sBoxes, sWeights := split.SplitOverweightBoxes(boxes, pointWeights, 4)
	assert.Greater(t, len(sBoxes), len(boxes), "hot box was split")
	layout, err := split.BuildLayout(sBoxes, sWeights, 4)
	require.NoError(t, err)
	assert.Less(t, layout.Imbalance(), byWork.Imbalance())

	// Splitting conserves both cells and weight.
	cells, work := 0, 0.0
	for i := range sBoxes {
		cells += sBoxes[i].NumCells()
		work += sWeights[i]
	}
	wantCells := 0
	for _, b := range boxes {
		wantCells += b.NumCells()
	}
	assert.Equal(t, wantCells, cells)
	assert.InDelta(t, 100.0, work, 1e-12)
}

func TestBalancer_ImplementsLoadBalancer(t *testing.T) {
	var lb hierarchy.LoadBalancer = Balancer{Builder: *NewWorkloadBuilder()}
	owners := lb.AssignOwners(uniformBoxes(4, 4), []float64{1, 2, 3, 4}, 2)
	require.Len(t, owners, 4)
	for _, r := range owners {
		assert.Contains(t, []int{0, 1}, r)
	}
}
