package comm

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorld(t *testing.T) {
	w := World{}
	if w.Rank() != 0 || w.Size() != 1 {
		t.Fatalf("World should be rank 0 of 1, got %d of %d", w.Rank(), w.Size())
	}
	sum := w.AllReduceSum([]float64{1, 2, 3})
	assert.Equal(t, []float64{1, 2, 3}, sum)
	gath := w.AllGatherInt([]int{7, 8})
	require.Len(t, gath, 1)
	assert.Equal(t, []int{7, 8}, gath[0])
}

func TestGroup_AllReduceSum(t *testing.T) {
	for _, n := range []int{1, 2, 4, 7} {
		comms := NewGroup(n)
		results := make([][]float64, n)
		var wg sync.WaitGroup
		for r := 0; r < n; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				results[r] = comms[r].AllReduceSum([]float64{1, float64(r)})
			}(r)
		}
		wg.Wait()

		want0 := float64(n)
		want1 := float64(n*(n-1)) / 2
		for r := 0; r < n; r++ {
			assert.Equal(t, want0, results[r][0], "n=%d rank %d", n, r)
			assert.Equal(t, want1, results[r][1], "n=%d rank %d", n, r)
		}
	}
}

func TestGroup_AllReduceMax(t *testing.T) {
	n := 3
	comms := NewGroup(n)
	results := make([][]float64, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			results[r] = comms[r].AllReduceMax([]float64{float64(r), -float64(r)})
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		assert.Equal(t, []float64{2, 0}, results[r])
	}
}

func TestGroup_AllGather_RaggedLengths(t *testing.T) {
	n := 4
	comms := NewGroup(n)
	results := make([][][]int, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			local := make([]int, r) // rank r contributes r entries
			for i := range local {
				local[i] = 10*r + i
			}
			results[r] = comms[r].AllGatherInt(local)
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		require.Len(t, results[r], n)
		for src := 0; src < n; src++ {
			require.Len(t, results[r][src], src)
		}
		assert.Equal(t, []int{30, 31, 32}, results[r][3])
	}
}

// A failure inside an OnRank0 body must surface on every rank, not leave
// the other ranks blocked in the closing synchronization.
func TestOnRank0_ErrorIsSymmetric(t *testing.T) {
	n := 3
	comms := NewGroup(n)
	boom := errors.New("mutation failed")
	ran := 0
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = OnRank0(comms[r], func() error {
				ran++
				return boom
			})
		}(r)
	}
	wg.Wait()

	assert.Equal(t, 1, ran, "the body runs on rank 0 only")
	require.ErrorIs(t, errs[0], boom, "rank 0 keeps the underlying error")
	for r := 1; r < n; r++ {
		require.ErrorIs(t, errs[r], ErrRemoteFailure, "rank %d", r)
	}
}

func TestOnRank0_Success(t *testing.T) {
	w := World{}
	ran := false
	require.NoError(t, OnRank0(w, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

// Back-to-back collectives must not let a fast rank clobber the result a slow
// rank has not yet read.
func TestGroup_SequentialCollectives(t *testing.T) {
	n := 4
	rounds := 200
	comms := NewGroup(n)
	var wg sync.WaitGroup
	errs := make(chan string, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for k := 0; k < rounds; k++ {
				got := comms[r].AllReduceSum([]float64{float64(k)})
				if got[0] != float64(k*n) {
					errs <- "bad reduction"
					return
				}
			}
		}(r)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}
