package comm

import (
	"fmt"
	"sync"
)

// Group is an in-process rank group. Ranks run on separate goroutines and
// synchronize through shared rendezvous state; the collective contract is the
// same as for a distributed run, so tests exercising partition invariance can
// run the full engine at several rank counts inside one process.
type Group struct {
	n    int
	mu   sync.Mutex
	cond *sync.Cond

	arrived    int
	generation int

	sumScratch  []float64
	maxScratch  []float64
	gatherF     [][]float64
	gatherI     [][]int
	resultSum   []float64
	resultMax   []float64
	resultGathF [][]float64
	resultGathI [][]int
}

// NewGroup creates an n-rank group and returns one Communicator per rank.
func NewGroup(n int) []Communicator {
	if n <= 0 {
		panic(fmt.Sprintf("invalid group size %d", n))
	}
	g := &Group{n: n, gatherF: make([][]float64, n), gatherI: make([][]int, n)}
	g.cond = sync.NewCond(&g.mu)
	comms := make([]Communicator, n)
	for r := 0; r < n; r++ {
		comms[r] = &groupRank{g: g, rank: r}
	}
	return comms
}

type groupRank struct {
	g    *Group
	rank int
}

func (c *groupRank) Rank() int { return c.rank }
func (c *groupRank) Size() int { return c.g.n }

// rendezvous runs one collective. contribute is called on arrival while the
// lock is held; complete is called by the last arriver; read is called by
// every rank, still under the lock, once the collective has completed.
func (g *Group) rendezvous(contribute, complete, read func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gen := g.generation
	contribute()
	g.arrived++
	if g.arrived == g.n {
		complete()
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for gen == g.generation {
			g.cond.Wait()
		}
	}
	read()
}

func (c *groupRank) Barrier() {
	c.g.rendezvous(func() {}, func() {}, func() {})
}

func (c *groupRank) AllReduceSum(vals []float64) []float64 {
	g := c.g
	var out []float64
	g.rendezvous(
		func() {
			if g.sumScratch == nil {
				g.sumScratch = append([]float64(nil), vals...)
				return
			}
			if len(vals) != len(g.sumScratch) {
				panic(fmt.Sprintf("AllReduceSum length mismatch: rank %d passed %d, expected %d",
					c.rank, len(vals), len(g.sumScratch)))
			}
			for i, v := range vals {
				g.sumScratch[i] += v
			}
		},
		func() {
			g.resultSum = g.sumScratch
			g.sumScratch = nil
		},
		func() {
			out = append([]float64(nil), g.resultSum...)
		})
	return out
}

func (c *groupRank) AllReduceMax(vals []float64) []float64 {
	g := c.g
	var out []float64
	g.rendezvous(
		func() {
			if g.maxScratch == nil {
				g.maxScratch = append([]float64(nil), vals...)
				return
			}
			if len(vals) != len(g.maxScratch) {
				panic(fmt.Sprintf("AllReduceMax length mismatch: rank %d passed %d, expected %d",
					c.rank, len(vals), len(g.maxScratch)))
			}
			for i, v := range vals {
				if v > g.maxScratch[i] {
					g.maxScratch[i] = v
				}
			}
		},
		func() {
			g.resultMax = g.maxScratch
			g.maxScratch = nil
		},
		func() {
			out = append([]float64(nil), g.resultMax...)
		})
	return out
}

func (c *groupRank) AllGatherFloat64(local []float64) [][]float64 {
	g := c.g
	var out [][]float64
	g.rendezvous(
		func() {
			g.gatherF[c.rank] = append([]float64(nil), local...)
		},
		func() {
			g.resultGathF = g.gatherF
			g.gatherF = make([][]float64, g.n)
		},
		func() {
			out = make([][]float64, g.n)
			for r := range g.resultGathF {
				out[r] = append([]float64(nil), g.resultGathF[r]...)
			}
		})
	return out
}

func (c *groupRank) AllGatherInt(local []int) [][]int {
	g := c.g
	var out [][]int
	g.rendezvous(
		func() {
			g.gatherI[c.rank] = append([]int(nil), local...)
		},
		func() {
			g.resultGathI = g.gatherI
			g.gatherI = make([][]int, g.n)
		},
		func() {
			out = make([][]int, g.n)
			for r := range g.resultGathI {
				out[r] = append([]int(nil), g.resultGathI[r]...)
			}
		})
	return out
}
