package hierarchy

import (
	"fmt"
	"sort"
)

// LoadBalancer assigns an owning rank to each box. weights[i] is the
// estimated computational cost of boxes[i]; the default balancer in the
// partitions package packs by weight, and raw cell count is recovered by
// passing each box's NumCells as its weight.
type LoadBalancer interface {
	AssignOwners(boxes []Box, weights []float64, numRanks int) []int
}

// GriddingAlgorithm turns tagged cells into a finest-level box layout. The
// clustering is recursive bisection: take the bounding box of the tags,
// accept it once the tagged fraction reaches EfficiencyTol or the box cannot
// be split, otherwise cut along the longest axis and recurse.
type GriddingAlgorithm struct {
	MinBoxWidth   int     // smallest admissible box width per axis
	EfficiencyTol float64 // accept a box when taggedCells/volume >= tol
	TagBuffer     int     // growth of accepted boxes, in cells

	Balancer LoadBalancer
}

func NewGriddingAlgorithm(balancer LoadBalancer) *GriddingAlgorithm {
	return &GriddingAlgorithm{
		MinBoxWidth:   4,
		EfficiencyTol: 0.70,
		TagBuffer:     1,
		Balancer:      balancer,
	}
}

// GenerateBoxes clusters tagged finest-level cells into boxes clipped to the
// level index space.
func (ga *GriddingAlgorithm) GenerateBoxes(tags [][3]int, levelIndexSpace Box) []Box {
	if len(tags) == 0 {
		return nil
	}
	// Deterministic output requires deterministic input order.
	tags = append([][3]int(nil), tags...)
	sort.Slice(tags, func(a, b int) bool {
		for d := 0; d < 3; d++ {
			if tags[a][d] != tags[b][d] {
				return tags[a][d] < tags[b][d]
			}
		}
		return false
	})
	var out []Box
	ga.cluster(tags, &out)
	for i := range out {
		grown := out[i].Grow(ga.TagBuffer)
		if clipped, ok := grown.Intersect(levelIndexSpace); ok {
			out[i] = clipped
		}
	}
	return mergeContained(out)
}

func (ga *GriddingAlgorithm) cluster(tags [][3]int, out *[]Box) {
	bb := boundingBox(tags)
	eff := float64(len(tags)) / float64(bb.NumCells())
	if eff >= ga.EfficiencyTol || !ga.splittable(bb) {
		*out = append(*out, bb)
		return
	}
	axis := bb.LongestAxis()
	cut := (bb.Lo[axis] + bb.Hi[axis]) / 2
	var lo, hi [][3]int
	for _, t := range tags {
		if t[axis] < cut {
			lo = append(lo, t)
		} else {
			hi = append(hi, t)
		}
	}
	// A degenerate cut (all tags on one side) still shrinks the bounding box
	// on recursion, so the recursion terminates.
	if len(lo) == 0 || len(hi) == 0 {
		*out = append(*out, boundingBox(tags))
		return
	}
	ga.cluster(lo, out)
	ga.cluster(hi, out)
}

func (ga *GriddingAlgorithm) splittable(b Box) bool {
	return b.Width(b.LongestAxis()) >= 2*ga.MinBoxWidth
}

func boundingBox(tags [][3]int) Box {
	b := Box{Lo: tags[0], Hi: tags[0]}
	for d := 0; d < 3; d++ {
		b.Hi[d]++
	}
	for _, t := range tags[1:] {
		for d := 0; d < 3; d++ {
			if t[d] < b.Lo[d] {
				b.Lo[d] = t[d]
			}
			if t[d]+1 > b.Hi[d] {
				b.Hi[d] = t[d] + 1
			}
		}
	}
	return b
}

// mergeContained drops boxes fully contained in another box (possible after
// the tag-buffer growth).
func mergeContained(boxes []Box) []Box {
	var out []Box
	for i, b := range boxes {
		contained := false
		for j, o := range boxes {
			if i == j {
				continue
			}
			if ov, ok := b.Intersect(o); ok && ov == b && b != o {
				contained = true
				break
			}
			if b == o && j < i {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, b)
		}
	}
	return out
}

// RegridFinestLevel regenerates the finest level from tagged cells, weighs
// the new boxes with boxWeight, and rebalances ownership across numRanks.
// Data on the old finest level is discarded; the caller brackets this with
// the regrid coordinator's data redistribution.
func (ga *GriddingAlgorithm) RegridFinestLevel(h *Hierarchy, tags [][3]int,
	boxWeight func(Box) float64, numRanks int) error {
	if ga.Balancer == nil {
		return fmt.Errorf("gridding algorithm has no load balancer")
	}
	ln := h.FinestLevelNumber()
	indexSpace := h.Domain
	for l := 1; l <= ln; l++ {
		indexSpace = indexSpace.Refine(h.Levels[l].Ratio)
	}
	boxes := ga.GenerateBoxes(tags, indexSpace)
	if len(boxes) == 0 {
		return fmt.Errorf("regrid produced no boxes (no tagged cells)")
	}
	weights := make([]float64, len(boxes))
	for i, b := range boxes {
		if boxWeight != nil {
			weights[i] = boxWeight(b)
		} else {
			weights[i] = float64(b.NumCells())
		}
	}
	owners := ga.Balancer.AssignOwners(boxes, weights, numRanks)
	return h.ReplaceFinestLevel(boxes, owners)
}
