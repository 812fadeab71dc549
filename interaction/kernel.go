// Package interaction implements the two coupling operations between the
// Eulerian grid and the Lagrangian structure: Interpolate gathers grid
// values onto interaction points through a regularized delta kernel, and
// Spread scatters point forces back as cell densities through the exact
// discrete adjoint. Adjointness is what makes the coupling conserve total
// force and energy transfer between the two descriptions.
package interaction

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// maxSupport bounds the per-dimension stencil width of any kernel.
const maxSupport = 4

// Kernel is a regularized one-dimensional delta function with finite
// support, applied as a tensor product in three dimensions. Phi takes the
// distance to a cell center in units of the cell size; the weights over any
// stencil window sum to one (discrete partition of unity), which is what
// makes interpolation reproduce constants exactly.
type Kernel struct {
	Name    string
	Support int // stencil cells per dimension
	phi     func(r float64) float64
}

// Phi evaluates the 1D kernel.
func (k Kernel) Phi(r float64) float64 { return k.phi(r) }

// GhostWidth returns the ghost-cell width a field must carry so that the
// stencil of a point anywhere inside a patch stays within the ghost box.
func (k Kernel) GhostWidth() int { return (k.Support + 1) / 2 }

// stencil computes the 1D stencil at cell-center coordinate s (s = x/dx -
// 0.5 relative to the grid origin): the first cell index and the kernel
// weight per cell. w must have length Support.
func (k Kernel) stencil(s float64, w []float64) int {
	var base int
	if k.Support%2 == 1 {
		base = int(math.Round(s)) - (k.Support-1)/2
	} else {
		base = int(math.Floor(s)) - k.Support/2 + 1
	}
	for o := 0; o < k.Support; o++ {
		w[o] = k.phi(s - float64(base+o))
	}
	return base
}

var kernels = map[string]Kernel{
	"PIECEWISE_LINEAR": {
		Name:    "PIECEWISE_LINEAR",
		Support: 2,
		phi: func(r float64) float64 {
			r = math.Abs(r)
			if r >= 1 {
				return 0
			}
			return 1 - r
		},
	},
	"COSINE": {
		Name:    "COSINE",
		Support: 4,
		phi: func(r float64) float64 {
			if math.Abs(r) >= 2 {
				return 0
			}
			return 0.25 * (1 + math.Cos(math.Pi*r/2))
		},
	},
	"IB_3": {
		Name:    "IB_3",
		Support: 3,
		phi: func(r float64) float64 {
			r = math.Abs(r)
			switch {
			case r <= 0.5:
				return (1 + math.Sqrt(1-3*r*r)) / 3
			case r <= 1.5:
				return (5 - 3*r - math.Sqrt(1-3*(1-r)*(1-r))) / 6
			default:
				return 0
			}
		},
	},
	"IB_4": {
		Name:    "IB_4",
		Support: 4,
		phi: func(r float64) float64 {
			r = math.Abs(r)
			switch {
			case r <= 1:
				return (3 - 2*r + math.Sqrt(1+4*r-4*r*r)) / 8
			case r <= 2:
				return (5 - 2*r - math.Sqrt(-7+12*r-4*r*r)) / 8
			default:
				return 0
			}
		},
	},
	"BSPLINE_3": {
		Name:    "BSPLINE_3",
		Support: 4,
		phi: func(r float64) float64 {
			r = math.Abs(r)
			switch {
			case r <= 1:
				return 2.0/3.0 - r*r + r*r*r/2
			case r <= 2:
				c := 2 - r
				return c * c * c / 6
			default:
				return 0
			}
		},
	},
}

// KernelFromName resolves a kernel by its configuration name.
func KernelFromName(name string) (Kernel, error) {
	k, ok := kernels[strings.ToUpper(name)]
	if !ok {
		return Kernel{}, fmt.Errorf("unknown kernel %q (supported: %s)",
			name, strings.Join(KernelNames(), ", "))
	}
	return k, nil
}

// KernelNames lists the supported kernel names in sorted order.
func KernelNames() []string {
	names := make([]string, 0, len(kernels))
	for n := range kernels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
