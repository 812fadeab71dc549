package element

import "math"

// Tet is one tetrahedral element in physical space.
type Tet struct {
	V [4][3]float64
}

// Jacobian returns |det J| of the map from the reference tet; the physical
// volume is Jacobian()/6.
func (t Tet) Jacobian() float64 {
	var e [3][3]float64
	for i := 0; i < 3; i++ {
		for d := 0; d < 3; d++ {
			e[i][d] = t.V[i+1][d] - t.V[0][d]
		}
	}
	det := e[0][0]*(e[1][1]*e[2][2]-e[1][2]*e[2][1]) -
		e[0][1]*(e[1][0]*e[2][2]-e[1][2]*e[2][0]) +
		e[0][2]*(e[1][0]*e[2][1]-e[1][1]*e[2][0])
	return math.Abs(det)
}

// Volume returns the physical volume.
func (t Tet) Volume() float64 { return t.Jacobian() / 6.0 }

// Point maps a barycentric point to physical space.
func (t Tet) Point(b [4]float64) [3]float64 {
	var x [3]float64
	for i := 0; i < 4; i++ {
		for d := 0; d < 3; d++ {
			x[d] += b[i] * t.V[i][d]
		}
	}
	return x
}

// Diameter returns the longest edge length, the h used for adaptive
// quadrature selection.
func (t Tet) Diameter() float64 {
	h := 0.0
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			s := 0.0
			for d := 0; d < 3; d++ {
				e := t.V[i][d] - t.V[j][d]
				s += e * e
			}
			if s > h {
				h = s
			}
		}
	}
	return math.Sqrt(h)
}

// Tri is one triangular surface element in physical space.
type Tri struct {
	V [3][3]float64
}

// Normal returns the unit normal and twice the triangle area (the surface
// Jacobian): integral over the triangle is sum_q w_q * Jacobian * f.
func (t Tri) Normal() (n [3]float64, jac float64) {
	var e1, e2 [3]float64
	for d := 0; d < 3; d++ {
		e1[d] = t.V[1][d] - t.V[0][d]
		e2[d] = t.V[2][d] - t.V[0][d]
	}
	n[0] = e1[1]*e2[2] - e1[2]*e2[1]
	n[1] = e1[2]*e2[0] - e1[0]*e2[2]
	n[2] = e1[0]*e2[1] - e1[1]*e2[0]
	jac = math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if jac > 0 {
		for d := 0; d < 3; d++ {
			n[d] /= jac
		}
	}
	return n, jac
}

// Area returns the physical area.
func (t Tri) Area() float64 {
	_, jac := t.Normal()
	return jac / 2.0
}

// Point maps a barycentric point to physical space.
func (t Tri) Point(b [3]float64) [3]float64 {
	var x [3]float64
	for i := 0; i < 3; i++ {
		for d := 0; d < 3; d++ {
			x[d] += b[i] * t.V[i][d]
		}
	}
	return x
}

// Diameter returns the longest edge length.
func (t Tri) Diameter() float64 {
	h := 0.0
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			s := 0.0
			for d := 0; d < 3; d++ {
				e := t.V[i][d] - t.V[j][d]
				s += e * e
			}
			if s > h {
				h = s
			}
		}
	}
	return math.Sqrt(h)
}
