// Package shapeset provides the orthonormal tensor Legendre basis on the
// reference square [-1,1]², with independent degrees per direction.
package shapeset

import (
	"fmt"

	"github.com/notargets/gohpfem/quadrature"
	"github.com/notargets/gohpfem/utils"
)

// Order is an anisotropic element order: H in the xi direction, V in eta.
type Order struct {
	H, V int
}

func Iso(p int) Order { return Order{p, p} }

func (o Order) Max() int {
	if o.H > o.V {
		return o.H
	}
	return o.V
}

func (o Order) Add(inc int) Order { return Order{o.H + inc, o.V + inc} }

func (o Order) Valid() bool { return o.H >= 0 && o.V >= 0 }

func (o Order) String() string {
	if o.H == o.V {
		return fmt.Sprintf("%d", o.H)
	}
	return fmt.Sprintf("(%d,%d)", o.H, o.V)
}

// Count is the number of basis functions of an element of order o.
func Count(o Order) int { return (o.H + 1) * (o.V + 1) }

// Index maps the (xi degree, eta degree) pair to the local function index.
func Index(o Order, i, j int) int { return i*(o.V+1) + j }

// Degrees inverts Index.
func Degrees(o Order, k int) (i, j int) { return k / (o.V + 1), k % (o.V + 1) }

// Tables holds basis values and reference derivatives, indexed [function][point].
type Tables struct {
	Order          Order
	Val, Dxi, Deta [][]float64
}

// Eval evaluates every basis function of order o at the given points.
func Eval(o Order, xi, eta []float64) (T *Tables) {
	if len(xi) != len(eta) {
		panic(fmt.Errorf("point arrays differ in length: %d and %d", len(xi), len(eta)))
	}
	var (
		Np     = len(xi)
		Nb     = Count(o)
		Px, Dx = legendre1D(o.H, xi)
		Py, Dy = legendre1D(o.V, eta)
	)
	T = &Tables{
		Order: o,
		Val:   make([][]float64, Nb),
		Dxi:   make([][]float64, Nb),
		Deta:  make([][]float64, Nb),
	}
	for i := 0; i <= o.H; i++ {
		for j := 0; j <= o.V; j++ {
			k := Index(o, i, j)
			v, dx, dy := make([]float64, Np), make([]float64, Np), make([]float64, Np)
			for q := 0; q < Np; q++ {
				v[q] = Px[i][q] * Py[j][q]
				dx[q] = Dx[i][q] * Py[j][q]
				dy[q] = Px[i][q] * Dy[j][q]
			}
			T.Val[k], T.Dxi[k], T.Deta[k] = v, dx, dy
		}
	}
	return
}

func legendre1D(N int, x []float64) (P, D [][]float64) {
	var (
		r = utils.NewVector(len(x), x)
	)
	P = make([][]float64, N+1)
	D = make([][]float64, N+1)
	for n := 0; n <= N; n++ {
		P[n] = quadrature.JacobiP(r, 0, 0, n)
		D[n] = quadrature.GradJacobiP(r, 0, 0, n)
	}
	return
}

// EvalFunction evaluates the single basis function k of order o.
func EvalFunction(o Order, k int, xi, eta []float64) (val, dxi, deta []float64) {
	var (
		i, j = Degrees(o, k)
		rx   = utils.NewVector(len(xi), xi)
		ry   = utils.NewVector(len(eta), eta)
		px   = quadrature.JacobiP(rx, 0, 0, i)
		dx   = quadrature.GradJacobiP(rx, 0, 0, i)
		py   = quadrature.JacobiP(ry, 0, 0, j)
		dy   = quadrature.GradJacobiP(ry, 0, 0, j)
	)
	val, dxi, deta = make([]float64, len(xi)), make([]float64, len(xi)), make([]float64, len(xi))
	for q := range xi {
		val[q] = px[q] * py[q]
		dxi[q] = dx[q] * py[q]
		deta[q] = px[q] * dy[q]
	}
	return
}
