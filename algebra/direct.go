package algebra

import (
	"errors"
	"math"

	"github.com/notargets/gohpfem/types"
	"gonum.org/v1/gonum/mat"
)

// Direct is dense Gaussian elimination with partial pivoting, for real and
// complex systems of moderate size.
type Direct[S types.Scalar] struct{}

func (*Direct[S]) Solve(A *Matrix[S], b Vector[S]) (x Vector[S], err error) {
	const op = "Direct.Solve"
	if err = checkSystem(op, A, b); err != nil {
		return
	}
	var (
		n    = A.Size()
		a    = A.Dense()
		norm = make([]float64, n) // largest entry of each original row
	)
	x = b.Copy()
	for i := 0; i < n; i++ {
		for _, v := range a[i*n : (i+1)*n] {
			norm[i] = math.Max(norm[i], types.Abs(v))
		}
	}
	for k := 0; k < n; k++ {
		p, pmax := k, types.Abs(a[k*n+k])
		for i := k + 1; i < n; i++ {
			if v := types.Abs(a[i*n+k]); v > pmax {
				p, pmax = i, v
			}
		}
		if pmax == 0 || pmax <= norm[p]*float64(n)*1e-14 {
			return nil, solveError(op, k, pmax, ErrSingular)
		}
		if p != k {
			for j := 0; j < n; j++ {
				a[k*n+j], a[p*n+j] = a[p*n+j], a[k*n+j]
			}
			x[k], x[p] = x[p], x[k]
			norm[k], norm[p] = norm[p], norm[k]
		}
		for i := k + 1; i < n; i++ {
			f := a[i*n+k] / a[k*n+k]
			if f == 0 {
				continue
			}
			for j := k; j < n; j++ {
				a[i*n+j] -= f * a[k*n+j]
			}
			x[i] -= f * x[k]
		}
	}
	for i := n - 1; i >= 0; i-- {
		for j := i + 1; j < n; j++ {
			x[i] -= a[i*n+j] * x[j]
		}
		x[i] /= a[i*n+i]
	}
	return
}

// GonumLU factors the expanded real matrix with gonum's LU.
type GonumLU struct{}

func (*GonumLU) Solve(A *Matrix[float64], b Vector[float64]) (x Vector[float64], err error) {
	const op = "GonumLU.Solve"
	if err = checkSystem(op, A, b); err != nil {
		return
	}
	var (
		n  = A.Size()
		lu mat.LU
	)
	if n == 0 {
		return Vector[float64]{}, nil
	}
	lu.Factorize(mat.NewDense(n, n, A.Dense()))
	x = NewVector[float64](n)
	xv := mat.NewVecDense(n, x)
	if err = lu.SolveVecTo(xv, false, mat.NewVecDense(n, b.Copy())); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, solveError(op, 0, float64(cond), ErrSingular)
		}
		return nil, solveError(op, 0, 0, err)
	}
	return
}
