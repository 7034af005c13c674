// Package projection computes global orthogonal projections of fields onto
// a space.
package projection

import (
	"fmt"
	"strings"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
)

type Norm uint8

const (
	L2Norm Norm = iota
	H1Norm
)

func (n Norm) String() string {
	if n == H1Norm {
		return "H1"
	}
	return "L2"
}

func ParseNorm(s string) (Norm, error) {
	switch strings.ToUpper(s) {
	case "L2":
		return L2Norm, nil
	case "H1":
		return H1Norm, nil
	}
	return 0, fmt.Errorf("unknown norm %q", s)
}

// Inner is the pointwise integrand of the norm's inner product.
func (n Norm) Inner(u, v *meshfn.Values[float64], q int) float64 {
	s := u.Val[q] * v.Val[q]
	if n == H1Norm {
		s += u.Dx[q]*v.Dx[q] + u.Dy[q]*v.Dy[q]
	}
	return s
}

func order(p, pExt int) int {
	return p + max(p, pExt) + 2
}

// WeakForm is the projection of the first external function: Jacobian
// (u, v)_norm and residual (u_k - f, v)_norm.
func WeakForm[S types.Scalar](norm Norm) (wf *discrete.WeakForm[S]) {
	wf = discrete.NewWeakForm[S]()
	wf.AddMatrixForm(discrete.MatrixForm[S]{
		Name:  "projection_" + norm.String(),
		Order: order,
		Fn: func(fd *discrete.FormData[S]) S {
			return fd.Integrate(func(q int) S { return types.FromFloat[S](norm.Inner(fd.U, fd.V, q)) })
		},
	})
	wf.AddVectorForm(discrete.VectorForm[S]{
		Name:  "projection_" + norm.String(),
		Order: order,
		Fn: func(fd *discrete.FormData[S]) S {
			var (
				u, f = fd.Prev, fd.Ext[0]
				v    = fd.V
			)
			return fd.Integrate(func(q int) (s S) {
				s = types.Scale(u.Val[q]-f.Val[q], v.Val[q])
				if norm == H1Norm {
					s += types.Scale(u.Dx[q]-f.Dx[q], v.Dx[q]) + types.Scale(u.Dy[q]-f.Dy[q], v.Dy[q])
				}
				return
			})
		},
	})
	return
}

// Project returns the coefficients of the function in sp closest to src in
// the given norm. src may live on any mesh sharing sp's base mesh.
func Project[S types.Scalar](sp *space.L2Space, src meshfn.Function[S], norm Norm, ls algebra.LinearSolver[S]) (coeffs []S, err error) {
	var (
		n   = sp.NDOF()
		p   = discrete.New(WeakForm[S](norm), sp, discrete.Options{})
		jac = algebra.NewMatrix[S](n)
		res = algebra.NewVector[S](n)
	)
	if ls == nil {
		ls = &algebra.Direct[S]{}
	}
	p.SetExternal(src)
	if err = p.Assemble(make([]S, n), jac, res); err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	x, err := ls.Solve(jac, res.ChangeSign())
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	return x, nil
}
