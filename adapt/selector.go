package adapt

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Selection is the refinement chosen for one coarse element.
type Selection struct {
	ID int
	Candidate
}

// Selector picks refinements for the flagged elements of a coarse space.
// Elements without an admissible candidate are left out of the result.
type Selector[S types.Scalar] interface {
	Select(sp *space.L2Space, est *Estimate[S], ids []int) ([]Selection, error)
}

// ProjBasedSelector projects the reference solution onto every candidate of
// an element and keeps the one with the best error decrease per added
// degree of freedom.
type ProjBasedSelector[S types.Scalar] struct {
	Norm     Norm
	CandList CandList
	ConvExp  float64 // exponent of the DOF increase in the score
	MaxOrder int
	Logger   *zap.Logger
}

func NewProjBasedSelector[S types.Scalar](norm Norm, cl CandList) *ProjBasedSelector[S] {
	return &ProjBasedSelector[S]{Norm: norm, CandList: cl, ConvExp: 1, MaxOrder: space.MaxOrder}
}

// minError stands in for a vanishing candidate error in the score.
const minError = 1e-300

// sample is the reference solution at one quadrature point, with the
// point's position in the base element's reference square.
type sample[S types.Scalar] struct {
	w, u, v     float64
	gradU       [2]float64 // physical gradient of u
	gradV       [2]float64
	val, dx, dy S
}

func (sel *ProjBasedSelector[S]) Select(sp *space.L2Space, est *Estimate[S], ids []int) (out []Selection, err error) {
	var (
		log = sel.Logger
		ur  = est.RefSolution.Copy()
	)
	if log == nil {
		log = zap.NewNop()
	}
	defer ur.Close()
	for _, id := range ids {
		var (
			e     = sp.Mesh().Element(id)
			o     = sp.Order(id)
			cands = sel.CandList.Candidates(o, sel.MaxOrder)
			best  Candidate
			score = math.Inf(-1)
		)
		if len(cands) == 0 {
			log.Debug("no admissible candidate", zap.Int("element", id), zap.Stringer("order", o))
			continue
		}
		maxOrder := o.Max()
		for _, c := range cands {
			maxOrder = max(maxOrder, c.Order.Max())
		}
		pts := sel.samples(e, ur, maxOrder)
		e0, err := sel.projectionError(e, Candidate{Order: o}, pts)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", id, err)
		}
		if e0 == 0 {
			continue
		}
		dof0 := shapeset.Count(o)
		for _, c := range cands {
			ec, err := sel.projectionError(e, c, pts)
			if err != nil {
				return nil, fmt.Errorf("element %d, candidate %s: %w", id, c, err)
			}
			if ec >= e0 {
				continue
			}
			s := (math.Log(e0) - math.Log(math.Max(ec, minError))) / math.Pow(float64(c.DOF()-dof0), sel.ConvExp)
			if s > score || (s == score && c.DOF() < best.DOF()) {
				best, score = c, s
			}
		}
		if math.IsInf(score, -1) {
			log.Debug("no candidate reduces the error", zap.Int("element", id))
			continue
		}
		out = append(out, Selection{ID: id, Candidate: best})
	}
	return
}

// samples evaluates the reference solution over e, cutting every
// reference element piece so that it lies inside one half of e in each
// direction.
func (sel *ProjBasedSelector[S]) samples(e *mesh.Element, ur *meshfn.Solution[S], candOrder int) (pts []sample[S]) {
	for _, c := range meshfn.Traverse(e, []*mesh.Mesh{ur.Mesh()}) {
		re := c.Elements[0]
		if ur.ActiveElement() != re {
			ur.SetActiveElement(re)
		}
		order := ur.ElementOrder(re) + candOrder + 1
		for _, sub := range halves(e.Box, c.Box) {
			path := append(append([]int(nil), c.Paths[0]...), sub...)
			ur.PushPath(path)
			var (
				g = ur.Geometry(order)
				v = ur.Values(order, 0)
				b = re.Box
			)
			for q := 0; q < g.N; q++ {
				var (
					gx, gy = g.Grad(q, 1, 0)
					hx, hy = g.Grad(q, 0, 1)
				)
				pts = append(pts, sample[S]{
					w:     g.W[q],
					u:     b.X0 + 0.5*(g.Xi[q]+1)*b.Width(),
					v:     b.Y0 + 0.5*(g.Eta[q]+1)*b.Height(),
					gradU: [2]float64{0.5 * b.Width() * gx, 0.5 * b.Width() * gy},
					gradV: [2]float64{0.5 * b.Height() * hx, 0.5 * b.Height() * hy},
					val:   v.Val[q],
					dx:    v.Dx[q],
					dy:    v.Dy[q],
				})
			}
			ur.PopPath(len(path))
		}
	}
	return
}

func halves(eb, cb mesh.Box) [][]int {
	var (
		splitX = cb.Width() > 0.5*eb.Width()
		splitY = cb.Height() > 0.5*eb.Height()
	)
	switch {
	case splitX && splitY:
		return [][]int{{0}, {1}, {2}, {3}}
	case splitX:
		return [][]int{{6}, {7}}
	case splitY:
		return [][]int{{4}, {5}}
	}
	return [][]int{nil}
}

// projectionError is the norm of the difference between the samples and
// their local projection onto the candidate.
func (sel *ProjBasedSelector[S]) projectionError(e *mesh.Element, c Candidate, pts []sample[S]) (float64, error) {
	boxes := []mesh.Box{e.Box}
	if sons := c.Sons(); len(sons) > 0 {
		boxes = boxes[:0]
		for _, s := range sons {
			boxes = append(boxes, e.Box.Son(s))
		}
	}
	var err2 float64
	for _, b := range boxes {
		var in []sample[S]
		for _, p := range pts {
			if b.X0 <= p.u && p.u <= b.X1 && b.Y0 <= p.v && p.v <= b.Y1 {
				in = append(in, p)
			}
		}
		e2, err := sel.project(b, c.Order, in)
		if err != nil {
			return 0, err
		}
		err2 += e2
	}
	return math.Sqrt(err2), nil
}

// project fits a polynomial of order o on box b to the samples in the
// selector's norm and returns the squared error of the fit.
func (sel *ProjBasedSelector[S]) project(b mesh.Box, o shapeset.Order, pts []sample[S]) (err2 float64, err error) {
	var (
		n      = len(pts)
		nb     = shapeset.Count(o)
		xi     = make([]float64, n)
		eta    = make([]float64, n)
		sx, sy = 2 / b.Width(), 2 / b.Height()
	)
	if n == 0 {
		return
	}
	for q, p := range pts {
		xi[q] = sx*(p.u-b.X0) - 1
		eta[q] = sy*(p.v-b.Y0) - 1
	}
	var (
		T      = shapeset.Eval(o, xi, eta)
		dx     = make([][]float64, nb)
		dy     = make([][]float64, nb)
		M      = mat.NewDense(nb, nb, nil)
		rhs    = mat.NewDense(nb, 2, nil)
		coeffs mat.Dense
	)
	for k := 0; k < nb; k++ {
		dx[k], dy[k] = make([]float64, n), make([]float64, n)
		for q, p := range pts {
			a, c := sx*T.Dxi[k][q], sy*T.Deta[k][q]
			dx[k][q] = a*p.gradU[0] + c*p.gradV[0]
			dy[k][q] = a*p.gradU[1] + c*p.gradV[1]
		}
	}
	inner := func(v, gx, gy float64, p sample[S]) (re, im float64) {
		s := types.Scale(p.val, v)
		if sel.Norm == H1Norm {
			s += types.Scale(p.dx, gx) + types.Scale(p.dy, gy)
		}
		return parts(s)
	}
	for i := 0; i < nb; i++ {
		for j := 0; j <= i; j++ {
			var m float64
			for q, p := range pts {
				s := T.Val[i][q] * T.Val[j][q]
				if sel.Norm == H1Norm {
					s += dx[i][q]*dx[j][q] + dy[i][q]*dy[j][q]
				}
				m += p.w * s
			}
			M.Set(i, j, m)
			M.Set(j, i, m)
		}
		var re, im float64
		for q, p := range pts {
			r, c := inner(T.Val[i][q], dx[i][q], dy[i][q], p)
			re += p.w * r
			im += p.w * c
		}
		rhs.Set(i, 0, re)
		rhs.Set(i, 1, im)
	}
	if err = coeffs.Solve(M, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, err
		}
	}
	for q, p := range pts {
		var v, gx, gy S
		for k := 0; k < nb; k++ {
			ck := join[S](coeffs.At(k, 0), coeffs.At(k, 1))
			v += types.Scale(ck, T.Val[k][q])
			gx += types.Scale(ck, dx[k][q])
			gy += types.Scale(ck, dy[k][q])
		}
		err2 += p.w * density(sel.Norm, p.val-v, p.dx-gx, p.dy-gy)
	}
	return err2, nil
}

func parts[S types.Scalar](s S) (re, im float64) {
	switch v := any(s).(type) {
	case float64:
		return v, 0
	case complex128:
		return real(v), imag(v)
	}
	return
}

func join[S types.Scalar](re, im float64) (s S) {
	switch p := any(&s).(type) {
	case *float64:
		*p = re
	case *complex128:
		*p = complex(re, im)
	}
	return
}
