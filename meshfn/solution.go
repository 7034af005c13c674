package meshfn

import (
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
)

// Solution is the field of a coefficient vector over a space. It is bound to
// the numbering the space had when the solution was built.
type Solution[S types.Scalar] struct {
	base[S]
	space  *space.L2Space
	coeffs []S
	seq    uint64
}

func NewSolution[S types.Scalar](sp *space.L2Space, coeffs []S) (s *Solution[S]) {
	if err := sp.Validate(len(coeffs)); err != nil {
		panic(types.Precondition("NewSolution", "%v", err))
	}
	s = &Solution[S]{
		space:  sp,
		coeffs: append([]S(nil), coeffs...),
		seq:    sp.Seq(),
	}
	s.init(sp.Mesh(), s.calculate)
	return
}

// NewZeroSolution is the zero field of a space.
func NewZeroSolution[S types.Scalar](sp *space.L2Space) *Solution[S] {
	return NewSolution(sp, make([]S, sp.NDOF()))
}

func (s *Solution[S]) Space() *space.L2Space { return s.space }

// Coeffs returns a copy of the coefficient vector.
func (s *Solution[S]) Coeffs() []S { return append([]S(nil), s.coeffs...) }

// Copy returns an independent solution with the same coefficients.
func (s *Solution[S]) Copy() *Solution[S] { return NewSolution(s.space, s.coeffs) }

func (s *Solution[S]) Clone() Function[S] { return s.Copy() }

func (s *Solution[S]) ElementOrder(e *mesh.Element) int { return s.space.Order(e.ID).Max() }

func (s *Solution[S]) checkSeq(op string) {
	if seq := s.space.Seq(); seq != s.seq {
		panic(types.Precondition(op, "space was renumbered after the solution was built"))
	}
}

func (s *Solution[S]) SetActiveElement(e *mesh.Element) {
	s.checkSeq("SetActiveElement")
	s.base.SetActiveElement(e)
}

func (s *Solution[S]) calculate(e *mesh.Element, g *Geometry, _ int) (v *Values[S]) {
	var (
		o    = s.space.Order(e.ID)
		dofs = s.space.ElementDOFs(e.ID)
		T    = shapeset.Eval(o, g.Xi, g.Eta)
	)
	v = newValues[S](g.N)
	for k, dof := range dofs {
		c := s.coeffs[dof]
		for q := 0; q < g.N; q++ {
			dx, dy := g.Grad(q, T.Dxi[k][q], T.Deta[k][q])
			v.Val[q] += types.Scale(c, T.Val[k][q])
			v.Dx[q] += types.Scale(c, dx)
			v.Dy[q] += types.Scale(c, dy)
		}
	}
	return
}

// ValueAt evaluates the solution at a physical point without touching the
// active element or the cache.
func (s *Solution[S]) ValueAt(x, y float64) (v S, ok bool) {
	s.checkSeq("ValueAt")
	e, xi, eta, found := s.mesh.FindPoint(x, y)
	if !found {
		return
	}
	var (
		o    = s.space.Order(e.ID)
		dofs = s.space.ElementDOFs(e.ID)
		T    = shapeset.Eval(o, []float64{xi}, []float64{eta})
	)
	for k, dof := range dofs {
		v += types.Scale(s.coeffs[dof], T.Val[k][0])
	}
	return v, true
}

// ExactFunc returns a field value and its gradient at a physical point.
type ExactFunc[S types.Scalar] func(x, y float64) (v, dx, dy S)

// ExactSolution is an analytic field on a mesh.
type ExactSolution[S types.Scalar] struct {
	base[S]
	f ExactFunc[S]
}

func NewExactSolution[S types.Scalar](m *mesh.Mesh, f ExactFunc[S]) (es *ExactSolution[S]) {
	es = &ExactSolution[S]{f: f}
	es.init(m, es.calculate)
	return
}

func (es *ExactSolution[S]) calculate(_ *mesh.Element, g *Geometry, _ int) (v *Values[S]) {
	v = newValues[S](g.N)
	for q := 0; q < g.N; q++ {
		v.Val[q], v.Dx[q], v.Dy[q] = es.f(g.X[q], g.Y[q])
	}
	return
}

func (es *ExactSolution[S]) Clone() Function[S] { return NewExactSolution(es.mesh, es.f) }

func (es *ExactSolution[S]) ValueAt(x, y float64) S {
	v, _, _ := es.f(x, y)
	return v
}

// NewConstant is the constant field c.
func NewConstant[S types.Scalar](m *mesh.Mesh, c S) *ExactSolution[S] {
	return NewExactSolution[S](m, func(_, _ float64) (v, dx, dy S) { return c, 0, 0 })
}

// ShapeFunction evaluates the basis functions of a space on the active
// element; the index passed to Values selects the local function.
type ShapeFunction struct {
	base[float64]
	space *space.L2Space
}

func NewShapeFunction(sp *space.L2Space) (sf *ShapeFunction) {
	sf = &ShapeFunction{space: sp}
	sf.init(sp.Mesh(), sf.calculate)
	return
}

func (sf *ShapeFunction) Space() *space.L2Space { return sf.space }

func (sf *ShapeFunction) Clone() Function[float64] { return NewShapeFunction(sf.space) }

func (sf *ShapeFunction) ElementOrder(e *mesh.Element) int { return sf.space.Order(e.ID).Max() }

// NumFunctions is the number of basis functions on the active element.
func (sf *ShapeFunction) NumFunctions() int {
	sf.checkActive("NumFunctions")
	return shapeset.Count(sf.space.Order(sf.element.ID))
}

func (sf *ShapeFunction) calculate(e *mesh.Element, g *Geometry, index int) (v *Values[float64]) {
	var (
		val, dxi, deta = shapeset.EvalFunction(sf.space.Order(e.ID), index, g.Xi, g.Eta)
	)
	v = &Values[float64]{Val: val, Dx: make([]float64, g.N), Dy: make([]float64, g.N)}
	for q := 0; q < g.N; q++ {
		v.Dx[q], v.Dy[q] = g.Grad(q, dxi[q], deta[q])
	}
	return
}
