package meshfn

import (
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/quadrature"
	"github.com/notargets/gohpfem/types"
)

// Function is a field that can be evaluated on the active element of its
// mesh or on any virtual sub-element of it. A Function is used by one
// goroutine at a time.
type Function[S types.Scalar] interface {
	Mesh() *mesh.Mesh
	SetActiveElement(e *mesh.Element)
	ActiveElement() *mesh.Element
	PushTransform(son int)
	PopTransform()
	PushPath(path []int)
	PopPath(n int)
	SubIdx() uint64
	Depth() int
	// Values returns the field (index 0) or basis function index at the
	// points of the rule of the given order on the current sub-element.
	Values(order, index int) *Values[S]
	Geometry(order int) *Geometry
	// SurfValues and SurfGeometry do the same along an edge of the current
	// sub-element.
	SurfValues(s Surf, order, index int) *Values[S]
	SurfGeometry(s Surf, order int) *Geometry
	// Clone returns an independent function over the same field, with its
	// own transform stack and cache.
	Clone() Function[S]
	Close()
}

// Ordered functions report the polynomial degree they have on an element,
// for choosing integration rules.
type Ordered interface {
	ElementOrder(e *mesh.Element) int
}

type calcFunc[S types.Scalar] func(e *mesh.Element, g *Geometry, index int) *Values[S]

type base[S types.Scalar] struct {
	Transformable
	mesh   *mesh.Mesh
	refmap *RefMap
	cache  *NodeCache[S]
	calc   calcFunc[S]
	closed bool
}

func (f *base[S]) init(m *mesh.Mesh, calc calcFunc[S]) {
	f.mesh = m
	f.calc = calc
	f.refmap = newRefMap(&f.Transformable, quadrature.Default())
	f.cache = NewNodeCache[S](nil)
}

func (f *base[S]) Mesh() *mesh.Mesh { return f.mesh }

// SetActiveElement retargets the function, dropping the transform stack,
// the reference map cache and every cached node.
func (f *base[S]) SetActiveElement(e *mesh.Element) {
	switch {
	case f.closed:
		panic(types.Precondition("SetActiveElement", "function is closed"))
	case e == nil:
		panic(types.Precondition("SetActiveElement", "nil element"))
	}
	f.reset(e)
	f.refmap.reset()
	f.cache.Reset()
}

// SetQuadrature installs a new rule table and drops everything computed with
// the old one.
func (f *base[S]) SetQuadrature(q *quadrature.Quad2D) {
	f.refmap = newRefMap(&f.Transformable, q)
	f.cache.Reset()
}

// SetAllocator chooses where overflow node records come from.
func (f *base[S]) SetAllocator(alloc NodeAllocator[S]) { f.cache.SetAllocator(alloc) }

func (f *base[S]) Cache() *NodeCache[S] { return f.cache }

func (f *base[S]) RefMap() *RefMap { return f.refmap }

func (f *base[S]) Geometry(order int) *Geometry {
	f.checkActive("Geometry")
	return f.refmap.Geometry(order)
}

func (f *base[S]) Values(order, index int) (v *Values[S]) {
	var (
		ok bool
	)
	f.checkActive("Values")
	if v, ok = f.cache.Get(f.subIdx, order, index); ok {
		return
	}
	v = f.calc(f.element, f.refmap.Geometry(order), index)
	f.cache.Put(f.subIdx, order, index, v)
	return
}

func (f *base[S]) SurfGeometry(s Surf, order int) *Geometry {
	f.checkActive("SurfGeometry")
	return f.refmap.SurfGeometry(s, order)
}

func (f *base[S]) SurfValues(s Surf, order, index int) (v *Values[S]) {
	var (
		ok bool
	)
	f.checkActive("SurfValues")
	if v, ok = f.cache.GetSurf(f.subIdx, s, order, index); ok {
		return
	}
	v = f.calc(f.element, f.refmap.SurfGeometry(s, order), index)
	f.cache.PutSurf(f.subIdx, s, order, index, v)
	return
}

// Close releases every cached record. The function cannot be used again.
func (f *base[S]) Close() {
	if f.closed {
		return
	}
	f.cache.Reset()
	f.refmap.reset()
	f.element = nil
	f.closed = true
}

func (f *base[S]) checkActive(op string) {
	switch {
	case f.closed:
		panic(types.Precondition(op, "function is closed"))
	case f.element == nil:
		panic(types.Precondition(op, "no active element"))
	}
}

// State is the observable evaluator state, used to check that transform
// pushes and pops are symmetric.
type State struct {
	Element int
	SubIdx  uint64
	Depth   int
	Trf     mesh.Trf
}

func (f *base[S]) State() State {
	s := State{Element: -1, SubIdx: f.subIdx, Depth: f.top, Trf: f.ctm}
	if f.element != nil {
		s.Element = f.element.ID
	}
	return s
}
