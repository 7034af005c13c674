// Package space assigns polynomial orders and global DOF numbers to the
// active elements of a mesh.
package space

import (
	"fmt"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/shapeset"
)

const MaxOrder = 10

// L2Space is a discontinuous space with the tensor Legendre basis on each
// active element. DOFs are numbered contiguously in active element ID order.
type L2Space struct {
	mesh   *mesh.Mesh
	orders map[int]shapeset.Order
	first  map[int]int // first DOF of each active element
	ndof   int
	seq    uint64
	meshSq uint64
}

func NewL2Space(m *mesh.Mesh, o shapeset.Order) (s *L2Space) {
	s = &L2Space{
		mesh:   m,
		orders: make(map[int]shapeset.Order),
	}
	s.SetUniformOrder(o)
	return
}

// NewL2SpaceFunc sets the order of every active element from a callback.
func NewL2SpaceFunc(m *mesh.Mesh, order func(e *mesh.Element) shapeset.Order) (s *L2Space) {
	s = &L2Space{
		mesh:   m,
		orders: make(map[int]shapeset.Order),
	}
	for _, e := range m.Active() {
		s.orders[e.ID] = clamp(order(e))
	}
	s.assign()
	return
}

func (s *L2Space) Mesh() *mesh.Mesh { return s.mesh }

// Seq identifies the current numbering; any change to the mesh or to an
// order produces a new value.
func (s *L2Space) Seq() uint64 {
	s.sync()
	return s.seq
}

func (s *L2Space) NDOF() int {
	s.sync()
	return s.ndof
}

func (s *L2Space) Order(id int) shapeset.Order {
	s.sync()
	o, ok := s.orders[id]
	if !ok {
		panic(fmt.Errorf("element %d is not active", id))
	}
	return o
}

func (s *L2Space) SetOrder(id int, o shapeset.Order) {
	s.sync()
	if e := s.mesh.Element(id); e == nil || !e.Active() {
		panic(fmt.Errorf("element %d is not active", id))
	}
	s.orders[id] = clamp(o)
	s.assign()
}

func (s *L2Space) SetUniformOrder(o shapeset.Order) {
	s.orders = make(map[int]shapeset.Order)
	for _, e := range s.mesh.Active() {
		s.orders[e.ID] = clamp(o)
	}
	s.assign()
}

// ElementDOFs returns the global DOF numbers of an active element, in
// shapeset index order.
func (s *L2Space) ElementDOFs(id int) (dofs []int) {
	var (
		o     = s.Order(id)
		first = s.first[id]
	)
	dofs = make([]int, shapeset.Count(o))
	for k := range dofs {
		dofs[k] = first + k
	}
	return
}

// Validate checks a coefficient vector length against the numbering.
func (s *L2Space) Validate(n int) error {
	if ndof := s.NDOF(); n != ndof {
		return fmt.Errorf("coefficient vector has length %d, space has %d DOFs", n, ndof)
	}
	return nil
}

// sync renumbers after the mesh was refined underneath the space. Sons
// inherit the order of their nearest numbered ancestor.
func (s *L2Space) sync() {
	if s.mesh.Seq() == s.meshSq {
		return
	}
	for _, e := range s.mesh.Active() {
		if _, ok := s.orders[e.ID]; ok {
			continue
		}
		o := shapeset.Iso(0)
		for p := e.Parent; p != nil; p = p.Parent {
			if po, ok := s.orders[p.ID]; ok {
				o = po
				break
			}
		}
		s.orders[e.ID] = o
	}
	for id := range s.orders {
		if e := s.mesh.Element(id); e == nil || !e.Active() {
			delete(s.orders, id)
		}
	}
	s.assign()
}

func (s *L2Space) assign() {
	s.first = make(map[int]int, len(s.orders))
	s.ndof = 0
	for _, e := range s.mesh.Active() {
		s.first[e.ID] = s.ndof
		s.ndof += shapeset.Count(s.orders[e.ID])
	}
	s.meshSq = s.mesh.Seq()
	s.seq = mesh.NextSeq()
}

func (s *L2Space) String() string {
	return fmt.Sprintf("L2Space(%d elements, %d DOFs)", s.mesh.NumActive(), s.NDOF())
}

func clamp(o shapeset.Order) shapeset.Order {
	for _, p := range []*int{&o.H, &o.V} {
		if *p < 0 {
			*p = 0
		}
		if *p > MaxOrder {
			*p = MaxOrder
		}
	}
	return o
}

// ReferenceOptions control how a reference space is derived from a coarse
// space.
type ReferenceOptions struct {
	Split         mesh.Split // SplitIso or SplitNone
	OrderIncrease int
}

func DefaultReferenceOptions() ReferenceOptions {
	return ReferenceOptions{Split: mesh.SplitIso, OrderIncrease: 1}
}

// ReferenceSpace copies the coarse mesh, refines every active element and
// raises every order.
func ReferenceSpace(coarse *L2Space, opt ReferenceOptions) (ref *L2Space) {
	var (
		m = coarse.Mesh().Copy()
	)
	if opt.Split != mesh.SplitNone {
		m.RefineAll(opt.Split)
	}
	ref = NewL2SpaceFunc(m, func(e *mesh.Element) shapeset.Order {
		src := coarse.mesh.Locate(e.Root, e.Box)
		return coarse.Order(src.ID).Add(opt.OrderIncrease)
	})
	return
}
