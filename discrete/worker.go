package discrete

import (
	"fmt"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/types"
)

// worker owns the mesh functions one goroutine evaluates. sfN and uN serve
// the neighbour side of inner edges.
type worker[S types.Scalar] struct {
	p      *Problem[S]
	wf     *WeakForm[S]
	off    []int
	sf     []*meshfn.ShapeFunction
	u      []*meshfn.Solution[S]
	sfN    []*meshfn.ShapeFunction
	uN     []*meshfn.Solution[S]
	ext    []meshfn.Function[S]
	meshes []*mesh.Mesh
	owned  bool
}

func (p *Problem[S]) newWorker(coeffs []S, cloneExt bool) (w *worker[S]) {
	w = &worker[S]{
		p:     p,
		wf:    p.wf,
		off:   p.Offsets(),
		ext:   p.ext,
		owned: cloneExt,
	}
	for c, sp := range p.spaces {
		part := coeffs[w.off[c]:w.off[c+1]]
		w.sf = append(w.sf, meshfn.NewShapeFunction(sp))
		w.u = append(w.u, meshfn.NewSolution(sp, part))
		if w.wf.hasDG() {
			w.sfN = append(w.sfN, meshfn.NewShapeFunction(sp))
			w.uN = append(w.uN, meshfn.NewSolution(sp, part))
		}
	}
	if cloneExt {
		w.ext = make([]meshfn.Function[S], len(p.ext))
		for i, f := range p.ext {
			w.ext[i] = f.Clone()
		}
	}
	for _, f := range w.ext {
		w.meshes = append(w.meshes, f.Mesh())
	}
	return
}

func (w *worker[S]) close() {
	for c := range w.sf {
		w.sf[c].Close()
		w.u[c].Close()
	}
	for c := range w.sfN {
		w.sfN[c].Close()
		w.uN[c].Close()
	}
	if w.owned {
		for _, f := range w.ext {
			f.Close()
		}
	}
}

// layout is the local numbering on one element: component c occupies
// [start[c], start[c]+n[c]).
type layout struct {
	start, n []int
	dofs     []int
}

func (w *worker[S]) layout(e *mesh.Element) (lay layout) {
	lay.start = make([]int, len(w.sf)+1)
	lay.n = make([]int, len(w.sf))
	for c, sp := range w.p.spaces {
		for _, d := range sp.ElementDOFs(e.ID) {
			lay.dofs = append(lay.dofs, d+w.off[c])
		}
		lay.n[c] = len(lay.dofs) - lay.start[c]
		lay.start[c+1] = len(lay.dofs)
	}
	return
}

func (lay layout) size() int { return len(lay.dofs) }

func (w *worker[S]) order(e *mesh.Element, comps ...int) (p int) {
	for _, c := range comps {
		p = max(p, w.p.spaces[c].Order(e.ID).Max())
	}
	return
}

// values evaluates f on the current sub-element, or along edge s of it.
func values[S types.Scalar](f meshfn.Function[S], s *meshfn.Surf, order, index int) *meshfn.Values[S] {
	if s == nil {
		return f.Values(order, index)
	}
	return f.SurfValues(*s, order, index)
}

func (w *worker[S]) newFormData(e *mesh.Element) *FormData[S] {
	return &FormData[S]{
		Element: e,
		UExt:    make([]*meshfn.Values[S], len(w.u)),
		Ext:     make([]*meshfn.Values[S], len(w.ext)),
	}
}

// points loads the quadrature data and the field values of the central
// element into fd.
func (w *worker[S]) points(fd *FormData[S], comp, order int, s *meshfn.Surf) {
	var g *meshfn.Geometry
	if s == nil {
		g = w.sf[0].Geometry(order)
	} else {
		g = w.sf[0].SurfGeometry(*s, order)
	}
	fd.N, fd.W, fd.X, fd.Y, fd.NX, fd.NY = g.N, g.W, g.X, g.Y, g.NX, g.NY
	for c, u := range w.u {
		fd.UExt[c] = values[S](u, s, order, 0)
	}
	fd.Prev = fd.UExt[comp]
	for i, f := range w.ext {
		fd.Ext[i] = values(f, s, order, 0)
	}
}

// push moves every central function onto cell c and returns the highest
// degree of the external functions there.
func (w *worker[S]) push(c meshfn.Cell) (pExt int) {
	pExt = -1
	for k := range w.sf {
		w.sf[k].PushPath(c.Path)
		w.u[k].PushPath(c.Path)
	}
	for i, f := range w.ext {
		if f.ActiveElement() != c.Elements[i] {
			f.SetActiveElement(c.Elements[i])
		}
		f.PushPath(c.Paths[i])
		if of, ok := f.(meshfn.Ordered); ok {
			pExt = max(pExt, of.ElementOrder(c.Elements[i]))
		}
	}
	return
}

func (w *worker[S]) pop(c meshfn.Cell) {
	for k := range w.sf {
		w.sf[k].PopPath(len(c.Path))
		w.u[k].PopPath(len(c.Path))
	}
	for i, f := range w.ext {
		f.PopPath(len(c.Paths[i]))
	}
}

// matrix adds matrix forms evaluated on the central element to mat.
func (w *worker[S]) matrix(forms []MatrixForm[S], marker int, e *mesh.Element, lay layout, mat []S, pExt int, fd *FormData[S], s *meshfn.Surf) {
	nb := lay.size()
	for _, form := range forms {
		if !hasMarker(form.Markers, marker) {
			continue
		}
		order := form.Order(w.order(e, form.I, form.J), pExt)
		w.points(fd, form.I, order, s)
		for i := 0; i < lay.n[form.I]; i++ {
			fd.V = values[float64](w.sf[form.I], s, order, i)
			row := (lay.start[form.I]+i)*nb + lay.start[form.J]
			for j := 0; j < lay.n[form.J]; j++ {
				fd.U = values[float64](w.sf[form.J], s, order, j)
				mat[row+j] += form.Fn(fd)
			}
		}
	}
}

func (w *worker[S]) vector(forms []VectorForm[S], marker int, e *mesh.Element, lay layout, vec []S, pExt int, fd *FormData[S], s *meshfn.Surf) {
	fd.U = nil
	for _, form := range forms {
		if !hasMarker(form.Markers, marker) {
			continue
		}
		order := form.Order(w.order(e, form.I), pExt)
		w.points(fd, form.I, order, s)
		for i := 0; i < lay.n[form.I]; i++ {
			fd.V = values[float64](w.sf[form.I], s, order, i)
			vec[lay.start[form.I]+i] += form.Fn(fd)
		}
	}
}

func (w *worker[S]) element(e *mesh.Element, wantJac, wantRes bool) (l local[S], err error) {
	var (
		wf    = w.wf
		lay   = w.layout(e)
		nb    = lay.size()
		cells = meshfn.Traverse(e, w.meshes)
	)
	l.dofs = lay.dofs
	if wantJac {
		l.mat = make([]S, nb*nb)
	}
	if wantRes {
		l.vec = make([]S, nb)
	}
	for c := range w.sf {
		w.sf[c].SetActiveElement(e)
		w.u[c].SetActiveElement(e)
	}
	for _, c := range cells {
		pExt := w.push(c)
		fd := w.newFormData(e)
		if wantJac {
			w.matrix(wf.Matrix, e.Marker, e, lay, l.mat, pExt, fd, nil)
		}
		if wantRes {
			w.vector(wf.Vector, e.Marker, e, lay, l.vec, pExt, fd, nil)
		}
		w.pop(c)
	}
	if wf.hasSurf() || wf.hasDG() {
		for k := 0; k < mesh.NumEdges; k++ {
			info := w.p.spaces[0].Mesh().Across(e, k)
			if info.Boundary {
				if wf.hasSurf() {
					w.boundary(e, k, info.Marker, cells, lay, &l, wantJac, wantRes)
				}
				continue
			}
			if !wf.hasDG() {
				continue
			}
			for _, n := range info.Neighbors {
				lenE, lenN := e.Box.EdgeLength(k), n.Element.Box.EdgeLength(n.Edge)
				if lenE > lenN || (lenE == lenN && e.ID > n.Element.ID) {
					continue
				}
				l.couplings = append(l.couplings, w.inner(e, k, n, cells, lay, wantJac, wantRes))
			}
		}
	}
	if err = l.check(); err != nil {
		return l, fmt.Errorf("element %d: %w", e.ID, err)
	}
	return
}

func (l local[S]) check() error {
	for _, v := range l.mat {
		if !types.IsFinite(v) {
			return fmt.Errorf("jacobian entry is not finite")
		}
	}
	for _, cp := range l.couplings {
		if err := cp.check(); err != nil {
			return err
		}
	}
	return nil
}

// boundary adds the surface forms of boundary edge k of e.
func (w *worker[S]) boundary(e *mesh.Element, k, marker int, cells []meshfn.Cell, lay layout, l *local[S], wantJac, wantRes bool) {
	s := &meshfn.Surf{Edge: k}
	for _, c := range cells {
		if !c.Box.Touches(e.Box, k) {
			continue
		}
		pExt := w.push(c)
		fd := w.newFormData(e)
		fd.Edge, fd.Marker = k, marker
		if wantJac {
			w.matrix(w.wf.MatrixSurf, marker, e, lay, l.mat, pExt, fd, s)
		}
		if wantRes {
			w.vector(w.wf.VectorSurf, marker, e, lay, l.vec, pExt, fd, s)
		}
		w.pop(c)
	}
}

// side is one element of an inner edge: its basis functions, the edge they
// are evaluated on and where its unknowns sit in the coupling block.
type side[S types.Scalar] struct {
	sf   []*meshfn.ShapeFunction
	surf *meshfn.Surf
	lay  layout
	base int
}

// inner integrates the inner edge forms over the part of edge k of e that n
// shares. e has the shorter edge, so the neighbour is evaluated on the
// virtual sub-element of n facing e.
func (w *worker[S]) inner(e *mesh.Element, k int, n mesh.Neighbor, cells []meshfn.Cell, lay layout, wantJac, wantRes bool) (cp local[S]) {
	var (
		nl    = w.layout(n.Element)
		sides = [2]side[S]{
			{sf: w.sf, surf: &meshfn.Surf{Edge: k}, lay: lay},
			{sf: w.sfN, surf: &meshfn.Surf{Edge: n.Edge, Reversed: true}, lay: nl, base: lay.size()},
		}
		nb = lay.size() + nl.size()
	)
	cp.dofs = append(append([]int(nil), lay.dofs...), nl.dofs...)
	if wantJac {
		cp.mat = make([]S, nb*nb)
	}
	if wantRes {
		cp.vec = make([]S, nb)
	}
	for c := range w.sfN {
		if w.sfN[c].ActiveElement() != n.Element {
			w.sfN[c].SetActiveElement(n.Element)
			w.uN[c].SetActiveElement(n.Element)
		}
	}
	for _, c := range cells {
		if !c.Box.Touches(e.Box, k) {
			continue
		}
		path := mesh.PathBetween(n.Element.Box, w.p.spaces[0].Mesh().Facing(e, k, c.Box, n))
		for i := range w.sfN {
			w.sfN[i].PushPath(path)
			w.uN[i].PushPath(path)
		}
		pExt := w.push(c)
		fd := w.newFormData(e)
		fd.Edge, fd.Neighbor = k, n.Element
		fd.UExtNeighbor = make([]*meshfn.Values[S], len(w.uN))
		load := func(comp, order int) {
			w.points(fd, comp, order, sides[0].surf)
			for i, u := range w.uN {
				fd.UExtNeighbor[i] = u.SurfValues(*sides[1].surf, order, 0)
			}
			fd.PrevNeighbor = fd.UExtNeighbor[comp]
		}
		if wantJac {
			for _, form := range w.wf.MatrixDG {
				order := form.Order(max(w.order(e, form.I, form.J), w.order(n.Element, form.I, form.J)), pExt)
				load(form.I, order)
				for vs, sv := range sides {
					fd.VSide = Side(vs)
					for i := 0; i < sv.lay.n[form.I]; i++ {
						fd.V = sv.sf[form.I].SurfValues(*sv.surf, order, i)
						row := (sv.base + sv.lay.start[form.I] + i) * nb
						for us, su := range sides {
							fd.USide = Side(us)
							col := su.base + su.lay.start[form.J]
							for j := 0; j < su.lay.n[form.J]; j++ {
								fd.U = su.sf[form.J].SurfValues(*su.surf, order, j)
								cp.mat[row+col+j] += form.Fn(fd)
							}
						}
					}
				}
			}
		}
		if wantRes {
			fd.U = nil
			for _, form := range w.wf.VectorDG {
				order := form.Order(max(w.order(e, form.I), w.order(n.Element, form.I)), pExt)
				load(form.I, order)
				for vs, sv := range sides {
					fd.VSide = Side(vs)
					for i := 0; i < sv.lay.n[form.I]; i++ {
						fd.V = sv.sf[form.I].SurfValues(*sv.surf, order, i)
						cp.vec[sv.base+sv.lay.start[form.I]+i] += form.Fn(fd)
					}
				}
			}
		}
		w.pop(c)
		for i := range w.sfN {
			w.sfN[i].PopPath(len(path))
			w.uN[i].PopPath(len(path))
		}
	}
	return
}
