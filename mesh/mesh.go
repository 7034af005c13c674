// Package mesh holds hierarchical quadrilateral meshes. Elements are split
// into sons without ever being removed, so every mesh is a forest of
// refinement trees rooted at its base elements.
package mesh

import (
	"fmt"
	"math"
	"sync/atomic"
)

type Split uint8

const (
	SplitNone Split = iota
	SplitIso
	SplitHorizontal
	SplitVertical
)

func (s Split) String() string {
	switch s {
	case SplitIso:
		return "iso"
	case SplitHorizontal:
		return "horizontal"
	case SplitVertical:
		return "vertical"
	}
	return "none"
}

// SonTransforms lists the son transform indices a split produces.
func (s Split) SonTransforms() []int {
	switch s {
	case SplitIso:
		return []int{0, 1, 2, 3}
	case SplitHorizontal:
		return []int{4, 5}
	case SplitVertical:
		return []int{6, 7}
	}
	return nil
}

var refCorners = [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

type Element struct {
	ID     int
	Root   int // index of the base element this one descends from
	Box    Box // position inside the base element's reference square
	Level  int // refinement depth below the base element
	Marker int // material / region marker, inherited by sons
	Verts  [4][2]float64
	Parent *Element
	Sons   []*Element
	Split  Split
	SonTrf int // transform from the parent's reference square
}

func (e *Element) Active() bool { return len(e.Sons) == 0 }

// Map is the bilinear reference map.
func (e *Element) Map(xi, eta float64) (x, y float64) {
	var (
		n = shape(xi, eta)
	)
	for k := 0; k < 4; k++ {
		x += n[k] * e.Verts[k][0]
		y += n[k] * e.Verts[k][1]
	}
	return
}

// Jacobian returns d(x,y)/d(xi,eta) as [[dx/dxi, dx/deta], [dy/dxi, dy/deta]].
func (e *Element) Jacobian(xi, eta float64) (J [2][2]float64) {
	var (
		dxi  = [4]float64{-(1 - eta), 1 - eta, 1 + eta, -(1 + eta)}
		deta = [4]float64{-(1 - xi), -(1 + xi), 1 + xi, 1 - xi}
	)
	for k := 0; k < 4; k++ {
		J[0][0] += 0.25 * dxi[k] * e.Verts[k][0]
		J[0][1] += 0.25 * deta[k] * e.Verts[k][0]
		J[1][0] += 0.25 * dxi[k] * e.Verts[k][1]
		J[1][1] += 0.25 * deta[k] * e.Verts[k][1]
	}
	return
}

func (e *Element) Center() (x, y float64) { return e.Map(0, 0) }

// Area integrates |det J| with the 2x2 Gauss rule, exact for bilinear maps.
func (e *Element) Area() (a float64) {
	g := 1. / math.Sqrt(3)
	for _, xi := range []float64{-g, g} {
		for _, eta := range []float64{-g, g} {
			J := e.Jacobian(xi, eta)
			a += math.Abs(J[0][0]*J[1][1] - J[0][1]*J[1][0])
		}
	}
	return
}

// Diameter is the longest diagonal.
func (e *Element) Diameter() float64 {
	d1 := math.Hypot(e.Verts[2][0]-e.Verts[0][0], e.Verts[2][1]-e.Verts[0][1])
	d2 := math.Hypot(e.Verts[3][0]-e.Verts[1][0], e.Verts[3][1]-e.Verts[1][1])
	return math.Max(d1, d2)
}

func (e *Element) String() string {
	return fmt.Sprintf("E%d(root %d, level %d, %v)", e.ID, e.Root, e.Level, e.Box)
}

func shape(xi, eta float64) [4]float64 {
	return [4]float64{
		0.25 * (1 - xi) * (1 - eta),
		0.25 * (1 + xi) * (1 - eta),
		0.25 * (1 + xi) * (1 + eta),
		0.25 * (1 - xi) * (1 + eta),
	}
}

var seqCounter atomic.Uint64

// NextSeq hands out process-unique state stamps.
func NextSeq() uint64 { return seqCounter.Add(1) }

type Mesh struct {
	elements []*Element // indexed by ID
	roots    []*Element
	links    [][4]rootLink // per root edge, the facing root edge or a boundary
	nActive  int
	seq      uint64
}

// NewMesh builds a base mesh from counterclockwise quadrilaterals.
func NewMesh(verts [][2]float64, quads [][4]int, markers []int) (m *Mesh, err error) {
	if markers != nil && len(markers) != len(quads) {
		err = fmt.Errorf("have %d markers for %d elements", len(markers), len(quads))
		return
	}
	m = &Mesh{seq: NextSeq()}
	for i, q := range quads {
		e := &Element{
			ID:     i,
			Root:   i,
			Box:    RootBox(),
			SonTrf: IdentityTrf,
		}
		if markers != nil {
			e.Marker = markers[i]
		}
		for k, vi := range q {
			if vi < 0 || vi >= len(verts) {
				err = fmt.Errorf("element %d references vertex %d, have %d vertices", i, vi, len(verts))
				return nil, err
			}
			e.Verts[k] = verts[vi]
		}
		J := e.Jacobian(0, 0)
		if J[0][0]*J[1][1]-J[0][1]*J[1][0] <= 0 {
			err = fmt.Errorf("element %d is degenerate or clockwise", i)
			return nil, err
		}
		m.elements = append(m.elements, e)
		m.roots = append(m.roots, e)
	}
	m.nActive = len(quads)
	if m.links, err = linkRoots(quads); err != nil {
		return nil, err
	}
	return
}

// NewRectangle meshes [x0,x1]x[y0,y1] with nx by ny equal quadrilaterals.
func NewRectangle(x0, y0, x1, y1 float64, nx, ny, marker int) (m *Mesh) {
	var (
		verts = make([][2]float64, 0, (nx+1)*(ny+1))
		quads = make([][4]int, 0, nx*ny)
	)
	if nx < 1 || ny < 1 || x1 <= x0 || y1 <= y0 {
		panic(fmt.Errorf("invalid rectangle [%g,%g]x[%g,%g] with %dx%d elements", x0, x1, y0, y1, nx, ny))
	}
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			verts = append(verts, [2]float64{
				x0 + (x1-x0)*float64(i)/float64(nx),
				y0 + (y1-y0)*float64(j)/float64(ny),
			})
		}
	}
	// Boundary markers count counterclockwise from the bottom side
	var bnd []boundary
	for i := 0; i < nx; i++ {
		bnd = append(bnd, boundary{i, 0, BottomMarker}, boundary{(ny-1)*nx + i, 2, TopMarker})
	}
	for j := 0; j < ny; j++ {
		bnd = append(bnd, boundary{j*nx + nx - 1, 1, RightMarker}, boundary{j * nx, 3, LeftMarker})
	}
	markers := make([]int, 0, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v0 := j*(nx+1) + i
			quads = append(quads, [4]int{v0, v0 + 1, v0 + nx + 2, v0 + nx + 1})
			markers = append(markers, marker)
		}
	}
	var err error
	if m, err = NewMesh(verts, quads, markers); err != nil {
		panic(err)
	}
	for _, b := range bnd {
		m.SetBoundaryMarker(b.root, b.edge, b.marker)
	}
	return
}

type boundary struct {
	root, edge, marker int
}

func (m *Mesh) Seq() uint64         { return m.seq }
func (m *Mesh) NumElements() int    { return len(m.elements) }
func (m *Mesh) NumActive() int      { return m.nActive }
func (m *Mesh) NumRoots() int       { return len(m.roots) }
func (m *Mesh) Root(i int) *Element { return m.roots[i] }

func (m *Mesh) Element(id int) *Element {
	if id < 0 || id >= len(m.elements) {
		return nil
	}
	return m.elements[id]
}

// Active returns the leaf elements in ID order.
func (m *Mesh) Active() (active []*Element) {
	active = make([]*Element, 0, m.nActive)
	for _, e := range m.elements {
		if e.Active() {
			active = append(active, e)
		}
	}
	return
}

// Refine splits an active element.
func (m *Mesh) Refine(id int, split Split) (err error) {
	e := m.Element(id)
	switch {
	case e == nil:
		return fmt.Errorf("no element %d", id)
	case !e.Active():
		return fmt.Errorf("element %d is already refined", id)
	case split == SplitNone:
		return fmt.Errorf("element %d: refinement needs a split", id)
	}
	for _, trf := range split.SonTransforms() {
		son := &Element{
			ID:     len(m.elements),
			Root:   e.Root,
			Box:    e.Box.Son(trf),
			Level:  e.Level + 1,
			Marker: e.Marker,
			Parent: e,
			SonTrf: trf,
		}
		for k, c := range refCorners {
			son.Verts[k][0], son.Verts[k][1] = e.Map(SonTrf[trf].Apply(c[0], c[1]))
		}
		e.Sons = append(e.Sons, son)
		m.elements = append(m.elements, son)
	}
	e.Split = split
	m.nActive += len(e.Sons) - 1
	m.seq = NextSeq()
	return
}

// RefineAll splits every active element once.
func (m *Mesh) RefineAll(split Split) {
	for _, e := range m.Active() {
		if err := m.Refine(e.ID, split); err != nil {
			panic(err)
		}
	}
}

// Copy duplicates the whole refinement forest, keeping element IDs.
func (m *Mesh) Copy() (c *Mesh) {
	c = &Mesh{
		elements: make([]*Element, len(m.elements)),
		roots:    make([]*Element, len(m.roots)),
		links:    append([][4]rootLink(nil), m.links...),
		nActive:  m.nActive,
		seq:      NextSeq(),
	}
	for i, e := range m.elements {
		ce := *e
		ce.Sons = nil
		ce.Parent = nil
		c.elements[i] = &ce
	}
	for i, e := range m.elements {
		ce := c.elements[i]
		if e.Parent != nil {
			ce.Parent = c.elements[e.Parent.ID]
		}
		for _, s := range e.Sons {
			ce.Sons = append(ce.Sons, c.elements[s.ID])
		}
	}
	for i, r := range m.roots {
		c.roots[i] = c.elements[r.ID]
	}
	return
}

// Locate returns the deepest element of the tree rooted at root whose box
// contains b.
func (m *Mesh) Locate(root int, b Box) (e *Element) {
	if root < 0 || root >= len(m.roots) {
		return nil
	}
	e = m.roots[root]
	if !e.Box.Contains(b) {
		return nil
	}
	for !e.Active() {
		var next *Element
		for _, s := range e.Sons {
			if s.Box.Contains(b) {
				next = s
				break
			}
		}
		if next == nil {
			return
		}
		e = next
	}
	return
}

// FindPoint returns the active element containing (x, y) and the point's
// reference coordinates in it.
func (m *Mesh) FindPoint(x, y float64) (e *Element, xi, eta float64, ok bool) {
	const tol = 1e-10
	for _, r := range m.roots {
		if !r.boundsContain(x, y, tol) {
			continue
		}
		if xi, eta, ok = r.Inverse(x, y); !ok {
			continue
		}
		// Descend in root reference coordinates, sons partition the box
		e = r
		for !e.Active() {
			var next *Element
			for _, s := range e.Sons {
				if s.Box.X0-tol <= xi && xi <= s.Box.X1+tol && s.Box.Y0-tol <= eta && eta <= s.Box.Y1+tol {
					next = s
					break
				}
			}
			if next == nil {
				return nil, 0, 0, false
			}
			e = next
		}
		xi, eta = e.Box.Trf().Inverse().Apply(xi, eta)
		return e, xi, eta, true
	}
	return nil, 0, 0, false
}

func (e *Element) boundsContain(x, y, tol float64) bool {
	var (
		xmin, xmax = e.Verts[0][0], e.Verts[0][0]
		ymin, ymax = e.Verts[0][1], e.Verts[0][1]
	)
	for _, v := range e.Verts[1:] {
		xmin, xmax = math.Min(xmin, v[0]), math.Max(xmax, v[0])
		ymin, ymax = math.Min(ymin, v[1]), math.Max(ymax, v[1])
	}
	return xmin-tol <= x && x <= xmax+tol && ymin-tol <= y && y <= ymax+tol
}

// Inverse solves Map(xi, eta) = (x, y) by Newton iteration and reports
// whether the point lies in the element.
func (e *Element) Inverse(x, y float64) (xi, eta float64, ok bool) {
	const tol = 1e-12
	for it := 0; it < 50; it++ {
		px, py := e.Map(xi, eta)
		rx, ry := x-px, y-py
		J := e.Jacobian(xi, eta)
		det := J[0][0]*J[1][1] - J[0][1]*J[1][0]
		dxi := (J[1][1]*rx - J[0][1]*ry) / det
		deta := (-J[1][0]*rx + J[0][0]*ry) / det
		xi += dxi
		eta += deta
		if math.Abs(dxi)+math.Abs(deta) < tol {
			break
		}
	}
	const in = 1 + 1e-9
	ok = math.Abs(xi) <= in && math.Abs(eta) <= in
	return
}
