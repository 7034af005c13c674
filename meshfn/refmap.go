package meshfn

import (
	"math"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/quadrature"
	"github.com/notargets/gohpfem/types"
)

// Geometry holds the mapped quadrature data of one sub-element, or of one
// of its edges.
type Geometry struct {
	Order   int
	N       int
	W       []float64 // quadrature weight times |det J| of the composed map, or the edge length element
	X, Y    []float64 // physical coordinates
	Xi, Eta []float64 // active element reference coordinates
	InvJ    [][2][2]float64
	NX, NY  []float64 // outward unit normal, edges only
}

func newGeometry(order, n int) *Geometry {
	return &Geometry{
		Order: order,
		N:     n,
		W:     make([]float64, n),
		X:     make([]float64, n),
		Y:     make([]float64, n),
		Xi:    make([]float64, n),
		Eta:   make([]float64, n),
		InvJ:  make([][2][2]float64, n),
	}
}

// Surf selects an edge of the current sub-element. A reversed edge is run
// clockwise, so its points meet those of the element on the other side.
type Surf struct {
	Edge     int
	Reversed bool
}

// key is 0 for volumes and distinct per edge and direction.
func (s Surf) key() (k int) {
	k = 1 + 2*s.Edge
	if s.Reversed {
		k++
	}
	return
}

type geomKey struct {
	subIdx uint64
	surf   int
	order  int
}

// RefMap is the reference map of the active element composed with the
// current transform. It belongs to a single mesh function.
type RefMap struct {
	t     *Transformable
	quad  *quadrature.Quad2D
	cache map[geomKey]*Geometry
}

func newRefMap(t *Transformable, q *quadrature.Quad2D) *RefMap {
	return &RefMap{t: t, quad: q, cache: make(map[geomKey]*Geometry)}
}

func (rm *RefMap) reset() { clear(rm.cache) }

// Geometry returns the quadrature data of the current sub-element for a
// rule of the given order.
func (rm *RefMap) Geometry(order int) (g *Geometry) {
	var (
		ok  bool
		key = geomKey{subIdx: rm.t.subIdx, order: order}
	)
	if g, ok = rm.cache[key]; ok {
		return
	}
	g = mapRule(rm.t.element, rm.t.ctm, rm.quad.Rule(order))
	rm.cache[key] = g
	return
}

// SurfGeometry returns the quadrature data along an edge of the current
// sub-element.
func (rm *RefMap) SurfGeometry(s Surf, order int) (g *Geometry) {
	var (
		ok  bool
		key = geomKey{subIdx: rm.t.subIdx, surf: s.key(), order: order}
	)
	if s.Edge < 0 || s.Edge >= mesh.NumEdges {
		panic(types.Precondition("SurfGeometry", "invalid edge %d", s.Edge))
	}
	if g, ok = rm.cache[key]; ok {
		return
	}
	g = mapEdge(rm.t.element, rm.t.ctm, rm.quad.Edge(order), s)
	rm.cache[key] = g
	return
}

// setPoint fills point q from active element reference coordinates and
// returns det J there.
func (g *Geometry) setPoint(q int, e *mesh.Element, xi, eta float64) (J [2][2]float64, det float64) {
	g.Xi[q], g.Eta[q] = xi, eta
	g.X[q], g.Y[q] = e.Map(xi, eta)
	J = e.Jacobian(xi, eta)
	det = J[0][0]*J[1][1] - J[0][1]*J[1][0]
	g.InvJ[q] = [2][2]float64{
		{J[1][1] / det, -J[0][1] / det},
		{-J[1][0] / det, J[0][0] / det},
	}
	return
}

func mapRule(e *mesh.Element, ctm mesh.Trf, r *quadrature.Rule) (g *Geometry) {
	var (
		scale = ctm.Det()
	)
	g = newGeometry(r.Order, r.N)
	for q := 0; q < r.N; q++ {
		xi, eta := ctm.Apply(r.Xi[q], r.Eta[q])
		_, det := g.setPoint(q, e, xi, eta)
		g.W[q] = r.W[q] * scale * math.Abs(det)
	}
	return
}

// Edge k starts at corner k of the reference square and runs along
// edgeDir[k].
var (
	edgeStart = [mesh.NumEdges][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	edgeDir   = [mesh.NumEdges][2]float64{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
)

func mapEdge(e *mesh.Element, ctm mesh.Trf, r *quadrature.EdgeRule, s Surf) (g *Geometry) {
	var (
		c, d = edgeStart[s.Edge], edgeDir[s.Edge]
		// tangent in active element reference coordinates
		txi, teta = ctm.M[0] * d[0], ctm.M[1] * d[1]
	)
	g = newGeometry(r.Order, r.N)
	g.NX, g.NY = make([]float64, r.N), make([]float64, r.N)
	for q := 0; q < r.N; q++ {
		t := r.S[q]
		if s.Reversed {
			t = -t
		}
		xi, eta := ctm.Apply(c[0]+(t+1)*d[0], c[1]+(t+1)*d[1])
		J, _ := g.setPoint(q, e, xi, eta)
		dx := J[0][0]*txi + J[0][1]*teta
		dy := J[1][0]*txi + J[1][1]*teta
		l := math.Hypot(dx, dy)
		g.W[q] = r.W[q] * l
		g.NX[q], g.NY[q] = dy/l, -dx/l
	}
	return
}

// Grad maps reference derivatives at point q to physical ones.
func (g *Geometry) Grad(q int, dxi, deta float64) (dx, dy float64) {
	m := g.InvJ[q]
	return dxi*m[0][0] + deta*m[1][0], dxi*m[0][1] + deta*m[1][1]
}
