package mesh

import (
	"fmt"
)

// Boundary markers NewRectangle puts on its sides.
const (
	BottomMarker = 1 + iota
	RightMarker
	TopMarker
	LeftMarker
)

// Local edge k joins corner k to corner k+1: 0 bottom, 1 right, 2 top,
// 3 left. Edges run counterclockwise.
const NumEdges = 4

type rootLink struct {
	root, edge int // -1 root on the boundary
	marker     int
}

func linkRoots(quads [][4]int) (links [][4]rootLink, err error) {
	type half struct{ root, edge int }
	var (
		seen = make(map[[2]int]half)
	)
	links = make([][4]rootLink, len(quads))
	for i, q := range quads {
		for k := 0; k < NumEdges; k++ {
			links[i][k] = rootLink{root: -1, edge: -1}
			key := [2]int{q[k], q[(k+1)%NumEdges]}
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("edge %v of element %d is shared with the same orientation", key, i)
			}
			seen[key] = half{i, k}
		}
	}
	for key, h := range seen {
		if o, ok := seen[[2]int{key[1], key[0]}]; ok {
			links[h.root][h.edge] = rootLink{root: o.root, edge: o.edge}
		}
	}
	return
}

// SetBoundaryMarker labels a boundary edge of a base element. Sons inherit
// the label along their part of the edge.
func (m *Mesh) SetBoundaryMarker(root, edge, marker int) (err error) {
	switch {
	case root < 0 || root >= len(m.roots):
		return fmt.Errorf("no base element %d", root)
	case edge < 0 || edge >= NumEdges:
		return fmt.Errorf("no edge %d", edge)
	case m.links[root][edge].root >= 0:
		return fmt.Errorf("edge %d of base element %d is not on the boundary", edge, root)
	}
	m.links[root][edge].marker = marker
	return
}

// line returns the coordinate an edge of b lies on and the range it covers
// along the other axis.
func (b Box) line(edge int) (fixed, lo, hi float64) {
	switch edge {
	case 0:
		return b.Y0, b.X0, b.X1
	case 1:
		return b.X1, b.Y0, b.Y1
	case 2:
		return b.Y1, b.X0, b.X1
	}
	return b.X0, b.Y0, b.Y1
}

// across returns the range of b perpendicular to edge.
func (b Box) across(edge int) (lo, hi float64) {
	if edge%2 == 0 {
		return b.Y0, b.Y1
	}
	return b.X0, b.X1
}

// EdgeLength is the length of an edge of b in reference coordinates.
func (b Box) EdgeLength(edge int) float64 {
	_, lo, hi := b.line(edge)
	return hi - lo
}

// orientation is +1 where an edge runs along its axis, -1 where it runs
// against it.
func orientation(edge int) float64 {
	if edge < 2 {
		return 1
	}
	return -1
}

// mapRange carries a range on root edge from to the facing root edge to.
// Facing edges run in opposite directions.
func mapRange(from, to int, lo, hi float64) (float64, float64) {
	f := -orientation(from) * orientation(to)
	lo, hi = f*lo, f*hi
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Neighbor is an active element across an edge and its local edge facing
// back.
type Neighbor struct {
	Element *Element
	Edge    int
}

// EdgeInfo tells what lies across one edge of an active element.
type EdgeInfo struct {
	Boundary  bool
	Marker    int // boundary marker
	Neighbors []Neighbor
}

// Across finds the active elements sharing a part of edge of e. Boxes are
// dyadic, so each neighbour's edge either contains e's edge or lies inside
// it.
func (m *Mesh) Across(e *Element, edge int) (info EdgeInfo) {
	var (
		fixed, lo, hi = e.Box.line(edge)
		root          = e.Root
		facing        = (edge + 2) % NumEdges
		walk          func(c *Element)
	)
	if side, _, _ := RootBox().line(edge); fixed == side {
		link := m.links[e.Root][edge]
		if link.root < 0 {
			return EdgeInfo{Boundary: true, Marker: link.marker}
		}
		root, facing = link.root, link.edge
		lo, hi = mapRange(edge, facing, lo, hi)
		fixed, _, _ = RootBox().line(facing)
	}
	walk = func(c *Element) {
		var (
			f, clo, chi = c.Box.line(facing)
			nlo, nhi    = c.Box.across(facing)
		)
		if chi <= lo || hi <= clo || fixed < nlo || nhi < fixed {
			return
		}
		if c.Active() {
			if f == fixed {
				info.Neighbors = append(info.Neighbors, Neighbor{Element: c, Edge: facing})
			}
			return
		}
		for _, s := range c.Sons {
			walk(s)
		}
	}
	walk(m.roots[root])
	return
}

// Facing returns the box inside n's element that lies against the part of
// e's edge covered by b, a sub-box of e touching that edge. The box spans
// n's element across its whole depth.
func (m *Mesh) Facing(e *Element, edge int, b Box, n Neighbor) (f Box) {
	_, lo, hi := b.line(edge)
	if n.Element.Root != e.Root {
		lo, hi = mapRange(edge, n.Edge, lo, hi)
	}
	f = n.Element.Box
	if n.Edge%2 == 0 {
		f.X0, f.X1 = lo, hi
	} else {
		f.Y0, f.Y1 = lo, hi
	}
	if !n.Element.Box.Contains(f) {
		panic(fmt.Errorf("element %d edge %d does not face %v of element %d", n.Element.ID, n.Edge, b, e.ID))
	}
	return
}

// Touches reports whether edge of box b lies on the same edge of c.
func (b Box) Touches(c Box, edge int) bool {
	f, _, _ := b.line(edge)
	g, _, _ := c.line(edge)
	return f == g
}
