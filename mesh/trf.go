package mesh

import (
	"fmt"
)

// Trf is an axis aligned affine map of the reference square into itself,
// x' = M x + T applied per direction.
type Trf struct {
	M, T [2]float64
}

const (
	NumSonTrf   = 8
	IdentityTrf = 8
)

// SonTrf maps the reference square of a son onto the part of its parent it
// occupies. 0-3 are the isotropic quadrants counterclockwise from bottom
// left, 4-5 the bottom and top halves, 6-7 the left and right halves.
var SonTrf = [NumSonTrf + 1]Trf{
	{M: [2]float64{.5, .5}, T: [2]float64{-.5, -.5}},
	{M: [2]float64{.5, .5}, T: [2]float64{.5, -.5}},
	{M: [2]float64{.5, .5}, T: [2]float64{.5, .5}},
	{M: [2]float64{.5, .5}, T: [2]float64{-.5, .5}},
	{M: [2]float64{1, .5}, T: [2]float64{0, -.5}},
	{M: [2]float64{1, .5}, T: [2]float64{0, .5}},
	{M: [2]float64{.5, 1}, T: [2]float64{-.5, 0}},
	{M: [2]float64{.5, 1}, T: [2]float64{.5, 0}},
	{M: [2]float64{1, 1}, T: [2]float64{0, 0}},
}

func Identity() Trf { return SonTrf[IdentityTrf] }

func (t Trf) Apply(xi, eta float64) (float64, float64) {
	return t.M[0]*xi + t.T[0], t.M[1]*eta + t.T[1]
}

// Compose returns the map x -> t(s(x)).
func (t Trf) Compose(s Trf) (r Trf) {
	for d := 0; d < 2; d++ {
		r.M[d] = t.M[d] * s.M[d]
		r.T[d] = t.M[d]*s.T[d] + t.T[d]
	}
	return
}

func (t Trf) Inverse() (r Trf) {
	for d := 0; d < 2; d++ {
		r.M[d] = 1. / t.M[d]
		r.T[d] = -t.T[d] / t.M[d]
	}
	return
}

// Det is the area ratio of the image to the reference square.
func (t Trf) Det() float64 { return t.M[0] * t.M[1] }

// Box is a sub-rectangle of a base element's reference square. Boxes created
// by splitting are dyadic, so comparisons between them are exact.
type Box struct {
	X0, X1, Y0, Y1 float64
}

func RootBox() Box { return Box{-1, 1, -1, 1} }

// Trf maps the reference square onto the box.
func (b Box) Trf() Trf {
	return Trf{
		M: [2]float64{(b.X1 - b.X0) / 2, (b.Y1 - b.Y0) / 2},
		T: [2]float64{(b.X1 + b.X0) / 2, (b.Y1 + b.Y0) / 2},
	}
}

func (b Box) Son(son int) Box {
	t := b.Trf().Compose(SonTrf[son])
	return Box{
		X0: t.T[0] - t.M[0], X1: t.T[0] + t.M[0],
		Y0: t.T[1] - t.M[1], Y1: t.T[1] + t.M[1],
	}
}

func (b Box) Contains(c Box) bool {
	return b.X0 <= c.X0 && c.X1 <= b.X1 && b.Y0 <= c.Y0 && c.Y1 <= b.Y1
}

func (b Box) Overlaps(c Box) bool {
	return b.X0 < c.X1 && c.X0 < b.X1 && b.Y0 < c.Y1 && c.Y0 < b.Y1
}

func (b Box) Width() float64  { return b.X1 - b.X0 }
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

func (b Box) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]", b.X0, b.X1, b.Y0, b.Y1)
}

// PathBetween returns the son transform sequence leading from box from down
// to box to, preferring isotropic sons when both directions shrink.
func PathBetween(from, to Box) (path []int) {
	if !from.Contains(to) {
		panic(fmt.Errorf("box %v does not contain %v", from, to))
	}
	for from != to {
		if len(path) > 64 {
			panic(fmt.Errorf("box %v is not a dyadic sub-box of %v", to, from))
		}
		var (
			midX   = 0.5 * (from.X0 + from.X1)
			midY   = 0.5 * (from.Y0 + from.Y1)
			splitX = to.Width() < from.Width()
			splitY = to.Height() < from.Height()
			left   = to.X1 <= midX
			bottom = to.Y1 <= midY
			son    int
		)
		switch {
		case splitX && splitY:
			switch {
			case left && bottom:
				son = 0
			case bottom:
				son = 1
			case left:
				son = 3
			default:
				son = 2
			}
		case splitX:
			son = 7
			if left {
				son = 6
			}
		case splitY:
			son = 5
			if bottom {
				son = 4
			}
		default:
			panic(fmt.Errorf("box %v is not a dyadic sub-box of %v", to, from))
		}
		path = append(path, son)
		from = from.Son(son)
	}
	return
}
