// Package discrete turns a weak form over one or more spaces into a Jacobian
// matrix and a residual vector for a given coefficient vector.
package discrete

import (
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/types"
)

// Side tells on which element of an inner edge a function lives.
type Side uint8

const (
	Central Side = iota
	Neighbor
)

// FormData is what a form sees at one element (or one cell of it, or one
// piece of an edge): the quadrature data, the basis and test functions, the
// current iterate and the external functions, all at the same points.
type FormData[S types.Scalar] struct {
	Element *mesh.Element
	N       int
	W       []float64
	X, Y    []float64
	U, V    *meshfn.Values[float64] // trial and test function, U is nil for vector forms
	Prev    *meshfn.Values[S]       // current iterate of the test component
	UExt    []*meshfn.Values[S]     // current iterate, one per component
	Ext     []*meshfn.Values[S]

	// Edge forms only. The normal points out of Element.
	Edge   int
	Marker int // boundary marker
	NX, NY []float64

	// Inner edge forms only.
	Neighbor     *mesh.Element
	USide, VSide Side
	PrevNeighbor *meshfn.Values[S]
	UExtNeighbor []*meshfn.Values[S]
}

// Integrate sums fn against the quadrature weights.
func (fd *FormData[S]) Integrate(fn func(q int) S) (sum S) {
	for q := 0; q < fd.N; q++ {
		sum += types.Scale(fn(q), fd.W[q])
	}
	return
}

// Trial is the trial function at point q on side, zero on the other side.
func (fd *FormData[S]) Trial(side Side, q int) float64 {
	if fd.U == nil || fd.USide != side {
		return 0
	}
	return fd.U.Val[q]
}

// Test is the test function at point q on side, zero on the other side.
func (fd *FormData[S]) Test(side Side, q int) float64 {
	if fd.VSide != side {
		return 0
	}
	return fd.V.Val[q]
}

// TestJump is the central minus the neighbour value of the test function.
func (fd *FormData[S]) TestJump(q int) float64 {
	if fd.VSide == Neighbor {
		return -fd.V.Val[q]
	}
	return fd.V.Val[q]
}

// OrderFunc picks the integration order from the element's polynomial
// degree and the highest degree among the external functions, -1 if none
// of them reports one.
type OrderFunc func(p, pExt int) int

// DefaultOrder integrates products of two element functions exactly.
func DefaultOrder(p, pExt int) int {
	if pExt > p {
		return p + pExt + 1
	}
	return 2*p + 1
}

// MatrixForm is a block of the Jacobian: test functions of component I
// against trial functions of component J.
type MatrixForm[S types.Scalar] struct {
	Name    string
	I, J    int
	Markers []int // empty applies the form everywhere
	Order   OrderFunc
	Fn      func(fd *FormData[S]) S
}

// VectorForm is the residual of component I.
type VectorForm[S types.Scalar] struct {
	Name    string
	I       int
	Markers []int // empty applies the form everywhere
	Order   OrderFunc
	Fn      func(fd *FormData[S]) S
}

// Surface forms are integrated over boundary edges whose marker is listed,
// or over every boundary edge when Markers is empty.
type (
	MatrixFormSurf[S types.Scalar] MatrixForm[S]
	VectorFormSurf[S types.Scalar] VectorForm[S]
)

// Inner edge forms are integrated once over every piece of edge shared by
// two active elements. Test and trial functions come from both sides; the
// central element is the one with the shorter edge. Markers are ignored.
type (
	MatrixFormDG[S types.Scalar] MatrixForm[S]
	VectorFormDG[S types.Scalar] VectorForm[S]
)

// WeakForm is the set of forms of a system of equations. Matrix forms make
// up the Jacobian, vector forms the residual.
type WeakForm[S types.Scalar] struct {
	Matrix     []MatrixForm[S]
	Vector     []VectorForm[S]
	MatrixSurf []MatrixForm[S]
	VectorSurf []VectorForm[S]
	MatrixDG   []MatrixForm[S]
	VectorDG   []VectorForm[S]
}

func NewWeakForm[S types.Scalar]() *WeakForm[S] { return &WeakForm[S]{} }

func (wf *WeakForm[S]) AddMatrixForm(f MatrixForm[S]) {
	wf.Matrix = append(wf.Matrix, f.withOrder())
}

func (wf *WeakForm[S]) AddVectorForm(f VectorForm[S]) {
	wf.Vector = append(wf.Vector, f.withOrder())
}

func (wf *WeakForm[S]) AddMatrixFormSurf(f MatrixFormSurf[S]) {
	wf.MatrixSurf = append(wf.MatrixSurf, MatrixForm[S](f).withOrder())
}

func (wf *WeakForm[S]) AddVectorFormSurf(f VectorFormSurf[S]) {
	wf.VectorSurf = append(wf.VectorSurf, VectorForm[S](f).withOrder())
}

func (wf *WeakForm[S]) AddMatrixFormDG(f MatrixFormDG[S]) {
	wf.MatrixDG = append(wf.MatrixDG, MatrixForm[S](f).withOrder())
}

func (wf *WeakForm[S]) AddVectorFormDG(f VectorFormDG[S]) {
	wf.VectorDG = append(wf.VectorDG, VectorForm[S](f).withOrder())
}

// Components is the number of components the forms refer to.
func (wf *WeakForm[S]) Components() (n int) {
	for _, set := range [][]MatrixForm[S]{wf.Matrix, wf.MatrixSurf, wf.MatrixDG} {
		for _, f := range set {
			n = max(n, f.I+1, f.J+1)
		}
	}
	for _, set := range [][]VectorForm[S]{wf.Vector, wf.VectorSurf, wf.VectorDG} {
		for _, f := range set {
			n = max(n, f.I+1)
		}
	}
	return
}

func (wf *WeakForm[S]) hasSurf() bool { return len(wf.MatrixSurf)+len(wf.VectorSurf) > 0 }
func (wf *WeakForm[S]) hasDG() bool   { return len(wf.MatrixDG)+len(wf.VectorDG) > 0 }

func (f MatrixForm[S]) withOrder() MatrixForm[S] {
	if f.Order == nil {
		f.Order = DefaultOrder
	}
	return f
}

func (f VectorForm[S]) withOrder() VectorForm[S] {
	if f.Order == nil {
		f.Order = DefaultOrder
	}
	return f
}

func hasMarker(markers []int, marker int) bool {
	if len(markers) == 0 {
		return true
	}
	for _, m := range markers {
		if m == marker {
			return true
		}
	}
	return false
}
