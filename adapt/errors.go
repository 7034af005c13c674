// Package adapt drives hp-adaptivity: it compares a coarse solution against
// one on a globally refined reference space, flags the worst elements and
// refines them with the candidate that reduces the error most per added
// degree of freedom.
package adapt

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/projection"
	"github.com/notargets/gohpfem/types"
)

type Norm = projection.Norm

const (
	L2Norm = projection.L2Norm
	H1Norm = projection.H1Norm
)

// ErrorType selects how element errors are ranked against each other.
type ErrorType uint8

const (
	AbsoluteError ErrorType = iota
	RelativeErrorToElementNorm
	RelativeErrorToGlobalNorm
)

func (t ErrorType) String() string {
	switch t {
	case RelativeErrorToElementNorm:
		return "relative_to_element_norm"
	case RelativeErrorToGlobalNorm:
		return "relative_to_global_norm"
	}
	return "absolute"
}

func ParseErrorType(s string) (ErrorType, error) {
	for _, t := range []ErrorType{AbsoluteError, RelativeErrorToElementNorm, RelativeErrorToGlobalNorm} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown error type %q", s)
}

type ElementError struct {
	ID     int
	Error2 float64 // squared norm of the difference to the reference
	Norm2  float64 // squared norm of the reference
	Value  float64 // ranking measure
}

// Errors are the element errors of one coarse space.
type Errors struct {
	Type     ErrorType
	Elements []ElementError
	Total2   float64
	Norm2    float64
}

// NewErrors totals element contributions and ranks them by typ.
func NewErrors(typ ErrorType, elements []ElementError) (es *Errors) {
	es = &Errors{Type: typ, Elements: elements}
	for _, e := range elements {
		es.Total2 += e.Error2
		es.Norm2 += e.Norm2
	}
	for i := range es.Elements {
		e := &es.Elements[i]
		switch {
		case typ == RelativeErrorToElementNorm && e.Norm2 > 0:
			e.Value = e.Error2 / e.Norm2
		case typ == RelativeErrorToGlobalNorm && es.Norm2 > 0:
			e.Value = e.Error2 / es.Norm2
		default:
			e.Value = e.Error2
		}
	}
	return
}

// RelativeError is the norm of the error over the norm of the reference, or
// the absolute error when the reference vanishes.
func (es *Errors) RelativeError() float64 {
	if es.Norm2 == 0 {
		return math.Sqrt(es.Total2)
	}
	return math.Sqrt(es.Total2 / es.Norm2)
}

// Sorted returns the element errors from largest to smallest ranking value.
func (es *Errors) Sorted() (s []ElementError) {
	s = append(s, es.Elements...)
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Value != s[j].Value {
			return s[i].Value > s[j].Value
		}
		return s[i].ID < s[j].ID
	})
	return
}

// ErrorCalculator integrates the difference between a coarse and a
// reference solution over every active coarse element.
type ErrorCalculator[S types.Scalar] struct {
	Norm Norm
	Type ErrorType
}

func NewErrorCalculator[S types.Scalar](norm Norm, typ ErrorType) *ErrorCalculator[S] {
	return &ErrorCalculator[S]{Norm: norm, Type: typ}
}

func density[S types.Scalar](norm Norm, v, dx, dy S) (d float64) {
	d = types.AbsSquared(v)
	if norm == H1Norm {
		d += types.AbsSquared(dx) + types.AbsSquared(dy)
	}
	return
}

// Calculate compares coarse against ref. Both must derive from the same
// base mesh.
func (ec *ErrorCalculator[S]) Calculate(coarse, ref *meshfn.Solution[S]) *Errors {
	var (
		uc, ur = coarse.Copy(), ref.Copy()
		meshes = []*mesh.Mesh{ur.Mesh()}
		active = coarse.Space().Mesh().Active()
		elems  = make([]ElementError, len(active))
	)
	defer uc.Close()
	defer ur.Close()
	for i, e := range active {
		elems[i].ID = e.ID
		uc.SetActiveElement(e)
		for _, c := range meshfn.Traverse(e, meshes) {
			re := c.Elements[0]
			if ur.ActiveElement() != re {
				ur.SetActiveElement(re)
			}
			uc.PushPath(c.Path)
			ur.PushPath(c.Paths[0])
			var (
				order  = uc.ElementOrder(e) + ur.ElementOrder(re) + 2
				g      = uc.Geometry(order)
				vc, vr = uc.Values(order, 0), ur.Values(order, 0)
			)
			for q := 0; q < g.N; q++ {
				elems[i].Error2 += g.W[q] * density(ec.Norm, vr.Val[q]-vc.Val[q], vr.Dx[q]-vc.Dx[q], vr.Dy[q]-vc.Dy[q])
				elems[i].Norm2 += g.W[q] * density(ec.Norm, vr.Val[q], vr.Dx[q], vr.Dy[q])
			}
			uc.PopPath(len(c.Path))
			ur.PopPath(len(c.Paths[0]))
		}
	}
	return NewErrors(ec.Type, elems)
}

func ParseNorm(s string) (Norm, error) { return projection.ParseNorm(s) }
