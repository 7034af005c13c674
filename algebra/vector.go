// Package algebra holds the sparse matrices and vectors produced by
// assembly and the linear solvers that consume them.
package algebra

import (
	"math"

	"github.com/notargets/gohpfem/types"
	"gonum.org/v1/gonum/floats"
)

type Vector[S types.Scalar] []S

func NewVector[S types.Scalar](n int) Vector[S] { return make(Vector[S], n) }

// real returns the float64 view of v when S is float64.
func (v Vector[S]) real() ([]float64, bool) {
	r, ok := any([]S(v)).([]float64)
	return r, ok
}

func (v Vector[S]) Norm2() float64 {
	if r, ok := v.real(); ok {
		return floats.Norm(r, 2)
	}
	var sum float64
	for _, s := range v {
		sum += types.AbsSquared(s)
	}
	return math.Sqrt(sum)
}

func (v Vector[S]) NormInf() (n float64) {
	for _, s := range v {
		n = math.Max(n, types.Abs(s))
	}
	return
}

func (v Vector[S]) IsFinite() bool {
	for _, s := range v {
		if !types.IsFinite(s) {
			return false
		}
	}
	return true
}

// Chainable methods, all change the receiver
func (v Vector[S]) Add(o Vector[S]) Vector[S] {
	if r, ok := v.real(); ok {
		ro, _ := o.real()
		floats.Add(r, ro)
		return v
	}
	for i := range v {
		v[i] += o[i]
	}
	return v
}

func (v Vector[S]) AddScaled(a S, o Vector[S]) Vector[S] {
	for i := range v {
		v[i] += a * o[i]
	}
	return v
}

func (v Vector[S]) Scale(a S) Vector[S] {
	for i := range v {
		v[i] *= a
	}
	return v
}

func (v Vector[S]) ChangeSign() Vector[S] {
	for i := range v {
		v[i] = -v[i]
	}
	return v
}

func (v Vector[S]) Zero() Vector[S] {
	clear(v)
	return v
}

func (v Vector[S]) Copy() Vector[S] { return append(Vector[S](nil), v...) }
