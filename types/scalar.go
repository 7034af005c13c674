package types

import (
	"math"
	"math/cmplx"
)

// Scalar is the coefficient type of a discrete field. Real and complex
// problems are separate instantiations of the same generic code.
type Scalar interface {
	float64 | complex128
}

func FromFloat[S Scalar](f float64) S {
	var s S
	switch p := any(&s).(type) {
	case *float64:
		*p = f
	case *complex128:
		*p = complex(f, 0)
	}
	return s
}

func Abs[S Scalar](s S) float64 {
	switch v := any(s).(type) {
	case float64:
		return math.Abs(v)
	case complex128:
		return cmplx.Abs(v)
	}
	return math.NaN()
}

// AbsSquared returns |s|² without the square root taken by Abs.
func AbsSquared[S Scalar](s S) float64 {
	switch v := any(s).(type) {
	case float64:
		return v * v
	case complex128:
		return real(v)*real(v) + imag(v)*imag(v)
	}
	return math.NaN()
}

func IsFinite[S Scalar](s S) bool {
	switch v := any(s).(type) {
	case float64:
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	case complex128:
		return !cmplx.IsNaN(v) && !cmplx.IsInf(v)
	}
	return false
}

// Scale multiplies a scalar by a real factor.
func Scale[S Scalar](s S, f float64) S {
	return s * FromFloat[S](f)
}

// IsComplex reports whether S is the complex instantiation.
func IsComplex[S Scalar]() bool {
	var s S
	_, ok := any(s).(complex128)
	return ok
}
