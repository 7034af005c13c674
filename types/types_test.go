package types

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalar(t *testing.T) {
	assert.Equal(t, 2.5, FromFloat[float64](2.5))
	assert.Equal(t, complex(2.5, 0), FromFloat[complex128](2.5))
	assert.Equal(t, 5., Abs(complex(3., 4.)))
	assert.Equal(t, 25., AbsSquared(complex(3., -4.)))
	assert.Equal(t, 9., AbsSquared(-3.))
	assert.Equal(t, complex(6., -8.), Scale(complex(3., -4.), 2))
	assert.True(t, IsFinite(1.))
	assert.False(t, IsFinite(math.Inf(-1)))
	assert.False(t, IsFinite(complex(math.NaN(), 0)))
	assert.True(t, IsComplex[complex128]())
	assert.False(t, IsComplex[float64]())
}

func TestSolverError(t *testing.T) {
	err := NewError(Divergence, "newton.Solve", 4, 1e8, errors.New("residual grew"))
	wrapped := fmt.Errorf("step 2: %w", err)
	assert.ErrorIs(t, wrapped, ErrDivergence)
	assert.NotErrorIs(t, wrapped, ErrNonConvergence)
	assert.Equal(t, Divergence, KindOf(wrapped))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "newton.Solve: Divergence at iteration 4 (norm 1.000000e+08): residual grew", err.Error())

	p := Precondition("space.New", "order %d out of range", 11)
	assert.ErrorIs(t, p, ErrPreconditionViolation)
	assert.Equal(t, "space.New: PreconditionViolation: order 11 out of range", p.Error())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
