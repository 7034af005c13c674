package Reaction2D

import (
	"bytes"
	"testing"

	"github.com/notargets/gohpfem/InputParameters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReaction(t *testing.T, tune func(ip *InputParameters.InputParameters2D)) *Reaction2D {
	t.Helper()
	ip := InputParameters.NewInputParameters2D()
	ip.Steepness = 5
	if tune != nil {
		tune(ip)
	}
	r, err := NewReaction2D(ip, nil, nil)
	require.NoError(t, err)
	return r
}

func TestExactGradient(t *testing.T) {
	var (
		r = newReaction(t, nil)
		h = 1e-6
	)
	for _, pt := range [][2]float64{{0.3, 0.4}, {0.8, 0.1}} {
		_, ux, uy := r.Exact(pt[0], pt[1])
		up, _, _ := r.Exact(pt[0]+h, pt[1])
		um, _, _ := r.Exact(pt[0]-h, pt[1])
		assert.InDelta(t, (up-um)/(2*h), ux, 1e-6)
		up, _, _ = r.Exact(pt[0], pt[1]+h)
		um, _, _ = r.Exact(pt[0], pt[1]-h)
		assert.InDelta(t, (up-um)/(2*h), uy, 1e-6)
	}
}

func TestSteady(t *testing.T) {
	var (
		errs []float64
	)
	for _, order := range []int{1, 3} {
		r := newReaction(t, func(ip *InputParameters.InputParameters2D) {
			ip.PolynomialOrder = order
			ip.Workers = 2
		})
		s, err := r.Run()
		require.NoError(t, err)
		assert.Greater(t, s.Iterations, 1)
		assert.LessOrEqual(t, s.ResidualNorm, 1e-8)
		assert.Equal(t, 1, s.StructureBuilds)
		errs = append(errs, s.Error)
	}
	assert.Less(t, errs[1], errs[0])
	assert.Less(t, errs[1], 1e-2)
}

func TestTransientReusesStructure(t *testing.T) {
	r := newReaction(t, func(ip *InputParameters.InputParameters2D) {
		ip.Mode = "transient"
		ip.PolynomialOrder = 3
		ip.FinalTime, ip.TimeStep = 0.5, 0.1
	})
	s, err := r.Run()
	require.NoError(t, err)
	require.Len(t, s.Steps, 5)
	assert.Equal(t, 1, s.StructureBuilds)
	assert.InDelta(t, 0.5, s.Steps[4].Time, 1e-12)
	// first order in time
	assert.Less(t, s.Error, 0.2)

	var buf bytes.Buffer
	s.Print(&buf)
	assert.Contains(t, buf.String(), "Jacobian structure builds = 1")
}

func TestAdaptive(t *testing.T) {
	r := newReaction(t, func(ip *InputParameters.InputParameters2D) {
		ip.Mode = "adaptive"
		ip.NX, ip.NY = 2, 2
		ip.PolynomialOrder = 1
		ip.Adapt.ErrStop = 1
		ip.Adapt.MaxSteps = 15
	})
	s, err := r.Run()
	require.NoError(t, err)
	require.NotNil(t, s.Adapt)
	assert.LessOrEqual(t, s.Adapt.RelativeError, 0.01)
	assert.Greater(t, s.NDOF, 16)
	assert.Less(t, s.Error, 0.01)

	var buf bytes.Buffer
	s.Print(&buf)
	assert.Contains(t, buf.String(), "RefNDOF")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Transient")
	require.NoError(t, err)
	assert.Equal(t, Transient, m)
	_, err = ParseMode("explicit")
	assert.Error(t, err)
}
