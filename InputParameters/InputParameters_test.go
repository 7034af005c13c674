package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	fileInput := []byte(`
Title: Test Case
Mode: adaptive
Domain: [0, 2, -1, 1]
NX: 3
PolynomialOrder: 1
Kappa: 0.5
Newton:
  MaxIterations: 25
  ReuseJacobian: true
LinearSolver:
  Type: iterative
  Method: bicgstab
Adapt:
  ErrStop: 0.5
  CandList: h_aniso
`)
	ip := NewInputParameters2D()
	require.NoError(t, ip.Parse(fileInput))
	require.NoError(t, ip.Validate())
	assert.Equal(t, "adaptive", ip.Mode)
	assert.Equal(t, [4]float64{0, 2, -1, 1}, ip.Domain)
	assert.Equal(t, 3, ip.NX)
	// unset keys keep their defaults
	assert.Equal(t, 4, ip.NY)
	assert.Equal(t, 1e-8, ip.Newton.Tolerance)
	assert.Equal(t, 25, ip.Newton.MaxIterations)
	assert.True(t, ip.Newton.ReuseJacobian)
	assert.Equal(t, "bicgstab", ip.LinearSolver.Method)
	assert.Equal(t, "h_aniso", ip.Adapt.CandList)
	assert.Equal(t, 0.5, ip.Adapt.ErrStop)
	ip.Print()
}

func TestValidate(t *testing.T) {
	for _, in := range []string{
		"Mode: explicit",
		"PolynomialOrder: 11",
		"NX: 0",
		"Domain: [1, 0, 0, 1]",
		"Newton:\n  Damping: 1.5",
		"LinearSolver:\n  Type: pardiso",
		"Adapt:\n  Norm: Hdiv",
	} {
		ip := NewInputParameters2D()
		require.NoError(t, ip.Parse([]byte(in)), in)
		assert.Error(t, ip.Validate(), in)
	}
	assert.NoError(t, NewInputParameters2D().Validate())
}
