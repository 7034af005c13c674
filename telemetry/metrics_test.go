package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.NewtonIteration()
		m.NewtonSolve("converged")
		m.LinearSolve(time.Millisecond)
		m.Assembly("both", time.Millisecond)
		m.AdaptStep(0.1, 10, 40)
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
}

func TestMetrics(t *testing.T) {
	m := New(prometheus.Labels{"run": "test"})
	m.NewtonIteration()
	m.NewtonIteration()
	m.NewtonSolve("converged")
	m.AdaptStep(0.25, 12, 48)
	m.Assembly("jacobian", 2*time.Millisecond)

	assert.Equal(t, 2., testutil.ToFloat64(m.newtonIterations))
	assert.Equal(t, 1., testutil.ToFloat64(m.newtonSolves.WithLabelValues("converged")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.adaptError))
	assert.Equal(t, 48., testutil.ToFloat64(m.adaptNDOF.WithLabelValues("reference")))

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `gohpfem_newton_iterations_total{run="test"} 2`))
	assert.True(t, strings.Contains(text, "gohpfem_assembly_seconds_bucket"))
}
