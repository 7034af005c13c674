package projection

import (
	"testing"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poly(x, y float64) (v, dx, dy float64) {
	return x*x*y + 3*y*y - x, 2*x*y - 1, x*x + 6*y
}

func TestReproducesPolynomials(t *testing.T) {
	for _, norm := range []Norm{L2Norm, H1Norm} {
		t.Run(norm.String(), func(t *testing.T) {
			var (
				msh = mesh.NewRectangle(0, 0, 2, 1, 2, 2, 1)
				sp  = space.NewL2Space(msh, shapeset.Order{H: 2, V: 2})
				f   = meshfn.NewExactSolution(msh, poly)
			)
			c, err := Project[float64](sp, f, norm, nil)
			require.NoError(t, err)
			u := meshfn.NewSolution(sp, c)
			for _, pt := range [][2]float64{{0.1, 0.2}, {0.7, 0.9}, {1.5, 0.5}, {1.99, 0.01}} {
				got, ok := u.ValueAt(pt[0], pt[1])
				require.True(t, ok)
				want, _, _ := poly(pt[0], pt[1])
				assert.InDelta(t, want, got, 1e-9)
			}
		})
	}
}

func TestProjectionOntoSameSpace(t *testing.T) {
	var (
		msh = mesh.NewRectangle(0, 0, 1, 1, 2, 1, 1)
		sp  = space.NewL2Space(msh, shapeset.Order{H: 3, V: 1})
		c0  = make([]float64, sp.NDOF())
	)
	for i := range c0 {
		c0[i] = float64(i%5) - 1.5
	}
	c, err := Project[float64](sp, meshfn.NewSolution(sp, c0), L2Norm, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, c0, c, 1e-10)
}

func TestProjectionFromFinerMesh(t *testing.T) {
	var (
		coarse = space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 1, 1, 1), shapeset.Order{})
		fine   = space.ReferenceSpace(coarse, space.ReferenceOptions{Split: mesh.SplitIso})
		c0     = make([]float64, fine.NDOF())
	)
	require.Equal(t, 4, fine.NDOF())
	for i := range c0 {
		c0[i] = float64(i + 1)
	}
	u := meshfn.NewSolution(fine, c0)
	var mean float64
	for _, e := range fine.Mesh().Active() {
		x, y := e.Center()
		v, ok := u.ValueAt(x, y)
		require.True(t, ok)
		mean += v / 4
	}
	c, err := Project[float64](coarse, u, L2Norm, nil)
	require.NoError(t, err)
	got, ok := meshfn.NewSolution(coarse, c).ValueAt(0.3, 0.8)
	require.True(t, ok)
	assert.InDelta(t, mean, got, 1e-12)
}

func TestComplexProjection(t *testing.T) {
	var (
		msh = mesh.NewRectangle(0, 0, 1, 1, 1, 1, 1)
		sp  = space.NewL2Space(msh, shapeset.Order{H: 1, V: 1})
		f   = meshfn.NewExactSolution(msh, func(x, y float64) (v, dx, dy complex128) {
			return complex(x, 2*y), 1, 2i
		})
	)
	c, err := Project[complex128](sp, f, H1Norm, nil)
	require.NoError(t, err)
	got, ok := meshfn.NewSolution(sp, c).ValueAt(0.25, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.25, real(got), 1e-10)
	assert.InDelta(t, 1.0, imag(got), 1e-10)
}

func TestParseNorm(t *testing.T) {
	n, err := ParseNorm("h1")
	require.NoError(t, err)
	assert.Equal(t, H1Norm, n)
	_, err = ParseNorm("w2")
	assert.Error(t, err)
}
