package discrete

import (
	"errors"
	"math"
	"testing"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// massForm is the L2 projection of the first external function,
// residual (u - f, v).
func massForm() *WeakForm[float64] {
	wf := NewWeakForm[float64]()
	wf.AddMatrixForm(MatrixForm[float64]{
		Name: "mass",
		Fn: func(fd *FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 { return fd.U.Val[q] * fd.V.Val[q] })
		},
	})
	wf.AddVectorForm(VectorForm[float64]{
		Name:  "source",
		Order: func(p, pExt int) int { return 2*p + 4 },
		Fn: func(fd *FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 { return (fd.Prev.Val[q] - fd.Ext[0].Val[q]) * fd.V.Val[q] })
		},
	})
	return wf
}

func quadratic(x, y float64) (v, dx, dy float64) { return x*y + x, y + 1, x }

func TestMassMatrix(t *testing.T) {
	var (
		m   = mesh.NewRectangle(0, 0, 2, 1, 2, 1, 0)
		sp  = space.NewL2Space(m, shapeset.Order{H: 2, V: 1})
		p   = New(massForm(), sp, Options{})
		jac = algebra.NewMatrix[float64](0)
		res = algebra.NewVector[float64](sp.NDOF())
	)
	p.SetExternal(meshfn.NewExactSolution[float64](m, quadratic))
	require.NoError(t, p.Assemble(make([]float64, sp.NDOF()), jac, res))
	// Orthonormal basis on unit squares, det J = 1/4
	n := sp.NDOF()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			exact := 0.
			if i == j {
				exact = 0.25
			}
			assert.InDeltaf(t, exact, jac.At(i, j), 1e-14, "(%d,%d)", i, j)
		}
	}
	assert.Equal(t, 2*6*6, jac.NNZ())
	// Constant basis function is 1/2, so the first residual entry is
	// -(1/2) int f over element 0
	assert.InDelta(t, -0.5*(0.25+0.5), res[0], 1e-13)
}

func TestReuseStructure(t *testing.T) {
	var (
		m   = mesh.NewRectangle(0, 0, 1, 1, 2, 2, 0)
		sp  = space.NewL2Space(m, shapeset.Iso(1))
		p   = New(massForm(), sp, Options{})
		jac = algebra.NewMatrix[float64](0)
	)
	p.SetExternal(meshfn.NewConstant(m, 1.))
	coeffs := make([]float64, sp.NDOF())
	require.NoError(t, p.Assemble(coeffs, jac, nil))
	assert.False(t, p.LastReuse())
	p.SetReuseStructure(true)
	require.NoError(t, p.Assemble(coeffs, jac, nil))
	assert.True(t, p.LastReuse())
	assert.Equal(t, 1, p.StructureBuilds())
	before := jac.Dense()

	// Renumbering defeats the flag
	sp.SetOrder(0, shapeset.Iso(2))
	coeffs = make([]float64, sp.NDOF())
	require.NoError(t, p.Assemble(coeffs, jac, nil))
	assert.False(t, p.LastReuse())
	assert.Equal(t, 2, p.StructureBuilds())
	assert.NotEqual(t, len(before), len(jac.Dense()))

	// A new space clears the flag itself
	p.SetSpace(space.ReferenceSpace(sp, space.DefaultReferenceOptions()))
	assert.False(t, p.ReuseStructure())
	p.SetReuseStructure(true)
	p.SetWeakForm(massForm())
	assert.False(t, p.ReuseStructure())
}

func TestParallelMatchesSerial(t *testing.T) {
	var (
		m  = mesh.NewRectangle(0, 0, 1, 1, 3, 3, 0)
		sp = space.NewL2Space(m, shapeset.Iso(2))
	)
	m.RefineAll(mesh.SplitIso)
	coeffs := make([]float64, sp.NDOF())
	for i := range coeffs {
		coeffs[i] = math.Cos(float64(i))
	}
	assemble := func(workers int) ([]float64, algebra.Vector[float64]) {
		p := New(massForm(), sp, Options{Workers: workers})
		p.SetExternal(meshfn.NewExactSolution[float64](m, quadratic))
		jac := algebra.NewMatrix[float64](0)
		res := algebra.NewVector[float64](sp.NDOF())
		require.NoError(t, p.Assemble(coeffs, jac, res))
		return jac.Dense(), res
	}
	jSerial, rSerial := assemble(1)
	jPar, rPar := assemble(4)
	assert.Equal(t, jSerial, jPar)
	assert.Equal(t, rSerial, rPar)
}

func TestExternalOnOtherMesh(t *testing.T) {
	var (
		coarse = mesh.NewRectangle(0, 0, 1, 1, 2, 1, 0)
		fine   = coarse.Copy()
		sp     = space.NewL2Space(coarse, shapeset.Iso(2))
	)
	fine.RefineAll(mesh.SplitIso)
	require.NoError(t, fine.Refine(fine.Active()[0].ID, mesh.SplitHorizontal))

	residual := func(ext meshfn.Function[float64]) algebra.Vector[float64] {
		p := New(massForm(), sp, Options{})
		p.SetExternal(ext)
		res := algebra.NewVector[float64](sp.NDOF())
		require.NoError(t, p.Assemble(make([]float64, sp.NDOF()), nil, res))
		return res
	}
	same := residual(meshfn.NewExactSolution[float64](coarse, quadratic))
	split := residual(meshfn.NewExactSolution[float64](fine, quadratic))
	require.Len(t, split, len(same))
	for i := range same {
		assert.InDelta(t, same[i], split[i], 1e-14)
	}
}

func TestMarkersAndFailures(t *testing.T) {
	verts := [][2]float64{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}}
	m, err := mesh.NewMesh(verts, [][4]int{{0, 1, 4, 3}, {1, 2, 5, 4}}, []int{1, 2})
	require.NoError(t, err)
	sp := space.NewL2Space(m, shapeset.Iso(0))
	wf := NewWeakForm[float64]()
	wf.AddVectorForm(VectorForm[float64]{
		Markers: []int{2},
		Fn: func(fd *FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 { return fd.V.Val[q] })
		},
	})
	p := New(wf, sp, Options{})
	res := algebra.NewVector[float64](2)
	require.NoError(t, p.Assemble([]float64{0, 0}, nil, res))
	assert.Equal(t, 0., res[0])
	assert.InDelta(t, 0.5, res[1], 1e-15)

	err = p.Assemble([]float64{0}, nil, res)
	assert.True(t, errors.Is(err, types.ErrPreconditionViolation))
	err = p.Assemble([]float64{0, 0}, nil, algebra.NewVector[float64](3))
	assert.True(t, errors.Is(err, types.ErrAssemblyFailure))

	wf.AddMatrixForm(MatrixForm[float64]{
		Fn: func(*FormData[float64]) float64 { return math.NaN() },
	})
	err = p.Assemble([]float64{0, 0}, algebra.NewMatrix[float64](0), nil)
	assert.True(t, errors.Is(err, types.ErrAssemblyFailure))
}

func TestComplexAssembly(t *testing.T) {
	var (
		m  = mesh.NewRectangle(0, 0, 1, 1, 1, 1, 0)
		sp = space.NewL2Space(m, shapeset.Iso(1))
		wf = NewWeakForm[complex128]()
	)
	wf.AddMatrixForm(MatrixForm[complex128]{
		Fn: func(fd *FormData[complex128]) complex128 {
			return fd.Integrate(func(q int) complex128 { return complex(fd.U.Val[q]*fd.V.Val[q], fd.U.Val[q]*fd.V.Val[q]) })
		},
	})
	p := New(wf, sp, Options{})
	jac := algebra.NewMatrix[complex128](0)
	require.NoError(t, p.Assemble(make([]complex128, 4), jac, nil))
	assert.InDelta(t, 0.25, real(jac.At(2, 2)), 1e-14)
	assert.InDelta(t, 0.25, imag(jac.At(2, 2)), 1e-14)
}
