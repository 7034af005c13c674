package newton

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scalarProblem is a one DOF problem R(x) = 0 that records the reuse flag
// seen by every assembly.
type scalarProblem[S types.Scalar] struct {
	R, J      func(x S) S
	reuse     bool
	seenReuse []bool
	jacCalls  int
	spaceSets int
}

func (p *scalarProblem[S]) NDOF() int { return 1 }

func (p *scalarProblem[S]) Assemble(c []S, jac *algebra.Matrix[S], res algebra.Vector[S]) error {
	p.seenReuse = append(p.seenReuse, p.reuse)
	if jac != nil {
		if p.reuse && jac.HasStructure() {
			jac.Zero()
		} else {
			jac.Resize(1)
			b := algebra.NewBuilder(1)
			b.Add(0, 0)
			jac.SetStructure(b)
		}
		jac.Add(0, 0, p.J(c[0]))
		p.jacCalls++
	}
	if res != nil {
		res[0] = p.R(c[0])
	}
	return nil
}

func (p *scalarProblem[S]) SetReuseStructure(reuse bool) { p.reuse = reuse }
func (p *scalarProblem[S]) ReuseStructure() bool         { return p.reuse }

// SetSpace deliberately leaves the reuse flag alone.
func (p *scalarProblem[S]) SetSpace(*space.L2Space) { p.spaceSets++ }

// linearProblem is R(x) = A x - b.
type linearProblem struct {
	A [][]float64
	b []float64
}

func (p *linearProblem) NDOF() int              { return len(p.b) }
func (p *linearProblem) SetReuseStructure(bool) {}
func (p *linearProblem) ReuseStructure() bool   { return false }
func (p *linearProblem) Assemble(c []float64, jac *algebra.Matrix[float64], res algebra.Vector[float64]) error {
	n := len(p.b)
	if jac != nil {
		jac.Resize(n)
		b := algebra.NewBuilder(n)
		for i := range p.A {
			for j := range p.A[i] {
				b.Add(i, j)
			}
		}
		jac.SetStructure(b)
		for i := range p.A {
			for j, v := range p.A[i] {
				jac.Add(i, j, v)
			}
		}
	}
	if res != nil {
		for i := range p.A {
			res[i] = -p.b[i]
			for j, v := range p.A[i] {
				res[i] += v * c[j]
			}
		}
	}
	return nil
}

func newSolver[S types.Scalar](t *testing.T, asm Assembler[S], cfg Config) *Solver[S] {
	s, err := New[S](asm, &algebra.Direct[S]{}, cfg)
	require.NoError(t, err)
	return s
}

func TestEndToEndScalar(t *testing.T) {
	p := &scalarProblem[float64]{
		R: func(x float64) float64 { return x - 5 },
		J: func(float64) float64 { return 1 },
	}
	cfg := DefaultConfig()
	cfg.ResidualAbsTol = 1e-10
	cfg.MaxIterations = 10
	s := newSolver[float64](t, p, cfg)
	r, err := s.Solve([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, Converged, r.Status)
	assert.Equal(t, 1, r.Iterations)
	assert.Equal(t, []float64{5}, r.Solution)
	assert.Equal(t, 0., r.ResidualNorm)
	assert.Equal(t, []float64{5, 0}, r.ResidualHistory)
}

func TestLinearConvergesInOneIteration(t *testing.T) {
	p := &linearProblem{
		A: [][]float64{{4, 1, 0}, {1, 3, -1}, {0, -1, 2}},
		b: []float64{1, 2, 3},
	}
	for _, tol := range []float64{1e-2, 1e-8, 1e-12} {
		cfg := DefaultConfig()
		cfg.ResidualAbsTol = tol
		s := newSolver[float64](t, p, cfg)
		r, err := s.Solve(nil)
		require.NoError(t, err)
		assert.Equal(t, 1, r.Iterations)

		A := algebra.NewMatrix[float64](3)
		require.NoError(t, p.Assemble(make([]float64, 3), A, nil))
		x, err := (&algebra.Direct[float64]{}).Solve(A, p.b)
		require.NoError(t, err)
		for i := range x {
			assert.InDelta(t, x[i], r.Solution[i], 1e-14)
		}
	}
}

func TestReuseClearedOnSpaceChange(t *testing.T) {
	p := &scalarProblem[float64]{
		R: func(x float64) float64 { return x*x*x - 8 },
		J: func(x float64) float64 { return 3 * x * x },
	}
	s := newSolver[float64](t, p, DefaultConfig())
	r, err := s.Solve([]float64{1})
	require.NoError(t, err)
	require.Greater(t, r.Iterations, 2)
	assert.False(t, p.seenReuse[0])
	assert.True(t, p.seenReuse[len(p.seenReuse)-1])
	assert.True(t, p.ReuseStructure())

	m := mesh.NewRectangle(0, 0, 1, 1, 1, 1, 0)
	s.SetSpace(space.NewL2Space(m, shapeset.Iso(0)))
	assert.Equal(t, 1, p.spaceSets)
	assert.False(t, p.ReuseStructure())
	calls := len(p.seenReuse)
	_, err = s.Solve([]float64{1})
	require.NoError(t, err)
	assert.False(t, p.seenReuse[calls], "first assembly after a space change must not reuse")

	p.SetReuseStructure(true)
	s.SetWeakForm(nil)
	assert.False(t, p.ReuseStructure())
}

func TestJacobianReuse(t *testing.T) {
	p := &scalarProblem[float64]{
		R: func(x float64) float64 { return x + 0.1*x*x*x - 2 },
		J: func(x float64) float64 { return 1 + 0.3*x*x },
	}
	cfg := DefaultConfig()
	cfg.ResidualAbsTol = 1e-12
	cfg.ReuseJacobian = true
	s := newSolver[float64](t, p, cfg)
	r, err := s.Solve(nil)
	require.NoError(t, err)
	assert.Equal(t, Converged, r.Status)
	assert.Less(t, r.JacobianAssemblies, r.Iterations)
	assert.Equal(t, r.JacobianAssemblies, p.jacCalls)
	x := r.Solution[0]
	assert.InDelta(t, 0., x+0.1*x*x*x-2, 1e-12)

	// A space change drops the stored Jacobian too
	s.SetSpace(nil)
	r, err = s.Solve(nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.JacobianAssemblies, 1)
}

func TestConjunctiveCriteria(t *testing.T) {
	newProblem := func() *scalarProblem[float64] {
		return &scalarProblem[float64]{
			R: func(x float64) float64 { return x*x - 4 },
			J: func(x float64) float64 { return 2 * x },
		}
	}
	cfg := DefaultConfig()
	cfg.ResidualAbsTol = 1e-1
	cfg.IncrementAbsTol = 1e-12
	anyRes, err := newSolver[float64](t, newProblem(), cfg).Solve([]float64{3})
	require.NoError(t, err)
	cfg.RequireAll = true
	allRes, err := newSolver[float64](t, newProblem(), cfg).Solve([]float64{3})
	require.NoError(t, err)
	assert.Less(t, anyRes.Iterations, allRes.Iterations)
	assert.LessOrEqual(t, allRes.IncrementNorm, 1e-12)
	assert.LessOrEqual(t, allRes.ResidualNorm, 1e-1)

	// Relative residual
	cfg = DefaultConfig()
	cfg.ResidualAbsTol = 0
	cfg.ResidualRelTol = 1e-6
	r, err := newSolver[float64](t, newProblem(), cfg).Solve([]float64{3})
	require.NoError(t, err)
	assert.LessOrEqual(t, r.ResidualNorm, 1e-6*r.ResidualHistory[0])
}

func TestFailures(t *testing.T) {
	{ // Iteration bound keeps the last iterate but never reports success
		p := &scalarProblem[float64]{
			R: func(x float64) float64 { return x*x - 2 },
			J: func(x float64) float64 { return 2 * x },
		}
		cfg := DefaultConfig()
		cfg.ResidualAbsTol = 1e-15
		cfg.MaxIterations = 2
		r, err := newSolver[float64](t, p, cfg).Solve([]float64{1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrNonConvergence))
		assert.Equal(t, MaxIterExceeded, r.Status)
		assert.Equal(t, 2, r.Iterations)
		assert.InDelta(t, 17./12, r.Solution[0], 1e-15)
		var se *types.SolverError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 2, se.Iteration)
		assert.Equal(t, r.ResidualNorm, se.Norm)
	}
	{ // Growing residual
		p := &scalarProblem[float64]{
			R: func(x float64) float64 { return math.Cbrt(x) },
			J: func(x float64) float64 { return 1 / (3 * math.Cbrt(x*x)) },
		}
		cfg := DefaultConfig()
		cfg.MaxAllowedResidualNorm = 10
		r, err := newSolver[float64](t, p, cfg).Solve([]float64{1})
		assert.True(t, errors.Is(err, types.ErrDivergence))
		assert.Equal(t, Diverged, r.Status)
	}
	{ // Non-finite residual
		p := &scalarProblem[float64]{
			R: func(x float64) float64 { return math.Log(x) },
			J: func(x float64) float64 { return 1 / x },
		}
		r, err := newSolver[float64](t, p, DefaultConfig()).Solve([]float64{5})
		assert.True(t, errors.Is(err, types.ErrDivergence))
		assert.Equal(t, Diverged, r.Status)
	}
	{ // Singular Jacobian
		p := &scalarProblem[float64]{
			R: func(x float64) float64 { return 1 },
			J: func(x float64) float64 { return 0 },
		}
		r, err := newSolver[float64](t, p, DefaultConfig()).Solve(nil)
		assert.True(t, errors.Is(err, types.ErrLinearSolveFailure))
		assert.True(t, errors.Is(err, algebra.ErrSingular))
		assert.Equal(t, Diverged, r.Status)
		assert.Equal(t, 0, r.Iterations)
	}
	{ // Bad initial guess and configuration
		p := &scalarProblem[float64]{}
		_, err := newSolver[float64](t, p, DefaultConfig()).Solve([]float64{1, 2})
		assert.True(t, errors.Is(err, types.ErrPreconditionViolation))
		cfg := DefaultConfig()
		cfg.ResidualAbsTol = 0
		_, err = New[float64](p, &algebra.Direct[float64]{}, cfg)
		assert.Error(t, err)
		cfg = DefaultConfig()
		cfg.Damping = 0
		_, err = New[float64](p, &algebra.Direct[float64]{}, cfg)
		assert.Error(t, err)
	}
}

func TestComplexNewton(t *testing.T) {
	p := &scalarProblem[complex128]{
		R: func(z complex128) complex128 { return z*z + 1 },
		J: func(z complex128) complex128 { return 2 * z },
	}
	cfg := DefaultConfig()
	cfg.ResidualAbsTol = 1e-13
	r, err := newSolver[complex128](t, p, cfg).Solve([]complex128{0.5 + 0.5i})
	require.NoError(t, err)
	assert.Less(t, cmplx.Abs(r.Solution[0]-1i), 1e-12)
}

func TestDamping(t *testing.T) {
	p := &scalarProblem[float64]{
		R: func(x float64) float64 { return x - 5 },
		J: func(float64) float64 { return 1 },
	}
	cfg := DefaultConfig()
	cfg.Damping = 0.5
	cfg.ResidualAbsTol = 1e-3
	r, err := newSolver[float64](t, p, cfg).Solve(nil)
	require.NoError(t, err)
	// Each step halves the residual
	assert.Equal(t, 13, r.Iterations)
	assert.Equal(t, 5*math.Pow(0.5, 13), r.ResidualNorm)
}

func TestDiscreteProblem(t *testing.T) {
	// u + u^3 = 10 has the root u = 2
	var (
		m  = mesh.NewRectangle(0, 0, 1, 1, 2, 2, 0)
		sp = space.NewL2Space(m, shapeset.Iso(2))
		wf = discrete.NewWeakForm[float64]()
	)
	wf.AddMatrixForm(discrete.MatrixForm[float64]{
		Order: func(p, _ int) int { return 4 * p },
		Fn: func(fd *discrete.FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 {
				u := fd.Prev.Val[q]
				return (1 + 3*u*u) * fd.U.Val[q] * fd.V.Val[q]
			})
		},
	})
	wf.AddVectorForm(discrete.VectorForm[float64]{
		Order: func(p, _ int) int { return 4 * p },
		Fn: func(fd *discrete.FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 {
				u := fd.Prev.Val[q]
				return (u + u*u*u - 10) * fd.V.Val[q]
			})
		},
	})
	prob := discrete.New(wf, sp, discrete.Options{Workers: 2})
	s := newSolver[float64](t, prob, DefaultConfig())
	r, err := s.Solve(nil)
	require.NoError(t, err)
	assert.Equal(t, Converged, r.Status)
	u := meshfn.NewSolution(sp, r.Solution)
	v, ok := u.ValueAt(0.3, 0.8)
	require.True(t, ok)
	assert.InDelta(t, 2., v, 1e-6)
	assert.Equal(t, 1, prob.StructureBuilds())
}
