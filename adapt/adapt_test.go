package adapt

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/projection"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(t *testing.T, sp *space.L2Space, f meshfn.ExactFunc[float64]) *meshfn.Solution[float64] {
	t.Helper()
	c, err := projection.Project[float64](sp, meshfn.NewExactSolution(sp.Mesh(), f), L2Norm, nil)
	require.NoError(t, err)
	return meshfn.NewSolution(sp, c)
}

func constant(c float64) meshfn.ExactFunc[float64] {
	return func(_, _ float64) (v, dx, dy float64) { return c, 0, 0 }
}

func TestErrorCalculator(t *testing.T) {
	var (
		sp  = space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 2, 2, 1), shapeset.Iso(1))
		ref = space.ReferenceSpace(sp, space.DefaultReferenceOptions())
		ur  = project(t, ref, constant(2))
	)
	{ // zero coarse solution against a constant reference
		errs := NewErrorCalculator[float64](H1Norm, RelativeErrorToGlobalNorm).
			Calculate(meshfn.NewZeroSolution[float64](sp), ur)
		require.Len(t, errs.Elements, 4)
		assert.InDelta(t, 4, errs.Total2, 1e-10)
		assert.InDelta(t, 4, errs.Norm2, 1e-10)
		assert.InDelta(t, 1, errs.RelativeError(), 1e-10)
		for _, e := range errs.Elements {
			assert.InDelta(t, 1, e.Error2, 1e-10)
			assert.InDelta(t, 0.25, e.Value, 1e-10)
		}
	}
	{ // the reference projected back is exact
		errs := NewErrorCalculator[float64](L2Norm, AbsoluteError).Calculate(project(t, sp, constant(2)), ur)
		assert.InDelta(t, 0, errs.RelativeError(), 1e-10)
	}
	{
		errs := NewErrors(RelativeErrorToElementNorm, []ElementError{
			{ID: 3, Error2: 1, Norm2: 4},
			{ID: 1, Error2: 1, Norm2: 1},
			{ID: 0, Error2: 1, Norm2: 4},
		})
		sorted := errs.Sorted()
		assert.Equal(t, []int{1, 0, 3}, []int{sorted[0].ID, sorted[1].ID, sorted[2].ID})
		assert.InDelta(t, math.Sqrt(3.0/9), errs.RelativeError(), 1e-14)
	}
}

func TestStoppingCriteria(t *testing.T) {
	var (
		sorted = []ElementError{{Value: 4}, {Value: 3}, {Value: 2}, {Value: 1}}
		zero   = []ElementError{{Value: 0}, {Value: 0}}
	)
	for _, tc := range []struct {
		crit StoppingCriterion
		want int
	}{
		{Cumulative{0.5}, 2},
		{Cumulative{1}, 4},
		{SingleElement{0.5}, 3},
		{SingleElement{1}, 1},
		{FractionOfTotal{0.25}, 2},
	} {
		assert.Equal(t, tc.want, tc.crit.Count(sorted), "%#v", tc.crit)
		assert.Zero(t, tc.crit.Count(zero), "%#v", tc.crit)
		assert.Zero(t, tc.crit.Count(nil), "%#v", tc.crit)
	}
	c, err := ParseStoppingCriterion("single_element", 0.3)
	require.NoError(t, err)
	assert.Equal(t, SingleElement{0.3}, c)
	_, err = ParseStoppingCriterion("cumulative", 1.5)
	assert.Error(t, err)
	_, err = ParseStoppingCriterion("best", 0.5)
	assert.Error(t, err)
}

func TestCandidates(t *testing.T) {
	o := shapeset.Iso(1)
	assert.Equal(t, []Candidate{
		{Order: shapeset.Iso(2)}, {Order: shapeset.Iso(3)},
	}, PIso.Candidates(o, 10))
	assert.Empty(t, PIso.Candidates(o, 1))
	assert.Equal(t, []Candidate{{Split: mesh.SplitIso, Order: o}}, HIso.Candidates(o, 1))
	assert.Len(t, HAniso.Candidates(o, 10), 3)
	assert.Len(t, PAniso.Candidates(shapeset.Iso(0), 10), 8)
	assert.Len(t, HPAniso.Candidates(shapeset.Iso(0), 10), 20)
	for _, c := range HPIso.Candidates(shapeset.Order{H: 3, V: 2}, 3) {
		assert.LessOrEqual(t, c.Order.Max(), 3)
		assert.Greater(t, c.DOF(), 12)
	}

	cl, err := ParseCandList("H2D_HP_ANISO")
	require.NoError(t, err)
	assert.Equal(t, HPAniso, cl)
	_, err = ParseCandList("hh")
	assert.Error(t, err)
}

func TestSelector(t *testing.T) {
	{ // a field quadratic in x only wants one more order in x
		sp := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 1, 1, 1), shapeset.Iso(1))
		ur := project(t, space.ReferenceSpace(sp, space.DefaultReferenceOptions()),
			func(x, _ float64) (v, dx, dy float64) { return x * x, 2 * x, 0 })
		sel, err := NewProjBasedSelector[float64](L2Norm, PAniso).Select(sp, &Estimate[float64]{RefSolution: ur}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, []Selection{{ID: 0, Candidate: Candidate{Order: shapeset.Order{H: 2, V: 1}}}}, sel)
	}
	{ // a jump across x = 1/2 wants the left/right split
		sp := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 1, 1, 1), shapeset.Iso(0))
		ur := project(t, space.ReferenceSpace(sp, space.ReferenceOptions{Split: mesh.SplitIso}),
			func(x, _ float64) (v, dx, dy float64) {
				if x < 0.5 {
					return 1, 0, 0
				}
				return 3, 0, 0
			})
		sel, err := NewProjBasedSelector[float64](H1Norm, HAniso).Select(sp, &Estimate[float64]{RefSolution: ur}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, []Selection{{ID: 0, Candidate: Candidate{Split: mesh.SplitVertical, Order: shapeset.Iso(0)}}}, sel)
	}
	{ // nothing admissible at the order limit, the element is skipped
		sp := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 1, 1, 1), shapeset.Iso(1))
		ur := project(t, space.ReferenceSpace(sp, space.DefaultReferenceOptions()), constant(1))
		s := NewProjBasedSelector[float64](L2Norm, PIso)
		s.MaxOrder = 1
		sel, err := s.Select(sp, &Estimate[float64]{RefSolution: ur}, []int{0})
		require.NoError(t, err)
		assert.Empty(t, sel)
	}
}

func TestApply(t *testing.T) {
	sp := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 2, 2, 1), shapeset.Iso(1))
	next, err := Apply(sp, []Selection{
		{ID: 0, Candidate: Candidate{Split: mesh.SplitIso, Order: shapeset.Iso(2)}},
		{ID: 1, Candidate: Candidate{Order: shapeset.Order{H: 3, V: 1}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 16, sp.NDOF())
	assert.Equal(t, 4*9+8+4+4, next.NDOF())
	assert.Equal(t, 7, next.Mesh().NumActive())
	assert.Equal(t, shapeset.Order{H: 3, V: 1}, next.Order(1))
	for _, son := range next.Mesh().Element(0).Sons {
		assert.Equal(t, shapeset.Iso(2), next.Order(son.ID))
	}

	_, err = Apply(sp, []Selection{
		{ID: 2, Candidate: Candidate{Split: mesh.SplitIso, Order: shapeset.Iso(1)}},
		{ID: 2, Candidate: Candidate{Split: mesh.SplitIso, Order: shapeset.Iso(1)}},
	})
	assert.Error(t, err)
}

// halving reports a relative error of 2^-step without solving anything.
type halving struct{ calls int }

func (h *halving) Estimate(step int, sp *space.L2Space) (*Estimate[float64], error) {
	h.calls++
	var (
		r      = math.Pow(0.5, float64(step))
		active = sp.Mesh().Active()
		elems  = make([]ElementError, len(active))
		n      = float64(len(active))
	)
	for i, e := range active {
		elems[i] = ElementError{ID: e.ID, Error2: r * r / n, Norm2: 1 / n}
	}
	return &Estimate[float64]{
		Solution: meshfn.NewZeroSolution[float64](sp),
		Errors:   NewErrors(AbsoluteError, elems),
	}, nil
}

// raiseOrder refines every flagged element by one order.
type raiseOrder struct{}

func (raiseOrder) Select(sp *space.L2Space, _ *Estimate[float64], ids []int) (sel []Selection, _ error) {
	for _, id := range ids {
		sel = append(sel, Selection{ID: id, Candidate: Candidate{Order: sp.Order(id).Add(1)}})
	}
	return
}

func syntheticController(t *testing.T, est Estimator[float64], sel Selector[float64], tune func(*Config[float64])) *Controller[float64] {
	cfg := DefaultConfig[float64]()
	cfg.Estimator, cfg.Selector = est, sel
	cfg.ErrStop = 1e-3
	if tune != nil {
		tune(&cfg)
	}
	c, err := NewController(discrete.NewWeakForm[float64](), cfg)
	require.NoError(t, err)
	return c
}

func TestTerminationOnHalvingErrors(t *testing.T) {
	var (
		est = &halving{}
		sp  = space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 2, 2, 1), shapeset.Iso(1))
	)
	res, err := syntheticController(t, est, raiseOrder{}, nil).Run(sp)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Steps)
	assert.Equal(t, 10, est.calls)
	assert.LessOrEqual(t, res.RelativeError, 1e-3)
	require.Len(t, res.History, 10)
	for i := 1; i < len(res.History); i++ {
		assert.Less(t, res.History[i].RelativeError, res.History[i-1].RelativeError)
		assert.Greater(t, res.History[i].CoarseNDOF, res.History[i-1].CoarseNDOF)
	}
	assert.Zero(t, res.History[9].Refined)
}

func TestStepLimit(t *testing.T) {
	sp := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 1, 1, 1), shapeset.Iso(1))
	res, err := syntheticController(t, &halving{}, raiseOrder{}, func(cfg *Config[float64]) {
		cfg.MaxSteps = 3
	}).Run(sp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNonConvergence))
	assert.Equal(t, 3, res.Steps)
	assert.InDelta(t, 0.125, res.RelativeError, 1e-15)
	assert.NotNil(t, res.Solution)
}

// stuck never improves and hands the selector a vanishing reference.
type stuck struct{}

func (stuck) Estimate(_ int, sp *space.L2Space) (*Estimate[float64], error) {
	var elems []ElementError
	for _, e := range sp.Mesh().Active() {
		elems = append(elems, ElementError{ID: e.ID, Error2: 1, Norm2: 1})
	}
	ref := space.ReferenceSpace(sp, space.DefaultReferenceOptions())
	return &Estimate[float64]{
		Solution:    meshfn.NewZeroSolution[float64](sp),
		RefSolution: meshfn.NewZeroSolution[float64](ref),
		Errors:      NewErrors(AbsoluteError, elems),
	}, nil
}

func TestRefinementExhausted(t *testing.T) {
	sp := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 2, 1, 1), shapeset.Iso(space.MaxOrder))
	res, err := syntheticController(t, stuck{}, nil, func(cfg *Config[float64]) {
		cfg.CandList = PIso
	}).Run(sp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRefinementExhausted))
	var se *types.SolverError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Iteration)
	assert.InDelta(t, 1, se.Norm, 1e-15)
	assert.Same(t, sp, res.Space)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig[float64]()
	require.NoError(t, cfg.Validate())
	cfg.ErrStop = 0
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig[float64]()
	cfg.Stopping = nil
	_, err := NewController(discrete.NewWeakForm[float64](), cfg)
	assert.Error(t, err)
}

// l2Fit is the weak form of u = f, with f the first external function.
func l2Fit() *discrete.WeakForm[float64] {
	wf := discrete.NewWeakForm[float64]()
	wf.AddMatrixForm(discrete.MatrixForm[float64]{Name: "mass", Fn: func(fd *discrete.FormData[float64]) float64 {
		return fd.Integrate(func(q int) float64 { return fd.U.Val[q] * fd.V.Val[q] })
	}})
	wf.AddVectorForm(discrete.VectorForm[float64]{Name: "fit", Fn: func(fd *discrete.FormData[float64]) float64 {
		return fd.Integrate(func(q int) float64 { return (fd.Prev.Val[q] - fd.Ext[0].Val[q]) * fd.V.Val[q] })
	}})
	return wf
}

func TestAdaptiveFit(t *testing.T) {
	var (
		msh = mesh.NewRectangle(0, 0, 1, 1, 2, 2, 1)
		f   = func(x, y float64) (v, dx, dy float64) {
			e := math.Exp(x)
			return e * math.Sin(2*y), e * math.Sin(2*y), 2 * e * math.Cos(2*y)
		}
		cfg = DefaultConfig[float64]()
	)
	cfg.Norm = L2Norm
	cfg.ErrStop = 1e-4
	cfg.MaxSteps = 15
	ctl, err := NewController(l2Fit(), cfg)
	require.NoError(t, err)
	ctl.Problem().SetExternal(meshfn.NewExactSolution(msh, f))
	res, err := ctl.Run(space.NewL2Space(msh, shapeset.Iso(1)))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.RelativeError, 1e-4)
	assert.Greater(t, res.Steps, 1)
	for _, pt := range [][2]float64{{0.2, 0.3}, {0.9, 0.6}} {
		got, ok := res.RefSolution.ValueAt(pt[0], pt[1])
		require.True(t, ok)
		want, _, _ := f(pt[0], pt[1])
		assert.InDelta(t, want, got, 1e-3)
	}
}

func TestSingularJacobian(t *testing.T) {
	wf := discrete.NewWeakForm[float64]()
	wf.AddMatrixForm(discrete.MatrixForm[float64]{Name: "zero", Fn: func(*discrete.FormData[float64]) float64 { return 0 }})
	wf.AddVectorForm(discrete.VectorForm[float64]{Name: "load", Fn: func(fd *discrete.FormData[float64]) float64 {
		return fd.Integrate(func(q int) float64 { return fd.V.Val[q] })
	}})
	ctl, err := NewController(wf, DefaultConfig[float64]())
	require.NoError(t, err)
	initial := space.NewL2Space(mesh.NewRectangle(0, 0, 1, 1, 2, 2, 1), shapeset.Iso(1))
	res, err := ctl.Run(initial)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrLinearSolveFailure))
	assert.True(t, errors.Is(err, algebra.ErrSingular))
	assert.Same(t, initial, res.Space)
	assert.Zero(t, res.Steps)
	assert.Nil(t, res.Solution)
	assert.Empty(t, res.History)
}

// complexFit is the weak form of u = f for complex fields.
func complexFit() *discrete.WeakForm[complex128] {
	wf := discrete.NewWeakForm[complex128]()
	wf.AddMatrixForm(discrete.MatrixForm[complex128]{Name: "mass", Fn: func(fd *discrete.FormData[complex128]) complex128 {
		return fd.Integrate(func(q int) complex128 { return complex(fd.U.Val[q]*fd.V.Val[q], 0) })
	}})
	wf.AddVectorForm(discrete.VectorForm[complex128]{Name: "fit", Fn: func(fd *discrete.FormData[complex128]) complex128 {
		return fd.Integrate(func(q int) complex128 {
			return types.Scale(fd.Prev.Val[q]-fd.Ext[0].Val[q], fd.V.Val[q])
		})
	}})
	return wf
}

func TestSolveCoarse(t *testing.T) {
	var (
		msh = mesh.NewRectangle(0, 0, 1, 1, 2, 2, 1)
		f   = func(x, y float64) (v, dx, dy complex128) {
			e := complex(math.Exp(x), 0) * complex(1, 2)
			return e * complex(math.Sin(2*y), 0), e * complex(math.Sin(2*y), 0), e * complex(2*math.Cos(2*y), 0)
		}
		cfg = DefaultConfig[complex128]()
	)
	cfg.Norm = L2Norm
	cfg.ErrStop = 1e-4
	cfg.MaxSteps = 15
	cfg.SolveCoarse = true
	ctl, err := NewController(complexFit(), cfg)
	require.NoError(t, err)
	ctl.Problem().SetExternal(meshfn.NewExactSolution(msh, f))
	res, err := ctl.Run(space.NewL2Space(msh, shapeset.Iso(1)))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.RelativeError, 1e-4)
	assert.Greater(t, res.Steps, 1)
	// the coarse solve lands on the fit of f itself
	for _, pt := range [][2]float64{{0.2, 0.3}, {0.9, 0.6}, {0.5, 0.5}} {
		got, ok := res.Solution.ValueAt(pt[0], pt[1])
		require.True(t, ok)
		want, _, _ := f(pt[0], pt[1])
		assert.InDelta(t, 0, cmplx.Abs(want-got), 1e-2)
	}
}
