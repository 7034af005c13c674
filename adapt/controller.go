package adapt

import (
	"fmt"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/newton"
	"github.com/notargets/gohpfem/projection"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/telemetry"
	"github.com/notargets/gohpfem/types"
	"go.uber.org/zap"
)

// Estimate is what one step learns about a coarse space.
type Estimate[S types.Scalar] struct {
	Solution         *meshfn.Solution[S] // on the coarse space
	RefSolution      *meshfn.Solution[S]
	Errors           *Errors
	NewtonIterations int
}

// Estimator produces the estimate of a coarse space. The controller itself
// is the default: a Newton solve on the reference space followed by a
// projection back and an error calculation.
type Estimator[S types.Scalar] interface {
	Estimate(step int, sp *space.L2Space) (*Estimate[S], error)
}

type Config[S types.Scalar] struct {
	ErrStop     float64 // relative error goal, as a fraction
	MaxSteps    int     // 0 is unbounded
	MaxDOFs     int     // 0 is unbounded
	Norm        Norm
	ErrorType   ErrorType
	Stopping    StoppingCriterion
	CandList    CandList
	RefOptions  space.ReferenceOptions
	ConvExp     float64
	SolveCoarse bool // Newton on the coarse space instead of projecting
	Workers     int
	Newton      newton.Config
	Linear      algebra.SolverConfig
	Estimator   Estimator[S]
	Selector    Selector[S]
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
}

func DefaultConfig[S types.Scalar]() Config[S] {
	return Config[S]{
		ErrStop:    1e-2,
		MaxSteps:   30,
		Norm:       H1Norm,
		ErrorType:  RelativeErrorToGlobalNorm,
		Stopping:   SingleElement{Threshold: 0.3},
		CandList:   HPAniso,
		RefOptions: space.DefaultReferenceOptions(),
		ConvExp:    1,
		Newton:     newton.DefaultConfig(),
		Linear:     algebra.DefaultSolverConfig(),
	}
}

func (cfg Config[S]) Validate() error {
	switch {
	case cfg.ErrStop <= 0:
		return fmt.Errorf("error goal must be positive, have %g", cfg.ErrStop)
	case cfg.MaxSteps < 0 || cfg.MaxDOFs < 0:
		return fmt.Errorf("step and DOF limits cannot be negative")
	case cfg.ConvExp <= 0:
		return fmt.Errorf("convergence exponent must be positive, have %g", cfg.ConvExp)
	case cfg.Stopping == nil:
		return fmt.Errorf("no stopping criterion")
	}
	return cfg.Newton.Validate()
}

// Step is the record of one adaptivity step.
type Step struct {
	Step             int
	CoarseNDOF       int
	RefNDOF          int
	RelativeError    float64
	Refined          int
	NewtonIterations int
}

// Result holds the last coarse space reached and its solutions. On failure
// it is the best state obtained before the failing step.
type Result[S types.Scalar] struct {
	Space         *space.L2Space
	Solution      *meshfn.Solution[S]
	RefSolution   *meshfn.Solution[S]
	RelativeError float64
	Steps         int
	History       []Step
}

// Controller runs the adaptivity loop for one weak form. It is not safe
// for concurrent use.
type Controller[S types.Scalar] struct {
	cfg     Config[S]
	log     *zap.Logger
	problem *discrete.Problem[S]
	newton  *newton.Solver[S]
	ls      algebra.LinearSolver[S]
	calc    *ErrorCalculator[S]
	prevRef *meshfn.Solution[S]
}

func NewController[S types.Scalar](wf *discrete.WeakForm[S], cfg Config[S]) (c *Controller[S], err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	c = &Controller[S]{
		cfg:  cfg,
		log:  cfg.Logger,
		calc: NewErrorCalculator[S](cfg.Norm, cfg.ErrorType),
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.ls, err = algebra.NewSolver[S](cfg.Linear); err != nil {
		return nil, err
	}
	c.problem = discrete.New(wf, nil, discrete.Options{Workers: cfg.Workers, Logger: cfg.Logger, Metrics: cfg.Metrics})
	if c.newton, err = newton.New[S](c.problem, c.ls, cfg.Newton); err != nil {
		return nil, err
	}
	if c.cfg.Selector == nil {
		sel := NewProjBasedSelector[S](cfg.Norm, cfg.CandList)
		sel.ConvExp, sel.Logger = cfg.ConvExp, c.log
		c.cfg.Selector = sel
	}
	if c.cfg.Estimator == nil {
		c.cfg.Estimator = c
	}
	return
}

// Problem exposes the discrete problem, for instance to install external
// functions used by the forms.
func (c *Controller[S]) Problem() *discrete.Problem[S] { return c.problem }

// Estimate solves on the reference space of sp, starting from the previous
// reference solution, and measures the coarse solution against it.
func (c *Controller[S]) Estimate(step int, sp *space.L2Space) (est *Estimate[S], err error) {
	var (
		ref   = space.ReferenceSpace(sp, c.cfg.RefOptions)
		guess = make([]S, ref.NDOF())
	)
	if c.prevRef != nil {
		if guess, err = projection.Project(ref, meshfn.Function[S](c.prevRef), c.cfg.Norm, c.ls); err != nil {
			return
		}
	}
	c.newton.SetSpace(ref)
	r, err := c.newton.Solve(guess)
	if err != nil {
		return nil, err
	}
	refSol := meshfn.NewSolution(ref, r.Solution)
	coeffs, err := projection.Project(sp, meshfn.Function[S](refSol), c.cfg.Norm, c.ls)
	if err != nil {
		return nil, err
	}
	iterations := r.Iterations
	if c.cfg.SolveCoarse {
		c.newton.SetSpace(sp)
		if r, err = c.newton.Solve(coeffs); err != nil {
			return nil, err
		}
		coeffs, iterations = r.Solution, iterations+r.Iterations
	}
	est = &Estimate[S]{
		Solution:         meshfn.NewSolution(sp, coeffs),
		RefSolution:      refSol,
		NewtonIterations: iterations,
	}
	est.Errors = c.calc.Calculate(est.Solution, refSol)
	c.prevRef = refSol
	c.log.Debug("estimated",
		zap.Int("step", step),
		zap.Int("ref_ndof", ref.NDOF()),
		zap.Int("newton_iterations", iterations))
	return
}

// Run adapts from the initial coarse space until the relative error falls
// to ErrStop. Running out of steps or DOFs is a NonConvergence error, a
// step that cannot refine any flagged element a RefinementExhausted error.
// Either way the result holds the best state reached.
func (c *Controller[S]) Run(initial *space.L2Space) (res *Result[S], err error) {
	const op = "adapt.Run"
	var (
		sp = initial
	)
	res = &Result[S]{Space: initial}
	c.prevRef = nil
	for step := 1; ; step++ {
		est, err := c.cfg.Estimator.Estimate(step, sp)
		if err != nil {
			c.log.Warn("adaptivity step failed", zap.Int("step", step), zap.Error(err))
			return res, err
		}
		var (
			relErr = est.Errors.RelativeError()
			h      = Step{
				Step:             step,
				CoarseNDOF:       sp.NDOF(),
				RelativeError:    relErr,
				NewtonIterations: est.NewtonIterations,
			}
		)
		if est.RefSolution != nil {
			h.RefNDOF = est.RefSolution.Space().NDOF()
		}
		res.Space, res.Solution, res.RefSolution = sp, est.Solution, est.RefSolution
		res.RelativeError, res.Steps = relErr, step
		c.cfg.Metrics.AdaptStep(relErr, h.CoarseNDOF, h.RefNDOF)

		done, err := c.next(op, step, sp, est)
		if err == nil && !done {
			var sel []Selection
			sorted := est.Errors.Sorted()
			n := c.cfg.Stopping.Count(sorted)
			ids := make([]int, n)
			for i := range ids {
				ids[i] = sorted[i].ID
			}
			if sel, err = c.cfg.Selector.Select(sp, est, ids); err == nil {
				switch {
				case len(sel) == 0:
					err = types.NewError(types.RefinementExhausted, op, step, relErr,
						fmt.Errorf("none of %d flagged elements has an admissible refinement, relative error %.3e above %.3e",
							n, relErr, c.cfg.ErrStop))
				default:
					h.Refined = len(sel)
					sp, err = Apply(sp, sel)
				}
			}
		}
		res.History = append(res.History, h)
		c.log.Info("adaptivity step",
			zap.Int("step", step),
			zap.Int("coarse_ndof", h.CoarseNDOF),
			zap.Int("ref_ndof", h.RefNDOF),
			zap.Float64("rel_error", relErr),
			zap.Int("refined", h.Refined))
		if done || err != nil {
			return res, err
		}
	}
}

// next tells whether the loop is finished after an estimate.
func (c *Controller[S]) next(op string, step int, sp *space.L2Space, est *Estimate[S]) (done bool, err error) {
	relErr := est.Errors.RelativeError()
	switch {
	case relErr <= c.cfg.ErrStop:
		return true, nil
	case c.cfg.MaxSteps > 0 && step >= c.cfg.MaxSteps:
		return true, types.NewError(types.NonConvergence, op, step, relErr,
			fmt.Errorf("relative error %.3e above %.3e after %d steps", relErr, c.cfg.ErrStop, step))
	case c.cfg.MaxDOFs > 0 && sp.NDOF() >= c.cfg.MaxDOFs:
		return true, types.NewError(types.NonConvergence, op, step, relErr,
			fmt.Errorf("relative error %.3e above %.3e at %d DOFs", relErr, c.cfg.ErrStop, sp.NDOF()))
	}
	return false, nil
}
