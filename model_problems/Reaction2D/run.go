package Reaction2D

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/notargets/gohpfem/adapt"
	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/newton"
	"go.uber.org/zap"
)

type StepRecord struct {
	Step         int
	Time         float64
	Iterations   int
	ResidualNorm float64
	Error        float64
}

// Summary is the outcome of a run. Error is the relative L2 distance to the
// manufactured solution at the final time.
type Summary struct {
	Mode            Mode
	NDOF            int
	Iterations      int
	ResidualNorm    float64
	Error           float64
	StructureBuilds int
	Steps           []StepRecord
	Adapt           *adapt.Result[float64]
	Solution        *meshfn.Solution[float64]
	Elapsed         time.Duration
}

func (r *Reaction2D) Run() (s *Summary, err error) {
	start := time.Now()
	switch r.Mode {
	case Transient:
		s, err = r.RunTransient()
	case Adaptive:
		s, err = r.RunAdaptive()
	default:
		s, err = r.RunSteady()
	}
	if s != nil {
		s.Elapsed = time.Since(start)
	}
	r.log.Info("run finished",
		zap.Stringer("mode", r.Mode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return
}

func (r *Reaction2D) newSolver(p *discrete.Problem[float64]) (*newton.Solver[float64], error) {
	ls, err := algebra.NewSolver[float64](r.LinearCfg)
	if err != nil {
		return nil, err
	}
	return newton.New[float64](p, ls, r.NewtonCfg)
}

func (r *Reaction2D) options() discrete.Options {
	return discrete.Options{Workers: r.Workers, Logger: r.log, Metrics: r.metrics}
}

func (r *Reaction2D) RunSteady() (s *Summary, err error) {
	var (
		p   = discrete.New(r.WeakForm(0), r.Space, r.options())
		src = meshfn.NewExactSolution(r.Mesh, r.Source(0))
	)
	defer src.Close()
	p.SetExternal(src)
	solver, err := r.newSolver(p)
	if err != nil {
		return
	}
	res, err := solver.Solve(nil)
	s = &Summary{Mode: Steady, NDOF: r.Space.NDOF()}
	if res != nil {
		s.Iterations, s.ResidualNorm = res.Iterations, res.ResidualNorm
	}
	if err != nil {
		return
	}
	s.Solution = meshfn.NewSolution(r.Space, res.Solution)
	s.Error = RelativeErrorL2(s.Solution, r.Exact)
	s.StructureBuilds = p.StructureBuilds()
	return
}

// RunTransient marches from u = 0 to FinalTime. Every step solves on the
// same space, so the Jacobian structure is built once.
func (r *Reaction2D) RunTransient() (s *Summary, err error) {
	var (
		nsteps = max(1, int(math.Ceil(r.FinalTime/r.TimeStep-1e-12)))
		dt     = r.FinalTime / float64(nsteps)
		p      = discrete.New(r.WeakForm(dt), r.Space, r.options())
		u      = meshfn.NewZeroSolution[float64](r.Space)
	)
	s = &Summary{Mode: Transient, NDOF: r.Space.NDOF()}
	solver, err := r.newSolver(p)
	if err != nil {
		return
	}
	for n := 1; n <= nsteps; n++ {
		var (
			t   = float64(n) * dt
			src = meshfn.NewExactSolution(r.Mesh, r.Source(t))
		)
		p.SetExternal(src, u)
		res, err := solver.Solve(u.Coeffs())
		src.Close()
		if err != nil {
			return s, fmt.Errorf("time step %d: %w", n, err)
		}
		next := meshfn.NewSolution(r.Space, res.Solution)
		u.Close()
		u = next
		rec := StepRecord{
			Step:         n,
			Time:         t,
			Iterations:   res.Iterations,
			ResidualNorm: res.ResidualNorm,
			Error:        RelativeErrorL2(u, r.ExactAt(t)),
		}
		s.Steps = append(s.Steps, rec)
		s.Iterations += res.Iterations
		s.ResidualNorm, s.Error = res.ResidualNorm, rec.Error
		r.log.Debug("time step", zap.Int("step", n), zap.Float64("time", t), zap.Int("iterations", res.Iterations))
	}
	s.Solution = u
	s.StructureBuilds = p.StructureBuilds()
	return
}

func (r *Reaction2D) RunAdaptive() (s *Summary, err error) {
	ctl, err := adapt.NewController(r.WeakForm(0), r.AdaptCfg)
	if err != nil {
		return
	}
	src := meshfn.NewExactSolution(r.Mesh, r.Source(0))
	defer src.Close()
	ctl.Problem().SetExternal(src)
	res, err := ctl.Run(r.Space)
	s = &Summary{Mode: Adaptive, Adapt: res}
	if res == nil || res.Solution == nil {
		return
	}
	s.NDOF = res.Space.NDOF()
	s.Solution = res.Solution
	s.Error = RelativeErrorL2(res.Solution, r.Exact)
	for _, h := range res.History {
		s.Iterations += h.NewtonIterations
	}
	return
}

func (s *Summary) Print(w io.Writer) {
	switch s.Mode {
	case Transient:
		fmt.Fprintf(w, "%6s %10s %6s %12s %12s\n", "Step", "Time", "Iter", "Residual", "L2 Error")
		for _, st := range s.Steps {
			fmt.Fprintf(w, "%6d %10.5f %6d %12.4e %12.4e\n", st.Step, st.Time, st.Iterations, st.ResidualNorm, st.Error)
		}
	case Adaptive:
		fmt.Fprintf(w, "%6s %8s %8s %12s %8s %6s\n", "Step", "NDOF", "RefNDOF", "Error(%)", "Refined", "Iter")
		if s.Adapt != nil {
			for _, h := range s.Adapt.History {
				fmt.Fprintf(w, "%6d %8d %8d %12.5f %8d %6d\n",
					h.Step, h.CoarseNDOF, h.RefNDOF, 100*h.RelativeError, h.Refined, h.NewtonIterations)
			}
		}
	default:
		fmt.Fprintf(w, "%8s %6s %12s\n", "NDOF", "Iter", "Residual")
		fmt.Fprintf(w, "%8d %6d %12.4e\n", s.NDOF, s.Iterations, s.ResidualNorm)
	}
	fmt.Fprintf(w, "Mode = %s, NDOF = %d, Newton iterations = %d, L2 error vs exact = %10.4e, elapsed = %v\n",
		s.Mode, s.NDOF, s.Iterations, s.Error, s.Elapsed.Round(time.Millisecond))
	if s.StructureBuilds > 0 {
		fmt.Fprintf(w, "Jacobian structure builds = %d\n", s.StructureBuilds)
	}
}
