// Package newton solves the nonlinear discrete problem R(x) = 0 by Newton's
// method, J(x_k) dx = -R(x_k), x_{k+1} = x_k + damping dx.
package newton

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/types"
	"go.uber.org/zap"
)

// Assembler produces the Jacobian and residual at an iterate; either output
// may be nil. *discrete.Problem is the usual implementation.
type Assembler[S types.Scalar] interface {
	NDOF() int
	Assemble(coeffs []S, jac *algebra.Matrix[S], res algebra.Vector[S]) error
	SetReuseStructure(reuse bool)
	ReuseStructure() bool
}

// SpaceTracker is implemented by assemblers whose numbering can change, so
// the solver can tell a still valid Jacobian from a stale one.
type SpaceTracker interface {
	SpaceSeq() uint64
}

type Status uint8

const (
	Running Status = iota
	Converged
	Diverged
	MaxIterExceeded
	AssemblyFailed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case MaxIterExceeded:
		return "max_iterations"
	case AssemblyFailed:
		return "assembly_failed"
	}
	return "running"
}

type Result[S types.Scalar] struct {
	// Solution is the last iterate; it solves the problem only when Status
	// is Converged.
	Solution           []S
	Status             Status
	Iterations         int
	ResidualNorm       float64
	IncrementNorm      float64
	ResidualHistory    []float64
	JacobianAssemblies int
}

// Solver composes an assembler and a linear solver. It is not safe for
// concurrent use.
type Solver[S types.Scalar] struct {
	asm Assembler[S]
	ls  algebra.LinearSolver[S]
	cfg Config
	log *zap.Logger

	jac      *algebra.Matrix[S]
	jacValid bool
	jacSeq   uint64
}

func New[S types.Scalar](asm Assembler[S], ls algebra.LinearSolver[S], cfg Config) (s *Solver[S], err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	s = &Solver[S]{
		asm: asm,
		ls:  ls,
		cfg: cfg,
		log: cfg.Logger,
		jac: algebra.NewMatrix[S](0),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return
}

func (s *Solver[S]) Config() Config { return s.cfg }

// Invalidate forgets every reusable state: the Jacobian values here and the
// structure reuse flag of the assembler.
func (s *Solver[S]) Invalidate() {
	s.jacValid = false
	s.asm.SetReuseStructure(false)
}

// SetSpace moves the solve to another space. Nothing assembled on the old
// one is reused.
func (s *Solver[S]) SetSpace(sp *space.L2Space) {
	if ss, ok := s.asm.(interface{ SetSpace(*space.L2Space) }); ok {
		ss.SetSpace(sp)
	}
	s.Invalidate()
}

func (s *Solver[S]) SetWeakForm(wf *discrete.WeakForm[S]) {
	if sw, ok := s.asm.(interface{ SetWeakForm(*discrete.WeakForm[S]) }); ok {
		sw.SetWeakForm(wf)
	}
	s.Invalidate()
}

func (s *Solver[S]) seq() uint64 {
	if st, ok := s.asm.(SpaceTracker); ok {
		return st.SpaceSeq()
	}
	return 0
}

// Solve iterates from initialGuess, or from zero when it is nil. Failures
// return the result reached so far together with a *types.SolverError.
func (s *Solver[S]) Solve(initialGuess []S) (r *Result[S], err error) {
	const op = "newton.Solve"
	var (
		n       = s.asm.NDOF()
		x       = algebra.NewVector[S](n)
		res     = algebra.NewVector[S](n)
		res0    float64
		prevRes float64
		reused  int
		seq     = s.seq()
	)
	r = &Result[S]{Status: Running}
	if initialGuess != nil {
		if len(initialGuess) != n {
			return nil, types.NewError(types.PreconditionViolation, op, -1, 0,
				fmt.Errorf("initial guess has length %d, problem has %d DOFs", len(initialGuess), n))
		}
		copy(x, initialGuess)
	}
	if s.jac.Size() != n || seq != s.jacSeq {
		s.jacValid = false
	}
	finish := func(status Status, kind types.Kind, cause error) (*Result[S], error) {
		r.Status = status
		r.Solution = x.Copy()
		s.cfg.Metrics.NewtonSolve(status.String())
		s.log.Info("newton finished",
			zap.Stringer("status", status),
			zap.Int("iterations", r.Iterations),
			zap.Float64("residual", r.ResidualNorm),
			zap.Int("jacobians", r.JacobianAssemblies))
		if status == Converged {
			return r, nil
		}
		return r, types.NewError(kind, op, r.Iterations, r.ResidualNorm, cause)
	}

	for it := 0; ; it++ {
		var (
			start    = time.Now()
			freshJac = !(s.cfg.ReuseJacobian && s.jacValid && reused < s.cfg.MaxJacobianReuse)
			jac      *algebra.Matrix[S]
		)
		if freshJac {
			jac = s.jac
		}
		if err = s.asm.Assemble(x, jac, res); err != nil {
			s.jacValid = false
			if types.KindOf(err) == types.PreconditionViolation {
				r.Status = AssemblyFailed
				return r, err
			}
			return finish(AssemblyFailed, types.AssemblyFailure, err)
		}
		s.afterJacobian(freshJac, seq, r)
		if freshJac {
			reused = 0
		} else {
			reused++
		}

		rNorm := res.Norm2()
		r.ResidualNorm = rNorm
		r.ResidualHistory = append(r.ResidualHistory, rNorm)
		if it == 0 {
			res0 = rNorm
		}
		switch {
		case math.IsNaN(rNorm) || math.IsInf(rNorm, 0):
			return finish(Diverged, types.Divergence, errors.New("residual norm is not finite"))
		case s.cfg.MaxAllowedResidualNorm > 0 && rNorm > s.cfg.MaxAllowedResidualNorm:
			return finish(Diverged, types.Divergence,
				fmt.Errorf("residual norm %.6e exceeds %.6e", rNorm, s.cfg.MaxAllowedResidualNorm))
		case s.cfg.converged(it, rNorm, res0, r.IncrementNorm, x.Norm2()):
			return finish(Converged, 0, nil)
		case it >= s.cfg.MaxIterations:
			return finish(MaxIterExceeded, types.NonConvergence,
				fmt.Errorf("no convergence in %d iterations", s.cfg.MaxIterations))
		}

		// A reused Jacobian that stopped paying off is replaced before solving
		if !freshJac && prevRes > 0 && rNorm > s.cfg.SufficientImprovement*prevRes {
			if err = s.asm.Assemble(x, s.jac, nil); err != nil {
				s.jacValid = false
				return finish(AssemblyFailed, types.AssemblyFailure, err)
			}
			s.afterJacobian(true, seq, r)
			reused = 0
		}
		prevRes = rNorm

		t0 := time.Now()
		dx, lerr := s.ls.Solve(s.jac, res.Copy().ChangeSign())
		s.cfg.Metrics.LinearSolve(time.Since(t0))
		if lerr != nil {
			return finish(Diverged, types.LinearSolveFailure, lerr)
		}
		if s.cfg.Damping != 1 {
			dx.Scale(types.FromFloat[S](s.cfg.Damping))
		}
		x.Add(dx)
		r.Iterations = it + 1
		r.IncrementNorm = dx.Norm2()
		s.cfg.Metrics.NewtonIteration()
		s.log.Debug("newton iteration",
			zap.Int("iteration", r.Iterations),
			zap.Float64("residual", rNorm),
			zap.Float64("increment", r.IncrementNorm),
			zap.Bool("freshJacobian", freshJac),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Solver[S]) afterJacobian(fresh bool, seq uint64, r *Result[S]) {
	if !fresh {
		return
	}
	s.jacValid = true
	s.jacSeq = seq
	r.JacobianAssemblies++
	if s.cfg.ReuseStructure {
		s.asm.SetReuseStructure(true)
	}
}
