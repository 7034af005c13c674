package Reaction2D

/*
Nonlinear reaction on a discontinuous (L2) tensor Legendre space, steady or
advanced in time with implicit Euler:

				u + κ u³ = f
				∂u/∂t + u + κ u³ = f

The manufactured solution is an arctan front around the circle of radius r0
centered at c, with steepness α:

				U(x,y) = atan(α (|(x,y) - c| - r0))

Steady runs use f = U + κ U³. Transient runs use u(t) = (1 - e^-t) U, so

				f(t) = e^-t U + u(t) + κ u(t)³

Weak forms, for every test function v and basis function φ:

	Steady:
				R(u)   = ∫ (u + κu³ - f) v
				J(u) φ = ∫ (1 + 3κu²) φ v

	Implicit Euler step from uₙ:
				R(u)   = ∫ ((u - uₙ)/Δt + u + κu³ - f(tₙ₊₁)) v
				J(u) φ = ∫ (1/Δt + 1 + 3κu²) φ v

The source is external function 0, the previous step external function 1.
*/

import (
	"fmt"
	"math"
	"strings"

	"github.com/notargets/gohpfem/InputParameters"
	"github.com/notargets/gohpfem/adapt"
	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/discrete"
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/newton"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/telemetry"
	"go.uber.org/zap"
)

type Mode uint8

const (
	Steady Mode = iota
	Transient
	Adaptive
)

var modeNames = []string{"steady", "transient", "adaptive"}

func (m Mode) String() string { return modeNames[m] }

func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

type Reaction2D struct {
	Mode         Mode
	Kappa, Alpha float64
	Center       [2]float64
	R0           float64
	FinalTime    float64
	TimeStep     float64
	Workers      int
	Mesh         *mesh.Mesh
	Space        *space.L2Space
	NewtonCfg    newton.Config
	LinearCfg    algebra.SolverConfig
	AdaptCfg     adapt.Config[float64]
	log          *zap.Logger
	metrics      *telemetry.Metrics
}

func NewReaction2D(ip *InputParameters.InputParameters2D, log *zap.Logger, metrics *telemetry.Metrics) (r *Reaction2D, err error) {
	if err = ip.Validate(); err != nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := ip.Domain
	r = &Reaction2D{
		Kappa:     ip.Kappa,
		Alpha:     ip.Steepness,
		Center:    [2]float64{d[0] - 0.05*(d[1]-d[0]), d[2] - 0.05*(d[3]-d[2])},
		R0:        0.7 * math.Min(d[1]-d[0], d[3]-d[2]),
		FinalTime: ip.FinalTime,
		TimeStep:  ip.TimeStep,
		Workers:   ip.Workers,
		Mesh:      mesh.NewRectangle(d[0], d[2], d[1], d[3], ip.NX, ip.NY, 1),
		log:       log,
		metrics:   metrics,
	}
	if r.Mode, err = ParseMode(ip.Mode); err != nil {
		return nil, err
	}
	r.Space = space.NewL2Space(r.Mesh, shapeset.Iso(ip.PolynomialOrder))

	np := ip.Newton
	r.NewtonCfg = newton.DefaultConfig()
	r.NewtonCfg.MaxIterations = np.MaxIterations
	r.NewtonCfg.ResidualAbsTol = np.Tolerance
	r.NewtonCfg.IncrementAbsTol = np.IncrementTol
	r.NewtonCfg.RequireAll = np.RequireAll
	r.NewtonCfg.Damping = np.Damping
	r.NewtonCfg.MaxAllowedResidualNorm = np.MaxResidual
	r.NewtonCfg.ReuseStructure = np.ReuseStructure
	r.NewtonCfg.ReuseJacobian = np.ReuseJacobian
	r.NewtonCfg.Logger, r.NewtonCfg.Metrics = log, metrics

	lp := ip.LinearSolver
	r.LinearCfg = algebra.DefaultSolverConfig()
	if r.LinearCfg.Type, err = algebra.ParseSolverType(lp.Type); err != nil {
		return nil, err
	}
	if r.LinearCfg.Method, err = algebra.ParseIterativeMethod(lp.Method); err != nil {
		return nil, err
	}
	if r.LinearCfg.Preconditioner, err = algebra.ParsePreconditioner(lp.Preconditioner); err != nil {
		return nil, err
	}
	r.LinearCfg.AbsTol, r.LinearCfg.MaxIterations = lp.Tolerance, lp.MaxIterations
	r.LinearCfg.Logger = log

	ap := ip.Adapt
	cfg := adapt.DefaultConfig[float64]()
	cfg.ErrStop = ap.ErrStop / 100
	cfg.MaxSteps, cfg.MaxDOFs = ap.MaxSteps, ap.MaxDOFs
	cfg.ConvExp = ap.ConvExp
	cfg.RefOptions.OrderIncrease = ap.OrderIncrease
	if cfg.Norm, err = adapt.ParseNorm(ap.Norm); err != nil {
		return nil, err
	}
	if cfg.ErrorType, err = adapt.ParseErrorType(ap.ErrorType); err != nil {
		return nil, err
	}
	if cfg.CandList, err = adapt.ParseCandList(ap.CandList); err != nil {
		return nil, err
	}
	if cfg.Stopping, err = adapt.ParseStoppingCriterion(ap.Stopping, ap.Threshold); err != nil {
		return nil, err
	}
	cfg.Workers = ip.Workers
	cfg.Newton, cfg.Linear = r.NewtonCfg, r.LinearCfg
	cfg.Logger, cfg.Metrics = log, metrics
	r.AdaptCfg = cfg
	return
}

// Exact is the arctan front and its gradient.
func (r *Reaction2D) Exact(x, y float64) (u, ux, uy float64) {
	var (
		dx, dy = x - r.Center[0], y - r.Center[1]
		rad    = math.Hypot(dx, dy)
		s      = r.Alpha * (rad - r.R0)
		ds     = r.Alpha / (1 + s*s)
	)
	u = math.Atan(s)
	if rad > 0 {
		ux, uy = ds*dx/rad, ds*dy/rad
	}
	return
}

// ExactAt is the manufactured solution at time t, the steady one when the
// run is not transient.
func (r *Reaction2D) ExactAt(t float64) meshfn.ExactFunc[float64] {
	if r.Mode != Transient {
		return r.Exact
	}
	g := 1 - math.Exp(-t)
	return func(x, y float64) (u, ux, uy float64) {
		u, ux, uy = r.Exact(x, y)
		return g * u, g * ux, g * uy
	}
}

// Source is f at time t.
func (r *Reaction2D) Source(t float64) meshfn.ExactFunc[float64] {
	transient := r.Mode == Transient
	return func(x, y float64) (f, fx, fy float64) {
		U, _, _ := r.Exact(x, y)
		if !transient {
			return U + r.Kappa*U*U*U, 0, 0
		}
		var (
			e = math.Exp(-t)
			u = (1 - e) * U
		)
		return e*U + u + r.Kappa*u*u*u, 0, 0
	}
}

// WeakForm is the steady form, or the implicit Euler form with step dt when
// dt is positive.
func (r *Reaction2D) WeakForm(dt float64) (wf *discrete.WeakForm[float64]) {
	var (
		kappa = r.Kappa
		mass  = 1.0
	)
	if dt > 0 {
		mass += 1 / dt
	}
	wf = discrete.NewWeakForm[float64]()
	wf.AddMatrixForm(discrete.MatrixForm[float64]{
		Name: "reaction",
		Fn: func(fd *discrete.FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 {
				u := fd.Prev.Val[q]
				return (mass + 3*kappa*u*u) * fd.U.Val[q] * fd.V.Val[q]
			})
		},
	})
	wf.AddVectorForm(discrete.VectorForm[float64]{
		Name: "reaction",
		Fn: func(fd *discrete.FormData[float64]) float64 {
			return fd.Integrate(func(q int) float64 {
				var (
					u = fd.Prev.Val[q]
					s = u + kappa*u*u*u - fd.Ext[0].Val[q]
				)
				if dt > 0 {
					s += (u - fd.Ext[1].Val[q]) / dt
				}
				return s * fd.V.Val[q]
			})
		},
	})
	return
}

// RelativeErrorL2 measures u against an analytic field.
func RelativeErrorL2(u *meshfn.Solution[float64], exact meshfn.ExactFunc[float64]) float64 {
	var (
		e2, n2 float64
		v      = u.Copy()
	)
	defer v.Close()
	for _, e := range v.Space().Mesh().Active() {
		v.SetActiveElement(e)
		var (
			order = 2*v.ElementOrder(e) + 6
			g     = v.Geometry(order)
			vals  = v.Values(order, 0)
		)
		for q := 0; q < g.N; q++ {
			ue, _, _ := exact(g.X[q], g.Y[q])
			d := vals.Val[q] - ue
			e2 += g.W[q] * d * d
			n2 += g.W[q] * ue * ue
		}
	}
	if n2 == 0 {
		return math.Sqrt(e2)
	}
	return math.Sqrt(e2 / n2)
}
