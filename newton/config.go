package newton

import (
	"fmt"

	"github.com/notargets/gohpfem/telemetry"
	"go.uber.org/zap"
)

// Config holds the stopping rules and the reuse policy of a Newton solve.
// A tolerance of zero disables its criterion.
type Config struct {
	MaxIterations   int
	ResidualAbsTol  float64
	ResidualRelTol  float64 // against the initial residual norm
	IncrementAbsTol float64
	IncrementRelTol float64 // against the norm of the updated iterate
	// RequireAll makes the enabled criteria conjunctive. By default the
	// first satisfied one ends the iteration.
	RequireAll bool
	Damping    float64
	// MaxAllowedResidualNorm above which the iteration is declared divergent.
	MaxAllowedResidualNorm float64
	// ReuseStructure lets the assembler keep the Jacobian sparsity while the
	// space is unchanged.
	ReuseStructure bool
	// ReuseJacobian keeps the Jacobian values for up to MaxJacobianReuse
	// consecutive iterations, as long as every step reduces the residual
	// norm at least by SufficientImprovement.
	ReuseJacobian         bool
	MaxJacobianReuse      int
	SufficientImprovement float64
	Logger                *zap.Logger
	Metrics               *telemetry.Metrics
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:          100,
		ResidualAbsTol:         1e-8,
		Damping:                1,
		MaxAllowedResidualNorm: 1e9,
		ReuseStructure:         true,
		MaxJacobianReuse:       5,
		SufficientImprovement:  0.5,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.MaxIterations < 1:
		return fmt.Errorf("max iterations must be positive, have %d", cfg.MaxIterations)
	case cfg.Damping <= 0 || cfg.Damping > 1:
		return fmt.Errorf("damping must be in (0,1], have %g", cfg.Damping)
	case cfg.ResidualAbsTol < 0 || cfg.ResidualRelTol < 0 || cfg.IncrementAbsTol < 0 || cfg.IncrementRelTol < 0:
		return fmt.Errorf("tolerances must not be negative")
	case cfg.ResidualAbsTol == 0 && cfg.ResidualRelTol == 0 && cfg.IncrementAbsTol == 0 && cfg.IncrementRelTol == 0:
		return fmt.Errorf("no convergence criterion is enabled")
	case cfg.ReuseJacobian && cfg.MaxJacobianReuse < 1:
		return fmt.Errorf("jacobian reuse needs a positive reuse count")
	}
	return nil
}

// converged applies the enabled criteria; increment criteria cannot hold
// before the first update.
func (cfg Config) converged(it int, res, res0, inc, x float64) bool {
	var (
		enabled, met int
	)
	check := func(on, ok bool) {
		if on {
			enabled++
			if ok {
				met++
			}
		}
	}
	check(cfg.ResidualAbsTol > 0, res <= cfg.ResidualAbsTol)
	check(cfg.ResidualRelTol > 0, res0 == 0 || (it > 0 && res/res0 <= cfg.ResidualRelTol))
	check(cfg.IncrementAbsTol > 0, it > 0 && inc <= cfg.IncrementAbsTol)
	check(cfg.IncrementRelTol > 0, it > 0 && (inc == 0 || (x > 0 && inc/x <= cfg.IncrementRelTol)))
	if cfg.RequireAll {
		return enabled > 0 && met == enabled
	}
	return met > 0
}
