package algebra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notargets/gohpfem/types"
	"go.uber.org/zap"
)

var (
	ErrSingular      = errors.New("matrix is singular")
	ErrMaxIterations = errors.New("iteration limit reached")
	ErrDiverged      = errors.New("residual exceeded the divergence tolerance")
	ErrBreakdown     = errors.New("iteration broke down")
	ErrUnsupported   = errors.New("backend does not support this scalar type")
)

// LinearSolver solves A x = b. Failures are *types.SolverError values of
// kind LinearSolveFailure.
type LinearSolver[S types.Scalar] interface {
	Solve(A *Matrix[S], b Vector[S]) (Vector[S], error)
}

type SolverType uint8

const (
	DirectSolver SolverType = iota
	GonumLUSolver
	IterativeSolver
)

type IterativeMethod uint8

const (
	CG IterativeMethod = iota
	BiCGStab
	GMRES
)

type PreconditionerType uint8

const (
	NoPreconditioner PreconditionerType = iota
	JacobiPreconditioner
	ILU0Preconditioner
)

var (
	solverTypeNames = map[string]SolverType{
		"direct": DirectSolver, "lu": GonumLUSolver, "iterative": IterativeSolver,
	}
	methodNames = map[string]IterativeMethod{
		"cg": CG, "bicgstab": BiCGStab, "gmres": GMRES,
	}
	preconditionerNames = map[string]PreconditionerType{
		"none": NoPreconditioner, "jacobi": JacobiPreconditioner, "ilu0": ILU0Preconditioner, "ilu": ILU0Preconditioner,
	}
)

func ParseSolverType(s string) (SolverType, error) {
	if t, ok := solverTypeNames[strings.ToLower(s)]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown linear solver %q", s)
}

func ParseIterativeMethod(s string) (IterativeMethod, error) {
	if m, ok := methodNames[strings.ToLower(s)]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("unknown iterative method %q", s)
}

func ParsePreconditioner(s string) (PreconditionerType, error) {
	if p, ok := preconditionerNames[strings.ToLower(s)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("unknown preconditioner %q", s)
}

type SolverConfig struct {
	Type           SolverType
	Method         IterativeMethod
	Preconditioner PreconditionerType
	AbsTol         float64
	RelTol         float64
	DivTol         float64 // residual growth over |b| treated as divergence, 0 disables
	MaxIterations  int
	Restart        int // GMRES restart length
	Logger         *zap.Logger
}

func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Type:           DirectSolver,
		Method:         GMRES,
		Preconditioner: ILU0Preconditioner,
		AbsTol:         1e-8,
		RelTol:         0,
		DivTol:         1e8,
		MaxIterations:  1000,
		Restart:        30,
	}
}

func (cfg SolverConfig) logger() *zap.Logger {
	if cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}

// NewSolver builds the backend selected by cfg.Type. Only the direct solver
// handles complex systems.
func NewSolver[S types.Scalar](cfg SolverConfig) (ls LinearSolver[S], err error) {
	var rs LinearSolver[float64]
	switch cfg.Type {
	case DirectSolver:
		return &Direct[S]{}, nil
	case GonumLUSolver:
		rs = &GonumLU{}
	case IterativeSolver:
		rs = NewIterative(cfg)
	default:
		return nil, fmt.Errorf("unknown linear solver type %d", cfg.Type)
	}
	if types.IsComplex[S]() {
		return nil, fmt.Errorf("solver type %d: %w", cfg.Type, ErrUnsupported)
	}
	return any(rs).(LinearSolver[S]), nil
}

func solveError(op string, iteration int, norm float64, err error) error {
	return types.NewError(types.LinearSolveFailure, op, iteration, norm, err)
}

func checkSystem[S types.Scalar](op string, A *Matrix[S], b Vector[S]) error {
	switch {
	case !A.HasStructure():
		return solveError(op, 0, 0, errors.New("matrix has no structure"))
	case len(b) != A.Size():
		return solveError(op, 0, 0, fmt.Errorf("right hand side has length %d, matrix is %dx%d", len(b), A.Size(), A.Size()))
	}
	return nil
}
