package types

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	PreconditionViolation Kind = iota + 1
	AssemblyFailure
	LinearSolveFailure
	NonConvergence
	Divergence
	RefinementExhausted
)

var kindNames = map[Kind]string{
	PreconditionViolation: "PreconditionViolation",
	AssemblyFailure:       "AssemblyFailure",
	LinearSolveFailure:    "LinearSolveFailure",
	NonConvergence:        "NonConvergence",
	Divergence:            "Divergence",
	RefinementExhausted:   "RefinementExhausted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Sentinels for errors.Is; a *SolverError of a given Kind matches the
// sentinel of the same Kind.
var (
	ErrPreconditionViolation = &SolverError{Kind: PreconditionViolation}
	ErrAssemblyFailure       = &SolverError{Kind: AssemblyFailure}
	ErrLinearSolveFailure    = &SolverError{Kind: LinearSolveFailure}
	ErrNonConvergence        = &SolverError{Kind: NonConvergence}
	ErrDivergence            = &SolverError{Kind: Divergence}
	ErrRefinementExhausted   = &SolverError{Kind: RefinementExhausted}
)

// SolverError carries enough context to diagnose a failed solve: the
// operation, the iteration (or adaptivity step) reached and the last norm.
type SolverError struct {
	Kind      Kind
	Op        string
	Iteration int
	Norm      float64
	Err       error
}

func NewError(kind Kind, op string, iteration int, norm float64, err error) *SolverError {
	return &SolverError{Kind: kind, Op: op, Iteration: iteration, Norm: norm, Err: err}
}

// Precondition builds the panic value used for programming errors.
func Precondition(op, format string, args ...any) *SolverError {
	return &SolverError{Kind: PreconditionViolation, Op: op, Iteration: -1,
		Err: fmt.Errorf(format, args...)}
}

func (e *SolverError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Iteration >= 0 && e.Kind != PreconditionViolation {
		msg += fmt.Sprintf(" at iteration %d (norm %.6e)", e.Iteration, e.Norm)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SolverError) Unwrap() error { return e.Err }

func (e *SolverError) Is(target error) bool {
	var t *SolverError
	if !errors.As(target, &t) {
		return false
	}
	// Sentinels have no context, match on Kind only
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the Kind of the first SolverError in err's chain, or 0.
func KindOf(err error) Kind {
	var se *SolverError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
