package utils

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NewSymTriDiagonal builds the symmetric tridiagonal matrix with main
// diagonal d0 and first off diagonal d1.
func NewSymTriDiagonal(d0, d1 []float64) (Tri *mat.SymDense) {
	var (
		N = len(d0)
	)
	if len(d1) != N-1 {
		panic(fmt.Errorf("off diagonal length %d does not match diagonal length %d", len(d1), N))
	}
	Tri = mat.NewSymDense(N, nil)
	for i := 0; i < N; i++ {
		Tri.SetSym(i, i, d0[i])
		if i < N-1 {
			Tri.SetSym(i, i+1, d1[i])
		}
	}
	return
}
