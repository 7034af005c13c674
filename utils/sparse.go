package utils

import (
	"fmt"

	"github.com/james-bowman/sparse"
)

// CSR wraps a compressed sparse row matrix for the iterative kernels.
type CSR struct {
	M    *sparse.CSR
	name string
}

// NewCSR adopts row pointer, column index and value arrays without copying.
func NewCSR(nr, nc int, indptr, ind []int, data []float64, name ...string) (R CSR) {
	if len(indptr) != nr+1 {
		panic(fmt.Errorf("row pointer length %d does not match %d rows", len(indptr), nr))
	}
	if len(ind) != len(data) {
		panic(fmt.Errorf("column index length %d does not match value length %d", len(ind), len(data)))
	}
	R = CSR{
		M:    sparse.NewCSR(nr, nc, indptr, ind, data),
		name: "unnamed",
	}
	if len(name) != 0 {
		R.name = name[0]
	}
	return
}

func (m CSR) Dims() (r, c int)    { return m.M.Dims() }
func (m CSR) At(i, j int) float64 { return m.M.At(i, j) }
func (m CSR) NNZ() int            { return len(m.M.RawMatrix().Data) }

// MulVec computes dst = A x.
func (m CSR) MulVec(dst, x []float64) {
	m.M.MulVecTo(dst, false, x)
}

// Row returns views of the column indices and values stored for row i.
func (m CSR) Row(i int) (cols []int, vals []float64) {
	raw := m.M.RawMatrix()
	cols = raw.Ind[raw.Indptr[i]:raw.Indptr[i+1]]
	vals = raw.Data[raw.Indptr[i]:raw.Indptr[i+1]]
	return
}

func (m CSR) Diagonal() (d []float64) {
	var (
		nr, _ = m.Dims()
	)
	d = make([]float64, nr)
	for i := 0; i < nr; i++ {
		cols, vals := m.Row(i)
		for k, j := range cols {
			if j == i {
				d[i] = vals[k]
				break
			}
		}
	}
	return
}
