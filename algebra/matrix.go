package algebra

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/notargets/gohpfem/types"
)

// Builder collects the sparsity pattern of a square matrix.
type Builder struct {
	n       int
	pattern *sparse.DOK
}

func NewBuilder(n int) *Builder {
	return &Builder{n: n, pattern: sparse.NewDOK(n, n)}
}

func (b *Builder) Add(i, j int) { b.pattern.Set(i, j, 1) }

// AddBlock marks every pair of rows and cols.
func (b *Builder) AddBlock(rows, cols []int) {
	for _, i := range rows {
		for _, j := range cols {
			b.pattern.Set(i, j, 1)
		}
	}
}

// Matrix is a square CSR matrix whose structure is fixed once built; values
// are zeroed and accumulated again on every assembly.
type Matrix[S types.Scalar] struct {
	n      int
	indptr []int
	ind    []int
	data   []S
	tag    uint64
}

func NewMatrix[S types.Scalar](n int) *Matrix[S] { return &Matrix[S]{n: n} }

// SetStructure installs the pattern collected by b and zeroes the values.
func (A *Matrix[S]) SetStructure(b *Builder) {
	if b.n != A.n {
		panic(fmt.Errorf("pattern size %d does not match matrix size %d", b.n, A.n))
	}
	var (
		raw = b.pattern.ToCSR().RawMatrix()
	)
	A.indptr = append([]int(nil), raw.Indptr...)
	A.ind = append([]int(nil), raw.Ind...)
	for i := 0; i < A.n; i++ {
		sort.Ints(A.ind[A.indptr[i]:A.indptr[i+1]])
	}
	A.data = make([]S, len(A.ind))
}

// Resize drops the structure and changes the size.
func (A *Matrix[S]) Resize(n int) {
	A.n = n
	A.indptr, A.ind, A.data = nil, nil, nil
	A.tag = 0
}

func (A *Matrix[S]) HasStructure() bool { return A.indptr != nil }

// Tag is an owner supplied stamp of the state the structure was built for.
func (A *Matrix[S]) Tag() uint64       { return A.tag }
func (A *Matrix[S]) SetTag(tag uint64) { A.tag = tag }

func (A *Matrix[S]) Size() int { return A.n }
func (A *Matrix[S]) NNZ() int  { return len(A.data) }

// Zero keeps the structure.
func (A *Matrix[S]) Zero() { clear(A.data) }

func (A *Matrix[S]) find(i, j int) int {
	row := A.ind[A.indptr[i]:A.indptr[i+1]]
	k := sort.SearchInts(row, j)
	if k == len(row) || row[k] != j {
		return -1
	}
	return A.indptr[i] + k
}

func (A *Matrix[S]) Add(i, j int, v S) {
	k := A.find(i, j)
	if k < 0 {
		panic(fmt.Errorf("entry (%d,%d) is outside the matrix structure", i, j))
	}
	A.data[k] += v
}

func (A *Matrix[S]) At(i, j int) (v S) {
	if !A.HasStructure() {
		return
	}
	if k := A.find(i, j); k >= 0 {
		v = A.data[k]
	}
	return
}

// MulVec returns A x.
func (A *Matrix[S]) MulVec(x Vector[S]) (y Vector[S]) {
	y = NewVector[S](A.n)
	for i := 0; i < A.n; i++ {
		for k := A.indptr[i]; k < A.indptr[i+1]; k++ {
			y[i] += A.data[k] * x[A.ind[k]]
		}
	}
	return
}

// Rows visits every stored row. The slices alias the matrix storage.
func (A *Matrix[S]) Rows(fn func(i int, cols []int, vals []S)) {
	for i := 0; i < A.n; i++ {
		fn(i, A.ind[A.indptr[i]:A.indptr[i+1]], A.data[A.indptr[i]:A.indptr[i+1]])
	}
}

// Dense expands the matrix row major.
func (A *Matrix[S]) Dense() (d []S) {
	d = make([]S, A.n*A.n)
	if !A.HasStructure() {
		return
	}
	A.Rows(func(i int, cols []int, vals []S) {
		for k, j := range cols {
			d[i*A.n+j] = vals[k]
		}
	})
	return
}

func (A *Matrix[S]) String() string {
	return fmt.Sprintf("Matrix(%dx%d, nnz %d)", A.n, A.n, A.NNZ())
}
