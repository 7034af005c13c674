package quadrature

import (
	"fmt"
	"sync"

	"github.com/notargets/gohpfem/types"
)

// MaxOrder is the highest per-direction polynomial degree a rule is built for.
const MaxOrder = 40

// Rule is a tensor Gauss-Legendre rule on the reference square [-1,1]².
type Rule struct {
	Order   int
	N       int
	Xi, Eta []float64
	W       []float64
}

// EdgeRule is a Gauss-Legendre rule on [-1,1], used along element edges.
type EdgeRule struct {
	Order int
	N     int
	S, W  []float64
}

// Quad2D hands out rules integrating polynomials of degree Order in each
// direction exactly. Rules are built once and shared read-only.
type Quad2D struct {
	mu    sync.Mutex
	rules map[int]*Rule
	edges map[int]*EdgeRule
}

func NewQuad2D() *Quad2D {
	return &Quad2D{rules: make(map[int]*Rule), edges: make(map[int]*EdgeRule)}
}

var (
	defaultQuad     *Quad2D
	defaultQuadOnce sync.Once
)

// Default returns the process-wide rule cache. Rules are immutable, so
// sharing them is safe.
func Default() *Quad2D {
	defaultQuadOnce.Do(func() { defaultQuad = NewQuad2D() })
	return defaultQuad
}

func checkOrder(op string, order int) int {
	if order > MaxOrder {
		panic(types.Precondition(op, "integration order %d exceeds %d", order, MaxOrder))
	}
	return max(order, 0)
}

// Rule returns the rule for order. Negative orders get the one point rule,
// orders above MaxOrder panic.
func (q *Quad2D) Rule(order int) *Rule {
	order = checkOrder("Quad2D.Rule", order)
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.rules[order]; ok {
		return r
	}
	r := newRule(order)
	q.rules[order] = r
	return r
}

// Edge returns the one dimensional rule for order, with the same limits as
// Rule.
func (q *Quad2D) Edge(order int) *EdgeRule {
	order = checkOrder("Quad2D.Edge", order)
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.edges[order]; ok {
		return r
	}
	X, W := JacobiGQ(0, 0, order/2)
	r := &EdgeRule{Order: order, N: X.Len(), S: X.DataP, W: W.DataP}
	q.edges[order] = r
	return r
}

func newRule(order int) (r *Rule) {
	var (
		// n points integrate degree 2n-1 exactly
		n1 = order/2 + 1
	)
	X, W := JacobiGQ(0, 0, n1-1)
	r = &Rule{
		Order: order,
		N:     n1 * n1,
		Xi:    make([]float64, n1*n1),
		Eta:   make([]float64, n1*n1),
		W:     make([]float64, n1*n1),
	}
	for j := 0; j < n1; j++ {
		for i := 0; i < n1; i++ {
			k := j*n1 + i
			r.Xi[k] = X.AtVec(i)
			r.Eta[k] = X.AtVec(j)
			r.W[k] = W.AtVec(i) * W.AtVec(j)
		}
	}
	return
}

func (r *Rule) String() string {
	return fmt.Sprintf("Gauss %dx%d (order %d)", intSqrt(r.N), intSqrt(r.N), r.Order)
}

func intSqrt(n int) (s int) {
	for s*s < n {
		s++
	}
	return
}
