package meshfn

import (
	"sync"

	"github.com/notargets/gohpfem/types"
)

// FastCacheSize covers every path key of depth two or less: 1 + 8 + 64.
const FastCacheSize = 73

// Values are a field and its physical gradient at the quadrature points of a
// sub-element. They are owned by the node cache and must not be modified.
type Values[S types.Scalar] struct {
	Val, Dx, Dy []S
}

func newValues[S types.Scalar](n int) *Values[S] {
	return &Values[S]{Val: make([]S, n), Dx: make([]S, n), Dy: make([]S, n)}
}

type nodeKey struct {
	surf, order, index int
}

// Node is the cache record of one transform path.
type Node[S types.Scalar] struct {
	entries map[nodeKey]*Values[S]
}

func (n *Node[S]) get(k nodeKey) (v *Values[S], ok bool) {
	v, ok = n.entries[k]
	return
}

func (n *Node[S]) put(k nodeKey, v *Values[S]) {
	if n.entries == nil {
		n.entries = make(map[nodeKey]*Values[S])
	}
	n.entries[k] = v
}

func (n *Node[S]) Len() int { return len(n.entries) }

func (n *Node[S]) clear() { clear(n.entries) }

// NodeAllocator supplies the heap records of the overflow map. Every record
// handed out is given back through Release exactly once.
type NodeAllocator[S types.Scalar] interface {
	Allocate() *Node[S]
	Release(n *Node[S])
}

type poolAllocator[S types.Scalar] struct {
	pool sync.Pool
}

// NewPoolAllocator recycles records through a sync.Pool.
func NewPoolAllocator[S types.Scalar]() NodeAllocator[S] {
	return &poolAllocator[S]{
		pool: sync.Pool{New: func() any { return new(Node[S]) }},
	}
}

func (p *poolAllocator[S]) Allocate() *Node[S] { return p.pool.Get().(*Node[S]) }

func (p *poolAllocator[S]) Release(n *Node[S]) {
	n.clear()
	p.pool.Put(n)
}

// NodeCache maps transform paths to cached values. Keys below FastCacheSize
// index an inline array until the first larger key arrives; from then on,
// until Reset, every path lives in the overflow map.
type NodeCache[S types.Scalar] struct {
	fast     [FastCacheSize]Node[S]
	overflow map[uint64]*Node[S]
	alloc    NodeAllocator[S]
}

func NewNodeCache[S types.Scalar](alloc NodeAllocator[S]) *NodeCache[S] {
	if alloc == nil {
		alloc = NewPoolAllocator[S]()
	}
	return &NodeCache[S]{alloc: alloc}
}

func (c *NodeCache[S]) Overflowed() bool { return c.overflow != nil }

func (c *NodeCache[S]) node(subIdx uint64) (n *Node[S]) {
	var (
		ok bool
	)
	if c.overflow == nil {
		if subIdx < FastCacheSize {
			return &c.fast[subIdx]
		}
		c.spill()
	}
	if n, ok = c.overflow[subIdx]; !ok {
		n = c.alloc.Allocate()
		c.overflow[subIdx] = n
	}
	return
}

// spill moves the populated fast records into the overflow map.
func (c *NodeCache[S]) spill() {
	c.overflow = make(map[uint64]*Node[S])
	for i := range c.fast {
		if c.fast[i].Len() == 0 {
			continue
		}
		n := c.alloc.Allocate()
		n.entries, c.fast[i].entries = c.fast[i].entries, n.entries
		c.overflow[uint64(i)] = n
	}
}

func (c *NodeCache[S]) Get(subIdx uint64, order, index int) (*Values[S], bool) {
	return c.node(subIdx).get(nodeKey{0, order, index})
}

func (c *NodeCache[S]) Put(subIdx uint64, order, index int, v *Values[S]) {
	c.node(subIdx).put(nodeKey{0, order, index}, v)
}

// GetSurf and PutSurf address values along an edge of the sub-element.
func (c *NodeCache[S]) GetSurf(subIdx uint64, s Surf, order, index int) (*Values[S], bool) {
	return c.node(subIdx).get(nodeKey{s.key(), order, index})
}

func (c *NodeCache[S]) PutSurf(subIdx uint64, s Surf, order, index int, v *Values[S]) {
	c.node(subIdx).put(nodeKey{s.key(), order, index}, v)
}

// Reset drops every cached path and returns the overflow records.
func (c *NodeCache[S]) Reset() {
	for _, n := range c.overflow {
		c.alloc.Release(n)
	}
	c.overflow = nil
	for i := range c.fast {
		c.fast[i].clear()
	}
}

// SetAllocator replaces the allocator after releasing the records of the
// current one.
func (c *NodeCache[S]) SetAllocator(alloc NodeAllocator[S]) {
	c.Reset()
	if alloc == nil {
		alloc = NewPoolAllocator[S]()
	}
	c.alloc = alloc
}
