// Package meshfn evaluates fields on mesh elements and on virtual
// sub-elements reached by a stack of son transforms, caching the results
// per transform path.
package meshfn

import (
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/types"
)

// MaxTransformDepth bounds the transform stack; path keys use three bits per
// level in bijective base 8, so deeper paths would overflow a uint64.
const MaxTransformDepth = 20

type frame struct {
	ctm    mesh.Trf
	subIdx uint64
}

// Transformable tracks the active element and the current sub-element of it.
type Transformable struct {
	element *mesh.Element
	ctm     mesh.Trf // sub-element reference square -> element reference square
	subIdx  uint64
	stack   [MaxTransformDepth]frame
	top     int
}

func (t *Transformable) reset(e *mesh.Element) {
	t.element = e
	t.ctm = mesh.Identity()
	t.subIdx = 0
	t.top = 0
}

func (t *Transformable) ActiveElement() *mesh.Element { return t.element }

// SubIdx identifies the current transform path. The empty path is 0 and
// each son appends a digit: sub = sub<<3 + son + 1.
func (t *Transformable) SubIdx() uint64 { return t.subIdx }

func (t *Transformable) Depth() int { return t.top }

// Trf returns the map from the current sub-element to the active element.
func (t *Transformable) Trf() mesh.Trf { return t.ctm }

func (t *Transformable) PushTransform(son int) {
	switch {
	case t.element == nil:
		panic(types.Precondition("PushTransform", "no active element"))
	case son < 0 || son >= mesh.NumSonTrf:
		panic(types.Precondition("PushTransform", "invalid son transform %d", son))
	case t.top == MaxTransformDepth:
		panic(types.Precondition("PushTransform", "transform stack exceeds depth %d", MaxTransformDepth))
	}
	t.stack[t.top] = frame{ctm: t.ctm, subIdx: t.subIdx}
	t.top++
	t.ctm = t.ctm.Compose(mesh.SonTrf[son])
	t.subIdx = t.subIdx<<3 + uint64(son) + 1
}

func (t *Transformable) PopTransform() {
	if t.top == 0 {
		panic(types.Precondition("PopTransform", "transform stack is empty"))
	}
	t.top--
	t.ctm, t.subIdx = t.stack[t.top].ctm, t.stack[t.top].subIdx
}

func (t *Transformable) PushPath(path []int) {
	for _, son := range path {
		t.PushTransform(son)
	}
}

func (t *Transformable) PopPath(n int) {
	for i := 0; i < n; i++ {
		t.PopTransform()
	}
}
