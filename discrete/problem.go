package discrete

import (
	"errors"
	"fmt"
	"time"

	"github.com/notargets/gohpfem/algebra"
	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/meshfn"
	"github.com/notargets/gohpfem/space"
	"github.com/notargets/gohpfem/telemetry"
	"github.com/notargets/gohpfem/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Workers int // element loop goroutines, values below 2 assemble serially
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Problem assembles a weak form on one space, or on one space per component
// of a system. It is not safe for concurrent use; Workers parallelize a
// single Assemble call internally.
type Problem[S types.Scalar] struct {
	wf     *WeakForm[S]
	spaces []*space.L2Space
	seqs   []uint64
	stamp  uint64
	ext    []meshfn.Function[S]
	reuse  bool
	opts   Options
	log    *zap.Logger

	structureBuilds int
	lastReuse       bool
}

// New assembles a single equation. sp may be nil until SetSpace.
func New[S types.Scalar](wf *WeakForm[S], sp *space.L2Space, opts Options) *Problem[S] {
	var spaces []*space.L2Space
	if sp != nil {
		spaces = []*space.L2Space{sp}
	}
	return NewSystem(wf, spaces, opts)
}

// NewSystem assembles a coupled system whose component c lives on
// spaces[c]. The unknowns of component c follow those of component c-1.
func NewSystem[S types.Scalar](wf *WeakForm[S], spaces []*space.L2Space, opts Options) (p *Problem[S]) {
	p = &Problem[S]{
		wf:   wf,
		opts: opts,
		log:  opts.Logger,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if len(spaces) != 0 {
		p.SetSpaces(spaces)
	}
	return
}

// Space is the space of the first component.
func (p *Problem[S]) Space() *space.L2Space {
	if len(p.spaces) == 0 {
		return nil
	}
	return p.spaces[0]
}

func (p *Problem[S]) Spaces() []*space.L2Space { return p.spaces }

func (p *Problem[S]) NDOF() (n int) {
	for _, sp := range p.spaces {
		n += sp.NDOF()
	}
	return
}

// Offsets holds the first unknown of every component followed by NDOF.
func (p *Problem[S]) Offsets() (off []int) {
	off = make([]int, len(p.spaces)+1)
	for c, sp := range p.spaces {
		off[c+1] = off[c] + sp.NDOF()
	}
	return
}

// SpaceSeq changes whenever any component space is renumbered.
func (p *Problem[S]) SpaceSeq() uint64 {
	if len(p.spaces) == 1 {
		return p.spaces[0].Seq()
	}
	changed := p.stamp == 0
	for c, sp := range p.spaces {
		if seq := sp.Seq(); seq != p.seqs[c] {
			p.seqs[c] = seq
			changed = true
		}
	}
	if changed {
		p.stamp = mesh.NextSeq()
	}
	return p.stamp
}

// SetSpace switches to another space and forgets any reusable structure.
func (p *Problem[S]) SetSpace(sp *space.L2Space) { p.SetSpaces([]*space.L2Space{sp}) }

// SetSpaces switches every component at once. All spaces share one mesh.
func (p *Problem[S]) SetSpaces(spaces []*space.L2Space) {
	for c, sp := range spaces {
		switch {
		case sp == nil:
			panic(types.Precondition("SetSpaces", "component %d has no space", c))
		case sp.Mesh() != spaces[0].Mesh():
			panic(types.Precondition("SetSpaces", "component %d is on another mesh", c))
		}
	}
	p.spaces = append([]*space.L2Space(nil), spaces...)
	p.seqs = make([]uint64, len(spaces))
	p.stamp = 0
	p.reuse = false
}

// SetWeakForm replaces the forms and forgets any reusable structure.
func (p *Problem[S]) SetWeakForm(wf *WeakForm[S]) {
	p.wf = wf
	p.reuse = false
}

// SetReuseStructure allows the next assemblies to keep the Jacobian's
// sparsity structure. It is honoured only while the matrix was built for the
// current numbering of the spaces.
func (p *Problem[S]) SetReuseStructure(reuse bool) { p.reuse = reuse }
func (p *Problem[S]) ReuseStructure() bool         { return p.reuse }

// StructureBuilds counts Jacobian structure builds; LastReuse tells whether
// the last Jacobian assembly kept the previous structure.
func (p *Problem[S]) StructureBuilds() int { return p.structureBuilds }
func (p *Problem[S]) LastReuse() bool      { return p.lastReuse }

// SetExternal installs functions that every form receives in FormData.Ext.
// They may live on other meshes derived from the same base mesh. The caller
// keeps ownership.
func (p *Problem[S]) SetExternal(ext ...meshfn.Function[S]) { p.ext = ext }

// Solutions splits a coefficient vector into one solution per component.
func (p *Problem[S]) Solutions(coeffs []S) (sols []*meshfn.Solution[S]) {
	off := p.Offsets()
	if len(coeffs) != off[len(p.spaces)] {
		panic(types.Precondition("Solutions", "coefficient vector has length %d, problem has %d DOFs",
			len(coeffs), off[len(p.spaces)]))
	}
	for c, sp := range p.spaces {
		sols = append(sols, meshfn.NewSolution(sp, coeffs[off[c]:off[c+1]]))
	}
	return
}

// local is the contribution of one element. couplings hold the inner edge
// blocks it shares with neighbours.
type local[S types.Scalar] struct {
	dofs      []int
	mat       []S
	vec       []S
	couplings []local[S]
}

// Assemble evaluates the Jacobian and/or residual at coeffs. Either output
// may be nil. The residual is returned as the weak form defines it.
func (p *Problem[S]) Assemble(coeffs []S, jac *algebra.Matrix[S], res algebra.Vector[S]) (err error) {
	const op = "Problem.Assemble"
	if len(p.spaces) == 0 {
		return types.NewError(types.PreconditionViolation, op, -1, 0, errors.New("problem has no space"))
	}
	if nc := p.wf.Components(); nc > len(p.spaces) {
		return types.NewError(types.PreconditionViolation, op, -1, 0,
			fmt.Errorf("weak form has %d components, problem has %d spaces", nc, len(p.spaces)))
	}
	var (
		ndof     = p.NDOF()
		start    = time.Now()
		elements = p.spaces[0].Mesh().Active()
		locals   = make([]local[S], len(elements))
	)
	if len(coeffs) != ndof {
		return types.NewError(types.PreconditionViolation, op, -1, 0,
			fmt.Errorf("coefficient vector has length %d, space has %d DOFs", len(coeffs), ndof))
	}
	if res != nil && len(res) != ndof {
		return types.NewError(types.AssemblyFailure, op, 0, 0,
			fmt.Errorf("residual has length %d, space has %d DOFs", len(res), ndof))
	}
	if jac == nil && res == nil {
		return
	}
	if err = p.elementLoop(elements, coeffs, locals, jac != nil, res != nil); err != nil {
		return types.NewError(types.AssemblyFailure, op, 0, 0, err)
	}
	if jac != nil {
		p.prepareJacobian(jac, ndof, locals)
		for _, l := range locals {
			l.addMatrix(jac)
			for _, cp := range l.couplings {
				cp.addMatrix(jac)
			}
		}
	}
	if res != nil {
		res.Zero()
		for _, l := range locals {
			l.addVector(res)
			for _, cp := range l.couplings {
				cp.addVector(res)
			}
		}
		if !res.IsFinite() {
			return types.NewError(types.AssemblyFailure, op, 0, res.Norm2(), fmt.Errorf("residual is not finite"))
		}
	}
	p.opts.Metrics.Assembly(kind(jac != nil, res != nil), time.Since(start))
	p.log.Debug("assembled",
		zap.Int("ndof", ndof),
		zap.Int("components", len(p.spaces)),
		zap.Int("elements", len(elements)),
		zap.Bool("jacobian", jac != nil),
		zap.Bool("residual", res != nil),
		zap.Bool("reuse", jac != nil && p.lastReuse))
	return
}

func (l local[S]) addMatrix(jac *algebra.Matrix[S]) {
	nb := len(l.dofs)
	for i, gi := range l.dofs {
		for j, gj := range l.dofs {
			jac.Add(gi, gj, l.mat[i*nb+j])
		}
	}
}

func (l local[S]) addVector(res algebra.Vector[S]) {
	for i, gi := range l.dofs {
		res[gi] += l.vec[i]
	}
}

func kind(jac, res bool) string {
	switch {
	case jac && res:
		return "both"
	case jac:
		return "jacobian"
	}
	return "residual"
}

// prepareJacobian keeps the structure when reuse is allowed and the matrix
// was built for the current numbering, and rebuilds it otherwise.
func (p *Problem[S]) prepareJacobian(jac *algebra.Matrix[S], ndof int, locals []local[S]) {
	seq := p.SpaceSeq()
	p.lastReuse = p.reuse && jac.HasStructure() && jac.Size() == ndof && jac.Tag() == seq
	if p.lastReuse {
		jac.Zero()
		return
	}
	jac.Resize(ndof)
	b := algebra.NewBuilder(ndof)
	for _, l := range locals {
		b.AddBlock(l.dofs, l.dofs)
		for _, cp := range l.couplings {
			b.AddBlock(cp.dofs, cp.dofs)
		}
	}
	jac.SetStructure(b)
	jac.SetTag(seq)
	p.structureBuilds++
}

func (p *Problem[S]) elementLoop(elements []*mesh.Element, coeffs []S, locals []local[S], wantJac, wantRes bool) (err error) {
	var (
		workers = p.opts.Workers
	)
	if workers < 2 || len(elements) < 2 {
		w := p.newWorker(coeffs, false)
		defer w.close()
		for i, e := range elements {
			if locals[i], err = w.element(e, wantJac, wantRes); err != nil {
				return
			}
		}
		return
	}
	if workers > len(elements) {
		workers = len(elements)
	}
	var (
		g     errgroup.Group
		chunk = (len(elements) + workers - 1) / workers
	)
	for k := 0; k < workers; k++ {
		lo, hi := k*chunk, min((k+1)*chunk, len(elements))
		if lo >= hi {
			break
		}
		g.Go(func() (err error) {
			w := p.newWorker(coeffs, true)
			defer w.close()
			for i := lo; i < hi; i++ {
				if locals[i], err = w.element(elements[i], wantJac, wantRes); err != nil {
					return
				}
			}
			return
		})
	}
	return g.Wait()
}
