package meshfn

import (
	"fmt"

	"github.com/notargets/gohpfem/mesh"
)

// Cell is a piece of a primary element on which every traversed mesh is a
// single element. Paths lead from each element's box down to the cell box.
type Cell struct {
	Root     int
	Box      mesh.Box
	Path     []int           // primary element -> cell
	Elements []*mesh.Element // per traversed mesh
	Paths    [][]int
}

// Traverse cuts an active primary element into the cells of the union of
// the refinements of meshes. All meshes must share the primary's base mesh.
func Traverse(primary *mesh.Element, meshes []*mesh.Mesh) (cells []Cell) {
	var (
		walk func(b mesh.Box)
	)
	if !primary.Active() {
		panic(fmt.Errorf("traversal of inactive element %d", primary.ID))
	}
	walk = func(b mesh.Box) {
		var (
			located = make([]*mesh.Element, len(meshes))
			splitX  bool
			splitY  bool
		)
		for i, m := range meshes {
			e := m.Locate(primary.Root, b)
			if e == nil {
				panic(fmt.Errorf("mesh %d has no base element %d", i, primary.Root))
			}
			located[i] = e
			if e.Active() {
				continue
			}
			// b sits inside e but inside none of its sons, so it spans
			// e's midline in a direction that e splits
			var (
				midX = 0.5 * (e.Box.X0 + e.Box.X1)
				midY = 0.5 * (e.Box.Y0 + e.Box.Y1)
			)
			if e.Split != mesh.SplitHorizontal && b.X0 < midX && midX < b.X1 {
				splitX = true
			}
			if e.Split != mesh.SplitVertical && b.Y0 < midY && midY < b.Y1 {
				splitY = true
			}
		}
		var sons []int
		switch {
		case splitX && splitY:
			sons = mesh.SplitIso.SonTransforms()
		case splitX:
			sons = mesh.SplitVertical.SonTransforms()
		case splitY:
			sons = mesh.SplitHorizontal.SonTransforms()
		default:
			c := Cell{
				Root:     primary.Root,
				Box:      b,
				Path:     mesh.PathBetween(primary.Box, b),
				Elements: located,
				Paths:    make([][]int, len(meshes)),
			}
			for i, e := range located {
				c.Paths[i] = mesh.PathBetween(e.Box, b)
			}
			cells = append(cells, c)
			return
		}
		for _, son := range sons {
			walk(b.Son(son))
		}
	}
	walk(primary.Box)
	return
}
