package adapt

import (
	"fmt"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/shapeset"
	"github.com/notargets/gohpfem/space"
)

// Apply carries out selections on a copy of the coarse mesh and returns the
// new coarse space. Sons take the candidate's order, untouched elements keep
// theirs.
func Apply(sp *space.L2Space, selections []Selection) (*space.L2Space, error) {
	var (
		m      = sp.Mesh().Copy()
		orders = make(map[int]shapeset.Order)
	)
	for _, s := range selections {
		if e := m.Element(s.ID); e == nil || !e.Active() {
			return nil, fmt.Errorf("selection of element %d which is not active", s.ID)
		}
		if s.Split == mesh.SplitNone {
			orders[s.ID] = s.Order
			continue
		}
		if err := m.Refine(s.ID, s.Split); err != nil {
			return nil, err
		}
		for _, son := range m.Element(s.ID).Sons {
			orders[son.ID] = s.Order
		}
	}
	return space.NewL2SpaceFunc(m, func(e *mesh.Element) shapeset.Order {
		if o, ok := orders[e.ID]; ok {
			return o
		}
		return sp.Order(e.ID)
	}), nil
}
