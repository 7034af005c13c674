package adapt

import (
	"fmt"
	"strings"

	"github.com/notargets/gohpfem/mesh"
	"github.com/notargets/gohpfem/shapeset"
)

// CandList names the family of refinements tried on a flagged element.
type CandList uint8

const (
	PIso CandList = iota
	PAniso
	HIso
	HAniso
	HPIso
	HPAniso
)

// maxPIncrease bounds the order increase of a single p-candidate.
const maxPIncrease = 2

var candListNames = []string{"p_iso", "p_aniso", "h_iso", "h_aniso", "hp_iso", "hp_aniso"}

func (cl CandList) String() string {
	if int(cl) < len(candListNames) {
		return candListNames[cl]
	}
	return fmt.Sprintf("CandList(%d)", cl)
}

// ParseCandList accepts the list names with or without the H2D_ prefix.
func ParseCandList(s string) (CandList, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "h2d_")
	for i, name := range candListNames {
		if s == name {
			return CandList(i), nil
		}
	}
	return 0, fmt.Errorf("unknown candidate list %q", s)
}

func (cl CandList) hasP() bool      { return cl == PIso || cl == PAniso || cl == HPIso || cl == HPAniso }
func (cl CandList) hasH() bool      { return cl != PIso && cl != PAniso }
func (cl CandList) isotropic() bool { return cl == PIso || cl == HIso || cl == HPIso }

// Candidate is one way to replace an element: a split with the order every
// son receives, or SplitNone with the element's new order.
type Candidate struct {
	Split mesh.Split
	Order shapeset.Order
}

func (c Candidate) Sons() []int {
	return c.Split.SonTransforms()
}

func (c Candidate) DOF() int {
	return max(1, len(c.Sons())) * shapeset.Count(c.Order)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s", c.Split, c.Order)
}

// Candidates lists the admissible refinements of an element of order o: no
// order above maxOrder, and more degrees of freedom than the element has.
func (cl CandList) Candidates(o shapeset.Order, maxOrder int) (cands []Candidate) {
	var (
		dof0 = shapeset.Count(o)
		seen = make(map[Candidate]bool)
		add  = func(split mesh.Split, h, v int) {
			c := Candidate{Split: split, Order: shapeset.Order{H: h, V: v}}
			if h < 0 || v < 0 || h > maxOrder || v > maxOrder || c.DOF() <= dof0 || seen[c] {
				return
			}
			seen[c] = true
			cands = append(cands, c)
		}
		half = shapeset.Order{H: (o.H + 1) / 2, V: (o.V + 1) / 2}
	)
	if cl.hasP() {
		for i := 0; i <= maxPIncrease; i++ {
			for j := 0; j <= maxPIncrease; j++ {
				if cl.isotropic() && i != j {
					continue
				}
				add(mesh.SplitNone, o.H+i, o.V+j)
			}
		}
	}
	if !cl.hasH() {
		return
	}
	splits := []mesh.Split{mesh.SplitIso}
	if !cl.isotropic() {
		splits = append(splits, mesh.SplitHorizontal, mesh.SplitVertical)
	}
	for _, split := range splits {
		switch cl {
		case HIso, HAniso:
			add(split, o.H, o.V)
		case HPIso:
			for d := 0; half.H+d <= o.H+1 && half.V+d <= o.V+1; d++ {
				add(split, half.H+d, half.V+d)
			}
		case HPAniso:
			for h := half.H; h <= o.H+1; h++ {
				for v := half.V; v <= o.V+1; v++ {
					add(split, h, v)
				}
			}
		}
	}
	return
}
