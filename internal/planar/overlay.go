package planar

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// operand is one overlay input split into polygons of open rings.
type operand struct {
	polys [][][]pt
	envs  []Envelope
	env   Envelope
}

func newOperand(g geom.T) operand {
	op := operand{env: EmptyEnvelope()}
	for _, p := range polygons(g) {
		rings := polygonRings(p)
		if len(rings) == 0 || len(rings[0]) < 3 {
			continue
		}
		e := ringEnvelope(rings[0])
		op.polys = append(op.polys, rings)
		op.envs = append(op.envs, e)
		op.env = op.env.Union(e)
	}
	return op
}

func (op operand) empty() bool { return len(op.polys) == 0 }

// covers applies the even-odd rule per polygon; a point inside any polygon is
// covered.
func (op operand) covers(p pt) bool {
	for i, rings := range op.polys {
		if op.envs[i].ContainsXY(p.x, p.y) && ringsParity(rings, p) {
			return true
		}
	}
	return false
}

// Union returns the union of all inputs. Nil and empty inputs are ignored;
// the union of nothing is empty.
func (k *Kernel) Union(gs ...*geom.MultiPolygon) (*geom.MultiPolygon, error) {
	ops := make([]operand, 0, len(gs))
	for _, g := range gs {
		if op := newOperand(g); !op.empty() {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return EmptyMultiPolygon(), nil
	}
	return k.overlay(ops, func(cov []bool) bool {
		for _, c := range cov {
			if c {
				return true
			}
		}
		return false
	})
}

// Intersection returns the region covered by both a and b.
func (k *Kernel) Intersection(a, b *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	opA, opB := newOperand(a), newOperand(b)
	if opA.empty() || opB.empty() || !opA.env.Intersects(opB.env) {
		return EmptyMultiPolygon(), nil
	}
	return k.overlay([]operand{opA, opB}, func(cov []bool) bool { return cov[0] && cov[1] })
}

// Difference returns the region of a not covered by b. When b is nil, empty
// or cannot reach a, a is returned unchanged.
func (k *Kernel) Difference(a, b *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	opA := newOperand(a)
	if opA.empty() {
		return EmptyMultiPolygon(), nil
	}
	opB := newOperand(b)
	if opB.empty() || !opA.env.Intersects(opB.env) {
		return a, nil
	}
	return k.overlay([]operand{opA, opB}, func(cov []bool) bool { return cov[0] && !cov[1] })
}

// overlay nodes all operand rings together, selects the arrangement faces
// whose coverage satisfies sel and traces the boundary between selected and
// unselected faces into valid polygons.
func (k *Kernel) overlay(ops []operand, sel func(cov []bool) bool) (*geom.MultiPolygon, error) {
	var rings [][]pt
	envs := make([]Envelope, len(ops))
	for i, op := range ops {
		for _, p := range op.polys {
			rings = append(rings, p...)
		}
		envs[i] = op.env
	}

	arr, err := buildArrangement(rings, k.tol)
	if err != nil {
		return nil, eris.Wrap(err, "planar: overlay")
	}

	ix := NewIndex(envs, k.tol)
	selected := make(map[int]bool, len(arr.shells))
	cov := make([]bool, len(ops))
	for _, s := range arr.shells {
		p, ok := interiorPoint(arr.faceRings(s))
		if !ok {
			continue
		}
		for i := range cov {
			cov[i] = false
		}
		for _, i := range ix.SearchPoint(p.x, p.y) {
			cov[i] = ops[i].covers(p)
		}
		if sel(cov) {
			selected[s] = true
		}
	}

	return k.dissolve(arr, func(face int) bool { return face >= 0 && selected[face] })
}

// dissolve traces the half-edges that have a selected face on their left and
// an unselected face on their right.
func (k *Kernel) dissolve(arr *arrangement, isSel func(face int) bool) (*geom.MultiPolygon, error) {
	g := arr.g
	kept := func(h int) bool { return isSel(arr.faceOf[h]) && !isSel(arr.faceOf[h^1]) }
	cs, err := g.cycles(kept, func(h int) int { return g.nextMatching(h, kept) })
	if err != nil {
		return nil, eris.Wrap(err, "planar: dissolve")
	}

	shells, holes, owner := nesting(cs, k.tol)
	polys := make(map[int][][]pt, len(shells))
	for _, s := range shells {
		polys[s] = [][]pt{simplifyRing(cs[s].ring, k.tol)}
	}
	for i, h := range holes {
		if owner[i] < 0 {
			return nil, eris.Wrap(ErrSubdivision, "planar: result hole outside every shell")
		}
		polys[owner[i]] = append(polys[owner[i]], simplifyRing(cs[h].ring, k.tol))
	}

	out := make([][][]pt, 0, len(shells))
	for _, s := range shells {
		out = append(out, polys[s])
	}
	return buildMultiPolygon(out), nil
}
