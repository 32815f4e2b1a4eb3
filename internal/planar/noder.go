package planar

import (
	"math"
	"sort"
)

// nodeGrid merges points that lie within tol of an existing node. Cells are
// tol wide, so only the 3x3 neighbourhood needs checking.
type nodeGrid struct {
	tol   float64
	cells map[[2]int64][]int
	nodes []pt
}

func newNodeGrid(tol float64) *nodeGrid {
	return &nodeGrid{tol: tol, cells: make(map[[2]int64][]int)}
}

func (g *nodeGrid) cell(p pt) [2]int64 {
	return [2]int64{int64(math.Floor(p.x / g.tol)), int64(math.Floor(p.y / g.tol))}
}

func (g *nodeGrid) id(p pt) int {
	c := g.cell(p)
	best, bestD := -1, g.tol
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, i := range g.cells[[2]int64{c[0] + dx, c[1] + dy}] {
				if d := dist(g.nodes[i], p); d <= bestD {
					best, bestD = i, d
				}
			}
		}
	}
	if best >= 0 {
		return best
	}
	g.nodes = append(g.nodes, p)
	id := len(g.nodes) - 1
	g.cells[c] = append(g.cells[c], id)
	return id
}

type nodedSeg struct {
	a, b   pt
	splits []pt
}

// addSplit records p as a split point of s unless it sits on an endpoint.
func (s *nodedSeg) addSplit(p pt, tol float64) {
	if dist(p, s.a) <= tol || dist(p, s.b) <= tol {
		return
	}
	s.splits = append(s.splits, p)
}

// pieces returns the vertices of s ordered from a to b, split points included.
func (s *nodedSeg) pieces() []pt {
	if len(s.splits) == 0 {
		return []pt{s.a, s.b}
	}
	ab := s.b.sub(s.a)
	sort.Slice(s.splits, func(i, j int) bool {
		return dot(s.splits[i].sub(s.a), ab) < dot(s.splits[j].sub(s.a), ab)
	})
	out := make([]pt, 0, len(s.splits)+2)
	out = append(out, s.a)
	out = append(out, s.splits...)
	return append(out, s.b)
}

// nodeRings splits all ring segments at mutual intersections, merges nearby
// vertices and returns the resulting node coordinates and undirected edges.
// Duplicate edges collapse into one.
func nodeRings(rings [][]pt, tol float64) ([]pt, [][2]int) {
	var segs []*nodedSeg
	var envs []Envelope
	for _, r := range rings {
		n := len(r)
		if n < 2 {
			continue
		}
		for i := 0; i < n; i++ {
			a, b := r[i], r[(i+1)%n]
			if a == b {
				continue
			}
			segs = append(segs, &nodedSeg{a: a, b: b})
			envs = append(envs, EmptyEnvelope().Expand(a.x, a.y).Expand(b.x, b.y))
		}
	}

	ix := NewIndex(envs, tol)
	for i, s := range segs {
		for _, j := range ix.Search(envs[i]) {
			if j <= i {
				continue
			}
			intersectSegs(s, segs[j], tol)
		}
	}

	grid := newNodeGrid(tol)
	seen := make(map[[2]int]bool)
	var edges [][2]int
	for _, s := range segs {
		ps := s.pieces()
		prev := grid.id(ps[0])
		for _, p := range ps[1:] {
			cur := grid.id(p)
			if cur == prev {
				continue
			}
			key := [2]int{min(prev, cur), max(prev, cur)}
			if !seen[key] {
				seen[key] = true
				edges = append(edges, [2]int{prev, cur})
			}
			prev = cur
		}
	}
	return grid.nodes, edges
}

// intersectSegs records endpoint-on-interior touches and proper crossings
// between s and o.
func intersectSegs(s, o *nodedSeg, tol float64) {
	for _, p := range []pt{o.a, o.b} {
		if d, t := segDist(p, s.a, s.b); d <= tol && t > 0 && t < 1 {
			s.addSplit(p, tol)
		}
	}
	for _, p := range []pt{s.a, s.b} {
		if d, t := segDist(p, o.a, o.b); d <= tol && t > 0 && t < 1 {
			o.addSplit(p, tol)
		}
	}

	r, q := s.b.sub(s.a), o.b.sub(o.a)
	den := cross(r, q)
	if den == 0 {
		return
	}
	ca := o.a.sub(s.a)
	t := cross(ca, q) / den
	u := cross(ca, r) / den
	if t <= 0 || t >= 1 || u <= 0 || u >= 1 {
		return
	}
	x := pt{s.a.x + t*r.x, s.a.y + t*r.y}
	for _, e := range []pt{s.a, s.b, o.a, o.b} {
		if dist(x, e) <= tol {
			return
		}
	}
	s.addSplit(x, tol)
	o.addSplit(x, tol)
}
