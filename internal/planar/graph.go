package planar

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// graph is a half-edge view of a noded arrangement. Half-edge 2e runs from
// edges[e][0] to edges[e][1] and 2e+1 runs back, so the twin of h is h^1.
type graph struct {
	tol   float64
	nodes []pt
	edges [][2]int
	out   [][]int // outgoing half-edges per node, counter-clockwise by angle
	pos   []int   // position of each half-edge in out[origin]
}

func (g *graph) orig(h int) int { return g.edges[h>>1][h&1] }

func (g *graph) dest(h int) int { return g.edges[h>>1][(h&1)^1] }

func (g *graph) halfEdges() int { return 2 * len(g.edges) }

// newGraph prunes dangling edges and orders the outgoing half-edges at every
// node.
func newGraph(nodes []pt, edges [][2]int, tol float64) *graph {
	edges = pruneDangles(len(nodes), edges)
	g := &graph{
		tol:   tol,
		nodes: nodes,
		edges: edges,
		out:   make([][]int, len(nodes)),
		pos:   make([]int, 2*len(edges)),
	}
	for h := 0; h < g.halfEdges(); h++ {
		o := g.orig(h)
		g.out[o] = append(g.out[o], h)
	}
	for v, hs := range g.out {
		p := g.nodes[v]
		angle := func(h int) float64 {
			q := g.nodes[g.dest(h)]
			return math.Atan2(q.y-p.y, q.x-p.x)
		}
		sort.Slice(hs, func(i, j int) bool { return angle(hs[i]) < angle(hs[j]) })
		for i, h := range hs {
			g.pos[h] = i
		}
	}
	return g
}

// pruneDangles repeatedly removes edges with a degree-1 endpoint; they cannot
// bound a face.
func pruneDangles(n int, edges [][2]int) [][2]int {
	deg := make([]int, n)
	incident := make([][]int, n)
	for i, e := range edges {
		deg[e[0]]++
		deg[e[1]]++
		incident[e[0]] = append(incident[e[0]], i)
		incident[e[1]] = append(incident[e[1]], i)
	}
	dead := make([]bool, len(edges))
	var queue []int
	for v := range deg {
		if deg[v] == 1 {
			queue = append(queue, v)
		}
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if deg[v] != 1 {
			continue
		}
		for _, i := range incident[v] {
			if dead[i] {
				continue
			}
			dead[i] = true
			for _, w := range edges[i] {
				deg[w]--
				if deg[w] == 1 {
					queue = append(queue, w)
				}
			}
		}
	}
	kept := edges[:0:0]
	for i, e := range edges {
		if !dead[i] {
			kept = append(kept, e)
		}
	}
	return kept
}

// next returns the half-edge following h around the face on its left: the
// first outgoing edge clockwise from twin(h) at the destination.
func (g *graph) next(h int) int {
	hs := g.out[g.dest(h)]
	return hs[(g.pos[h^1]-1+len(hs))%len(hs)]
}

// nextMatching is next restricted to half-edges accepted by keep.
func (g *graph) nextMatching(h int, keep func(int) bool) int {
	hs := g.out[g.dest(h)]
	n := len(hs)
	start := g.pos[h^1]
	for i := 1; i <= n; i++ {
		if c := hs[(start-i+n)%n]; keep(c) {
			return c
		}
	}
	return -1
}

// cycle is a closed walk of half-edges.
type cycle struct {
	hes   []int
	ring  []pt
	area  float64 // signed; positive is counter-clockwise
	perim float64
	env   Envelope
}

func (c *cycle) degenerate(tol float64) bool {
	return math.Abs(c.area) <= tol*c.perim/2
}

// cycles traces every half-edge accepted by include into closed walks using
// step. A half-edge reached twice or a walk that does not return to its start
// is a subdivision failure.
func (g *graph) cycles(include func(int) bool, step func(int) int) ([]*cycle, error) {
	seen := make([]bool, g.halfEdges())
	var out []*cycle
	for h := 0; h < g.halfEdges(); h++ {
		if seen[h] || !include(h) {
			continue
		}
		c := &cycle{env: EmptyEnvelope()}
		cur := h
		for {
			seen[cur] = true
			c.hes = append(c.hes, cur)
			p := g.nodes[g.orig(cur)]
			c.ring = append(c.ring, p)
			c.env = c.env.Expand(p.x, p.y)

			nxt := step(cur)
			if nxt < 0 {
				return nil, eris.Wrapf(ErrSubdivision, "planar: half-edge %d has no successor", cur)
			}
			if nxt == h {
				break
			}
			if seen[nxt] {
				return nil, eris.Wrapf(ErrSubdivision, "planar: half-edge %d visited twice", nxt)
			}
			if len(c.hes) > g.halfEdges() {
				return nil, eris.Wrap(ErrSubdivision, "planar: face walk does not close")
			}
			cur = nxt
		}
		c.area = signedArea(c.ring)
		c.perim = perimeter(c.ring)
		out = append(out, c)
	}
	return out, nil
}

// nesting classifies cycles into shells (counter-clockwise, positive area)
// and holes (clockwise) and assigns every hole to the smallest shell that
// strictly contains it. owner[i] is the shell index for hole i or -1 when it
// lies in the unbounded face. Degenerate cycles appear in neither list.
func nesting(cs []*cycle, tol float64) (shells, holes, owner []int) {
	for i, c := range cs {
		switch {
		case c.degenerate(tol):
		case c.area > 0:
			shells = append(shells, i)
		default:
			holes = append(holes, i)
		}
	}

	envs := make([]Envelope, len(shells))
	for i, s := range shells {
		envs[i] = cs[s].env
	}
	ix := NewIndex(envs, tol)

	owner = make([]int, len(holes))
	for i, hIdx := range holes {
		h := cs[hIdx]
		p := pt{(h.ring[0].x + h.ring[1].x) / 2, (h.ring[0].y + h.ring[1].y) / 2}
		owner[i] = -1
		bestArea := math.Inf(1)
		for _, si := range ix.SearchPoint(p.x, p.y) {
			s := cs[shells[si]]
			if s.area >= bestArea || !s.env.ContainsXY(p.x, p.y) {
				continue
			}
			if !nearRing(s.ring, p, tol) && ringParity(s.ring, p) {
				owner[i] = shells[si]
				bestArea = s.area
			}
		}
	}
	return shells, holes, owner
}
