package planar

// faceUnbounded and faceDegenerate label half-edges that border no bounded
// face of positive area.
const (
	faceUnbounded  = -1
	faceDegenerate = -2
)

// arrangement is the face structure of a set of noded rings. Bounded faces
// are identified by the index of their counter-clockwise shell cycle.
type arrangement struct {
	g       *graph
	cycles  []*cycle
	shells  []int
	holesOf map[int][]int
	faceOf  []int
}

func buildArrangement(rings [][]pt, tol float64) (*arrangement, error) {
	nodes, edges := nodeRings(rings, tol)
	g := newGraph(nodes, edges, tol)
	cs, err := g.cycles(func(int) bool { return true }, g.next)
	if err != nil {
		return nil, err
	}
	shells, holes, owner := nesting(cs, tol)

	a := &arrangement{
		g:       g,
		cycles:  cs,
		shells:  shells,
		holesOf: make(map[int][]int),
		faceOf:  make([]int, g.halfEdges()),
	}
	for h := range a.faceOf {
		a.faceOf[h] = faceDegenerate
	}
	for _, s := range shells {
		for _, h := range cs[s].hes {
			a.faceOf[h] = s
		}
	}
	for i, hole := range holes {
		for _, h := range cs[hole].hes {
			a.faceOf[h] = owner[i]
		}
		if owner[i] >= 0 {
			a.holesOf[owner[i]] = append(a.holesOf[owner[i]], hole)
		}
	}
	return a, nil
}

// faceRings returns the shell ring of face s followed by its hole rings.
func (a *arrangement) faceRings(s int) [][]pt {
	rings := [][]pt{a.cycles[s].ring}
	for _, h := range a.holesOf[s] {
		rings = append(rings, a.cycles[h].ring)
	}
	return rings
}

// simplifyRing drops vertices lying within tol of the segment joining their
// neighbours.
func simplifyRing(r []pt, tol float64) []pt {
	for {
		n := len(r)
		if n <= 3 {
			return r
		}
		out := make([]pt, 0, n)
		removed, removedFirst, skip := false, false, false
		for i := 0; i < n; i++ {
			if skip {
				skip = false
				out = append(out, r[i])
				continue
			}
			a, b, c := r[(i-1+n)%n], r[i], r[(i+1)%n]
			if i == n-1 && removedFirst {
				out = append(out, b)
				continue
			}
			if d, t := segDist(b, a, c); d <= tol && t > 0 && t < 1 {
				removed, skip = true, true
				removedFirst = removedFirst || i == 0
				continue
			}
			out = append(out, b)
		}
		if !removed || len(out) < 3 {
			return r
		}
		r = out
	}
}
