package planar

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Validate checks that g can take part in planar operations. Points and
// line strings need finite coordinates (and two distinct vertices for lines);
// polygon rings additionally need three distinct vertices, non-zero area and
// no self-intersection. Rings may touch at vertices.
func (k *Kernel) Validate(g geom.T) error {
	if g == nil {
		return eris.Wrap(ErrInvalidGeometry, "planar: nil geometry")
	}
	for i, v := range g.FlatCoords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Wrapf(ErrInvalidGeometry, "planar: non-finite coordinate at %d", i)
		}
	}

	switch t := g.(type) {
	case *geom.Point:
		if t.Empty() {
			return eris.Wrap(ErrInvalidGeometry, "planar: empty point")
		}
		return nil
	case *geom.LineString:
		if len(ringPts(t.Coords())) < 2 {
			return eris.Wrap(ErrInvalidGeometry, "planar: line string needs two distinct vertices")
		}
		return nil
	case *geom.MultiLineString:
		if t.NumLineStrings() == 0 {
			return eris.Wrap(ErrInvalidGeometry, "planar: empty multilinestring")
		}
		for i := 0; i < t.NumLineStrings(); i++ {
			if len(ringPts(t.LineString(i).Coords())) < 2 {
				return eris.Wrapf(ErrInvalidGeometry, "planar: line %d needs two distinct vertices", i)
			}
		}
		return nil
	case *geom.Polygon:
		return k.validatePolygon(t)
	case *geom.MultiPolygon:
		if t.NumPolygons() == 0 {
			return eris.Wrap(ErrInvalidGeometry, "planar: empty multipolygon")
		}
		for i := 0; i < t.NumPolygons(); i++ {
			if err := k.validatePolygon(t.Polygon(i)); err != nil {
				return eris.Wrapf(err, "planar: polygon %d", i)
			}
		}
		return nil
	default:
		return eris.Wrapf(ErrInvalidGeometry, "planar: unsupported geometry %T", g)
	}
}

func (k *Kernel) validatePolygon(p *geom.Polygon) error {
	if p.NumLinearRings() == 0 {
		return eris.Wrap(ErrInvalidGeometry, "planar: polygon has no shell")
	}
	rings := polygonRings(p)
	for i, r := range rings {
		if len(r) < 3 {
			return eris.Wrapf(ErrInvalidGeometry, "planar: ring %d has fewer than 3 distinct vertices", i)
		}
		if math.Abs(signedArea(r)) <= k.tol*perimeter(r)/2 {
			return eris.Wrapf(ErrInvalidGeometry, "planar: ring %d has zero area", i)
		}
	}
	if ringsCross(rings, k.tol) {
		return eris.Wrap(ErrInvalidGeometry, "planar: self-intersecting rings")
	}
	return nil
}

type ringSeg struct {
	ring, idx int
	a, b      pt
}

// ringsCross reports proper crossings or collinear overlaps between
// non-adjacent segments of the given rings.
func ringsCross(rings [][]pt, tol float64) bool {
	var segs []ringSeg
	var envs []Envelope
	for ri, r := range rings {
		n := len(r)
		for i := 0; i < n; i++ {
			a, b := r[i], r[(i+1)%n]
			segs = append(segs, ringSeg{ring: ri, idx: i, a: a, b: b})
			envs = append(envs, EmptyEnvelope().Expand(a.x, a.y).Expand(b.x, b.y))
		}
	}
	ix := NewIndex(envs, tol)
	for i, s := range segs {
		for _, j := range ix.Search(envs[i]) {
			if j <= i {
				continue
			}
			o := segs[j]
			if s.ring == o.ring && adjacent(s.idx, o.idx, len(rings[s.ring])) {
				continue
			}
			if segmentsConflict(s.a, s.b, o.a, o.b, tol) {
				return true
			}
		}
	}
	return false
}

func adjacent(i, j, n int) bool {
	d := i - j
	if d < 0 {
		d = -d
	}
	return d == 1 || d == n-1
}

func orient(a, b, c pt, tol float64) int {
	ab := b.sub(a)
	l := math.Hypot(ab.x, ab.y)
	v := cross(ab, c.sub(a))
	switch {
	case v > tol*l:
		return 1
	case v < -tol*l:
		return -1
	default:
		return 0
	}
}

// segmentsConflict reports a proper crossing or a collinear overlap of
// positive length. Touching at a single point is allowed.
func segmentsConflict(a, b, c, d pt, tol float64) bool {
	o1, o2 := orient(a, b, c, tol), orient(a, b, d, tol)
	o3, o4 := orient(c, d, a, tol), orient(c, d, b, tol)
	if o1*o2 < 0 && o3*o4 < 0 {
		return true
	}
	if o1 != 0 || o2 != 0 {
		return false
	}
	ab := b.sub(a)
	l2 := dot(ab, ab)
	if l2 == 0 {
		return false
	}
	t0 := dot(c.sub(a), ab) / l2
	t1 := dot(d.sub(a), ab) / l2
	lo, hi := math.Max(0, math.Min(t0, t1)), math.Min(1, math.Max(t0, t1))
	return (hi-lo)*math.Sqrt(l2) > tol
}
