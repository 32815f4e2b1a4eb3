package planar

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
)

type pt struct{ x, y float64 }

func (p pt) sub(q pt) pt { return pt{p.x - q.x, p.y - q.y} }

func cross(a, b pt) float64 { return a.x*b.y - a.y*b.x }

func dot(a, b pt) float64 { return a.x*b.x + a.y*b.y }

func dist(a, b pt) float64 { return math.Hypot(a.x-b.x, a.y-b.y) }

// segDist returns the distance from p to segment ab and the clamped
// parameter of the closest point.
func segDist(p, a, b pt) (float64, float64) {
	ab := b.sub(a)
	l2 := dot(ab, ab)
	if l2 == 0 {
		return dist(p, a), 0
	}
	t := dot(p.sub(a), ab) / l2
	t = math.Max(0, math.Min(1, t))
	return dist(p, pt{a.x + t*ab.x, a.y + t*ab.y}), t
}

// ringPts converts a go-geom ring to an open vertex list without the closing
// vertex or consecutive duplicates.
func ringPts(coords []geom.Coord) []pt {
	out := make([]pt, 0, len(coords))
	for _, c := range coords {
		p := pt{c.X(), c.Y()}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// polygonRings returns the open rings of p, shell first.
func polygonRings(p *geom.Polygon) [][]pt {
	rings := make([][]pt, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		rings = append(rings, ringPts(p.LinearRing(i).Coords()))
	}
	return rings
}

// polygons returns the polygons of a polygonal geometry.
func polygons(g geom.T) []*geom.Polygon {
	switch t := g.(type) {
	case *geom.Polygon:
		if t == nil || t.Empty() {
			return nil
		}
		return []*geom.Polygon{t}
	case *geom.MultiPolygon:
		if t == nil {
			return nil
		}
		out := make([]*geom.Polygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			if p := t.Polygon(i); !p.Empty() {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

func signedArea(ring []pt) float64 {
	var s float64
	n := len(ring)
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		s += a.x*b.y - b.x*a.y
	}
	return s / 2
}

func perimeter(ring []pt) float64 {
	var s float64
	n := len(ring)
	for i := 0; i < n; i++ {
		s += dist(ring[i], ring[(i+1)%n])
	}
	return s
}

func ringEnvelope(ring []pt) Envelope {
	e := EmptyEnvelope()
	for _, p := range ring {
		e = e.Expand(p.x, p.y)
	}
	return e
}

// ringParity is the even-odd ray-casting test. Points exactly on the ring get
// an arbitrary answer.
func ringParity(ring []pt, p pt) bool {
	in := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.y > p.y) != (b.y > p.y) {
			x := a.x + (p.y-a.y)*(b.x-a.x)/(b.y-a.y)
			if p.x < x {
				in = !in
			}
		}
	}
	return in
}

func nearRing(ring []pt, p pt, tol float64) bool {
	n := len(ring)
	for i := 0; i < n; i++ {
		if d, _ := segDist(p, ring[i], ring[(i+1)%n]); d <= tol {
			return true
		}
	}
	return false
}

// ringsParity applies ray casting across a shell and its holes.
func ringsParity(rings [][]pt, p pt) bool {
	in := false
	for _, r := range rings {
		if ringParity(r, p) {
			in = !in
		}
	}
	return in
}

// ringsContain is strict containment: points within tol of any ring are
// outside.
func ringsContain(rings [][]pt, p pt, tol float64) bool {
	for _, r := range rings {
		if nearRing(r, p, tol) {
			return false
		}
	}
	return ringsParity(rings, p)
}

// Area returns the unsigned area of a Polygon or MultiPolygon; holes are
// subtracted. Other geometries have zero area.
func Area(g geom.T) float64 {
	var total float64
	for _, p := range polygons(g) {
		rings := polygonRings(p)
		for i, r := range rings {
			a := math.Abs(signedArea(r))
			if i == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return math.Max(total, 0)
}

// Boundary returns the rings of p as closed line strings, shell first.
func Boundary(p *geom.Polygon) []*geom.LineString {
	if p == nil {
		return nil
	}
	out := make([]*geom.LineString, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		lr := p.LinearRing(i)
		out = append(out, geom.NewLineStringFlat(lr.Layout(), append([]float64(nil), lr.FlatCoords()...)))
	}
	return out
}

// Contains reports whether pnt lies in the interior of the polygonal
// geometry g. Points within the kernel tolerance of a boundary are outside.
func (k *Kernel) Contains(g geom.T, pnt *geom.Point) bool {
	if pnt == nil || pnt.Empty() {
		return false
	}
	p := pt{pnt.X(), pnt.Y()}
	for _, poly := range polygons(g) {
		if !EnvelopeOf(poly).Buffer(k.tol).ContainsXY(p.x, p.y) {
			continue
		}
		if ringsContain(polygonRings(poly), p, k.tol) {
			return true
		}
	}
	return false
}

// PointOnSurface returns a point guaranteed to lie in the interior of p, or
// nil for an empty or zero-area polygon.
func PointOnSurface(p *geom.Polygon) *geom.Point {
	if p == nil || p.Empty() {
		return nil
	}
	q, ok := interiorPoint(polygonRings(p))
	if !ok {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{q.x, q.y})
}

// interiorPoint scans a horizontal line that passes through no vertex and
// returns the midpoint of the widest interior interval on it.
func interiorPoint(rings [][]pt) (pt, bool) {
	if len(rings) == 0 || len(rings[0]) < 3 {
		return pt{}, false
	}
	env := ringEnvelope(rings[0])
	centre := (env.MinY + env.MaxY) / 2
	lo, hi := env.MinY, env.MaxY
	for _, r := range rings {
		for _, v := range r {
			if v.y <= centre && v.y > lo {
				lo = v.y
			}
			if v.y > centre && v.y < hi {
				hi = v.y
			}
		}
	}
	y := (lo + hi) / 2

	var xs []float64
	for _, r := range rings {
		n := len(r)
		for i := 0; i < n; i++ {
			a, b := r[i], r[(i+1)%n]
			if (a.y > y) != (b.y > y) {
				xs = append(xs, a.x+(y-a.y)*(b.x-a.x)/(b.y-a.y))
			}
		}
	}
	if len(xs) < 2 {
		return pt{}, false
	}
	sort.Float64s(xs)

	best, bestW := pt{}, -1.0
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > bestW {
			bestW = w
			best = pt{(xs[i] + xs[i+1]) / 2, y}
		}
	}
	if bestW <= 0 {
		return pt{}, false
	}
	return best, true
}

// Centroid returns a representative point for g: the point itself, the
// vertex average of a line string, or the area-weighted centroid of a
// polygonal geometry. Nil is returned for empty input.
func Centroid(g geom.T) *geom.Point {
	if g == nil || g.Empty() {
		return nil
	}
	switch t := g.(type) {
	case *geom.Point:
		return t
	case *geom.LineString:
		return vertexAverage(ringPts(t.Coords()))
	case *geom.MultiLineString:
		var all []pt
		for i := 0; i < t.NumLineStrings(); i++ {
			all = append(all, ringPts(t.LineString(i).Coords())...)
		}
		return vertexAverage(all)
	case *geom.Polygon, *geom.MultiPolygon:
		var sx, sy, sa float64
		var all []pt
		for _, p := range polygons(t) {
			for i, r := range polygonRings(p) {
				a := math.Abs(signedArea(r))
				cx, cy := ringCentroid(r)
				if i > 0 {
					a = -a
				}
				sx += cx * a
				sy += cy * a
				sa += a
				all = append(all, r...)
			}
		}
		if sa <= 0 {
			return vertexAverage(all)
		}
		return geom.NewPointFlat(geom.XY, []float64{sx / sa, sy / sa})
	default:
		return nil
	}
}

func ringCentroid(r []pt) (float64, float64) {
	var cx, cy, a2 float64
	n := len(r)
	for i := 0; i < n; i++ {
		p, q := r[i], r[(i+1)%n]
		c := p.x*q.y - q.x*p.y
		cx += (p.x + q.x) * c
		cy += (p.y + q.y) * c
		a2 += c
	}
	if a2 == 0 {
		return 0, 0
	}
	return cx / (3 * a2), cy / (3 * a2)
}

func vertexAverage(ps []pt) *geom.Point {
	if len(ps) == 0 {
		return nil
	}
	var sx, sy float64
	for _, p := range ps {
		sx += p.x
		sy += p.y
	}
	n := float64(len(ps))
	return geom.NewPointFlat(geom.XY, []float64{sx / n, sy / n})
}

// closedCoords converts an open ring to closed go-geom coordinates.
func closedCoords(ring []pt) []geom.Coord {
	out := make([]geom.Coord, 0, len(ring)+1)
	for _, p := range ring {
		out = append(out, geom.Coord{p.x, p.y})
	}
	return append(out, geom.Coord{ring[0].x, ring[0].y})
}

// buildMultiPolygon assembles polygons given as shell-first open rings.
func buildMultiPolygon(polys [][][]pt) *geom.MultiPolygon {
	coords := make([][][]geom.Coord, 0, len(polys))
	for _, rings := range polys {
		pc := make([][]geom.Coord, 0, len(rings))
		for _, r := range rings {
			pc = append(pc, closedCoords(r))
		}
		coords = append(coords, pc)
	}
	return geom.NewMultiPolygon(geom.XY).MustSetCoords(coords)
}

func buildPolygon(rings [][]pt) *geom.Polygon {
	pc := make([][]geom.Coord, 0, len(rings))
	for _, r := range rings {
		pc = append(pc, closedCoords(r))
	}
	return geom.NewPolygon(geom.XY).MustSetCoords(pc)
}

// EmptyMultiPolygon returns the empty set.
func EmptyMultiPolygon() *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY)
}

// IsEmpty reports whether a polygonal geometry is nil or has no area-bearing
// polygon.
func IsEmpty(g geom.T) bool {
	return len(polygons(g)) == 0
}

// AsMultiPolygon wraps a polygon as a single-member MultiPolygon.
func AsMultiPolygon(p *geom.Polygon) *geom.MultiPolygon {
	if p == nil || p.Empty() {
		return EmptyMultiPolygon()
	}
	return buildMultiPolygon([][][]pt{polygonRings(p)})
}
