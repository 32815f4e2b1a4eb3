package planar

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Buffer returns the region within metres of g, measured on the ground. The
// distance is converted to projected units with the projection's scale
// factor at the centre of g. Points become regular discs, line strings the
// union of capsules around their segments and polygons are dilated by the
// same capsules around every ring edge. A nil or empty g yields the empty
// set.
func (k *Kernel) Buffer(g geom.T, metres float64) (*geom.MultiPolygon, error) {
	if metres < 0 || math.IsNaN(metres) {
		return nil, eris.Errorf("planar: invalid buffer distance %v", metres)
	}
	if g == nil || g.Empty() {
		return EmptyMultiPolygon(), nil
	}
	_, cy := EnvelopeOf(g).Centre()
	d := metres * k.proj.Scale(cy)

	var pieces []*geom.MultiPolygon
	switch t := g.(type) {
	case *geom.Point:
		if d == 0 {
			return EmptyMultiPolygon(), nil
		}
		return buildMultiPolygon([][][]pt{{k.disc(pt{t.X(), t.Y()}, d)}}), nil
	case *geom.MultiPoint:
		if d == 0 {
			return EmptyMultiPolygon(), nil
		}
		for i := 0; i < t.NumPoints(); i++ {
			p := t.Point(i)
			pieces = append(pieces, buildMultiPolygon([][][]pt{{k.disc(pt{p.X(), p.Y()}, d)}}))
		}
	case *geom.LineString:
		if d == 0 {
			return EmptyMultiPolygon(), nil
		}
		pieces = k.lineCapsules(ringPts(t.Coords()), d, false)
	case *geom.MultiLineString:
		if d == 0 {
			return EmptyMultiPolygon(), nil
		}
		for i := 0; i < t.NumLineStrings(); i++ {
			pieces = append(pieces, k.lineCapsules(ringPts(t.LineString(i).Coords()), d, false)...)
		}
	case *geom.Polygon, *geom.MultiPolygon:
		for _, p := range polygons(t) {
			pieces = append(pieces, AsMultiPolygon(p))
			if d == 0 {
				continue
			}
			for _, r := range polygonRings(p) {
				pieces = append(pieces, k.lineCapsules(r, d, true)...)
			}
		}
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "planar: cannot buffer %T", g)
	}

	out, err := k.Union(pieces...)
	if err != nil {
		return nil, eris.Wrap(err, "planar: buffer")
	}
	return out, nil
}

func (k *Kernel) angleStep() float64 {
	return math.Pi / 2 / float64(k.quadSegs)
}

func onCircle(c pt, r, a float64) pt {
	return pt{c.x + r*math.Cos(a), c.y + r*math.Sin(a)}
}

// disc approximates a circle with 4*quadSegs vertices lying on it.
func (k *Kernel) disc(c pt, r float64) []pt {
	n := 4 * k.quadSegs
	step := k.angleStep()
	out := make([]pt, n)
	for i := 0; i < n; i++ {
		out[i] = onCircle(c, r, float64(i)*step)
	}
	return out
}

// arc returns the counter-clockwise arc from a0 to a1. Intermediate vertices
// sit on the same angular grid as disc, so arcs around a shared centre share
// vertices.
func (k *Kernel) arc(c pt, r, a0, a1 float64) []pt {
	step := k.angleStep()
	eps := step * 1e-3
	out := []pt{onCircle(c, r, a0)}
	for i := math.Floor(a0/step) + 1; i*step < a1; i++ {
		a := i * step
		if a-a0 < eps || a1-a < eps {
			continue
		}
		out = append(out, onCircle(c, r, a))
	}
	return append(out, onCircle(c, r, a1))
}

// capsule is the stadium around segment ab, counter-clockwise.
func (k *Kernel) capsule(a, b pt, r float64) []pt {
	if a == b {
		return k.disc(a, r)
	}
	theta := math.Atan2(b.y-a.y, b.x-a.x)
	ring := k.arc(b, r, theta-math.Pi/2, theta+math.Pi/2)
	return append(ring, k.arc(a, r, theta+math.Pi/2, theta+3*math.Pi/2)...)
}

// lineCapsules returns one capsule per segment of line; closed adds the
// segment from the last vertex back to the first.
func (k *Kernel) lineCapsules(line []pt, r float64, closed bool) []*geom.MultiPolygon {
	switch len(line) {
	case 0:
		return nil
	case 1:
		return []*geom.MultiPolygon{buildMultiPolygon([][][]pt{{k.disc(line[0], r)}})}
	}
	n := len(line) - 1
	if closed {
		n = len(line)
	}
	out := make([]*geom.MultiPolygon, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, buildMultiPolygon([][][]pt{{k.capsule(line[i], line[(i+1)%len(line)], r)}}))
	}
	return out
}
