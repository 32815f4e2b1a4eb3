package planar

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/twpayne/go-geom"
)

// minExtent keeps rtree rectangles non-degenerate; rtreego rejects zero lengths.
const minExtent = 1e-9

// Envelope is an axis-aligned bounding box in projected units.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// EmptyEnvelope returns an envelope that contains nothing and extends to
// anything it is expanded with.
func EmptyEnvelope() Envelope {
	return Envelope{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

// EnvelopeOf returns the bounding box of g. Empty geometries yield an empty
// envelope.
func EnvelopeOf(g geom.T) Envelope {
	if g == nil || g.Empty() {
		return EmptyEnvelope()
	}
	b := g.Bounds()
	return Envelope{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// IsEmpty reports whether e contains no point.
func (e Envelope) IsEmpty() bool { return e.MinX > e.MaxX || e.MinY > e.MaxY }

// Intersects reports whether e and o share at least one point.
func (e Envelope) Intersects(o Envelope) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// ContainsXY reports whether (x, y) lies in e, boundary included.
func (e Envelope) ContainsXY(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// Expand grows e to cover (x, y).
func (e Envelope) Expand(x, y float64) Envelope {
	e.MinX = math.Min(e.MinX, x)
	e.MinY = math.Min(e.MinY, y)
	e.MaxX = math.Max(e.MaxX, x)
	e.MaxY = math.Max(e.MaxY, y)
	return e
}

// Union returns the envelope covering e and o.
func (e Envelope) Union(o Envelope) Envelope {
	if o.IsEmpty() {
		return e
	}
	return e.Expand(o.MinX, o.MinY).Expand(o.MaxX, o.MaxY)
}

// Buffer grows e by d on every side.
func (e Envelope) Buffer(d float64) Envelope {
	if e.IsEmpty() {
		return e
	}
	return Envelope{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

// Centre returns the centre of e.
func (e Envelope) Centre() (float64, float64) {
	return (e.MinX + e.MaxX) / 2, (e.MinY + e.MaxY) / 2
}

func (e Envelope) rect(pad float64) rtreego.Rect {
	pad = math.Max(pad, minExtent)
	r, err := rtreego.NewRect(
		rtreego.Point{e.MinX - pad, e.MinY - pad},
		[]float64{e.MaxX - e.MinX + 2*pad, e.MaxY - e.MinY + 2*pad},
	)
	if err != nil {
		// Only reachable for NaN extents, which Validate rejects upstream.
		r, _ = rtreego.NewRect(rtreego.Point{0, 0}, []float64{minExtent, minExtent})
	}
	return r
}

// indexEntry wraps an item position for R-tree storage.
type indexEntry struct {
	idx  int
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *indexEntry) Bounds() rtreego.Rect { return e.rect }

// Index is an R-tree over envelopes that answers which items may intersect a
// query box. Results are candidates; callers apply the exact test.
type Index struct {
	tree *rtreego.Rtree
	pad  float64
	size int
}

// NewIndex builds an index over envs, padding every box by pad. Empty
// envelopes are skipped.
func NewIndex(envs []Envelope, pad float64) *Index {
	objs := make([]rtreego.Spatial, 0, len(envs))
	for i, e := range envs {
		if e.IsEmpty() {
			continue
		}
		objs = append(objs, &indexEntry{idx: i, rect: e.rect(pad)})
	}
	return &Index{
		tree: rtreego.NewTree(2, 25, 50, objs...),
		pad:  pad,
		size: len(objs),
	}
}

// Len returns the number of indexed items.
func (ix *Index) Len() int { return ix.size }

// Search returns the positions of items whose padded boxes intersect q.
func (ix *Index) Search(q Envelope) []int {
	if q.IsEmpty() || ix.size == 0 {
		return nil
	}
	hits := ix.tree.SearchIntersect(q.rect(ix.pad))
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexEntry).idx)
	}
	return out
}

// SearchPoint returns the positions of items whose boxes may contain (x, y).
func (ix *Index) SearchPoint(x, y float64) []int {
	return ix.Search(Envelope{MinX: x, MinY: y, MaxX: x, MaxY: y})
}
