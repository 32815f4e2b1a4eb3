package suitability

import (
	"github.com/twpayne/go-geom"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// weigher counts the candidate regions covering a face. Region bounding
// boxes are indexed; the exact test is strict containment of the face's
// interior point.
type weigher struct {
	kernel  *planar.Kernel
	regions []*geom.MultiPolygon
	index   *planar.Index
}

func newWeigher(k *planar.Kernel, regions []*geom.MultiPolygon) *weigher {
	envs := make([]planar.Envelope, len(regions))
	for i, r := range regions {
		envs[i] = planar.EnvelopeOf(r)
	}
	return &weigher{kernel: k, regions: regions, index: planar.NewIndex(envs, k.Tolerance())}
}

func (w *weigher) weight(face *geom.Polygon) int {
	p := planar.PointOnSurface(face)
	if p == nil {
		return 0
	}
	n := 0
	for _, i := range w.index.SearchPoint(p.X(), p.Y()) {
		if w.kernel.Contains(w.regions[i], p) {
			n++
		}
	}
	return n
}
