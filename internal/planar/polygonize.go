package planar

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Polygonize splits the plane along the boundaries of all regions and returns
// the bounded faces of positive area. Faces do not overlap and their union
// covers the union of the regions; faces inside no region (enclosed gaps) are
// returned too.
func (k *Kernel) Polygonize(regions []*geom.MultiPolygon) ([]*geom.Polygon, error) {
	var rings [][]pt
	for _, r := range regions {
		for _, p := range polygons(r) {
			for _, ring := range polygonRings(p) {
				if len(ring) >= 3 {
					rings = append(rings, ring)
				}
			}
		}
	}
	if len(rings) == 0 {
		return nil, nil
	}

	arr, err := buildArrangement(rings, k.tol)
	if err != nil {
		return nil, eris.Wrap(err, "planar: polygonize")
	}

	faces := make([]*geom.Polygon, 0, len(arr.shells))
	for _, s := range arr.shells {
		fr := arr.faceRings(s)
		for i := range fr {
			fr[i] = simplifyRing(fr[i], k.tol)
		}
		faces = append(faces, buildPolygon(fr))
	}
	return faces, nil
}
