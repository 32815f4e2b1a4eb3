package planar

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func rect(x0, y0, x1, y1 float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

func rectMP(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	return AsMultiPolygon(rect(x0, y0, x1, y1))
}

func point(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func ringSignedArea(coords []geom.Coord) float64 {
	return signedArea(ringPts(coords))
}

// requireOriented checks shells are counter-clockwise and holes clockwise.
func requireOriented(t *testing.T, mp *geom.MultiPolygon) {
	t.Helper()
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			a := ringSignedArea(p.LinearRing(j).Coords())
			if j == 0 {
				require.Greater(t, a, 0.0, "shell %d must be counter-clockwise", i)
			} else {
				require.Less(t, a, 0.0, "hole %d/%d must be clockwise", i, j)
			}
		}
	}
}

func testKernel() *Kernel {
	return New(WithProjection(PlanarMetres{}))
}
