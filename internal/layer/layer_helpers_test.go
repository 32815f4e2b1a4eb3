package layer

import (
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/planar"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testKernel() *planar.Kernel {
	return planar.New(planar.WithProjection(planar.PlanarMetres{}))
}

func pointAt(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}
