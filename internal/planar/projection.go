package planar

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// EarthRadius is the spherical radius used by EPSG:3857, in metres.
const EarthRadius = 6378137.0

// maxMercatorLat keeps the forward projection finite.
const maxMercatorLat = 85.05112878

// Projection maps WGS84 longitude/latitude to planar coordinates and reports
// how many projected units one metre on the ground spans at a given y.
type Projection interface {
	Name() string
	SRID() int
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
	Scale(y float64) float64
}

// WebMercator is spherical Mercator (EPSG:3857), the osm2pgsql storage CRS.
type WebMercator struct{}

// Name implements Projection.
func (WebMercator) Name() string { return "webmercator" }

// SRID implements Projection.
func (WebMercator) SRID() int { return 3857 }

// Forward implements Projection.
func (WebMercator) Forward(lon, lat float64) (float64, float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x := EarthRadius * lon * math.Pi / 180
	y := EarthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// Inverse implements Projection.
func (WebMercator) Inverse(x, y float64) (float64, float64) {
	lon := x / EarthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// Scale implements Projection. Mercator stretches ground distances by
// 1/cos(lat), which equals cosh(y/R).
func (WebMercator) Scale(y float64) float64 {
	return math.Cosh(y / EarthRadius)
}

// PlanarMetres is the identity projection for data already stored in a
// metric CRS.
type PlanarMetres struct{}

// Name implements Projection.
func (PlanarMetres) Name() string { return "planar" }

// SRID implements Projection.
func (PlanarMetres) SRID() int { return 0 }

// Forward implements Projection.
func (PlanarMetres) Forward(lon, lat float64) (float64, float64) { return lon, lat }

// Inverse implements Projection.
func (PlanarMetres) Inverse(x, y float64) (float64, float64) { return x, y }

// Scale implements Projection.
func (PlanarMetres) Scale(float64) float64 { return 1 }

// ProjectionByName resolves a configured projection name.
func ProjectionByName(name string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "webmercator", "epsg:3857", "3857":
		return WebMercator{}, nil
	case "planar", "metres", "meters", "none":
		return PlanarMetres{}, nil
	default:
		return nil, eris.Errorf("planar: unknown projection %q", name)
	}
}

// ToPlanar projects a WGS84 geometry with p.
func ToPlanar(p Projection, g geom.T) (geom.T, error) {
	return Transform(g, p.Forward)
}

// ToWGS84 inverse-projects a planar geometry with p.
func ToWGS84(p Projection, g geom.T) (geom.T, error) {
	return Transform(g, p.Inverse)
}

// Transform returns a copy of g with every XY pair mapped through fn.
func Transform(g geom.T, fn func(x, y float64) (float64, float64)) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	layout := g.Layout()
	stride := g.Stride()
	flat := append([]float64(nil), g.FlatCoords()...)
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = fn(flat[i], flat[i+1])
	}

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(layout, flat), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(layout, flat), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(layout, flat, append([]int(nil), t.Ends()...)), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(layout, flat), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(layout, flat, append([]int(nil), t.Ends()...)), nil
	case *geom.MultiPolygon:
		endss := make([][]int, len(t.Endss()))
		for i, ends := range t.Endss() {
			endss[i] = append([]int(nil), ends...)
		}
		return geom.NewMultiPolygonFlat(layout, flat, endss), nil
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "planar: cannot transform %T", g)
	}
}
