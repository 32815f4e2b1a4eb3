package layer

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// ShapefileSource reads WGS84 features from an ESRI shapefile. DBF fields
// become tags under their lower-cased names unless FieldMap renames them,
// e.g. {"fclass": "amenity"} for extracts that flatten OSM tags.
type ShapefileSource struct {
	Path     string
	Charset  string
	FieldMap map[string]string
	Filter   *FilterTable
	Kernel   *planar.Kernel
}

// Load implements Source.
func (s *ShapefileSource) Load(ctx context.Context, area BBox) (Layers, error) {
	dec, err := s.decoder()
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open shapefile %s", s.Path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		if mapped, ok := s.FieldMap[name]; ok {
			name = mapped
		}
		names[i] = name
	}

	b := NewBuilder(s.Filter, s.Kernel)
	env := area.Envelope()
	var skipped int
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "layer: shapefile load cancelled")
		}
		n, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}
		if !area.IsZero() && !env.Intersects(planar.EnvelopeOf(g)) {
			continue
		}

		tags := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val == "" {
				continue
			}
			if dec != nil {
				if decoded, err := dec.String(val); err == nil {
					val = decoded
				}
			}
			tags[name] = val
		}

		id := int64(n + 1)
		if v, err := strconv.ParseInt(tags["osm_id"], 10, 64); err == nil {
			id = v
		}
		b.AddWGS84(Feature{ID: id, Name: tags["name"], Tags: tags, Geometry: g})
	}

	if skipped > 0 {
		zap.L().Debug("layer: skipped shapefile records",
			zap.String("path", s.Path),
			zap.Int("skipped", skipped),
		)
	}
	return b.Layers(), nil
}

// decoder returns nil for UTF-8 input.
func (s *ShapefileSource) decoder() (*encoding.Decoder, error) {
	cs := strings.ToLower(strings.TrimSpace(s.Charset))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: unsupported charset %q", s.Charset)
	}
	return enc.NewDecoder(), nil
}

// shapeToGeom converts points, polylines and the outer ring of polygons.
// Multi-part polylines become MultiLineStrings.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		parts := partCoords(s.Parts, s.Points)
		switch len(parts) {
		case 0:
			return nil
		case 1:
			return geom.NewLineStringFlat(geom.XY, parts[0])
		}
		mls := geom.NewMultiLineString(geom.XY)
		for i, p := range parts {
			if err := mls.Push(geom.NewLineStringFlat(geom.XY, p)); err != nil {
				zap.L().Debug("layer: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
			}
		}
		return mls
	case *shp.Polygon:
		parts := partCoords(s.Parts, s.Points)
		if len(parts) == 0 {
			return nil
		}
		return geom.NewPolygonFlat(geom.XY, parts[0], []int{len(parts[0])})
	default:
		return nil
	}
}

// partCoords splits shapefile points into flat XY slices per part.
func partCoords(parts []int32, points []shp.Point) [][]float64 {
	out := make([][]float64, 0, len(parts))
	for i := range parts {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, points[j].X, points[j].Y)
		}
		out = append(out, flat)
	}
	return out
}
