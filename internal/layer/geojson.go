package layer

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// GeoJSONSource reads features from a WGS84 GeoJSON FeatureCollection file.
// Properties become tags.
type GeoJSONSource struct {
	Path   string
	Filter *FilterTable
	Kernel *planar.Kernel
}

// Load implements Source.
func (s *GeoJSONSource) Load(ctx context.Context, area BBox) (Layers, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read geojson %s", s.Path)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "layer: geojson load cancelled")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "layer: decode geojson %s", s.Path)
	}

	b := NewBuilder(s.Filter, s.Kernel)
	env := area.Envelope()
	for i, gf := range fc.Features {
		if gf == nil || gf.Geometry == nil {
			continue
		}
		if !area.IsZero() && !env.Intersects(planar.EnvelopeOf(gf.Geometry)) {
			continue
		}
		tags := PropertiesToTags(gf.Properties)
		b.AddWGS84(Feature{
			ID:       featureID(gf.ID, tags, int64(i+1)),
			Name:     tags["name"],
			Tags:     tags,
			Geometry: gf.Geometry,
		})
	}

	zap.L().Info("geojson layers loaded",
		zap.String("component", "layer.geojson"),
		zap.String("path", s.Path),
		zap.Int("features", b.Layers().Count()),
		zap.Int("dropped", b.Dropped()),
	)
	return b.Layers(), nil
}

// PropertiesToTags keeps string, number and boolean properties as strings.
func PropertiesToTags(props map[string]interface{}) map[string]string {
	tags := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case string:
			tags[k] = val
		case float64:
			tags[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			tags[k] = strconv.FormatBool(val)
		}
	}
	return tags
}

// featureID prefers the feature id, then an osm_id or id tag, then fallback.
func featureID(id string, tags map[string]string, fallback int64) int64 {
	for _, s := range []string{id, tags["osm_id"], tags["id"]} {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
