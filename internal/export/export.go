// Package export renders suitability results and layer listings as GeoJSON
// and spreadsheet reports.
package export

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/suitability"
)

// ListedTags are the tag keys copied into listing properties when present.
var ListedTags = []string{"amenity", "shop", "highway", "public_transport", "railway"}

// Options controls coordinate output.
type Options struct {
	// Projection converts planar geometries back to WGS84. Nil writes
	// coordinates unchanged.
	Projection planar.Projection
}

func (o Options) output(g geom.T) (geom.T, error) {
	if o.Projection == nil {
		return g, nil
	}
	return planar.ToWGS84(o.Projection, g)
}

// Ranked renders one feature per face with the single property "weight",
// in result order.
func Ranked(res *suitability.RankedResult, opts Options) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	if res == nil {
		return fc, nil
	}
	for i, f := range res.Faces {
		g, err := opts.output(f.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "export: face %d", i)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   g,
			Properties: map[string]interface{}{"weight": f.Weight},
		})
	}
	return fc, nil
}

// ListFilter selects features for a listing.
type ListFilter struct {
	// Roles to include, in output order. Empty means every role.
	Roles []layer.Role
	// Key and Value, when Key is set, keep only features tagged Key=Value.
	Key   string
	Value string
	// Limit caps the number of features; zero means unlimited.
	Limit int
}

// ListFeatures renders layer features with the present subset of
// id, name and ListedTags as properties. Absent tags are omitted.
func ListFeatures(ls layer.Layers, filter ListFilter, opts Options) (*geojson.FeatureCollection, error) {
	roles := filter.Roles
	if len(roles) == 0 {
		roles = layer.Roles
	}

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, role := range roles {
		for _, f := range ls.Features(role) {
			if filter.Limit > 0 && len(fc.Features) >= filter.Limit {
				return fc, nil
			}
			if filter.Key != "" {
				if v, ok := f.Tag(filter.Key); !ok || v != filter.Value {
					continue
				}
			}
			g, err := opts.output(f.Geometry)
			if err != nil {
				return nil, eris.Wrapf(err, "export: feature %d", f.ID)
			}
			fc.Features = append(fc.Features, &geojson.Feature{
				ID:         strconv.FormatInt(f.ID, 10),
				Geometry:   g,
				Properties: Properties(f),
			})
		}
	}
	return fc, nil
}

// Properties returns the listing properties of f.
func Properties(f layer.Feature) map[string]interface{} {
	props := map[string]interface{}{"id": f.ID}
	if f.Name != "" {
		props["name"] = f.Name
	}
	for _, k := range ListedTags {
		if v, ok := f.Tag(k); ok && v != "" {
			props[k] = v
		}
	}
	return props
}
