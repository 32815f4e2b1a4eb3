package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"

	"github.com/warpaintvision/shopsite/internal/config"
	"github.com/warpaintvision/shopsite/internal/export"
	"github.com/warpaintvision/shopsite/internal/geospatial"
	"github.com/warpaintvision/shopsite/internal/isochrone"
	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
)

// szegedLayers is one school on a road in central Szeged.
const szegedLayers = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "101", "properties": {"amenity": "school", "name": "Radnóti"},
     "geometry": {"type": "Point", "coordinates": [20.15, 46.25]}},
    {"type": "Feature", "id": "201", "properties": {"highway": "primary"},
     "geometry": {"type": "LineString", "coordinates": [[20.13, 46.25], [20.17, 46.25]]}},
    {"type": "Feature", "id": "301", "properties": {"shop": "bakery"},
     "geometry": {"type": "Point", "coordinates": [20.15, 46.251]}}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "shopsite.db")},
		Suitability: config.SuitabilityConfig{
			AccessDistanceM:    400,
			CorridorDistanceM:  50,
			StopDistanceM:      50,
			ExclusionDistanceM: 250,
			Workers:            2,
			Tolerance:          1e-6,
			QuadrantSegments:   8,
			Projection:         "webmercator",
			BufferMemo:         true,
		},
		Isochrone: config.IsochroneConfig{BatchSize: 2},
		Cache:     config.CacheConfig{Backend: "memory", MaxEntries: 4, TTLSecs: 60},
		Areas: map[string]config.AreaConfig{
			"szeged": {MinLng: 20.05, MinLat: 46.2, MaxLng: 20.25, MaxLat: 46.3},
		},
	}
}

func geojsonFlags(t *testing.T) sourceFlags {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layers.geojson")
	require.NoError(t, os.WriteFile(path, []byte(szegedLayers), 0o600))
	return sourceFlags{geojson: path}
}

func newTestEnv(t *testing.T, c *config.Config) *env {
	t.Helper()
	e, err := newEnv(context.Background(), c, geojsonFlags(t))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

type ranked struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
		Geometry   json.RawMessage `json:"geometry"`
	} `json:"features"`
}

func faceBounds(t *testing.T, raw json.RawMessage) *geom.Bounds {
	t.Helper()
	var poly struct {
		Coordinates [][][2]float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(raw, &poly))
	b := geom.NewBounds(geom.XY)
	for _, ring := range poly.Coordinates {
		for _, c := range ring {
			b.Extend(geom.NewPointFlat(geom.XY, []float64{c[0], c[1]}))
		}
	}
	return b
}

func TestRunArea_GeoJSON(t *testing.T) {
	e := newTestEnv(t, testConfig(t))

	var buf bytes.Buffer
	require.NoError(t, runArea(context.Background(), e, "szeged", "geojson", &buf))

	var fc ranked
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, map[string]any{"weight": 1.0}, fc.Features[0].Properties)

	// 400 m around the school, clipped to 50 m either side of the road.
	b := faceBounds(t, fc.Features[0].Geometry)
	assert.InDelta(t, 20.15, (b.Min(0)+b.Max(0))/2, 1e-4)
	assert.InDelta(t, 46.25, (b.Min(1)+b.Max(1))/2, 1e-4)
	assert.Greater(t, b.Max(0)-b.Min(0), 0.009)
	assert.Less(t, b.Max(1)-b.Min(1), 0.0015)
}

func TestRunArea_XLSX(t *testing.T) {
	e := newTestEnv(t, testConfig(t))

	var buf bytes.Buffer
	require.NoError(t, runArea(context.Background(), e, "szeged", "xlsx", &buf))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	rows := f.Sheet[export.ReportSheet].Rows
	require.Len(t, rows, 2)
	lon, err := rows[1].Cells[3].Float()
	require.NoError(t, err)
	assert.InDelta(t, 20.15, lon, 0.01)
}

func TestRunArea_Errors(t *testing.T) {
	e := newTestEnv(t, testConfig(t))

	err := runArea(context.Background(), e, "atlantis", "geojson", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown area")

	err = runArea(context.Background(), e, "szeged", "kml", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

// squareFetcher returns a small square around every anchor.
type squareFetcher struct {
	half  float64
	calls int
}

func (f *squareFetcher) Fetch(_ context.Context, anchors []isochrone.Anchor, rangeSeconds int) ([]isochrone.Isochrone, error) {
	f.calls++
	out := make([]isochrone.Isochrone, 0, len(anchors))
	for _, a := range anchors {
		minX, minY, maxX, maxY := a.Lon-f.half, a.Lat-f.half, a.Lon+f.half, a.Lat+f.half
		out = append(out, isochrone.Isochrone{
			AnchorID:     a.ID,
			RangeSeconds: rangeSeconds,
			Geom: geom.NewMultiPolygonFlat(geom.XY, []float64{
				minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY,
			}, [][]int{{10}}),
		})
	}
	return out, nil
}

func TestRunIsochronesThenArea(t *testing.T) {
	c := testConfig(t)
	c.Suitability.RangeSeconds = 300
	e := newTestEnv(t, c)

	fetcher := &squareFetcher{half: 0.001}
	stats, err := runIsochrones(context.Background(), e, fetcher, "szeged", 300)
	require.NoError(t, err)
	assert.Equal(t, &isochrone.ImportStats{Anchors: 1, Batches: 1, Stored: 1}, stats)
	assert.Equal(t, 1, fetcher.calls)

	var buf bytes.Buffer
	require.NoError(t, runArea(context.Background(), e, "szeged", "geojson", &buf))

	var fc ranked
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fc))
	require.Len(t, fc.Features, 1)

	// The cached square replaces the 400 m fallback disc.
	b := faceBounds(t, fc.Features[0].Geometry)
	assert.InDelta(t, 20.149, b.Min(0), 1e-6)
	assert.InDelta(t, 20.151, b.Max(0), 1e-6)
}

func TestRunIsochrones_UnknownArea(t *testing.T) {
	e := newTestEnv(t, testConfig(t))
	_, err := runIsochrones(context.Background(), e, &squareFetcher{}, "atlantis", 300)
	require.Error(t, err)
}

func TestNewEnv_PostGISNeedsDatabaseURL(t *testing.T) {
	_, err := newEnv(context.Background(), testConfig(t), sourceFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database_url")
}

func TestNewEnv_Sources(t *testing.T) {
	c := testConfig(t)
	tests := []struct {
		name  string
		flags sourceFlags
		want  any
	}{
		{name: "geojson", flags: sourceFlags{geojson: "layers.geojson"}, want: &layer.GeoJSONSource{}},
		{name: "shapefile", flags: sourceFlags{shapefile: "roads.shp", charset: "iso-8859-2"}, want: &layer.ShapefileSource{}},
		{name: "overpass", flags: sourceFlags{overpass: true}, want: &layer.OverpassSource{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := newEnv(context.Background(), c, tt.flags)
			require.NoError(t, err)
			defer e.Close()
			assert.IsType(t, tt.want, e.source)
			assert.Equal(t, tt.name, describeSource(tt.flags)[:len(tt.name)])
		})
	}
	assert.Equal(t, "postgis", describeSource(sourceFlags{}))
}

func TestNewEnv_BadFilterTable(t *testing.T) {
	c := testConfig(t)
	c.Filters.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := newEnv(context.Background(), c, sourceFlags{geojson: "x"})
	require.Error(t, err)
}

func TestIsochroneStore(t *testing.T) {
	c := testConfig(t)
	e := newTestEnv(t, c)
	st, err := e.isochroneStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &isochrone.SQLiteStore{}, st)

	c.Store.Driver = "postgres"
	_, err = e.isochroneStore(context.Background())
	require.Error(t, err)

	c.Store.Driver = "mysql"
	_, err = e.isochroneStore(context.Background())
	require.Error(t, err)
}

func TestEngine_FallsBackWithoutStore(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "postgres"
	c.Suitability.RangeSeconds = 300
	e := newTestEnv(t, c)

	var buf bytes.Buffer
	require.NoError(t, runArea(context.Background(), e, "szeged", "geojson", &buf))
	var fc ranked
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fc))
	assert.Len(t, fc.Features, 1)
}

func TestResponseCache(t *testing.T) {
	tests := []struct {
		backend string
		want    any
		wantErr bool
	}{
		{backend: "none"},
		{backend: "memory", want: &geospatial.MemoryCache{}},
		{backend: "redis", wantErr: true},
		{backend: "memcached", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c := testConfig(t)
			c.Cache.Backend = tt.backend
			c.Cache.RedisAddr = "127.0.0.1:1"
			e := newTestEnv(t, c)

			cache, err := e.responseCache(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, cache)
			} else {
				assert.IsType(t, tt.want, cache)
			}
		})
	}
}

func TestBuildKernel(t *testing.T) {
	c := testConfig(t)
	k, err := buildKernel(c)
	require.NoError(t, err)
	assert.Equal(t, "webmercator", k.Projection().Name())
	assert.Equal(t, 1e-6, k.Tolerance())
	assert.Equal(t, 8, k.QuadrantSegments())

	c.Suitability.Projection = "planar"
	c.Suitability.Tolerance = 0
	k, err = buildKernel(c)
	require.NoError(t, err)
	assert.IsType(t, planar.PlanarMetres{}, k.Projection())
	assert.Equal(t, planar.DefaultTolerance, k.Tolerance())

	c.Suitability.Projection = "utm"
	_, err = buildKernel(c)
	require.Error(t, err)
}

func TestSuitabilityConfig(t *testing.T) {
	c := testConfig(t)
	c.Suitability.MaxResults = 10
	c.Suitability.RangeSeconds = 600
	s := suitabilityConfig(c)
	assert.Equal(t, 400.0, s.AccessDistanceMeters)
	assert.Equal(t, 50.0, s.CorridorDistanceMeters)
	assert.Equal(t, 50.0, s.StopDistanceMeters)
	assert.Equal(t, 250.0, s.ExclusionDistanceMeters)
	assert.Equal(t, 10, s.MaxResults)
	assert.Equal(t, 600, s.RangeSeconds)
	assert.Equal(t, 2, s.Workers)
	assert.NoError(t, s.Validate())
}

func TestLookupArea(t *testing.T) {
	c := testConfig(t)
	bbox, err := lookupArea(c, "szeged")
	require.NoError(t, err)
	assert.Equal(t, layer.BBox{MinLng: 20.05, MinLat: 46.2, MaxLng: 20.25, MaxLat: 46.3}, bbox)

	_, err = lookupArea(c, "budapest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "szeged")
}
