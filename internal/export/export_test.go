package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"

	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/suitability"
)

func squarePolygon(minX, minY, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY, minX + size, minY, minX + size, minY + size, minX, minY + size, minX, minY,
	}, []int{10})
}

func testResult() *suitability.RankedResult {
	return &suitability.RankedResult{
		RunID: "run",
		Faces: []suitability.AtomicFace{
			{Geom: squarePolygon(0, 0, 100), Weight: 2, Area: 10000},
			{Geom: squarePolygon(200, 0, 50), Weight: 1, Area: 2500},
		},
	}
}

func TestRankedPropertiesAreWeightOnly(t *testing.T) {
	fc, err := Ranked(testResult(), Options{})
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "FeatureCollection", decoded.Type)
	assert.Equal(t, map[string]any{"weight": 2.0}, decoded.Features[0].Properties)
	assert.Equal(t, map[string]any{"weight": 1.0}, decoded.Features[1].Properties)
	assert.Equal(t, "Polygon", decoded.Features[0].Geometry.Type)
}

func TestRankedInverseProjects(t *testing.T) {
	proj := planar.WebMercator{}
	x, y := proj.Forward(20.15, 46.25)
	res := &suitability.RankedResult{Faces: []suitability.AtomicFace{{Geom: squarePolygon(x, y, 100), Weight: 1}}}

	fc, err := Ranked(res, Options{Projection: proj})
	require.NoError(t, err)
	b := fc.Features[0].Geometry.Bounds()
	assert.InDelta(t, 20.15, b.Min(0), 1e-9)
	assert.InDelta(t, 46.25, b.Min(1), 1e-9)
}

func TestRankedEmpty(t *testing.T) {
	for _, res := range []*suitability.RankedResult{nil, {Faces: []suitability.AtomicFace{}}} {
		fc, err := Ranked(res, Options{})
		require.NoError(t, err)
		data, err := json.Marshal(fc)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(data))
	}
}

func listingLayers() layer.Layers {
	ls := layer.NewLayers()
	pt := func(x, y float64) geom.T { return geom.NewPointFlat(geom.XY, []float64{x, y}) }
	ls[layer.RoleAnchors].Features = []layer.Feature{
		{ID: 1, Name: "Radnóti Gimnázium", Tags: map[string]string{"amenity": "school"}, Geometry: pt(1, 1)},
		{ID: 2, Tags: map[string]string{"amenity": "college"}, Geometry: pt(2, 2)},
	}
	ls[layer.RoleCompetitors].Features = []layer.Feature{
		{ID: 3, Name: "Papír Írószer", Tags: map[string]string{"shop": "stationery", "opening_hours": "Mo-Fr"}, Geometry: pt(3, 3)},
		{ID: 4, Tags: map[string]string{"shop": "supermarket"}, Geometry: pt(4, 4)},
	}
	ls[layer.RoleTransitStops].Features = []layer.Feature{
		{ID: 5, Tags: map[string]string{"highway": "bus_stop", "public_transport": "platform"}, Geometry: pt(5, 5)},
	}
	ls[layer.RoleRoads].Features = []layer.Feature{
		{ID: 6, Name: "Kossuth Lajos sugárút", Tags: map[string]string{"highway": "primary"},
			Geometry: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 10, 0})},
	}
	return ls
}

func TestListFeatures(t *testing.T) {
	tests := []struct {
		name    string
		filter  ListFilter
		wantIDs []string
	}{
		{name: "all roles in canonical order", wantIDs: []string{"1", "2", "6", "5", "3", "4"}},
		{name: "by tag", filter: ListFilter{Key: "shop", Value: "stationery"}, wantIDs: []string{"3"}},
		{name: "by role", filter: ListFilter{Roles: []layer.Role{layer.RoleCompetitors, layer.RoleAnchors}}, wantIDs: []string{"3", "4", "1", "2"}},
		{name: "limit", filter: ListFilter{Limit: 2}, wantIDs: []string{"1", "2"}},
		{name: "no match", filter: ListFilter{Key: "amenity", Value: "kindergarten"}, wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := ListFeatures(listingLayers(), tt.filter, Options{})
			require.NoError(t, err)
			ids := []string{}
			for _, f := range fc.Features {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestListFeaturesOmitsAbsentTags(t *testing.T) {
	fc, err := ListFeatures(listingLayers(), ListFilter{Roles: []layer.Role{layer.RoleCompetitors, layer.RoleTransitStops}}, Options{})
	require.NoError(t, err)

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "null")
	assert.NotContains(t, string(data), "opening_hours")

	assert.Equal(t, map[string]interface{}{"id": int64(3), "name": "Papír Írószer", "shop": "stationery"}, fc.Features[0].Properties)
	assert.Equal(t, map[string]interface{}{"id": int64(4), "shop": "supermarket"}, fc.Features[1].Properties)
	assert.Equal(t, map[string]interface{}{"id": int64(5), "highway": "bus_stop", "public_transport": "platform"}, fc.Features[2].Properties)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, testResult(), Options{}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[ReportSheet]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "Rank", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Weight", sheet.Rows[0].Cells[1].String())

	rank, err := sheet.Rows[1].Cells[0].Int()
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	weight, err := sheet.Rows[1].Cells[1].Int()
	require.NoError(t, err)
	assert.Equal(t, 2, weight)
	area, err := sheet.Rows[1].Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 10000, area, 1e-6)

	lon, err := sheet.Rows[2].Cells[3].Float()
	require.NoError(t, err)
	assert.Greater(t, lon, 200.0)
	assert.Less(t, lon, 250.0)
}

func TestWriteXLSXScalesAreaToGround(t *testing.T) {
	proj := planar.WebMercator{}
	x, y := proj.Forward(20.15, 46.25)
	s := proj.Scale(y)
	size := 100 * s // 100 m on the ground
	res := &suitability.RankedResult{Faces: []suitability.AtomicFace{{
		Geom: squarePolygon(x, y, size), Weight: 1, Area: size * size,
	}}}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, res, Options{Projection: proj}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	row := f.Sheet[ReportSheet].Rows[1]
	area, err := row.Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 10000, area, 10000*1e-4)

	lat, err := row.Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 46.25, lat, 0.01)
}

func TestWriteXLSXKeepsRankOrder(t *testing.T) {
	proj := planar.WebMercator{}
	nx, ny := proj.Forward(20, 60)
	sx, sy := proj.Forward(20, 0)
	res := &suitability.RankedResult{Faces: []suitability.AtomicFace{
		{Geom: squarePolygon(nx, ny, 200), Weight: 1, Area: 40000},
		{Geom: squarePolygon(sx, sy, 150), Weight: 1, Area: 22500},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, res, Options{Projection: proj}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	rows := f.Sheet[ReportSheet].Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "Projected area", rows[0].Cells[5].String())

	var ground, projected [2]float64
	for i := range ground {
		rank, err := rows[i+1].Cells[0].Int()
		require.NoError(t, err)
		assert.Equal(t, i+1, rank)
		ground[i], err = rows[i+1].Cells[2].Float()
		require.NoError(t, err)
		projected[i], err = rows[i+1].Cells[5].Float()
		require.NoError(t, err)
	}
	assert.InDelta(t, 40000, projected[0], 0.1)
	assert.InDelta(t, 22500, projected[1], 0.1)
	// The northern face is smaller on the ground yet ranks first.
	assert.Less(t, ground[0], ground[1])
	assert.InDelta(t, 10000, ground[0], 10)
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil, Options{}))
	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheet[ReportSheet].Rows, 1)
}
