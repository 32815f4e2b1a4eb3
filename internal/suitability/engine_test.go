package suitability

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testKernel() *planar.Kernel {
	return planar.New(planar.WithProjection(planar.PlanarMetres{}))
}

func pointFeature(id int64, x, y float64) layer.Feature {
	return layer.Feature{ID: id, Geometry: geom.NewPointFlat(geom.XY, []float64{x, y})}
}

func lineFeature(id int64, coords ...float64) layer.Feature {
	return layer.Feature{ID: id, Tags: map[string]string{"highway": "residential"}, Geometry: geom.NewLineStringFlat(geom.XY, coords)}
}

func square(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY,
		[]float64{minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY},
		[][]int{{10}})
}

func buildLayers(anchors, roads, stops, competitors []layer.Feature) layer.Layers {
	ls := layer.NewLayers()
	ls[layer.RoleAnchors].Features = anchors
	ls[layer.RoleRoads].Features = roads
	ls[layer.RoleTransitStops].Features = stops
	ls[layer.RoleCompetitors].Features = competitors
	return ls
}

func scenarioConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessDistanceMeters = 300
	cfg.CorridorDistanceMeters = 100
	cfg.ExclusionDistanceMeters = 250
	return cfg
}

var road = lineFeature(100, -1000, 0, 1000, 0)

func weights(res *RankedResult) []int {
	out := make([]int, len(res.Faces))
	for i, f := range res.Faces {
		out[i] = f.Weight
	}
	return out
}

func TestComputeScenarios(t *testing.T) {
	tests := []struct {
		name        string
		anchors     []layer.Feature
		roads       []layer.Feature
		competitors []layer.Feature
		want        []int
	}{
		{
			name:    "single school on a road",
			anchors: []layer.Feature{pointFeature(1, 0, 0)},
			roads:   []layer.Feature{road},
			want:    []int{1},
		},
		{
			name:    "two overlapping schools",
			anchors: []layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 200, 0)},
			roads:   []layer.Feature{road},
			want:    []int{2, 1, 1},
		},
		{
			name:    "no roads in range",
			anchors: []layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 200, 0)},
			roads:   []layer.Feature{lineFeature(101, -1000, 5000, 1000, 5000)},
			want:    []int{},
		},
		{
			name:    "no roads at all",
			anchors: []layer.Feature{pointFeature(1, 0, 0)},
			want:    []int{},
		},
		{
			name:  "no anchors",
			roads: []layer.Feature{road},
			want:  []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(testKernel())
			res, err := e.Compute(context.Background(), buildLayers(tt.anchors, tt.roads, nil, tt.competitors), scenarioConfig())
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.NotEmpty(t, res.RunID)
			assert.Equal(t, tt.want, weights(res))
			for _, f := range res.Faces {
				assert.Greater(t, f.Area, 0.0)
			}
		})
	}
}

func TestComputeCompetitorRemovesOverlap(t *testing.T) {
	e := NewEngine(testKernel())
	ls := buildLayers(
		[]layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 200, 0)},
		[]layer.Feature{road},
		nil,
		[]layer.Feature{pointFeature(50, 100, 0)},
	)
	res, err := e.Compute(context.Background(), ls, scenarioConfig())
	require.NoError(t, err)
	require.NotEmpty(t, res.Faces)

	competitor := geom.NewPointFlat(geom.XY, []float64{100, 0})
	for _, f := range res.Faces {
		assert.Equal(t, 1, f.Weight)
		assert.False(t, e.Kernel().Contains(planar.AsMultiPolygon(f.Geom), competitor))
	}
}

func TestComputeTransitStopsFormCorridor(t *testing.T) {
	e := NewEngine(testKernel())
	cfg := scenarioConfig()
	cfg.StopDistanceMeters = 80

	ls := buildLayers([]layer.Feature{pointFeature(1, 0, 0)}, nil, []layer.Feature{pointFeature(7, 50, 0)}, nil)
	res, err := e.Compute(context.Background(), ls, cfg)
	require.NoError(t, err)
	require.Len(t, res.Faces, 1)

	// The stop disc lies inside the school disc, so the face is the stop disc.
	disc, err := e.Kernel().Buffer(geom.NewPointFlat(geom.XY, []float64{50, 0}), 80)
	require.NoError(t, err)
	assert.InDelta(t, planar.Area(disc), res.Faces[0].Area, 1e-3)
}

func TestComputeOrderingAndTruncation(t *testing.T) {
	e := NewEngine(testKernel())
	ls := buildLayers(
		[]layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 200, 0), pointFeature(3, 900, 0)},
		[]layer.Feature{road},
		nil, nil,
	)

	res, err := e.Compute(context.Background(), ls, scenarioConfig())
	require.NoError(t, err)
	require.Len(t, res.Faces, 4)
	for i := 1; i < len(res.Faces); i++ {
		prev, cur := res.Faces[i-1], res.Faces[i]
		assert.True(t, prev.Weight > cur.Weight || (prev.Weight == cur.Weight && prev.Area >= cur.Area),
			"face %d out of order", i)
	}
	// The isolated school keeps its whole strip, the largest weight-1 face.
	assert.Equal(t, 2, res.Faces[0].Weight)
	assert.Greater(t, res.Faces[1].Area, res.Faces[2].Area)

	cfg := scenarioConfig()
	cfg.MaxResults = 2
	res, err = e.Compute(context.Background(), ls, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, weights(res))
}

func TestComputeFacesDisjointAndConserveArea(t *testing.T) {
	k := testKernel()
	e := NewEngine(k)
	anchors := []layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 200, 0), pointFeature(3, 100, 150)}
	roads := []layer.Feature{road, lineFeature(102, 100, -1000, 100, 1000)}

	res, err := e.Compute(context.Background(), buildLayers(anchors, roads, nil, nil), scenarioConfig())
	require.NoError(t, err)
	require.NotEmpty(t, res.Faces)

	for i := range res.Faces {
		for j := i + 1; j < len(res.Faces); j++ {
			inter, err := k.Intersection(planar.AsMultiPolygon(res.Faces[i].Geom), planar.AsMultiPolygon(res.Faces[j].Geom))
			require.NoError(t, err)
			assert.InDelta(t, 0, planar.Area(inter), 1e-3, "faces %d and %d overlap", i, j)
		}
	}

	// Rebuild the regions independently and compare areas.
	corridor, err := k.Union(mustBuffer(t, k, roads[0].Geometry, 100), mustBuffer(t, k, roads[1].Geometry, 100))
	require.NoError(t, err)
	var regions []*geom.MultiPolygon
	for _, a := range anchors {
		r, err := k.Intersection(mustBuffer(t, k, a.Geometry, 300), corridor)
		require.NoError(t, err)
		regions = append(regions, r)
	}
	union, err := k.Union(regions...)
	require.NoError(t, err)

	total := 0.0
	for _, f := range res.Faces {
		total += f.Area
	}
	want := planar.Area(union)
	assert.InDelta(t, want, total, want*1e-6)
}

func TestComputeWeightMonotonicity(t *testing.T) {
	e := NewEngine(testKernel())
	// The two discs overlap almost entirely; the shared lens outranks the rims.
	ls := buildLayers(
		[]layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 20, 0)},
		[]layer.Feature{road},
		nil, nil,
	)
	cfg := scenarioConfig()
	res, err := e.Compute(context.Background(), ls, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.Faces)
	assert.Equal(t, 2, res.Faces[0].Weight)
	for _, f := range res.Faces[1:] {
		assert.LessOrEqual(t, f.Weight, res.Faces[0].Weight)
	}
}

func mustBuffer(t *testing.T, k *planar.Kernel, g geom.T, d float64) *geom.MultiPolygon {
	t.Helper()
	mp, err := k.Buffer(g, d)
	require.NoError(t, err)
	return mp
}

func TestComputeUsesServiceArea(t *testing.T) {
	var calls atomic.Int32
	supplier := SupplierFunc(func(_ context.Context, a layer.Feature, rangeSeconds int) (*geom.MultiPolygon, bool, error) {
		calls.Add(1)
		assert.Equal(t, 300, rangeSeconds)
		return square(-50, -50, 50, 50), true, nil
	})
	e := NewEngine(testKernel(), WithSupplier(supplier))

	ls := buildLayers([]layer.Feature{pointFeature(1, 0, 0)}, []layer.Feature{road}, nil, nil)
	res, err := e.Compute(context.Background(), ls, scenarioConfig())
	require.NoError(t, err)
	require.Len(t, res.Faces, 1)
	assert.InDelta(t, 10000, res.Faces[0].Area, 1e-3)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComputeDropsEnclosedGap(t *testing.T) {
	// Anchor 1 reaches the top and bottom bars, anchor 2 the left and right
	// bars. Together they enclose a 100x100 gap around the origin that no
	// service area covers.
	supplier := SupplierFunc(func(_ context.Context, a layer.Feature, _ int) (*geom.MultiPolygon, bool, error) {
		if a.ID == 1 {
			return geom.NewMultiPolygonFlat(geom.XY, []float64{
				-150, 50, 150, 50, 150, 150, -150, 150, -150, 50,
				-150, -150, 150, -150, 150, -50, -150, -50, -150, -150,
			}, [][]int{{10}, {20}}), true, nil
		}
		return geom.NewMultiPolygonFlat(geom.XY, []float64{
			-150, -150, -50, -150, -50, 150, -150, 150, -150, -150,
			50, -150, 150, -150, 150, 150, 50, 150, 50, -150,
		}, [][]int{{10}, {20}}), true, nil
	})
	cfg := scenarioConfig()
	cfg.CorridorDistanceMeters = 1000

	e := NewEngine(testKernel(), WithSupplier(supplier))
	ls := buildLayers([]layer.Feature{pointFeature(1, 0, 100), pointFeature(2, 100, 0)}, []layer.Feature{road}, nil, nil)
	res, err := e.Compute(context.Background(), ls, cfg)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 2, 2, 1, 1, 1, 1}, weights(res))
	var total float64
	for _, f := range res.Faces {
		assert.Positive(t, f.Weight)
		assert.InDelta(t, 10000, f.Area, 1e-6)
		total += f.Area

		b := geom.NewBounds(geom.XY).Extend(f.Geom)
		cx := (b.Min(0) + b.Max(0)) / 2
		cy := (b.Min(1) + b.Max(1)) / 2
		assert.False(t, math.Abs(cx) < 50 && math.Abs(cy) < 50, "face centred at (%.1f, %.1f) lies in the gap", cx, cy)
	}
	assert.InDelta(t, 80000, total, 1e-6)
}

func TestComputeServiceAreaFallback(t *testing.T) {
	baseline, err := NewEngine(testKernel()).Compute(context.Background(),
		buildLayers([]layer.Feature{pointFeature(1, 0, 0)}, []layer.Feature{road}, nil, nil), scenarioConfig())
	require.NoError(t, err)
	require.Len(t, baseline.Faces, 1)

	tests := []struct {
		name     string
		supplier ServiceAreaSupplier
	}{
		{
			name: "miss",
			supplier: SupplierFunc(func(context.Context, layer.Feature, int) (*geom.MultiPolygon, bool, error) {
				return nil, false, nil
			}),
		},
		{
			name: "upstream error",
			supplier: SupplierFunc(func(context.Context, layer.Feature, int) (*geom.MultiPolygon, bool, error) {
				return nil, false, errors.New("connection refused")
			}),
		},
		{
			name: "empty polygon",
			supplier: SupplierFunc(func(context.Context, layer.Feature, int) (*geom.MultiPolygon, bool, error) {
				return planar.EmptyMultiPolygon(), true, nil
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(testKernel(), WithSupplier(tt.supplier))
			res, err := e.Compute(context.Background(),
				buildLayers([]layer.Feature{pointFeature(1, 0, 0)}, []layer.Feature{road}, nil, nil), scenarioConfig())
			require.NoError(t, err)
			require.Len(t, res.Faces, 1)
			assert.InDelta(t, baseline.Faces[0].Area, res.Faces[0].Area, 1e-6)
		})
	}
}

func TestComputeSkipsSupplierWithoutRange(t *testing.T) {
	supplier := SupplierFunc(func(context.Context, layer.Feature, int) (*geom.MultiPolygon, bool, error) {
		t.Fatal("supplier must not be called")
		return nil, false, nil
	})
	cfg := scenarioConfig()
	cfg.RangeSeconds = 0

	e := NewEngine(testKernel(), WithSupplier(supplier))
	res, err := e.Compute(context.Background(),
		buildLayers([]layer.Feature{pointFeature(1, 0, 0)}, []layer.Feature{road}, nil, nil), cfg)
	require.NoError(t, err)
	assert.Len(t, res.Faces, 1)
}

func TestComputeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(testKernel())
	_, err := e.Compute(ctx, buildLayers([]layer.Feature{pointFeature(1, 0, 0)}, []layer.Feature{road}, nil, nil), scenarioConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestComputeInvalidConfig(t *testing.T) {
	cfg := scenarioConfig()
	cfg.ExclusionDistanceMeters = math.NaN()

	_, err := NewEngine(testKernel()).Compute(context.Background(), layer.NewLayers(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclusion distance")
}

func TestBufferMemo(t *testing.T) {
	e := NewEngine(testKernel(), WithBufferMemo())
	f := pointFeature(1, 0, 0)

	a, err := e.buffer(layer.RoleAnchors, f, 100)
	require.NoError(t, err)
	b, err := e.buffer(layer.RoleAnchors, f, 100)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := e.buffer(layer.RoleAnchors, f, 200)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	d, err := e.buffer(layer.RoleCompetitors, f, 100)
	require.NoError(t, err)
	assert.NotSame(t, a, d)
}

func TestBufferWithoutMemo(t *testing.T) {
	e := NewEngine(testKernel())
	f := pointFeature(1, 0, 0)

	a, err := e.buffer(layer.RoleAnchors, f, 100)
	require.NoError(t, err)
	b, err := e.buffer(layer.RoleAnchors, f, 100)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestCoverageNear(t *testing.T) {
	e := NewEngine(testKernel())
	c, err := e.coverage(context.Background(), 2,
		coverageInput{layer.RoleTransitStops, []layer.Feature{pointFeature(1, 0, 0), pointFeature(2, 1000, 0)}, 10},
		coverageInput{layer.RoleRoads, []layer.Feature{road}, 0},
	)
	require.NoError(t, err)
	require.False(t, c.empty())
	assert.Len(t, c.buffers, 2)
	assert.Len(t, c.near(planar.Envelope{MinX: -5, MinY: -5, MaxX: 5, MaxY: 5}), 1)
	assert.Empty(t, c.near(planar.Envelope{MinX: 400, MinY: 400, MaxX: 500, MaxY: 500}))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "negative access", mutate: func(c *Config) { c.AccessDistanceMeters = -1 }, wantErr: "access distance"},
		{name: "infinite corridor", mutate: func(c *Config) { c.CorridorDistanceMeters = math.Inf(1) }, wantErr: "corridor distance"},
		{name: "negative max results", mutate: func(c *Config) { c.MaxResults = -1 }, wantErr: "max results"},
		{name: "negative range", mutate: func(c *Config) { c.RangeSeconds = -5 }, wantErr: "range seconds"},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -2 }, wantErr: "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigStopDistanceDefaultsToCorridor(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, cfg.CorridorDistanceMeters, cfg.stopDistance(), 1e-9)
	cfg.StopDistanceMeters = 30
	assert.InDelta(t, 30, cfg.stopDistance(), 1e-9)
	assert.Equal(t, 1, Config{}.workers())
}
