package layer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/serjvanilla/go-overpass"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// OverpassSource queries the Overpass API for the tagged nodes and ways of
// an area.
type OverpassSource struct {
	client overpass.Client
	filter *FilterTable
	kernel *planar.Kernel
}

// NewOverpassSource creates a source against endpoint.
func NewOverpassSource(endpoint string, timeout time.Duration, filter *FilterTable, kernel *planar.Kernel) *OverpassSource {
	httpClient := &http.Client{Timeout: timeout}
	return &OverpassSource{
		client: overpass.NewWithSettings(endpoint, 2, httpClient),
		filter: filter,
		kernel: kernel,
	}
}

// Query builds the Overpass QL request for every filter rule in area.
func (s *OverpassSource) Query(area BBox) string {
	bbox := fmt.Sprintf("%f,%f,%f,%f", area.MinLat, area.MinLng, area.MaxLat, area.MaxLng)

	var clauses []string
	for _, role := range Roles {
		for _, r := range s.filter.Rules(role) {
			vals := append([]string(nil), r.Values...)
			sort.Strings(vals)
			sel := fmt.Sprintf(`["%s"~"^(%s)$"](%s);`, r.Key, strings.Join(vals, "|"), bbox)
			if role != RoleRoads {
				clauses = append(clauses, "node"+sel)
			}
			clauses = append(clauses, "way"+sel)
		}
	}
	return fmt.Sprintf("[out:json][timeout:60];\n(\n%s\n);\nout body;\n>;\nout skel qt;", strings.Join(clauses, "\n"))
}

// wayGeometry returns a polygon for a closed way outlining an area, such as a
// school ground or a shop building, and a line otherwise. Closed highways
// stay lines.
func wayGeometry(tags map[string]string, flat []float64) geom.T {
	n := len(flat)
	if _, road := tags["highway"]; !road && n >= 8 && flat[0] == flat[n-2] && flat[1] == flat[n-1] {
		return geom.NewPolygonFlat(geom.XY, flat, []int{n})
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}

// Load implements Source.
func (s *OverpassSource) Load(ctx context.Context, area BBox) (Layers, error) {
	if area.IsZero() {
		return nil, eris.New("layer: overpass requires a bounding box")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "layer: overpass load cancelled")
	}

	result, err := s.client.Query(s.Query(area))
	if err != nil {
		return nil, eris.Wrap(err, "layer: overpass query")
	}

	b := NewBuilder(s.filter, s.kernel)

	nodeIDs := make([]int64, 0, len(result.Nodes))
	for id := range result.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })
	for _, id := range nodeIDs {
		n := result.Nodes[id]
		if len(n.Tags) == 0 {
			continue
		}
		b.AddWGS84(Feature{
			ID:       n.ID,
			Name:     n.Tags["name"],
			Tags:     n.Tags,
			Geometry: geom.NewPointFlat(geom.XY, []float64{n.Lon, n.Lat}),
		})
	}

	wayIDs := make([]int64, 0, len(result.Ways))
	for id := range result.Ways {
		wayIDs = append(wayIDs, id)
	}
	sort.Slice(wayIDs, func(i, j int) bool { return wayIDs[i] < wayIDs[j] })
	for _, id := range wayIDs {
		w := result.Ways[id]
		if len(w.Tags) == 0 || len(w.Nodes) < 2 {
			continue
		}
		flat := make([]float64, 0, 2*len(w.Nodes))
		for _, n := range w.Nodes {
			if n == nil {
				continue
			}
			flat = append(flat, n.Lon, n.Lat)
		}
		if len(flat) < 4 {
			continue
		}
		b.AddWGS84(Feature{
			ID:       w.ID,
			Name:     w.Tags["name"],
			Tags:     w.Tags,
			Geometry: wayGeometry(w.Tags, flat),
		})
	}

	zap.L().Info("overpass layers loaded",
		zap.String("component", "layer.overpass"),
		zap.Int("nodes", len(result.Nodes)),
		zap.Int("ways", len(result.Ways)),
		zap.Int("features", b.Layers().Count()),
		zap.Int("dropped", b.Dropped()),
	)
	return b.Layers(), nil
}
