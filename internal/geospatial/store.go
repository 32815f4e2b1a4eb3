// Package geospatial reads siting layers from an osm2pgsql PostGIS database,
// owns the siting schema migrations and caches rendered API responses.
package geospatial

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/db"
	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
)

// osm2pgsql tables. Polygons are reduced to their centroid.
const (
	tablePoint   = "planet_osm_point"
	tablePolygon = "planet_osm_polygon"
	tableLine    = "planet_osm_line"
)

// validColumns is the allowlist of osm2pgsql tag columns that may appear in
// generated SQL.
var validColumns = map[string]bool{
	"amenity":          true,
	"building":         true,
	"highway":          true,
	"leisure":          true,
	"office":           true,
	"public_transport": true,
	"railway":          true,
	"shop":             true,
	"tourism":          true,
}

// PostgresStore loads layers from osm2pgsql tables in EPSG:3857.
type PostgresStore struct {
	pool   db.Pool
	filter *layer.FilterTable
	kernel *planar.Kernel
	cols   []string
}

// NewPostgresStore creates a store. Every key in filter must be an
// allowlisted column.
func NewPostgresStore(pool db.Pool, filter *layer.FilterTable, kernel *planar.Kernel) (*PostgresStore, error) {
	cols := filter.Keys()
	for _, c := range cols {
		if !validColumns[c] {
			return nil, eris.Errorf("geospatial: invalid tag column %q", c)
		}
	}
	return &PostgresStore{pool: pool, filter: filter, kernel: kernel, cols: cols}, nil
}

// Load implements layer.Source.
func (s *PostgresStore) Load(ctx context.Context, area layer.BBox) (layer.Layers, error) {
	if area.IsZero() {
		return nil, eris.New("geospatial: load requires a bounding box")
	}

	b := layer.NewBuilder(s.filter, s.kernel)

	var pointRules, lineRules []layer.Rule
	for _, role := range layer.Roles {
		if role == layer.RoleRoads {
			lineRules = append(lineRules, s.filter.Rules(role)...)
		} else {
			pointRules = append(pointRules, s.filter.Rules(role)...)
		}
	}

	if len(pointRules) > 0 {
		sql, args := s.pointQuery(area, pointRules)
		if err := s.scan(ctx, sql, args, b); err != nil {
			return nil, eris.Wrap(err, "geospatial: load points")
		}
	}
	if len(lineRules) > 0 {
		sql, args := s.lineQuery(area, lineRules)
		if err := s.scan(ctx, sql, args, b); err != nil {
			return nil, eris.Wrap(err, "geospatial: load lines")
		}
	}

	zap.L().Info("postgis layers loaded",
		zap.String("component", "geospatial.store"),
		zap.Int("features", b.Layers().Count()),
		zap.Int("dropped", b.Dropped()),
	)
	return b.Layers(), nil
}

// selectList returns the shared column list: osm_id, name, tag columns and
// the geometry expression reprojected to WGS84.
func (s *PostgresStore) selectList(geomExpr string) string {
	parts := []string{"osm_id", "name"}
	parts = append(parts, s.cols...)
	parts = append(parts, fmt.Sprintf("ST_AsEWKB(ST_Transform(%s, 4326))", geomExpr))
	return strings.Join(parts, ", ")
}

// predicate ORs one "col = ANY($n)" term per rule. Rules are merged per
// column so each column binds one array argument.
func predicate(rules []layer.Rule, args []any) (string, []any) {
	byKey := make(map[string][]string)
	for _, r := range rules {
		byKey[r.Key] = append(byKey[r.Key], r.Values...)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := byKey[k]
		sort.Strings(vals)
		args = append(args, vals)
		terms = append(terms, fmt.Sprintf("%s = ANY($%d)", k, len(args)))
	}
	return "(" + strings.Join(terms, " OR ") + ")", args
}

const envelope3857 = "ST_Transform(ST_MakeEnvelope($1, $2, $3, $4, 4326), 3857)"

func bboxArgs(area layer.BBox) []any {
	return []any{area.MinLng, area.MinLat, area.MaxLng, area.MaxLat}
}

func (s *PostgresStore) pointQuery(area layer.BBox, rules []layer.Rule) (string, []any) {
	pred, args := predicate(rules, bboxArgs(area))
	sql := fmt.Sprintf(
		`SELECT %s FROM %s WHERE way && %s AND %s
		UNION ALL
		SELECT %s FROM %s WHERE way && %s AND %s`,
		s.selectList("way"), tablePoint, envelope3857, pred,
		s.selectList("ST_Centroid(way)"), tablePolygon, envelope3857, pred,
	)
	return sql, args
}

func (s *PostgresStore) lineQuery(area layer.BBox, rules []layer.Rule) (string, []any) {
	pred, args := predicate(rules, bboxArgs(area))
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE way && %s AND %s`,
		s.selectList("way"), tableLine, envelope3857, pred)
	return sql, args
}

func (s *PostgresStore) scan(ctx context.Context, sql string, args []any, b *layer.Builder) error {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return eris.Wrap(err, "geospatial: query osm features")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name *string
			wkb  []byte
		)
		tagVals := make([]*string, len(s.cols))
		dest := make([]any, 0, len(s.cols)+3)
		dest = append(dest, &id, &name)
		for i := range tagVals {
			dest = append(dest, &tagVals[i])
		}
		dest = append(dest, &wkb)

		if err := rows.Scan(dest...); err != nil {
			return eris.Wrap(err, "geospatial: scan osm feature")
		}

		g, err := ewkb.Unmarshal(wkb)
		if err != nil {
			zap.L().Debug("geospatial: skipping undecodable geometry", zap.Int64("osm_id", id), zap.Error(err))
			continue
		}

		tags := make(map[string]string, len(s.cols)+1)
		for i, c := range s.cols {
			if tagVals[i] != nil {
				tags[c] = *tagVals[i]
			}
		}
		f := layer.Feature{ID: id, Tags: tags, Geometry: g}
		if name != nil {
			f.Name = *name
			tags["name"] = *name
		}
		b.AddWGS84(f)
	}
	return rows.Err()
}
