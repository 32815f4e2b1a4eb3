package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/config"
	"github.com/warpaintvision/shopsite/internal/geospatial"
	"github.com/warpaintvision/shopsite/internal/isochrone"
	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/resilience"
	"github.com/warpaintvision/shopsite/internal/suitability"
)

// sourceFlags select a file or Overpass layer source instead of PostGIS.
type sourceFlags struct {
	geojson   string
	shapefile string
	charset   string
	overpass  bool
}

func addSourceFlags(cmd *cobra.Command, f *sourceFlags) {
	cmd.Flags().StringVar(&f.geojson, "geojson", "", "read layers from a GeoJSON file instead of PostGIS")
	cmd.Flags().StringVar(&f.shapefile, "shapefile", "", "read layers from an ESRI shapefile instead of PostGIS")
	cmd.Flags().StringVar(&f.charset, "charset", "utf-8", "shapefile DBF charset")
	cmd.Flags().BoolVar(&f.overpass, "overpass", false, "query the Overpass API instead of PostGIS")
}

// env holds the collaborators shared by commands.
type env struct {
	cfg     *config.Config
	kernel  *planar.Kernel
	filter  *layer.FilterTable
	source  layer.Source
	pool    *pgxpool.Pool
	closers []func()
}

func newEnv(ctx context.Context, c *config.Config, flags sourceFlags) (*env, error) {
	kernel, err := buildKernel(c)
	if err != nil {
		return nil, err
	}
	filter, err := layer.LoadFilterTable(c.Filters.Path)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: c, kernel: kernel, filter: filter}
	switch {
	case flags.geojson != "":
		e.source = &layer.GeoJSONSource{Path: flags.geojson, Filter: filter, Kernel: kernel}
	case flags.shapefile != "":
		e.source = &layer.ShapefileSource{Path: flags.shapefile, Charset: flags.charset, Filter: filter, Kernel: kernel}
	case flags.overpass:
		timeout := time.Duration(c.Overpass.TimeoutSecs) * time.Second
		e.source = layer.NewOverpassSource(c.Overpass.Endpoint, timeout, filter, kernel)
	default:
		pool, err := e.dbPool(ctx)
		if err != nil {
			return nil, err
		}
		store, err := geospatial.NewPostgresStore(pool, filter, kernel)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.source = store
	}
	return e, nil
}

// Close releases every resource the env opened.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
}

// dbPool opens the PostGIS pool on first use.
func (e *env) dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	if e.pool != nil {
		return e.pool, nil
	}
	pool, err := openPool(ctx, e.cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return pool, nil
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("store: no database_url configured (set store.database_url)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping database")
	}

	zap.L().Debug("connected to database")
	return pool, nil
}

// isochroneStore opens the store selected by store.driver.
func (e *env) isochroneStore(ctx context.Context) (isochrone.Store, error) {
	switch e.cfg.Store.Driver {
	case "sqlite":
		st, err := isochrone.NewSQLiteStore(ctx, e.cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = st.Close() })
		return st, nil
	case "postgres", "":
		pool, err := e.dbPool(ctx)
		if err != nil {
			return nil, err
		}
		return isochrone.NewPostgresStore(pool), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", e.cfg.Store.Driver)
	}
}

// engine builds the suitability engine. A store that cannot be opened
// leaves every anchor on the fallback radius.
func (e *env) engine(ctx context.Context) *suitability.Engine {
	var opts []suitability.Option
	if e.cfg.Suitability.BufferMemo {
		opts = append(opts, suitability.WithBufferMemo())
	}
	if e.cfg.Suitability.RangeSeconds > 0 {
		st, err := e.isochroneStore(ctx)
		if err != nil {
			zap.L().Warn("isochrone store unavailable, using fallback access radius", zap.Error(err))
		} else {
			breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
			opts = append(opts, suitability.WithSupplier(isochrone.NewCachedSupplier(st, e.kernel, breaker)))
		}
	}
	return suitability.NewEngine(e.kernel, opts...)
}

// responseCache builds the cache selected by cache.backend; "none" yields
// nil.
func (e *env) responseCache(ctx context.Context) (geospatial.ResponseCache, error) {
	c := e.cfg.Cache
	ttl := time.Duration(c.TTLSecs) * time.Second
	switch c.Backend {
	case "none", "":
		return nil, nil
	case "memory":
		return geospatial.NewMemoryCache(c.MaxEntries, ttl), nil
	case "redis":
		rc, err := geospatial.OpenRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = rc.Close() })
		return geospatial.NewRedisCache(rc, "shopsite:", ttl), nil
	default:
		return nil, eris.Errorf("cache: unknown backend %q", c.Backend)
	}
}

func buildKernel(c *config.Config) (*planar.Kernel, error) {
	proj, err := planar.ProjectionByName(c.Suitability.Projection)
	if err != nil {
		return nil, err
	}
	return planar.New(
		planar.WithTolerance(c.Suitability.Tolerance),
		planar.WithQuadrantSegments(c.Suitability.QuadrantSegments),
		planar.WithProjection(proj),
	), nil
}

func suitabilityConfig(c *config.Config) suitability.Config {
	s := c.Suitability
	return suitability.Config{
		AccessDistanceMeters:    s.AccessDistanceM,
		CorridorDistanceMeters:  s.CorridorDistanceM,
		StopDistanceMeters:      s.StopDistanceM,
		ExclusionDistanceMeters: s.ExclusionDistanceM,
		MaxResults:              s.MaxResults,
		RangeSeconds:            s.RangeSeconds,
		Workers:                 s.Workers,
	}
}

func areaBoxes(c *config.Config) map[string]layer.BBox {
	out := make(map[string]layer.BBox, len(c.Areas))
	for name, a := range c.Areas {
		out[name] = layer.BBox{MinLng: a.MinLng, MinLat: a.MinLat, MaxLng: a.MaxLng, MaxLat: a.MaxLat}
	}
	return out
}

func lookupArea(c *config.Config, name string) (layer.BBox, error) {
	bbox, ok := areaBoxes(c)[name]
	if !ok {
		return layer.BBox{}, eris.Errorf("unknown area %q (configured: %v)", name, c.AreaNames())
	}
	return bbox, nil
}

func describeSource(f sourceFlags) string {
	switch {
	case f.geojson != "":
		return fmt.Sprintf("geojson:%s", f.geojson)
	case f.shapefile != "":
		return fmt.Sprintf("shapefile:%s", f.shapefile)
	case f.overpass:
		return "overpass"
	default:
		return "postgis"
	}
}
