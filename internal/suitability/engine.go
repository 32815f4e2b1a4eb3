// Package suitability turns tagged layers into ranked candidate sites for a
// new shop: anchor access areas clipped to the road and stop corridor, with
// competitor zones removed, split into atomic faces and weighted by how many
// anchors cover them.
package suitability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/metrics"
	"github.com/warpaintvision/shopsite/internal/planar"
)

// ErrUpstreamUnavailable marks a service-area lookup that failed. It is only
// logged; the anchor falls back to its radius buffer.
var ErrUpstreamUnavailable = eris.New("suitability: upstream unavailable")

// CandidateRegion is the usable part of one anchor's access area.
type CandidateRegion struct {
	SourceID int64
	Geom     *geom.MultiPolygon
}

// AtomicFace is one face of the planar subdivision of all candidate regions.
type AtomicFace struct {
	Geom   *geom.Polygon
	Weight int
	Area   float64
}

// RankedResult holds faces sorted by weight, then area, both descending.
type RankedResult struct {
	RunID string
	Faces []AtomicFace
}

// Option configures an Engine.
type Option func(*Engine)

// WithSupplier sets the service-area supplier. Without one every anchor uses
// the access radius buffer.
func WithSupplier(s ServiceAreaSupplier) Option {
	return func(e *Engine) {
		e.supplier = s
	}
}

// WithBufferMemo keeps buffers across runs keyed by role, feature id and
// distance. Only safe when feature ids identify immutable geometries.
func WithBufferMemo() Option {
	return func(e *Engine) {
		e.memo = &bufferMemo{m: make(map[bufferKey]*geom.MultiPolygon)}
	}
}

// Engine runs the suitability pipeline. It is safe for concurrent use.
type Engine struct {
	kernel   *planar.Kernel
	supplier ServiceAreaSupplier
	memo     *bufferMemo
}

// NewEngine creates an engine on kernel.
func NewEngine(kernel *planar.Kernel, opts ...Option) *Engine {
	e := &Engine{kernel: kernel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kernel returns the geometry kernel of the engine.
func (e *Engine) Kernel() *planar.Kernel { return e.kernel }

// Compute runs the pipeline over layers. An empty result is not an error;
// planar.ErrSubdivision is returned without a partial result.
func (e *Engine) Compute(ctx context.Context, layers layer.Layers, cfg Config) (*RankedResult, error) {
	runID := uuid.NewString()
	log := zap.L().With(zap.String("component", "suitability"), zap.String("run_id", runID))
	start := time.Now()

	res, err := e.compute(ctx, layers, cfg, runID, log)
	metrics.RunDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RunErrorsTotal.Inc()
		log.Error("suitability run failed", zap.Error(err))
		return nil, err
	}
	metrics.RunFaces.Observe(float64(len(res.Faces)))
	log.Info("suitability run complete",
		zap.Int("faces", len(res.Faces)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (e *Engine) compute(ctx context.Context, layers layer.Layers, cfg Config, runID string, log *zap.Logger) (*RankedResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	empty := &RankedResult{RunID: runID, Faces: []AtomicFace{}}

	anchors := layers.Features(layer.RoleAnchors)
	log.Debug("starting suitability run",
		zap.Int("anchors", len(anchors)),
		zap.Int("roads", len(layers.Features(layer.RoleRoads))),
		zap.Int("transit_stops", len(layers.Features(layer.RoleTransitStops))),
		zap.Int("competitors", len(layers.Features(layer.RoleCompetitors))))
	if len(anchors) == 0 {
		return empty, nil
	}

	corridor, err := e.coverage(ctx, cfg.workers(),
		coverageInput{layer.RoleRoads, layers.Features(layer.RoleRoads), cfg.CorridorDistanceMeters},
		coverageInput{layer.RoleTransitStops, layers.Features(layer.RoleTransitStops), cfg.stopDistance()},
	)
	if err != nil {
		return nil, err
	}
	if corridor.empty() {
		log.Debug("empty corridor")
		return empty, nil
	}

	exclusion, err := e.coverage(ctx, cfg.workers(),
		coverageInput{layer.RoleCompetitors, layers.Features(layer.RoleCompetitors), cfg.ExclusionDistanceMeters},
	)
	if err != nil {
		return nil, err
	}

	regions := make([]*CandidateRegion, len(anchors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())
	for i := range anchors {
		g.Go(func() error {
			r, err := e.region(gctx, anchors[i], corridor, exclusion, cfg, log)
			if err != nil {
				return err
			}
			regions[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var geoms []*geom.MultiPolygon
	for _, r := range regions {
		if r != nil {
			geoms = append(geoms, r.Geom)
		}
	}
	if len(geoms) == 0 {
		return empty, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "suitability: cancelled before subdivision")
	}

	faces, err := e.kernel.Polygonize(geoms)
	if err != nil {
		return nil, eris.Wrap(err, "suitability: polygonize")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "suitability: cancelled before weighting")
	}

	w := newWeigher(e.kernel, geoms)
	ranked := make([]AtomicFace, 0, len(faces))
	uncovered := 0
	for _, f := range faces {
		wt := w.weight(f)
		if wt == 0 {
			uncovered++
			continue
		}
		ranked = append(ranked, AtomicFace{Geom: f, Weight: wt, Area: planar.Area(f)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		return ranked[i].Area > ranked[j].Area
	})
	if cfg.MaxResults > 0 && len(ranked) > cfg.MaxResults {
		ranked = ranked[:cfg.MaxResults]
	}

	if uncovered > 0 {
		log.Warn("faces outside every candidate region", zap.Int("faces", uncovered))
	}
	log.Debug("subdivision weighted",
		zap.Int("regions", len(geoms)),
		zap.Int("faces", len(faces)),
		zap.Int("ranked", len(ranked)))
	return &RankedResult{RunID: runID, Faces: ranked}, nil
}

// region builds one anchor's candidate region: access ∩ corridor − exclusion.
// A nil region means the anchor contributes nothing.
func (e *Engine) region(ctx context.Context, anchor layer.Feature, corridor, exclusion *coverage, cfg Config, log *zap.Logger) (*CandidateRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "suitability: cancelled")
	}

	access, err := e.accessBuffer(ctx, anchor, cfg, log)
	if err != nil {
		return nil, err
	}
	if planar.IsEmpty(access) {
		return nil, nil
	}

	corr, err := e.kernel.Union(corridor.near(planar.EnvelopeOf(access))...)
	if err != nil {
		return nil, eris.Wrapf(err, "suitability: corridor for anchor %d", anchor.ID)
	}
	if planar.IsEmpty(corr) {
		return nil, nil
	}

	inter, err := e.kernel.Intersection(access, corr)
	if err != nil {
		return nil, eris.Wrapf(err, "suitability: intersect anchor %d", anchor.ID)
	}
	if planar.IsEmpty(inter) {
		return nil, nil
	}

	excl, err := e.kernel.Union(exclusion.near(planar.EnvelopeOf(inter))...)
	if err != nil {
		return nil, eris.Wrapf(err, "suitability: exclusion for anchor %d", anchor.ID)
	}
	diff, err := e.kernel.Difference(inter, excl)
	if err != nil {
		return nil, eris.Wrapf(err, "suitability: subtract exclusion for anchor %d", anchor.ID)
	}
	if planar.IsEmpty(diff) || planar.Area(diff) <= 0 {
		return nil, nil
	}
	return &CandidateRegion{SourceID: anchor.ID, Geom: diff}, nil
}

// accessBuffer returns the anchor's service area, or its radius buffer when
// no usable service area is available.
func (e *Engine) accessBuffer(ctx context.Context, anchor layer.Feature, cfg Config, log *zap.Logger) (*geom.MultiPolygon, error) {
	if e.supplier != nil && cfg.RangeSeconds > 0 {
		mp, ok, err := e.supplier.ServiceArea(ctx, anchor, cfg.RangeSeconds)
		switch {
		case err != nil:
			metrics.FallbackTotal.WithLabelValues("upstream").Inc()
			log.Warn("service area unavailable, using radius buffer",
				zap.Int64("anchor_id", anchor.ID),
				zap.Error(eris.Wrap(ErrUpstreamUnavailable, err.Error())))
		case ok && !planar.IsEmpty(mp):
			return mp, nil
		default:
			metrics.FallbackTotal.WithLabelValues("miss").Inc()
		}
	}
	return e.buffer(layer.RoleAnchors, anchor, cfg.AccessDistanceMeters)
}

func (e *Engine) buffer(role layer.Role, f layer.Feature, metres float64) (*geom.MultiPolygon, error) {
	key := bufferKey{role: role, id: f.ID, metres: metres}
	if mp, ok := e.memo.get(key); ok {
		return mp, nil
	}
	mp, err := e.kernel.Buffer(f.Geometry, metres)
	if err != nil {
		return nil, eris.Wrapf(err, "suitability: buffer %s feature %d", role, f.ID)
	}
	e.memo.put(key, mp)
	return mp, nil
}

type coverageInput struct {
	role     layer.Role
	features []layer.Feature
	metres   float64
}

// coverage is a set of buffers whose union is only materialised locally,
// around the area that needs it.
type coverage struct {
	buffers []*geom.MultiPolygon
	index   *planar.Index
}

func (e *Engine) coverage(ctx context.Context, workers int, inputs ...coverageInput) (*coverage, error) {
	type job struct {
		role layer.Role
		f    layer.Feature
		d    float64
	}
	var jobs []job
	for _, in := range inputs {
		if in.metres <= 0 {
			continue
		}
		for _, f := range in.features {
			jobs = append(jobs, job{in.role, f, in.metres})
		}
	}

	out := make([]*geom.MultiPolygon, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "suitability: cancelled")
			}
			mp, err := e.buffer(jobs[i].role, jobs[i].f, jobs[i].d)
			if err != nil {
				return err
			}
			out[i] = mp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &coverage{}
	for _, mp := range out {
		if !planar.IsEmpty(mp) {
			c.buffers = append(c.buffers, mp)
		}
	}
	envs := make([]planar.Envelope, len(c.buffers))
	for i, b := range c.buffers {
		envs[i] = planar.EnvelopeOf(b)
	}
	c.index = planar.NewIndex(envs, e.kernel.Tolerance())
	return c, nil
}

func (c *coverage) empty() bool { return len(c.buffers) == 0 }

// near returns the buffers whose boxes meet env. Buffers outside env cannot
// change an intersection with anything inside it.
func (c *coverage) near(env planar.Envelope) []*geom.MultiPolygon {
	idx := c.index.Search(env)
	sort.Ints(idx)
	out := make([]*geom.MultiPolygon, len(idx))
	for i, j := range idx {
		out[i] = c.buffers[j]
	}
	return out
}

type bufferKey struct {
	role   layer.Role
	id     int64
	metres float64
}

type bufferMemo struct {
	mu sync.Mutex
	m  map[bufferKey]*geom.MultiPolygon
}

func (m *bufferMemo) get(k bufferKey) (*geom.MultiPolygon, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.m[k]
	return mp, ok
}

func (m *bufferMemo) put(k bufferKey, mp *geom.MultiPolygon) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[k] = mp
	m.mu.Unlock()
}
