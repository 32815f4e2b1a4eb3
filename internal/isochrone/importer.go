package isochrone

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/planar"
)

const (
	DefaultBatchSize  = 2
	DefaultBatchPause = 2 * time.Second
)

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithBatchSize sets how many anchors go into one request.
func WithBatchSize(n int) ImporterOption {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// WithBatchPause sets the pause between consecutive requests.
func WithBatchPause(d time.Duration) ImporterOption {
	return func(im *Importer) {
		if d >= 0 {
			im.pause = d
		}
	}
}

// Importer fills a Store with isochrones for every anchor in an area.
type Importer struct {
	source    layer.Source
	fetcher   Fetcher
	store     Store
	kernel    *planar.Kernel
	batchSize int
	pause     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewImporter creates an importer. Anchors loaded from source are in the
// kernel's projection and are converted back to WGS84 for the request.
func NewImporter(source layer.Source, fetcher Fetcher, store Store, kernel *planar.Kernel, opts ...ImporterOption) *Importer {
	im := &Importer{
		source:    source,
		fetcher:   fetcher,
		store:     store,
		kernel:    kernel,
		batchSize: DefaultBatchSize,
		pause:     DefaultBatchPause,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportStats summarises one Run.
type ImportStats struct {
	Anchors       int
	Batches       int
	FailedBatches int
	Stored        int
	Missing       int
}

// Run imports isochrones for all anchors in area. A batch that fails after
// retries is logged and skipped; only source and context errors abort.
func (im *Importer) Run(ctx context.Context, area layer.BBox, rangeSeconds int) (*ImportStats, error) {
	log := zap.L().With(zap.String("component", "isochrone.importer"), zap.Int("range_seconds", rangeSeconds))

	layers, err := im.source.Load(ctx, area)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: load anchors")
	}
	anchors := im.anchors(layers.Features(layer.RoleAnchors))
	stats := &ImportStats{Anchors: len(anchors)}
	log.Info("starting isochrone import", zap.Int("anchors", len(anchors)), zap.Int("batch_size", im.batchSize))

	for start := 0; start < len(anchors); start += im.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "isochrone: import cancelled")
		}
		if start > 0 && im.pause > 0 {
			if err := im.sleep(ctx, im.pause); err != nil {
				return stats, eris.Wrap(err, "isochrone: import cancelled")
			}
		}

		end := min(start+im.batchSize, len(anchors))
		batch := anchors[start:end]
		stats.Batches++

		isos, err := im.fetcher.Fetch(ctx, batch, rangeSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return stats, eris.Wrap(ctx.Err(), "isochrone: import cancelled")
			}
			stats.FailedBatches++
			log.Warn("isochrone batch failed, skipping",
				zap.Int64("first_anchor", batch[0].ID), zap.Int("size", len(batch)), zap.Error(err))
			continue
		}

		got := make(map[int64]bool, len(isos))
		for _, iso := range isos {
			if err := im.store.Upsert(ctx, iso); err != nil {
				log.Warn("store isochrone", zap.Int64("anchor_id", iso.AnchorID), zap.Error(err))
				continue
			}
			got[iso.AnchorID] = true
			stats.Stored++
		}
		for _, a := range batch {
			if !got[a.ID] {
				stats.Missing++
				log.Debug("no isochrone stored for anchor", zap.Int64("anchor_id", a.ID))
			}
		}
	}

	log.Info("isochrone import complete",
		zap.Int("batches", stats.Batches),
		zap.Int("failed_batches", stats.FailedBatches),
		zap.Int("stored", stats.Stored),
		zap.Int("missing", stats.Missing))
	return stats, nil
}

// anchors converts projected anchor features into WGS84 request locations.
func (im *Importer) anchors(features []layer.Feature) []Anchor {
	proj := im.kernel.Projection()
	out := make([]Anchor, 0, len(features))
	for _, f := range features {
		p, ok := f.Geometry.(*geom.Point)
		if !ok || p.Empty() {
			p = planar.Centroid(f.Geometry)
		}
		if p == nil || p.Empty() {
			continue
		}
		lon, lat := proj.Inverse(p.X(), p.Y())
		out = append(out, Anchor{ID: f.ID, Lon: lon, Lat: lat})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
