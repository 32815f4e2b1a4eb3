package isochrone

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/metrics"
	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/resilience"
	"github.com/warpaintvision/shopsite/internal/suitability"
)

var _ suitability.ServiceAreaSupplier = (*CachedSupplier)(nil)

// CachedSupplier serves stored isochrones as access buffers. It never calls
// the upstream API; isochrones are filled by the Importer.
type CachedSupplier struct {
	store   Store
	kernel  *planar.Kernel
	breaker *resilience.CircuitBreaker
}

// NewCachedSupplier creates a supplier over store. A nil breaker gets the
// default configuration.
func NewCachedSupplier(store Store, kernel *planar.Kernel, breaker *resilience.CircuitBreaker) *CachedSupplier {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return &CachedSupplier{store: store, kernel: kernel, breaker: breaker}
}

// ServiceArea returns the anchor's isochrone in the kernel projection.
// Misses and unusable polygons report false with no error; store failures
// and an open breaker are returned so the caller can log and fall back.
func (s *CachedSupplier) ServiceArea(ctx context.Context, anchor layer.Feature, rangeSeconds int) (*geom.MultiPolygon, bool, error) {
	iso, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*Isochrone, error) {
		iso, err := s.store.Get(ctx, anchor.ID, rangeSeconds)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return iso, err
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "isochrone: service area for anchor %d", anchor.ID)
	}
	if iso == nil || iso.Geom == nil {
		metrics.CacheMissesTotal.WithLabelValues("isochrone").Inc()
		return nil, false, nil
	}
	metrics.CacheHitsTotal.WithLabelValues("isochrone").Inc()

	projected, err := planar.ToPlanar(s.kernel.Projection(), iso.Geom)
	if err != nil {
		return nil, false, nil
	}
	mp, ok := projected.(*geom.MultiPolygon)
	if !ok || planar.IsEmpty(mp) {
		return nil, false, nil
	}
	if err := s.kernel.Validate(mp); err != nil {
		zap.L().Warn("discarding invalid cached isochrone",
			zap.String("component", "isochrone.supplier"),
			zap.Int64("anchor_id", anchor.ID),
			zap.Error(err))
		return nil, false, nil
	}
	return mp, true, nil
}
