package suitability

import (
	"context"

	"github.com/twpayne/go-geom"

	"github.com/warpaintvision/shopsite/internal/layer"
)

// ServiceAreaSupplier returns the walking-range polygon of an anchor in the
// kernel projection. false means "use the fallback radius buffer"; errors are
// logged by the engine and degrade to the fallback as well.
type ServiceAreaSupplier interface {
	ServiceArea(ctx context.Context, anchor layer.Feature, rangeSeconds int) (*geom.MultiPolygon, bool, error)
}

// SupplierFunc adapts a function to ServiceAreaSupplier.
type SupplierFunc func(ctx context.Context, anchor layer.Feature, rangeSeconds int) (*geom.MultiPolygon, bool, error)

// ServiceArea implements ServiceAreaSupplier.
func (f SupplierFunc) ServiceArea(ctx context.Context, anchor layer.Feature, rangeSeconds int) (*geom.MultiPolygon, bool, error) {
	return f(ctx, anchor, rangeSeconds)
}
