// Package isochrone fetches walking-range polygons for anchor features from
// openrouteservice, stores them and serves them back to the suitability
// engine as access buffers.
package isochrone

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// SRID of stored isochrones.
const SRID = 4326

// ErrNotFound is returned by stores when no isochrone is cached.
var ErrNotFound = eris.New("isochrone: not found")

// Anchor is a location whose walking range is requested, in WGS84.
type Anchor struct {
	ID  int64
	Lon float64
	Lat float64
}

// Isochrone is the area reachable from an anchor within RangeSeconds.
// Geom is in WGS84.
type Isochrone struct {
	AnchorID     int64
	RangeSeconds int
	Profile      string
	Geom         *geom.MultiPolygon
	FetchedAt    time.Time
}

// Fetcher requests isochrones for a batch of anchors. Anchors the upstream
// returned nothing for are absent from the result.
type Fetcher interface {
	Fetch(ctx context.Context, anchors []Anchor, rangeSeconds int) ([]Isochrone, error)
}

// Store persists isochrones keyed by (anchor id, range).
type Store interface {
	Upsert(ctx context.Context, iso Isochrone) error
	Get(ctx context.Context, anchorID int64, rangeSeconds int) (*Isochrone, error)
}

func encodeEWKB(mp *geom.MultiPolygon) ([]byte, error) {
	if mp == nil {
		return nil, eris.New("isochrone: nil geometry")
	}
	g, err := geom.SetSRID(mp.Clone(), SRID)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: set srid")
	}
	b, err := ewkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: encode ewkb")
	}
	return b, nil
}

func decodeEWKB(raw []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: decode ewkb")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		return planar.AsMultiPolygon(t), nil
	default:
		return nil, eris.Errorf("isochrone: unexpected geometry %T", g)
	}
}
