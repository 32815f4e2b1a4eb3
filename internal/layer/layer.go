// Package layer holds the tagged feature layers consumed by the suitability
// engine and the sources that load them.
package layer

import (
	"context"

	"github.com/twpayne/go-geom"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// Role is the part a layer plays in site selection.
type Role string

// Layer roles.
const (
	RoleAnchors      Role = "anchors"
	RoleRoads        Role = "roads"
	RoleTransitStops Role = "transit_stops"
	RoleCompetitors  Role = "competitors"
)

// Roles lists every role in canonical order.
var Roles = []Role{RoleAnchors, RoleRoads, RoleTransitStops, RoleCompetitors}

// pointRoles are represented by a single location per feature.
func (r Role) pointLike() bool { return r != RoleRoads }

// Feature is an immutable tagged geometry. Name is empty when absent.
type Feature struct {
	ID       int64
	Name     string
	Tags     map[string]string
	Geometry geom.T
}

// Tag returns the value of key and whether it is present.
func (f Feature) Tag(key string) (string, bool) {
	v, ok := f.Tags[key]
	return v, ok
}

// Layer is the ordered set of features playing one role.
type Layer struct {
	Role     Role
	Features []Feature
}

// Layers maps every role to its layer.
type Layers map[Role]*Layer

// NewLayers returns a Layers value with an empty layer for every role.
func NewLayers() Layers {
	ls := make(Layers, len(Roles))
	for _, r := range Roles {
		ls[r] = &Layer{Role: r}
	}
	return ls
}

// Features returns the features of role r, or nil.
func (ls Layers) Features(r Role) []Feature {
	if l, ok := ls[r]; ok && l != nil {
		return l.Features
	}
	return nil
}

// Count returns the number of features across all layers.
func (ls Layers) Count() int {
	n := 0
	for _, l := range ls {
		if l != nil {
			n += len(l.Features)
		}
	}
	return n
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// IsZero reports whether b is unset; sources treat it as "everything".
func (b BBox) IsZero() bool { return b == BBox{} }

// Envelope returns b as an envelope in lon/lat.
func (b BBox) Envelope() planar.Envelope {
	return planar.Envelope{MinX: b.MinLng, MinY: b.MinLat, MaxX: b.MaxLng, MaxY: b.MaxLat}
}

// Source loads the layers intersecting an area.
type Source interface {
	Load(ctx context.Context, area BBox) (Layers, error)
}
