package layer

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/planar"
)

// Builder classifies, projects and validates features into Layers. Features
// matching no role are ignored; invalid geometries are dropped and counted.
type Builder struct {
	filter  *FilterTable
	kernel  *planar.Kernel
	layers  Layers
	dropped int
	log     *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(filter *FilterTable, kernel *planar.Kernel) *Builder {
	return &Builder{
		filter: filter,
		kernel: kernel,
		layers: NewLayers(),
		log:    zap.L().With(zap.String("component", "layer.builder")),
	}
}

// AddWGS84 adds a feature whose geometry is in longitude/latitude and
// returns the number of layers it joined.
func (b *Builder) AddWGS84(f Feature) int {
	return b.add(f, true)
}

// Add adds a feature whose geometry is already projected.
func (b *Builder) Add(f Feature) int {
	return b.add(f, false)
}

func (b *Builder) add(f Feature, project bool) int {
	roles := b.filter.Classify(f.Tags)
	if len(roles) == 0 {
		return 0
	}

	g := f.Geometry
	if project && g != nil {
		var err error
		if g, err = planar.ToPlanar(b.kernel.Projection(), g); err != nil {
			b.drop(f, err)
			return 0
		}
	}
	if err := b.kernel.Validate(g); err != nil {
		b.drop(f, err)
		return 0
	}

	n := 0
	for _, role := range roles {
		shaped, ok := shapeFor(role, g)
		if !ok {
			continue
		}
		l := b.layers[role]
		l.Features = append(l.Features, Feature{ID: f.ID, Name: f.Name, Tags: f.Tags, Geometry: shaped})
		n++
	}
	return n
}

func (b *Builder) drop(f Feature, err error) {
	b.dropped++
	b.log.Debug("dropping feature with invalid geometry",
		zap.Int64("id", f.ID),
		zap.Bool("invalid_geometry", eris.Is(err, planar.ErrInvalidGeometry)),
		zap.Error(err),
	)
}

// shapeFor adapts g to the geometry a role expects: a single location for
// point-like roles and a line for roads.
func shapeFor(role Role, g geom.T) (geom.T, bool) {
	if role.pointLike() {
		c := planar.Centroid(g)
		return c, c != nil
	}
	switch g.(type) {
	case *geom.LineString, *geom.MultiLineString:
		return g, true
	default:
		return nil, false
	}
}

// Layers returns the built layers.
func (b *Builder) Layers() Layers { return b.layers }

// Dropped returns the number of features rejected for invalid geometry.
func (b *Builder) Dropped() int { return b.dropped }
