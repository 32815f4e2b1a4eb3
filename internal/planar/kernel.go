// Package planar implements the 2-D geometry kernel used by site selection:
// geodesic buffers, boolean set operations and planar subdivision over
// go-geom polygons in a projected coordinate system.
//
// All operations share one noded arrangement model and one snapping
// tolerance, so shared boundaries produced by one operation are recognised
// as shared by the next.
package planar

// DefaultTolerance is the snapping tolerance in projected units.
const DefaultTolerance = 1e-6

// DefaultQuadrantSegments is the number of segments used to approximate a
// quarter circle in buffers.
const DefaultQuadrantSegments = 8

// Kernel carries the numeric settings shared by all operations. A Kernel is
// immutable and safe for concurrent use.
type Kernel struct {
	tol      float64
	quadSegs int
	proj     Projection
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithTolerance sets the snapping tolerance. Non-positive values are ignored.
func WithTolerance(tol float64) Option {
	return func(k *Kernel) {
		if tol > 0 {
			k.tol = tol
		}
	}
}

// WithQuadrantSegments sets the arc resolution of buffers.
func WithQuadrantSegments(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.quadSegs = n
		}
	}
}

// WithProjection sets the projection used to convert metre distances into
// projected units.
func WithProjection(p Projection) Option {
	return func(k *Kernel) {
		if p != nil {
			k.proj = p
		}
	}
}

// New creates a Kernel. Defaults: DefaultTolerance, DefaultQuadrantSegments
// and the WebMercator projection.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		tol:      DefaultTolerance,
		quadSegs: DefaultQuadrantSegments,
		proj:     WebMercator{},
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Tolerance returns the snapping tolerance.
func (k *Kernel) Tolerance() float64 { return k.tol }

// QuadrantSegments returns the buffer arc resolution.
func (k *Kernel) QuadrantSegments() int { return k.quadSegs }

// Projection returns the kernel projection.
func (k *Kernel) Projection() Projection { return k.proj }
