package planar

import "github.com/rotisserie/eris"

// ErrInvalidGeometry marks input geometry that cannot take part in planar
// operations: non-finite coordinates, rings with fewer than three distinct
// vertices, zero-area shells or self-intersecting rings.
var ErrInvalidGeometry = eris.New("planar: invalid geometry")

// ErrSubdivision is returned when the planar graph cannot be traced into
// consistent faces. Callers must treat it as fatal for the whole invocation.
var ErrSubdivision = eris.New("planar: subdivision failure")
