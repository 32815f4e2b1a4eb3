package suitability

import (
	"math"

	"github.com/rotisserie/eris"
)

// Config holds the distances and limits of one suitability run. Distances
// are in metres.
type Config struct {
	AccessDistanceMeters    float64
	CorridorDistanceMeters  float64
	StopDistanceMeters      float64 // zero means CorridorDistanceMeters
	ExclusionDistanceMeters float64
	MaxResults              int // zero means unlimited
	RangeSeconds            int
	Workers                 int
}

// DefaultConfig returns a 400 m access radius, a 50 m road corridor, a
// 250 m competitor exclusion zone and a five minute walking range.
func DefaultConfig() Config {
	return Config{
		AccessDistanceMeters:    400,
		CorridorDistanceMeters:  50,
		ExclusionDistanceMeters: 250,
		RangeSeconds:            300,
		Workers:                 4,
	}
}

// Validate rejects negative or non-finite distances and limits.
func (c Config) Validate() error {
	for name, d := range map[string]float64{
		"access distance":    c.AccessDistanceMeters,
		"corridor distance":  c.CorridorDistanceMeters,
		"stop distance":      c.StopDistanceMeters,
		"exclusion distance": c.ExclusionDistanceMeters,
	} {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return eris.Errorf("suitability: %s must be a finite non-negative number, got %v", name, d)
		}
	}
	if c.MaxResults < 0 {
		return eris.Errorf("suitability: max results must be >= 0, got %d", c.MaxResults)
	}
	if c.RangeSeconds < 0 {
		return eris.Errorf("suitability: range seconds must be >= 0, got %d", c.RangeSeconds)
	}
	if c.Workers < 0 {
		return eris.Errorf("suitability: workers must be >= 0, got %d", c.Workers)
	}
	return nil
}

func (c Config) stopDistance() float64 {
	if c.StopDistanceMeters > 0 {
		return c.StopDistanceMeters
	}
	return c.CorridorDistanceMeters
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 1
}
