package recipe

import (
	"errors"
	"math"
)

// Extent is a geographic bounding box in degrees.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// Globe covers the full latitude/longitude range. Used when no area of
// interest is supplied.
var Globe = Extent{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90}

// Grid parameterizes the spatial binning operation: edge counts,
// offsets and step sizes per axis. The grid is computed once per run,
// before any conversion starts, so every granule bins onto identical
// axes.
type Grid struct {
	LatLength int
	LatOffset float64
	LatStep   float64
	LonLength int
	LonOffset float64
	LonStep   float64
}

// GridFor computes the binning grid covering ext with the given step
// sizes in degrees. Edge count per axis is int(|max-min|/step)+1.
func GridFor(ext Extent, xstep, ystep float64) (Grid, error) {
	if xstep <= 0 || ystep <= 0 {
		return Grid{}, errors.New("recipe: grid steps must be positive")
	}
	return Grid{
		LatLength: int(math.Abs(ext.MaxY-ext.MinY)/ystep) + 1,
		LatOffset: ext.MinY,
		LatStep:   ystep,
		LonLength: int(math.Abs(ext.MaxX-ext.MinX)/xstep) + 1,
		LonOffset: ext.MinX,
		LonStep:   xstep,
	}, nil
}
