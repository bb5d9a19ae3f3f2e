package projection

import "math"

// Grid reports how many tile columns and rows exist at a zoom level.
type Grid interface {
	Columns(zoom uint32) uint32
	Rows(zoom uint32) uint32
}

// MaxZoom is the deepest level whose tile indices and world pixel extents
// fit the uint32 coordinates used throughout.
const MaxZoom = 30

// Pyramid is the standard power-of-two grid: 2^zoom tiles per axis.
type Pyramid struct{}

func (Pyramid) Columns(zoom uint32) uint32 { return 1 << zoom }
func (Pyramid) Rows(zoom uint32) uint32    { return 1 << zoom }

// ImageGrid covers a single width×height raster whose full-resolution level
// is MaxZoom. Lower zooms halve the resolution per level.
type ImageGrid struct {
	Width    int
	Height   int
	TileSize int
	MaxZoom  uint32
}

// MaxZoomFor returns the smallest zoom at which the raster is shown at
// full resolution.
func MaxZoomFor(width, height, tileSize int) uint32 {
	scale := math.Max(float64(width), float64(height)) / float64(tileSize)
	zoom := math.Ceil(math.Log2(scale))
	if zoom < 0 {
		return 0
	}
	return uint32(zoom)
}

func (g ImageGrid) Columns(zoom uint32) uint32 { return g.count(g.Width, zoom) }
func (g ImageGrid) Rows(zoom uint32) uint32    { return g.count(g.Height, zoom) }

// PixelsPerTile is the number of source pixels covered by one tile edge.
func (g ImageGrid) PixelsPerTile(zoom uint32) float64 {
	if zoom > g.MaxZoom {
		return float64(g.TileSize)
	}
	return float64(g.TileSize) * math.Ldexp(1, int(g.MaxZoom-zoom))
}

func (g ImageGrid) count(extent int, zoom uint32) uint32 {
	if zoom > g.MaxZoom || extent <= 0 {
		return 0
	}
	return uint32(math.Ceil(float64(extent) / g.PixelsPerTile(zoom)))
}
