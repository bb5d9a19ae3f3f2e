// Package projection converts between geographic coordinates, world pixel
// coordinates and tile indices of a Web-Mercator tile pyramid.
package projection

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// MaxLatitude is the latitude at which the square Web-Mercator world ends.
	MaxLatitude = 85.05112877980659

	// earthRadius is the WGS84 semi-major axis used by EPSG:3857.
	earthRadius = 6378137.0
)

// worldSize is the edge length of the world in pixels at zoom.
func worldSize(zoom uint32, tileSize int) float64 {
	return math.Ldexp(float64(tileSize), int(zoom))
}

func LonToX(lon float64, zoom uint32, tileSize int) float64 {
	return (lon + 180) / 360 * worldSize(zoom, tileSize)
}

func LatToY(lat float64, zoom uint32, tileSize int) float64 {
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * worldSize(zoom, tileSize)
}

func XToLon(x float64, zoom uint32, tileSize int) float64 {
	return x/worldSize(zoom, tileSize)*360 - 180
}

func YToLat(y float64, zoom uint32, tileSize int) float64 {
	n := math.Pi * (1 - 2*y/worldSize(zoom, tileSize))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

// Project returns the world pixel position of p (lon, lat) at zoom.
func Project(p orb.Point, zoom uint32, tileSize int) (x, y float64) {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, p.Lat()))
	return LonToX(p.Lon(), zoom, tileSize), LatToY(lat, zoom, tileSize)
}

// Unproject is the inverse of Project.
func Unproject(x, y float64, zoom uint32, tileSize int) orb.Point {
	return orb.Point{XToLon(x, zoom, tileSize), YToLat(y, zoom, tileSize)}
}

// TileBound returns the geographic bounding box of tile (x, y) at zoom.
func TileBound(zoom, x, y uint32) orb.Bound {
	nw := Unproject(float64(x), float64(y), zoom, 1)
	se := Unproject(float64(x+1), float64(y+1), zoom, 1)
	return orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}
}

// TileBoundMercator returns the tile's bounding box in EPSG:3857 meters, the
// form WMS servers expect in a BBOX parameter.
func TileBoundMercator(zoom, x, y uint32) orb.Bound {
	extent := math.Pi * earthRadius
	size := 2 * extent / math.Ldexp(1, int(zoom))
	minX := -extent + float64(x)*size
	maxY := extent - float64(y)*size
	return orb.Bound{
		Min: orb.Point{minX, maxY - size},
		Max: orb.Point{minX + size, maxY},
	}
}

// MetersPerPixel is the ground resolution at latitude for zoom.
func MetersPerPixel(lat float64, zoom uint32, tileSize int) float64 {
	return 2 * math.Pi * earthRadius * math.Cos(lat*math.Pi/180) / worldSize(zoom, tileSize)
}
