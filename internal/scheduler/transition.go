package scheduler

import (
	"image"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"golang.org/x/image/draw"
)

// OverlayTile is a frozen tile image and where it is drawn, in viewport
// pixels.
type OverlayTile struct {
	Image  image.Image
	Bounds r2.Rect
}

// Transition keeps the previous zoom level's tiles on screen, scaled about
// Anchor, until the new level has loaded or the grace period runs out.
type Transition struct {
	FromZoom uint32
	ToZoom   uint32
	Scale    float64
	Anchor   r2.Point
	Tiles    []OverlayTile
	Started  time.Time

	timer *time.Timer
}

func newTransition(from, to uint32, anchor r2.Point) *Transition {
	return &Transition{
		FromZoom: from,
		ToZoom:   to,
		Scale:    math.Ldexp(1, int(to)-int(from)),
		Anchor:   anchor,
		Started:  time.Now(),
	}
}

// add freezes img, currently drawn at bounds, into the overlay.
func (tr *Transition) add(img image.Image, bounds r2.Rect) {
	tr.Tiles = append(tr.Tiles, OverlayTile{Image: img, Bounds: scaleAbout(bounds, tr.Anchor, tr.Scale)})
}

func (tr *Transition) stop() {
	if tr.timer != nil {
		tr.timer.Stop()
		tr.timer = nil
	}
}

// Draw paints the overlay into dst, whose origin is the viewport's top left.
func (tr *Transition) Draw(dst draw.Image) {
	for _, t := range tr.Tiles {
		drawScaled(dst, t.Image, t.Bounds)
	}
}

func scaleAbout(b r2.Rect, anchor r2.Point, scale float64) r2.Rect {
	lo := anchor.Add(r2.Point{X: b.X.Lo, Y: b.Y.Lo}.Sub(anchor).Mul(scale))
	hi := anchor.Add(r2.Point{X: b.X.Hi, Y: b.Y.Hi}.Sub(anchor).Mul(scale))
	return r2.RectFromPoints(lo, hi)
}

func drawScaled(dst draw.Image, src image.Image, bounds r2.Rect) {
	r := image.Rect(
		int(math.Floor(bounds.X.Lo)), int(math.Floor(bounds.Y.Lo)),
		int(math.Ceil(bounds.X.Hi)), int(math.Ceil(bounds.Y.Hi)),
	)
	if !r.Overlaps(dst.Bounds()) {
		return
	}
	if r.Size() == src.Bounds().Size() {
		draw.Draw(dst, r, src, src.Bounds().Min, draw.Over)
		return
	}
	draw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
}
