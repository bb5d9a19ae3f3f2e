// Package render rasterizes tiles from an in-memory vector dataset and a style
// rule set. Rendering runs on a bounded worker pool; results are handed back
// through a completion callback and never touch tile state directly.
package render

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"tileview/internal/metrics"
	"tileview/internal/projection"
	"tileview/internal/tile"
)

var ErrClosed = errors.New("render: pool closed")

// WorkItem asks for one tile at the given pixel size.
type WorkItem struct {
	Key  tile.Key
	Size int
}

// Result is what a worker produces. Empty means the dataset has no geometry
// in the tile, which is not an error.
type Result struct {
	Image   *image.RGBA
	Empty   bool
	Err     error
	Elapsed time.Duration
}

type Renderer struct {
	pool    *Pool
	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu guards dataset and style for the duration of one rasterization or
	// one reload.
	mu      sync.RWMutex
	dataset *Dataset
	style   *Style

	listenersMu sync.Mutex
	listeners   []func()
}

func NewRenderer(pool *Pool, dataset *Dataset, style *Style, logger *zap.Logger, m *metrics.Metrics) *Renderer {
	if style == nil {
		style = DefaultStyle()
	}
	if dataset == nil {
		dataset = &Dataset{}
	}
	return &Renderer{
		pool:    pool,
		dataset: dataset,
		style:   style,
		logger:  logger,
		metrics: m,
	}
}

// Render queues item and returns immediately; done runs on a worker
// goroutine.
func (r *Renderer) Render(item WorkItem, done func(Result)) error {
	if !r.pool.Submit(func() { done(r.Rasterize(item)) }) {
		return ErrClosed
	}
	return nil
}

// Rasterize renders item synchronously.
func (r *Renderer) Rasterize(item WorkItem) Result {
	start := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := item.Key
	bound := projection.TileBound(key.Zoom, key.X, key.Y)
	// Pad by a few pixels so strokes and point markers that straddle the
	// edge are drawn on both neighbours.
	pad := (bound.Max.Lon() - bound.Min.Lon()) * 8 / float64(item.Size)
	padded := orb.Bound{
		Min: orb.Point{bound.Min.Lon() - pad, bound.Min.Lat() - pad},
		Max: orb.Point{bound.Max.Lon() + pad, bound.Max.Lat() + pad},
	}
	features := r.dataset.Intersecting(padded)

	var drawn int
	dc := gg.NewContext(item.Size, item.Size)
	if bg, err := ParseColor(r.style.Background); err == nil {
		dc.SetColor(bg)
		dc.Clear()
	}
	origin := r2.Point{X: float64(key.X) * float64(item.Size), Y: float64(key.Y) * float64(item.Size)}
	toPixel := func(p orb.Point) r2.Point {
		x, y := projection.Project(p, key.Zoom, item.Size)
		return r2.Point{X: x, Y: y}.Sub(origin)
	}
	for _, f := range features {
		rule, ok := r.style.Match(f.Properties, key.Zoom)
		if !ok {
			continue
		}
		drawGeometry(dc, f.Geometry, rule, toPixel)
		drawn++
	}

	elapsed := time.Since(start)
	r.metrics.RenderDuration.Observe(elapsed.Seconds())
	if drawn == 0 {
		return Result{Empty: true, Elapsed: elapsed}
	}
	img, ok := dc.Image().(*image.RGBA)
	if !ok {
		return Result{Err: errors.New("render: unexpected image type"), Elapsed: elapsed}
	}
	return Result{Image: img, Elapsed: elapsed}
}

func drawGeometry(dc *gg.Context, g orb.Geometry, rule Rule, toPixel func(orb.Point) r2.Point) {
	switch g := g.(type) {
	case orb.Point:
		drawPoint(dc, toPixel(g), rule)
	case orb.MultiPoint:
		for _, p := range g {
			drawPoint(dc, toPixel(p), rule)
		}
	case orb.LineString:
		tracePath(dc, g, toPixel, false)
		stroke(dc, rule)
	case orb.MultiLineString:
		for _, ls := range g {
			tracePath(dc, ls, toPixel, false)
		}
		stroke(dc, rule)
	case orb.Ring:
		tracePath(dc, g, toPixel, true)
		fillAndStroke(dc, rule)
	case orb.Polygon:
		for _, ring := range g {
			tracePath(dc, ring, toPixel, true)
		}
		fillAndStroke(dc, rule)
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, ring := range poly {
				tracePath(dc, ring, toPixel, true)
			}
		}
		fillAndStroke(dc, rule)
	case orb.Collection:
		for _, child := range g {
			drawGeometry(dc, child, rule, toPixel)
		}
	case orb.Bound:
		drawGeometry(dc, g.ToPolygon(), rule, toPixel)
	}
}

func tracePath(dc *gg.Context, points []orb.Point, toPixel func(orb.Point) r2.Point, closed bool) {
	if len(points) == 0 {
		return
	}
	dc.NewSubPath()
	for i, p := range points {
		px := toPixel(p)
		if i == 0 {
			dc.MoveTo(px.X, px.Y)
		} else {
			dc.LineTo(px.X, px.Y)
		}
	}
	if closed {
		dc.ClosePath()
	}
}

func drawPoint(dc *gg.Context, p r2.Point, rule Rule) {
	radius := rule.Radius
	if radius <= 0 {
		radius = 2
	}
	dc.DrawCircle(p.X, p.Y, radius)
	fillAndStroke(dc, rule)
}

func fillAndStroke(dc *gg.Context, rule Rule) {
	if c, err := ParseColor(rule.Fill); err == nil {
		dc.SetColor(c)
		dc.SetFillRule(gg.FillRuleEvenOdd)
		dc.FillPreserve()
	}
	stroke(dc, rule)
}

func stroke(dc *gg.Context, rule Rule) {
	c, err := ParseColor(rule.Stroke)
	if err != nil || rule.Width <= 0 {
		dc.ClearPath()
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(rule.Width)
	dc.Stroke()
}

// Dataset returns the current dataset.
func (r *Renderer) Dataset() *Dataset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dataset
}

// SetDataset swaps the dataset, waiting for in-progress rasterizations, then
// notifies reload listeners.
func (r *Renderer) SetDataset(d *Dataset) {
	r.mu.Lock()
	r.dataset = d
	r.mu.Unlock()
	r.logger.Info("Dataset reloaded", zap.String("path", d.Path), zap.Int("features", d.Len()))
	r.notifyReload()
}

func (r *Renderer) SetStyle(s *Style) {
	r.mu.Lock()
	r.style = s
	r.mu.Unlock()
	r.logger.Info("Style reloaded", zap.String("path", s.Path), zap.Int("rules", len(s.Rules)))
	r.notifyReload()
}

// OnReload registers fn to run after every dataset or style change. fn runs
// on the goroutine that performed the reload.
func (r *Renderer) OnReload(fn func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Renderer) notifyReload() {
	r.metrics.Reloads.Inc()
	r.listenersMu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
