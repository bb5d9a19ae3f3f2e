// Package scheduler decides which tiles a viewport needs and in what order
// they are requested. It tracks one tile set per viewport, diffs it as the
// viewport pans or zooms, and reports a coarse busy/idle signal.
//
// A Scheduler is not safe for concurrent use. All of its methods, and the
// tile notifications it receives, run on the pipeline's event loop.
package scheduler

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"go.uber.org/zap"

	"tileview/internal/eventloop"
	"tileview/internal/metrics"
	"tileview/internal/source"
	"tileview/internal/tile"
)

var (
	ErrZoomOutOfRange = errors.New("scheduler: zoom out of range")
	ErrClosed         = errors.New("scheduler: closed")
	ErrBadViewport    = errors.New("scheduler: viewport is not finite")
)

// Listener receives the scheduler's events. Positions are the tile's top left
// corner in viewport pixels.
type Listener interface {
	TileAdded(t *tile.Tile, pos image.Point)
	TileMoved(t *tile.Tile, pos image.Point)
	TileRemoved(t *tile.Tile)
	TileStateChanged(t *tile.Tile, from, to tile.State)
	BusyChanged(busy bool)
	// TransitionChanged reports a new zoom overlay, or nil when it is gone.
	TransitionChanged(tr *Transition)
}

// NopListener ignores every event. Embed it to implement only some of
// Listener.
type NopListener struct{}

func (NopListener) TileAdded(*tile.Tile, image.Point)                   {}
func (NopListener) TileMoved(*tile.Tile, image.Point)                   {}
func (NopListener) TileRemoved(*tile.Tile)                              {}
func (NopListener) TileStateChanged(*tile.Tile, tile.State, tile.State) {}
func (NopListener) BusyChanged(bool)                                    {}
func (NopListener) TransitionChanged(*Transition)                       {}

type Options struct {
	Source   source.Source
	Loop     *eventloop.Loop
	Listener Listener
	// MinZoom and MaxZoom bound the view; the source's own range narrows
	// them further.
	MinZoom uint32
	MaxZoom uint32
	// Grace is the longest a zoom overlay stays up while new tiles load.
	Grace   time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Scheduler struct {
	src      source.Source
	loop     *eventloop.Loop
	listener Listener
	minZoom  uint32
	maxZoom  uint32
	grace    time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	viewport   r2.Rect
	zoom       uint32
	rect       Rect
	tiles      map[tile.Key]*tile.Tile
	busy       int
	wasBusy    bool
	transition *Transition
	updating   bool
	closed     bool
}

func New(opts Options) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, errors.New("scheduler: no source")
	}
	if opts.Loop == nil {
		return nil, errors.New("scheduler: no event loop")
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.MaxZoom == 0 {
		opts.MaxZoom = opts.Source.MaxZoom()
	}
	if opts.Grace <= 0 {
		opts.Grace = 1500 * time.Millisecond
	}

	minZoom := max(opts.MinZoom, opts.Source.MinZoom())
	maxZoom := min(opts.MaxZoom, opts.Source.MaxZoom())
	if minZoom > maxZoom {
		return nil, fmt.Errorf("%w: view [%d, %d] and source %s [%d, %d] do not overlap",
			ErrZoomOutOfRange, opts.MinZoom, opts.MaxZoom, opts.Source.ID(), opts.Source.MinZoom(), opts.Source.MaxZoom())
	}

	return &Scheduler{
		src:      opts.Source,
		loop:     opts.Loop,
		listener: opts.Listener,
		minZoom:  minZoom,
		maxZoom:  maxZoom,
		grace:    opts.Grace,
		logger:   opts.Logger.Named("scheduler"),
		metrics:  opts.Metrics,
		zoom:     minZoom,
		tiles:    make(map[tile.Key]*tile.Tile),
	}, nil
}

func (s *Scheduler) ZoomRange() (uint32, uint32) { return s.minZoom, s.maxZoom }
func (s *Scheduler) Zoom() uint32                { return s.zoom }
func (s *Scheduler) Viewport() r2.Rect           { return s.viewport }
func (s *Scheduler) Rect() Rect                  { return s.rect }
func (s *Scheduler) Busy() int                   { return s.busy }
func (s *Scheduler) Transition() *Transition     { return s.transition }
func (s *Scheduler) Tile(x, y uint32) *tile.Tile { return s.tiles[s.key(s.zoom, x, y)] }
func (s *Scheduler) Len() int                    { return len(s.tiles) }

// Tiles returns the tracked tiles in row-major order.
func (s *Scheduler) Tiles() []*tile.Tile {
	out := make([]*tile.Tile, 0, len(s.tiles))
	for _, t := range s.tiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out
}

func (s *Scheduler) key(zoom, x, y uint32) tile.Key {
	return tile.Key{SourceID: s.src.ID(), Zoom: zoom, X: x, Y: y}
}

func (s *Scheduler) checkZoom(zoom uint32) error {
	if zoom < s.minZoom || zoom > s.maxZoom {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrZoomOutOfRange, zoom, s.minZoom, s.maxZoom)
	}
	return nil
}

// Update moves the view to viewport, given in world pixels at zoom. Tiles
// that left the view are destroyed, tiles still inside are repositioned, and
// missing tiles are created and requested center first.
func (s *Scheduler) Update(viewport r2.Rect, zoom uint32) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.checkZoom(zoom); err != nil {
		return err
	}
	if !finite(viewport.X.Lo, viewport.X.Hi, viewport.Y.Lo, viewport.Y.Hi) {
		return fmt.Errorf("%w: %v", ErrBadViewport, viewport)
	}
	s.updating = true
	s.viewport = viewport
	s.zoom = zoom
	s.rect = VisibleRect(viewport, zoom, s.src.TileSize(), s.src.Grid())

	for k, t := range s.tiles {
		if k.Zoom != zoom || !s.rect.Contains(k.X, k.Y) {
			s.remove(k, t)
		}
	}

	var created int
	for _, idx := range SpiralOrder(s.rect) {
		k := s.key(zoom, idx.X, idx.Y)
		if t, ok := s.tiles[k]; ok {
			s.listener.TileMoved(t, s.position(k))
			continue
		}
		s.add(tile.New(k, s.src.TileSize(), s))
		created++
	}
	s.metrics.TrackedTiles.Set(float64(len(s.tiles)))

	s.logger.Debug("Viewport updated",
		zap.Uint32("zoom", zoom),
		zap.Uint32("x_first", s.rect.XFirst), zap.Uint32("x_end", s.rect.XEnd),
		zap.Uint32("y_first", s.rect.YFirst), zap.Uint32("y_end", s.rect.YEnd),
		zap.Int("created", created),
		zap.Int("tracked", len(s.tiles)),
	)
	s.updating = false
	s.notifyBusy()
	s.maybeEndTransition()
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s *Scheduler) add(t *tile.Tile) {
	k := t.Key()
	s.tiles[k] = t
	t.Init()
	s.listener.TileAdded(t, s.position(k))
	if err := source.FillTile(s.src, t); err != nil {
		s.logger.Warn("Failed to request tile", zap.Stringer("tile", k), zap.Error(err))
	}
}

func (s *Scheduler) remove(k tile.Key, t *tile.Tile) {
	delete(s.tiles, k)
	t.Destroy()
	s.listener.TileRemoved(t)
}

// position is the tile's top left corner relative to the viewport.
func (s *Scheduler) position(k tile.Key) image.Point {
	size := float64(s.src.TileSize())
	return image.Point{
		X: int(math.Round(float64(k.X)*size - s.viewport.X.Lo)),
		Y: int(math.Round(float64(k.Y)*size - s.viewport.Y.Lo)),
	}
}

func (s *Scheduler) bounds(k tile.Key) r2.Rect {
	size := float64(s.src.TileSize())
	lo := r2.Point{X: float64(k.X)*size - s.viewport.X.Lo, Y: float64(k.Y)*size - s.viewport.Y.Lo}
	return r2.RectFromPoints(lo, lo.Add(r2.Point{X: size, Y: size}))
}

// TileStateChanged implements tile.Observer for every tile the scheduler
// creates.
func (s *Scheduler) TileStateChanged(t *tile.Tile, from, to tile.State) {
	switch {
	case to == tile.StateLoading:
		s.busy++
		s.metrics.Busy.Inc()
	case to == tile.StateDone && (from == tile.StateLoading || from == tile.StateLoaded):
		s.busy--
		s.metrics.Busy.Dec()
	}
	if to == tile.StateDone {
		s.metrics.TilesFinished.WithLabelValues(t.Outcome().String()).Inc()
	}
	s.listener.TileStateChanged(t, from, to)
	if !s.updating {
		s.notifyBusy()
		if to == tile.StateDone {
			s.maybeEndTransition()
		}
	}
}

// notifyBusy reports the busy counter crossing zero. Changes made within one
// Update are reported once, at its end.
func (s *Scheduler) notifyBusy() {
	if busy := s.busy > 0; busy != s.wasBusy {
		s.wasBusy = busy
		s.listener.BusyChanged(busy)
	}
}

// ZoomTo changes the zoom level keeping anchor, a point in viewport pixels,
// fixed on screen. The current tiles stay visible as a scaled overlay until
// the new level has loaded.
func (s *Scheduler) ZoomTo(zoom uint32, anchor r2.Point) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.checkZoom(zoom); err != nil {
		return err
	}
	if !finite(anchor.X, anchor.Y) {
		return fmt.Errorf("%w: anchor %v", ErrBadViewport, anchor)
	}
	if zoom == s.zoom {
		return nil
	}

	tr := newTransition(s.zoom, zoom, anchor)
	for k, t := range s.tiles {
		if t.HasContent() {
			tr.add(t.Image(), s.bounds(k))
		}
	}
	if s.transition != nil {
		// Zooming again mid-transition carries the older overlay along
		// underneath, scaled once more.
		older := make([]OverlayTile, 0, len(s.transition.Tiles)+len(tr.Tiles))
		for _, ot := range s.transition.Tiles {
			older = append(older, OverlayTile{Image: ot.Image, Bounds: scaleAbout(ot.Bounds, anchor, tr.Scale)})
		}
		tr.Tiles = append(older, tr.Tiles...)
	}

	world := s.viewport.Lo().Add(anchor).Mul(tr.Scale)
	lo := world.Sub(anchor)
	viewport := r2.RectFromPoints(lo, lo.Add(s.viewport.Size()))

	s.startTransition(tr)
	s.logger.Debug("Zoom transition started",
		zap.Uint32("from", tr.FromZoom), zap.Uint32("to", tr.ToZoom),
		zap.Int("overlay_tiles", len(tr.Tiles)))
	return s.Update(viewport, zoom)
}

// startTransition replaces any current overlay with tr, which is dropped at
// the latest after the grace period.
func (s *Scheduler) startTransition(tr *Transition) {
	if s.transition != nil {
		s.transition.stop()
	}
	s.transition = tr
	s.listener.TransitionChanged(tr)
	tr.timer = s.loop.AfterFunc(s.grace, func() {
		if s.transition == tr {
			s.logger.Debug("Overlay grace period expired", zap.Uint32("zoom", tr.ToZoom))
			s.endTransition()
		}
	})
}

func (s *Scheduler) maybeEndTransition() {
	if s.transition != nil && s.busy == 0 {
		s.endTransition()
	}
}

func (s *Scheduler) endTransition() {
	if s.transition == nil {
		return
	}
	s.transition.stop()
	s.transition = nil
	s.listener.TransitionChanged(nil)
}

// Reload replaces the whole visible tile set, as after the map data changed.
// The old tiles stay up as an unscaled overlay until the new ones load. Each
// replacement is a successor of the old tile, so sources can revalidate its
// content with the validators it carries.
func (s *Scheduler) Reload() {
	if s.closed {
		return
	}
	tr := newTransition(s.zoom, s.zoom, r2.Point{})
	s.updating = true
	successors := make(map[tile.Key]*tile.Tile, len(s.tiles))
	for k, t := range s.tiles {
		if t.HasContent() {
			tr.add(t.Image(), s.bounds(k))
		}
		successors[k] = t.Successor(s)
		s.remove(k, t)
	}
	s.startTransition(tr)
	s.logger.Info("Reloading visible tiles", zap.Int("overlay_tiles", len(tr.Tiles)))
	for _, idx := range SpiralOrder(s.rect) {
		if t, ok := successors[s.key(s.zoom, idx.X, idx.Y)]; ok {
			s.add(t)
		}
	}
	if err := s.Update(s.viewport, s.zoom); err != nil {
		s.logger.Warn("Reload failed", zap.Error(err))
	}
}

// Close destroys every tracked tile. The scheduler cannot be used afterwards.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	for k, t := range s.tiles {
		s.remove(k, t)
	}
	s.endTransition()
	s.closed = true
	s.metrics.TrackedTiles.Set(0)
}

// Snapshot composites the overlay and every tile with content into an image
// the size of the viewport.
func (s *Scheduler) Snapshot() *image.RGBA {
	size := s.viewport.Size()
	dst := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(size.X)), int(math.Ceil(size.Y))))
	if s.transition != nil {
		s.transition.Draw(dst)
	}
	for k, t := range s.tiles {
		if img := t.Image(); img != nil {
			drawScaled(dst, img, s.bounds(k))
		}
	}
	return dst
}
