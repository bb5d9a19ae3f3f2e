package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"go.uber.org/zap"

	"tileview/internal/scheduler"
)

// View is one viewport driven through the pipeline. Its methods may be called
// from any goroutine; the work happens on the event loop, where the listener
// is also called.
type View struct {
	p     *Pipeline
	sched *scheduler.Scheduler
}

// NewView registers a viewport. A nil listener ignores every event.
func (p *Pipeline) NewView(ctx context.Context, l scheduler.Listener) (*View, error) {
	s, err := p.newScheduler(l)
	if err != nil {
		return nil, err
	}
	v := &View{p: p, sched: s}
	if err := p.loop.Call(ctx, func() { p.views[v] = struct{}{} }); err != nil {
		return nil, p.loopErr(err)
	}
	return v, nil
}

func (v *View) call(ctx context.Context, fn func() error) error {
	var err error
	if callErr := v.p.loop.Call(ctx, func() { err = fn() }); callErr != nil {
		return v.p.loopErr(callErr)
	}
	return err
}

// Update moves the view to viewport, in world pixels at zoom.
func (v *View) Update(ctx context.Context, viewport r2.Rect, zoom uint32) error {
	return v.call(ctx, func() error { return v.sched.Update(viewport, zoom) })
}

// ZoomTo changes zoom keeping anchor, in viewport pixels, fixed.
func (v *View) ZoomTo(ctx context.Context, zoom uint32, anchor r2.Point) error {
	return v.call(ctx, func() error { return v.sched.ZoomTo(zoom, anchor) })
}

func (v *View) Reload(ctx context.Context) error {
	return v.call(ctx, func() error {
		v.sched.Reload()
		return nil
	})
}

// Snapshot composites what the view currently shows.
func (v *View) Snapshot(ctx context.Context) (*image.RGBA, error) {
	var img *image.RGBA
	err := v.call(ctx, func() error {
		img = v.sched.Snapshot()
		return nil
	})
	if err == nil && img == nil {
		err = errSnapshot
	}
	return img, err
}

var errSnapshot = errors.New("pipeline: view snapshot failed")

type ViewState struct {
	Zoom    uint32         `json:"zoom"`
	Rect    scheduler.Rect `json:"rect"`
	Tiles   int            `json:"tiles"`
	Loading int            `json:"loading"`
	Overlay bool           `json:"overlay"`
}

func (v *View) State(ctx context.Context) (ViewState, error) {
	var st ViewState
	err := v.call(ctx, func() error {
		st = ViewState{
			Zoom:    v.sched.Zoom(),
			Rect:    v.sched.Rect(),
			Tiles:   v.sched.Len(),
			Loading: v.sched.Busy(),
			Overlay: v.sched.Transition() != nil,
		}
		return nil
	})
	return st, err
}

// Close destroys the view's tiles and unregisters it.
func (v *View) Close(ctx context.Context) error {
	return v.call(ctx, func() error {
		v.sched.Close()
		delete(v.p.views, v)
		return nil
	})
}

// idleListener signals idle whenever the view reports busy false.
type idleListener struct {
	scheduler.NopListener
	idle chan struct{}
}

func (l *idleListener) BusyChanged(busy bool) {
	if !busy {
		select {
		case l.idle <- struct{}{}:
		default:
		}
	}
}

// RenderView loads viewport at zoom in a temporary view, waits until every
// tile has finished, and returns the composited image.
func (p *Pipeline) RenderView(ctx context.Context, viewport r2.Rect, zoom uint32) (*image.RGBA, error) {
	l := &idleListener{idle: make(chan struct{}, 1)}
	v, err := p.NewView(ctx, l)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := v.Close(context.Background()); err != nil {
			p.logger.Debug("Failed to close temporary view", zap.Error(err))
		}
	}()

	var busy bool
	if err := v.call(ctx, func() error {
		if err := v.sched.Update(viewport, zoom); err != nil {
			return err
		}
		busy = v.sched.Busy() > 0
		return nil
	}); err != nil {
		return nil, err
	}
	if busy {
		select {
		case <-l.idle:
		case <-ctx.Done():
			return nil, fmt.Errorf("view did not finish loading: %w", ctx.Err())
		}
	}
	return v.Snapshot(ctx)
}

// Plan is the load order a viewport would produce, without loading it.
type Plan struct {
	Zoom  uint32            `json:"zoom"`
	Rect  scheduler.Rect    `json:"rect"`
	Order []scheduler.Index `json:"order"`
}

func (p *Pipeline) Plan(viewport r2.Rect, zoom uint32) (Plan, error) {
	minZoom, maxZoom := p.ZoomRange()
	if zoom < minZoom || zoom > maxZoom {
		return Plan{}, fmt.Errorf("%w: %d not in [%d, %d]", scheduler.ErrZoomOutOfRange, zoom, minZoom, maxZoom)
	}
	rect := scheduler.VisibleRect(viewport, zoom, p.head.TileSize(), p.head.Grid())
	return Plan{Zoom: zoom, Rect: rect, Order: scheduler.SpiralOrder(rect)}, nil
}
