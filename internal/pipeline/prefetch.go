package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tileview/internal/projection"
	"tileview/internal/scheduler"
	"tileview/internal/tile"
)

// PrefetchRange is the tile rectangle to walk at one zoom.
type PrefetchRange struct {
	Zoom uint32
	Rect scheduler.Rect
}

type PrefetchStats struct {
	Tiles   int64
	Content int64
	Empty   int64
	Failed  int64
}

// PrefetchPlan lists the tiles covering bound for every zoom in
// [minZoom, maxZoom], clamped to the chain's range. Sources with their own
// grid are not geographic and are walked whole.
func (p *Pipeline) PrefetchPlan(bound orb.Bound, minZoom, maxZoom uint32) ([]PrefetchRange, int, error) {
	lo, hi := p.ZoomRange()
	minZoom, maxZoom = max(minZoom, lo), min(maxZoom, hi)
	if minZoom > maxZoom {
		return nil, 0, fmt.Errorf("%w: no zoom of [%d, %d] is served", scheduler.ErrZoomOutOfRange, lo, hi)
	}

	grid := p.head.Grid()
	_, geographic := grid.(projection.Pyramid)
	size := p.head.TileSize()

	var ranges []PrefetchRange
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		rect := scheduler.Rect{XEnd: grid.Columns(z), YEnd: grid.Rows(z)}
		if geographic {
			x0, y0 := projection.Project(orb.Point{bound.Min.Lon(), bound.Max.Lat()}, z, size)
			x1, y1 := projection.Project(orb.Point{bound.Max.Lon(), bound.Min.Lat()}, z, size)
			rect = scheduler.VisibleRect(r2.RectFromPoints(r2.Point{X: x0, Y: y0}, r2.Point{X: x1, Y: y1}), z, size, grid)
		}
		if rect.Empty() {
			continue
		}
		ranges = append(ranges, PrefetchRange{Zoom: z, Rect: rect})
		total += rect.Len()
	}
	return ranges, total, nil
}

// Prefetch runs every planned tile through the chain with at most workers
// tiles in flight, filling the caches on the way. progress, if set, is
// called once per finished tile from any goroutine.
func (p *Pipeline) Prefetch(ctx context.Context, ranges []PrefetchRange, workers int, progress func(tile.Outcome)) (PrefetchStats, error) {
	var stats PrefetchStats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

walk:
	for _, r := range ranges {
		for _, idx := range scheduler.SpiralOrder(r.Rect) {
			if gctx.Err() != nil {
				break walk
			}
			zoom, x, y := r.Zoom, idx.X, idx.Y
			g.Go(func() error {
				res, err := p.FetchTile(gctx, zoom, x, y)
				atomic.AddInt64(&stats.Tiles, 1)
				switch {
				case errors.Is(err, ErrClosed):
					return err
				case err != nil:
					atomic.AddInt64(&stats.Failed, 1)
					p.logger.Debug("Prefetch tile failed",
						zap.Uint32("z", zoom), zap.Uint32("x", x), zap.Uint32("y", y), zap.Error(err))
				case res.HasContent():
					atomic.AddInt64(&stats.Content, 1)
				default:
					atomic.AddInt64(&stats.Empty, 1)
				}
				if progress != nil {
					progress(res.Outcome)
				}
				return nil
			})
		}
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	p.logger.Info("Prefetch finished",
		zap.Int64("tiles", stats.Tiles),
		zap.Int64("content", stats.Content),
		zap.Int64("empty", stats.Empty),
		zap.Int64("failed", stats.Failed))
	return stats, err
}
