// Package source implements the map source chain. Each Source either fills a
// tile itself or hands the Request to the next source in the chain; the last
// source always finishes it, so every Fill eventually drives its tile to
// StateDone.
//
// Fill and everything a source does to a Request run on the pipeline's event
// loop. Network and render work happens on other goroutines and is posted
// back to the loop before it touches the tile.
package source

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/eventloop"
	"tileview/internal/metrics"
	"tileview/internal/projection"
	"tileview/internal/tile"
)

var (
	ErrZoomOutOfRange = errors.New("source: zoom out of range")
	ErrBadTemplate    = errors.New("source: malformed url template")
	ErrNoRenderer     = errors.New("source: no renderer attached")
)

type Source interface {
	ID() string
	// Next returns the source this one delegates to, or nil for a terminal
	// source.
	Next() Source
	MinZoom() uint32
	MaxZoom() uint32
	TileSize() int
	Grid() projection.Grid
	Attribution() string
	// Fill attempts to produce content for req. It must return promptly and
	// guarantee that req is eventually finished, by this source or by one it
	// delegates to.
	Fill(req *Request)
}

// Env carries the shared collaborators every source needs.
type Env struct {
	Loop    *eventloop.Loop
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.NewNop()
	}
	return e
}

// Options are the settings common to all sources.
type Options struct {
	ID          string
	Next        Source
	MinZoom     uint32
	MaxZoom     uint32
	TileSize    int
	Grid        projection.Grid
	Attribution string
	Cache       cache.Cache
}

// FillTile starts a fetch attempt for t through the chain headed by src.
// Zooms outside the head's range are a caller mistake and are rejected
// before the tile changes state.
func FillTile(src Source, t *tile.Tile) error {
	zoom := t.Key().Zoom
	if zoom < src.MinZoom() || zoom > src.MaxZoom() {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrZoomOutOfRange, zoom, src.MinZoom(), src.MaxZoom())
	}
	ticket, err := t.Begin()
	if err != nil {
		return err
	}
	src.Fill(&Request{ticket: ticket})
	return nil
}

// base implements the Source accessors and the bookkeeping shared by the
// concrete sources.
type base struct {
	opts    Options
	env     Env
	logger  *zap.Logger
	cache   cache.Cache
	metrics *metrics.Metrics
}

func newBase(env Env, opts Options, kind string) (base, error) {
	env = env.withDefaults()
	if opts.ID == "" {
		return base{}, fmt.Errorf("source: %s source needs an id", kind)
	}
	if opts.MinZoom > opts.MaxZoom {
		return base{}, fmt.Errorf("%w: min %d exceeds max %d", ErrZoomOutOfRange, opts.MinZoom, opts.MaxZoom)
	}
	if opts.MaxZoom > projection.MaxZoom {
		return base{}, fmt.Errorf("%w: max %d exceeds %d", ErrZoomOutOfRange, opts.MaxZoom, projection.MaxZoom)
	}
	if opts.TileSize <= 0 {
		opts.TileSize = 256
	}
	if opts.Grid == nil {
		opts.Grid = projection.Pyramid{}
	}
	c := opts.Cache
	if c == nil {
		c = cache.NewNoopCache()
	}
	return base{
		opts:    opts,
		env:     env,
		logger:  env.Logger.Named("source." + kind).With(zap.String("source", opts.ID)),
		cache:   c,
		metrics: env.Metrics,
	}, nil
}

func (b *base) ID() string            { return b.opts.ID }
func (b *base) Next() Source          { return b.opts.Next }
func (b *base) MinZoom() uint32       { return b.opts.MinZoom }
func (b *base) MaxZoom() uint32       { return b.opts.MaxZoom }
func (b *base) TileSize() int         { return b.opts.TileSize }
func (b *base) Grid() projection.Grid { return b.opts.Grid }
func (b *base) Attribution() string   { return b.opts.Attribution }
func (b *base) Cache() cache.Cache    { return b.cache }

func (b *base) cacheKey(k tile.Key) tile.Key {
	return k.WithSource(b.opts.ID)
}

// SetCache swaps the cache this source reads and writes. Call it from the
// event loop.
func (b *base) SetCache(c cache.Cache) {
	if c == nil {
		c = cache.NewNoopCache()
	}
	b.cache = c
}

// covers reports whether k lies inside this source's zoom range and grid.
func (b *base) covers(k tile.Key) bool {
	if k.Zoom < b.opts.MinZoom || k.Zoom > b.opts.MaxZoom {
		return false
	}
	return k.X < b.opts.Grid.Columns(k.Zoom) && k.Y < b.opts.Grid.Rows(k.Zoom)
}

func (b *base) delegate(req *Request) {
	req.Delegate(b.opts.Next)
}

func (b *base) result(r string) {
	b.metrics.SourceResults.WithLabelValues(b.opts.ID, r).Inc()
}

func (b *base) lookup(k tile.Key) ([]byte, bool) {
	data, ok := b.cache.Get(b.cacheKey(k))
	label := "miss"
	if ok {
		label = "hit"
	}
	b.metrics.CacheLookups.WithLabelValues(b.opts.ID, label).Inc()
	return data, ok
}

func (b *base) tileSize(req *Request) int {
	if s := req.Tile().Size(); s > 0 {
		return s
	}
	return b.opts.TileSize
}
