// Package pipeline owns everything one map process shares: the event loop,
// the tile cache, the HTTP client, the render pool and the source chain. It
// is built once from the configuration and torn down with Close.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/config"
	"tileview/internal/eventloop"
	"tileview/internal/imagery"
	"tileview/internal/metrics"
	"tileview/internal/render"
	"tileview/internal/scheduler"
	"tileview/internal/source"
)

var ErrClosed = errors.New("pipeline: closed")

type Pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	env     source.Env

	loop     *eventloop.Loop
	stopLoop context.CancelFunc
	loopDone chan struct{}

	client      *http.Client
	cache       cache.Cache
	renderCache *cache.MemoryCache
	pool        *render.Pool
	renderer    *render.Renderer
	watcher     *render.Watcher
	catalog     *imagery.Catalog
	head        source.Source

	// Owned by the loop.
	views   map[*View]struct{}
	reloads int

	closeOnce sync.Once
	closeErr  error
}

// New builds the pipeline described by cfg and starts its event loop. A nil
// registerer keeps metrics unregistered.
func New(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*Pipeline, error) {
	m := metrics.NewNop()
	if reg != nil {
		m = metrics.New(reg)
	}
	tileCache, err := cache.NewCache(cfg.Cache.Type, cfg.Cache.Dir, cfg.Cache.MemoryTiles, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	loop := eventloop.New(log.Named("eventloop"))
	p := &Pipeline{
		cfg:         cfg,
		logger:      log.Named("pipeline"),
		metrics:     m,
		env:         source.Env{Loop: loop, Logger: log, Metrics: m},
		loop:        loop,
		loopDone:    make(chan struct{}),
		client:      &http.Client{Timeout: 30 * time.Second},
		cache:       tileCache,
		renderCache: cache.NewMemoryCache(cfg.Cache.MemoryTiles),
		views:       make(map[*View]struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stopLoop = cancel
	go func() {
		defer close(p.loopDone)
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Event loop stopped", zap.Error(err))
		}
	}()

	head, err := p.buildChain()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.head = head
	if p.renderer != nil {
		p.renderer.OnReload(func() { p.loop.Post(p.reload) })
	}

	p.logger.Info("Pipeline ready",
		zap.Strings("chain", source.IDs(head)),
		zap.String("cache", cfg.Cache.Type),
		zap.Uint32("min_zoom", head.MinZoom()),
		zap.Uint32("max_zoom", head.MaxZoom()),
	)
	return p, nil
}

func (p *Pipeline) Head() source.Source        { return p.head }
func (p *Pipeline) Loop() *eventloop.Loop      { return p.loop }
func (p *Pipeline) Metrics() *metrics.Metrics  { return p.metrics }
func (p *Pipeline) Cache() cache.Cache         { return p.cache }
func (p *Pipeline) Renderer() *render.Renderer { return p.renderer }
func (p *Pipeline) Catalog() *imagery.Catalog  { return p.catalog }

// Images lists the imagery catalog, empty when imagery is not in the chain.
func (p *Pipeline) Images() []imagery.Image {
	if p.catalog == nil {
		return nil
	}
	return p.catalog.Images()
}

// ZoomRange is the intersection of the configured view range and the chain
// head's range.
func (p *Pipeline) ZoomRange() (uint32, uint32) {
	return max(p.cfg.View.MinZoom, p.head.MinZoom()), min(p.cfg.View.MaxZoom, p.head.MaxZoom())
}

// reload runs on the loop after the renderer's dataset or style changed.
// Rendered output is invalid, so non-persistent caches are dropped and every
// view replaces its visible tiles.
func (p *Pipeline) reload() {
	p.renderCache.Clear()
	if !p.cache.Persistent() {
		p.cache.Clear()
	}
	p.reloads++
	for v := range p.views {
		v.sched.Reload()
	}
	p.logger.Info("Map data reloaded", zap.Int("views", len(p.views)), zap.Int("reloads", p.reloads))
}

type Status struct {
	Sources      []string `json:"sources"`
	Attribution  string   `json:"attribution"`
	MinZoom      uint32   `json:"min_zoom"`
	MaxZoom      uint32   `json:"max_zoom"`
	TileSize     int      `json:"tile_size"`
	Cache        string   `json:"cache"`
	Persistent   bool     `json:"persistent"`
	Views        int      `json:"views"`
	Busy         bool     `json:"busy"`
	TrackedTiles int      `json:"tracked_tiles"`
	Reloads      int      `json:"reloads"`
}

func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	minZoom, maxZoom := p.ZoomRange()
	st := Status{
		Sources:     source.IDs(p.head),
		Attribution: source.Attribution(p.head),
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		TileSize:    p.head.TileSize(),
		Cache:       p.cfg.Cache.Type,
		Persistent:  p.cache.Persistent(),
	}
	err := p.loop.Call(ctx, func() {
		st.Views = len(p.views)
		st.Reloads = p.reloads
		for v := range p.views {
			st.TrackedTiles += v.sched.Len()
			if v.sched.Busy() > 0 {
				st.Busy = true
			}
		}
	})
	return st, p.loopErr(err)
}

// Close tears the pipeline down: views first, then the watcher, the render
// pool and finally the event loop. The pool runs what is still queued and
// posts the results to the loop, where the destroyed tiles discard them.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var err error
		callErr := p.loop.Call(ctx, func() {
			for v := range p.views {
				v.sched.Close()
				delete(p.views, v)
			}
		})
		if callErr != nil && !errors.Is(callErr, eventloop.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("failed to close views: %w", callErr))
		}
		if p.watcher != nil {
			err = multierr.Append(err, p.watcher.Close())
		}
		if p.pool != nil {
			p.pool.Close()
		}
		p.stopLoop()
		p.loop.Close()
		<-p.loopDone
		p.client.CloseIdleConnections()

		p.closeErr = err
		p.logger.Info("Pipeline closed")
	})
	return p.closeErr
}

func (p *Pipeline) newScheduler(l scheduler.Listener) (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Source:   p.head,
		Loop:     p.loop,
		Listener: l,
		MinZoom:  p.cfg.View.MinZoom,
		MaxZoom:  p.cfg.View.MaxZoom,
		Grace:    p.cfg.Transition.Grace,
		Logger:   p.logger,
		Metrics:  p.metrics,
	})
}
