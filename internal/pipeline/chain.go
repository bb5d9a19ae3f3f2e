package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tileview/internal/imagery"
	"tileview/internal/render"
	"tileview/internal/source"
)

// cachedPrefix wraps a chain entry in a CachingSource backed by the shared
// cache, as in "cached:file".
const cachedPrefix = "cached:"

// buildChain constructs the configured sources tail first, so each one can be
// handed its successor.
func (p *Pipeline) buildChain() (source.Source, error) {
	var next source.Source
	for i := len(p.cfg.Chain) - 1; i >= 0; i-- {
		entry := strings.TrimSpace(p.cfg.Chain[i])
		kind, cached := strings.CutPrefix(entry, cachedPrefix)
		if kind == "null" && next != nil {
			return nil, fmt.Errorf("chain entry %q: the null source must end the chain", entry)
		}
		src, err := p.newSource(kind, next)
		if err != nil {
			return nil, fmt.Errorf("chain entry %q: %w", entry, err)
		}
		if cached {
			src = source.NewCachingSource(p.env, src, p.cache)
		}
		next = src
	}
	if next == nil {
		return nil, fmt.Errorf("chain is empty")
	}

	seen := make(map[string]bool)
	for _, id := range source.IDs(next) {
		if seen[id] {
			return nil, fmt.Errorf("chain uses source id %q twice", id)
		}
		seen[id] = true
	}
	return next, nil
}

func (p *Pipeline) newSource(kind string, next source.Source) (source.Source, error) {
	cfg := p.cfg
	opts := source.Options{
		Next:     next,
		MinZoom:  cfg.View.MinZoom,
		MaxZoom:  cfg.View.MaxZoom,
		TileSize: cfg.TileSize,
	}

	switch kind {
	case "network":
		opts.ID = cfg.Network.SourceID
		opts.MinZoom = cfg.Network.MinZoom
		opts.MaxZoom = cfg.Network.MaxZoom
		opts.Attribution = cfg.Network.Attribution
		opts.Cache = p.cache
		return source.NewNetworkSource(p.env, source.NetworkOptions{
			Options:     opts,
			URLTemplate: cfg.Network.URLTemplate,
			MaxInFlight: cfg.Network.MaxInFlight,
			UserAgent:   cfg.Network.UserAgent,
			MaxAge:      cfg.Cache.MaxAge,
			Client:      p.client,
		})

	case "file":
		opts.ID = cfg.File.SourceID
		return source.NewFileSource(p.env, opts, cfg.File.Dir, cfg.File.Ext)

	case "render":
		renderer, err := p.ensureRenderer()
		if err != nil {
			return nil, err
		}
		opts.ID = cfg.Render.SourceID
		opts.Cache = p.renderCache
		return source.NewRenderSource(p.env, opts, renderer)

	case "imagery":
		if !cfg.Imagery.Enabled {
			return nil, fmt.Errorf("imagery is disabled")
		}
		if p.catalog == nil {
			p.catalog = imagery.NewCatalog(cfg.Imagery.Dir, nil, p.logger)
			if err := p.catalog.Scan(); err != nil {
				return nil, err
			}
		}
		img, err := p.catalog.Get(cfg.Imagery.ImageID)
		if err != nil {
			return nil, err
		}
		opts.ID = "image-" + img.ID
		opts.MaxZoom = 0
		opts.Cache = p.cache
		cutter := imagery.NewCutter(p.catalog, cfg.TileSize, p.logger)
		return source.NewImagerySource(p.env, opts, cutter, img, p.ensurePool())

	case "null":
		mode, err := source.ParseNullMode(cfg.Null.Mode)
		if err != nil {
			return nil, err
		}
		opts.ID = "null"
		return source.NewNullSource(p.env, opts, mode)
	}
	return nil, fmt.Errorf("unknown source kind %q", kind)
}

func (p *Pipeline) ensurePool() *render.Pool {
	if p.pool == nil {
		workers := max(p.cfg.Render.Workers, 1)
		p.pool = render.NewPool(workers, workers*64, p.logger.Named("pool"), p.metrics)
	}
	return p.pool
}

// ensureRenderer loads the dataset and style once and starts watching them
// when hot reload is on.
func (p *Pipeline) ensureRenderer() (*render.Renderer, error) {
	if p.renderer != nil {
		return p.renderer, nil
	}
	cfg := p.cfg.Render

	var dataset *render.Dataset
	if cfg.Dataset != "" {
		d, err := render.LoadDataset(cfg.Dataset)
		if err != nil {
			return nil, err
		}
		dataset = d
	}
	var style *render.Style
	if cfg.Style != "" {
		s, err := render.LoadStyle(cfg.Style)
		if err != nil {
			return nil, err
		}
		style = s
	}
	p.renderer = render.NewRenderer(p.ensurePool(), dataset, style, p.logger.Named("render"), p.metrics)
	p.logger.Info("Renderer ready",
		zap.String("dataset", cfg.Dataset),
		zap.Int("features", p.renderer.Dataset().Len()),
		zap.Int("workers", cfg.Workers))

	if cfg.Watch && (cfg.Dataset != "" || cfg.Style != "") {
		w, err := render.NewWatcher(p.renderer, cfg.Dataset, cfg.Style, p.logger.Named("watcher"))
		if err != nil {
			p.logger.Warn("Hot reload unavailable", zap.Error(err))
		} else {
			p.watcher = w
		}
	}
	return p.renderer, nil
}
