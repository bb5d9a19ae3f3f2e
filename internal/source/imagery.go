package source

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tileview/internal/imagery"
	"tileview/internal/projection"
)

// Cutter produces encoded tiles from one catalog image.
type Cutter interface {
	Grid(img imagery.Image) projection.ImageGrid
	Cut(img imagery.Image, zoom, x, y uint32) ([]byte, error)
	ETag(img imagery.Image, zoom, x, y uint32) string
}

// Submitter runs blocking work off the event loop. render.Pool is one.
type Submitter interface {
	Submit(task func()) bool
}

// ImagerySource serves a single large raster on its own image grid. Cuts run
// on the worker pool.
type ImagerySource struct {
	base
	cutter Cutter
	image  imagery.Image
	pool   Submitter
}

// NewImagerySource builds the source for img. The grid, tile size and max
// zoom come from the image; opts.MaxZoom only lowers the max zoom.
func NewImagerySource(env Env, opts Options, cutter Cutter, img imagery.Image, pool Submitter) (*ImagerySource, error) {
	if cutter == nil || pool == nil {
		return nil, fmt.Errorf("source: imagery source %s needs a cutter and a worker pool", opts.ID)
	}
	grid := cutter.Grid(img)
	opts.Grid = grid
	opts.TileSize = grid.TileSize
	if opts.MaxZoom == 0 || opts.MaxZoom > grid.MaxZoom {
		opts.MaxZoom = grid.MaxZoom
	}
	if opts.Attribution == "" {
		opts.Attribution = img.Attribution
	}
	b, err := newBase(env, opts, "imagery")
	if err != nil {
		return nil, err
	}
	if b.env.Loop == nil {
		return nil, fmt.Errorf("source: imagery source %s needs an event loop", opts.ID)
	}
	return &ImagerySource{base: b, cutter: cutter, image: img, pool: pool}, nil
}

func (s *ImagerySource) Image() imagery.Image { return s.image }

func (s *ImagerySource) Fill(req *Request) {
	key := req.Key()
	if !s.covers(key) {
		s.delegate(req)
		return
	}

	etag := s.cutter.ETag(s.image, key.Zoom, key.X, key.Y)
	if data, ok := s.lookup(key); ok {
		if img, err := Decode(data); err == nil {
			mtime, _ := s.cache.ModTime(s.cacheKey(key))
			s.result("cache_hit")
			req.Complete(s.ID(), img, data, etag, mtime)
			return
		}
	}

	submitted := s.pool.Submit(func() {
		data, err := s.cutter.Cut(s.image, key.Zoom, key.X, key.Y)
		s.env.Loop.Post(func() { s.complete(req, data, etag, err) })
	})
	if !submitted {
		s.logger.Warn("Worker pool unavailable", zap.Stringer("tile", key))
		s.result("error")
		s.delegate(req)
	}
}

func (s *ImagerySource) complete(req *Request, data []byte, etag string, err error) {
	if !req.Live() {
		s.result("discarded")
		return
	}
	key := req.Key()
	if err != nil {
		s.logger.Debug("Cut failed", zap.Stringer("tile", key), zap.Error(err))
		s.result("error")
		s.delegate(req)
		return
	}
	img, err := Decode(data)
	if err != nil {
		s.logger.Warn("Cut produced undecodable data", zap.Stringer("tile", key), zap.Error(err))
		s.result("error")
		s.delegate(req)
		return
	}
	s.cache.Set(s.cacheKey(key), data)
	s.result("cut")
	req.Complete(s.ID(), img, data, etag, time.Now())
}
