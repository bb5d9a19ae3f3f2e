package source

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tileview/internal/render"
)

// RenderSource rasterizes tiles from the renderer's vector dataset on the
// worker pool. Tiles without geometry delegate.
type RenderSource struct {
	base
	renderer *render.Renderer
}

func NewRenderSource(env Env, opts Options, renderer *render.Renderer) (*RenderSource, error) {
	if renderer == nil {
		return nil, ErrNoRenderer
	}
	b, err := newBase(env, opts, "render")
	if err != nil {
		return nil, err
	}
	if b.env.Loop == nil {
		return nil, fmt.Errorf("source: render source %s needs an event loop", opts.ID)
	}
	return &RenderSource{base: b, renderer: renderer}, nil
}

func (s *RenderSource) Renderer() *render.Renderer { return s.renderer }

func (s *RenderSource) Fill(req *Request) {
	key := req.Key()
	if !s.covers(key) {
		s.delegate(req)
		return
	}

	// Content carried over from an earlier attempt was rendered from data
	// that may have changed since.
	req.ClearContent()

	if data, ok := s.lookup(key); ok {
		if img, err := Decode(data); err == nil {
			mtime, _ := s.cache.ModTime(s.cacheKey(key))
			s.result("cache_hit")
			req.Complete(s.ID(), img, data, "", mtime)
			return
		}
	}

	item := render.WorkItem{Key: key, Size: s.tileSize(req)}
	err := s.renderer.Render(item, func(res render.Result) {
		s.env.Loop.Post(func() { s.complete(req, res) })
	})
	if err != nil {
		s.logger.Warn("Render queue unavailable", zap.Stringer("tile", key), zap.Error(err))
		s.result("error")
		s.delegate(req)
	}
}

// complete runs on the event loop. A tile destroyed while its work item was
// queued or rendering is simply dropped here.
func (s *RenderSource) complete(req *Request, res render.Result) {
	if !req.Live() {
		s.result("discarded")
		return
	}
	key := req.Key()
	switch {
	case res.Err != nil:
		s.logger.Debug("Render failed", zap.Stringer("tile", key), zap.Error(res.Err))
		s.result("error")
		s.delegate(req)
		return
	case res.Empty:
		s.result("empty")
		s.delegate(req)
		return
	}

	data, err := EncodePNG(res.Image)
	if err != nil {
		s.logger.Warn("Failed to encode rendered tile", zap.Stringer("tile", key), zap.Error(err))
		s.result("error")
		s.delegate(req)
		return
	}
	s.cache.Set(s.cacheKey(key), data)
	s.result("rendered")
	req.Complete(s.ID(), res.Image, data, "", time.Now())
}
