package source

import (
	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/projection"
)

// CachingSource wraps a source with a cache. Hits are served straight from
// the cache; on a miss the inner source runs, and only content the inner
// source itself produced is written back, never content a later source in
// the chain supplied.
type CachingSource struct {
	inner  Source
	cache  cache.Cache
	env    Env
	logger *zap.Logger
}

func NewCachingSource(env Env, inner Source, c cache.Cache) *CachingSource {
	env = env.withDefaults()
	if c == nil {
		c = cache.NewNoopCache()
	}
	return &CachingSource{
		inner:  inner,
		cache:  c,
		env:    env,
		logger: env.Logger.Named("source.caching").With(zap.String("source", inner.ID())),
	}
}

func (s *CachingSource) ID() string            { return s.inner.ID() }
func (s *CachingSource) Next() Source          { return s.inner.Next() }
func (s *CachingSource) MinZoom() uint32       { return s.inner.MinZoom() }
func (s *CachingSource) MaxZoom() uint32       { return s.inner.MaxZoom() }
func (s *CachingSource) TileSize() int         { return s.inner.TileSize() }
func (s *CachingSource) Grid() projection.Grid { return s.inner.Grid() }
func (s *CachingSource) Attribution() string   { return s.inner.Attribution() }
func (s *CachingSource) Inner() Source         { return s.inner }
func (s *CachingSource) Cache() cache.Cache    { return s.cache }

// SetCache swaps the wrapped cache. Call it from the event loop.
func (s *CachingSource) SetCache(c cache.Cache) {
	if c == nil {
		c = cache.NewNoopCache()
	}
	s.cache = c
}

func (s *CachingSource) Fill(req *Request) {
	key := req.Key().WithSource(s.inner.ID())
	c := s.cache

	if !req.Tile().HasContent() {
		if data, ok := c.Get(key); ok {
			img, err := Decode(data)
			if err == nil {
				s.env.Metrics.CacheLookups.WithLabelValues(key.SourceID, "hit").Inc()
				mtime, _ := c.ModTime(key)
				req.Complete(s.inner.ID(), img, data, "", mtime)
				return
			}
			s.logger.Debug("Discarding undecodable cache entry", zap.Stringer("tile", key), zap.Error(err))
		}
		s.env.Metrics.CacheLookups.WithLabelValues(key.SourceID, "miss").Inc()
	}

	req.OnStore(s.inner.ID(), func(data []byte) { c.Set(key, data) })
	s.inner.Fill(req)
}
