package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NetworkOptions configure a NetworkSource.
type NetworkOptions struct {
	Options
	URLTemplate string
	// MaxInFlight caps simultaneous requests; further requests queue.
	MaxInFlight int
	UserAgent   string
	// MaxAge is how long a cached tile is trusted before it is revalidated.
	// Zero trusts cached tiles forever.
	MaxAge time.Duration
	Client *http.Client
}

// NetworkSource downloads tiles over HTTP, revalidating cached and
// previously loaded tiles with conditional requests.
type NetworkSource struct {
	base
	tmpl      *Template
	client    *http.Client
	userAgent string
	maxAge    time.Duration
	slots     chan struct{}
}

func NewNetworkSource(env Env, opts NetworkOptions) (*NetworkSource, error) {
	b, err := newBase(env, opts.Options, "network")
	if err != nil {
		return nil, err
	}
	tmpl, err := ParseTemplate(opts.URLTemplate)
	if err != nil {
		return nil, err
	}
	if tmpl, err = tmpl.ForGrid(b.Grid()); err != nil {
		return nil, err
	}
	if b.env.Loop == nil {
		return nil, fmt.Errorf("source: network source %s needs an event loop", opts.ID)
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 2
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &NetworkSource{
		base:      b,
		tmpl:      tmpl,
		client:    client,
		userAgent: opts.UserAgent,
		maxAge:    opts.MaxAge,
		slots:     make(chan struct{}, opts.MaxInFlight),
	}, nil
}

func (s *NetworkSource) Template() *Template { return s.tmpl }

func (s *NetworkSource) Fill(req *Request) {
	key := req.Key()
	if !s.covers(key) {
		s.delegate(req)
		return
	}

	t := req.Tile()
	etag, lastModified := t.ETag(), t.LastModified()
	if !t.HasContent() {
		if data, ok := s.lookup(key); ok {
			img, err := Decode(data)
			if err != nil {
				s.logger.Debug("Discarding undecodable cache entry", zap.Stringer("tile", key), zap.Error(err))
			} else {
				mtime, _ := s.cache.ModTime(s.cacheKey(key))
				if s.maxAge <= 0 || time.Since(mtime) < s.maxAge {
					s.result("cache_hit")
					req.Complete(s.ID(), img, data, "", mtime)
					return
				}
				// Show the stale tile while asking the server whether it
				// still holds.
				req.SetContent(img, data, "", mtime)
				lastModified = mtime
			}
		}
	}
	s.fetch(req, etag, lastModified)
}

type fetchResult struct {
	img          image.Image
	data         []byte
	etag         string
	lastModified time.Time
	notModified  bool
	err          error
}

func (s *NetworkSource) fetch(req *Request, etag string, lastModified time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	req.SetAbort(cancel)
	if ctx.Err() != nil {
		return
	}

	u := s.tmpl.Expand(req.Key())
	s.metrics.NetworkQueued.Inc()
	go func() {
		defer cancel()
		res := s.do(ctx, u, etag, lastModified)
		s.env.Loop.Post(func() { s.complete(req, res) })
	}()
}

func (s *NetworkSource) do(ctx context.Context, u, etag string, lastModified time.Time) fetchResult {
	select {
	case s.slots <- struct{}{}:
		s.metrics.NetworkQueued.Dec()
	case <-ctx.Done():
		s.metrics.NetworkQueued.Dec()
		return fetchResult{err: ctx.Err()}
	}
	s.metrics.NetworkInFlight.Inc()
	defer func() {
		<-s.slots
		s.metrics.NetworkInFlight.Dec()
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fetchResult{err: err}
	}
	httpReq.Header.Set("X-Request-Id", uuid.New().String())
	if s.userAgent != "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}
	if etag != "" {
		httpReq.Header.Set("If-None-Match", etag)
	} else if !lastModified.IsZero() {
		httpReq.Header.Set("If-Modified-Since", lastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fetchResult{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return fetchResult{notModified: true}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, resp.Body)
		return fetchResult{err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetchResult{err: fmt.Errorf("read body: %w", err)}
	}
	img, err := Decode(data)
	if err != nil {
		return fetchResult{err: err}
	}
	res := fetchResult{img: img, data: data, etag: resp.Header.Get("ETag")}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		res.lastModified = lm
	} else {
		res.lastModified = time.Now()
	}
	return res
}

// complete runs on the event loop.
func (s *NetworkSource) complete(req *Request, res fetchResult) {
	if !req.Live() {
		s.result("cancelled")
		return
	}
	key := req.Key()
	hasContent := req.Tile().HasContent()

	switch {
	case res.notModified && hasContent:
		s.cache.Touch(s.cacheKey(key))
		s.result("not_modified")
		req.Finish()
	case res.err != nil || res.notModified:
		s.logger.Debug("Tile fetch failed", zap.Stringer("tile", key), zap.Error(res.err))
		s.result("error")
		if hasContent {
			// Revalidation failed; the content we already have is the best
			// answer.
			req.Finish()
			return
		}
		s.delegate(req)
	default:
		s.cache.Set(s.cacheKey(key), res.data)
		s.result("fetched")
		req.Complete(s.ID(), res.img, res.data, res.etag, res.lastModified)
	}
}
