package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/eventloop"
	"tileview/internal/metrics"
	"tileview/internal/tile"
)

type harness struct {
	t    *testing.T
	loop *eventloop.Loop
	env  Env
	done chan *tile.Tile

	mu          sync.Mutex
	transitions map[tile.Key]int
}

func newHarness(t *testing.T) *harness {
	loop := eventloop.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		loop.Close()
	})
	return &harness{
		t:           t,
		loop:        loop,
		env:         Env{Loop: loop, Logger: zap.NewNop(), Metrics: metrics.NewNop()},
		done:        make(chan *tile.Tile, 64),
		transitions: make(map[tile.Key]int),
	}
}

func (h *harness) TileStateChanged(t *tile.Tile, from, to tile.State) {
	if to != tile.StateDone {
		return
	}
	h.mu.Lock()
	h.transitions[t.Key()]++
	h.mu.Unlock()
	h.done <- t
}

func (h *harness) doneCount(k tile.Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitions[k]
}

func (h *harness) call(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.loop.Call(ctx, fn); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) newTile(src string, z, x, y uint32) *tile.Tile {
	return tile.New(tile.Key{SourceID: src, Zoom: z, X: x, Y: y}, 256, h)
}

func (h *harness) fill(src Source, tiles ...*tile.Tile) {
	h.t.Helper()
	h.call(func() {
		for _, tl := range tiles {
			if err := FillTile(src, tl); err != nil {
				h.t.Errorf("fill %s: %v", tl.Key(), err)
			}
		}
	})
}

func (h *harness) wait(n int) {
	h.t.Helper()
	timeout := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-timeout:
			h.t.Fatalf("timed out waiting for %d tiles, got %d", n, i)
		}
	}
}

func pngBytes(t *testing.T, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeTileFile(t *testing.T, dir string, z, x, y uint32, data []byte) {
	path := filepath.Join(dir, itoa(z), itoa(x), itoa(y)+".png")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func newNetwork(t *testing.T, h *harness, url string, next Source, c cache.Cache, maxInFlight int) *NetworkSource {
	s, err := NewNetworkSource(h.env, NetworkOptions{
		Options: Options{
			ID: "osm", Next: next, MinZoom: 0, MaxZoom: 19, Cache: c,
		},
		URLTemplate: url + "/{z}/{x}/{y}.png",
		MaxInFlight: maxInFlight,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newNull(t *testing.T, h *harness, mode NullMode) *NullSource {
	s, err := NewNullSource(h.env, Options{ID: "null", MaxZoom: 19}, mode)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestChain_NetworkFailsFileSucceeds(t *testing.T) {
	h := newHarness(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	content := pngBytes(t, color.RGBA{0, 128, 0, 255})
	for x := uint32(0); x < 2; x++ {
		for y := uint32(0); y < 2; y++ {
			writeTileFile(t, dir, 1, x, y, content)
		}
	}

	null := newNull(t, h, NullPlaceholder)
	file, err := NewFileSource(h.env, Options{ID: "local", Next: null, MaxZoom: 19}, dir, "png")
	if err != nil {
		t.Fatal(err)
	}
	netCache := cache.NewMemoryCache(100)
	network := newNetwork(t, h, srv.URL, file, netCache, 2)

	var tiles []*tile.Tile
	for x := uint32(0); x < 2; x++ {
		for y := uint32(0); y < 2; y++ {
			tiles = append(tiles, h.newTile("osm", 1, x, y))
		}
	}
	h.fill(network, tiles...)
	h.wait(len(tiles))

	for _, tl := range tiles {
		if tl.State() != tile.StateDone || tl.Outcome() != tile.OutcomeContent {
			t.Errorf("%s: expected done with content, got %s/%s", tl.Key(), tl.State(), tl.Outcome())
		}
		if !bytes.Equal(tl.Data(), content) {
			t.Errorf("%s: expected file content", tl.Key())
		}
		if h.doneCount(tl.Key()) != 1 {
			t.Errorf("%s: expected one terminal transition, got %d", tl.Key(), h.doneCount(tl.Key()))
		}
	}
	if netCache.Len() != 0 {
		t.Errorf("expected network cache to stay empty, has %d entries", netCache.Len())
	}
	if atomic.LoadInt32(&hits) != int32(len(tiles)) {
		t.Errorf("expected %d network requests, got %d", len(tiles), hits)
	}
}

func TestChain_ExhaustedFinishesEmpty(t *testing.T) {
	h := newHarness(t)
	null := newNull(t, h, NullEmpty)
	file, err := NewFileSource(h.env, Options{ID: "local", Next: null, MaxZoom: 19}, t.TempDir(), "png")
	if err != nil {
		t.Fatal(err)
	}
	tl := h.newTile("local", 3, 1, 1)
	h.fill(file, tl)
	h.wait(1)
	if tl.Outcome() != tile.OutcomeEmpty || tl.HasContent() {
		t.Errorf("expected empty outcome, got %s", tl.Outcome())
	}
}

func TestNetwork_CacheRoundTrip(t *testing.T) {
	h := newHarness(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(pngBytes(t, color.White))
	}))
	defer srv.Close()

	c := cache.NewMemoryCache(10)
	stored := pngBytes(t, color.RGBA{255, 0, 0, 255})
	key := tile.Key{SourceID: "osm", Zoom: 4, X: 3, Y: 5}
	c.Set(key, stored)

	network := newNetwork(t, h, srv.URL, nil, c, 2)
	tl := tile.New(key, 256, h)
	h.fill(network, tl)
	h.wait(1)

	if !bytes.Equal(tl.Data(), stored) {
		t.Error("expected exactly the cached bytes")
	}
	if tl.Outcome() != tile.OutcomeContent {
		t.Errorf("expected content, got %s", tl.Outcome())
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("expected no network request, got %d", hits)
	}
}

func TestNetwork_StoresFetchedTile(t *testing.T) {
	h := newHarness(t)
	body := pngBytes(t, color.RGBA{0, 0, 255, 255})
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("ETag", `"v1"`)
		w.Write(body)
	}))
	defer srv.Close()

	c := cache.NewMemoryCache(10)
	network, err := NewNetworkSource(h.env, NetworkOptions{
		Options:     Options{ID: "osm", MaxZoom: 19, Cache: c},
		URLTemplate: srv.URL + "/{z}/{x}/{y}.png",
		UserAgent:   "tileview-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	tl := h.newTile("osm", 2, 1, 1)
	h.fill(network, tl)
	h.wait(1)

	if tl.ETag() != `"v1"` || !tl.FadeIn() {
		t.Errorf("expected etag and fade-in, got %q %v", tl.ETag(), tl.FadeIn())
	}
	got, ok := c.Get(tl.Key())
	if !ok || !bytes.Equal(got, body) {
		t.Error("expected fetched bytes in the cache")
	}
	hdr := <-headers
	if hdr.Get("User-Agent") != "tileview-test" || hdr.Get("X-Request-Id") == "" {
		t.Errorf("unexpected request headers %v", hdr)
	}
}

func TestNetwork_NotModifiedKeepsContent(t *testing.T) {
	h := newHarness(t)
	var hits int32
	conditional := make(chan string, 2)
	body := pngBytes(t, color.RGBA{10, 20, 30, 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if inm := r.Header.Get("If-None-Match"); inm != "" {
			conditional <- inm
			if inm == `"abc"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write(body)
	}))
	defer srv.Close()

	network := newNetwork(t, h, srv.URL, nil, cache.NewMemoryCache(10), 2)
	first := h.newTile("osm", 5, 3, 7)
	h.fill(network, first)
	h.wait(1)
	if first.ETag() != `"abc"` {
		t.Fatalf("expected etag \"abc\", got %q", first.ETag())
	}

	again := first.Successor(h)
	h.fill(network, again)
	h.wait(1)

	select {
	case got := <-conditional:
		if got != `"abc"` {
			t.Errorf("expected If-None-Match \"abc\", got %q", got)
		}
	default:
		t.Error("expected a conditional request")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected 2 requests, got %d", hits)
	}
	if again.State() != tile.StateDone || again.Outcome() != tile.OutcomeContent {
		t.Errorf("expected done with content, got %s/%s", again.State(), again.Outcome())
	}
	if again.Image() != first.Image() || !bytes.Equal(again.Data(), body) {
		t.Error("expected content to be left untouched")
	}
}

func TestNetwork_StaleCacheRevalidates(t *testing.T) {
	h := newHarness(t)
	since := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since <- r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := cache.NewMemoryCache(10)
	stored := pngBytes(t, color.Black)
	key := tile.Key{SourceID: "osm", Zoom: 2, X: 0, Y: 0}
	c.Set(key, stored)

	network, err := NewNetworkSource(h.env, NetworkOptions{
		Options:     Options{ID: "osm", MaxZoom: 19, Cache: c},
		URLTemplate: srv.URL + "/{z}/{x}/{y}.png",
		MaxAge:      time.Nanosecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	tl := tile.New(key, 256, h)
	h.fill(network, tl)
	h.wait(1)

	if got := <-since; got == "" {
		t.Error("expected If-Modified-Since on a stale entry")
	}
	if tl.Outcome() != tile.OutcomeContent || !bytes.Equal(tl.Data(), stored) {
		t.Error("expected the cached content to be kept")
	}
}

func TestNetwork_RevalidationFailureKeepsContent(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := cache.NewMemoryCache(10)
	stored := pngBytes(t, color.Black)
	key := tile.Key{SourceID: "osm", Zoom: 2, X: 1, Y: 0}
	c.Set(key, stored)

	network, err := NewNetworkSource(h.env, NetworkOptions{
		Options:     Options{ID: "osm", MaxZoom: 19, Cache: c, Next: newNull(t, h, NullEmpty)},
		URLTemplate: srv.URL + "/{z}/{x}/{y}.png",
		MaxAge:      time.Nanosecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	tl := tile.New(key, 256, h)
	h.fill(network, tl)
	h.wait(1)

	if tl.Outcome() != tile.OutcomeContent || !bytes.Equal(tl.Data(), stored) {
		t.Errorf("expected stale content to survive, got %s", tl.Outcome())
	}
}

func TestNetwork_DestroyAbortsRequest(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
			w.Write(pngBytes(t, color.White))
		}
	}))
	defer srv.Close()

	network := newNetwork(t, h, srv.URL, nil, nil, 2)
	tl := h.newTile("osm", 3, 2, 2)
	h.fill(network, tl)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}
	h.call(tl.Destroy)
	h.call(tl.Destroy)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the in-flight request to be aborted")
	}
	h.wait(1)
	// Let the failed fetch post its completion.
	time.Sleep(20 * time.Millisecond)
	h.call(func() {})

	if tl.Outcome() != tile.OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", tl.Outcome())
	}
	if h.doneCount(tl.Key()) != 1 {
		t.Errorf("expected one terminal transition, got %d", h.doneCount(tl.Key()))
	}
}

func TestNetwork_ConcurrencyCap(t *testing.T) {
	h := newHarness(t)
	var current, peak int32
	body := pngBytes(t, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		w.Write(body)
	}))
	defer srv.Close()

	network := newNetwork(t, h, srv.URL, nil, nil, 2)
	var tiles []*tile.Tile
	for x := uint32(0); x < 8; x++ {
		tiles = append(tiles, h.newTile("osm", 3, x, 0))
	}
	h.fill(network, tiles...)
	h.wait(len(tiles))

	if atomic.LoadInt32(&peak) > 2 {
		t.Errorf("expected at most 2 concurrent requests, saw %d", peak)
	}
	for _, tl := range tiles {
		if tl.Outcome() != tile.OutcomeContent {
			t.Errorf("%s: expected content, got %s", tl.Key(), tl.Outcome())
		}
	}
}

func TestFillTile_AtMostOneInFlight(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write(pngBytes(t, color.White))
	}))
	defer srv.Close()

	network := newNetwork(t, h, srv.URL, nil, nil, 2)
	tl := h.newTile("osm", 2, 2, 2)
	var second error
	h.call(func() {
		if err := FillTile(network, tl); err != nil {
			t.Errorf("first fill: %v", err)
		}
		second = FillTile(network, tl)
	})
	close(release)
	h.wait(1)

	if !errors.Is(second, tile.ErrInFlight) {
		t.Errorf("expected ErrInFlight, got %v", second)
	}
	if h.doneCount(tl.Key()) != 1 || atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected one attempt, got %d transitions and %d requests", h.doneCount(tl.Key()), hits)
	}

	var third error
	h.call(func() { third = FillTile(network, tl) })
	if !errors.Is(third, tile.ErrFinished) {
		t.Errorf("expected ErrFinished on a done tile, got %v", third)
	}
}

func TestFillTile_ZoomOutOfRange(t *testing.T) {
	h := newHarness(t)
	null := newNull(t, h, NullEmpty)
	tl := h.newTile("null", 25, 0, 0)
	var err error
	h.call(func() { err = FillTile(null, tl) })
	if !errors.Is(err, ErrZoomOutOfRange) {
		t.Errorf("expected ErrZoomOutOfRange, got %v", err)
	}
	if tl.State() != tile.StateNone {
		t.Errorf("expected untouched tile, got %s", tl.State())
	}
}

func TestNewSource_ZoomTooDeep(t *testing.T) {
	h := newHarness(t)
	if _, err := NewNullSource(h.env, Options{ID: "null", MaxZoom: 32}, NullEmpty); !errors.Is(err, ErrZoomOutOfRange) {
		t.Errorf("expected ErrZoomOutOfRange, got %v", err)
	}
	if _, err := NewNullSource(h.env, Options{ID: "null", MaxZoom: 30}, NullEmpty); err != nil {
		t.Errorf("expected zoom 30 to be accepted: %v", err)
	}
}

func TestFileSource_OutsideGridDelegates(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	writeTileFile(t, dir, 1, 3, 0, pngBytes(t, color.White))
	file, err := NewFileSource(h.env, Options{ID: "local", Next: newNull(t, h, NullEmpty), MaxZoom: 19}, dir, "png")
	if err != nil {
		t.Fatal(err)
	}
	// Column 3 does not exist at zoom 1.
	tl := h.newTile("local", 1, 3, 0)
	h.fill(file, tl)
	h.wait(1)
	if tl.Outcome() != tile.OutcomeEmpty {
		t.Errorf("expected empty outcome, got %s", tl.Outcome())
	}
}

func TestFileSource_CorruptFileDelegates(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	writeTileFile(t, dir, 2, 1, 1, []byte("not an image"))
	file, err := NewFileSource(h.env, Options{ID: "local", Next: newNull(t, h, NullPlaceholder), MaxZoom: 19}, dir, "png")
	if err != nil {
		t.Fatal(err)
	}
	tl := h.newTile("local", 2, 1, 1)
	h.fill(file, tl)
	h.wait(1)
	if _, err := Decode(tl.Data()); err != nil || tl.Outcome() != tile.OutcomeContent {
		t.Errorf("expected placeholder content, got %s (%v)", tl.Outcome(), err)
	}
}

func TestCachingSource_StoresOnlyOwnContent(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/1/0/0.png" {
			w.Write(pngBytes(t, color.White))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeTileFile(t, dir, 1, 1, 0, pngBytes(t, color.Black))
	file, err := NewFileSource(h.env, Options{ID: "local", Next: newNull(t, h, NullEmpty), MaxZoom: 19}, dir, "png")
	if err != nil {
		t.Fatal(err)
	}
	decorated := cache.NewMemoryCache(10)
	head := NewCachingSource(h.env, newNetwork(t, h, srv.URL, file, nil, 2), decorated)

	fromNetwork := h.newTile("osm", 1, 0, 0)
	fromFile := h.newTile("osm", 1, 1, 0)
	h.fill(head, fromNetwork, fromFile)
	h.wait(2)

	if !decorated.Has(fromNetwork.Key()) {
		t.Error("expected network content to be cached")
	}
	if decorated.Has(fromFile.Key()) {
		t.Error("expected file content not to be cached under the network source")
	}
	if fromFile.Outcome() != tile.OutcomeContent {
		t.Errorf("expected file content, got %s", fromFile.Outcome())
	}
}

func TestCachingSource_HitSkipsInner(t *testing.T) {
	h := newHarness(t)
	c := cache.NewMemoryCache(10)
	stored := pngBytes(t, color.RGBA{1, 2, 3, 255})
	c.Set(tile.Key{SourceID: "null", Zoom: 0}, stored)

	head := NewCachingSource(h.env, newNull(t, h, NullEmpty), c)
	tl := h.newTile("null", 0, 0, 0)
	h.fill(head, tl)
	h.wait(1)
	if !bytes.Equal(tl.Data(), stored) {
		t.Error("expected cached bytes")
	}
}

func TestNullSource_Modes(t *testing.T) {
	partial := pngBytes(t, color.Black)
	partialImg, err := Decode(partial)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mode        NullMode
		withContent bool
		expected    tile.Outcome
	}{
		{NullEmpty, false, tile.OutcomeEmpty},
		{NullEmpty, true, tile.OutcomeEmpty},
		{NullPartial, false, tile.OutcomeEmpty},
		{NullPartial, true, tile.OutcomeContent},
		{NullPlaceholder, false, tile.OutcomeContent},
		{NullPlaceholder, true, tile.OutcomeContent},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			h := newHarness(t)
			null := newNull(t, h, tt.mode)
			tl := h.newTile("null", 4, 1, 1)
			if tt.withContent {
				prev := h.newTile("null", 4, 1, 1)
				h.call(func() {
					ticket, _ := prev.Begin()
					ticket.SetContent(partialImg, partial, "", time.Time{})
					ticket.Finish()
				})
				h.wait(1)
				tl = prev.Successor(h)
			}
			h.fill(null, tl)
			h.wait(1)
			if tl.Outcome() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, tl.Outcome())
			}
			if tt.withContent && tt.mode != NullEmpty && !bytes.Equal(tl.Data(), partial) {
				t.Error("expected partial content to be kept")
			}
		})
	}
}

func TestParseNullMode(t *testing.T) {
	if m, err := ParseNullMode(""); err != nil || m != NullPlaceholder {
		t.Errorf("expected placeholder default, got %q %v", m, err)
	}
	if _, err := ParseNullMode("bogus"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestPlaceholder(t *testing.T) {
	img := Placeholder(tile.Key{Zoom: 12, X: 2200, Y: 1343}, 256)
	if img.Bounds().Dx() != 256 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
	if got := img.RGBAAt(0, 0); got != placeholderBorder {
		t.Errorf("expected border at the corner, got %v", got)
	}
	if got := img.RGBAAt(20, 20); got != placeholderBackground {
		t.Errorf("expected background, got %v", got)
	}
}

func TestNewRenderSource_NoRenderer(t *testing.T) {
	h := newHarness(t)
	if _, err := NewRenderSource(h.env, Options{ID: "vector", MaxZoom: 19}, nil); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("expected ErrNoRenderer, got %v", err)
	}
}

func TestNewNetworkSource_BadTemplate(t *testing.T) {
	h := newHarness(t)
	_, err := NewNetworkSource(h.env, NetworkOptions{
		Options:     Options{ID: "osm", MaxZoom: 19},
		URLTemplate: "https://tile.example.com/{z}/{x}.png",
	})
	if !errors.Is(err, ErrBadTemplate) {
		t.Errorf("expected ErrBadTemplate, got %v", err)
	}
}

func TestChainHelpers(t *testing.T) {
	h := newHarness(t)
	null := newNull(t, h, NullEmpty)
	file, err := NewFileSource(h.env, Options{ID: "local", Next: null, MaxZoom: 19, Attribution: "Local data"}, t.TempDir(), "png")
	if err != nil {
		t.Fatal(err)
	}
	network, err := NewNetworkSource(h.env, NetworkOptions{
		Options:     Options{ID: "osm", Next: file, MaxZoom: 19, Attribution: "© OpenStreetMap contributors"},
		URLTemplate: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
	})
	if err != nil {
		t.Fatal(err)
	}

	ids := IDs(network)
	if len(ids) != 3 || ids[0] != "osm" || ids[1] != "local" || ids[2] != "null" {
		t.Errorf("unexpected chain %v", ids)
	}
	if got := Attribution(network); got != "© OpenStreetMap contributors | Local data" {
		t.Errorf("unexpected attribution %q", got)
	}
	if Find(network, "local") != Source(file) {
		t.Error("expected to find the file source")
	}
	if Find(network, "missing") != nil {
		t.Error("expected nil for unknown id")
	}
}
