package source

import (
	"errors"
	"image/color"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/imagery"
	"tileview/internal/projection"
	"tileview/internal/render"
	"tileview/internal/tile"
)

type fakeCutter struct {
	data []byte
	err  error
	cuts atomic.Int32
}

func (c *fakeCutter) Grid(img imagery.Image) projection.ImageGrid {
	return imagery.GridFor(img, 256)
}

func (c *fakeCutter) Cut(img imagery.Image, zoom, x, y uint32) ([]byte, error) {
	c.cuts.Add(1)
	return c.data, c.err
}

func (c *fakeCutter) ETag(img imagery.Image, zoom, x, y uint32) string { return "cut-etag" }

func newImagery(t *testing.T, h *harness, cutter Cutter, next Source, c cache.Cache) *ImagerySource {
	pool := render.NewPool(1, 4, zap.NewNop(), h.env.Metrics)
	t.Cleanup(pool.Close)
	img := imagery.Image{ID: "scan", Width: 1000, Height: 600, Attribution: "Archive scan"}
	s, err := NewImagerySource(h.env, Options{ID: "scan", Next: next, Cache: c}, cutter, img, pool)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestImagerySource_UsesImageGrid(t *testing.T) {
	h := newHarness(t)
	s := newImagery(t, h, &fakeCutter{}, nil, nil)
	if s.MaxZoom() != 2 {
		t.Errorf("expected max zoom 2, got %d", s.MaxZoom())
	}
	if s.Grid().Columns(2) != 4 || s.Grid().Rows(2) != 3 {
		t.Errorf("unexpected grid %dx%d", s.Grid().Columns(2), s.Grid().Rows(2))
	}
	if s.Attribution() != "Archive scan" {
		t.Errorf("expected image attribution, got %q", s.Attribution())
	}
}

func TestImagerySource_CutsAndCaches(t *testing.T) {
	h := newHarness(t)
	c := cache.NewMemoryCache(10)
	cutter := &fakeCutter{data: pngBytes(t, color.White)}
	s := newImagery(t, h, cutter, nil, c)

	tl := h.newTile("scan", 2, 3, 2)
	h.fill(s, tl)
	h.wait(1)
	if tl.Outcome() != tile.OutcomeContent || tl.ETag() != "cut-etag" {
		t.Fatalf("expected content with etag, got %s %q", tl.Outcome(), tl.ETag())
	}
	if !c.Has(tl.Key()) {
		t.Fatal("expected cut tile to be cached")
	}

	again := h.newTile("scan", 2, 3, 2)
	h.fill(s, again)
	h.wait(1)
	if again.Outcome() != tile.OutcomeContent || cutter.cuts.Load() != 1 {
		t.Errorf("expected cache hit without a second cut, cuts=%d", cutter.cuts.Load())
	}
}

func TestImagerySource_OutsideImageDelegates(t *testing.T) {
	h := newHarness(t)
	cutter := &fakeCutter{data: pngBytes(t, color.White)}
	s := newImagery(t, h, cutter, newNull(t, h, NullEmpty), nil)

	outside := h.newTile("scan", 2, 4, 0)
	failing := h.newTile("scan", 1, 0, 0)
	cutter.err = errors.New("vips exploded")
	h.fill(s, outside, failing)
	h.wait(2)
	for _, tl := range []*tile.Tile{outside, failing} {
		if tl.Outcome() != tile.OutcomeEmpty {
			t.Errorf("%s: expected empty, got %s", tl.Key(), tl.Outcome())
		}
	}
	if cutter.cuts.Load() != 1 {
		t.Errorf("expected one cut attempt, got %d", cutter.cuts.Load())
	}
}
