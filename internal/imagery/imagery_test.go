package imagery

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"tileview/internal/projection"
)

func configProbe(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

func TestCatalog_AdoptsNewImages(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "harbour.png"), 600, 300)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewCatalog(dir, configProbe, zap.NewNop())
	if err := c.Scan(); err != nil {
		t.Fatal(err)
	}
	images := c.Images()
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	img := images[0]
	if img.OriginalFilename != "harbour.png" || img.Width != 600 || img.Height != 300 {
		t.Errorf("unexpected image %+v", img)
	}
	if img.CurrentFilename != img.ID+".png" {
		t.Errorf("expected file renamed to uuid, got %s", img.CurrentFilename)
	}
	if _, err := os.Stat(filepath.Join(dir, "harbour.png")); !os.IsNotExist(err) {
		t.Error("expected original file to be renamed")
	}

	data, err := os.ReadFile(filepath.Join(dir, img.ID+".json"))
	if err != nil {
		t.Fatal(err)
	}
	var sidecar Image
	if err := json.Unmarshal(data, &sidecar); err != nil {
		t.Fatal(err)
	}
	if sidecar != img {
		t.Errorf("sidecar %+v does not match %+v", sidecar, img)
	}

	// A second scan reads the sidecar instead of adopting again.
	if err := c.Scan(); err != nil {
		t.Fatal(err)
	}
	if got := c.Images(); len(got) != 1 || got[0].ID != img.ID {
		t.Errorf("expected stable catalog, got %+v", got)
	}
}

func TestCatalog_RemovesBadSidecars(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("broken.json", "{")
	write("aaa.json", `{"id":"bbb","current_filename":"bbb.png"}`)
	write("ccc.json", `{"id":"ccc","current_filename":"ccc.png"}`)

	c := NewCatalog(dir, configProbe, zap.NewNop())
	if err := c.Scan(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	if len(left) != 0 {
		t.Errorf("expected every sidecar removed, left %s", strings.Join(left, ","))
	}
}

func TestCatalog_Get(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(dir, configProbe, zap.NewNop())
	if err := c.Scan(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty catalog, got %v", err)
	}

	writePNG(t, filepath.Join(dir, "a.png"), 10, 10)
	if err := c.Scan(); err != nil {
		t.Fatal(err)
	}
	first, err := c.Get("")
	if err != nil {
		t.Fatal(err)
	}
	if got, err := c.Get(first.ID); err != nil || got.ID != first.ID {
		t.Errorf("lookup by id failed: %v", err)
	}
	if _, err := c.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGridFor(t *testing.T) {
	g := GridFor(Image{Width: 1000, Height: 600}, 256)
	if g.MaxZoom != 2 {
		t.Fatalf("expected max zoom 2, got %d", g.MaxZoom)
	}
	tests := []struct {
		zoom       uint32
		cols, rows uint32
	}{
		{0, 1, 1},
		{1, 2, 2},
		{2, 4, 3},
		{3, 0, 0},
	}
	for _, tt := range tests {
		if c, r := g.Columns(tt.zoom), g.Rows(tt.zoom); c != tt.cols || r != tt.rows {
			t.Errorf("zoom %d: got %dx%d, want %dx%d", tt.zoom, c, r, tt.cols, tt.rows)
		}
	}
}

func TestWindow(t *testing.T) {
	g := projection.ImageGrid{Width: 1000, Height: 600, TileSize: 256, MaxZoom: 2}
	tests := []struct {
		name    string
		z, x, y uint32
		want    image.Rectangle
		wantErr bool
	}{
		{"whole image at zoom 0", 0, 0, 0, image.Rect(0, 0, 1000, 600), false},
		{"full tile", 2, 1, 1, image.Rect(256, 256, 512, 512), false},
		{"right edge", 2, 3, 0, image.Rect(768, 0, 1000, 256), false},
		{"bottom edge", 2, 0, 2, image.Rect(0, 512, 256, 600), false},
		{"half resolution", 1, 1, 0, image.Rect(512, 0, 1000, 512), false},
		{"outside columns", 2, 4, 0, image.Rectangle{}, true},
		{"beyond max zoom", 3, 0, 0, image.Rectangle{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Window(g, tt.z, tt.x, tt.y)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCutter_ETag(t *testing.T) {
	c := NewCutter(NewCatalog(t.TempDir(), configProbe, zap.NewNop()), 256, zap.NewNop())
	img := Image{ID: "abc", Width: 1000, Height: 600}
	a := c.ETag(img, 2, 1, 1)
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %q", a)
	}
	if a != c.ETag(img, 2, 1, 1) {
		t.Error("expected stable etag")
	}
	if a == c.ETag(img, 2, 1, 0) {
		t.Error("expected etag to depend on the tile")
	}
}
