package imagery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"math"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"tileview/internal/projection"
)

// Cutter extracts, scales and pads tiles out of catalog images.
type Cutter struct {
	catalog  *Catalog
	tileSize int
	quality  int
	logger   *zap.Logger
}

func NewCutter(catalog *Catalog, tileSize int, logger *zap.Logger) *Cutter {
	if tileSize <= 0 {
		tileSize = 256
	}
	return &Cutter{
		catalog:  catalog,
		tileSize: tileSize,
		quality:  82,
		logger:   logger.Named("imagery.cutter"),
	}
}

func (c *Cutter) Catalog() *Catalog { return c.catalog }
func (c *Cutter) TileSize() int     { return c.tileSize }

func (c *Cutter) Grid(img Image) projection.ImageGrid {
	return GridFor(img, c.tileSize)
}

// GridFor returns the tile grid of img, with full resolution at its max zoom.
func GridFor(img Image, tileSize int) projection.ImageGrid {
	return projection.ImageGrid{
		Width:    img.Width,
		Height:   img.Height,
		TileSize: tileSize,
		MaxZoom:  projection.MaxZoomFor(img.Width, img.Height, tileSize),
	}
}

// Window returns the source pixels tile (zoom, x, y) covers, clipped to the
// image. Edge tiles yield a window smaller than a full tile.
func Window(g projection.ImageGrid, zoom, x, y uint32) (image.Rectangle, error) {
	if x >= g.Columns(zoom) || y >= g.Rows(zoom) {
		return image.Rectangle{}, fmt.Errorf("tile %d/%d/%d outside image grid", zoom, x, y)
	}
	ppt := g.PixelsPerTile(zoom)
	startX := int(float64(x) * ppt)
	startY := int(float64(y) * ppt)
	endX := int(math.Min(float64(startX)+ppt, float64(g.Width)))
	endY := int(math.Min(float64(startY)+ppt, float64(g.Height)))
	if endX <= startX || endY <= startY {
		return image.Rectangle{}, fmt.Errorf("invalid tile bounds for %d/%d/%d", zoom, x, y)
	}
	return image.Rect(startX, startY, endX, endY), nil
}

// Cut produces the JPEG for tile (zoom, x, y) of img. It blocks on libvips
// and must not run on the event loop.
func (c *Cutter) Cut(img Image, zoom, x, y uint32) ([]byte, error) {
	g := c.Grid(img)
	window, err := Window(g, zoom, x, y)
	if err != nil {
		return nil, err
	}

	src, err := load(c.catalog.Path(img), vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer src.Close()

	// Extracting first keeps libvips from decoding the whole raster.
	if err := src.ExtractArea(window.Min.X, window.Min.Y, window.Dx(), window.Dy()); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	// One scale per zoom level, so edge tiles match their neighbours.
	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	if err := src.Resize(float64(c.tileSize)/g.PixelsPerTile(zoom), resizeOpts); err != nil {
		return nil, fmt.Errorf("failed to resize: %w", err)
	}

	if src.Width() < c.tileSize || src.Height() < c.tileSize {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = []float64{221, 221, 221}
		if err := src.Embed(0, 0, c.tileSize, c.tileSize, embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = c.quality
	jpegOpts.Interlace = false
	data, err := src.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	c.logger.Debug("Cut tile",
		zap.String("image", img.ID),
		zap.Uint32("z", zoom), zap.Uint32("x", x), zap.Uint32("y", y),
		zap.Int("bytes", len(data)))
	return data, nil
}

// ETag is stable for a given image, tile size and tile address.
func (c *Cutter) ETag(img Image, zoom, x, y uint32) string {
	g := c.Grid(img)
	s := fmt.Sprintf("%s_%d_%d/%d/%d/%d.jpeg", img.ID, g.TileSize, g.MaxZoom, zoom, x, y)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
