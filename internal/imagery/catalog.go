// Package imagery serves tiles cut out of large local rasters. Images live in
// one directory, each renamed to <uuid>.<ext> with a <uuid>.json sidecar
// holding its dimensions.
package imagery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cshum/vipsgen/vips"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("imagery: image not found")

var extensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

type Image struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	CurrentFilename  string `json:"current_filename"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Bytes            int64  `json:"bytes"`
	Attribution      string `json:"attribution,omitempty"`
}

// Prober reports the pixel dimensions of the image at path.
type Prober func(path string) (width, height int, err error)

// Catalog indexes the images of one directory.
type Catalog struct {
	dir    string
	probe  Prober
	logger *zap.Logger

	mu     sync.RWMutex
	images []Image
}

// NewCatalog returns an empty catalog over dir. A nil probe reads dimensions
// with libvips.
func NewCatalog(dir string, probe Prober, logger *zap.Logger) *Catalog {
	if probe == nil {
		probe = VipsProbe
	}
	return &Catalog{
		dir:    dir,
		probe:  probe,
		logger: logger.Named("imagery"),
	}
}

// Scan rebuilds the index. Images without a sidecar are renamed to a fresh
// uuid and get one; sidecars without an image are removed.
func (c *Catalog) Scan() error {
	if err := c.cleanupOrphanedSidecars(); err != nil {
		return err
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read imagery directory: %w", err)
	}

	var images []Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := c.path(entry.Name())
		ext := strings.ToLower(filepath.Ext(path))
		if !extensions[ext] {
			continue
		}

		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		sidecar := c.path(basename + ".json")
		if _, err := os.Stat(sidecar); err == nil {
			img, err := c.loadSidecar(sidecar)
			if err != nil {
				c.logger.Warn("Failed to load sidecar, skipping", zap.String("json_path", sidecar), zap.Error(err))
				continue
			}
			images = append(images, *img)
			continue
		}

		img, err := c.adopt(path, entry.Name())
		if err != nil {
			c.logger.Warn("Failed to adopt image", zap.String("path", path), zap.Error(err))
			continue
		}
		images = append(images, *img)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].ID < images[j].ID })
	c.mu.Lock()
	c.images = images
	c.mu.Unlock()

	c.logger.Info("Scanned imagery", zap.String("dir", c.dir), zap.Int("images", len(images)))
	return nil
}

// adopt renames the file at path to a new uuid and writes its sidecar.
func (c *Catalog) adopt(path, original string) (*Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	id := uuid.New().String()
	final := c.path(id + ext)
	if err := os.Rename(path, final); err != nil {
		return nil, fmt.Errorf("failed to rename: %w", err)
	}
	c.logger.Info("Migrated image to uuid", zap.String("old_path", path), zap.String("new_path", final))

	img, err := c.describe(final)
	if err != nil {
		return nil, err
	}
	img.ID = id
	img.OriginalFilename = original
	img.CurrentFilename = filepath.Base(final)

	if err := c.saveSidecar(c.path(id+".json"), img); err != nil {
		c.logger.Warn("Failed to save sidecar", zap.String("id", id), zap.Error(err))
	}
	return img, nil
}

func (c *Catalog) describe(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	width, height, err := c.probe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe image: %w", err)
	}
	return &Image{Width: width, Height: height, Bytes: info.Size()}, nil
}

func (c *Catalog) cleanupOrphanedSidecars() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read imagery directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}
		path := c.path(entry.Name())
		basename := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		meta, err := c.loadSidecar(path)
		switch {
		case err != nil:
			c.remove(path, "invalid")
		case meta.ID != basename:
			c.logger.Warn("UUID mismatch in sidecar",
				zap.String("json_path", path),
				zap.String("filename_uuid", basename),
				zap.String("json_uuid", meta.ID))
			c.remove(path, "mismatched")
		default:
			if _, err := os.Stat(c.path(meta.CurrentFilename)); err != nil {
				c.remove(path, "orphaned")
			}
		}
	}
	return nil
}

func (c *Catalog) remove(path, reason string) {
	if err := os.Remove(path); err != nil {
		c.logger.Warn("Failed to delete sidecar", zap.String("path", path), zap.String("reason", reason), zap.Error(err))
		return
	}
	c.logger.Info("Deleted sidecar", zap.String("path", path), zap.String("reason", reason))
}

func (c *Catalog) Images() []Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Image(nil), c.images...)
}

// Get returns the image with id. An empty id selects the first image.
func (c *Catalog) Get(id string) (Image, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, img := range c.images {
		if id == "" || img.ID == id {
			return img, nil
		}
	}
	if id == "" {
		return Image{}, fmt.Errorf("%w: catalog %s is empty", ErrNotFound, c.dir)
	}
	return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (c *Catalog) Path(img Image) string {
	return c.path(img.CurrentFilename)
}

func (c *Catalog) path(name string) string {
	return filepath.Join(c.dir, name)
}

func (c *Catalog) loadSidecar(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return &img, nil
}

func (c *Catalog) saveSidecar(path string, img *Image) error {
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// VipsProbe reads only the header of the image at path.
func VipsProbe(path string) (int, int, error) {
	img, err := load(path, vips.AccessSequential)
	if err != nil {
		return 0, 0, err
	}
	defer img.Close()
	return img.Width(), img.Height(), nil
}

func load(path string, access vips.Access) (*vips.Image, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}
