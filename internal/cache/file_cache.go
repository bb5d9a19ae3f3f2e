package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"tileview/internal/tile"
)

// FileCache implements file-based cache
// Structure: {cacheDir}/{sourceID}/{z}/{x}/{y}.tile
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
	logger   *zap.Logger
}

func NewFileCache(cacheDir string, logger *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
		logger:   logger,
	}, nil
}

// buildFilePath builds file path from tile key
func (c *FileCache) buildFilePath(key tile.Key) string {
	return filepath.Join(c.cacheDir,
		filepath.Base(key.SourceID),
		strconv.FormatUint(uint64(key.Zoom), 10),
		strconv.FormatUint(uint64(key.X), 10),
		strconv.FormatUint(uint64(key.Y), 10)+".tile")
}

func (c *FileCache) Get(key tile.Key) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	return data, true
}

func (c *FileCache) Has(key tile.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := os.Stat(c.buildFilePath(key))
	return err == nil
}

func (c *FileCache) ModTime(key tile.Key) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, err := os.Stat(c.buildFilePath(key))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (c *FileCache) Set(key tile.Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		c.logger.Warn("Failed to create cache directory", zap.String("path", filePath), zap.Error(err))
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		c.logger.Warn("Failed to write cache entry", zap.String("path", tmpPath), zap.Error(err))
		return
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		c.logger.Warn("Failed to commit cache entry", zap.String("path", filePath), zap.Error(err))
	}
}

func (c *FileCache) Touch(key tile.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if err := os.Chtimes(c.buildFilePath(key), now, now); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("Failed to touch cache entry", zap.Stringer("key", key), zap.Error(err))
	}
}

func (c *FileCache) Persistent() bool {
	return true
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		c.logger.Warn("Failed to clear cache", zap.String("cache_dir", c.cacheDir), zap.Error(err))
		return
	}

	os.MkdirAll(c.cacheDir, 0755)
}
