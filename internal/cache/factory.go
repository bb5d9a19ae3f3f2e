package cache

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrUnknownType = errors.New("unknown cache type")

// NewCache creates a cache instance based on the cache type
func NewCache(cacheType, cacheDir string, memoryTiles int, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", memoryTiles))
		return NewMemoryCache(memoryTiles), nil
	case "file":
		log.Info("Using file cache", zap.String("cache_dir", cacheDir))
		return NewFileCache(cacheDir, log)
	case "disabled":
		log.Info("Cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: memory, file, disabled)", ErrUnknownType, cacheType)
	}
}
