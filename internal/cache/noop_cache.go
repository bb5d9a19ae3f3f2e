package cache

import (
	"time"

	"tileview/internal/tile"
)

type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key tile.Key) ([]byte, bool) {
	return nil, false
}

func (c *NoopCache) Set(key tile.Key, value []byte) {
}

func (c *NoopCache) Has(key tile.Key) bool {
	return false
}

func (c *NoopCache) ModTime(key tile.Key) (time.Time, bool) {
	return time.Time{}, false
}

func (c *NoopCache) Touch(key tile.Key) {
}

func (c *NoopCache) Persistent() bool {
	return false
}

func (c *NoopCache) Clear() {
}
