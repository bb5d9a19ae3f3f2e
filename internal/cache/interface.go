// Package cache stores raw tile bytes keyed by tile.Key. A cache is strictly
// an optimization: clearing it never breaks correctness, it only costs
// refetches.
package cache

import (
	"time"

	"tileview/internal/tile"
)

type Cache interface {
	Get(key tile.Key) ([]byte, bool)
	Set(key tile.Key, value []byte)
	Has(key tile.Key) bool // Check if tile exists without reading it (lightweight check)
	// ModTime reports when the entry was last written or touched.
	ModTime(key tile.Key) (time.Time, bool)
	// Touch refreshes the entry's timestamp without rewriting it, as after a
	// "not modified" revalidation.
	Touch(key tile.Key)
	// Persistent caches survive restarts and are not bulk-cleared on data
	// reloads.
	Persistent() bool
	Clear()
}
