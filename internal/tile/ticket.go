package tile

import (
	"image"
	"time"
)

// Ticket is a borrowed handle on one fetch attempt of a Tile. Every mutating
// method is a no-op once the attempt is no longer live.
type Ticket struct {
	tile *Tile
	gen  uint64
}

// Live reports whether the attempt may still touch its tile.
func (k Ticket) Live() bool {
	return k.tile != nil && k.tile.gen == k.gen && !k.tile.destroyed && k.tile.state < StateDone
}

// Tile returns the tile for read access.
func (k Ticket) Tile() *Tile { return k.tile }

func (k Ticket) Key() Key { return k.tile.key }

// SetAbort registers the function that stops the attempt's underlying I/O.
// It runs immediately when the attempt is already dead.
func (k Ticket) SetAbort(abort func()) {
	if !k.Live() {
		abort()
		return
	}
	k.tile.abort = abort
}

// SetContent stores decoded content and moves the tile to StateLoaded.
func (k Ticket) SetContent(img image.Image, data []byte, etag string, lastModified time.Time) bool {
	if !k.Live() {
		return false
	}
	t := k.tile
	t.img = img
	t.data = data
	t.etag = etag
	t.lastModified = lastModified
	t.fadeIn = true
	t.transition(StateLoaded)
	return true
}

// Finish ends the attempt. The outcome follows from whether the tile holds
// content.
func (k Ticket) Finish() bool {
	if !k.Live() {
		return false
	}
	t := k.tile
	t.abort = nil
	if t.img != nil {
		t.outcome = OutcomeContent
	} else {
		t.outcome = OutcomeEmpty
	}
	return t.transition(StateDone)
}

// ClearContent drops whatever content the attempt carries and its validators,
// so that Finish ends it empty.
func (k Ticket) ClearContent() bool {
	if !k.Live() {
		return false
	}
	k.tile.img = nil
	k.tile.data = nil
	k.tile.etag = ""
	k.tile.lastModified = time.Time{}
	return true
}
