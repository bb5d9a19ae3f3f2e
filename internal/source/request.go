package source

import (
	"image"
	"time"

	"tileview/internal/tile"
)

// Request is one fill attempt travelling down the chain. It wraps the tile's
// Ticket, so once the tile is finished or destroyed every method is a no-op.
type Request struct {
	ticket tile.Ticket
	hooks  []storeHook
}

// storeHook writes content into a cache when the source named origin is the
// one that produced it.
type storeHook struct {
	origin string
	store  func(data []byte)
}

func (r *Request) Key() tile.Key      { return r.ticket.Key() }
func (r *Request) Tile() *tile.Tile   { return r.ticket.Tile() }
func (r *Request) Live() bool         { return r.ticket.Live() }
func (r *Request) SetAbort(fn func()) { r.ticket.SetAbort(fn) }

// SetContent publishes content that may still be replaced, such as a stale
// cache entry awaiting revalidation.
func (r *Request) SetContent(img image.Image, data []byte, etag string, lastModified time.Time) bool {
	return r.ticket.SetContent(img, data, etag, lastModified)
}

func (r *Request) ClearContent() bool { return r.ticket.ClearContent() }

// Finish ends the attempt with whatever content the tile holds.
func (r *Request) Finish() bool { return r.ticket.Finish() }

// OnStore registers store to receive the bytes of content produced by the
// source with the given id.
func (r *Request) OnStore(origin string, store func(data []byte)) {
	r.hooks = append(r.hooks, storeHook{origin: origin, store: store})
}

// Complete stores data in every cache registered for origin, then sets the
// content and finishes the attempt.
func (r *Request) Complete(origin string, img image.Image, data []byte, etag string, lastModified time.Time) bool {
	if !r.Live() {
		return false
	}
	for _, h := range r.hooks {
		if h.origin == origin {
			h.store(data)
		}
	}
	r.ticket.SetContent(img, data, etag, lastModified)
	return r.ticket.Finish()
}

// Delegate hands the attempt to next, or finishes it when the chain is
// exhausted.
func (r *Request) Delegate(next Source) {
	if !r.Live() {
		return
	}
	if next == nil {
		r.Finish()
		return
	}
	next.Fill(r)
}
