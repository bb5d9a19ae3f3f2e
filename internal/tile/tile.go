// Package tile holds the unit of work of the map pipeline: a tile's identity,
// its fetch state and its decoded content.
//
// A Tile is owned by exactly one scheduler and is only ever touched from that
// scheduler's event loop. Sources get a Ticket for the duration of one fetch
// attempt; a Ticket stops being live the moment the Tile finishes or is
// destroyed, so late completions are dropped instead of touching a Tile that
// was already handed back.
package tile

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	ErrInFlight = errors.New("tile: fetch already in flight")
	ErrFinished = errors.New("tile: already done")
)

// Key identifies a tile's content across the whole system.
type Key struct {
	SourceID string
	Zoom     uint32
	X        uint32
	Y        uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.SourceID, k.Zoom, k.X, k.Y)
}

// WithSource returns k re-addressed to another source.
func (k Key) WithSource(id string) Key {
	k.SourceID = id
	return k
}

type State int

const (
	StateNone State = iota
	StateInit
	StateLoading
	StateLoaded
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInit:
		return "init"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome tells the different meanings of StateDone apart.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeContent
	OutcomeEmpty
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeContent:
		return "content"
	case OutcomeEmpty:
		return "empty"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Observer is notified of every state transition.
type Observer interface {
	TileStateChanged(t *Tile, from, to State)
}

type ObserverFunc func(t *Tile, from, to State)

func (f ObserverFunc) TileStateChanged(t *Tile, from, to State) { f(t, from, to) }

type Tile struct {
	key      Key
	size     int
	observer Observer

	state     State
	outcome   Outcome
	gen       uint64
	destroyed bool
	abort     func()

	img          image.Image
	data         []byte
	etag         string
	lastModified time.Time
	fadeIn       bool
}

func New(key Key, size int, observer Observer) *Tile {
	return &Tile{key: key, size: size, observer: observer}
}

// Successor returns a fresh tile for the same key that carries t's content
// and validators, ready for a conditional re-fetch.
func (t *Tile) Successor(observer Observer) *Tile {
	return &Tile{
		key:          t.key,
		size:         t.size,
		observer:     observer,
		img:          t.img,
		data:         t.data,
		etag:         t.etag,
		lastModified: t.lastModified,
	}
}

func (t *Tile) Key() Key                { return t.key }
func (t *Tile) Size() int               { return t.size }
func (t *Tile) State() State            { return t.state }
func (t *Tile) Outcome() Outcome        { return t.outcome }
func (t *Tile) Image() image.Image      { return t.img }
func (t *Tile) Data() []byte            { return t.data }
func (t *Tile) ETag() string            { return t.etag }
func (t *Tile) LastModified() time.Time { return t.lastModified }
func (t *Tile) FadeIn() bool            { return t.fadeIn }
func (t *Tile) Destroyed() bool         { return t.destroyed }
func (t *Tile) HasContent() bool        { return t.img != nil }

// Init marks a placeholder as discovered but not yet requested.
func (t *Tile) Init() {
	if t.state == StateNone {
		t.transition(StateInit)
	}
}

// Begin starts a fetch attempt. Only one attempt may be in flight at a time
// and a finished tile is never restarted.
func (t *Tile) Begin() (Ticket, error) {
	switch t.state {
	case StateLoading, StateLoaded:
		return Ticket{}, ErrInFlight
	case StateDone:
		return Ticket{}, ErrFinished
	}
	t.gen++
	t.transition(StateLoading)
	return Ticket{tile: t, gen: t.gen}, nil
}

// Destroy cancels any in-flight attempt and releases the content. It is
// idempotent.
func (t *Tile) Destroy() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.gen++
	if t.state != StateDone {
		if t.abort != nil {
			t.abort()
			t.abort = nil
		}
		t.outcome = OutcomeCancelled
		t.transition(StateDone)
	}
	t.img = nil
	t.data = nil
}

func (t *Tile) transition(to State) bool {
	from := t.state
	if to <= from {
		return false
	}
	t.state = to
	if t.observer != nil {
		t.observer.TileStateChanged(t, from, to)
	}
	return true
}

func (t *Tile) String() string {
	return fmt.Sprintf("%s[%s]", t.key, t.state)
}
