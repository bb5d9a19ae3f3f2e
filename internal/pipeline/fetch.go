package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"tileview/internal/eventloop"
	"tileview/internal/source"
	"tileview/internal/tile"
)

// Result is a finished tile, detached from the loop.
type Result struct {
	Key          tile.Key
	Outcome      tile.Outcome
	Image        image.Image
	Data         []byte
	ETag         string
	LastModified time.Time
}

func (r Result) HasContent() bool { return r.Outcome == tile.OutcomeContent }

// FetchTile runs one tile of the chain head through the chain and waits for
// it to finish. Cancelling ctx destroys the tile, aborting its work.
func (p *Pipeline) FetchTile(ctx context.Context, zoom, x, y uint32) (Result, error) {
	key := tile.Key{SourceID: p.head.ID(), Zoom: zoom, X: x, Y: y}
	done := make(chan Result, 1)
	observer := tile.ObserverFunc(func(t *tile.Tile, from, to tile.State) {
		if to == tile.StateDone {
			done <- Result{
				Key:          t.Key(),
				Outcome:      t.Outcome(),
				Image:        t.Image(),
				Data:         t.Data(),
				ETag:         t.ETag(),
				LastModified: t.LastModified(),
			}
		}
	})

	t := tile.New(key, p.head.TileSize(), observer)
	var fillErr error
	if err := p.loop.Call(ctx, func() {
		t.Init()
		fillErr = source.FillTile(p.head, t)
	}); err != nil {
		p.loop.Post(t.Destroy)
		return Result{}, p.loopErr(err)
	}
	if fillErr != nil {
		return Result{}, fillErr
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		p.loop.Post(t.Destroy)
		return Result{}, ctx.Err()
	}
}

func (p *Pipeline) loopErr(err error) error {
	if errors.Is(err, eventloop.ErrClosed) {
		return ErrClosed
	}
	return err
}
