package scheduler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tileview/internal/eventloop"
	"tileview/internal/source"
	"tileview/internal/tile"
)

func TestScheduler_ReloadRevalidatesWithETag(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	img.Set(0, 0, color.RGBA{0, 128, 0, 255})
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	body := buf.Bytes()

	var mu sync.Mutex
	var conditional []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inm := r.Header.Get("If-None-Match")
		mu.Lock()
		conditional = append(conditional, inm)
		mu.Unlock()
		if inm == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write(body)
	}))
	defer srv.Close()

	loop := eventloop.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Close()

	call := func(fn func()) {
		if err := loop.Call(ctx, fn); err != nil {
			t.Fatal(err)
		}
	}
	waitDone := func(s *Scheduler) *tile.Tile {
		deadline := time.Now().Add(5 * time.Second)
		for {
			var tl *tile.Tile
			call(func() { tl = s.Tile(0, 0) })
			var state tile.State
			call(func() { state = tl.State() })
			if state == tile.StateDone {
				return tl
			}
			if time.Now().After(deadline) {
				t.Fatalf("tile stuck in %s", state)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	network, err := source.NewNetworkSource(source.Env{Loop: loop}, source.NetworkOptions{
		Options:     source.Options{ID: "osm", MaxZoom: 19},
		URLTemplate: srv.URL + "/{z}/{x}/{y}.png",
		MaxInFlight: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	var s *Scheduler
	call(func() {
		s, err = New(Options{Source: network, Loop: loop, MaxZoom: 19, Grace: time.Hour})
		if err == nil {
			err = s.Update(viewport(0, 0, 256, 256), 0)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer call(s.Close)

	first := waitDone(s)
	call(func() {
		if first.ETag() != `"abc"` {
			t.Errorf("expected etag \"abc\", got %q", first.ETag())
		}
	})

	call(s.Reload)
	again := waitDone(s)
	if again == first {
		t.Fatal("expected the tile to be replaced")
	}
	call(func() {
		if again.Outcome() != tile.OutcomeContent || !bytes.Equal(again.Data(), body) {
			t.Errorf("expected revalidated content, got %s", again.Outcome())
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if len(conditional) != 2 || conditional[0] != "" || conditional[1] != `"abc"` {
		t.Errorf("expected a plain then a conditional request, got %q", conditional)
	}
}
