package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startLoop(t *testing.T) *Loop {
	l := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		l.Close()
	})
	return l
}

func TestLoop_RunsInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Call(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", got)
		}
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 calls, got %d", len(got))
	}
}

func TestLoop_PostFromGoroutines(t *testing.T) {
	l := startLoop(t)

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()
	l.Call(context.Background(), func() {})
	if count != 400 {
		t.Errorf("expected 400, got %d", count)
	}
}

func TestLoop_PostFromInsideLoop(t *testing.T) {
	l := startLoop(t)

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoop_RecoversPanic(t *testing.T) {
	l := startLoop(t)
	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Call(context.Background(), func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("expected loop to keep running after a panic")
	}
}

func TestLoop_Closed(t *testing.T) {
	l := New(zap.NewNop())
	l.Close()
	l.Close()
	if l.Post(func() {}) {
		t.Error("expected Post on closed loop to fail")
	}
	if err := l.Call(context.Background(), func() {}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestLoop_AfterFunc(t *testing.T) {
	l := startLoop(t)
	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
