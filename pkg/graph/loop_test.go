package graph

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopInvoke(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	if l.InLoop() {
		t.Error("Control goroutine should not be in the loop")
	}

	var inside, nested bool
	err := l.Invoke(func() {
		inside = l.InLoop()
		// Re-entrant invoke from the loop runs inline.
		l.Invoke(func() { nested = true })
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !inside {
		t.Error("Invoked function should run on the loop goroutine")
	}
	if !nested {
		t.Error("Nested invoke should run inline")
	}
}

func TestLoopPostOrder(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	got := make(chan int, 5)
	for i := 0; i < 5; i++ {
		l.Post(func() { got <- i })
	}
	for want := 0; want < 5; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("Expected %d, got %d", want, v)
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for posted work")
		}
	}
}

func TestLoopInvokeAfterStop(t *testing.T) {
	l := NewLoop("test")
	l.Stop()
	l.Stop() // idempotent

	if err := l.Invoke(func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Expected ErrLoopStopped, got %v", err)
	}
}

func TestLoopTimer(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	var ticks atomic.Int32
	tm := l.AddTimer(5*time.Millisecond, func() { ticks.Add(1) })

	deadline := time.Now().Add(time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tm.Stop()
	tm.Stop() // idempotent

	if ticks.Load() < 3 {
		t.Errorf("Expected at least 3 ticks, got %d", ticks.Load())
	}
}
