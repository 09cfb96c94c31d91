package graph

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// Loop is a real-time execution context: one dedicated goroutine that runs
// all node cycles of a partition. Control-context mutations enter through
// Invoke and are only drained at cycle boundaries, so the loop never
// observes a half-linked target or mix list.
type Loop struct {
	name string

	work    chan func()
	invokes chan loopInvoke

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	gid    atomic.Int64
	closed atomic.Bool
}

type loopInvoke struct {
	fn   func()
	done chan struct{}
}

// workDepth is the buffering for pending wakes. Wakes collapse into at
// most one outstanding signal per source, so a small buffer suffices.
const workDepth = 64

// NewLoop creates and starts a real-time loop.
func NewLoop(name string) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		name:    name,
		work:    make(chan func(), workDepth),
		invokes: make(chan loopInvoke),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	l.gid.Store(goid.Get())
	defer close(l.done)

	for {
		select {
		case inv := <-l.invokes:
			inv.fn()
			close(inv.done)
		case fn := <-l.work:
			fn()
		case <-l.ctx.Done():
			slog.Debug("Loop stopping", "loop", l.name)
			return
		}
	}
}

// InLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) InLoop() bool {
	return goid.Get() == l.gid.Load()
}

// Invoke runs fn on the loop goroutine and blocks until it completed.
// Called from the loop itself it runs fn inline, so real-time code may
// share control paths without deadlocking.
func (l *Loop) Invoke(fn func()) error {
	if l.closed.Load() {
		return ErrLoopStopped
	}
	if l.InLoop() {
		fn()
		return nil
	}
	inv := loopInvoke{fn: fn, done: make(chan struct{})}
	select {
	case l.invokes <- inv:
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
	select {
	case <-inv.done:
		return nil
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
}

// Post queues fn for execution on the loop goroutine without waiting.
// This is the wake path of the trigger protocol; it never blocks the
// caller beyond the channel send.
func (l *Loop) Post(fn func()) {
	if l.closed.Load() {
		return
	}
	select {
	case l.work <- fn:
	case <-l.ctx.Done():
	}
}

// Stop shuts the loop down and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.cancel()
	<-l.done
}

// LoopTimer periodically posts its callback onto the loop. It drives the
// externally-fired trigger of a driver node.
type LoopTimer struct {
	loop   *Loop
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// AddTimer starts a timer firing fn on the loop every interval.
func (l *Loop) AddTimer(interval time.Duration, fn func()) *LoopTimer {
	t := &LoopTimer{
		loop:   l,
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		for {
			select {
			case <-t.ticker.C:
				l.Post(fn)
			case <-t.stop:
				return
			case <-l.ctx.Done():
				return
			}
		}
	}()
	return t
}

// Reset changes the timer interval.
func (t *LoopTimer) Reset(interval time.Duration) {
	t.ticker.Reset(interval)
}

// Stop cancels the timer.
func (t *LoopTimer) Stop() {
	t.ticker.Stop()
	select {
	case <-t.done:
	default:
		close(t.stop)
		<-t.done
	}
}
