package graph

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type countingProc struct {
	processed atomic.Int32
	result    Status
}

func (p *countingProc) Process() Status {
	p.processed.Add(1)
	if p.result != 0 {
		return p.result
	}
	return StatusHaveData
}

func (p *countingProc) SendCommand(NodeCommand) error { return nil }

func (p *countingProc) SetIO(IOType, any) error { return nil }

func (p *countingProc) SetParam(ParamType, any) error { return nil }

// newTestPartition slaves one leaf per processor to a fresh driver. The
// driver has no running timer; tests fire cycles explicitly.
func newTestPartition(t *testing.T, procs ...Processor) (*Graph, *Node, []*Node) {
	t.Helper()
	g := New("test")
	t.Cleanup(g.Stop)

	d, err := g.AddNode(NodeConfig{Name: "driver", Driver: true})
	if err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	leaves := make([]*Node, 0, len(procs))
	for i, p := range procs {
		n, err := g.AddNode(NodeConfig{Name: fmt.Sprintf("leaf-%d", i), Processor: p})
		if err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		if err := n.SetDriver(d); err != nil {
			t.Fatalf("SetDriver failed: %v", err)
		}
		leaves = append(leaves, n)
	}

	if err := g.Loop().Invoke(func() {
		d.addToDriver(d)
		for _, n := range leaves {
			n.addToDriver(d)
		}
	}); err != nil {
		t.Fatalf("Registration failed: %v", err)
	}
	return g, d, leaves
}

func runCycle(t *testing.T, g *Graph, d *Node) {
	t.Helper()
	if err := g.Loop().Invoke(d.driverCycle); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
}

func waitEvent(t *testing.T, ch <-chan NodeEvent, match func(NodeEvent) bool) NodeEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatal("Event channel closed")
			}
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("Timed out waiting for event")
		}
	}
}

func TestDriverCycleCascade(t *testing.T) {
	procs := []*countingProc{{}, {}, {}}
	g, d, leaves := newTestPartition(t, procs[0], procs[1], procs[2])

	// Driver carries two self entries plus one per member.
	da := d.Activation()
	if r := da.State[SyncPrimary].Required(); r != 5 {
		t.Fatalf("Expected driver required 5, got %d", r)
	}

	runCycle(t, g, d)

	for i, p := range procs {
		if n := p.processed.Load(); n != 1 {
			t.Errorf("Leaf %d: expected 1 process call, got %d", i, n)
		}
	}
	if p := da.State[SyncPrimary].Pending(); p != 0 {
		t.Errorf("Expected driver pending 0, got %d", p)
	}
	if da.Status() != Finished {
		t.Errorf("Expected driver finished, got %s", da.Status())
	}
	if !(da.FinishTime >= da.AwakeTime && da.AwakeTime >= da.SignalTime) {
		t.Errorf("Expected finish >= awake >= signal, got %d/%d/%d",
			da.FinishTime, da.AwakeTime, da.SignalTime)
	}

	for i, n := range leaves {
		a := n.Activation()
		if a.Status() != Finished {
			t.Errorf("Leaf %d: expected finished, got %s", i, a.Status())
		}
		if p := a.State[SyncPrimary].Pending(); p != 0 {
			t.Errorf("Leaf %d: expected pending 0, got %d", i, p)
		}
		if !(a.FinishTime >= a.AwakeTime && a.AwakeTime >= a.SignalTime) {
			t.Errorf("Leaf %d: expected finish >= awake >= signal, got %d/%d/%d",
				i, a.FinishTime, a.AwakeTime, a.SignalTime)
		}
	}

	// A clean second cycle: no overrun recorded.
	runCycle(t, g, d)
	if da.XRunCount != 0 {
		t.Errorf("Expected no xruns, got %d", da.XRunCount)
	}
	if procs[0].processed.Load() != 2 {
		t.Errorf("Expected 2 process calls, got %d", procs[0].processed.Load())
	}
	if da.PrevSignalTime == 0 || da.PrevSignalTime >= da.SignalTime {
		t.Errorf("Expected signal times to advance, prev %d cur %d",
			da.PrevSignalTime, da.SignalTime)
	}
}

func TestDriverCycleOverrun(t *testing.T) {
	p := &countingProc{}
	g, d, leaves := newTestPartition(t, p)

	// One dependency that never resolves stalls the leaf and the cascade.
	g.Loop().Invoke(func() {
		leaves[0].Activation().State[SyncPrimary].AddRequired(1)
	})

	runCycle(t, g, d)
	if n := p.processed.Load(); n != 0 {
		t.Fatalf("Stalled leaf should not process, got %d calls", n)
	}
	da := d.Activation()
	if da.Status() != Awake {
		t.Fatalf("Expected driver stuck awake, got %s", da.Status())
	}

	// The next cycle detects the overrun and forces completion.
	runCycle(t, g, d)
	if da.XRunCount != 1 {
		t.Errorf("Expected 1 xrun, got %d", da.XRunCount)
	}
	waitEvent(t, g.Events(), func(e NodeEvent) bool {
		x, ok := e.(XRunEvent)
		return ok && x.ID == d.ID()
	})
}

func TestSyncedStart(t *testing.T) {
	g, d, _ := newTestPartition(t, &countingProc{})
	da := d.Activation()

	d.PostCommand(CommandStart)

	var state PositionState
	var syncLeft uint64
	runCycle(t, g, d)
	g.Loop().Invoke(func() {
		state = da.Position.State
		syncLeft = da.SyncLeft
	})
	if state != PositionStarting {
		t.Fatalf("Expected starting after command, got %s", state)
	}
	if syncLeft == 0 {
		t.Fatal("Expected a sync countdown in flight")
	}

	// Every member acknowledged during the first cycle, so the next one
	// reaches RUNNING.
	runCycle(t, g, d)
	var offset int64
	g.Loop().Invoke(func() {
		state = da.Position.State
		offset = da.Position.Offset
	})
	if state != PositionRunning {
		t.Fatalf("Expected running, got %s", state)
	}

	// The offset freezes once running: the running time now advances.
	var offset2 int64
	var running1, running2 uint64
	g.Loop().Invoke(func() { running1 = da.Position.Running() })
	runCycle(t, g, d)
	g.Loop().Invoke(func() {
		offset2 = da.Position.Offset
		running2 = da.Position.Running()
	})
	if offset2 != offset {
		t.Errorf("Expected frozen offset %d, got %d", offset, offset2)
	}
	if running2 != running1+da.Position.Clock.Duration {
		t.Errorf("Expected running time to advance by one quantum, got %d -> %d",
			running1, running2)
	}
}

func TestSyncedStop(t *testing.T) {
	g, d, _ := newTestPartition(t, &countingProc{})
	da := d.Activation()

	d.PostCommand(CommandStart)
	runCycle(t, g, d)
	runCycle(t, g, d)

	d.PostCommand(CommandStop)
	runCycle(t, g, d)

	var state PositionState
	g.Loop().Invoke(func() { state = da.Position.State })
	if state != PositionStopped {
		t.Fatalf("Expected stopped, got %s", state)
	}
}

func TestSyncTimeoutForcesRunning(t *testing.T) {
	g, d, _ := newTestPartition(t, &countingProc{})
	da := d.Activation()

	// A one-cycle budget: the first cycle after the command exhausts it.
	g.Loop().Invoke(func() { da.SyncTimeout = 1 })
	d.PostCommand(CommandStart)

	runCycle(t, g, d)
	var state PositionState
	g.Loop().Invoke(func() { state = da.Position.State })
	if state != PositionRunning {
		t.Fatalf("Expected forced running, got %s", state)
	}

	e := waitEvent(t, g.Events(), func(e NodeEvent) bool {
		_, ok := e.(SyncTimeoutEvent)
		return ok
	})
	if len(e.(SyncTimeoutEvent).Pending) == 0 {
		t.Error("Expected a pending state dump with the timeout")
	}
}

func TestReposition(t *testing.T) {
	g, d, leaves := newTestPartition(t, &countingProc{})
	da := d.Activation()

	leaves[0].RequestReposition(Segment{Rate: 1.0, Position: 9600})
	runCycle(t, g, d)

	var seg Segment
	g.Loop().Invoke(func() { seg = da.Position.Segments[0] })
	if seg.Position != 9600 {
		t.Errorf("Expected segment position 9600, got %d", seg.Position)
	}
	if seg.Rate != 1.0 {
		t.Errorf("Expected segment rate 1.0, got %f", seg.Rate)
	}
}

func TestRepositionWhileRunningResyncs(t *testing.T) {
	g, d, leaves := newTestPartition(t, &countingProc{})
	da := d.Activation()

	d.PostCommand(CommandStart)
	runCycle(t, g, d)
	runCycle(t, g, d)

	leaves[0].RequestReposition(Segment{Rate: 1.0, Position: 48000})
	runCycle(t, g, d)

	var state PositionState
	g.Loop().Invoke(func() { state = da.Position.State })
	if state != PositionStarting {
		t.Fatalf("Expected a running partition to go back to starting, got %s", state)
	}
}

func TestSegmentOwnerMerge(t *testing.T) {
	g, d, leaves := newTestPartition(t, &countingProc{})
	da := d.Activation()

	leaves[0].ClaimSegmentOwner(0)
	g.Loop().Invoke(func() { leaves[0].Activation().Segment.Bar.BPM = 120 })

	runCycle(t, g, d)

	var bpm float64
	g.Loop().Invoke(func() { bpm = da.Position.Segments[0].Bar.BPM })
	if bpm != 120 {
		t.Errorf("Expected merged BPM 120, got %f", bpm)
	}

	// Ownership is dropped when the member leaves the partition.
	if err := leaves[0].SetDriver(nil); err != nil {
		t.Fatalf("SetDriver failed: %v", err)
	}
	if da.SegmentOwner[0].Load() != 0 {
		t.Error("Expected segment ownership cleared on driver change")
	}
}

func TestDriverReassignment(t *testing.T) {
	g := New("test")
	t.Cleanup(g.Stop)

	d1, _ := g.AddNode(NodeConfig{Name: "driver-1", Driver: true})
	d2, _ := g.AddNode(NodeConfig{Name: "driver-2", Driver: true})
	f, _ := g.AddNode(NodeConfig{Name: "follower"})

	if err := f.SetDriver(d1); err != nil {
		t.Fatalf("SetDriver failed: %v", err)
	}
	g.Loop().Invoke(func() { f.addToDriver(d1) })

	if r := d1.Activation().State[SyncPrimary].Required(); r != 1 {
		t.Fatalf("Expected d1 required 1, got %d", r)
	}
	if r := f.Activation().State[SyncPrimary].Required(); r != 1 {
		t.Fatalf("Expected follower required 1, got %d", r)
	}

	// Migration moves both sides of the accounting in one step.
	if err := f.SetDriver(d2); err != nil {
		t.Fatalf("SetDriver failed: %v", err)
	}
	if r := d1.Activation().State[SyncPrimary].Required(); r != 0 {
		t.Errorf("Expected d1 required 0 after migration, got %d", r)
	}
	if r := d2.Activation().State[SyncPrimary].Required(); r != 1 {
		t.Errorf("Expected d2 required 1 after migration, got %d", r)
	}
	if r := f.Activation().State[SyncPrimary].Required(); r != 1 {
		t.Errorf("Expected follower required unchanged, got %d", r)
	}
	if f.DriverNode() != d2 {
		t.Error("Expected follower driven by d2")
	}

	waitEvent(t, g.Events(), func(e NodeEvent) bool {
		dc, ok := e.(DriverChanged)
		return ok && dc.ID == f.ID() && dc.NewDriver == d2.ID()
	})
}

func TestProcessErrorSurfacesOutOfBand(t *testing.T) {
	bad := &countingProc{result: StatusError}
	g, d, _ := newTestPartition(t, bad)

	runCycle(t, g, d)

	// The fault is reported asynchronously; the cascade still completes.
	if d.Activation().Status() != Finished {
		t.Errorf("Expected driver finished despite leaf error, got %s", d.Activation().Status())
	}
	select {
	case res := <-g.Results():
		if res.Err == nil {
			t.Error("Expected an error result")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for error result")
	}
}
