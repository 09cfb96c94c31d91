package graph

import (
	"log/slog"
	"math"
)

// Synchronization decisions made at the start of a driver cycle.
const (
	syncCheck = iota
	syncStart
	syncStop
)

// driverCycle is the externally-fired trigger of a driver node, invoked
// by its clock timer on the real-time loop. It closes the previous cycle
// if it overran, applies pending control commands, rebuilds the shared
// position and resets every partition member before cascading.
func (n *Node) driverCycle() {
	a := n.rt.activation
	nsec := nowNsec()

	clock := &a.Position.Clock
	clock.Nsec = nsec
	clock.Position += clock.Duration
	clock.NextNsec = nsec + clock.CycleNsec()

	// The previous cycle never reached zero: record the overrun and
	// force completion rather than stalling the partition forever.
	if a.State[SyncPrimary].Pending() != 0 && a.Status() != NotTriggered {
		slog.Warn("Graph not finished", "driver", n.name,
			"pending", a.State[SyncPrimary].Pending(),
			"required", a.State[SyncPrimary].Required())
		n.dumpStates()
		delay := uint64(0)
		if nsec > a.SignalTime {
			delay = nsec - a.SignalTime
		}
		n.XRun(nsec, delay)
		n.completeCycle()
	}

	var repositionOwner uint32
	syncType := n.checkUpdates(&repositionOwner)

	owner := [2]uint32{a.SegmentOwner[0].Load(), a.SegmentOwner[1].Load()}
	allReady := syncType == syncCheck
	updateSync := !allReady
	targetSync := syncType == syncStart

	var repositionNode *Node

	n.rt.targets.ForEach(func(t *Target) {
		ta := t.Activation
		ta.SetStatus(NotTriggered)
		ta.State[SyncPrimary].Reset()

		if t.Node != nil {
			id := t.Node.id

			// This member carries the reposition request.
			if id == repositionOwner {
				repositionNode = t.Node
			}
			// Merge extra segment info from its owner.
			if id == owner[0] {
				a.Position.Segments[0].Bar = ta.Segment.Bar
			}
			if id == owner[1] {
				a.Position.Segments[0].Video = ta.Segment.Video
			}
		}

		if updateSync {
			ta.PendingSync = targetSync
			ta.PendingNewPos = targetSync
		} else {
			allReady = allReady && !ta.PendingSync
		}
	})

	a.PrevSignalTime = a.SignalTime
	a.SignalTime = nsec
	a.SetStatus(Triggered)

	if repositionNode != nil {
		n.doReposition(repositionNode)
	}
	n.updatePosition(allReady)

	n.processCycle()
}

// checkUpdates consumes the pending control command and reposition owner
// posted into the driver activation, and derives the sync decision. A
// start or reposition arms the sync countdown: the timeout budget divided
// by the nominal cycle duration.
func (n *Node) checkUpdates(repositionOwner *uint32) int {
	a := n.rt.activation
	res := syncCheck

	if a.Position.Offset == math.MinInt64 {
		a.Position.Offset = int64(a.Position.Clock.Position)
	}

	cmd := a.takeCommand()
	*repositionOwner = a.takeRepositionOwner()

	if cmd != CommandNone {
		slog.Debug("Driver command", "driver", n.name, "command", cmd)
		switch cmd {
		case CommandStop:
			a.Position.State = PositionStopped
			res = syncStop
		case CommandStart:
			a.Position.State = PositionStarting
			a.SyncLeft = n.syncCycles()
			res = syncStart
		}
	}

	if *repositionOwner != 0 {
		res = syncStart
	}
	return res
}

// syncCycles converts the sync timeout budget into a cycle countdown.
func (n *Node) syncCycles() uint64 {
	a := n.rt.activation
	cycle := a.Position.Clock.CycleNsec()
	if cycle == 0 {
		return 1
	}
	left := a.SyncTimeout / cycle
	if left == 0 {
		left = 1
	}
	return left
}

// doReposition copies the requested segment of the owner node into the
// partition's primary segment slot. A zero start is inferred from the
// current running position. A reposition of a running partition goes
// back through STARTING with a fresh countdown.
func (n *Node) doReposition(owner *Node) {
	a := n.rt.activation
	src := &owner.rt.activation.Reposition
	dst := &a.Position.Segments[0]

	slog.Debug("Reposition", "driver", n.name, "owner", owner.name, "position", src.Position)

	*dst = *src
	if dst.Start == 0 {
		dst.Start = a.Position.Running()
	}
	a.Position.sortSegments()

	if a.Position.State == PositionRunning {
		a.Position.State = PositionStarting
		a.SyncLeft = n.syncCycles()
	}
}

// updatePosition advances the position state machine: STARTING becomes
// RUNNING once every member reported sync-ready, or when the countdown
// runs out. A timeout forces RUNNING and dumps the pending state of the
// partition for postmortem. While not RUNNING the offset keeps absorbing
// the clock advance so the running time stands still.
func (n *Node) updatePosition(allReady bool) {
	a := n.rt.activation

	if a.Position.State == PositionStarting {
		if !allReady {
			a.SyncLeft--
			if a.SyncLeft == 0 {
				slog.Warn("Sync timeout, going to RUNNING", "driver", n.name)
				pending := n.dumpStates()
				n.graph.emit(SyncTimeoutEvent{
					BaseNodeEvent: BaseNodeEvent{ID: n.id, Name: n.name},
					Pending:       pending,
				})
				allReady = true
			}
		}
		if allReady {
			a.Position.State = PositionRunning
		}
	}
	if a.Position.State != PositionRunning {
		a.Position.Offset += int64(a.Position.Clock.Duration)
	}
}

// completeCycle runs when the driver's own pending count reaches zero:
// the whole partition finished. It finalizes the cycle statistics.
func (n *Node) completeCycle() {
	a := n.rt.activation
	a.SetStatus(Finished)
	a.FinishTime = nowNsec()
	a.updateLoad()

	slog.Debug("Graph completed", "driver", n.name,
		"wait", a.AwakeTime-a.SignalTime,
		"run", a.FinishTime-a.AwakeTime,
		"busy", a.FinishTime-a.SignalTime,
		"period", a.SignalTime-a.PrevSignalTime,
		"cpu0", a.CPULoad[0], "cpu1", a.CPULoad[1], "cpu2", a.CPULoad[2])
}

// dumpStates logs the pending/required snapshot of every partition
// member, used on overruns and sync timeouts.
func (n *Node) dumpStates() []PendingState {
	var out []PendingState
	n.rt.targets.ForEach(func(t *Target) {
		if t.Node == nil {
			return
		}
		a := t.Activation
		s := PendingState{
			ID:       t.Node.id,
			Name:     t.Node.name,
			Pending:  a.State[SyncPrimary].Pending(),
			Required: a.State[SyncPrimary].Required(),
			Status:   a.Status(),
			Signal:   a.SignalTime,
			Awake:    a.AwakeTime,
			Finish:   a.FinishTime,
		}
		out = append(out, s)
		slog.Warn("Node state", "node", s.Name,
			"pending", s.Pending, "required", s.Required,
			"signal", s.Signal, "awake", s.Awake, "finish", s.Finish,
			"waiting", s.Awake-s.Signal, "process", s.Finish-s.Awake,
			"status", s.Status)
	})
	return out
}
