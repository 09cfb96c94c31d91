package graph

import (
	"sync/atomic"
	"time"
)

const nsecPerSec = uint64(time.Second)

var monoEpoch = time.Now()

// nowNsec returns monotonic nanoseconds used for all activation timestamps.
func nowNsec() uint64 {
	return uint64(time.Since(monoEpoch))
}

// ActivationStatus is the point in the per-cycle lifecycle of a node.
type ActivationStatus uint32

const (
	NotTriggered ActivationStatus = iota
	Triggered
	Awake
	Finished
)

func (s ActivationStatus) String() string {
	switch s {
	case NotTriggered:
		return "not-triggered"
	case Triggered:
		return "triggered"
	case Awake:
		return "awake"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Command is a pending control command posted into an activation by any
// partition member and consumed by the driver at the start of a cycle.
type Command uint32

const (
	CommandNone Command = iota
	CommandStart
	CommandStop
)

// ActivationState holds the dependency counters of one sync domain.
// A node is runnable when pending reaches zero; required is maintained
// by the control context on every topology change.
type ActivationState struct {
	pending  atomic.Int32
	required atomic.Int32
	status   int32 // last process status, written by the owner only
}

// Dec atomically subtracts n from pending and reports whether the caller
// is the one that made it reach exactly zero. Only that caller may signal
// the node, which makes duplicate wakes impossible by construction.
func (s *ActivationState) Dec(n int32) bool {
	return s.pending.Add(-n) == 0
}

// Reset sets pending back to required for the next cycle.
func (s *ActivationState) Reset() {
	s.pending.Store(s.required.Load())
}

// AddRequired adjusts the dependency count and returns the new value.
func (s *ActivationState) AddRequired(n int32) int32 {
	return s.required.Add(n)
}

// Pending returns the current pending count.
func (s *ActivationState) Pending() int32 { return s.pending.Load() }

// Required returns the current required count.
func (s *ActivationState) Required() int32 { return s.required.Load() }

// SyncPrimary is the state slot of the primary sync domain. The second
// slot allows layered completion tracking on top of it.
const (
	SyncPrimary = 0
	nStates     = 2
)

// Activation is the per-node real-time execution state. It is laid out as
// plain data with explicit atomic fields so that a second mapping in a
// remote process observes the same memory; initialization goes through
// Init instead of a constructor.
type Activation struct {
	status atomic.Uint32

	State [nStates]ActivationState

	// Timestamps in monotonic nanoseconds, written by a single writer
	// per cycle. Advisory, used for latency and xrun accounting.
	SignalTime     uint64
	AwakeTime      uint64
	FinishTime     uint64
	PrevSignalTime uint64

	// Smoothed CPU load at three time constants.
	CPULoad [3]float32

	// Over/underrun statistics.
	XRunCount uint32
	XRunTime  uint64
	XRunDelay uint64
	MaxDelay  uint64

	// Shared timeline, owned by the driver of the partition.
	Position Position

	// Out-of-band segment control. SegmentOwner holds the node ids that
	// own the bar and video segment info; Segment is the extra segment
	// info this node publishes when it owns a slot; Reposition is the
	// requested segment of the node in repositionOwner.
	SegmentOwner    [2]atomic.Uint32
	Segment         Segment
	Reposition      Segment
	repositionOwner atomic.Uint32

	command atomic.Uint32

	// Synchronized start/stop across the partition.
	PendingSync   bool
	PendingNewPos bool
	SyncTimeout   uint64 // ns budget for a synchronized state change
	SyncLeft      uint64 // cycles left before the sync is forced
}

// DefaultSyncTimeout is the budget for a synchronized start before the
// driver forces RUNNING.
const DefaultSyncTimeout = 5 * nsecPerSec

// Init resets an activation to its defaults. It must be called before the
// activation becomes visible to any scheduling context.
func (a *Activation) Init() {
	a.status.Store(uint32(NotTriggered))
	for i := range a.State {
		a.State[i].pending.Store(0)
		a.State[i].required.Store(0)
		a.State[i].status = 0
	}
	a.SignalTime = 0
	a.AwakeTime = 0
	a.FinishTime = 0
	a.PrevSignalTime = 0
	a.CPULoad = [3]float32{}
	a.XRunCount = 0
	a.XRunTime = 0
	a.XRunDelay = 0
	a.MaxDelay = 0
	a.Position.Reset()
	a.SegmentOwner[0].Store(0)
	a.SegmentOwner[1].Store(0)
	a.Segment.Reset()
	a.Reposition.Reset()
	a.repositionOwner.Store(0)
	a.command.Store(uint32(CommandNone))
	a.PendingSync = false
	a.PendingNewPos = false
	a.SyncTimeout = DefaultSyncTimeout
	a.SyncLeft = 0
}

// Status returns the current activation status.
func (a *Activation) Status() ActivationStatus {
	return ActivationStatus(a.status.Load())
}

// SetStatus updates the activation status.
func (a *Activation) SetStatus(s ActivationStatus) {
	a.status.Store(uint32(s))
}

// PostCommand posts a control command for the driver to pick up at the
// start of the next cycle.
func (a *Activation) PostCommand(cmd Command) {
	a.command.Store(uint32(cmd))
}

// takeCommand consumes the pending command, leaving CommandNone.
func (a *Activation) takeCommand() Command {
	return Command(a.command.Swap(uint32(CommandNone)))
}

// SetRepositionOwner records which node carries a reposition request.
// The driver consumes it at the start of the next cycle.
func (a *Activation) SetRepositionOwner(id uint32) {
	a.repositionOwner.Store(id)
}

// takeRepositionOwner consumes the reposition owner id.
func (a *Activation) takeRepositionOwner() uint32 {
	return a.repositionOwner.Swap(0)
}

// ClearSegmentOwner drops the segment ownership of a node, typically when
// it leaves the partition.
func (a *Activation) ClearSegmentOwner(nodeID uint32) {
	a.SegmentOwner[0].CompareAndSwap(nodeID, 0)
	a.SegmentOwner[1].CompareAndSwap(nodeID, 0)
}

// updateLoad folds the last cycle into the smoothed CPU load estimates.
func (a *Activation) updateLoad() {
	if a.SignalTime <= a.PrevSignalTime {
		return
	}
	process := a.FinishTime - a.SignalTime
	period := a.SignalTime - a.PrevSignalTime
	load := float32(process) / float32(period)
	a.CPULoad[0] = (a.CPULoad[0] + load) / 2
	a.CPULoad[1] = (a.CPULoad[1]*7 + load) / 8
	a.CPULoad[2] = (a.CPULoad[2]*31 + load) / 32
}

// recordXRun accumulates an over/underrun.
func (a *Activation) recordXRun(trigger, delay uint64) {
	a.XRunCount++
	a.XRunTime = trigger
	a.XRunDelay = delay
	if delay > a.MaxDelay {
		a.MaxDelay = delay
	}
}
