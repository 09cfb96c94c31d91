package graph

import "time"

// NodeStats is a diagnostic snapshot of a node's scheduling state, taken
// consistently on the node's loop.
type NodeStats struct {
	ID       uint32
	Name     string
	State    NodeState
	Driver   uint32
	Driving  bool
	Exported bool

	Pending  int32
	Required int32
	Status   ActivationStatus

	SignalTime uint64
	AwakeTime  uint64
	FinishTime uint64

	CPULoad   [3]float32
	XRunCount uint32
	MaxDelay  uint64

	PositionState PositionState
	ClockPosition uint64
	Duration      uint64
	Rate          Fraction
}

// Stats snapshots the node's scheduling state.
func (n *Node) Stats() NodeStats {
	s := NodeStats{
		ID:       n.id,
		Name:     n.name,
		State:    n.state,
		Driver:   n.driverNode.id,
		Driving:  n.Driving(),
		Exported: n.exported,
	}
	n.loop.Invoke(func() {
		a := n.rt.activation
		s.Pending = a.State[SyncPrimary].Pending()
		s.Required = a.State[SyncPrimary].Required()
		s.Status = a.Status()
		s.SignalTime = a.SignalTime
		s.AwakeTime = a.AwakeTime
		s.FinishTime = a.FinishTime
		s.CPULoad = a.CPULoad
		s.XRunCount = a.XRunCount
		s.MaxDelay = a.MaxDelay

		pos := n.rt.position
		s.PositionState = pos.State
		s.ClockPosition = pos.Clock.Position
		s.Duration = pos.Clock.Duration
		s.Rate = pos.Clock.Rate
	})
	return s
}

// SetClock reconfigures the cycle duration and rate of the node's clock.
// For a node currently driving its partition the cycle timer follows the
// new interval.
func (n *Node) SetClock(duration uint64, rate Fraction) error {
	if duration == 0 || rate.Denom == 0 {
		return ErrInvalidState
	}
	if err := n.loop.Invoke(func() {
		c := &n.rt.activation.Position.Clock
		c.Duration = duration
		c.Rate = rate
	}); err != nil {
		return err
	}
	if n.timer != nil {
		n.timer.Reset(time.Duration(duration * nsecPerSec / uint64(rate.Denom)))
	}
	return nil
}

// SetSyncTimeout reconfigures the budget for a synchronized state change
// of the node's partition. The driver recomputes its cycle countdown from
// it whenever a synced transition starts.
func (n *Node) SetSyncTimeout(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidState
	}
	return n.loop.Invoke(func() {
		n.rt.activation.SyncTimeout = uint64(d)
	})
}
