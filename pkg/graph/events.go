package graph

// NodeEvent is the base interface of all graph events.
type NodeEvent interface {
	NodeID() uint32
}

// BaseNodeEvent carries the fields shared by every node event.
type BaseNodeEvent struct {
	ID   uint32
	Name string
}

func (e BaseNodeEvent) NodeID() uint32 { return e.ID }

// NodeStateChanged reports a lifecycle transition of a node.
type NodeStateChanged struct {
	BaseNodeEvent
	Old   NodeState
	State NodeState
	Error string
}

// NodeAdded reports a node joining the graph.
type NodeAdded struct {
	BaseNodeEvent
}

// NodeRemoved reports a node leaving the graph.
type NodeRemoved struct {
	BaseNodeEvent
}

// DriverChanged reports a node migrating between driver partitions.
type DriverChanged struct {
	BaseNodeEvent
	OldDriver uint32
	NewDriver uint32
}

// XRunEvent reports an over/underrun on a node.
type XRunEvent struct {
	BaseNodeEvent
	Trigger uint64
	Delay   uint64
	Count   uint32
}

// SyncTimeoutEvent reports a partition that failed to reach readiness
// within its sync budget and was forced to RUNNING.
type SyncTimeoutEvent struct {
	BaseNodeEvent
	Pending []PendingState
}

// PendingState is the diagnostic pending/required snapshot of one node,
// dumped when a sync times out or a cycle overruns.
type PendingState struct {
	ID       uint32
	Name     string
	Pending  int32
	Required int32
	Status   ActivationStatus
	Signal   uint64
	Awake    uint64
	Finish   uint64
}

// Result is an asynchronous completion report keyed by sequence number.
// Errors from the real-time context never unwind across the trigger
// protocol; they surface here, out-of-band.
type Result struct {
	Seq uint32
	ID  uint32
	Err error
}
