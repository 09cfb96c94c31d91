package graph

// Status is the bitmask returned by a processor's Process call.
type Status int

const (
	StatusOK       Status = 0
	StatusNeedData Status = 1 << 0
	StatusHaveData Status = 1 << 1
	StatusStopped  Status = 1 << 2
	StatusError    Status = 1 << 3
)

// HasData reports whether the processor produced output this cycle.
func (s Status) HasData() bool { return s&StatusHaveData != 0 }

// IOType identifies a shared region bound into a processor with SetIO.
type IOType uint32

const (
	IOPosition IOType = iota + 1
	IOClock
)

// ParamType identifies a negotiated parameter. The scheduler only cares
// about locating format params; their contents stay opaque.
type ParamType uint32

const (
	ParamFormat ParamType = iota + 1
)

// NodeCommand is a lifecycle command sent into a processor.
type NodeCommand uint32

const (
	NodeCommandStart NodeCommand = iota + 1
	NodeCommandPause
	NodeCommandSuspend
)

// Processor is the narrow plugin/node ABI the scheduler drives. The
// concrete media work (sources, filters, mixers, sinks) lives behind it.
type Processor interface {
	// Process runs one cycle worth of work and returns a status bitmask.
	// A negative condition is reported as StatusError; NeedData and
	// Stopped are ordinary backpressure, not faults.
	Process() Status

	// SendCommand delivers a Start/Pause/Suspend command.
	SendCommand(cmd NodeCommand) error

	// SetIO binds a shared region (position or clock) into the
	// processor. A nil ptr unbinds.
	SetIO(id IOType, ptr any) error

	// SetParam applies an opaque parameter. A nil value clears it; the
	// scheduler only interprets the id, never the payload.
	SetParam(id ParamType, value any) error
}
