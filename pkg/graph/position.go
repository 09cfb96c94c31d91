package graph

import (
	"math"
	"sort"
)

// Fraction represents a rational rate (e.g. 1/48000 for samples)
type Fraction struct {
	Num   uint32
	Denom uint32
}

// DefaultQuantum is the cycle duration in samples used until a driver
// reconfigures the clock.
const DefaultQuantum = 1024

// DefaultRate is the default sample rate of the graph clock.
const DefaultRate = 48000

// Clock is the raw clock position of a driver. It is embedded in the
// shared Position and read-only for everything but the driver.
type Clock struct {
	ID       uint32   // unique clock id, set when the node registers
	Flags    uint32   // clock flags
	Nsec     uint64   // time in nanoseconds against the monotonic clock
	Rate     Fraction // rate for position/duration/delay
	Position uint64   // current position in samples
	Duration uint64   // duration of the current cycle
	Delay    int64    // delay between position and hardware
	RateDiff float64  // rate difference between clock and monotonic time
	NextNsec uint64   // estimated next wakeup time in nanoseconds
}

// CycleNsec returns the nominal duration of one cycle in nanoseconds.
func (c *Clock) CycleNsec() uint64 {
	if c.Rate.Denom == 0 {
		return 0
	}
	return c.Duration * nsecPerSec / uint64(c.Rate.Denom)
}

// SegmentBar carries bar and beat information for a segment.
type SegmentBar struct {
	Flags          uint32
	Offset         uint32
	SignatureNum   float32
	SignatureDenom float32
	BPM            float64
	Beat           float64
}

// SegmentVideo carries video frame information for a segment.
type SegmentVideo struct {
	Flags      uint32
	Offset     uint32
	Framerate  Fraction
	Hours      uint32
	Minutes    uint32
	Seconds    uint32
	Frames     uint32
	FieldCount uint32
}

// Segment flags
const (
	SegmentFlagLooping    = 1 << 0 // after the duration, the segment repeats
	SegmentFlagNoPosition = 1 << 1 // position is not yet valid after a seek
)

// Segment converts a running time to a stream position. The segment is
// active while the running time is inside [Start, Start+Duration); a zero
// Duration extends the segment to the next one.
type Segment struct {
	Flags    uint32
	Start    uint64 // running time when this segment becomes active
	Duration uint64 // 0 extends the segment to the next one
	Rate     float64
	Position uint64 // stream position when running time == Start
	Bar      SegmentBar
	Video    SegmentVideo
}

// Reset restores a segment to its default identity mapping.
func (s *Segment) Reset() {
	*s = Segment{Rate: 1.0}
}

// PositionState is the state of the shared timeline.
type PositionState uint32

const (
	PositionStopped PositionState = iota
	PositionStarting
	PositionRunning
)

func (s PositionState) String() string {
	switch s {
	case PositionStopped:
		return "stopped"
	case PositionStarting:
		return "starting"
	case PositionRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MaxSegments is the maximum number of future segments in a position.
const MaxSegments = 8

// Position is the shared timeline of a driver partition. The driver owns
// and updates it, every partition member reads it. Segments are kept
// ordered by start time.
type Position struct {
	Clock     Clock
	Offset    int64 // subtract from clock position to get the running time
	State     PositionState
	NSegments uint32
	Segments  [MaxSegments]Segment
}

// Reset restores the position defaults: stopped, one identity segment,
// the default quantum and rate.
func (p *Position) Reset() {
	p.Clock.Rate = Fraction{1, DefaultRate}
	p.Clock.Duration = DefaultQuantum
	p.Offset = math.MinInt64
	p.State = PositionStopped
	p.NSegments = 1
	for i := range p.Segments {
		p.Segments[i].Reset()
	}
}

// Running returns the current running time of the position.
func (p *Position) Running() uint64 {
	return uint64(int64(p.Clock.Position) - p.Offset)
}

// sortSegments restores the start-time ordering after a segment update.
func (p *Position) sortSegments() {
	n := int(p.NSegments)
	if n > MaxSegments {
		n = MaxSegments
	}
	segs := p.Segments[:n]
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Start < segs[j].Start
	})
}

// RunningSegment selects the segment whose interval contains the given
// running time. A segment with zero duration extends until the next
// segment starts, the last one indefinitely.
func (p *Position) RunningSegment(running uint64) *Segment {
	n := int(p.NSegments)
	if n == 0 {
		return nil
	}
	if n > MaxSegments {
		n = MaxSegments
	}
	var cur *Segment
	for i := 0; i < n; i++ {
		s := &p.Segments[i]
		if s.Start > running {
			break
		}
		if s.Duration == 0 || running < s.Start+s.Duration {
			cur = s
		}
	}
	if cur == nil {
		cur = &p.Segments[0]
	}
	return cur
}
