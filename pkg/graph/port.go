package graph

import "log/slog"

// Direction of a port relative to its node.
type Direction uint8

const (
	DirectionInput Direction = iota + 1
	DirectionOutput
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	default:
		return "unknown"
	}
}

// MaxPortMixes bounds the free-mix pool of one port.
const MaxPortMixes = 16

// Port is one logical connection point of a node. Multiple links fan into
// or out of it through mixes.
type Port struct {
	node      *Node
	direction Direction
	id        uint32

	// Negotiated format, consumed opaquely. nil means not negotiated;
	// clearing it releases all buffers held by the port's mixes.
	format []byte

	// The exchange slot the processor reads (input) or fills (output).
	io IOBuffers

	mixPool [MaxPortMixes]Mix
	freeMix []*Mix
	mixes   map[uint32]*Mix

	links []*Link
}

func newPort(node *Node, direction Direction, id uint32) *Port {
	p := &Port{
		node:      node,
		direction: direction,
		id:        id,
		mixes:     make(map[uint32]*Mix),
	}
	p.io.Reset()
	p.freeMix = make([]*Mix, 0, MaxPortMixes)
	for i := range p.mixPool {
		p.freeMix = append(p.freeMix, &p.mixPool[i])
	}
	return p
}

// Node returns the owning node.
func (p *Port) Node() *Node { return p.node }

// ID returns the port id.
func (p *Port) ID() uint32 { return p.id }

// Direction returns the port direction.
func (p *Port) Direction() Direction { return p.direction }

// HasFormat reports whether a format has been negotiated on the port.
func (p *Port) HasFormat() bool { return p.format != nil }

// SetFormat installs or clears the opaque negotiated format. Clearing
// releases every buffer held by the port's mixes: queues empty and each
// mix ends up with zero buffers, so a following UseBuffers succeeds.
func (p *Port) SetFormat(format []byte) {
	p.format = format
	if format == nil {
		for _, m := range p.mixes {
			m.clearBuffers()
		}
		slog.Debug("Port format cleared", "node", p.node.name, "port", p.id, "direction", p.direction)
	}
}

// EnsureMix returns the mix for the given id, allocating it from the free
// pool on first use. Exhausting the pool is a synchronous control error.
func (p *Port) EnsureMix(mixID uint32) (*Mix, error) {
	if m, ok := p.mixes[mixID]; ok {
		return m, nil
	}
	if len(p.freeMix) == 0 {
		return nil, ErrNoFreeMix
	}
	m := p.freeMix[len(p.freeMix)-1]
	p.freeMix = p.freeMix[:len(p.freeMix)-1]
	m.init(p, mixID)
	p.mixes[mixID] = m
	slog.Debug("Mix allocated", "node", p.node.name, "port", p.id, "mix", mixID)
	return m, nil
}

// FindMix returns the mix with the given id or nil.
func (p *Port) FindMix(mixID uint32) *Mix {
	return p.mixes[mixID]
}

// ReleaseMix returns a mix to the free pool after clearing its buffers
// and detaching its exchange slot.
func (p *Port) ReleaseMix(m *Mix) {
	if m.port != p {
		return
	}
	if m.active {
		m.SetIO(nil)
	}
	m.clearBuffers()
	delete(p.mixes, m.id)
	p.freeMix = append(p.freeMix, m)
}

// clear releases all mixes and buffers, used when the node suspends or
// the port goes away.
func (p *Port) clear() {
	for _, m := range p.mixes {
		p.ReleaseMix(m)
	}
	p.format = nil
	p.io.Reset()
}
