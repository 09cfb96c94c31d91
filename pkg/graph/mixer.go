package graph

import "log/slog"

// Mix associates a port with one link worth of buffer exchange. Mixes are
// drawn from a bounded per-port pool; an attached exchange slot makes the
// mix part of the node's real-time mix list.
type Mix struct {
	port *Port
	id   uint32

	io      *IOBuffers
	buffers []*Buffer
	queue   []*Buffer

	active bool
}

func (m *Mix) init(port *Port, id uint32) {
	m.port = port
	m.id = id
	m.io = nil
	m.buffers = nil
	m.queue = nil
	m.active = false
}

// ID returns the mix id.
func (m *Mix) ID() uint32 { return m.id }

// NBuffers returns the size of the installed buffer set.
func (m *Mix) NBuffers() int { return len(m.buffers) }

// UseBuffers replaces the buffer set of the mix. It fails when the port
// has no negotiated format or when a buffer of the previous set is still
// outstanding; the caller must drain in-flight references first. A nil
// set clears the buffers.
func (m *Mix) UseBuffers(buffers []*Buffer) error {
	if buffers != nil && !m.port.HasFormat() {
		return ErrNoFormat
	}
	for _, b := range m.buffers {
		if b.Outstanding() {
			return ErrBuffersBusy
		}
	}
	m.queue = m.queue[:0]
	m.buffers = buffers
	slog.Debug("Mix buffers installed", "node", m.port.node.name,
		"port", m.port.id, "mix", m.id, "nBuffers", len(buffers))
	return nil
}

// clearBuffers force-releases everything the mix holds. Unlike UseBuffers
// this never fails: it is the format-removal path.
func (m *Mix) clearBuffers() {
	for _, b := range m.queue {
		b.Release()
	}
	m.queue = m.queue[:0]
	m.buffers = nil
	if m.io != nil {
		m.io.Reset()
	}
}

// SetIO attaches or detaches the buffer-exchange slot. Attaching activates
// the mix: it joins the node's real-time mix list under a loop invoke so
// the real-time context never sees a half-initialized mix. Detaching is
// symmetric.
func (m *Mix) SetIO(io *IOBuffers) error {
	node := m.port.node
	if io != nil {
		io.Reset()
		return node.loop.Invoke(func() {
			m.io = io
			if !m.active {
				m.active = true
				node.rt.addMix(m)
			}
		})
	}
	return node.loop.Invoke(func() {
		if m.active {
			m.active = false
			node.rt.removeMix(m)
		}
		m.io = nil
	})
}

// findBuffer resolves a published buffer id against the installed set.
func (m *Mix) findBuffer(id uint32) *Buffer {
	if id == InvalidBufferID {
		return nil
	}
	for _, b := range m.buffers {
		if b.id == id {
			return b
		}
	}
	return nil
}

// processInput moves a buffer published by the upstream producer into the
// port slot the processor reads. Runs on the real-time loop, before the
// node's own process callback.
func (m *Mix) processInput() {
	if m.io == nil || m.io.Status != StatusHaveData {
		return
	}
	b := m.findBuffer(m.io.BufferID)
	if b == nil {
		m.io.Status = StatusNeedData
		return
	}
	m.port.io.BufferID = b.id
	m.port.io.Status = StatusHaveData
	m.io.Status = StatusNeedData
}

// processOutput distributes the node's freshly produced buffer to the
// attached consumer slot and marks it outstanding for that consumer.
// Runs on the real-time loop, after the node produced data.
func (m *Mix) processOutput() {
	if m.io == nil || m.port.io.Status != StatusHaveData {
		return
	}
	if b := m.findBuffer(m.port.io.BufferID); b != nil {
		b.AddRef()
	}
	m.io.BufferID = m.port.io.BufferID
	m.io.Status = StatusHaveData
}

// ReuseBuffer is the asynchronous reuse notification from a consumer: the
// referenced buffer returns to the producer's free set.
func (m *Mix) ReuseBuffer(id uint32) {
	if b := m.findBuffer(id); b != nil {
		b.Release()
	}
}
