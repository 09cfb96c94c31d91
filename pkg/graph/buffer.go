package graph

import "sync/atomic"

// Buffer is the opaque buffer descriptor exchanged through port mixes.
// The mixer only tracks the outstanding reference count and the extent of
// valid data; payload interpretation belongs to the processors.
type Buffer struct {
	id   uint32
	data []byte

	// Offset/size of the valid data inside the block.
	ChunkOffset uint32
	ChunkSize   uint32

	refs atomic.Int32
}

// NewBuffer creates a buffer descriptor of the given size.
func NewBuffer(id uint32, size int) *Buffer {
	return &Buffer{id: id, data: make([]byte, size)}
}

// ID returns the buffer id inside its set.
func (b *Buffer) ID() uint32 { return b.id }

// Data returns the underlying block.
func (b *Buffer) Data() []byte { return b.data }

// AddRef marks the buffer outstanding for one more consumer and returns
// the buffer for chaining.
func (b *Buffer) AddRef() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops one outstanding reference. Reuse notifications are
// asynchronous; releasing an idle buffer is not an error.
func (b *Buffer) Release() {
	if b.refs.Add(-1) < 0 {
		b.refs.Store(0)
	}
}

// Outstanding reports whether any consumer still references the buffer.
func (b *Buffer) Outstanding() bool { return b.refs.Load() > 0 }

// RefCount returns the current outstanding count.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }

// IOBuffers is the buffer-exchange slot attached to a mix with SetIO.
// A producer publishes a buffer id with StatusHaveData; the consumer
// flips it back to StatusNeedData once delivered.
type IOBuffers struct {
	Status   Status
	BufferID uint32
}

// InvalidBufferID marks an empty exchange slot.
const InvalidBufferID = ^uint32(0)

// Reset empties the exchange slot.
func (io *IOBuffers) Reset() {
	io.Status = StatusNeedData
	io.BufferID = InvalidBufferID
}
