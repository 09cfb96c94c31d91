package remote

import (
	"fmt"
	"sync"

	"cadence/pkg/graph"
)

// Transport is the narrow slice of the IPC layer the scheduler depends
// on: access to a node's shared activation record and the descriptor
// pair used to wake it. How the sharing actually happens (memfd, socket
// fd passing) is the transport's business.
type Transport interface {
	// MapActivation returns the activation record for a node, shared
	// with the peer side.
	MapActivation(nodeID uint32) (*graph.Activation, error)
	// WakePair returns the signaler used to wake the peer's cycle for
	// the given node.
	WakePair(nodeID uint32) (*Signaler, error)
	Close() error
}

// LocalTransport is a same-process transport: activation records are
// shared by identity and wakes travel over a pipe. It serves single
// machine setups and tests; a real IPC transport replaces it without
// touching the scheduler.
type LocalTransport struct {
	mu      sync.Mutex
	records map[uint32]*graph.Activation
	wakes   map[uint32]*Signaler
	closed  bool
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		records: make(map[uint32]*graph.Activation),
		wakes:   make(map[uint32]*Signaler),
	}
}

// Register publishes a node's activation so the peer side can map it.
func (t *LocalTransport) Register(nodeID uint32, a *graph.Activation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[nodeID] = a
}

func (t *LocalTransport) MapActivation(nodeID uint32) (*graph.Activation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.records[nodeID]
	if !ok {
		return nil, fmt.Errorf("remote: no activation registered for node %d", nodeID)
	}
	return a, nil
}

func (t *LocalTransport) WakePair(nodeID uint32) (*Signaler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("remote: transport closed")
	}
	if s, ok := t.wakes[nodeID]; ok {
		return s, nil
	}
	s, err := NewSignaler()
	if err != nil {
		return nil, err
	}
	t.wakes[nodeID] = s
	return s, nil
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, s := range t.wakes {
		s.Close()
	}
	return nil
}
