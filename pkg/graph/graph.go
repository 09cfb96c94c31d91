package graph

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Graph is the explicit registry owning all nodes, links and the shared
// data loop. All topology mutations go through it on the control context;
// the real-time structures only change under a loop invoke it issues.
type Graph struct {
	name string
	loop *Loop

	mu    sync.Mutex
	nodes map[uint32]*Node
	links []*Link

	nextID uint32
	seq    atomic.Uint32

	events  chan NodeEvent
	results chan Result

	stopped atomic.Bool
}

// eventDepth is the buffering of the event and result channels. Emission
// never blocks the real-time path; a full channel drops the event.
const eventDepth = 64

// New creates an empty graph with its own data loop.
func New(name string) *Graph {
	g := &Graph{
		name:    name,
		loop:    NewLoop(name + "-data"),
		nodes:   make(map[uint32]*Node),
		nextID:  1,
		events:  make(chan NodeEvent, eventDepth),
		results: make(chan Result, eventDepth),
	}
	slog.Info("Graph created", "graph", name)
	return g
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Loop returns the graph data loop.
func (g *Graph) Loop() *Loop { return g.loop }

// Events returns the asynchronous event channel.
func (g *Graph) Events() <-chan NodeEvent { return g.events }

// Results returns the asynchronous result channel.
func (g *Graph) Results() <-chan Result { return g.results }

// NextSeq allocates a sequence number for correlating async completions.
func (g *Graph) NextSeq() uint32 { return g.seq.Add(1) }

func (g *Graph) emit(e NodeEvent) {
	if g.stopped.Load() {
		return
	}
	select {
	case g.events <- e:
	default:
		// Diagnostics only; dropping beats blocking a cycle.
	}
}

func (g *Graph) postResult(seq, id uint32, err error) {
	if g.stopped.Load() {
		return
	}
	select {
	case g.results <- Result{Seq: seq, ID: id, Err: err}:
	default:
	}
}

// AddNode creates a node and registers it with the graph. The node comes
// up in the SUSPENDED state; activate it to make it schedulable.
func (g *Graph) AddNode(cfg NodeConfig) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return nil, ErrLoopStopped
	}

	id := g.nextID
	g.nextID++
	n := newNode(g, id, cfg)
	g.nodes[id] = n

	slog.Info("Node added", "graph", g.name, "node", n.name, "id", id,
		"driver", n.driver, "exported", n.exported)
	n.setState(NodeStateSuspended, "")
	g.emit(NodeAdded{BaseNodeEvent{ID: id, Name: n.name}})
	return n, nil
}

// RemoveNode unregisters and destroys a node. Followers of a removed
// driver fall back to driving themselves; dependents' required counts
// adjust through link teardown.
func (g *Graph) RemoveNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return ErrLoopStopped
	}
	if _, ok := g.nodes[n.id]; !ok {
		return ErrNodeNotFound
	}

	n.active = false
	n.suspend()

	n.driverNode.removeFollower(n)
	n.driverNode.rt.activation.ClearSegmentOwner(n.id)

	for _, f := range append([]*Node(nil), n.followers...) {
		if f != n {
			f.SetDriver(nil)
		}
	}

	for _, p := range n.inputPorts {
		for _, l := range append([]*Link(nil), p.links...) {
			g.removeLink(l)
		}
		p.clear()
	}
	for _, p := range n.outputPorts {
		for _, l := range append([]*Link(nil), p.links...) {
			g.removeLink(l)
		}
		p.clear()
	}

	delete(g.nodes, n.id)
	slog.Info("Node removed", "graph", g.name, "node", n.name, "id", n.id)
	g.emit(NodeRemoved{BaseNodeEvent{ID: n.id, Name: n.name}})

	g.recalcLocked()
	return nil
}

// FindNode returns the node with the given id.
func (g *Graph) FindNode(id uint32) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}

// Nodes returns a snapshot of all nodes.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Connect links an output port to an input port and recalculates the
// dependency edges. Invalid operations are rejected synchronously with
// no partial mutation.
func (g *Graph) Connect(output, input *Port) (*Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return nil, ErrLoopStopped
	}

	l, err := newLink(g, output, input)
	if err != nil {
		return nil, err
	}
	g.links = append(g.links, l)

	if output.node.active && input.node.active {
		if err := l.activate(); err != nil {
			g.removeLink(l)
			return nil, err
		}
	}
	g.recalcLocked()
	return l, nil
}

// Disconnect tears a link down and recalculates the graph.
func (g *Graph) Disconnect(l *Link) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return ErrLoopStopped
	}
	g.removeLink(l)
	g.recalcLocked()
	return nil
}

func (g *Graph) removeLink(l *Link) {
	l.destroy()
	for i, cur := range g.links {
		if cur == l {
			g.links = append(g.links[:i], g.links[i+1:]...)
			return
		}
	}
}

// SetActive marks a node schedulable or takes it out of rotation. An
// activated node starts running once the recalculation placed it in a
// partition; deactivation is the first phase of the two-phase stop.
func (g *Graph) SetActive(n *Node, active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return ErrLoopStopped
	}
	if n.active == active {
		return nil
	}
	slog.Debug("Node active changed", "node", n.name, "active", active)

	if !active {
		n.active = false
		if err := n.pause(); err != nil {
			return err
		}
	} else {
		n.active = true
		n.activateLinks()
	}
	g.recalcLocked()
	return nil
}

// Recalc recomputes driver partitions and starts or stops nodes
// accordingly. Runs on every topology change.
func (g *Graph) Recalc() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return
	}
	g.recalcLocked()
}

// recalcLocked walks the links from every active driver and assigns each
// reachable active node to that driver's partition. Active nodes no
// driver reaches either want a fallback driver or drive themselves.
func (g *Graph) recalcLocked() {
	assigned := make(map[uint32]*Node, len(g.nodes))
	var fallback *Node

	for _, d := range g.nodes {
		if !d.driver || !d.active {
			continue
		}
		if fallback == nil || d.id < fallback.id {
			fallback = d
		}
		g.collectPartition(d, d, assigned)
	}

	for _, n := range g.nodes {
		if !n.active {
			if n.state == NodeStateRunning {
				n.pause()
			}
			continue
		}
		driver, ok := assigned[n.id]
		if !ok {
			if n.wantDriver && fallback != nil {
				driver = fallback
			} else {
				driver = n
			}
		}
		if n.driverNode != driver {
			n.SetDriver(driver)
		}
		if n.state < NodeStateRunning {
			n.start()
		}
	}
}

// collectPartition marks every active node linked (in either direction)
// to the current partition as driven by driver.
func (g *Graph) collectPartition(n, driver *Node, assigned map[uint32]*Node) {
	if _, ok := assigned[n.id]; ok {
		return
	}
	assigned[n.id] = driver

	for _, p := range n.inputPorts {
		for _, l := range p.links {
			if peer := l.output.node; peer.active {
				g.collectPartition(peer, driver, assigned)
			}
		}
	}
	for _, p := range n.outputPorts {
		for _, l := range p.links {
			if peer := l.input.node; peer.active {
				g.collectPartition(peer, driver, assigned)
			}
		}
	}
}

// Stop deactivates every node and shuts the data loop down. The event
// and result channels stay open; emission is suppressed after Stop and
// consumers exit through their own cancellation.
func (g *Graph) Stop() {
	if !g.stopped.CompareAndSwap(false, true) {
		return
	}
	g.mu.Lock()
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.mu.Unlock()

	slog.Info("Stopping graph", "graph", g.name)
	for _, n := range nodes {
		n.active = false
		n.suspend()
	}
	g.loop.Stop()
	slog.Info("Graph stopped", "graph", g.name)
}
