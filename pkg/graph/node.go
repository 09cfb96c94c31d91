package graph

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// NodeState is the externally visible lifecycle state of a node.
type NodeState int8

const (
	NodeStateError NodeState = iota - 1
	NodeStateCreating
	NodeStateSuspended
	NodeStateIdle
	NodeStateRunning
)

func (s NodeState) String() string {
	switch s {
	case NodeStateError:
		return "error"
	case NodeStateCreating:
		return "creating"
	case NodeStateSuspended:
		return "suspended"
	case NodeStateIdle:
		return "idle"
	case NodeStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// NodeConfig describes a node to add to the graph.
type NodeConfig struct {
	Name string

	// Driver marks a node with its own clock source, able to drive a
	// partition.
	Driver bool

	// WantDriver schedules the node even when it has no links yet.
	WantDriver bool

	// Exported nodes run their cycle in another process; they do not
	// participate in local dependency accounting.
	Exported bool

	// Loop overrides the graph data loop, used by exported peers that
	// bring their own real-time context.
	Loop *Loop

	Processor Processor
}

// rtState is everything the real-time context touches. It is only
// mutated under a loop invoke.
type rtState struct {
	activation *Activation

	// Our entry in the driver's target list and the driver's entry in
	// our own list (bidirectional wake capability).
	target       Target
	targetHandle TargetHandle
	driverTarget Target
	driverHandle TargetHandle

	// Dependents resumed when this node finishes.
	targets targetList

	inputMixes  []*Mix
	outputMixes []*Mix

	position *Position
	added    bool
}

func (rt *rtState) addMix(m *Mix) {
	if m.port.direction == DirectionInput {
		rt.inputMixes = append(rt.inputMixes, m)
	} else {
		rt.outputMixes = append(rt.outputMixes, m)
	}
}

func (rt *rtState) removeMix(m *Mix) {
	list := &rt.outputMixes
	if m.port.direction == DirectionInput {
		list = &rt.inputMixes
	}
	for i, cur := range *list {
		if cur == m {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// Node is one scheduling unit of the graph: it owns ports, an activation
// record and the target list of dependents it resumes on completion.
type Node struct {
	graph *Graph
	id    uint32
	name  string
	proc  Processor
	loop  *Loop

	activation *Activation

	driver     bool
	wantDriver bool
	exported   bool
	active     bool

	state      NodeState
	stateError string

	driverNode *Node
	followers  []*Node

	inputPorts  map[uint32]*Port
	outputPorts map[uint32]*Port
	nextPortID  [2]uint32

	timer  *LoopTimer
	wakeFn atomic.Pointer[func()]

	rt rtState
}

func newNode(g *Graph, id uint32, cfg NodeConfig) *Node {
	n := &Node{
		graph:       g,
		id:          id,
		name:        cfg.Name,
		proc:        cfg.Processor,
		loop:        cfg.Loop,
		driver:      cfg.Driver,
		wantDriver:  cfg.WantDriver,
		exported:    cfg.Exported,
		state:       NodeStateCreating,
		inputPorts:  make(map[uint32]*Port),
		outputPorts: make(map[uint32]*Port),
	}
	if n.loop == nil {
		n.loop = g.loop
	}

	n.activation = &Activation{}
	n.activation.Init()
	n.activation.Position.Clock.ID = id

	n.rt.activation = n.activation
	n.rt.target = Target{Activation: n.activation, Node: n, Signal: n.wake}
	n.rt.targetHandle = invalidHandle
	n.rt.driverTarget = Target{Signal: n.wake}
	n.rt.driverHandle = invalidHandle
	n.rt.position = &n.activation.Position

	// Every node starts as its own driver.
	n.driverNode = n
	n.followers = []*Node{n}
	return n
}

// ID returns the node id.
func (n *Node) ID() uint32 { return n.id }

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// State returns the lifecycle state.
func (n *Node) State() NodeState { return n.state }

// IsDriver reports whether the node can drive a partition.
func (n *Node) IsDriver() bool { return n.driver }

// Driving reports whether the node currently drives its partition.
func (n *Node) Driving() bool { return n.driver && n.driverNode == n }

// DriverNode returns the driver of the node's partition.
func (n *Node) DriverNode() *Node { return n.driverNode }

// Activation exposes the node's activation record.
func (n *Node) Activation() *Activation { return n.activation }

// Position returns the shared timeline the node follows.
func (n *Node) Position() *Position { return n.rt.position }

// AddPort creates a new port in the given direction.
func (n *Node) AddPort(direction Direction) *Port {
	idx := 0
	ports := n.inputPorts
	if direction == DirectionOutput {
		idx = 1
		ports = n.outputPorts
	}
	id := n.nextPortID[idx]
	n.nextPortID[idx]++
	p := newPort(n, direction, id)
	ports[id] = p
	slog.Debug("Port added", "node", n.name, "direction", direction, "port", id)
	return p
}

// FindPort returns the port with the given direction and id, or nil.
func (n *Node) FindPort(direction Direction, id uint32) *Port {
	if direction == DirectionInput {
		return n.inputPorts[id]
	}
	return n.outputPorts[id]
}

// wake delivers the trigger signal to the node. In-process and on the
// same loop this recurses synchronously into the cycle; across loops it
// posts a wake token instead.
func (n *Node) wake() {
	if fn := n.wakeFn.Load(); fn != nil {
		(*fn)()
		return
	}
	if n.loop.InLoop() {
		n.onSignal()
	} else {
		n.loop.Post(n.onSignal)
	}
}

// SetWakeHandler redirects the node's wake signal. An exported node is
// woken through a descriptor instead of its local loop; the remote side
// then calls RunCycle from its own loop context. The handler is read by
// the cascade on every resume, so the swap is atomic and safe while
// cycles run.
func (n *Node) SetWakeHandler(fn func()) {
	if fn == nil {
		n.wakeFn.Store(nil)
		return
	}
	n.wakeFn.Store(&fn)
}

// RunCycle executes one cycle on behalf of an exported node. Must be
// called from the node's own loop.
func (n *Node) RunCycle() {
	n.processCycle()
}

// onSignal runs when the node's pending count reached zero. For a node
// currently driving its partition this is the completion of the cascade;
// for everything else it is the start of the node's cycle.
func (n *Node) onSignal() {
	if n.driverNode == n && !n.exported {
		n.completeCycle()
	} else {
		n.processCycle()
	}
}

// processCycle is the per-node hot path: deliver queued input buffers,
// run the processor, distribute produced output, then resume dependents.
// It runs on the real-time loop and never allocates or blocks.
func (n *Node) processCycle() {
	a := n.rt.activation
	a.SetStatus(Awake)
	a.AwakeTime = nowNsec()

	// Acknowledge a pending synced state change; the driver checks every
	// member before declaring the partition ready.
	if a.PendingSync {
		a.PendingNewPos = false
		a.PendingSync = false
	}

	for _, m := range n.rt.inputMixes {
		m.processInput()
	}

	status := StatusHaveData
	if n.proc != nil {
		status = n.proc.Process()
	}
	a.State[SyncPrimary].status = int32(status)

	if status.HasData() {
		for _, m := range n.rt.outputMixes {
			m.processOutput()
		}
	}

	if status&StatusError != 0 {
		// Hard faults never unwind across the trigger protocol; they
		// surface out-of-band and the cascade continues.
		n.graph.emit(XRunEvent{BaseNodeEvent: BaseNodeEvent{ID: n.id, Name: n.name},
			Trigger: a.AwakeTime, Delay: 0, Count: a.XRunCount})
		n.graph.postResult(0, n.id, fmt.Errorf("node %q: process failed", n.name))
	}

	n.resume(status)
}

// resume finishes the node's cycle and decrements every dependent's
// pending count, signaling exactly those that reached zero. For the
// partition driver this is the fan-out at the start of the cascade.
func (n *Node) resume(status Status) {
	a := n.rt.activation
	nsec := nowNsec()

	if n.driverNode != n || n.exported {
		a.SetStatus(Finished)
		a.FinishTime = nsec
	}

	n.rt.targets.ForEach(func(t *Target) {
		state := &t.Activation.State[SyncPrimary]
		if state.Dec(1) {
			if t.Activation.Status() == NotTriggered {
				t.Activation.SetStatus(Triggered)
				t.Activation.SignalTime = nsec
			}
			t.Signal()
		}
	})
}

// addToDriver registers the node with its driver partition: one target
// slot on each side, one required count on each side. Exported nodes do
// their accounting in the remote process.
func (n *Node) addToDriver(driver *Node) {
	if n.exported || n.rt.added {
		return
	}
	n.rt.driverTarget.Activation = driver.rt.activation
	n.rt.driverTarget.Node = driver
	n.rt.driverHandle = n.rt.targets.Add(&n.rt.driverTarget)
	rdriver := driver.rt.activation.State[SyncPrimary].AddRequired(1)

	n.rt.targetHandle = driver.rt.targets.Add(&n.rt.target)
	rnode := n.rt.activation.State[SyncPrimary].AddRequired(1)

	n.rt.added = true
	slog.Debug("Node added to driver", "node", n.name, "driver", driver.name,
		"requiredDriver", rdriver, "requiredNode", rnode)
}

// removeFromDriver reverses addToDriver. It must run before the node's
// activation goes away.
func (n *Node) removeFromDriver() {
	if n.exported || !n.rt.added {
		return
	}
	driver := n.rt.driverTarget.Node

	n.rt.targets.Remove(n.rt.driverHandle)
	n.rt.driverHandle = invalidHandle
	rdriver := n.rt.driverTarget.Activation.State[SyncPrimary].AddRequired(-1)

	driver.rt.targets.Remove(n.rt.targetHandle)
	n.rt.targetHandle = invalidHandle
	rnode := n.rt.activation.State[SyncPrimary].AddRequired(-1)

	n.rt.added = false
	slog.Debug("Node removed from driver", "node", n.name, "driver", driver.name,
		"requiredDriver", rdriver, "requiredNode", rnode)
}

// SetDriver migrates the node to a new driver partition: counters move
// atomically with the membership under a single loop invoke, the node's
// position pointer follows the new driver's shared position.
func (n *Node) SetDriver(driver *Node) error {
	if driver == nil {
		driver = n
	}
	old := n.driverNode

	old.removeFollower(n)
	driver.followers = append(driver.followers, n)

	if old == driver {
		return nil
	}

	old.rt.activation.ClearSegmentOwner(n.id)

	slog.Info("Node driver changed", "node", n.name, "old", old.name, "new", driver.name,
		"driving", driver == n)
	n.driverNode = driver

	if n.proc != nil {
		if err := n.proc.SetIO(IOPosition, &driver.rt.activation.Position); err != nil {
			slog.Warn("Set position failed", "node", n.name, "err", err)
		}
	}

	err := n.loop.Invoke(func() {
		if n.rt.added {
			n.removeFromDriver()
			n.addToDriver(driver)
		}
		n.rt.position = &driver.rt.activation.Position
	})
	if err != nil {
		return err
	}

	n.graph.emit(DriverChanged{BaseNodeEvent: BaseNodeEvent{ID: n.id, Name: n.name},
		OldDriver: old.id, NewDriver: driver.id})
	return nil
}

func (n *Node) removeFollower(f *Node) {
	for i, cur := range n.followers {
		if cur == f {
			n.followers = append(n.followers[:i], n.followers[i+1:]...)
			return
		}
	}
}

// setState transitions the lifecycle state and emits the change event.
func (n *Node) setState(state NodeState, errMsg string) {
	old := n.state
	if old == state {
		return
	}
	n.state = state
	n.stateError = errMsg
	slog.Debug("Node state changed", "node", n.name, "old", old, "state", state)
	n.graph.emit(NodeStateChanged{BaseNodeEvent: BaseNodeEvent{ID: n.id, Name: n.name},
		Old: old, State: state, Error: errMsg})
}

// start brings the node into the running partition: register with the
// driver under an invoke, start the processor and, when driving, the
// cycle timer.
func (n *Node) start() error {
	if n.state >= NodeStateRunning {
		return nil
	}
	if err := n.loop.Invoke(func() {
		n.addToDriver(n.driverNode)
	}); err != nil {
		return err
	}

	if n.proc != nil {
		if n.Driving() {
			if err := n.proc.SetIO(IOClock, &n.rt.activation.Position.Clock); err != nil {
				slog.Warn("Set clock failed", "node", n.name, "err", err)
			}
		}
		if err := n.proc.SendCommand(NodeCommandStart); err != nil {
			n.setState(NodeStateError, err.Error())
			return err
		}
	}

	if n.Driving() && n.timer == nil {
		interval := time.Duration(n.rt.activation.Position.Clock.CycleNsec())
		if interval <= 0 {
			interval = time.Duration(DefaultQuantum) * time.Second / DefaultRate
		}
		n.timer = n.loop.AddTimer(interval, n.driverCycle)
	}

	n.setState(NodeStateRunning, "")
	return nil
}

// pause is the two-phase stop: first deactivate so no future cascade
// reaches the node, then command the processor to pause. The command may
// be acknowledged asynchronously through the result channel.
func (n *Node) pause() error {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.deactivateLinks()

	if err := n.loop.Invoke(func() {
		n.removeFromDriver()
	}); err != nil {
		return err
	}

	if n.proc != nil {
		if err := n.proc.SendCommand(NodeCommandPause); err != nil {
			slog.Debug("Pause node error", "node", n.name, "err", err)
			return err
		}
	}
	n.setState(NodeStateIdle, "")
	return nil
}

// suspend pauses the node and clears all port formats, forcing a fresh
// negotiation before the node runs again.
func (n *Node) suspend() error {
	if n.state <= NodeStateSuspended {
		return nil
	}
	if err := n.pause(); err != nil {
		slog.Debug("Suspend: pause failed", "node", n.name, "err", err)
	}
	for _, p := range n.inputPorts {
		p.SetFormat(nil)
	}
	for _, p := range n.outputPorts {
		p.SetFormat(nil)
	}
	if n.proc != nil {
		if err := n.proc.SetParam(ParamFormat, nil); err != nil {
			slog.Debug("Clear format error", "node", n.name, "err", err)
		}
		if err := n.proc.SendCommand(NodeCommandSuspend); err != nil {
			slog.Debug("Suspend node error", "node", n.name, "err", err)
		}
	}
	n.setState(NodeStateSuspended, "")
	return nil
}

func (n *Node) deactivateLinks() {
	for _, p := range n.inputPorts {
		for _, l := range p.links {
			l.deactivate()
		}
	}
	for _, p := range n.outputPorts {
		for _, l := range p.links {
			l.deactivate()
		}
	}
}

func (n *Node) activateLinks() {
	for _, p := range n.inputPorts {
		for _, l := range p.links {
			l.activate()
		}
	}
	for _, p := range n.outputPorts {
		for _, l := range p.links {
			l.activate()
		}
	}
}

// PostCommand posts a start or stop command into the node's driver
// partition; the driver consumes it at the start of its next cycle.
func (n *Node) PostCommand(cmd Command) {
	n.driverNode.rt.activation.PostCommand(cmd)
}

// RequestReposition publishes a segment reposition request: the segment
// goes into this node's activation, the ownership marker into the
// driver's, where the next cycle picks it up.
func (n *Node) RequestReposition(seg Segment) {
	n.rt.activation.Reposition = seg
	n.driverNode.rt.activation.SetRepositionOwner(n.id)
}

// ClaimSegmentOwner makes this node the owner of the bar (slot 0) or
// video (slot 1) segment info of its partition.
func (n *Node) ClaimSegmentOwner(slot int) {
	if slot < 0 || slot > 1 {
		return
	}
	n.driverNode.rt.activation.SegmentOwner[slot].Store(n.id)
}

// XRun records an over/underrun reported for this node.
func (n *Node) XRun(trigger, delay uint64) {
	a := n.rt.activation
	a.recordXRun(trigger, delay)
	slog.Debug("XRun", "node", n.name, "count", a.XRunCount,
		"trigger", trigger, "delay", delay, "max", a.MaxDelay)
	n.graph.emit(XRunEvent{BaseNodeEvent: BaseNodeEvent{ID: n.id, Name: n.name},
		Trigger: trigger, Delay: delay, Count: a.XRunCount})
}
