package graph

// Target is a lightweight cross-node reference: enough state to wake up a
// dependent when a node finishes. Drivers, followers and remote peers all
// go through the same shape; Node is nil for peers that are only reachable
// through their shared activation.
type Target struct {
	Activation *Activation
	Node       *Node
	Signal     func() // wake callback, must not block

	handle TargetHandle
}

// TargetHandle is a stable reference into a target list.
type TargetHandle int32

const invalidHandle TargetHandle = -1

// targetList is a slot map of targets: stable handles, O(1) remove from
// the middle. It is only mutated under a loop invoke and iterated by the
// real-time context, so it needs no locking of its own.
type targetList struct {
	slots []*Target
	free  []TargetHandle
	count int
}

// Add inserts a target and records its handle.
func (l *targetList) Add(t *Target) TargetHandle {
	var h TargetHandle
	if n := len(l.free); n > 0 {
		h = l.free[n-1]
		l.free = l.free[:n-1]
		l.slots[h] = t
	} else {
		h = TargetHandle(len(l.slots))
		l.slots = append(l.slots, t)
	}
	t.handle = h
	l.count++
	return h
}

// Remove drops a target by its handle.
func (l *targetList) Remove(h TargetHandle) {
	if h < 0 || int(h) >= len(l.slots) || l.slots[h] == nil {
		return
	}
	l.slots[h].handle = invalidHandle
	l.slots[h] = nil
	l.free = append(l.free, h)
	l.count--
}

// ForEach visits every live target in slot order.
func (l *targetList) ForEach(fn func(*Target)) {
	for _, t := range l.slots {
		if t != nil {
			fn(t)
		}
	}
}

// Len returns the number of live targets.
func (l *targetList) Len() int { return l.count }
