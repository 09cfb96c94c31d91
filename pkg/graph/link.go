package graph

import "log/slog"

// Link connects an output port to an input port. It owns a mix on each
// side sharing one buffer-exchange slot, and the target entry that lets
// the producer resume the consumer when its data is ready.
type Link struct {
	graph  *Graph
	output *Port
	input  *Port

	outMix *Mix
	inMix  *Mix
	io     IOBuffers

	// The dependency edge: the output node resumes the input node.
	target Target
	handle TargetHandle

	active bool
}

func newLink(g *Graph, output, input *Port) (*Link, error) {
	if output.direction != DirectionOutput || input.direction != DirectionInput {
		return nil, ErrWrongDirection
	}
	for _, l := range output.links {
		if l.input == input {
			return nil, ErrAlreadyLinked
		}
	}

	outMix, err := output.EnsureMix(uint32(len(output.links)))
	if err != nil {
		return nil, err
	}
	inMix, err := input.EnsureMix(uint32(len(input.links)))
	if err != nil {
		output.ReleaseMix(outMix)
		return nil, err
	}

	l := &Link{
		graph:  g,
		output: output,
		input:  input,
		outMix: outMix,
		inMix:  inMix,
		handle: invalidHandle,
	}
	l.io.Reset()
	in := input.node
	l.target = Target{Activation: in.rt.activation, Node: in, Signal: in.wake}

	output.links = append(output.links, l)
	input.links = append(input.links, l)

	slog.Info("Link created", "output", output.node.name, "outPort", output.id,
		"input", in.name, "inPort", input.id)
	return l, nil
}

// Output returns the producer port.
func (l *Link) Output() *Port { return l.output }

// Input returns the consumer port.
func (l *Link) Input() *Port { return l.input }

// activate installs the dependency edge and the shared exchange slot.
// The target list mutation and the required increment happen together
// under the producer's loop invoke so a cycle never observes half of it.
func (l *Link) activate() error {
	if l.active {
		return nil
	}
	if err := l.outMix.SetIO(&l.io); err != nil {
		return err
	}
	if err := l.inMix.SetIO(&l.io); err != nil {
		return err
	}

	out := l.output.node
	in := l.input.node
	if err := out.loop.Invoke(func() {
		l.handle = out.rt.targets.Add(&l.target)
		in.rt.activation.State[SyncPrimary].AddRequired(1)
	}); err != nil {
		return err
	}
	l.active = true
	slog.Debug("Link activated", "output", out.name, "input", in.name,
		"required", in.rt.activation.State[SyncPrimary].Required())
	return nil
}

// deactivate removes the dependency edge and detaches the exchange slot.
func (l *Link) deactivate() error {
	if !l.active {
		return nil
	}
	out := l.output.node
	in := l.input.node
	if err := out.loop.Invoke(func() {
		out.rt.targets.Remove(l.handle)
		l.handle = invalidHandle
		in.rt.activation.State[SyncPrimary].AddRequired(-1)
	}); err != nil {
		return err
	}
	l.outMix.SetIO(nil)
	l.inMix.SetIO(nil)
	l.active = false
	slog.Debug("Link deactivated", "output", out.name, "input", in.name)
	return nil
}

// destroy tears the link down and returns its mixes to their pools.
func (l *Link) destroy() {
	l.deactivate()
	l.output.ReleaseMix(l.outMix)
	l.input.ReleaseMix(l.inMix)
	removeLink(&l.output.links, l)
	removeLink(&l.input.links, l)
	slog.Info("Link destroyed", "output", l.output.node.name, "input", l.input.node.name)
}

func removeLink(list *[]*Link, l *Link) {
	for i, cur := range *list {
		if cur == l {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}
