package remote

import (
	"log/slog"
	"sync"

	"cadence/pkg/graph"
)

// Peer wires an exported node into a graph. The scheduler wakes the
// node by posting a token on the wake signaler instead of touching its
// loop directly; the peer side acks the token and runs the cycle on its
// own loop, which resumes the host-side dependents through the shared
// activation record. Dependency accounting stays entirely on the host:
// an exported node never registers with the driver, the peer only
// consumes wakes.
type Peer struct {
	node *graph.Node
	loop *graph.Loop
	sig  *Signaler

	stopOnce sync.Once
	done     chan struct{}
}

// Export adds an exported node to the graph and starts the peer side
// servicing its wakes over the transport.
func Export(g *graph.Graph, cfg graph.NodeConfig, tr Transport) (*Peer, error) {
	cfg.Exported = true
	loop := graph.NewLoop(cfg.Name + "-peer")
	cfg.Loop = loop

	n, err := g.AddNode(cfg)
	if err != nil {
		loop.Stop()
		return nil, err
	}

	if lt, ok := tr.(*LocalTransport); ok {
		lt.Register(n.ID(), n.Activation())
	}
	sig, err := tr.WakePair(n.ID())
	if err != nil {
		g.RemoveNode(n)
		loop.Stop()
		return nil, err
	}

	p := &Peer{
		node: n,
		loop: loop,
		sig:  sig,
		done: make(chan struct{}),
	}
	n.SetWakeHandler(func() {
		if err := sig.Wake(); err != nil {
			slog.Warn("peer wake failed", "node", n.Name(), "err", err)
		}
	})
	go p.run()
	return p, nil
}

// Node returns the host-side node the peer drives.
func (p *Peer) Node() *graph.Node { return p.node }

func (p *Peer) run() {
	defer close(p.done)
	for {
		if err := p.sig.Ack(); err != nil {
			return
		}
		p.loop.Post(p.node.RunCycle)
	}
}

// Stop detaches the peer. The node stays in the graph; callers remove
// it through the graph as usual.
func (p *Peer) Stop() {
	p.stopOnce.Do(func() {
		p.node.SetWakeHandler(nil)
		p.sig.Close()
		<-p.done
		p.loop.Stop()
	})
}
