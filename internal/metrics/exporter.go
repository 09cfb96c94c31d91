package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cadence/pkg/graph"
)

// Options controls exporter configuration.
type Options struct {
	Port     int
	Interval time.Duration
	Registry *prom.Registry
}

// Exporter periodically publishes node scheduling snapshots as Prometheus
// gauges and serves them over HTTP.
type Exporter struct {
	graph    *graph.Graph
	interval time.Duration
	port     int
	registry *prom.Registry

	nodePending  *prom.GaugeVec
	nodeRequired *prom.GaugeVec
	nodeState    *prom.GaugeVec
	cpuLoad      *prom.GaugeVec
	xrunSnapshot *prom.GaugeVec
	maxDelay     *prom.GaugeVec
	xrunTotal    *prom.CounterVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	server  *http.Server
}

// NewExporter creates an exporter and registers its collectors.
func NewExporter(g *graph.Graph, opts Options) (*Exporter, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	reg := opts.Registry
	if reg == nil {
		reg = prom.NewRegistry()
	}

	nodePending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cadence",
		Name:      "node_pending",
		Help:      "Pending dependency count per node.",
	}, []string{"node"})
	nodeRequired := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cadence",
		Name:      "node_required",
		Help:      "Required dependency count per node.",
	}, []string{"node"})
	nodeState := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cadence",
		Name:      "node_running",
		Help:      "Node lifecycle state (1=running, 0=otherwise).",
	}, []string{"node"})
	cpuLoad := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cadence",
		Name:      "node_cpu_load",
		Help:      "Smoothed cycle load per node at three time constants.",
	}, []string{"node", "window"})
	xrunSnapshot := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cadence",
		Name:      "node_xruns",
		Help:      "Over/underrun count snapshot per node.",
	}, []string{"node"})
	maxDelay := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cadence",
		Name:      "node_xrun_max_delay_ns",
		Help:      "Largest observed xrun delay per node in nanoseconds.",
	}, []string{"node"})
	xrunTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: "cadence",
		Name:      "xrun_events_total",
		Help:      "Total xrun events observed.",
	}, []string{"node"})

	var err error
	if nodePending, err = registerCollector(reg, nodePending); err != nil {
		return nil, err
	}
	if nodeRequired, err = registerCollector(reg, nodeRequired); err != nil {
		return nil, err
	}
	if nodeState, err = registerCollector(reg, nodeState); err != nil {
		return nil, err
	}
	if cpuLoad, err = registerCollector(reg, cpuLoad); err != nil {
		return nil, err
	}
	if xrunSnapshot, err = registerCollector(reg, xrunSnapshot); err != nil {
		return nil, err
	}
	if maxDelay, err = registerCollector(reg, maxDelay); err != nil {
		return nil, err
	}
	if xrunTotal, err = registerCollector(reg, xrunTotal); err != nil {
		return nil, err
	}

	return &Exporter{
		graph:        g,
		interval:     opts.Interval,
		port:         opts.Port,
		registry:     reg,
		nodePending:  nodePending,
		nodeRequired: nodeRequired,
		nodeState:    nodeState,
		cpuLoad:      cpuLoad,
		xrunSnapshot: xrunSnapshot,
		maxDelay:     maxDelay,
		xrunTotal:    xrunTotal,
	}, nil
}

// RecordXRun counts an xrun event as it happens, independent of the
// snapshot cadence.
func (e *Exporter) RecordXRun(nodeName string) {
	if e == nil {
		return
	}
	e.xrunTotal.WithLabelValues(nodeName).Inc()
}

// Start begins periodic polling and serves /metrics; repeated calls are
// no-ops.
func (e *Exporter) Start(ctx context.Context) {
	if e == nil {
		return
	}

	e.stateMu.Lock()
	if e.running {
		e.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	if e.port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.port), Handler: mux}
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "err", err)
			}
		}(e.server)
	}
	e.stateMu.Unlock()

	go e.loop(pollCtx)
}

// Stop stops polling and the metrics endpoint; repeated calls are safe.
func (e *Exporter) Stop() {
	if e == nil {
		return
	}

	e.stateMu.Lock()
	if !e.running {
		e.stateMu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	server := e.server
	e.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if server != nil {
		ctx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelShutdown()
		server.Shutdown(ctx)
	}

	e.stateMu.Lock()
	e.running = false
	e.cancel = nil
	e.done = nil
	e.server = nil
	e.stateMu.Unlock()
}

func (e *Exporter) loop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.collectOnce()
		}
	}
}

func (e *Exporter) collectOnce() {
	windows := [3]string{"fast", "medium", "slow"}
	for _, n := range e.graph.Nodes() {
		s := n.Stats()
		e.nodePending.WithLabelValues(s.Name).Set(float64(s.Pending))
		e.nodeRequired.WithLabelValues(s.Name).Set(float64(s.Required))
		if s.State == graph.NodeStateRunning {
			e.nodeState.WithLabelValues(s.Name).Set(1)
		} else {
			e.nodeState.WithLabelValues(s.Name).Set(0)
		}
		for i, w := range windows {
			e.cpuLoad.WithLabelValues(s.Name, w).Set(float64(s.CPULoad[i]))
		}
		e.xrunSnapshot.WithLabelValues(s.Name).Set(float64(s.XRunCount))
		e.maxDelay.WithLabelValues(s.Name).Set(float64(s.MaxDelay))
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
