package metrics

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cadence/pkg/graph"
)

func TestExporterCollectsNodeGauges(t *testing.T) {
	g := graph.New("metrics-test")
	defer g.Stop()

	if _, err := g.AddNode(graph.NodeConfig{Name: "drv", Driver: true}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	reg := prom.NewRegistry()
	e, err := NewExporter(g, Options{Interval: time.Hour, Registry: reg})
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	e.collectOnce()

	got := testutil.ToFloat64(e.nodePending.WithLabelValues("drv"))
	if got != 0 {
		t.Errorf("Expected pending 0 for idle node, got %v", got)
	}
	got = testutil.ToFloat64(e.nodeState.WithLabelValues("drv"))
	if got != 0 {
		t.Errorf("Expected running gauge 0 for suspended node, got %v", got)
	}
}

func TestExporterRecordXRun(t *testing.T) {
	g := graph.New("metrics-test")
	defer g.Stop()

	e, err := NewExporter(g, Options{Registry: prom.NewRegistry()})
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	e.RecordXRun("drv")
	e.RecordXRun("drv")

	got := testutil.ToFloat64(e.xrunTotal.WithLabelValues("drv"))
	if got != 2 {
		t.Errorf("Expected 2 xrun events, got %v", got)
	}
}

func TestExporterStartStopIdempotent(t *testing.T) {
	g := graph.New("metrics-test")
	defer g.Stop()

	e, err := NewExporter(g, Options{Interval: 10 * time.Millisecond, Registry: prom.NewRegistry()})
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	ctx := context.Background()
	e.Start(ctx)
	e.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	e.Stop()
	e.Stop()
}

func TestRegisterCollectorReturnsExisting(t *testing.T) {
	reg := prom.NewRegistry()
	opts := prom.GaugeOpts{Name: "dup_gauge"}

	first, err := registerCollector(reg, prom.NewGaugeVec(opts, []string{"l"}))
	if err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	second, err := registerCollector(reg, prom.NewGaugeVec(opts, []string{"l"}))
	if err != nil {
		t.Fatalf("Second registration failed: %v", err)
	}
	if first != second {
		t.Error("Expected second registration to return the existing collector")
	}
}
