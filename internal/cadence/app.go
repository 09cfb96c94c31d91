package cadence

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cadence/internal/api"
	"cadence/internal/metrics"
	"cadence/pkg/graph"
)

// App represents the main application
type App struct {
	config    *Config
	graph     *graph.Graph
	apiServer *api.Server
	exporter  *metrics.Exporter
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates a new application instance
func NewApp() *App {
	config, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	InitLogger(config)

	ctx, cancel := context.WithCancel(context.Background())

	g := graph.New(config.Graph.Name)

	apiServer := api.NewServer(strconv.Itoa(config.API.Port), g,
		graph.Fraction{Num: 1, Denom: config.Graph.Rate}, config.Graph.Quantum, config.Graph.SyncTimeout)

	var exporter *metrics.Exporter
	if config.Metrics.Enabled {
		exporter, err = metrics.NewExporter(g, metrics.Options{
			Port:     config.Metrics.Port,
			Interval: config.Metrics.Interval,
		})
		if err != nil {
			slog.Error("Failed to create metrics exporter", "err", err)
			os.Exit(1)
		}
	}

	return &App{
		config:    config,
		graph:     g,
		apiServer: apiServer,
		exporter:  exporter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Graph returns the scheduling graph.
func (app *App) Graph() *graph.Graph { return app.graph }

// Start starts the application
func (app *App) Start() {
	slog.Info("Application starting...")

	if err := app.apiServer.Start(); err != nil {
		slog.Error("Failed to start API server", "err", err)
		os.Exit(1)
	}
	slog.Info("API Server started", "port", app.config.API.Port)

	if app.exporter != nil {
		app.exporter.Start(app.ctx)
		slog.Info("Metrics exporter started", "port", app.config.Metrics.Port)
	}

	go app.eventLoop()

	app.waitForShutdown()
}

// eventLoop drains the graph's asynchronous events into the log and the
// metrics exporter.
func (app *App) eventLoop() {
	events := app.graph.Events()
	results := app.graph.Results()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			app.handleEvent(e)
		case r, ok := <-results:
			if !ok {
				return
			}
			if r.Err != nil {
				slog.Warn("Async operation failed", "seq", r.Seq, "node", r.ID, "err", r.Err)
			}
		case <-app.ctx.Done():
			slog.Info("Event loop stopping...")
			return
		}
	}
}

func (app *App) handleEvent(e graph.NodeEvent) {
	switch ev := e.(type) {
	case graph.XRunEvent:
		slog.Warn("XRun", "node", ev.Name, "count", ev.Count, "delay", ev.Delay)
		if app.exporter != nil {
			app.exporter.RecordXRun(ev.Name)
		}
	case graph.SyncTimeoutEvent:
		slog.Warn("Sync timeout", "driver", ev.Name, "pending", len(ev.Pending))
	case graph.NodeStateChanged:
		slog.Info("Node state", "node", ev.Name, "old", ev.Old, "state", ev.State)
	case graph.DriverChanged:
		slog.Info("Driver change", "node", ev.Name, "old", ev.OldDriver, "new", ev.NewDriver)
	}
}

// waitForShutdown waits for shutdown signals and performs graceful shutdown
func (app *App) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down application", "signal", sig)
	case <-app.ctx.Done():
		slog.Info("Context cancelled, shutting down application")
	}

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *App) shutdown() {
	slog.Info("Stopping application...")

	app.cancel()

	// The control plane stops taking requests before the graph goes away.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.apiServer.Shutdown(ctx); err != nil {
		slog.Warn("API server shutdown error", "err", err)
	}

	if app.exporter != nil {
		app.exporter.Stop()
	}

	app.graph.Stop()

	slog.Info("Application stopped successfully")
}
