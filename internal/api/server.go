package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cadence/pkg/graph"
)

// Server represents the API server
type Server struct {
	router *gin.Engine
	server *http.Server
	port   string

	graph       *graph.Graph
	rate        graph.Fraction
	quantum     uint64
	syncTimeout time.Duration
}

// NewServer creates a new API server instance
func NewServer(port string, g *graph.Graph, rate graph.Fraction, quantum uint64, syncTimeout time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	return &Server{
		router:      router,
		port:        port,
		graph:       g,
		rate:        rate,
		quantum:     quantum,
		syncTimeout: syncTimeout,
	}
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.StatusHandler)
		v1.GET("/nodes", s.ListNodesHandler)
		v1.GET("/nodes/:id", s.GetNodeHandler)
		v1.POST("/nodes", s.CreateNodeHandler)
		v1.DELETE("/nodes/:id", s.RemoveNodeHandler)
		v1.POST("/nodes/:id/ports", s.AddPortHandler)
		v1.POST("/nodes/:id/active", s.SetActiveHandler)
		v1.POST("/nodes/:id/command", s.CommandHandler)
		v1.POST("/nodes/:id/reposition", s.RepositionHandler)
		v1.POST("/links", s.CreateLinkHandler)
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.SetupRoutes()
	s.server = &http.Server{Addr: ":" + s.port, Handler: s.router}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "err", err)
		}
	}()

	return nil
}

// Shutdown stops accepting requests and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// GetRouter returns the gin router (for testing)
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
