package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cadence/pkg/graph"
)

// NodeResponse is the wire form of a node stats snapshot.
type NodeResponse struct {
	ID       uint32     `json:"id"`
	Name     string     `json:"name"`
	State    string     `json:"state"`
	Driver   uint32     `json:"driver"`
	Driving  bool       `json:"driving"`
	Exported bool       `json:"exported"`
	Pending  int32      `json:"pending"`
	Required int32      `json:"required"`
	Status   string     `json:"status"`
	CPULoad  [3]float32 `json:"cpu_load"`
	XRuns    uint32     `json:"xruns"`
	MaxDelay uint64     `json:"max_delay_ns"`
	Position string     `json:"position"`
	Quantum  uint64     `json:"quantum"`
	Rate     uint32     `json:"rate"`
}

func nodeResponse(s graph.NodeStats) NodeResponse {
	return NodeResponse{
		ID:       s.ID,
		Name:     s.Name,
		State:    s.State.String(),
		Driver:   s.Driver,
		Driving:  s.Driving,
		Exported: s.Exported,
		Pending:  s.Pending,
		Required: s.Required,
		Status:   s.Status.String(),
		CPULoad:  s.CPULoad,
		XRuns:    s.XRunCount,
		MaxDelay: s.MaxDelay,
		Position: s.PositionState.String(),
		Quantum:  s.Duration,
		Rate:     s.Rate.Denom,
	}
}

func (s *Server) findNode(c *gin.Context) *graph.Node {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
		return nil
	}
	n := s.graph.FindNode(uint32(id))
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return nil
	}
	return n
}

// StatusHandler handles GET /api/v1/status
func (s *Server) StatusHandler(c *gin.Context) {
	nodes := s.graph.Nodes()
	drivers := 0
	for _, n := range nodes {
		if n.Driving() && n.State() == graph.NodeStateRunning {
			drivers++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"graph":           s.graph.Name(),
		"nodes":           len(nodes),
		"running_drivers": drivers,
	})
}

// ListNodesHandler handles GET /api/v1/nodes
func (s *Server) ListNodesHandler(c *gin.Context) {
	nodes := s.graph.Nodes()
	out := make([]NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeResponse(n.Stats()))
	}
	c.JSON(http.StatusOK, out)
}

// GetNodeHandler handles GET /api/v1/nodes/:id
func (s *Server) GetNodeHandler(c *gin.Context) {
	n := s.findNode(c)
	if n == nil {
		return
	}
	c.JSON(http.StatusOK, nodeResponse(n.Stats()))
}

// CreateNodeRequest is the request body for node creation.
type CreateNodeRequest struct {
	Name       string `json:"name" binding:"required"`
	Driver     bool   `json:"driver"`
	WantDriver bool   `json:"want_driver"`
}

// CreateNodeHandler handles POST /api/v1/nodes
func (s *Server) CreateNodeHandler(c *gin.Context) {
	var req CreateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := s.graph.AddNode(graph.NodeConfig{
		Name:       req.Name,
		Driver:     req.Driver,
		WantDriver: req.WantDriver,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.Driver {
		if err := n.SetClock(s.quantum, s.rate); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := n.SetSyncTimeout(s.syncTimeout); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, nodeResponse(n.Stats()))
}

// RemoveNodeHandler handles DELETE /api/v1/nodes/:id
func (s *Server) RemoveNodeHandler(c *gin.Context) {
	n := s.findNode(c)
	if n == nil {
		return
	}
	if err := s.graph.RemoveNode(n); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n.ID()})
}

// AddPortRequest is the request body for port creation.
type AddPortRequest struct {
	Direction string `json:"direction" binding:"required"` // "input" or "output"
}

// AddPortHandler handles POST /api/v1/nodes/:id/ports
func (s *Server) AddPortHandler(c *gin.Context) {
	n := s.findNode(c)
	if n == nil {
		return
	}
	var req AddPortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var dir graph.Direction
	switch req.Direction {
	case "input":
		dir = graph.DirectionInput
	case "output":
		dir = graph.DirectionOutput
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be input or output"})
		return
	}
	p := n.AddPort(dir)
	c.JSON(http.StatusCreated, gin.H{
		"node":      n.ID(),
		"port":      p.ID(),
		"direction": p.Direction().String(),
	})
}

// SetActiveRequest is the request body for activation changes.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActiveHandler handles POST /api/v1/nodes/:id/active
func (s *Server) SetActiveHandler(c *gin.Context) {
	n := s.findNode(c)
	if n == nil {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.graph.SetActive(n, *req.Active); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, nodeResponse(n.Stats()))
}

// CommandRequest is the request body for transport commands.
type CommandRequest struct {
	Command string `json:"command" binding:"required"` // "start" or "stop"
}

// CommandHandler handles POST /api/v1/nodes/:id/command
func (s *Server) CommandHandler(c *gin.Context) {
	n := s.findNode(c)
	if n == nil {
		return
	}
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Command {
	case "start":
		n.PostCommand(graph.CommandStart)
	case "stop":
		n.PostCommand(graph.CommandStop)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "command must be start or stop"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"node": n.ID(), "command": req.Command})
}

// RepositionRequest is the request body for a seek.
type RepositionRequest struct {
	Position uint64  `json:"position"`
	Start    uint64  `json:"start"`
	Duration uint64  `json:"duration"`
	Rate     float64 `json:"rate"`
}

// RepositionHandler handles POST /api/v1/nodes/:id/reposition
func (s *Server) RepositionHandler(c *gin.Context) {
	n := s.findNode(c)
	if n == nil {
		return
	}
	var req RepositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rate := req.Rate
	if rate == 0 {
		rate = 1.0
	}
	n.RequestReposition(graph.Segment{
		Start:    req.Start,
		Duration: req.Duration,
		Rate:     rate,
		Position: req.Position,
	})
	c.JSON(http.StatusAccepted, gin.H{"node": n.ID()})
}

// CreateLinkRequest is the request body for linking two ports.
type CreateLinkRequest struct {
	OutputNode uint32 `json:"output_node" binding:"required"`
	OutputPort uint32 `json:"output_port"`
	InputNode  uint32 `json:"input_node" binding:"required"`
	InputPort  uint32 `json:"input_port"`
}

// CreateLinkHandler handles POST /api/v1/links
func (s *Server) CreateLinkHandler(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outNode := s.graph.FindNode(req.OutputNode)
	inNode := s.graph.FindNode(req.InputNode)
	if outNode == nil || inNode == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	out := outNode.FindPort(graph.DirectionOutput, req.OutputPort)
	in := inNode.FindPort(graph.DirectionInput, req.InputPort)
	if out == nil || in == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "port not found"})
		return
	}

	if _, err := s.graph.Connect(out, in); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"output_node": outNode.ID(),
		"output_port": out.ID(),
		"input_node":  inNode.ID(),
		"input_port":  in.ID(),
	})
}
