package graph

import "errors"

// Common errors
var (
	ErrNodeNotFound   = errors.New("node not found")
	ErrPortNotFound   = errors.New("port not found")
	ErrMixNotFound    = errors.New("mix not found")
	ErrNoFreeMix      = errors.New("no free mix available")
	ErrBuffersBusy    = errors.New("buffers still in use")
	ErrNoFormat       = errors.New("port has no negotiated format")
	ErrNodeExists     = errors.New("node already registered")
	ErrLoopStopped    = errors.New("loop is not running")
	ErrInvalidState   = errors.New("invalid node state")
	ErrAlreadyLinked  = errors.New("ports are already linked")
	ErrWrongDirection = errors.New("wrong port direction")
)
