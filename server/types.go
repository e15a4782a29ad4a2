package server

import (
	"time"

	"github.com/teranos/ytmp3/pulse/async"
)

const (
	// ShutdownTimeout is how long to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second

	// wsWriteTimeout bounds each WebSocket write
	wsWriteTimeout = 10 * time.Second
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Refusing new work, finishing in-flight requests
	ServerStateStopped                     // Listener closed
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrorResponse is the JSON body of every non-2xx API response
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"` // Validation reason code
	Key    string `json:"key,omitempty"`
}

// WatchMessage is the single frame pushed on /ws/watch before close
type WatchMessage struct {
	Key   string     `json:"key"`
	Job   *async.Job `json:"job,omitempty"`
	Error string     `json:"error,omitempty"`
}

// MemoryStats reports host memory in the health response
type MemoryStats struct {
	UsedGB  float64 `json:"used_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// HealthResponse is returned by /api/health
type HealthResponse struct {
	Status      string      `json:"status"`
	State       string      `json:"state"`
	Version     string      `json:"version"`
	Commit      string      `json:"commit"`
	BuildTime   string      `json:"build_time"`
	WatchedKeys int         `json:"watched_keys"`
	QueueDepth  *int        `json:"queue_depth,omitempty"`
	Memory      MemoryStats `json:"memory"`
}
