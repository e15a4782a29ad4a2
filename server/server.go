// Package server exposes job submission, status queries and live watch
// streams over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/pulse/watch"
)

// Submitter admits a key for processing
type Submitter interface {
	Submit(ctx context.Context, key string) (*async.Job, error)
}

// JobReader reads the current record for a key
type JobReader interface {
	GetJob(ctx context.Context, key string) (*async.Job, error)
}

// DepthReporter reports outstanding queue messages
type DepthReporter interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds the collaborators and options for a Server
type Config struct {
	Submitter      Submitter
	Jobs           JobReader
	Watch          *watch.Multiplexer
	Queue          DepthReporter // optional, reported by /api/health
	FilesDir       string        // optional, served under /files/ for the fs backend
	AllowedOrigins []string
	CallTimeout    time.Duration
}

// Server is the HTTP front door for the job lifecycle
type Server struct {
	submitter      Submitter
	jobs           JobReader
	watch          *watch.Multiplexer
	queue          DepthReporter
	filesDir       string
	allowedOrigins []string
	callTimeout    time.Duration
	logger         *zap.SugaredLogger

	state atomic.Int32 // ServerState

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	handler  http.Handler
	wsConns  sync.WaitGroup
}

// New creates a server. Submitter, Jobs and Watch are required.
func New(cfg Config, log *zap.SugaredLogger) (*Server, error) {
	if cfg.Submitter == nil || cfg.Jobs == nil || cfg.Watch == nil {
		return nil, errors.New("server requires a submitter, job reader and multiplexer")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "https://localhost"}
	}
	s := &Server{
		submitter:      cfg.Submitter,
		jobs:           cfg.Jobs,
		watch:          cfg.Watch,
		queue:          cfg.Queue,
		filesDir:       cfg.FilesDir,
		allowedOrigins: cfg.AllowedOrigins,
		callTimeout:    cfg.CallTimeout,
		logger:         logger.AddServerSymbol(log.Named("server")),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Addr returns the bound listener address, or empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the port and serves in the background. Port 0 picks a free port.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.WithHintf(errors.Wrapf(err, "failed to bind port %d", port),
			"another process may be using port %d; set server.port in am.toml", port)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.state.Store(int32(ServerStateRunning))
	s.logger.Infow("Server listening", logger.FieldAddress, ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Server stopped unexpectedly", logger.FieldError, err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
// Watch streams end when the multiplexer stops, so stop it first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.state.Store(int32(ServerStateDraining))
	s.logger.Infow("Server draining")

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wsConns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("Watch connections still open at shutdown deadline")
	}

	s.state.Store(int32(ServerStateStopped))
	s.logger.Infow("Server stopped")
	if err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}
