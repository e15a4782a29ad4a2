package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/version"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/mp3/{key}", s.HandleSubmit)
	mux.HandleFunc("POST /api/mp3/{key}", s.HandleSubmit)
	mux.HandleFunc("GET /api/jobs/{key}", s.HandleStatus)
	mux.HandleFunc("GET /api/health", s.HandleHealth)
	mux.HandleFunc("GET /ws/watch", s.HandleWatch)

	if s.filesDir != "" {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(s.filesDir))))
	}

	return s.requestIDMiddleware(s.corsMiddleware(mux))
}

// corsMiddleware sets CORS headers for allowed origins and answers preflights
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags each request with an id, reusing the caller's if sent
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// checkOrigin validates WebSocket and CORS origins.
// Prefix matching allows any port on an allowed host.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// HandleSubmit admits a key and returns its job record
func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.State() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	key := r.PathValue("key")
	ctx, cancel := context.WithTimeout(logger.WithKey(r.Context(), key), s.callTimeout)
	defer cancel()
	log := logger.FromContext(ctx, s.logger)

	start := time.Now()
	job, err := s.submitter.Submit(ctx, key)
	if err != nil {
		writeWrappedError(w, log, err, "Submission failed", http.StatusInternalServerError)
		return
	}

	log.Debugw("Submission handled",
		logger.FieldStatus, job.Status,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, job)
}

// HandleStatus returns the current job record for a key
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	ctx, cancel := context.WithTimeout(logger.WithKey(r.Context(), key), s.callTimeout)
	defer cancel()

	job, err := s.getJob(ctx, key)
	if err != nil {
		writeWrappedError(w, logger.FromContext(ctx, s.logger), err, "Status lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleHealth reports build info, lifecycle state and host pressure
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	usedGB, totalGB, percent := async.HostMemory()

	resp := HealthResponse{
		Status:      "ok",
		State:       s.State().String(),
		Version:     info.Version,
		Commit:      info.CommitHash,
		BuildTime:   info.BuildTime,
		WatchedKeys: len(s.watch.Keys()),
		Memory: MemoryStats{
			UsedGB:  usedGB,
			TotalGB: totalGB,
			Percent: percent,
		},
	}

	if s.queue != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
		defer cancel()
		depth, err := s.queue.Depth(ctx)
		if err != nil {
			s.logger.Warnw("Queue depth unavailable", logger.FieldError, err)
			resp.Status = "degraded"
		} else {
			resp.QueueDepth = &depth
		}
	}

	status := http.StatusOK
	if s.State() != ServerStateRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) getJob(ctx context.Context, key string) (*async.Job, error) {
	if key == "" {
		return nil, errors.Mark(errors.New("key is required"), errors.ErrInvalidRequest)
	}
	job, err := s.jobs.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.NewNotFoundError("job %s", key)
	}
	return job, nil
}
