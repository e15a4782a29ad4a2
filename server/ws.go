package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/watch"
)

const maxClientMessage = 512

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// HandleWatch streams the terminal state of one job: a single JSON frame,
// then a normal close. Jobs already terminal are answered immediately;
// otherwise the connection joins the multiplexer's waiters for the key.
func (s *Server) HandleWatch(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	reqCtx := logger.WithKey(r.Context(), key)
	log := logger.FromContext(reqCtx, s.logger)

	ctx, cancel := context.WithTimeout(reqCtx, s.callTimeout)
	job, err := s.getJob(ctx, key)
	cancel()
	if err != nil {
		writeWrappedError(w, log, err, "Watch lookup failed", http.StatusInternalServerError)
		return
	}

	upgrader := s.upgrader()

	if job.IsTerminal() {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnw("WebSocket upgrade failed", logger.FieldError, err)
			return
		}
		s.finish(conn, log, WatchMessage{Key: key, Job: job})
		return
	}

	requester := uuid.NewString()
	results, err := s.watch.Watch(key, requester)
	if err != nil {
		writeWrappedError(w, log, err, "Watch registration failed", http.StatusServiceUnavailable)
		return
	}
	log = log.With(logger.FieldRequester, requester)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.watch.Cancel(key, requester)
		log.Warnw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	s.wsConns.Add(1)
	defer s.wsConns.Done()

	// Clients never send frames; a read error means they went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxClientMessage)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debugw("Watch stream opened")

	select {
	case res, ok := <-results:
		if !ok {
			s.finish(conn, log, WatchMessage{Key: key, Error: watch.ErrStopped.Error()})
			return
		}
		msg := WatchMessage{Key: key, Job: res.Job}
		if res.Err != nil {
			msg.Error = watchErrorText(log, res.Err)
		}
		s.finish(conn, log, msg)
	case <-gone:
		s.watch.Cancel(key, requester)
		conn.Close()
		log.Debugw("Watch client disconnected")
	}
}

// watchErrorText is the client-facing text for a failed watch. A job that
// vanished reads as not found; anything else is logged and reported generically.
func watchErrorText(log *zap.SugaredLogger, err error) string {
	if errors.IsNotFoundError(err) {
		return NotFoundMessage
	}
	log.Errorw("Watch ended with a status fetch error", logger.FieldError, err, "transient", errors.IsTransient(err))
	return InternalErrorMessage
}

// finish writes the terminal frame and closes the connection
func (s *Server) finish(conn *websocket.Conn, log *zap.SugaredLogger, msg WatchMessage) {
	defer conn.Close()

	deadline := time.Now().Add(wsWriteTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		log.Warnw("Failed to write watch result", logger.FieldError, errors.Wrap(err, "write watch frame"))
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
}
