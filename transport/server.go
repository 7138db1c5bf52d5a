package transport

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/bazelment/agentbroker/broker"
)

// Server accepts websocket connections and runs one session per
// connection. The session's agent process lives as long as the
// connection does.
type Server struct {
	upgrader   websocket.Upgrader
	newSession func() *broker.Session
}

// NewServer constructs a Server. newSession is called once per accepted
// connection.
func NewServer(newSession func() *broker.Session) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		newSession: newSession,
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := NewWebSocket(ws)
	defer conn.Close()

	slog.Info("control surface connected", "remote", r.RemoteAddr)
	bridge := NewBridge(conn, s.newSession())
	if err := bridge.Run(r.Context()); err != nil {
		slog.Warn("bridge ended with error", "error", err, "remote", r.RemoteAddr)
		return
	}
	slog.Info("control surface disconnected", "remote", r.RemoteAddr)
}
