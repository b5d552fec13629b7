package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"switchboard/internal/auth"
	"switchboard/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type tokenVerifier interface {
	Verify(token string) (models.Principal, error)
}

type ServerConfig struct {
	Auth    tokenVerifier
	Hub     *Hub
	Handler lifecycle
	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty allows any origin.
	AllowedOrigins []string
	Log            *slog.Logger
}

// Server upgrades authenticated HTTP requests to websocket connections and
// runs them until the client leaves or the server is closed.
type Server struct {
	auth     tokenVerifier
	hub      *Hub
	handler  lifecycle
	upgrader *websocket.Upgrader
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(config ServerConfig) *Server {
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	origins := config.AllowedOrigins
	return &Server{
		auth:    config.Auth,
		hub:     config.Hub,
		handler: config.Handler,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return slices.Contains(origins, r.Header.Get("Origin"))
			},
		},
		log:    log.With("component", "ws"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func requestToken(r *http.Request) string {
	if token := auth.TokenFromHeader(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth.Verify(requestToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		s.log.Warn("error upgrading to websocket", "error", err)
		return
	}

	id := uuid.NewString()
	c := NewConnection(s.hub, s.handler, conn, id, principal, s.log)
	s.log.Debug("connection opened", "connection_id", id, "principal_id", principal.ID)

	if err := c.Handle(s.ctx); err != nil && !isClosure(err) {
		s.log.Warn("connection ended with error", "connection_id", id, "error", err)
		return
	}
	s.log.Debug("connection closed", "connection_id", id)
}

func isClosure(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// Close ends every live connection and waits for their handlers to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
