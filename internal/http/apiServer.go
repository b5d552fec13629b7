package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"switchboard/internal/api"
	"switchboard/internal/ws"
)

type APIServer struct {
	server   *http.Server
	wsServer *ws.Server
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string, log *slog.Logger) *APIServer {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/healthz", apiHandlers.HealthHandler)
	mux.HandleFunc("GET /api/v1/notifications", apiHandlers.RequireAuth(apiHandlers.NotificationsHandler))
	mux.HandleFunc("PUT /api/v1/notifications/read", apiHandlers.RequireAuth(apiHandlers.MarkReadHandler))
	mux.HandleFunc("GET /api/v1/chats", apiHandlers.RequireAuth(apiHandlers.ChatsHandler))
	mux.HandleFunc("GET /api/v1/chats/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/v1/push/subscriptions", apiHandlers.RequireAuth(apiHandlers.PushSubscriptionHandler))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/v1/socket", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		wsServer: wsServer,
		log:      log,
	}
}

func (s *APIServer) Start() error {
	s.log.Info("API server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and then closes live websocket
// connections, which the HTTP server no longer tracks once upgraded.
func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	err := s.server.Shutdown(ctx)
	s.wsServer.Close()
	return err
}
