// Package realtime tracks every live connection through its lifecycle and
// wires connection events to presence, channels and message routing.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"switchboard/internal/models"
	"switchboard/internal/observability"
	"switchboard/internal/router"

	"github.com/c-pro/geche"
)

const tombstoneTTL = 10 * time.Minute

var (
	ErrDisconnected      = errors.New("connection is disconnected")
	ErrUnknownConnection = errors.New("unknown connection")
)

type State int

const (
	Connected State = iota + 1
	Identified
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Identified:
		return "identified"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Presence interface {
	SetOnline(userID, connID string) (previous string, replaced bool)
	SetOffline(userID string) bool
	RemoveByConnection(connID string) (string, bool)
	Len() int
}

type Channels interface {
	Create(connID, companyID, userID string) (models.Chat, error)
	Join(connID, chatID string) error
	RemoveConnection(connID string) int
}

type Sender interface {
	Send(ctx context.Context, req router.Request) (router.Result, error)
}

// Deliverer queues an event for one connection, waiting while its queue is
// full.
type Deliverer interface {
	Deliver(ctx context.Context, connID string, event models.EventName, payload any) error
}

type NotificationStore interface {
	ListUnreadNotifications(recipientID string) ([]models.Notification, error)
	MarkNotificationsRead(recipientID string) (int, error)
}

type Config struct {
	Presence      Presence
	Channels      Channels
	Router        Sender
	Notifications NotificationStore
	Emitter       Deliverer
	// FlushMarksRead marks the flushed backlog read once it was emitted.
	FlushMarksRead bool
	Metrics        *observability.Metrics
	Log            *slog.Logger
}

type session struct {
	state  State
	userID string
}

type Handler struct {
	presence       Presence
	channels       Channels
	router         Sender
	notifications  NotificationStore
	emitter        Deliverer
	flushMarksRead bool
	metrics        *observability.Metrics
	log            *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	// closed remembers recently disconnected connections so that late
	// events are told apart from events for connections never seen.
	closed geche.Geche[string, struct{}]
}

func New(ctx context.Context, config Config) *Handler {
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		presence:       config.Presence,
		channels:       config.Channels,
		router:         config.Router,
		notifications:  config.Notifications,
		emitter:        config.Emitter,
		flushMarksRead: config.FlushMarksRead,
		metrics:        config.Metrics,
		log:            log.With("component", "realtime"),
		sessions:       make(map[string]*session),
		closed:         geche.NewMapTTLCache[string, struct{}](ctx, tombstoneTTL, time.Minute),
	}
}

// Connect registers a new anonymous connection.
func (h *Handler) Connect(connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[connID]; ok {
		return fmt.Errorf("connection %q already registered", connID)
	}
	if _, err := h.closed.Get(connID); err == nil {
		return ErrDisconnected
	}
	h.sessions[connID] = &session{state: Connected}
	h.metrics.ConnectionOpened()
	h.log.Debug("connected", "connection_id", connID)
	return nil
}

// active returns the session of a connection that still accepts events.
// Callers must hold h.mu.
func (h *Handler) active(connID string) (*session, error) {
	s, ok := h.sessions[connID]
	if ok {
		return s, nil
	}
	if _, err := h.closed.Get(connID); err == nil {
		return nil, ErrDisconnected
	}
	return nil, ErrUnknownConnection
}

// State reports where a connection is in its lifecycle and, once
// identified, the user it announced.
func (h *Handler) State(connID string) (State, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.active(connID)
	if err != nil {
		if errors.Is(err, ErrDisconnected) {
			return Disconnected, "", nil
		}
		return 0, "", err
	}
	return s.state, s.userID, nil
}

// Online identifies the connection as userID, makes the user reachable
// through it and delivers the user's unread notifications to it in store
// order. It returns the number of notifications delivered.
func (h *Handler) Online(ctx context.Context, connID, userID string) (int, error) {
	h.mu.Lock()
	s, err := h.active(connID)
	if err != nil {
		h.mu.Unlock()
		return 0, err
	}
	s.state = Identified
	s.userID = userID
	h.mu.Unlock()

	log := h.log.With("connection_id", connID, "user_id", userID)
	if previous, replaced := h.presence.SetOnline(userID, connID); replaced {
		log.Debug("presence moved to a new connection", "previous_connection_id", previous)
	}
	h.metrics.SetOnlineUsers(h.presence.Len())
	log.Debug("identified")

	return h.flush(ctx, log, connID, userID), nil
}

func (h *Handler) flush(ctx context.Context, log *slog.Logger, connID, userID string) int {
	unread, err := h.notifications.ListUnreadNotifications(userID)
	if err != nil {
		log.Error("failed to load unread notifications", "error", err)
		return 0
	}

	delivered := 0
	for _, n := range unread {
		if err := h.emitter.Deliver(ctx, connID, models.EventReceiveNotification, n); err != nil {
			log.Warn("flush interrupted", "notification_id", n.ID, "delivered", delivered, "error", err)
			break
		}
		delivered++
	}
	h.metrics.NotificationsFlushedAdd(delivered)

	if h.flushMarksRead && delivered > 0 && delivered == len(unread) {
		if _, err := h.notifications.MarkNotificationsRead(userID); err != nil {
			log.Error("failed to mark flushed notifications read", "error", err)
		}
	}
	return delivered
}

// Offline removes the user's presence entry. The connection stays open.
func (h *Handler) Offline(connID, userID string) error {
	h.mu.Lock()
	_, err := h.active(connID)
	h.mu.Unlock()
	if err != nil {
		return err
	}

	h.presence.SetOffline(userID)
	h.metrics.SetOnlineUsers(h.presence.Len())
	h.log.Debug("user offline", "connection_id", connID, "user_id", userID)
	return nil
}

// CreateChannel persists a new chat between a company and a user and joins
// the requesting connection to it.
func (h *Handler) CreateChannel(connID, companyID, userID string) (models.Chat, error) {
	h.mu.Lock()
	_, err := h.active(connID)
	h.mu.Unlock()
	if err != nil {
		return models.Chat{}, err
	}

	chat, err := h.channels.Create(connID, companyID, userID)
	if err != nil {
		return models.Chat{}, err
	}
	h.metrics.ChannelCreated()
	return chat, nil
}

func (h *Handler) JoinChannel(connID, chatID string) error {
	h.mu.Lock()
	_, err := h.active(connID)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.channels.Join(connID, chatID)
}

func (h *Handler) SendMessage(ctx context.Context, connID string, req router.Request) (router.Result, error) {
	h.mu.Lock()
	_, err := h.active(connID)
	h.mu.Unlock()
	if err != nil {
		return router.Result{}, err
	}
	return h.router.Send(ctx, req)
}

// Disconnect is terminal: presence held through the connection and its
// channel memberships are dropped and later events are rejected.
// In-flight operations started before it run to completion.
func (h *Handler) Disconnect(connID string) {
	h.mu.Lock()
	_, ok := h.sessions[connID]
	delete(h.sessions, connID)
	h.closed.Set(connID, struct{}{})
	h.mu.Unlock()
	if !ok {
		return
	}

	userID, wasOnline := h.presence.RemoveByConnection(connID)
	left := h.channels.RemoveConnection(connID)
	h.metrics.ConnectionClosed()
	h.metrics.SetOnlineUsers(h.presence.Len())
	h.log.Debug("disconnected",
		"connection_id", connID,
		"user_id", userID,
		"was_online", wasOnline,
		"channels_left", left,
	)
}
