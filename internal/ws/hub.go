package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"switchboard/internal/models"
)

var (
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrConnectionNotFound = errors.New("connection not found")
)

const DefaultSendBuffer = 100

// Hub is the table of live connections. It delivers server events to a
// single connection by id.
type Hub struct {
	// Map of connID -> outbound channel
	connections map[string]chan models.ServerEvent
	sendBuffer  int

	mu sync.RWMutex
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		connections: make(map[string]chan models.ServerEvent),
		sendBuffer:  sendBuffer,
	}
}

// Register allocates the outbound queue of a new connection.
func (h *Hub) Register(connID string) chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.ServerEvent, h.sendBuffer)
	h.connections[connID] = ch
	return ch
}

// Unregister forgets the connection. Its channel is left open so that a
// concurrent Emit never writes to a closed channel; the reader stops on its
// own context.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, connID)
}

// Emit queues an event for a connection without blocking. An event that does
// not fit the connection's queue is dropped.
func (h *Hub) Emit(connID string, event models.EventName, payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.connections[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}

	select {
	case ch <- models.ServerEvent{Event: event, Data: payload}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, connID)
	}
}

// Deliver queues an event for a connection, waiting for room in its queue
// until ctx is done.
func (h *Hub) Deliver(ctx context.Context, connID string, event models.EventName, payload any) error {
	h.mu.RLock()
	ch, ok := h.connections[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}

	select {
	case ch <- models.ServerEvent{Event: event, Data: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
