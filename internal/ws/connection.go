package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"switchboard/internal/content"
	"switchboard/internal/models"
	"switchboard/internal/router"
)

var errForeignIdentity = errors.New("cannot act on behalf of another user")

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type connectionTable interface {
	Register(connID string) chan models.ServerEvent
	Unregister(connID string)
}

type lifecycle interface {
	Connect(connID string) error
	Online(ctx context.Context, connID, userID string) (int, error)
	Offline(connID, userID string) error
	CreateChannel(connID, companyID, userID string) (models.Chat, error)
	JoinChannel(connID, chatID string) error
	SendMessage(ctx context.Context, connID string, req router.Request) (router.Result, error)
	Disconnect(connID string)
}

type Connection struct {
	id         string
	principal  models.Principal
	ws         wsConnection
	hub        connectionTable
	handler    lifecycle
	fromClient chan models.ClientEvent
	toClient   chan models.ServerEvent
	errorCh    chan error
	log        *slog.Logger
}

func NewConnection(
	hub connectionTable,
	handler lifecycle,
	ws wsConnection,
	id string,
	principal models.Principal,
	log *slog.Logger,
) *Connection {
	if log == nil {
		log = slog.Default()
	}
	return &Connection{
		id:         id,
		principal:  principal,
		ws:         ws,
		hub:        hub,
		handler:    handler,
		fromClient: make(chan models.ClientEvent),
		toClient:   hub.Register(id),
		errorCh:    make(chan error, 3),
		log:        log.With("connection_id", id, "principal_id", principal.ID),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	if err := c.handler.Connect(c.id); err != nil {
		c.hub.Unregister(c.id)
		c.ws.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.handler.Disconnect(c.id)
		c.hub.Unregister(c.id)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.dispatchLoop(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return err
			}
			// The frame was consumed; the connection is still usable.
			if err := c.reply(ctx, errorEvent("", "malformed event")); err != nil {
				return err
			}
			continue
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchLoop handles one client event at a time, in arrival order.
func (c *Connection) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			reply := c.dispatch(ctx, ev)
			if reply == nil {
				continue
			}
			if err := c.reply(ctx, *reply); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.toClient:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// reply queues a direct answer to the client. Unlike hub emits it waits for
// room in the queue.
func (c *Connection) reply(ctx context.Context, ev models.ServerEvent) error {
	select {
	case c.toClient <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) dispatch(ctx context.Context, ev models.ClientEvent) *models.ServerEvent {
	switch ev.Event {
	case models.EventUserOnline:
		var p models.UserPresencePayload
		if err := c.decode(ev, &p); err != nil {
			return c.reject(ev, err)
		}
		if p.UserID != c.principal.ID {
			return c.reject(ev, errForeignIdentity)
		}
		if _, err := c.handler.Online(ctx, c.id, p.UserID); err != nil {
			return c.fail(ev, err)
		}
		return c.ack(ev, p)

	case models.EventUserOffline:
		var p models.UserPresencePayload
		if err := c.decode(ev, &p); err != nil {
			return c.reject(ev, err)
		}
		if p.UserID != c.principal.ID {
			return c.reject(ev, errForeignIdentity)
		}
		if err := c.handler.Offline(c.id, p.UserID); err != nil {
			return c.fail(ev, err)
		}
		return c.ack(ev, p)

	case models.EventCreateChannel:
		var p models.CreateChannelPayload
		if err := c.decode(ev, &p); err != nil {
			return c.reject(ev, err)
		}
		if p.CompanyID != c.principal.ID && p.UserID != c.principal.ID {
			return c.reject(ev, errors.New("requester must be a participant of the chat"))
		}
		chat, err := c.handler.CreateChannel(c.id, p.CompanyID, p.UserID)
		if err != nil {
			return c.fail(ev, err)
		}
		return &models.ServerEvent{
			Event: ev.Event,
			Ack:   ev.Ack,
			Data:  models.ChannelPayload{ChatID: chat.ID},
		}

	case models.EventJoinChannel:
		var p models.ChannelPayload
		if err := c.decode(ev, &p); err != nil {
			return c.reject(ev, err)
		}
		if err := c.handler.JoinChannel(c.id, p.ChatID); err != nil {
			return c.fail(ev, err)
		}
		return c.ack(ev, p)

	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return c.reject(ev, err)
		}
		p.Normalize()
		if p.SenderID == "" {
			p.SenderID = c.principal.ID
		}
		p.Content = content.Sanitize(p.Content)
		if err := content.Validate(&p); err != nil {
			return c.reject(ev, err)
		}
		if p.Content == "" {
			return c.reject(ev, errors.New("content is required"))
		}
		if p.SenderID != c.principal.ID {
			return c.reject(ev, errForeignIdentity)
		}
		if p.Sender != nil && p.Sender.ID != p.SenderID {
			return c.reject(ev, errForeignIdentity)
		}

		// The sender's side comes from the token, not from the payload. The
		// send runs to completion even if the client goes away meanwhile.
		res, err := c.handler.SendMessage(context.WithoutCancel(ctx), c.id, router.Request{
			ChatID:          p.ChatID,
			SenderID:        p.SenderID,
			RecipientID:     p.RecipientID,
			SenderIsCompany: c.principal.Role.IsCompany(),
			Content:         p.Content,
		})
		if err != nil {
			return c.fail(ev, err)
		}
		return c.ack(ev, models.SendMessageAck{
			MessageID: res.Message.ID,
			Outcome:   res.Outcome.String(),
		})

	default:
		return c.reject(ev, fmt.Errorf("unknown event %q", ev.Event))
	}
}

func (c *Connection) decode(ev models.ClientEvent, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return err
	}
	return content.Validate(v)
}

// ack answers an event only when the client asked for it.
func (c *Connection) ack(ev models.ClientEvent, data any) *models.ServerEvent {
	if ev.Ack == "" {
		return nil
	}
	return &models.ServerEvent{Event: ev.Event, Ack: ev.Ack, Data: data}
}

// reject reports a request the client got wrong.
func (c *Connection) reject(ev models.ClientEvent, err error) *models.ServerEvent {
	c.log.Debug("event rejected", "event", ev.Event, "error", err)
	reply := errorEvent(ev.Ack, fmt.Sprintf("invalid %s: %v", ev.Event, err))
	return &reply
}

// fail reports an event the server could not carry out.
func (c *Connection) fail(ev models.ClientEvent, err error) *models.ServerEvent {
	var msg string
	switch {
	case errors.Is(err, models.ErrNotFound):
		msg = "not found"
	case errors.Is(err, models.ErrForeignKey):
		msg = "unknown user, company or chat"
	default:
		c.log.Error("event failed", "event", ev.Event, "error", err)
		msg = fmt.Sprintf("%s failed", ev.Event)
	}
	reply := errorEvent(ev.Ack, msg)
	return &reply
}

func errorEvent(ack, msg string) models.ServerEvent {
	return models.ServerEvent{
		Event: models.EventError,
		Ack:   ack,
		Data:  models.ErrorPayload{Message: msg},
		Error: msg,
	}
}
