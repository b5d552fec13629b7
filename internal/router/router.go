// Package router decides, for every outgoing chat message, whether it is
// forwarded live to the recipient's connection or turned into a stored
// notification for later.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"switchboard/internal/content"
	"switchboard/internal/models"
	"switchboard/internal/observability"
)

const (
	FallbackTitle = "You got a new message"
	// PushTimeout bounds one background push of a queued notification.
	PushTimeout = 30 * time.Second
)

type Store interface {
	CreateMessage(message models.Message) (models.Message, error)
	GetUser(id string) (models.Profile, error)
	GetCompany(id string) (models.Profile, error)
	CreateNotification(n models.Notification) (models.Notification, error)
}

type Presence interface {
	Lookup(userID string) (string, bool)
}

type Emitter interface {
	Emit(connID string, event models.EventName, payload any) error
}

// Pusher reaches an absent recipient outside the websocket, e.g. Web Push.
type Pusher interface {
	Push(ctx context.Context, n models.Notification) error
}

type Outcome int

const (
	Delivered Outcome = iota + 1
	Queued
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is an outgoing message from an authenticated sender. The sender's
// display record is resolved from the store, never taken from the client.
type Request struct {
	ChatID          string
	SenderID        string
	RecipientID     string
	SenderIsCompany bool
	Content         string
}

// Result carries exactly one delivery outcome for a persisted message:
// Delivered with ConnectionID, Queued with NotificationID, or Failed with
// Reason. A Failed result still means the message itself was stored.
type Result struct {
	Message        models.Message
	Outcome        Outcome
	ConnectionID   string
	NotificationID string
	Reason         error
}

type Config struct {
	Store    Store
	Presence Presence
	Emitter  Emitter
	// Pusher is optional.
	Pusher  Pusher
	Metrics *observability.Metrics
	Log     *slog.Logger
}

type Router struct {
	store    Store
	presence Presence
	emitter  Emitter
	pusher   Pusher
	metrics  *observability.Metrics
	log      *slog.Logger

	pushes sync.WaitGroup
}

func New(config Config) *Router {
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		store:    config.Store,
		presence: config.Presence,
		emitter:  config.Emitter,
		pusher:   config.Pusher,
		metrics:  config.Metrics,
		log:      log.With("component", "router"),
	}
}

// Send persists the message and then either forwards it to the recipient's
// live connection or stores a notification for them. Only a failure to
// persist the message is returned as an error; everything after that is
// reported through the Result.
func (r *Router) Send(ctx context.Context, req Request) (Result, error) {
	msg, err := r.store.CreateMessage(models.Message{
		Content:  req.Content,
		ChatID:   req.ChatID,
		SenderID: req.SenderID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist message: %w", err)
	}

	var res Result
	if connID, online := r.presence.Lookup(req.RecipientID); online {
		res = r.forward(connID, msg, r.display(req.SenderID, req.SenderIsCompany))
	} else {
		res = r.queue(ctx, req)
	}
	res.Message = msg

	r.metrics.MessageRouted(res.Outcome.String())
	return res, nil
}

// Wait blocks until background pushes started by Send have finished.
func (r *Router) Wait() {
	r.pushes.Wait()
}

func (r *Router) forward(connID string, msg models.Message, sender *models.Profile) Result {
	live := models.LiveMessage{Message: msg, Sender: sender}
	html, err := content.Render(msg.Content)
	if err != nil {
		r.log.Warn("failed to render message", "message_id", msg.ID, "error", err)
	} else {
		live.HTML = html
	}

	// Fire and forget: the recipient may have gone away since the lookup.
	if err := r.emitter.Emit(connID, models.EventReceiveMessage, live); err != nil {
		r.log.Warn("live delivery failed",
			"message_id", msg.ID,
			"connection_id", connID,
			"error", err,
		)
	}
	return Result{Outcome: Delivered, ConnectionID: connID}
}

func (r *Router) queue(ctx context.Context, req Request) Result {
	log := r.log.With(
		"chat_id", req.ChatID,
		"sender_id", req.SenderID,
		"recipient_id", req.RecipientID,
	)

	title, err := r.title(req.SenderID, req.SenderIsCompany)
	if err != nil {
		log.Error("failed to resolve sender", "error", err)
		return Result{Outcome: Failed, Reason: err}
	}

	n := models.Notification{Title: title}
	if req.SenderIsCompany {
		n.UserID = req.RecipientID
	} else {
		n.CompanyID = req.RecipientID
	}

	n, err = r.store.CreateNotification(n)
	if err != nil {
		if errors.Is(err, models.ErrForeignKey) {
			log.Warn("notification dropped, invalid user_id or company_id", "error", err)
		} else {
			log.Error("failed to create notification", "error", err)
		}
		return Result{Outcome: Failed, Reason: err}
	}

	if r.pusher != nil {
		detached := context.WithoutCancel(ctx)
		r.pushes.Go(func() {
			pushCtx, cancel := context.WithTimeout(detached, PushTimeout)
			defer cancel()
			if err := r.pusher.Push(pushCtx, n); err != nil {
				log.Warn("web push failed", "notification_id", n.ID, "error", err)
			}
		})
	}
	return Result{Outcome: Queued, NotificationID: n.ID}
}

func (r *Router) profile(senderID string, senderIsCompany bool) (models.Profile, error) {
	if senderIsCompany {
		return r.store.GetCompany(senderID)
	}
	return r.store.GetUser(senderID)
}

// display is the sender as shown to a live recipient. A sender without a
// display record is shown by id only.
func (r *Router) display(senderID string, senderIsCompany bool) *models.Profile {
	profile, err := r.profile(senderID, senderIsCompany)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.log.Warn("failed to resolve sender", "sender_id", senderID, "error", err)
		}
		return &models.Profile{ID: senderID}
	}
	return &profile
}

// title names the sender when their display record resolves. A missing
// record falls back to a generic title; any other lookup error is returned.
func (r *Router) title(senderID string, senderIsCompany bool) (string, error) {
	profile, err := r.profile(senderID, senderIsCompany)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return FallbackTitle, nil
	case err != nil:
		return "", err
	case profile.Name == "":
		return FallbackTitle, nil
	}
	return fmt.Sprintf("%s sent you a message", profile.Name), nil
}
