// Package push delivers queued notifications to a recipient's browsers via Web Push.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"switchboard/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

const defaultTTL = 24 * 60 * 60

type SubscriptionStore interface {
	ListPushSubscriptions(recipientID string) ([]models.PushSubscription, error)
	DeletePushSubscription(recipientID, endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is a mailto: or https: contact for the push service.
	Subscriber string
	// TTL in seconds the push service keeps an undelivered message.
	TTL        int
	HTTPClient webpush.HTTPClient
}

type Notifier struct {
	store SubscriptionStore
	opts  webpush.Options
	log   *slog.Logger
}

type payload struct {
	NotificationID string `json:"notificationId"`
	Title          string `json:"title"`
	Link           string `json:"link"`
}

func NewNotifier(config Config, store SubscriptionStore, log *slog.Logger) (*Notifier, error) {
	if config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "" {
		return nil, errors.New("vapid key pair is required")
	}
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		store: store,
		opts: webpush.Options{
			HTTPClient:      config.HTTPClient,
			Subscriber:      config.Subscriber,
			VAPIDPublicKey:  config.VAPIDPublicKey,
			VAPIDPrivateKey: config.VAPIDPrivateKey,
			TTL:             config.TTL,
		},
		log: log.With("component", "push"),
	}, nil
}

// Push sends the notification to every subscription of its recipient.
// Subscriptions the push service reports as gone are removed.
func (n *Notifier) Push(ctx context.Context, notification models.Notification) error {
	recipientID := notification.Recipient()
	subs, err := n.store.ListPushSubscriptions(recipientID)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(payload{
		NotificationID: notification.ID,
		Title:          notification.Title,
		Link:           notification.Link,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := n.send(ctx, body, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) send(ctx context.Context, body []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &n.opts)
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		n.log.Info("removing expired push subscription", "recipient_id", sub.RecipientID, "endpoint", sub.Endpoint)
		return n.store.DeletePushSubscription(sub.RecipientID, sub.Endpoint)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push to %s: unexpected status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
