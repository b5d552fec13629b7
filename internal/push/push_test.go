package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"switchboard/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string][]models.PushSubscription
}

func (s *memStore) ListPushSubscriptions(recipientID string) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PushSubscription(nil), s.subs[recipientID]...), nil
}

func (s *memStore) DeletePushSubscription(recipientID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.PushSubscription
	for _, sub := range s.subs[recipientID] {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	s.subs[recipientID] = kept
	return nil
}

func browserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func newTestNotifier(t *testing.T, store SubscriptionStore) *Notifier {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	n, err := NewNotifier(Config{
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		Subscriber:      "mailto:ops@example.com",
	}, store, nil)
	require.NoError(t, err)
	return n
}

func TestNewNotifier_RequiresKeys(t *testing.T) {
	_, err := NewNotifier(Config{}, &memStore{}, nil)
	assert.Error(t, err)
}

func TestNotifier_Push(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []*http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p256dh, auth := browserKeys(t)
	store := &memStore{subs: map[string][]models.PushSubscription{
		"U1": {{RecipientID: "U1", Endpoint: srv.URL + "/sub/1", P256dh: p256dh, Auth: auth}},
	}}
	n := newTestNotifier(t, store)

	err := n.Push(context.Background(), models.Notification{ID: "n1", Title: "Acme sent you a message", UserID: "U1"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 1)
	assert.Equal(t, "/sub/1", requests[0].URL.Path)
	assert.Equal(t, "aes128gcm", requests[0].Header.Get("Content-Encoding"))
	assert.NotEmpty(t, requests[0].Header.Get("Authorization"))
}

func TestNotifier_PushRemovesGoneSubscriptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	p256dh, auth := browserKeys(t)
	store := &memStore{subs: map[string][]models.PushSubscription{
		"CO1": {{RecipientID: "CO1", Endpoint: srv.URL + "/gone", P256dh: p256dh, Auth: auth}},
	}}
	n := newTestNotifier(t, store)

	err := n.Push(context.Background(), models.Notification{ID: "n1", Title: "t", CompanyID: "CO1"})
	require.NoError(t, err)

	subs, _ := store.ListPushSubscriptions("CO1")
	assert.Empty(t, subs)
}

func TestNotifier_PushWithoutSubscriptions(t *testing.T) {
	n := newTestNotifier(t, &memStore{subs: map[string][]models.PushSubscription{}})
	assert.NoError(t, n.Push(context.Background(), models.Notification{ID: "n1", UserID: "U1"}))
}
