package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"switchboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users         map[string]models.Profile
	companies     map[string]models.Profile
	messages      []models.Message
	notifications []models.Notification

	messageErr      error
	lookupErr       error
	notificationErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]models.Profile{"U1": {ID: "U1", Name: "Ursula"}},
		companies: map[string]models.Profile{"CO1": {ID: "CO1", Name: "Acme"}},
	}
}

func (s *fakeStore) CreateMessage(m models.Message) (models.Message, error) {
	if s.messageErr != nil {
		return models.Message{}, s.messageErr
	}
	m.ID = fmt.Sprintf("m%d", len(s.messages)+1)
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *fakeStore) lookup(records map[string]models.Profile, id string) (models.Profile, error) {
	if s.lookupErr != nil {
		return models.Profile{}, s.lookupErr
	}
	p, ok := records[id]
	if !ok {
		return models.Profile{}, models.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) GetUser(id string) (models.Profile, error) {
	return s.lookup(s.users, id)
}

func (s *fakeStore) GetCompany(id string) (models.Profile, error) {
	return s.lookup(s.companies, id)
}

func (s *fakeStore) CreateNotification(n models.Notification) (models.Notification, error) {
	if s.notificationErr != nil {
		return models.Notification{}, s.notificationErr
	}
	n.ID = fmt.Sprintf("n%d", len(s.notifications)+1)
	s.notifications = append(s.notifications, n)
	return n, nil
}

type fakePresence map[string]string

func (p fakePresence) Lookup(userID string) (string, bool) {
	c, ok := p[userID]
	return c, ok
}

type emitted struct {
	connID  string
	event   models.EventName
	payload any
}

type recordingEmitter struct {
	calls []emitted
	err   error
}

func (e *recordingEmitter) Emit(connID string, event models.EventName, payload any) error {
	e.calls = append(e.calls, emitted{connID, event, payload})
	return e.err
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []models.Notification
	err    error
	// release, when set, holds every push until it is closed.
	release chan struct{}
}

func (p *recordingPusher) Push(ctx context.Context, n models.Notification) error {
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, n)
	return p.err
}

func newRouter(store *fakeStore, presence fakePresence, emitter *recordingEmitter, pusher Pusher) *Router {
	return New(Config{
		Store:    store,
		Presence: presence,
		Emitter:  emitter,
		Pusher:   pusher,
	})
}

func TestRouter_RecipientPresent(t *testing.T) {
	store := newFakeStore()
	emitter := &recordingEmitter{}
	r := newRouter(store, fakePresence{"U1": "C"}, emitter, nil)

	res, err := r.Send(context.Background(), Request{
		ChatID:          "c1",
		SenderID:        "CO1",
		RecipientID:     "U1",
		SenderIsCompany: true,
		Content:         "hello **there**",
	})
	require.NoError(t, err)

	assert.Equal(t, Delivered, res.Outcome)
	assert.Equal(t, "C", res.ConnectionID)
	assert.Empty(t, res.NotificationID)
	require.Len(t, store.messages, 1)
	assert.Empty(t, store.notifications)

	require.Len(t, emitter.calls, 1)
	call := emitter.calls[0]
	assert.Equal(t, "C", call.connID)
	assert.Equal(t, models.EventReceiveMessage, call.event)
	live, ok := call.payload.(models.LiveMessage)
	require.True(t, ok)
	assert.Equal(t, res.Message.ID, live.ID)
	assert.Equal(t, &models.Profile{ID: "CO1", Name: "Acme"}, live.Sender)
	assert.Equal(t, "<p>hello <strong>there</strong></p>", live.HTML)
}

func TestRouter_LiveEmitFailureIsFireAndForget(t *testing.T) {
	store := newFakeStore()
	emitter := &recordingEmitter{err: errors.New("gone")}
	r := newRouter(store, fakePresence{"U1": "C"}, emitter, nil)

	res, err := r.Send(context.Background(), Request{ChatID: "c1", SenderID: "CO1", RecipientID: "U1", SenderIsCompany: true, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, res.Outcome)
	assert.Empty(t, store.notifications, "no notification for a recipient present at send time")
}

func TestRouter_RecipientAbsent(t *testing.T) {
	tests := []struct {
		name            string
		senderID        string
		senderIsCompany bool
		recipientID     string
		wantTitle       string
		wantUserID      string
		wantCompanyID   string
	}{
		{"company to user", "CO1", true, "U1", "Acme sent you a message", "U1", ""},
		{"user to company", "U1", false, "CO1", "Ursula sent you a message", "", "CO1"},
		{"unknown sender", "ghost", true, "U1", FallbackTitle, "U1", ""},
		// A user id looked up in the company store does not resolve.
		{"wrong sender store", "U1", true, "U1", FallbackTitle, "U1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			emitter := &recordingEmitter{}
			pusher := &recordingPusher{}
			r := newRouter(store, fakePresence{}, emitter, pusher)

			res, err := r.Send(context.Background(), Request{
				ChatID:          "c1",
				SenderID:        tt.senderID,
				RecipientID:     tt.recipientID,
				SenderIsCompany: tt.senderIsCompany,
				Content:         "hello",
			})
			require.NoError(t, err)

			assert.Equal(t, Queued, res.Outcome)
			assert.Empty(t, emitter.calls)
			require.Len(t, store.notifications, 1)

			n := store.notifications[0]
			assert.Equal(t, res.NotificationID, n.ID)
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantUserID, n.UserID)
			assert.Equal(t, tt.wantCompanyID, n.CompanyID)
			assert.True(t, n.ValidTarget())
			assert.False(t, n.Read)
			assert.Empty(t, n.Link)

			r.Wait()
			require.Len(t, pusher.pushed, 1)
			assert.Equal(t, n.ID, pusher.pushed[0].ID)
		})
	}
}

func TestRouter_EndToEndScenario(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store, fakePresence{}, &recordingEmitter{}, nil)

	_, err := r.Send(context.Background(), Request{
		ChatID:          "c1",
		SenderID:        "CO1",
		RecipientID:     "U1",
		SenderIsCompany: true,
		Content:         "hello",
	})
	require.NoError(t, err)

	require.Len(t, store.messages, 1)
	assert.Equal(t, "c1", store.messages[0].ChatID)
	assert.Equal(t, "CO1", store.messages[0].SenderID)

	require.Len(t, store.notifications, 1)
	n := store.notifications[0]
	assert.Equal(t, "U1", n.UserID)
	assert.Empty(t, n.CompanyID)
	assert.Equal(t, "Acme sent you a message", n.Title)
	assert.False(t, n.Read)
}

func TestRouter_MessagePersistenceFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.messageErr = errors.New("store unavailable")
	emitter := &recordingEmitter{}
	r := newRouter(store, fakePresence{"U1": "C"}, emitter, nil)

	_, err := r.Send(context.Background(), Request{ChatID: "c1", SenderID: "CO1", RecipientID: "U1", SenderIsCompany: true, Content: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.messageErr)
	assert.Empty(t, emitter.calls)
	assert.Empty(t, store.notifications)
}

func TestRouter_NotificationFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name            string
		lookupErr       error
		notificationErr error
	}{
		{"referential integrity", nil, fmt.Errorf("user %q: %w", "U1", models.ErrForeignKey)},
		{"store unavailable on create", nil, errors.New("disk full")},
		{"store unavailable on sender lookup", errors.New("timeout"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.lookupErr = tt.lookupErr
			store.notificationErr = tt.notificationErr
			pusher := &recordingPusher{}
			r := newRouter(store, fakePresence{}, &recordingEmitter{}, pusher)

			res, err := r.Send(context.Background(), Request{ChatID: "c1", SenderID: "CO1", RecipientID: "U1", SenderIsCompany: true, Content: "x"})
			require.NoError(t, err)

			assert.Equal(t, Failed, res.Outcome)
			assert.Error(t, res.Reason)
			assert.NotEmpty(t, res.Message.ID, "message is persisted even when the notification is dropped")
			require.Len(t, store.messages, 1)
			assert.Empty(t, store.notifications)
			r.Wait()
			assert.Empty(t, pusher.pushed)
		})
	}
}

func TestRouter_PushFailureKeepsQueued(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store, fakePresence{}, &recordingEmitter{}, &recordingPusher{err: errors.New("push service down")})

	res, err := r.Send(context.Background(), Request{ChatID: "c1", SenderID: "U1", RecipientID: "CO1", Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Outcome)
	r.Wait()
}

func TestRouter_SlowPushDoesNotHoldSend(t *testing.T) {
	store := newFakeStore()
	pusher := &recordingPusher{release: make(chan struct{})}
	r := newRouter(store, fakePresence{}, &recordingEmitter{}, pusher)

	done := make(chan Result, 1)
	go func() {
		res, err := r.Send(context.Background(), Request{ChatID: "c1", SenderID: "CO1", RecipientID: "U1", SenderIsCompany: true, Content: "x"})
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, Queued, res.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("Send waited for the push")
	}

	close(pusher.release)
	r.Wait()
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, store.notifications[0].ID, pusher.pushed[0].ID)
}

func TestRouter_LiveSenderFromStore(t *testing.T) {
	tests := []struct {
		name            string
		senderID        string
		senderIsCompany bool
		lookupErr       error
		want            *models.Profile
	}{
		{"known company", "CO1", true, nil, &models.Profile{ID: "CO1", Name: "Acme"}},
		{"known user", "U1", false, nil, &models.Profile{ID: "U1", Name: "Ursula"}},
		{"no display record", "ghost", false, nil, &models.Profile{ID: "ghost"}},
		{"lookup failure", "CO1", true, errors.New("timeout"), &models.Profile{ID: "CO1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.lookupErr = tt.lookupErr
			emitter := &recordingEmitter{}
			r := newRouter(store, fakePresence{"R": "C"}, emitter, nil)

			res, err := r.Send(context.Background(), Request{ChatID: "c1", SenderID: tt.senderID, RecipientID: "R", SenderIsCompany: tt.senderIsCompany, Content: "x"})
			require.NoError(t, err)
			assert.Equal(t, Delivered, res.Outcome)

			require.Len(t, emitter.calls, 1)
			live := emitter.calls[0].payload.(models.LiveMessage)
			assert.Equal(t, tt.want, live.Sender)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "queued", Queued.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
