package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"switchboard/internal/auth"
	"switchboard/internal/models"
	"switchboard/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store *storage.BboltStorage
	auth  *auth.AuthService
	mux   *http.ServeMux
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123")),
	})
	require.NoError(t, err)

	a := New(authService, store, nil)
	admin := NewAdminHandler(authService, store, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/healthz", a.HealthHandler)
	mux.HandleFunc("GET /api/v1/notifications", a.RequireAuth(a.NotificationsHandler))
	mux.HandleFunc("PUT /api/v1/notifications/read", a.RequireAuth(a.MarkReadHandler))
	mux.HandleFunc("GET /api/v1/chats", a.RequireAuth(a.ChatsHandler))
	mux.HandleFunc("GET /api/v1/chats/{id}/messages", a.RequireAuth(a.MessagesHandler))
	mux.HandleFunc("POST /api/v1/push/subscriptions", a.RequireAuth(a.PushSubscriptionHandler))
	mux.HandleFunc("POST /admin/users", admin.AddUserHandler)
	mux.HandleFunc("POST /admin/companies", admin.AddCompanyHandler)
	mux.HandleFunc("POST /admin/tokens", admin.IssueTokenHandler)

	return &env{store: store, auth: authService, mux: mux}
}

func (e *env) token(t *testing.T, id string, role models.Role) string {
	t.Helper()
	token, _, err := e.auth.Issue(models.Principal{ID: id, Role: role})
	require.NoError(t, err)
	return token
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

// decodeData re-decodes the envelope's data into v.
func decodeData(t *testing.T, resp models.APIResponse, v any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func (e *env) seed(t *testing.T) models.Chat {
	t.Helper()
	require.NoError(t, e.store.UpsertUser(models.Profile{ID: "U1", Name: "Ursula"}))
	require.NoError(t, e.store.UpsertCompany(models.Profile{ID: "CO1", Name: "Acme"}))
	chat, err := e.store.CreateChat("CO1", "U1")
	require.NoError(t, err)
	return chat
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec, resp := e.do(t, http.MethodGet, "/api/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "OK", resp.Message)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestRequireAuth(t *testing.T) {
	e := newEnv(t)
	for _, token := range []string{"", "garbage"} {
		rec, resp := e.do(t, http.MethodGet, "/api/v1/notifications", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, resp.Success)
	}
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	_, err := e.store.CreateNotification(models.Notification{Title: "Acme sent you a message", UserID: "U1"})
	require.NoError(t, err)
	_, err = e.store.CreateNotification(models.Notification{Title: "Ursula sent you a message", CompanyID: "CO1"})
	require.NoError(t, err)

	userToken := e.token(t, "U1", models.RoleUser)

	rec, resp := e.do(t, http.MethodGet, "/api/v1/notifications", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifications []models.Notification
	decodeData(t, resp, &notifications)
	require.Len(t, notifications, 1)
	assert.Equal(t, "Acme sent you a message", notifications[0].Title)

	rec, resp = e.do(t, http.MethodPut, "/api/v1/notifications/read", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var marked models.MarkReadResponse
	decodeData(t, resp, &marked)
	assert.Equal(t, 1, marked.Updated)

	_, resp = e.do(t, http.MethodGet, "/api/v1/notifications", userToken, nil)
	notifications = nil
	decodeData(t, resp, &notifications)
	assert.Empty(t, notifications)

	// The company's notification is untouched.
	_, resp = e.do(t, http.MethodGet, "/api/v1/notifications", e.token(t, "CO1", models.RoleAdmin), nil)
	decodeData(t, resp, &notifications)
	assert.Len(t, notifications, 1)
}

func TestChatsAndMessages(t *testing.T) {
	e := newEnv(t)
	chat := e.seed(t)
	_, err := e.store.CreateMessage(models.Message{ChatID: chat.ID, SenderID: "CO1", Content: "hello"})
	require.NoError(t, err)
	_, err = e.store.CreateMessage(models.Message{ChatID: chat.ID, SenderID: "U1", Content: "hi"})
	require.NoError(t, err)

	rec, resp := e.do(t, http.MethodGet, "/api/v1/chats", e.token(t, "CO1", models.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chats []models.ChatWithMessages
	decodeData(t, resp, &chats)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
	require.Len(t, chats[0].Messages, 2)
	assert.Equal(t, "hello", chats[0].Messages[0].Content)
	assert.Equal(t, "hi", chats[0].Messages[1].Content)

	rec, resp = e.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/messages", e.token(t, "U1", models.RoleUser), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []models.Message
	decodeData(t, resp, &messages)
	assert.Len(t, messages, 2)

	rec, _ = e.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/messages", e.token(t, "U2", models.RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/api/v1/chats/missing/messages", e.token(t, "U1", models.RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushSubscription(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, "U1", models.RoleUser)

	rec, _ := e.do(t, http.MethodPost, "/api/v1/push/subscriptions", token, map[string]string{"endpoint": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = e.do(t, http.MethodPost, "/api/v1/push/subscriptions", token, map[string]string{
		"endpoint":    "https://push.example.com/abc",
		"auth":        "secret",
		"p256dh":      "key",
		"recipientId": "someone-else",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	subs, err := e.store.ListPushSubscriptions("U1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/abc", subs[0].Endpoint)

	subs, err = e.store.ListPushSubscriptions("someone-else")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
