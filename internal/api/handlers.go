package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"switchboard/internal/auth"
	"switchboard/internal/content"
	"switchboard/internal/models"

	"github.com/samber/lo"
)

type Store interface {
	ListUnreadNotifications(recipientID string) ([]models.Notification, error)
	MarkNotificationsRead(recipientID string) (int, error)
	ListChatsFor(participantID string) ([]models.Chat, error)
	GetChat(id string) (models.Chat, error)
	ListMessages(chatID string) ([]models.Message, error)
	UpsertPushSubscription(sub models.PushSubscription) error
}

type tokenVerifier interface {
	Verify(token string) (models.Principal, error)
}

type API struct {
	auth  tokenVerifier
	store Store
	log   *slog.Logger
}

func New(auth tokenVerifier, store Store, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{auth: auth, store: store, log: log.With("component", "api")}
}

type principalKey struct{}

// RequireAuth rejects requests without a valid bearer token and passes the
// token's principal on in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.auth.Verify(auth.TokenFromHeader(r.Header.Get("Authorization")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	}
}

func principalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey{}).(models.Principal)
	return p
}

func writeJSON(w http.ResponseWriter, status int, resp models.APIResponse) {
	resp.Status = status
	resp.Success = status < http.StatusBadRequest
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Message: message})
}

func (a *API) internalError(w http.ResponseWriter, msg string, err error) {
	a.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, models.APIResponse{Message: "OK"})
}

func (a *API) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	notifications, err := a.store.ListUnreadNotifications(p.ID)
	if err != nil {
		a.internalError(w, "failed to list notifications", err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Data: notifications})
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	updated, err := a.store.MarkNotificationsRead(p.ID)
	if err != nil {
		a.internalError(w, "failed to mark notifications read", err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{
		Message: "Notifications marked as read",
		Data:    models.MarkReadResponse{Updated: updated},
	})
}

func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	chats, err := a.store.ListChatsFor(p.ID)
	if err != nil {
		a.internalError(w, "failed to list chats", err)
		return
	}

	result := make([]models.ChatWithMessages, 0, len(chats))
	for _, c := range chats {
		messages, err := a.store.ListMessages(c.ID)
		if err != nil {
			a.internalError(w, "failed to list messages", err)
			return
		}
		result = append(result, models.ChatWithMessages{Chat: c, Messages: lo.Ternary(messages == nil, []models.Message{}, messages)})
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Data: result})
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	chatID := r.PathValue("id")

	chat, err := a.store.GetChat(chatID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	case err != nil:
		a.internalError(w, "failed to get chat", err)
		return
	}
	// Non-participants learn nothing about the chat's existence.
	if !chat.HasParticipant(p.ID) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}

	messages, err := a.store.ListMessages(chat.ID)
	if err != nil {
		a.internalError(w, "failed to list messages", err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Data: messages})
}

func (a *API) PushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := content.Validate(&sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.RecipientID = p.ID

	if err := a.store.UpsertPushSubscription(sub); err != nil {
		a.internalError(w, "failed to store push subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Message: "Subscribed"})
}
