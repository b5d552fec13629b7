package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"switchboard/internal/models"

	"github.com/samber/lo"
)

type Store interface {
	CreateChat(companyID, userID string) (models.Chat, error)
	FindChat(companyID, userID string) (models.Chat, error)
	GetChat(id string) (models.Chat, error)
}

// Channel is a chat together with the connections joined to it.
type Channel struct {
	models.Chat
	Members map[string]bool
}

type Config struct {
	Store Store
	// Idempotent makes Create reuse the latest chat of a (company, user)
	// pair instead of creating a new one every time.
	Idempotent bool
	Log        *slog.Logger
}

// Registry keeps channel membership of live connections. Chats themselves are
// durable and outlive connections; membership ends when a connection goes away.
type Registry struct {
	store      Store
	idempotent bool
	log        *slog.Logger

	// Map of chatID -> Channel
	channels map[string]*Channel
	// Map of connID -> joined chatIDs
	joined map[string]map[string]bool

	mu sync.RWMutex
}

func New(config Config) *Registry {
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:      config.Store,
		idempotent: config.Idempotent,
		log:        log.With("component", "chat"),
		channels:   make(map[string]*Channel),
		joined:     make(map[string]map[string]bool),
	}
}

// Create persists a chat for the pair and joins connID to it.
func (r *Registry) Create(connID, companyID, userID string) (models.Chat, error) {
	var (
		chat models.Chat
		err  error
	)
	if r.idempotent {
		chat, err = r.store.FindChat(companyID, userID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.Chat{}, fmt.Errorf("find chat: %w", err)
		}
	}
	if !r.idempotent || err != nil {
		chat, err = r.store.CreateChat(companyID, userID)
		if err != nil {
			return models.Chat{}, fmt.Errorf("create chat: %w", err)
		}
		r.log.Debug("chat created", "chat_id", chat.ID, "company_id", companyID, "user_id", userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(chat)
	r.join(connID, chat.ID)
	return chat, nil
}

// Join subscribes connID to chatID. Joining twice is harmless. Chats not yet
// seen by this process are loaded from the store.
func (r *Registry) Join(connID, chatID string) error {
	r.mu.RLock()
	_, known := r.channels[chatID]
	r.mu.RUnlock()

	var chat models.Chat
	if !known {
		var err error
		chat, err = r.store.GetChat(chatID)
		if err != nil {
			return fmt.Errorf("join chat: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !known {
		r.register(chat)
	}
	r.join(connID, chatID)
	return nil
}

func (r *Registry) register(chat models.Chat) {
	if _, ok := r.channels[chat.ID]; ok {
		return
	}
	r.channels[chat.ID] = &Channel{
		Chat:    chat,
		Members: make(map[string]bool),
	}
}

func (r *Registry) join(connID, chatID string) {
	r.channels[chatID].Members[connID] = true
	chats, ok := r.joined[connID]
	if !ok {
		chats = make(map[string]bool)
		r.joined[connID] = chats
	}
	chats[chatID] = true
}

// Get returns the chat if any connection of this process has touched it.
func (r *Registry) Get(chatID string) (models.Chat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[chatID]
	if !ok {
		return models.Chat{}, false
	}
	return c.Chat, true
}

// Members returns the connections joined to chatID.
func (r *Registry) Members(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[chatID]
	if !ok {
		return nil
	}
	members := lo.Keys(c.Members)
	sort.Strings(members)
	return members
}

// Joined returns the chats connID is joined to.
func (r *Registry) Joined(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chats := lo.Keys(r.joined[connID])
	sort.Strings(chats)
	return chats
}

// RemoveConnection ends every membership of connID and returns how many
// channels it was joined to.
func (r *Registry) RemoveConnection(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := r.joined[connID]
	for chatID := range chats {
		if c, ok := r.channels[chatID]; ok {
			delete(c.Members, connID)
		}
	}
	delete(r.joined, connID)
	return len(chats)
}
