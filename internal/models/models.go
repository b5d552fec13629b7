package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrForeignKey is returned by the store when a record references
	// a user, company or chat that does not exist.
	ErrForeignKey = errors.New("foreign key constraint failed")
	// ErrInvalidTarget means a notification does not address exactly one
	// of a user or a company.
	ErrInvalidTarget = errors.New("notification must target exactly one of user or company")
)

type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsCompany reports whether the role acts on behalf of a company.
func (r Role) IsCompany() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Principal is the identity a verified token resolves to.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Profile is the display record of a user or a company.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Chat is a durable conversation between one user and one company.
type Chat struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasParticipant reports whether id is the chat's user or company.
func (c Chat) HasParticipant(id string) bool {
	return id != "" && (c.UserID == id || c.CompanyID == id)
}

// ChatWithMessages is a chat and its messages in creation order.
type ChatWithMessages struct {
	Chat
	Messages []Message `json:"messages"`
}

// Message is immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification tells an absent recipient that someone tried to reach them.
// Exactly one of UserID and CompanyID is set.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Read      bool      `json:"read"`
	Link      string    `json:"link"`
	UserID    string    `json:"userId,omitempty"`
	CompanyID string    `json:"companyId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsDeleted bool      `json:"isDeleted"`
}

// Recipient returns whichever target field is set.
func (n Notification) Recipient() string {
	if n.UserID != "" {
		return n.UserID
	}
	return n.CompanyID
}

// ValidTarget reports whether exactly one target field is set.
func (n Notification) ValidTarget() bool {
	return (n.UserID == "") != (n.CompanyID == "")
}

// PushSubscription is a browser Web Push endpoint registered by a recipient.
type PushSubscription struct {
	RecipientID string `json:"recipientId"`
	Endpoint    string `json:"endpoint" validate:"required,url"`
	Auth        string `json:"auth" validate:"required"`
	P256dh      string `json:"p256dh" validate:"required"`
}

// APIResponse is the envelope of every REST response.
type APIResponse struct {
	Status  int    `json:"status"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}

type TokenRequest struct {
	ID   string `json:"id" validate:"required,id"`
	Role Role   `json:"role" validate:"omitempty,oneof=USER ADMIN SUPER_ADMIN"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
