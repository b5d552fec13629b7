package models

import (
	"encoding/json"
	"strings"
)

type EventName string

const (
	EventUserOnline          EventName = "userOnline"
	EventUserOffline         EventName = "userOffline"
	EventCreateChannel       EventName = "createChannel"
	EventJoinChannel         EventName = "joinChannel"
	EventSendMessage         EventName = "sendMessage"
	EventReceiveMessage      EventName = "receiveMessage"
	EventReceiveNotification EventName = "receiveNotification"
	EventError               EventName = "error"
)

// ClientEvent is a frame sent from the client to the server.
// Ack, when set, is echoed back on the reply to the event.
type ClientEvent struct {
	Event EventName       `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is a frame sent from the server to the client.
type ServerEvent struct {
	Event EventName `json:"event"`
	Ack   string    `json:"ack,omitempty"`
	Data  any       `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

type UserPresencePayload struct {
	UserID string `json:"userId" validate:"required"`
}

type CreateChannelPayload struct {
	CompanyID string `json:"companyId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

type ChannelPayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

// SendMessagePayload accepts both the current field names and the ones
// older web clients emit (message, senderType, sender.id). Of sender only
// the id is read; the displayed profile is looked up server-side.
type SendMessagePayload struct {
	ChatID          string   `json:"chatId" validate:"required"`
	SenderID        string   `json:"senderId"`
	RecipientID     string   `json:"recipientId" validate:"required"`
	SenderIsCompany bool     `json:"senderIsCompany"`
	SenderType      string   `json:"senderType,omitempty"`
	Content         string   `json:"content"`
	Message         string   `json:"message,omitempty"`
	Sender          *Profile `json:"sender,omitempty"`
}

// Normalize folds the legacy fields into the canonical ones.
func (p *SendMessagePayload) Normalize() {
	if p.SenderID == "" && p.Sender != nil {
		p.SenderID = p.Sender.ID
	}
	if p.Content == "" {
		p.Content = p.Message
	}
	if strings.EqualFold(p.SenderType, "COMPANY") {
		p.SenderIsCompany = true
	}
}

type SendMessageAck struct {
	MessageID string `json:"messageId"`
	Outcome   string `json:"outcome"`
}

// LiveMessage is a persisted message enriched with the sender's display data.
type LiveMessage struct {
	Message
	HTML   string   `json:"html,omitempty"`
	Sender *Profile `json:"sender,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
