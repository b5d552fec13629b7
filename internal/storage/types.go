package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"switchboard/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func toTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type DBProfile struct {
	ID    string `msgpack:"id"`
	Name  string `msgpack:"name"`
	Image string `msgpack:"image"`
}

func (p *DBProfile) Key() []byte {
	return []byte(p.ID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}

func (p *DBProfile) model() models.Profile {
	return models.Profile{ID: p.ID, Name: p.Name, Image: p.Image}
}

type DBChat struct {
	ID        string `msgpack:"id"`
	CompanyID string `msgpack:"companyId"`
	UserID    string `msgpack:"userId"`
	CreatedAt int64  `msgpack:"createdAt"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBChat) model() models.Chat {
	return models.Chat{
		ID:        c.ID,
		CompanyID: c.CompanyID,
		UserID:    c.UserID,
		CreatedAt: toTime(c.CreatedAt),
		UpdatedAt: toTime(c.UpdatedAt),
	}
}

// pairKey indexes the most recent chat of a (company, user) pair.
func pairKey(companyID, userID string) []byte {
	return []byte(companyID + "\x00" + userID)
}

// DBMessage is stored in a per-chat bucket under its sequence number,
// so a cursor walk yields creation order.
type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	Content   string `msgpack:"content"`
	ChatID    string `msgpack:"chatId"`
	SenderID  string `msgpack:"senderId"`
	CreatedAt int64  `msgpack:"createdAt"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) model() models.Message {
	return models.Message{
		ID:        m.ID,
		Content:   m.Content,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		CreatedAt: toTime(m.CreatedAt),
		UpdatedAt: toTime(m.UpdatedAt),
	}
}

type DBNotification struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	Title     string `msgpack:"title"`
	Read      bool   `msgpack:"read"`
	Link      string `msgpack:"link"`
	UserID    string `msgpack:"userId"`
	CompanyID string `msgpack:"companyId"`
	CreatedAt int64  `msgpack:"createdAt"`
	UpdatedAt int64  `msgpack:"updatedAt"`
	IsDeleted bool   `msgpack:"isDeleted"`
}

func (n *DBNotification) Key() []byte {
	return seqKey(n.Seq)
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

func (n *DBNotification) model() models.Notification {
	return models.Notification{
		ID:        n.ID,
		Title:     n.Title,
		Read:      n.Read,
		Link:      n.Link,
		UserID:    n.UserID,
		CompanyID: n.CompanyID,
		CreatedAt: toTime(n.CreatedAt),
		UpdatedAt: toTime(n.UpdatedAt),
		IsDeleted: n.IsDeleted,
	}
}

func (n *DBNotification) addressedTo(recipientID string) bool {
	return recipientID != "" && (n.UserID == recipientID || n.CompanyID == recipientID)
}

type DBPushSubscription struct {
	RecipientID string `msgpack:"recipientId"`
	Endpoint    string `msgpack:"endpoint"`
	Auth        string `msgpack:"auth"`
	P256dh      string `msgpack:"p256dh"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
