package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"switchboard/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers             = []byte("users")
	bucketCompanies         = []byte("companies")
	bucketChats             = []byte("chats")
	bucketChatPairs         = []byte("chat_pairs")
	bucketMessages          = []byte("messages")
	bucketNotifications     = []byte("notifications")
	bucketPushSubscriptions = []byte("push_subscriptions")
)

type BboltStorage struct {
	db    *bbolt.DB
	now   func() time.Time
	newID func() string
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketCompanies,
			bucketChats,
			bucketChatPairs,
			bucketMessages,
			bucketNotifications,
			bucketPushSubscriptions,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now, newID: uuid.NewString}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}

func put(b *bbolt.Bucket, rec Storeable) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(rec.Key(), data)
}

func (s *BboltStorage) upsertProfile(bucket []byte, profile models.Profile) error {
	if profile.ID == "" {
		return errors.New("profile missing id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucket), &DBProfile{
			ID:    profile.ID,
			Name:  profile.Name,
			Image: profile.Image,
		})
	})
}

func (s *BboltStorage) getProfile(bucket []byte, id string) (models.Profile, error) {
	var dbProfile DBProfile
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %q: %w", bucket, id, models.ErrNotFound)
		}
		return dbProfile.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Profile{}, err
	}
	return dbProfile.model(), nil
}

// UpsertUser stores the display record of a user.
func (s *BboltStorage) UpsertUser(profile models.Profile) error {
	return s.upsertProfile(bucketUsers, profile)
}

// GetUser returns the display record of a user or models.ErrNotFound.
func (s *BboltStorage) GetUser(id string) (models.Profile, error) {
	return s.getProfile(bucketUsers, id)
}

// UpsertCompany stores the display record of a company.
func (s *BboltStorage) UpsertCompany(profile models.Profile) error {
	return s.upsertProfile(bucketCompanies, profile)
}

// GetCompany returns the display record of a company or models.ErrNotFound.
func (s *BboltStorage) GetCompany(id string) (models.Profile, error) {
	return s.getProfile(bucketCompanies, id)
}

func exists(tx *bbolt.Tx, bucket []byte, id string) bool {
	return id != "" && tx.Bucket(bucket).Get([]byte(id)) != nil
}

// CreateChat always creates a new chat for the pair, even if one exists.
func (s *BboltStorage) CreateChat(companyID, userID string) (models.Chat, error) {
	now := s.nowMillis()
	dbChat := DBChat{
		ID:        s.newID(),
		CompanyID: companyID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if !exists(tx, bucketCompanies, companyID) {
			return fmt.Errorf("company %q: %w", companyID, models.ErrForeignKey)
		}
		if !exists(tx, bucketUsers, userID) {
			return fmt.Errorf("user %q: %w", userID, models.ErrForeignKey)
		}
		if err := put(tx.Bucket(bucketChats), &dbChat); err != nil {
			return fmt.Errorf("failed to put chat: %w", err)
		}
		return tx.Bucket(bucketChatPairs).Put(pairKey(companyID, userID), []byte(dbChat.ID))
	})
	if err != nil {
		return models.Chat{}, err
	}
	return dbChat.model(), nil
}

// FindChat returns the most recently created chat of the pair.
func (s *BboltStorage) FindChat(companyID, userID string) (models.Chat, error) {
	var dbChat DBChat
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketChatPairs).Get(pairKey(companyID, userID))
		if id == nil {
			return fmt.Errorf("chat for company %q and user %q: %w", companyID, userID, models.ErrNotFound)
		}
		data := tx.Bucket(bucketChats).Get(id)
		if data == nil {
			return fmt.Errorf("chat %q: %w", id, models.ErrNotFound)
		}
		return dbChat.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Chat{}, err
	}
	return dbChat.model(), nil
}

func (s *BboltStorage) GetChat(id string) (models.Chat, error) {
	var dbChat DBChat
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChats).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chat %q: %w", id, models.ErrNotFound)
		}
		return dbChat.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Chat{}, err
	}
	return dbChat.model(), nil
}

// ListChatsFor returns every chat the given user or company takes part in,
// oldest first.
func (s *BboltStorage) ListChatsFor(participantID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			chat := dbChat.model()
			if chat.HasParticipant(participantID) {
				chats = append(chats, chat)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortChats(chats)
	return chats, nil
}

func sortChats(chats []models.Chat) {
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
}

// CreateMessage persists a message into its chat. The chat must exist.
func (s *BboltStorage) CreateMessage(message models.Message) (models.Message, error) {
	if message.ChatID == "" {
		return models.Message{}, errors.New("message missing chatID")
	}

	now := s.nowMillis()
	dbMessage := DBMessage{
		ID:        s.newID(),
		Content:   message.Content,
		ChatID:    message.ChatID,
		SenderID:  message.SenderID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatKey := []byte(message.ChatID)
		chatData := tx.Bucket(bucketChats).Get(chatKey)
		if chatData == nil {
			return fmt.Errorf("chat %q: %w", message.ChatID, models.ErrForeignKey)
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(chatKey)
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}
		if dbMessage.Seq, err = chatBucket.NextSequence(); err != nil {
			return err
		}
		if err := put(chatBucket, &dbMessage); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(chatData); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}
		dbChat.UpdatedAt = now
		return put(tx.Bucket(bucketChats), &dbChat)
	})
	if err != nil {
		return models.Message{}, err
	}
	return dbMessage.model(), nil
}

// ListMessages returns chat messages in creation order.
func (s *BboltStorage) ListMessages(chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil
		}
		c := chatBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.model())
		}
		return nil
	})
	return messages, err
}

// CreateNotification persists a notification. The target user or company
// must exist, otherwise models.ErrForeignKey is returned.
func (s *BboltStorage) CreateNotification(n models.Notification) (models.Notification, error) {
	if !n.ValidTarget() {
		return models.Notification{}, models.ErrInvalidTarget
	}

	now := s.nowMillis()
	dbNotification := DBNotification{
		ID:        s.newID(),
		Title:     n.Title,
		Link:      n.Link,
		UserID:    n.UserID,
		CompanyID: n.CompanyID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if n.UserID != "" && !exists(tx, bucketUsers, n.UserID) {
			return fmt.Errorf("user %q: %w", n.UserID, models.ErrForeignKey)
		}
		if n.CompanyID != "" && !exists(tx, bucketCompanies, n.CompanyID) {
			return fmt.Errorf("company %q: %w", n.CompanyID, models.ErrForeignKey)
		}

		b := tx.Bucket(bucketNotifications)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		dbNotification.Seq = seq
		return put(b, &dbNotification)
	})
	if err != nil {
		return models.Notification{}, err
	}
	return dbNotification.model(), nil
}

// ListUnreadNotifications returns the unread notifications addressed to the
// recipient in creation order.
func (s *BboltStorage) ListUnreadNotifications(recipientID string) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketNotifications).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbNotification DBNotification
			if err := dbNotification.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbNotification.Read || dbNotification.IsDeleted || !dbNotification.addressedTo(recipientID) {
				continue
			}
			notifications = append(notifications, dbNotification.model())
		}
		return nil
	})
	return notifications, err
}

// MarkNotificationsRead flips the read flag of every unread notification
// addressed to the recipient and returns how many were changed.
func (s *BboltStorage) MarkNotificationsRead(recipientID string) (int, error) {
	now := s.nowMillis()
	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotifications)

		// bbolt forbids writes while ForEach walks the bucket.
		var pending []DBNotification
		err := b.ForEach(func(k, v []byte) error {
			var dbNotification DBNotification
			if err := dbNotification.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbNotification.Read && !dbNotification.IsDeleted && dbNotification.addressedTo(recipientID) {
				pending = append(pending, dbNotification)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for i := range pending {
			pending[i].Read = true
			pending[i].UpdatedAt = now
			if err := put(b, &pending[i]); err != nil {
				return err
			}
		}
		count = len(pending)
		return nil
	})
	return count, err
}
