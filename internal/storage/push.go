package storage

import (
	"errors"
	"fmt"

	"switchboard/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertPushSubscription stores a browser subscription under its recipient,
// keyed by endpoint so re-subscribing the same browser replaces the keys.
func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	if sub.RecipientID == "" || sub.Endpoint == "" {
		return errors.New("push subscription missing recipient or endpoint")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketPushSubscriptions).CreateBucketIfNotExists([]byte(sub.RecipientID))
		if err != nil {
			return fmt.Errorf("failed to create recipient bucket: %w", err)
		}
		return put(b, &DBPushSubscription{
			RecipientID: sub.RecipientID,
			Endpoint:    sub.Endpoint,
			Auth:        sub.Auth,
			P256dh:      sub.P256dh,
		})
	})
}

func (s *BboltStorage) ListPushSubscriptions(recipientID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(recipientID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				RecipientID: dbSub.RecipientID,
				Endpoint:    dbSub.Endpoint,
				Auth:        dbSub.Auth,
				P256dh:      dbSub.P256dh,
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(recipientID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubscriptions).Bucket([]byte(recipientID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}
