package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"azo/internal/directory"
	"azo/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketChannels = []byte("channels")
	bucketMessages = []byte("messages")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketChannels); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated directory record.
func (s *BboltStorage) UpsertUser(rec directory.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:            rec.ID,
			Username:      rec.Username,
			Email:         rec.Email,
			Verified:      rec.Verified,
			AvatarURL:     rec.AvatarURL,
			Status:        string(rec.Status),
			PasswordHash:  rec.PasswordHash,
			Friends:       rec.Friends,
			BlockedUsers:  rec.BlockedUsers,
			BlockedGroups: rec.BlockedGroups,
		}
		if rec.Subscription != nil {
			dbUser.PushEndpoint = rec.Subscription.Endpoint
			dbUser.PushP256dh = rec.Subscription.P256dh
			dbUser.PushAuth = rec.Subscription.Auth
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListUsers returns all directory records stored in the database.
func (s *BboltStorage) ListUsers() ([]directory.Record, error) {
	var records []directory.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			rec := directory.Record{
				User: models.User{
					ID:            dbUser.ID,
					Username:      dbUser.Username,
					Email:         dbUser.Email,
					Verified:      dbUser.Verified,
					AvatarURL:     dbUser.AvatarURL,
					Status:        models.PresenceStatus(dbUser.Status),
					Friends:       emptyIfNil(dbUser.Friends),
					BlockedUsers:  emptyIfNil(dbUser.BlockedUsers),
					BlockedGroups: emptyIfNil(dbUser.BlockedGroups),
				},
				PasswordHash: dbUser.PasswordHash,
			}
			if dbUser.PushEndpoint != "" {
				rec.Subscription = &models.PushSubscription{
					Endpoint: dbUser.PushEndpoint,
					P256dh:   dbUser.PushP256dh,
					Auth:     dbUser.PushAuth,
				}
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// DeleteUser removes a user record.
func (s *BboltStorage) DeleteUser(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

// UpsertChannel saves a channel snapshot to the database.
func (s *BboltStorage) UpsertChannel(ch models.Channel) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		roles := make(map[string]string, len(ch.Roles))
		for id, role := range ch.Roles {
			roles[id] = string(role)
		}
		dbChannel := DBChannel{
			ID:          ch.ID,
			Name:        ch.Name,
			Description: ch.Description,
			AvatarURL:   ch.AvatarURL,
			IsPrivate:   ch.IsPrivate,
			OwnerID:     ch.OwnerID,
			Members:     ch.Members,
			Roles:       roles,
			Muted:       ch.Muted,
			IsDM:        ch.IsDM,
			LastSeq:     ch.LastSeq,
		}
		data, err := dbChannel.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbChannel.Key(), data)
	})
}

// ListChannels returns all channel snapshots stored in the database.
func (s *BboltStorage) ListChannels() ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		return b.ForEach(func(k, v []byte) error {
			var dbChannel DBChannel
			if err := dbChannel.UnmarshalBinary(v); err != nil {
				return err
			}
			roles := make(map[string]models.Role, len(dbChannel.Roles))
			for id, role := range dbChannel.Roles {
				roles[id] = models.Role(role)
			}
			channels = append(channels, models.Channel{
				ID:          dbChannel.ID,
				Name:        dbChannel.Name,
				Description: dbChannel.Description,
				AvatarURL:   dbChannel.AvatarURL,
				IsPrivate:   dbChannel.IsPrivate,
				OwnerID:     dbChannel.OwnerID,
				Members:     emptyIfNil(dbChannel.Members),
				Roles:       roles,
				Muted:       emptyIfNil(dbChannel.Muted),
				IsDM:        dbChannel.IsDM,
				LastSeq:     dbChannel.LastSeq,
			})
			return nil
		})
	})
	return channels, err
}

// DeleteChannel removes a channel and its message log.
func (s *BboltStorage) DeleteChannel(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChannels).Delete([]byte(id)); err != nil {
			return err
		}
		mainMsgBucket := tx.Bucket(bucketMessages)
		if mainMsgBucket.Bucket([]byte(id)) == nil {
			return nil
		}
		return mainMsgBucket.DeleteBucket([]byte(id))
	})
}

// UpsertMessage saves a message into the channel's sub-bucket, keyed by seq.
func (s *BboltStorage) UpsertMessage(message models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.ChannelID == "" {
			return fmt.Errorf("message %s missing channel id", message.ID)
		}

		mainMsgBucket := tx.Bucket(bucketMessages)
		channelBucket, err := mainMsgBucket.CreateBucketIfNotExists([]byte(message.ChannelID))
		if err != nil {
			return fmt.Errorf("failed to create channel bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:         message.ID,
			Seq:        message.Seq,
			ChannelID:  message.ChannelID,
			SenderID:   message.SenderID,
			SenderName: message.SenderName,
			Text:       message.Text,
			Timestamp:  message.Timestamp,
			Type:       string(message.Type),
			ImageURL:   message.ImageURL,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return channelBucket.Put(dbMessage.Key(), data)
	})
}

// DeleteMessage removes a message from the channel's sub-bucket.
func (s *BboltStorage) DeleteMessage(channelID string, seq int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		channelBucket := tx.Bucket(bucketMessages).Bucket([]byte(channelID))
		if channelBucket == nil {
			return nil
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(seq))
		return channelBucket.Delete(key)
	})
}

// ListMessages returns the channel's messages in seq order.
func (s *BboltStorage) ListMessages(channelID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		channelBucket := tx.Bucket(bucketMessages).Bucket([]byte(channelID))
		if channelBucket == nil {
			return nil // No messages for this channel
		}
		return channelBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:         dbMsg.ID,
				Seq:        dbMsg.Seq,
				ChannelID:  dbMsg.ChannelID,
				SenderID:   dbMsg.SenderID,
				SenderName: dbMsg.SenderName,
				Text:       dbMsg.Text,
				Timestamp:  dbMsg.Timestamp,
				Type:       models.MessageType(dbMsg.Type),
				ImageURL:   dbMsg.ImageURL,
			})
			return nil
		})
	})
	return messages, err
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
