package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID            string   `msgpack:"id"`
	Username      string   `msgpack:"username"`
	Email         string   `msgpack:"email"`
	Verified      bool     `msgpack:"verified"`
	AvatarURL     string   `msgpack:"avatarUrl"`
	Status        string   `msgpack:"status"`
	PasswordHash  string   `msgpack:"passwordHash"`
	Friends       []string `msgpack:"friends"`
	BlockedUsers  []string `msgpack:"blockedUsers"`
	BlockedGroups []string `msgpack:"blockedGroups"`

	PushEndpoint string `msgpack:"pushEndpoint"`
	PushP256dh   string `msgpack:"pushP256dh"`
	PushAuth     string `msgpack:"pushAuth"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBChannel struct {
	ID          string            `msgpack:"id"`
	Name        string            `msgpack:"name"`
	Description string            `msgpack:"description"`
	AvatarURL   string            `msgpack:"avatarUrl"`
	IsPrivate   bool              `msgpack:"isPrivate"`
	OwnerID     string            `msgpack:"ownerId"`
	Members     []string          `msgpack:"members"`
	Roles       map[string]string `msgpack:"roles"`
	Muted       []string          `msgpack:"muted"`
	IsDM        bool              `msgpack:"isDm"`
	LastSeq     int64             `msgpack:"lastSeq"`
}

func (c *DBChannel) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	Seq        int64  `msgpack:"seq"`
	ChannelID  string `msgpack:"channelId"`
	SenderID   string `msgpack:"senderId"`
	SenderName string `msgpack:"senderName"`
	Text       string `msgpack:"text"`
	Timestamp  int64  `msgpack:"timestamp"`
	Type       string `msgpack:"type"`
	ImageURL   string `msgpack:"imageUrl"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
