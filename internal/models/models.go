package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrMuted            = errors.New("user is muted in this channel")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSelfTarget       = errors.New("operation cannot target yourself")
)

// SystemSenderID is the synthetic sender used for channel announcements.
const SystemSenderID = "system"

// Role is a privilege tier within a channel.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Rank returns the position of the role in the privilege order
// owner > admin > moderator > member. Used for gating only.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleModerator:
		return 1
	default:
		return 0
	}
}

// CanManage reports whether the role may moderate a channel
// (delete messages, mute members).
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleModerator
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// PresenceStatus is the user-selected presence indicator.
type PresenceStatus string

const (
	StatusOnline       PresenceStatus = "Online"
	StatusAway         PresenceStatus = "Away"
	StatusDoNotDisturb PresenceStatus = "Do Not Disturb"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusDoNotDisturb:
		return true
	}
	return false
}

// User represents a user in the system.
type User struct {
	ID            string         `json:"id"`
	Username      string         `json:"username"`
	Email         string         `json:"email"`
	Verified      bool           `json:"verified"`
	AvatarURL     string         `json:"avatarUrl"`
	Status        PresenceStatus `json:"status"`
	Friends       []string       `json:"friends"`
	BlockedUsers  []string       `json:"blockedUsers"`
	BlockedGroups []string       `json:"blockedGroups"`
}

// PushSubscription holds a browser push endpoint registered by the user.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// Message is a single entry in a channel log. Sender name is denormalized
// at send time and never updated afterwards.
type Message struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq"`
	ChannelID  string      `json:"channelId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Text       string      `json:"text"`
	HTML       string      `json:"html,omitempty"` // rendered form, set on delivery only
	Timestamp  int64       `json:"timestamp"`      // Unix timestamp (milliseconds)
	Type       MessageType `json:"type"`
	ImageURL   string      `json:"imageUrl,omitempty"`
}

// Channel is a snapshot of a hub or DM conversation.
type Channel struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	AvatarURL   string          `json:"avatarUrl"`
	IsPrivate   bool            `json:"isPrivate"`
	OwnerID     string          `json:"ownerId"`
	Members     []string        `json:"members"`
	Roles       map[string]Role `json:"roles"`
	Muted       []string        `json:"muted"`
	IsDM        bool            `json:"isDm"`
	LastSeq     int64           `json:"lastSeq"`
}

// ModerationResult is the structured verdict returned by the audit gateway.
// Verdict is conventionally SAFE or UNSAFE, or ERROR when the service failed.
type ModerationResult struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// AspectRatio for generated images.
type AspectRatio string

var aspectRatios = map[AspectRatio]bool{
	"1:1": true, "2:3": true, "3:2": true, "3:4": true,
	"4:3": true, "9:16": true, "16:9": true, "21:9": true,
}

func (a AspectRatio) Valid() bool { return aspectRatios[a] }

// ImageSize for generated images.
type ImageSize string

var imageSizes = map[ImageSize]bool{"1K": true, "2K": true, "4K": true}

func (s ImageSize) Valid() bool { return imageSizes[s] }

// ClientMessage represents a message sent from the client to the server.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	ChannelID string            `json:"channelId"`
	Content   string            `json:"content"`
}

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type      ServerMessageType `json:"type"`
	UserID    string            `json:"userId,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
	Error     string            `json:"error,omitempty"`
	Messages  []Message         `json:"messages,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeSend ClientMessageType = "send"
)

type ServerMessageType string

const (
	ServerMessageTypeMessages ServerMessageType = "messages"
	ServerMessageTypeDeleted  ServerMessageType = "deleted"
	ServerMessageTypeOnline   ServerMessageType = "online"
	ServerMessageTypeOffline  ServerMessageType = "offline"
	ServerMessageTypeError    ServerMessageType = "error"
)

// APIResponse is the generic success/message envelope for API endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
