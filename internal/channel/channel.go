package channel

import (
	"fmt"
	"sync"

	"azo/internal/models"
)

// Config describes a channel at creation or restore time.
type Config struct {
	ID          string
	Name        string
	Description string
	AvatarURL   string
	IsPrivate   bool
	OwnerID     string
	IsDM        bool
	Members     []string

	// RecordCallback is invoked for every member when a message is appended.
	RecordCallback func(receiverID string, msg models.Message)
}

// Channel owns an ordered message log, a membership list, a role map and a
// mute set. All mutation goes through methods that enforce the channel's
// authorization rules and return typed denials.
type Channel struct {
	ID          string
	Name        string
	Description string
	AvatarURL   string
	IsPrivate   bool
	OwnerID     string
	IsDM        bool

	members  []string
	roles    map[string]models.Role
	muted    map[string]bool
	messages []models.Message
	lastSeq  int64

	RecordCallback func(receiverID string, msg models.Message)

	mux sync.RWMutex
}

// New creates a channel. The owner always holds role owner; a DM has exactly
// two members, each with role owner.
func New(config Config) *Channel {
	c := &Channel{
		ID:             config.ID,
		Name:           config.Name,
		Description:    config.Description,
		AvatarURL:      config.AvatarURL,
		IsPrivate:      config.IsPrivate,
		OwnerID:        config.OwnerID,
		IsDM:           config.IsDM,
		roles:          make(map[string]models.Role),
		muted:          make(map[string]bool),
		RecordCallback: config.RecordCallback,
	}

	for _, id := range config.Members {
		c.members = append(c.members, id)
		if config.IsDM {
			c.roles[id] = models.RoleOwner
		} else {
			c.roles[id] = models.RoleMember
		}
	}
	if !config.IsDM && config.OwnerID != "" {
		if !c.hasMemberLocked(config.OwnerID) {
			c.members = append(c.members, config.OwnerID)
		}
		c.roles[config.OwnerID] = models.RoleOwner
	}

	return c
}

// Restore overwrites log and moderation state from persisted data.
func (c *Channel) Restore(messages []models.Message, roles map[string]models.Role, muted []string, lastSeq int64) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.messages = append([]models.Message{}, messages...)
	c.lastSeq = lastSeq
	for id, role := range roles {
		c.roles[id] = role
	}
	for _, id := range muted {
		c.muted[id] = true
	}
}

// Append adds a message to the log. It is rejected with ErrMuted when the
// sender is in the mute set. Posting to a hub auto-joins the sender as a
// member; DMs never grow beyond their two members. System messages bypass
// both checks.
func (c *Channel) Append(msg models.Message) (models.Message, error) {
	c.mux.Lock()

	if msg.Type != models.MessageTypeSystem {
		if c.muted[msg.SenderID] {
			c.mux.Unlock()
			return models.Message{}, models.ErrMuted
		}
		if !c.hasMemberLocked(msg.SenderID) {
			if c.IsDM {
				c.mux.Unlock()
				return models.Message{}, models.ErrPermissionDenied
			}
			c.members = append(c.members, msg.SenderID)
			c.roles[msg.SenderID] = models.RoleMember
		}
	}

	c.lastSeq++
	msg.Seq = c.lastSeq
	msg.ChannelID = c.ID
	c.messages = append(c.messages, msg)

	receivers := append([]string{}, c.members...)
	callback := c.RecordCallback
	c.mux.Unlock()

	if callback != nil {
		for _, id := range receivers {
			callback(id, msg)
		}
	}

	return msg, nil
}

// DeleteMessage removes a message from the log by id. Only manager roles
// (owner, admin, moderator) may delete.
func (c *Channel) DeleteMessage(actorID, messageID string) (models.Message, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if !c.roleLocked(actorID).CanManage() {
		return models.Message{}, models.ErrPermissionDenied
	}

	for i, msg := range c.messages {
		if msg.ID == messageID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return msg, nil
		}
	}
	return models.Message{}, models.ErrNotFound
}

// SetRole changes a member's role. An owner may set any other member's role;
// an admin may only change members currently below admin. The owner role
// itself is fixed and cannot be granted.
func (c *Channel) SetRole(actorID, targetID string, role models.Role) error {
	if actorID == targetID {
		return models.ErrSelfTarget
	}
	if !role.Valid() || role == models.RoleOwner {
		return fmt.Errorf("role %q cannot be assigned", role)
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if !c.hasMemberLocked(targetID) {
		return models.ErrNotFound
	}

	actorRole := c.roleLocked(actorID)
	targetRole := c.roleLocked(targetID)

	switch {
	case actorRole == models.RoleOwner:
	case actorRole == models.RoleAdmin && targetRole.Rank() < models.RoleAdmin.Rank():
	default:
		return models.ErrPermissionDenied
	}

	c.roles[targetID] = role
	return nil
}

// ToggleMute flips the target's membership in the mute set and returns the
// new state. Any manager role may mute any other member, managers included.
func (c *Channel) ToggleMute(actorID, targetID string) (bool, error) {
	if actorID == targetID {
		return false, models.ErrSelfTarget
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if !c.roleLocked(actorID).CanManage() {
		return false, models.ErrPermissionDenied
	}
	if !c.hasMemberLocked(targetID) {
		return false, models.ErrNotFound
	}

	if c.muted[targetID] {
		delete(c.muted, targetID)
		return false, nil
	}
	c.muted[targetID] = true
	return true, nil
}

// CanPost reports whether the user may currently post, using the same rules
// Append enforces. Lets callers reject doomed work before producing content.
func (c *Channel) CanPost(userID string) error {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.muted[userID] {
		return models.ErrMuted
	}
	if c.IsDM && !c.hasMemberLocked(userID) {
		return models.ErrPermissionDenied
	}
	return nil
}

// RoleOf returns the member's role, defaulting to member.
func (c *Channel) RoleOf(userID string) models.Role {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.roleLocked(userID)
}

// IsMuted reports whether the user is currently muted in this channel.
func (c *Channel) IsMuted(userID string) bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.muted[userID]
}

// HasMember reports whether the user is in the membership list.
func (c *Channel) HasMember(userID string) bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.hasMemberLocked(userID)
}

// Members returns a copy of the membership list.
func (c *Channel) Members() []string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return append([]string{}, c.members...)
}

// Messages returns a copy of the full message log in append order.
func (c *Channel) Messages() []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return append([]models.Message{}, c.messages...)
}

// LastMessages returns up to count most recent messages in append order.
func (c *Channel) LastMessages(count int) []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if count <= 0 || count > len(c.messages) {
		count = len(c.messages)
	}
	return append([]models.Message{}, c.messages[len(c.messages)-count:]...)
}

// Snapshot returns an immutable view of the channel for API responses.
func (c *Channel) Snapshot() models.Channel {
	c.mux.RLock()
	defer c.mux.RUnlock()

	roles := make(map[string]models.Role, len(c.roles))
	for id, role := range c.roles {
		roles[id] = role
	}
	muted := make([]string, 0, len(c.muted))
	for _, id := range c.members {
		if c.muted[id] {
			muted = append(muted, id)
		}
	}

	return models.Channel{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		AvatarURL:   c.AvatarURL,
		IsPrivate:   c.IsPrivate,
		OwnerID:     c.OwnerID,
		Members:     append([]string{}, c.members...),
		Roles:       roles,
		Muted:       muted,
		IsDM:        c.IsDM,
		LastSeq:     c.lastSeq,
	}
}

func (c *Channel) hasMemberLocked(userID string) bool {
	for _, id := range c.members {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Channel) roleLocked(userID string) models.Role {
	if role, ok := c.roles[userID]; ok {
		return role
	}
	return models.RoleMember
}
