package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"azo/internal/channel"
	"azo/internal/content"
	"azo/internal/directory"
	"azo/internal/models"
	"azo/internal/notify"

	"github.com/google/uuid"
)

// Persister is the slice of the storage layer the hub writes through.
// A nil Persister keeps all state in memory only.
type Persister interface {
	UpsertChannel(ch models.Channel) error
	DeleteChannel(id string) error
	UpsertMessage(msg models.Message) error
	DeleteMessage(channelID string, seq int64) error
}

// Hub owns the channel store and the set of connected users. Every state
// transition runs synchronously under the hub's lock; the only suspension
// points (generative calls, push delivery) happen outside it.
type Hub struct {
	dir      *directory.Directory
	store    Persister        // may be nil
	notifier *notify.Notifier // may be nil

	// Map of channelID -> Channel object
	channels map[string]*channel.Channel

	// Map of userID -> Connection channel
	connected map[string]chan models.ServerMessage

	now func() time.Time

	mu sync.RWMutex
}

func NewHub(dir *directory.Directory, store Persister, notifier *notify.Notifier) *Hub {
	return &Hub{
		dir:       dir,
		store:     store,
		notifier:  notifier,
		channels:  make(map[string]*channel.Channel),
		connected: make(map[string]chan models.ServerMessage),
		now:       time.Now,
	}
}

// RestoreChannel rebuilds a channel from a persisted snapshot and log.
func (h *Hub) RestoreChannel(snap models.Channel, messages []models.Message) {
	c := channel.New(channel.Config{
		ID:             snap.ID,
		Name:           snap.Name,
		Description:    snap.Description,
		AvatarURL:      snap.AvatarURL,
		IsPrivate:      snap.IsPrivate,
		OwnerID:        snap.OwnerID,
		IsDM:           snap.IsDM,
		Members:        snap.Members,
		RecordCallback: h.deliver,
	})
	c.Restore(messages, snap.Roles, snap.Muted, snap.LastSeq)

	h.mu.Lock()
	h.channels[snap.ID] = c
	h.mu.Unlock()
}

// CreateHub allocates a new group channel owned by the creator and seeds the
// log with a system message announcing the launch.
func (h *Hub) CreateHub(ownerID, name string, isPrivate bool, avatarURL string) (models.Channel, error) {
	name = strings.TrimSpace(content.Sanitize(name))
	if name == "" {
		return models.Channel{}, errors.New("hub name is required")
	}

	owner, err := h.dir.GetByID(ownerID)
	if err != nil {
		return models.Channel{}, err
	}

	c := channel.New(channel.Config{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    "A shared hub for conversation.",
		AvatarURL:      avatarURL,
		IsPrivate:      isPrivate,
		OwnerID:        ownerID,
		RecordCallback: h.deliver,
	})

	h.mu.Lock()
	h.channels[c.ID] = c
	h.mu.Unlock()

	h.systemMessage(c, fmt.Sprintf("Hub %s launched by %s.", name, owner.Username))
	h.persistChannel(c)

	return c.Snapshot(), nil
}

// CreateOrReuseDM returns the existing DM between the pair if one exists
// (matched on the membership set, in either order), otherwise allocates a
// new one with both members as owner.
func (h *Hub) CreateOrReuseDM(userID, otherID string) (models.Channel, error) {
	if userID == otherID {
		return models.Channel{}, models.ErrSelfTarget
	}
	if _, err := h.dir.GetByID(userID); err != nil {
		return models.Channel{}, err
	}
	other, err := h.dir.GetByID(otherID)
	if err != nil {
		return models.Channel{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.channels {
		if c.IsDM && c.HasMember(userID) && c.HasMember(otherID) {
			return c.Snapshot(), nil
		}
	}

	c := channel.New(channel.Config{
		ID:             uuid.NewString(),
		Name:           other.Username,
		Description:    "Private Direct Message",
		AvatarURL:      other.AvatarURL,
		IsPrivate:      true,
		OwnerID:        userID,
		IsDM:           true,
		Members:        []string{userID, otherID},
		RecordCallback: h.deliver,
	})
	h.channels[c.ID] = c

	snap := c.Snapshot()
	if h.store != nil {
		if err := h.store.UpsertChannel(snap); err != nil {
			slog.Error("failed to persist dm", "channel_id", c.ID, "error", err)
		}
	}
	return snap, nil
}

// GetChannel returns a snapshot of the channel.
func (h *Hub) GetChannel(channelID string) (models.Channel, error) {
	c, ok := h.get(channelID)
	if !ok {
		return models.Channel{}, models.ErrNotFound
	}
	return c.Snapshot(), nil
}

// VisibleChannels lists the channels the user can see: hubs minus their
// blocked groups, DMs minus those whose other member they blocked. Hubs come
// first, each group sorted by name.
func (h *Hub) VisibleChannels(userID string) ([]models.Channel, error) {
	user, err := h.dir.GetByID(userID)
	if err != nil {
		return nil, err
	}

	blockedGroups := toSet(user.BlockedGroups)
	blockedUsers := toSet(user.BlockedUsers)

	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []models.Channel
	for id, c := range h.channels {
		if !c.IsDM {
			if blockedGroups[id] {
				continue
			}
			result = append(result, c.Snapshot())
			continue
		}

		if !c.HasMember(userID) {
			continue
		}
		otherID := otherMember(c.Members(), userID)
		if otherID == "" || blockedUsers[otherID] {
			continue
		}
		result = append(result, c.Snapshot())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].IsDM != result[j].IsDM {
			return !result[i].IsDM
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// SendMessage filters and appends a text message. The sender's id and name
// are stamped at send time and never updated retroactively.
func (h *Hub) SendMessage(senderID, channelID, text string) (models.Message, error) {
	sender, err := h.dir.GetByID(senderID)
	if err != nil {
		return models.Message{}, err
	}
	c, ok := h.get(channelID)
	if !ok {
		return models.Message{}, models.ErrNotFound
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, errors.New("message text is required")
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: sender.Username,
		Text:       content.ApplyWordFilter(content.Sanitize(text)),
		Timestamp:  h.now().UnixMilli(),
		Type:       models.MessageTypeText,
	}

	stored, err := c.Append(msg)
	if err != nil {
		return models.Message{}, err
	}
	h.persistMessage(c, stored)
	return stored, nil
}

// SendImage appends an image message. Image messages bypass the word filter
// entirely and carry an image reference instead of text.
func (h *Hub) SendImage(senderID, channelID, imageURL string) (models.Message, error) {
	sender, err := h.dir.GetByID(senderID)
	if err != nil {
		return models.Message{}, err
	}
	c, ok := h.get(channelID)
	if !ok {
		return models.Message{}, models.ErrNotFound
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: sender.Username,
		Timestamp:  h.now().UnixMilli(),
		Type:       models.MessageTypeImage,
		ImageURL:   imageURL,
	}

	stored, err := c.Append(msg)
	if err != nil {
		return models.Message{}, err
	}
	h.persistMessage(c, stored)
	return stored, nil
}

// CanPost checks posting rights without appending anything.
func (h *Hub) CanPost(senderID, channelID string) error {
	if _, err := h.dir.GetByID(senderID); err != nil {
		return err
	}
	c, ok := h.get(channelID)
	if !ok {
		return models.ErrNotFound
	}
	return c.CanPost(senderID)
}

// DeleteMessage removes a message and tells connected members about it.
func (h *Hub) DeleteMessage(actorID, channelID, messageID string) error {
	c, ok := h.get(channelID)
	if !ok {
		return models.ErrNotFound
	}

	msg, err := c.DeleteMessage(actorID, messageID)
	if err != nil {
		return err
	}

	if h.store != nil {
		if err := h.store.DeleteMessage(channelID, msg.Seq); err != nil {
			slog.Error("failed to delete persisted message", "channel_id", channelID, "seq", msg.Seq, "error", err)
		}
	}

	frame := models.ServerMessage{
		Type:      models.ServerMessageTypeDeleted,
		ChannelID: channelID,
		MessageID: messageID,
	}
	for _, memberID := range c.Members() {
		h.send(memberID, frame)
	}
	return nil
}

// SetRole applies the role change under the channel's permission rules and
// persists the new role map.
func (h *Hub) SetRole(actorID, channelID, targetID string, role models.Role) error {
	c, ok := h.get(channelID)
	if !ok {
		return models.ErrNotFound
	}
	if err := c.SetRole(actorID, targetID, role); err != nil {
		return err
	}
	h.persistChannel(c)
	return nil
}

// ToggleMute flips the target's mute state and persists it.
func (h *Hub) ToggleMute(actorID, channelID, targetID string) (bool, error) {
	c, ok := h.get(channelID)
	if !ok {
		return false, models.ErrNotFound
	}
	muted, err := c.ToggleMute(actorID, targetID)
	if err != nil {
		return false, err
	}
	h.persistChannel(c)
	return muted, nil
}

// History returns up to count recent messages of a channel the user can see.
func (h *Hub) History(userID, channelID string, count int) ([]models.Message, error) {
	c, ok := h.get(channelID)
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.IsDM && !c.HasMember(userID) {
		return nil, models.ErrPermissionDenied
	}

	messages := c.LastMessages(count)
	for i := range messages {
		if messages[i].Type == models.MessageTypeText {
			messages[i].HTML = content.RenderMarkdown(messages[i].Text)
		}
	}
	return messages, nil
}

// Transcript returns the full message log for the moderation gateway.
func (h *Hub) Transcript(channelID string) ([]models.Message, error) {
	c, ok := h.get(channelID)
	if !ok {
		return nil, models.ErrNotFound
	}
	return c.Messages(), nil
}

// DeleteOwnedBy removes every channel owned by the user. Channels owned by
// others are untouched, including ones the user merely belongs to.
func (h *Hub) DeleteOwnedBy(userID string) []string {
	h.mu.Lock()
	var removed []string
	for id, c := range h.channels {
		if c.OwnerID == userID {
			delete(h.channels, id)
			removed = append(removed, id)
		}
	}
	h.mu.Unlock()

	if h.store != nil {
		for _, id := range removed {
			if err := h.store.DeleteChannel(id); err != nil {
				slog.Error("failed to delete persisted channel", "channel_id", id, "error", err)
			}
		}
	}
	return removed
}

// RemoveDeletedUser tears down everything tied to a deleted account.
func (h *Hub) RemoveDeletedUser(userID string) {
	h.DeleteOwnedBy(userID)
	h.DisconnectUser(userID)
}

// DisconnectUser force-closes the user's live connection, if any.
func (h *Hub) DisconnectUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.connected[userID]; ok {
		close(ch)
		delete(h.connected, userID)
	}
}

// Join registers a live connection and announces presence to others.
func (h *Hub) Join(userID string) chan models.ServerMessage {
	h.mu.Lock()
	if old, ok := h.connected[userID]; ok {
		close(old)
	}
	ch := make(chan models.ServerMessage, 100)
	h.connected[userID] = ch
	h.mu.Unlock()

	h.broadcast(models.ServerMessage{Type: models.ServerMessageTypeOnline, UserID: userID}, userID)
	return ch
}

// Leave unregisters the connection and announces the departure. The caller
// passes the channel it got from Join: a stale connection tearing down after
// the user already reconnected must not remove the newer registration.
func (h *Hub) Leave(userID string, ch chan models.ServerMessage) {
	h.mu.Lock()
	current, ok := h.connected[userID]
	if !ok || current != ch {
		h.mu.Unlock()
		return
	}
	close(current)
	delete(h.connected, userID)
	h.mu.Unlock()

	h.broadcast(models.ServerMessage{Type: models.ServerMessageTypeOffline, UserID: userID}, userID)
}

// Dispatch handles a frame from a live connection. Send rejections (mute,
// missing channel) surface as an error frame back to the sender only.
func (h *Hub) Dispatch(userID string, msg models.ClientMessage) {
	if msg.Type != models.ClientMessageTypeSend {
		return
	}

	if _, err := h.SendMessage(userID, msg.ChannelID, msg.Content); err != nil {
		errText := err.Error()
		if errors.Is(err, models.ErrMuted) {
			errText = "You are currently muted in this hub."
		}
		h.send(userID, models.ServerMessage{
			Type:      models.ServerMessageTypeError,
			ChannelID: msg.ChannelID,
			Error:     errText,
		})
	}
}

// deliver is the channel record callback: fan a new message out to one
// member, or push-notify them if they are offline.
func (h *Hub) deliver(receiverID string, msg models.Message) {
	out := msg
	if out.Type == models.MessageTypeText {
		out.HTML = content.RenderMarkdown(out.Text)
	}

	frame := models.ServerMessage{
		Type:      models.ServerMessageTypeMessages,
		ChannelID: msg.ChannelID,
		Messages:  []models.Message{out},
	}

	if h.send(receiverID, frame) {
		return
	}
	if receiverID == msg.SenderID || msg.Type == models.MessageTypeSystem {
		return
	}
	h.pushNotify(receiverID, msg)
}

// send delivers a frame to a connected user, dropping it when the buffer is
// full. Returns false if the user has no live connection.
func (h *Hub) send(userID string, frame models.ServerMessage) bool {
	h.mu.RLock()
	ch, online := h.connected[userID]
	h.mu.RUnlock()
	if !online {
		return false
	}

	select {
	case ch <- frame:
	default:
		// Slow consumer, drop the frame.
	}
	return true
}

func (h *Hub) broadcast(frame models.ServerMessage, exceptID string) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.connected))
	for id := range h.connected {
		if id != exceptID {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.send(id, frame)
	}
}

func (h *Hub) pushNotify(receiverID string, msg models.Message) {
	if h.notifier == nil || !h.notifier.Enabled() {
		return
	}
	rec, err := h.dir.GetByID(receiverID)
	if err != nil || rec.Subscription == nil {
		return
	}

	c, ok := h.get(msg.ChannelID)
	channelName := msg.ChannelID
	if ok {
		channelName = c.Name
	}

	sub := *rec.Subscription
	go func() {
		_ = h.notifier.Send(sub, notify.Payload{
			ChannelID:   msg.ChannelID,
			ChannelName: channelName,
			From:        msg.SenderName,
			Text:        msg.Text,
		})
	}()
}

func (h *Hub) systemMessage(c *channel.Channel, text string) {
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   models.SystemSenderID,
		SenderName: "System",
		Text:       text,
		Timestamp:  h.now().UnixMilli(),
		Type:       models.MessageTypeSystem,
	}
	stored, err := c.Append(msg)
	if err != nil {
		slog.Error("failed to append system message", "channel_id", c.ID, "error", err)
		return
	}
	h.persistMessage(c, stored)
}

func (h *Hub) persistMessage(c *channel.Channel, msg models.Message) {
	if h.store == nil {
		return
	}
	if err := h.store.UpsertMessage(msg); err != nil {
		slog.Error("failed to persist message", "channel_id", c.ID, "seq", msg.Seq, "error", err)
	}
	h.persistChannel(c)
}

func (h *Hub) persistChannel(c *channel.Channel) {
	if h.store == nil {
		return
	}
	if err := h.store.UpsertChannel(c.Snapshot()); err != nil {
		slog.Error("failed to persist channel", "channel_id", c.ID, "error", err)
	}
}

func (h *Hub) get(channelID string) (*channel.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[channelID]
	return c, ok
}

// Helpers

func otherMember(members []string, userID string) string {
	for _, id := range members {
		if id != userID {
			return id
		}
	}
	return ""
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
