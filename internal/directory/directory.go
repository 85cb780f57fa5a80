package directory

import (
	"errors"
	"sort"
	"strings"

	"azo/internal/models"

	"github.com/c-pro/geche"
)

var ErrUserExists = errors.New("user already exists")

// Record is a directory entry: the public user plus server-side credentials.
type Record struct {
	models.User
	PasswordHash string
	Subscription *models.PushSubscription
}

// Directory is the in-memory registry of user records. Usernames are unique
// case-insensitively; lookups by id go through a secondary index.
type Directory struct {
	// Keyed by lowercase username.
	users *geche.Locker[string, *Record]
	// userID -> lowercase username.
	ids *geche.Locker[string, string]
}

func New() *Directory {
	return &Directory{
		users: geche.NewLocker[string, *Record](geche.NewMapCache[string, *Record]()),
		ids:   geche.NewLocker[string, string](geche.NewMapCache[string, string]()),
	}
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Register inserts a new record. It fails with ErrUserExists when the
// username is already taken (case-insensitive).
func (d *Directory) Register(rec Record) error {
	key := usernameKey(rec.Username)
	tx := d.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(key); err == nil {
		return ErrUserExists
	}
	tx.Set(key, &rec)

	idTx := d.ids.Lock()
	idTx.Set(rec.ID, key)
	idTx.Unlock()
	return nil
}

// Get returns the record for a username, matched case-insensitively.
func (d *Directory) Get(username string) (Record, error) {
	tx := d.users.Lock()
	defer tx.Unlock()
	rec, err := tx.Get(usernameKey(username))
	if err != nil {
		return Record{}, models.ErrNotFound
	}
	return *rec, nil
}

// GetByID returns the record for a user id.
func (d *Directory) GetByID(id string) (Record, error) {
	idTx := d.ids.Lock()
	key, err := idTx.Get(id)
	idTx.Unlock()
	if err != nil {
		return Record{}, models.ErrNotFound
	}

	tx := d.users.Lock()
	defer tx.Unlock()
	rec, err := tx.Get(key)
	if err != nil {
		return Record{}, models.ErrNotFound
	}
	return *rec, nil
}

// List returns all users sorted by username.
func (d *Directory) List() []models.User {
	tx := d.users.Lock()
	snapshot := tx.Snapshot()
	tx.Unlock()

	users := make([]models.User, 0, len(snapshot))
	for _, rec := range snapshot {
		users = append(users, rec.User)
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	return users
}

// Delete removes a user record.
func (d *Directory) Delete(id string) error {
	idTx := d.ids.Lock()
	key, err := idTx.Get(id)
	if err != nil {
		idTx.Unlock()
		return models.ErrNotFound
	}
	_ = idTx.Del(id)
	idTx.Unlock()

	tx := d.users.Lock()
	defer tx.Unlock()
	return tx.Del(key)
}

// update replaces the record for id through fn while holding the lock.
func (d *Directory) update(id string, fn func(rec *Record)) (Record, error) {
	idTx := d.ids.Lock()
	key, err := idTx.Get(id)
	idTx.Unlock()
	if err != nil {
		return Record{}, models.ErrNotFound
	}

	tx := d.users.Lock()
	defer tx.Unlock()
	rec, err := tx.Get(key)
	if err != nil {
		return Record{}, models.ErrNotFound
	}
	updated := *rec
	fn(&updated)
	tx.Set(key, &updated)
	return updated, nil
}

// UpdateStatus sets the presence status.
func (d *Directory) UpdateStatus(id string, status models.PresenceStatus) (Record, error) {
	return d.update(id, func(rec *Record) {
		rec.Status = status
	})
}

// UpdateAvatar replaces the avatar reference.
func (d *Directory) UpdateAvatar(id, avatarURL string) (Record, error) {
	return d.update(id, func(rec *Record) {
		rec.AvatarURL = avatarURL
	})
}

// SetSubscription stores the user's push subscription (nil clears it).
func (d *Directory) SetSubscription(id string, sub *models.PushSubscription) (Record, error) {
	return d.update(id, func(rec *Record) {
		rec.Subscription = sub
	})
}

// ToggleFriend flips membership of otherID in the friends set.
func (d *Directory) ToggleFriend(id, otherID string) (Record, error) {
	return d.update(id, func(rec *Record) {
		rec.Friends = toggleID(rec.Friends, otherID)
	})
}

// ToggleBlockUser flips membership of otherID in the blocked-users set.
func (d *Directory) ToggleBlockUser(id, otherID string) (Record, error) {
	return d.update(id, func(rec *Record) {
		rec.BlockedUsers = toggleID(rec.BlockedUsers, otherID)
	})
}

// ToggleBlockGroup flips membership of groupID in the blocked-groups set.
func (d *Directory) ToggleBlockGroup(id, groupID string) (Record, error) {
	return d.update(id, func(rec *Record) {
		rec.BlockedGroups = toggleID(rec.BlockedGroups, groupID)
	})
}

// toggleID adds id to the list if absent and removes it if present.
func toggleID(list []string, id string) []string {
	for i, existing := range list {
		if existing == id {
			return append(append([]string{}, list[:i]...), list[i+1:]...)
		}
	}
	return append(append([]string{}, list...), id)
}
