package ws

import (
	"errors"
	"strings"
	"testing"

	"azo/internal/directory"
	"azo/internal/models"
)

func newTestDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	dir := directory.New()
	users := []struct{ id, name string }{
		{"u1", "Ana"},
		{"u2", "Bob"},
		{"u3", "Carol"},
	}
	for _, u := range users {
		err := dir.Register(directory.Record{
			User: models.User{
				ID:            u.id,
				Username:      u.name,
				Email:         strings.ToLower(u.name) + "@gmail.com",
				Status:        models.StatusOnline,
				Friends:       []string{},
				BlockedUsers:  []string{},
				BlockedGroups: []string{},
			},
			PasswordHash: "hash",
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return dir
}

func newTestHub(t *testing.T) (*Hub, *directory.Directory) {
	t.Helper()
	dir := newTestDirectory(t)
	return NewHub(dir, nil, nil), dir
}

func drain(ch chan models.ServerMessage) []models.ServerMessage {
	var frames []models.ServerMessage
	for {
		select {
		case f := <-ch:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHub_CreateHub(t *testing.T) {
	hub, _ := newTestHub(t)

	ch, err := hub.CreateHub("u1", "general", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	if ch.OwnerID != "u1" {
		t.Errorf("owner = %s, want u1", ch.OwnerID)
	}
	if ch.Roles["u1"] != models.RoleOwner {
		t.Errorf("owner role = %s, want owner", ch.Roles["u1"])
	}
	if ch.IsDM {
		t.Error("hub must not be a DM")
	}

	messages, err := hub.History("u1", ch.ID, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 system message, got %d", len(messages))
	}
	if messages[0].Type != models.MessageTypeSystem {
		t.Errorf("type = %s, want system", messages[0].Type)
	}
	if messages[0].Text != "Hub general launched by Ana." {
		t.Errorf("system text = %q", messages[0].Text)
	}
}

func TestHub_CreateHub_Invalid(t *testing.T) {
	hub, _ := newTestHub(t)

	if _, err := hub.CreateHub("u1", "   ", false, ""); err == nil {
		t.Error("empty name should fail")
	}
	if _, err := hub.CreateHub("ghost", "general", false, ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown owner err = %v, want ErrNotFound", err)
	}
}

func TestHub_CreateOrReuseDM(t *testing.T) {
	hub, _ := newTestHub(t)

	dm, err := hub.CreateOrReuseDM("u1", "u2")
	if err != nil {
		t.Fatalf("CreateOrReuseDM failed: %v", err)
	}
	if !dm.IsDM {
		t.Error("expected a DM")
	}
	if dm.Name != "Bob" {
		t.Errorf("DM name = %s, want Bob", dm.Name)
	}
	if dm.Roles["u1"] != models.RoleOwner || dm.Roles["u2"] != models.RoleOwner {
		t.Error("both DM members should hold role owner")
	}

	// Same pair in either order reuses the channel.
	again, err := hub.CreateOrReuseDM("u2", "u1")
	if err != nil {
		t.Fatalf("CreateOrReuseDM failed: %v", err)
	}
	if again.ID != dm.ID {
		t.Errorf("expected reuse of %s, got %s", dm.ID, again.ID)
	}

	other, err := hub.CreateOrReuseDM("u1", "u3")
	if err != nil {
		t.Fatalf("CreateOrReuseDM failed: %v", err)
	}
	if other.ID == dm.ID {
		t.Error("different pair must get a different DM")
	}

	if _, err := hub.CreateOrReuseDM("u1", "u1"); !errors.Is(err, models.ErrSelfTarget) {
		t.Errorf("self DM err = %v, want ErrSelfTarget", err)
	}
	if _, err := hub.CreateOrReuseDM("u1", "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown peer err = %v, want ErrNotFound", err)
	}
}

func TestHub_VisibleChannels(t *testing.T) {
	hub, dir := newTestHub(t)

	general, err := hub.CreateHub("u1", "general", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	if _, err := hub.CreateHub("u2", "art", false, ""); err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	dmWithBob, err := hub.CreateOrReuseDM("u1", "u2")
	if err != nil {
		t.Fatalf("CreateOrReuseDM failed: %v", err)
	}
	if _, err := hub.CreateOrReuseDM("u2", "u3"); err != nil {
		t.Fatalf("CreateOrReuseDM failed: %v", err)
	}

	t.Run("hubs first then own DMs", func(t *testing.T) {
		channels, err := hub.VisibleChannels("u1")
		if err != nil {
			t.Fatalf("VisibleChannels failed: %v", err)
		}
		// Hubs art + general, then the DM with Bob. Carol's DM is invisible.
		if len(channels) != 3 {
			t.Fatalf("expected 3 channels, got %d", len(channels))
		}
		if channels[0].Name != "art" || channels[1].Name != "general" {
			t.Errorf("hub order wrong: %s, %s", channels[0].Name, channels[1].Name)
		}
		if channels[2].ID != dmWithBob.ID {
			t.Errorf("expected DM with Bob last, got %s", channels[2].Name)
		}
	})

	t.Run("blocked group hidden", func(t *testing.T) {
		if _, err := dir.ToggleBlockGroup("u1", general.ID); err != nil {
			t.Fatalf("ToggleBlockGroup failed: %v", err)
		}
		channels, err := hub.VisibleChannels("u1")
		if err != nil {
			t.Fatalf("VisibleChannels failed: %v", err)
		}
		for _, ch := range channels {
			if ch.ID == general.ID {
				t.Error("blocked hub still visible")
			}
		}
	})

	t.Run("blocked user hides DM", func(t *testing.T) {
		if _, err := dir.ToggleBlockUser("u1", "u2"); err != nil {
			t.Fatalf("ToggleBlockUser failed: %v", err)
		}
		channels, err := hub.VisibleChannels("u1")
		if err != nil {
			t.Fatalf("VisibleChannels failed: %v", err)
		}
		for _, ch := range channels {
			if ch.ID == dmWithBob.ID {
				t.Error("DM with blocked user still visible")
			}
		}
	})
}

func TestHub_SendMessage(t *testing.T) {
	hub, _ := newTestHub(t)
	ch, err := hub.CreateHub("u1", "general", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}

	anaCh := hub.Join("u1")
	bobCh := hub.Join("u2")
	drain(anaCh)
	drain(bobCh)

	msg, err := hub.SendMessage("u1", ch.ID, "  this is spam **loud**  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Text != "this is **** **loud**" {
		t.Errorf("filtered text = %q", msg.Text)
	}
	if msg.SenderName != "Ana" {
		t.Errorf("sender name = %s, want Ana", msg.SenderName)
	}
	if msg.Seq == 0 || msg.Timestamp == 0 {
		t.Errorf("missing seq or timestamp: %+v", msg)
	}

	// Sender receives their own message too.
	frames := drain(anaCh)
	if len(frames) != 1 || frames[0].Type != models.ServerMessageTypeMessages {
		t.Fatalf("unexpected frames for sender: %+v", frames)
	}
	delivered := frames[0].Messages[0]
	if !strings.Contains(delivered.HTML, "<strong>loud</strong>") {
		t.Errorf("delivered HTML missing markdown: %q", delivered.HTML)
	}

	// Posting joined Ana; Bob is not yet a member so nothing arrives for him.
	if frames := drain(bobCh); len(frames) != 0 {
		t.Errorf("non-member received frames: %+v", frames)
	}

	if _, err := hub.SendMessage("u1", ch.ID, "   "); err == nil {
		t.Error("blank message should fail")
	}
	if _, err := hub.SendMessage("u1", "nope", "hi"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown channel err = %v, want ErrNotFound", err)
	}
}

func TestHub_Dispatch_Muted(t *testing.T) {
	hub, _ := newTestHub(t)
	ch, err := hub.CreateHub("u1", "general", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	if _, err := hub.SendMessage("u2", ch.ID, "joining"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := hub.ToggleMute("u1", ch.ID, "u2"); err != nil {
		t.Fatalf("ToggleMute failed: %v", err)
	}

	bobCh := hub.Join("u2")
	drain(bobCh)

	hub.Dispatch("u2", models.ClientMessage{
		Type:      models.ClientMessageTypeSend,
		ChannelID: ch.ID,
		Content:   "let me talk",
	})

	frames := drain(bobCh)
	if len(frames) != 1 || frames[0].Type != models.ServerMessageTypeError {
		t.Fatalf("expected a single error frame, got %+v", frames)
	}
	if frames[0].Error != "You are currently muted in this hub." {
		t.Errorf("error text = %q", frames[0].Error)
	}
}

func TestHub_DeleteMessage(t *testing.T) {
	hub, _ := newTestHub(t)
	ch, err := hub.CreateHub("u1", "general", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	msg, err := hub.SendMessage("u2", ch.ID, "remove me")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	bobCh := hub.Join("u2")
	drain(bobCh)

	if err := hub.DeleteMessage("u2", ch.ID, msg.ID); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("member delete err = %v, want ErrPermissionDenied", err)
	}

	if err := hub.DeleteMessage("u1", ch.ID, msg.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}

	frames := drain(bobCh)
	if len(frames) != 1 || frames[0].Type != models.ServerMessageTypeDeleted {
		t.Fatalf("expected deleted frame, got %+v", frames)
	}
	if frames[0].MessageID != msg.ID {
		t.Errorf("deleted id = %s, want %s", frames[0].MessageID, msg.ID)
	}
}

func TestHub_SetRole(t *testing.T) {
	hub, _ := newTestHub(t)
	ch, err := hub.CreateHub("u1", "general", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	if _, err := hub.SendMessage("u2", ch.ID, "joining"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := hub.SetRole("u1", ch.ID, "u2", models.RoleAdmin); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	snap, err := hub.GetChannel(ch.ID)
	if err != nil {
		t.Fatalf("GetChannel failed: %v", err)
	}
	if snap.Roles["u2"] != models.RoleAdmin {
		t.Errorf("role = %s, want admin", snap.Roles["u2"])
	}

	if err := hub.SetRole("u1", "nope", "u2", models.RoleAdmin); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown channel err = %v, want ErrNotFound", err)
	}
}

func TestHub_History_DMPrivacy(t *testing.T) {
	hub, _ := newTestHub(t)
	dm, err := hub.CreateOrReuseDM("u1", "u2")
	if err != nil {
		t.Fatalf("CreateOrReuseDM failed: %v", err)
	}
	if _, err := hub.SendMessage("u1", dm.ID, "just us"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if _, err := hub.History("u3", dm.ID, 10); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("outsider history err = %v, want ErrPermissionDenied", err)
	}

	messages, err := hub.History("u2", dm.ID, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "just us" {
		t.Errorf("unexpected history: %+v", messages)
	}
}

func TestHub_DeleteOwnedBy(t *testing.T) {
	hub, _ := newTestHub(t)
	mine, err := hub.CreateHub("u1", "mine", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}
	theirs, err := hub.CreateHub("u2", "theirs", false, "")
	if err != nil {
		t.Fatalf("CreateHub failed: %v", err)
	}

	removed := hub.DeleteOwnedBy("u1")
	if len(removed) != 1 || removed[0] != mine.ID {
		t.Errorf("removed = %v, want [%s]", removed, mine.ID)
	}

	if _, err := hub.GetChannel(mine.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("owned channel should be gone, err = %v", err)
	}
	if _, err := hub.GetChannel(theirs.ID); err != nil {
		t.Errorf("other channel should survive, err = %v", err)
	}
}

func TestHub_JoinLeavePresence(t *testing.T) {
	hub, _ := newTestHub(t)

	anaCh := hub.Join("u1")

	bobCh := hub.Join("u2")
	frames := drain(anaCh)
	if len(frames) != 1 || frames[0].Type != models.ServerMessageTypeOnline || frames[0].UserID != "u2" {
		t.Fatalf("expected online frame for u2, got %+v", frames)
	}
	// The joining user does not hear about themselves.
	if frames := drain(bobCh); len(frames) != 0 {
		t.Errorf("joining user got frames: %+v", frames)
	}

	hub.Leave("u2", bobCh)
	frames = drain(anaCh)
	if len(frames) != 1 || frames[0].Type != models.ServerMessageTypeOffline || frames[0].UserID != "u2" {
		t.Fatalf("expected offline frame for u2, got %+v", frames)
	}
}

func TestHub_ReconnectKeepsNewConnection(t *testing.T) {
	hub, _ := newTestHub(t)

	staleCh := hub.Join("u1")
	watcher := hub.Join("u2")
	drain(staleCh)
	drain(watcher)

	// u1 reconnects before the old connection finishes tearing down.
	liveCh := hub.Join("u1")
	drain(watcher)

	// The stale connection's deferred leave must not touch the new
	// registration or announce the user offline.
	hub.Leave("u1", staleCh)

	if frames := drain(watcher); len(frames) != 0 {
		t.Errorf("stale leave broadcast frames: %+v", frames)
	}
	if !hub.send("u1", models.ServerMessage{Type: models.ServerMessageTypeOnline}) {
		t.Fatal("live connection lost after stale leave")
	}
	select {
	case _, ok := <-liveCh:
		if !ok {
			t.Fatal("live channel was closed by the stale leave")
		}
	default:
		t.Fatal("expected frame on the live channel")
	}

	// Leaving with the live channel still works.
	hub.Leave("u1", liveCh)
	frames := drain(watcher)
	if len(frames) != 1 || frames[0].Type != models.ServerMessageTypeOffline || frames[0].UserID != "u1" {
		t.Fatalf("expected offline frame for u1, got %+v", frames)
	}
	if _, ok := hub.connected["u1"]; ok {
		t.Error("u1 still registered after leaving")
	}
}
