package main

import (
	"context"
	"path/filepath"
	"testing"

	"azo/internal/auth"
	"azo/internal/directory"
	"azo/internal/models"
	"azo/internal/storage"
	"azo/internal/stubs"
	"azo/internal/ws"

	"github.com/stretchr/testify/require"
)

func TestSeedAndRestore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "azo.db")

	// First boot: empty database gets seeded.
	store, err := storage.NewBboltStorage(dbPath)
	require.NoError(t, err)

	dir := directory.New()
	authService, err := auth.NewAuthService(context.Background(), auth.Config{}, dir)
	require.NoError(t, err)
	hub := ws.NewHub(dir, store, nil)

	require.NoError(t, restore(dir, hub, store))
	require.Empty(t, dir.List())
	require.NoError(t, seed(authService, dir, store))
	require.Len(t, dir.List(), len(stubs.Users))

	// Some state to carry over.
	ana, err := dir.Get(stubs.Users[0].Username)
	require.NoError(t, err)
	ch, err := hub.CreateHub(ana.ID, "general", false, "")
	require.NoError(t, err)
	_, err = hub.SendMessage(ana.ID, ch.ID, "surviving a restart")
	require.NoError(t, err)

	require.NoError(t, store.Close())

	// Second boot: everything comes back from disk.
	store2, err := storage.NewBboltStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = store2.Close() }()

	dir2 := directory.New()
	hub2 := ws.NewHub(dir2, store2, nil)
	require.NoError(t, restore(dir2, hub2, store2))

	require.Len(t, dir2.List(), len(stubs.Users))
	rec, err := dir2.Get(stubs.Users[0].Username)
	require.NoError(t, err)
	require.Equal(t, ana.ID, rec.ID)
	require.NotEmpty(t, rec.PasswordHash)

	restored, err := hub2.GetChannel(ch.ID)
	require.NoError(t, err)
	require.Equal(t, "general", restored.Name)
	require.Equal(t, models.RoleOwner, restored.Roles[ana.ID])

	messages, err := hub2.History(ana.ID, ch.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, models.MessageTypeSystem, messages[0].Type)
	require.Equal(t, "surviving a restart", messages[1].Text)

	// Seq continues where it left off.
	msg, err := hub2.SendMessage(ana.ID, ch.ID, "after restart")
	require.NoError(t, err)
	require.Equal(t, int64(3), msg.Seq)
}
