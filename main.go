package main

import (
	"context"
	"errors"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"azo/internal/api"
	"azo/internal/auth"
	"azo/internal/config"
	"azo/internal/directory"
	"azo/internal/filestore"
	"azo/internal/gateway"
	"azo/internal/http"
	"azo/internal/notify"
	"azo/internal/storage"
	"azo/internal/stubs"
	"azo/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	dir := directory.New()
	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, dir)
	if err != nil {
		return err
	}

	notifier := notify.New(notify.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.PushSubscriber,
	})

	files, err := filestore.NewLocalStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	gw := gateway.NewGeminiClient(gateway.Config{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
	})

	hub := ws.NewHub(dir, bbStorage, notifier)

	if err := restore(dir, hub, bbStorage); err != nil {
		return err
	}
	if len(dir.List()) == 0 {
		if err := seed(authService, dir, bbStorage); err != nil {
			return err
		}
	}

	handlers := api.New(authService, dir, hub, files, bbStorage, gw, cfg.BaseURL)
	wsServer := ws.NewServer(authService, hub)
	apiServer := http.NewAPIServer(handlers, wsServer, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// restore loads persisted users and channels back into memory.
func restore(dir *directory.Directory, hub *ws.Hub, bbStorage *storage.BboltStorage) error {
	users, err := bbStorage.ListUsers()
	if err != nil {
		return err
	}
	for _, rec := range users {
		if err := dir.Register(rec); err != nil {
			return err
		}
	}

	channels, err := bbStorage.ListChannels()
	if err != nil {
		return err
	}
	for _, snap := range channels {
		messages, err := bbStorage.ListMessages(snap.ID)
		if err != nil {
			return err
		}
		hub.RestoreChannel(snap, messages)
	}
	return nil
}

// seed fills an empty database with a few demo accounts.
func seed(authService *auth.AuthService, dir *directory.Directory, bbStorage *storage.BboltStorage) error {
	for _, su := range stubs.Users {
		user, err := authService.RegisterVerified(auth.SignupRequest{
			Username:  su.Username,
			Email:     su.Email,
			Password:  su.Password,
			AvatarURL: su.AvatarURL,
		}, su.Status)
		if err != nil {
			return err
		}
		rec, err := dir.GetByID(user.ID)
		if err != nil {
			return err
		}
		if err := bbStorage.UpsertUser(rec); err != nil {
			return err
		}
		log.Printf("Seeded user %s (%s)", user.Username, user.ID)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
