package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"azo/internal/api"
	"azo/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(handlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /api/signup", api.RequireSameOrigin(handlers.SignupHandler))
	mux.HandleFunc("POST /api/verify", api.RequireSameOrigin(handlers.VerifyHandler))
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(handlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(handlers.LogoffHandler))

	// Users
	mux.HandleFunc("GET /api/users", handlers.RequireAuth(handlers.UsersHandler))
	mux.HandleFunc("GET /api/me", handlers.RequireAuth(handlers.MeHandler))
	mux.HandleFunc("POST /api/me/status", api.RequireSameOrigin(handlers.RequireAuth(handlers.UpdateStatusHandler)))
	mux.HandleFunc("POST /api/me/avatar", api.RequireSameOrigin(handlers.RequireAuth(handlers.UploadAvatarHandler)))
	mux.HandleFunc("POST /api/me/push-subscription", api.RequireSameOrigin(handlers.RequireAuth(handlers.PushSubscriptionHandler)))
	mux.HandleFunc("DELETE /api/me", api.RequireSameOrigin(handlers.RequireAuth(handlers.DeleteAccountHandler)))
	mux.HandleFunc("POST /api/users/{id}/friend", api.RequireSameOrigin(handlers.RequireAuth(handlers.ToggleFriendHandler)))
	mux.HandleFunc("POST /api/users/{id}/block", api.RequireSameOrigin(handlers.RequireAuth(handlers.ToggleBlockUserHandler)))

	// Channels
	mux.HandleFunc("GET /api/channels", handlers.RequireAuth(handlers.ChannelsHandler))
	mux.HandleFunc("POST /api/channels", api.RequireSameOrigin(handlers.RequireAuth(handlers.CreateHubHandler)))
	mux.HandleFunc("POST /api/dms", api.RequireSameOrigin(handlers.RequireAuth(handlers.CreateDMHandler)))
	mux.HandleFunc("GET /api/channels/{id}/messages", handlers.RequireAuth(handlers.MessagesHandler))
	mux.HandleFunc("POST /api/channels/{id}/messages", api.RequireSameOrigin(handlers.RequireAuth(handlers.SendMessageHandler)))
	mux.HandleFunc("DELETE /api/channels/{id}/messages/{messageId}", api.RequireSameOrigin(handlers.RequireAuth(handlers.DeleteMessageHandler)))
	mux.HandleFunc("POST /api/channels/{id}/roles", api.RequireSameOrigin(handlers.RequireAuth(handlers.SetRoleHandler)))
	mux.HandleFunc("POST /api/channels/{id}/mute", api.RequireSameOrigin(handlers.RequireAuth(handlers.ToggleMuteHandler)))
	mux.HandleFunc("POST /api/channels/{id}/block", api.RequireSameOrigin(handlers.RequireAuth(handlers.ToggleBlockGroupHandler)))
	mux.HandleFunc("POST /api/channels/{id}/report", api.RequireSameOrigin(handlers.RequireAuth(handlers.ReportHandler)))

	// Images
	mux.HandleFunc("POST /api/images/generate", api.RequireSameOrigin(handlers.RequireAuth(handlers.GenerateImageHandler)))
	mux.HandleFunc("POST /api/upload/image", api.RequireSameOrigin(handlers.RequireAuth(handlers.UploadImageHandler)))
	mux.HandleFunc("GET /api/images/{id}", handlers.GetImageHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
