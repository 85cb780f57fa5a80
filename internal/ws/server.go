package ws

import (
	"log/slog"
	"net/http"

	"azo/internal/auth"

	"github.com/gorilla/websocket"
)

// Server upgrades authenticated HTTP requests to websocket connections and
// hands them to the hub.
type Server struct {
	auth     *auth.AuthService
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth *auth.AuthService, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections authenticates the request by token, upgrades it and runs
// the connection until the client disconnects or the server shuts down.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	userID, err := s.auth.GetUserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	c := NewConnection(s.hub, conn, userID)
	if err := c.Handle(r.Context()); err != nil {
		slog.Debug("websocket connection closed", "user_id", userID, "error", err)
	}
}
