package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"azo/internal/auth"
	"azo/internal/directory"
	"azo/internal/filestore"
	"azo/internal/gateway"
	"azo/internal/models"
	"azo/internal/ws"

	"github.com/h2non/filetype"
)

const maxUploadSize = 8 << 20

// UserStore is the persistence slice the API writes user changes through.
// A nil UserStore keeps the directory in memory only.
type UserStore interface {
	UpsertUser(rec directory.Record) error
	DeleteUser(id string) error
}

type API struct {
	auth    *auth.AuthService
	dir     *directory.Directory
	hub     *ws.Hub
	files   filestore.Store
	store   UserStore
	gateway gateway.Client
	baseURL string
}

func New(
	authService *auth.AuthService,
	dir *directory.Directory,
	hub *ws.Hub,
	files filestore.Store,
	store UserStore,
	gw gateway.Client,
	baseURL string,
) *API {
	return &API{
		auth:    authService,
		dir:     dir,
		hub:     hub,
		files:   files,
		store:   store,
		gateway: gw,
		baseURL: baseURL,
	}
}

type contextKey string

const userIDKey contextKey = "userID"

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the session token and stashes the user id in the
// request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// RequireSameOrigin rejects cross-origin state-changing requests. Requests
// without an Origin header (curl, same-origin fetches in older browsers)
// pass through.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrPermissionDenied), errors.Is(err, models.ErrSelfTarget):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, models.ErrMuted):
		http.Error(w, "You are currently muted in this hub.", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (a *API) persistUser(userID string) {
	if a.store == nil {
		return
	}
	rec, err := a.dir.GetByID(userID)
	if err != nil {
		return
	}
	if err := a.store.UpsertUser(rec); err != nil {
		slog.Error("failed to persist user", "user_id", userID, "error", err)
	}
}

// Auth handlers

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := a.auth.Signup(req)
	status := http.StatusOK
	if !resp.NeedVerify {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (a *API) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := a.auth.Verify(req)
	if !resp.Success {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	if resp.User != nil {
		a.persistUser(resp.User.ID)
	}

	a.setTokenCookie(w, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form (since some clients post x-www-form-urlencoded)
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	resp, _ := a.auth.Login(req)
	if !resp.Success {
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}

	a.setTokenCookie(w, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) setTokenCookie(w http.ResponseWriter, resp auth.LoginResponse) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

// User handlers

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dir.List())
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := a.dir.GetByID(requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.User)
}

func (a *API) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.PresenceStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest)
		return
	}

	rec, err := a.dir.UpdateStatus(requestUserID(r), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	a.persistUser(rec.ID)
	writeJSON(w, http.StatusOK, rec.User)
}

func (a *API) UploadAvatarHandler(w http.ResponseWriter, r *http.Request) {
	hash, err := a.saveUploadedImage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := a.dir.UpdateAvatar(requestUserID(r), a.imageURL(hash))
	if err != nil {
		writeError(w, err)
		return
	}
	a.persistUser(rec.ID)
	writeJSON(w, http.StatusOK, rec.User)
}

func (a *API) PushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var stored *models.PushSubscription
	if sub.Endpoint != "" {
		stored = &sub
	}
	rec, err := a.dir.SetSubscription(requestUserID(r), stored)
	if err != nil {
		writeError(w, err)
		return
	}
	a.persistUser(rec.ID)
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) ToggleFriendHandler(w http.ResponseWriter, r *http.Request) {
	a.toggleUserRelation(w, r, a.dir.ToggleFriend)
}

func (a *API) ToggleBlockUserHandler(w http.ResponseWriter, r *http.Request) {
	a.toggleUserRelation(w, r, a.dir.ToggleBlockUser)
}

func (a *API) toggleUserRelation(
	w http.ResponseWriter,
	r *http.Request,
	toggle func(id, otherID string) (directory.Record, error),
) {
	userID := requestUserID(r)
	otherID := r.PathValue("id")
	if otherID == userID {
		writeError(w, models.ErrSelfTarget)
		return
	}
	if _, err := a.dir.GetByID(otherID); err != nil {
		writeError(w, err)
		return
	}

	rec, err := toggle(userID, otherID)
	if err != nil {
		writeError(w, err)
		return
	}
	a.persistUser(rec.ID)
	writeJSON(w, http.StatusOK, rec.User)
}

// DeleteAccountHandler removes the account after re-checking the password.
// Channels owned by the user go with it.
func (a *API) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := requestUserID(r)
	if err := a.auth.VerifyPassword(userID, req.Password); err != nil {
		writeError(w, err)
		return
	}

	a.hub.RemoveDeletedUser(userID)
	a.auth.RevokeUserTokens(userID)
	if err := a.dir.Delete(userID); err != nil {
		writeError(w, err)
		return
	}
	if a.store != nil {
		if err := a.store.DeleteUser(userID); err != nil {
			slog.Error("failed to delete persisted user", "user_id", userID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// Channel handlers

func (a *API) ChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := a.hub.VisibleChannels(requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (a *API) CreateHubHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		IsPrivate bool   `json:"isPrivate"`
		AvatarURL string `json:"avatarUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ch, err := a.hub.CreateHub(requestUserID(r), req.Name, req.IsPrivate, req.AvatarURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (a *API) CreateDMHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ch, err := a.hub.CreateOrReuseDM(requestUserID(r), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}

	messages, err := a.hub.History(requestUserID(r), r.PathValue("id"), count)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := a.hub.SendMessage(requestUserID(r), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	err := a.hub.DeleteMessage(requestUserID(r), r.PathValue("id"), r.PathValue("messageId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) SetRoleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string      `json:"userId"`
		Role   models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := a.hub.SetRole(requestUserID(r), r.PathValue("id"), req.UserID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) ToggleMuteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	muted, err := a.hub.ToggleMute(requestUserID(r), r.PathValue("id"), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Muted   bool `json:"muted"`
	}{Success: true, Muted: muted})
}

func (a *API) ToggleBlockGroupHandler(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	if _, err := a.hub.GetChannel(channelID); err != nil {
		writeError(w, err)
		return
	}

	rec, err := a.dir.ToggleBlockGroup(requestUserID(r), channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	a.persistUser(rec.ID)
	writeJSON(w, http.StatusOK, rec.User)
}

// ReportHandler runs the moderation audit over the channel transcript for a
// reported member and returns the verdict as-is. Acting on an UNSAFE verdict
// stays with the channel's moderators.
func (a *API) ReportHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == requestUserID(r) {
		writeError(w, models.ErrSelfTarget)
		return
	}

	reported, err := a.dir.GetByID(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	transcript, err := a.hub.Transcript(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	result := a.gateway.Moderate(r.Context(), transcript, reported.Username)
	writeJSON(w, http.StatusOK, result)
}

// Image handlers

func (a *API) GenerateImageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt      string             `json:"prompt"`
		AspectRatio models.AspectRatio `json:"aspectRatio"`
		Size        models.ImageSize   `json:"size"`
		ChannelID   string             `json:"channelId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}
	if req.Size == "" {
		req.Size = "1K"
	}
	if !req.AspectRatio.Valid() {
		http.Error(w, fmt.Sprintf("unknown aspect ratio %q", req.AspectRatio), http.StatusBadRequest)
		return
	}
	if !req.Size.Valid() {
		http.Error(w, fmt.Sprintf("unknown image size %q", req.Size), http.StatusBadRequest)
		return
	}

	// A sender who cannot post is rejected before the generation call, so a
	// doomed request neither contacts the service nor leaves a stored blob.
	if req.ChannelID != "" {
		if err := a.hub.CanPost(requestUserID(r), req.ChannelID); err != nil {
			writeError(w, err)
			return
		}
	}

	data, mimeType, err := a.gateway.GenerateImage(r.Context(), req.Prompt, req.AspectRatio, req.Size)
	if err != nil {
		if errors.Is(err, gateway.ErrAPIKey) {
			writeJSON(w, http.StatusBadGateway, models.APIResponse{
				Message: "Image generation credentials were rejected",
			})
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hash, err := a.files.Save(data)
	if err != nil {
		slog.Error("failed to store generated image", "error", err)
		http.Error(w, "failed to store image", http.StatusInternalServerError)
		return
	}

	imageURL := a.imageURL(hash)
	if req.ChannelID != "" {
		if _, err := a.hub.SendImage(requestUserID(r), req.ChannelID, imageURL); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, struct {
		URL      string `json:"url"`
		MimeType string `json:"mimeType"`
	}{URL: imageURL, MimeType: mimeType})
}

func (a *API) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	hash, err := a.saveUploadedImage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		URL string `json:"url"`
	}{URL: a.imageURL(hash)})
}

func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	f, err := a.files.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "failed to read image", http.StatusInternalServerError)
		return
	}

	contentType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

func (a *API) saveUploadedImage(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return "", fmt.Errorf("failed to parse upload: %w", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return "", fmt.Errorf("image file is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if !filetype.IsImage(data) {
		return "", errors.New("uploaded file is not an image")
	}

	return a.files.Save(data)
}

func (a *API) imageURL(hash string) string {
	return a.baseURL + "/api/images/" + hash
}
