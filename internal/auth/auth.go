package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"azo/internal/content"
	"azo/internal/directory"
	"azo/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	// Pending signups expire if the verification code is never entered.
	pendingSignupExpiry = 15 * time.Minute

	loginFailedMessage = "Username taken or incorrect password"

	// VerificationCode stands in for the real email verification flow,
	// which is an external collaborator this service does not own.
	VerificationCode = "1234"
)

type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatarUrl"`
}

type VerifyRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	NeedVerify  bool         `json:"needVerify,omitempty"`
	Token       string       `json:"token,omitempty"`
	TokenExpiry int64        `json:"tokenExpiry,omitempty"`
	User        *models.User `json:"user,omitempty"`
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return fmt.Errorf("token expiry must be positive")
	}
	return nil
}

type pendingSignup struct {
	req SignupRequest
}

// AuthService owns signup, credential verification and live session tokens.
// Passwords are stored as bcrypt hashes; login succeeds only on an exact
// password match against the stored hash.
type AuthService struct {
	Config
	dir        *directory.Directory
	pending    geche.Geche[string, pendingSignup]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, dir *directory.Directory) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:     config,
		dir:        dir,
		pending:    geche.NewMapTTLCache[string, pendingSignup](ctx, pendingSignupExpiry, time.Minute),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// Signup validates the candidate and parks it until the verification code is
// entered. An existing username is reported the same way as a failed login so
// the form cannot be used to probe for accounts.
func (as *AuthService) Signup(req SignupRequest) LoginResponse {
	req.Username = strings.TrimSpace(req.Username)
	if err := content.ValidateUsername(req.Username); err != nil {
		return LoginResponse{Message: err.Error()}
	}
	if err := content.ValidatePassword(req.Password); err != nil {
		return LoginResponse{Message: err.Error()}
	}
	if err := content.ValidateEmail(req.Email); err != nil {
		return LoginResponse{Message: err.Error()}
	}

	if _, err := as.dir.Get(req.Username); err == nil {
		return LoginResponse{Message: loginFailedMessage}
	}

	as.pending.Set(strings.ToLower(req.Username), pendingSignup{req: req})
	return LoginResponse{NeedVerify: true, Message: "Verification code sent"}
}

// Verify completes a pending signup. The code is checked against the mocked
// verification channel; on success the user is registered and logged in.
func (as *AuthService) Verify(req VerifyRequest) LoginResponse {
	key := strings.ToLower(strings.TrimSpace(req.Username))
	p, err := as.pending.Get(key)
	if err != nil {
		return LoginResponse{Message: "No pending signup for this username"}
	}
	if req.Code != VerificationCode {
		return LoginResponse{Message: `Invalid verification code. Try "1234"`}
	}

	user, err := as.register(p.req, true)
	if err != nil {
		return LoginResponse{Message: err.Error()}
	}
	_ = as.pending.Del(key)

	return as.issueToken(user)
}

// RegisterVerified creates an already-verified account directly, bypassing
// the code step. Used for seeding an empty database.
func (as *AuthService) RegisterVerified(req SignupRequest, status models.PresenceStatus) (models.User, error) {
	user, err := as.register(req, true)
	if err != nil {
		return models.User{}, err
	}
	if status.Valid() && status != user.Status {
		rec, err := as.dir.UpdateStatus(user.ID, status)
		if err != nil {
			return models.User{}, err
		}
		return rec.User, nil
	}
	return user, nil
}

func (as *AuthService) register(req SignupRequest, verified bool) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	rec := directory.Record{
		User: models.User{
			ID:            uuid.NewString(),
			Username:      strings.TrimSpace(req.Username),
			Email:         strings.TrimSpace(req.Email),
			Verified:      verified,
			AvatarURL:     req.AvatarURL,
			Status:        models.StatusOnline,
			Friends:       []string{},
			BlockedUsers:  []string{},
			BlockedGroups: []string{},
		},
		PasswordHash: string(hash),
	}
	if err := as.dir.Register(rec); err != nil {
		return models.User{}, err
	}
	return rec.User, nil
}

// Login matches the username case-insensitively and compares the password
// against the stored bcrypt hash.
func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	rec, err := as.dir.Get(req.Username)
	if err != nil {
		return LoginResponse{Message: loginFailedMessage}, ""
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResponse{Message: loginFailedMessage}, ""
	}

	resp := as.issueToken(rec.User)
	return resp, rec.ID
}

func (as *AuthService) issueToken(user models.User) LoginResponse {
	token, err := as.generateToken()
	if err != nil {
		slog.Error("token generation failed", "user_id", user.ID, "error", err)
		return LoginResponse{Message: "internal error"}
	}
	as.liveTokens.Set(token, user.ID)

	u := user
	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: as.now().Unix() + int64(as.TokenExpiry.Seconds()),
		User:        &u,
	}
}

// Logoff invalidates a single session token.
func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

// GetUserID resolves a live token to the user id.
func (as *AuthService) GetUserID(token string) (string, error) {
	return as.liveTokens.Get(token)
}

// VerifyPassword re-checks the password for sensitive operations such as
// account deletion.
func (as *AuthService) VerifyPassword(userID, password string) error {
	rec, err := as.dir.GetByID(userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return models.ErrPermissionDenied
	}
	return nil
}

// RevokeUserTokens drops every live session belonging to the user.
func (as *AuthService) RevokeUserTokens(userID string) {
	for token, id := range as.liveTokens.Snapshot() {
		if id == userID {
			_ = as.liveTokens.Del(token)
		}
	}
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
