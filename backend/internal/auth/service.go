// Package auth authenticates users, issues session tokens and resolves
// tokens back to the acting identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
)

const issuer = "school-portal"

// Repository is the account, session and login attempt store.
type Repository interface {
	FindUserByID(ctx context.Context, id string) (*shared.User, error)
	// FindUserByIdentifier matches the email or the student number.
	FindUserByIdentifier(ctx context.Context, identifier string) (*shared.User, error)

	InsertSession(ctx context.Context, sess *shared.Session) error
	FindSession(ctx context.Context, id string) (*shared.Session, error)
	DeleteSession(ctx context.Context, id string) (int64, error)

	GetLoginAttempt(ctx context.Context, identifier string) (*shared.LoginAttempt, error)
	// RecordLoginFailure atomically counts a failure, restarting the window
	// when the previous one has expired.
	RecordLoginFailure(ctx context.Context, identifier string, now time.Time, window time.Duration) (*shared.LoginAttempt, error)
	ClearLoginAttempts(ctx context.Context, identifier string) error
}

// Auditor is the audit log collaborator.
type Auditor interface {
	Record(ctx context.Context, eventType string, payload map[string]interface{}, actor shared.Identity)
}

// SettingsSource supplies the typed system settings.
type SettingsSource interface {
	Current(ctx context.Context) settings.Values
}

// CustomClaims for JWT
type CustomClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// LoginInput is a credential check.
type LoginInput struct {
	Identifier string `json:"identifier" validate:"notblank"`
	Password   string `json:"password" validate:"required"`
	IPAddress  string `json:"-"`
}

// LoginResult is a successful login.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *shared.User `json:"user"`
}

// Service is the authentication collaborator.
type Service struct {
	repo     Repository
	security shared.SecurityConfig
	settings SettingsSource
	audit    Auditor
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a new auth Service instance
func NewService(repo Repository, security shared.SecurityConfig, st SettingsSource, audit Auditor, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		security: security,
		settings: st,
		audit:    audit,
		metrics:  m,
		log:      logger,
		now:      time.Now,
	}
}

func invalidCredentials() error {
	return shared.Unauthenticated("invalid credentials")
}

// Login authenticates a user and returns a JWT
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}
	identifier := strings.TrimSpace(in.Identifier)

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := s.now().UTC()
	values := s.settings.Current(ctx)

	// 1. Lockout check on the per-identity counter
	attempt, err := s.repo.GetLoginAttempt(queryCtx, identifier)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Unavailable("failed to check login attempts", err)
	}
	if until := attempt.LockedUntil(now, values.LoginMaxAttempts, values.LoginLockoutWindow); !until.IsZero() {
		return nil, shared.Forbidden("too many failed attempts, try again in %s", until.Sub(now).Round(time.Second))
	}

	// 2. Find User (by Email OR Student number)
	user, err := s.repo.FindUserByIdentifier(queryCtx, identifier)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.recordFailure(ctx, identifier, now, values)
			return nil, invalidCredentials()
		}
		return nil, shared.Unavailable("failed to load user", err)
	}

	// 3. Check Password (BCrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		s.recordFailure(ctx, identifier, now, values)
		return nil, invalidCredentials()
	}

	if !user.IsActive {
		return nil, shared.Forbidden("account is inactive")
	}

	if err := s.repo.ClearLoginAttempts(queryCtx, identifier); err != nil {
		s.log.Warn("failed to clear login attempts", zap.String("identifier", identifier), zap.Error(err))
	}

	// 4. Generate JWT; its jti is the session id
	sessionID := shared.GenerateID("sess")
	tokenString, expiresAt, err := s.generateToken(sessionID, user.ID, user.Role, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	// 5. Create Session in DB (allows for server-side logout/revocation)
	session := &shared.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		IPAddress: in.IPAddress,
	}
	if err := s.repo.InsertSession(queryCtx, session); err != nil {
		return nil, shared.Unavailable("failed to create session", err)
	}

	s.audit.Record(ctx, shared.ActionLogin, map[string]interface{}{"ip_address": in.IPAddress}, user.Identity())

	return &LoginResult{Token: tokenString, ExpiresAt: expiresAt, User: user}, nil
}

func (s *Service) recordFailure(ctx context.Context, identifier string, now time.Time, values settings.Values) {
	s.metrics.LoginFailure()

	attempt, err := s.repo.RecordLoginFailure(ctx, identifier, now, values.LoginLockoutWindow)
	if err != nil {
		s.log.Error("failed to record login failure", zap.String("identifier", identifier), zap.Error(err))
		return
	}
	if attempt.Count == values.LoginMaxAttempts {
		s.log.Warn("login locked", zap.String("identifier", identifier), zap.Int("attempts", attempt.Count))
		s.audit.Record(ctx, shared.ActionLoginLocked, map[string]interface{}{
			"identifier": identifier,
			"attempts":   attempt.Count,
		}, shared.Identity{ID: identifier})
	}
}

// Logout revokes the session behind token. Unknown or expired sessions
// are treated as already logged out.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	if tokenString == "" {
		return shared.FieldsError(map[string]string{"token": "this field is required"})
	}

	claims, err := s.parseToken(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return shared.Unauthenticated("invalid token")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	deleted, err := s.repo.DeleteSession(queryCtx, claims.ID)
	if err != nil {
		return shared.Unavailable("failed to logout", err)
	}
	if deleted > 0 {
		s.audit.Record(ctx, shared.ActionLogout, nil, shared.Identity{ID: claims.UserID, Role: claims.Role})
	}
	return nil
}

// Validate resolves an active token to the acting identity.
func (s *Service) Validate(ctx context.Context, tokenString string) (shared.Identity, error) {
	if tokenString == "" {
		return shared.Identity{}, shared.Unauthenticated("token missing")
	}

	// 1. Parse and Verify Signature locally
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return shared.Identity{}, shared.Unauthenticated("invalid or expired token")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 2. Check Database for Active Session (Revocation Check)
	sess, err := s.repo.FindSession(queryCtx, claims.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Identity{}, shared.Unauthenticated("session expired or revoked")
		}
		return shared.Identity{}, shared.Unavailable("failed to load session", err)
	}
	if sess.UserID != claims.UserID || !s.now().Before(sess.ExpiresAt) {
		return shared.Identity{}, shared.Unauthenticated("session expired or revoked")
	}

	// 3. Fetch User Details
	user, err := s.repo.FindUserByID(queryCtx, claims.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Identity{}, shared.Unauthenticated("user not found")
		}
		return shared.Identity{}, shared.Unavailable("failed to load user", err)
	}
	if !user.IsActive {
		return shared.Identity{}, shared.Unauthenticated("account inactive")
	}

	return user.Identity(), nil
}

// HashPassword hashes a password with the configured bcrypt cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ============================================================================
// Internal Helpers
// ============================================================================

// generateToken creates a signed JWT using the security config
func (s *Service) generateToken(sessionID, userID, role string, now time.Time) (string, time.Time, error) {
	hours := s.security.JWTExpirationHours
	if hours <= 0 {
		hours = 24
	}
	expirationTime := now.Add(time.Duration(hours) * time.Hour)

	claims := CustomClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.security.JWTSecret))

	return tokenString, expirationTime, err
}

// parseToken validates the JWT signature and extracts claims
func (s *Service) parseToken(tokenString string, opts ...jwt.ParserOption) (*CustomClaims, error) {
	claims := &CustomClaims{}
	opts = append(opts, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.security.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.ID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
