// Package service — AuthService guards the admin API: a bcrypt-checked
// password is exchanged for a short-lived HS256 access token.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

var authTracer = otel.Tracer("service/auth")

const (
	maxFailedAttempts = 5
	lockDuration      = 15 * time.Minute
	tokenIssuer       = "facturedirect-bot"
	adminSubject      = "admin"
)

// AuthService issues and validates admin access tokens.
type AuthService struct {
	jwtSecret    []byte
	passwordHash []byte
	accessTTL    time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	failed      int
	lockedUntil time.Time
}

// NewAuthService creates the service. passwordHash is a bcrypt hash; empty
// disables Login (tokens can still be minted offline with the secret).
func NewAuthService(jwtSecret, passwordHash string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &AuthService{
		jwtSecret:    []byte(jwtSecret),
		passwordHash: []byte(passwordHash),
		accessTTL:    accessTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================
// Login — POST /v1/admin/token
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.AdminLoginRequest) (*domain.AdminLoginResponse, error) {
	_, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	if len(s.passwordHash) == 0 {
		return nil, &domain.ErrForbidden{Action: "admin login is disabled"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.lockedUntil) {
		remaining := s.lockedUntil.Sub(now).Minutes()
		s.logger.Warn("admin login: temporarily locked", zap.Float64("remaining_minutes", remaining))
		return nil, &domain.ErrUnauthorized{
			Message: fmt.Sprintf("too many failed attempts, retry in %.0f minutes", remaining),
		}
	}

	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)); err != nil {
		s.failed++
		if s.failed >= maxFailedAttempts {
			s.lockedUntil = now.Add(lockDuration)
			s.failed = 0
			s.logger.Warn("admin login: locked after repeated failures")
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Error("admin login: invalid password hash", zap.Error(err))
		}
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}
	s.failed = 0

	token, err := s.SignAccessToken(adminSubject)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	s.logger.Info("admin login succeeded")
	return &domain.AdminLoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
	}, nil
}

// ============================================================
// Tokens — used by the admin middleware
// ============================================================

// JWTClaims are the claims carried by admin access tokens.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// SignAccessToken mints an access token for subject.
func (s *AuthService) SignAccessToken(subject string) (string, error) {
	now := s.now()
	claims := JWTClaims{
		Sub:  subject,
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}
