package service

import (
	"errors"
	"strings"
	"time"
	"typerace/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidDisplayName = errors.New("display name must be 1-32 characters")
)

const maxDisplayName = 32

// AuthService issues and validates opaque user identities. The engine
// only needs a stable userId and a display name.
type AuthService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		jwtSecret: []byte(secret),
		tokenTTL:  ttl,
	}
}

// IssueGuest creates a fresh guest identity and a signed token for it
func (s *AuthService) IssueGuest(displayName string) (*model.GuestResponse, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len([]rune(displayName)) > maxDisplayName {
		return nil, ErrInvalidDisplayName
	}

	userID := "u_" + uuid.New().String()[:8]
	now := time.Now()
	claims := &model.UserClaims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.tokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.tokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &model.GuestResponse{
		UserID:      userID,
		DisplayName: displayName,
		Token:       tokenString,
	}, nil
}

// ValidateToken verifies a user JWT and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*model.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ResolveIdentity maps a possibly empty token to an identity. An empty
// token yields a nil identity and no error.
func (s *AuthService) ResolveIdentity(tokenString string) (*model.Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, nil
	}
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &model.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
}
