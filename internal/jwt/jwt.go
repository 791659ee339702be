// Package jwt issues and validates signed session tokens using RS256.
package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors for token validation.
var (
	ErrTokenExpired = errors.New("session token has expired")
	ErrTokenInvalid = errors.New("invalid session token")
)

// Claims represents the session token claims. The token carries only the
// profile fields the service needs to render a session; it never carries
// provider access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Config holds session token configuration.
type Config struct {
	PrivateKeyPath string
	PublicKeyPath  string
	TokenTTL       time.Duration
	Issuer         string
}

// Manager handles session token operations.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	tokenTTL   time.Duration
	issuer     string
}

// NewManager creates a new session token manager from PEM key files.
func NewManager(cfg Config) (*Manager, error) {
	privateKey, err := LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}

	publicKey, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}

	return NewManagerWithKeys(privateKey, publicKey, cfg), nil
}

// NewManagerWithKeys creates a session token manager with provided keys.
func NewManagerWithKeys(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, cfg Config) *Manager {
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		privateKey: privateKey,
		publicKey:  publicKey,
		tokenTTL:   ttl,
		issuer:     cfg.Issuer,
	}
}

// Generate issues a signed session token for a user.
func (m *Manager) Generate(userID, providerKey, name, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID:   userID,
		Provider: providerKey,
		Name:     name,
		Email:    email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// Validate validates a session token and returns its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// PublicKey returns the public key for external verification.
func (m *Manager) PublicKey() *rsa.PublicKey {
	return m.publicKey
}

// TokenTTL returns the session token TTL.
func (m *Manager) TokenTTL() time.Duration {
	return m.tokenTTL
}
