package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func testManager(t *testing.T) *Manager {
	privateKey, publicKey := generateTestKeys(t)
	return NewManagerWithKeys(privateKey, publicKey, Config{
		TokenTTL: time.Hour,
		Issuer:   "test-issuer",
	})
}

func TestManager_Generate(t *testing.T) {
	manager := testManager(t)

	token, expiresAt, err := manager.Generate("user-123", "kakao", "Jiyoung Kim", "jiyoung@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))
}

func TestManager_Validate(t *testing.T) {
	manager := testManager(t)

	t.Run("valid token", func(t *testing.T) {
		token, _, err := manager.Generate("user-123", "naver", "Minsu Park", "minsu@example.com")
		require.NoError(t, err)

		claims, err := manager.Validate(token)
		require.NoError(t, err)

		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, "naver", claims.Provider)
		assert.Equal(t, "Minsu Park", claims.Name)
		assert.Equal(t, "minsu@example.com", claims.Email)
		assert.Equal(t, "user-123", claims.Subject)
		assert.Equal(t, "test-issuer", claims.Issuer)
	})

	t.Run("invalid token format", func(t *testing.T) {
		_, err := manager.Validate("invalid-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		otherManager := testManager(t)

		token, _, err := otherManager.Generate("user-123", "kakao", "", "")
		require.NoError(t, err)

		// Validating with a different public key should fail
		_, err = manager.Validate(token)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		privateKey, publicKey := generateTestKeys(t)
		shortLived := NewManagerWithKeys(privateKey, publicKey, Config{
			TokenTTL: -time.Minute,
			Issuer:   "test-issuer",
		})

		token, _, err := shortLived.Generate("user-123", "kakao", "", "")
		require.NoError(t, err)

		_, err = shortLived.Validate(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestManager_Defaults(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)

	manager := NewManagerWithKeys(privateKey, publicKey, Config{Issuer: "test-issuer"})
	assert.Equal(t, 24*time.Hour, manager.TokenTTL())
	assert.Equal(t, publicKey, manager.PublicKey())
}

func TestValidateKeyPair(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	otherKey, _ := generateTestKeys(t)

	assert.True(t, ValidateKeyPair(privateKey, publicKey))
	assert.False(t, ValidateKeyPair(otherKey, publicKey))
}
