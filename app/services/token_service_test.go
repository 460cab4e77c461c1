package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-32-chars"

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(ttl time.Duration) (TokenService, error) {
	return NewTokenService(ttl, "test-issuer", "test-audience", false, "", "", testSecret)
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		useRSAKeys  bool
		secretKey   string
		expectError bool
	}{
		{name: "valid symmetric key configuration", secretKey: testSecret},
		{name: "missing secret key", secretKey: "", expectError: true},
		{name: "rsa without keys", useRSAKeys: true, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(time.Minute, "iss", "aud", tt.useRSAKeys, "", "", tt.secretKey)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, service)
			}
		})
	}
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	service, err := createTestTokenService(15 * time.Minute)
	require.NoError(t, err)

	token, err := service.GenerateAccessToken(42, RoleCreator)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, RoleCreator, claims.Role)
	assert.NotEmpty(t, claims.TokenID)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
}

func TestValidateToken(t *testing.T) {
	service, err := createTestTokenService(15 * time.Minute)
	require.NoError(t, err)

	t.Run("expired token", func(t *testing.T) {
		expiredService, err := createTestTokenService(-time.Minute)
		require.NoError(t, err)
		token, err := expiredService.GenerateAccessToken(1, RoleCompany)
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := service.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenService(time.Minute, "test-issuer", "test-audience", false, "", "", "another-secret-key-that-is-32-chars-long")
		require.NoError(t, err)
		token, err := other.GenerateAccessToken(1, RoleCreator)
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong audience", func(t *testing.T) {
		other, err := NewTokenService(time.Minute, "test-issuer", "someone-else", false, "", "", testSecret)
		require.NoError(t, err)
		token, err := other.GenerateAccessToken(1, RoleCreator)
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("refresh token type rejected", func(t *testing.T) {
		now := time.Now()
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id":    7,
			"token_type": "refresh",
			"jti":        "x",
			"iat":        now.Unix(),
			"exp":        now.Add(time.Minute).Unix(),
			"iss":        "test-issuer",
			"aud":        "test-audience",
		})
		token, err := raw.SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("missing user id", func(t *testing.T) {
		now := time.Now()
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"token_type": "access",
			"jti":        "x",
			"iat":        now.Unix(),
			"exp":        now.Add(time.Minute).Unix(),
			"iss":        "test-issuer",
			"aud":        "test-audience",
		})
		token, err := raw.SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
