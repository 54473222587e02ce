package bridge_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/eventbus/bridge"
)

const testSecret = "test-secret"

func TestAuth_GenerateAndValidate(t *testing.T) {
	auth := bridge.NewAuth(testSecret, time.Hour)

	token, expiresAt, err := auth.GenerateToken("client-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	for _, presented := range []string{token, "Bearer " + token} {
		claims, err := auth.ValidateToken(presented)
		require.NoError(t, err)
		assert.Equal(t, "client-1", claims.Subject)
	}
}

func TestAuth_Rejects(t *testing.T) {
	auth := bridge.NewAuth(testSecret, time.Hour)

	foreign, _, err := bridge.NewAuth("other-secret", time.Hour).GenerateToken("client-1")
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, bridge.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", bridge.ErrMissingToken},
		{"bare prefix", "Bearer ", bridge.ErrMissingToken},
		{"garbage", "not-a-token", bridge.ErrInvalidToken},
		{"wrong secret", foreign, bridge.ErrInvalidToken},
		{"expired", expired, bridge.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ValidateToken(tt.token)
			assert.True(t, errors.Is(err, tt.want), "ValidateToken() error = %v, want %v", err, tt.want)
		})
	}
}

func TestAuth_EmptySubject(t *testing.T) {
	_, _, err := bridge.NewAuth(testSecret, 0).GenerateToken("")
	assert.ErrorIs(t, err, bridge.ErrEmptySubject)
}
