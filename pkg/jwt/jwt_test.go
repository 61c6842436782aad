package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewJWTManager("test-secret-key-for-signaling-service", 15*time.Minute)
	userID := uuid.New()

	token, err := m.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.DisplayName)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("correct-secret", 15*time.Minute)
	token, err := m.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	other := NewJWTManager("wrong-secret", 15*time.Minute)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)
	token, err := m.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute)
	_, err := m.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestExtractUserIDWithoutValidation(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.New()
	token, err := m.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)

	extracted, err := m.ExtractUserID(token)
	require.NoError(t, err)
	assert.Equal(t, userID, extracted)
}
