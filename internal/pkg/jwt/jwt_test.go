package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := New("secret", time.Hour)
	userID := uuid.New()

	token, err := svc.GenerateToken(userID, RoleHost)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, RoleHost, claims.Role)
}

func TestValidateRejectsForeignSecretAndExpired(t *testing.T) {
	token, err := New("one", time.Hour).GenerateToken(uuid.New(), RoleCoworker)
	require.NoError(t, err)

	_, err = New("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := New("one", -time.Minute).GenerateToken(uuid.New(), RoleCoworker)
	require.NoError(t, err)
	_, err = New("one", time.Hour).ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
