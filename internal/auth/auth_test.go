package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/workhistory/history-migrator/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	meta, signed, err := tm.GenerateToken("alice", domain.OperatorRoleMigrator)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, meta.ExpiresAt.Sub(meta.IssuedAt))

	claims, err := tm.ParseToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, domain.OperatorRoleMigrator, claims.Role)
}

func TestParseTokenRejectsForeignAndExpired(t *testing.T) {
	_, signed, err := NewTokenManager("other", 5).GenerateToken("alice", domain.OperatorRoleViewer)
	require.NoError(t, err)
	_, err = NewTokenManager("secret", 5).ParseToken(signed)
	assert.Error(t, err)

	tm := NewTokenManager("secret", 1)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, signed, err = tm.GenerateToken("alice", domain.OperatorRoleViewer)
	require.NoError(t, err)
	tm.now = time.Now
	_, err = tm.ParseToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	_, signed, err := tm.GenerateToken("alice", domain.OperatorRole("ADMIN"))
	require.NoError(t, err)
	_, err = tm.ParseToken(signed)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("bearer  abc.def ")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		_, err := bearerToken(header)
		assert.Error(t, err, header)
	}
}

func TestHashAndCompare(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "hunter2"))
	assert.Error(t, ComparePassword(hash, "hunter3"))
}

func TestParseOperators(t *testing.T) {
	ops, err := ParseOperators(" alice:migrator:$2a$04$abc , bob:viewer:$2a$04$def,")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.OperatorRoleMigrator, ops["alice"].Role)
	assert.Equal(t, "$2a$04$def", ops["bob"].PasswordHash)

	for _, bad := range []string{"alice", "alice:root:$2a$x", "alice:viewer:", "a:viewer:h,a:viewer:h"} {
		_, err := ParseOperators(bad)
		assert.Error(t, err, bad)
	}

	empty, err := ParseOperators("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
