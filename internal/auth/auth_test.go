package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixvault/internal/domain"
)

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/pictures", nil)
	r.Header.Set("X-User-Id", "alice")

	identity, err := FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, domain.RoleUser, identity.Role)
	assert.False(t, identity.IsAdmin())
}

func TestFromRequestAdmin(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/pictures", nil)
	r.Header.Set("X-User-Id", "root")
	r.Header.Set("X-User-Role", "admin")

	identity, err := FromRequest(r)
	require.NoError(t, err)
	assert.True(t, identity.IsAdmin())
}

// Неизвестная роль понижается до обычного пользователя
func TestFromRequestUnknownRole(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/pictures", nil)
	r.Header.Set("X-User-Id", "alice")
	r.Header.Set("X-User-Role", "superuser")

	identity, err := FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, identity.Role)
}

func TestFromRequestMissingUser(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/pictures", nil)
	_, err := FromRequest(r)
	assert.Error(t, err)
}
