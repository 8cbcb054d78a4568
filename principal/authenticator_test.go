package principal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authserve/go-oauth2-server/principal"
	"github.com/authserve/go-oauth2-server/principal/memdir"
)

type testFixture struct {
	ctx       context.Context
	directory *memdir.Directory
	auth      *principal.LocalAuthenticator
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	directory := memdir.New()

	hash, err := principal.HashPassword("Correct1Password")
	require.NoError(t, err)
	require.NoError(t, directory.Upsert(context.Background(), &principal.Principal{
		Subject:      "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
	}))

	return &testFixture{
		ctx:       context.Background(),
		directory: directory,
		auth:      principal.NewLocalAuthenticator(directory),
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	f := setupTestFixture(t)

	p, err := f.auth.Authenticate(f.ctx, principal.Credentials{Username: "alice", Password: "Correct1Password"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.Subject)

	stored, err := f.directory.FindBySubject(f.ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.LastLogin.IsZero())
}

func TestAuthenticateWrongPassword(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.auth.Authenticate(f.ctx, principal.Credentials{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, principal.ErrInvalidCredentials)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	f := setupTestFixture(t)

	// Unknown user must be indistinguishable from a wrong password.
	_, err := f.auth.Authenticate(f.ctx, principal.Credentials{Username: "bob", Password: "whatever"})
	require.ErrorIs(t, err, principal.ErrInvalidCredentials)
}

func TestAuthenticateBlockedUser(t *testing.T) {
	f := setupTestFixture(t)

	hash, err := principal.HashPassword("Blocked1Password")
	require.NoError(t, err)
	require.NoError(t, f.directory.Upsert(f.ctx, &principal.Principal{
		Subject:      "user-2",
		Username:     "mallory",
		PasswordHash: hash,
		Blocked:      true,
	}))

	_, err = f.auth.Authenticate(f.ctx, principal.Credentials{Username: "mallory", Password: "Blocked1Password"})
	require.ErrorIs(t, err, principal.ErrBlocked)
}

func TestValidatePasswordStrength(t *testing.T) {
	assert.NoError(t, principal.ValidatePasswordStrength("Abcdefg1"))
	assert.Error(t, principal.ValidatePasswordStrength("short1A"))
	assert.Error(t, principal.ValidatePasswordStrength("alllowercase1"))
	assert.Error(t, principal.ValidatePasswordStrength("ALLUPPERCASE1"))
	assert.Error(t, principal.ValidatePasswordStrength("NoNumbersHere"))
}

func TestClaimsScopeFiltering(t *testing.T) {
	p := &principal.Principal{
		Subject:       "user-9",
		Username:      "carol",
		Email:         "carol@example.com",
		EmailVerified: true,
		Name:          "Carol Jones",
		GivenName:     "Carol",
		FamilyName:    "Jones",
	}

	claims := p.Claims([]string{"openid"})
	assert.Equal(t, map[string]any{"sub": "user-9"}, claims)

	claims = p.Claims([]string{"openid", "email"})
	assert.Equal(t, "carol@example.com", claims["email"])
	assert.Equal(t, true, claims["email_verified"])
	assert.NotContains(t, claims, "name")

	claims = p.Claims([]string{"openid", "profile"})
	assert.Equal(t, "Carol Jones", claims["name"])
	assert.Equal(t, "carol", claims["preferred_username"])
	assert.NotContains(t, claims, "email")
}
