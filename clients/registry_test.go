package clients_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/clients/memrepo"
	"github.com/authserve/go-oauth2-server/oauth2"
)

type testFixture struct {
	ctx      context.Context
	repo     *memrepo.Repo
	registry *clients.Registry
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	repo := memrepo.New()
	return &testFixture{
		ctx:      context.Background(),
		repo:     repo,
		registry: clients.NewRegistry(repo, clients.WithNowFunc(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })),
	}
}

func TestRegisterConfidentialClient(t *testing.T) {
	f := setupTestFixture(t)

	client, secret, err := f.registry.Register(f.ctx, clients.Registration{
		Name:         "billing-service",
		Type:         clients.ClientTypeConfidential,
		RedirectURIs: []string{"https://billing.example.com/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		Scopes:       []string{"openid", "profile"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, client.ID)
	require.NotEmpty(t, secret)

	// The stored hash must verify the returned plaintext secret.
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)))

	stored, err := f.registry.Lookup(f.ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing-service", stored.Name)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), stored.CreatedAt)
}

func TestRegisterPublicClientHasNoSecret(t *testing.T) {
	f := setupTestFixture(t)

	client, secret, err := f.registry.Register(f.ctx, clients.Registration{
		Name: "spa-app",
		Type: clients.ClientTypePublic,
	})
	require.NoError(t, err)
	assert.Empty(t, secret)
	assert.Empty(t, client.SecretHash)
	assert.True(t, client.IsPublic())
}

func TestRegisterRejectsUnknownGrantType(t *testing.T) {
	f := setupTestFixture(t)

	_, _, err := f.registry.Register(f.ctx, clients.Registration{
		Name:       "bad-client",
		GrantTypes: []string{"implicit"},
	})
	require.Error(t, err)
}

func TestValidateSecret(t *testing.T) {
	f := setupTestFixture(t)

	client, secret, err := f.registry.Register(f.ctx, clients.Registration{
		Name: "api-client",
		Type: clients.ClientTypeConfidential,
	})
	require.NoError(t, err)

	assert.NoError(t, f.registry.ValidateSecret(client, secret))
	assert.ErrorIs(t, f.registry.ValidateSecret(client, "wrong-secret"), clients.ErrInvalidSecret)
}

func TestValidateSecretPublicClient(t *testing.T) {
	f := setupTestFixture(t)

	public := &clients.Client{ID: "pub", Type: clients.ClientTypePublic}
	assert.NoError(t, f.registry.ValidateSecret(public, ""))
	assert.ErrorIs(t, f.registry.ValidateSecret(public, "unexpected"), clients.ErrInvalidSecret)
}

func TestLookupUnknownClient(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.registry.Lookup(f.ctx, "missing")
	require.ErrorIs(t, err, clients.ErrNotFound)
}

func TestClientValidation(t *testing.T) {
	client := &clients.Client{
		ID:           "c1",
		Type:         clients.ClientTypeConfidential,
		RedirectURIs: []string{"https://app.example.com/cb"},
		GrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		Scopes:       []string{"openid", "email"},
	}

	assert.True(t, client.AllowsGrant(oauth2.AuthorizationCodeGrant))
	assert.False(t, client.AllowsGrant(oauth2.ClientCredentialsGrant))

	assert.NoError(t, client.ValidateScopes("openid email"))
	assert.NoError(t, client.ValidateScopes(""))
	assert.ErrorIs(t, client.ValidateScopes("openid admin"), clients.ErrInvalidScope)

	assert.True(t, client.ValidateRedirectURI("https://app.example.com/cb"))
	assert.False(t, client.ValidateRedirectURI("https://app.example.com/cb/extra"))
	assert.False(t, client.ValidateRedirectURI("https://evil.example.com/cb"))
}
