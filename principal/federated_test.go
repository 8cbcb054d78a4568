package principal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authserve/go-oauth2-server/principal"
	"github.com/authserve/go-oauth2-server/principal/memdir"
	"github.com/authserve/go-oauth2-server/token"
)

// fakeProvider is a minimal upstream OIDC provider: discovery, JWKS
// and a token endpoint that returns a signed ID token for any code.
type fakeProvider struct {
	ts      *httptest.Server
	keyPair *token.KeyPair
	claims  jwt.MapClaims
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	keyPair, err := token.GenerateRSAKeyPair("upstream-key", 2048)
	require.NoError(t, err)

	p := &fakeProvider{keyPair: keyPair}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                p.ts.URL,
			"authorization_endpoint":                p.ts.URL + "/auth",
			"token_endpoint":                        p.ts.URL + "/token",
			"jwks_uri":                              p.ts.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		jwk, err := p.keyPair.ToJWK()
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []*token.JWK{jwk}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		idToken, err := p.keyPair.Sign(p.claims)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-access-token",
			"token_type":   "bearer",
			"id_token":     idToken,
		})
	})

	p.ts = httptest.NewServer(mux)
	t.Cleanup(p.ts.Close)
	return p
}

func (p *fakeProvider) setIdentity(clientID, sub string, extra map[string]any) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": p.ts.URL,
		"aud": clientID,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	p.claims = claims
}

func TestFederatedCallbackProvisionsPrincipal(t *testing.T) {
	upstream := newFakeProvider(t)
	upstream.setIdentity("local-client", "upstream-user-1", map[string]any{
		"email":          "fed@example.com",
		"email_verified": true,
		"name":           "Fed User",
		"given_name":     "Fed",
		"family_name":    "User",
	})

	dir := memdir.New()
	fed, err := principal.NewFederatedAuthenticator(context.Background(), principal.FederatedConfig{
		IssuerURL:   upstream.ts.URL,
		ClientID:    "local-client",
		RedirectURL: "http://localhost:9090/callback",
	}, dir)
	require.NoError(t, err)

	authURL := fed.AuthCodeURL("state-123")
	assert.Contains(t, authURL, upstream.ts.URL+"/auth")
	assert.Contains(t, authURL, "state=state-123")
	assert.Contains(t, authURL, "client_id=local-client")

	p, err := fed.Callback(context.Background(), "any-code")
	require.NoError(t, err)
	assert.Equal(t, upstream.ts.URL+"#upstream-user-1", p.Subject)
	assert.Equal(t, "fed@example.com", p.Email)
	assert.True(t, p.EmailVerified)
	assert.True(t, p.Federated)

	// The principal is now in the directory; a second callback reuses it.
	again, err := fed.Callback(context.Background(), "any-code")
	require.NoError(t, err)
	assert.Equal(t, p.Subject, again.Subject)
	assert.False(t, again.LastLogin.IsZero())
}

func TestFederatedCallbackRejectsBlockedPrincipal(t *testing.T) {
	upstream := newFakeProvider(t)
	upstream.setIdentity("local-client", "blocked-user", map[string]any{"email": "blocked@example.com"})

	dir := memdir.New()
	require.NoError(t, dir.Upsert(context.Background(), &principal.Principal{
		Subject:   upstream.ts.URL + "#blocked-user",
		Email:     "blocked@example.com",
		Federated: true,
		Blocked:   true,
	}))

	fed, err := principal.NewFederatedAuthenticator(context.Background(), principal.FederatedConfig{
		IssuerURL: upstream.ts.URL,
		ClientID:  "local-client",
	}, dir)
	require.NoError(t, err)

	_, err = fed.Callback(context.Background(), "any-code")
	assert.ErrorIs(t, err, principal.ErrBlocked)
}
