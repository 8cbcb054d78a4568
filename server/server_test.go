package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authserve/go-oauth2-server/authz/memstore"
	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/clients/memrepo"
	"github.com/authserve/go-oauth2-server/grant"
	"github.com/authserve/go-oauth2-server/internal/config"
	"github.com/authserve/go-oauth2-server/oauth2"
	"github.com/authserve/go-oauth2-server/principal"
	"github.com/authserve/go-oauth2-server/principal/memdir"
	"github.com/authserve/go-oauth2-server/server"
	"github.com/authserve/go-oauth2-server/token"
)

const (
	testIssuer      = "http://localhost:9090"
	webClientID     = "web-client"
	webClientSecret = "web-secret"
	webRedirectURI  = "https://app.example.com/callback"
	aliceUsername   = "alice"
	alicePassword   = "S3curePassw0rd!"
)

type testFixture struct {
	ts     *httptest.Server
	client *http.Client
	repo   *memrepo.Repo
	dir    *memdir.Directory
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	repo := memrepo.New()
	dir := memdir.New()
	store := memstore.New()

	secretHash, err := bcrypt.GenerateFromPassword([]byte(webClientSecret), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(context.Background(), &clients.Client{
		ID:           webClientID,
		Name:         "Web App",
		Type:         clients.ClientTypeConfidential,
		SecretHash:   string(secretHash),
		RedirectURIs: []string{webRedirectURI},
		GrantTypes:   []oauth2.GrantType{oauth2.AuthorizationCodeGrant, oauth2.RefreshTokenGrant},
		Scopes:       []string{"openid", "profile", "email"},
	}))

	passwordHash, err := principal.HashPassword(alicePassword)
	require.NoError(t, err)
	require.NoError(t, dir.Upsert(context.Background(), &principal.Principal{
		Subject:       "user-alice",
		Username:      aliceUsername,
		Email:         "alice@example.com",
		EmailVerified: true,
		Name:          "Alice Liddell",
		PasswordHash:  passwordHash,
	}))

	keyPair, err := token.GenerateRSAKeyPair("test-key", 2048)
	require.NoError(t, err)
	keyring := token.NewKeyring(keyPair, 31*24*time.Hour)
	issuer := token.NewIssuer(keyring, testIssuer)

	registry := clients.NewRegistry(repo)
	svc := grant.NewService(registry, store, issuer, principal.NewLocalAuthenticator(dir), dir)

	srv := server.New(config.New(), svc, registry, keyring)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	httpClient := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testFixture{ts: ts, client: httpClient, repo: repo, dir: dir}
}

// runAuthorizationFlow walks authorize -> login -> redirect and returns
// the authorization code delivered to the client's callback.
func (f *testFixture) runAuthorizationFlow(t *testing.T, extraParams url.Values) (code, state string) {
	t.Helper()

	authorizeURL, _ := url.Parse(f.ts.URL + server.RouteOAuth2Authorize)
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {webClientID},
		"redirect_uri":  {webRedirectURI},
		"scope":         {"openid profile email"},
		"state":         {"xyz-state"},
	}
	for k, vs := range extraParams {
		q[k] = vs
	}
	authorizeURL.RawQuery = q.Encode()

	resp, err := f.client.Get(authorizeURL.String())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	loginLocation := resp.Header.Get("Location")
	require.Contains(t, loginLocation, server.RouteLogin)
	loginURL, err := url.Parse(loginLocation)
	require.NoError(t, err)
	requestID := loginURL.Query().Get("request_id")
	require.NotEmpty(t, requestID)

	resp, err = f.client.PostForm(f.ts.URL+server.RouteLogin, url.Values{
		"request_id": {requestID},
		"username":   {aliceUsername},
		"password":   {alicePassword},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(callback.String(), webRedirectURI))
	return callback.Query().Get("code"), callback.Query().Get("state")
}

func (f *testFixture) exchangeCode(t *testing.T, code string) map[string]any {
	t.Helper()
	resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Token, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {webRedirectURI},
		"client_id":     {webClientID},
		"client_secret": {webClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	f := setupTestFixture(t)

	code, state := f.runAuthorizationFlow(t, nil)
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz-state", state)

	tokens := f.exchangeCode(t, code)
	assert.Equal(t, "bearer", tokens["token_type"])
	assert.NotEmpty(t, tokens["access_token"])
	assert.NotEmpty(t, tokens["refresh_token"])
	assert.NotEmpty(t, tokens["id_token"])

	// The access token works at userinfo.
	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteUserInfo, nil)
	req.Header.Set("Authorization", "Bearer "+tokens["access_token"].(string))
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var userInfo map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&userInfo))
	assert.Equal(t, "user-alice", userInfo["sub"])
	assert.Equal(t, "alice@example.com", userInfo["email"])
	assert.Equal(t, "Alice Liddell", userInfo["name"])
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	f := setupTestFixture(t)

	code, _ := f.runAuthorizationFlow(t, nil)
	f.exchangeCode(t, code)

	resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Token, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {webRedirectURI},
		"client_id":     {webClientID},
		"client_secret": {webClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	f := setupTestFixture(t)
	code, _ := f.runAuthorizationFlow(t, nil)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {webRedirectURI},
	}
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+server.RouteOAuth2Token, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(webClientID), url.QueryEscape(webClientSecret))

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenEndpointRejectsConflictingClientAuth(t *testing.T) {
	f := setupTestFixture(t)
	code, _ := f.runAuthorizationFlow(t, nil)

	// Basic auth plus a form client_id naming a different client is two
	// authentication methods in one request (RFC 6749 §2.3).
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {webRedirectURI},
		"client_id":    {"someone-else"},
	}
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+server.RouteOAuth2Token, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(webClientID), url.QueryEscape(webClientSecret))

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body["error"])
}

func TestTokenEndpointRejectsBadSecret(t *testing.T) {
	f := setupTestFixture(t)
	code, _ := f.runAuthorizationFlow(t, nil)

	resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Token, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {webRedirectURI},
		"client_id":     {webClientID},
		"client_secret": {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
}

func TestRefreshTokenRotation(t *testing.T) {
	f := setupTestFixture(t)
	code, _ := f.runAuthorizationFlow(t, nil)
	tokens := f.exchangeCode(t, code)
	firstRefresh := tokens["refresh_token"].(string)

	resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Token, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {firstRefresh},
		"client_id":     {webClientID},
		"client_secret": {webClientSecret},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refreshed map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&refreshed))
	assert.NotEmpty(t, refreshed["access_token"])
	assert.NotEqual(t, firstRefresh, refreshed["refresh_token"])

	// The retired refresh token no longer works.
	resp, err = f.client.PostForm(f.ts.URL+server.RouteOAuth2Token, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {firstRefresh},
		"client_id":     {webClientID},
		"client_secret": {webClientSecret},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntrospectAndRevoke(t *testing.T) {
	f := setupTestFixture(t)
	code, _ := f.runAuthorizationFlow(t, nil)
	tokens := f.exchangeCode(t, code)
	accessToken := tokens["access_token"].(string)

	introspect := func() map[string]any {
		resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Introspect, url.Values{
			"token":         {accessToken},
			"client_id":     {webClientID},
			"client_secret": {webClientSecret},
		})
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	active := introspect()
	assert.Equal(t, true, active["active"])
	assert.Equal(t, webClientID, active["client_id"])
	assert.Equal(t, "user-alice", active["sub"])

	resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Revoke, url.Values{
		"token":         {accessToken},
		"client_id":     {webClientID},
		"client_secret": {webClientSecret},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	inactive := introspect()
	assert.Equal(t, false, inactive["active"])
	assert.NotContains(t, inactive, "sub")
}

func TestRevokeUnknownTokenStillSucceeds(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := f.client.PostForm(f.ts.URL+server.RouteOAuth2Revoke, url.Values{
		"token":         {"not-a-real-token"},
		"client_id":     {webClientID},
		"client_secret": {webClientSecret},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginWrongPasswordStaysOnForm(t *testing.T) {
	f := setupTestFixture(t)

	authorizeURL := f.ts.URL + server.RouteOAuth2Authorize + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {webClientID},
		"redirect_uri":  {webRedirectURI},
		"scope":         {"openid"},
	}.Encode()
	resp, err := f.client.Get(authorizeURL)
	require.NoError(t, err)
	resp.Body.Close()
	loginURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	requestID := loginURL.Query().Get("request_id")

	resp, err = f.client.PostForm(f.ts.URL+server.RouteLogin, url.Values{
		"request_id": {requestID},
		"username":   {aliceUsername},
		"password":   {"wrong-password"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The grant is still pending, so a second attempt succeeds.
	resp, err = f.client.PostForm(f.ts.URL+server.RouteLogin, url.Values{
		"request_id": {requestID},
		"username":   {aliceUsername},
		"password":   {alicePassword},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestConsentDenialRedirectsWithError(t *testing.T) {
	f := setupTestFixture(t)

	// A consent-requiring client.
	secretHash, err := bcrypt.GenerateFromPassword([]byte("consent-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.repo.Upsert(context.Background(), &clients.Client{
		ID:             "consent-client",
		Name:           "Careful App",
		Type:           clients.ClientTypeConfidential,
		SecretHash:     string(secretHash),
		RedirectURIs:   []string{webRedirectURI},
		GrantTypes:     []oauth2.GrantType{oauth2.AuthorizationCodeGrant},
		Scopes:         []string{"openid"},
		RequireConsent: true,
	}))

	authorizeURL := f.ts.URL + server.RouteOAuth2Authorize + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"consent-client"},
		"redirect_uri":  {webRedirectURI},
		"scope":         {"openid"},
		"state":         {"deny-state"},
	}.Encode()
	resp, err := f.client.Get(authorizeURL)
	require.NoError(t, err)
	resp.Body.Close()
	loginURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	requestID := loginURL.Query().Get("request_id")

	resp, err = f.client.PostForm(f.ts.URL+server.RouteLogin, url.Values{
		"request_id": {requestID},
		"username":   {aliceUsername},
		"password":   {alicePassword},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), server.RouteConsent)

	resp, err = f.client.PostForm(f.ts.URL+server.RouteConsent, url.Values{
		"request_id": {requestID},
		"action":     {"deny"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", callback.Query().Get("error"))
	assert.Equal(t, "deny-state", callback.Query().Get("state"))
}

func TestAuthorizeErrorsRedirectToClient(t *testing.T) {
	f := setupTestFixture(t)

	authorizeURL := f.ts.URL + server.RouteOAuth2Authorize + "?" + url.Values{
		"response_type": {"token"},
		"client_id":     {webClientID},
		"redirect_uri":  {webRedirectURI},
		"state":         {"abc"},
	}.Encode()
	resp, err := f.client.Get(authorizeURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(callback.String(), webRedirectURI))
	assert.Equal(t, "unsupported_response_type", callback.Query().Get("error"))
	assert.Equal(t, "abc", callback.Query().Get("state"))
}

func TestAuthorizeUnregisteredRedirectNeverRedirects(t *testing.T) {
	f := setupTestFixture(t)

	authorizeURL := f.ts.URL + server.RouteOAuth2Authorize + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {webClientID},
		"redirect_uri":  {"https://evil.example.com/steal"},
	}.Encode()
	resp, err := f.client.Get(authorizeURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
}

func TestDiscoveryDocument(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := f.client.Get(f.ts.URL + server.RouteWellKnownOpenIDConfig)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, testIssuer, doc["issuer"])
	assert.Equal(t, testIssuer+server.RouteOAuth2Authorize, doc["authorization_endpoint"])
	assert.Equal(t, testIssuer+server.RouteOAuth2Token, doc["token_endpoint"])
	assert.Equal(t, testIssuer+server.RouteOAuth2JWKS, doc["jwks_uri"])
	assert.Equal(t, testIssuer+server.RouteUserInfo, doc["userinfo_endpoint"])
}

func TestJWKSContainsActiveKey(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := f.client.Get(f.ts.URL + server.RouteOAuth2JWKS)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "test-key", jwks.Keys[0]["kid"])
	assert.Equal(t, "RSA", jwks.Keys[0]["kty"])
}

func TestDynamicRegistrationAndPKCEFlow(t *testing.T) {
	f := setupTestFixture(t)

	body := `{
		"client_name": "SPA",
		"redirect_uris": ["https://spa.example.com/cb"],
		"grant_types": ["authorization_code"],
		"scope": "openid profile",
		"token_endpoint_auth_method": "none"
	}`
	resp, err := f.client.Post(f.ts.URL+server.RouteRegister, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var reg map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	clientID := reg["client_id"].(string)
	require.NotEmpty(t, clientID)
	assert.Nil(t, reg["client_secret"])

	// A public client must bring PKCE.
	authorizeURL := f.ts.URL + server.RouteOAuth2Authorize + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {"https://spa.example.com/cb"},
		"scope":         {"openid"},
	}.Encode()
	noPKCE, err := f.client.Get(authorizeURL)
	require.NoError(t, err)
	noPKCE.Body.Close()
	require.Equal(t, http.StatusSeeOther, noPKCE.StatusCode)
	callback, err := url.Parse(noPKCE.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", callback.Query().Get("error"))
}

func TestRegistrationRejectsBadMetadata(t *testing.T) {
	f := setupTestFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"redirect_uris": ["https://a.example.com/cb"]}`},
		{"fragment in redirect", `{"client_name": "x", "redirect_uris": ["https://a.example.com/cb#frag"]}`},
		{"no redirect for code grant", `{"client_name": "x", "grant_types": ["authorization_code"]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := f.client.Post(f.ts.URL+server.RouteRegister, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	f := setupTestFixture(t)

	req, _ := http.NewRequest(http.MethodOptions, f.ts.URL+server.RouteOAuth2Token, nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestUserInfoRequiresBearerToken(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := f.client.Get(f.ts.URL + server.RouteUserInfo)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteUserInfo, nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
