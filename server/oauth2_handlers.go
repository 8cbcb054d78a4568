package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/authserve/go-oauth2-server/grant"
	"github.com/authserve/go-oauth2-server/internal/oautherr"
	"github.com/authserve/go-oauth2-server/oauth2"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// WellKnownOpenIDConfig serves the OIDC discovery document
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := s.config.GetIssuer()

		resp := map[string]any{
			"issuer":                 baseURL,
			"authorization_endpoint": baseURL + RouteOAuth2Authorize,
			"token_endpoint":         baseURL + RouteOAuth2Token,
			"userinfo_endpoint":      baseURL + RouteUserInfo,
			"jwks_uri":               baseURL + RouteOAuth2JWKS,
			"revocation_endpoint":    baseURL + RouteOAuth2Revoke,
			"introspection_endpoint": baseURL + RouteOAuth2Introspect,
			"registration_endpoint":  baseURL + RouteRegister,

			// Supported response types
			"response_types_supported": []string{"code"},
			"response_modes_supported": []string{"query", "fragment"},
			"subject_types_supported":  []string{"public"},

			// Signing algorithms
			"id_token_signing_alg_values_supported": []string{"RS256", "ES256"},

			// Scopes
			"scopes_supported": []string{
				"openid",  // Returns ID token
				"profile", // Returns name, given_name, family_name
				"email",   // Returns email, email_verified
			},

			// Token endpoint auth methods
			"token_endpoint_auth_methods_supported": []string{
				"client_secret_basic", // Credentials in Authorization header
				"client_secret_post",  // Credentials in POST body
				"none",                // For public clients with PKCE
			},

			// Grant types
			"grant_types_supported": []string{
				"authorization_code",
				"refresh_token",
				"client_credentials",
			},

			// PKCE support
			"code_challenge_methods_supported": []string{"S256", "plain"},

			// Claims returned by /connect/v1/userinfo
			"claims_supported": []string{
				"sub",
				"email",
				"email_verified",
				"name",
				"given_name",
				"family_name",
				"preferred_username",
			},

			"claims_parameter_supported":      false,
			"request_parameter_supported":     false,
			"request_uri_parameter_supported": false,
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// JWKS returns the JSON Web Key Set used to validate tokens
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.keyring.JWKS()
		if err != nil {
			writeJSONError(w, "server_error", "failed to build key set", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		_ = json.NewEncoder(w).Encode(jwks)
	}
}

// Authorize begins the authorization code flow: the request is
// validated, a pending grant is opened and the browser is sent to the
// login page carrying the grant id.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := parseAuthorizationParameters(r)

		auth, err := s.grants.Authorize(r.Context(), params)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		loginURL := RouteLogin + "?request_id=" + url.QueryEscape(auth.ID)
		http.Redirect(w, r, loginURL, http.StatusSeeOther)
	}
}

// Token exchanges code/credentials for tokens
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}

		clientID, clientSecret, err := clientCredentials(r)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		tokenReq := oauth2.TokenRequest{
			GrantType:    oauth2.GrantType(r.PostFormValue("grant_type")),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			RefreshToken: r.PostFormValue("refresh_token"),
			Scope:        r.PostFormValue("scope"),
		}

		tokenResponse, err := s.grants.Exchange(r.Context(), tokenReq)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(tokenResponse)
	}
}

// Introspect reports token state to an authenticated client (RFC 7662)
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}

		clientID, err := s.authenticateCaller(r)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		introspection, err := s.grants.Introspect(r.Context(), clientID, r.PostFormValue("token"))
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(introspection)
	}
}

// Revoke revokes tokens (RFC 7009). The endpoint answers 200 whether or
// not the token resolved to anything; only client authentication errors
// surface.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "Failed to parse form data", http.StatusBadRequest)
			return
		}

		clientID, err := s.authenticateCaller(r)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		if err := s.grants.Revoke(r.Context(), clientID, r.PostFormValue("token")); err != nil {
			s.writeOAuthError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// UserInfo returns the OIDC claims of the access token's subject
func (s *Server) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accessToken, err := bearerToken(r)
		if err != nil {
			writeJSONError(w, "invalid_token", err.Error(), http.StatusUnauthorized)
			return
		}

		userInfo, err := s.grants.UserInfo(r.Context(), accessToken)
		if err != nil {
			oerr := oautherr.From(err)
			status := oerr.HTTPStatus()
			if status == http.StatusBadRequest {
				status = http.StatusUnauthorized
			}
			writeJSONError(w, "invalid_token", oerr.Description, status)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(userInfo)
	}
}

// Helper functions

// authenticateCaller resolves and validates the client credentials on a
// form-encoded endpoint (introspection, revocation).
func (s *Server) authenticateCaller(r *http.Request) (string, error) {
	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		return "", err
	}
	if clientID == "" {
		return "", oautherr.New(oautherr.InvalidClient, "client authentication required")
	}
	client, err := s.registry.Lookup(r.Context(), clientID)
	if err != nil {
		return "", oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	if err := s.registry.ValidateSecret(client, clientSecret); err != nil {
		return "", oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	return client.ID, nil
}

// clientCredentials extracts client credentials from HTTP Basic auth
// (client_secret_basic) or the form body (client_secret_post). Using
// both at once is rejected per RFC 6749 §2.3.
func clientCredentials(r *http.Request) (string, string, error) {
	formID := r.PostFormValue("client_id")
	formSecret := r.PostFormValue("client_secret")

	basicID, basicSecret, ok := r.BasicAuth()
	if !ok {
		return formID, formSecret, nil
	}
	if formSecret != "" {
		return "", "", oautherr.New(oautherr.InvalidRequest, "multiple client authentication methods used")
	}

	// Basic auth credentials are form-urlencoded per RFC 6749 §2.3.1.
	id, err := url.QueryUnescape(basicID)
	if err != nil {
		return "", "", oautherr.New(oautherr.InvalidRequest, "malformed Authorization header")
	}
	secret, err := url.QueryUnescape(basicSecret)
	if err != nil {
		return "", "", oautherr.New(oautherr.InvalidRequest, "malformed Authorization header")
	}
	if formID != "" && formID != id {
		return "", "", oautherr.New(oautherr.InvalidRequest, "multiple client authentication methods used")
	}
	return id, secret, nil
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid Authorization header format")
	}
	return parts[1], nil
}

// callbackRedirect sends authorization response parameters to the
// client's redirect URI using the grant's response mode.
func callbackRedirect(w http.ResponseWriter, r *http.Request, callbackURI string, responseMode oauth2.ResponseModeType, params url.Values) error {
	u, err := url.Parse(callbackURI)
	if err != nil {
		return errors.Wrap(err, "[callbackRedirect] invalid redirect URI")
	}

	switch responseMode {
	case oauth2.FragmentResponseMode:
		// Fragment mode: append to URL fragment (after #)
		u.Fragment = params.Encode()
		http.Redirect(w, r, u.String(), http.StatusSeeOther)

	default: // QueryResponseMode or empty (default)
		q := u.Query()
		for k := range params {
			q.Set(k, params.Get(k))
		}
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusSeeOther)
	}
	return nil
}

// redirectCode delivers an issued code to the client.
func (s *Server) redirectCode(w http.ResponseWriter, r *http.Request, redirectURI string, responseMode oauth2.ResponseModeType, code, state string) {
	params := url.Values{}
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}
	if err := callbackRedirect(w, r, redirectURI, responseMode, params); err != nil {
		writeJSONError(w, "server_error", "failed to redirect to client", http.StatusInternalServerError)
	}
}

// writeOAuthError renders a protocol error. Errors carrying a validated
// redirect URI go to the client via its callback (RFC 6749 §4.1.2.1);
// everything else is a JSON error response.
func (s *Server) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var redirectErr *grant.RedirectError
	if errors.As(err, &redirectErr) {
		params := url.Values{}
		params.Set("error", string(redirectErr.Err.Code))
		if redirectErr.Err.Description != "" {
			params.Set("error_description", redirectErr.Err.Description)
		}
		if redirectErr.ClientState != "" {
			params.Set("state", redirectErr.ClientState)
		}
		if cbErr := callbackRedirect(w, r, redirectErr.RedirectURI, redirectErr.ResponseMode, params); cbErr != nil {
			writeJSONError(w, "server_error", "failed to redirect to client", http.StatusInternalServerError)
		}
		return
	}

	oerr := oautherr.From(err)
	if oerr.Code == oautherr.ServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if oerr.Code == oautherr.InvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	}
	writeJSONError(w, string(oerr.Code), oerr.Description, oerr.HTTPStatus())
}

// parseAuthorizationParameters extracts OAuth2 authorization parameters from the request
func parseAuthorizationParameters(r *http.Request) oauth2.AuthorizationParameters {
	q := r.URL.Query()
	params := oauth2.AuthorizationParameters{
		ClientID:            q.Get("client_id"),
		ResponseType:        oauth2.ResponseType(q.Get("response_type")),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: oauth2.CodeMethodType(q.Get("code_challenge_method")),
		Nonce:               q.Get("nonce"),
	}
	if mode := q.Get("response_mode"); mode != "" {
		params.ResponseMode = oauth2.ResponseModeType(mode)
	}
	return params
}

// writeJSONError writes an OAuth2 error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
