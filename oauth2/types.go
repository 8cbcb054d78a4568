// Package oauth2 holds the wire-level request and response types shared
// by the endpoint layer and the grant state machine.
package oauth2

import "strings"

// ResponseType represents the OAuth 2.0 response type requested at the
// authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow. It is the
	// only response type this server supports; the implicit flow is
	// deliberately not offered.
	CodeResponseType ResponseType = "code"
)

// ResponseModeType denotes how authorization response parameters are
// returned to the client's redirect URI.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Example: https://client.example.com/callback?code=ABC123&state=xyz
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment.
	// Example: https://client.example.com/callback#code=ABC123&state=xyz
	FragmentResponseMode ResponseModeType = "fragment"
)

// CodeMethodType represents the PKCE challenge method (RFC 7636).
type CodeMethodType string

const (
	// CodeMethodTypeS256 hashes the verifier with SHA-256. Preferred.
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain sends the verifier unhashed. Allowed only for
	// legacy clients; protects against passive attacks only.
	CodeMethodTypePlain CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type used at the token
// endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant is machine-to-machine: a confidential
	// client authenticates with its secret and receives an access token
	// with no user principal and no refresh token.
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for a new access
	// token, rotating the refresh token when rotation is enabled.
	RefreshTokenGrant GrantType = "refresh_token"
)

// AuthorizationParameters holds the query parameters of an
// authorization request (GET /oauth2/v1/authorize).
type AuthorizationParameters struct {
	// ClientID identifies the application requesting authorization.
	ClientID string

	// ResponseType must be "code".
	ResponseType ResponseType

	// RedirectURI is where the authorization response is sent. Must
	// exactly match one of the client's registered redirect URIs.
	RedirectURI string

	// ResponseMode controls how the code is returned (query/fragment).
	// Defaults to query.
	ResponseMode ResponseModeType

	// Scope is the space-separated list of requested scopes.
	Scope string

	// State is an opaque client value echoed back on the redirect for
	// CSRF protection.
	State string

	// CodeChallenge is the PKCE challenge derived from the verifier.
	// Required for public clients.
	CodeChallenge string

	// CodeChallengeMethod is "S256" or "plain".
	CodeChallengeMethod CodeMethodType

	// Nonce associates the client session with the ID token (OIDC).
	Nonce string
}

// RequestedScopes returns the individual scope tokens.
func (p *AuthorizationParameters) RequestedScopes() []string {
	return SplitScopes(p.Scope)
}

// SplitScopes splits a space-separated scope string, dropping empty
// tokens.
func SplitScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(scope, " ") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// JoinScopes joins scope tokens into the wire format.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// HasScope reports whether the space-separated scope string contains
// the given scope token.
func HasScope(scope, want string) bool {
	for _, s := range SplitScopes(scope) {
		if s == want {
			return true
		}
	}
	return false
}
