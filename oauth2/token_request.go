package oauth2

// TokenRequest holds the form parameters of a token request
// (POST /oauth2/v1/token). Which fields are required depends on the
// grant type.
type TokenRequest struct {
	// GrantType selects the flow: authorization_code, refresh_token or
	// client_credentials.
	GrantType GrantType

	// ClientID identifies the OAuth2 client making the request.
	ClientID string

	// ClientSecret is the secret for confidential clients. Never log
	// this value.
	ClientSecret string

	// Code is the authorization code (authorization_code grant only).
	// Exchanged at most once.
	Code string

	// RedirectURI must match the URI used on the authorization request.
	RedirectURI string

	// CodeVerifier is the PKCE verifier matching the code_challenge
	// presented at authorization time.
	CodeVerifier string

	// RefreshToken is the opaque refresh token (refresh_token grant
	// only). Rotated on use when rotation is enabled.
	RefreshToken string

	// Scope optionally narrows the requested scopes
	// (client_credentials grant).
	Scope string
}
