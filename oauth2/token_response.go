package oauth2

// TokenResponse is the token endpoint response format defined in
// RFC 6749 §5.1, returned for all grant types.
type TokenResponse struct {
	// AccessToken is the signed JWT used to access protected resources.
	AccessToken string `json:"access_token"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds. The
	// authoritative expiry is the JWT "exp" claim.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is the opaque refresh token, present when the client
	// is allowed the refresh_token grant.
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OIDC ID token, present when the "openid" scope was
	// granted.
	IDToken string `json:"id_token,omitempty"`

	// Scope is the space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`
}

// Introspection is the response of the introspection endpoint
// (RFC 7662). When Active is false no other field is populated.
type Introspection struct {
	Active   bool    `json:"active"`
	Scope    string  `json:"scope,omitempty"`
	ClientID string  `json:"client_id,omitempty"`
	Sub      *string `json:"sub,omitempty"`
	Aud      *string `json:"aud,omitempty"`
	Iss      *string `json:"iss,omitempty"`
	Exp      *int64  `json:"exp,omitempty"`
	Iat      *int64  `json:"iat,omitempty"`
	Jti      *string `json:"jti,omitempty"`
	TokenUse string  `json:"token_use,omitempty"`
}
