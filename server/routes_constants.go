package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Interactive Routes - Login & Consent
	RouteLogin   = "/login"
	RouteConsent = "/consent"

	// OAuth2 / OIDC Routes
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteOAuth2Authorize       = "/oauth2/v1/authorize"
	RouteOAuth2Token           = "/oauth2/v1/token"
	RouteOAuth2Introspect      = "/oauth2/v1/introspect"
	RouteOAuth2Revoke          = "/oauth2/v1/revoke"
	RouteOAuth2JWKS            = "/oauth2/v1/jwks"
	RouteUserInfo              = "/connect/v1/userinfo"
	RouteRegister              = "/connect/v1/register"
)
