package server

import "net/http"

func (s *Server) initRoutes() {
	// LOGIN & CONSENT
	s.RegisterRouteFunc("GET "+RouteLogin, s.LoginPageHandler())
	s.RegisterRouteFunc("POST "+RouteLogin, s.LoginSubmissionHandler())
	s.RegisterRouteFunc("GET "+RouteConsent, s.ConsentPageHandler())
	s.RegisterRouteFunc("POST "+RouteConsent, s.ConsentSubmissionHandler())

	// OAuth2 / OIDC API routes
	s.RegisterRouteHandler("GET "+RouteWellKnownOpenIDConfig, ChainMiddleware(s.WellKnownOpenIDConfig(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteOAuth2JWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Token, ChainMiddleware(s.Token(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Introspect, ChainMiddleware(s.Introspect(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Revoke, ChainMiddleware(s.Revoke(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteUserInfo, ChainMiddleware(s.UserInfo(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteRegister, ChainMiddleware(s.Register(), s.APIMiddleware()...))

	// CORS preflight. Method-scoped patterns never match OPTIONS, so
	// the API routes get explicit preflight handlers.
	for _, route := range []string{RouteOAuth2Token, RouteOAuth2Introspect, RouteOAuth2Revoke, RouteUserInfo, RouteRegister} {
		s.RegisterRouteHandler("OPTIONS "+route, ChainMiddleware(s.preflight(), s.CorsMiddleware))
	}
}

func (s *Server) preflight() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}
