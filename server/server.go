// Package server exposes the authorization server's HTTP surface: the
// OAuth2/OIDC protocol endpoints plus the minimal login and consent
// pages the authorization code flow needs.
package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/grant"
	"github.com/authserve/go-oauth2-server/instrumentation"
	"github.com/authserve/go-oauth2-server/internal/config"
	"github.com/authserve/go-oauth2-server/token"
)

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	grants   *grant.Service
	registry *clients.Registry
	keyring  *token.Keyring
	logger   zerolog.Logger
	metrics  *instrumentation.Metrics
}

type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches the metric instruments. Nil is fine.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg config.Config, grants *grant.Service, registry *clients.Registry, keyring *token.Keyring, opts ...Option) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		config:   cfg,
		grants:   grants,
		registry: registry,
		keyring:  keyring,
		logger:   zerolog.Nop(),
	}
	s.env = cfg.GetEnv()
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logger.Debug().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			s.logger.Debug().Str("path", parts[0]).Msg("route registered")
		}
	}
}
