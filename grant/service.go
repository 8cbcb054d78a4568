// Package grant drives the authorization grant lifecycle: it owns the
// transitions from the initial /authorize request through login,
// consent, code exchange, refresh, introspection and revocation.
package grant

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/authserve/go-oauth2-server/authz"
	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/instrumentation"
	"github.com/authserve/go-oauth2-server/internal/oautherr"
	"github.com/authserve/go-oauth2-server/oauth2"
	"github.com/authserve/go-oauth2-server/principal"
	"github.com/authserve/go-oauth2-server/token"
)

const (
	DefaultCodeTTL         = time.Minute
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultIDTokenTTL      = time.Hour
	DefaultRefreshTokenTTL = 720 * time.Hour
	DefaultStoreTimeout    = 5 * time.Second
)

// Service is the grant state machine. All endpoint handlers delegate
// here; the service itself knows nothing about HTTP.
type Service struct {
	registry      *clients.Registry
	store         authz.Store
	issuer        *token.Issuer
	authenticator principal.Authenticator
	directory     principal.Directory
	metrics       *instrumentation.Metrics
	logger        zerolog.Logger

	codeTTL         time.Duration
	accessTokenTTL  time.Duration
	idTokenTTL      time.Duration
	refreshTokenTTL time.Duration
	storeTimeout    time.Duration
	rotateRefresh   bool

	nowTime func() time.Time
}

type Option func(*Service)

// WithNowFunc overrides the clock, used by tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) { s.nowTime = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches the metric instruments. Nil is fine.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCodeTTL sets the authorization code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) { s.codeTTL = ttl }
}

// WithAccessTokenTTL sets the default access token lifetime, used when
// the client carries no per-client override.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.accessTokenTTL = ttl }
}

// WithIDTokenTTL sets the default ID token lifetime.
func WithIDTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.idTokenTTL = ttl }
}

// WithRefreshTokenTTL sets the default refresh token lifetime.
func WithRefreshTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.refreshTokenTTL = ttl }
}

// WithStoreTimeout bounds every grant store operation.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.storeTimeout = timeout }
}

// WithRefreshRotation toggles refresh token rotation. Rotation is on by
// default; turning it off keeps the same refresh token across refresh
// grants for clients that cannot handle rotation.
func WithRefreshRotation(enabled bool) Option {
	return func(s *Service) { s.rotateRefresh = enabled }
}

func NewService(
	registry *clients.Registry,
	store authz.Store,
	issuer *token.Issuer,
	authenticator principal.Authenticator,
	directory principal.Directory,
	opts ...Option,
) *Service {
	s := &Service{
		registry:        registry,
		store:           store,
		issuer:          issuer,
		authenticator:   authenticator,
		directory:       directory,
		logger:          zerolog.Nop(),
		codeTTL:         DefaultCodeTTL,
		accessTokenTTL:  DefaultAccessTokenTTL,
		idTokenTTL:      DefaultIDTokenTTL,
		refreshTokenTTL: DefaultRefreshTokenTTL,
		storeTimeout:    DefaultStoreTimeout,
		rotateRefresh:   true,
		nowTime:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeCtx bounds a store operation with the configured timeout.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// RedirectError is a protocol error that must be delivered to the
// client's redirect URI rather than rendered directly (RFC 6749
// §4.1.2.1). It is only used once the client id and redirect URI have
// been validated.
type RedirectError struct {
	Err          *oautherr.Error
	RedirectURI  string
	ClientState  string
	ResponseMode oauth2.ResponseModeType
}

func (e *RedirectError) Error() string { return e.Err.Error() }

func (e *RedirectError) Unwrap() error { return e.Err }

// Authorize validates an authorization request and opens a grant in
// PENDING_CONSENT. Errors before the redirect URI is validated are
// returned as plain protocol errors; later ones as RedirectError.
func (s *Service) Authorize(ctx context.Context, params oauth2.AuthorizationParameters) (*authz.Authorization, error) {
	if params.ClientID == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "client_id is required")
	}
	if params.RedirectURI == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "redirect_uri is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	client, err := s.registry.Lookup(sctx, params.ClientID)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidClient, "unknown client")
		}
		return nil, oautherr.From(err)
	}

	// The redirect URI gate: nothing is ever sent to an unregistered
	// URI, so every failure up to here renders at the server.
	if !client.ValidateRedirectURI(params.RedirectURI) {
		return nil, oautherr.New(oautherr.InvalidRequest, "redirect_uri is not registered for this client")
	}

	redirectErr := func(e *oautherr.Error) error {
		return &RedirectError{Err: e, RedirectURI: params.RedirectURI, ClientState: params.State, ResponseMode: params.ResponseMode}
	}

	if params.ResponseType != oauth2.CodeResponseType {
		return nil, redirectErr(oautherr.New(oautherr.UnsupportedResponseType, "only the code response type is supported"))
	}
	if !client.AllowsGrant(oauth2.AuthorizationCodeGrant) {
		return nil, redirectErr(oautherr.New(oautherr.UnauthorizedClient, "client is not allowed the authorization_code grant"))
	}
	if err := client.ValidateScopes(params.Scope); err != nil {
		return nil, redirectErr(oautherr.New(oautherr.InvalidScope, "requested scope is not allowed for this client"))
	}

	switch params.CodeChallengeMethod {
	case "", oauth2.CodeMethodTypePlain, oauth2.CodeMethodTypeS256:
	default:
		return nil, redirectErr(oautherr.New(oautherr.InvalidRequest, "unsupported code_challenge_method"))
	}
	if client.IsPublic() && params.CodeChallenge == "" {
		return nil, redirectErr(oautherr.New(oautherr.InvalidRequest, "public clients must use PKCE"))
	}
	if params.CodeChallenge != "" && params.CodeChallengeMethod == "" {
		// RFC 7636 §4.3: method defaults to plain when omitted.
		params.CodeChallengeMethod = oauth2.CodeMethodTypePlain
	}

	responseMode := params.ResponseMode
	if responseMode == "" {
		responseMode = oauth2.QueryResponseMode
	}

	auth := &authz.Authorization{
		ID:                  uuid.NewString(),
		ClientID:            client.ID,
		Status:              authz.StatusPendingConsent,
		Scope:               params.Scope,
		RedirectURI:         params.RedirectURI,
		ClientState:         params.State,
		Nonce:               params.Nonce,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		ResponseMode:        responseMode,
	}
	if err := s.store.Create(sctx, auth); err != nil {
		return nil, oautherr.From(errors.Wrap(err, "[Service.Authorize] store.Create"))
	}

	s.metrics.RecordAuthorizationStarted(ctx, client.ID)
	s.logger.Debug().Str("grant_id", auth.ID).Str("client_id", client.ID).Msg("authorization flow started")
	return auth, nil
}

// Login authenticates the resource owner for a pending grant and binds
// them to it. The returned client lets the caller decide whether the
// consent step can be skipped.
func (s *Service) Login(ctx context.Context, grantID string, creds principal.Credentials) (*authz.Authorization, *clients.Client, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	auth, err := s.store.Get(sctx, grantID)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return nil, nil, oautherr.New(oautherr.InvalidRequest, "unknown authorization request")
		}
		return nil, nil, oautherr.From(err)
	}
	if auth.Status != authz.StatusPendingConsent {
		return nil, nil, oautherr.New(oautherr.InvalidRequest, "authorization request is no longer pending")
	}

	p, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		s.metrics.RecordLoginFailed(ctx)
		if errors.Is(err, principal.ErrInvalidCredentials) || errors.Is(err, principal.ErrBlocked) {
			return nil, nil, oautherr.New(oautherr.AccessDenied, "authentication failed")
		}
		return nil, nil, oautherr.From(err)
	}

	if err := s.store.BindSubject(sctx, auth.ID, p.Subject); err != nil {
		return nil, nil, oautherr.From(errors.Wrap(err, "[Service.Login] store.BindSubject"))
	}
	auth.Subject = p.Subject

	client, err := s.registry.Lookup(sctx, auth.ClientID)
	if err != nil {
		return nil, nil, oautherr.From(err)
	}
	return auth, client, nil
}

// Consent records the resource owner's decision. Approval issues the
// one-time code; denial revokes the grant and reports access_denied to
// the client's redirect URI.
func (s *Service) Consent(ctx context.Context, grantID string, approved bool) (string, *authz.Authorization, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	auth, err := s.store.Get(sctx, grantID)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return "", nil, oautherr.New(oautherr.InvalidRequest, "unknown authorization request")
		}
		return "", nil, oautherr.From(err)
	}
	if auth.Status != authz.StatusPendingConsent || auth.Subject == "" {
		return "", nil, oautherr.New(oautherr.InvalidRequest, "authorization request is not awaiting consent")
	}

	if !approved {
		if err := s.store.Revoke(sctx, auth.ID); err != nil {
			return "", nil, oautherr.From(err)
		}
		return "", nil, &RedirectError{
			Err:          oautherr.New(oautherr.AccessDenied, "the resource owner denied the request"),
			RedirectURI:  auth.RedirectURI,
			ClientState:  auth.ClientState,
			ResponseMode: auth.ResponseMode,
		}
	}

	code, err := randomToken()
	if err != nil {
		return "", nil, oautherr.From(err)
	}
	expiresAt := s.nowTime().UTC().Add(s.codeTTL)
	if err := s.store.AssignCode(sctx, auth.ID, code, expiresAt); err != nil {
		return "", nil, oautherr.From(errors.Wrap(err, "[Service.Consent] store.AssignCode"))
	}
	auth.Code = code
	auth.CodeExpiresAt = expiresAt
	auth.Status = authz.StatusCodeIssued

	s.metrics.RecordCodeIssued(ctx, auth.ClientID)
	s.logger.Debug().Str("grant_id", auth.ID).Str("client_id", auth.ClientID).Msg("authorization code issued")
	return code, auth, nil
}

// accessTTL resolves the client's access token lifetime.
func (s *Service) accessTTL(client *clients.Client) time.Duration {
	if client.AccessTokenTTL > 0 {
		return client.AccessTokenTTL
	}
	return s.accessTokenTTL
}

func (s *Service) idTTL(client *clients.Client) time.Duration {
	if client.IDTokenTTL > 0 {
		return client.IDTokenTTL
	}
	return s.idTokenTTL
}

func (s *Service) refreshTTL(client *clients.Client) time.Duration {
	if client.RefreshTokenTTL > 0 {
		return client.RefreshTokenTTL
	}
	return s.refreshTokenTTL
}

// randomToken returns a URL-safe random string used for authorization
// codes.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "randomToken")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
