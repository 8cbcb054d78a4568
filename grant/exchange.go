package grant

import (
	"context"

	"github.com/pkg/errors"

	"github.com/authserve/go-oauth2-server/authz"
	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/internal/oautherr"
	"github.com/authserve/go-oauth2-server/oauth2"

	"github.com/google/uuid"
)

// Exchange handles the token endpoint for every supported grant type.
func (s *Service) Exchange(ctx context.Context, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(req.GrantType) {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "client is not allowed this grant type")
	}

	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		return s.exchangeCode(ctx, client, req)
	case oauth2.RefreshTokenGrant:
		return s.exchangeRefresh(ctx, client, req)
	case oauth2.ClientCredentialsGrant:
		return s.exchangeClientCredentials(ctx, client, req)
	default:
		return nil, oautherr.New(oautherr.UnsupportedGrantType, "unsupported grant type")
	}
}

// authenticateClient resolves and authenticates the caller.
// Confidential clients must present their secret.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*clients.Client, error) {
	if clientID == "" {
		return nil, oautherr.New(oautherr.InvalidClient, "client authentication required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	client, err := s.registry.Lookup(sctx, clientID)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidClient, "client authentication failed")
		}
		return nil, oautherr.From(err)
	}
	if err := s.registry.ValidateSecret(client, clientSecret); err != nil {
		return nil, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	return client, nil
}

// exchangeCode redeems a one-time code for tokens. The code is burned
// before the remaining checks run: a code that reached the token
// endpoint is spent no matter how the request fares, and a validation
// failure after redemption revokes the grant outright.
func (s *Service) exchangeCode(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.Code == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "code is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	auth, err := s.store.RedeemCode(sctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrCodeRedeemed):
			s.metrics.RecordCodeReuseDetected(ctx)
			s.logger.Warn().Str("client_id", client.ID).Msg("authorization code replay detected")
			return nil, oautherr.New(oautherr.InvalidGrant, "authorization code already used")
		case errors.Is(err, authz.ErrCodeNotFound), errors.Is(err, authz.ErrCodeExpired):
			return nil, oautherr.New(oautherr.InvalidGrant, "invalid authorization code")
		default:
			return nil, oautherr.From(err)
		}
	}

	reject := func(code oautherr.Code, desc string) error {
		// The code is already burned; kill the grant too.
		if err := s.store.Revoke(sctx, auth.ID); err != nil {
			s.logger.Error().Err(err).Str("grant_id", auth.ID).Msg("failed to revoke grant after rejected exchange")
		}
		return oautherr.New(code, desc)
	}

	if auth.ClientID != client.ID {
		return nil, reject(oautherr.InvalidGrant, "authorization code was issued to a different client")
	}
	if auth.RedirectURI != "" && auth.RedirectURI != req.RedirectURI {
		return nil, reject(oautherr.InvalidGrant, "redirect_uri does not match the authorization request")
	}
	if !verifyCodeChallenge(auth.CodeChallenge, auth.CodeChallengeMethod, req.CodeVerifier) {
		s.metrics.RecordPKCEValidationFailed(ctx, string(auth.CodeChallengeMethod))
		return nil, reject(oautherr.InvalidGrant, "PKCE verification failed")
	}

	resp, err := s.mintTokens(ctx, client, auth)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued(ctx, client.ID, string(oauth2.AuthorizationCodeGrant))
	s.logger.Info().Str("grant_id", auth.ID).Str("client_id", client.ID).Msg("authorization code exchanged")
	return resp, nil
}

// mintTokens issues the token set for a redeemed grant and binds the
// identifiers into the store, moving the grant to TOKEN_ACTIVE.
func (s *Service) mintTokens(ctx context.Context, client *clients.Client, auth *authz.Authorization) (*oauth2.TokenResponse, error) {
	accessTTL := s.accessTTL(client)
	at, err := s.issuer.IssueAccessToken(client.ID, auth.Subject, auth.Scope, accessTTL)
	if err != nil {
		return nil, oautherr.From(err)
	}

	resp := &oauth2.TokenResponse{
		AccessToken: at.Signed,
		TokenType:   "bearer",
		ExpiresIn:   int(accessTTL.Seconds()),
		Scope:       auth.Scope,
	}

	if auth.Subject != "" && oauth2.HasScope(auth.Scope, "openid") {
		idToken, err := s.issueIDToken(ctx, client, auth)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	var (
		refreshToken  string
		refreshExpiry = at.ExpiresAt
	)
	if client.AllowsGrant(oauth2.RefreshTokenGrant) && auth.Subject != "" {
		refreshToken, err = s.issuer.NewRefreshToken()
		if err != nil {
			return nil, oautherr.From(err)
		}
		refreshExpiry = s.nowTime().UTC().Add(s.refreshTTL(client))
		resp.RefreshToken = refreshToken
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.BindTokens(sctx, auth.ID, at.ID, at.ExpiresAt, refreshToken, refreshExpiry); err != nil {
		return nil, oautherr.From(errors.Wrap(err, "[Service.mintTokens] store.BindTokens"))
	}
	return resp, nil
}

func (s *Service) issueIDToken(ctx context.Context, client *clients.Client, auth *authz.Authorization) (string, error) {
	p, err := s.directory.FindBySubject(ctx, auth.Subject)
	if err != nil {
		return "", oautherr.From(errors.Wrap(err, "[Service.issueIDToken] directory.FindBySubject"))
	}
	identity := p.Claims(oauth2.SplitScopes(auth.Scope))
	idToken, err := s.issuer.IssueIDToken(client.ID, auth.Nonce, identity, s.idTTL(client))
	if err != nil {
		return "", oautherr.From(err)
	}
	return idToken, nil
}

// exchangeRefresh handles the refresh_token grant. With rotation on
// (the default) the presented token is retired and a new one returned;
// replaying a retired token fails. With rotation off the same token is
// re-bound, which keeps the store transition identical either way.
func (s *Service) exchangeRefresh(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "refresh_token is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	// Scope narrowing: a refresh may request a subset of the original
	// scope, never an extension.
	scope := req.Scope
	if scope != "" {
		current, err := s.store.FindByRefreshToken(sctx, req.RefreshToken)
		if err != nil {
			if errors.Is(err, authz.ErrRefreshNotFound) {
				return nil, oautherr.New(oautherr.InvalidGrant, "invalid refresh token")
			}
			return nil, oautherr.From(err)
		}
		for _, want := range oauth2.SplitScopes(scope) {
			if !oauth2.HasScope(current.Scope, want) {
				return nil, oautherr.New(oautherr.InvalidScope, "requested scope exceeds the original grant")
			}
		}
	}

	// The new access token id is fixed up front so it can be bound in
	// the same atomic store operation that rotates the refresh token.
	accessTTL := s.accessTTL(client)
	newRefresh := req.RefreshToken
	var err error
	if s.rotateRefresh {
		newRefresh, err = s.issuer.NewRefreshToken()
		if err != nil {
			return nil, oautherr.From(err)
		}
	}
	refreshExpiry := s.nowTime().UTC().Add(s.refreshTTL(client))
	jti := uuid.NewString()

	auth, err := s.store.RotateRefreshToken(sctx, req.RefreshToken, client.ID, newRefresh, refreshExpiry, jti, s.nowTime().UTC().Add(accessTTL))
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrRefreshNotFound):
			s.metrics.RecordTokenReuseDetected(ctx)
			return nil, oautherr.New(oautherr.InvalidGrant, "invalid refresh token")
		case errors.Is(err, authz.ErrWrongClient):
			return nil, oautherr.New(oautherr.InvalidGrant, "refresh token was issued to a different client")
		case errors.Is(err, authz.ErrRevoked), errors.Is(err, authz.ErrRefreshExpired):
			return nil, oautherr.New(oautherr.InvalidGrant, "refresh token is no longer valid")
		default:
			return nil, oautherr.From(err)
		}
	}

	tokenScope := auth.Scope
	if scope != "" {
		tokenScope = scope
	}
	access, err := s.issuer.IssueAccessTokenWithID(client.ID, auth.Subject, tokenScope, accessTTL, jti)
	if err != nil {
		return nil, oautherr.From(err)
	}

	resp := &oauth2.TokenResponse{
		AccessToken: access.Signed,
		TokenType:   "bearer",
		ExpiresIn:   int(accessTTL.Seconds()),
		Scope:       tokenScope,
	}
	if s.rotateRefresh {
		resp.RefreshToken = newRefresh
	}

	s.metrics.RecordTokenRefresh(ctx, client.ID, s.rotateRefresh)
	s.logger.Info().Str("grant_id", auth.ID).Str("client_id", client.ID).Bool("rotated", s.rotateRefresh).Msg("refresh token exchanged")
	return resp, nil
}

// exchangeClientCredentials is machine-to-machine: no resource owner,
// no consent, no refresh token. The grant record starts directly at
// CODE_REDEEMED since there is no code step to walk through.
func (s *Service) exchangeClientCredentials(ctx context.Context, client *clients.Client, req oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	if client.IsPublic() {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "public clients may not use client_credentials")
	}
	if err := client.ValidateScopes(req.Scope); err != nil {
		return nil, oautherr.New(oautherr.InvalidScope, "requested scope is not allowed for this client")
	}

	auth := &authz.Authorization{
		ID:       uuid.NewString(),
		ClientID: client.ID,
		Status:   authz.StatusCodeRedeemed,
		Scope:    req.Scope,
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Create(sctx, auth); err != nil {
		return nil, oautherr.From(errors.Wrap(err, "[Service.exchangeClientCredentials] store.Create"))
	}

	accessTTL := s.accessTTL(client)
	at, err := s.issuer.IssueAccessToken(client.ID, "", req.Scope, accessTTL)
	if err != nil {
		return nil, oautherr.From(err)
	}
	if err := s.store.BindTokens(sctx, auth.ID, at.ID, at.ExpiresAt, "", at.ExpiresAt); err != nil {
		return nil, oautherr.From(errors.Wrap(err, "[Service.exchangeClientCredentials] store.BindTokens"))
	}

	s.metrics.RecordTokenIssued(ctx, client.ID, string(oauth2.ClientCredentialsGrant))
	return &oauth2.TokenResponse{
		AccessToken: at.Signed,
		TokenType:   "bearer",
		ExpiresIn:   int(accessTTL.Seconds()),
		Scope:       req.Scope,
	}, nil
}
