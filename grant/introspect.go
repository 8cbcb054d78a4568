package grant

import (
	"context"

	"github.com/pkg/errors"

	"github.com/authserve/go-oauth2-server/authz"
	"github.com/authserve/go-oauth2-server/internal/oautherr"
	"github.com/authserve/go-oauth2-server/oauth2"
	"github.com/authserve/go-oauth2-server/token"
)

const refreshTokenUse = "refresh"

// Introspect reports the state of a token (RFC 7662). An unrecognized,
// expired, superseded or revoked token is simply inactive, never an
// error: introspection must not leak why a token is dead.
//
// The grant store is the source of truth. A structurally valid JWT
// whose grant has been revoked introspects inactive immediately, which
// is what makes revocation take effect before the token's exp.
func (s *Service) Introspect(ctx context.Context, callerClientID, rawToken string) (*oauth2.Introspection, error) {
	inactive := &oauth2.Introspection{Active: false}
	if rawToken == "" {
		return inactive, nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	// Access tokens are JWTs; anything that fails signature or time
	// validation falls through to the refresh token path.
	claims, err := s.issuer.Verify(rawToken)
	if err == nil {
		jti, _ := claims["jti"].(string)
		auth, err := s.store.FindByAccessTokenID(sctx, jti)
		if err != nil {
			if errors.Is(err, authz.ErrNotFound) {
				s.metrics.RecordIntrospection(ctx, false)
				return inactive, nil
			}
			return nil, oautherr.From(err)
		}
		if auth.Status != authz.StatusTokenActive || auth.AccessTokenID != jti {
			s.metrics.RecordIntrospection(ctx, false)
			return inactive, nil
		}

		out := &oauth2.Introspection{Active: true, ClientID: auth.ClientID, TokenUse: token.AccessTokenUse}
		if scope, ok := claims["scope"].(string); ok {
			out.Scope = scope
		}
		if sub, ok := claims["sub"].(string); ok {
			out.Sub = &sub
		}
		if aud, ok := claims["aud"].(string); ok {
			out.Aud = &aud
		}
		if iss, ok := claims["iss"].(string); ok {
			out.Iss = &iss
		}
		if exp, ok := claims["exp"].(float64); ok {
			e := int64(exp)
			out.Exp = &e
		}
		if iat, ok := claims["iat"].(float64); ok {
			i := int64(iat)
			out.Iat = &i
		}
		out.Jti = &jti
		s.metrics.RecordIntrospection(ctx, true)
		return out, nil
	}

	// Refresh tokens are opaque store handles.
	auth, err := s.store.FindByRefreshToken(sctx, rawToken)
	if err != nil {
		if errors.Is(err, authz.ErrRefreshNotFound) {
			s.metrics.RecordIntrospection(ctx, false)
			return inactive, nil
		}
		return nil, oautherr.From(err)
	}
	now := s.nowTime().UTC()
	if auth.Status != authz.StatusTokenActive || auth.RefreshToken != rawToken || now.After(auth.RefreshExpiresAt) {
		s.metrics.RecordIntrospection(ctx, false)
		return inactive, nil
	}

	out := &oauth2.Introspection{
		Active:   true,
		ClientID: auth.ClientID,
		Scope:    auth.Scope,
		TokenUse: refreshTokenUse,
	}
	if auth.Subject != "" {
		sub := auth.Subject
		out.Sub = &sub
	}
	exp := auth.RefreshExpiresAt.Unix()
	out.Exp = &exp
	s.metrics.RecordIntrospection(ctx, true)
	return out, nil
}

// Revoke invalidates the grant behind a token (RFC 7009). Revoking an
// access token kills its sibling refresh token and vice versa, since
// both hang off the same grant. Unknown tokens and tokens owned by a
// different client are silently ignored; the endpoint answers 200
// either way.
func (s *Service) Revoke(ctx context.Context, callerClientID, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	auth := s.resolveToken(sctx, rawToken)
	if auth == nil {
		return nil
	}
	if auth.ClientID != callerClientID {
		// Not this client's token to revoke.
		return nil
	}
	if err := s.store.Revoke(sctx, auth.ID); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return nil
		}
		return oautherr.From(err)
	}
	s.metrics.RecordTokenRevocation(ctx, callerClientID)
	s.logger.Info().Str("grant_id", auth.ID).Str("client_id", callerClientID).Msg("grant revoked")
	return nil
}

// resolveToken maps a presented token (JWT access token or opaque
// refresh token) to its grant, or nil if it resolves to nothing.
func (s *Service) resolveToken(ctx context.Context, rawToken string) *authz.Authorization {
	if claims, err := s.issuer.Verify(rawToken); err == nil {
		jti, _ := claims["jti"].(string)
		if auth, err := s.store.FindByAccessTokenID(ctx, jti); err == nil {
			return auth
		}
		return nil
	}
	if auth, err := s.store.FindByRefreshToken(ctx, rawToken); err == nil {
		return auth
	}
	return nil
}

// UserInfo returns the OIDC claims a live access token entitles its
// bearer to, filtered by the token's granted scopes. The token must
// carry the openid scope and belong to a user-backed grant.
func (s *Service) UserInfo(ctx context.Context, rawAccessToken string) (map[string]any, error) {
	claims, err := s.issuer.Verify(rawAccessToken)
	if err != nil {
		return nil, oautherr.New(oautherr.InvalidClient, "invalid access token")
	}
	if use, _ := claims["token_use"].(string); use != token.AccessTokenUse {
		return nil, oautherr.New(oautherr.InvalidClient, "invalid access token")
	}

	jti, _ := claims["jti"].(string)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	auth, err := s.store.FindByAccessTokenID(sctx, jti)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidClient, "invalid access token")
		}
		return nil, oautherr.From(err)
	}
	if auth.Status != authz.StatusTokenActive || auth.AccessTokenID != jti {
		return nil, oautherr.New(oautherr.InvalidClient, "access token is no longer active")
	}

	// The presented token's scope governs the claims, not the grant's
	// original scope: a scope-narrowed refresh must narrow userinfo too.
	tokenScope := auth.Scope
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		tokenScope = scope
	}
	if auth.Subject == "" || !oauth2.HasScope(tokenScope, "openid") {
		return nil, oautherr.New(oautherr.AccessDenied, "token does not grant access to userinfo")
	}

	p, err := s.directory.FindBySubject(ctx, auth.Subject)
	if err != nil {
		return nil, oautherr.From(err)
	}
	return p.Claims(oauth2.SplitScopes(tokenScope)), nil
}
