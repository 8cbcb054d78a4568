package principal

import (
	"context"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// FederatedAuthenticator completes an upstream OIDC login: it exchanges
// the provider's authorization code, verifies the returned ID token and
// provisions the principal into the local directory on first sight.
type FederatedAuthenticator struct {
	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
	oauthCfg  oauth2.Config
	directory Directory
	nowTime   func() time.Time
}

// FederatedConfig describes the upstream identity provider.
type FederatedConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func NewFederatedAuthenticator(ctx context.Context, cfg FederatedConfig, directory Directory) (*FederatedAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewFederatedAuthenticator] oidc.NewProvider")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &FederatedAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauthCfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		directory: directory,
		nowTime:   time.Now,
	}, nil
}

// AuthCodeURL builds the upstream authorization URL for the given state.
func (a *FederatedAuthenticator) AuthCodeURL(state string) string {
	return a.oauthCfg.AuthCodeURL(state)
}

// Callback exchanges the upstream authorization code, verifies the ID
// token and returns the local principal, creating it if this identity
// has not been seen before. The subject is namespaced by issuer so a
// federated "sub" can never collide with a local one.
func (a *FederatedAuthenticator) Callback(ctx context.Context, code string) (*Principal, error) {
	oauthToken, err := a.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "[FederatedAuthenticator.Callback] oauthCfg.Exchange")
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("[FederatedAuthenticator.Callback] no id_token in token response")
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[FederatedAuthenticator.Callback] verifier.Verify")
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[FederatedAuthenticator.Callback] idToken.Claims")
	}

	subject := idToken.Issuer + "#" + claims.Subject
	p, err := a.directory.FindBySubject(ctx, subject)
	if errors.Is(err, ErrNotFound) {
		p = &Principal{
			Subject:       subject,
			Email:         claims.Email,
			EmailVerified: claims.EmailVerified,
			Name:          claims.Name,
			GivenName:     claims.GivenName,
			FamilyName:    claims.FamilyName,
			Federated:     true,
			CreatedAt:     a.nowTime().UTC(),
		}
		if err := a.directory.Upsert(ctx, p); err != nil {
			return nil, errors.Wrap(err, "[FederatedAuthenticator.Callback] directory.Upsert")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "[FederatedAuthenticator.Callback] directory.FindBySubject")
	}
	if p.Blocked {
		return nil, ErrBlocked
	}
	if err := a.directory.SetLastLogin(ctx, p.Subject); err != nil {
		return nil, errors.Wrap(err, "[FederatedAuthenticator.Callback] directory.SetLastLogin")
	}
	return p, nil
}
