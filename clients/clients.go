// Package clients implements the registered-client registry: client
// metadata, secret validation and redirect URI matching.
package clients

import (
	"time"

	"github.com/authserve/go-oauth2-server/oauth2"
)

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// Client is a registered OAuth2 client. Immutable in the request hot
// path; changes go through the administrative registration operations.
type Client struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Type         ClientType         `json:"type"` // public or confidential
	SecretHash   string             `json:"-"`    // bcrypt hash, never serialized
	RedirectURIs []string           `json:"redirect_uris"`
	GrantTypes   []oauth2.GrantType `json:"grant_types"`
	Scopes       []string           `json:"scopes"`

	// RequireConsent forces the consent step for every authorization.
	// When false the consent decision is auto-approved after login.
	RequireConsent bool `json:"require_consent"`

	// Token lifetimes. Zero values fall back to the server defaults.
	AccessTokenTTL  time.Duration `json:"access_token_ttl,omitempty"`
	IDTokenTTL      time.Duration `json:"id_token_ttl,omitempty"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsPublic returns true if the client cannot keep a secret.
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// AllowsGrant reports whether the client is registered for the given
// grant type.
func (c *Client) AllowsGrant(gt oauth2.GrantType) bool {
	for _, g := range c.GrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// HasScope checks if the client is allowed a specific scope.
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateScopes checks that every requested scope is allowed for this
// client. An empty request is valid.
func (c *Client) ValidateScopes(requestedScopes string) error {
	for _, scope := range oauth2.SplitScopes(requestedScopes) {
		if !c.HasScope(scope) {
			return ErrInvalidScope
		}
	}
	return nil
}

// ValidateRedirectURI checks the URI against the registered whitelist.
// Exact string match only; no prefix or pattern matching, so an open
// redirect cannot be registered by accident.
func (c *Client) ValidateRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if uri == registered {
			return true
		}
	}
	return false
}
