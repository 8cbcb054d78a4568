// Package authz holds the authorization grant: the record that tracks a
// single consent from pending through code issuance, token activity and
// revocation.
package authz

import (
	"time"

	"github.com/authserve/go-oauth2-server/oauth2"
)

// Status is the lifecycle state of an authorization grant. Transitions
// only move forward; REVOKED and EXPIRED are terminal.
type Status string

const (
	StatusPendingConsent Status = "PENDING_CONSENT" // Authorization request accepted, awaiting login/consent
	StatusCodeIssued     Status = "CODE_ISSUED"     // One-time code handed to the client
	StatusCodeRedeemed   Status = "CODE_REDEEMED"   // Code exchanged at the token endpoint
	StatusTokenActive    Status = "TOKEN_ACTIVE"    // Tokens bound and live
	StatusRevoked        Status = "REVOKED"         // Explicitly revoked; terminal
	StatusExpired        Status = "EXPIRED"         // Timed out before completion; terminal
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Authorization is one grant: a client's authorization request, the
// principal's consent, the one-time code and the tokens minted from it.
type Authorization struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Subject  string `json:"subject,omitempty"` // Empty until login; stays empty for client_credentials
	Status   Status `json:"status"`

	// Request parameters captured at /authorize time.
	Scope               string                `json:"scope,omitempty"`
	RedirectURI         string                `json:"redirect_uri,omitempty"`
	ClientState         string                `json:"client_state,omitempty"` // Echoed back on the redirect
	Nonce               string                `json:"nonce,omitempty"`
	CodeChallenge       string                `json:"code_challenge,omitempty"`
	CodeChallengeMethod oauth2.CodeMethodType `json:"code_challenge_method,omitempty"`
	ResponseMode        oauth2.ResponseModeType `json:"response_mode,omitempty"`

	// One-time authorization code.
	Code          string    `json:"code,omitempty"`
	CodeExpiresAt time.Time `json:"code_expires_at,omitempty"`

	// Token bindings, set when the grant reaches TOKEN_ACTIVE.
	AccessTokenID    string    `json:"access_token_id,omitempty"` // jti of the latest access token
	AccessExpiresAt  time.Time `json:"access_expires_at,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether every credential attached to the grant is
// past its lifetime at the given instant.
func (a *Authorization) Expired(now time.Time) bool {
	switch a.Status {
	case StatusCodeIssued:
		return now.After(a.CodeExpiresAt)
	case StatusTokenActive:
		if a.RefreshToken != "" {
			return now.After(a.RefreshExpiresAt)
		}
		return now.After(a.AccessExpiresAt)
	}
	return false
}
