// Package principal models the resource owners of the authorization
// server and the authenticators that verify them.
package principal

import (
	"time"
)

// Principal is a resource owner: the human (or, for federated logins,
// the upstream identity) on whose behalf tokens are issued.
type Principal struct {
	Subject      string    `json:"sub"`                 // Stable identifier, the "sub" claim of issued tokens
	Username     string    `json:"username,omitempty"`  // Login name for local authentication
	Email        string    `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Name         string    `json:"name,omitempty"`
	GivenName    string    `json:"given_name,omitempty"`
	FamilyName   string    `json:"family_name,omitempty"`
	PasswordHash string    `json:"-"` // bcrypt hash, empty for federated-only principals
	Blocked      bool      `json:"blocked,omitempty"`
	Federated    bool      `json:"federated,omitempty"` // Provisioned from an upstream identity provider
	CreatedAt    time.Time `json:"created_at,omitempty"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// Claims returns the OIDC claims the granted scopes entitle a client
// to see. "sub" is always present; "profile" and "email" unlock their
// standard claim sets.
func (p *Principal) Claims(scopes []string) map[string]any {
	claims := map[string]any{"sub": p.Subject}
	for _, scope := range scopes {
		switch scope {
		case "profile":
			if p.Name != "" {
				claims["name"] = p.Name
			}
			if p.GivenName != "" {
				claims["given_name"] = p.GivenName
			}
			if p.FamilyName != "" {
				claims["family_name"] = p.FamilyName
			}
			if p.Username != "" {
				claims["preferred_username"] = p.Username
			}
		case "email":
			if p.Email != "" {
				claims["email"] = p.Email
				claims["email_verified"] = p.EmailVerified
			}
		}
	}
	return claims
}
