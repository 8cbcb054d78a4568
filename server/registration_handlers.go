package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/oauth2"
)

// registrationRequest is the dynamic client registration request body,
// following the RFC 7591 metadata names.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	RequireConsent          bool     `json:"require_consent"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// Register creates an OAuth2 client (RFC 7591). A client registering
// with token_endpoint_auth_method "none" is public and receives no
// secret; everyone else gets a generated secret returned exactly once.
func (s *Server) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_client_metadata", "request body is not valid JSON", http.StatusBadRequest)
			return
		}
		if req.ClientName == "" {
			writeJSONError(w, "invalid_client_metadata", "client_name is required", http.StatusBadRequest)
			return
		}
		for _, uri := range req.RedirectURIs {
			if !validRedirectURI(uri) {
				writeJSONError(w, "invalid_redirect_uri", "redirect URIs must be absolute and carry no fragment", http.StatusBadRequest)
				return
			}
		}

		clientType := clients.ClientTypeConfidential
		authMethod := req.TokenEndpointAuthMethod
		if authMethod == "" {
			authMethod = "client_secret_basic"
		}
		if authMethod == "none" {
			clientType = clients.ClientTypePublic
		}

		grantTypes := req.GrantTypes
		if wantsAuthorizationCode(grantTypes) && len(req.RedirectURIs) == 0 {
			writeJSONError(w, "invalid_redirect_uri", "redirect_uris is required for the authorization_code grant", http.StatusBadRequest)
			return
		}

		client, secret, err := s.registry.Register(r.Context(), clients.Registration{
			Name:           req.ClientName,
			Type:           clientType,
			RedirectURIs:   req.RedirectURIs,
			GrantTypes:     grantTypes,
			Scopes:         oauth2.SplitScopes(req.Scope),
			RequireConsent: req.RequireConsent,
		})
		if err != nil {
			writeJSONError(w, "invalid_client_metadata", err.Error(), http.StatusBadRequest)
			return
		}

		s.metrics.RecordClientRegistration(r.Context(), string(client.Type))
		s.logger.Info().Str("client_id", client.ID).Str("client_type", string(client.Type)).Msg("client registered")

		resp := registrationResponse{
			ClientID:                client.ID,
			ClientSecret:            secret,
			ClientIDIssuedAt:        client.CreatedAt.Unix(),
			ClientName:              client.Name,
			RedirectURIs:            client.RedirectURIs,
			GrantTypes:              grantTypeStrings(client.GrantTypes),
			Scope:                   oauth2.JoinScopes(client.Scopes),
			TokenEndpointAuthMethod: authMethod,
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// validRedirectURI requires an absolute URI without a fragment
// (RFC 6749 §3.1.2).
func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Fragment == ""
}

func wantsAuthorizationCode(grantTypes []string) bool {
	if len(grantTypes) == 0 {
		return true // authorization_code is the registration default
	}
	for _, gt := range grantTypes {
		if gt == string(oauth2.AuthorizationCodeGrant) {
			return true
		}
	}
	return false
}

func grantTypeStrings(grantTypes []oauth2.GrantType) []string {
	out := make([]string, 0, len(grantTypes))
	for _, gt := range grantTypes {
		out = append(out, string(gt))
	}
	return out
}
