package clients

import (
	"github.com/pkg/errors"

	"github.com/authserve/go-oauth2-server/oauth2"
)

var knownGrantTypes = map[oauth2.GrantType]struct{}{
	oauth2.AuthorizationCodeGrant: {},
	oauth2.ClientCredentialsGrant: {},
	oauth2.RefreshTokenGrant:      {},
}

func parseGrantTypes(raw []string) ([]oauth2.GrantType, error) {
	if len(raw) == 0 {
		// Reasonable default for interactive clients.
		return []oauth2.GrantType{oauth2.AuthorizationCodeGrant, oauth2.RefreshTokenGrant}, nil
	}
	out := make([]oauth2.GrantType, 0, len(raw))
	for _, g := range raw {
		gt := oauth2.GrantType(g)
		if _, ok := knownGrantTypes[gt]; !ok {
			return nil, errors.Errorf("unsupported grant type %q", g)
		}
		out = append(out, gt)
	}
	return out, nil
}
