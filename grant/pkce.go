package grant

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/authserve/go-oauth2-server/oauth2"
)

// verifyCodeChallenge checks a PKCE verifier against the challenge
// captured at authorization time (RFC 7636 §4.6). Comparison is
// constant-time so a replayed exchange cannot probe the challenge.
func verifyCodeChallenge(challenge string, method oauth2.CodeMethodType, verifier string) bool {
	if challenge == "" {
		// No challenge was registered, nothing to verify.
		return verifier == ""
	}
	if verifier == "" {
		return false
	}

	switch method {
	case oauth2.CodeMethodTypeS256:
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
	case oauth2.CodeMethodTypePlain, "":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
