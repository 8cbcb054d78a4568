package token

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Customizer lets the embedding application add claims to a token
// before signing. It must be a pure function of the claims it is given.
// The protocol claims (iss, sub, aud, exp, iat, jti, client_id, scope,
// token_use) are re-asserted after the hook runs, so a customizer can
// never forge or drop them.
type Customizer func(claims jwt.MapClaims)

// AccessTokenUse is the token_use claim value for access tokens.
const AccessTokenUse = "access"

// Issuer mints the server's tokens: RS256/ES256 JWTs for access and ID
// tokens, opaque random strings for refresh tokens.
type Issuer struct {
	keyring    *Keyring
	issuer     string
	leeway     time.Duration
	customizer Customizer
	nowTime    func() time.Time
}

type IssuerOption func(*Issuer)

// WithIssuerNowFunc overrides the clock, used by tests.
func WithIssuerNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.nowTime = now }
}

// WithLeeway sets the clock skew tolerated when validating exp/iat.
func WithLeeway(leeway time.Duration) IssuerOption {
	return func(i *Issuer) { i.leeway = leeway }
}

// WithCustomizer installs the claims hook applied to access tokens.
func WithCustomizer(c Customizer) IssuerOption {
	return func(i *Issuer) { i.customizer = c }
}

// NewIssuer creates an Issuer. issuer becomes the "iss" claim of every
// token and must match the discovery document.
func NewIssuer(keyring *Keyring, issuer string, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		keyring: keyring,
		issuer:  issuer,
		leeway:  30 * time.Second,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issuer returns the configured "iss" value.
func (i *Issuer) IssuerURL() string {
	return i.issuer
}

// AccessToken is a minted access token together with the identifiers
// the grant store needs to track it.
type AccessToken struct {
	Signed    string
	ID        string // jti
	ExpiresAt time.Time
}

// IssueAccessToken mints an access token for the given client and
// subject. subject is empty for the client_credentials grant, in which
// case the client is its own subject.
func (i *Issuer) IssueAccessToken(clientID, subject, scope string, ttl time.Duration) (*AccessToken, error) {
	return i.IssueAccessTokenWithID(clientID, subject, scope, ttl, uuid.NewString())
}

// IssueAccessTokenWithID mints an access token with a caller-chosen
// jti, used when the identifier must be committed to the grant store
// before the token exists.
func (i *Issuer) IssueAccessTokenWithID(clientID, subject, scope string, ttl time.Duration, jti string) (*AccessToken, error) {
	now := i.nowTime().UTC()
	expiresAt := now.Add(ttl)

	sub := subject
	if sub == "" {
		sub = clientID
	}

	claims := jwt.MapClaims{}
	if i.customizer != nil {
		i.customizer(claims)
	}

	// Protocol claims win over anything the customizer set.
	claims["iss"] = i.issuer
	claims["sub"] = sub
	claims["aud"] = clientID
	claims["client_id"] = clientID
	claims["iat"] = now.Unix()
	claims["exp"] = expiresAt.Unix()
	claims["jti"] = jti
	claims["token_use"] = AccessTokenUse
	if scope != "" {
		claims["scope"] = scope
	} else {
		delete(claims, "scope")
	}

	signed, err := i.keyring.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "[Issuer.IssueAccessToken] sign")
	}
	return &AccessToken{Signed: signed, ID: jti, ExpiresAt: expiresAt}, nil
}

// IssueIDToken mints an OIDC ID token. identity carries the principal's
// scope-filtered claims; its "sub" entry is authoritative.
func (i *Issuer) IssueIDToken(clientID, nonce string, identity map[string]any, ttl time.Duration) (string, error) {
	sub, _ := identity["sub"].(string)
	if sub == "" {
		return "", errors.New("[Issuer.IssueIDToken] identity has no sub")
	}

	now := i.nowTime().UTC()
	claims := jwt.MapClaims{}
	for k, v := range identity {
		claims[k] = v
	}
	claims["iss"] = i.issuer
	claims["sub"] = sub
	claims["aud"] = clientID
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	if nonce != "" {
		claims["nonce"] = nonce
	}

	signed, err := i.keyring.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.IssueIDToken] sign")
	}
	return signed, nil
}

// NewRefreshToken returns a fresh opaque refresh token. Refresh tokens
// carry no claims; the grant store is their single source of truth.
func (i *Issuer) NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[Issuer.NewRefreshToken] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verify checks signature, issuer and time claims of a raw JWT and
// returns its claims. Verification alone does not make a token live:
// callers must still consult the grant store for revocation.
func (i *Issuer) Verify(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(
		jwt.WithLeeway(i.leeway),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.nowTime().UTC() }),
	).ParseWithClaims(raw, claims, i.keyring.Keyfunc)
	if err != nil {
		return nil, errors.Wrap(err, "[Issuer.Verify] parse")
	}
	return claims, nil
}
