package token

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrUnknownKeyID is returned when a token's "kid" matches neither the
// active key nor a retired key still inside its grace window.
var ErrUnknownKeyID = errors.New("unknown signing key id")

// Keyring holds the active signing key plus retired keys that must keep
// verifying until every token they signed has expired. The grace period
// must therefore be at least the longest token lifetime the server
// issues.
type Keyring struct {
	mu      sync.RWMutex
	active  *KeyPair
	retired map[string]retiredKey // kid -> key + removal deadline
	grace   time.Duration
	nowTime func() time.Time
}

type retiredKey struct {
	pair     *KeyPair
	retireAt time.Time // After this instant the key is no longer published or accepted
}

type KeyringOption func(*Keyring)

// WithKeyringNowFunc overrides the clock, used by tests.
func WithKeyringNowFunc(now func() time.Time) KeyringOption {
	return func(k *Keyring) { k.nowTime = now }
}

// NewKeyring creates a keyring with the given active key. grace is how
// long a rotated-out key remains valid for verification.
func NewKeyring(active *KeyPair, grace time.Duration, opts ...KeyringOption) *Keyring {
	k := &Keyring{
		active:  active,
		retired: make(map[string]retiredKey),
		grace:   grace,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Active returns the current signing key.
func (k *Keyring) Active() *KeyPair {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Sign signs claims with the active key.
func (k *Keyring) Sign(claims jwt.MapClaims) (string, error) {
	return k.Active().Sign(claims)
}

// Rotate installs a new active key. The previous key moves to the
// retired set and keeps verifying tokens until its grace window closes.
func (k *Keyring) Rotate(next *KeyPair) {
	k.mu.Lock()
	defer k.mu.Unlock()

	prev := k.active
	k.retired[prev.KeyID] = retiredKey{
		pair:     prev,
		retireAt: k.nowTime().UTC().Add(k.grace),
	}
	k.active = next
}

// VerificationKey resolves a "kid" to its public key. Retired keys past
// their grace window are rejected even if not yet pruned.
func (k *Keyring) VerificationKey(kid string) (any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.active.KeyID == kid {
		return k.active.PublicKey, nil
	}
	if r, ok := k.retired[kid]; ok && k.nowTime().UTC().Before(r.retireAt) {
		return r.pair.PublicKey, nil
	}
	return nil, ErrUnknownKeyID
}

// Keyfunc is the jwt.Keyfunc bridging token headers to the keyring:
// asymmetric methods only, key selected by "kid".
func (k *Keyring) Keyfunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
	default:
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	return k.VerificationKey(kid)
}

// JWKS publishes the active key and every retired key still inside its
// grace window, so clients can verify tokens signed shortly before a
// rotation.
func (k *Keyring) JWKS() (*JWKS, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	active, err := k.active.ToJWK()
	if err != nil {
		return nil, errors.Wrap(err, "[Keyring.JWKS] active key")
	}
	set := &JWKS{Keys: []JWK{*active}}

	now := k.nowTime().UTC()
	for _, r := range k.retired {
		if now.After(r.retireAt) {
			continue
		}
		jwk, err := r.pair.ToJWK()
		if err != nil {
			return nil, errors.Wrap(err, "[Keyring.JWKS] retired key")
		}
		set.Keys = append(set.Keys, *jwk)
	}
	return set, nil
}

// PruneExpired drops retired keys whose grace window has closed,
// returning how many were removed.
func (k *Keyring) PruneExpired() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.nowTime().UTC()
	pruned := 0
	for kid, r := range k.retired {
		if now.After(r.retireAt) {
			delete(k.retired, kid)
			pruned++
		}
	}
	return pruned
}
