package clients

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Registration is the input to Register. Secret handling and identifier
// assignment are the registry's job, so the caller supplies metadata
// only.
type Registration struct {
	Name            string
	Type            ClientType
	RedirectURIs    []string
	GrantTypes      []string
	Scopes          []string
	RequireConsent  bool
	AccessTokenTTL  time.Duration
	IDTokenTTL      time.Duration
	RefreshTokenTTL time.Duration
}

// Registry wraps a Repo with the operations the grant flows need:
// lookup, secret verification and dynamic registration.
type Registry struct {
	repo    Repo
	nowTime func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNowFunc overrides the clock, used by tests.
func WithNowFunc(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.nowTime = now }
}

func NewRegistry(repo Repo, opts ...RegistryOption) *Registry {
	r := &Registry{
		repo:    repo,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup fetches a client by id.
func (r *Registry) Lookup(ctx context.Context, clientID string) (*Client, error) {
	client, err := r.repo.Get(ctx, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "[Registry.Lookup] repo.Get")
	}
	return client, nil
}

// ValidateSecret checks the presented secret against the stored bcrypt
// hash. Public clients have no secret; presenting one is rejected so a
// misconfigured client fails loudly rather than silently authenticating.
func (r *Registry) ValidateSecret(client *Client, secret string) error {
	if client.IsPublic() {
		if secret != "" {
			return ErrInvalidSecret
		}
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return ErrInvalidSecret
	}
	return nil
}

// Register creates a new client, assigning it an id and, for
// confidential clients, a generated secret. The plaintext secret is
// returned exactly once; only the bcrypt hash is stored.
func (r *Registry) Register(ctx context.Context, reg Registration) (*Client, string, error) {
	grantTypes, err := parseGrantTypes(reg.GrantTypes)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Registry.Register] parseGrantTypes")
	}

	client := &Client{
		ID:              uuid.NewString(),
		Name:            reg.Name,
		Type:            reg.Type,
		RedirectURIs:    reg.RedirectURIs,
		GrantTypes:      grantTypes,
		Scopes:          reg.Scopes,
		RequireConsent:  reg.RequireConsent,
		AccessTokenTTL:  reg.AccessTokenTTL,
		IDTokenTTL:      reg.IDTokenTTL,
		RefreshTokenTTL: reg.RefreshTokenTTL,
		CreatedAt:       r.nowTime().UTC(),
	}
	if client.Type == "" {
		client.Type = ClientTypeConfidential
	}

	var plaintextSecret string
	if !client.IsPublic() {
		plaintextSecret, err = generateSecret()
		if err != nil {
			return nil, "", errors.Wrap(err, "[Registry.Register] generateSecret")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintextSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", errors.Wrap(err, "[Registry.Register] bcrypt.GenerateFromPassword")
		}
		client.SecretHash = string(hash)
	}

	if err := r.repo.Upsert(ctx, client); err != nil {
		return nil, "", errors.Wrap(err, "[Registry.Register] repo.Upsert")
	}
	return client, plaintextSecret, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
