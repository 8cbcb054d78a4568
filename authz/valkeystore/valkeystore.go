// Package valkeystore is a Valkey-backed authz.Store for deployments
// where grants must survive restarts or be shared across instances.
//
// Layout: grants live as JSON under grant:{id}; code:{code},
// refresh:{token} and jti:{jti} are index keys holding the grant id.
// The compound transitions (code redemption, refresh rotation) run as
// Lua scripts so exactly one concurrent caller can win. Expiry of index
// keys is delegated to Valkey TTLs.
package valkeystore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/authserve/go-oauth2-server/authz"
	"github.com/authserve/go-oauth2-server/oauth2"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "authz:"

	// pendingGrantTTL bounds how long an unfinished grant (pending
	// consent or unredeemed code) may occupy storage.
	pendingGrantTTL = 24 * time.Hour

	// terminalGrantTTL keeps revoked/expired grants visible to
	// introspection for a while before Valkey drops them.
	terminalGrantTTL = time.Hour

	connectionVerifyTimeout = 5 * time.Second
)

// Config holds the Valkey connection settings.
type Config struct {
	// Address is the Valkey server address, e.g. "localhost:6379".
	Address string

	// Password is the optional password for authentication.
	Password string

	// DB is the optional database number.
	DB int

	// KeyPrefix is the prefix for all keys (default "authz:").
	KeyPrefix string

	// TLS is the optional TLS configuration.
	TLS *tls.Config
}

type Store struct {
	client  valkeygo.Client
	prefix  string
	nowTime func() time.Time
}

var _ authz.Store = (*Store)(nil)

// New connects to Valkey and verifies the connection with a PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("[valkeystore.New] valkey address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "[valkeystore.New] valkeygo.NewClient")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "[valkeystore.New] ping")
	}

	return &Store{client: client, prefix: prefix, nowTime: time.Now}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) grantKey(id string) string      { return s.prefix + "grant:" + id }
func (s *Store) codeKey(code string) string     { return s.prefix + "code:" + code }
func (s *Store) refreshKey(token string) string { return s.prefix + "refresh:" + token }
func (s *Store) jtiKey(jti string) string       { return s.prefix + "jti:" + jti }

// grantJSON is the stored representation. Expiries are unix seconds so
// the Lua scripts can compare them without date parsing.
type grantJSON struct {
	ID                  string `json:"id"`
	ClientID            string `json:"client_id"`
	Subject             string `json:"subject,omitempty"`
	Status              string `json:"status"`
	Scope               string `json:"scope,omitempty"`
	RedirectURI         string `json:"redirect_uri,omitempty"`
	ClientState         string `json:"client_state,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	ResponseMode        string `json:"response_mode,omitempty"`
	Code                string `json:"code,omitempty"`
	CodeExpiresUnix     int64  `json:"code_expires_unix,omitempty"`
	AccessTokenID       string `json:"access_token_id,omitempty"`
	AccessExpiresUnix   int64  `json:"access_expires_unix,omitempty"`
	RefreshToken        string `json:"refresh_token,omitempty"`
	RefreshExpiresUnix  int64  `json:"refresh_expires_unix,omitempty"`
	CreatedUnix         int64  `json:"created_unix"`
	UpdatedUnix         int64  `json:"updated_unix"`
}

func toGrantJSON(a *authz.Authorization) *grantJSON {
	j := &grantJSON{
		ID:                  a.ID,
		ClientID:            a.ClientID,
		Subject:             a.Subject,
		Status:              string(a.Status),
		Scope:               a.Scope,
		RedirectURI:         a.RedirectURI,
		ClientState:         a.ClientState,
		Nonce:               a.Nonce,
		CodeChallenge:       a.CodeChallenge,
		CodeChallengeMethod: string(a.CodeChallengeMethod),
		ResponseMode:        string(a.ResponseMode),
		Code:                a.Code,
		AccessTokenID:       a.AccessTokenID,
		RefreshToken:        a.RefreshToken,
		CreatedUnix:         a.CreatedAt.Unix(),
		UpdatedUnix:         a.UpdatedAt.Unix(),
	}
	if !a.CodeExpiresAt.IsZero() {
		j.CodeExpiresUnix = a.CodeExpiresAt.Unix()
	}
	if !a.AccessExpiresAt.IsZero() {
		j.AccessExpiresUnix = a.AccessExpiresAt.Unix()
	}
	if !a.RefreshExpiresAt.IsZero() {
		j.RefreshExpiresUnix = a.RefreshExpiresAt.Unix()
	}
	return j
}

func fromGrantJSON(j *grantJSON) *authz.Authorization {
	a := &authz.Authorization{
		ID:                  j.ID,
		ClientID:            j.ClientID,
		Subject:             j.Subject,
		Status:              authz.Status(j.Status),
		Scope:               j.Scope,
		RedirectURI:         j.RedirectURI,
		ClientState:         j.ClientState,
		Nonce:               j.Nonce,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: oauth2.CodeMethodType(j.CodeChallengeMethod),
		ResponseMode:        oauth2.ResponseModeType(j.ResponseMode),
		Code:                j.Code,
		AccessTokenID:       j.AccessTokenID,
		RefreshToken:        j.RefreshToken,
		CreatedAt:           time.Unix(j.CreatedUnix, 0).UTC(),
		UpdatedAt:           time.Unix(j.UpdatedUnix, 0).UTC(),
	}
	if j.CodeExpiresUnix > 0 {
		a.CodeExpiresAt = time.Unix(j.CodeExpiresUnix, 0).UTC()
	}
	if j.AccessExpiresUnix > 0 {
		a.AccessExpiresAt = time.Unix(j.AccessExpiresUnix, 0).UTC()
	}
	if j.RefreshExpiresUnix > 0 {
		a.RefreshExpiresAt = time.Unix(j.RefreshExpiresUnix, 0).UTC()
	}
	return a
}

func (s *Store) Create(ctx context.Context, a *authz.Authorization) error {
	now := s.nowTime().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	data, err := json.Marshal(toGrantJSON(a))
	if err != nil {
		return errors.Wrap(err, "[Store.Create] marshal")
	}
	cmd := s.client.B().Set().Key(s.grantKey(a.ID)).Value(string(data)).Ex(pendingGrantTTL).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrap(err, "[Store.Create] set grant")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*authz.Authorization, error) {
	return s.getGrant(ctx, s.grantKey(id))
}

func (s *Store) getGrant(ctx context.Context, key string) (*authz.Authorization, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, authz.ErrNotFound
		}
		return nil, errors.Wrap(err, "[Store.getGrant] get")
	}
	var j grantJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, errors.Wrap(err, "[Store.getGrant] unmarshal")
	}
	return fromGrantJSON(&j), nil
}

func (s *Store) putGrant(ctx context.Context, a *authz.Authorization, ttl time.Duration) error {
	data, err := json.Marshal(toGrantJSON(a))
	if err != nil {
		return errors.Wrap(err, "[Store.putGrant] marshal")
	}
	cmd := s.client.B().Set().Key(s.grantKey(a.ID)).Value(string(data)).Ex(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrap(err, "[Store.putGrant] set")
	}
	return nil
}

// BindSubject is a read-modify-write without a script: the pending
// grant is only ever touched by the one browser session driving it.
func (s *Store) BindSubject(ctx context.Context, id, subject string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != authz.StatusPendingConsent {
		return authz.ErrInvalidState
	}
	a.Subject = subject
	a.UpdatedAt = s.nowTime().UTC()
	return s.putGrant(ctx, a, pendingGrantTTL)
}

func (s *Store) AssignCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != authz.StatusPendingConsent {
		return authz.ErrInvalidState
	}
	a.Code = code
	a.CodeExpiresAt = expiresAt
	a.Status = authz.StatusCodeIssued
	a.UpdatedAt = s.nowTime().UTC()
	if err := s.putGrant(ctx, a, pendingGrantTTL); err != nil {
		return err
	}

	// The code index outlives the code itself slightly so a replay
	// after redemption is still detected as such rather than not-found.
	cmd := s.client.B().Set().Key(s.codeKey(code)).Value(id).Ex(pendingGrantTTL).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrap(err, "[Store.AssignCode] set code index")
	}
	return nil
}

func (s *Store) RedeemCode(ctx context.Context, code string) (*authz.Authorization, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRedeemCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(strconv.FormatInt(s.nowTime().Unix(), 10)).
			Arg(s.prefix).
			Build(),
	).ToString()
	if err != nil {
		return nil, errors.Wrap(err, "[Store.RedeemCode] eval")
	}

	switch result {
	case "NOT_FOUND":
		return nil, authz.ErrCodeNotFound
	case "EXPIRED":
		return nil, authz.ErrCodeExpired
	case "REDEEMED":
		return nil, authz.ErrCodeRedeemed
	}

	var j grantJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, errors.Wrap(err, "[Store.RedeemCode] unmarshal")
	}
	return fromGrantJSON(&j), nil
}

func (s *Store) BindTokens(ctx context.Context, id, accessTokenID string, accessExpiresAt time.Time, refreshToken string, refreshExpiresAt time.Time) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != authz.StatusCodeRedeemed {
		return authz.ErrInvalidState
	}
	a.AccessTokenID = accessTokenID
	a.AccessExpiresAt = accessExpiresAt
	a.RefreshToken = refreshToken
	a.RefreshExpiresAt = refreshExpiresAt
	a.Status = authz.StatusTokenActive
	a.UpdatedAt = s.nowTime().UTC()

	grantTTL := s.grantTTL(a)
	if err := s.putGrant(ctx, a, grantTTL); err != nil {
		return err
	}

	cmd := s.client.B().Set().Key(s.jtiKey(accessTokenID)).Value(id).Ex(grantTTL).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrap(err, "[Store.BindTokens] set jti index")
	}
	if refreshToken != "" {
		ttl := time.Until(refreshExpiresAt)
		if ttl <= 0 {
			return errors.New("[Store.BindTokens] refresh token already expired")
		}
		cmd := s.client.B().Set().Key(s.refreshKey(refreshToken)).Value(id).Ex(ttl).Build()
		if err := s.client.Do(ctx, cmd).Error(); err != nil {
			return errors.Wrap(err, "[Store.BindTokens] set refresh index")
		}
	}
	return nil
}

// grantTTL sizes the grant record's TTL to its longest-lived credential
// plus a terminal grace window.
func (s *Store) grantTTL(a *authz.Authorization) time.Duration {
	deadline := a.AccessExpiresAt
	if a.RefreshToken != "" && a.RefreshExpiresAt.After(deadline) {
		deadline = a.RefreshExpiresAt
	}
	ttl := time.Until(deadline) + terminalGrantTTL
	if ttl < terminalGrantTTL {
		ttl = terminalGrantTTL
	}
	return ttl
}

func (s *Store) FindByAccessTokenID(ctx context.Context, jti string) (*authz.Authorization, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.jtiKey(jti)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, authz.ErrNotFound
		}
		return nil, errors.Wrap(err, "[Store.FindByAccessTokenID] get index")
	}
	return s.Get(ctx, id)
}

func (s *Store) FindByRefreshToken(ctx context.Context, refreshToken string) (*authz.Authorization, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.refreshKey(refreshToken)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, authz.ErrRefreshNotFound
		}
		return nil, errors.Wrap(err, "[Store.FindByRefreshToken] get index")
	}
	a, err := s.Get(ctx, id)
	if errors.Is(err, authz.ErrNotFound) {
		return nil, authz.ErrRefreshNotFound
	}
	return a, err
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldToken, clientID, newToken string, refreshExpiresAt time.Time, accessTokenID string, accessExpiresAt time.Time) (*authz.Authorization, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRotateRefresh).
			Numkeys(1).
			Key(s.refreshKey(oldToken)).
			Arg(strconv.FormatInt(s.nowTime().Unix(), 10)).
			Arg(s.prefix).
			Arg(clientID).
			Arg(newToken).
			Arg(strconv.FormatInt(refreshExpiresAt.Unix(), 10)).
			Arg(accessTokenID).
			Arg(strconv.FormatInt(accessExpiresAt.Unix(), 10)).
			Build(),
	).ToString()
	if err != nil {
		return nil, errors.Wrap(err, "[Store.RotateRefreshToken] eval")
	}

	switch result {
	case "NOT_FOUND":
		return nil, authz.ErrRefreshNotFound
	case "WRONG_CLIENT":
		return nil, authz.ErrWrongClient
	case "REVOKED":
		return nil, authz.ErrRevoked
	case "EXPIRED":
		return nil, authz.ErrRefreshExpired
	}

	var j grantJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, errors.Wrap(err, "[Store.RotateRefreshToken] unmarshal")
	}
	return fromGrantJSON(&j), nil
}

func (s *Store) Revoke(ctx context.Context, id string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == authz.StatusRevoked {
		return nil
	}
	a.Status = authz.StatusRevoked
	a.UpdatedAt = s.nowTime().UTC()
	return s.putGrant(ctx, a, terminalGrantTTL)
}

// PruneExpired is a no-op: every key carries a TTL, so Valkey handles
// expiry on its own.
func (s *Store) PruneExpired(_ context.Context) (int, error) {
	return 0, nil
}
