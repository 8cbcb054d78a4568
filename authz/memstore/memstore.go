// Package memstore is an in-memory authz.Store. A single mutex guards
// every compound operation, which is what makes code redemption and
// refresh rotation atomic without any external coordination.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/authserve/go-oauth2-server/authz"
)

type Store struct {
	mu      sync.Mutex
	grants  map[string]*authz.Authorization
	byCode  map[string]string // code -> grant id
	byToken map[string]string // refresh token -> grant id
	byJTI   map[string]string // access token id -> grant id
	nowTime func() time.Time
}

type Option func(*Store)

// WithNowFunc overrides the clock, used by tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.nowTime = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		grants:  make(map[string]*authz.Authorization),
		byCode:  make(map[string]string),
		byToken: make(map[string]string),
		byJTI:   make(map[string]string),
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(_ context.Context, a *authz.Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowTime().UTC()
	clone := *a
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.grants[clone.ID] = &clone

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*authz.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.grants[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *Store) BindSubject(_ context.Context, id, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.grants[id]
	if !ok {
		return authz.ErrNotFound
	}
	if a.Status != authz.StatusPendingConsent {
		return authz.ErrInvalidState
	}
	a.Subject = subject
	a.UpdatedAt = s.nowTime().UTC()
	return nil
}

func (s *Store) AssignCode(_ context.Context, id, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.grants[id]
	if !ok {
		return authz.ErrNotFound
	}
	if a.Status != authz.StatusPendingConsent {
		return authz.ErrInvalidState
	}
	a.Code = code
	a.CodeExpiresAt = expiresAt
	a.Status = authz.StatusCodeIssued
	a.UpdatedAt = s.nowTime().UTC()
	s.byCode[code] = id
	return nil
}

// RedeemCode is the single-use gate. Everything happens under one lock
// acquisition so concurrent redemptions of the same code serialize and
// exactly one observes CODE_ISSUED.
func (s *Store) RedeemCode(_ context.Context, code string) (*authz.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, authz.ErrCodeNotFound
	}
	a := s.grants[id]
	now := s.nowTime().UTC()

	switch a.Status {
	case authz.StatusCodeIssued:
		if now.After(a.CodeExpiresAt) {
			a.Status = authz.StatusExpired
			a.UpdatedAt = now
			return nil, authz.ErrCodeExpired
		}
		a.Status = authz.StatusCodeRedeemed
		a.UpdatedAt = now
		clone := *a
		return &clone, nil
	case authz.StatusExpired:
		return nil, authz.ErrCodeExpired
	default:
		// Replay. Revoke the grant so any tokens minted from the first
		// redemption stop working (RFC 6749 §4.1.2).
		if !a.Status.Terminal() {
			a.Status = authz.StatusRevoked
			a.UpdatedAt = now
		}
		return nil, authz.ErrCodeRedeemed
	}
}

func (s *Store) BindTokens(_ context.Context, id, accessTokenID string, accessExpiresAt time.Time, refreshToken string, refreshExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.grants[id]
	if !ok {
		return authz.ErrNotFound
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

	s.byJTI[accessTokenID] = id
	if refreshToken != "" {
		s.byToken[refreshToken] = id
	}
	return nil
}

func (s *Store) FindByAccessTokenID(_ context.Context, jti string) (*authz.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byJTI[jti]
	if !ok {
		return nil, authz.ErrNotFound
	}
	clone := *s.grants[id]
	return &clone, nil
}

func (s *Store) FindByRefreshToken(_ context.Context, refreshToken string) (*authz.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[refreshToken]
	if !ok {
		return nil, authz.ErrRefreshNotFound
	}
	clone := *s.grants[id]
	return &clone, nil
}

// RotateRefreshToken swaps the refresh token under the store lock. The
// old token's index entry is removed before the method returns, so a
// replay of the old token races only against this lock and always
// loses.
func (s *Store) RotateRefreshToken(_ context.Context, oldToken, clientID, newToken string, refreshExpiresAt time.Time, accessTokenID string, accessExpiresAt time.Time) (*authz.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[oldToken]
	if !ok {
		return nil, authz.ErrRefreshNotFound
	}
	a := s.grants[id]
	if a.ClientID != clientID {
		return nil, authz.ErrWrongClient
	}
	if a.Status == authz.StatusRevoked {
		return nil, authz.ErrRevoked
	}
	if a.Status != authz.StatusTokenActive {
		return nil, authz.ErrRefreshNotFound
	}
	now := s.nowTime().UTC()
	if now.After(a.RefreshExpiresAt) {
		a.Status = authz.StatusExpired
		a.UpdatedAt = now
		return nil, authz.ErrRefreshExpired
	}

	delete(s.byToken, oldToken)
	delete(s.byJTI, a.AccessTokenID)

	a.RefreshToken = newToken
	a.RefreshExpiresAt = refreshExpiresAt
	a.AccessTokenID = accessTokenID
	a.AccessExpiresAt = accessExpiresAt
	a.UpdatedAt = now

	s.byToken[newToken] = id
	s.byJTI[accessTokenID] = id

	clone := *a
	return &clone, nil
}

func (s *Store) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.grants[id]
	if !ok {
		return authz.ErrNotFound
	}
	if a.Status == authz.StatusRevoked {
		return nil
	}
	a.Status = authz.StatusRevoked
	a.UpdatedAt = s.nowTime().UTC()
	return nil
}

// PruneExpired expires overdue grants and drops terminal ones. Terminal
// grants survive one sweep so introspection keeps answering active=false
// for a while after revocation instead of not-found.
func (s *Store) PruneExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowTime().UTC()
	touched := 0
	for id, a := range s.grants {
		switch {
		case a.Status.Terminal():
			if now.Sub(a.UpdatedAt) > time.Minute {
				s.drop(id, a)
				touched++
			}
		case a.Expired(now):
			a.Status = authz.StatusExpired
			a.UpdatedAt = now
			touched++
		}
	}
	return touched, nil
}

func (s *Store) drop(id string, a *authz.Authorization) {
	delete(s.grants, id)
	if a.Code != "" {
		delete(s.byCode, a.Code)
	}
	if a.RefreshToken != "" {
		delete(s.byToken, a.RefreshToken)
	}
	if a.AccessTokenID != "" {
		delete(s.byJTI, a.AccessTokenID)
	}
}
