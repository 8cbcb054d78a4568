package valkeystore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authserve/go-oauth2-server/authz"
)

// testStore connects to a local Valkey instance. Tests are skipped when
// no server is reachable, so the suite stays runnable without one.
// Each test gets a unique key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("authztest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}
	t.Cleanup(store.Close)
	return store
}

func newIssuedGrant(t *testing.T, s *Store, code string) *authz.Authorization {
	t.Helper()
	ctx := context.Background()
	a := &authz.Authorization{
		ID:       uuid.NewString(),
		ClientID: "client-1",
		Status:   authz.StatusPendingConsent,
		Scope:    "openid",
	}
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.BindSubject(ctx, a.ID, "user-1"))
	require.NoError(t, s.AssignCode(ctx, a.ID, code, time.Now().Add(time.Minute)))
	return a
}

func TestRedeemCodeLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	code := uuid.NewString()
	a := newIssuedGrant(t, s, code)

	redeemed, err := s.RedeemCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, authz.StatusCodeRedeemed, redeemed.Status)
	assert.Equal(t, a.ID, redeemed.ID)

	require.NoError(t, s.BindTokens(ctx, a.ID, "jti-1", time.Now().Add(15*time.Minute), "rt-1", time.Now().Add(time.Hour)))

	// Replay revokes.
	_, err = s.RedeemCode(ctx, code)
	require.ErrorIs(t, err, authz.ErrCodeRedeemed)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.StatusRevoked, got.Status)
}

func TestRedeemUnknownCode(t *testing.T) {
	s := testStore(t)

	_, err := s.RedeemCode(context.Background(), "nope")
	require.ErrorIs(t, err, authz.ErrCodeNotFound)
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	s := testStore(t)
	code := uuid.NewString()
	newIssuedGrant(t, s, code)

	const n = 20
	var (
		wg      sync.WaitGroup
		winners atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.RedeemCode(context.Background(), code); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
}

func TestRotateRefreshToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	code := uuid.NewString()
	a := newIssuedGrant(t, s, code)

	_, err := s.RedeemCode(ctx, code)
	require.NoError(t, err)
	require.NoError(t, s.BindTokens(ctx, a.ID, "jti-1", time.Now().Add(15*time.Minute), "rt-old", time.Now().Add(time.Hour)))

	rotated, err := s.RotateRefreshToken(ctx, "rt-old", "client-1", "rt-new", time.Now().Add(time.Hour), "jti-2", time.Now().Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "rt-new", rotated.RefreshToken)

	_, err = s.RotateRefreshToken(ctx, "rt-old", "client-1", "rt-x", time.Now().Add(time.Hour), "jti-3", time.Now().Add(15*time.Minute))
	require.ErrorIs(t, err, authz.ErrRefreshNotFound)

	_, err = s.FindByAccessTokenID(ctx, "jti-1")
	require.ErrorIs(t, err, authz.ErrNotFound)

	found, err := s.FindByAccessTokenID(ctx, "jti-2")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
}

func TestRotateWrongClient(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	code := uuid.NewString()
	a := newIssuedGrant(t, s, code)

	_, err := s.RedeemCode(ctx, code)
	require.NoError(t, err)
	require.NoError(t, s.BindTokens(ctx, a.ID, "jti-1", time.Now().Add(15*time.Minute), "rt-1", time.Now().Add(time.Hour)))

	_, err = s.RotateRefreshToken(ctx, "rt-1", "other-client", "rt-new", time.Now().Add(time.Hour), "jti-2", time.Now().Add(15*time.Minute))
	require.ErrorIs(t, err, authz.ErrWrongClient)
}

func TestRevokeVisibleToIntrospection(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	code := uuid.NewString()
	a := newIssuedGrant(t, s, code)

	_, err := s.RedeemCode(ctx, code)
	require.NoError(t, err)
	require.NoError(t, s.BindTokens(ctx, a.ID, "jti-1", time.Now().Add(15*time.Minute), "rt-1", time.Now().Add(time.Hour)))
	require.NoError(t, s.Revoke(ctx, a.ID))

	got, err := s.FindByAccessTokenID(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, authz.StatusRevoked, got.Status)
}
