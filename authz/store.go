package authz

import (
	"context"
	"time"
)

// Store persists authorization grants. The compound operations
// (RedeemCode, RotateRefreshToken) are atomic: under concurrent calls
// with the same code or token exactly one caller succeeds, the rest get
// the sentinel error.
type Store interface {
	// Create persists a new grant. The caller sets ID and Status.
	Create(ctx context.Context, a *Authorization) error

	// Get fetches a grant by id.
	Get(ctx context.Context, id string) (*Authorization, error)

	// BindSubject records the authenticated principal on a pending
	// grant. Fails with ErrInvalidState unless the grant is
	// PENDING_CONSENT.
	BindSubject(ctx context.Context, id, subject string) error

	// AssignCode attaches a one-time code to a consented grant and
	// moves it to CODE_ISSUED. Fails with ErrInvalidState unless the
	// grant is PENDING_CONSENT.
	AssignCode(ctx context.Context, id, code string, expiresAt time.Time) error

	// RedeemCode consumes a one-time code, transitioning CODE_ISSUED to
	// CODE_REDEEMED. A second redemption of the same code returns
	// ErrCodeRedeemed and revokes the grant, invalidating any tokens
	// already minted from it. An expired code returns ErrCodeExpired
	// and moves the grant to EXPIRED.
	RedeemCode(ctx context.Context, code string) (*Authorization, error)

	// BindTokens records the issued token identifiers on a redeemed
	// grant and moves it to TOKEN_ACTIVE. refreshToken may be empty.
	BindTokens(ctx context.Context, id, accessTokenID string, accessExpiresAt time.Time, refreshToken string, refreshExpiresAt time.Time) error

	// FindByAccessTokenID resolves the grant a "jti" belongs to, used
	// by introspection so revocation takes effect immediately.
	FindByAccessTokenID(ctx context.Context, jti string) (*Authorization, error)

	// FindByRefreshToken resolves the grant a refresh token belongs to.
	FindByRefreshToken(ctx context.Context, refreshToken string) (*Authorization, error)

	// RotateRefreshToken atomically replaces oldToken with newToken and
	// binds the new access token id, verifying the grant belongs to
	// clientID and is TOKEN_ACTIVE. After success the old token returns
	// ErrRefreshNotFound.
	RotateRefreshToken(ctx context.Context, oldToken, clientID, newToken string, refreshExpiresAt time.Time, accessTokenID string, accessExpiresAt time.Time) (*Authorization, error)

	// Revoke moves the grant to REVOKED. Idempotent: revoking a revoked
	// grant is a no-op.
	Revoke(ctx context.Context, id string) error

	// PruneExpired removes terminal grants and expires overdue ones,
	// returning how many were touched. Called from a background sweep.
	PruneExpired(ctx context.Context) (int, error)
}
