package authz

import "errors"

var (
	ErrNotFound        = errors.New("authorization not found")
	ErrCodeNotFound    = errors.New("authorization code not found")
	ErrCodeExpired     = errors.New("authorization code expired")
	ErrCodeRedeemed    = errors.New("authorization code already redeemed")
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshExpired  = errors.New("refresh token expired")
	ErrWrongClient     = errors.New("authorization belongs to a different client")
	ErrRevoked         = errors.New("authorization revoked")
	ErrInvalidState    = errors.New("invalid authorization state transition")
)
