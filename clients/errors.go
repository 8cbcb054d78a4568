package clients

import "errors"

var (
	ErrNotFound        = errors.New("client not found")
	ErrInvalidScope    = errors.New("scope not allowed for client")
	ErrInvalidSecret   = errors.New("invalid client secret")
	ErrInvalidRedirect = errors.New("redirect URI not registered for client")
)
