package principal

import "errors"

var (
	ErrNotFound           = errors.New("principal not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBlocked            = errors.New("principal is blocked")
)
