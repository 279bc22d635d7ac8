package auth

import "errors"

var (
	ErrInvalidJWT  = errors.New("invalid JWT token")
	ErrEmptyToken  = errors.New("credential token is empty")
	ErrNoExpiry    = errors.New("JWT has no exp claim")
	ErrTokenExpire = errors.New("JWT token has expired")
)
