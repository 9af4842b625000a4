package auth

import "errors"

// Sentinel errors returned by ParseJWT. Callers match them with errors.Is.
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrInvalidToken = errors.New("auth: invalid token")
)
