package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown users, wrong passwords and
	// disabled or locked accounts. Unknown-user and wrong-password failures
	// carry no further detail so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken indicates a token failed subject or expiry validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)
