package services

import "errors"

// Deterministic validation outcomes, returned directly to the caller and
// never retried: retrying cannot change a logical-state conflict. Transient
// store failures are a separate class, see storage.ErrTransient.
var (
	ErrNotFound       = errors.New("requested record was not found")
	ErrUnauthorized   = errors.New("you are not a party to this request")
	ErrInvalidState   = errors.New("operation is not valid in the current state")
	ErrExpired        = errors.New("the verification code has expired")
	ErrInvalidCode    = errors.New("the verification code does not match")
	ErrConflictExists = errors.New("an active relationship already exists")

	ErrUserAlreadyExists  = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
