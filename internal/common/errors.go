package common

import "errors"

// Callers match these values with errors.Is.
var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors.
	ErrValidation   = errors.New("validation error")
	ErrWeakPassword = errors.New("password does not satisfy policy")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")

	// ErrSessionInvalid is returned when the session backing a refresh token
	// has been invalidated or has expired, even if the token itself is
	// still within its signed lifetime.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrIntegrity signals an authentication tag or checksum failure. It is
	// never retried: it may indicate tampering.
	ErrIntegrity = errors.New("integrity check failed")

	// Access control errors.
	ErrInsufficientAccess     = errors.New("insufficient access")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Access request submission errors.
	ErrAlreadyExists        = errors.New("already exists")
	ErrAlreadyHasAccess     = errors.New("already has access at or above the requested level")
	ErrPendingRequestExists = errors.New("pending request already exists")
	ErrIdentityNotVerified  = errors.New("identity verification required")
)
