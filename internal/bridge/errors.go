package bridge

import "errors"

// Pipeline failure kinds. The HTTP edge maps each to a status code;
// trust.ErrUnknownInstance, security.ErrSignatureInvalid and
// conductor.ErrBackendUnavailable/ErrNoHealthyBackend cover the rest.
var (
	ErrInvalidEnvelope         = errors.New("invalid envelope")
	ErrDuplicateEnvelope       = errors.New("duplicate envelope")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
