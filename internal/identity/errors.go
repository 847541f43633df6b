package identity

import "errors"

var (
	// ErrUnknownPrincipal means the id or username did not resolve. Callers
	// treat it as deny-equivalent but it stays distinguishable for
	// diagnostics: it usually indicates a stale reference, not a security
	// decision.
	ErrUnknownPrincipal = errors.New("identity: unknown principal")

	ErrAlreadyExists = errors.New("identity: already exists")
	ErrInvalidInput  = errors.New("identity: invalid input")

	// ErrInvalidCredentials covers both bad passwords and disabled accounts
	// so a login probe cannot tell the two apart.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrInvalidToken indicates a session token failed validation.
	ErrInvalidToken = errors.New("identity: invalid token")

	// ErrAdminRequired guards administrative operations such as role changes.
	ErrAdminRequired = errors.New("identity: admin role required")
)
