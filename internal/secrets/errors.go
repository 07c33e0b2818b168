package secrets

import "errors"

var (
	ErrDisabled              = errors.New("secrets: vault is not enabled")
	ErrMissingAddress        = errors.New("secrets: vault address is required")
	ErrMissingToken          = errors.New("secrets: vault token is required for token auth")
	ErrUnsupportedAuthMethod = errors.New("secrets: unsupported auth method")
	ErrNoAuth                = errors.New("secrets: no auth in vault response")
	ErrSecretNotFound        = errors.New("secrets: secret not found")
	ErrKeyNotFound           = errors.New("secrets: key not found")
)
