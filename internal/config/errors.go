package config

import "errors"

var (
	// ErrMissingCollectionPath is returned when no collection is configured for capture.
	ErrMissingCollectionPath = errors.New("config: collection path is required")

	// ErrInvalidDocsPerBackfill is returned for a non-positive backfill page size.
	ErrInvalidDocsPerBackfill = errors.New("config: docs per backfill must be positive")

	// ErrUnknownChannel is returned for an unsupported event channel kind.
	ErrUnknownChannel = errors.New("config: unknown event channel")

	// ErrMissingJWTSecret is returned when ingress auth is on without a secret.
	ErrMissingJWTSecret = errors.New("config: ingress JWT secret is required when auth is enabled")
)
