package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Reader returns the data stored at a secret path.
type Reader interface {
	Read(ctx context.Context, path string) (map[string]any, error)
}

// Resolver looks up single keys and caches each secret path for its lifetime.
type Resolver struct {
	reader   Reader
	fallback bool
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]map[string]any
}

// NewResolver creates a resolver. With fallback set, a key Vault cannot serve
// resolves to the caller's fallback value instead of an error.
func NewResolver(r Reader, fallback bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		reader:   r,
		fallback: fallback,
		logger:   logger.With("component", "secrets"),
		cache:    make(map[string]map[string]any),
	}
}

// String returns key from the secret at path.
func (r *Resolver) String(ctx context.Context, path, key, fallback string) (string, error) {
	value, err := r.lookup(ctx, path, key)
	if err == nil {
		return value, nil
	}
	if r.fallback {
		r.logger.Warn("using configured value, vault lookup failed", "path", path, "key", key, "error", err)
		return fallback, nil
	}
	return "", err
}

func (r *Resolver) lookup(ctx context.Context, path, key string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrSecretNotFound)
	}

	r.mu.Lock()
	data, ok := r.cache[path]
	r.mu.Unlock()

	if !ok {
		var err error
		data, err = r.reader.Read(ctx, path)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[path] = data
		r.mu.Unlock()
	}

	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrKeyNotFound, key, path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s in %s is not a string", ErrKeyNotFound, key, path)
	}
	return s, nil
}

// Invalidate drops cached secrets so the next lookup reads Vault again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]map[string]any)
}

var _ Reader = (*Client)(nil)
