package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Client reads KV v2 secrets.
type Client struct {
	config Config
	api    *api.Client
	logger *slog.Logger

	mu            sync.Mutex
	authenticated bool
}

// NewClient creates a Vault client. It does not contact Vault until the first
// read.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Address == "" {
		return nil, ErrMissingAddress
	}
	if cfg.MountPath == "" {
		cfg.MountPath = DefaultConfig().MountPath
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	if cfg.CACert != "" {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("configure vault tls: %w", err)
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: cfg,
		api:    client,
		logger: logger.With("component", "vault-client"),
	}, nil
}

// Authenticate logs in with the configured method.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	switch c.config.AuthMethod {
	case AuthMethodToken, "":
		if c.config.Token == "" {
			return ErrMissingToken
		}
		c.api.SetToken(c.config.Token)

	case AuthMethodKubernetes:
		jwt, err := os.ReadFile(c.config.TokenPath)
		if err != nil {
			return fmt.Errorf("read service account token: %w", err)
		}
		resp, err := c.api.Logical().WriteWithContext(ctx, "auth/kubernetes/login", map[string]any{
			"role": c.config.Role,
			"jwt":  string(jwt),
		})
		if err != nil {
			return fmt.Errorf("kubernetes login: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return ErrNoAuth
		}
		c.api.SetToken(resp.Auth.ClientToken)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAuthMethod, c.config.AuthMethod)
	}

	c.authenticated = true
	c.logger.Info("authenticated to vault", "auth_method", c.config.AuthMethod)
	return nil
}

// Read returns the data of the secret at path under the KV v2 mount.
func (c *Client) Read(ctx context.Context, path string) (map[string]any, error) {
	c.mu.Lock()
	if !c.authenticated {
		if err := c.authenticateLocked(ctx); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	c.mu.Unlock()

	secret, err := c.api.KVv2(c.config.MountPath).Get(ctx, path)
	if errors.Is(err, api.ErrSecretNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	c.logger.Debug("read secret", "path", path, "keys", len(secret.Data))
	return secret.Data, nil
}

// Health checks that Vault is initialized and unsealed.
func (c *Client) Health(ctx context.Context) error {
	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health: %w", err)
	}
	if !health.Initialized {
		return errors.New("vault is not initialized")
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}
