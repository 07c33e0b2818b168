// Package secrets resolves credentials from a HashiCorp Vault KV v2 engine.
package secrets

import "time"

// Authentication methods.
const (
	AuthMethodToken      = "token"
	AuthMethodKubernetes = "kubernetes"
)

// DefaultTokenPath is where Kubernetes mounts the service account token.
const DefaultTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Keys read from the secrets at Paths.
const (
	KeyPassword  = "password"
	KeyAccessKey = "access_key"
	KeySecretKey = "secret_key"
	KeyJWTSecret = "jwt_secret"
	KeyToken     = "token"
)

// Config holds Vault client configuration.
type Config struct {
	Enabled    bool
	Address    string
	Namespace  string
	AuthMethod string
	Role       string
	TokenPath  string
	Token      string
	CACert     string

	// MountPath is the KV v2 mount.
	MountPath string

	// Timeout bounds each Vault request.
	Timeout time.Duration

	// FallbackToEnv keeps the configured value when Vault cannot serve a key.
	FallbackToEnv bool

	Paths Paths
}

// Paths locates each credential group under MountPath.
type Paths struct {
	Database string
	Storage  string
	Ingress  string
	Catalog  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AuthMethod:    AuthMethodToken,
		Role:          "tributary",
		TokenPath:     DefaultTokenPath,
		MountPath:     "secret",
		Timeout:       10 * time.Second,
		FallbackToEnv: true,
		Paths: Paths{
			Database: "tributary/database",
			Storage:  "tributary/storage",
			Ingress:  "tributary/ingress",
			Catalog:  "tributary/catalog",
		},
	}
}
