// Package config provides configuration loading for the Tributary binaries.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Tributary services.
type Config struct {
	// Version is the application version
	Version string

	// Environment is the deployment environment (development, staging, production)
	Environment string

	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// Database is the metadata database holding queues, state and documents
	Database DatabaseConfig

	// Export holds the change-export parameters
	Export ExportConfig

	// Queue holds dispatch queue settings
	Queue QueueConfig

	// Events holds event channel settings
	Events EventsConfig

	// Source holds live WAL capture settings
	Source SourceConfig

	// Iceberg holds warehouse catalog settings
	Iceberg IcebergConfig

	// Storage holds object storage settings
	Storage StorageConfig

	// Ingress holds HTTP surface settings
	Ingress IngressConfig

	// Vault holds secrets overlay settings
	Vault VaultConfig

	// Metrics configuration
	Metrics MetricsConfig

	// Health configuration
	Health HealthConfig
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// URL returns the database connection URL, as needed by the WAL reader.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// ExportConfig holds the parameters of one export instance.
type ExportConfig struct {
	// CollectionPath is the captured collection template, e.g. users/{uid}/posts
	CollectionPath string

	// ImportCollectionPath is the collection backfilled on setup
	ImportCollectionPath string

	// UseCollectionGroupQuery backfills every collection sharing the last segment
	UseCollectionGroupQuery bool

	// DocsPerBackfill is the backfill page size
	DocsPerBackfill int

	// DoBackfill enables importing existing documents on setup
	DoBackfill bool

	// ExcludeOldData drops the previous document body from update rows
	ExcludeOldData bool

	// WildcardIDs writes resolved path parameters on live rows
	WildcardIDs bool

	// ProjectID prefixes document names
	ProjectID string

	// InstanceID keys the processing-state row
	InstanceID string

	// Location is recorded on start events
	Location string

	// StalenessThreshold is the capture age past which failures are dropped
	StalenessThreshold time.Duration

	// MaxPayloadBytes caps a serialized document
	MaxPayloadBytes int
}

// Validate checks the export parameters.
func (e ExportConfig) Validate() error {
	if e.CollectionPath == "" {
		return ErrMissingCollectionPath
	}
	if e.DocsPerBackfill <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDocsPerBackfill, e.DocsPerBackfill)
	}
	return nil
}

// QueueConfig holds dispatch queue configuration.
type QueueConfig struct {
	MaxAttempts             int
	MinBackoff              time.Duration
	MaxBackoff              time.Duration
	BackoffMultiplier       float64
	BackoffJitter           bool
	MaxConcurrentDispatches int
	MaxDispatchesPerSecond  float64
	LeaseDuration           time.Duration
	PollInterval            time.Duration
	DeadLetterRetention     time.Duration
	TaskRetention           time.Duration
	JanitorSchedule         string

	// DepthHealthThreshold marks the queue degraded at this backlog
	DepthHealthThreshold int64
}

// Event channel kinds.
const (
	ChannelNone      = "none"
	ChannelNATS      = "nats"
	ChannelKafka     = "kafka"
	ChannelWebhook   = "webhook"
	ChannelWebsocket = "websocket"
)

// EventsConfig holds event channel configuration.
type EventsConfig struct {
	// Channel is one of none, nats, kafka, webhook, websocket
	Channel string

	// Prefix is the event type prefix
	Prefix string

	// AllowedEventTypes limits published events; empty allows all
	AllowedEventTypes []string

	// Codec is json or msgpack for broker channels
	Codec string

	PublishTimeout time.Duration

	NATSURL     string
	NATSSubject string
	NATSMaxAge  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	WebhookURL     string
	WebhookTimeout time.Duration
}

// Validate checks the channel kind.
func (e EventsConfig) Validate() error {
	switch e.Channel {
	case ChannelNone, ChannelNATS, ChannelKafka, ChannelWebhook, ChannelWebsocket:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, e.Channel)
	}
}

// SourceConfig holds live WAL capture configuration.
type SourceConfig struct {
	// WALEnabled starts the WAL reader alongside the dispatcher
	WALEnabled bool

	SlotName           string
	DocumentsTable     string
	ReconnectInterval  time.Duration
	CheckpointInterval time.Duration

	// Retry governs host retries of one capture
	RetryMaxAttempts int
	RetryMinInterval time.Duration
	RetryMaxInterval time.Duration

	Backpressure BackpressureConfig
}

// BackpressureConfig holds backpressure configuration.
type BackpressureConfig struct {
	Enabled       bool
	HighWatermark int64
	LowWatermark  int64
	CheckInterval time.Duration
}

// IcebergConfig holds Apache Iceberg configuration.
type IcebergConfig struct {
	// CatalogURL is the REST catalog URL
	CatalogURL string

	// Warehouse is the warehouse name
	Warehouse string

	// Token is an optional catalog bearer token
	Token string

	Namespace  string
	Table      string
	ViewSuffix string

	// BackupFailedRows stores rows the tracker could not commit
	BackupFailedRows bool
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	WarehousePath string
}

// IngressConfig holds HTTP server configuration.
type IngressConfig struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	// AuthEnabled requires a bearer token on /v1
	AuthEnabled bool
	JWTSecret   string
	JWTIssuer   string
	TokenTTL    time.Duration
}

// VaultConfig holds HashiCorp Vault configuration.
type VaultConfig struct {
	Enabled       bool
	Address       string
	Namespace     string
	AuthMethod    string
	Role          string
	TokenPath     string
	Token         string
	CACert        string
	MountPath     string
	FallbackToEnv bool

	DatabasePath string
	StoragePath  string
	IngressPath  string
	CatalogPath  string
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled registers collectors and serves /metrics
	Enabled bool
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	// Timeout bounds each health check
	Timeout time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Version:     getEnv("TRIBUTARY_VERSION", "0.1.0"),
		Environment: getEnv("TRIBUTARY_ENV", "development"),
		LogLevel:    getEnv("TRIBUTARY_LOG_LEVEL", "info"),

		Database: DatabaseConfig{
			Host:         getEnv("TRIBUTARY_DB_HOST", "localhost"),
			Port:         getIntEnv("TRIBUTARY_DB_PORT", 5432),
			Name:         getEnv("TRIBUTARY_DB_NAME", "tributary"),
			User:         getEnv("TRIBUTARY_DB_USER", "tributary"),
			Password:     getEnv("TRIBUTARY_DB_PASSWORD", "tributary"),
			SSLMode:      getEnv("TRIBUTARY_DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("TRIBUTARY_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getIntEnv("TRIBUTARY_DB_MAX_IDLE_CONNS", 5),
		},

		Export: ExportConfig{
			CollectionPath:          getEnv("TRIBUTARY_COLLECTION_PATH", "posts"),
			ImportCollectionPath:    getEnv("TRIBUTARY_IMPORT_COLLECTION_PATH", ""),
			UseCollectionGroupQuery: getBoolEnv("TRIBUTARY_USE_COLLECTION_GROUP_QUERY", false),
			DocsPerBackfill:         getIntEnv("TRIBUTARY_DOCS_PER_BACKFILL", 200),
			DoBackfill:              getBoolEnv("TRIBUTARY_DO_BACKFILL", false),
			ExcludeOldData:          getBoolEnv("TRIBUTARY_EXCLUDE_OLD_DATA", false),
			WildcardIDs:             getBoolEnv("TRIBUTARY_WILDCARD_IDS", false),
			ProjectID:               getEnv("TRIBUTARY_PROJECT_ID", "tributary"),
			InstanceID:              getEnv("TRIBUTARY_INSTANCE_ID", "tributary-document-export"),
			Location:                getEnv("TRIBUTARY_LOCATION", "local"),
			StalenessThreshold:      getDurationEnv("TRIBUTARY_STALENESS_THRESHOLD", 10*time.Second),
			MaxPayloadBytes:         getIntEnv("TRIBUTARY_MAX_PAYLOAD_BYTES", 1<<20),
		},

		Queue: QueueConfig{
			MaxAttempts:             getIntEnv("TRIBUTARY_QUEUE_MAX_ATTEMPTS", 5),
			MinBackoff:              getDurationEnv("TRIBUTARY_QUEUE_MIN_BACKOFF", 60*time.Second),
			MaxBackoff:              getDurationEnv("TRIBUTARY_QUEUE_MAX_BACKOFF", time.Hour),
			BackoffMultiplier:       getFloatEnv("TRIBUTARY_QUEUE_BACKOFF_MULTIPLIER", 2.0),
			BackoffJitter:           getBoolEnv("TRIBUTARY_QUEUE_BACKOFF_JITTER", true),
			MaxConcurrentDispatches: getIntEnv("TRIBUTARY_QUEUE_MAX_CONCURRENT_DISPATCHES", 1000),
			MaxDispatchesPerSecond:  getFloatEnv("TRIBUTARY_QUEUE_MAX_DISPATCHES_PER_SECOND", 0),
			LeaseDuration:           getDurationEnv("TRIBUTARY_QUEUE_LEASE_DURATION", 9*time.Minute),
			PollInterval:            getDurationEnv("TRIBUTARY_QUEUE_POLL_INTERVAL", time.Second),
			DeadLetterRetention:     getDurationEnv("TRIBUTARY_DLQ_RETENTION", 168*time.Hour), // 7 days
			TaskRetention:           getDurationEnv("TRIBUTARY_QUEUE_TASK_RETENTION", 24*time.Hour),
			JanitorSchedule:         getEnv("TRIBUTARY_QUEUE_JANITOR_SCHEDULE", "@hourly"),
			DepthHealthThreshold:    int64(getIntEnv("TRIBUTARY_QUEUE_DEPTH_HEALTH_THRESHOLD", 50000)),
		},

		Events: EventsConfig{
			Channel:           getEnv("TRIBUTARY_EVENTS_CHANNEL", ChannelNone),
			Prefix:            getEnv("TRIBUTARY_EVENTS_PREFIX", "tributary.document-export"),
			AllowedEventTypes: getSliceEnv("TRIBUTARY_EVENTS_ALLOWED_TYPES", nil),
			Codec:             getEnv("TRIBUTARY_EVENTS_CODEC", "json"),
			PublishTimeout:    getDurationEnv("TRIBUTARY_EVENTS_PUBLISH_TIMEOUT", 5*time.Second),
			NATSURL:           getEnv("TRIBUTARY_EVENTS_NATS_URL", "nats://localhost:4222"),
			NATSSubject:       getEnv("TRIBUTARY_EVENTS_NATS_SUBJECT", "tributary.events"),
			NATSMaxAge:        getDurationEnv("TRIBUTARY_EVENTS_NATS_MAX_AGE", 72*time.Hour),
			KafkaBrokers:      getSliceEnv("TRIBUTARY_EVENTS_KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:        getEnv("TRIBUTARY_EVENTS_KAFKA_TOPIC", "tributary-events"),
			WebhookURL:        getEnv("TRIBUTARY_EVENTS_WEBHOOK_URL", ""),
			WebhookTimeout:    getDurationEnv("TRIBUTARY_EVENTS_WEBHOOK_TIMEOUT", 10*time.Second),
		},

		Source: SourceConfig{
			WALEnabled:         getBoolEnv("TRIBUTARY_WAL_ENABLED", false),
			SlotName:           getEnv("TRIBUTARY_WAL_SLOT", "tributary_documents"),
			DocumentsTable:     getEnv("TRIBUTARY_WAL_DOCUMENTS_TABLE", "tributary.documents"),
			ReconnectInterval:  getDurationEnv("TRIBUTARY_WAL_RECONNECT_INTERVAL", 5*time.Second),
			CheckpointInterval: getDurationEnv("TRIBUTARY_WAL_CHECKPOINT_INTERVAL", 10*time.Second),
			RetryMaxAttempts:   getIntEnv("TRIBUTARY_CAPTURE_RETRY_MAX_ATTEMPTS", 5),
			RetryMinInterval:   getDurationEnv("TRIBUTARY_CAPTURE_RETRY_MIN_INTERVAL", time.Second),
			RetryMaxInterval:   getDurationEnv("TRIBUTARY_CAPTURE_RETRY_MAX_INTERVAL", 10*time.Second),
			Backpressure: BackpressureConfig{
				Enabled:       getBoolEnv("TRIBUTARY_BACKPRESSURE_ENABLED", true),
				HighWatermark: int64(getIntEnv("TRIBUTARY_BACKPRESSURE_HIGH_WATERMARK", 50000)),
				LowWatermark:  int64(getIntEnv("TRIBUTARY_BACKPRESSURE_LOW_WATERMARK", 25000)),
				CheckInterval: getDurationEnv("TRIBUTARY_BACKPRESSURE_CHECK_INTERVAL", time.Second),
			},
		},

		Iceberg: IcebergConfig{
			CatalogURL:       getEnv("TRIBUTARY_ICEBERG_CATALOG_URL", "http://localhost:8181"),
			Warehouse:        getEnv("TRIBUTARY_ICEBERG_WAREHOUSE", "tributary"),
			Token:            getEnv("TRIBUTARY_ICEBERG_TOKEN", ""),
			Namespace:        getEnv("TRIBUTARY_ICEBERG_NAMESPACE", "tributary"),
			Table:            getEnv("TRIBUTARY_ICEBERG_TABLE", "documents_raw_changelog"),
			ViewSuffix:       getEnv("TRIBUTARY_ICEBERG_VIEW_SUFFIX", "_latest"),
			BackupFailedRows: getBoolEnv("TRIBUTARY_BACKUP_FAILED_ROWS", true),
		},

		Storage: StorageConfig{
			Endpoint:      getEnv("TRIBUTARY_STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:     getEnv("TRIBUTARY_STORAGE_ACCESS_KEY", "minioadmin"),
			SecretKey:     getEnv("TRIBUTARY_STORAGE_SECRET_KEY", "minioadmin"),
			Bucket:        getEnv("TRIBUTARY_STORAGE_BUCKET", "tributary-data"),
			Region:        getEnv("TRIBUTARY_STORAGE_REGION", ""),
			UseSSL:        getBoolEnv("TRIBUTARY_STORAGE_USE_SSL", false),
			WarehousePath: getEnv("TRIBUTARY_STORAGE_WAREHOUSE_PATH", "warehouse"),
		},

		Ingress: IngressConfig{
			ListenAddr:     getEnv("TRIBUTARY_INGRESS_LISTEN_ADDR", ":8080"),
			ReadTimeout:    getDurationEnv("TRIBUTARY_INGRESS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("TRIBUTARY_INGRESS_WRITE_TIMEOUT", 15*time.Second),
			CORSOrigins:    getSliceEnv("TRIBUTARY_INGRESS_CORS_ORIGINS", []string{"*"}),
			RateLimitRPS:   getFloatEnv("TRIBUTARY_INGRESS_RATE_LIMIT_RPS", 500),
			RateLimitBurst: getIntEnv("TRIBUTARY_INGRESS_RATE_LIMIT_BURST", 1000),
			AuthEnabled:    getBoolEnv("TRIBUTARY_INGRESS_AUTH_ENABLED", false),
			JWTSecret:      getEnv("TRIBUTARY_INGRESS_JWT_SECRET", ""),
			JWTIssuer:      getEnv("TRIBUTARY_INGRESS_JWT_ISSUER", "tributary"),
			TokenTTL:       getDurationEnv("TRIBUTARY_INGRESS_TOKEN_TTL", 24*time.Hour),
		},

		Vault: VaultConfig{
			Enabled:       getBoolEnv("TRIBUTARY_VAULT_ENABLED", false),
			Address:       getEnv("TRIBUTARY_VAULT_ADDRESS", "http://localhost:8200"),
			Namespace:     getEnv("TRIBUTARY_VAULT_NAMESPACE", ""),
			AuthMethod:    getEnv("TRIBUTARY_VAULT_AUTH_METHOD", "token"),
			Role:          getEnv("TRIBUTARY_VAULT_ROLE", "tributary"),
			TokenPath:     getEnv("TRIBUTARY_VAULT_TOKEN_PATH", "/var/run/secrets/kubernetes.io/serviceaccount/token"),
			Token:         getEnv("TRIBUTARY_VAULT_TOKEN", ""),
			CACert:        getEnv("TRIBUTARY_VAULT_CA_CERT", ""),
			MountPath:     getEnv("TRIBUTARY_VAULT_MOUNT_PATH", "secret"),
			FallbackToEnv: getBoolEnv("TRIBUTARY_VAULT_FALLBACK_TO_ENV", true),
			DatabasePath:  getEnv("TRIBUTARY_VAULT_DATABASE_PATH", "tributary/database"),
			StoragePath:   getEnv("TRIBUTARY_VAULT_STORAGE_PATH", "tributary/storage"),
			IngressPath:   getEnv("TRIBUTARY_VAULT_INGRESS_PATH", "tributary/ingress"),
			CatalogPath:   getEnv("TRIBUTARY_VAULT_CATALOG_PATH", "tributary/catalog"),
		},

		Metrics: MetricsConfig{
			Enabled: getBoolEnv("TRIBUTARY_METRICS_ENABLED", true),
		},

		Health: HealthConfig{
			Timeout: getDurationEnv("TRIBUTARY_HEALTH_TIMEOUT", 5*time.Second),
		},
	}

	return cfg, nil
}

// Validate checks settings every binary depends on.
func (c *Config) Validate() error {
	if err := c.Export.Validate(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	if c.Ingress.AuthEnabled && c.Ingress.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// SecretSource resolves one key of a stored secret, returning fallback when
// the source is configured to tolerate misses.
type SecretSource interface {
	String(ctx context.Context, path, key, fallback string) (string, error)
}

// ApplySecrets overlays credentials from src onto the loaded configuration.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) error {
	targets := []struct {
		path, key string
		value     *string
	}{
		{c.Vault.DatabasePath, "password", &c.Database.Password},
		{c.Vault.StoragePath, "access_key", &c.Storage.AccessKey},
		{c.Vault.StoragePath, "secret_key", &c.Storage.SecretKey},
		{c.Vault.IngressPath, "jwt_secret", &c.Ingress.JWTSecret},
		{c.Vault.CatalogPath, "token", &c.Iceberg.Token},
	}

	var errs []error
	for _, t := range targets {
		v, err := src.String(ctx, t.path, t.key, *t.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s/%s: %w", t.path, t.key, err))
			continue
		}
		*t.value = v
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
